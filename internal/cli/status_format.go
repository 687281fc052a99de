package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/opencode-ai/danmu/internal/executor"
	"github.com/opencode-ai/danmu/internal/models"
)

var (
	styleOK    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	styleBusy  = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	styleWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	styleErr   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	styleMuted = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func colorize(s string, style lipgloss.Style) string {
	if !colorEnabled() {
		return s
	}
	return style.Render(s)
}

func colorEnabled() bool {
	if noColor || IsJSONOutput() || IsJSONLOutput() {
		return false
	}
	if _, ok := lookupEnv("NO_COLOR"); ok {
		return false
	}
	return hasTTY()
}

func formatExecutorState(state string) string {
	label, style := labelForExecutorState(executor.State(state))
	return colorize(formatStatusLabel(label, state), style)
}

func labelForExecutorState(state executor.State) (string, lipgloss.Style) {
	switch state {
	case executor.StateIdle, "":
		return "OK", styleOK
	case executor.StateRunning:
		return "BUSY", styleBusy
	case executor.StateCompleted:
		return "DONE", styleOK
	case executor.StateInterrupted:
		return "INT", styleWarn
	default:
		return "WARN", styleWarn
	}
}

func formatSeverity(sev models.Severity) string {
	switch sev {
	case models.SeverityError:
		return colorize("ERR", styleErr)
	case models.SeverityWarn:
		return colorize("WARN", styleWarn)
	default:
		return colorize("info", styleMuted)
	}
}

func formatStatusLabel(label, status string) string {
	normalized := strings.TrimSpace(status)
	if normalized != "" {
		normalized = strings.ReplaceAll(normalized, "_", " ")
	}
	if normalized == "" {
		return label
	}
	return fmt.Sprintf("%s %s", label, normalized)
}
