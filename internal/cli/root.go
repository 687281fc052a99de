// Package cli implements the danmu command-line interface.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/opencode-ai/danmu/internal/config"
	"github.com/opencode-ai/danmu/internal/db"
	"github.com/opencode-ai/danmu/internal/logging"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// Build metadata, set via -ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var (
	cfgFile        string
	logLevel       string
	logFormat      string
	jsonOutput     bool
	jsonlOutput    bool
	noColor        bool
	noProgress     bool
	nonInteractive bool

	appConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "danmu",
	Short: "Drive a game from live-stream comments",
	Long: `danmu turns live-stream comments into keyboard and mouse input.

Comments arrive from a room's history feed or through the local control
API. Batches separated by the configured separator are queued and run in
order; single comments interrupt any running batch and run immediately.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if jsonOutput && jsonlOutput {
			return errors.New("--json and --jsonl are mutually exclusive")
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if logFormat != "" {
			cfg.Logging.Format = logFormat
		}
		if noColor {
			cfg.Logging.NoColor = true
		}
		if err := logging.Init(logging.Config{
			Level:   cfg.Logging.Level,
			Format:  cfg.Logging.Format,
			NoColor: cfg.Logging.NoColor,
		}); err != nil {
			return err
		}
		appConfig = cfg
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default $XDG_CONFIG_HOME/danmu/config.yaml)")
	pf.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&logFormat, "log-format", "", "log format (auto, console, json)")
	pf.BoolVar(&jsonOutput, "json", false, "output JSON")
	pf.BoolVar(&jsonlOutput, "jsonl", false, "output JSON lines")
	pf.BoolVar(&noColor, "no-color", false, "disable colored output")
	pf.BoolVar(&noProgress, "no-progress", false, "disable progress output")
	pf.BoolVar(&nonInteractive, "non-interactive", false, "never prompt; use defaults")

	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// GetConfig returns the loaded configuration, or defaults before load.
func GetConfig() *config.Config {
	if appConfig == nil {
		return config.DefaultConfig()
	}
	return appConfig
}

// IsJSONOutput reports whether --json was requested.
func IsJSONOutput() bool {
	return jsonOutput
}

// IsJSONLOutput reports whether --jsonl was requested.
func IsJSONLOutput() bool {
	return jsonlOutput
}

// WriteOutput writes v as JSON (indented) or as JSON lines. Slices are
// written one element per line in JSONL mode.
func WriteOutput(w io.Writer, v any) error {
	if IsJSONLOutput() {
		return writeJSONL(w, v)
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeJSONL(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return enc.Encode(v)
	}
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return err
		}
	}
	return nil
}

// PreflightError is a user-facing error with a hint and a next step.
type PreflightError struct {
	Message  string
	Hint     string
	NextStep string
}

func (e *PreflightError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Hint != "" {
		b.WriteString("\n  hint: ")
		b.WriteString(e.Hint)
	}
	if e.NextStep != "" {
		b.WriteString("\n  try:  ")
		b.WriteString(e.NextStep)
	}
	return b.String()
}

func openDatabase() (*db.DB, error) {
	cfg := GetConfig()
	if !cfg.Database.Enabled {
		return nil, &PreflightError{
			Message:  "event database is disabled",
			Hint:     "Set database.enabled: true in the config file",
			NextStep: "danmu init --force",
		}
	}

	database, err := db.Open(db.Config{Path: cfg.Database.Path})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Migrate(context.Background()); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return database, nil
}

func hasTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}
