package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/opencode-ai/danmu/internal/danmud"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running engine's queue and executor",
	Example: `  danmu status
  danmu status --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := dialDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := requestContext(cmd.Context())
		defer cancel()

		report, err := client.Status(ctx)
		if err != nil {
			if isUnavailable(err) {
				return daemonUnavailable(err)
			}
			return fmt.Errorf("failed to get status: %w", err)
		}

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(os.Stdout, report)
		}
		return writeStatus(os.Stdout, report, time.Now())
	},
}

func writeStatus(w io.Writer, r danmud.StatusReport, now time.Time) error {
	rows := [][]string{
		{"Engine", fmt.Sprintf("%s on %s, started %s", r.Version, r.Hostname, humanize.RelTime(r.StartedAt, now, "ago", "from now"))},
		{"Executor", formatExecutorState(r.ExecutorState)},
		{"Queue", fmt.Sprintf("%d/%d (separator %q)", len(r.Pending), r.Capacity, r.Separator)},
		{"Handled", fmt.Sprintf("%s (%s batches, %s singles)", humanize.Comma(r.Handled), humanize.Comma(r.Batches), humanize.Comma(r.Singles))},
		{"Rejected", humanize.Comma(r.Rejected)},
		{"Interrupts", humanize.Comma(r.Interrupts)},
	}
	if r.ExecutorID != "" {
		rows = append(rows, []string{"Executor ID", r.ExecutorID})
	}
	if r.LastState != "" {
		rows = append(rows, []string{"Last batch", fmt.Sprintf("%s, %d executed", formatExecutorState(r.LastState), r.LastExecuted)})
	}
	if err := writeTable(w, nil, rows); err != nil {
		return err
	}

	if len(r.Pending) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Pending:")
		for i, text := range r.Pending {
			fmt.Fprintf(w, "  %d. %s\n", i+1, strings.TrimSpace(text))
		}
	}
	return nil
}
