package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/opencode-ai/danmu/internal/db"
	"github.com/opencode-ai/danmu/internal/models"
	"github.com/spf13/cobra"
)

var (
	eventsLimit    int
	eventsType     string
	eventsSeverity string
	eventsSince    string
)

func init() {
	rootCmd.AddCommand(eventsCmd)

	eventsCmd.Flags().IntVarP(&eventsLimit, "limit", "n", 20, "maximum number of events to show")
	eventsCmd.Flags().StringVarP(&eventsType, "type", "t", "", "only events of this type (e.g. batch.rejected)")
	eventsCmd.Flags().StringVar(&eventsSeverity, "severity", "", "only events of this severity (info, warn, error)")
	eventsCmd.Flags().StringVar(&eventsSince, "since", "", "only events after a duration ago (1h, 2d) or a timestamp")
	eventsCmd.Flags().BoolVarP(&watchMode, "watch", "w", false, "follow new events (requires --jsonl)")
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recorded events",
	Long: `Show events recorded by the engine: received and executed comments,
rejected batches, interruptions and feed errors.`,
	Example: `  danmu events
  danmu events --type batch.rejected --since 2h
  danmu events --watch --jsonl`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := MustBeJSONLForWatch(); err != nil {
			return err
		}
		since, err := ParseSince(eventsSince)
		if err != nil {
			return err
		}

		database, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()
		repo := db.NewEventRepository(database)

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		if watchMode {
			config := DefaultStreamConfig()
			config.Since = since
			config.IncludeExisting = since != nil
			if eventsType != "" {
				config.Types = []models.EventType{models.EventType(eventsType)}
			}
			return NewEventStreamer(repo, os.Stdout, config).Stream(ctx)
		}

		list, err := listEvents(ctx, repo, since)
		if err != nil {
			return err
		}

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(os.Stdout, list)
		}
		if len(list) == 0 {
			fmt.Fprintln(os.Stderr, "No events found.")
			return nil
		}
		return writeEventsTable(os.Stdout, list, time.Now())
	},
}

// listEvents returns matching events oldest first. Without filters it
// shows the newest eventsLimit events.
func listEvents(ctx context.Context, repo *db.EventRepository, since *time.Time) ([]*models.Event, error) {
	if since == nil && eventsType == "" && eventsSeverity == "" {
		recent, err := repo.Recent(ctx, eventsLimit)
		if err != nil {
			return nil, err
		}
		slices.Reverse(recent)
		return recent, nil
	}

	q := db.EventQuery{Since: since, Limit: eventsLimit}
	if eventsType != "" {
		t := models.EventType(eventsType)
		q.Type = &t
	}
	if eventsSeverity != "" {
		sev := models.Severity(strings.ToLower(eventsSeverity))
		q.Severity = &sev
	}
	page, err := repo.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return page.Events, nil
}

func writeEventsTable(w io.Writer, list []*models.Event, now time.Time) error {
	rows := make([][]string, 0, len(list))
	for _, ev := range list {
		entity := string(ev.EntityType)
		if ev.EntityID != "" && ev.EntityID != "-" {
			entity += ":" + shortID(ev.EntityID)
		}
		rows = append(rows, []string{
			humanize.RelTime(ev.Timestamp, now, "ago", "from now"),
			formatSeverity(ev.Severity),
			string(ev.Type),
			entity,
			ev.Message,
		})
	}
	return writeTable(w, []string{"WHEN", "SEV", "TYPE", "ENTITY", "MESSAGE"}, rows)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
