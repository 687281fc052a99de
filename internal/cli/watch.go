package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/opencode-ai/danmu/internal/db"
	"github.com/opencode-ai/danmu/internal/models"
)

var watchMode bool

// StreamConfig controls event streaming.
type StreamConfig struct {
	PollInterval time.Duration
	BatchSize    int

	// IncludeExisting replays stored events from Since before following.
	// Otherwise only events created after Stream starts are written.
	IncludeExisting bool
	Since           *time.Time

	Types       []models.EventType
	EntityTypes []models.EntityType
}

// DefaultStreamConfig returns the default streaming settings.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		PollInterval: 500 * time.Millisecond,
		BatchSize:    100,
	}
}

// EventStreamer follows the event table and writes each new event as a
// JSON line.
type EventStreamer struct {
	repo   *db.EventRepository
	config StreamConfig
	enc    *json.Encoder
}

// NewEventStreamer creates a streamer writing to out.
func NewEventStreamer(repo *db.EventRepository, out io.Writer, config StreamConfig) *EventStreamer {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultStreamConfig().PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultStreamConfig().BatchSize
	}
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	return &EventStreamer{repo: repo, config: config, enc: enc}
}

// Stream writes events until ctx is done. Cancellation is not an error.
func (s *EventStreamer) Stream(ctx context.Context) error {
	since := s.config.Since
	if !s.config.IncludeExisting {
		now := time.Now().UTC()
		since = &now
	}

	cursor := ""
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		for {
			events, next, full, err := s.pollPage(ctx, cursor, since)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			cursor = next
			for _, event := range events {
				if err := s.writeEvent(event); err != nil {
					return err
				}
			}
			if !full {
				break
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// poll fetches the next page after cursor and returns the events that pass
// the filters along with the cursor to continue from.
func (s *EventStreamer) poll(ctx context.Context, cursor string, since *time.Time) ([]*models.Event, string, error) {
	events, next, _, err := s.pollPage(ctx, cursor, since)
	return events, next, err
}

func (s *EventStreamer) pollPage(ctx context.Context, cursor string, since *time.Time) ([]*models.Event, string, bool, error) {
	q := db.EventQuery{
		Since:  since,
		Cursor: cursor,
		Limit:  s.config.BatchSize,
	}
	if len(s.config.Types) == 1 {
		q.Type = &s.config.Types[0]
	}
	if len(s.config.EntityTypes) == 1 {
		q.EntityType = &s.config.EntityTypes[0]
	}

	page, err := s.repo.Query(ctx, q)
	if err != nil {
		return nil, cursor, false, err
	}
	if len(page.Events) == 0 {
		return nil, cursor, false, nil
	}

	filtered := page.Events[:0:0]
	for _, event := range page.Events {
		if s.matches(event) {
			filtered = append(filtered, event)
		}
	}
	last := page.Events[len(page.Events)-1].ID
	return filtered, last, page.NextCursor != "", nil
}

func (s *EventStreamer) matches(event *models.Event) bool {
	if len(s.config.Types) > 0 && !slices.Contains(s.config.Types, event.Type) {
		return false
	}
	if len(s.config.EntityTypes) > 0 && !slices.Contains(s.config.EntityTypes, event.EntityType) {
		return false
	}
	return true
}

func (s *EventStreamer) writeEvent(event *models.Event) error {
	if err := s.enc.Encode(event); err != nil {
		return fmt.Errorf("write event %s: %w", event.ID, err)
	}
	return nil
}

// MustBeJSONLForWatch rejects --watch without --jsonl.
func MustBeJSONLForWatch() error {
	if watchMode && !IsJSONLOutput() {
		return errors.New("--watch requires --jsonl")
	}
	return nil
}

// ParseSince parses a relative duration (1h, 30m, 2d) or an absolute time
// (RFC3339, 2006-01-02, 2006-01-02T15:04:05 in local time). Empty input
// returns nil.
func ParseSince(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}

	if d, err := parseDurationWithDays(value); err == nil {
		t := time.Now().Add(-d).UTC()
		return &t, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		t = t.UTC()
		return &t, nil
	}
	if t, err := time.Parse(time.DateOnly, value); err == nil {
		return &t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", value, time.Local); err == nil {
		return &t, nil
	}
	return nil, fmt.Errorf("invalid --since value %q: use a duration like 1h or 2d, or a timestamp", value)
}

func parseDurationWithDays(value string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(value, "d"); ok {
		n, err := strconv.ParseFloat(days, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid day count %q", value)
		}
		return time.Duration(n * float64(24*time.Hour)), nil
	}
	return time.ParseDuration(value)
}
