package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/opencode-ai/danmu/internal/db"
	"github.com/opencode-ai/danmu/internal/models"
)

func setupTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := database.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func createEvents(t *testing.T, repo *db.EventRepository, n int, typ models.EventType, entity models.EntityType) {
	t.Helper()
	for i := 0; i < n; i++ {
		event := &models.Event{
			Type:       typ,
			EntityType: entity,
			EntityID:   fmt.Sprintf("%s-%d", entity, i),
			Message:    fmt.Sprintf("event %d", i),
		}
		if err := repo.Create(context.Background(), event); err != nil {
			t.Fatalf("failed to create event: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestEventStreamer_WriteEvent(t *testing.T) {
	repo := db.NewEventRepository(setupTestDB(t))

	var buf bytes.Buffer
	streamer := NewEventStreamer(repo, &buf, DefaultStreamConfig())

	event := &models.Event{
		ID:         "test-event-1",
		Timestamp:  time.Now().UTC(),
		Type:       models.EventTypeBatchQueued,
		Severity:   models.SeverityInfo,
		EntityType: models.EntityTypeBatch,
		EntityID:   "batch-1",
		Message:    "前进，后退",
	}
	if err := streamer.writeEvent(event); err != nil {
		t.Fatalf("writeEvent failed: %v", err)
	}

	var decoded models.Event
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.ID != event.ID || decoded.Type != event.Type || decoded.Message != event.Message {
		t.Errorf("decoded %+v, want %+v", decoded, event)
	}
	if !bytes.Contains(buf.Bytes(), []byte("前进")) {
		t.Error("comment text should not be escaped")
	}
}

func TestEventStreamer_Poll(t *testing.T) {
	repo := db.NewEventRepository(setupTestDB(t))
	createEvents(t, repo, 5, models.EventTypeCommandExecuted, models.EntityTypeCommand)

	config := DefaultStreamConfig()
	config.BatchSize = 2
	streamer := NewEventStreamer(repo, &bytes.Buffer{}, config)

	past := time.Now().Add(-time.Hour)
	events, cursor, err := streamer.poll(context.Background(), "", &past)
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if cursor != events[1].ID {
		t.Errorf("cursor = %q, want last event %q", cursor, events[1].ID)
	}

	more, next, err := streamer.poll(context.Background(), cursor, &past)
	if err != nil {
		t.Fatalf("second poll failed: %v", err)
	}
	if len(more) != 2 || more[0].ID == events[1].ID {
		t.Fatalf("second page overlaps the first: %v", more)
	}
	if next == cursor {
		t.Error("cursor did not advance")
	}
}

func TestEventStreamer_Filters(t *testing.T) {
	repo := db.NewEventRepository(setupTestDB(t))
	createEvents(t, repo, 2, models.EventTypeBatchQueued, models.EntityTypeBatch)
	createEvents(t, repo, 1, models.EventTypeFeedError, models.EntityTypeFeed)
	createEvents(t, repo, 1, models.EventTypeBatchRejected, models.EntityTypeBatch)

	past := time.Now().Add(-time.Hour)

	config := DefaultStreamConfig()
	config.EntityTypes = []models.EntityType{models.EntityTypeFeed}
	events, _, err := NewEventStreamer(repo, &bytes.Buffer{}, config).poll(context.Background(), "", &past)
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if len(events) != 1 || events[0].EntityType != models.EntityTypeFeed {
		t.Fatalf("entity filter returned %v", events)
	}

	config = DefaultStreamConfig()
	config.Types = []models.EventType{models.EventTypeBatchRejected, models.EventTypeFeedError}
	events, cursor, err := NewEventStreamer(repo, &bytes.Buffer{}, config).poll(context.Background(), "", &past)
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("type filter returned %d events", len(events))
	}
	if cursor == "" {
		t.Error("cursor should advance past filtered events")
	}
}

func TestEventStreamer_StreamWithCancellation(t *testing.T) {
	repo := db.NewEventRepository(setupTestDB(t))

	config := DefaultStreamConfig()
	config.PollInterval = 10 * time.Millisecond
	streamer := NewEventStreamer(repo, &bytes.Buffer{}, config)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := streamer.Stream(ctx); err != nil {
		t.Errorf("expected nil error on cancellation, got: %v", err)
	}
}

func TestEventStreamer_Replay(t *testing.T) {
	repo := db.NewEventRepository(setupTestDB(t))
	before := time.Now().Add(-time.Second).UTC()
	createEvents(t, repo, 5, models.EventTypeCommandReceived, models.EntityTypeCommand)

	var buf bytes.Buffer
	config := DefaultStreamConfig()
	config.PollInterval = 10 * time.Millisecond
	config.BatchSize = 2
	config.Since = &before
	config.IncludeExisting = true

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := NewEventStreamer(repo, &buf, config).Stream(ctx); err != nil {
		t.Fatalf("Stream error: %v", err)
	}

	if lines := bytes.Count(buf.Bytes(), []byte("\n")); lines != 5 {
		t.Errorf("expected 5 events, got %d lines", lines)
	}
}

func TestEventStreamer_SkipsExistingByDefault(t *testing.T) {
	repo := db.NewEventRepository(setupTestDB(t))
	createEvents(t, repo, 3, models.EventTypeCommandReceived, models.EntityTypeCommand)

	var buf bytes.Buffer
	config := DefaultStreamConfig()
	config.PollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewEventStreamer(repo, &buf, config).Stream(ctx) }()

	time.Sleep(30 * time.Millisecond)
	createEvents(t, repo, 1, models.EventTypeBatchQueued, models.EntityTypeBatch)
	time.Sleep(50 * time.Millisecond)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Stream error: %v", err)
	}

	if lines := bytes.Count(buf.Bytes(), []byte("\n")); lines != 1 {
		t.Fatalf("expected only the new event, got %d lines: %s", lines, buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte(models.EventTypeBatchQueued)) {
		t.Errorf("unexpected output %s", buf.String())
	}
}

func TestDefaultStreamConfig(t *testing.T) {
	config := DefaultStreamConfig()

	if config.PollInterval != 500*time.Millisecond {
		t.Errorf("expected PollInterval 500ms, got %v", config.PollInterval)
	}
	if config.BatchSize != 100 {
		t.Errorf("expected BatchSize 100, got %d", config.BatchSize)
	}
	if config.IncludeExisting {
		t.Error("expected IncludeExisting to be false by default")
	}
}

func TestMustBeJSONLForWatch(t *testing.T) {
	origWatch := watchMode
	origJSONL := jsonlOutput
	defer func() {
		watchMode = origWatch
		jsonlOutput = origJSONL
	}()

	tests := []struct {
		name      string
		watch     bool
		jsonl     bool
		wantError bool
	}{
		{"watch without jsonl", true, false, true},
		{"watch with jsonl", true, true, false},
		{"no watch", false, false, false},
		{"no watch with jsonl", false, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			watchMode = tt.watch
			jsonlOutput = tt.jsonl

			err := MustBeJSONLForWatch()
			if tt.wantError && err == nil {
				t.Error("expected error but got nil")
			}
			if !tt.wantError && err != nil {
				t.Errorf("expected no error but got: %v", err)
			}
		})
	}
}

func TestParseSince(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		check   func(*time.Time) bool
	}{
		{"empty string", "", false, func(t *time.Time) bool { return t == nil }},
		{"1 hour duration", "1h", false, ago(time.Hour)},
		{"30 minutes duration", "30m", false, ago(30 * time.Minute)},
		{"1 day duration", "1d", false, ago(24 * time.Hour)},
		{"whitespace trimmed", "  1h  ", false, ago(time.Hour)},
		{"RFC3339 timestamp", "2024-01-15T10:30:00Z", false, equals(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC))},
		{"RFC3339 with timezone", "2024-01-15T10:30:00-05:00", false, equals(time.Date(2024, 1, 15, 15, 30, 0, 0, time.UTC))},
		{"simple date", "2024-01-15", false, equals(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))},
		{"date with time no timezone", "2024-01-15T10:30:00", false, func(t *time.Time) bool {
			return t != nil && t.Year() == 2024 && t.Day() == 15 && t.Hour() == 10 && t.Minute() == 30
		}},
		{"invalid format", "not-a-time", true, nil},
		{"invalid duration", "abc123", true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSince(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseSince(%q) expected error, got nil", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSince(%q) unexpected error: %v", tt.input, err)
			}
			if tt.check != nil && !tt.check(got) {
				t.Errorf("ParseSince(%q) = %v, did not pass validation", tt.input, got)
			}
		})
	}
}

func ago(d time.Duration) func(*time.Time) bool {
	return func(t *time.Time) bool {
		if t == nil {
			return false
		}
		diff := time.Since(*t)
		return diff >= d-time.Minute && diff <= d+time.Minute
	}
}

func equals(want time.Time) func(*time.Time) bool {
	return func(t *time.Time) bool { return t != nil && t.Equal(want) }
}

func TestParseDurationWithDays(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{"1d", 24 * time.Hour, false},
		{"7d", 7 * 24 * time.Hour, false},
		{"0.5d", 12 * time.Hour, false},
		{"1h", time.Hour, false},
		{"1h30m", 90 * time.Minute, false},
		{"invalid", 0, true},
		{"xd", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseDurationWithDays(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("parseDurationWithDays(%q) expected error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseDurationWithDays(%q) error: %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("parseDurationWithDays(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}
