package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/opencode-ai/danmu/internal/models"
	"github.com/rs/zerolog"
)

type fakeRepo struct {
	last *models.Event
	err  error
}

func (r *fakeRepo) Create(ctx context.Context, event *models.Event) error {
	r.last = event
	return r.err
}

func TestLoggerPersistsReport(t *testing.T) {
	repo := &fakeRepo{}
	var buf bytes.Buffer
	logger := NewLogger(zerolog.New(&buf), repo)

	logger.Report(context.Background(), BatchQueued("batch-1", []string{"前进", "翻滚"}, 2, 5))

	if repo.last == nil {
		t.Fatal("expected event to be created")
	}
	if repo.last.Type != models.EventTypeBatchQueued {
		t.Fatalf("unexpected event type: %q", repo.last.Type)
	}
	if repo.last.EntityID != "batch-1" {
		t.Fatalf("unexpected entity id: %q", repo.last.EntityID)
	}
	if repo.last.Severity != models.SeverityInfo {
		t.Fatalf("expected info severity, got %q", repo.last.Severity)
	}

	var payload models.BatchPayload
	if err := json.Unmarshal(repo.last.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Capacity != 5 || len(payload.Segments) != 2 {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	if !strings.Contains(buf.String(), `"event":"batch.queued"`) {
		t.Fatalf("expected log line, got %s", buf.String())
	}
}

func TestLoggerSeverityLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(zerolog.New(&buf), nil)

	logger.Report(context.Background(), CommandUnrecognized("你好"))
	logger.Report(context.Background(), ActuatorFailed("前进", errors.New("xdotool missing")))

	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, `"level":"error"`) {
		t.Fatalf("expected warn and error lines, got %s", out)
	}
}

func TestLoggerDropsStorageErrors(t *testing.T) {
	repo := &fakeRepo{err: errors.New("disk full")}
	var buf bytes.Buffer
	logger := NewLogger(zerolog.New(&buf), repo)

	logger.Report(context.Background(), Warning("careful"))

	if !strings.Contains(buf.String(), "failed to persist event") {
		t.Fatalf("expected storage failure to be logged, got %s", buf.String())
	}
}

func TestReportEventDefaultsEntityID(t *testing.T) {
	event, err := CommandUnrecognized("abc").Event()
	if err != nil {
		t.Fatalf("Event: %v", err)
	}
	if err := event.Validate(); err != nil {
		t.Fatalf("expected valid event, got %v", err)
	}
}

func TestExecutorFinishedType(t *testing.T) {
	done := ExecutorFinished(models.ExecutorPayload{ExecutorID: "e1", State: "completed", Executed: 3})
	if done.Type != models.EventTypeBatchCompleted {
		t.Fatalf("expected completed event, got %s", done.Type)
	}
	stopped := ExecutorFinished(models.ExecutorPayload{ExecutorID: "e1", State: "interrupted"})
	if stopped.Type != models.EventTypeBatchInterrupted {
		t.Fatalf("expected interrupted event, got %s", stopped.Type)
	}
	if r := Superseded("e1", false, 5*time.Second); r.Severity != models.SeverityError {
		t.Fatalf("expected timeout to be an error, got %s", r.Severity)
	}
}

func TestTeeAndMemory(t *testing.T) {
	a, b := &Memory{}, &Memory{}
	tee := Tee{a, nil, b}

	tee.Report(context.Background(), CommandReceived("test", "前进"))
	tee.Report(context.Background(), CommandReceived("test", "后退"))

	if a.Count(models.EventTypeCommandReceived) != 2 || len(b.Reports()) != 2 {
		t.Fatalf("expected both reporters to see two reports")
	}
}
