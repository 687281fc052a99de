// Package events reports rejections, interruptions and command outcomes to
// the log and the persistent event store.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/opencode-ai/danmu/internal/models"
	"github.com/rs/zerolog"
)

// Repository is the minimal interface needed to write events.
type Repository interface {
	Create(ctx context.Context, event *models.Event) error
}

// Report is one fire-and-forget event.
type Report struct {
	Type       models.EventType
	Severity   models.Severity
	EntityType models.EntityType
	EntityID   string
	Message    string
	Payload    any
}

// Reporter receives reports. Implementations must not block for long and
// must never fail the caller.
type Reporter interface {
	Report(ctx context.Context, r Report)
}

// Logger writes reports to a zerolog logger and, when a repository is set,
// persists them.
type Logger struct {
	logger zerolog.Logger
	repo   Repository
}

// NewLogger creates a Logger. repo may be nil.
func NewLogger(logger zerolog.Logger, repo Repository) *Logger {
	return &Logger{logger: logger, repo: repo}
}

// Report logs r and stores it. Storage errors are logged and dropped.
func (l *Logger) Report(ctx context.Context, r Report) {
	if r.Severity == "" {
		r.Severity = models.SeverityInfo
	}

	var ev *zerolog.Event
	switch r.Severity {
	case models.SeverityError:
		ev = l.logger.Error()
	case models.SeverityWarn:
		ev = l.logger.Warn()
	default:
		ev = l.logger.Info()
	}
	ev.Str("event", string(r.Type)).
		Str("entity_type", string(r.EntityType)).
		Str("entity_id", r.EntityID).
		Msg(r.Message)

	if l.repo == nil {
		return
	}

	event, err := r.Event()
	if err != nil {
		l.logger.Warn().Err(err).Str("event", string(r.Type)).Msg("failed to encode event")
		return
	}
	if err := l.repo.Create(ctx, event); err != nil {
		l.logger.Warn().Err(err).Str("event", string(r.Type)).Msg("failed to persist event")
	}
}

// Event converts the report into a storable event.
func (r Report) Event() (*models.Event, error) {
	event := &models.Event{
		Timestamp:  time.Now().UTC(),
		Type:       r.Type,
		Severity:   r.Severity,
		EntityType: r.EntityType,
		EntityID:   r.EntityID,
		Message:    r.Message,
	}
	if event.EntityID == "" {
		event.EntityID = "-"
	}
	if r.Payload != nil {
		payload, err := json.Marshal(r.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		event.Payload = payload
	}
	return event, nil
}

// Nop discards every report.
type Nop struct{}

func (Nop) Report(context.Context, Report) {}

// Memory keeps reports in memory.
type Memory struct {
	mu      sync.Mutex
	reports []Report
}

// Report records r.
func (m *Memory) Report(_ context.Context, r Report) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, r)
}

// Reports returns a copy of the recorded reports.
func (m *Memory) Reports() []Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Report, len(m.reports))
	copy(out, m.reports)
	return out
}

// Count returns how many reports of the given type were recorded.
func (m *Memory) Count(t models.EventType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.reports {
		if r.Type == t {
			n++
		}
	}
	return n
}

// Tee fans reports out to several reporters.
type Tee []Reporter

func (t Tee) Report(ctx context.Context, r Report) {
	for _, reporter := range t {
		if reporter != nil {
			reporter.Report(ctx, r)
		}
	}
}
