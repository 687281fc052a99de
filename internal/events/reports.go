package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/opencode-ai/danmu/internal/models"
)

// CommandReceived reports a comment accepted from a source.
func CommandReceived(source, text string) Report {
	return Report{
		Type:       models.EventTypeCommandReceived,
		EntityType: models.EntityTypeCommand,
		Message:    fmt.Sprintf("received %q", text),
		Payload:    models.CommandPayload{Text: text, Source: source},
	}
}

// CommandExecuted reports a command performed by the actuator.
func CommandExecuted(text, action string, d time.Duration) Report {
	return Report{
		Type:       models.EventTypeCommandExecuted,
		EntityType: models.EntityTypeCommand,
		EntityID:   action,
		Message:    fmt.Sprintf("executed %q as %s (%s)", text, action, d),
		Payload:    models.CommandPayload{Text: text, Action: action, Duration: d.String()},
	}
}

// CommandUnrecognized reports text that matched no action.
func CommandUnrecognized(text string) Report {
	return Report{
		Type:       models.EventTypeCommandUnrecognized,
		Severity:   models.SeverityWarn,
		EntityType: models.EntityTypeCommand,
		Message:    fmt.Sprintf("unrecognized command %q", text),
		Payload:    models.CommandPayload{Text: text},
	}
}

// ActuatorFailed reports a primitive that raised an error.
func ActuatorFailed(text string, err error) Report {
	return Report{
		Type:       models.EventTypeActuatorFailed,
		Severity:   models.SeverityError,
		EntityType: models.EntityTypeCommand,
		Message:    fmt.Sprintf("failed to execute %q: %v", text, err),
		Payload:    models.ErrorPayload{Error: err.Error(), Context: text},
	}
}

// BatchQueued reports an accepted batch.
func BatchQueued(batchID string, segments []string, pending, capacity int) Report {
	return Report{
		Type:       models.EventTypeBatchQueued,
		EntityType: models.EntityTypeBatch,
		EntityID:   batchID,
		Message:    fmt.Sprintf("queued %d commands: %s", len(segments), strings.Join(segments, ", ")),
		Payload:    models.BatchPayload{BatchID: batchID, Segments: segments, Pending: pending, Capacity: capacity},
	}
}

// BatchRejected reports a batch refused because the queue is full.
func BatchRejected(segments []string, pending, capacity int) Report {
	return Report{
		Type:       models.EventTypeBatchRejected,
		Severity:   models.SeverityWarn,
		EntityType: models.EntityTypeBatch,
		Message:    fmt.Sprintf("queue full: %d pending, %d new, capacity %d", pending, len(segments), capacity),
		Payload:    models.BatchPayload{Segments: segments, Pending: pending, Capacity: capacity},
	}
}

// Interrupted reports an interrupt raised against a running executor.
func Interrupted(executorID, reason string) Report {
	return Report{
		Type:       models.EventTypeBatchInterrupted,
		Severity:   models.SeverityWarn,
		EntityType: models.EntityTypeExecutor,
		EntityID:   executorID,
		Message:    "interrupting batch: " + reason,
	}
}

// Superseded reports the outcome of handing the queue to a new batch.
func Superseded(executorID string, stopped bool, wait time.Duration) Report {
	r := Report{
		Type:       models.EventTypeBatchSuperseded,
		EntityType: models.EntityTypeExecutor,
		EntityID:   executorID,
		Message:    fmt.Sprintf("previous batch stopped after %s", wait.Round(time.Millisecond)),
	}
	if !stopped {
		r.Severity = models.SeverityError
		r.Message = fmt.Sprintf("previous batch did not stop within %s", wait)
	}
	return r
}

// ExecutorStarted reports a new executor run.
func ExecutorStarted(executorID string, pending int) Report {
	return Report{
		Type:       models.EventTypeBatchStarted,
		EntityType: models.EntityTypeExecutor,
		EntityID:   executorID,
		Message:    fmt.Sprintf("executor started with %d pending", pending),
		Payload:    models.ExecutorPayload{ExecutorID: executorID, State: "running"},
	}
}

// ExecutorFinished reports the end of an executor run.
func ExecutorFinished(p models.ExecutorPayload) Report {
	r := Report{
		Type:       models.EventTypeBatchCompleted,
		EntityType: models.EntityTypeExecutor,
		EntityID:   p.ExecutorID,
		Message: fmt.Sprintf("executor %s: %d executed, %d failed, %d unrecognized, %d discarded",
			p.State, p.Executed, p.Failed, p.Unrecognized, p.Discarded),
		Payload: p,
	}
	if p.State == "interrupted" {
		r.Type = models.EventTypeBatchInterrupted
	}
	return r
}

// FeedError reports a failed poll.
func FeedError(roomID string, err error) Report {
	return Report{
		Type:       models.EventTypeFeedError,
		Severity:   models.SeverityWarn,
		EntityType: models.EntityTypeFeed,
		EntityID:   roomID,
		Message:    fmt.Sprintf("poll failed: %v", err),
		Payload:    models.ErrorPayload{Error: err.Error()},
	}
}

// Warning reports a general warning.
func Warning(message string) Report {
	return Report{
		Type:       models.EventTypeWarning,
		Severity:   models.SeverityWarn,
		EntityType: models.EntityTypeSystem,
		Message:    message,
	}
}
