// Package models defines the persisted domain types.
package models

import (
	"encoding/json"
	"strings"
	"time"
)

// EventType categorizes events in the system.
type EventType string

const (
	// Command events
	EventTypeCommandReceived     EventType = "command.received"
	EventTypeCommandExecuted     EventType = "command.executed"
	EventTypeCommandUnrecognized EventType = "command.unrecognized"

	// Batch events
	EventTypeBatchQueued      EventType = "batch.queued"
	EventTypeBatchRejected    EventType = "batch.rejected"
	EventTypeBatchStarted     EventType = "batch.started"
	EventTypeBatchCompleted   EventType = "batch.completed"
	EventTypeBatchInterrupted EventType = "batch.interrupted"
	EventTypeBatchSuperseded  EventType = "batch.superseded"

	// Actuator events
	EventTypeActuatorFailed EventType = "actuator.failed"

	// Feed events
	EventTypeFeedConnected EventType = "feed.connected"
	EventTypeFeedStopped   EventType = "feed.stopped"
	EventTypeFeedError     EventType = "feed.error"
	EventTypeFeedIgnored   EventType = "feed.ignored"

	// System events
	EventTypeError   EventType = "error"
	EventTypeWarning EventType = "warning"
)

// EntityType identifies the type of entity an event relates to.
type EntityType string

const (
	EntityTypeCommand  EntityType = "command"
	EntityTypeBatch    EntityType = "batch"
	EntityTypeExecutor EntityType = "executor"
	EntityTypeFeed     EntityType = "feed"
	EntityTypeSystem   EntityType = "system"
)

// Severity is the importance of an event.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Event represents an append-only log entry.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Severity  Severity  `json:"severity"`

	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`

	// Message is the human readable description that was reported.
	Message string `json:"message"`

	Payload  json.RawMessage   `json:"payload,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Validate checks if the event is valid.
func (e *Event) Validate() error {
	validation := &ValidationErrors{}
	if strings.TrimSpace(string(e.Type)) == "" {
		validation.AddMessage("type", "event type is required")
	}
	if strings.TrimSpace(string(e.EntityType)) == "" {
		validation.AddMessage("entity_type", "entity_type is required")
	}
	if strings.TrimSpace(e.EntityID) == "" {
		validation.AddMessage("entity_id", "entity_id is required")
	}
	switch e.Severity {
	case "", SeverityInfo, SeverityWarn, SeverityError:
	default:
		validation.AddMessage("severity", "severity must be info, warn or error")
	}
	return validation.Err()
}

// BatchPayload is the payload for batch.* events.
type BatchPayload struct {
	BatchID  string   `json:"batch_id,omitempty"`
	Segments []string `json:"segments,omitempty"`
	Pending  int      `json:"pending"`
	Capacity int      `json:"capacity,omitempty"`
}

// CommandPayload is the payload for command.* events.
type CommandPayload struct {
	Text     string `json:"text"`
	Action   string `json:"action,omitempty"`
	Source   string `json:"source,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// ExecutorPayload summarizes one executor run.
type ExecutorPayload struct {
	ExecutorID   string `json:"executor_id"`
	State        string `json:"state"`
	Executed     int    `json:"executed"`
	Failed       int    `json:"failed"`
	Unrecognized int    `json:"unrecognized"`
	Discarded    int    `json:"discarded"`
}

// ErrorPayload is the payload for error events.
type ErrorPayload struct {
	Error   string `json:"error"`
	Context string `json:"context,omitempty"`
}
