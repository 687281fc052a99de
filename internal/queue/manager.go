// Package queue holds the pending batch of commands and the interrupt flag
// shared by the dispatcher and the executor.
package queue

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Queue errors.
var (
	ErrQueueFull      = errors.New("queue is full")
	ErrEmptyBatch     = errors.New("batch has no commands")
	ErrExecutorActive = errors.New("executor already active")
)

const (
	// DefaultCapacity is the maximum number of pending commands.
	DefaultCapacity = 5

	// DefaultSeparator splits a batch into commands (full-width comma).
	DefaultSeparator = "，"
)

// Item is one pending command of a batch.
type Item struct {
	ID         string    `json:"id"`
	BatchID    string    `json:"batch_id"`
	Text       string    `json:"text"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Manager owns the pending queue, the interrupt flag and the active marker.
// All three are guarded by one mutex and only change together through the
// methods below.
type Manager struct {
	capacity  int
	separator string

	mu          sync.Mutex
	items       []Item
	interrupted bool
	active      bool
}

// NewManager creates a manager. Non-positive capacity and an empty separator
// fall back to the defaults.
func NewManager(capacity int, separator string) *Manager {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if separator == "" {
		separator = DefaultSeparator
	}
	return &Manager{
		capacity:  capacity,
		separator: separator,
		items:     make([]Item, 0, capacity),
	}
}

// Capacity returns the queue capacity.
func (m *Manager) Capacity() int {
	return m.capacity
}

// Separator returns the batch separator.
func (m *Manager) Separator() string {
	return m.separator
}

// IsBatch reports whether raw contains the batch separator.
func (m *Manager) IsBatch(raw string) bool {
	return strings.Contains(raw, m.separator)
}

// Split splits raw on the separator, trims segments and drops empty ones.
func (m *Manager) Split(raw string) []string {
	parts := strings.Split(raw, m.separator)
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			segments = append(segments, part)
		}
	}
	return segments
}

// Enqueue appends every segment of raw as one batch. The batch is rejected
// as a whole with ErrQueueFull when it does not fit.
func (m *Manager) Enqueue(raw string) ([]Item, error) {
	segments := m.Split(raw)
	if len(segments) == 0 {
		return nil, ErrEmptyBatch
	}

	batchID := uuid.New().String()
	now := time.Now().UTC()
	batch := make([]Item, len(segments))
	for i, text := range segments {
		batch[i] = Item{
			ID:         uuid.New().String(),
			BatchID:    batchID,
			Text:       text,
			EnqueuedAt: now,
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.items)+len(batch) > m.capacity {
		return nil, fmt.Errorf("%w: %d pending + %d new > %d", ErrQueueFull, len(m.items), len(batch), m.capacity)
	}
	m.items = append(m.items, batch...)

	out := make([]Item, len(batch))
	copy(out, batch)
	return out, nil
}

// DequeueOne pops the head of the queue.
func (m *Manager) DequeueOne() (Item, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.popLocked()
}

// Next pops the head unless the queue is empty or an interrupt is pending.
func (m *Manager) Next() (Item, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.interrupted {
		return Item{}, false
	}
	return m.popLocked()
}

func (m *Manager) popLocked() (Item, bool) {
	if len(m.items) == 0 {
		return Item{}, false
	}
	head := m.items[0]
	m.items[0] = Item{}
	m.items = m.items[1:]
	return head, true
}

// Interrupted reports whether an interrupt is pending.
func (m *Manager) Interrupted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interrupted
}

// SignalInterrupt raises the interrupt flag if an executor is active. It
// reports whether the flag was raised.
func (m *Manager) SignalInterrupt() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return false
	}
	m.interrupted = true
	return true
}

// BeginRun marks an executor as the owner of the queue.
func (m *Manager) BeginRun() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active {
		return ErrExecutorActive
	}
	m.active = true
	m.interrupted = false
	return nil
}

// Active reports whether an executor owns the queue.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// DrainAndReset clears the queue and the interrupt flag and releases the
// active marker. It returns the number of discarded items.
func (m *Manager) DrainAndReset() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	discarded := len(m.items)
	m.items = make([]Item, 0, m.capacity)
	m.interrupted = false
	m.active = false
	return discarded
}

// Len returns the number of pending items.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Snapshot returns a copy of the pending items in execution order.
func (m *Manager) Snapshot() []Item {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Item, len(m.items))
	copy(out, m.items)
	return out
}
