// Package dispatcher is the entry point for incoming comments. It routes
// batches to the queue and a background executor and runs single commands
// immediately, interrupting any running batch.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opencode-ai/danmu/internal/events"
	"github.com/opencode-ai/danmu/internal/executor"
	"github.com/opencode-ai/danmu/internal/logging"
	"github.com/opencode-ai/danmu/internal/queue"
	"github.com/rs/zerolog"
)

// Dispatcher errors.
var (
	ErrSupersedeTimeout = errors.New("previous batch did not stop in time")
	ErrClosed           = errors.New("dispatcher closed")
)

// DefaultStopTimeout bounds the wait for a running batch to stop before a
// new batch takes over the queue. When the invoker can estimate commands,
// the remaining time of the in-flight command and one interval are added.
const DefaultStopTimeout = 5 * time.Second

// Config contains dispatcher configuration.
type Config struct {
	// Interval is the executor pause between batch commands.
	Interval time.Duration

	// StopTimeout is the wait for a superseded executor beyond its
	// in-flight command. Default: 5s.
	StopTimeout time.Duration
}

// Mode is how a comment was routed.
type Mode string

const (
	ModeBatch  Mode = "batch"
	ModeSingle Mode = "single"
)

// Status is a snapshot of the dispatcher.
type Status struct {
	ExecutorID    string
	ExecutorState executor.State
	Pending       []queue.Item
	Capacity      int
	Separator     string
	Handled       int64
	Batches       int64
	Singles       int64
	Rejected      int64
	Interrupts    int64
	LastResult    *executor.Result
}

// Dispatcher classifies and routes comments.
type Dispatcher struct {
	queue    *queue.Manager
	invoker  executor.Invoker
	reporter events.Reporter
	config   Config
	logger   zerolog.Logger

	// base is the lifetime context for background executors.
	base context.Context

	// handleMu serializes Handle so batch handoffs never overlap.
	handleMu sync.Mutex

	mu      sync.Mutex
	current *executor.Executor
	last    *executor.Result
	closed  bool
	stats   Status
}

// New creates a dispatcher. Executors started by it live until ctx is
// cancelled or their batch ends.
func New(ctx context.Context, q *queue.Manager, invoker executor.Invoker, reporter events.Reporter, cfg Config) *Dispatcher {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.Interval <= 0 {
		cfg.Interval = executor.DefaultInterval
	}
	if reporter == nil {
		reporter = events.Nop{}
	}
	return &Dispatcher{
		queue:    q,
		invoker:  invoker,
		reporter: reporter,
		config:   cfg,
		logger:   logging.Component("dispatcher"),
		base:     ctx,
	}
}

// Classify reports how raw would be routed.
func (d *Dispatcher) Classify(raw string) Mode {
	if d.queue.IsBatch(raw) {
		return ModeBatch
	}
	return ModeSingle
}

// Handle routes one comment. Errors are also reported; callers may ignore
// them.
func (d *Dispatcher) Handle(ctx context.Context, raw string) error {
	d.handleMu.Lock()
	defer d.handleMu.Unlock()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.stats.Handled++
	d.mu.Unlock()

	if d.Classify(raw) == ModeBatch {
		return d.handleBatch(ctx, raw)
	}
	return d.handleSingle(ctx, raw)
}

func (d *Dispatcher) handleBatch(ctx context.Context, raw string) error {
	segments := d.queue.Split(raw)
	if len(segments) == 0 {
		return queue.ErrEmptyBatch
	}
	if len(segments) > d.queue.Capacity() {
		return d.reject(ctx, segments)
	}

	if err := d.supersede(ctx); err != nil {
		return err
	}

	items, err := d.queue.Enqueue(raw)
	if err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			return d.reject(ctx, segments)
		}
		return err
	}
	d.reporter.Report(ctx, events.BatchQueued(items[0].BatchID, segments, d.queue.Len(), d.queue.Capacity()))

	exec := executor.New(d.queue, d.invoker, d.reporter, executor.Config{Interval: d.config.Interval})
	if err := exec.Start(d.base); err != nil {
		d.logger.Error().Err(err).Msg("failed to start executor")
		return fmt.Errorf("start executor: %w", err)
	}

	d.mu.Lock()
	d.current = exec
	d.stats.Batches++
	d.mu.Unlock()

	d.logger.Debug().Str("executor_id", exec.ID()).Int("segments", len(segments)).Msg("batch started")
	return nil
}

// supersede stops the running executor, if any, and waits for it to
// release the queue.
func (d *Dispatcher) supersede(ctx context.Context) error {
	exec := d.running()
	if exec == nil {
		return nil
	}

	if d.queue.SignalInterrupt() {
		d.countInterrupt()
		d.reporter.Report(ctx, events.Interrupted(exec.ID(), "superseded by a new batch"))
	}

	start := time.Now()
	timeout := d.stopTimeout(exec)
	stopped := exec.Wait(timeout)
	d.reporter.Report(ctx, events.Superseded(exec.ID(), stopped, time.Since(start)))
	if !stopped {
		return fmt.Errorf("%w: waited %s", ErrSupersedeTimeout, timeout)
	}
	d.finish(exec)
	return nil
}

// stopTimeout extends StopTimeout by what is left of the in-flight command
// and the pause that follows it.
func (d *Dispatcher) stopTimeout(exec *executor.Executor) time.Duration {
	est, ok := d.invoker.(executor.Estimator)
	if !ok {
		return d.config.StopTimeout
	}
	text, since, busy := exec.InFlight()
	if !busy {
		return d.config.StopTimeout
	}
	remaining := max(est.Estimate(text)-time.Since(since), 0)
	return d.config.StopTimeout + remaining + d.config.Interval
}

func (d *Dispatcher) handleSingle(ctx context.Context, raw string) error {
	if exec := d.running(); exec != nil && d.queue.SignalInterrupt() {
		d.countInterrupt()
		d.reporter.Report(ctx, events.Interrupted(exec.ID(), fmt.Sprintf("single command %q", raw)))
	}

	d.mu.Lock()
	d.stats.Singles++
	d.mu.Unlock()

	out := d.invoker.Invoke(ctx, raw)
	return out.Err
}

func (d *Dispatcher) reject(ctx context.Context, segments []string) error {
	pending := d.queue.Len()
	d.mu.Lock()
	d.stats.Rejected++
	d.mu.Unlock()

	d.reporter.Report(ctx, events.BatchRejected(segments, pending, d.queue.Capacity()))
	return fmt.Errorf("%w: %d pending, %d new, capacity %d", queue.ErrQueueFull, pending, len(segments), d.queue.Capacity())
}

// running returns the current executor if it has not terminated.
func (d *Dispatcher) running() *executor.Executor {
	d.mu.Lock()
	exec := d.current
	d.mu.Unlock()

	if exec == nil {
		return nil
	}
	select {
	case <-exec.Done():
		d.finish(exec)
		return nil
	default:
		return exec
	}
}

func (d *Dispatcher) finish(exec *executor.Executor) {
	res := exec.Result()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == exec {
		d.current = nil
		d.last = &res
	}
}

func (d *Dispatcher) countInterrupt() {
	d.mu.Lock()
	d.stats.Interrupts++
	d.mu.Unlock()
}

// Status returns a snapshot of the queue, the executor and counters.
func (d *Dispatcher) Status() Status {
	exec := d.running()

	d.mu.Lock()
	st := d.stats
	if d.last != nil {
		last := *d.last
		st.LastResult = &last
	}
	d.mu.Unlock()

	st.ExecutorState = executor.StateIdle
	if exec != nil {
		st.ExecutorID = exec.ID()
		st.ExecutorState = exec.State()
	}
	st.Pending = d.queue.Snapshot()
	st.Capacity = d.queue.Capacity()
	st.Separator = d.queue.Separator()
	return st
}

// Close rejects further comments, interrupts a running batch and waits up
// to timeout for it to stop.
func (d *Dispatcher) Close(timeout time.Duration) error {
	// Waits for an in-progress Handle so no executor starts after Close.
	d.handleMu.Lock()
	defer d.handleMu.Unlock()

	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	exec := d.running()
	if exec == nil {
		return nil
	}
	d.queue.SignalInterrupt()
	if !exec.Wait(timeout) {
		return fmt.Errorf("%w: waited %s", ErrSupersedeTimeout, timeout)
	}
	d.finish(exec)
	return nil
}
