// Package executor drains the pending queue in the background, one command
// at a time with fixed pacing, and stops when an interrupt is signalled.
package executor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opencode-ai/danmu/internal/events"
	"github.com/opencode-ai/danmu/internal/logging"
	"github.com/opencode-ai/danmu/internal/models"
	"github.com/opencode-ai/danmu/internal/queue"
	"github.com/rs/zerolog"
)

// DefaultInterval is the pause after each executed command.
const DefaultInterval = 500 * time.Millisecond

// State is the lifecycle state of one executor.
type State string

const (
	StateIdle        State = "idle"
	StateRunning     State = "running"
	StateCompleted   State = "completed"
	StateInterrupted State = "interrupted"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateInterrupted
}

// Config contains executor configuration.
type Config struct {
	// Interval is the pause after each command. Default: 500ms.
	Interval time.Duration
}

// Result summarizes one run.
type Result struct {
	ExecutorID   string
	State        State
	Executed     int
	Failed       int
	Unrecognized int
	Discarded    int
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Executor runs one batch. It is single use: create a new one per batch.
type Executor struct {
	id       string
	queue    *queue.Manager
	invoker  Invoker
	reporter events.Reporter
	interval time.Duration
	logger   zerolog.Logger

	mu       sync.Mutex
	state    State
	result   Result
	inFlight string
	since    time.Time
	done     chan struct{}
}

// New creates an idle executor for q.
func New(q *queue.Manager, invoker Invoker, reporter events.Reporter, cfg Config) *Executor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if reporter == nil {
		reporter = events.Nop{}
	}
	id := uuid.New().String()
	return &Executor{
		id:       id,
		queue:    q,
		invoker:  invoker,
		reporter: reporter,
		interval: cfg.Interval,
		logger:   logging.Component("executor").With().Str("executor_id", id).Logger(),
		state:    StateIdle,
		done:     make(chan struct{}),
	}
}

// ID returns the executor ID.
func (e *Executor) ID() string {
	return e.id
}

// State returns the current state.
func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Result returns the run summary. It is final once Done is closed.
func (e *Executor) Result() Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result
}

// InFlight returns the command being invoked and when it started.
func (e *Executor) InFlight() (text string, since time.Time, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFlight, e.since, !e.since.IsZero()
}

// Done is closed when the run loop has exited and the queue was reset.
func (e *Executor) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until the executor terminates or timeout elapses. It reports
// whether the executor terminated.
func (e *Executor) Wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-e.done:
		return true
	case <-timer.C:
		return false
	}
}

// Start claims the queue and runs the loop in a new goroutine.
func (e *Executor) Start(ctx context.Context) error {
	if err := e.begin(); err != nil {
		return err
	}
	go e.loop(ctx)
	return nil
}

// Run claims the queue and runs the loop on the calling goroutine.
func (e *Executor) Run(ctx context.Context) (Result, error) {
	if err := e.begin(); err != nil {
		return Result{}, err
	}
	e.loop(ctx)
	return e.Result(), nil
}

func (e *Executor) begin() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateIdle {
		return queue.ErrExecutorActive
	}
	if err := e.queue.BeginRun(); err != nil {
		return err
	}
	e.state = StateRunning
	e.result = Result{ExecutorID: e.id, State: StateRunning, StartedAt: time.Now().UTC()}
	return nil
}

func (e *Executor) loop(ctx context.Context) {
	final := StateCompleted
	defer func() {
		discarded := e.queue.DrainAndReset()

		e.mu.Lock()
		e.state = final
		e.result.State = final
		e.result.Discarded = discarded
		e.result.FinishedAt = time.Now().UTC()
		res := e.result
		e.mu.Unlock()

		close(e.done)

		e.logger.Debug().Str("state", string(final)).Int("discarded", discarded).Msg("executor finished")
		e.reporter.Report(context.WithoutCancel(ctx), events.ExecutorFinished(models.ExecutorPayload{
			ExecutorID:   res.ExecutorID,
			State:        string(res.State),
			Executed:     res.Executed,
			Failed:       res.Failed,
			Unrecognized: res.Unrecognized,
			Discarded:    res.Discarded,
		}))
	}()

	e.reporter.Report(ctx, events.ExecutorStarted(e.id, e.queue.Len()))

	for {
		if ctx.Err() != nil {
			final = StateInterrupted
			return
		}

		item, ok := e.queue.Next()
		if !ok {
			if e.queue.Interrupted() {
				final = StateInterrupted
			}
			return
		}

		e.mu.Lock()
		e.inFlight, e.since = item.Text, time.Now()
		e.mu.Unlock()

		outcome := e.invoker.Invoke(ctx, item.Text)
		e.record(outcome)

		if !sleepContext(ctx, e.interval) {
			final = StateInterrupted
			return
		}

		if e.queue.Interrupted() {
			final = StateInterrupted
			return
		}
	}
}

func (e *Executor) record(o Outcome) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.inFlight, e.since = "", time.Time{}
	switch {
	case o.OK():
		e.result.Executed++
	case o.Unrecognized():
		e.result.Unrecognized++
	default:
		e.result.Failed++
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
