package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opencode-ai/danmu/internal/actions"
	"github.com/opencode-ai/danmu/internal/actuator"
	"github.com/opencode-ai/danmu/internal/events"
	"github.com/opencode-ai/danmu/internal/executor"
	"github.com/opencode-ai/danmu/internal/models"
	"github.com/opencode-ai/danmu/internal/queue"
	"github.com/stretchr/testify/require"
)

type fakeInvoker struct {
	block map[string]time.Duration

	mu    sync.Mutex
	texts []string
}

func (f *fakeInvoker) Invoke(ctx context.Context, text string) executor.Outcome {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	d := f.block[text]
	f.mu.Unlock()
	if d > 0 {
		time.Sleep(d)
	}
	return executor.Outcome{Text: text}
}

func (f *fakeInvoker) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.texts))
	copy(out, f.texts)
	return out
}

func newTestDispatcher(t *testing.T, inv executor.Invoker, cfg Config) (*Dispatcher, *queue.Manager, *events.Memory) {
	t.Helper()
	q := queue.NewManager(5, "，")
	reporter := &events.Memory{}
	d := New(context.Background(), q, inv, reporter, cfg)
	t.Cleanup(func() { _ = d.Close(time.Second) })
	return d, q, reporter
}

func waitIdle(t *testing.T, d *Dispatcher) {
	t.Helper()
	require.Eventually(t, func() bool {
		return d.Status().ExecutorState == executor.StateIdle
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHandleBatchRunsInOrder(t *testing.T) {
	inv := &fakeInvoker{}
	d, q, reporter := newTestDispatcher(t, inv, Config{Interval: 10 * time.Millisecond})

	if err := d.Handle(context.Background(), "前进，后退，左转"); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	waitIdle(t, d)

	require.Equal(t, []string{"前进", "后退", "左转"}, inv.calls())
	require.Equal(t, 0, q.Len())
	require.False(t, q.Interrupted())

	st := d.Status()
	require.NotNil(t, st.LastResult)
	require.Equal(t, executor.StateCompleted, st.LastResult.State)
	require.Equal(t, int64(1), st.Batches)
	require.Equal(t, 1, reporter.Count(models.EventTypeBatchQueued))
}

func TestHandleOversizeBatchRejected(t *testing.T) {
	inv := &fakeInvoker{block: map[string]time.Duration{"a": 100 * time.Millisecond}}
	d, q, reporter := newTestDispatcher(t, inv, Config{Interval: 10 * time.Millisecond})

	if err := d.Handle(context.Background(), "a，b，c"); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	require.Eventually(t, func() bool { return len(inv.calls()) == 1 }, time.Second, 5*time.Millisecond)
	before := q.Snapshot()

	err := d.Handle(context.Background(), "1，2，3，4，5，6")
	if !errors.Is(err, queue.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	require.Equal(t, before, q.Snapshot())
	require.Equal(t, executor.StateRunning, d.Status().ExecutorState)
	require.Equal(t, 1, reporter.Count(models.EventTypeBatchRejected))

	waitIdle(t, d)
	require.Equal(t, []string{"a", "b", "c"}, inv.calls())
}

func TestHandleSingleInterruptsBatch(t *testing.T) {
	action := 40 * time.Millisecond
	interval := 50 * time.Millisecond
	inv := &fakeInvoker{block: map[string]time.Duration{"a": action, "b": action, "c": action}}
	d, q, reporter := newTestDispatcher(t, inv, Config{Interval: interval})

	if err := d.Handle(context.Background(), "a，b，c"); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	require.Eventually(t, func() bool { return len(inv.calls()) == 1 }, time.Second, 5*time.Millisecond)

	start := time.Now()
	if err := d.Handle(context.Background(), "翻滚"); err != nil {
		t.Fatalf("Handle single: %v", err)
	}
	waitIdle(t, d)
	if elapsed := time.Since(start); elapsed > interval+action+200*time.Millisecond {
		t.Fatalf("batch took %v to stop", elapsed)
	}

	calls := inv.calls()
	require.Contains(t, calls, "翻滚")
	require.NotContains(t, calls, "c")
	require.Equal(t, 0, q.Len())
	require.False(t, q.Interrupted())

	st := d.Status()
	require.Equal(t, executor.StateInterrupted, st.LastResult.State)
	require.Equal(t, int64(1), st.Interrupts)
	require.GreaterOrEqual(t, reporter.Count(models.EventTypeBatchInterrupted), 2)
}

func TestHandleSingleWithoutBatchDoesNotInterrupt(t *testing.T) {
	inv := &fakeInvoker{}
	d, q, reporter := newTestDispatcher(t, inv, Config{})

	if err := d.Handle(context.Background(), "前进"); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	require.Equal(t, []string{"前进"}, inv.calls())
	require.False(t, q.Interrupted())
	require.Equal(t, 0, reporter.Count(models.EventTypeBatchInterrupted))
}

func TestHandleBatchSupersedesRunningBatch(t *testing.T) {
	inv := &fakeInvoker{block: map[string]time.Duration{"a": 30 * time.Millisecond, "b": 30 * time.Millisecond}}
	d, _, reporter := newTestDispatcher(t, inv, Config{Interval: 20 * time.Millisecond})

	if err := d.Handle(context.Background(), "a，b，c，d"); err != nil {
		t.Fatalf("Handle first: %v", err)
	}
	require.Eventually(t, func() bool { return len(inv.calls()) == 1 }, time.Second, 5*time.Millisecond)

	if err := d.Handle(context.Background(), "x，y"); err != nil {
		t.Fatalf("Handle second: %v", err)
	}
	waitIdle(t, d)

	calls := inv.calls()
	require.Equal(t, []string{"a", "x", "y"}, calls)
	require.Equal(t, 1, reporter.Count(models.EventTypeBatchSuperseded))
	require.Equal(t, executor.StateCompleted, d.Status().LastResult.State)
}

func TestHandleBatchSupersedeTimeout(t *testing.T) {
	inv := &fakeInvoker{block: map[string]time.Duration{"slow": 300 * time.Millisecond}}
	d, q, _ := newTestDispatcher(t, inv, Config{Interval: 10 * time.Millisecond, StopTimeout: 30 * time.Millisecond})

	if err := d.Handle(context.Background(), "slow，b"); err != nil {
		t.Fatalf("Handle first: %v", err)
	}
	require.Eventually(t, func() bool { return len(inv.calls()) == 1 }, time.Second, 5*time.Millisecond)

	err := d.Handle(context.Background(), "x，y")
	if !errors.Is(err, ErrSupersedeTimeout) {
		t.Fatalf("expected ErrSupersedeTimeout, got %v", err)
	}
	require.Equal(t, 1, q.Len())

	waitIdle(t, d)
	require.Equal(t, []string{"slow"}, inv.calls())
	require.Equal(t, 0, q.Len())
}

func TestHandleUnrecognizedSingle(t *testing.T) {
	rec := &actuator.Recorder{}
	reporter := &events.Memory{}
	inv := executor.NewInvoker(actions.Default(), rec, reporter)
	q := queue.NewManager(5, "，")
	d := New(context.Background(), q, inv, reporter, Config{})

	err := d.Handle(context.Background(), "随便说说")
	if !errors.Is(err, actions.ErrUnrecognizedCommand) {
		t.Fatalf("expected ErrUnrecognizedCommand, got %v", err)
	}
	require.Empty(t, rec.Steps())
	require.Equal(t, 1, reporter.Count(models.EventTypeCommandUnrecognized))

	if err := d.Handle(context.Background(), "锁定敌人"); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	require.Len(t, rec.Steps(), 1)
}

func TestClassifyAndClose(t *testing.T) {
	inv := &fakeInvoker{block: map[string]time.Duration{"a": 50 * time.Millisecond}}
	q := queue.NewManager(5, "，")
	d := New(context.Background(), q, inv, nil, Config{Interval: 10 * time.Millisecond})

	require.Equal(t, ModeBatch, d.Classify("a，b"))
	require.Equal(t, ModeSingle, d.Classify("a,b"))

	if err := d.Handle(context.Background(), "a，b，c"); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	require.NoError(t, d.Close(time.Second))
	require.Equal(t, executor.StateIdle, d.Status().ExecutorState)
	require.Equal(t, 0, q.Len())

	if err := d.Handle(context.Background(), "前进"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

type estimatingInvoker struct {
	*fakeInvoker
}

func (e estimatingInvoker) Estimate(text string) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.block[text]
}

func TestHandleBatchWaitsForInFlightCommand(t *testing.T) {
	inv := estimatingInvoker{&fakeInvoker{block: map[string]time.Duration{"slow": 150 * time.Millisecond}}}
	d, q, reporter := newTestDispatcher(t, inv, Config{Interval: 10 * time.Millisecond, StopTimeout: 30 * time.Millisecond})

	if err := d.Handle(context.Background(), "slow，b"); err != nil {
		t.Fatalf("Handle first: %v", err)
	}
	require.Eventually(t, func() bool { return len(inv.calls()) == 1 }, time.Second, 5*time.Millisecond)

	if err := d.Handle(context.Background(), "x，y"); err != nil {
		t.Fatalf("Handle second: %v", err)
	}
	waitIdle(t, d)

	require.Equal(t, []string{"slow", "x", "y"}, inv.calls())
	require.Equal(t, 0, q.Len())
	require.Equal(t, 1, reporter.Count(models.EventTypeBatchSuperseded))
}

func TestCloseWaitsForHandle(t *testing.T) {
	inv := &fakeInvoker{block: map[string]time.Duration{"slow": 200 * time.Millisecond}}
	d, q, reporter := newTestDispatcher(t, inv, Config{Interval: 10 * time.Millisecond})

	if err := d.Handle(context.Background(), "slow，b"); err != nil {
		t.Fatalf("Handle first: %v", err)
	}
	require.Eventually(t, func() bool { return len(inv.calls()) == 1 }, time.Second, 5*time.Millisecond)

	handled := make(chan error, 1)
	go func() { handled <- d.Handle(context.Background(), "x，y") }()
	require.Eventually(t, func() bool {
		return reporter.Count(models.EventTypeBatchInterrupted) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, d.Close(2*time.Second))

	select {
	case err := <-handled:
		require.NoError(t, err)
	default:
		t.Fatal("Close returned while Handle was still in progress")
	}
	require.Equal(t, executor.StateIdle, d.Status().ExecutorState)
	require.Equal(t, 0, q.Len())
}
