package actuator

import (
	"context"
	"sync"
	"time"
)

// Call is one primitive observed by a Recorder.
type Call struct {
	Step Step
	At   time.Time
}

// Recorder records primitive calls without touching any device. When
// Block is set it also blocks for each step's nominal duration.
type Recorder struct {
	Block bool

	// FailOn, when set, is consulted before each call; a non-nil error is
	// returned instead of recording the call.
	FailOn func(Step) error

	mu    sync.Mutex
	calls []Call
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Steps returns the recorded steps in call order.
func (r *Recorder) Steps() []Step {
	calls := r.Calls()
	steps := make([]Step, len(calls))
	for i, c := range calls {
		steps[i] = c.Step
	}
	return steps
}

// Reset forgets all recorded calls.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}

func (r *Recorder) record(step Step) error {
	if r.FailOn != nil {
		if err := r.FailOn(step); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.calls = append(r.calls, Call{Step: step, At: time.Now()})
	r.mu.Unlock()

	if r.Block && step.Blocking() > 0 {
		time.Sleep(step.Blocking())
	}
	return nil
}

func (r *Recorder) HoldKey(ctx context.Context, key string, d time.Duration) error {
	return r.record(Step{Primitive: PrimitiveHoldKey, Key: key, Duration: d})
}

func (r *Recorder) HoldCombo(ctx context.Context, keys []string, d time.Duration) error {
	return r.record(Step{Primitive: PrimitiveHoldCombo, Keys: append([]string(nil), keys...), Duration: d})
}

func (r *Recorder) Scroll(ctx context.Context, dir ScrollDirection) error {
	return r.record(Step{Primitive: PrimitiveScroll, Direction: dir})
}

func (r *Recorder) ClickTrain(ctx context.Context, button Button, interval, total time.Duration) error {
	return r.record(Step{Primitive: PrimitiveClickTrain, Button: button, Interval: interval, Duration: total})
}

func (r *Recorder) MouseHold(ctx context.Context, button Button, d time.Duration) error {
	return r.record(Step{Primitive: PrimitiveMouseHold, Button: button, Duration: d})
}

func (r *Recorder) Click(ctx context.Context, button Button) error {
	return r.record(Step{Primitive: PrimitiveClick, Button: button})
}

// Sleep records pauses as steps.
func (r *Recorder) Sleep(d time.Duration) {
	_ = r.record(Step{Primitive: PrimitivePause, Duration: d})
}
