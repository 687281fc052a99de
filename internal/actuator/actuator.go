// Package actuator performs primitive input actions (key holds, mouse
// holds, clicks, scrolls) on behalf of resolved commands.
package actuator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Actuator errors.
var (
	ErrActuatorFailure  = errors.New("actuator failure")
	ErrUnknownPrimitive = errors.New("unknown primitive")
)

// Primitive identifies one kind of input action.
type Primitive string

const (
	PrimitiveHoldKey    Primitive = "hold_key"
	PrimitiveHoldCombo  Primitive = "hold_combo"
	PrimitiveScroll     Primitive = "scroll"
	PrimitiveClickTrain Primitive = "click_train"
	PrimitiveMouseHold  Primitive = "mouse_hold"
	PrimitiveClick      Primitive = "click"
	PrimitivePause      Primitive = "pause"
)

// Button is a mouse button.
type Button string

const (
	ButtonLeft   Button = "left"
	ButtonRight  Button = "right"
	ButtonMiddle Button = "middle"
)

// ScrollDirection is a wheel direction.
type ScrollDirection string

const (
	ScrollUp   ScrollDirection = "up"
	ScrollDown ScrollDirection = "down"
)

// Step is one primitive call with its parameters.
type Step struct {
	Primitive Primitive       `json:"primitive"`
	Key       string          `json:"key,omitempty"`
	Keys      []string        `json:"keys,omitempty"`
	Button    Button          `json:"button,omitempty"`
	Direction ScrollDirection `json:"direction,omitempty"`
	Duration  time.Duration   `json:"duration,omitempty"`
	Interval  time.Duration   `json:"interval,omitempty"`
}

// Blocking returns how long the step holds the calling goroutine.
func (s Step) Blocking() time.Duration {
	switch s.Primitive {
	case PrimitiveHoldKey, PrimitiveHoldCombo, PrimitiveMouseHold, PrimitiveClickTrain, PrimitivePause:
		return s.Duration
	default:
		return 0
	}
}

func (s Step) String() string {
	switch s.Primitive {
	case PrimitiveHoldKey:
		return fmt.Sprintf("holdKey(%s, %s)", s.Key, s.Duration)
	case PrimitiveHoldCombo:
		return fmt.Sprintf("holdCombo(%s, %s)", strings.Join(s.Keys, "+"), s.Duration)
	case PrimitiveScroll:
		return fmt.Sprintf("scroll(%s)", s.Direction)
	case PrimitiveClickTrain:
		return fmt.Sprintf("clickTrain(%s, %s, %s)", s.Button, s.Interval, s.Duration)
	case PrimitiveMouseHold:
		return fmt.Sprintf("mouseHold(%s, %s)", s.Button, s.Duration)
	case PrimitiveClick:
		return fmt.Sprintf("click(%s)", s.Button)
	case PrimitivePause:
		return fmt.Sprintf("pause(%s)", s.Duration)
	default:
		return string(s.Primitive)
	}
}

// TotalBlocking sums Blocking over steps.
func TotalBlocking(steps []Step) time.Duration {
	var total time.Duration
	for _, s := range steps {
		total += s.Blocking()
	}
	return total
}

// Actuator executes primitive input actions. Every call blocks for the
// nominal duration of the action and is not interruptible part way.
type Actuator interface {
	HoldKey(ctx context.Context, key string, d time.Duration) error
	HoldCombo(ctx context.Context, keys []string, d time.Duration) error
	Scroll(ctx context.Context, dir ScrollDirection) error
	ClickTrain(ctx context.Context, button Button, interval, total time.Duration) error
	MouseHold(ctx context.Context, button Button, d time.Duration) error
	Click(ctx context.Context, button Button) error
}

// Sleeper is implemented by actuators that own the pause between steps.
type Sleeper interface {
	Sleep(d time.Duration)
}

// Failure reports a primitive that could not be performed.
type Failure struct {
	Step Step
	Err  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("actuator %s failed: %v", f.Step, f.Err)
}

// Unwrap exposes both the sentinel and the cause to errors.Is/As.
func (f *Failure) Unwrap() []error {
	return []error{ErrActuatorFailure, f.Err}
}

// Run performs steps in order and stops at the first failure. Errors and
// panics raised by the actuator are returned as *Failure.
func Run(ctx context.Context, a Actuator, steps []Step) error {
	for _, step := range steps {
		if err := perform(ctx, a, step); err != nil {
			return &Failure{Step: step, Err: err}
		}
	}
	return nil
}

func perform(ctx context.Context, a Actuator, step Step) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	switch step.Primitive {
	case PrimitiveHoldKey:
		return a.HoldKey(ctx, step.Key, step.Duration)
	case PrimitiveHoldCombo:
		return a.HoldCombo(ctx, step.Keys, step.Duration)
	case PrimitiveScroll:
		return a.Scroll(ctx, step.Direction)
	case PrimitiveClickTrain:
		return a.ClickTrain(ctx, step.Button, step.Interval, step.Duration)
	case PrimitiveMouseHold:
		return a.MouseHold(ctx, step.Button, step.Duration)
	case PrimitiveClick:
		return a.Click(ctx, step.Button)
	case PrimitivePause:
		if s, ok := a.(Sleeper); ok {
			s.Sleep(step.Duration)
		} else {
			time.Sleep(step.Duration)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPrimitive, step.Primitive)
	}
}
