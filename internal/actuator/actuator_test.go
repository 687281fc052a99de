package actuator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRunRecordsStepsInOrder(t *testing.T) {
	rec := &Recorder{}
	steps := []Step{
		{Primitive: PrimitiveHoldKey, Key: "ctrl", Duration: 200 * time.Millisecond},
		{Primitive: PrimitivePause, Duration: 100 * time.Millisecond},
		{Primitive: PrimitiveClick, Button: ButtonLeft},
	}

	if err := Run(context.Background(), rec, steps); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got := rec.Steps()
	if len(got) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(got))
	}
	for i := range steps {
		if got[i].String() != steps[i].String() {
			t.Errorf("step %d = %s, want %s", i, got[i], steps[i])
		}
	}
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	boom := errors.New("device unplugged")
	rec := &Recorder{FailOn: func(s Step) error {
		if s.Primitive == PrimitiveMouseHold {
			return boom
		}
		return nil
	}}

	err := Run(context.Background(), rec, []Step{
		{Primitive: PrimitiveHoldKey, Key: "w", Duration: time.Millisecond},
		{Primitive: PrimitiveMouseHold, Button: ButtonRight, Duration: time.Millisecond},
		{Primitive: PrimitiveClick, Button: ButtonLeft},
	})
	if err == nil {
		t.Fatal("expected failure")
	}

	var failure *Failure
	if !errors.As(err, &failure) {
		t.Fatalf("expected *Failure, got %T", err)
	}
	if failure.Step.Primitive != PrimitiveMouseHold {
		t.Fatalf("unexpected failing step: %s", failure.Step)
	}
	if !errors.Is(err, ErrActuatorFailure) || !errors.Is(err, boom) {
		t.Fatalf("expected failure to wrap sentinel and cause: %v", err)
	}
	if len(rec.Steps()) != 1 {
		t.Fatalf("expected only the first step recorded, got %d", len(rec.Steps()))
	}
}

type panicky struct{ Noop }

func (panicky) HoldKey(context.Context, string, time.Duration) error {
	panic("driver crashed")
}

func TestRunRecoversPanics(t *testing.T) {
	err := Run(context.Background(), panicky{}, []Step{{Primitive: PrimitiveHoldKey, Key: "w"}})
	if !errors.Is(err, ErrActuatorFailure) {
		t.Fatalf("expected actuator failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "driver crashed") {
		t.Fatalf("expected panic value in error, got %v", err)
	}
}

func TestRunUnknownPrimitive(t *testing.T) {
	err := Run(context.Background(), Noop{}, []Step{{Primitive: "teleport"}})
	if !errors.Is(err, ErrUnknownPrimitive) {
		t.Fatalf("expected ErrUnknownPrimitive, got %v", err)
	}
}

func TestTotalBlocking(t *testing.T) {
	steps := []Step{
		{Primitive: PrimitiveMouseHold, Duration: 200 * time.Millisecond},
		{Primitive: PrimitiveScroll, Direction: ScrollUp},
		{Primitive: PrimitiveClick, Button: ButtonLeft},
		{Primitive: PrimitiveClickTrain, Interval: 100 * time.Millisecond, Duration: 4500 * time.Millisecond},
	}
	if got := TotalBlocking(steps); got != 4700*time.Millisecond {
		t.Fatalf("TotalBlocking = %v, want 4.7s", got)
	}
}

func TestStepString(t *testing.T) {
	cases := map[string]Step{
		"holdKey(w, 500ms)":              {Primitive: PrimitiveHoldKey, Key: "w", Duration: 500 * time.Millisecond},
		"holdCombo(shift+w, 1s)":         {Primitive: PrimitiveHoldCombo, Keys: []string{"shift", "w"}, Duration: time.Second},
		"mouseHold(right, 2.5s)":         {Primitive: PrimitiveMouseHold, Button: ButtonRight, Duration: 2500 * time.Millisecond},
		"scroll(down)":                   {Primitive: PrimitiveScroll, Direction: ScrollDown},
		"clickTrain(left, 100ms, 4.5s)":  {Primitive: PrimitiveClickTrain, Button: ButtonLeft, Interval: 100 * time.Millisecond, Duration: 4500 * time.Millisecond},
	}
	for want, step := range cases {
		if got := step.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}
