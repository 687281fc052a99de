package actuator

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CommandRunner runs an external command and returns its combined stderr on failure.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// LocalRunner runs commands on the local machine.
type LocalRunner struct{}

// Run executes name with args.
func (LocalRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, msg)
		}
		return fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return nil
}

// xdotool key names for the keys the action table uses.
var xdotoolKeys = map[string]string{
	"space": "space",
	"ctrl":  "ctrl",
	"shift": "shift",
	"alt":   "alt",
	"enter": "Return",
	"esc":   "Escape",
	"tab":   "Tab",
}

var xdotoolButtons = map[Button]string{
	ButtonLeft:   "1",
	ButtonMiddle: "2",
	ButtonRight:  "3",
}

// Xdotool drives the X11 input queue through the xdotool binary.
type Xdotool struct {
	path   string
	runner CommandRunner
	sleep  func(time.Duration)
	now    func() time.Time
}

// NewXdotool creates an xdotool-backed actuator. A nil runner uses LocalRunner.
func NewXdotool(path string, runner CommandRunner) *Xdotool {
	if strings.TrimSpace(path) == "" {
		path = "xdotool"
	}
	if runner == nil {
		runner = LocalRunner{}
	}
	return &Xdotool{
		path:   path,
		runner: runner,
		sleep:  time.Sleep,
		now:    time.Now,
	}
}

func (x *Xdotool) run(ctx context.Context, args ...string) error {
	return x.runner.Run(ctx, x.path, args...)
}

// release always runs, even after ctx is cancelled, so nothing is left held
// on the device.
func (x *Xdotool) release(ctx context.Context, args ...string) error {
	return x.run(context.WithoutCancel(ctx), args...)
}

func (x *Xdotool) HoldKey(ctx context.Context, key string, d time.Duration) error {
	return x.HoldCombo(ctx, []string{key}, d)
}

// HoldCombo presses keys in order, waits, then releases them in the same order.
func (x *Xdotool) HoldCombo(ctx context.Context, keys []string, d time.Duration) error {
	if len(keys) == 0 {
		return fmt.Errorf("no keys to hold")
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = xdotoolKey(k)
	}

	pressed := 0
	var err error
	for _, name := range names {
		if err = x.run(ctx, "keydown", name); err != nil {
			break
		}
		pressed++
	}
	if err == nil {
		x.sleep(d)
	}

	// Release whatever went down even if a later keydown failed.
	for _, name := range names[:pressed] {
		if upErr := x.release(ctx, "keyup", name); upErr != nil && err == nil {
			err = upErr
		}
	}
	return err
}

func (x *Xdotool) Scroll(ctx context.Context, dir ScrollDirection) error {
	switch dir {
	case ScrollUp:
		return x.run(ctx, "click", "4")
	case ScrollDown:
		return x.run(ctx, "click", "5")
	default:
		return fmt.Errorf("unknown scroll direction %q", dir)
	}
}

func (x *Xdotool) ClickTrain(ctx context.Context, button Button, interval, total time.Duration) error {
	btn, err := xdotoolButton(button)
	if err != nil {
		return err
	}
	start := x.now()
	for x.now().Sub(start) < total {
		if err := x.run(ctx, "click", btn); err != nil {
			return err
		}
		x.sleep(interval)
	}
	return nil
}

func (x *Xdotool) MouseHold(ctx context.Context, button Button, d time.Duration) error {
	btn, err := xdotoolButton(button)
	if err != nil {
		return err
	}
	if err := x.run(ctx, "mousedown", btn); err != nil {
		return err
	}
	x.sleep(d)
	return x.release(ctx, "mouseup", btn)
}

func (x *Xdotool) Click(ctx context.Context, button Button) error {
	btn, err := xdotoolButton(button)
	if err != nil {
		return err
	}
	return x.run(ctx, "click", btn)
}

// Sleep implements Sleeper.
func (x *Xdotool) Sleep(d time.Duration) {
	x.sleep(d)
}

func xdotoolKey(key string) string {
	if name, ok := xdotoolKeys[strings.ToLower(key)]; ok {
		return name
	}
	return key
}

func xdotoolButton(b Button) (string, error) {
	if name, ok := xdotoolButtons[b]; ok {
		return name, nil
	}
	return "", fmt.Errorf("unknown mouse button %q", b)
}
