package actuator

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DryRun logs every primitive and blocks for its nominal duration so that
// pacing behaves as it would against a real device.
type DryRun struct {
	logger zerolog.Logger
	sleep  func(time.Duration)
}

// NewDryRun creates a logging actuator.
func NewDryRun(logger zerolog.Logger) *DryRun {
	return &DryRun{logger: logger, sleep: time.Sleep}
}

func (d *DryRun) HoldKey(ctx context.Context, key string, dur time.Duration) error {
	d.logger.Info().Str("key", key).Dur("duration", dur).Msg("hold key")
	d.sleep(dur)
	return nil
}

func (d *DryRun) HoldCombo(ctx context.Context, keys []string, dur time.Duration) error {
	d.logger.Info().Str("keys", strings.Join(keys, "+")).Dur("duration", dur).Msg("hold combo")
	d.sleep(dur)
	return nil
}

func (d *DryRun) Scroll(ctx context.Context, dir ScrollDirection) error {
	d.logger.Info().Str("direction", string(dir)).Msg("scroll")
	return nil
}

func (d *DryRun) ClickTrain(ctx context.Context, button Button, interval, total time.Duration) error {
	d.logger.Info().
		Str("button", string(button)).
		Dur("interval", interval).
		Dur("total", total).
		Msg("click train")
	d.sleep(total)
	return nil
}

func (d *DryRun) MouseHold(ctx context.Context, button Button, dur time.Duration) error {
	d.logger.Info().Str("button", string(button)).Dur("duration", dur).Msg("mouse hold")
	d.sleep(dur)
	return nil
}

func (d *DryRun) Click(ctx context.Context, button Button) error {
	d.logger.Info().Str("button", string(button)).Msg("click")
	return nil
}

// Sleep implements Sleeper.
func (d *DryRun) Sleep(dur time.Duration) {
	d.sleep(dur)
}

// Noop accepts every primitive and returns immediately.
type Noop struct{}

func (Noop) HoldKey(context.Context, string, time.Duration) error { return nil }
func (Noop) HoldCombo(context.Context, []string, time.Duration) error { return nil }
func (Noop) Scroll(context.Context, ScrollDirection) error { return nil }
func (Noop) ClickTrain(context.Context, Button, time.Duration, time.Duration) error { return nil }
func (Noop) MouseHold(context.Context, Button, time.Duration) error { return nil }
func (Noop) Click(context.Context, Button) error { return nil }
func (Noop) Sleep(time.Duration) {}
