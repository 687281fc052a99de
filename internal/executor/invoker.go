package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opencode-ai/danmu/internal/actions"
	"github.com/opencode-ai/danmu/internal/actuator"
	"github.com/opencode-ai/danmu/internal/events"
	"github.com/opencode-ai/danmu/internal/logging"
	"github.com/rs/zerolog"
)

// Outcome is the result of invoking one command.
type Outcome struct {
	Text     string
	Command  *actions.ParsedCommand
	Err      error
	Started  time.Time
	Duration time.Duration
}

// OK reports whether the command was resolved and performed.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Unrecognized reports whether the text matched no action.
func (o Outcome) Unrecognized() bool {
	return errors.Is(o.Err, actions.ErrUnrecognizedCommand)
}

// Failed reports whether the actuator failed part way.
func (o Outcome) Failed() bool {
	return errors.Is(o.Err, actuator.ErrActuatorFailure)
}

// Invoker resolves and performs one command. It never panics and reports
// every failure through the returned Outcome.
type Invoker interface {
	Invoke(ctx context.Context, text string) Outcome
}

// Estimator is implemented by invokers that know how long a command blocks.
type Estimator interface {
	Estimate(text string) time.Duration
}

// ActionInvoker resolves text against a registry and drives an actuator.
type ActionInvoker struct {
	registry *actions.Registry
	actuator actuator.Actuator
	reporter events.Reporter
	logger   zerolog.Logger
}

// NewInvoker creates an ActionInvoker. A nil reporter discards reports.
func NewInvoker(registry *actions.Registry, act actuator.Actuator, reporter events.Reporter) *ActionInvoker {
	if reporter == nil {
		reporter = events.Nop{}
	}
	return &ActionInvoker{
		registry: registry,
		actuator: act,
		reporter: reporter,
		logger:   logging.Component("invoker"),
	}
}

// Invoke implements Invoker.
func (i *ActionInvoker) Invoke(ctx context.Context, text string) (out Outcome) {
	out = Outcome{Text: text, Started: time.Now()}
	defer func() {
		if r := recover(); r != nil {
			out.Err = &actuator.Failure{Err: fmt.Errorf("panic: %v", r)}
			i.reporter.Report(ctx, events.ActuatorFailed(text, out.Err))
		}
		out.Duration = time.Since(out.Started)
	}()

	cmd, err := i.registry.Resolve(text)
	if err != nil {
		out.Err = err
		i.reporter.Report(ctx, events.CommandUnrecognized(text))
		return out
	}
	out.Command = cmd

	i.logger.Debug().
		Str("text", text).
		Str("action", cmd.Descriptor.Name).
		Dur("duration", cmd.TotalDuration()).
		Msg("invoking command")

	if err := actuator.Run(ctx, i.actuator, cmd.Steps); err != nil {
		out.Err = err
		i.reporter.Report(ctx, events.ActuatorFailed(text, err))
		return out
	}

	i.reporter.Report(ctx, events.CommandExecuted(text, cmd.Descriptor.Name, cmd.TotalDuration()))
	return out
}

// Estimate returns the blocking time of text, or zero when it resolves to
// nothing.
func (i *ActionInvoker) Estimate(text string) time.Duration {
	cmd, err := i.registry.Resolve(text)
	if err != nil {
		return 0
	}
	return cmd.TotalDuration()
}
