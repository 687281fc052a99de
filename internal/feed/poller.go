package feed

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/opencode-ai/danmu/internal/events"
	"github.com/opencode-ai/danmu/internal/logging"
	"github.com/opencode-ai/danmu/internal/models"
	"github.com/rs/zerolog"
)

// Handler receives each new comment.
type Handler func(ctx context.Context, c Comment)

// PollerConfig configures a Poller.
type PollerConfig struct {
	RoomID string

	// MinDelay and MaxDelay bound the random wait between polls.
	MinDelay time.Duration
	MaxDelay time.Duration

	// IgnoreFirst drops the first new comment seen after starting, which is
	// history rather than a live command.
	IgnoreFirst bool
}

// PollerStats counts poll outcomes.
type PollerStats struct {
	Polls     int64
	Errors    int64
	Delivered int64
	Ignored   int64
	LastError string
}

// Poller repeatedly fetches the latest comment and hands new ones to a
// handler. Fetch errors are reported and polling continues.
type Poller struct {
	fetcher  Fetcher
	config   PollerConfig
	handler  Handler
	reporter events.Reporter
	logger   zerolog.Logger
	jitter   func() float64

	mu           sync.Mutex
	lastTimeline string
	firstIgnored bool
	stats        PollerStats
}

// NewPoller creates a Poller.
func NewPoller(fetcher Fetcher, cfg PollerConfig, handler Handler, reporter events.Reporter) *Poller {
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	if reporter == nil {
		reporter = events.Nop{}
	}
	return &Poller{
		fetcher:  fetcher,
		config:   cfg,
		handler:  handler,
		reporter: reporter,
		logger:   logging.Component("feed").With().Str("room_id", cfg.RoomID).Logger(),
		jitter:   rand.Float64,
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	if !validRoomID(p.config.RoomID) {
		return ErrInvalidRoomID
	}

	p.reporter.Report(ctx, events.Report{
		Type:       models.EventTypeFeedConnected,
		EntityType: models.EntityTypeFeed,
		EntityID:   p.config.RoomID,
		Message:    "listening to room " + p.config.RoomID,
	})
	defer p.reporter.Report(context.WithoutCancel(ctx), events.Report{
		Type:       models.EventTypeFeedStopped,
		EntityType: models.EntityTypeFeed,
		EntityID:   p.config.RoomID,
		Message:    "stopped listening to room " + p.config.RoomID,
	})

	for {
		p.PollOnce(ctx)

		timer := time.NewTimer(p.nextDelay())
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// PollOnce fetches once and delivers the latest comment if it is new. It
// reports whether a comment was delivered.
func (p *Poller) PollOnce(ctx context.Context) bool {
	comments, err := p.fetcher.Fetch(ctx, p.config.RoomID)

	p.mu.Lock()
	p.stats.Polls++
	if err != nil {
		p.stats.Errors++
		p.stats.LastError = err.Error()
		p.mu.Unlock()
		if ctx.Err() == nil {
			p.reporter.Report(ctx, events.FeedError(p.config.RoomID, err))
		}
		return false
	}
	if len(comments) == 0 {
		p.mu.Unlock()
		return false
	}

	latest := comments[len(comments)-1]
	if latest.Timeline == p.lastTimeline {
		p.mu.Unlock()
		return false
	}
	p.lastTimeline = latest.Timeline

	if p.config.IgnoreFirst && !p.firstIgnored {
		p.firstIgnored = true
		p.stats.Ignored++
		p.mu.Unlock()
		p.reporter.Report(ctx, events.Report{
			Type:       models.EventTypeFeedIgnored,
			EntityType: models.EntityTypeFeed,
			EntityID:   p.config.RoomID,
			Message:    "ignored first comment " + latest.Text,
		})
		return false
	}
	p.stats.Delivered++
	p.mu.Unlock()

	p.logger.Info().Str("nickname", latest.Nickname).Str("text", latest.Text).Msg("comment")
	p.reporter.Report(ctx, events.CommandReceived("feed:"+p.config.RoomID, latest.Text))
	if p.handler != nil {
		p.handler(ctx, latest)
	}
	return true
}

// Stats returns a copy of the poll counters.
func (p *Poller) Stats() PollerStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Poller) nextDelay() time.Duration {
	span := p.config.MaxDelay - p.config.MinDelay
	if span <= 0 {
		return p.config.MinDelay
	}
	return p.config.MinDelay + time.Duration(p.jitter()*float64(span))
}
