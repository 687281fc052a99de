package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opencode-ai/danmu/internal/actions"
	"github.com/opencode-ai/danmu/internal/actuator"
	"github.com/opencode-ai/danmu/internal/config"
	"github.com/opencode-ai/danmu/internal/danmud"
	"github.com/opencode-ai/danmu/internal/db"
	"github.com/opencode-ai/danmu/internal/dispatcher"
	"github.com/opencode-ai/danmu/internal/events"
	"github.com/opencode-ai/danmu/internal/executor"
	"github.com/opencode-ai/danmu/internal/feed"
	"github.com/opencode-ai/danmu/internal/logging"
	"github.com/opencode-ai/danmu/internal/queue"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	runRoom     string
	runBackend  string
	runNoDaemon bool
	runNoFeed   bool
	runStdin    bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runRoom, "room", "", "live room id to poll (overrides feed.room_id)")
	runCmd.Flags().StringVar(&runBackend, "backend", "", "actuator backend: dryrun, xdotool, noop")
	runCmd.Flags().BoolVar(&runNoDaemon, "no-daemon", false, "do not serve the control API")
	runCmd.Flags().BoolVar(&runNoFeed, "no-feed", false, "do not poll the room feed")
	runCmd.Flags().BoolVar(&runStdin, "stdin", false, "also read comments from stdin, one per line")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll a room and execute its comments",
	Long: `Run the command engine: poll the room's comment feed, serve the local
control API and execute every recognized comment with the configured
actuator backend until interrupted.`,
	Example: `  # Poll room 21452505 and print actions instead of sending input
  danmu run --room 21452505 --backend dryrun

  # Drive X11 input, controlled only through 'danmu send'
  danmu run --no-feed --backend xdotool

  # Type comments by hand
  danmu run --no-feed --no-daemon --stdin`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := *GetConfig()
		if runRoom != "" {
			cfg.Feed.RoomID = runRoom
		}
		if runBackend != "" {
			cfg.Actuator.Backend = runBackend
		}
		if runNoDaemon {
			cfg.Daemon.Enabled = false
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		feedEnabled := !runNoFeed && cfg.Feed.RoomID != ""
		if !feedEnabled && !cfg.Daemon.Enabled && !runStdin {
			return &PreflightError{
				Message:  "no comment source enabled",
				Hint:     "Pass --room, keep the control API enabled, or use --stdin",
				NextStep: "danmu run --room <id>",
			}
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		rt, err := newRuntime(ctx, &cfg)
		if err != nil {
			return err
		}
		defer rt.Close()

		g, gctx := errgroup.WithContext(ctx)
		if feedEnabled {
			poller := rt.poller(&cfg)
			g.Go(func() error { return poller.Run(gctx) })
		}
		if cfg.Daemon.Enabled {
			daemon, err := rt.daemon(&cfg)
			if err != nil {
				return err
			}
			g.Go(func() error { return daemon.Run(gctx) })
		}
		if runStdin {
			g.Go(func() error { return rt.readLines(gctx, os.Stdin) })
		}

		rt.logger.Info().
			Str("room_id", cfg.Feed.RoomID).
			Bool("feed", feedEnabled).
			Bool("daemon", cfg.Daemon.Enabled).
			Str("backend", cfg.Actuator.Backend).
			Msg("engine running")

		err = g.Wait()
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		return err
	},
}

// engineRuntime holds the components shared by run's comment sources.
type engineRuntime struct {
	database   *db.DB
	reporter   events.Reporter
	registry   *actions.Registry
	dispatcher *dispatcher.Dispatcher
	config     config.QueueConfig
	logger     zerolog.Logger
}

func newRuntime(ctx context.Context, cfg *config.Config) (*engineRuntime, error) {
	logger := logging.Component("engine")

	registry, err := actions.Load(cfg.Actions.KeymapFile)
	if err != nil {
		return nil, fmt.Errorf("load keymap: %w", err)
	}

	act, err := newActuator(cfg.Actuator)
	if err != nil {
		return nil, err
	}

	rt := &engineRuntime{registry: registry, config: cfg.Queue, logger: logger}

	var repo events.Repository
	if cfg.Database.Enabled {
		progress := startProgress("Opening event database")
		database, err := db.Open(db.Config{Path: cfg.Database.Path})
		if err != nil {
			progress.Fail(err)
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := database.Migrate(ctx); err != nil {
			progress.Fail(err)
			database.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		progress.Done()
		rt.database = database
		repo = db.NewEventRepository(database)
	}
	rt.reporter = events.NewLogger(logging.Component("events"), repo)

	q := queue.NewManager(cfg.Queue.Capacity, cfg.Queue.Separator)
	inv := executor.NewInvoker(registry, act, rt.reporter)
	rt.dispatcher = dispatcher.New(ctx, q, inv, rt.reporter, dispatcher.Config{
		Interval:    cfg.Queue.Interval,
		StopTimeout: cfg.Queue.StopTimeout,
	})
	return rt, nil
}

func newActuator(cfg config.ActuatorConfig) (actuator.Actuator, error) {
	switch cfg.Backend {
	case config.BackendXdotool:
		return actuator.NewXdotool(cfg.XdotoolPath, nil), nil
	case config.BackendNoop:
		return actuator.Noop{}, nil
	case config.BackendDryRun, "":
		return actuator.NewDryRun(logging.Component("actuator")), nil
	default:
		return nil, fmt.Errorf("unknown actuator backend %q", cfg.Backend)
	}
}

// handle routes one comment. Rejections are already reported by the
// dispatcher, so they are only logged here.
func (rt *engineRuntime) handle(ctx context.Context, text string) {
	if err := rt.dispatcher.Handle(ctx, text); err != nil {
		rt.logger.Debug().Err(err).Str("text", text).Msg("comment not executed")
	}
}

func (rt *engineRuntime) poller(cfg *config.Config) *feed.Poller {
	client := feed.NewClient(feed.ClientConfig{
		Endpoint:  cfg.Feed.Endpoint,
		UserAgent: cfg.Feed.UserAgent,
		Timeout:   cfg.Feed.Timeout,
	})
	return feed.NewPoller(client, feed.PollerConfig{
		RoomID:      cfg.Feed.RoomID,
		MinDelay:    cfg.Feed.MinDelay,
		MaxDelay:    cfg.Feed.MaxDelay,
		IgnoreFirst: cfg.Feed.IgnoreFirst,
	}, func(ctx context.Context, c feed.Comment) {
		rt.handle(ctx, c.Text)
	}, rt.reporter)
}

func (rt *engineRuntime) daemon(cfg *config.Config) (*danmud.Daemon, error) {
	opts := danmud.Options{
		Hostname: cfg.Daemon.Host,
		Port:     cfg.Daemon.Port,
		Version:  Version,
	}
	if cfg.Daemon.RequestsPerSecond > 0 {
		opts.RateLimit = &danmud.RateLimitConfig{
			RequestsPerSecond: cfg.Daemon.RequestsPerSecond,
			BurstSize:         cfg.Daemon.Burst,
		}
	}
	return danmud.New(rt.dispatcher, logging.Component("danmud"), opts, danmud.WithReporter(rt.reporter))
}

// readLines feeds each non-empty line of r to the dispatcher until EOF or
// cancellation. EOF leaves the other sources running.
func (rt *engineRuntime) readLines(ctx context.Context, r io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			rt.reporter.Report(ctx, events.CommandReceived("stdin", line))
			rt.handle(ctx, line)
		}
	}
}

// Close stops the running batch and releases the database.
func (rt *engineRuntime) Close() error {
	stopTimeout := rt.config.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = dispatcher.DefaultStopTimeout
	}
	err := rt.dispatcher.Close(stopTimeout + time.Second)
	if rt.database != nil {
		if cerr := rt.database.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
