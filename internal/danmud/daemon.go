package danmud

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
)

// DefaultPort is the default control port.
const DefaultPort = 7456

// Options configure the daemon runtime.
type Options struct {
	Hostname  string
	Port      int
	Version   string
	RateLimit *RateLimitConfig
}

// Daemon serves the control API until its context is cancelled.
type Daemon struct {
	logger zerolog.Logger
	opts   Options

	server      *Server
	grpcServer  *grpc.Server
	rateLimiter *RateLimiter
}

// New constructs a daemon around d.
func New(d Dispatcher, logger zerolog.Logger, opts Options, serverOpts ...ServerOption) (*Daemon, error) {
	if d == nil {
		return nil, errors.New("dispatcher is required")
	}
	if opts.Hostname == "" {
		opts.Hostname = "127.0.0.1"
	}
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}

	limiterOpts := []RateLimiterOption{}
	if opts.RateLimit != nil && opts.RateLimit.RequestsPerSecond > 0 {
		limiterOpts = append(limiterOpts, WithMethodLimits(map[string]RateLimitConfig{
			MethodInject: *opts.RateLimit,
		}))
	}
	rateLimiter := NewRateLimiter(limiterOpts...)

	server := NewServer(d, logger, append([]ServerOption{WithVersion(opts.Version)}, serverOpts...)...)

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(rateLimiter.UnaryServerInterceptor()))
	RegisterControlServer(grpcServer, server)

	return &Daemon{
		logger:      logger,
		opts:        opts,
		server:      server,
		grpcServer:  grpcServer,
		rateLimiter: rateLimiter,
	}, nil
}

// Run listens on the configured address and serves until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	bindAddr := d.bindAddr()
	listener, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", bindAddr, err)
	}
	return d.Serve(ctx, listener)
}

// Serve serves on listener until ctx is cancelled.
func (d *Daemon) Serve(ctx context.Context, listener net.Listener) error {
	d.logger.Info().
		Str("bind", listener.Addr().String()).
		Str("version", d.opts.Version).
		Msg("control server starting")

	errCh := make(chan error, 1)
	go func() {
		if err := d.grpcServer.Serve(listener); err != nil {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		d.logger.Info().Msg("control server shutting down")
		d.grpcServer.GracefulStop()
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("gRPC server error: %w", err)
		}
	}

	d.logger.Info().Msg("control server stopped")
	return nil
}

func (d *Daemon) bindAddr() string {
	return net.JoinHostPort(d.opts.Hostname, strconv.Itoa(d.opts.Port))
}

// Addr returns the configured bind address.
func (d *Daemon) Addr() string {
	return d.bindAddr()
}

// Server returns the underlying service implementation.
func (d *Daemon) Server() *Server {
	return d.server
}

// RateLimiter returns the limiter applied to incoming calls.
func (d *Daemon) RateLimiter() *RateLimiter {
	return d.rateLimiter
}
