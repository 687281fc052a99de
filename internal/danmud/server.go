package danmud

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/opencode-ai/danmu/internal/actions"
	"github.com/opencode-ai/danmu/internal/actuator"
	"github.com/opencode-ai/danmu/internal/dispatcher"
	"github.com/opencode-ai/danmu/internal/events"
	"github.com/opencode-ai/danmu/internal/queue"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Dispatcher is the part of dispatcher.Dispatcher the server drives.
type Dispatcher interface {
	Classify(raw string) dispatcher.Mode
	Handle(ctx context.Context, raw string) error
	Status() dispatcher.Status
}

// Server implements ControlServer on top of a dispatcher.
type Server struct {
	dispatcher Dispatcher
	reporter   events.Reporter
	logger     zerolog.Logger
	startedAt  time.Time
	hostname   string
	version    string
}

// ServerOption configures the Server.
type ServerOption func(*Server)

// WithVersion sets the reported version.
func WithVersion(version string) ServerOption {
	return func(s *Server) {
		s.version = version
	}
}

// WithReporter sets the reporter used for injected comments.
func WithReporter(r events.Reporter) ServerOption {
	return func(s *Server) {
		s.reporter = r
	}
}

// NewServer creates a control server.
func NewServer(d Dispatcher, logger zerolog.Logger, opts ...ServerOption) *Server {
	hostname, _ := os.Hostname()

	s := &Server{
		dispatcher: d,
		reporter:   events.Nop{},
		logger:     logger,
		startedAt:  time.Now(),
		hostname:   hostname,
		version:    "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Inject routes one comment through the dispatcher.
func (s *Server) Inject(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	text := strings.TrimSpace(req.GetValue())
	if text == "" {
		return nil, status.Error(codes.InvalidArgument, "text is required")
	}

	s.reporter.Report(ctx, events.CommandReceived("rpc", text))
	mode := s.dispatcher.Classify(text)
	if err := s.dispatcher.Handle(ctx, text); err != nil {
		s.logger.Debug().Err(err).Str("text", text).Msg("inject rejected")
		return nil, toStatus(err)
	}

	return structpb.NewStruct(map[string]any{
		"mode":    string(mode),
		"pending": len(s.dispatcher.Status().Pending),
	})
}

// Status returns the dispatcher snapshot.
func (s *Server) Status(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	report := NewStatusReport(s.dispatcher.Status(), s.version, s.hostname, s.startedAt)
	out, err := report.Struct()
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode status: %v", err)
	}
	return out, nil
}

// Ping returns the server time.
func (s *Server) Ping(ctx context.Context, _ *emptypb.Empty) (*timestamppb.Timestamp, error) {
	return timestamppb.Now(), nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, queue.ErrQueueFull):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, actions.ErrUnrecognizedCommand), errors.Is(err, queue.ErrEmptyBatch):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, dispatcher.ErrSupersedeTimeout):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, dispatcher.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, actuator.ErrActuatorFailure):
		return status.Error(codes.Internal, err.Error())
	default:
		return status.Error(codes.Unknown, err.Error())
	}
}
