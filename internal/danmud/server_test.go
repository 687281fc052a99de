package danmud

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/opencode-ai/danmu/internal/actions"
	"github.com/opencode-ai/danmu/internal/actuator"
	"github.com/opencode-ai/danmu/internal/dispatcher"
	"github.com/opencode-ai/danmu/internal/events"
	"github.com/opencode-ai/danmu/internal/executor"
	"github.com/opencode-ai/danmu/internal/models"
	"github.com/opencode-ai/danmu/internal/queue"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type testEnv struct {
	client   *Client
	recorder *actuator.Recorder
	reporter *events.Memory
	daemon   *Daemon
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	rec := &actuator.Recorder{}
	reporter := &events.Memory{}
	inv := executor.NewInvoker(actions.Default(), rec, reporter)
	disp := dispatcher.New(ctx, queue.NewManager(5, "，"), inv, reporter, dispatcher.Config{Interval: 5 * time.Millisecond})

	opts.Version = "test-version"
	daemon, err := New(disp, zerolog.Nop(), opts, WithReporter(reporter))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	listener := bufconn.Listen(1 << 20)
	done := make(chan error, 1)
	go func() { done <- daemon.Serve(ctx, listener) }()

	client, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.DialContext(ctx)
	}))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	t.Cleanup(func() {
		client.Close()
		cancel()
		<-done
		_ = disp.Close(time.Second)
	})
	return &testEnv{client: client, recorder: rec, reporter: reporter, daemon: daemon}
}

func TestServerPing(t *testing.T) {
	server := NewServer(dispatcher.New(context.Background(), queue.NewManager(0, ""), nil, nil, dispatcher.Config{}), zerolog.Nop())

	resp, err := server.Ping(context.Background(), &emptypb.Empty{})
	if err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if time.Since(resp.AsTime()) > time.Minute {
		t.Errorf("unexpected timestamp %v", resp.AsTime())
	}
}

func TestServerInjectValidation(t *testing.T) {
	server := NewServer(dispatcher.New(context.Background(), queue.NewManager(0, ""), nil, nil, dispatcher.Config{}), zerolog.Nop())

	_, err := server.Inject(context.Background(), wrapperspb.String("   "))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("Inject() code = %v, want InvalidArgument", status.Code(err))
	}
}

func TestClientInjectSingle(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	res, err := env.client.Inject(ctx, "翻滚")
	if err != nil {
		t.Fatalf("Inject() error = %v", err)
	}
	if res.Mode != string(dispatcher.ModeSingle) {
		t.Fatalf("Mode = %q, want single", res.Mode)
	}
	steps := env.recorder.Steps()
	if len(steps) != 1 || steps[0].String() != "holdKey(space, 200ms)" {
		t.Fatalf("unexpected steps: %v", steps)
	}
	require.Equal(t, 1, env.reporter.Count(models.EventTypeCommandReceived))
}

func TestClientInjectBatchAndStatus(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	res, err := env.client.Inject(ctx, "前进，后退")
	if err != nil {
		t.Fatalf("Inject() error = %v", err)
	}
	if res.Mode != string(dispatcher.ModeBatch) {
		t.Fatalf("Mode = %q, want batch", res.Mode)
	}

	require.Eventually(t, func() bool { return len(env.recorder.Steps()) == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		st, err := env.client.Status(ctx)
		return err == nil && st.ExecutorState == string(executor.StateIdle) && st.LastState == string(executor.StateCompleted)
	}, time.Second, 5*time.Millisecond)

	st, err := env.client.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.Version != "test-version" || st.Capacity != 5 || st.Batches != 1 {
		t.Fatalf("unexpected status: %+v", st)
	}
	if st.StartedAt.IsZero() {
		t.Fatal("StartedAt should be set")
	}
}

func TestClientInjectErrors(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	_, err := env.client.Inject(ctx, "听不懂")
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("unrecognized code = %v, want InvalidArgument", status.Code(err))
	}

	_, err = env.client.Inject(ctx, "1，2，3，4，5，6")
	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("queue full code = %v, want ResourceExhausted", status.Code(err))
	}
}

func TestClientPing(t *testing.T) {
	env := newTestEnv(t, Options{})

	ts, err := env.client.Ping(context.Background())
	if err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if ts.IsZero() {
		t.Fatal("expected server time")
	}
}

func TestInjectRateLimited(t *testing.T) {
	env := newTestEnv(t, Options{RateLimit: &RateLimitConfig{RequestsPerSecond: 0.001, BurstSize: 1}})
	ctx := context.Background()

	if _, err := env.client.Inject(ctx, "上滚"); err != nil {
		t.Fatalf("first Inject() error = %v", err)
	}
	_, err := env.client.Inject(ctx, "下滚")
	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("second Inject() code = %v, want ResourceExhausted", status.Code(err))
	}

	// Status has its own limit.
	if _, err := env.client.Status(ctx); err != nil {
		t.Fatalf("Status() error = %v", err)
	}
}

func TestStatusReportRoundTrip(t *testing.T) {
	started := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	report := StatusReport{
		Version:       "v1",
		StartedAt:     started,
		ExecutorState: "running",
		Pending:       []string{"前进", "后退"},
		Capacity:      5,
		Handled:       7,
	}
	s, err := report.Struct()
	if err != nil {
		t.Fatalf("Struct() error = %v", err)
	}
	got, err := ParseStatusReport(s)
	if err != nil {
		t.Fatalf("ParseStatusReport() error = %v", err)
	}
	require.Equal(t, report.Pending, got.Pending)
	require.Equal(t, started, got.StartedAt)
	require.Equal(t, int64(7), got.Handled)
}
