package danmud

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client calls a running daemon.
type Client struct {
	conn *grpc.ClientConn
}

// InjectResult is the decoded Inject response.
type InjectResult struct {
	Mode    string
	Pending int
}

// Dial connects to the daemon at addr (host:port).
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Inject sends one comment.
func (c *Client) Inject(ctx context.Context, text string) (InjectResult, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, MethodInject, wrapperspb.String(text), out); err != nil {
		return InjectResult{}, err
	}
	f := out.GetFields()
	return InjectResult{
		Mode:    f["mode"].GetStringValue(),
		Pending: int(f["pending"].GetNumberValue()),
	}, nil
}

// Status fetches the daemon status.
func (c *Client) Status(ctx context.Context) (StatusReport, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, MethodStatus, &emptypb.Empty{}, out); err != nil {
		return StatusReport{}, err
	}
	return ParseStatusReport(out)
}

// Ping returns the daemon's clock.
func (c *Client) Ping(ctx context.Context) (time.Time, error) {
	out := new(timestamppb.Timestamp)
	if err := c.conn.Invoke(ctx, MethodPing, &emptypb.Empty{}, out); err != nil {
		return time.Time{}, err
	}
	return out.AsTime(), nil
}
