package transport

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/pydpiper-go/pydpiperd/internal/rpc/pydpiperpb"
	_ "github.com/pydpiper-go/pydpiperd/internal/rpc/rpccodec" // registers the "json" codec
)

// Client is an executor-side or CLI-side connection to a scheduler
// server: a SchedulerServiceClient plus the health client used to wait
// for the server to come up during startup staggering.
type Client struct {
	conn         *grpc.ClientConn
	Scheduler    pydpiperpb.SchedulerServiceClient
	HealthClient grpc_health_v1.HealthClient
}

// Dial connects to a scheduler server at addr.
func Dial(addr string, tlsCfg *TLSConfig) (*Client, error) {
	opts, err := dialOptions(tlsCfg)
	if err != nil {
		return nil, err
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return &Client{
		conn:         conn,
		Scheduler:    pydpiperpb.NewSchedulerServiceClient(conn),
		HealthClient: grpc_health_v1.NewHealthClient(conn),
	}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// WaitForHealthy polls the health service until the server reports
// SERVING, the retrier gives up, or the context is done, backing off
// between attempts, so a not-yet-listening server is not hammered. The
// executor's start-delay itself is a plain wait before this is called.
func (c *Client) WaitForHealthy(ctx context.Context, retrier interface {
	Next(context.Context, error) error
}) error {
	for {
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		resp, err := c.HealthClient.Check(callCtx, &grpc_health_v1.HealthCheckRequest{Service: pydpiperpb.ServiceName})
		cancel()
		if err == nil && resp.GetStatus() == grpc_health_v1.HealthCheckResponse_SERVING {
			return nil
		}
		if werr := retrier.Next(ctx, err); werr != nil {
			return fmt.Errorf("transport: waiting for scheduler to become healthy: %w", werr)
		}
	}
}

// IsConnectionError reports whether err looks like a transient transport
// problem an executor should retry, versus a permanent RPC rejection.
func IsConnectionError(err error) bool { return isConnectionError(err) }
