package executor_test

import (
	"context"
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/pydpiper-go/pydpiperd/internal/executor"
	"github.com/pydpiper-go/pydpiperd/internal/pdlogger"
	"github.com/pydpiper-go/pydpiperd/internal/rpc/pydpiperpb"
	_ "github.com/pydpiper-go/pydpiperd/internal/rpc/rpccodec" // registers the "json" codec
)

// mockScheduler is a hand-rolled SchedulerServiceServer, letting
// executor.Agent's dial/register/poll/heartbeat loops be exercised
// against a real gRPC connection without standing up a full
// internal/scheduler.Core, mirroring the teacher's own
// startMockServer/mockCoordinatorService pattern in
// internal/coordinator/client_test.go.
type mockScheduler struct {
	pydpiperpb.SchedulerServiceServer

	mu sync.Mutex

	registerCalls  int32
	heartbeatCalls int32

	requestWorkFunc func(*pydpiperpb.RequestWorkRequest) *pydpiperpb.RequestWorkReply

	finished []string
	failed   []string
}

func (m *mockScheduler) RegisterExecutor(_ context.Context, _ *pydpiperpb.RegisterExecutorRequest) (*pydpiperpb.RegisterExecutorReply, error) {
	atomic.AddInt32(&m.registerCalls, 1)
	return &pydpiperpb.RegisterExecutorReply{ExecutorID: "exec-1"}, nil
}

func (m *mockScheduler) RequestWork(_ context.Context, req *pydpiperpb.RequestWorkRequest) (*pydpiperpb.RequestWorkReply, error) {
	if m.requestWorkFunc != nil {
		return m.requestWorkFunc(req), nil
	}
	return &pydpiperpb.RequestWorkReply{Action: pydpiperpb.ActionNone}, nil
}

func (m *mockScheduler) ReportFinished(_ context.Context, req *pydpiperpb.ReportFinishedRequest) (*pydpiperpb.ReportFinishedReply, error) {
	m.mu.Lock()
	m.finished = append(m.finished, req.StageID)
	m.mu.Unlock()
	return &pydpiperpb.ReportFinishedReply{}, nil
}

func (m *mockScheduler) ReportFailed(_ context.Context, req *pydpiperpb.ReportFailedRequest) (*pydpiperpb.ReportFailedReply, error) {
	m.mu.Lock()
	m.failed = append(m.failed, req.StageID)
	m.mu.Unlock()
	return &pydpiperpb.ReportFailedReply{}, nil
}

func (m *mockScheduler) Heartbeat(_ context.Context, _ *pydpiperpb.HeartbeatRequest) (*pydpiperpb.HeartbeatReply, error) {
	atomic.AddInt32(&m.heartbeatCalls, 1)
	return &pydpiperpb.HeartbeatReply{}, nil
}

func (m *mockScheduler) finishedStages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.finished...)
}

// startMockScheduler starts a real gRPC server implementing
// SchedulerServiceServer plus a SERVING health check, on a random local
// port, and returns its address.
func startMockScheduler(t *testing.T, mock *mockScheduler) string {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := grpc.NewServer()
	server.RegisterService(&pydpiperpb.SchedulerServiceServiceDesc, mock)
	healthSrv := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthSrv)
	healthSrv.SetServingStatus(pydpiperpb.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	return lis.Addr().String()
}

func TestAgentRunRegistersThenDrainsOnShutdown(t *testing.T) {
	mock := &mockScheduler{
		requestWorkFunc: func(*pydpiperpb.RequestWorkRequest) *pydpiperpb.RequestWorkReply {
			return &pydpiperpb.RequestWorkReply{Action: pydpiperpb.ActionShutdown}
		},
	}
	addr := startMockScheduler(t, mock)

	agent := executor.NewAgent(executor.Config{
		ServerAddr:        addr,
		TotalMemoryGB:     4,
		Cores:             2,
		PollInterval:      10 * time.Millisecond,
		HeartbeatInterval: time.Hour,
		IdleTimeout:       time.Hour,
		LogDir:            t.TempDir(),
	}, pdlogger.New(pdlogger.WithQuiet()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, agent.Run(ctx))
	assert.Equal(t, int32(1), atomic.LoadInt32(&mock.registerCalls))
}

func TestAgentRunDispatchesStageAndReportsFinished(t *testing.T) {
	var delivered int32
	mock := &mockScheduler{
		requestWorkFunc: func(*pydpiperpb.RequestWorkRequest) *pydpiperpb.RequestWorkReply {
			if atomic.CompareAndSwapInt32(&delivered, 0, 1) {
				return &pydpiperpb.RequestWorkReply{
					Action: pydpiperpb.ActionStage,
					Stage: &pydpiperpb.StageAssignment{
						StageID: "stage-1",
						Command: []string{"/bin/echo", "hello"},
					},
				}
			}
			return &pydpiperpb.RequestWorkReply{Action: pydpiperpb.ActionNone}
		},
	}
	addr := startMockScheduler(t, mock)

	agent := executor.NewAgent(executor.Config{
		ServerAddr:        addr,
		TotalMemoryGB:     4,
		Cores:             2,
		PollInterval:      10 * time.Millisecond,
		HeartbeatInterval: time.Hour,
		IdleTimeout:       time.Hour,
		LogDir:            filepath.Join(t.TempDir(), "logs"),
	}, pdlogger.New(pdlogger.WithQuiet()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- agent.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(mock.finishedStages()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"stage-1"}, mock.finishedStages())

	cancel()
	err := <-runErr
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAgentRunIdleTimeoutDrains(t *testing.T) {
	mock := &mockScheduler{}
	addr := startMockScheduler(t, mock)

	agent := executor.NewAgent(executor.Config{
		ServerAddr:        addr,
		TotalMemoryGB:     4,
		Cores:             2,
		PollInterval:      5 * time.Millisecond,
		HeartbeatInterval: time.Hour,
		IdleTimeout:       50 * time.Millisecond,
		LogDir:            t.TempDir(),
	}, pdlogger.New(pdlogger.WithQuiet()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	require.NoError(t, agent.Run(ctx))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestAgentRunSendsHeartbeatsWhileIdle(t *testing.T) {
	mock := &mockScheduler{}
	addr := startMockScheduler(t, mock)

	agent := executor.NewAgent(executor.Config{
		ServerAddr:        addr,
		TotalMemoryGB:     4,
		Cores:             2,
		PollInterval:      5 * time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
		IdleTimeout:       300 * time.Millisecond,
		LogDir:            t.TempDir(),
	}, pdlogger.New(pdlogger.WithQuiet()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, agent.Run(ctx))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&mock.heartbeatCalls), int32(2))
}

func TestAgentRunDrainsProactivelyBeforeWalltimeExpires(t *testing.T) {
	mock := &mockScheduler{}
	addr := startMockScheduler(t, mock)

	agent := executor.NewAgent(executor.Config{
		ServerAddr:           addr,
		TotalMemoryGB:        4,
		Cores:                2,
		PollInterval:         5 * time.Millisecond,
		HeartbeatInterval:    time.Hour,
		IdleTimeout:          time.Hour,
		WalltimeLimit:        60 * time.Millisecond,
		ExpectedStageRuntime: 50 * time.Millisecond,
		LogDir:               t.TempDir(),
	}, pdlogger.New(pdlogger.WithQuiet()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	require.NoError(t, agent.Run(ctx))
	assert.Less(t, time.Since(start), 2*time.Second)
}
