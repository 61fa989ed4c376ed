// Package transport implements C4: the gRPC server that exposes
// internal/scheduler.Core to executor agents, a background heartbeat
// liveness sweep, and the dial-side helpers executors use to reach it.
//
// Every RPC handler here does nothing but decode, call one Core method,
// and encode — the single critical section lives in scheduler.Core, not
// here, matching the teacher's coordinator/worker split where the gRPC
// layer is a thin transport shell around a serialized core.
package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pydpiper-go/pydpiperd/internal/pdlogger"
	"github.com/pydpiper-go/pydpiperd/internal/rpc/pydpiperpb"
	_ "github.com/pydpiper-go/pydpiperd/internal/rpc/rpccodec" // registers the "json" codec
	"github.com/pydpiper-go/pydpiperd/internal/scheduler"
)

var _ pydpiperpb.SchedulerServiceServer = (*Server)(nil)

// Server adapts internal/scheduler.Core to pydpiperpb.SchedulerServiceServer
// and owns the gRPC listener plus a background liveness sweep.
type Server struct {
	core   *scheduler.Core
	logger pdlogger.Logger

	livenessInterval time.Duration

	grpcServer  *grpc.Server
	healthSrv   *health.Server
	stopMonitor chan struct{}
}

// Config configures a Server.
type Config struct {
	// LivenessSweepInterval is how often CheckLiveness runs. It must be
	// meaningfully shorter than the executor heartbeat interval's
	// latency tolerance, but the sweep itself only takes the scheduler
	// lock for an O(#executors) scan, never for dispatch.
	LivenessSweepInterval time.Duration
	TLS                   *TLSConfig
}

// NewServer wires core into a gRPC server ready to Serve.
func NewServer(core *scheduler.Core, cfg Config, logger pdlogger.Logger) (*Server, error) {
	interval := cfg.LivenessSweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	var opts []grpc.ServerOption
	if creds, err := serverCredentials(cfg.TLS); err != nil {
		return nil, err
	} else if creds != nil {
		opts = append(opts, creds)
	}

	s := &Server{
		core:             core,
		logger:           logger,
		livenessInterval: interval,
		grpcServer:       grpc.NewServer(opts...),
		healthSrv:        health.NewServer(),
		stopMonitor:      make(chan struct{}),
	}

	s.grpcServer.RegisterService(&pydpiperpb.SchedulerServiceServiceDesc, s)
	grpc_health_v1.RegisterHealthServer(s.grpcServer, s.healthSrv)
	reflection.Register(s.grpcServer)
	s.healthSrv.SetServingStatus(pydpiperpb.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	return s, nil
}

// Serve listens on addr and blocks until the listener or server stops.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	go s.runLivenessMonitor()
	s.logger.Info("gRPC server listening", "addr", addr)
	if err := s.grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("transport: serve: %w", err)
	}
	return nil
}

// Stop drains and stops the gRPC server and the liveness monitor.
func (s *Server) Stop() {
	close(s.stopMonitor)
	s.healthSrv.SetServingStatus(pydpiperpb.ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	s.grpcServer.GracefulStop()
}

func (s *Server) runLivenessMonitor() {
	ticker := time.NewTicker(s.livenessInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopMonitor:
			return
		case now := <-ticker.C:
			if lost := s.core.CheckLiveness(now); len(lost) > 0 {
				s.logger.Warn("executors declared lost", "executor_ids", lost)
			}
		}
	}
}

func (s *Server) RegisterExecutor(_ context.Context, req *pydpiperpb.RegisterExecutorRequest) (*pydpiperpb.RegisterExecutorReply, error) {
	id, err := s.core.RegisterExecutor(req.TotalMemoryGB, req.Cores)
	if err != nil {
		return nil, err
	}
	return &pydpiperpb.RegisterExecutorReply{ExecutorID: id}, nil
}

func (s *Server) RequestWork(ctx context.Context, req *pydpiperpb.RequestWorkRequest) (*pydpiperpb.RequestWorkReply, error) {
	action, stage, err := s.core.RequestWork(ctx, req.ExecutorID, req.FreeMemoryGB, req.FreeCores)
	if err != nil {
		return nil, err
	}
	reply := &pydpiperpb.RequestWorkReply{}
	switch action {
	case scheduler.ActionStage:
		reply.Action = pydpiperpb.ActionStage
		reply.Stage = &pydpiperpb.StageAssignment{
			StageID:  stage.ID,
			Command:  stage.Command,
			Inputs:   stage.Inputs,
			Outputs:  stage.Outputs,
			MemoryGB: stage.Memory.GB,
			Params:   stage.Params,
		}
	case scheduler.ActionShutdown:
		reply.Action = pydpiperpb.ActionShutdown
	default:
		reply.Action = pydpiperpb.ActionNone
	}
	return reply, nil
}

func (s *Server) ReportFinished(_ context.Context, req *pydpiperpb.ReportFinishedRequest) (*pydpiperpb.ReportFinishedReply, error) {
	if err := s.core.ReportFinished(req.ExecutorID, req.StageID); err != nil {
		return nil, err
	}
	return &pydpiperpb.ReportFinishedReply{}, nil
}

func (s *Server) ReportFailed(_ context.Context, req *pydpiperpb.ReportFailedRequest) (*pydpiperpb.ReportFailedReply, error) {
	if err := s.core.ReportFailed(req.ExecutorID, req.StageID, req.Reason); err != nil {
		return nil, err
	}
	return &pydpiperpb.ReportFailedReply{}, nil
}

func (s *Server) Heartbeat(_ context.Context, req *pydpiperpb.HeartbeatRequest) (*pydpiperpb.HeartbeatReply, error) {
	if err := s.core.Heartbeat(req.ExecutorID, time.Now()); err != nil {
		return nil, err
	}
	return &pydpiperpb.HeartbeatReply{}, nil
}

func (s *Server) QueryStatus(_ context.Context, _ *pydpiperpb.QueryStatusRequest) (*pydpiperpb.QueryStatusReply, error) {
	status := s.core.QueryStatus()
	return &pydpiperpb.QueryStatusReply{
		Total:     status.Total,
		Finished:  status.Finished,
		Failed:    status.Failed,
		Running:   status.Running,
		Runnable:  status.Runnable,
		Executors: status.Executors,
		Draining:  status.Draining,
		Fatal:     status.Fatal,
	}, nil
}
