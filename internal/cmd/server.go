package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pydpiper-go/pydpiperd/internal/completionlog"
	"github.com/pydpiper-go/pydpiperd/internal/config"
	"github.com/pydpiper-go/pydpiperd/internal/pdlogger"
	"github.com/pydpiper-go/pydpiperd/internal/scheduler"
	"github.com/pydpiper-go/pydpiperd/internal/stagegraph"
	"github.com/pydpiper-go/pydpiperd/internal/transport"
)

func newServerCommand() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "server [flags] --pipeline-name NAME --work-dir DIR",
		Short: "Run the scheduler server (C3 + C4)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd, v)
		},
	}
	bindSharedFlags(cmd, v)
	cmd.Flags().String("addr", "127.0.0.1:9090", "gRPC listen address")
	cmd.Flags().String("http-addr", "", "optional HTTP status mirror listen address")
	cmd.Flags().String("pipeline-name", "", "pipeline name, used for the completion log path")
	cmd.Flags().String("work-dir", ".", "working directory containing pydpiper-backups/")
	return cmd
}

func runServer(cmd *cobra.Command, v *viper.Viper) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	addr, _ := cmd.Flags().GetString("addr")
	httpAddr, _ := cmd.Flags().GetString("http-addr")
	pipelineName, _ := cmd.Flags().GetString("pipeline-name")
	workDir, _ := cmd.Flags().GetString("work-dir")
	if pipelineName == "" {
		return fmt.Errorf("cmd: --pipeline-name is required")
	}

	logger := newLoggerFromConfig(cfg)

	// The graph builder (out of scope per spec.md §1: the domain
	// stage-builder libraries construct the DAG) is expected to have
	// populated a graph before Build; here the server only replays the
	// completion log against it.
	graph := stagegraph.New()

	logPath := completionlog.Path(workDir, pipelineName)
	log, err := completionlog.Open(logPath)
	if err != nil {
		return err
	}
	defer log.Close()

	finished, err := completionlog.Load(logPath)
	if err != nil {
		return err
	}
	replayed := scheduler.ReplayCompletionLog(graph, finished)
	logger.Info("completion log replayed", "finished_count", replayed)

	if err := graph.Build(); err != nil {
		return fmt.Errorf("cmd: build stage graph: %w", err)
	}

	overheadGB, err := selfResidentMemoryGB()
	if err != nil {
		logger.Warn("failed to measure server overhead, assuming 0", "err", err)
	}

	core := scheduler.New(graph, log, scheduler.Config{
		LatencyTolerance: cfg.LatencyTolerance,
		Dispatch:         scheduler.InsertionOrder,
		ServerOverheadGB: overheadGB,
	}, logger)

	server, err := transport.NewServer(core, transport.Config{}, logger)
	if err != nil {
		return err
	}

	if httpAddr != "" {
		go serveHTTPStatusMirror(httpAddr, core, logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.NumExecutors > 0 {
		localMemGB := core.EffectiveLocalExecutorMemoryGB(cfg.MemoryGB)
		if localMemGB < cfg.MemoryGB {
			logger.Info("reducing auto-launched executor memory ceiling by server overhead",
				"declared_gb", cfg.MemoryGB, "overhead_gb", overheadGB, "effective_gb", localMemGB)
		}
		launcher := &localAutoLauncher{
			serverAddr:   addr,
			memoryGB:     localMemGB,
			numExecutors: cfg.NumExecutors,
			maxFailed:    cfg.MaxFailedExecutors,
			logger:       logger,
		}
		go launcher.run(ctx, core, 5*time.Second)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(addr) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining")
		server.Stop()
		return nil
	}
}

func selfResidentMemoryGB() (float64, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	info, err := proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return float64(info.RSS) / (1 << 30), nil
}

// serveHTTPStatusMirror is an additive read-only view over query_status
// for substrates that prefer polling an HTTP endpoint (see SPEC_FULL.md
// §6); it never gates the gRPC contract in any way.
func serveHTTPStatusMirror(addr string, core *scheduler.Core, logger pdlogger.Logger) {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		status := core.QueryStatus()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status)
	})

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	logger.Info("http status mirror listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("http status mirror failed", "err", err)
	}
}
