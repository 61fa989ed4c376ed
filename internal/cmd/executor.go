package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pydpiper-go/pydpiperd/internal/config"
	"github.com/pydpiper-go/pydpiperd/internal/executor"
)

func newExecutorCommand() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "executor [flags] --server ADDR",
		Short: "Run an executor agent (C5)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExecutor(cmd, v)
		},
	}
	bindSharedFlags(cmd, v)
	cmd.Flags().String("server", "127.0.0.1:9090", "scheduler server address")
	cmd.Flags().Int("cores", 0, "declared core count (default: runtime.NumCPU())")
	cmd.Flags().String("log-dir", "pydpiper-executor-logs", "directory for per-stage log files")
	cmd.Flags().Duration("walltime-limit", 0, "batch job wall-clock budget (default: auto-detect from PBS_WALLTIME)")
	cmd.Flags().Duration("expected-stage-runtime", 0, "drain proactively once less than this much walltime remains (default 10m)")
	return cmd
}

func runExecutor(cmd *cobra.Command, v *viper.Viper) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	server, _ := cmd.Flags().GetString("server")
	cores, _ := cmd.Flags().GetInt("cores")
	logDir, _ := cmd.Flags().GetString("log-dir")
	walltimeLimit, _ := cmd.Flags().GetDuration("walltime-limit")
	expectedStageRuntime, _ := cmd.Flags().GetDuration("expected-stage-runtime")

	logger := newLoggerFromConfig(cfg)

	if cfg.ExecutorStartDelay > 0 {
		logger.Info("honoring executor start-delay before first contact", "delay", cfg.ExecutorStartDelay)
		time.Sleep(cfg.ExecutorStartDelay)
	}

	agent := executor.NewAgent(executor.Config{
		ServerAddr:           server,
		TotalMemoryGB:        cfg.MemoryGB,
		Cores:                cores,
		Greedy:               cfg.Greedy,
		LogDir:               logDir,
		WalltimeLimit:        walltimeLimit,
		ExpectedStageRuntime: expectedStageRuntime,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received, killing in-flight stages")
		agent.KillAll()
	}()

	return agent.Run(ctx)
}
