// Package cmd wires pydpiperd's cobra CLI surface: the server, executor,
// and status subcommands, and the flags shared across them, grounded on
// the teacher's spf13/cobra + spf13/viper stack.
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pydpiper-go/pydpiperd/internal/config"
	"github.com/pydpiper-go/pydpiperd/internal/pdlogger"
)

// newLoggerFromConfig builds the shared structured logger every
// subcommand uses, honoring --debug and --log-format.
func newLoggerFromConfig(cfg *config.Config) pdlogger.Logger {
	opts := []pdlogger.Option{pdlogger.WithFormat(cfg.LogFormat)}
	if cfg.Debug {
		opts = append(opts, pdlogger.WithDebug())
	}
	return pdlogger.New(opts...)
}

// NewRootCommand assembles the pydpiperd CLI.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "pydpiperd",
		Short: "Distributed image-processing pipeline scheduler",
		Long:  "pydpiperd runs the scheduler server, executor agent, and status client for a stage-DAG pipeline.",
	}

	root.AddCommand(newServerCommand())
	root.AddCommand(newExecutorCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newVersionCommand())

	return root
}

// bindSharedFlags registers the flags common to the server and executor
// subcommands (§6's CLI surface) and binds each into v so config.Load
// sees them with flag precedence over file/env. The status and version
// subcommands do not take them.
func bindSharedFlags(cmd *cobra.Command, v *viper.Viper) {
	flags := cmd.Flags()
	flags.Float64("mem", 0, "total memory in GB this process declares")
	flags.String("mem-request-variable", "mem", "batch-system resource variable name for memory requests")
	flags.String("pe", "", "SGE parallel environment name")
	flags.Bool("greedy", false, "run one stage at a time using the full memory allotment")
	flags.Duration("latency-tolerance", 0, "executor heartbeat latency tolerance before declaring it lost")
	flags.Duration("executor-start-delay", 10*time.Minute, "delay executors honor before first contacting the server (startup staggering)")
	flags.Int("num-exec", 0, "number of local executors the server auto-launches")
	flags.Int("max-failed-executors", 0, "stop auto-launch after this many auto-launched executors have exited or failed to start")
	flags.Int("lsq12-max-pairs", 0, "domain stage-builder parameter, passed through unmodified")
	flags.Bool("debug", false, "enable debug logging")
	flags.String("log-format", "text", "log output format: text or json")

	for _, name := range []string{
		"mem", "mem-request-variable", "pe", "greedy", "latency-tolerance",
		"executor-start-delay", "num-exec", "max-failed-executors",
		"lsq12-max-pairs", "debug", "log-format",
	} {
		if err := v.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("cmd: bind flag %s: %v", name, err))
		}
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the pydpiperd version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.Println(Version)
			return nil
		},
	}
}

// Version is set at build time via -ldflags.
var Version = "dev"
