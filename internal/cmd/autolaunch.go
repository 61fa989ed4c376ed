package cmd

import (
	"context"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/pydpiper-go/pydpiperd/internal/pdlogger"
	"github.com/pydpiper-go/pydpiperd/internal/scheduler"
)

// localAutoLauncher starts up to numExecutors local `pydpiperd executor`
// subprocesses pointed at the server's own listen address, mirroring
// original_source's launchExecutorsFromServer for the common
// single-workstation deployment (no SGE/PBS involved). It stops
// launching once maxFailed of its children have exited (cleanly or not)
// or failed to start; it does not consult the scheduler's LOST
// declarations.
//
// Each child is launched with --executor-start-delay=0: the operator's
// own --executor-start-delay exists to stagger batch-submitted jobs
// the scheduler has no control over the dispatch timing of, but a
// local child is already staggered by run's own ticker, so waiting
// again before it dials the server would only slow startup down for
// no benefit.
type localAutoLauncher struct {
	serverAddr   string
	memoryGB     float64
	numExecutors int
	maxFailed    int
	logger       pdlogger.Logger

	launched int
	failed   int
}

func (l *localAutoLauncher) run(ctx context.Context, core *scheduler.Core, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	self, err := os.Executable()
	if err != nil {
		l.logger.Error("auto-launch: cannot resolve own executable path", "err", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		status := core.QueryStatus()
		if status.Fatal != "" || status.Draining {
			return
		}
		if l.failed >= l.maxFailed {
			l.logger.Error("auto-launch: too many lost executors, giving up", "failed", l.failed, "max", l.maxFailed)
			return
		}
		if status.Runnable == 0 || l.launched-l.failed >= l.numExecutors {
			continue
		}

		cmd := exec.CommandContext(ctx, self, "executor",
			"--server", l.serverAddr,
			"--mem", strconv.FormatFloat(l.memoryGB, 'f', -1, 64),
			"--executor-start-delay", "0",
		)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			l.logger.Error("auto-launch: failed to start local executor", "err", err)
			l.failed++
			continue
		}
		l.launched++
		go func() {
			if err := cmd.Wait(); err != nil {
				l.logger.Warn("auto-launched executor exited with error", "err", err)
			}
			l.failed++
		}()
	}
}
