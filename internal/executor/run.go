package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/pydpiper-go/pydpiperd/internal/rpc/pydpiperpb"
)

// processTermGrace is how long a canceled stage's process group gets to
// exit after SIGTERM before it is escalated to SIGKILL.
const processTermGrace = 10 * time.Second

// runStage forks stage.Command as a child process in its own process
// group, redirecting stdout/stderr to logPath, and waits for it to exit.
// It returns nil on a clean exit (status 0); any other outcome (non-zero
// exit, signal, spawn failure) is returned as an error describing the
// cause, which the caller reports verbatim as the failure reason.
//
// Putting the child in its own process group lets a single signal to
// -pid reach any further descendants it spawns, so canceling ctx never
// leaks orphans.
func runStage(ctx context.Context, stage *pydpiperpb.StageAssignment, logPath string) error {
	if len(stage.Command) == 0 {
		return fmt.Errorf("stage %s: empty command", stage.StageID)
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("stage %s: create log dir: %w", stage.StageID, err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("stage %s: open log file: %w", stage.StageID, err)
	}
	defer logFile.Close()

	cmd := exec.Command(stage.Command[0], stage.Command[1:]...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("stage %s: start: %w", stage.StageID, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		return fmt.Errorf("stage %s: %w", stage.StageID, err)
	case <-ctx.Done():
		killProcessGroup(cmd.Process.Pid, unix.SIGTERM)
		select {
		case <-done:
		case <-time.After(processTermGrace):
			killProcessGroup(cmd.Process.Pid, unix.SIGKILL)
			<-done
		}
		return fmt.Errorf("stage %s: canceled: %w", stage.StageID, ctx.Err())
	}
}

// killProcessGroup sends sig to the whole process group rooted at pid, or
// does nothing if the group has already exited.
func killProcessGroup(pid int, sig unix.Signal) {
	_ = unix.Kill(-pid, sig)
}
