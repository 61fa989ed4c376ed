// Package executor implements C5: the executor agent that registers with
// a scheduler server, polls for work, forks external commands, and
// reports outcomes. It self-drains on an idle timeout or on repeated
// failure to reach the server, per spec.md §4.4/§4.5.
package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/pydpiper-go/pydpiperd/internal/backoff"
	"github.com/pydpiper-go/pydpiperd/internal/pdlogger"
	"github.com/pydpiper-go/pydpiperd/internal/rpc/pydpiperpb"
	"github.com/pydpiper-go/pydpiperd/internal/transport"
)

// Config configures an Agent.
type Config struct {
	ServerAddr string
	TLS        *transport.TLSConfig

	// TotalMemoryGB and Cores are the resources this executor declares
	// at registration. Cores defaults to runtime.NumCPU() when zero.
	TotalMemoryGB float64
	Cores         int

	// Greedy runs a single stage at a time using the full allotted
	// memory regardless of estimate, for batch substrates with strict
	// per-slot accounting.
	Greedy bool

	// HeartbeatInterval is how often the agent pings the server.
	HeartbeatInterval time.Duration
	// IdleTimeout drains the agent if no work has arrived in this long.
	IdleTimeout time.Duration
	// PollInterval is how often the agent calls request_work when idle.
	PollInterval time.Duration
	// RegistrationTimeout bounds how long the agent retries initial
	// registration before giving up (default 3 minutes per spec.md §4.4).
	RegistrationTimeout time.Duration
	// LogDir is where per-stage stdout/stderr files are written.
	LogDir string

	// WalltimeLimit is the batch job's total wall-clock budget. Zero
	// means "auto-detect from PBS_WALLTIME", which itself finds nothing
	// for a locally auto-launched executor (no batch system involved).
	WalltimeLimit time.Duration
	// ExpectedStageRuntime governs proactive draining per spec.md §5:
	// once WalltimeLimit is known and less than this much of it remains,
	// the agent drains rather than risk being killed by the batch system
	// mid-stage. Only takes effect when WalltimeLimit is nonzero.
	ExpectedStageRuntime time.Duration
}

func (c *Config) withDefaults() {
	if c.Cores <= 0 {
		c.Cores = runtime.NumCPU()
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 60 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 10 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.RegistrationTimeout <= 0 {
		c.RegistrationTimeout = 3 * time.Minute
	}
	if c.LogDir == "" {
		c.LogDir = "pydpiper-executor-logs"
	}
	if c.WalltimeLimit <= 0 {
		c.WalltimeLimit = detectWalltimeFromEnv()
	}
	if c.ExpectedStageRuntime <= 0 {
		c.ExpectedStageRuntime = 10 * time.Minute
	}
}

// detectWalltimeFromEnv reads the wall-clock budget PBS exports into a
// job's environment (PBS_WALLTIME, in seconds). This is a lighter-weight
// substitute for original_source's qstat polling: the limit itself is
// fixed for the job's lifetime, so there is nothing to gain from
// re-querying it once read, only "how much of it is left" needs
// recomputing, which is a plain subtraction against the agent's own
// start time.
func detectWalltimeFromEnv() time.Duration {
	raw := os.Getenv("PBS_WALLTIME")
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// Agent is one executor process.
type Agent struct {
	cfg       Config
	logger    pdlogger.Logger
	client    *transport.Client
	startedAt time.Time

	executorID string

	mu         sync.Mutex
	running    map[string]*runningStage
	reservedGB float64
	lastWorkAt time.Time
}

type runningStage struct {
	stage  *pydpiperpb.StageAssignment
	cancel context.CancelFunc
}

// NewAgent constructs an Agent. Call Run to start it.
func NewAgent(cfg Config, logger pdlogger.Logger) *Agent {
	cfg.withDefaults()
	return &Agent{
		cfg:       cfg,
		logger:    logger,
		startedAt: time.Now(),
		running:   make(map[string]*runningStage),
	}
}

// remainingWalltime reports how much batch-system wall-clock time this
// job has left, and whether a limit was detected at all.
func (a *Agent) remainingWalltime() (time.Duration, bool) {
	if a.cfg.WalltimeLimit <= 0 {
		return 0, false
	}
	return a.cfg.WalltimeLimit - time.Since(a.startedAt), true
}

// Run connects, registers, and loops until the server shuts this agent
// down, the idle timeout fires, or ctx is canceled.
func (a *Agent) Run(ctx context.Context) error {
	client, err := transport.Dial(a.cfg.ServerAddr, a.cfg.TLS)
	if err != nil {
		return err
	}
	a.client = client
	defer client.Close()

	waitPolicy := backoff.WithJitter(
		&backoff.ExponentialBackoffPolicy{InitialInterval: 500 * time.Millisecond, BackoffFactor: 2, MaxInterval: 15 * time.Second},
		backoff.FullJitter,
	)
	if err := client.WaitForHealthy(ctx, backoff.NewRetrier(waitPolicy)); err != nil {
		return fmt.Errorf("executor: server never became healthy: %w", err)
	}

	if err := a.register(ctx); err != nil {
		return err
	}
	a.logger.Info("executor registered", "executor_id", a.executorID, "total_memory_gb", a.cfg.TotalMemoryGB, "cores", a.cfg.Cores)

	a.mu.Lock()
	a.lastWorkAt = time.Now()
	a.mu.Unlock()

	var wg sync.WaitGroup
	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.heartbeatLoop(heartbeatCtx)
	}()

	err = a.pollLoop(ctx)
	stopHeartbeat()
	wg.Wait()
	return err
}

func (a *Agent) register(ctx context.Context) error {
	registerPolicy := &backoff.ExponentialBackoffPolicy{
		InitialInterval: time.Second,
		BackoffFactor:   1.5,
		MaxInterval:     10 * time.Second,
	}
	retrier := backoff.NewRetrier(registerPolicy)
	deadline := time.Now().Add(a.cfg.RegistrationTimeout)

	for {
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		reply, err := a.client.Scheduler.RegisterExecutor(callCtx, &pydpiperpb.RegisterExecutorRequest{
			TotalMemoryGB: a.cfg.TotalMemoryGB,
			Cores:         a.cfg.Cores,
		})
		cancel()
		if err == nil {
			a.executorID = reply.ExecutorID
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("executor: giving up registering after %s: %w", a.cfg.RegistrationTimeout, err)
		}
		a.logger.Warn("registration attempt failed, retrying", "err", err)
		if werr := retrier.Next(ctx, err); werr != nil {
			return fmt.Errorf("executor: registration canceled: %w", werr)
		}
	}
}

func (a *Agent) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rss, err := a.residentMemoryGB()
			if err != nil {
				a.logger.Warn("failed to read resident memory", "err", err)
			}
			callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			_, err = a.client.Scheduler.Heartbeat(callCtx, &pydpiperpb.HeartbeatRequest{
				ExecutorID:     a.executorID,
				ResidentMemory: rss,
			})
			cancel()
			if err != nil {
				a.logger.Warn("heartbeat failed", "err", err)
			}
		}
	}
}

// residentMemoryGB reports this process's own RSS via gopsutil, the same
// mechanism the scheduler server uses for its own overhead accounting.
func (a *Agent) residentMemoryGB() (float64, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, fmt.Errorf("executor: open self process: %w", err)
	}
	info, err := proc.MemoryInfo()
	if err != nil {
		return 0, fmt.Errorf("executor: read memory info: %w", err)
	}
	return float64(info.RSS) / (1 << 30), nil
}

func (a *Agent) pollLoop(ctx context.Context) error {
	pollPolicy := backoff.WithJitter(
		&backoff.ExponentialBackoffPolicy{InitialInterval: time.Second, BackoffFactor: 2, MaxInterval: 30 * time.Second, MaxRetries: 10},
		backoff.FullJitter,
	)
	connRetrier := backoff.NewRetrier(pollPolicy)
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.awaitInFlight()
			return ctx.Err()
		case <-ticker.C:
		}

		if a.atCapacity() {
			continue
		}

		freeMemGB, freeCores := a.freeResources()
		callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		reply, err := a.client.Scheduler.RequestWork(callCtx, &pydpiperpb.RequestWorkRequest{
			ExecutorID:   a.executorID,
			FreeMemoryGB: freeMemGB,
			FreeCores:    freeCores,
		})
		cancel()

		if err != nil {
			if transport.IsConnectionError(err) {
				a.logger.Warn("request_work connection error, retrying", "err", err)
				if werr := connRetrier.Next(ctx, err); werr != nil {
					a.awaitInFlight()
					return fmt.Errorf("executor: shutting down after repeated connection failures: %w", werr)
				}
				continue
			}
			a.logger.Error("request_work failed", "err", err)
			continue
		}
		connRetrier.Reset()

		switch reply.Action {
		case pydpiperpb.ActionShutdown:
			a.logger.Info("server requested shutdown, draining")
			a.awaitInFlight()
			return nil
		case pydpiperpb.ActionStage:
			a.mu.Lock()
			a.lastWorkAt = time.Now()
			a.mu.Unlock()
			a.dispatch(ctx, reply.Stage)
		default:
			a.mu.Lock()
			idle := time.Since(a.lastWorkAt)
			nRunning := len(a.running)
			a.mu.Unlock()
			if idle > a.cfg.IdleTimeout && nRunning == 0 {
				a.logger.Info("idle timeout reached, draining", "idle", idle)
				return nil
			}
			if remaining, ok := a.remainingWalltime(); ok && remaining < a.cfg.ExpectedStageRuntime {
				a.logger.Info("approaching batch walltime limit, draining proactively",
					"remaining", remaining, "expected_stage_runtime", a.cfg.ExpectedStageRuntime)
				a.awaitInFlight()
				return nil
			}
		}
	}
}

func (a *Agent) atCapacity() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cfg.Greedy {
		return len(a.running) > 0
	}
	return len(a.running) >= a.cfg.Cores
}

func (a *Agent) freeResources() (float64, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cfg.Greedy {
		if len(a.running) > 0 {
			return 0, 0
		}
		return a.cfg.TotalMemoryGB, a.cfg.Cores
	}
	return a.cfg.TotalMemoryGB - a.reservedGB, a.cfg.Cores - len(a.running)
}

func (a *Agent) dispatch(ctx context.Context, stage *pydpiperpb.StageAssignment) {
	runCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.running[stage.StageID] = &runningStage{stage: stage, cancel: cancel}
	a.reservedGB += stage.MemoryGB
	a.mu.Unlock()

	go func() {
		defer func() {
			a.mu.Lock()
			delete(a.running, stage.StageID)
			a.reservedGB -= stage.MemoryGB
			a.mu.Unlock()
			cancel()
		}()
		a.runAndReport(runCtx, stage)
	}()
}

func (a *Agent) runAndReport(ctx context.Context, stage *pydpiperpb.StageAssignment) {
	logPath := filepath.Join(a.cfg.LogDir, stage.StageID+".log")
	exitErr := runStage(ctx, stage, logPath)

	reportCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if exitErr == nil {
		// A rejected report leaves the stage RUNNING on the server, so it
		// is re-sent a bounded number of times.
		retrier := backoff.NewRetrier(&backoff.ExponentialBackoffPolicy{
			InitialInterval: time.Second, BackoffFactor: 2, MaxInterval: 30 * time.Second, MaxRetries: 5,
		})
		for {
			attemptCtx, attemptCancel := context.WithTimeout(context.Background(), 30*time.Second)
			_, err := a.client.Scheduler.ReportFinished(attemptCtx, &pydpiperpb.ReportFinishedRequest{
				ExecutorID: a.executorID,
				StageID:    stage.StageID,
			})
			attemptCancel()
			if err == nil {
				return
			}
			a.logger.Error("failed to report finished stage", "stage_id", stage.StageID, "err", err)
			if werr := retrier.Next(context.Background(), err); werr != nil {
				return
			}
		}
	}

	a.logger.Warn("stage failed", "stage_id", stage.StageID, "err", exitErr)
	if _, err := a.client.Scheduler.ReportFailed(reportCtx, &pydpiperpb.ReportFailedRequest{
		ExecutorID: a.executorID,
		StageID:    stage.StageID,
		Reason:     exitErr.Error(),
	}); err != nil {
		a.logger.Error("failed to report failed stage", "stage_id", stage.StageID, "err", err)
	}
}

// awaitInFlight blocks until every currently dispatched stage has
// reported, so a graceful drain never orphans a report.
func (a *Agent) awaitInFlight() {
	for {
		a.mu.Lock()
		n := len(a.running)
		a.mu.Unlock()
		if n == 0 {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// KillAll sends SIGTERM to every in-flight stage's process group, used
// when the agent itself receives SIGINT.
func (a *Agent) KillAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, rs := range a.running {
		rs.cancel()
	}
}
