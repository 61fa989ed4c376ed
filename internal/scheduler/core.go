// Package scheduler implements C3: the scheduler core that owns the stage
// DAG (C1) and the completion log (C2), matches runnable stages to
// executor resource offers, and applies retry/failure policy.
//
// Every exported Core method that touches the graph, the completion log,
// or the executor table (the ones RPC handlers (C4) and the liveness
// sweep call) takes Core's single mutex first. This is the
// system's one serialization point; see spec.md §5 for why a
// multi-threaded acceptor is deliberately not used.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pydpiper-go/pydpiperd/internal/completionlog"
	"github.com/pydpiper-go/pydpiperd/internal/hooks"
	"github.com/pydpiper-go/pydpiperd/internal/pdlogger"
	"github.com/pydpiper-go/pydpiperd/internal/stagegraph"
)

// Action tells an executor what to do in response to request_work.
type Action int

const (
	// ActionNone means try again later; nothing currently fits.
	ActionNone Action = iota
	// ActionStage carries an assigned stage to run.
	ActionStage
	// ActionShutdown tells the executor to drain and exit.
	ActionShutdown
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionStage:
		return "stage"
	case ActionShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Config configures a Core.
type Config struct {
	// LatencyTolerance is how long an executor may go without a
	// heartbeat before it is declared LOST.
	LatencyTolerance time.Duration
	// Dispatch controls the order the runnable frontier is scanned in.
	Dispatch DispatchStrategy
	// ServerOverheadGB is subtracted from any locally-declared executor
	// memory ceiling to account for the scheduler process's own RSS
	// (relevant only when the scheduler co-locates local executors).
	ServerOverheadGB float64
	// IDGenerator produces executor IDs; defaults to uuid.NewString.
	IDGenerator func() string
}

// Status is the result of a query_status call.
type Status struct {
	Total    int
	Finished int
	Failed   int
	Running  int
	Runnable int
	Executors int
	Draining  bool
	Fatal     string
}

// Core is the scheduler's single serialized owner of the stage graph, the
// completion log, and the executor table.
type Core struct {
	mu sync.Mutex

	graph  *stagegraph.Graph
	log    *completionlog.Log
	cfg    Config
	logger pdlogger.Logger

	executors map[string]*executorRecord
	idGen     func() string

	fatalReason string
}

// New constructs a Core over an already-Built graph and an open
// completion log. ReplayCompletionLog must already have been applied to
// the graph before its Build so previously finished stages are recognized
// without re-executing them.
func New(graph *stagegraph.Graph, log *completionlog.Log, cfg Config, logger pdlogger.Logger) *Core {
	idGen := cfg.IDGenerator
	if idGen == nil {
		idGen = uuid.NewString
	}
	if cfg.LatencyTolerance <= 0 {
		cfg.LatencyTolerance = 10 * time.Minute
	}
	return &Core{
		graph:     graph,
		log:       log,
		cfg:       cfg,
		logger:    logger,
		executors: make(map[string]*executorRecord),
		idGen:     idGen,
	}
}

// EffectiveLocalExecutorMemoryGB returns nominalMemGB reduced by
// cfg.ServerOverheadGB, floored at zero. Callers that auto-launch local
// executor subprocesses sharing this process's memory footprint (see
// internal/cmd's localAutoLauncher) must pass this reduced ceiling as
// the local executor's declared memory, not nominalMemGB directly, so
// the scheduler's own resident set never starves the last executor.
// Remotely batch-submitted executors run on separate nodes and are
// unaffected by this process's footprint, so they should declare their
// own nominal memory unmodified.
func (c *Core) EffectiveLocalExecutorMemoryGB(nominalMemGB float64) float64 {
	eff := nominalMemGB - c.cfg.ServerOverheadGB
	if eff < 0 {
		return 0
	}
	return eff
}

// ReplayCompletionLog marks every stage in the graph whose fingerprint
// appears in finished as FINISHED, without writing to the completion log
// (it is already durable there) and without running completion hooks
// (Non-goal: re-executing or re-verifying already-completed stages on
// resume). Call this once, before Build's runnable-frontier seeding
// would otherwise include those stages — in practice by pre-setting
// stage.Status on the un-Built graph and calling graph.Build() afterward.
func ReplayCompletionLog(graph *stagegraph.Graph, finished map[string]struct{}) int {
	count := 0
	for _, s := range graph.Stages() {
		if _, ok := finished[s.Fingerprint()]; ok {
			s.Status = stagegraph.Finished
			count++
		}
	}
	return count
}

// RegisterExecutor admits a new executor and returns its opaque ID.
func (c *Core) RegisterExecutor(totalMemoryGB float64, cores int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.idGen()
	c.executors[id] = newExecutorRecord(id, totalMemoryGB, cores, time.Now())
	c.logger.Info("executor registered", "executor_id", id, "total_memory_gb", totalMemoryGB, "cores", cores)
	return id, nil
}

// RequestWork matches the calling executor's free resources against the
// runnable frontier. See dispatch.go and spec.md §4.3 for the policy.
func (c *Core) RequestWork(ctx context.Context, executorID string, freeMemoryGB float64, freeCores int) (Action, *stagegraph.Stage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	exec, ok := c.executors[executorID]
	if !ok {
		return ActionNone, nil, fmt.Errorf("scheduler: unknown executor %s", executorID)
	}
	if exec.lifecycle == Registered {
		exec.lifecycle = Active
	}

	if c.fatalReason != "" {
		exec.lifecycle = Draining
		return ActionShutdown, nil, nil
	}

	if c.isDrained() {
		exec.lifecycle = Draining
		return ActionShutdown, nil, nil
	}

	candidates := order(c.cfg.Dispatch, c.graph.RunnableIter())
	for _, stage := range candidates {
		memGB, err := stage.ResolveMemory()
		if err != nil {
			// The runnable-time hook itself failed. Move the stage
			// through RUNNING first, exactly as if it had been
			// dispatched and immediately failed, so the same
			// retry/permanent-failure transition (which expects a
			// stage already removed from the runnable frontier)
			// applies uniformly to both failure paths.
			c.logger.Warn("runnable-time hook failed", "stage_id", stage.ID, "err", err)
			if derr := c.graph.MarkDispatched(stage.ID); derr != nil {
				return ActionNone, nil, derr
			}
			if ferr := c.failStageLocked(stage.ID, err.Error()); ferr != nil {
				return ActionNone, nil, ferr
			}
			continue
		}
		if memGB <= freeMemoryGB && stageCores(stage) <= freeCores {
			if err := c.graph.MarkDispatched(stage.ID); err != nil {
				return ActionNone, nil, err
			}
			exec.reserve(stage.ID, memGB)
			c.logger.Info("stage dispatched", "stage_id", stage.ID, "executor_id", executorID, "memory_gb", memGB)
			return ActionStage, stage, nil
		}
	}

	// Nothing fits this executor. If nothing could EVER fit any
	// registered executor, this is fatal; otherwise the executor
	// should just try again later.
	if infeasible, worst := c.checkInfeasible(candidates); infeasible {
		c.fatalReason = fmt.Sprintf("insufficient resources: stage %s requires %.2fGB, no executor advertises that much", worst.ID, worst.Memory.GB)
		c.logger.Error("pipeline failing fatally", "reason", c.fatalReason)
		exec.lifecycle = Draining
		return ActionShutdown, nil, nil
	}

	return ActionNone, nil, nil
}

func stageCores(s *stagegraph.Stage) int {
	if s.Cores <= 0 {
		return 1
	}
	return s.Cores
}

// checkInfeasible reports whether some runnable stage's memory estimate
// exceeds every registered (non-dead) executor's declared total memory.
func (c *Core) checkInfeasible(candidates []*stagegraph.Stage) (bool, *stagegraph.Stage) {
	if len(candidates) == 0 {
		return false, nil
	}
	maxDeclared := 0.0
	for _, e := range c.executors {
		if e.lifecycle == Dead {
			continue
		}
		if e.totalMemGB > maxDeclared {
			maxDeclared = e.totalMemGB
		}
	}
	for _, stage := range candidates {
		if stage.Memory.GB > maxDeclared {
			return true, stage
		}
	}
	return false, nil
}

// isDrained reports whether no work is runnable and no work is running:
// either every stage finished, or failures have permanently blocked
// everything remaining.
func (c *Core) isDrained() bool {
	if c.graph.RunnableLen() > 0 {
		return false
	}
	for _, e := range c.executors {
		if len(e.running) > 0 {
			return false
		}
	}
	return true
}

// Heartbeat records that executorID is alive. Out-of-order heartbeats
// (older than the recorded timestamp) are ignored per the monotonic
// ordering guarantee.
func (c *Core) Heartbeat(executorID string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	exec, ok := c.executors[executorID]
	if !ok {
		return fmt.Errorf("scheduler: unknown executor %s", executorID)
	}
	if at.After(exec.lastHeartbeat) {
		exec.lastHeartbeat = at
	}
	if exec.lifecycle == Registered {
		exec.lifecycle = Active
	}
	return nil
}

// ReportFinished commits a stage's completion. See spec.md §4.3 for the
// exact (a)-(e) ordering this follows.
func (c *Core) ReportFinished(executorID, stageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	exec, ok := c.executors[executorID]
	if !ok {
		return fmt.Errorf("scheduler: unknown executor %s", executorID)
	}
	if _, running := exec.running[stageID]; !running {
		return fmt.Errorf("scheduler: stage %s is not running on executor %s", stageID, executorID)
	}
	stage := c.graph.Stage(stageID)
	if stage == nil {
		return fmt.Errorf("scheduler: unknown stage %s", stageID)
	}

	// (a) Append to the completion log first. If this fails, reject
	// the report outright: the stage's status was never touched, so it
	// simply remains RUNNING and the executor will re-report on its
	// next attempt (at-least-once delivery).
	if err := c.log.Append(stage.Fingerprint()); err != nil {
		return fmt.Errorf("scheduler: completion log append failed, stage stays running: %w", err)
	}

	// (b) Mark FINISHED (but do not yet unblock dependents).
	if err := c.graph.SetFinished(stageID); err != nil {
		return err
	}

	// (c) Run the completion-time hook, if any. A failing hook is
	// treated as a stage failure for retry purposes even though its
	// fingerprint is already durable in the log, so a restart that replays
	// the log treats the stage as finished.
	if stage.CompletionHook != nil {
		if err := c.runCompletionHook(stage); err != nil {
			c.logger.Warn("completion hook failed, treating as stage failure", "stage_id", stageID, "err", err)
			exec.release(stageID, stage.Memory.GB)
			return c.retryOrFailLocked(stageID)
		}
	}

	// (d) Unblock dependents now that the hook (if any) has succeeded.
	c.graph.UnblockDependents(stageID)

	// (e) Release reserved memory.
	exec.release(stageID, stage.Memory.GB)

	c.logger.Info("stage finished", "stage_id", stageID, "executor_id", executorID)
	return nil
}

func (c *Core) runCompletionHook(stage *stagegraph.Stage) error {
	switch stage.CompletionHook.Kind() {
	case hooks.EmitVerificationImage:
		_, err := stage.CompletionHook.EmitVerificationImage()
		return err
	case hooks.RegisterFollowupStage:
		followups, err := stage.CompletionHook.RegisterFollowupStage()
		if err != nil {
			return err
		}
		for _, f := range followups {
			ns := stagegraph.NewStage(f.ID, f.Command)
			ns.Inputs = f.Inputs
			ns.Outputs = f.Outputs
			ns.Memory.GB = f.MemGB
			if err := c.graph.AddStage(ns); err != nil {
				return fmt.Errorf("register follow-up stage: %w", err)
			}
		}
		return nil
	default:
		return nil
	}
}

// ReportFailed applies the retry/failure policy to a stage an executor
// reports as failed.
func (c *Core) ReportFailed(executorID, stageID, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	exec, ok := c.executors[executorID]
	if !ok {
		return fmt.Errorf("scheduler: unknown executor %s", executorID)
	}
	if _, running := exec.running[stageID]; !running {
		return fmt.Errorf("scheduler: stage %s is not running on executor %s", stageID, executorID)
	}
	stage := c.graph.Stage(stageID)
	if stage == nil {
		return fmt.Errorf("scheduler: unknown stage %s", stageID)
	}
	exec.release(stageID, stage.Memory.GB)
	c.logger.Warn("stage reported failed", "stage_id", stageID, "executor_id", executorID, "reason", reason)
	return c.retryOrFailLocked(stageID)
}

// retryOrFailLocked applies the shared retry-cap policy: increment the
// retry counter, restore RUNNABLE if the cap allows another attempt,
// otherwise mark FAILED and propagate dependency-failure. Caller must
// already hold c.mu, and must already have released the stage's reserved
// memory on the relevant executor.
func (c *Core) retryOrFailLocked(stageID string) error {
	stage := c.graph.Stage(stageID)
	if stage == nil {
		return fmt.Errorf("scheduler: unknown stage %s", stageID)
	}
	stage.RetryCount++
	if stage.RetryCount <= stagegraph.MaxRetries {
		return c.graph.MarkRetryable(stageID)
	}
	_, err := c.graph.MarkFailed(stageID, stagegraph.RetriesExhausted)
	return err
}

// failStageLocked is used when a runnable-time hook fails before the
// stage was ever dispatched: there is no executor reservation to release.
func (c *Core) failStageLocked(stageID, reason string) error {
	c.logger.Warn("runnable-time hook failure treated as stage failure", "stage_id", stageID, "reason", reason)
	return c.retryOrFailLocked(stageID)
}

// CheckLiveness declares any executor whose last heartbeat is older than
// LatencyTolerance LOST: its in-flight stages return to RUNNABLE (or FAIL
// permanently, subject to the shared retry cap) with retry counters
// incremented, and its record is destroyed. Callers (the transport
// layer's heartbeat monitor) should invoke this on a regular tick.
func (c *Core) CheckLiveness(now time.Time) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lost []string
	for id, exec := range c.executors {
		if exec.lifecycle == Dead {
			continue
		}
		if now.Sub(exec.lastHeartbeat) <= c.cfg.LatencyTolerance {
			continue
		}
		lost = append(lost, id)
		for stageID := range exec.running {
			c.logger.Warn("stage lost: executor missed heartbeat deadline", "stage_id", stageID, "executor_id", id)
			if err := c.retryOrFailLocked(stageID); err != nil {
				c.logger.Error("failed to requeue lost stage", "stage_id", stageID, "err", err)
			}
		}
		exec.lifecycle = Dead
		delete(c.executors, id)
	}
	return lost
}

// Unregister removes a clean-shutdown executor. It refuses if the
// executor still has stages RUNNING, since those must be reported first.
func (c *Core) Unregister(executorID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	exec, ok := c.executors[executorID]
	if !ok {
		return nil
	}
	if len(exec.running) > 0 {
		return fmt.Errorf("scheduler: executor %s still has %d running stages", executorID, len(exec.running))
	}
	delete(c.executors, executorID)
	return nil
}

// QueryStatus returns a snapshot of the pipeline's progress.
func (c *Core) QueryStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	counts := c.graph.Count()
	activeExecutors := 0
	for _, e := range c.executors {
		if e.lifecycle != Dead {
			activeExecutors++
		}
	}
	return Status{
		Total:     counts.Total,
		Finished:  counts.Finished,
		Failed:    counts.Failed,
		Running:   counts.Running,
		Runnable:  counts.Runnable,
		Executors: activeExecutors,
		Draining:  c.isDrained() || c.fatalReason != "",
		Fatal:     c.fatalReason,
	}
}

// ExitCode returns 0 if the pipeline fully succeeded, non-zero otherwise,
// per spec.md §6's CLI exit-code contract.
func (s Status) ExitCode() int {
	if s.Fatal != "" || s.Failed > 0 || s.Finished != s.Total {
		return 1
	}
	return 0
}
