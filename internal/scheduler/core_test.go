package scheduler_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pydpiper-go/pydpiperd/internal/completionlog"
	"github.com/pydpiper-go/pydpiperd/internal/hooks"
	"github.com/pydpiper-go/pydpiperd/internal/pdlogger"
	"github.com/pydpiper-go/pydpiperd/internal/scheduler"
	"github.com/pydpiper-go/pydpiperd/internal/stagegraph"
)

func memoryHookThatFails(t *testing.T) *hooks.Hook {
	t.Helper()
	h := hooks.NewRecomputeMemory(func() (float64, error) {
		return 0, assert.AnError
	})
	return &h
}

func newTestLog(t *testing.T) *completionlog.Log {
	t.Helper()
	path := filepath.Join(t.TempDir(), "finished-stages")
	log, err := completionlog.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	return log
}

func newCore(t *testing.T, graph *stagegraph.Graph) *scheduler.Core {
	t.Helper()
	return scheduler.New(graph, newTestLog(t), scheduler.Config{
		LatencyTolerance: time.Minute,
		Dispatch:         scheduler.InsertionOrder,
	}, pdlogger.New(pdlogger.WithQuiet()))
}

func linearChain(t *testing.T) *stagegraph.Graph {
	t.Helper()
	g := stagegraph.New()
	a := stagegraph.NewStage("A", []string{"cmd", "a"})
	a.Memory.GB = 1
	b := stagegraph.NewStage("B", []string{"cmd", "b"})
	b.Memory.GB = 1
	require.NoError(t, g.AddStage(a))
	require.NoError(t, g.AddStage(b))
	require.NoError(t, g.AddDependency("A", "B"))
	require.NoError(t, g.Build())
	return g
}

func TestDispatchesRunnableStageThatFits(t *testing.T) {
	g := linearChain(t)
	c := newCore(t, g)
	ctx := context.Background()

	execID, err := c.RegisterExecutor(4, 2)
	require.NoError(t, err)

	action, stage, err := c.RequestWork(ctx, execID, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, scheduler.ActionStage, action)
	require.NotNil(t, stage)
	assert.Equal(t, "A", stage.ID)
}

func TestRequestWorkReturnsNoneWhenNothingFits(t *testing.T) {
	g := linearChain(t)
	g.Stage("A").Memory.GB = 100
	c := newCore(t, g)
	ctx := context.Background()

	execA, err := c.RegisterExecutor(4, 2)
	require.NoError(t, err)
	execB, err := c.RegisterExecutor(200, 2)
	require.NoError(t, err)
	_ = execB

	action, _, err := c.RequestWork(ctx, execA, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, scheduler.ActionNone, action)
}

func TestFatalShutdownWhenNoExecutorCanEverFitStage(t *testing.T) {
	g := linearChain(t)
	g.Stage("A").Memory.GB = 999
	c := newCore(t, g)
	ctx := context.Background()

	execID, err := c.RegisterExecutor(4, 2)
	require.NoError(t, err)

	action, _, err := c.RequestWork(ctx, execID, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, scheduler.ActionShutdown, action)

	status := c.QueryStatus()
	assert.NotEmpty(t, status.Fatal)
	assert.Equal(t, 1, status.ExitCode())
}

func TestReportFinishedUnblocksDependent(t *testing.T) {
	g := linearChain(t)
	c := newCore(t, g)
	ctx := context.Background()

	execID, err := c.RegisterExecutor(4, 2)
	require.NoError(t, err)

	_, stage, err := c.RequestWork(ctx, execID, 4, 2)
	require.NoError(t, err)
	require.Equal(t, "A", stage.ID)

	require.NoError(t, c.ReportFinished(execID, "A"))

	action, next, err := c.RequestWork(ctx, execID, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, scheduler.ActionStage, action)
	assert.Equal(t, "B", next.ID)
}

func TestReportFailedRetriesThenPermanentlyFails(t *testing.T) {
	g := linearChain(t)
	c := newCore(t, g)
	ctx := context.Background()

	execID, err := c.RegisterExecutor(4, 2)
	require.NoError(t, err)

	for i := 0; i <= stagegraph.MaxRetries; i++ {
		action, stage, err := c.RequestWork(ctx, execID, 4, 2)
		require.NoError(t, err)
		require.Equal(t, scheduler.ActionStage, action)
		require.Equal(t, "A", stage.ID)
		require.NoError(t, c.ReportFailed(execID, "A", "boom"))
	}

	assert.Equal(t, stagegraph.Failed, g.Stage("A").Status)
	assert.Equal(t, stagegraph.RetriesExhausted, g.Stage("A").FailureCause)
	assert.Equal(t, stagegraph.Failed, g.Stage("B").Status)
	assert.Equal(t, stagegraph.DependencyFailed, g.Stage("B").FailureCause)

	status := c.QueryStatus()
	assert.Equal(t, 2, status.Failed)
}

func TestCheckLivenessRequeuesLostExecutorStages(t *testing.T) {
	g := linearChain(t)
	c := newCore(t, g)
	ctx := context.Background()

	execID, err := c.RegisterExecutor(4, 2)
	require.NoError(t, err)

	action, stage, err := c.RequestWork(ctx, execID, 4, 2)
	require.NoError(t, err)
	require.Equal(t, scheduler.ActionStage, action)
	require.Equal(t, "A", stage.ID)

	lost := c.CheckLiveness(time.Now().Add(2 * time.Minute))
	assert.Equal(t, []string{execID}, lost)
	assert.Equal(t, stagegraph.Runnable, g.Stage("A").Status)
	assert.Equal(t, 1, g.Stage("A").RetryCount)
}

func TestHeartbeatKeepsExecutorAlive(t *testing.T) {
	g := linearChain(t)
	c := newCore(t, g)

	execID, err := c.RegisterExecutor(4, 2)
	require.NoError(t, err)

	require.NoError(t, c.Heartbeat(execID, time.Now()))
	lost := c.CheckLiveness(time.Now().Add(30 * time.Second))
	assert.Empty(t, lost)
}

func TestReplayCompletionLogSkipsFinishedStages(t *testing.T) {
	g := stagegraph.New()
	a := stagegraph.NewStage("A", []string{"cmd", "a"})
	a.Memory.GB = 1
	b := stagegraph.NewStage("B", []string{"cmd", "b"})
	b.Memory.GB = 1
	require.NoError(t, g.AddStage(a))
	require.NoError(t, g.AddStage(b))
	require.NoError(t, g.AddDependency("A", "B"))

	finished := map[string]struct{}{
		a.Fingerprint(): {},
	}
	n := scheduler.ReplayCompletionLog(g, finished)
	assert.Equal(t, 1, n)
	require.NoError(t, g.Build())

	c := newCore(t, g)
	ctx := context.Background()
	execID, err := c.RegisterExecutor(4, 2)
	require.NoError(t, err)

	action, stage, err := c.RequestWork(ctx, execID, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, scheduler.ActionStage, action)
	assert.Equal(t, "B", stage.ID, "A was replayed as already finished, B should dispatch directly")
}

func TestRunnableTimeHookFailureIsTreatedAsStageFailure(t *testing.T) {
	g := stagegraph.New()
	a := stagegraph.NewStage("A", []string{"cmd", "a"})
	a.Memory.Hook = memoryHookThatFails(t)
	b := stagegraph.NewStage("B", []string{"cmd", "b"})
	b.Memory.GB = 1
	require.NoError(t, g.AddStage(a))
	require.NoError(t, g.AddStage(b))
	require.NoError(t, g.AddDependency("A", "B"))
	require.NoError(t, g.Build())

	c := newCore(t, g)
	ctx := context.Background()
	execID, err := c.RegisterExecutor(4, 2)
	require.NoError(t, err)

	for i := 0; i <= stagegraph.MaxRetries; i++ {
		action, _, err := c.RequestWork(ctx, execID, 4, 2)
		require.NoError(t, err)
		assert.Equal(t, scheduler.ActionNone, action, "the failing stage is consumed internally, never handed out")
	}

	assert.Equal(t, stagegraph.Failed, g.Stage("A").Status)
	assert.Equal(t, stagegraph.Failed, g.Stage("B").Status)
}

func TestQueryStatusReflectsDrainOnFullCompletion(t *testing.T) {
	g := linearChain(t)
	c := newCore(t, g)
	ctx := context.Background()

	execID, err := c.RegisterExecutor(4, 2)
	require.NoError(t, err)

	for _, id := range []string{"A", "B"} {
		action, stage, err := c.RequestWork(ctx, execID, 4, 2)
		require.NoError(t, err)
		require.Equal(t, scheduler.ActionStage, action)
		require.Equal(t, id, stage.ID)
		require.NoError(t, c.ReportFinished(execID, id))
	}

	status := c.QueryStatus()
	assert.Equal(t, 2, status.Finished)
	assert.True(t, status.Draining)
	assert.Equal(t, 0, status.ExitCode())

	action, _, err := c.RequestWork(ctx, execID, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, scheduler.ActionShutdown, action)
}
