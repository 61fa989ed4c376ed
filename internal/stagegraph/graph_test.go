package stagegraph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pydpiper-go/pydpiperd/internal/stagegraph"
)

func chain(t *testing.T) *stagegraph.Graph {
	t.Helper()
	g := stagegraph.New()
	require.NoError(t, g.AddStage(stagegraph.NewStage("A", []string{"cmd", "a"})))
	require.NoError(t, g.AddStage(stagegraph.NewStage("B", []string{"cmd", "b"})))
	require.NoError(t, g.AddStage(stagegraph.NewStage("C", []string{"cmd", "c"})))
	require.NoError(t, g.AddDependency("A", "B"))
	require.NoError(t, g.AddDependency("B", "C"))
	require.NoError(t, g.Build())
	return g
}

func TestLinearChainRunnableFrontier(t *testing.T) {
	g := chain(t)

	require.Equal(t, 1, g.RunnableLen())
	require.Equal(t, "A", g.RunnableIter()[0].ID)

	require.NoError(t, g.MarkDispatched("A"))
	require.Equal(t, 0, g.RunnableLen())

	unblocked, err := g.MarkFinished("A")
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, unblocked)
	assert.Equal(t, 1, g.RunnableLen())

	require.NoError(t, g.MarkDispatched("B"))
	unblocked, err = g.MarkFinished("B")
	require.NoError(t, err)
	assert.Equal(t, []string{"C"}, unblocked)

	require.NoError(t, g.MarkDispatched("C"))
	_, err = g.MarkFinished("C")
	require.NoError(t, err)

	counts := g.Count()
	assert.Equal(t, 3, counts.Finished)
	assert.Equal(t, 0, counts.Runnable)
}

func TestRetryThenSucceed(t *testing.T) {
	g := chain(t)
	require.NoError(t, g.MarkDispatched("A"))

	require.NoError(t, g.MarkRetryable("A"))
	assert.Equal(t, 1, g.RunnableLen())
	assert.Equal(t, stagegraph.Runnable, g.Stage("A").Status)

	require.NoError(t, g.MarkDispatched("A"))
	unblocked, err := g.MarkFinished("A")
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, unblocked)
}

func TestPermanentFailurePropagatesToDependents(t *testing.T) {
	g := stagegraph.New()
	require.NoError(t, g.AddStage(stagegraph.NewStage("A", []string{"cmd"})))
	require.NoError(t, g.AddStage(stagegraph.NewStage("B", []string{"cmd"})))
	require.NoError(t, g.AddStage(stagegraph.NewStage("C", []string{"cmd"})))
	require.NoError(t, g.AddDependency("A", "B"))
	require.NoError(t, g.AddDependency("A", "C"))
	require.NoError(t, g.Build())

	require.NoError(t, g.MarkDispatched("A"))
	failed, err := g.MarkFailed("A", stagegraph.RetriesExhausted)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"A", "B", "C"}, failed)
	assert.Equal(t, stagegraph.DependencyFailed, g.Stage("B").FailureCause)
	assert.Equal(t, stagegraph.DependencyFailed, g.Stage("C").FailureCause)
	assert.Equal(t, stagegraph.RetriesExhausted, g.Stage("A").FailureCause)
	assert.Equal(t, 0, g.RunnableLen())
}

func TestBuildRejectsCycle(t *testing.T) {
	g := stagegraph.New()
	require.NoError(t, g.AddStage(stagegraph.NewStage("A", []string{"cmd"})))
	require.NoError(t, g.AddStage(stagegraph.NewStage("B", []string{"cmd"})))
	require.NoError(t, g.AddDependency("A", "B"))
	require.NoError(t, g.AddDependency("B", "A"))

	err := g.Build()
	assert.Error(t, err)
}

func TestAddDependencyRejectsSelfLoop(t *testing.T) {
	g := stagegraph.New()
	require.NoError(t, g.AddStage(stagegraph.NewStage("A", []string{"cmd"})))
	err := g.AddDependency("A", "A")
	assert.Error(t, err)
}

func TestSetFinishedDoesNotUnblockUntilCalled(t *testing.T) {
	g := chain(t)
	require.NoError(t, g.MarkDispatched("A"))
	require.NoError(t, g.SetFinished("A"))

	assert.Equal(t, stagegraph.Finished, g.Stage("A").Status)
	assert.Equal(t, 0, g.RunnableLen(), "dependents must stay blocked until UnblockDependents runs")

	unblocked := g.UnblockDependents("A")
	assert.Equal(t, []string{"B"}, unblocked)
	assert.Equal(t, 1, g.RunnableLen())
}

func TestFailedDependentIsSkippedOnUnblock(t *testing.T) {
	g := stagegraph.New()
	require.NoError(t, g.AddStage(stagegraph.NewStage("A", []string{"cmd"})))
	require.NoError(t, g.AddStage(stagegraph.NewStage("B", []string{"cmd"})))
	require.NoError(t, g.AddDependency("A", "B"))
	require.NoError(t, g.Build())

	_, err := g.MarkFailed("B", stagegraph.RetriesExhausted)
	require.NoError(t, err)

	require.NoError(t, g.MarkDispatched("A"))
	unblocked, err := g.MarkFinished("A")
	require.NoError(t, err)
	assert.Empty(t, unblocked)
}
