package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colliery-io/cloacina-go/pipelinectx"
)

func noopCtor(map[string]any) (Task, error) { return noopTask{}, nil }

type noopTask struct{}

func (noopTask) ID() string                   { return "noop" }
func (noopTask) Dependencies() []string       { return nil }
func (noopTask) RetryPolicy() RetryPolicy     { return DefaultRetryPolicy() }
func (noopTask) TriggerRules() string         { return "" }
func (noopTask) CodeFingerprint() string      { return "v1" }
func (noopTask) Execute(_ context.Context, in *pipelinectx.Context) (*pipelinectx.Context, error) {
	return in, nil
}

func buildDiamond(t *testing.T) *Workflow {
	t.Helper()
	b := NewBuilder("diamond", "acme", "core")
	require.NoError(t, b.AddTask("setup", nil, DefaultRetryPolicy(), "", "f0", noopCtor))
	require.NoError(t, b.AddTask("a", []string{"setup"}, DefaultRetryPolicy(), "", "f1", noopCtor))
	require.NoError(t, b.AddTask("b", []string{"setup"}, DefaultRetryPolicy(), "", "f2", noopCtor))
	require.NoError(t, b.AddTask("c", []string{"setup"}, DefaultRetryPolicy(), "", "f3", noopCtor))
	require.NoError(t, b.AddTask("merge", []string{"a", "b", "c"}, DefaultRetryPolicy(), "", "f4", noopCtor))
	wf, err := b.Finalize()
	require.NoError(t, err)
	return wf
}

func TestFinalizeDetectsMissingDependency(t *testing.T) {
	b := NewBuilder("broken", "acme", "core")
	require.NoError(t, b.AddTask("a", []string{"ghost"}, DefaultRetryPolicy(), "", "f1", noopCtor))
	_, err := b.Finalize()
	require.ErrorIs(t, err, ErrTaskNotFound)
}

func TestFinalizeDetectsCycle(t *testing.T) {
	b := NewBuilder("cyclic", "acme", "core")
	require.NoError(t, b.AddTask("a", []string{"b"}, DefaultRetryPolicy(), "", "f1", noopCtor))
	require.NoError(t, b.AddTask("b", []string{"a"}, DefaultRetryPolicy(), "", "f2", noopCtor))
	_, err := b.Finalize()
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.NotEmpty(t, cycleErr.Path)
}

func TestVersionIsContentDerived(t *testing.T) {
	b1 := NewBuilder("etl", "acme", "core")
	require.NoError(t, b1.AddTask("extract", nil, DefaultRetryPolicy(), "", "fp1", noopCtor))
	require.NoError(t, b1.AddTask("load", []string{"extract"}, DefaultRetryPolicy(), "", "fp2", noopCtor))
	wf1, err := b1.Finalize()
	require.NoError(t, err)

	b2 := NewBuilder("etl", "acme", "core")
	require.NoError(t, b2.AddTask("load", []string{"extract"}, DefaultRetryPolicy(), "", "fp2", noopCtor))
	require.NoError(t, b2.AddTask("extract", nil, DefaultRetryPolicy(), "", "fp1", noopCtor))
	wf2, err := b2.Finalize()
	require.NoError(t, err)

	assert.Equal(t, wf1.Version, wf2.Version)
}

func TestTopologicalSortRespectsEdges(t *testing.T) {
	wf := buildDiamond(t)
	order := wf.TopologicalSort()
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	assert.Less(t, pos["setup"], pos["a"])
	assert.Less(t, pos["a"], pos["merge"])
	assert.Less(t, pos["b"], pos["merge"])
	assert.Less(t, pos["c"], pos["merge"])
}

func TestExecutionLevelsAreAntichains(t *testing.T) {
	wf := buildDiamond(t)
	levels := wf.ExecutionLevels()
	require.Len(t, levels, 3)
	assert.Equal(t, []string{"setup"}, levels[0])
	assert.Equal(t, []string{"a", "b", "c"}, levels[1])
	assert.Equal(t, []string{"merge"}, levels[2])

	seen := map[string]bool{}
	for _, l := range levels {
		for _, id := range l {
			seen[id] = true
		}
	}
	for _, id := range wf.TaskIDs() {
		assert.True(t, seen[id], "task %s missing from execution levels", id)
	}
}

func TestRootsAndLeaves(t *testing.T) {
	wf := buildDiamond(t)
	assert.Equal(t, []string{"setup"}, wf.Roots())
	assert.Equal(t, []string{"merge"}, wf.Leaves())
}

func TestCanRunParallel(t *testing.T) {
	wf := buildDiamond(t)
	assert.True(t, wf.CanRunParallel("a", "b"))
	assert.False(t, wf.CanRunParallel("setup", "a"))
	assert.False(t, wf.CanRunParallel("a", "merge"))
}
