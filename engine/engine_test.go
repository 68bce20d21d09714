package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colliery-io/cloacina-go/internal/storetest"
	"github.com/colliery-io/cloacina-go/scheduler"
	"github.com/colliery-io/cloacina-go/store"
	"github.com/colliery-io/cloacina-go/workflow"
)

func buildWorkflow(t *testing.T) *workflow.Workflow {
	t.Helper()
	b := workflow.NewBuilder("etl", "acme", "analytics")
	require.NoError(t, b.AddTask("extract", nil, workflow.DefaultRetryPolicy(), "", "fp1", nil))
	require.NoError(t, b.AddTask("transform", []string{"extract"}, workflow.DefaultRetryPolicy(), "", "fp2", nil))
	wf, err := b.Finalize()
	require.NoError(t, err)
	return wf
}

func TestSubmitCreatesPipelineAndMarksRootReady(t *testing.T) {
	driver := storetest.New()
	st := store.New(driver)
	wf := buildWorkflow(t)
	set := workflow.NewSet()
	set.Put(wf)
	sched := scheduler.New(st, set)
	eng := New(st, set, sched)

	pipelineID, err := eng.Submit(context.Background(), "etl", map[string]any{"nums": []int{1, 2, 3}})
	require.NoError(t, err)
	require.NotEmpty(t, pipelineID)

	pe, err := st.GetPipelineExecution(context.Background(), pipelineID)
	require.NoError(t, err)
	assert.Equal(t, store.PipelineStatusRunning, pe.Status)

	tasks, err := st.ListTaskExecutions(context.Background(), &store.FindTaskExecution{PipelineExecutionID: &pipelineID})
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	byName := map[string]*store.TaskExecution{}
	for _, te := range tasks {
		byName[te.TaskName] = te
	}
	assert.Equal(t, store.TaskStatusReady, byName["extract"].Status)
	assert.Equal(t, store.TaskStatusNotStarted, byName["transform"].Status)
}

func TestSubmitUnknownWorkflowFails(t *testing.T) {
	driver := storetest.New()
	st := store.New(driver)
	set := workflow.NewSet()
	sched := scheduler.New(st, set)
	eng := New(st, set, sched)

	_, err := eng.Submit(context.Background(), "missing", nil)
	assert.Error(t, err)
}
