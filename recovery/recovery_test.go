package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colliery-io/cloacina-go/internal/storetest"
	"github.com/colliery-io/cloacina-go/scheduler"
	"github.com/colliery-io/cloacina-go/store"
	"github.com/colliery-io/cloacina-go/workflow"
)

func noWorkers(ctx context.Context) ([]string, error) { return nil, nil }

func TestTickResetsOrphanWithRemainingAttempts(t *testing.T) {
	driver := storetest.New()
	st := store.New(driver)
	sched := scheduler.New(st, workflow.NewSet())

	pipelineID := uuid.NewString()
	driver.Pipelines[pipelineID] = &store.PipelineExecution{ID: pipelineID, Status: store.PipelineStatusRunning}

	claimedAt := time.Now().UTC().Add(-time.Hour)
	worker := "dead-worker"
	driver.Tasks["t1"] = &store.TaskExecution{
		ID: "t1", PipelineExecutionID: pipelineID, Status: store.TaskStatusRunning,
		Attempt: 0, MaxAttempts: 3, ClaimedAt: &claimedAt, ClaimedBy: &worker,
	}

	svc := New(st, sched, noWorkers, Policy{HeartbeatTimeout: time.Minute, OutboxReapCutoff: time.Hour})
	require.NoError(t, svc.Tick(context.Background()))

	assert.Equal(t, store.TaskStatusReady, driver.Tasks["t1"].Status)
	assert.Nil(t, driver.Tasks["t1"].ClaimedBy)
	assert.Equal(t, 0, driver.Tasks["t1"].Attempt)
}

func TestTickAbandonsOrphanAtMaxAttempts(t *testing.T) {
	driver := storetest.New()
	st := store.New(driver)
	sched := scheduler.New(st, workflow.NewSet())

	pipelineID := uuid.NewString()
	driver.Pipelines[pipelineID] = &store.PipelineExecution{ID: pipelineID, Status: store.PipelineStatusRunning}

	claimedAt := time.Now().UTC().Add(-time.Hour)
	worker := "dead-worker"
	driver.Tasks["t1"] = &store.TaskExecution{
		ID: "t1", PipelineExecutionID: pipelineID, Status: store.TaskStatusRunning,
		Attempt: 3, MaxAttempts: 3, ClaimedAt: &claimedAt, ClaimedBy: &worker,
	}

	svc := New(st, sched, noWorkers, Policy{HeartbeatTimeout: time.Minute, OutboxReapCutoff: time.Hour})
	require.NoError(t, svc.Tick(context.Background()))

	assert.Equal(t, store.TaskStatusAbandoned, driver.Tasks["t1"].Status)
}

func TestTickLeavesLiveWorkerClaimAlone(t *testing.T) {
	driver := storetest.New()
	st := store.New(driver)
	sched := scheduler.New(st, workflow.NewSet())

	pipelineID := uuid.NewString()
	driver.Pipelines[pipelineID] = &store.PipelineExecution{ID: pipelineID, Status: store.PipelineStatusRunning}

	claimedAt := time.Now().UTC().Add(-time.Hour)
	worker := "alive-worker"
	driver.Tasks["t1"] = &store.TaskExecution{
		ID: "t1", PipelineExecutionID: pipelineID, Status: store.TaskStatusRunning,
		Attempt: 0, MaxAttempts: 3, ClaimedAt: &claimedAt, ClaimedBy: &worker,
	}

	live := func(ctx context.Context) ([]string, error) { return []string{"alive-worker"}, nil }
	svc := New(st, sched, live, Policy{HeartbeatTimeout: time.Minute, OutboxReapCutoff: time.Hour})
	require.NoError(t, svc.Tick(context.Background()))

	assert.Equal(t, store.TaskStatusRunning, driver.Tasks["t1"].Status)
}
