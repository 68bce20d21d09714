package cronsched

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colliery-io/cloacina-go/internal/storetest"
	"github.com/colliery-io/cloacina-go/store"
)

func TestTickFiresDueScheduleOnce(t *testing.T) {
	driver := storetest.New()
	st := store.New(driver)

	scheduleID := uuid.NewString()
	driver.CronSchedules[scheduleID] = &store.CronSchedule{
		ID:           scheduleID,
		WorkflowName: "nightly-report",
		Expression:   "* * * * *",
		Timezone:     "UTC",
		NextRunAt:    time.Now().UTC().Add(-2 * time.Minute),
		Enabled:      true,
	}

	var submitted []string
	submit := func(ctx context.Context, workflowName string, seed map[string]any) (store.UUID, error) {
		submitted = append(submitted, workflowName)
		return uuid.NewString(), nil
	}

	eval := New(st, submit, time.Second, FireLatestOnly())
	fired, err := eval.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
	assert.Equal(t, []string{"nightly-report"}, submitted)
	assert.True(t, driver.CronSchedules[scheduleID].NextRunAt.After(time.Now().UTC()))
}

func TestTickCatchUpFiresLatestOnlyByDefault(t *testing.T) {
	driver := storetest.New()
	st := store.New(driver)

	scheduleID := uuid.NewString()
	driver.CronSchedules[scheduleID] = &store.CronSchedule{
		ID:           scheduleID,
		WorkflowName: "every-minute",
		Expression:   "* * * * *",
		Timezone:     "UTC",
		NextRunAt:    time.Now().UTC().Add(-10 * time.Minute),
		Enabled:      true,
	}

	calls := 0
	submit := func(ctx context.Context, workflowName string, seed map[string]any) (store.UUID, error) {
		calls++
		return uuid.NewString(), nil
	}

	eval := New(st, submit, time.Second, FireLatestOnly())
	fired, err := eval.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
	assert.Equal(t, 1, calls)
}

func TestTickSkipsDisabledSchedule(t *testing.T) {
	driver := storetest.New()
	st := store.New(driver)

	driver.CronSchedules[uuid.NewString()] = &store.CronSchedule{
		WorkflowName: "off",
		Expression:   "* * * * *",
		Timezone:     "UTC",
		NextRunAt:    time.Now().UTC().Add(-time.Hour),
		Enabled:      false,
	}

	submit := func(ctx context.Context, workflowName string, seed map[string]any) (store.UUID, error) {
		t.Fatal("submit should not be called for a disabled schedule")
		return "", nil
	}

	eval := New(st, submit, time.Second, FireLatestOnly())
	fired, err := eval.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, fired)
}
