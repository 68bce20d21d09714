package trigger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colliery-io/cloacina-go/internal/storetest"
	"github.com/colliery-io/cloacina-go/store"
)

func TestPollFiresAndSubmits(t *testing.T) {
	driver := storetest.New()
	st := store.New(driver)

	var submitted int
	submit := func(ctx context.Context, workflowName string, seed map[string]any) (store.UUID, error) {
		submitted++
		return "pipeline-1", nil
	}

	eval := New(st, submit)
	reg := Registration{
		Name:         "new-file",
		WorkflowName: "ingest",
		PollInterval: time.Millisecond,
		Cooldown:     time.Minute,
		Fn: func(ctx context.Context) Result {
			return Result{Outcome: Fire, Context: map[string]any{"path": "/data/a.csv"}}
		},
	}
	require.NoError(t, eval.Register(context.Background(), reg))

	require.NoError(t, eval.poll(context.Background(), reg))
	assert.Equal(t, 1, submitted)
}

func TestPollSuppressesDuplicateWithinCooldown(t *testing.T) {
	driver := storetest.New()
	st := store.New(driver)

	var submitted int
	submit := func(ctx context.Context, workflowName string, seed map[string]any) (store.UUID, error) {
		submitted++
		return "pipeline-1", nil
	}

	eval := New(st, submit)
	reg := Registration{
		Name:         "new-file",
		WorkflowName: "ingest",
		Cooldown:     time.Hour,
		Fn: func(ctx context.Context) Result {
			return Result{Outcome: Fire, Context: map[string]any{"path": "/data/a.csv"}}
		},
	}
	require.NoError(t, eval.Register(context.Background(), reg))

	require.NoError(t, eval.poll(context.Background(), reg))
	require.NoError(t, eval.poll(context.Background(), reg))
	assert.Equal(t, 1, submitted)
}

func TestPollSkipOutcomeDoesNotSubmit(t *testing.T) {
	driver := storetest.New()
	st := store.New(driver)

	submit := func(ctx context.Context, workflowName string, seed map[string]any) (store.UUID, error) {
		t.Fatal("submit should not be called on Skip")
		return "", nil
	}

	eval := New(st, submit)
	reg := Registration{
		Name:         "quiet",
		WorkflowName: "ingest",
		Fn:           func(ctx context.Context) Result { return Result{Outcome: Skip} },
	}
	require.NoError(t, eval.Register(context.Background(), reg))
	require.NoError(t, eval.poll(context.Background(), reg))
}

func TestDedupHashStableRegardlessOfKeyOrder(t *testing.T) {
	a := dedupHash(map[string]any{"x": 1, "y": 2})
	b := dedupHash(map[string]any{"y": 2, "x": 1})
	assert.Equal(t, a, b)
}
