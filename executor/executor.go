package executor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/colliery-io/cloacina-go/dispatcher"
	"github.com/colliery-io/cloacina-go/internal/metrics"
	"github.com/colliery-io/cloacina-go/pipelinectx"
	"github.com/colliery-io/cloacina-go/scheduler"
	"github.com/colliery-io/cloacina-go/store"
	"github.com/colliery-io/cloacina-go/workflow"
)

// Config tunes one Executor instance.
type Config struct {
	WorkerID    string
	Concurrency int64 // max tasks executing at once
	ClaimBatch  int   // max tasks claimed per WaitForWork wakeup
}

// Executor claims Ready tasks, runs their Task implementation under a
// weighted-semaphore concurrency bound, and reports Completed/Failed
// outcomes back through the Scheduler.
type Executor struct {
	store      *store.Store
	dispatcher dispatcher.Dispatcher
	scheduler  *scheduler.Scheduler
	workflows  *workflow.Set
	cfg        Config
	sem        *semaphore.Weighted

	wg sync.WaitGroup
}

// New builds an Executor. workflows must be populated before Run is called
// for any pipeline whose tasks it will claim.
func New(st *store.Store, d dispatcher.Dispatcher, sched *scheduler.Scheduler, workflows *workflow.Set, cfg Config) *Executor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.ClaimBatch <= 0 {
		cfg.ClaimBatch = int(cfg.Concurrency)
	}
	return &Executor{
		store:      st,
		dispatcher: d,
		scheduler:  sched,
		workflows:  workflows,
		cfg:        cfg,
		sem:        semaphore.NewWeighted(cfg.Concurrency),
	}
}

// Run blocks, claiming and executing tasks until ctx is cancelled. It waits
// for every in-flight task to finish before returning.
func (e *Executor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			e.wg.Wait()
			return ctx.Err()
		default:
		}

		e.dispatcher.WaitForWork(ctx)
		if ctx.Err() != nil {
			e.wg.Wait()
			return ctx.Err()
		}

		claimed, err := e.store.ClaimReadyTasks(ctx, e.cfg.ClaimBatch, e.cfg.WorkerID, time.Now().UTC())
		if err != nil {
			slog.Error("failed to claim ready tasks", "error", err)
			continue
		}
		metrics.TasksClaimed.Add(float64(len(claimed)))

		for _, te := range claimed {
			te := te
			if err := e.sem.Acquire(ctx, 1); err != nil {
				e.wg.Wait()
				return ctx.Err()
			}
			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				defer e.sem.Release(1)
				e.execute(ctx, te)
			}()
		}
	}
}

// Shutdown stops the underlying dispatcher and waits for in-flight tasks.
func (e *Executor) Shutdown() {
	e.dispatcher.Shutdown()
	e.wg.Wait()
}

// execute runs one claimed TaskExecution to completion (or failure) and
// reports the outcome, recovering from task-body panics as ExecutionFailed.
func (e *Executor) execute(ctx context.Context, te *store.TaskExecution) {
	pe, err := e.store.GetPipelineExecution(ctx, te.PipelineExecutionID)
	if err != nil {
		slog.Error("failed to load pipeline for claimed task", "task_execution_id", te.ID, "error", err)
		return
	}
	wf, ok := e.workflows.Get(pe.WorkflowName, pe.WorkflowVersion)
	if !ok {
		e.fail(ctx, te.ID, errors.Errorf("workflow %s@%s not registered", pe.WorkflowName, pe.WorkflowVersion))
		return
	}
	node, ok := wf.Task(te.TaskName)
	if !ok {
		e.fail(ctx, te.ID, errors.Errorf("task %s not found in workflow %s", te.TaskName, wf.Name))
		return
	}

	var cfg map[string]any
	if len(te.TaskConfiguration) > 0 {
		if err := json.Unmarshal(te.TaskConfiguration, &cfg); err != nil {
			e.fail(ctx, te.ID, errors.Wrap(err, "failed to decode task configuration"))
			return
		}
	}

	task, err := node.Constructor(cfg)
	if err != nil {
		e.fail(ctx, te.ID, errors.Wrap(err, "failed to construct task"))
		return
	}

	rec, err := e.store.GetContext(ctx, pe.ContextID)
	if err != nil {
		e.fail(ctx, te.ID, errors.Wrap(err, "failed to load pipeline context"))
		return
	}
	input, err := pipelinectx.FromJSON(rec.ValueJSON)
	if err != nil {
		e.fail(ctx, te.ID, errors.Wrap(err, "failed to decode pipeline context"))
		return
	}

	output, runErr := e.runTaskBody(ctx, task, te, input)
	if runErr != nil {
		e.fail(ctx, te.ID, runErr)
		return
	}

	if err := e.complete(ctx, te, pe, output); err != nil {
		slog.Error("failed to record task completion", "task_execution_id", te.ID, "error", err)
		return
	}
	metrics.TasksCompleted.Inc()
}

// runTaskBody invokes the task's Execute (or ExecuteWithHandle, for
// DeferrableTask implementations), converting a panic into an error rather
// than letting it crash the executor.
func (e *Executor) runTaskBody(ctx context.Context, task workflow.Task, te *store.TaskExecution, input *pipelinectx.Context) (output *pipelinectx.Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("task %s panicked: %v", te.TaskName, r)
		}
	}()

	if dt, ok := task.(workflow.DeferrableTask); ok {
		slot := NewSlotToken(e.sem)
		// The permit backing this token was already acquired by Run's
		// semaphore.Acquire before execute was called; DeferUntil releases
		// and reclaims against the same semaphore so a deferred task frees
		// its slot for others while polling.
		handle := NewTaskHandle(te.ID, slot, e.store)
		return dt.ExecuteWithHandle(ctx, input, handle)
	}
	return task.Execute(ctx, input)
}

func (e *Executor) complete(ctx context.Context, te *store.TaskExecution, pe *store.PipelineExecution, output *pipelinectx.Context) error {
	now := time.Now().UTC()
	completed := store.TaskStatusCompleted
	if err := e.store.UpdateTaskExecution(ctx, &store.UpdateTaskExecution{
		ID:          te.ID,
		Status:      &completed,
		CompletedAt: &now,
	}); err != nil {
		return errors.Wrap(err, "failed to mark task completed")
	}

	if output != nil {
		data, err := output.ToJSON()
		if err != nil {
			return errors.Wrap(err, "failed to encode updated context")
		}
		if err := e.store.SaveContext(ctx, &store.ContextRecord{ID: pe.ContextID, ValueJSON: data}); err != nil {
			return errors.Wrap(err, "failed to save updated context")
		}
	}

	if err := e.store.AppendExecutionEvent(ctx, &store.ExecutionEvent{
		ID:                  uuid.NewString(),
		PipelineExecutionID: pe.ID,
		TaskExecutionID:     &te.ID,
		EventType:           store.EventTaskCompleted,
		WorkerID:            e.cfg.WorkerID,
		CreatedAt:           now,
	}); err != nil {
		return errors.Wrap(err, "failed to append task_completed event")
	}

	if _, err := e.scheduler.EvaluateReadiness(ctx, pe.ID, e.cfg.WorkerID); err != nil {
		return errors.Wrap(err, "failed to evaluate downstream readiness")
	}
	return nil
}

func (e *Executor) fail(ctx context.Context, taskExecutionID store.UUID, taskErr error) {
	slog.Warn("task execution failed", "task_execution_id", taskExecutionID, "error", taskErr)
	metrics.TasksFailed.Inc()
	if err := e.scheduler.HandleFailure(ctx, taskExecutionID, taskErr); err != nil {
		slog.Error("failed to record task failure", "task_execution_id", taskExecutionID, "error", err)
	}
}
