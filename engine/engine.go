// Package engine wires a Workflow definition and a caller-supplied input
// Context into persisted PipelineExecution and TaskExecution rows, then
// hands off to the scheduler to mark root tasks ready.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/colliery-io/cloacina-go/pipelinectx"
	"github.com/colliery-io/cloacina-go/scheduler"
	"github.com/colliery-io/cloacina-go/store"
	"github.com/colliery-io/cloacina-go/workflow"
)

// Engine is the narrow orchestration seam between a registered Workflow set
// and the persisted execution model: it is the thing a CLI command, an
// admin HTTP handler, or the cron/trigger evaluators call to start a run.
type Engine struct {
	store     *store.Store
	workflows *workflow.Set
	scheduler *scheduler.Scheduler
}

// New returns an Engine backed by st, resolving workflow DAG shape from
// workflows and delegating readiness evaluation to sched.
func New(st *store.Store, workflows *workflow.Set, sched *scheduler.Scheduler) *Engine {
	return &Engine{store: st, workflows: workflows, scheduler: sched}
}

// Submit creates a new PipelineExecution for the latest registered version
// of workflowName, seeded with input, plus one TaskExecution per DAG node
// in NotStarted status, then evaluates readiness so root tasks are marked
// Ready and enqueued to the outbox in the same call.
func (e *Engine) Submit(ctx context.Context, workflowName string, input map[string]any) (store.UUID, error) {
	wf, ok := e.workflows.Latest(workflowName)
	if !ok {
		return "", errors.Errorf("workflow %q not registered", workflowName)
	}
	return e.SubmitVersion(ctx, wf.Name, wf.Version, input)
}

// SubmitVersion is like Submit but pins the exact workflow version, for
// callers that must not silently pick up a newer registered version
// mid-flight.
func (e *Engine) SubmitVersion(ctx context.Context, workflowName, version string, input map[string]any) (store.UUID, error) {
	wf, ok := e.workflows.Get(workflowName, version)
	if !ok {
		return "", errors.Errorf("workflow %s@%s not registered", workflowName, version)
	}

	pipelineCtx := pipelinectx.New()
	for k, v := range input {
		pipelineCtx.Set(k, v)
	}
	ctxJSON, err := pipelineCtx.ToJSON()
	if err != nil {
		return "", errors.Wrap(err, "failed to encode input context")
	}

	now := time.Now().UTC()
	contextID := uuid.NewString()
	if err := e.store.SaveContext(ctx, &store.ContextRecord{ID: contextID, ValueJSON: ctxJSON}); err != nil {
		return "", errors.Wrap(err, "failed to persist initial context")
	}

	pipelineID := uuid.NewString()
	pe := &store.PipelineExecution{
		ID:              pipelineID,
		WorkflowName:    wf.Name,
		WorkflowVersion: wf.Version,
		Status:          store.PipelineStatusRunning,
		StartedAt:       now,
		ContextID:       contextID,
	}
	if err := e.store.CreatePipelineExecution(ctx, pe); err != nil {
		return "", errors.Wrap(err, "failed to create pipeline execution")
	}
	if err := e.store.AppendExecutionEvent(ctx, &store.ExecutionEvent{
		ID:                  uuid.NewString(),
		PipelineExecutionID: pipelineID,
		EventType:           store.EventPipelineStarted,
		CreatedAt:           now,
	}); err != nil {
		return "", errors.Wrap(err, "failed to append pipeline_started event")
	}

	for _, taskID := range wf.TaskIDs() {
		node, _ := wf.Task(taskID)
		te := &store.TaskExecution{
			ID:                  uuid.NewString(),
			PipelineExecutionID: pipelineID,
			TaskName:            taskID,
			Status:              store.TaskStatusNotStarted,
			SubStatus:           store.SubStatusNone,
			MaxAttempts:         node.RetryPolicy.MaxAttempts,
			TriggerRules:        node.TriggerRules,
		}
		if err := e.store.CreateTaskExecution(ctx, te); err != nil {
			return "", errors.Wrapf(err, "failed to create task execution for %q", taskID)
		}
	}

	if _, err := e.scheduler.EvaluateReadiness(ctx, pipelineID, "engine"); err != nil {
		return "", errors.Wrap(err, "failed to evaluate initial readiness")
	}

	return pipelineID, nil
}
