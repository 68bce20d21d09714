// Package scheduler evaluates trigger rules and advances TaskExecutions
// from not_started to ready, schedules retries, and closes
// PipelineExecutions once every task has reached a terminal state.
package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/colliery-io/cloacina-go/internal/metrics"
	"github.com/colliery-io/cloacina-go/store"
	"github.com/colliery-io/cloacina-go/workflow"
)

// Scheduler resolves a pipeline's workflow definition from a Set,
// evaluates each not-yet-started task's trigger rule against its
// siblings' current outcomes, and marks satisfied tasks ready.
type Scheduler struct {
	store     *store.Store
	workflows *workflow.Set
}

// New returns a Scheduler backed by st, resolving workflow DAG shape from
// workflows.
func New(st *store.Store, workflows *workflow.Set) *Scheduler {
	return &Scheduler{store: st, workflows: workflows}
}

// EvaluateReadiness inspects every not_started TaskExecution belonging to
// pipelineID whose dependencies are all terminal, marks it ready when its
// trigger rule is satisfied and skipped when the rule is false. Returns the
// number of tasks marked ready.
func (s *Scheduler) EvaluateReadiness(ctx context.Context, pipelineID store.UUID, workerID string) (int, error) {
	pe, err := s.store.GetPipelineExecution(ctx, pipelineID)
	if err != nil {
		return 0, errors.Wrap(err, "failed to load pipeline execution")
	}
	wf, ok := s.workflows.Get(pe.WorkflowName, pe.WorkflowVersion)
	if !ok {
		return 0, errors.Errorf("workflow %s@%s not registered", pe.WorkflowName, pe.WorkflowVersion)
	}

	tasks, err := s.store.ListTaskExecutions(ctx, &store.FindTaskExecution{PipelineExecutionID: &pipelineID})
	if err != nil {
		return 0, errors.Wrap(err, "failed to list task executions")
	}

	rc, err := buildRuleContext(ctx, s.store, pe, tasks)
	if err != nil {
		return 0, err
	}

	byName := make(map[string]*store.TaskExecution, len(tasks))
	for _, te := range tasks {
		byName[te.TaskName] = te
	}

	marked := 0
	for _, te := range tasks {
		if te.Status != store.TaskStatusNotStarted {
			continue
		}
		if te.NextRetryAt != nil {
			// Awaiting a scheduled retry; PromoteDueRetries owns this
			// transition once NextRetryAt elapses.
			continue
		}

		node, ok := wf.Task(te.TaskName)
		if !ok {
			continue
		}
		if !dependenciesTerminal(node, byName) {
			continue
		}

		rule, err := workflow.ParseRule(te.TriggerRules)
		if err != nil {
			return marked, errors.Wrapf(err, "failed to parse trigger rule for task %s", te.TaskName)
		}
		satisfied, err := rule.Evaluate(rc)
		if err != nil {
			// Dependencies are terminal but the rule still couldn't resolve
			// (e.g. references a task outside this DAG); try again on the
			// next evaluation.
			continue
		}
		if !satisfied || (te.TriggerRules == "" && shouldSkip(node, byName)) {
			skipped := store.TaskStatusSkipped
			if err := s.store.UpdateTaskExecution(ctx, &store.UpdateTaskExecution{ID: te.ID, Status: &skipped}); err != nil {
				return marked, errors.Wrapf(err, "failed to mark task %s skipped", te.TaskName)
			}
			if err := s.appendEvent(ctx, pe.ID, te.ID, store.EventTaskSkipped, workerID); err != nil {
				return marked, err
			}
			metrics.TasksSkipped.Inc()
			continue
		}

		if err := s.store.MarkTaskReady(ctx, te.ID, workerID); err != nil {
			if errors.Cause(err) == store.ErrConflict {
				// A racing evaluator already marked it ready.
				continue
			}
			return marked, errors.Wrapf(err, "failed to mark task %s ready", te.TaskName)
		}
		metrics.TasksMarkedReady.Inc()
		marked++
	}

	return marked, nil
}

// dependenciesTerminal reports whether every declared dependency of node has
// reached a terminal status. A task's trigger rule is only meaningful once
// every dependency it could reference has a recorded outcome.
func dependenciesTerminal(node *workflow.TaskNode, byName map[string]*store.TaskExecution) bool {
	for _, dep := range node.Dependencies {
		sib, ok := byName[dep]
		if !ok || !sib.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// shouldSkip reports whether one or more of node's upstream dependencies
// did not complete successfully. EvaluateReadiness consults it only for
// tasks with no trigger rule of their own; a task with an explicit rule
// (e.g. one using task_failed()) is governed by that rule alone.
func shouldSkip(node *workflow.TaskNode, byName map[string]*store.TaskExecution) bool {
	for _, dep := range node.Dependencies {
		sib, ok := byName[dep]
		if !ok {
			continue
		}
		if sib.Status == store.TaskStatusFailed || sib.Status == store.TaskStatusAbandoned || sib.Status == store.TaskStatusSkipped {
			return true
		}
	}
	return false
}

func buildRuleContext(ctx context.Context, st *store.Store, pe *store.PipelineExecution, tasks []*store.TaskExecution) (workflow.RuleContext, error) {
	rc := workflow.RuleContext{
		Outcomes: make(map[string]workflow.Outcome, len(tasks)),
		Values:   make(map[string]any),
	}
	for _, te := range tasks {
		switch te.Status {
		case store.TaskStatusCompleted:
			rc.Outcomes[te.TaskName] = workflow.OutcomeSuccess
		case store.TaskStatusFailed, store.TaskStatusAbandoned:
			rc.Outcomes[te.TaskName] = workflow.OutcomeFailed
		case store.TaskStatusSkipped:
			rc.Outcomes[te.TaskName] = workflow.OutcomeSkipped
		}
	}

	rec, err := st.GetContext(ctx, pe.ContextID)
	if err != nil && errors.Cause(err) != store.ErrNotFound {
		return rc, errors.Wrap(err, "failed to load pipeline context for trigger evaluation")
	}
	if rec != nil {
		var values map[string]any
		if err := json.Unmarshal(rec.ValueJSON, &values); err != nil {
			return rc, errors.Wrap(err, "failed to decode pipeline context")
		}
		rc.Values = values
	}

	return rc, nil
}

func (s *Scheduler) appendEvent(ctx context.Context, pipelineID, taskID store.UUID, eventType store.ExecutionEventType, workerID string) error {
	return s.store.AppendExecutionEvent(ctx, &store.ExecutionEvent{
		ID:                  uuid.NewString(),
		PipelineExecutionID: pipelineID,
		TaskExecutionID:     &taskID,
		EventType:           eventType,
		WorkerID:            workerID,
		CreatedAt:           time.Now().UTC(),
	})
}

// ClosePipelines marks every pipeline with no remaining non-terminal task
// as completed or failed, based on whether any of its tasks ended in a
// non-success terminal state.
func (s *Scheduler) ClosePipelines(ctx context.Context) (int, error) {
	closable, err := s.store.ListClosablePipelines(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list closable pipelines")
	}

	closed := 0
	for _, pe := range closable {
		tasks, err := s.store.ListTaskExecutions(ctx, &store.FindTaskExecution{PipelineExecutionID: &pe.ID})
		if err != nil {
			return closed, errors.Wrap(err, "failed to list tasks for pipeline closure")
		}

		status := store.PipelineStatusCompleted
		eventType := store.EventPipelineCompleted
		for _, te := range tasks {
			if te.Status == store.TaskStatusFailed || te.Status == store.TaskStatusAbandoned {
				status = store.PipelineStatusFailed
				eventType = store.EventPipelineFailed
				break
			}
		}

		now := time.Now().UTC()
		if err := s.store.UpdatePipelineExecution(ctx, &store.UpdatePipelineExecution{
			ID:          pe.ID,
			Status:      &status,
			CompletedAt: &now,
		}); err != nil {
			return closed, errors.Wrapf(err, "failed to close pipeline %s", pe.ID)
		}
		if err := s.store.AppendExecutionEvent(ctx, &store.ExecutionEvent{
			ID:                  uuid.NewString(),
			PipelineExecutionID: pe.ID,
			EventType:           eventType,
			CreatedAt:           now,
		}); err != nil {
			return closed, errors.Wrap(err, "failed to append pipeline closure event")
		}
		metrics.PipelinesClosed.WithLabelValues(string(status)).Inc()
		closed++
	}

	slog.Debug("closed pipelines", "count", closed)
	return closed, nil
}
