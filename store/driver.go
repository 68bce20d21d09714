package store

import (
	"context"
	"time"
)

// Driver is the backend contract every relational store implementation
// (postgres, sqlite) must satisfy. The Store façade below delegates every call verbatim.
type Driver interface {
	Close() error
	Migrate(ctx context.Context) error

	// Pipeline executions.
	CreatePipelineExecution(ctx context.Context, pe *PipelineExecution) error
	GetPipelineExecution(ctx context.Context, id UUID) (*PipelineExecution, error)
	ListPipelineExecutions(ctx context.Context, find *FindPipelineExecution) ([]*PipelineExecution, error)
	UpdatePipelineExecution(ctx context.Context, upd *UpdatePipelineExecution) error

	// Task executions.
	CreateTaskExecution(ctx context.Context, te *TaskExecution) error
	GetTaskExecution(ctx context.Context, id UUID) (*TaskExecution, error)
	ListTaskExecutions(ctx context.Context, find *FindTaskExecution) ([]*TaskExecution, error)
	UpdateTaskExecution(ctx context.Context, upd *UpdateTaskExecution) error

	// MarkTaskReady atomically sets status=Ready (from NotStarted), inserts
	// a TaskOutbox row, and appends a task_marked_ready ExecutionEvent, all
	// in one transaction.
	MarkTaskReady(ctx context.Context, taskExecutionID UUID, workerID string) error

	// ClaimReadyTasks selects up to n outbox rows (oldest first, skipping
	// rows locked by other claimants), transitions their TaskExecutions to
	// Running, deletes the outbox rows and emits task_claimed events, all in
	// one transaction. No task may be returned to more than one caller
	// across concurrent invocations.
	ClaimReadyTasks(ctx context.Context, n int, workerID string, now time.Time) ([]*TaskExecution, error)

	// ReapStaleOutbox deletes outbox rows older than cutoff with no
	// corresponding Ready task.
	ReapStaleOutbox(ctx context.Context, cutoff time.Time) (int64, error)

	// Execution events.
	AppendExecutionEvent(ctx context.Context, ev *ExecutionEvent) error
	ListExecutionEvents(ctx context.Context, find *FindExecutionEvent) ([]*ExecutionEvent, error)
	DeleteExecutionEventsOlderThan(ctx context.Context, cutoff time.Time, dryRun bool) (int64, error)

	// Context snapshots.
	SaveContext(ctx context.Context, rec *ContextRecord) error
	GetContext(ctx context.Context, id UUID) (*ContextRecord, error)

	// Cron schedules.
	CreateCronSchedule(ctx context.Context, cs *CronSchedule) error
	ListDueCronSchedules(ctx context.Context, now time.Time) ([]*CronSchedule, error)
	// AdvanceCronSchedule acquires a row lock on the schedule, updates
	// next_run_at/last_run_at, and records a CronExecution with dedupKey,
	// all in one transaction.
	AdvanceCronSchedule(ctx context.Context, scheduleID UUID, firingTime, nextRunAt time.Time, dedupKey string, pipelineID UUID) error
	HasCronExecution(ctx context.Context, dedupKey string) (bool, error)

	// Event triggers.
	CreateTriggerSchedule(ctx context.Context, ts *TriggerSchedule) error
	ListTriggerSchedules(ctx context.Context) ([]*TriggerSchedule, error)
	UpdateTriggerPolledAt(ctx context.Context, id UUID, polledAt time.Time) error
	HasActiveFiringWithin(ctx context.Context, triggerName, dedupHash string, cooldown time.Duration, now time.Time) (bool, error)

	// Recovery.
	ListOrphanCandidates(ctx context.Context, heartbeatCutoff time.Time, liveWorkers []string) ([]*TaskExecution, error)
	ListClosablePipelines(ctx context.Context) ([]*PipelineExecution, error)

	// Package registry.
	SaveWorkflowPackage(ctx context.Context, pkg *WorkflowPackage, payload *WorkflowRegistry) error
	GetWorkflowPackage(ctx context.Context, name, version string) (*WorkflowPackage, *WorkflowRegistry, error)
	ListWorkflowPackages(ctx context.Context) ([]*WorkflowPackage, error)
	DeleteWorkflowPackage(ctx context.Context, id UUID) error

	// Signing / key management.
	CreateSigningKey(ctx context.Context, k *SigningKey) error
	GetSigningKeyByFingerprint(ctx context.Context, orgID, fingerprint string) (*SigningKey, error)
	RevokeSigningKey(ctx context.Context, id UUID, revokedAt time.Time) error
	CreateTrustedKey(ctx context.Context, k *TrustedKey) error
	GetTrustedKey(ctx context.Context, orgID, fingerprint string) (*TrustedKey, error)
	RevokeTrustedKey(ctx context.Context, id UUID, revokedAt time.Time) error
	CreateTrustAcl(ctx context.Context, parentOrg, childOrg string) error
	RevokeTrustAcl(ctx context.Context, parentOrg, childOrg string, revokedAt time.Time) error
	ListTrustAclParents(ctx context.Context, childOrg string) ([]string, error)
}
