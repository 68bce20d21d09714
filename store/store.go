package store

import (
	"context"
	"time"
)

// Store provides database access to every entity the engine persists. It is
// a thin façade over a pluggable Driver, delegating every call to whichever
// backend implementation was constructed.
type Store struct {
	driver Driver
}

// New wraps driver in a Store.
func New(driver Driver) *Store {
	return &Store{driver: driver}
}

// GetDriver returns the underlying Driver, for backend-specific operations
// (e.g. LISTEN/NOTIFY setup by the push dispatcher).
func (s *Store) GetDriver() Driver { return s.driver }

func (s *Store) Close() error { return s.driver.Close() }

func (s *Store) Migrate(ctx context.Context) error { return s.driver.Migrate(ctx) }

func (s *Store) CreatePipelineExecution(ctx context.Context, pe *PipelineExecution) error {
	return s.driver.CreatePipelineExecution(ctx, pe)
}

func (s *Store) GetPipelineExecution(ctx context.Context, id UUID) (*PipelineExecution, error) {
	return s.driver.GetPipelineExecution(ctx, id)
}

func (s *Store) ListPipelineExecutions(ctx context.Context, find *FindPipelineExecution) ([]*PipelineExecution, error) {
	return s.driver.ListPipelineExecutions(ctx, find)
}

func (s *Store) UpdatePipelineExecution(ctx context.Context, upd *UpdatePipelineExecution) error {
	return s.driver.UpdatePipelineExecution(ctx, upd)
}

func (s *Store) CreateTaskExecution(ctx context.Context, te *TaskExecution) error {
	return s.driver.CreateTaskExecution(ctx, te)
}

func (s *Store) GetTaskExecution(ctx context.Context, id UUID) (*TaskExecution, error) {
	return s.driver.GetTaskExecution(ctx, id)
}

func (s *Store) ListTaskExecutions(ctx context.Context, find *FindTaskExecution) ([]*TaskExecution, error) {
	return s.driver.ListTaskExecutions(ctx, find)
}

func (s *Store) UpdateTaskExecution(ctx context.Context, upd *UpdateTaskExecution) error {
	return s.driver.UpdateTaskExecution(ctx, upd)
}

func (s *Store) MarkTaskReady(ctx context.Context, taskExecutionID UUID, workerID string) error {
	return s.driver.MarkTaskReady(ctx, taskExecutionID, workerID)
}

func (s *Store) ClaimReadyTasks(ctx context.Context, n int, workerID string, now time.Time) ([]*TaskExecution, error) {
	return s.driver.ClaimReadyTasks(ctx, n, workerID, now)
}

func (s *Store) ReapStaleOutbox(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.driver.ReapStaleOutbox(ctx, cutoff)
}

func (s *Store) AppendExecutionEvent(ctx context.Context, ev *ExecutionEvent) error {
	return s.driver.AppendExecutionEvent(ctx, ev)
}

func (s *Store) ListExecutionEvents(ctx context.Context, find *FindExecutionEvent) ([]*ExecutionEvent, error) {
	return s.driver.ListExecutionEvents(ctx, find)
}

func (s *Store) DeleteExecutionEventsOlderThan(ctx context.Context, cutoff time.Time, dryRun bool) (int64, error) {
	return s.driver.DeleteExecutionEventsOlderThan(ctx, cutoff, dryRun)
}

func (s *Store) SaveContext(ctx context.Context, rec *ContextRecord) error {
	return s.driver.SaveContext(ctx, rec)
}

func (s *Store) GetContext(ctx context.Context, id UUID) (*ContextRecord, error) {
	return s.driver.GetContext(ctx, id)
}

func (s *Store) CreateCronSchedule(ctx context.Context, cs *CronSchedule) error {
	return s.driver.CreateCronSchedule(ctx, cs)
}

func (s *Store) ListDueCronSchedules(ctx context.Context, now time.Time) ([]*CronSchedule, error) {
	return s.driver.ListDueCronSchedules(ctx, now)
}

func (s *Store) AdvanceCronSchedule(ctx context.Context, scheduleID UUID, firingTime, nextRunAt time.Time, dedupKey string, pipelineID UUID) error {
	return s.driver.AdvanceCronSchedule(ctx, scheduleID, firingTime, nextRunAt, dedupKey, pipelineID)
}

func (s *Store) HasCronExecution(ctx context.Context, dedupKey string) (bool, error) {
	return s.driver.HasCronExecution(ctx, dedupKey)
}

func (s *Store) CreateTriggerSchedule(ctx context.Context, ts *TriggerSchedule) error {
	return s.driver.CreateTriggerSchedule(ctx, ts)
}

func (s *Store) ListTriggerSchedules(ctx context.Context) ([]*TriggerSchedule, error) {
	return s.driver.ListTriggerSchedules(ctx)
}

func (s *Store) UpdateTriggerPolledAt(ctx context.Context, id UUID, polledAt time.Time) error {
	return s.driver.UpdateTriggerPolledAt(ctx, id, polledAt)
}

func (s *Store) HasActiveFiringWithin(ctx context.Context, triggerName, dedupHash string, cooldown time.Duration, now time.Time) (bool, error) {
	return s.driver.HasActiveFiringWithin(ctx, triggerName, dedupHash, cooldown, now)
}

func (s *Store) ListOrphanCandidates(ctx context.Context, heartbeatCutoff time.Time, liveWorkers []string) ([]*TaskExecution, error) {
	return s.driver.ListOrphanCandidates(ctx, heartbeatCutoff, liveWorkers)
}

func (s *Store) ListClosablePipelines(ctx context.Context) ([]*PipelineExecution, error) {
	return s.driver.ListClosablePipelines(ctx)
}

func (s *Store) SaveWorkflowPackage(ctx context.Context, pkg *WorkflowPackage, payload *WorkflowRegistry) error {
	return s.driver.SaveWorkflowPackage(ctx, pkg, payload)
}

func (s *Store) GetWorkflowPackage(ctx context.Context, name, version string) (*WorkflowPackage, *WorkflowRegistry, error) {
	return s.driver.GetWorkflowPackage(ctx, name, version)
}

func (s *Store) ListWorkflowPackages(ctx context.Context) ([]*WorkflowPackage, error) {
	return s.driver.ListWorkflowPackages(ctx)
}

func (s *Store) DeleteWorkflowPackage(ctx context.Context, id UUID) error {
	return s.driver.DeleteWorkflowPackage(ctx, id)
}

func (s *Store) CreateSigningKey(ctx context.Context, k *SigningKey) error {
	return s.driver.CreateSigningKey(ctx, k)
}

func (s *Store) GetSigningKeyByFingerprint(ctx context.Context, orgID, fingerprint string) (*SigningKey, error) {
	return s.driver.GetSigningKeyByFingerprint(ctx, orgID, fingerprint)
}

func (s *Store) RevokeSigningKey(ctx context.Context, id UUID, revokedAt time.Time) error {
	return s.driver.RevokeSigningKey(ctx, id, revokedAt)
}

func (s *Store) CreateTrustedKey(ctx context.Context, k *TrustedKey) error {
	return s.driver.CreateTrustedKey(ctx, k)
}

func (s *Store) GetTrustedKey(ctx context.Context, orgID, fingerprint string) (*TrustedKey, error) {
	return s.driver.GetTrustedKey(ctx, orgID, fingerprint)
}

func (s *Store) RevokeTrustedKey(ctx context.Context, id UUID, revokedAt time.Time) error {
	return s.driver.RevokeTrustedKey(ctx, id, revokedAt)
}

func (s *Store) CreateTrustAcl(ctx context.Context, parentOrg, childOrg string) error {
	return s.driver.CreateTrustAcl(ctx, parentOrg, childOrg)
}

func (s *Store) RevokeTrustAcl(ctx context.Context, parentOrg, childOrg string, revokedAt time.Time) error {
	return s.driver.RevokeTrustAcl(ctx, parentOrg, childOrg, revokedAt)
}

func (s *Store) ListTrustAclParents(ctx context.Context, childOrg string) ([]string, error) {
	return s.driver.ListTrustAclParents(ctx, childOrg)
}
