package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colliery-io/cloacina-go/store"
	"github.com/colliery-io/cloacina-go/workflow"
)

// fakeDriver is a minimal in-memory store.Driver covering only the methods
// the scheduler touches, following the mock-store pattern used elsewhere in
// this codebase's store tests.
type fakeDriver struct {
	mu        sync.Mutex
	pipelines map[store.UUID]*store.PipelineExecution
	tasks     map[store.UUID]*store.TaskExecution
	contexts  map[store.UUID]*store.ContextRecord
	events    []*store.ExecutionEvent
	ready     map[store.UUID]bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		pipelines: make(map[store.UUID]*store.PipelineExecution),
		tasks:     make(map[store.UUID]*store.TaskExecution),
		contexts:  make(map[store.UUID]*store.ContextRecord),
		ready:     make(map[store.UUID]bool),
	}
}

func (f *fakeDriver) Close() error                             { return nil }
func (f *fakeDriver) Migrate(ctx context.Context) error         { return nil }
func (f *fakeDriver) CreatePipelineExecution(ctx context.Context, pe *store.PipelineExecution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pipelines[pe.ID] = pe
	return nil
}
func (f *fakeDriver) GetPipelineExecution(ctx context.Context, id store.UUID) (*store.PipelineExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pe, ok := f.pipelines[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *pe
	return &cp, nil
}
func (f *fakeDriver) ListPipelineExecutions(ctx context.Context, find *store.FindPipelineExecution) ([]*store.PipelineExecution, error) {
	return nil, nil
}
func (f *fakeDriver) UpdatePipelineExecution(ctx context.Context, upd *store.UpdatePipelineExecution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	pe, ok := f.pipelines[upd.ID]
	if !ok {
		return store.ErrNotFound
	}
	if upd.Status != nil {
		pe.Status = *upd.Status
	}
	if upd.CompletedAt != nil {
		pe.CompletedAt = upd.CompletedAt
	}
	return nil
}
func (f *fakeDriver) CreateTaskExecution(ctx context.Context, te *store.TaskExecution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[te.ID] = te
	return nil
}
func (f *fakeDriver) GetTaskExecution(ctx context.Context, id store.UUID) (*store.TaskExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	te, ok := f.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *te
	return &cp, nil
}
func (f *fakeDriver) ListTaskExecutions(ctx context.Context, find *store.FindTaskExecution) ([]*store.TaskExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.TaskExecution
	for _, te := range f.tasks {
		if find.PipelineExecutionID != nil && te.PipelineExecutionID != *find.PipelineExecutionID {
			continue
		}
		if find.Status != nil && te.Status != *find.Status {
			continue
		}
		cp := *te
		out = append(out, &cp)
	}
	return out, nil
}
func (f *fakeDriver) UpdateTaskExecution(ctx context.Context, upd *store.UpdateTaskExecution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	te, ok := f.tasks[upd.ID]
	if !ok {
		return store.ErrNotFound
	}
	if upd.Status != nil {
		te.Status = *upd.Status
	}
	if upd.Attempt != nil {
		te.Attempt = *upd.Attempt
	}
	if upd.Error != nil {
		te.Error = upd.Error
	}
	if upd.NextRetryAt != nil {
		te.NextRetryAt = upd.NextRetryAt
	}
	if upd.WantsClearNextRetryAt() {
		te.NextRetryAt = nil
	}
	if upd.CompletedAt != nil {
		te.CompletedAt = upd.CompletedAt
	}
	if upd.WantsClearClaim() {
		te.ClaimedAt = nil
		te.ClaimedBy = nil
	}
	return nil
}
func (f *fakeDriver) MarkTaskReady(ctx context.Context, taskExecutionID store.UUID, workerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	te, ok := f.tasks[taskExecutionID]
	if !ok {
		return store.ErrNotFound
	}
	if te.Status != store.TaskStatusNotStarted {
		return store.ErrConflict
	}
	te.Status = store.TaskStatusReady
	f.ready[taskExecutionID] = true
	return nil
}
func (f *fakeDriver) ClaimReadyTasks(ctx context.Context, n int, workerID string, now time.Time) ([]*store.TaskExecution, error) {
	return nil, nil
}
func (f *fakeDriver) ReapStaleOutbox(ctx context.Context, cutoff time.Time) (int64, error) { return 0, nil }
func (f *fakeDriver) AppendExecutionEvent(ctx context.Context, ev *store.ExecutionEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}
func (f *fakeDriver) ListExecutionEvents(ctx context.Context, find *store.FindExecutionEvent) ([]*store.ExecutionEvent, error) {
	return nil, nil
}
func (f *fakeDriver) DeleteExecutionEventsOlderThan(ctx context.Context, cutoff time.Time, dryRun bool) (int64, error) {
	return 0, nil
}
func (f *fakeDriver) SaveContext(ctx context.Context, rec *store.ContextRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contexts[rec.ID] = rec
	return nil
}
func (f *fakeDriver) GetContext(ctx context.Context, id store.UUID) (*store.ContextRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.contexts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return rec, nil
}
func (f *fakeDriver) CreateCronSchedule(ctx context.Context, cs *store.CronSchedule) error { return nil }
func (f *fakeDriver) ListDueCronSchedules(ctx context.Context, now time.Time) ([]*store.CronSchedule, error) {
	return nil, nil
}
func (f *fakeDriver) AdvanceCronSchedule(ctx context.Context, scheduleID store.UUID, firingTime, nextRunAt time.Time, dedupKey string, pipelineID store.UUID) error {
	return nil
}
func (f *fakeDriver) HasCronExecution(ctx context.Context, dedupKey string) (bool, error) {
	return false, nil
}
func (f *fakeDriver) CreateTriggerSchedule(ctx context.Context, ts *store.TriggerSchedule) error {
	return nil
}
func (f *fakeDriver) ListTriggerSchedules(ctx context.Context) ([]*store.TriggerSchedule, error) {
	return nil, nil
}
func (f *fakeDriver) UpdateTriggerPolledAt(ctx context.Context, id store.UUID, polledAt time.Time) error {
	return nil
}
func (f *fakeDriver) HasActiveFiringWithin(ctx context.Context, triggerName, dedupHash string, cooldown time.Duration, now time.Time) (bool, error) {
	return false, nil
}
func (f *fakeDriver) ListOrphanCandidates(ctx context.Context, heartbeatCutoff time.Time, liveWorkers []string) ([]*store.TaskExecution, error) {
	return nil, nil
}
func (f *fakeDriver) ListClosablePipelines(ctx context.Context) ([]*store.PipelineExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byPipeline := make(map[store.UUID]bool)
	for _, te := range f.tasks {
		if !te.Status.IsTerminal() {
			byPipeline[te.PipelineExecutionID] = true
		}
	}
	var out []*store.PipelineExecution
	for id, pe := range f.pipelines {
		if pe.Status.IsTerminal() || byPipeline[id] {
			continue
		}
		cp := *pe
		out = append(out, &cp)
	}
	return out, nil
}
func (f *fakeDriver) SaveWorkflowPackage(ctx context.Context, pkg *store.WorkflowPackage, payload *store.WorkflowRegistry) error {
	return nil
}
func (f *fakeDriver) GetWorkflowPackage(ctx context.Context, name, version string) (*store.WorkflowPackage, *store.WorkflowRegistry, error) {
	return nil, nil, store.ErrNotFound
}
func (f *fakeDriver) ListWorkflowPackages(ctx context.Context) ([]*store.WorkflowPackage, error) {
	return nil, nil
}
func (f *fakeDriver) DeleteWorkflowPackage(ctx context.Context, id store.UUID) error { return nil }
func (f *fakeDriver) CreateSigningKey(ctx context.Context, k *store.SigningKey) error { return nil }
func (f *fakeDriver) GetSigningKeyByFingerprint(ctx context.Context, orgID, fingerprint string) (*store.SigningKey, error) {
	return nil, store.ErrNotFound
}
func (f *fakeDriver) RevokeSigningKey(ctx context.Context, id store.UUID, revokedAt time.Time) error {
	return nil
}
func (f *fakeDriver) CreateTrustedKey(ctx context.Context, k *store.TrustedKey) error { return nil }
func (f *fakeDriver) GetTrustedKey(ctx context.Context, orgID, fingerprint string) (*store.TrustedKey, error) {
	return nil, store.ErrNotFound
}
func (f *fakeDriver) RevokeTrustedKey(ctx context.Context, id store.UUID, revokedAt time.Time) error {
	return nil
}
func (f *fakeDriver) CreateTrustAcl(ctx context.Context, parentOrg, childOrg string) error { return nil }
func (f *fakeDriver) RevokeTrustAcl(ctx context.Context, parentOrg, childOrg string, revokedAt time.Time) error {
	return nil
}
func (f *fakeDriver) ListTrustAclParents(ctx context.Context, childOrg string) ([]string, error) {
	return nil, nil
}

func buildTestWorkflow(t *testing.T) *workflow.Workflow {
	t.Helper()
	b := workflow.NewBuilder("etl", "acme", "analytics")
	require.NoError(t, b.AddTask("extract", nil, workflow.DefaultRetryPolicy(), "", "fp1", nil))
	require.NoError(t, b.AddTask("transform", []string{"extract"}, workflow.DefaultRetryPolicy(), "", "fp2", nil))
	require.NoError(t, b.AddTask("load", []string{"transform"}, workflow.DefaultRetryPolicy(), "", "fp3", nil))
	wf, err := b.Finalize()
	require.NoError(t, err)
	return wf
}

func TestEvaluateReadinessMarksRootsReady(t *testing.T) {
	driver := newFakeDriver()
	st := store.New(driver)
	wf := buildTestWorkflow(t)
	set := workflow.NewSet()
	set.Put(wf)

	pipelineID := uuid.NewString()
	driver.pipelines[pipelineID] = &store.PipelineExecution{
		ID:              pipelineID,
		WorkflowName:    wf.Name,
		WorkflowVersion: wf.Version,
		Status:          store.PipelineStatusRunning,
		ContextID:       uuid.NewString(),
	}
	for _, id := range wf.TaskIDs() {
		node, _ := wf.Task(id)
		driver.tasks[id+"-exec"] = &store.TaskExecution{
			ID:                  id + "-exec",
			PipelineExecutionID: pipelineID,
			TaskName:            id,
			Status:              store.TaskStatusNotStarted,
			MaxAttempts:         node.RetryPolicy.MaxAttempts,
			TriggerRules:        node.TriggerRules,
		}
	}

	sched := New(st, set)
	marked, err := sched.EvaluateReadiness(context.Background(), pipelineID, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, 1, marked)
	assert.Equal(t, store.TaskStatusReady, driver.tasks["extract-exec"].Status)
	assert.Equal(t, store.TaskStatusNotStarted, driver.tasks["transform-exec"].Status)
}

func TestEvaluateReadinessSkipsDownstreamOfFailure(t *testing.T) {
	driver := newFakeDriver()
	st := store.New(driver)
	wf := buildTestWorkflow(t)
	set := workflow.NewSet()
	set.Put(wf)

	pipelineID := uuid.NewString()
	driver.pipelines[pipelineID] = &store.PipelineExecution{
		ID:              pipelineID,
		WorkflowName:    wf.Name,
		WorkflowVersion: wf.Version,
		Status:          store.PipelineStatusRunning,
		ContextID:       uuid.NewString(),
	}
	driver.tasks["extract-exec"] = &store.TaskExecution{
		ID: "extract-exec", PipelineExecutionID: pipelineID, TaskName: "extract",
		Status: store.TaskStatusFailed,
	}
	driver.tasks["transform-exec"] = &store.TaskExecution{
		ID: "transform-exec", PipelineExecutionID: pipelineID, TaskName: "transform",
		Status: store.TaskStatusNotStarted,
	}
	driver.tasks["load-exec"] = &store.TaskExecution{
		ID: "load-exec", PipelineExecutionID: pipelineID, TaskName: "load",
		Status: store.TaskStatusNotStarted,
	}

	sched := New(st, set)
	_, err := sched.EvaluateReadiness(context.Background(), pipelineID, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, store.TaskStatusSkipped, driver.tasks["transform-exec"].Status)
	assert.Equal(t, store.TaskStatusNotStarted, driver.tasks["load-exec"].Status)
}

func TestHandleFailureSchedulesRetryThenAbandons(t *testing.T) {
	driver := newFakeDriver()
	st := store.New(driver)
	b := workflow.NewBuilder("etl", "acme", "analytics")
	retry := workflow.RetryPolicy{Strategy: workflow.BackoffFixed, MaxAttempts: 2, BaseDelayMs: 10}
	require.NoError(t, b.AddTask("extract", nil, retry, "", "fp1", nil))
	wf, err := b.Finalize()
	require.NoError(t, err)
	set := workflow.NewSet()
	set.Put(wf)

	pipelineID := uuid.NewString()
	driver.pipelines[pipelineID] = &store.PipelineExecution{
		ID: pipelineID, WorkflowName: wf.Name, WorkflowVersion: wf.Version,
		Status: store.PipelineStatusRunning, ContextID: uuid.NewString(),
	}
	driver.tasks["extract-exec"] = &store.TaskExecution{
		ID: "extract-exec", PipelineExecutionID: pipelineID, TaskName: "extract",
		Status: store.TaskStatusRunning, Attempt: 1, MaxAttempts: 2,
	}

	sched := New(st, set)
	require.NoError(t, sched.HandleFailure(context.Background(), "extract-exec", assert.AnError))
	assert.Equal(t, store.TaskStatusNotStarted, driver.tasks["extract-exec"].Status)
	require.NotNil(t, driver.tasks["extract-exec"].NextRetryAt)

	driver.tasks["extract-exec"].Attempt = 2
	require.NoError(t, sched.HandleFailure(context.Background(), "extract-exec", assert.AnError))
	assert.Equal(t, store.TaskStatusAbandoned, driver.tasks["extract-exec"].Status)
}

func TestPromoteDueRetriesOnlyPromotesElapsed(t *testing.T) {
	driver := newFakeDriver()
	st := store.New(driver)
	set := workflow.NewSet()

	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Hour)
	driver.tasks["due"] = &store.TaskExecution{ID: "due", Status: store.TaskStatusNotStarted, NextRetryAt: &past, Attempt: 1}
	driver.tasks["not-due"] = &store.TaskExecution{ID: "not-due", Status: store.TaskStatusNotStarted, NextRetryAt: &future, Attempt: 1}

	sched := New(st, set)
	promoted, err := sched.PromoteDueRetries(context.Background(), "worker-1")
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)
	assert.Equal(t, store.TaskStatusReady, driver.tasks["due"].Status)
	assert.Nil(t, driver.tasks["due"].NextRetryAt)
	assert.Equal(t, store.TaskStatusNotStarted, driver.tasks["not-due"].Status)
	assert.NotNil(t, driver.tasks["not-due"].NextRetryAt)
}

func TestClosePipelinesMarksFailedOnAbandonedTask(t *testing.T) {
	driver := newFakeDriver()
	st := store.New(driver)
	set := workflow.NewSet()

	pipelineID := uuid.NewString()
	driver.pipelines[pipelineID] = &store.PipelineExecution{ID: pipelineID, Status: store.PipelineStatusRunning}
	driver.tasks["t1"] = &store.TaskExecution{ID: "t1", PipelineExecutionID: pipelineID, Status: store.TaskStatusAbandoned}

	sched := New(st, set)
	closed, err := sched.ClosePipelines(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, closed)
	assert.Equal(t, store.PipelineStatusFailed, driver.pipelines[pipelineID].Status)
}
