// Package storetest provides a minimal in-memory store.Driver shared by
// tests across the cronsched, trigger, recovery, engine, reconciler and
// keymanager packages (the scheduler tests keep their own fixture), so
// each does not need to hand-roll its own fixture of the full Driver
// interface.
package storetest

import (
	"context"
	"sync"
	"time"

	"github.com/colliery-io/cloacina-go/store"
)

// FakeDriver is a minimal in-memory store.Driver covering the methods
// exercised by this module's tests.
type FakeDriver struct {
	mu         sync.Mutex
	Pipelines  map[store.UUID]*store.PipelineExecution
	Tasks      map[store.UUID]*store.TaskExecution
	Contexts   map[store.UUID]*store.ContextRecord
	Events     []*store.ExecutionEvent
	CronSchedules map[store.UUID]*store.CronSchedule
	CronExecutions map[string]*store.CronExecution
	TriggerSchedules map[store.UUID]*store.TriggerSchedule
	TriggerFirings   map[string]time.Time
	Packages        map[store.UUID]*store.WorkflowPackage
	PackagePayloads map[store.UUID]*store.WorkflowRegistry
	SigningKeys     map[store.UUID]*store.SigningKey
	TrustedKeys     map[store.UUID]*store.TrustedKey
	TrustAcls       []*store.TrustAcl
}

// New returns an empty FakeDriver.
func New() *FakeDriver {
	return &FakeDriver{
		Pipelines:        make(map[store.UUID]*store.PipelineExecution),
		Tasks:            make(map[store.UUID]*store.TaskExecution),
		Contexts:         make(map[store.UUID]*store.ContextRecord),
		CronSchedules:    make(map[store.UUID]*store.CronSchedule),
		CronExecutions:   make(map[string]*store.CronExecution),
		TriggerSchedules: make(map[store.UUID]*store.TriggerSchedule),
		TriggerFirings:   make(map[string]time.Time),
		Packages:         make(map[store.UUID]*store.WorkflowPackage),
		PackagePayloads:  make(map[store.UUID]*store.WorkflowRegistry),
		SigningKeys:      make(map[store.UUID]*store.SigningKey),
		TrustedKeys:      make(map[store.UUID]*store.TrustedKey),
	}
}

func (f *FakeDriver) Close() error                     { return nil }
func (f *FakeDriver) Migrate(ctx context.Context) error { return nil }

func (f *FakeDriver) CreatePipelineExecution(ctx context.Context, pe *store.PipelineExecution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Pipelines[pe.ID] = pe
	return nil
}

func (f *FakeDriver) GetPipelineExecution(ctx context.Context, id store.UUID) (*store.PipelineExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pe, ok := f.Pipelines[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *pe
	return &cp, nil
}

func (f *FakeDriver) ListPipelineExecutions(ctx context.Context, find *store.FindPipelineExecution) ([]*store.PipelineExecution, error) {
	return nil, nil
}

func (f *FakeDriver) UpdatePipelineExecution(ctx context.Context, upd *store.UpdatePipelineExecution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	pe, ok := f.Pipelines[upd.ID]
	if !ok {
		return store.ErrNotFound
	}
	if upd.Status != nil {
		pe.Status = *upd.Status
	}
	if upd.CompletedAt != nil {
		pe.CompletedAt = upd.CompletedAt
	}
	if upd.ContextID != nil {
		pe.ContextID = *upd.ContextID
	}
	if upd.Error != nil {
		pe.Error = upd.Error
	}
	return nil
}

func (f *FakeDriver) CreateTaskExecution(ctx context.Context, te *store.TaskExecution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Tasks[te.ID] = te
	return nil
}

func (f *FakeDriver) GetTaskExecution(ctx context.Context, id store.UUID) (*store.TaskExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	te, ok := f.Tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *te
	return &cp, nil
}

func (f *FakeDriver) ListTaskExecutions(ctx context.Context, find *store.FindTaskExecution) ([]*store.TaskExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.TaskExecution
	for _, te := range f.Tasks {
		if find.PipelineExecutionID != nil && te.PipelineExecutionID != *find.PipelineExecutionID {
			continue
		}
		if find.Status != nil && te.Status != *find.Status {
			continue
		}
		if find.ClaimedBy != nil && (te.ClaimedBy == nil || *te.ClaimedBy != *find.ClaimedBy) {
			continue
		}
		cp := *te
		out = append(out, &cp)
	}
	return out, nil
}

func (f *FakeDriver) UpdateTaskExecution(ctx context.Context, upd *store.UpdateTaskExecution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	te, ok := f.Tasks[upd.ID]
	if !ok {
		return store.ErrNotFound
	}
	if upd.Status != nil {
		te.Status = *upd.Status
	}
	if upd.SubStatus != nil {
		te.SubStatus = *upd.SubStatus
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
	if upd.StartedAt != nil {
		te.StartedAt = upd.StartedAt
	}
	if upd.CompletedAt != nil {
		te.CompletedAt = upd.CompletedAt
	}
	if upd.ClaimedAt != nil {
		te.ClaimedAt = upd.ClaimedAt
	}
	if upd.ClaimedBy != nil {
		te.ClaimedBy = upd.ClaimedBy
	}
	if upd.WantsClearClaim() {
		te.ClaimedAt = nil
		te.ClaimedBy = nil
	}
	if upd.WantsClearNextRetryAt() {
		te.NextRetryAt = nil
	}
	return nil
}

func (f *FakeDriver) MarkTaskReady(ctx context.Context, taskExecutionID store.UUID, workerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	te, ok := f.Tasks[taskExecutionID]
	if !ok {
		return store.ErrNotFound
	}
	if te.Status != store.TaskStatusNotStarted {
		return store.ErrConflict
	}
	te.Status = store.TaskStatusReady
	return nil
}

func (f *FakeDriver) ClaimReadyTasks(ctx context.Context, n int, workerID string, now time.Time) ([]*store.TaskExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.TaskExecution
	for _, te := range f.Tasks {
		if len(out) >= n {
			break
		}
		if te.Status != store.TaskStatusReady {
			continue
		}
		te.Status = store.TaskStatusRunning
		te.ClaimedAt = &now
		wid := workerID
		te.ClaimedBy = &wid
		te.StartedAt = &now
		cp := *te
		out = append(out, &cp)
	}
	return out, nil
}

func (f *FakeDriver) ReapStaleOutbox(ctx context.Context, cutoff time.Time) (int64, error) { return 0, nil }

func (f *FakeDriver) AppendExecutionEvent(ctx context.Context, ev *store.ExecutionEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Events = append(f.Events, ev)
	return nil
}

func (f *FakeDriver) ListExecutionEvents(ctx context.Context, find *store.FindExecutionEvent) ([]*store.ExecutionEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.ExecutionEvent
	for _, ev := range f.Events {
		if find.PipelineExecutionID != nil && ev.PipelineExecutionID != *find.PipelineExecutionID {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (f *FakeDriver) DeleteExecutionEventsOlderThan(ctx context.Context, cutoff time.Time, dryRun bool) (int64, error) {
	return 0, nil
}

func (f *FakeDriver) SaveContext(ctx context.Context, rec *store.ContextRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Contexts[rec.ID] = rec
	return nil
}

func (f *FakeDriver) GetContext(ctx context.Context, id store.UUID) (*store.ContextRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.Contexts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return rec, nil
}

func (f *FakeDriver) CreateCronSchedule(ctx context.Context, cs *store.CronSchedule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CronSchedules[cs.ID] = cs
	return nil
}

func (f *FakeDriver) ListDueCronSchedules(ctx context.Context, now time.Time) ([]*store.CronSchedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.CronSchedule
	for _, cs := range f.CronSchedules {
		if cs.Enabled && !cs.NextRunAt.After(now) {
			cp := *cs
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *FakeDriver) AdvanceCronSchedule(ctx context.Context, scheduleID store.UUID, firingTime, nextRunAt time.Time, dedupKey string, pipelineID store.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cs, ok := f.CronSchedules[scheduleID]
	if !ok {
		return store.ErrNotFound
	}
	cs.NextRunAt = nextRunAt
	lr := firingTime
	cs.LastRunAt = &lr
	f.CronExecutions[dedupKey] = &store.CronExecution{ScheduleID: scheduleID, FiringTime: firingTime, DedupKey: dedupKey, PipelineID: pipelineID}
	return nil
}

func (f *FakeDriver) HasCronExecution(ctx context.Context, dedupKey string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.CronExecutions[dedupKey]
	return ok, nil
}

func (f *FakeDriver) CreateTriggerSchedule(ctx context.Context, ts *store.TriggerSchedule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TriggerSchedules[ts.ID] = ts
	return nil
}

func (f *FakeDriver) ListTriggerSchedules(ctx context.Context) ([]*store.TriggerSchedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.TriggerSchedule
	for _, ts := range f.TriggerSchedules {
		out = append(out, ts)
	}
	return out, nil
}

func (f *FakeDriver) UpdateTriggerPolledAt(ctx context.Context, id store.UUID, polledAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ts, ok := f.TriggerSchedules[id]; ok {
		ts.LastPolledAt = &polledAt
	}
	return nil
}

func (f *FakeDriver) HasActiveFiringWithin(ctx context.Context, triggerName, dedupHash string, cooldown time.Duration, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := triggerName + "\x00" + dedupHash
	last, ok := f.TriggerFirings[key]
	active := ok && now.Sub(last) < cooldown
	if !active {
		f.TriggerFirings[key] = now
	}
	return active, nil
}

func (f *FakeDriver) ListOrphanCandidates(ctx context.Context, heartbeatCutoff time.Time, liveWorkers []string) ([]*store.TaskExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	live := make(map[string]bool, len(liveWorkers))
	for _, w := range liveWorkers {
		live[w] = true
	}
	var out []*store.TaskExecution
	for _, te := range f.Tasks {
		if te.Status != store.TaskStatusRunning || te.ClaimedBy == nil || te.ClaimedAt == nil {
			continue
		}
		if live[*te.ClaimedBy] {
			continue
		}
		if te.ClaimedAt.After(heartbeatCutoff) {
			continue
		}
		cp := *te
		out = append(out, &cp)
	}
	return out, nil
}

func (f *FakeDriver) ListClosablePipelines(ctx context.Context) ([]*store.PipelineExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byPipeline := make(map[store.UUID]bool)
	for _, te := range f.Tasks {
		if !te.Status.IsTerminal() {
			byPipeline[te.PipelineExecutionID] = true
		}
	}
	var out []*store.PipelineExecution
	for id, pe := range f.Pipelines {
		if pe.Status.IsTerminal() || byPipeline[id] {
			continue
		}
		cp := *pe
		out = append(out, &cp)
	}
	return out, nil
}

func (f *FakeDriver) SaveWorkflowPackage(ctx context.Context, pkg *store.WorkflowPackage, payload *store.WorkflowRegistry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *pkg
	f.Packages[pkg.ID] = &cp
	payloadCp := *payload
	f.PackagePayloads[pkg.ID] = &payloadCp
	return nil
}
func (f *FakeDriver) GetWorkflowPackage(ctx context.Context, name, version string) (*store.WorkflowPackage, *store.WorkflowRegistry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, pkg := range f.Packages {
		if pkg.PackageName == name && pkg.Version == version {
			payload := f.PackagePayloads[pkg.ID]
			return pkg, payload, nil
		}
	}
	return nil, nil, store.ErrNotFound
}
func (f *FakeDriver) ListWorkflowPackages(ctx context.Context) ([]*store.WorkflowPackage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*store.WorkflowPackage, 0, len(f.Packages))
	for _, pkg := range f.Packages {
		out = append(out, pkg)
	}
	return out, nil
}
func (f *FakeDriver) DeleteWorkflowPackage(ctx context.Context, id store.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Packages, id)
	delete(f.PackagePayloads, id)
	return nil
}

func (f *FakeDriver) CreateSigningKey(ctx context.Context, k *store.SigningKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *k
	f.SigningKeys[k.ID] = &cp
	return nil
}
func (f *FakeDriver) GetSigningKeyByFingerprint(ctx context.Context, orgID, fingerprint string) (*store.SigningKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range f.SigningKeys {
		if k.OrgID == orgID && k.Fingerprint == fingerprint {
			cp := *k
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}
func (f *FakeDriver) RevokeSigningKey(ctx context.Context, id store.UUID, revokedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.SigningKeys[id]
	if !ok {
		return store.ErrNotFound
	}
	t := revokedAt
	k.RevokedAt = &t
	return nil
}
func (f *FakeDriver) CreateTrustedKey(ctx context.Context, k *store.TrustedKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *k
	f.TrustedKeys[k.ID] = &cp
	return nil
}
func (f *FakeDriver) GetTrustedKey(ctx context.Context, orgID, fingerprint string) (*store.TrustedKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range f.TrustedKeys {
		if k.OrgID == orgID && k.Fingerprint == fingerprint {
			cp := *k
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}
func (f *FakeDriver) RevokeTrustedKey(ctx context.Context, id store.UUID, revokedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.TrustedKeys[id]
	if !ok {
		return store.ErrNotFound
	}
	t := revokedAt
	k.RevokedAt = &t
	return nil
}
func (f *FakeDriver) CreateTrustAcl(ctx context.Context, parentOrg, childOrg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TrustAcls = append(f.TrustAcls, &store.TrustAcl{
		ID: store.UUID(parentOrg + "->" + childOrg), ParentOrg: parentOrg, ChildOrg: childOrg,
	})
	return nil
}
func (f *FakeDriver) RevokeTrustAcl(ctx context.Context, parentOrg, childOrg string, revokedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, acl := range f.TrustAcls {
		if acl.ParentOrg == parentOrg && acl.ChildOrg == childOrg && acl.RevokedAt == nil {
			t := revokedAt
			acl.RevokedAt = &t
			return nil
		}
	}
	return store.ErrNotFound
}
func (f *FakeDriver) ListTrustAclParents(ctx context.Context, childOrg string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	orgs := []string{childOrg}
	seen := map[string]bool{childOrg: true}
	frontier := []string{childOrg}
	for len(frontier) > 0 {
		var next []string
		for _, acl := range f.TrustAcls {
			if acl.RevokedAt != nil || !containsStr(frontier, acl.ChildOrg) {
				continue
			}
			if !seen[acl.ParentOrg] {
				seen[acl.ParentOrg] = true
				orgs = append(orgs, acl.ParentOrg)
				next = append(next, acl.ParentOrg)
			}
		}
		frontier = next
	}
	return orgs, nil
}

func containsStr(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
