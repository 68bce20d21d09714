package store

// PipelineExecution is one run of one workflow with one input Context.
type PipelineExecution struct {
	ID              UUID
	WorkflowName    string
	WorkflowVersion string
	Status          PipelineStatus
	StartedAt       Timestamp
	CompletedAt     *Timestamp
	ContextID       UUID
	Error           *string
}

// FindPipelineExecution filters PipelineExecution rows.
type FindPipelineExecution struct {
	ID           *UUID
	WorkflowName *string
	Status       *PipelineStatus
}

// UpdatePipelineExecution is a partial update.
type UpdatePipelineExecution struct {
	ID          UUID
	Status      *PipelineStatus
	CompletedAt *Timestamp
	ContextID   *UUID
	Error       *string
}

// TaskExecution is one attempt of one task within a pipeline.
type TaskExecution struct {
	ID                  UUID
	PipelineExecutionID UUID
	TaskName            string
	Status              TaskStatus
	SubStatus           SubStatus
	Attempt             int
	MaxAttempts         int
	TriggerRules        string
	TaskConfiguration   []byte // JSON
	StartedAt           *Timestamp
	CompletedAt         *Timestamp
	ClaimedAt           *Timestamp
	ClaimedBy           *string
	Error               *string
	NextRetryAt         *Timestamp
}

// FindTaskExecution filters TaskExecution rows.
type FindTaskExecution struct {
	ID                  *UUID
	PipelineExecutionID *UUID
	Status              *TaskStatus
	ClaimedBy           *string
}

// UpdateTaskExecution is a partial update of a TaskExecution row.
type UpdateTaskExecution struct {
	ID          UUID
	Status      *TaskStatus
	SubStatus   *SubStatus
	Attempt     *int
	StartedAt   *Timestamp
	CompletedAt *Timestamp
	ClaimedAt   *Timestamp
	ClaimedBy   *string
	Error       *string
	NextRetryAt *Timestamp
	clearClaim  bool
	clearRetry  bool
}

// ClearClaim requests that claimed_at/claimed_by be set to NULL, used when
// the recovery service resets an orphaned task.
func (u *UpdateTaskExecution) ClearClaim() *UpdateTaskExecution {
	u.clearClaim = true
	return u
}

// WantsClearClaim reports whether ClearClaim was requested; exported for
// backend implementations in sibling packages.
func (u *UpdateTaskExecution) WantsClearClaim() bool { return u.clearClaim }

// ClearNextRetryAt requests that next_retry_at be set to NULL, used once a
// retry-pending task has been promoted back to ready.
func (u *UpdateTaskExecution) ClearNextRetryAt() *UpdateTaskExecution {
	u.clearRetry = true
	return u
}

// WantsClearNextRetryAt reports whether ClearNextRetryAt was requested;
// exported for backend implementations in sibling packages.
func (u *UpdateTaskExecution) WantsClearNextRetryAt() bool { return u.clearRetry }

// TaskOutbox is a transient row marking a task Ready and unclaimed.
type TaskOutbox struct {
	ID              UUID
	TaskExecutionID UUID
	CreatedAt       Timestamp
}

// ExecutionEventType enumerates the append-only lifecycle event types.
type ExecutionEventType string

const (
	EventTaskMarkedReady     ExecutionEventType = "task_marked_ready"
	EventTaskClaimed         ExecutionEventType = "task_claimed"
	EventTaskCompleted       ExecutionEventType = "task_completed"
	EventTaskFailed          ExecutionEventType = "task_failed"
	EventTaskRetryScheduled  ExecutionEventType = "task_retry_scheduled"
	EventTaskSkipped         ExecutionEventType = "task_skipped"
	EventTaskReset           ExecutionEventType = "task_reset"
	EventTaskAbandoned       ExecutionEventType = "task_abandoned"
	EventTaskDeferred        ExecutionEventType = "task_deferred"
	EventTaskResumed         ExecutionEventType = "task_resumed"
	EventPipelineStarted     ExecutionEventType = "pipeline_started"
	EventPipelineCompleted   ExecutionEventType = "pipeline_completed"
	EventPipelineFailed      ExecutionEventType = "pipeline_failed"
	EventPipelineCancelled   ExecutionEventType = "pipeline_cancelled"
)

// ExecutionEvent is an append-only audit record of the task/pipeline
// lifecycle.
type ExecutionEvent struct {
	ID                  UUID
	PipelineExecutionID UUID
	TaskExecutionID     *UUID
	EventType           ExecutionEventType
	EventData           []byte // JSON
	WorkerID            string
	CreatedAt           Timestamp
	SequenceNum         int64
}

// FindExecutionEvent filters ExecutionEvent rows.
type FindExecutionEvent struct {
	PipelineExecutionID *UUID
	OlderThan           *Timestamp
	Limit               int
}

// ContextRecord is the persisted form of a Context snapshot.
type ContextRecord struct {
	ID        UUID
	ValueJSON []byte
}

// CronSchedule is a recurring firing rule for a workflow.
type CronSchedule struct {
	ID           UUID
	WorkflowName string
	Expression   string
	Timezone     string
	NextRunAt    Timestamp
	LastRunAt    *Timestamp
	Enabled      bool
}

// CronExecution records one materialized firing of a CronSchedule.
type CronExecution struct {
	ID         UUID
	ScheduleID UUID
	FiringTime Timestamp
	DedupKey   string
	PipelineID UUID
	CreatedAt  Timestamp
}

// TriggerSchedule tracks polling state for an event trigger.
type TriggerSchedule struct {
	ID              UUID
	TriggerName     string
	WorkflowName    string
	PollIntervalMs  int64
	AllowConcurrent bool
	LastPolledAt    *Timestamp
}

// WorkflowPackage is registry metadata for an admitted package.
type WorkflowPackage struct {
	ID          UUID
	PackageName string
	Version     string
	Description string
	Author      string
	MetadataJSON []byte
	StorageType string
	CreatedAt   Timestamp
}

// WorkflowRegistry holds the binary payload for a WorkflowPackage under a
// pluggable storage backend.
type WorkflowRegistry struct {
	ID        UUID
	DataBytes []byte
	CreatedAt Timestamp
}

// SigningKey is an org's private signing key material.
type SigningKey struct {
	ID                  UUID
	OrgID               string
	KeyName             string
	Fingerprint         string
	PublicKey           []byte
	EncryptedPrivateKey []byte
	CreatedAt           Timestamp
	RevokedAt           *Timestamp
}

// TrustedKey is a public key admitted to verify signatures for an org.
type TrustedKey struct {
	ID          UUID
	OrgID       string
	Fingerprint string
	PublicKey   []byte
	KeyName     *string
	TrustedAt   Timestamp
	RevokedAt   *Timestamp
}

// TrustAcl expresses parent->child org inheritance of trusted keys.
type TrustAcl struct {
	ID        UUID
	ParentOrg string
	ChildOrg  string
	CreatedAt Timestamp
	RevokedAt *Timestamp
}
