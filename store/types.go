// Package store defines the relational data model shared by every backend
// behind a single Driver interface, and the Store façade that
// delegates to whichever Driver was configured.
package store

import "time"

// PipelineStatus is the terminal/non-terminal status of a PipelineExecution.
type PipelineStatus string

const (
	PipelineStatusPending   PipelineStatus = "pending"
	PipelineStatusRunning   PipelineStatus = "running"
	PipelineStatusCompleted PipelineStatus = "completed"
	PipelineStatusFailed    PipelineStatus = "failed"
	PipelineStatusCancelled PipelineStatus = "cancelled"
)

// IsTerminal reports whether status never transitions further.
func (s PipelineStatus) IsTerminal() bool {
	switch s {
	case PipelineStatusCompleted, PipelineStatusFailed, PipelineStatusCancelled:
		return true
	default:
		return false
	}
}

// TaskStatus is a TaskExecution's position in the state machine.
type TaskStatus string

const (
	TaskStatusNotStarted TaskStatus = "not_started"
	TaskStatusReady      TaskStatus = "ready"
	TaskStatusRunning    TaskStatus = "running"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusSkipped    TaskStatus = "skipped"
	TaskStatusAbandoned  TaskStatus = "abandoned"
)

// IsTerminal reports whether status never transitions further.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusSkipped, TaskStatusAbandoned:
		return true
	default:
		return false
	}
}

// SubStatus qualifies a Running TaskExecution.
type SubStatus string

const (
	SubStatusNone     SubStatus = "none"
	SubStatusActive   SubStatus = "active"
	SubStatusDeferred SubStatus = "deferred"
)

// UUID is the universal 128-bit identifier type. Backends encode
// it natively or as text depending on column support.
type UUID = string

// Timestamp is the universal UTC-instant type.
type Timestamp = time.Time
