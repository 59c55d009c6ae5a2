package domain

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of a task execution.
type TaskStatus string

const (
	TaskSubmitted TaskStatus = "SUBMITTED"
	TaskRunning   TaskStatus = "RUNNING"
	TaskFinished  TaskStatus = "FINISHED"
	TaskError     TaskStatus = "ERROR"
	TaskCanceled  TaskStatus = "CANCELED"
)

func (s TaskStatus) String() string { return string(s) }

// IsTerminal reports whether the status is final.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskFinished || s == TaskError || s == TaskCanceled
}

// TaskDescriptor identifies a unit of work to submit. Two descriptors with
// the same performer and identity key are the same logical task: while one
// is queued or running, resubmission returns the existing execution.
type TaskDescriptor struct {
	Performer string
	// IdentityKey deduplicates concurrent submissions. Empty means every
	// submission is distinct.
	IdentityKey string
	Parameters  map[string]string
}

// TaskExecution is one running or finished asynchronous job.
type TaskExecution struct {
	ID          uuid.UUID
	Performer   string
	IdentityKey string
	Parameters  map[string]string
	Status      TaskStatus
	SubmittedAt time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
	// Result holds the performer's output map on FINISHED, and the error
	// text under the "error" key on ERROR.
	Result map[string]string
}

// IsTerminal reports whether the execution reached a final status.
func (e *TaskExecution) IsTerminal() bool { return e.Status.IsTerminal() }
