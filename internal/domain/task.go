package domain

import "time"

// Status represents the states a queued task can be in.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusRetry     Status = "RETRY"
)

// IsTerminal returns true if no further state transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsOpen reports whether the task still occupies its (type, reference)
// dedup slot: open tasks block a second enqueue of the same work.
func (s Status) IsOpen() bool {
	return s == StatusPending || s == StatusRunning || s == StatusRetry
}

// TaskType is the closed enum of pipeline stages the queue dispatches.
type TaskType string

const (
	TaskTranscribe   TaskType = "TRANSCRIBE"
	TaskSummarize    TaskType = "SUMMARIZE"
	TaskEmailBlock   TaskType = "EMAIL_BLOCK" // per-block email, off in digest-only mode
	TaskCreateDigest TaskType = "CREATE_DIGEST"
	TaskEmailDigest  TaskType = "EMAIL_DIGEST"
)

// AllTaskTypes lists every member of the enum. The queue validates at
// startup that a handler is registered for each enabled type, so a missing
// handler surfaces before the first task is picked, not at dispatch time.
var AllTaskTypes = []TaskType{
	TaskTranscribe,
	TaskSummarize,
	TaskEmailBlock,
	TaskCreateDigest,
	TaskEmailDigest,
}

// DateScoped reports whether tasks of this type reference a show date
// instead of a single block. Date-scoped tasks dedup on (type, show_date).
func (t TaskType) DateScoped() bool {
	return t == TaskCreateDigest || t == TaskEmailDigest
}

// Task is a unit of queued, retryable pipeline work. IDs are assigned by
// the store in insertion order and double as the FIFO tie-break.
type Task struct {
	ID          int64      `json:"id"`
	Type        TaskType   `json:"type"`
	BlockID     *int64     `json:"block_id,omitempty"`
	ShowDate    *time.Time `json:"show_date,omitempty"`
	Payload     []byte     `json:"payload,omitempty"`
	Status      Status     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
