package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotReady marks a "precondition not met" outcome: the handler could not
// do its work yet, but nothing failed. The queue completes the task as a
// no-op without consuming a retry and without chaining a follow-up.
var ErrNotReady = errors.New("precondition not met")

// TaskNotFoundError is returned when a task ID does not exist.
type TaskNotFoundError struct {
	TaskID int64
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task not found: %d", e.TaskID)
}

// BlockNotFoundError is returned when a block ID does not exist.
type BlockNotFoundError struct {
	BlockID int64
}

func (e *BlockNotFoundError) Error() string {
	return fmt.Sprintf("block not found: %d", e.BlockID)
}

// InvalidTaskTypeError is returned when no handler is registered for a task type.
type InvalidTaskTypeError struct {
	TaskType TaskType
}

func (e *InvalidTaskTypeError) Error() string {
	return fmt.Sprintf("no handler registered for task type %q", e.TaskType)
}

// InvalidTransitionError is returned when a block status change would
// violate the pipeline state machine.
type InvalidTransitionError struct {
	BlockID int64
	From    BlockStatus
	To      BlockStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("block %d: illegal transition %s → %s", e.BlockID, e.From, e.To)
}

// DigestNotFoundError is returned when no digest has been persisted for a date.
type DigestNotFoundError struct {
	ShowDate time.Time
}

func (e *DigestNotFoundError) Error() string {
	return fmt.Sprintf("no digest for %s", ShowDateKey(e.ShowDate))
}
