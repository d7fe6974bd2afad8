package parallel

import (
	"errors"
	"fmt"
)

// Sentinel errors for the parallel execution layer.
var (
	// ErrResourceUnavailable is returned when a backend, executor, or object
	// reference is used after the owning session was shut down.
	ErrResourceUnavailable = errors.New("parallel: backend session is shut down")

	// ErrUnknownTask is returned when a wrapped task name has no registered
	// handler on the receiving side.
	ErrUnknownTask = errors.New("parallel: no task registered under this name")

	// ErrUnknownObject is returned when an object reference does not resolve
	// within the owning session.
	ErrUnknownObject = errors.New("parallel: object reference not found")
)

// TaskError wraps a failure raised by a single submitted unit of work. It is
// delivered only to whoever awaits that future; sibling futures are unaffected.
type TaskError struct {
	TaskID string
	Err    error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("parallel: task %s failed: %v", e.TaskID, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// JobError reports a failed map-reduce job. Any chunk failure aborts the
// whole job; there is no partial-result tolerance.
type JobError struct {
	Chunk int
	Err   error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("parallel: map-reduce chunk %d failed: %v", e.Chunk, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }
