package taskstore

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a mutation targets an unknown task.
	ErrNotFound = errors.New("task not found")

	// ErrUnauthenticated is returned when no user is signed in, or the
	// signed-in user is not the one the store was started for.
	ErrUnauthenticated = errors.New("not signed in")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("task store closed")

	// ErrNotStarted is returned by operations before Start.
	ErrNotStarted = errors.New("task store not started")

	// ErrNothingToRetry is returned by Retry and Discard when the task has
	// no failed remote operation.
	ErrNothingToRetry = errors.New("task has no failed remote operation")

	// errStaleConfirmation marks a remote result that arrived after a newer
	// local edit or a local delete. It never leaves the package.
	errStaleConfirmation = errors.New("stale confirmation")
)

// Remote operation names used in errors, logs and metrics.
const (
	OpWrite  = "write"
	OpDelete = "delete"
)

// RemoteWriteError reports a remote write or delete the backend failed to
// persist.
type RemoteWriteError struct {
	Op     string
	TaskID string
	Err    error
}

func (e *RemoteWriteError) Error() string {
	return fmt.Sprintf("remote %s of task %s failed: %v", e.Op, e.TaskID, e.Err)
}

func (e *RemoteWriteError) Unwrap() error { return e.Err }

// IsRemoteWriteError reports whether err is or wraps a RemoteWriteError.
func IsRemoteWriteError(err error) bool {
	var rwe *RemoteWriteError
	return errors.As(err, &rwe)
}
