// Package exitcode defines exit codes for the CLI.
package exitcode

import (
	"context"
	"errors"

	"todosync/internal/credential"
	"todosync/internal/service"
	"todosync/internal/task"
	"todosync/internal/taskstore"
)

const (
	// Success indicates successful completion.
	Success = 0

	// UserError indicates a user error (bad args, not found, ambiguous).
	UserError = 1

	// AuthError indicates an auth/config error.
	AuthError = 2

	// BackendError indicates a backend/API/network error.
	BackendError = 3
)

// FromError maps an error returned by the task store or a backend to an
// exit code. A nil error is Success; unknown errors are backend errors.
func FromError(err error) int {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, taskstore.ErrUnauthenticated),
		errors.Is(err, service.ErrNoIdentity),
		errors.Is(err, service.ErrCredentialsRevoked),
		errors.Is(err, credential.ErrNoToken),
		errors.Is(err, credential.ErrNoOAuthClient):
		return AuthError
	case taskstore.IsRemoteWriteError(err),
		errors.Is(err, context.DeadlineExceeded):
		return BackendError
	case errors.Is(err, taskstore.ErrNotFound),
		errors.Is(err, taskstore.ErrNothingToRetry),
		errors.Is(err, task.ErrEmptyTitle),
		errors.Is(err, task.ErrMissingID),
		errors.Is(err, task.ErrUpdatedBeforeCreated):
		return UserError
	default:
		return BackendError
	}
}
