package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"todosync/internal/task"
)

var (
	// ErrNoIdentity is returned by an IdentityProvider when nobody is signed in.
	ErrNoIdentity = errors.New("no signed-in user")

	// ErrCredentialsRevoked is wrapped by backends when the stored
	// credentials were rejected.
	ErrCredentialsRevoked = errors.New("token expired or revoked")
)

// Identity is an authenticated user.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// Snapshot is a full point-in-time listing of one owner's collection.
type Snapshot struct {
	// Tasks holds the records that decoded cleanly, ordered by title.
	Tasks []task.Task

	// Skipped holds one error per record that could not be decoded.
	Skipped []*DecodeError
}

// DecodeError reports a snapshot record that was skipped.
type DecodeError struct {
	TaskID string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.TaskID == "" {
		return fmt.Sprintf("decode task: %v", e.Err)
	}
	return fmt.Sprintf("decode task %s: %v", e.TaskID, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// StaticIdentity is an IdentityProvider with a fixed user.
// An empty ID means signed out.
type StaticIdentity struct {
	ID string
}

// CurrentUser implements IdentityProvider.
func (s StaticIdentity) CurrentUser(ctx context.Context) (Identity, error) {
	id := strings.TrimSpace(s.ID)
	if id == "" {
		return Identity{}, ErrNoIdentity
	}
	return Identity{ID: id}, nil
}
