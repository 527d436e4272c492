// Package service defines the backend-agnostic contracts the task store consumes.
package service

import (
	"context"

	"todosync/internal/task"
)

// Collection is a remote, per-owner task collection.
// The task store never imports a backend SDK directly; everything goes
// through this interface.
type Collection interface {
	// Write stores the full record under ownerID/taskID, replacing any
	// previous version.
	Write(ctx context.Context, ownerID, taskID string, t task.Task) error

	// Delete removes ownerID/taskID. Deleting a missing task is not an error.
	Delete(ctx context.Context, ownerID, taskID string) error

	// Listen delivers the owner's full collection to fn on attach and after
	// every change from any source, ordered by title ascending.
	// fn is called from a single goroutine and must not block for long.
	Listen(ctx context.Context, ownerID string, fn func(Snapshot)) (Subscription, error)
}

// Subscription is a handle to an attached listener.
type Subscription interface {
	// Unsubscribe detaches the listener. No callbacks run after it returns.
	Unsubscribe()
}

// IdentityProvider exposes the currently signed-in user.
type IdentityProvider interface {
	// CurrentUser returns the signed-in identity, or ErrNoIdentity.
	CurrentUser(ctx context.Context) (Identity, error)
}

// Backend is a collection that also knows who is signed in to it.
// The CLI builds one per invocation.
type Backend interface {
	Collection
	IdentityProvider
}

// SubscriptionFunc adapts a plain function to Subscription.
type SubscriptionFunc func()

// Unsubscribe implements Subscription.
func (f SubscriptionFunc) Unsubscribe() { f() }

// WithIdentity combines a collection with a separate identity provider.
func WithIdentity(c Collection, ids IdentityProvider) Backend {
	return &combined{Collection: c, IdentityProvider: ids}
}

type combined struct {
	Collection
	IdentityProvider
}
