package taskstore

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"todosync/internal/task"
)

// Observer receives store events. internal/metrics implements it with
// Prometheus counters.
type Observer interface {
	RemoteOpIssued(op string)
	RemoteOpFailed(op string)
	StaleConfirmation(op string)
	SnapshotApplied(records, skipped int)
	PendingExpired()
}

// Options configures a Store. The zero value is usable.
type Options struct {
	// Logger receives structured logs. Defaults to a no-op logger.
	Logger *zap.Logger

	// Observer receives store events. Defaults to a no-op observer.
	Observer Observer

	// PendingTimeout bounds how long a pending optimistic version overrides
	// remote snapshots after its last local edit. Zero disables expiry.
	PendingTimeout time.Duration

	// WriteTimeout bounds each remote write or delete. Zero means no bound
	// beyond the store's lifetime.
	WriteTimeout time.Duration

	// OnChange, if set, is called from the store goroutine with a copy of the
	// view whenever it changes. It must not call back into the store.
	OnChange func([]task.Task)

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// NewID returns a fresh task identity. Defaults to a random UUID.
	NewID func() string
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = func() string { return uuid.NewString() }
	}
	return o
}

type nopObserver struct{}

func (nopObserver) RemoteOpIssued(string)    {}
func (nopObserver) RemoteOpFailed(string)    {}
func (nopObserver) StaleConfirmation(string) {}
func (nopObserver) SnapshotApplied(int, int) {}
func (nopObserver) PendingExpired()          {}
