// Package taskstore keeps an in-memory, title-ordered view of one user's
// tasks consistent with a remote collection.
//
// Local mutations are applied optimistically and pushed to the collection in
// the background. Full snapshots from the collection's listener replace the
// remote baseline, while pending local versions keep precedence for their
// identities until a snapshot confirms them or they time out. All state is
// owned by a single goroutine; public methods, remote results, snapshots and
// timeout sweeps are messages processed by it in arrival order.
package taskstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"todosync/internal/service"
	"todosync/internal/task"
)

// Store is the single owner of the local task view.
type Store struct {
	coll service.Collection
	ids  service.IdentityProvider
	opts Options
	log  *zap.Logger

	mu      sync.Mutex
	started atomic.Bool
	closed  bool
	owner   string
	sub     service.Subscription

	ctx      context.Context
	cancel   context.CancelFunc
	inbox    chan func()
	loopDone chan struct{}
	ready    chan struct{}
	ops      sync.WaitGroup
	last     atomic.Pointer[[]task.Task]

	// Owned by the store goroutine.
	st        *state
	isReady   bool
	chains    map[string]chan struct{}
	inflight  int
	flushWait []chan struct{}
}

// New creates a store over the given collection and identity provider.
// Call Start before any other method.
func New(coll service.Collection, ids service.IdentityProvider, opts Options) *Store {
	opts = opts.withDefaults()
	return &Store{
		coll:     coll,
		ids:      ids,
		opts:     opts,
		log:      opts.Logger.Named("taskstore"),
		inbox:    make(chan func()),
		loopDone: make(chan struct{}),
		ready:    make(chan struct{}),
		chains:   make(map[string]chan struct{}),
	}
}

// Start resolves the signed-in owner, starts the store goroutine and attaches
// the remote listener. The store runs until Close is called or ctx ends.
func (s *Store) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.started.Load() {
		return errors.New("task store already started")
	}

	id, err := s.ids.CurrentUser(ctx)
	if err != nil {
		if errors.Is(err, service.ErrNoIdentity) {
			return ErrUnauthenticated
		}
		return fmt.Errorf("resolving signed-in user: %w", err)
	}

	s.owner = id.ID
	s.st = newState(id.ID)
	s.log = s.log.With(zap.String("owner_id", id.ID))
	s.ctx, s.cancel = context.WithCancel(ctx)
	go s.run()

	sub, err := s.coll.Listen(s.ctx, s.owner, s.onRemoteSnapshot)
	if err != nil {
		s.cancel()
		<-s.loopDone
		s.closed = true
		return fmt.Errorf("attaching listener: %w", err)
	}
	s.sub = sub
	s.started.Store(true)

	s.log.Debug("task store started")
	return nil
}

// Owner returns the identity the store was started for.
func (s *Store) Owner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

// WaitReady blocks until the first remote snapshot has been applied.
func (s *Store) WaitReady(ctx context.Context) error {
	if !s.started.Load() {
		return ErrNotStarted
	}
	select {
	case <-s.ready:
		return nil
	case <-s.loopDone:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush blocks until every remote operation issued so far has resolved.
func (s *Store) Flush(ctx context.Context) error {
	wait := make(chan struct{})
	err := s.call(ctx, func() {
		if s.inflight == 0 {
			close(wait)
			return
		}
		s.flushWait = append(s.flushWait, wait)
	})
	if err != nil {
		return err
	}
	select {
	case <-wait:
		return nil
	case <-s.loopDone:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close detaches the listener, cancels in-flight remote operations and stops
// the store goroutine. Pending acks resolve with an error.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if !s.started.Load() {
		return nil
	}

	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	s.cancel()
	<-s.loopDone
	s.ops.Wait()

	s.log.Debug("task store closed")
	return nil
}

// run is the store goroutine.
func (s *Store) run() {
	defer close(s.loopDone)

	var sweep <-chan time.Time
	if s.opts.PendingTimeout > 0 {
		ticker := time.NewTicker(sweepInterval(s.opts.PendingTimeout))
		defer ticker.Stop()
		sweep = ticker.C
	}

	for {
		select {
		case msg := <-s.inbox:
			msg()
		case <-sweep:
			s.expirePending()
		case <-s.ctx.Done():
			return
		}
	}
}

func sweepInterval(timeout time.Duration) time.Duration {
	d := timeout / 4
	if d < 5*time.Millisecond {
		d = 5 * time.Millisecond
	}
	if d > time.Second {
		d = time.Second
	}
	return d
}

// call runs fn on the store goroutine and waits for it to finish.
func (s *Store) call(ctx context.Context, fn func()) error {
	if !s.started.Load() {
		return ErrNotStarted
	}

	done := make(chan struct{})
	msg := func() {
		fn()
		close(done)
	}

	select {
	case s.inbox <- msg:
	case <-s.loopDone:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-s.loopDone:
		select {
		case <-done:
			return nil
		default:
			return ErrClosed
		}
	}
}

// onRemoteSnapshot is the listener callback. It hands the snapshot to the
// store goroutine so it is serialized with local mutations.
func (s *Store) onRemoteSnapshot(snap service.Snapshot) {
	msg := func() { s.applySnapshot(snap) }
	select {
	case s.inbox <- msg:
	case <-s.loopDone:
	}
}

func (s *Store) applySnapshot(snap service.Snapshot) {
	skipped := s.st.applySnapshot(snap)
	for id := range s.st.latest {
		if _, busy := s.chains[id]; !busy {
			s.st.forget(id)
		}
	}
	for _, derr := range skipped {
		s.log.Warn("skipping malformed task in snapshot",
			zap.String("task_id", derr.TaskID),
			zap.Error(derr.Err))
	}
	s.opts.Observer.SnapshotApplied(len(snap.Tasks), len(skipped))
	s.log.Debug("snapshot applied",
		zap.Int("records", len(snap.Tasks)),
		zap.Int("skipped", len(skipped)),
		zap.Int("pending", len(s.st.pending)),
		zap.Int("tombstones", len(s.st.tombstones)))

	s.publish()
	if !s.isReady {
		s.isReady = true
		close(s.ready)
	}
}

func (s *Store) expirePending() {
	n := s.st.expire(s.opts.Now(), s.opts.PendingTimeout)
	if n == 0 {
		return
	}
	for i := 0; i < n; i++ {
		s.opts.Observer.PendingExpired()
	}
	s.log.Info("pending local changes timed out", zap.Int("count", n))
	s.publish()
}

// publish rebuilds the view and notifies observers when it changed.
func (s *Store) publish() {
	if !s.st.rebuild() {
		return
	}
	view := cloneTasks(s.st.view)
	s.last.Store(&view)
	if s.opts.OnChange != nil {
		s.opts.OnChange(cloneTasks(view))
	}
}

// issue starts a remote operation for id. Operations on the same identity run
// strictly in issue order.
func (s *Store) issue(op, id string, seq uint64, rec task.Task, ack *Ack) {
	prev := s.chains[id]
	done := make(chan struct{})
	s.chains[id] = done
	s.inflight++
	s.ops.Add(1)
	s.opts.Observer.RemoteOpIssued(op)

	go func() {
		defer s.ops.Done()
		defer close(done)

		if prev != nil {
			select {
			case <-prev:
			case <-s.ctx.Done():
			}
		}

		err := s.ctx.Err()
		if err == nil {
			err = s.exec(op, id, rec)
		}

		msg := func() { s.finish(op, id, seq, done, err, ack) }
		select {
		case s.inbox <- msg:
		case <-s.loopDone:
			if err == nil {
				err = ErrClosed
			}
			ack.resolve(&RemoteWriteError{Op: op, TaskID: id, Err: err})
		}
	}()
}

func (s *Store) exec(op, id string, rec task.Task) error {
	ctx := s.ctx
	if s.opts.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.WriteTimeout)
		defer cancel()
	}
	if op == OpDelete {
		return s.coll.Delete(ctx, s.owner, id)
	}
	return s.coll.Write(ctx, s.owner, id, rec)
}

// finish applies a remote outcome on the store goroutine.
func (s *Store) finish(op, id string, seq uint64, done chan struct{}, err error, ack *Ack) {
	s.inflight--
	chainIdle := s.chains[id] == done
	if chainIdle {
		delete(s.chains, id)
	}

	var applyErr error
	if op == OpDelete {
		applyErr = s.st.deleteResult(id, seq, err)
	} else {
		applyErr = s.st.writeResult(id, seq, err)
	}

	if errors.Is(applyErr, errStaleConfirmation) {
		s.opts.Observer.StaleConfirmation(op)
		s.log.Debug("ignoring stale remote result",
			zap.String("op", op),
			zap.String("task_id", id),
			zap.Uint64("seq", seq))
	}

	var result error
	if err != nil {
		result = &RemoteWriteError{Op: op, TaskID: id, Err: err}
		s.opts.Observer.RemoteOpFailed(op)
		s.log.Warn("remote operation failed",
			zap.String("op", op),
			zap.String("task_id", id),
			zap.Error(err))
	}

	if chainIdle {
		s.st.forget(id)
	}

	s.publish()
	ack.resolve(result)

	if s.inflight == 0 {
		for _, w := range s.flushWait {
			close(w)
		}
		s.flushWait = nil
	}
}

// checkOwner verifies the store's owner is still the signed-in user.
func (s *Store) checkOwner(ctx context.Context) error {
	id, err := s.ids.CurrentUser(ctx)
	if err != nil {
		if errors.Is(err, service.ErrNoIdentity) {
			return ErrUnauthenticated
		}
		return fmt.Errorf("resolving signed-in user: %w", err)
	}
	if id.ID != s.owner {
		return fmt.Errorf("%w: signed-in user changed", ErrUnauthenticated)
	}
	return nil
}
