// Package testutil provides testing utilities.
package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"todosync/internal/service"
	"todosync/internal/task"
)

// DefaultUser is the identity NewFakeCollection signs in with.
const DefaultUser = "user-1"

// ErrInjected is a ready-made remote failure for tests.
var ErrInjected = errors.New("injected backend failure")

// Call records one remote operation received by the fake.
type Call struct {
	Op      string // "write" or "delete"
	OwnerID string
	TaskID  string
	Task    task.Task
}

type heldCall struct {
	Call
	release chan error
}

type fakeSub struct {
	owner string
	fn    func(service.Snapshot)
}

// FakeCollection is an in-memory service.Backend for testing.
//
// By default every successful write or delete echoes a fresh snapshot to the
// owner's listeners, like a real-time backend would. Tests that need to
// control the race between local edits and remote echo switch echo off and
// push snapshots themselves, and may hold remote calls until released.
type FakeCollection struct {
	mu      sync.Mutex
	user    string
	records map[string]map[string]task.Task // ownerID -> taskID -> task
	subs    map[int]*fakeSub
	nextSub int
	calls   []Call
	held    []*heldCall
	hold    bool
	noEcho  bool

	// notifyMu keeps snapshot delivery in the order snapshots were taken.
	notifyMu sync.Mutex

	// Error injection for testing
	WriteErr    error
	DeleteErr   error
	ListenErr   error
	IdentityErr error
}

// NewFakeCollection creates an empty collection signed in as DefaultUser.
func NewFakeCollection() *FakeCollection {
	return &FakeCollection{
		user:    DefaultUser,
		records: make(map[string]map[string]task.Task),
		subs:    make(map[int]*fakeSub),
	}
}

// SetUser changes the signed-in user. An empty id signs out.
func (f *FakeCollection) SetUser(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.user = id
}

// SetEcho turns automatic snapshots after writes and deletes on or off.
func (f *FakeCollection) SetEcho(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.noEcho = !on
}

// SetHold makes subsequent writes and deletes block until released.
func (f *FakeCollection) SetHold(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hold = on
}

// Seed stores tasks for owner without notifying listeners.
func (f *FakeCollection) Seed(owner string, tasks ...task.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range tasks {
		f.put(owner, t)
	}
}

// Records returns owner's stored tasks ordered by title.
func (f *FakeCollection) Records(owner string) []task.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.list(owner)
}

// Calls returns every remote operation received so far, in arrival order.
func (f *FakeCollection) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount returns how many operations of kind op were received.
func (f *FakeCollection) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Held returns how many calls are currently blocked.
func (f *FakeCollection) Held() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.held)
}

// WaitHeld waits until at least n calls are blocked or the timeout passes.
func (f *FakeCollection) WaitHeld(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if f.Held() >= n {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return f.Held() >= n
}

// ReleaseNext unblocks the oldest held call, failing it with err if non-nil.
// It reports whether a call was released.
func (f *FakeCollection) ReleaseNext(err error) bool {
	f.mu.Lock()
	if len(f.held) == 0 {
		f.mu.Unlock()
		return false
	}
	h := f.held[0]
	f.held = f.held[1:]
	f.mu.Unlock()

	h.release <- err
	return true
}

// ReleaseAll unblocks every held call and turns holding off.
func (f *FakeCollection) ReleaseAll(err error) {
	f.SetHold(false)
	for f.ReleaseNext(err) {
	}
}

// Push delivers a snapshot with exactly the given tasks to owner's
// listeners, whatever is stored.
func (f *FakeCollection) Push(owner string, tasks []task.Task, skipped ...*service.DecodeError) {
	sorted := make([]task.Task, len(tasks))
	copy(sorted, tasks)
	task.SortByTitle(sorted)
	f.notify(owner, func() service.Snapshot {
		return service.Snapshot{Tasks: sorted, Skipped: skipped}
	})
}

// PushStored delivers the stored records of owner to its listeners.
func (f *FakeCollection) PushStored(owner string) {
	f.notify(owner, func() service.Snapshot {
		return service.Snapshot{Tasks: f.Records(owner)}
	})
}

// CurrentUser implements service.IdentityProvider.
func (f *FakeCollection) CurrentUser(ctx context.Context) (service.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.IdentityErr != nil {
		return service.Identity{}, f.IdentityErr
	}
	if f.user == "" {
		return service.Identity{}, service.ErrNoIdentity
	}
	return service.Identity{ID: f.user}, nil
}

// Write implements service.Collection.
func (f *FakeCollection) Write(ctx context.Context, ownerID, taskID string, t task.Task) error {
	if err := f.arrive(ctx, Call{Op: "write", OwnerID: ownerID, TaskID: taskID, Task: t}, f.WriteErr); err != nil {
		return err
	}
	f.mu.Lock()
	t.ID = taskID
	f.put(ownerID, t)
	echo := !f.noEcho
	f.mu.Unlock()

	if echo {
		f.PushStored(ownerID)
	}
	return nil
}

// Delete implements service.Collection.
func (f *FakeCollection) Delete(ctx context.Context, ownerID, taskID string) error {
	if err := f.arrive(ctx, Call{Op: "delete", OwnerID: ownerID, TaskID: taskID}, f.DeleteErr); err != nil {
		return err
	}
	f.mu.Lock()
	delete(f.records[ownerID], taskID)
	echo := !f.noEcho
	f.mu.Unlock()

	if echo {
		f.PushStored(ownerID)
	}
	return nil
}

// Listen implements service.Collection. The current records are delivered
// before Listen returns.
func (f *FakeCollection) Listen(ctx context.Context, ownerID string, fn func(service.Snapshot)) (service.Subscription, error) {
	f.notifyMu.Lock()
	defer f.notifyMu.Unlock()

	f.mu.Lock()
	if f.ListenErr != nil {
		f.mu.Unlock()
		return nil, f.ListenErr
	}
	id := f.nextSub
	f.nextSub++
	f.subs[id] = &fakeSub{owner: ownerID, fn: fn}
	initial := f.list(ownerID)
	f.mu.Unlock()

	fn(service.Snapshot{Tasks: initial})

	return service.SubscriptionFunc(func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}), nil
}

// arrive records a call, blocks it while holding is on, and returns the
// error the call should fail with.
func (f *FakeCollection) arrive(ctx context.Context, c Call, injected error) error {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	if !f.hold {
		f.mu.Unlock()
		return injected
	}
	h := &heldCall{Call: c, release: make(chan error, 1)}
	f.held = append(f.held, h)
	f.mu.Unlock()

	select {
	case err := <-h.release:
		if err != nil {
			return err
		}
		return injected
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *FakeCollection) notify(owner string, take func() service.Snapshot) {
	f.notifyMu.Lock()
	defer f.notifyMu.Unlock()

	snap := take()
	f.mu.Lock()
	var fns []func(service.Snapshot)
	for _, s := range f.subs {
		if s.owner == owner {
			fns = append(fns, s.fn)
		}
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func (f *FakeCollection) put(owner string, t task.Task) {
	if f.records[owner] == nil {
		f.records[owner] = make(map[string]task.Task)
	}
	f.records[owner][t.ID] = t
}

func (f *FakeCollection) list(owner string) []task.Task {
	out := make([]task.Task, 0, len(f.records[owner]))
	for _, t := range f.records[owner] {
		out = append(out, t)
	}
	task.SortByTitle(out)
	return out
}
