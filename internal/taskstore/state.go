package taskstore

import (
	"errors"
	"fmt"
	"time"

	"todosync/internal/service"
	"todosync/internal/task"
)

// SyncState is the synchronization state of one record.
type SyncState int

const (
	Confirmed SyncState = iota
	PendingCreate
	PendingUpdate
	PendingDelete
	WriteFailed
)

func (s SyncState) String() string {
	switch s {
	case Confirmed:
		return "confirmed"
	case PendingCreate:
		return "pending-create"
	case PendingUpdate:
		return "pending-update"
	case PendingDelete:
		return "pending-delete"
	case WriteFailed:
		return "write-failed"
	default:
		return fmt.Sprintf("SyncState(%d)", int(s))
	}
}

// pendingWrite is an optimistic local version not yet seen in a snapshot.
type pendingWrite struct {
	kind  SyncState // PendingCreate or PendingUpdate
	task  task.Task
	seq   uint64    // sequence of the latest local edit
	since time.Time // time of the latest local edit or retry
	acked bool      // the latest write was acknowledged by the backend
	err   error     // non-nil once the latest write failed
}

// tombstone suppresses a locally deleted identity until the backend stops
// listing it.
type tombstone struct {
	seq   uint64
	since time.Time
	acked bool
	err   error
	// abandoned marks a failed delete given up through Discard. The identity
	// stays hidden but no longer reports a sync state.
	abandoned bool
}

// state is the store's mutable data. Only the store goroutine touches it.
type state struct {
	owner      string
	remote     map[string]task.Task
	pending    map[string]*pendingWrite
	tombstones map[string]*tombstone
	latest     map[string]uint64 // sequence of the latest local edit per id
	view       []task.Task
	index      map[string]int
	seq        uint64
}

func newState(owner string) *state {
	return &state{
		owner:      owner,
		remote:     make(map[string]task.Task),
		pending:    make(map[string]*pendingWrite),
		tombstones: make(map[string]*tombstone),
		latest:     make(map[string]uint64),
		index:      make(map[string]int),
	}
}

// bump assigns the next sequence number to a local edit of id.
func (s *state) bump(id string) uint64 {
	s.seq++
	s.latest[id] = s.seq
	return s.seq
}

// forget drops bookkeeping for an id with nothing left in flight.
func (s *state) forget(id string) {
	if _, ok := s.pending[id]; ok {
		return
	}
	if _, ok := s.tombstones[id]; ok {
		return
	}
	delete(s.latest, id)
}

// lookup returns the visible version of id.
func (s *state) lookup(id string) (task.Task, bool) {
	i, ok := s.index[id]
	if !ok {
		return task.Task{}, false
	}
	return s.view[i], true
}

// known reports whether id is used anywhere, visible or not.
func (s *state) known(id string) bool {
	if _, ok := s.remote[id]; ok {
		return true
	}
	if _, ok := s.pending[id]; ok {
		return true
	}
	_, ok := s.tombstones[id]
	return ok
}

// create records an optimistic insert and returns its sequence number.
func (s *state) create(t task.Task, now time.Time) uint64 {
	seq := s.bump(t.ID)
	s.pending[t.ID] = &pendingWrite{kind: PendingCreate, task: t, seq: seq, since: now}
	return seq
}

// update records an optimistic replacement of a visible record. A record
// whose create is still unconfirmed stays in pending-create.
func (s *state) update(t task.Task, now time.Time) uint64 {
	seq := s.bump(t.ID)
	kind := PendingUpdate
	if p, ok := s.pending[t.ID]; ok && p.kind == PendingCreate {
		kind = PendingCreate
	}
	s.pending[t.ID] = &pendingWrite{kind: kind, task: t, seq: seq, since: now}
	return seq
}

// remove hides id locally and records a tombstone for the remote delete.
func (s *state) remove(id string, now time.Time) uint64 {
	seq := s.bump(id)
	delete(s.pending, id)
	s.tombstones[id] = &tombstone{seq: seq, since: now}
	return seq
}

// abandon gives up the failed remote delete of id. The local removal stands
// until a snapshot no longer lists id.
func (s *state) abandon(id string) bool {
	tb, ok := s.tombstones[id]
	if !ok || tb.err == nil {
		return false
	}
	tb.err, tb.acked, tb.abandoned = nil, true, true
	if _, listed := s.remote[id]; !listed {
		delete(s.tombstones, id)
	}
	return true
}

// writeResult applies the outcome of a remote write. It returns
// errStaleConfirmation when a newer local edit or a delete superseded it.
func (s *state) writeResult(id string, seq uint64, err error) error {
	if s.latest[id] != seq {
		return errStaleConfirmation
	}
	p, ok := s.pending[id]
	if !ok {
		// A snapshot already confirmed this version.
		return nil
	}
	if err != nil {
		p.err = err
		return nil
	}
	p.acked = true
	if r, ok := s.remote[id]; ok && r.Equal(p.task) {
		delete(s.pending, id)
	}
	return nil
}

// deleteResult applies the outcome of a remote delete.
func (s *state) deleteResult(id string, seq uint64, err error) error {
	if s.latest[id] != seq {
		return errStaleConfirmation
	}
	tb, ok := s.tombstones[id]
	if !ok {
		return nil
	}
	if err != nil {
		tb.err = err
		return nil
	}
	tb.acked = true
	if _, listed := s.remote[id]; !listed {
		delete(s.tombstones, id)
	}
	return nil
}

// applySnapshot replaces the remote baseline and settles pending state
// against it. Records that violate the task invariants, belong to another
// owner or repeat an identity are skipped and returned as decode errors.
func (s *state) applySnapshot(snap service.Snapshot) []*service.DecodeError {
	skipped := append([]*service.DecodeError(nil), snap.Skipped...)

	remote := make(map[string]task.Task, len(snap.Tasks))
	for _, t := range snap.Tasks {
		if err := t.Validate(); err != nil {
			skipped = append(skipped, &service.DecodeError{TaskID: t.ID, Err: err})
			continue
		}
		if t.OwnerID != "" && t.OwnerID != s.owner {
			skipped = append(skipped, &service.DecodeError{TaskID: t.ID, Err: errForeignOwner})
			continue
		}
		if _, dup := remote[t.ID]; dup {
			skipped = append(skipped, &service.DecodeError{TaskID: t.ID, Err: errDuplicateID})
			continue
		}
		remote[t.ID] = t
	}
	s.remote = remote

	for id, p := range s.pending {
		if r, ok := remote[id]; ok && r.Equal(p.task) {
			delete(s.pending, id)
		}
	}
	for id, tb := range s.tombstones {
		if _, listed := remote[id]; !listed && tb.acked {
			delete(s.tombstones, id)
		}
	}
	return skipped
}

var (
	errForeignOwner = errors.New("record belongs to another owner")
	errDuplicateID  = errors.New("duplicate task id in snapshot")
)

// expire drops acknowledged optimistic state older than timeout so the
// remote baseline wins again. In-flight and failed operations are kept.
func (s *state) expire(now time.Time, timeout time.Duration) int {
	n := 0
	for id, p := range s.pending {
		if p.acked && p.err == nil && now.Sub(p.since) >= timeout {
			delete(s.pending, id)
			n++
		}
	}
	for id, tb := range s.tombstones {
		if tb.acked && tb.err == nil && !tb.abandoned && now.Sub(tb.since) >= timeout {
			delete(s.tombstones, id)
			n++
		}
	}
	return n
}

// stateOf reports the synchronization state of id.
func (s *state) stateOf(id string) (SyncState, bool) {
	if p, ok := s.pending[id]; ok {
		if p.err != nil {
			return WriteFailed, true
		}
		return p.kind, true
	}
	if tb, ok := s.tombstones[id]; ok && !tb.abandoned {
		if tb.err != nil {
			return WriteFailed, true
		}
		return PendingDelete, true
	}
	if _, ok := s.index[id]; ok {
		return Confirmed, true
	}
	return 0, false
}

// rebuild recomputes the ordered view and reports whether it changed.
func (s *state) rebuild() bool {
	view := make([]task.Task, 0, len(s.remote)+len(s.pending))
	for id, t := range s.remote {
		if _, deleted := s.tombstones[id]; deleted {
			continue
		}
		if _, overridden := s.pending[id]; overridden {
			continue
		}
		view = append(view, t)
	}
	for _, p := range s.pending {
		view = append(view, p.task)
	}
	task.SortByTitle(view)

	changed := !sameTasks(s.view, view)
	s.view = view
	s.index = make(map[string]int, len(view))
	for i, t := range view {
		s.index[t.ID] = i
	}
	return changed
}

func sameTasks(a, b []task.Task) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

func cloneTasks(tasks []task.Task) []task.Task {
	if tasks == nil {
		return []task.Task{}
	}
	out := make([]task.Task, len(tasks))
	copy(out, tasks)
	return out
}
