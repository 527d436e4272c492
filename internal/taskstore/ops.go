package taskstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"todosync/internal/task"
)

// List returns the current view ordered by title, narrowed by filter when it
// is non-empty. After Close it returns the last view the store published.
func (s *Store) List(filter string) []task.Task {
	var view []task.Task
	err := s.call(context.Background(), func() {
		view = cloneTasks(s.st.view)
	})
	if err != nil {
		view = []task.Task{}
		if last := s.last.Load(); last != nil {
			view = cloneTasks(*last)
		}
	}
	return task.Filter(view, filter)
}

// Get returns the visible version of id.
func (s *Store) Get(id string) (task.Task, error) {
	var (
		t  task.Task
		ok bool
	)
	if err := s.call(context.Background(), func() {
		t, ok = s.st.lookup(id)
	}); err != nil {
		return task.Task{}, err
	}
	if !ok {
		return task.Task{}, ErrNotFound
	}
	return t, nil
}

// State returns the synchronization state of id.
func (s *Store) State(id string) (SyncState, error) {
	var (
		st SyncState
		ok bool
	)
	if err := s.call(context.Background(), func() {
		st, ok = s.st.stateOf(id)
	}); err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNotFound
	}
	return st, nil
}

// Create inserts a new task into the view at once and writes it remotely in
// the background. Validation and identity failures are returned before any
// remote call. The returned Ack reports the remote outcome; on failure the
// task stays visible in the WriteFailed state until Retry or Discard.
func (s *Store) Create(ctx context.Context, draft task.Draft) (task.Task, *Ack, error) {
	if err := draft.Validate(); err != nil {
		return task.Task{}, nil, err
	}
	if !s.started.Load() {
		return task.Task{}, nil, ErrNotStarted
	}
	if err := s.checkOwner(ctx); err != nil {
		return task.Task{}, nil, err
	}

	var (
		created task.Task
		ack     *Ack
		opErr   error
	)
	err := s.call(ctx, func() {
		id := s.opts.NewID()
		if id == "" {
			opErr = task.ErrMissingID
			return
		}
		if s.st.known(id) {
			opErr = fmt.Errorf("generated task id %s is already in use", id)
			return
		}

		now := s.opts.Now().UTC()
		t := task.Task{
			ID:          id,
			Title:       draft.Title,
			Description: draft.Description,
			Completed:   draft.Completed,
			DueDate:     draft.DueDate,
			CreatedAt:   now,
			OwnerID:     s.owner,
		}
		seq := s.st.create(t, now)
		ack = newAck(id, OpWrite)
		s.issue(OpWrite, id, seq, t, ack)
		s.publish()

		s.log.Debug("task created", zap.String("task_id", id), zap.Uint64("seq", seq))
		created = t
	})
	if err != nil {
		return task.Task{}, nil, err
	}
	if opErr != nil {
		return task.Task{}, nil, opErr
	}
	return created, ack, nil
}

// Update applies patch to a visible task at once and writes the full record
// remotely in the background. Updates to one task are written in call order;
// the last call's version is the one that stays visible.
func (s *Store) Update(ctx context.Context, id string, patch task.Patch) (*Ack, error) {
	if !s.started.Load() {
		return nil, ErrNotStarted
	}
	if err := s.checkOwner(ctx); err != nil {
		return nil, err
	}

	var (
		ack   *Ack
		opErr error
	)
	err := s.call(ctx, func() {
		cur, ok := s.st.lookup(id)
		if !ok {
			opErr = ErrNotFound
			return
		}
		next := patch.Apply(cur, s.opts.Now().UTC())
		if err := next.Validate(); err != nil {
			opErr = err
			return
		}

		seq := s.st.update(next, *next.UpdatedAt)
		ack = newAck(id, OpWrite)
		s.issue(OpWrite, id, seq, next, ack)
		s.publish()

		s.log.Debug("task updated", zap.String("task_id", id), zap.Uint64("seq", seq))
	})
	if err != nil {
		return nil, err
	}
	if opErr != nil {
		return nil, opErr
	}
	return ack, nil
}

// Delete removes a visible task from the view at once and deletes it
// remotely in the background. A remote failure is reported through the Ack
// but never brings the task back.
func (s *Store) Delete(ctx context.Context, id string) (*Ack, error) {
	if !s.started.Load() {
		return nil, ErrNotStarted
	}
	if err := s.checkOwner(ctx); err != nil {
		return nil, err
	}

	var (
		ack   *Ack
		opErr error
	)
	err := s.call(ctx, func() {
		if _, ok := s.st.lookup(id); !ok {
			opErr = ErrNotFound
			return
		}
		seq := s.st.remove(id, s.opts.Now())
		ack = newAck(id, OpDelete)
		s.issue(OpDelete, id, seq, task.Task{}, ack)
		s.publish()

		s.log.Debug("task deleted", zap.String("task_id", id), zap.Uint64("seq", seq))
	})
	if err != nil {
		return nil, err
	}
	if opErr != nil {
		return nil, opErr
	}
	return ack, nil
}

// Retry reissues the failed remote operation of id.
func (s *Store) Retry(ctx context.Context, id string) (*Ack, error) {
	if !s.started.Load() {
		return nil, ErrNotStarted
	}
	if err := s.checkOwner(ctx); err != nil {
		return nil, err
	}

	var (
		ack   *Ack
		opErr error
	)
	err := s.call(ctx, func() {
		now := s.opts.Now()
		if p, ok := s.st.pending[id]; ok && p.err != nil {
			p.seq, p.since, p.acked, p.err = s.st.bump(id), now, false, nil
			ack = newAck(id, OpWrite)
			s.issue(OpWrite, id, p.seq, p.task, ack)
			return
		}
		if tb, ok := s.st.tombstones[id]; ok && tb.err != nil {
			tb.seq, tb.since, tb.acked, tb.err = s.st.bump(id), now, false, nil
			ack = newAck(id, OpDelete)
			s.issue(OpDelete, id, tb.seq, task.Task{}, ack)
			return
		}
		if _, ok := s.st.stateOf(id); !ok {
			opErr = ErrNotFound
			return
		}
		opErr = ErrNothingToRetry
	})
	if err != nil {
		return nil, err
	}
	if opErr != nil {
		return nil, opErr
	}
	s.log.Info("retrying remote operation", zap.String("op", ack.Op()), zap.String("task_id", id))
	return ack, nil
}

// Discard drops the failed local write of id. A failed create disappears from
// the view; a failed update falls back to the last remote version. A failed
// delete is given up without bringing the task back.
func (s *Store) Discard(id string) error {
	var opErr error
	err := s.call(context.Background(), func() {
		if s.st.abandon(id) {
			s.log.Info("discarded failed delete", zap.String("task_id", id))
			s.publish()
			return
		}
		p, ok := s.st.pending[id]
		if !ok || p.err == nil {
			if _, known := s.st.stateOf(id); !known {
				opErr = ErrNotFound
				return
			}
			opErr = ErrNothingToRetry
			return
		}
		delete(s.st.pending, id)
		s.publish()
	})
	if err != nil {
		return err
	}
	return opErr
}
