// Package reminder schedules notifications for tasks with a due date.
package reminder

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"todosync/internal/task"
)

// ErrNotInFuture is returned when a reminder's time has already passed.
var ErrNotInFuture = errors.New("reminder time is not in the future")

// Reminder is a single scheduled notification.
type Reminder struct {
	ID    string
	Title string
	Body  string
	At    time.Time
}

// FromTask builds the reminder for t. It reports false for tasks that are
// completed or have no due date. Reminders share the task's ID so a task
// never has two.
func FromTask(t task.Task) (Reminder, bool) {
	if t.DueDate.IsZero() || t.Completed {
		return Reminder{}, false
	}
	id := t.ID
	if id == "" {
		id = uuid.NewString()
	}
	return Reminder{ID: id, Title: t.Title, Body: t.Description, At: t.DueDate}, true
}

// Notifier delivers a reminder when it fires.
type Notifier interface {
	Notify(r Reminder) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(r Reminder) error

func (f NotifierFunc) Notify(r Reminder) error { return f(r) }

// WriterNotifier prints reminders as lines to W.
type WriterNotifier struct {
	mu sync.Mutex
	W  io.Writer
}

// Notify implements Notifier.
func (n *WriterNotifier) Notify(r Reminder) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, err := fmt.Fprintf(n.W, "reminder: %s (due %s)\n", r.Title, r.At.Local().Format("2006-01-02 15:04"))
	return err
}

type scheduled struct {
	r     Reminder
	timer *time.Timer
}

// Scheduler fires reminders at their time using one timer each.
type Scheduler struct {
	notifier Notifier
	now      func() time.Time
	log      *zap.Logger

	mu      sync.Mutex
	pending map[string]*scheduled
	stopped bool
}

// NewScheduler creates a scheduler. now and log may be nil.
func NewScheduler(n Notifier, now func() time.Time, log *zap.Logger) *Scheduler {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		notifier: n,
		now:      now,
		log:      log.Named("reminder"),
		pending:  make(map[string]*scheduled),
	}
}

// Schedule arms r, replacing any reminder with the same ID.
func (s *Scheduler) Schedule(r Reminder) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	delay := r.At.Sub(s.now())
	if delay <= 0 {
		return ErrNotInFuture
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errors.New("scheduler stopped")
	}
	s.cancelLocked(r.ID)

	entry := &scheduled{r: r}
	entry.timer = time.AfterFunc(delay, func() { s.fire(entry) })
	s.pending[r.ID] = entry
	return nil
}

// Cancel disarms the reminder with id, if any.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(id)
}

func (s *Scheduler) cancelLocked(id string) {
	if e, ok := s.pending[id]; ok {
		e.timer.Stop()
		delete(s.pending, id)
	}
}

// Sync makes the armed reminders match tasks: future due dates of open tasks
// are scheduled, everything else is cancelled. Unchanged reminders keep
// their timers.
func (s *Scheduler) Sync(tasks []task.Task) {
	want := make(map[string]Reminder)
	for _, t := range tasks {
		if r, ok := FromTask(t); ok && r.At.After(s.now()) {
			want[r.ID] = r
		}
	}

	s.mu.Lock()
	for id, e := range s.pending {
		if r, ok := want[id]; !ok || !r.At.Equal(e.r.At) || r.Title != e.r.Title || r.Body != e.r.Body {
			s.cancelLocked(id)
		} else {
			delete(want, id)
		}
	}
	s.mu.Unlock()

	for _, r := range want {
		if err := s.Schedule(r); err != nil && !errors.Is(err, ErrNotInFuture) {
			s.log.Warn("scheduling reminder failed", zap.String("task_id", r.ID), zap.Error(err))
		}
	}
}

// Pending returns the IDs of armed reminders in order.
func (s *Scheduler) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stop disarms every reminder. Schedule fails afterwards.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.pending {
		s.cancelLocked(id)
	}
	s.stopped = true
}

func (s *Scheduler) fire(e *scheduled) {
	s.mu.Lock()
	if cur, ok := s.pending[e.r.ID]; !ok || cur != e {
		s.mu.Unlock()
		return
	}
	delete(s.pending, e.r.ID)
	s.mu.Unlock()

	if err := s.notifier.Notify(e.r); err != nil {
		s.log.Warn("delivering reminder failed", zap.String("task_id", e.r.ID), zap.Error(err))
	}
}
