// Package task defines the task record shared by the store and its backends.
package task

import (
	"errors"
	"strings"
	"time"
)

// Validation errors. These are raised before any remote call.
var (
	ErrEmptyTitle           = errors.New("task title must not be empty")
	ErrMissingID            = errors.New("task id must not be empty")
	ErrUpdatedBeforeCreated = errors.New("task updated_at precedes created_at")
)

// Task is a single to-do record owned by one user.
type Task struct {
	ID          string     `json:"id" db:"id"`
	Title       string     `json:"title" db:"title"`
	Description string     `json:"description" db:"description"`
	Completed   bool       `json:"completed" db:"completed"`
	DueDate     time.Time  `json:"due_date" db:"due_date"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty" db:"updated_at"`
	OwnerID     string     `json:"owner_id" db:"owner_id"`
}

// Draft holds the user-supplied fields of a task that does not exist yet.
type Draft struct {
	Title       string
	Description string
	DueDate     time.Time
	Completed   bool
}

// Patch replaces the fields that are non-nil. Fields are replaced whole.
type Patch struct {
	Title       *string
	Description *string
	Completed   *bool
	DueDate     *time.Time
}

// Validate checks the invariants every persisted task must hold.
func (t Task) Validate() error {
	if t.ID == "" {
		return ErrMissingID
	}
	if strings.TrimSpace(t.Title) == "" {
		return ErrEmptyTitle
	}
	if t.UpdatedAt != nil && t.UpdatedAt.Before(t.CreatedAt) {
		return ErrUpdatedBeforeCreated
	}
	return nil
}

// Validate checks a draft before it becomes a task.
func (d Draft) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return ErrEmptyTitle
	}
	return nil
}

// Apply returns a copy of t with the patch applied and UpdatedAt set to now.
// UpdatedAt never precedes CreatedAt even if the clock went backwards.
func (p Patch) Apply(t Task, now time.Time) Task {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
	if p.DueDate != nil {
		t.DueDate = *p.DueDate
	}
	if now.Before(t.CreatedAt) {
		now = t.CreatedAt
	}
	t.UpdatedAt = &now
	return t
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Completed == nil && p.DueDate == nil
}

// Equal reports whether two records carry the same content.
// Timestamps are compared as instants, so location and monotonic readings
// do not matter.
func (t Task) Equal(o Task) bool {
	if t.ID != o.ID || t.Title != o.Title || t.Description != o.Description ||
		t.Completed != o.Completed || t.OwnerID != o.OwnerID {
		return false
	}
	if !t.DueDate.Equal(o.DueDate) || !t.CreatedAt.Equal(o.CreatedAt) {
		return false
	}
	switch {
	case t.UpdatedAt == nil && o.UpdatedAt == nil:
		return true
	case t.UpdatedAt == nil || o.UpdatedAt == nil:
		return false
	default:
		return t.UpdatedAt.Equal(*o.UpdatedAt)
	}
}
