package googletasks

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	tasks "google.golang.org/api/tasks/v1"

	"todosync/internal/task"
)

const (
	statusCompleted   = "completed"
	statusNeedsAction = "needsAction"

	// metaMarker starts the last line of a task's notes. The rest of the line
	// is JSON with the fields Google Tasks cannot hold.
	metaMarker = "[todosync] "

	// adoptedPrefix marks IDs of tasks created outside todosync.
	adoptedPrefix = "g:"
)

type meta struct {
	ID      string     `json:"id"`
	Owner   string     `json:"owner"`
	Created time.Time  `json:"created"`
	Updated *time.Time `json:"updated,omitempty"`
	Due     *time.Time `json:"due,omitempty"`
}

// encode converts a record to a Google task. Google keeps only the date of
// a due time, so the exact instant travels in the notes footer.
func encode(t task.Task) (*tasks.Task, error) {
	m := meta{ID: t.ID, Owner: t.OwnerID, Created: t.CreatedAt, Updated: t.UpdatedAt}
	if !t.DueDate.IsZero() {
		due := t.DueDate
		m.Due = &due
	}
	footer, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}

	notes := metaMarker + string(footer)
	if t.Description != "" {
		notes = t.Description + "\n" + notes
	}

	gt := &tasks.Task{
		Title:  t.Title,
		Notes:  notes,
		Status: statusNeedsAction,
	}
	if t.Completed {
		gt.Status = statusCompleted
	}
	if !t.DueDate.IsZero() {
		gt.Due = t.DueDate.UTC().Truncate(24 * time.Hour).Format(time.RFC3339)
	}
	return gt, nil
}

// decode converts a Google task to a record. Tasks without a footer were
// created elsewhere; they are adopted under a derived ID and owner.
func decode(gt *tasks.Task, owner string) (task.Task, error) {
	desc, footer, found := splitNotes(gt.Notes)

	t := task.Task{
		Title:       gt.Title,
		Description: desc,
		Completed:   gt.Status == statusCompleted,
	}

	if !found {
		t.ID = adoptedPrefix + gt.Id
		t.OwnerID = owner
		if gt.Updated != "" {
			created, err := time.Parse(time.RFC3339, gt.Updated)
			if err != nil {
				return task.Task{}, fmt.Errorf("invalid updated time %q: %w", gt.Updated, err)
			}
			t.CreatedAt = created
		}
		if gt.Due != "" {
			due, err := time.Parse(time.RFC3339, gt.Due)
			if err != nil {
				return task.Task{}, fmt.Errorf("invalid due time %q: %w", gt.Due, err)
			}
			t.DueDate = due
		}
		return t, nil
	}

	var m meta
	if err := json.Unmarshal([]byte(footer), &m); err != nil {
		return task.Task{}, fmt.Errorf("invalid metadata: %w", err)
	}
	t.ID = m.ID
	t.OwnerID = m.Owner
	t.CreatedAt = m.Created
	t.UpdatedAt = m.Updated
	if m.Due != nil {
		t.DueDate = *m.Due
	}
	return t, nil
}

// googleID returns the Google task ID encoded in an adopted record ID.
func googleID(id string) (string, bool) {
	if strings.HasPrefix(id, adoptedPrefix) {
		return strings.TrimPrefix(id, adoptedPrefix), true
	}
	return "", false
}

func splitNotes(notes string) (desc, footer string, found bool) {
	if strings.HasPrefix(notes, metaMarker) {
		return "", strings.TrimPrefix(notes, metaMarker), true
	}
	i := strings.LastIndex(notes, "\n"+metaMarker)
	if i < 0 {
		return notes, "", false
	}
	return notes[:i], notes[i+1+len(metaMarker):], true
}
