// Package output provides formatters for CLI output.
package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"todosync/internal/service"
	"todosync/internal/task"
	"todosync/internal/taskstore"
)

// Location is the zone due dates are shown in.
var Location = time.Local

// FormatTask formats a task line.
// Format: "{N:>4}  [x] {TITLE}" followed by "  due {DATE}" when the task has
// a due date and a sync marker when the record is not confirmed yet.
func FormatTask(w io.Writer, num int, t task.Task, state taskstore.SyncState) {
	box := "[ ]"
	if t.Completed {
		box = "[x]"
	}
	line := fmt.Sprintf("%4d  %s %s", num, box, normalizeTitle(t.Title))
	if !t.DueDate.IsZero() {
		line += "  due " + FormatDue(t.DueDate)
	}
	if m := marker(state); m != "" {
		line += "  " + m
	}
	fmt.Fprintln(w, line)
}

// FormatDue renders a due date, dropping the clock when it is midnight.
func FormatDue(due time.Time) string {
	due = due.In(Location)
	if due.Hour() == 0 && due.Minute() == 0 {
		return due.Format("2006-01-02")
	}
	return due.Format("2006-01-02 15:04")
}

// FormatTaskDetail prints every field of a task, one per line.
func FormatTaskDetail(w io.Writer, t task.Task, state taskstore.SyncState) {
	fmt.Fprintf(w, "id:          %s\n", t.ID)
	fmt.Fprintf(w, "title:       %s\n", normalizeTitle(t.Title))
	if t.Description != "" {
		fmt.Fprintf(w, "description: %s\n", strings.ReplaceAll(t.Description, "\n", "\n             "))
	}
	fmt.Fprintf(w, "completed:   %t\n", t.Completed)
	if !t.DueDate.IsZero() {
		fmt.Fprintf(w, "due:         %s\n", FormatDue(t.DueDate))
	}
	fmt.Fprintf(w, "created:     %s\n", t.CreatedAt.In(Location).Format(time.RFC3339))
	if t.UpdatedAt != nil {
		fmt.Fprintf(w, "updated:     %s\n", t.UpdatedAt.In(Location).Format(time.RFC3339))
	}
	fmt.Fprintf(w, "sync:        %s\n", state)
}

// FormatIdentity formats the signed-in user for whoami.
func FormatIdentity(w io.Writer, id service.Identity) {
	if id.Email == "" {
		fmt.Fprintln(w, id.ID)
		return
	}
	fmt.Fprintf(w, "%s (%s)\n", id.Email, id.ID)
}

func marker(state taskstore.SyncState) string {
	switch state {
	case taskstore.PendingCreate, taskstore.PendingUpdate, taskstore.PendingDelete:
		return "(syncing)"
	case taskstore.WriteFailed:
		return "(not saved)"
	default:
		return ""
	}
}

// normalizeTitle normalizes a task title for display.
// - Empty or whitespace-only titles become "(untitled)"
// - Newlines are replaced with spaces
func normalizeTitle(title string) string {
	title = strings.ReplaceAll(title, "\r", " ")
	title = strings.ReplaceAll(title, "\n", " ")

	if strings.TrimSpace(title) == "" {
		return "(untitled)"
	}
	return title
}
