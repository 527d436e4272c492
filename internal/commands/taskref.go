package commands

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"todosync/internal/task"
)

// MinIDPrefix is the shortest ID prefix accepted as a task reference.
const MinIDPrefix = 4

// ErrTaskRefRequired indicates no task reference was provided.
var ErrTaskRefRequired = errors.New("task reference required")

// TaskRef is a parsed task reference: a 1-based position in list output or
// an ID prefix.
type TaskRef struct {
	Raw      string
	Position int // 0 if the reference is not numeric
}

// ParseTaskRef parses a single task reference from args.
//
// All-digit references are positions. Anything else must be at least
// MinIDPrefix characters and is matched against task IDs.
func ParseTaskRef(args []string) (TaskRef, error) {
	if len(args) == 0 {
		return TaskRef{}, ErrTaskRefRequired
	}
	if len(args) > 1 {
		return TaskRef{}, fmt.Errorf("unexpected argument: %s", args[1])
	}

	raw := strings.TrimSpace(args[0])
	if isAllDigits(raw) {
		n, err := strconv.Atoi(raw)
		if err != nil || n == 0 {
			return TaskRef{}, fmt.Errorf("invalid task reference: %s", raw)
		}
		return TaskRef{Raw: raw, Position: n}, nil
	}
	if len(raw) < MinIDPrefix {
		return TaskRef{}, fmt.Errorf("invalid task reference: %s", raw)
	}
	return TaskRef{Raw: raw}, nil
}

// Resolve finds the referenced task in view, which must be in list order.
// A numeric reference past the end of the list that is long enough is
// retried as an ID prefix.
func (r TaskRef) Resolve(view []task.Task) (task.Task, error) {
	if r.Position > 0 && r.Position <= len(view) {
		return view[r.Position-1], nil
	}
	if len(r.Raw) < MinIDPrefix {
		return task.Task{}, fmt.Errorf("task not found: %s", r.Raw)
	}

	var match []task.Task
	for _, t := range view {
		if strings.HasPrefix(t.ID, r.Raw) {
			match = append(match, t)
		}
	}
	switch len(match) {
	case 0:
		return task.Task{}, fmt.Errorf("task not found: %s", r.Raw)
	case 1:
		return match[0], nil
	default:
		return task.Task{}, fmt.Errorf("ambiguous task reference: %s matches %d tasks", r.Raw, len(match))
	}
}

// isAllDigits returns true if s consists only of ASCII digits and is non-empty.
func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
