package commands

import (
	"fmt"
	"strings"
	"time"

	"todosync/internal/output"
)

// optString is a string flag that remembers whether it was given, so an
// explicit empty value can be told apart from an absent flag.
type optString struct {
	set   bool
	value string
}

func (o *optString) String() string { return o.value }

func (o *optString) Set(s string) error {
	o.set = true
	o.value = s
	return nil
}

var dueLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	time.RFC3339,
}

// parseDue parses a due date given on the command line. Dates without a zone
// are read in the display zone. "today" and "tomorrow" are relative to now.
func parseDue(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	loc := output.Location
	day := func(offset int) time.Time {
		n := now.In(loc)
		return time.Date(n.Year(), n.Month(), n.Day()+offset, 0, 0, 0, 0, loc)
	}

	switch strings.ToLower(s) {
	case "today":
		return day(0), nil
	case "tomorrow":
		return day(1), nil
	}
	for _, layout := range dueLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid due date: %s (use YYYY-MM-DD [HH:MM])", s)
}
