package commands

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"todosync/internal/config"
	"todosync/internal/exitcode"
	"todosync/internal/service"
	"todosync/internal/task"
)

func init() {
	Register(&EditCmd{})
}

// EditCmd implements the edit command. Only the given flags change; an empty
// --due clears the due date.
type EditCmd struct {
	title optString
	desc  optString
	due   optString
}

func (c *EditCmd) Name() string      { return "edit" }
func (c *EditCmd) Aliases() []string { return nil }
func (c *EditCmd) Synopsis() string  { return "Change a task" }
func (c *EditCmd) Usage() string {
	return "todosync edit [--title <text>] [--desc <text>] [--due <date>] <ref>"
}
func (c *EditCmd) NeedsAuth() bool { return true }

func (c *EditCmd) RegisterFlags(fs *flag.FlagSet) {
	c.title, c.desc, c.due = optString{}, optString{}, optString{}
	fs.Var(&c.title, "title", "")
	fs.Var(&c.desc, "desc", "")
	fs.Var(&c.due, "due", "")
}

func (c *EditCmd) Run(ctx context.Context, cfg *config.Config, svc service.Backend, args []string, out, errOut io.Writer) int {
	if !c.title.set && !c.desc.set && !c.due.set {
		fmt.Fprintln(errOut, "error: nothing to change (use --title, --desc or --due)")
		return exitcode.UserError
	}

	var patch task.Patch
	if c.title.set {
		title := strings.TrimSpace(c.title.value)
		if title == "" {
			fmt.Fprintln(errOut, "error: title required")
			return exitcode.UserError
		}
		patch.Title = &title
	}
	if c.desc.set {
		desc := c.desc.value
		patch.Description = &desc
	}
	if c.due.set {
		var due time.Time
		if strings.TrimSpace(c.due.value) != "" {
			parsed, err := parseDue(c.due.value, time.Now())
			if err != nil {
				fmt.Fprintf(errOut, "error: %v\n", err)
				return exitcode.UserError
			}
			due = parsed
		}
		patch.DueDate = &due
	}

	return updateTask(ctx, cfg, svc, args, out, errOut, func(task.Task) task.Patch { return patch })
}
