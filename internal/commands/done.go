package commands

import (
	"context"
	"flag"
	"io"

	"todosync/internal/config"
	"todosync/internal/service"
	"todosync/internal/task"
)

func init() {
	Register(&DoneCmd{})
	Register(&UndoCmd{})
}

// DoneCmd implements the done command.
type DoneCmd struct{}

func (c *DoneCmd) Name() string      { return "done" }
func (c *DoneCmd) Aliases() []string { return nil }
func (c *DoneCmd) Synopsis() string  { return "Mark a task completed" }
func (c *DoneCmd) Usage() string     { return "todosync done <ref>" }
func (c *DoneCmd) NeedsAuth() bool   { return true }

func (c *DoneCmd) RegisterFlags(fs *flag.FlagSet) {}

func (c *DoneCmd) Run(ctx context.Context, cfg *config.Config, svc service.Backend, args []string, out, errOut io.Writer) int {
	return updateTask(ctx, cfg, svc, args, out, errOut, setCompleted(true))
}

// UndoCmd implements the undo command.
type UndoCmd struct{}

func (c *UndoCmd) Name() string      { return "undo" }
func (c *UndoCmd) Aliases() []string { return []string{"reopen"} }
func (c *UndoCmd) Synopsis() string  { return "Mark a task not completed" }
func (c *UndoCmd) Usage() string     { return "todosync undo <ref>" }
func (c *UndoCmd) NeedsAuth() bool   { return true }

func (c *UndoCmd) RegisterFlags(fs *flag.FlagSet) {}

func (c *UndoCmd) Run(ctx context.Context, cfg *config.Config, svc service.Backend, args []string, out, errOut io.Writer) int {
	return updateTask(ctx, cfg, svc, args, out, errOut, setCompleted(false))
}

// setCompleted builds a patch that sets the completed flag, or an empty
// patch when the task already has it.
func setCompleted(done bool) func(task.Task) task.Patch {
	return func(t task.Task) task.Patch {
		if t.Completed == done {
			return task.Patch{}
		}
		return task.Patch{Completed: &done}
	}
}
