package commands

import (
	"context"
	"flag"
	"fmt"
	"io"

	"todosync/internal/config"
	"todosync/internal/exitcode"
	"todosync/internal/output"
	"todosync/internal/service"
	"todosync/internal/task"
	"todosync/internal/taskstore"
)

func init() {
	Register(&ListCmd{})
}

// ListCmd implements the list command.
// Handles both `todosync` (no args) and `todosync list`.
type ListCmd struct {
	filter string
}

func (c *ListCmd) Name() string      { return "list" }
func (c *ListCmd) Aliases() []string { return []string{"ls"} }
func (c *ListCmd) Synopsis() string  { return "List tasks" }
func (c *ListCmd) Usage() string     { return "todosync list [--filter <text>]" }
func (c *ListCmd) NeedsAuth() bool   { return true }

func (c *ListCmd) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.filter, "filter", "", "")
}

func (c *ListCmd) Run(ctx context.Context, cfg *config.Config, svc service.Backend, args []string, out, errOut io.Writer) int {
	if len(args) > 0 {
		fmt.Fprintf(errOut, "error: unexpected argument: %s\n", args[0])
		return exitcode.UserError
	}

	sess, err := openSession(ctx, cfg, svc, taskstore.Options{})
	if err != nil {
		return fail(errOut, err)
	}
	defer sess.close()

	if printView(out, sess.store, sess.store.List(""), c.filter) == 0 && !cfg.Quiet {
		fmt.Fprintln(out, "no tasks found")
	}
	return exitcode.Success
}

// printView prints the tasks of view that match filter, numbered by their
// position in the full view so the numbers work as task references.
// It returns the number of lines printed.
func printView(out io.Writer, store *taskstore.Store, view []task.Task, filter string) int {
	shown := make(map[string]bool)
	for _, t := range task.Filter(view, filter) {
		shown[t.ID] = true
	}

	n := 0
	for i, t := range view {
		if !shown[t.ID] {
			continue
		}
		state, err := store.State(t.ID)
		if err != nil {
			state = taskstore.Confirmed
		}
		output.FormatTask(out, i+1, t, state)
		n++
	}
	return n
}
