package commands

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"todosync/internal/config"
	"todosync/internal/exitcode"
	"todosync/internal/service"
	"todosync/internal/task"
	"todosync/internal/taskstore"
)

func init() {
	Register(&AddCmd{})
}

// AddCmd implements the add command.
type AddCmd struct {
	due  string
	desc string
}

func (c *AddCmd) Name() string      { return "add" }
func (c *AddCmd) Aliases() []string { return []string{"create"} }
func (c *AddCmd) Synopsis() string  { return "Create a task" }
func (c *AddCmd) Usage() string {
	return "todosync add [--due <date>] [--desc <text>] <title...>"
}
func (c *AddCmd) NeedsAuth() bool { return true }

func (c *AddCmd) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.due, "due", "", "")
	fs.StringVar(&c.desc, "desc", "", "")
}

func (c *AddCmd) Run(ctx context.Context, cfg *config.Config, svc service.Backend, args []string, out, errOut io.Writer) int {
	title := strings.TrimSpace(strings.Join(args, " "))
	if title == "" {
		fmt.Fprintln(errOut, "error: title required")
		return exitcode.UserError
	}

	draft := task.Draft{Title: title, Description: c.desc}
	if c.due != "" {
		due, err := parseDue(c.due, time.Now())
		if err != nil {
			fmt.Fprintf(errOut, "error: %v\n", err)
			return exitcode.UserError
		}
		draft.DueDate = due
	}

	sess, err := openSession(ctx, cfg, svc, taskstore.Options{})
	if err != nil {
		return fail(errOut, err)
	}
	defer sess.close()

	created, ack, err := sess.store.Create(ctx, draft)
	if err != nil {
		return fail(errOut, err)
	}
	if err := sess.wait(ctx, ack); err != nil {
		return fail(errOut, err)
	}

	cfg.Logger.Debug("task created", zap.String("task_id", created.ID))
	if !cfg.Quiet {
		fmt.Fprintf(out, "ok %s\n", shortID(created.ID))
	}
	return exitcode.Success
}

// shortID is the ID prefix printed after a create.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
