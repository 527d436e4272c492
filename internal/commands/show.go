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
	"todosync/internal/taskstore"
)

func init() {
	Register(&ShowCmd{})
}

// ShowCmd prints every field of one task.
type ShowCmd struct{}

func (c *ShowCmd) Name() string      { return "show" }
func (c *ShowCmd) Aliases() []string { return nil }
func (c *ShowCmd) Synopsis() string  { return "Show a task in full" }
func (c *ShowCmd) Usage() string     { return "todosync show <ref>" }
func (c *ShowCmd) NeedsAuth() bool   { return true }

func (c *ShowCmd) RegisterFlags(fs *flag.FlagSet) {}

func (c *ShowCmd) Run(ctx context.Context, cfg *config.Config, svc service.Backend, args []string, out, errOut io.Writer) int {
	ref, err := ParseTaskRef(args)
	if err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitcode.UserError
	}

	sess, err := openSession(ctx, cfg, svc, taskstore.Options{})
	if err != nil {
		return fail(errOut, err)
	}
	defer sess.close()

	t, err := ref.Resolve(sess.store.List(""))
	if err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitcode.UserError
	}
	state, err := sess.store.State(t.ID)
	if err != nil {
		return fail(errOut, err)
	}
	output.FormatTaskDetail(out, t, state)
	return exitcode.Success
}
