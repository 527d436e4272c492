package commands

import (
	"context"
	"fmt"
	"io"

	"todosync/internal/config"
	"todosync/internal/exitcode"
	"todosync/internal/service"
	"todosync/internal/task"
	"todosync/internal/taskstore"
)

// updateTask resolves the task referenced by args, builds a patch for it and
// waits for the remote write. Shared by edit, done and undo.
func updateTask(ctx context.Context, cfg *config.Config, svc service.Backend, args []string, out, errOut io.Writer, build func(task.Task) task.Patch) int {
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

	patch := build(t)
	if patch.IsEmpty() {
		return ok(cfg, out)
	}
	ack, err := sess.store.Update(ctx, t.ID, patch)
	if err != nil {
		return fail(errOut, err)
	}
	if err := sess.wait(ctx, ack); err != nil {
		return fail(errOut, err)
	}
	return ok(cfg, out)
}
