package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"todosync/internal/config"
	"todosync/internal/exitcode"
	"todosync/internal/service"
	"todosync/internal/taskstore"
)

// ackGrace is added to the write timeout when waiting for an acknowledgement,
// so the store's own timeout reports first.
const ackGrace = time.Second

// session is a started task store for one command invocation.
type session struct {
	cfg   *config.Config
	store *taskstore.Store
}

// openSession starts a task store over svc and waits for the first snapshot.
// Sync settings and the logger come from cfg; opts supplies the rest.
func openSession(ctx context.Context, cfg *config.Config, svc service.Backend, opts taskstore.Options) (*session, error) {
	if svc == nil {
		return nil, errors.New("no backend configured")
	}
	sync := cfg.Settings.Sync
	opts.Logger = cfg.Logger
	opts.PendingTimeout = sync.PendingTimeout
	opts.WriteTimeout = sync.WriteTimeout

	store := taskstore.New(svc, svc, opts)
	if err := store.Start(ctx); err != nil {
		return nil, err
	}

	readyCtx, cancel := context.WithTimeout(ctx, sync.ReadyTimeout)
	defer cancel()
	if err := store.WaitReady(readyCtx); err != nil {
		store.Close()
		return nil, fmt.Errorf("loading tasks: %w", err)
	}
	return &session{cfg: cfg, store: store}, nil
}

// wait blocks until ack resolves, bounded by the write timeout.
func (s *session) wait(ctx context.Context, ack *taskstore.Ack) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Settings.Sync.WriteTimeout+ackGrace)
	defer cancel()
	if err := ack.Wait(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("remote %s of task %s not acknowledged: %w", ack.Op(), ack.TaskID(), err)
		}
		return err
	}
	return nil
}

func (s *session) close() {
	if err := s.store.Close(); err != nil {
		s.cfg.Logger.Warn("closing task store failed", zap.Error(err))
	}
}

// fail prints err and returns its exit code.
func fail(errOut io.Writer, err error) int {
	if errors.Is(err, taskstore.ErrUnauthenticated) {
		fmt.Fprintln(errOut, "error: not logged in (run: todosync login)")
		return exitcode.AuthError
	}
	fmt.Fprintf(errOut, "error: %v\n", err)
	return exitcode.FromError(err)
}

// ok prints the success marker unless quiet.
func ok(cfg *config.Config, out io.Writer) int {
	if !cfg.Quiet {
		fmt.Fprintln(out, "ok")
	}
	return exitcode.Success
}
