package commands

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"todosync/internal/config"
	"todosync/internal/exitcode"
	"todosync/internal/metrics"
	"todosync/internal/reminder"
	"todosync/internal/service"
	"todosync/internal/task"
	"todosync/internal/taskstore"
)

func init() {
	Register(&WatchCmd{})
}

// WatchCmd keeps a task store open, reprints the list whenever it changes
// and fires reminders for due tasks until interrupted.
type WatchCmd struct {
	filter      string
	metricsAddr string
}

func (c *WatchCmd) Name() string      { return "watch" }
func (c *WatchCmd) Aliases() []string { return nil }
func (c *WatchCmd) Synopsis() string  { return "Follow the task list and fire reminders" }
func (c *WatchCmd) Usage() string {
	return "todosync watch [--filter <text>] [--metrics-addr <addr>]"
}
func (c *WatchCmd) NeedsAuth() bool { return true }

func (c *WatchCmd) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.filter, "filter", "", "")
	fs.StringVar(&c.metricsAddr, "metrics-addr", "", "")
}

func (c *WatchCmd) Run(ctx context.Context, cfg *config.Config, svc service.Backend, args []string, out, errOut io.Writer) int {
	if len(args) > 0 {
		fmt.Fprintf(errOut, "error: unexpected argument: %s\n", args[0])
		return exitcode.UserError
	}

	rec := metrics.New()
	addr := c.metricsAddr
	if addr == "" {
		addr = cfg.Settings.Metrics.Addr
	}
	if addr != "" {
		srv, err := serveMetrics(addr, rec, cfg.Logger)
		if err != nil {
			fmt.Fprintf(errOut, "error: %v\n", err)
			return exitcode.UserError
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	updates := make(chan []task.Task, 1)
	sess, err := openSession(ctx, cfg, svc, taskstore.Options{
		Observer: rec,
		OnChange: latestOnly(updates),
	})
	if err != nil {
		return fail(errOut, err)
	}
	defer sess.close()

	w := &lockedWriter{w: out}
	sched := reminder.NewScheduler(&reminder.WriterNotifier{W: w}, nil, cfg.Logger)
	defer sched.Stop()

	var (
		last     []task.Task
		rendered bool
	)
	render := func(view []task.Task) {
		if rendered && sameView(last, view) {
			return
		}
		last, rendered = view, true
		rec.SetVisible(len(view))
		sched.Sync(view)

		var buf bytes.Buffer
		if !cfg.Quiet {
			fmt.Fprintf(&buf, "-- %s\n", time.Now().Format("15:04:05"))
		}
		if printView(&buf, sess.store, view, c.filter) == 0 && !cfg.Quiet {
			fmt.Fprintln(&buf, "no tasks found")
		}
		w.Write(buf.Bytes())
	}

	render(sess.store.List(""))
	for {
		select {
		case <-ctx.Done():
			return exitcode.Success
		case view := <-updates:
			render(view)
		}
	}
}

// latestOnly returns an OnChange callback that never blocks the store:
// an undelivered view is replaced by the newer one.
func latestOnly(ch chan []task.Task) func([]task.Task) {
	return func(view []task.Task) {
		for {
			select {
			case ch <- view:
				return
			default:
				select {
				case <-ch:
				default:
				}
			}
		}
	}
}

func sameView(a, b []task.Task) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

func serveMetrics(addr string, rec *metrics.Recorder, log *zap.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", rec.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", ln.Addr().String()))
	return srv, nil
}

// lockedWriter serializes the list output with reminders fired from timers.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
