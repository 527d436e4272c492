// Package sqlitestore implements service.Collection on a local SQLite
// database, so several todosync processes on one machine share a task list.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"todosync/internal/service"
	"todosync/internal/task"
)

// DefaultPollInterval is how often listeners look for changes made by other
// processes when Options.PollInterval is zero.
const DefaultPollInterval = time.Second

// Options configures a Store.
type Options struct {
	PollInterval time.Duration
	Logger       *zap.Logger
}

// Store implements service.Collection using a local SQLite database.
type Store struct {
	db   *sqlx.DB
	poll time.Duration
	log  *zap.Logger

	mu      sync.Mutex
	nudges  map[int]chan struct{}
	nextSub int
}

// row is the database form of a task.
type row struct {
	OwnerID     string         `db:"owner_id"`
	ID          string         `db:"id"`
	Title       string         `db:"title"`
	Description string         `db:"description"`
	Completed   bool           `db:"completed"`
	DueDate     string         `db:"due_date"`
	CreatedAt   string         `db:"created_at"`
	UpdatedAt   sql.NullString `db:"updated_at"`
}

// Open opens (or creates) a SQLite database at dbPath, enables WAL mode,
// and runs any pending schema migrations.
func Open(dbPath string, opts Options) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	s := &Store{
		db:     db,
		poll:   opts.PollInterval,
		log:    opts.Logger.Named("sqlitestore"),
		nudges: make(map[int]chan struct{}),
	}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *Store) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// Write implements service.Collection.
func (s *Store) Write(ctx context.Context, ownerID, taskID string, t task.Task) error {
	r := toRow(ownerID, taskID, t)

	const query = `
		INSERT INTO tasks (
			owner_id, id, title, description, completed,
			due_date, created_at, updated_at
		) VALUES (
			:owner_id, :id, :title, :description, :completed,
			:due_date, :created_at, :updated_at
		)
		ON CONFLICT(owner_id, id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			completed = excluded.completed,
			due_date = excluded.due_date,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`

	return s.change(ctx, ownerID, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, query, r); err != nil {
			return fmt.Errorf("upserting task %s: %w", taskID, err)
		}
		return nil
	})
}

// Delete implements service.Collection.
func (s *Store) Delete(ctx context.Context, ownerID, taskID string) error {
	return s.change(ctx, ownerID, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM tasks WHERE owner_id = ? AND id = ?", ownerID, taskID)
		if err != nil {
			return fmt.Errorf("deleting task %s: %w", taskID, err)
		}
		return nil
	})
}

// change runs fn and bumps the owner's revision in one transaction, then
// wakes this process's listeners.
func (s *Store) change(ctx context.Context, ownerID string, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO revisions (owner_id, rev) VALUES (?, 1)
		ON CONFLICT(owner_id) DO UPDATE SET rev = rev + 1`, ownerID)
	if err != nil {
		return fmt.Errorf("bumping revision: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}

	s.nudge()
	return nil
}

// Listen implements service.Collection. Listeners re-read the collection
// after local changes and whenever the stored revision moves, which also
// picks up writes from other processes.
func (s *Store) Listen(ctx context.Context, ownerID string, fn func(service.Snapshot)) (service.Subscription, error) {
	rev, err := s.revision(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	first, err := s.Snapshot(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	nudge := make(chan struct{}, 1)
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.nudges[id] = nudge
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(first)

		ticker := time.NewTicker(s.poll)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-nudge:
			}

			cur, err := s.revision(ctx, ownerID)
			if err != nil {
				if ctx.Err() == nil {
					s.log.Warn("reading revision failed", zap.Error(err))
				}
				continue
			}
			if cur == rev {
				continue
			}
			snap, err := s.Snapshot(ctx, ownerID)
			if err != nil {
				if ctx.Err() == nil {
					s.log.Warn("reading tasks failed", zap.Error(err))
				}
				continue
			}
			rev = cur
			fn(snap)
		}
	}()

	return service.SubscriptionFunc(func() {
		s.mu.Lock()
		delete(s.nudges, id)
		s.mu.Unlock()
		cancel()
		<-done
	}), nil
}

// Snapshot reads the owner's collection ordered by title. Rows that fail to
// decode are reported individually.
func (s *Store) Snapshot(ctx context.Context, ownerID string) (service.Snapshot, error) {
	var rows []row
	err := s.db.SelectContext(ctx, &rows, `
		SELECT owner_id, id, title, description, completed, due_date, created_at, updated_at
		FROM tasks
		WHERE owner_id = ?
		ORDER BY title COLLATE NOCASE, id`, ownerID)
	if err != nil {
		return service.Snapshot{}, fmt.Errorf("listing tasks: %w", err)
	}

	var snap service.Snapshot
	for _, r := range rows {
		t, err := r.toTask()
		if err != nil {
			snap.Skipped = append(snap.Skipped, &service.DecodeError{TaskID: r.ID, Err: err})
			continue
		}
		snap.Tasks = append(snap.Tasks, t)
	}
	// NOCASE only folds ASCII.
	task.SortByTitle(snap.Tasks)
	return snap, nil
}

func (s *Store) revision(ctx context.Context, ownerID string) (int64, error) {
	var rev int64
	err := s.db.GetContext(ctx, &rev, "SELECT COALESCE(MAX(rev), 0) FROM revisions WHERE owner_id = ?", ownerID)
	if err != nil {
		return 0, fmt.Errorf("reading revision: %w", err)
	}
	return rev, nil
}

func (s *Store) nudge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.nudges {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func toRow(ownerID, taskID string, t task.Task) row {
	r := row{
		OwnerID:     ownerID,
		ID:          taskID,
		Title:       t.Title,
		Description: t.Description,
		Completed:   t.Completed,
		CreatedAt:   formatTime(t.CreatedAt),
	}
	if !t.DueDate.IsZero() {
		r.DueDate = formatTime(t.DueDate)
	}
	if t.UpdatedAt != nil {
		r.UpdatedAt = sql.NullString{String: formatTime(*t.UpdatedAt), Valid: true}
	}
	return r
}

func (r row) toTask() (task.Task, error) {
	t := task.Task{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Completed:   r.Completed,
		OwnerID:     r.OwnerID,
	}

	var err error
	if t.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return task.Task{}, fmt.Errorf("created_at: %w", err)
	}
	if r.DueDate != "" {
		if t.DueDate, err = parseTime(r.DueDate); err != nil {
			return task.Task{}, fmt.Errorf("due_date: %w", err)
		}
	}
	if r.UpdatedAt.Valid {
		updated, err := parseTime(r.UpdatedAt.String)
		if err != nil {
			return task.Task{}, fmt.Errorf("updated_at: %w", err)
		}
		t.UpdatedAt = &updated
	}
	return t, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
