// Package store is the durable, single source of truth for tasks. Every
// mutation commits to SQLite before it is reported upward, and the claim
// conditional update is the sole primitive enforcing at-most-once
// execution under concurrency.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/swarmguard/taskscheduler/internal/resilience"
	"github.com/swarmguard/taskscheduler/internal/task"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id           TEXT PRIMARY KEY,
	type         TEXT NOT NULL,
	duration_ms  INTEGER NOT NULL,
	dependencies TEXT NOT NULL,
	status       TEXT NOT NULL,
	created_at   TIMESTAMP NOT NULL,
	started_at   TIMESTAMP,
	finished_at  TIMESTAMP,
	seq          INTEGER
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_seq ON tasks(seq);

CREATE TABLE IF NOT EXISTS task_deps (
	task_id TEXT NOT NULL,
	dep_id  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_task_deps_task ON task_deps(task_id);
CREATE INDEX IF NOT EXISTS idx_task_deps_dep ON task_deps(dep_id);
`

// Store wraps a WAL-mode SQLite database holding the tasks table described
// by the scheduler's data model.
type Store struct {
	db *sql.DB

	tracer trace.Tracer

	readLatency   metric.Float64Histogram
	writeLatency  metric.Float64Histogram
	claimAttempts metric.Int64Counter
	claimLost     metric.Int64Counter
}

// Open creates (if needed) and opens the SQLite file at path in WAL mode,
// retrying a transient "database is locked" on first open the way
// multi-process SQLite deployments in this corpus do.
func Open(ctx context.Context, path string, meter metric.Meter) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)

	db, err := resilience.Retry(ctx, 10*time.Second, func() (*sql.DB, error) {
		db, err := sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}

	// The claim protocol depends on a single writer serializing conditional
	// updates; SQLite itself enforces this at the file level, but capping
	// the pool avoids needless SQLITE_BUSY churn across goroutines.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	readLatency, _ := meter.Float64Histogram("scheduler_store_read_duration_ms")
	writeLatency, _ := meter.Float64Histogram("scheduler_store_write_duration_ms")
	claimAttempts, _ := meter.Int64Counter("scheduler_store_claim_attempts_total")
	claimLost, _ := meter.Int64Counter("scheduler_store_claim_lost_total")

	return &Store{
		db:            db,
		tracer:        otel.Tracer("taskscheduler-store"),
		readLatency:   readLatency,
		writeLatency:  writeLatency,
		claimAttempts: claimAttempts,
		claimLost:     claimLost,
	}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// execRetryBusy wraps a single write statement with a short backoff against
// SQLITE_BUSY, the one transient error this single-writer database can
// legitimately surface under load.
func (s *Store) execRetryBusy(ctx context.Context, fn func() (sql.Result, error)) (sql.Result, error) {
	return resilience.Retry(ctx, 2*time.Second, func() (sql.Result, error) {
		res, err := fn()
		if err != nil && !isBusy(err) {
			return nil, backoffPermanent(err)
		}
		return res, err
	})
}

// CreateTask inserts a new task row plus its dependency edges in a single
// transaction. The caller (Admission) is responsible for acyclicity;
// CreateTask only enforces uniqueness and dependency existence (I1).
func (s *Store) CreateTask(ctx context.Context, t task.Task) error {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "store.create_task", trace.WithAttributes(attribute.String("task_id", t.ID)))
	defer span.End()
	defer func() {
		s.writeLatency.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attribute.String("op", "create_task")))
	}()

	depsJSON, err := json.Marshal(t.Dependencies)
	if err != nil {
		return fmt.Errorf("marshal dependencies: %w", err)
	}

	_, err = s.execRetryBusy(ctx, func() (sql.Result, error) {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, err
		}
		defer tx.Rollback()

		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, t.ID).Scan(&exists); err == nil {
			return nil, &task.ConflictError{ID: t.ID}
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		for _, dep := range t.Dependencies {
			var depExists int
			if err := tx.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, dep).Scan(&depExists); errors.Is(err, sql.ErrNoRows) {
				return nil, &task.MissingDependencyError{ID: t.ID, Dependency: dep}
			} else if err != nil {
				return nil, err
			}
		}

		var nextSeq int64
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM tasks`).Scan(&nextSeq); err != nil {
			return nil, err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (id, type, duration_ms, dependencies, status, created_at, seq)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.Type, t.DurationMS, string(depsJSON), string(task.StatusQueued), t.CreatedAt.UTC(), nextSeq,
		); err != nil {
			return nil, err
		}

		for _, dep := range t.Dependencies {
			if _, err := tx.ExecContext(ctx, `INSERT INTO task_deps (task_id, dep_id) VALUES (?, ?)`, t.ID, dep); err != nil {
				return nil, err
			}
		}

		return nil, tx.Commit()
	})
	return unwrapPermanent(err)
}

// GetTask loads a single task by id, returning a *task.NotFoundError
// (wrapping task.ErrNotFound) when absent.
func (s *Store) GetTask(ctx context.Context, id string) (task.Task, error) {
	start := time.Now()
	defer func() {
		s.readLatency.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attribute.String("op", "get_task")))
	}()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, duration_ms, dependencies, status, created_at, started_at, finished_at
		FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return task.Task{}, &task.NotFoundError{ID: id}
	}
	if err != nil {
		return task.Task{}, err
	}
	return t, nil
}

// ListTasks returns every task ordered by admission order (FIFO).
func (s *Store) ListTasks(ctx context.Context) ([]task.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, duration_ms, dependencies, status, created_at, started_at, finished_at
		FROM tasks ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// FindReadyTaskIDs returns QUEUED task ids whose dependencies are all
// COMPLETED, oldest first. The result is a snapshot; the claim protocol
// tolerates staleness.
func (s *Store) FindReadyTaskIDs(ctx context.Context) ([]string, error) {
	start := time.Now()
	defer func() {
		s.readLatency.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attribute.String("op", "find_ready")))
	}()

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id FROM tasks t
		WHERE t.status = ?
		AND NOT EXISTS (
			SELECT 1 FROM task_deps d
			JOIN tasks dt ON dt.id = d.dep_id
			WHERE d.task_id = t.id AND dt.status != ?
		)
		ORDER BY t.seq ASC`, string(task.StatusQueued), string(task.StatusCompleted))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Claim performs the single conditional update that enforces invariant I4:
// at most one actor may move a task from QUEUED to RUNNING.
func (s *Store) Claim(ctx context.Context, id string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "store.claim", trace.WithAttributes(attribute.String("task_id", id)))
	defer span.End()
	s.claimAttempts.Add(ctx, 1)

	res, err := s.execRetryBusy(ctx, func() (sql.Result, error) {
		return s.db.ExecContext(ctx, `
			UPDATE tasks SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
			string(task.StatusRunning), time.Now().UTC(), id, string(task.StatusQueued))
	})
	if err != nil {
		return false, unwrapPermanent(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		s.claimLost.Add(ctx, 1)
		return false, nil
	}
	return true, nil
}

// Complete sets a RUNNING task's terminal status. outcome must be
// COMPLETED or FAILED.
func (s *Store) Complete(ctx context.Context, id string, outcome task.Status) error {
	ctx, span := s.tracer.Start(ctx, "store.complete", trace.WithAttributes(
		attribute.String("task_id", id),
		attribute.String("outcome", string(outcome)),
	))
	defer span.End()

	res, err := s.execRetryBusy(ctx, func() (sql.Result, error) {
		return s.db.ExecContext(ctx, `
			UPDATE tasks SET status = ?, finished_at = ? WHERE id = ? AND status = ?`,
			string(outcome), time.Now().UTC(), id, string(task.StatusRunning))
	})
	if err != nil {
		return unwrapPermanent(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("complete %q: task was not RUNNING", id)
	}
	return nil
}

// ResetRunningToQueued atomically returns every RUNNING task to QUEUED,
// restoring invariant I6 after an unclean shutdown. Returns the number of
// tasks reset.
func (s *Store) ResetRunningToQueued(ctx context.Context) (int, error) {
	res, err := s.execRetryBusy(ctx, func() (sql.Result, error) {
		return s.db.ExecContext(ctx, `
			UPDATE tasks SET status = ?, started_at = NULL WHERE status = ?`,
			string(task.StatusQueued), string(task.StatusRunning))
	})
	if err != nil {
		return 0, unwrapPermanent(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Stats reports a cheap point-in-time snapshot for the /metrics endpoint.
func (s *Store) Stats(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{
		string(task.StatusQueued):    0,
		string(task.StatusRunning):   0,
		string(task.StatusCompleted): 0,
		string(task.StatusFailed):    0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (task.Task, error) {
	var (
		t          task.Task
		status     string
		depsJSON   string
		createdAt  time.Time
		startedAt  sql.NullTime
		finishedAt sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.Type, &t.DurationMS, &depsJSON, &status, &createdAt, &startedAt, &finishedAt); err != nil {
		return task.Task{}, err
	}
	t.Status = task.Status(status)
	t.CreatedAt = createdAt
	if startedAt.Valid {
		v := startedAt.Time
		t.StartedAt = &v
	}
	if finishedAt.Valid {
		v := finishedAt.Time
		t.FinishedAt = &v
	}
	if err := json.Unmarshal([]byte(depsJSON), &t.Dependencies); err != nil {
		return task.Task{}, fmt.Errorf("unmarshal dependencies for %q: %w", t.ID, err)
	}
	sort.Strings(t.Dependencies)
	return t, nil
}
