// Package sqlitestore is a SQLite-backed store.TaskStore and
// store.NamespaceService, persisting tasks across restarts so the
// scheduler can rehydrate non-terminal work on startup.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/kronos-sched/core/internal/store"
	"github.com/kronos-sched/core/internal/task"
)

// Store implements store.TaskStore and store.NamespaceService on top
// of a single SQLite database file.
type Store struct {
	logger *zap.Logger
	db     *sql.DB
}

var _ store.TaskStore = (*Store)(nil)
var _ store.NamespaceService = (*Store)(nil)

// Open opens (or creates) the database at dbPath and ensures its
// schema exists. Unlike a fresh-start test fixture this never removes
// an existing file: recovery on restart depends on it surviving.
func Open(logger *zap.Logger, dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{logger: logger, db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			namespace TEXT NOT NULL,
			workflow TEXT NOT NULL,
			job TEXT NOT NULL,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			submitted_at INTEGER,
			completed_at INTEGER,
			max_execution_time_ms INTEGER NOT NULL,
			depends_on TEXT,
			properties TEXT,
			context TEXT,
			status TEXT NOT NULL,
			status_message TEXT,
			PRIMARY KEY (namespace, workflow, job, name)
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_namespace_status ON tasks(namespace, status);

		CREATE TABLE IF NOT EXISTS namespaces (
			name TEXT PRIMARY KEY
		);
	`)
	if err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	return nil
}

// List returns every namespace a task has ever been submitted under.
func (s *Store) List(ctx context.Context) ([]store.Namespace, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM namespaces ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list namespaces: %w", err)
	}
	defer rows.Close()

	var out []store.Namespace
	for rows.Next() {
		var n store.Namespace
		if err := rows.Scan(&n.Name); err != nil {
			return nil, fmt.Errorf("scan namespace: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

const taskColumns = `namespace, workflow, job, name, type, created_at, submitted_at,
	completed_at, max_execution_time_ms, depends_on, properties, context, status, status_message`

// GetByStatus returns every task in namespace whose status is one of
// statuses. Startup recovery uses GetAll instead.
func (s *Store) GetByStatus(ctx context.Context, namespace string, statuses []task.Status) ([]*task.Task, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE namespace = ? AND status IN (`
	args := make([]interface{}, 0, len(statuses)+1)
	args = append(args, namespace)
	for i, st := range statuses {
		if i > 0 {
			query += ","
		}
		query += "?"
		args = append(args, string(st))
	}
	query += ")"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks by status: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// GetAll returns every task in namespace regardless of status.
func (s *Store) GetAll(ctx context.Context, namespace string) ([]*task.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE namespace = ?`, namespace)
	if err != nil {
		return nil, fmt.Errorf("query all tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func scanTasks(rows *sql.Rows) ([]*task.Task, error) {
	var out []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Put upserts a task's full row, used on submission; later status
// transitions go through UpdateStatus.
func (s *Store) Put(ctx context.Context, t *task.Task) error {
	dependsOn, err := json.Marshal(t.DependsOn)
	if err != nil {
		return fmt.Errorf("marshal dependsOn: %w", err)
	}
	properties, err := json.Marshal(t.Properties)
	if err != nil {
		return fmt.Errorf("marshal properties: %w", err)
	}
	ctxData, err := json.Marshal(t.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (
			namespace, workflow, job, name, type, created_at, submitted_at,
			completed_at, max_execution_time_ms, depends_on, properties, context, status, status_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(namespace, workflow, job, name) DO UPDATE SET
			type = excluded.type,
			submitted_at = excluded.submitted_at,
			completed_at = excluded.completed_at,
			max_execution_time_ms = excluded.max_execution_time_ms,
			depends_on = excluded.depends_on,
			properties = excluded.properties,
			context = excluded.context,
			status = excluded.status,
			status_message = excluded.status_message`,
		t.Namespace, t.Workflow, t.Job, t.Name, t.Type, t.CreatedAt, nullableInt64(t.SubmittedAt),
		nullableInt64(t.CompletedAt), t.MaxExecutionTimeMs, string(dependsOn), string(properties),
		string(ctxData), string(t.Status), t.StatusMessage,
	)
	if err != nil {
		return fmt.Errorf("put task: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT OR IGNORE INTO namespaces (name) VALUES (?)`, t.Namespace)
	if err != nil {
		return fmt.Errorf("record namespace: %w", err)
	}
	return nil
}

// UpdateStatus applies a status transition to an already-stored task.
func (s *Store) UpdateStatus(ctx context.Context, id task.TaskID, status task.Status, message string, ctxData map[string]any, completedAt int64) error {
	encoded, err := json.Marshal(ctxData)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, status_message = ?, context = ?, completed_at = ?
		WHERE namespace = ? AND workflow = ? AND job = ? AND name = ?`,
		string(status), message, string(encoded), nullableInt64(completedAt),
		id.Namespace, id.Workflow, id.Job, id.Name,
	)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		s.logger.Warn("status update for unknown task", zap.String("task", id.String()))
	}
	return nil
}

func scanTask(rows *sql.Rows) (*task.Task, error) {
	var t task.Task
	var submittedAt, completedAt sql.NullInt64
	var dependsOn, properties, ctxData sql.NullString

	err := rows.Scan(
		&t.Namespace, &t.Workflow, &t.Job, &t.Name, &t.Type, &t.CreatedAt, &submittedAt,
		&completedAt, &t.MaxExecutionTimeMs, &dependsOn, &properties, &ctxData, &t.Status, &t.StatusMessage,
	)
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	t.SubmittedAt = submittedAt.Int64
	t.CompletedAt = completedAt.Int64
	if dependsOn.Valid && dependsOn.String != "" {
		if err := json.Unmarshal([]byte(dependsOn.String), &t.DependsOn); err != nil {
			return nil, fmt.Errorf("unmarshal dependsOn: %w", err)
		}
	}
	if properties.Valid && properties.String != "" {
		if err := json.Unmarshal([]byte(properties.String), &t.Properties); err != nil {
			return nil, fmt.Errorf("unmarshal properties: %w", err)
		}
	}
	if ctxData.Valid && ctxData.String != "" {
		if err := json.Unmarshal([]byte(ctxData.String), &t.Context); err != nil {
			return nil, fmt.Errorf("unmarshal context: %w", err)
		}
	}
	return &t, nil
}

func nullableInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
