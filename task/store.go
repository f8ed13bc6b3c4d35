package task

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id             TEXT PRIMARY KEY,
	type           TEXT NOT NULL,
	status         TEXT NOT NULL,
	owner          TEXT NOT NULL DEFAULT '',
	priority       INTEGER NOT NULL DEFAULT 0,
	inputs         TEXT NOT NULL DEFAULT '{}',
	outputs        TEXT NOT NULL DEFAULT '{}',
	context        TEXT NOT NULL DEFAULT '{}',
	metadata       TEXT NOT NULL DEFAULT '{}',
	attempt        INTEGER NOT NULL DEFAULT 0,
	parent_id      TEXT NOT NULL DEFAULT '',
	dependency_ids TEXT NOT NULL DEFAULT '[]',
	created_at     DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_claim ON tasks(status, type, created_at, id);
`

const taskColumns = `id, type, status, owner, priority, inputs, outputs, context, metadata,
	attempt, parent_id, dependency_ids, created_at, updated_at`

// SQLiteStore persists tasks in a SQLite database.
//
// A single connection plus an explicit transaction in ClaimNext gives every
// mutation the read-modify-write critical section the claim invariant needs:
// no two claimants can ever be handed the same task.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures
// the tasks table exists. The caller is responsible for calling Close.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Create persists a new task. An ID is assigned when absent, and CreatedAt
// and UpdatedAt are set to the same instant.
func (s *SQLiteStore) Create(t *Task) (string, error) {
	if t.ID == "" {
		t.ID = "task-" + uuid.NewString()
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Type, string(t.Status), t.Owner, t.Priority,
		mustJSON(t.Inputs), mustJSON(t.Outputs), mustJSON(t.Context), mustJSON(t.Metadata),
		t.Attempt, t.ParentID, mustJSONSlice(t.DependencyIDs),
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("insert task: %w", err)
	}
	return t.ID, nil
}

// Get retrieves a task by ID.
func (s *SQLiteStore) Get(id string) (*Task, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t, err
}

// Update applies the patch to the stored task, bumps UpdatedAt, and returns
// the updated task.
func (s *SQLiteStore) Update(id string, patch Patch) (*Task, error) {
	t, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if patch.Status != nil {
		t.Status = *patch.Status
	}
	if patch.Owner != nil {
		t.Owner = *patch.Owner
	}
	if patch.Attempt != nil {
		t.Attempt = *patch.Attempt
	}
	if patch.Outputs != nil {
		t.Outputs = patch.Outputs
	}
	if patch.Context != nil {
		t.Context = patch.Context
	}
	t.UpdatedAt = time.Now().UTC()

	res, err := s.db.Exec(`
		UPDATE tasks SET
			status=?, owner=?, attempt=?, outputs=?, context=?, updated_at=?
		WHERE id=?`,
		string(t.Status), t.Owner, t.Attempt,
		mustJSON(t.Outputs), mustJSON(t.Context),
		t.UpdatedAt, t.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t, nil
}

// List returns tasks in creation order. With statuses given, only tasks in
// one of those states are returned.
func (s *SQLiteStore) List(statuses ...Status) ([]*Task, error) {
	q := strings.Builder{}
	q.WriteString("SELECT " + taskColumns + " FROM tasks")
	args := []any{}
	if len(statuses) > 0 {
		q.WriteString(" WHERE status IN (?" + strings.Repeat(",?", len(statuses)-1) + ")")
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	q.WriteString(" ORDER BY created_at ASC, id ASC")

	rows, err := s.db.Query(q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ClaimNext atomically transitions the oldest PENDING task of agentType to
// IN_PROGRESS, owned by ownerID with its attempt count incremented. The
// select and the update run in one transaction so concurrent claimants can
// never both observe the task as PENDING.
//
// Claim order is strictly FIFO on created_at (ties broken by id); priority
// is stored for observability but deliberately not consulted.
func (s *SQLiteStore) ClaimNext(agentType, ownerID string) (*Task, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(`
		SELECT `+taskColumns+` FROM tasks
		WHERE status = ? AND type = ?
		ORDER BY created_at ASC, id ASC
		LIMIT 1`,
		string(StatusPending), agentType,
	)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select claimable: %w", err)
	}

	t.Status = StatusInProgress
	t.Owner = ownerID
	t.Attempt++
	t.UpdatedAt = time.Now().UTC()

	res, err := tx.Exec(`
		UPDATE tasks SET status=?, owner=?, attempt=?, updated_at=?
		WHERE id=? AND status=?`,
		string(StatusInProgress), t.Owner, t.Attempt, t.UpdatedAt,
		t.ID, string(StatusPending),
	)
	if err != nil {
		return nil, fmt.Errorf("claim task %s: %w", t.ID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		// Lost the race inside a single transaction should be impossible;
		// treat it as no eligible task rather than a hard failure.
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return t, nil
}

// scanner abstracts sql.Row and sql.Rows for scanTask.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*Task, error) {
	var t Task
	var status, inputs, outputs, taskCtx, metadata, deps string

	err := s.Scan(
		&t.ID, &t.Type, &status, &t.Owner, &t.Priority,
		&inputs, &outputs, &taskCtx, &metadata,
		&t.Attempt, &t.ParentID, &deps,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = Status(status)
	_ = json.Unmarshal([]byte(inputs), &t.Inputs)
	_ = json.Unmarshal([]byte(outputs), &t.Outputs)
	_ = json.Unmarshal([]byte(taskCtx), &t.Context)
	_ = json.Unmarshal([]byte(metadata), &t.Metadata)
	_ = json.Unmarshal([]byte(deps), &t.DependencyIDs)
	return &t, nil
}

func mustJSON(m map[string]any) string {
	if m == nil {
		return "{}"
	}
	b, _ := json.Marshal(m)
	return string(b)
}

func mustJSONSlice(s []string) string {
	if s == nil {
		return "[]"
	}
	b, _ := json.Marshal(s)
	return string(b)
}
