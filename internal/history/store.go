// Package history keeps a local SQLite record of every task a view polled.
package history

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/raysh454/scanflow/internal/logging"
	"github.com/raysh454/scanflow/internal/model"
)

//go:embed schema.sql
var schemaFS embed.FS

var ErrNotFound = errors.New("task not found in history")

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 50

type Store struct {
	db     *sql.DB
	logger logging.Logger
}

// Open creates the database file and its directory when missing and applies
// the schema.
func Open(path string, logger logging.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("history path is required")
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("ensure history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if path == MemoryPath {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, logger: logger.With(logging.Field{Key: "component", Value: "history"})}, nil
}

func applySchema(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	schemaSQL, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema.sql: %w", err)
	}
	if _, err := db.Exec(string(schemaSQL)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// Record inserts or replaces the row for rec.TaskID. A later record without
// results keeps the stored ones.
func (s *Store) Record(ctx context.Context, rec model.HistoryRecord) error {
	if rec.TaskID == "" {
		return fmt.Errorf("%w: task id is required", model.ErrValidation)
	}
	opts, err := json.Marshal(rec.Options)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}
	if rec.Options == nil {
		opts = []byte("[]")
	}
	var results sql.NullString
	if len(rec.Results) > 0 {
		results = sql.NullString{String: string(rec.Results), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (task_id, target_url, options, state, warning, error_kind, started_at, ended_at, duration_ms, results)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(task_id) DO UPDATE SET
             target_url  = CASE WHEN excluded.target_url != '' THEN excluded.target_url ELSE tasks.target_url END,
             options     = CASE WHEN excluded.options != '[]' THEN excluded.options ELSE tasks.options END,
             state       = excluded.state,
             warning     = excluded.warning,
             error_kind  = excluded.error_kind,
             started_at  = excluded.started_at,
             ended_at    = excluded.ended_at,
             duration_ms = excluded.duration_ms,
             results     = COALESCE(excluded.results, tasks.results)`,
		string(rec.TaskID), rec.TargetURL, string(opts), rec.State, rec.Warning, rec.ErrorKind,
		toMillis(rec.StartedAt), toMillis(rec.EndedAt), rec.DurationMS, results,
	)
	if err != nil {
		return fmt.Errorf("record task %s: %w", rec.TaskID, err)
	}
	s.logger.Debug("recorded task",
		logging.Field{Key: "task_id", Value: string(rec.TaskID)},
		logging.Field{Key: "state", Value: rec.State})
	return nil
}

// Get returns one task or ErrNotFound.
func (s *Store) Get(ctx context.Context, id model.TaskID) (*model.HistoryRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT task_id, target_url, options, state, warning, error_kind, started_at, ended_at, duration_ms, results
         FROM tasks
         WHERE task_id = ?`, string(id))
	rec, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return rec, nil
}

// List returns the most recently started tasks first, without results.
func (s *Store) List(ctx context.Context, limit int) ([]*model.HistoryRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, target_url, options, state, warning, error_kind, started_at, ended_at, duration_ms, NULL
         FROM tasks
         ORDER BY started_at DESC, task_id
         LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*model.HistoryRecord
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

func scanRecord(scan func(dest ...any) error) (*model.HistoryRecord, error) {
	var (
		rec            model.HistoryRecord
		id, opts       string
		started, ended int64
		results        sql.NullString
	)
	if err := scan(&id, &rec.TargetURL, &opts, &rec.State, &rec.Warning, &rec.ErrorKind,
		&started, &ended, &rec.DurationMS, &results); err != nil {
		return nil, err
	}
	rec.TaskID = model.TaskID(id)
	if err := json.Unmarshal([]byte(opts), &rec.Options); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	rec.StartedAt = fromMillis(started)
	rec.EndedAt = fromMillis(ended)
	if results.Valid {
		rec.Results = json.RawMessage(results.String)
	}
	return &rec, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
