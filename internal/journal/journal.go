// Package journal keeps a SQLite record of conversions for the operator
// endpoints. Documents themselves are never stored.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Listing bounds for Recent.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Status is the outcome of a conversion.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusRejected  Status = "rejected" // client error, nothing converted
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled" // client went away before a result
)

// Entry is one journaled conversion.
type Entry struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	Kind        string    `json:"kind,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Status      Status    `json:"status"`
	Stage       string    `json:"stage,omitempty"`
	Error       string    `json:"error,omitempty"`
	InputBytes  int64     `json:"input_bytes"`
	OutputBytes int64     `json:"output_bytes"`
	Pages       int       `json:"pages"`
	Worker      string    `json:"worker,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

// Stats aggregates the whole journal.
type Stats struct {
	Total    int64            `json:"total"`
	ByStatus map[Status]int64 `json:"by_status"`
	ByKind   map[string]int64 `json:"by_kind"`
	// FailedByStage counts failures by the pipeline stage they reached.
	FailedByStage map[string]int64 `json:"failed_by_stage"`
}

// Journal is a SQLite-backed conversion log. Safe for concurrent use.
type Journal struct {
	db    *sql.DB
	now   func() time.Time
	newID func() string
}

// Open opens (creating if needed) the journal database at path.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	j := &Journal{db: db, now: time.Now, newID: uuid.NewString}
	if err := j.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return j, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversions (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT '',
		content_type TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		stage TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		input_bytes INTEGER NOT NULL DEFAULT 0,
		output_bytes INTEGER NOT NULL DEFAULT 0,
		pages INTEGER NOT NULL DEFAULT 0,
		worker TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_conversions_created_at ON conversions(created_at);
	CREATE INDEX IF NOT EXISTS idx_conversions_status ON conversions(status);
	`

	_, err := j.db.Exec(schema)
	return err
}

// Record stores e, filling ID and CreatedAt when unset.
func (j *Journal) Record(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = j.newID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = j.now()
	}

	query := `
		INSERT INTO conversions (id, filename, kind, content_type, status, stage, error,
		                         input_bytes, output_bytes, pages, worker, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := j.db.ExecContext(ctx, query,
		e.ID,
		e.Filename,
		e.Kind,
		e.ContentType,
		string(e.Status),
		e.Stage,
		e.Error,
		e.InputBytes,
		e.OutputBytes,
		e.Pages,
		e.Worker,
		e.DurationMS,
		e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record conversion: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. A non-positive limit
// selects DefaultLimit; larger values are capped at MaxLimit.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}

	query := `
		SELECT id, filename, kind, content_type, status, stage, error,
		       input_bytes, output_bytes, pages, worker, duration_ms, created_at
		FROM conversions
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := j.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversions: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		var status string
		var createdAt int64

		err := rows.Scan(
			&e.ID,
			&e.Filename,
			&e.Kind,
			&e.ContentType,
			&status,
			&e.Stage,
			&e.Error,
			&e.InputBytes,
			&e.OutputBytes,
			&e.Pages,
			&e.Worker,
			&e.DurationMS,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversion: %w", err)
		}

		e.Status = Status(status)
		e.CreatedAt = time.UnixMilli(createdAt)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversions: %w", err)
	}
	return entries, nil
}

// Stats returns totals grouped by status, kind and failure stage.
func (j *Journal) Stats(ctx context.Context) (Stats, error) {
	st := Stats{
		ByStatus:      make(map[Status]int64),
		ByKind:        make(map[string]int64),
		FailedByStage: make(map[string]int64),
	}

	err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM conversions").Scan(&st.Total)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count conversions: %w", err)
	}

	groups := []struct {
		query string
		add   func(key string, n int64)
	}{
		{
			query: "SELECT status, COUNT(*) FROM conversions GROUP BY status",
			add:   func(k string, n int64) { st.ByStatus[Status(k)] = n },
		},
		{
			query: "SELECT kind, COUNT(*) FROM conversions WHERE kind != '' GROUP BY kind",
			add:   func(k string, n int64) { st.ByKind[k] = n },
		},
		{
			query: "SELECT stage, COUNT(*) FROM conversions WHERE status = 'failed' GROUP BY stage",
			add:   func(k string, n int64) { st.FailedByStage[k] = n },
		},
	}

	for _, g := range groups {
		if err := j.group(ctx, g.query, g.add); err != nil {
			return Stats{}, err
		}
	}
	return st, nil
}

func (j *Journal) group(ctx context.Context, query string, add func(string, int64)) error {
	rows, err := j.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to aggregate conversions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("failed to scan aggregate: %w", err)
		}
		add(key, n)
	}
	return rows.Err()
}
