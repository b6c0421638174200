// Package audit records index mutations in a SQLite table.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// Action is the kind of mutation recorded.
type Action string

const (
	ActionCreate Action = "create"
	ActionDelete Action = "delete"
	ActionExpire Action = "expire"
)

// Entry is one audit row.
type Entry struct {
	ID             int64     `json:"id"`
	Time           time.Time `json:"ts"`
	Action         Action    `json:"action"`
	Participant    string    `json:"participant"`
	Documents      int       `json:"documents"`
	OwnerID        string    `json:"owner_id"`
	RequestingHost string    `json:"requesting_host"`
}

// Recorder is implemented by Log. The indexer depends on this interface so
// auditing can be disabled.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Log is the SQLite-backed audit trail.
type Log struct {
	db     *sql.DB
	ownsDB bool
	now    func() time.Time
}

// Open opens (and creates) the audit database at path using the pure Go driver.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	// Single writer to prevent lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	l, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	l.ownsDB = true
	return l, nil
}

// New wraps an existing database connection, creating the schema if needed.
func New(db *sql.DB) (*Log, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := InitSchema(db); err != nil {
		return nil, err
	}
	return &Log{db: db, now: time.Now}, nil
}

// InitSchema creates the audit table if it doesn't exist.
func InitSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts TEXT NOT NULL,
		action TEXT NOT NULL,
		participant TEXT NOT NULL,
		documents INTEGER NOT NULL DEFAULT 0,
		owner_id TEXT NOT NULL DEFAULT '',
		requesting_host TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_audit_log_participant ON audit_log(participant);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create audit schema: %w", err)
	}
	return nil
}

// Record appends an entry. A zero Time is stamped with the current time.
func (l *Log) Record(ctx context.Context, e Entry) error {
	if e.Time.IsZero() {
		e.Time = l.now()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO audit_log (ts, action, participant, documents, owner_id, requesting_host)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.Time.UTC().Format(time.RFC3339Nano), string(e.Action), e.Participant, e.Documents, e.OwnerID, e.RequestingHost)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.query(ctx, `
		SELECT id, ts, action, participant, documents, owner_id, requesting_host
		FROM audit_log
		ORDER BY id DESC
		LIMIT ?
	`, limit)
}

// ForParticipant returns every entry of one participant, oldest first.
func (l *Log) ForParticipant(ctx context.Context, participant string) ([]Entry, error) {
	return l.query(ctx, `
		SELECT id, ts, action, participant, documents, owner_id, requesting_host
		FROM audit_log
		WHERE participant = ?
		ORDER BY id ASC
	`, participant)
}

func (l *Log) query(ctx context.Context, q string, args ...any) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e      Entry
			ts     string
			action string
		)
		if err := rows.Scan(&e.ID, &ts, &action, &e.Participant, &e.Documents, &e.OwnerID, &e.RequestingHost); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		if e.Time, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse audit timestamp: %w", err)
		}
		e.Action = Action(action)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database if Open created it.
func (l *Log) Close() error {
	if !l.ownsDB {
		return nil
	}
	return l.db.Close()
}
