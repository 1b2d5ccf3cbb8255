// Package history keeps a bounded local record of validation results for anonymous callers.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// DefaultKey is the single bounded key all records live under.
const DefaultKey = "validation_history"

// DefaultCap is the number of records kept before the oldest are evicted.
const DefaultCap = 100

// Record is one persisted validation verdict.
type Record struct {
	ID        string          `json:"id"`
	Email     string          `json:"email"`
	Valid     bool            `json:"valid"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store appends records and lists them newest first.
type Store interface {
	Append(ctx context.Context, recs []Record) error
	List(ctx context.Context, limit int) ([]Record, error)
}

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	key string
	cap int
}

// NewSQLite opens a SQLite database at path and configures WAL mode. capacity <= 0 uses DefaultCap.
func NewSQLite(path string, capacity int) (*SQLiteStore, error) {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, key: DefaultKey, cap: capacity}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS history (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	history_key TEXT NOT NULL,
	email       TEXT NOT NULL,
	valid       INTEGER NOT NULL,
	payload     TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_key_seq ON history(history_key, seq);
`

// Migrate creates the schema if needed.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Cap is the maximum number of records retained.
func (s *SQLiteStore) Cap() int {
	return s.cap
}

// Append inserts recs in order and evicts the oldest records beyond the cap, in one transaction.
func (s *SQLiteStore) Append(ctx context.Context, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin append")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO history (id, history_key, email, valid, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert")
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range recs {
		payload := string(r.Payload)
		if payload == "" {
			payload = "{}"
		}
		if _, err := stmt.ExecContext(ctx, r.ID, s.key, r.Email, r.Valid, payload, r.CreatedAt.UTC().UnixNano()); err != nil {
			return eris.Wrapf(err, "sqlite: insert record %s", r.ID)
		}
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM history WHERE history_key = ? AND seq NOT IN (
			SELECT seq FROM history WHERE history_key = ? ORDER BY seq DESC LIMIT ?
		)`,
		s.key, s.key, s.cap,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: evict")
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit append")
}

// List returns up to limit records, newest first. limit <= 0 returns everything retained.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = s.cap
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, email, valid, payload, created_at FROM history
		 WHERE history_key = ? ORDER BY seq DESC LIMIT ?`,
		s.key, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list history")
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		var (
			r       Record
			payload string
			created int64
		)
		if err := rows.Scan(&r.ID, &r.Email, &r.Valid, &payload, &created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan history")
		}
		r.Payload = json.RawMessage(payload)
		r.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate history")
}

// Count returns the number of retained records.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM history WHERE history_key = ?`, s.key).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count history")
}
