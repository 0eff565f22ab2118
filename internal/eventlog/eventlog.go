// Package eventlog persists WorkerRegistry lifecycle events to a SQLite
// table so they survive a gateway restart, per SPEC_FULL.md §11.5. The
// distilled spec only requires events be emitted in-process to Fanout and
// Registry listeners; this gives operators something durable to query
// for postmortems after a worker crashes and the gateway later restarts.
package eventlog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"zeusgateway/internal/worker"
)

// Store owns the event-log database connection.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the event log database inside dir and
// runs its migrations.
func Open(dir string) (*Store, error) {
	path := filepath.Join(dir, "gateway.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", path, err)
	}

	// SQLite serializes writes; keep the pool small and let WAL mode
	// handle concurrent readers, mirroring the teacher's configuration.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("eventlog: apply pragma %q: %w", p, err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("eventlog: migrate: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS worker_events (
		id         TEXT PRIMARY KEY,
		type       TEXT NOT NULL,
		worker_id  TEXT NOT NULL,
		provider   TEXT NOT NULL,
		port       INTEGER NOT NULL,
		reason     TEXT DEFAULT '',
		timestamp  DATETIME NOT NULL,
		raw        TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_worker_events_worker_id ON worker_events (worker_id);
	CREATE INDEX IF NOT EXISTS idx_worker_events_provider ON worker_events (provider);
	CREATE INDEX IF NOT EXISTS idx_worker_events_timestamp ON worker_events (timestamp);
	`
	_, err := db.Exec(schema)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append persists ev. It implements registry.Listener so it can be wired
// with Registry.OnEvent directly.
func (s *Store) Append(ev worker.Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_, _ = s.db.Exec(
		`INSERT INTO worker_events (id, type, worker_id, provider, port, reason, timestamp, raw)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), string(ev.Type), ev.WorkerID, ev.Provider, ev.Port, ev.Reason, ev.Timestamp, string(raw),
	)
}

// Record is one persisted lifecycle event, returned by query methods.
type Record struct {
	ID    string       `json:"id"`
	Event worker.Event `json:"event"`
}

// ForWorker returns the most recent n events recorded for workerID, newest
// first. n <= 0 returns every event.
func (s *Store) ForWorker(workerID string, n int) ([]Record, error) {
	query := `SELECT id, raw FROM worker_events WHERE worker_id = ? ORDER BY timestamp DESC`
	args := []any{workerID}
	if n > 0 {
		query += ` LIMIT ?`
		args = append(args, n)
	}
	return s.query(query, args...)
}

// Recent returns the most recent n events across every worker, newest
// first, optionally filtered to a single provider when provider != "".
func (s *Store) Recent(provider string, n int) ([]Record, error) {
	query := `SELECT id, raw FROM worker_events`
	args := []any{}
	if provider != "" {
		query += ` WHERE provider = ?`
		args = append(args, provider)
	}
	query += ` ORDER BY timestamp DESC`
	if n > 0 {
		query += ` LIMIT ?`
		args = append(args, n)
	}
	return s.query(query, args...)
}

func (s *Store) query(query string, args ...any) ([]Record, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("eventlog: query: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("eventlog: scan: %w", err)
		}
		var ev worker.Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("eventlog: unmarshal: %w", err)
		}
		out = append(out, Record{ID: id, Event: ev})
	}
	return out, rows.Err()
}
