// Package audit keeps a queryable trail of every bus event in its own
// SQLite database for post-mortem inspection. Recording is best effort:
// failures are logged and never interfere with the session.
package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mbranton/hive/internal/bus"
)

// Trail is the audit event store.
type Trail struct {
	db   *sql.DB
	logf func(format string, args ...interface{})

	wg sync.WaitGroup
}

// Entry is one recorded event row.
type Entry struct {
	ID         int64
	SessionID  string
	EventKind  bus.Kind
	OccurredAt time.Time
	Payload    string
}

// TrailPath returns the audit database path for a project.
func TrailPath(projectDir string) string {
	return filepath.Join(projectDir, ".hive", "audit.db")
}

// Open opens (or creates) the audit database at dbPath.
func Open(dbPath string) (*Trail, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			occurred_at DATETIME NOT NULL,
			payload TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create events table: %w", err)
	}

	return &Trail{db: db, logf: log.Printf}, nil
}

// Close waits for any attached recorder to drain and closes the database.
func (t *Trail) Close() error {
	t.wg.Wait()
	return t.db.Close()
}

// Record persists one event for a session.
func (t *Trail) Record(sessionID string, e bus.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = t.db.Exec(`
		INSERT INTO events (session_id, kind, occurred_at, payload)
		VALUES (?, ?, ?, ?)
	`, sessionID, string(e.Kind()), e.OccurredAt().UTC().Format(time.RFC3339Nano), string(payload))
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// Attach subscribes to the bus and records every event for the session until
// the bus closes. It returns immediately; recording runs in the background.
func (t *Trail) Attach(b *bus.Bus, sessionID string) {
	sub := b.Subscribe(256)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for e := range sub.Events() {
			if err := t.Record(sessionID, e); err != nil {
				t.logf("audit: %v", err)
			}
		}
		if n := sub.Dropped(); n > 0 {
			t.logf("audit: %d events dropped for session %s", n, sessionID)
		}
	}()
}

// BySession returns a session's events in insertion order.
func (t *Trail) BySession(sessionID string) ([]Entry, error) {
	rows, err := t.db.Query(`
		SELECT id, session_id, kind, occurred_at, payload
		FROM events WHERE session_id = ? ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			kind       string
			occurredAt string
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &kind, &occurredAt, &e.Payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.EventKind = bus.Kind(kind)
		e.OccurredAt, _ = time.Parse(time.RFC3339Nano, occurredAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountByKind returns per-kind event totals for a session.
func (t *Trail) CountByKind(sessionID string) (map[bus.Kind]int, error) {
	rows, err := t.db.Query(`
		SELECT kind, COUNT(*) FROM events WHERE session_id = ? GROUP BY kind
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[bus.Kind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[bus.Kind(kind)] = n
	}
	return counts, rows.Err()
}
