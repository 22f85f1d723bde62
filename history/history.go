// Package history stores the transcript of interpreted inputs in SQLite.
//
// Only source text and the interpret outcome are recorded. Compiled chunks
// are never persisted.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("mote.history")

// ErrClosed is returned by operations on a closed Store.
var ErrClosed = errors.New("history store is closed")

// Entry is one recorded input.
type Entry struct {
	ID        string // ULID; lexical order is insertion order
	Session   string
	Source    string
	Status    int // vm.InterpretResult
	CreatedAt time.Time
}

// Store is a SQLite-backed history of interpreted inputs.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		session TEXT NOT NULL,
		source TEXT NOT NULL,
		status INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS entries_session ON entries (session, id)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating index: %w", err)
	}

	log.Debugf("opened history %s", path)
	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Record appends one input to the session's history.
func (s *Store) Record(ctx context.Context, session, source string, status int) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return Entry{}, ErrClosed
	}

	now := time.Now()
	e := Entry{
		ID:        ulid.Make().String(),
		Session:   session,
		Source:    source,
		Status:    status,
		CreatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO entries (id, session, source, status, created_at) VALUES (?, ?, ?, ?, ?)",
		e.ID, e.Session, e.Source, e.Status, now.UnixMilli(),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("recording entry: %w", err)
	}
	return e, nil
}

// Recent returns up to limit of the session's latest entries, oldest first.
// A limit of zero or less returns all of them.
func (s *Store) Recent(ctx context.Context, session string, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session, source, status, created_at FROM entries
		 WHERE session = ? ORDER BY id DESC LIMIT ?`,
		session, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var created int64
		if err := rows.Scan(&e.ID, &e.Session, &e.Source, &e.Status, &created); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		e.CreatedAt = time.UnixMilli(created)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entries: %w", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Clear deletes every entry of the session.
func (s *Store) Clear(ctx context.Context, session string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrClosed
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM entries WHERE session = ?", session); err != nil {
		return fmt.Errorf("clearing session %s: %w", session, err)
	}
	return nil
}
