package vm

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ---------------------------------------------------------------------------
// Journal: SQLite-backed invalidation event log
// ---------------------------------------------------------------------------

// Event records one deoptimization: which assumption was disproven, which
// installed code it took down, and why.
type Event struct {
	Time       time.Time
	Assumption string
	Code       string
	Reason     string
}

// Journal persists invalidation events to SQLite so a long-running engine
// can be inspected after the fact. Append errors are reported to callers
// but never affect the invalidation protocol itself.
type Journal struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// OpenJournal opens (creating if needed) a journal at the given path.
// Use ":memory:" for an ephemeral journal in tests.
func OpenJournal(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS invalidations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		at TEXT NOT NULL,
		assumption TEXT NOT NULL,
		code TEXT NOT NULL,
		reason TEXT NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &Journal{db: db, path: path}, nil
}

// Append writes one event to the journal.
func (j *Journal) Append(ev Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	at := ev.Time
	if at.IsZero() {
		at = time.Now()
	}
	_, err := j.db.Exec(
		`INSERT INTO invalidations (at, assumption, code, reason) VALUES (?, ?, ?, ?)`,
		at.UTC().Format(time.RFC3339Nano), ev.Assumption, ev.Code, ev.Reason,
	)
	if err != nil {
		return fmt.Errorf("appending event: %w", err)
	}
	return nil
}

// Recent returns the n most recent events, newest first.
func (j *Journal) Recent(n int) ([]Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT at, assumption, code, reason FROM invalidations ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var at string
		if err := rows.Scan(&at, &ev.Assumption, &ev.Code, &ev.Reason); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		ev.Time, err = time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("parsing event time: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Count returns the total number of journaled events.
func (j *Journal) Count() (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var n int
	if err := j.db.QueryRow(`SELECT COUNT(*) FROM invalidations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return n, nil
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}
