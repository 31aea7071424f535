// Package store wraps the single embedded SQL database bialet persists to:
// the script log sink, the remote-module cache, and blob storage for the
// file-sentinel mechanism (spec.md §3 ModuleCacheEntry/LogEntry/FileBlob,
// §6 persisted state layout).
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Limits mirror the fixed pragma values spec.md §5 requires.
const (
	busyTimeoutMS = 5000
	journalSizeB  = 64 * 1024 * 1024
	mmapSizeB     = 128 * 1024 * 1024
	cacheSizeKB   = -10000 // negative: kibibytes, per SQLite convention
)

const schema = `
CREATE TABLE IF NOT EXISTS BIALET_LOGS (
	message TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS BIALET_REMOTE_MODULES (
	module  TEXT NOT NULL,
	content TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS BIALET_FILES (
	id   TEXT NOT NULL,
	file BLOB NOT NULL
);
`

// Store is the process-wide, shared database handle. Per spec.md §5 only
// one request executes at a time inside a worker, so Store does not add
// its own locking beyond what database/sql already serialises.
type Store struct {
	conn *sql.DB
}

// Open opens (creating if necessary) the database at path, applies the
// fixed pragma configuration, and runs the schema migration.
// wal enables WAL-mode journaling per the -w flag.
func Open(path string, wal bool) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
		}
	}

	journalMode := "delete"
	if wal {
		journalMode = "wal"
	}

	dsn := fmt.Sprintf(
		"%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(on)&_pragma=synchronous(normal)&_pragma=journal_mode(%s)&_pragma=journal_size_limit(%d)&_pragma=mmap_size(%d)&_pragma=cache_size(%d)",
		path, busyTimeoutMS, journalMode, journalSizeB, mmapSizeB, cacheSizeKB,
	)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// The core serialises requests at the worker level (spec.md §5); a
	// single connection is sufficient and keeps cross-process busy-timeout
	// semantics simple.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("running schema migration: %w", err)
	}

	return &Store{conn: conn}, nil
}

// Conn exposes the underlying *sql.DB for the query executor (C3), which
// needs lower-level access (typed column introspection, last_insert_rowid)
// than the convenience methods below provide.
func (s *Store) Conn() *sql.DB { return s.conn }

// Close closes the database handle.
func (s *Store) Close() error { return s.conn.Close() }

// Log appends a script-level log message (spec.md §3 LogEntry), mirroring
// the original's bialetWrenWrite insert.
func (s *Store) Log(message string) error {
	_, err := s.conn.Exec(`INSERT INTO BIALET_LOGS (message) VALUES (?)`, message)
	if err != nil {
		return fmt.Errorf("inserting log entry: %w", err)
	}
	return nil
}

// LookupModule returns the cached source for a remote module key (e.g.
// "gh:user/repo@branch/path"), and whether it was found.
func (s *Store) LookupModule(module string) (string, bool, error) {
	var content string
	err := s.conn.QueryRow(
		`SELECT content FROM BIALET_REMOTE_MODULES WHERE module = ? LIMIT 1`, module,
	).Scan(&content)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("looking up cached module %s: %w", module, err)
	}
	return content, true, nil
}

// CacheModule inserts a fetched remote module's source. Duplicate inserts
// are tolerated (spec.md §5): the read path always takes the first row, so
// first-writer-wins.
func (s *Store) CacheModule(module, content string) error {
	_, err := s.conn.Exec(
		`INSERT INTO BIALET_REMOTE_MODULES (module, content) VALUES (?, ?)`, module, content,
	)
	if err != nil {
		return fmt.Errorf("caching module %s: %w", module, err)
	}
	return nil
}

// GetFile returns the blob stored under id for the file-sentinel mechanism
// (spec.md §4.5/§6). ok is false when no row matches.
func (s *Store) GetFile(id string) (data []byte, ok bool, err error) {
	err = s.conn.QueryRow(`SELECT file FROM BIALET_FILES WHERE id = ? LIMIT 1`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("fetching file %s: %w", id, err)
	}
	return data, true, nil
}

// PutFile stores a blob under id, used by the multipart upload handler
// (SPEC_FULL.md §12) and by tests seeding BIALET_FILES rows.
func (s *Store) PutFile(id string, data []byte) error {
	_, err := s.conn.Exec(`INSERT INTO BIALET_FILES (id, file) VALUES (?, ?)`, id, data)
	if err != nil {
		return fmt.Errorf("storing file %s: %w", id, err)
	}
	return nil
}
