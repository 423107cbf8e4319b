package localstore

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// SQLiteStore implements Store backed by a SQLite database. Keys are scoped
// to an origin (the backend base URL) so one database can serve several
// backends without their credentials or caches colliding.
type SQLiteStore struct {
	db     *sql.DB
	origin string
}

// OpenSQLite opens (or creates) a SQLite database at dbPath and returns a
// store scoped to origin.
func OpenSQLite(dbPath, origin string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and serialises
	// writers for file databases.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=3000;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", p, err)
		}
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, origin: origin}, nil
}

// Open returns a SQLite store at dbPath, or a MemoryStore when the database
// cannot be opened. The second result reports whether storage is persistent.
func Open(dbPath, origin string, log *slog.Logger) (Store, bool) {
	s, err := OpenSQLite(dbPath, origin)
	if err != nil {
		log.Warn("local storage unavailable, keeping state in memory only", "path", dbPath, "error", err)
		return NewMemoryStore(), false
	}
	return s, true
}

func initSchema(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS kv (
    origin TEXT NOT NULL,
    key TEXT NOT NULL,
    value TEXT NOT NULL,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (origin, key)
);`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// GetItem returns the value stored under key for this store's origin.
func (s *SQLiteStore) GetItem(key string) (string, bool, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE origin = ? AND key = ?`, s.origin, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return v, true, nil
}

// SetItem stores value under key for this store's origin.
func (s *SQLiteStore) SetItem(key, value string) error {
	_, err := s.db.Exec(`
INSERT INTO kv (origin, key, value, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(origin, key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		s.origin, key, value)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// RemoveItem deletes key for this store's origin.
func (s *SQLiteStore) RemoveItem(key string) error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE origin = ? AND key = ?`, s.origin, key); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}
