package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// store persists a document's encoded CRDT state as a single blob in
// SQLite, guarded by a gofrs/flock single-writer file lock (SPEC_FULL.md
// §6.2), the way the teacher's sync.go takes an exclusive flock before
// touching shared state.
type store struct {
	db   *sql.DB
	lock *flock.Flock
}

// openStore opens (creating if absent) the plexusctl document store under
// dir/.plexus/plexus.db.
func openStore(dir string) (*store, error) {
	plexusDir := filepath.Join(dir, ".plexus")
	if err := os.MkdirAll(plexusDir, 0o755); err != nil {
		return nil, fmt.Errorf("plexusctl: create %s: %w", plexusDir, err)
	}

	lock := flock.New(filepath.Join(plexusDir, ".store.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("plexusctl: acquire store lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("plexusctl: another plexusctl process holds the store lock")
	}

	db, err := sql.Open("sqlite3", filepath.Join(plexusDir, "plexus.db"))
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("plexusctl: open sqlite store: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("plexusctl: ping sqlite store: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS documents (
		name BLOB PRIMARY KEY,
		state BLOB NOT NULL,
		updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("plexusctl: migrate sqlite store: %w", err)
	}

	return &store{db: db, lock: lock}, nil
}

func (s *store) Close() error {
	dbErr := s.db.Close()
	lockErr := s.lock.Unlock()
	if dbErr != nil {
		return dbErr
	}
	return lockErr
}

// Load returns the stored state blob for name, or (nil, false) if none was
// ever saved.
func (s *store) Load(name string) ([]byte, bool, error) {
	var state []byte
	err := s.db.QueryRow(`SELECT state FROM documents WHERE name = ?`, name).Scan(&state)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("plexusctl: load %s: %w", name, err)
	}
	return state, true, nil
}

// Save upserts the state blob for name.
func (s *store) Save(name string, state []byte) error {
	_, err := s.db.Exec(`INSERT INTO documents (name, state, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`, name, state)
	if err != nil {
		return fmt.Errorf("plexusctl: save %s: %w", name, err)
	}
	return nil
}
