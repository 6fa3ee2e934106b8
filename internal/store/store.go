// Package store implements C1: the SQLite-backed persistent state shared
// by every daemon in the fleet — the stigmergy event log, the document
// corpus, embeddings, the compute-route table, and the embed queue.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"fleetctl/internal/logging"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// ErrStoreUnavailable is returned when the store cannot be opened or
// reached; every other component fails fast on this.
var ErrStoreUnavailable = errors.New("store unavailable")

// Options configures schema migration, in particular the exempt-type
// list baked into the signal_metadata gate trigger.
type Options struct {
	// Namespace is the event-type prefix root, e.g. "hfo".
	Namespace string
	// Generation is the current generation string (HFO_GENERATION).
	Generation string
	// PriorGenerations lists generation strings that remain fully
	// exempt from the signal_metadata gate, for cross-generation
	// compatibility during a rollover.
	PriorGenerations []string
	// RequireVec fails Open if the sqlite-vec extension is not
	// available.
	RequireVec bool
}

// DefaultOptions returns sane defaults for a fresh fleet.
func DefaultOptions() Options {
	return Options{
		Namespace:        "hfo",
		Generation:       "1",
		PriorGenerations: nil,
		RequireVec:       false,
	}
}

// Store wraps the shared SQLite database. All higher components (events,
// routes, gate, coordinator, audit, embedqueue) execute statements through
// a *Store rather than holding their own connection.
type Store struct {
	db         *sql.DB
	mu         sync.RWMutex
	path       string
	readOnly   bool
	vectorExt  bool
	opts       Options
}

// OpenRW opens (creating if necessary) a read-write connection and runs
// migrations. WAL journaling and a 5s busy timeout are applied.
func OpenRW(path string, opts Options) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "OpenRW")
	defer timer.Stop()
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create directory %s: %v", ErrStoreUnavailable, dir, err)
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrStoreUnavailable, path, err)
	}

	s := &Store{db: db, path: path, opts: opts}
	if err := Migrate(db, opts); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", ErrStoreUnavailable, err)
	}

	s.detectVecExtension()
	if opts.RequireVec && !s.vectorExt {
		db.Close()
		return nil, fmt.Errorf("%w: sqlite-vec extension not available", ErrStoreUnavailable)
	}
	if s.vectorExt {
		logging.Store("sqlite-vec extension detected and enabled")
	} else {
		logging.Get(logging.CategoryStore).Warn("sqlite-vec extension not available; continuing without ANN search")
	}

	logging.Store("store opened read-write at %s", path)
	return s, nil
}

// OpenRO opens a read-only connection via SQLite's URI mode. Callers
// (audit spells, the coordinator) never mutate through this handle.
func OpenRO(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "OpenRO")
	defer timer.Stop()
	dsn := fmt.Sprintf("file:%s?mode=ro&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open read-only %s: %v", ErrStoreUnavailable, path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping read-only %s: %v", ErrStoreUnavailable, path, err)
	}
	s := &Store{db: db, path: path, readOnly: true}
	s.detectVecExtension()
	logging.Store("store opened read-only at %s", path)
	return s, nil
}

// DB returns the underlying *sql.DB for statement execution by the
// higher-level components. Concurrency-sensitive callers should still
// prefer the Store's own helper methods where available.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the backing database file path.
func (s *Store) Path() string { return s.path }

// VectorExtAvailable reports whether sqlite-vec's vec0 virtual table
// support was detected on this connection.
func (s *Store) VectorExtAvailable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vectorExt
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	logging.Store("closing store at %s", s.path)
	return s.db.Close()
}

// detectVecExtension attempts to create a throwaway vec0 virtual table
// to probe for sqlite-vec support.
func (s *Store) detectVecExtension() {
	if s.db == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(embedding float[4])"); err == nil {
		s.vectorExt = true
		_, _ = s.db.Exec("DROP TABLE IF EXISTS vec_probe")
		return
	}
	s.vectorExt = false
}
