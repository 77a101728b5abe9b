// Copyright 2025 Malar Market Ledger Authors
// SPDX-License-Identifier: Apache-2.0

// Package offstore provides the durable client-side store for the Malar
// Market Ledger offline engine: named record collections over SQLite, a
// composite-key reference cache, and the pending-mutation queue.
//
// A Store is opened once per process and injected into the higher-level
// components; it owns the only connection to the underlying database file.
package offstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// ErrStorageUnavailable reports that the underlying medium cannot be
// opened, read, or written. Callers must treat it as "assume nothing is
// cached" and degrade, not crash.
var ErrStorageUnavailable = errors.New("storage unavailable")

// storageError tags a low-level database failure with ErrStorageUnavailable
// so callers can match the whole class with errors.Is.
func storageError(err error) error {
	if err == nil || errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}

var collectionNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// CollectionSpec declares one named collection the store must provide.
type CollectionSpec struct {
	Name string // e.g. "farmer_products"
}

// Config holds configuration for the durable store.
type Config struct {
	SchemaVersion int              // monotonically increasing; bump when adding collections
	Collections   []CollectionSpec // collections created/ensured at open
}

// DefaultConfig returns the collection layout used by the ledger client:
// the farmer-product reference cache and the pending mutation queue.
func DefaultConfig() *Config {
	return &Config{
		SchemaVersion: 1,
		Collections: []CollectionSpec{
			{Name: CollectionFarmerProducts},
			{Name: CollectionPendingMutations},
		},
	}
}

// Store is a transactional key-value store with multiple named collections.
// It is safe for concurrent use; writes are serialized by the single
// underlying SQLite connection.
type Store struct {
	dsn    string
	config *Config
	logger *slog.Logger

	mu     sync.Mutex
	db     *sql.DB
	opened bool
	closed bool
}

// NewStore creates a store for the given SQLite DSN (a file path, or
// ":memory:" for tests). The store is not usable until Open is called.
func NewStore(dsn string, config *Config, logger *slog.Logger) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn must be provided")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.SchemaVersion < 1 {
		return nil, fmt.Errorf("config.SchemaVersion must be >= 1")
	}
	if len(config.Collections) == 0 {
		return nil, fmt.Errorf("config.Collections must not be empty")
	}
	for _, spec := range config.Collections {
		if !collectionNameRe.MatchString(spec.Name) {
			return nil, fmt.Errorf("invalid collection name %q", spec.Name)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dsn: dsn, config: config, logger: logger}, nil
}

// Open opens the underlying database and runs schema migrations. It is
// idempotent: repeated calls during the process lifetime return the same
// underlying connection rather than reinitializing.
func (s *Store) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed: %w", ErrStorageUnavailable)
	}
	if s.opened {
		return nil
	}

	db, err := sql.Open("sqlite3", s.dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", storageError(err))
	}
	// One connection keeps ":memory:" databases stable and enforces the
	// single-active-transaction model the higher layers rely on.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", storageError(err))
	}
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable WAL mode: %w", storageError(err))
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", storageError(err))
	}

	if err := s.migrate(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	s.opened = true
	s.logger.Debug("store opened", "dsn", s.dsn, "schema_version", s.config.SchemaVersion)
	return nil
}

// migrate brings the on-disk schema up to the configured version. New
// collection tables and indexes are created as needed; existing compatible
// data is never deleted.
func (s *Store) migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS _store_meta (
			id             INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		)`); err != nil {
		return fmt.Errorf("failed to create meta table: %w", storageError(err))
	}

	var current int
	err := db.QueryRowContext(ctx, `SELECT schema_version FROM _store_meta WHERE id = 1`).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		current = 0
	} else if err != nil {
		return fmt.Errorf("failed to read schema version: %w", storageError(err))
	}

	if current > s.config.SchemaVersion {
		return fmt.Errorf("stored schema version %d is newer than configured version %d: %w",
			current, s.config.SchemaVersion, ErrStorageUnavailable)
	}
	if current == s.config.SchemaVersion {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration transaction: %w", storageError(err))
	}
	defer tx.Rollback()

	for _, spec := range s.config.Collections {
		table := collectionTable(spec.Name)
		ddl := []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				key     TEXT NOT NULL PRIMARY KEY,
				idx     TEXT NOT NULL DEFAULT '',
				payload TEXT NOT NULL
			)`, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_by_idx ON %s (idx)`, table, table),
		}
		for _, stmt := range ddl {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to create collection %s: %w", spec.Name, storageError(err))
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO _store_meta (id, schema_version) VALUES (1, ?)
		ON CONFLICT (id) DO UPDATE SET schema_version = excluded.schema_version
	`, s.config.SchemaVersion); err != nil {
		return fmt.Errorf("failed to record schema version: %w", storageError(err))
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", storageError(err))
	}

	s.logger.Info("store schema migrated", "from", current, "to", s.config.SchemaVersion)
	return nil
}

// Collection returns a handle to a named collection. The collection must
// have been declared in the store configuration.
func (s *Store) Collection(name string) (*Collection, error) {
	for _, spec := range s.config.Collections {
		if spec.Name == name {
			return &Collection{store: s, name: name, table: collectionTable(name)}, nil
		}
	}
	return nil, fmt.Errorf("unknown collection %q", name)
}

// Close releases the underlying connection. Operations issued after Close
// fail with ErrStorageUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.opened {
		s.closed = true
		return nil
	}
	s.closed = true
	s.opened = false
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", storageError(err))
	}
	return nil
}

// handle returns the live database handle, or ErrStorageUnavailable when
// the store has not been opened (or has been closed).
func (s *Store) handle() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened || s.closed {
		return nil, fmt.Errorf("store is not open: %w", ErrStorageUnavailable)
	}
	return s.db, nil
}

func collectionTable(name string) string {
	return "col_" + name
}
