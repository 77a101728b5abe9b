// Copyright 2025 Malar Market Ledger Authors
// SPDX-License-Identifier: Apache-2.0

package offstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Row is one record inside a collection. Key is the primary key, Index is
// the value of the collection's single secondary index (may be empty), and
// Payload is an opaque JSON document.
type Row struct {
	Key     string
	Index   string
	Payload json.RawMessage
}

// Collection is a handle to one named collection inside a Store. All
// operations are individually atomic; ReplaceAll wraps its work in a
// single transaction so the swap is all-or-nothing.
type Collection struct {
	store *Store
	name  string
	table string
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Get returns the row with the given key. The second return value is false
// when the key does not exist; a miss is not an error.
func (c *Collection) Get(ctx context.Context, key string) (Row, bool, error) {
	db, err := c.store.handle()
	if err != nil {
		return Row{}, false, err
	}
	var row Row
	err = db.QueryRowContext(ctx,
		`SELECT key, idx, payload FROM `+c.table+` WHERE key = ?`, key).
		Scan(&row.Key, &row.Index, (*payloadScanner)(&row.Payload))
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, fmt.Errorf("failed to get %s/%s: %w", c.name, key, storageError(err))
	}
	return row, true, nil
}

// Put inserts or overwrites the row identified by its key.
func (c *Collection) Put(ctx context.Context, row Row) error {
	if row.Key == "" {
		return fmt.Errorf("row key must not be empty")
	}
	db, err := c.store.handle()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `
		INSERT INTO `+c.table+` (key, idx, payload) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET idx = excluded.idx, payload = excluded.payload
	`, row.Key, row.Index, string(row.Payload)); err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", c.name, row.Key, storageError(err))
	}
	return nil
}

// Delete removes the row with the given key. Deleting a missing key is not
// an error.
func (c *Collection) Delete(ctx context.Context, key string) error {
	db, err := c.store.handle()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM `+c.table+` WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", c.name, key, storageError(err))
	}
	return nil
}

// GetAll returns every row in the collection, ordered by key. Keys assigned
// by the mutation queue are time-ordered, so key order is creation order.
func (c *Collection) GetAll(ctx context.Context) ([]Row, error) {
	return c.queryRows(ctx, `SELECT key, idx, payload FROM `+c.table+` ORDER BY key`)
}

// GetAllByIndex returns the rows whose secondary index equals value,
// ordered by key.
func (c *Collection) GetAllByIndex(ctx context.Context, value string) ([]Row, error) {
	return c.queryRows(ctx,
		`SELECT key, idx, payload FROM `+c.table+` WHERE idx = ? ORDER BY key`, value)
}

// Count returns the number of rows in the collection.
func (c *Collection) Count(ctx context.Context) (int, error) {
	db, err := c.store.handle()
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+c.table).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", c.name, storageError(err))
	}
	return n, nil
}

// ReplaceAll clears the collection and inserts all given rows in one
// transaction. Readers never observe a half-replaced collection: either
// the old contents survive intact or only the new rows are present.
func (c *Collection) ReplaceAll(ctx context.Context, rows []Row) error {
	db, err := c.store.handle()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin replace transaction: %w", storageError(err))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM `+c.table); err != nil {
		return fmt.Errorf("failed to clear %s: %w", c.name, storageError(err))
	}
	for _, row := range rows {
		if row.Key == "" {
			return fmt.Errorf("row key must not be empty")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO `+c.table+` (key, idx, payload) VALUES (?, ?, ?)`,
			row.Key, row.Index, string(row.Payload)); err != nil {
			return fmt.Errorf("failed to insert %s/%s: %w", c.name, row.Key, storageError(err))
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit replace: %w", storageError(err))
	}
	return nil
}

// Clear removes every row in the collection.
func (c *Collection) Clear(ctx context.Context) error {
	db, err := c.store.handle()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM `+c.table); err != nil {
		return fmt.Errorf("failed to clear %s: %w", c.name, storageError(err))
	}
	return nil
}

func (c *Collection) queryRows(ctx context.Context, query string, args ...any) ([]Row, error) {
	db, err := c.store.handle()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", c.name, storageError(err))
	}
	defer rows.Close()

	out := make([]Row, 0)
	for rows.Next() {
		var row Row
		if err := rows.Scan(&row.Key, &row.Index, (*payloadScanner)(&row.Payload)); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", c.name, storageError(err))
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", c.name, storageError(err))
	}
	return out, nil
}

// payloadScanner scans the TEXT payload column into json.RawMessage without
// aliasing the driver's buffer.
type payloadScanner json.RawMessage

func (p *payloadScanner) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*p = nil
	case string:
		*p = payloadScanner(append([]byte(nil), v...))
	case []byte:
		*p = payloadScanner(append([]byte(nil), v...))
	default:
		return fmt.Errorf("unsupported payload type %T", src)
	}
	return nil
}
