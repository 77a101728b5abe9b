// Copyright 2025 Malar Market Ledger Authors
// SPDX-License-Identifier: Apache-2.0

package offstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// KeySeparator joins the owner and item components of a composite key.
// The natural keys in this domain use "-" internally, so a two-character
// separator keeps distinct (owner, item) pairs collision-free.
const KeySeparator = "::"

// CompositeKey derives the deterministic cache key for an (owner, item)
// pair, e.g. CompositeKey("farmer-1", "product-9") == "farmer-1::product-9".
func CompositeKey(owner, item string) string {
	return owner + KeySeparator + item
}

// SplitKey splits a composite key back into its owner and item components.
func SplitKey(key string) (owner, item string, ok bool) {
	owner, item, ok = strings.Cut(key, KeySeparator)
	return owner, item, ok
}

// Entry is one cached reference record. Fields holds the entity payload as
// last seen from the server; optional fields that were absent stay absent
// rather than being defaulted.
type Entry struct {
	Owner  string
	Item   string
	Fields map[string]any
}

// ReferenceCache caches read-mostly server-derived entities in named
// collections of a Store, keyed by composite (owner, item) identity.
type ReferenceCache struct {
	store  *Store
	logger *slog.Logger
}

// NewReferenceCache creates a reference cache over the given store.
func NewReferenceCache(store *Store, logger *slog.Logger) (*ReferenceCache, error) {
	if store == nil {
		return nil, fmt.Errorf("store must be provided")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReferenceCache{store: store, logger: logger}, nil
}

// ReplaceAll clears the named collection and inserts all given entries in
// one atomic transaction. Used for bulk refresh from the server.
func (r *ReferenceCache) ReplaceAll(ctx context.Context, collection string, entries []Entry) error {
	col, err := r.store.Collection(collection)
	if err != nil {
		return err
	}
	rows := make([]Row, 0, len(entries))
	for _, e := range entries {
		row, err := entryRow(e)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	if err := col.ReplaceAll(ctx, rows); err != nil {
		return err
	}
	r.logger.Debug("reference collection replaced", "collection", collection, "entries", len(entries))
	return nil
}

// GetAll returns the full cached collection, or an empty slice if it has
// never been populated.
func (r *ReferenceCache) GetAll(ctx context.Context, collection string) ([]Entry, error) {
	col, err := r.store.Collection(collection)
	if err != nil {
		return nil, err
	}
	rows, err := col.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return entriesFromRows(collection, rows)
}

// GetByOwner returns the cached entries whose composite key was derived
// with the given owner component. An unknown owner yields an empty slice,
// never an error.
func (r *ReferenceCache) GetByOwner(ctx context.Context, collection, owner string) ([]Entry, error) {
	col, err := r.store.Collection(collection)
	if err != nil {
		return nil, err
	}
	rows, err := col.GetAllByIndex(ctx, owner)
	if err != nil {
		return nil, err
	}
	return entriesFromRows(collection, rows)
}

// GetOne looks up a single entry by its full composite key. The second
// return value is false when the pair is not cached.
func (r *ReferenceCache) GetOne(ctx context.Context, collection, owner, item string) (Entry, bool, error) {
	col, err := r.store.Collection(collection)
	if err != nil {
		return Entry{}, false, err
	}
	row, ok, err := col.Get(ctx, CompositeKey(owner, item))
	if err != nil || !ok {
		return Entry{}, false, err
	}
	entry, err := entryFromRow(collection, row)
	if err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

// UpsertOne inserts or overwrites a single entry without touching the rest
// of the collection.
func (r *ReferenceCache) UpsertOne(ctx context.Context, collection string, entry Entry) error {
	col, err := r.store.Collection(collection)
	if err != nil {
		return err
	}
	row, err := entryRow(entry)
	if err != nil {
		return err
	}
	return col.Put(ctx, row)
}

// RemoveOne deletes a single entry if present. Removing a pair that is not
// cached succeeds silently.
func (r *ReferenceCache) RemoveOne(ctx context.Context, collection, owner, item string) error {
	col, err := r.store.Collection(collection)
	if err != nil {
		return err
	}
	return col.Delete(ctx, CompositeKey(owner, item))
}

// Clear empties the entire collection.
func (r *ReferenceCache) Clear(ctx context.Context, collection string) error {
	col, err := r.store.Collection(collection)
	if err != nil {
		return err
	}
	return col.Clear(ctx)
}

func entryRow(e Entry) (Row, error) {
	if e.Owner == "" || e.Item == "" {
		return Row{}, fmt.Errorf("entry owner and item must not be empty")
	}
	fields := e.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return Row{}, fmt.Errorf("failed to marshal entry %s: %w", CompositeKey(e.Owner, e.Item), err)
	}
	return Row{Key: CompositeKey(e.Owner, e.Item), Index: e.Owner, Payload: payload}, nil
}

func entryFromRow(collection string, row Row) (Entry, error) {
	owner, item, ok := SplitKey(row.Key)
	if !ok {
		return Entry{}, fmt.Errorf("malformed composite key %q in %s", row.Key, collection)
	}
	var fields map[string]any
	if err := json.Unmarshal(row.Payload, &fields); err != nil {
		return Entry{}, fmt.Errorf("failed to unmarshal entry %s/%s: %w", collection, row.Key, err)
	}
	return Entry{Owner: owner, Item: item, Fields: fields}, nil
}

func entriesFromRows(collection string, rows []Row) ([]Entry, error) {
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := entryFromRow(collection, row)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
