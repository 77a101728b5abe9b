// Copyright 2025 Malar Market Ledger Authors
// SPDX-License-Identifier: Apache-2.0

package offstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// CollectionPendingMutations is the collection backing the mutation queue.
const CollectionPendingMutations = "pending_mutations"

// Op is the kind of write a queued mutation replays against the server.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

func (op Op) valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Mutation is one pending write captured while offline. ID is a UUIDv7:
// time-ordered, so the storage key doubles as the FIFO ordering key.
type Mutation struct {
	ID        string          `json:"id"`
	Resource  string          `json:"resource"` // logical resource, e.g. "daily-entry"
	Op        Op              `json:"op"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	Attempts  int             `json:"attempts"`
}

// MutationQueue is an ordered queue of pending writes over a Store
// collection. Entries are removed only after confirmed server
// acknowledgment; the queue never reorders or silently drops them.
type MutationQueue struct {
	store  *Store
	logger *slog.Logger
}

// NewMutationQueue creates a mutation queue over the given store.
func NewMutationQueue(store *Store, logger *slog.Logger) (*MutationQueue, error) {
	if store == nil {
		return nil, fmt.Errorf("store must be provided")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MutationQueue{store: store, logger: logger}, nil
}

// Enqueue appends a new pending mutation and returns its assigned id.
func (q *MutationQueue) Enqueue(ctx context.Context, resource string, op Op, payload json.RawMessage) (string, error) {
	if resource == "" {
		return "", fmt.Errorf("resource must not be empty")
	}
	if !op.valid() {
		return "", fmt.Errorf("invalid operation %q", op)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate mutation id: %w", err)
	}

	m := Mutation{
		ID:        id.String(),
		Resource:  resource,
		Op:        op,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	col, err := q.store.Collection(CollectionPendingMutations)
	if err != nil {
		return "", err
	}
	row, err := mutationRow(m)
	if err != nil {
		return "", err
	}
	if err := col.Put(ctx, row); err != nil {
		return "", err
	}
	q.logger.Debug("mutation queued", "id", m.ID, "resource", resource, "op", op)
	return m.ID, nil
}

// PeekAll returns all pending mutations in creation order. This snapshot
// is the replay plan for one draining pass.
func (q *MutationQueue) PeekAll(ctx context.Context) ([]Mutation, error) {
	col, err := q.store.Collection(CollectionPendingMutations)
	if err != nil {
		return nil, err
	}
	rows, err := col.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return mutationsFromRows(rows)
}

// PeekResource returns the pending mutations for one logical resource, in
// creation order.
func (q *MutationQueue) PeekResource(ctx context.Context, resource string) ([]Mutation, error) {
	col, err := q.store.Collection(CollectionPendingMutations)
	if err != nil {
		return nil, err
	}
	rows, err := col.GetAllByIndex(ctx, resource)
	if err != nil {
		return nil, err
	}
	return mutationsFromRows(rows)
}

// Len returns the number of pending mutations. A non-zero length is what
// drives the caller's "pending sync" indicator.
func (q *MutationQueue) Len(ctx context.Context) (int, error) {
	col, err := q.store.Collection(CollectionPendingMutations)
	if err != nil {
		return 0, err
	}
	return col.Count(ctx)
}

// Dequeue removes exactly the mutation with the given id. Called only
// after the server acknowledged that mutation.
func (q *MutationQueue) Dequeue(ctx context.Context, id string) error {
	col, err := q.store.Collection(CollectionPendingMutations)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, id); err != nil {
		return err
	}
	q.logger.Debug("mutation dequeued", "id", id)
	return nil
}

// MarkAttempt increments the retry counter of the mutation with the given
// id, leaving it queued for the next pass. A missing id is a no-op: the
// mutation may have been acknowledged concurrently.
func (q *MutationQueue) MarkAttempt(ctx context.Context, id string) error {
	col, err := q.store.Collection(CollectionPendingMutations)
	if err != nil {
		return err
	}
	row, ok, err := col.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		q.logger.Debug("markAttempt on missing mutation", "id", id)
		return nil
	}
	m, err := mutationFromRow(row)
	if err != nil {
		return err
	}
	m.Attempts++
	updated, err := mutationRow(m)
	if err != nil {
		return err
	}
	return col.Put(ctx, updated)
}

func mutationRow(m Mutation) (Row, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return Row{}, fmt.Errorf("failed to marshal mutation %s: %w", m.ID, err)
	}
	return Row{Key: m.ID, Index: m.Resource, Payload: payload}, nil
}

func mutationFromRow(row Row) (Mutation, error) {
	var m Mutation
	if err := json.Unmarshal(row.Payload, &m); err != nil {
		return Mutation{}, fmt.Errorf("failed to unmarshal mutation %s: %w", row.Key, err)
	}
	return m, nil
}

func mutationsFromRows(rows []Row) ([]Mutation, error) {
	mutations := make([]Mutation, 0, len(rows))
	for _, row := range rows {
		m, err := mutationFromRow(row)
		if err != nil {
			return nil, err
		}
		mutations = append(mutations, m)
	}
	return mutations, nil
}
