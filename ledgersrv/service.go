// Copyright 2025 Malar Market Ledger Authors
// SPDX-License-Identifier: Apache-2.0

package ledgersrv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound reports that a requested ledger record does not exist.
var ErrNotFound = errors.New("record not found")

// Ledger is the storage surface the HTTP handlers depend on.
type Ledger interface {
	ListFarmerProducts(ctx context.Context, farmerID string) ([]FarmerProduct, error)
	UpsertFarmerProduct(ctx context.Context, fp FarmerProduct) (FarmerProduct, error)
	DeleteFarmerProduct(ctx context.Context, farmerID, productID string) error

	CreateDailyEntry(ctx context.Context, e DailyEntry) (DailyEntry, error)
	UpdateDailyEntry(ctx context.Context, e DailyEntry) (DailyEntry, error)
	DeleteDailyEntry(ctx context.Context, id string) error
}

// LedgerService implements Ledger over a Postgres pool.
type LedgerService struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewLedgerService creates the service and brings the schema up to date.
func NewLedgerService(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (*LedgerService, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool must be provided")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &LedgerService{pool: pool, logger: logger}
	if err := s.initializeSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// initializeSchema creates the ledger tables if they don't exist.
func (s *LedgerService) initializeSchema(ctx context.Context) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		migrations := []string{
			/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS farmer_products (
				farmer_id    TEXT NOT NULL,
				product_id   TEXT NOT NULL,
				product_name TEXT,
				rate         DOUBLE PRECISION,
				unit         TEXT,
				updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
				PRIMARY KEY (farmer_id, product_id)
			)`,
			/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS daily_entries (
				id         UUID PRIMARY KEY,
				farmer_id  TEXT NOT NULL,
				product_id TEXT NOT NULL,
				entry_date DATE NOT NULL,
				weight     DOUBLE PRECISION NOT NULL,
				rate       DOUBLE PRECISION NOT NULL,
				amount     DOUBLE PRECISION NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			/*language=postgresql*/ `CREATE INDEX IF NOT EXISTS daily_entries_by_farmer
				ON daily_entries (farmer_id, entry_date)`,
		}
		for _, stmt := range migrations {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
		}
		return nil
	})
}

// ListFarmerProducts returns the associations for one farmer, or all
// associations when farmerID is empty.
func (s *LedgerService) ListFarmerProducts(ctx context.Context, farmerID string) ([]FarmerProduct, error) {
	query := `SELECT farmer_id, product_id, product_name, rate, unit, updated_at
		FROM farmer_products`
	args := []any{}
	if farmerID != "" {
		query += ` WHERE farmer_id = $1`
		args = append(args, farmerID)
	}
	query += ` ORDER BY farmer_id, product_id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query farmer products: %w", err)
	}
	defer rows.Close()

	out := make([]FarmerProduct, 0)
	for rows.Next() {
		var fp FarmerProduct
		var name, unit *string
		if err := rows.Scan(&fp.FarmerID, &fp.ProductID, &name, &fp.Rate, &unit, &fp.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan farmer product: %w", err)
		}
		if name != nil {
			fp.ProductName = *name
		}
		if unit != nil {
			fp.Unit = *unit
		}
		out = append(out, fp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate farmer products: %w", err)
	}
	return out, nil
}

// UpsertFarmerProduct inserts or overwrites one association.
func (s *LedgerService) UpsertFarmerProduct(ctx context.Context, fp FarmerProduct) (FarmerProduct, error) {
	if fp.FarmerID == "" || fp.ProductID == "" {
		return FarmerProduct{}, fmt.Errorf("farmer_id and product_id must be provided")
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO farmer_products (farmer_id, product_id, product_name, rate, unit, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), now())
		ON CONFLICT (farmer_id, product_id) DO UPDATE SET
			product_name = excluded.product_name,
			rate         = excluded.rate,
			unit         = excluded.unit,
			updated_at   = now()
		RETURNING updated_at
	`, fp.FarmerID, fp.ProductID, fp.ProductName, fp.Rate, fp.Unit)
	if err := row.Scan(&fp.UpdatedAt); err != nil {
		return FarmerProduct{}, fmt.Errorf("failed to upsert farmer product: %w", err)
	}
	return fp, nil
}

// DeleteFarmerProduct removes one association; deleting a missing pair is
// not an error.
func (s *LedgerService) DeleteFarmerProduct(ctx context.Context, farmerID, productID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM farmer_products WHERE farmer_id = $1 AND product_id = $2`,
		farmerID, productID); err != nil {
		return fmt.Errorf("failed to delete farmer product: %w", err)
	}
	return nil
}

// CreateDailyEntry inserts a new daily entry, assigning an id when the
// client did not provide one and computing the amount server-side.
func (s *LedgerService) CreateDailyEntry(ctx context.Context, e DailyEntry) (DailyEntry, error) {
	if e.FarmerID == "" || e.ProductID == "" || e.EntryDate == "" {
		return DailyEntry{}, fmt.Errorf("farmer_id, product_id and entry_date must be provided")
	}
	if e.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return DailyEntry{}, fmt.Errorf("failed to generate entry id: %w", err)
		}
		e.ID = id.String()
	}
	e.Amount = e.Weight * e.Rate

	row := s.pool.QueryRow(ctx, `
		INSERT INTO daily_entries (id, farmer_id, product_id, entry_date, weight, rate, amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
		RETURNING created_at, updated_at
	`, e.ID, e.FarmerID, e.ProductID, e.EntryDate, e.Weight, e.Rate, e.Amount)
	if err := row.Scan(&e.CreatedAt, &e.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Replay of an already-acknowledged create; keep it idempotent.
			return e, nil
		}
		return DailyEntry{}, fmt.Errorf("failed to create daily entry: %w", err)
	}
	return e, nil
}

// UpdateDailyEntry overwrites an existing entry, recomputing the amount.
func (s *LedgerService) UpdateDailyEntry(ctx context.Context, e DailyEntry) (DailyEntry, error) {
	if e.ID == "" {
		return DailyEntry{}, fmt.Errorf("id must be provided")
	}
	e.Amount = e.Weight * e.Rate

	row := s.pool.QueryRow(ctx, `
		UPDATE daily_entries SET
			farmer_id  = $2,
			product_id = $3,
			entry_date = $4,
			weight     = $5,
			rate       = $6,
			amount     = $7,
			updated_at = now()
		WHERE id = $1
		RETURNING created_at, updated_at
	`, e.ID, e.FarmerID, e.ProductID, e.EntryDate, e.Weight, e.Rate, e.Amount)
	if err := row.Scan(&e.CreatedAt, &e.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DailyEntry{}, fmt.Errorf("daily entry %s: %w", e.ID, ErrNotFound)
		}
		return DailyEntry{}, fmt.Errorf("failed to update daily entry: %w", err)
	}
	return e, nil
}

// DeleteDailyEntry removes one entry; deleting a missing id is not an
// error so replayed deletes stay idempotent.
func (s *LedgerService) DeleteDailyEntry(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM daily_entries WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete daily entry: %w", err)
	}
	return nil
}
