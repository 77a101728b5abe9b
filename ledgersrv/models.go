// Copyright 2025 Malar Market Ledger Authors
// SPDX-License-Identifier: Apache-2.0

// Package ledgersrv is the reference Malar Market Ledger backend the
// offline engine replays against: farmer-product associations and daily
// ledger entries over Postgres, exposed as a small JSON API.
package ledgersrv

import "time"

// FarmerProduct is one farmer-to-product association.
type FarmerProduct struct {
	FarmerID    string    `json:"farmer_id"`
	ProductID   string    `json:"product_id"`
	ProductName string    `json:"product_name,omitempty"`
	Rate        *float64  `json:"rate,omitempty"`
	Unit        string    `json:"unit,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitzero"`
}

// DailyEntry is one daily collection record in the ledger. Amount is
// computed server-side as Weight * Rate.
type DailyEntry struct {
	ID        string    `json:"id"`
	FarmerID  string    `json:"farmer_id"`
	ProductID string    `json:"product_id"`
	EntryDate string    `json:"entry_date"` // YYYY-MM-DD
	Weight    float64   `json:"weight"`
	Rate      float64   `json:"rate"`
	Amount    float64   `json:"amount"`
	CreatedAt time.Time `json:"created_at,omitzero"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}
