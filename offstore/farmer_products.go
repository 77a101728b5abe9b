// Copyright 2025 Malar Market Ledger Authors
// SPDX-License-Identifier: Apache-2.0

package offstore

import (
	"context"
	"encoding/json"
	"fmt"
)

// CollectionFarmerProducts is the reference-cache collection holding
// per-farmer product associations.
const CollectionFarmerProducts = "farmer_products"

// FarmerProduct is one farmer-to-product association as served by the
// backend. Rate, ProductName and Unit are optional; when absent they are
// omitted from the cached payload entirely.
type FarmerProduct struct {
	FarmerID    string   `json:"farmer_id"`
	ProductID   string   `json:"product_id"`
	ProductName string   `json:"product_name,omitempty"`
	Rate        *float64 `json:"rate,omitempty"`
	Unit        string   `json:"unit,omitempty"`
}

// Entry converts the association into a generic cache entry keyed by
// (farmer_id, product_id).
func (fp FarmerProduct) Entry() (Entry, error) {
	data, err := json.Marshal(fp)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to marshal farmer product: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return Entry{}, fmt.Errorf("failed to convert farmer product: %w", err)
	}
	return Entry{Owner: fp.FarmerID, Item: fp.ProductID, Fields: fields}, nil
}

// FarmerProductFromEntry decodes a cached entry back into a typed
// association.
func FarmerProductFromEntry(e Entry) (FarmerProduct, error) {
	data, err := json.Marshal(e.Fields)
	if err != nil {
		return FarmerProduct{}, fmt.Errorf("failed to marshal entry fields: %w", err)
	}
	var fp FarmerProduct
	if err := json.Unmarshal(data, &fp); err != nil {
		return FarmerProduct{}, fmt.Errorf("failed to decode farmer product: %w", err)
	}
	return fp, nil
}

// CacheFarmerProducts atomically replaces the whole farmer-product
// collection with the given associations (bulk refresh from the server).
func (r *ReferenceCache) CacheFarmerProducts(ctx context.Context, products []FarmerProduct) error {
	entries := make([]Entry, 0, len(products))
	for _, fp := range products {
		entry, err := fp.Entry()
		if err != nil {
			return err
		}
		entries = append(entries, entry)
	}
	return r.ReplaceAll(ctx, CollectionFarmerProducts, entries)
}

// FarmerProductsByFarmer returns the cached associations for one farmer.
// An unknown farmer yields an empty slice.
func (r *ReferenceCache) FarmerProductsByFarmer(ctx context.Context, farmerID string) ([]FarmerProduct, error) {
	entries, err := r.GetByOwner(ctx, CollectionFarmerProducts, farmerID)
	if err != nil {
		return nil, err
	}
	products := make([]FarmerProduct, 0, len(entries))
	for _, e := range entries {
		fp, err := FarmerProductFromEntry(e)
		if err != nil {
			return nil, err
		}
		products = append(products, fp)
	}
	return products, nil
}
