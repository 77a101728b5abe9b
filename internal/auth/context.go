// Copyright 2025 Malar Market Ledger Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
)

type contextKey string

const (
	userIDKey   contextKey = "user_id"
	farmerIDKey contextKey = "farmer_id"
)

// SetUserID sets the authenticated user ID in the context.
func SetUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// GetUserID retrieves the authenticated user ID from the context.
func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok
}

// SetFarmerID sets the farmer scope of the request in the context.
func SetFarmerID(ctx context.Context, farmerID string) context.Context {
	return context.WithValue(ctx, farmerIDKey, farmerID)
}

// GetFarmerID retrieves the farmer scope from the context.
func GetFarmerID(ctx context.Context) (string, bool) {
	farmerID, ok := ctx.Value(farmerIDKey).(string)
	return farmerID, ok
}
