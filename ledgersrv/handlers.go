// Copyright 2025 Malar Market Ledger Authors
// SPDX-License-Identifier: Apache-2.0

package ledgersrv

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// Handlers provides the HTTP handlers of the ledger API.
type Handlers struct {
	ledger Ledger
	logger *slog.Logger
}

// NewHandlers creates the handler set over a ledger store.
func NewHandlers(ledger Ledger, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{ledger: ledger, logger: logger}
}

// Register installs the API routes on the given mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/farmer-products", h.HandleFarmerProducts)
	mux.HandleFunc("/api/daily-entry", h.HandleDailyEntry)
}

// HandleFarmerProducts serves the farmer-product association resource:
// GET lists (optionally filtered by farmer_id), POST upserts, DELETE
// removes one association.
func (h *Handlers) HandleFarmerProducts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		products, err := h.ledger.ListFarmerProducts(r.Context(), r.URL.Query().Get("farmer_id"))
		if err != nil {
			h.logger.Error("failed to list farmer products", "error", err)
			h.writeError(w, http.StatusInternalServerError, "list_failed", "Failed to list farmer products")
			return
		}
		h.writeJSON(w, http.StatusOK, products)

	case http.MethodPost:
		var fp FarmerProduct
		if err := json.NewDecoder(r.Body).Decode(&fp); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse farmer product")
			return
		}
		saved, err := h.ledger.UpsertFarmerProduct(r.Context(), fp)
		if err != nil {
			h.logger.Error("failed to upsert farmer product", "error", err,
				"farmer_id", fp.FarmerID, "product_id", fp.ProductID)
			h.writeError(w, http.StatusBadRequest, "upsert_failed", err.Error())
			return
		}
		h.writeJSON(w, http.StatusOK, saved)

	case http.MethodDelete:
		var fp FarmerProduct
		if err := json.NewDecoder(r.Body).Decode(&fp); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse farmer product")
			return
		}
		if err := h.ledger.DeleteFarmerProduct(r.Context(), fp.FarmerID, fp.ProductID); err != nil {
			h.logger.Error("failed to delete farmer product", "error", err)
			h.writeError(w, http.StatusInternalServerError, "delete_failed", "Failed to delete farmer product")
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Unsupported method")
	}
}

// HandleDailyEntry serves the daily-entry resource: POST creates, PUT
// updates, DELETE removes. The entry identifier travels in the body, the
// way the offline queue captured it.
func (h *Handlers) HandleDailyEntry(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost, http.MethodPut:
		var entry DailyEntry
		if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse daily entry")
			return
		}
		var saved DailyEntry
		var err error
		if r.Method == http.MethodPost {
			saved, err = h.ledger.CreateDailyEntry(r.Context(), entry)
		} else {
			saved, err = h.ledger.UpdateDailyEntry(r.Context(), entry)
		}
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				h.writeError(w, http.StatusNotFound, "not_found", err.Error())
				return
			}
			h.logger.Error("failed to save daily entry", "error", err, "id", entry.ID)
			h.writeError(w, http.StatusBadRequest, "save_failed", err.Error())
			return
		}
		h.writeJSON(w, http.StatusOK, saved)

	case http.MethodDelete:
		var entry DailyEntry
		if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse daily entry")
			return
		}
		if entry.ID == "" {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "id must be provided")
			return
		}
		if err := h.ledger.DeleteDailyEntry(r.Context(), entry.ID); err != nil {
			h.logger.Error("failed to delete daily entry", "error", err, "id", entry.ID)
			h.writeError(w, http.StatusInternalServerError, "delete_failed", "Failed to delete daily entry")
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Unsupported method")
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
