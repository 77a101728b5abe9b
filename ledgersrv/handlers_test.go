package ledgersrv

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeLedger is an in-memory Ledger used to exercise the handlers without
// a database.
type fakeLedger struct {
	products map[string]FarmerProduct // keyed by farmer_id+"/"+product_id
	entries  map[string]DailyEntry
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		products: map[string]FarmerProduct{},
		entries:  map[string]DailyEntry{},
	}
}

func (f *fakeLedger) ListFarmerProducts(_ context.Context, farmerID string) ([]FarmerProduct, error) {
	out := make([]FarmerProduct, 0)
	for _, fp := range f.products {
		if farmerID == "" || fp.FarmerID == farmerID {
			out = append(out, fp)
		}
	}
	return out, nil
}

func (f *fakeLedger) UpsertFarmerProduct(_ context.Context, fp FarmerProduct) (FarmerProduct, error) {
	if fp.FarmerID == "" || fp.ProductID == "" {
		return FarmerProduct{}, fmt.Errorf("farmer_id and product_id must be provided")
	}
	f.products[fp.FarmerID+"/"+fp.ProductID] = fp
	return fp, nil
}

func (f *fakeLedger) DeleteFarmerProduct(_ context.Context, farmerID, productID string) error {
	delete(f.products, farmerID+"/"+productID)
	return nil
}

func (f *fakeLedger) CreateDailyEntry(_ context.Context, e DailyEntry) (DailyEntry, error) {
	if e.ID == "" {
		e.ID = fmt.Sprintf("entry-%d", len(f.entries)+1)
	}
	e.Amount = e.Weight * e.Rate
	f.entries[e.ID] = e
	return e, nil
}

func (f *fakeLedger) UpdateDailyEntry(_ context.Context, e DailyEntry) (DailyEntry, error) {
	if _, ok := f.entries[e.ID]; !ok {
		return DailyEntry{}, fmt.Errorf("daily entry %s: %w", e.ID, ErrNotFound)
	}
	e.Amount = e.Weight * e.Rate
	f.entries[e.ID] = e
	return e, nil
}

func (f *fakeLedger) DeleteDailyEntry(_ context.Context, id string) error {
	delete(f.entries, id)
	return nil
}

func newTestHandlers(t *testing.T) (*Handlers, *fakeLedger) {
	t.Helper()
	ledger := newFakeLedger()
	return NewHandlers(ledger, nil), ledger
}

func TestFarmerProductsUpsertAndList(t *testing.T) {
	h, _ := newTestHandlers(t)

	body := `{"farmer_id":"farmer-1","product_id":"p1","product_name":"Cow Milk","rate":50,"unit":"litre"}`
	req := httptest.NewRequest(http.MethodPost, "/api/farmer-products", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleFarmerProducts(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/farmer-products?farmer_id=farmer-1", nil)
	rec = httptest.NewRecorder()
	h.HandleFarmerProducts(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var products []FarmerProduct
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&products))
	require.Len(t, products, 1)
	require.Equal(t, "Cow Milk", products[0].ProductName)
	require.NotNil(t, products[0].Rate)
	require.Equal(t, 50.0, *products[0].Rate)
}

func TestFarmerProductsListUnknownFarmerIsEmpty(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/api/farmer-products?farmer_id=farmer-3", nil)
	rec := httptest.NewRecorder()
	h.HandleFarmerProducts(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())
}

func TestFarmerProductsDelete(t *testing.T) {
	h, ledger := newTestHandlers(t)
	ledger.products["farmer-1/p1"] = FarmerProduct{FarmerID: "farmer-1", ProductID: "p1"}

	req := httptest.NewRequest(http.MethodDelete, "/api/farmer-products",
		strings.NewReader(`{"farmer_id":"farmer-1","product_id":"p1"}`))
	rec := httptest.NewRecorder()
	h.HandleFarmerProducts(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, ledger.products)
}

func TestDailyEntryCreateComputesAmount(t *testing.T) {
	h, ledger := newTestHandlers(t)

	body := `{"farmer_id":"farmer-1","product_id":"p1","entry_date":"2025-11-02","weight":10,"rate":50}`
	req := httptest.NewRequest(http.MethodPost, "/api/daily-entry", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleDailyEntry(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var saved DailyEntry
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&saved))
	require.NotEmpty(t, saved.ID)
	require.Equal(t, 500.0, saved.Amount)
	require.Len(t, ledger.entries, 1)
}

func TestDailyEntryUpdateMissingIs404(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPut, "/api/daily-entry",
		strings.NewReader(`{"id":"nope","farmer_id":"f1","product_id":"p1","entry_date":"2025-11-02","weight":1,"rate":1}`))
	rec := httptest.NewRecorder()
	h.HandleDailyEntry(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDailyEntryDeleteIsIdempotent(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodDelete, "/api/daily-entry",
		strings.NewReader(`{"id":"never-existed"}`))
	rec := httptest.NewRecorder()
	h.HandleDailyEntry(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPatch, "/api/farmer-products", nil)
	rec := httptest.NewRecorder()
	h.HandleFarmerProducts(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/daily-entry", nil)
	rec = httptest.NewRecorder()
	h.HandleDailyEntry(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
