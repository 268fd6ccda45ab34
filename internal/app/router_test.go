package app_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/importdesk/importdesk/internal/app"
	"github.com/importdesk/importdesk/internal/ar"
	"github.com/importdesk/importdesk/internal/customs"
	"github.com/importdesk/importdesk/internal/inventory"
	"github.com/importdesk/importdesk/internal/observability"
	"github.com/importdesk/importdesk/internal/sales"
	"github.com/importdesk/importdesk/internal/sales/customers"
	"github.com/importdesk/importdesk/internal/testing/memstore"
	_ "github.com/importdesk/importdesk/testing"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	store := memstore.New()
	metrics := observability.NewMetrics()
	ledger := inventory.NewLedger(nil, metrics)
	cfg := &app.Config{AppEnv: "test", SalesTaxRate: 0.18, IncomeTaxRate: 0.35, WHTFilerRate: 0.005, WHTNonFilerRate: 0.01}

	return app.NewRouter(app.RouterParams{
		Config:           cfg,
		CustomsHandler:   customs.NewHandler(nil, customs.NewService(store.Customs(), ledger, cfg.Rates(), nil)),
		InventoryHandler: inventory.NewHandler(nil, inventory.NewService(store.Reader(), nil)),
		SalesHandler:     sales.NewHandler(nil, sales.NewService(store.Sales(), ledger, nil, cfg.Sales(), metrics, nil)),
		CustomersHandler: customers.NewHandler(nil, customers.NewService(store.CustomerRepo(), nil)),
		ARHandler:        ar.NewHandler(nil, ar.NewService(store.AR(), nil)),
		Metrics:          metrics,
	})
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func TestRouterSaleAndPaymentFlow(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/gds", map[string]any{
		"gd_number": "GD-9",
		"items": []map[string]any{
			{"hs_code": "6403", "description": "boots", "quantity": 10, "unit_price": 20, "sales_tax": 72},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		GDID int64 `json:"gd_id"`
	}
	decode(t, rec, &created)
	require.Positive(t, created.GDID)

	rec = do(t, h, http.MethodPost, fmt.Sprintf("/gds/%d/stock-in", created.GDID), map[string]any{"stocked_by": "keeper"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	itemID := customs.ItemID("GD-9", "6403", 1)
	rec = do(t, h, http.MethodGet, "/inventory/items/"+itemID+"/batches", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/customers", map[string]any{"name": "Bilal Stores", "filer": true, "credit_limit": 5000})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var customer customers.Customer
	decode(t, rec, &customer)

	rec = do(t, h, http.MethodPost, "/invoices", map[string]any{
		"customer_id": customer.ID,
		"gd_entry_id": created.GDID,
		"tax_section": "236H",
		"items":       []map[string]any{{"item_id": itemID, "quantity": 4, "sale_rate": 40}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var invoice struct {
		Number string `json:"invoice_number"`
	}
	decode(t, rec, &invoice)
	require.True(t, strings.HasPrefix(invoice.Number, "INV-"))

	rec = do(t, h, http.MethodGet, fmt.Sprintf("/customers/%d/aging", customer.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var aging struct {
		Total float64 `json:"total"`
	}
	decode(t, rec, &aging)
	require.Positive(t, aging.Total)

	rec = do(t, h, http.MethodPost, "/invoices/"+invoice.Number+"/payments", map[string]any{"amount": 0, "mode": "cash"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var alloc ar.Allocation
	decode(t, rec, &alloc)
	require.True(t, alloc.Settled)
	require.InDelta(t, aging.Total, alloc.Amount, 0.005)

	rec = do(t, h, http.MethodGet, fmt.Sprintf("/customers/%d/aging", customer.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &aging)
	require.Zero(t, aging.Total)

	rec = do(t, h, http.MethodPost, "/invoices/"+invoice.Number+"/payments", map[string]any{"amount": 10, "mode": "cash"})
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "importdesk_sales_invoices_total")
}

func TestRouterMapsErrors(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodGet, "/gds/999", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	rec = do(t, h, http.MethodPost, "/gds", map[string]any{"gd_number": "", "items": []map[string]any{}})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/invoices/INV-NOPE", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}
