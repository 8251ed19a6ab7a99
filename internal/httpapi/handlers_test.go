package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"posledger/internal/domain"
	"posledger/internal/service"
	"posledger/internal/store"
	"posledger/internal/store/memory"
)

const testManagerPIN = "739154"

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, service.Options{LowStockThreshold: 10})
	auth := NewAuthManager("test-secret-key", time.Hour, testManagerPIN, repo)

	return New(svc, auth, "*", nil)
}

type client struct {
	t     *testing.T
	api   *API
	token string
	csrf  string
}

func newClient(t *testing.T, api *API, username string, password string) *client {
	t.Helper()
	return &client{t: t, api: api, token: login(t, api, username, password), csrf: fetchCSRFToken(t, api)}
}

func (c *client) do(method string, path string, payload any) *httptest.ResponseRecorder {
	c.t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			c.t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-CSRF-Token", c.csrf)
	rec := httptest.NewRecorder()
	c.api.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dest); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	decodeInto(t, rec, &body)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestCheckoutReturnAndVoidOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	cashier := newClient(t, api, "cashier", "cashier123")

	rec := cashier.do(http.MethodPost, "/api/v1/checkout", domain.CheckoutRequest{
		Items: []domain.LineItem{{ProductID: "prd-mie", Qty: 2}, {ProductID: "prd-kopi", Qty: 3}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var sale domain.CheckoutResponse
	decodeInto(t, rec, &sale)
	if sale.TotalCents != 2*3500+3*2600 || len(sale.Lines) != 2 {
		t.Fatalf("unexpected checkout %+v", sale)
	}

	rec = cashier.do(http.MethodPost, "/api/v1/returns", domain.ReturnRequest{SaleLineID: sale.Lines[1].ID, Quantity: 1})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected cashier return without pin to be refused, got %d", rec.Code)
	}
	rec = cashier.do(http.MethodPost, "/api/v1/returns", domain.ReturnRequest{SaleLineID: sale.Lines[1].ID, Quantity: 1, ManagerPIN: testManagerPIN})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected return to pass, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var ret domain.ReturnResponse
	decodeInto(t, rec, &ret)
	if ret.RefundAmountCents != 2600 || ret.RemainingQty != 2 {
		t.Fatalf("unexpected return %+v", ret)
	}

	rec = cashier.do(http.MethodGet, "/api/v1/transactions/"+sale.TransactionNo, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected transaction view, got %d", rec.Code)
	}
	var view domain.TransactionView
	decodeInto(t, rec, &view)
	if view.Voided || len(view.Lines) != 2 {
		t.Fatalf("unexpected view %+v", view)
	}

	rec = cashier.do(http.MethodPost, "/api/v1/transactions/"+sale.TransactionNo+"/void", domain.VoidRequest{ManagerPIN: testManagerPIN})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected void after return to conflict, got %d", rec.Code)
	}

	rec = cashier.do(http.MethodPost, "/api/v1/transactions/checkout-1/void", domain.VoidRequest{ManagerPIN: testManagerPIN})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected unknown transaction to be 404, got %d", rec.Code)
	}
}

func TestAdminVoidWithoutPIN(t *testing.T) {
	api := newTestAPI(t)
	admin := newClient(t, api, "admin", "admin123")

	rec := admin.do(http.MethodPost, "/api/v1/checkout", domain.CheckoutRequest{
		Items: []domain.LineItem{{ProductID: "prd-roti", Qty: 20}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout failed: %d", rec.Code)
	}
	var sale domain.CheckoutResponse
	decodeInto(t, rec, &sale)
	if len(sale.Summary) != 1 || sale.Summary[0].Status != domain.StockLow {
		t.Fatalf("expected low stock crossing, got %+v", sale.Summary)
	}

	rec = admin.do(http.MethodPost, "/api/v1/transactions/"+sale.TransactionNo+"/void", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected admin void, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	rec = admin.do(http.MethodPost, "/api/v1/transactions/"+sale.TransactionNo+"/void", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected repeated void to conflict, got %d", rec.Code)
	}

	rec = admin.do(http.MethodGet, "/api/v1/products/prd-roti/stock", nil)
	var level domain.StockLevel
	decodeInto(t, rec, &level)
	if level.Stock != 25 || level.Status != domain.StockAvailable {
		t.Fatalf("expected stock restored, got %+v", level)
	}
}

func TestCheckoutShortageListsEveryProduct(t *testing.T) {
	api := newTestAPI(t)
	cashier := newClient(t, api, "cashier", "cashier123")

	rec := cashier.do(http.MethodPost, "/api/v1/checkout", domain.CheckoutRequest{
		Items: []domain.LineItem{{ProductID: "prd-sabun", Qty: 4}, {ProductID: "prd-gula", Qty: 9}, {ProductID: "prd-mie", Qty: 1}},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var body struct {
		Error     string `json:"error"`
		Shortages []struct {
			ProductID string `json:"product_id"`
		} `json:"shortages"`
	}
	decodeInto(t, rec, &body)
	if len(body.Shortages) != 2 {
		t.Fatalf("expected both short products, got %+v", body)
	}

	rec = cashier.do(http.MethodPost, "/api/v1/checkout", domain.CheckoutRequest{
		Items: []domain.LineItem{{ProductID: "prd-mie", Qty: 0}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected invalid quantity to be 400, got %d", rec.Code)
	}
}

func TestReportsAreAdminOnly(t *testing.T) {
	api := newTestAPI(t)
	cashier := newClient(t, api, "cashier", "cashier123")
	admin := newClient(t, api, "admin", "admin123")

	if rec := cashier.do(http.MethodPost, "/api/v1/checkout", domain.CheckoutRequest{
		Items: []domain.LineItem{{ProductID: "prd-susu", Qty: 1}},
	}); rec.Code != http.StatusCreated {
		t.Fatalf("checkout failed: %d", rec.Code)
	}

	if rec := cashier.do(http.MethodGet, "/api/v1/reports/summary", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected cashier to be refused, got %d", rec.Code)
	}

	rec := admin.do(http.MethodGet, "/api/v1/reports/summary?period=daily", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected summary, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var summary domain.Summary
	decodeInto(t, rec, &summary)
	if summary.GrossSalesCents != 18900 || summary.COGSCents != 13600 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	if rec := admin.do(http.MethodGet, "/api/v1/reports/summary?period=yearly", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected bad period to be 400, got %d", rec.Code)
	}
	if rec := admin.do(http.MethodGet, "/api/v1/reports/summary?from=2024-01-02&to=2024-01-01", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected inverted range to be 400, got %d", rec.Code)
	}

	rec = admin.do(http.MethodGet, "/api/v1/reports/stock-drift", nil)
	var drift domain.StockDriftReport
	decodeInto(t, rec, &drift)
	if len(drift.Drifts) != 0 || drift.Products != 8 {
		t.Fatalf("expected no drift, got %+v", drift)
	}

	if rec := admin.do(http.MethodGet, "/api/v1/dashboard", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected dashboard, got %d", rec.Code)
	}
	if rec := admin.do(http.MethodGet, "/api/v1/audit-logs", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected audit logs, got %d", rec.Code)
	}
}

func TestVoidRequestLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	cashier := newClient(t, api, "cashier", "cashier123")
	admin := newClient(t, api, "admin", "admin123")

	rec := cashier.do(http.MethodPost, "/api/v1/checkout", domain.CheckoutRequest{
		Items: []domain.LineItem{{ProductID: "prd-telur", Qty: 2}},
	})
	var sale domain.CheckoutResponse
	decodeInto(t, rec, &sale)

	rec = cashier.do(http.MethodPost, "/api/v1/void-requests", domain.VoidRequestCreate{TransactionNo: sale.TransactionNo, Reason: "salah input"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected void request, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created struct {
		VoidRequest domain.PendingVoid `json:"void_request"`
	}
	decodeInto(t, rec, &created)

	if rec := cashier.do(http.MethodPost, "/api/v1/void-requests/"+created.VoidRequest.ID+"/resolve", domain.VoidRequestResolve{Decision: "approved"}); rec.Code != http.StatusForbidden {
		t.Fatalf("expected cashier resolve to be refused, got %d", rec.Code)
	}

	rec = admin.do(http.MethodPost, "/api/v1/void-requests/"+created.VoidRequest.ID+"/resolve", domain.VoidRequestResolve{Decision: "approved", Note: "ok"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected approval, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = cashier.do(http.MethodGet, "/api/v1/transactions/"+sale.TransactionNo, nil)
	var view domain.TransactionView
	decodeInto(t, rec, &view)
	if !view.Voided {
		t.Fatalf("expected transaction to be voided after approval")
	}

	rec = admin.do(http.MethodGet, "/api/v1/void-requests?status=approved", nil)
	var listed struct {
		VoidRequests []domain.PendingVoid `json:"void_requests"`
	}
	decodeInto(t, rec, &listed)
	if len(listed.VoidRequests) != 1 {
		t.Fatalf("expected one approved request, got %d", len(listed.VoidRequests))
	}
}

func TestCatalogAdminRoutes(t *testing.T) {
	api := newTestAPI(t)
	admin := newClient(t, api, "admin", "admin123")
	cashier := newClient(t, api, "cashier", "cashier123")

	if rec := cashier.do(http.MethodPost, "/api/v1/products", domain.ProductCreateRequest{Name: "Teh", PriceCents: 4000}); rec.Code != http.StatusForbidden {
		t.Fatalf("expected cashier product create to be refused, got %d", rec.Code)
	}

	rec := admin.do(http.MethodPost, "/api/v1/products", domain.ProductCreateRequest{ID: "prd-teh", Name: "Teh Botol", Barcode: "8990001000097", PriceCents: 4000, CostCents: 2500, InitialStock: 5})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected product create, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = admin.do(http.MethodPost, "/api/v1/products/prd-teh/restock", domain.RestockRequest{Qty: 10})
	var level domain.StockLevel
	decodeInto(t, rec, &level)
	if level.Stock != 15 {
		t.Fatalf("expected 15 after restock, got %+v", level)
	}

	if rec := admin.do(http.MethodDelete, "/api/v1/products/prd-teh", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("expected delete, got %d", rec.Code)
	}
	if rec := admin.do(http.MethodDelete, "/api/v1/products/prd-teh", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected second delete to be 404, got %d", rec.Code)
	}
}

func TestStorageFailureIsMaskedAndLogged(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	api := newTestAPI(t)
	api.logger = zap.New(core)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dashboard", nil)
	rec := httptest.NewRecorder()
	api.fail(rec, req, fmt.Errorf("%w: %w", store.ErrPersistence, errors.New("connection reset by peer")))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "internal server error" {
		t.Fatalf("expected generic error body, got %q", body["error"])
	}

	entries := logs.FilterMessage("request failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one logged failure, got %d", len(entries))
	}
	if integrity, _ := entries[0].ContextMap()["integrity"].(bool); integrity {
		t.Fatalf("expected storage failure not to be flagged as integrity violation")
	}

	rec = httptest.NewRecorder()
	api.fail(rec, req, fmt.Errorf("%w: void without checkout", store.ErrIntegrityViolation))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for integrity violation, got %d", rec.Code)
	}
	entries = logs.FilterMessage("request failed").All()
	if integrity, _ := entries[len(entries)-1].ContextMap()["integrity"].(bool); !integrity {
		t.Fatalf("expected integrity violation to be flagged")
	}
}
