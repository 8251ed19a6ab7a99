package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"posledger/internal/domain"
	"posledger/internal/report"
	"posledger/internal/service"
)

var errTooManyPINAttempts = errors.New("too many manager pin attempts")

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a token for the X-CSRF-Token header of mutating
// requests.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.csrf.Issue(),
	})
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	product, err := a.service.CreateProduct(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": product})
}

func (a *API) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteProduct(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRestock(w http.ResponseWriter, r *http.Request) {
	var req domain.RestockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	level, err := a.service.Restock(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, level)
}

func (a *API) handleStockLevel(w http.ResponseWriter, r *http.Request) {
	level, err := a.service.StockLevel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, level)
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.Checkout(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.GetTransaction(r.Context(), chi.URLParam(r, "no"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleVoid(w http.ResponseWriter, r *http.Request) {
	var req domain.VoidRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.TransactionNo = chi.URLParam(r, "no")

	actor, _ := service.ActorFromContext(r.Context())
	if actor.Role != domain.RoleAdmin && !a.pinLimiter.Allow("pin:void:"+clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errTooManyPINAttempts)
		return
	}
	if err := a.approver.ApproveVoid(r.Context(), actor, req); err != nil {
		a.fail(w, r, err)
		return
	}

	resp, err := a.service.Void(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleReturn(w http.ResponseWriter, r *http.Request) {
	var req domain.ReturnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	actor, _ := service.ActorFromContext(r.Context())
	if actor.Role != domain.RoleAdmin && !a.pinLimiter.Allow("pin:return:"+clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errTooManyPINAttempts)
		return
	}
	if err := a.auth.authorizeOverride(actor, req.ManagerPIN); err != nil {
		a.fail(w, r, err)
		return
	}

	resp, err := a.service.ReturnItem(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCreateVoidRequest(w http.ResponseWriter, r *http.Request) {
	var req domain.VoidRequestCreate
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	pending, err := a.service.RequestVoid(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"void_request": pending})
}

func (a *API) handleListVoidRequests(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

	requests, err := a.service.ListVoidRequests(r.Context(), status, limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"void_requests": requests})
}

func (a *API) handleResolveVoidRequest(w http.ResponseWriter, r *http.Request) {
	var req domain.VoidRequestResolve
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resolved, err := a.service.ResolveVoid(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"void_request": resolved})
}

func (a *API) handleCancelVoidRequest(w http.ResponseWriter, r *http.Request) {
	cancelled, err := a.service.CancelVoidRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"void_request": cancelled})
}

func (a *API) handleSummary(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	req := domain.SummaryRequest{
		Period:      domain.Period(strings.ToLower(strings.TrimSpace(query.Get("period")))),
		Granularity: domain.Granularity(strings.ToLower(strings.TrimSpace(query.Get("granularity")))),
	}

	var err error
	if req.From, err = parseBound(query.Get("from")); err != nil {
		a.fail(w, r, err)
		return
	}
	if req.To, err = parseBound(query.Get("to")); err != nil {
		a.fail(w, r, err)
		return
	}

	summary, err := a.service.Summarize(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// parseBound reads an RFC 3339 instant or a bare date at UTC midnight.
func parseBound(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad bound %q", report.ErrInvalidPeriod, raw)
	}
	return t, nil
}

func (a *API) handleStockDrift(w http.ResponseWriter, r *http.Request) {
	drift, err := a.service.VerifyStock(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, drift)
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	dashboard, err := a.service.Dashboard(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboard)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

	logs, err := a.service.ListAuditLogs(r.Context(), date, limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}
