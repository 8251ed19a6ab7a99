package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"posledger/internal/domain"
)

func TestResponsesCarryHardeningHeaders(t *testing.T) {
	api := newTestAPI(t)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	for header, want := range map[string]string{
		"X-Content-Type-Options":      "nosniff",
		"X-Frame-Options":             "DENY",
		"Cross-Origin-Opener-Policy":  "same-origin",
		"Access-Control-Allow-Origin": "*",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Fatalf("%s: want %q, got %q", header, want, got)
		}
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Methods"), "DELETE") {
		t.Fatalf("expected DELETE in allowed methods for product removal")
	}
}

func TestRepeatedBadLoginsAreThrottled(t *testing.T) {
	api := newTestAPI(t)
	body, _ := json.Marshal(domain.LoginRequest{Username: "cashier", Password: "not-the-password"})

	codes := make([]int, 0, 6)
	for range 6 {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "10.20.0.7:41000"
		rec := httptest.NewRecorder()
		api.Handler().ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	for i, code := range codes[:5] {
		if code != http.StatusUnauthorized {
			t.Fatalf("login %d: expected 401, got %d", i+1, code)
		}
	}
	if codes[5] != http.StatusTooManyRequests {
		t.Fatalf("sixth login: expected 429, got %d", codes[5])
	}
}

func TestOversizedCheckoutBodyRejected(t *testing.T) {
	api := newTestAPI(t)
	c := newClient(t, api, "cashier", "cashier123")

	items := make([]domain.LineItem, 0, 40000)
	for range 40000 {
		items = append(items, domain.LineItem{ProductID: "prd-mie-instan-goreng", Qty: 1})
	}
	rec := c.do(http.MethodPost, "/api/v1/checkout", domain.CheckoutRequest{Items: items})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a body over 1 MiB, got %d", rec.Code)
	}
}

func TestCheckoutWithoutCSRFTokenRejected(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "cashier", "cashier123")

	body, _ := json.Marshal(domain.CheckoutRequest{Items: []domain.LineItem{{ProductID: "prd-mie", Qty: 1}}})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without csrf token, got %d", rec.Code)
	}
}

func TestCashierVoidPINGuessesAreThrottled(t *testing.T) {
	api := newTestAPI(t)
	c := newClient(t, api, "cashier", "cashier123")

	guess := domain.VoidRequest{Reason: "wrong basket", ManagerPIN: "000000"}
	for attempt := 1; attempt <= 9; attempt++ {
		rec := c.do(http.MethodPost, "/api/v1/transactions/checkout-1700000000000/void", guess)
		want := http.StatusForbidden
		if attempt == 9 {
			want = http.StatusTooManyRequests
		}
		if rec.Code != want {
			t.Fatalf("void attempt %d: expected %d, got %d", attempt, want, rec.Code)
		}
	}
}

func TestCSRFTokenOutlivesOneWindow(t *testing.T) {
	at := time.Date(2026, 3, 10, 9, 59, 0, 0, time.UTC)
	signer := newCSRFSigner()
	signer.now = func() time.Time { return at }
	token := signer.Issue()

	at = at.Add(2 * time.Minute)
	if !signer.Valid(token) {
		t.Fatalf("expected token from the previous window to be accepted")
	}
	at = at.Add(csrfWindow)
	if signer.Valid(token) {
		t.Fatalf("expected token two windows old to be rejected")
	}
	if signer.Valid("") || signer.Valid("deadbeef") {
		t.Fatalf("expected empty and forged tokens to be rejected")
	}

	other := newCSRFSigner()
	other.now = signer.now
	if other.Valid(signer.Issue()) {
		t.Fatalf("expected token from another key to be rejected")
	}
}

func TestAttemptLimiterReopensAfterWindow(t *testing.T) {
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	limiter := newAttemptLimiter(2, time.Minute)
	limiter.now = func() time.Time { return at }

	if !limiter.Allow("pin:void:10.0.0.2") || !limiter.Allow("pin:void:10.0.0.2") {
		t.Fatalf("expected first two attempts to pass")
	}
	if limiter.Allow("pin:void:10.0.0.2") {
		t.Fatalf("expected third attempt in the window to be refused")
	}
	if !limiter.Allow("pin:void:10.0.0.3") {
		t.Fatalf("expected another client to keep its own budget")
	}

	at = at.Add(time.Minute)
	if !limiter.Allow("pin:void:10.0.0.2") {
		t.Fatalf("expected attempts to reopen after the window")
	}
}

func TestClientKeyUsesRemoteHost(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	for addr, want := range map[string]string{
		"192.0.2.10:5123":    "192.0.2.10",
		"[2001:db8::1]:8080": "2001:db8::1",
		"till-3":             "till-3",
		"":                   "unknown",
	} {
		req.RemoteAddr = addr
		if got := clientKey(req); got != want {
			t.Fatalf("clientKey(%q) = %q, want %q", addr, got, want)
		}
	}
}

func TestListLimitIsCapped(t *testing.T) {
	cases := []struct {
		raw  string
		want int
	}{
		{"9999", 500},
		{"", 100},
		{"-3", 100},
		{"abc", 100},
		{"25", 25},
	}
	for _, tc := range cases {
		if got := parsePositiveLimit(tc.raw, 100, 500); got != tc.want {
			t.Fatalf("parsePositiveLimit(%q) = %d, want %d", tc.raw, got, tc.want)
		}
	}
}

// fetchCSRFToken asks the API for a token to send on mutating requests.
func fetchCSRFToken(t *testing.T, api *API) string {
	t.Helper()
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("csrf token: status %d", rec.Code)
	}
	var payload struct {
		Token string `json:"csrf_token"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil || payload.Token == "" {
		t.Fatalf("csrf token: %+v (%v)", payload, err)
	}
	return payload.Token
}

func login(t *testing.T, api *API, username string, password string) string {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("%s login: status %d", username, rec.Code)
	}

	var payload domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil || payload.AccessToken == "" {
		t.Fatalf("%s login: %+v (%v)", username, payload, err)
	}
	return payload.AccessToken
}
