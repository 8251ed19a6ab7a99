package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"posledger/internal/domain"
	"posledger/internal/report"
	"posledger/internal/service"
	"posledger/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	approver      service.VoidApprover
	logger        *zap.Logger
	allowedOrigin string
	loginLimiter  *attemptLimiter
	pinLimiter    *attemptLimiter
	csrf          *csrfSigner
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		service:       svc,
		auth:          auth,
		approver:      auth,
		logger:        logger.Named("http"),
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		pinLimiter:    newAttemptLimiter(8, time.Minute),
		csrf:          newCSRFSigner(),
	}
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(a.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(a.securityHeaders)

	r.Get("/healthz", a.handleHealth)
	r.Post("/api/v1/auth/login", a.handleLogin)
	r.Get("/api/v1/auth/csrf-token", a.handleCSRFToken)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(domain.RoleCashier, domain.RoleAdmin))

			r.Get("/products", a.handleListProducts)
			r.Get("/products/{id}/stock", a.handleStockLevel)
			r.Post("/checkout", a.handleCheckout)
			r.Get("/transactions/{no}", a.handleGetTransaction)
			r.Post("/transactions/{no}/void", a.handleVoid)
			r.Post("/returns", a.handleReturn)
			r.Post("/void-requests", a.handleCreateVoidRequest)
			r.Post("/void-requests/{id}/cancel", a.handleCancelVoidRequest)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(domain.RoleAdmin))

			r.Post("/products", a.handleCreateProduct)
			r.Delete("/products/{id}", a.handleDeleteProduct)
			r.Post("/products/{id}/restock", a.handleRestock)
			r.Get("/void-requests", a.handleListVoidRequests)
			r.Post("/void-requests/{id}/resolve", a.handleResolveVoidRequest)
			r.Get("/reports/summary", a.handleSummary)
			r.Get("/reports/stock-drift", a.handleStockDrift)
			r.Get("/dashboard", a.handleDashboard)
			r.Get("/audit-logs", a.handleAuditLogs)
		})
	})

	return r
}

func (a *API) requireAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorization := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
				writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}

			token := strings.TrimSpace(authorization[len("Bearer "):])
			actor, err := a.auth.ParseToken(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err)
				return
			}

			if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
				writeError(w, http.StatusForbidden, errors.New("forbidden role"))
				return
			}

			next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
		})
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if isMutating(r.Method) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !a.checkCSRF(w, r) {
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		startedAt := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.Info("request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(startedAt)),
		)
	})
}

// statusFor maps service and store errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrForbidden),
		errors.Is(err, ErrManagerPINRequired),
		errors.Is(err, ErrInvalidManagerPIN):
		return http.StatusForbidden
	case errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrAlreadyVoided),
		errors.Is(err, store.ErrAlreadyFullyReturned),
		errors.Is(err, store.ErrReturnConflict):
		return http.StatusConflict
	case errors.Is(err, store.ErrUnknownTransaction),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidQuantity),
		errors.Is(err, store.ErrInvalidTransaction),
		errors.Is(err, report.ErrInvalidPeriod):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Shortages are listed in full so a
// till can show every line that cannot be served.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Bool("integrity", errors.Is(err, store.ErrIntegrityViolation)),
			zap.Error(err),
		)
	}

	var shortage *store.InsufficientStockError
	if errors.As(err, &shortage) {
		writeJSON(w, status, map[string]any{
			"error":     err.Error(),
			"shortages": shortage.Shortages,
		})
		return
	}
	writeError(w, status, err)
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

// decodeOptionalJSON accepts an empty body and leaves dest untouched.
func decodeOptionalJSON(r *http.Request, dest any) error {
	if err := decodeJSON(r, dest); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; the cause is logged by the caller.
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
