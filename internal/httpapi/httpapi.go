package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/shopspring/decimal"

	"koperasi/backend/internal/domain"
	"koperasi/backend/internal/sales"
	"koperasi/backend/internal/service"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string) *API {
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{a.allowedOrigin},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "Idempotency-Key"},
		MaxAge:         300,
	}))
	r.Use(a.withMiddleware)

	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth("clerk", "admin"))

			r.Post("/sales/validate", a.handleValidateStock)
			r.Post("/sales", a.handleCreateSale)
			r.Get("/sales", a.handleListSales)
			r.Get("/sales/{id}", a.handleGetSale)
			r.Put("/sales/{id}", a.handleUpdateSale)
			r.Delete("/sales/{id}", a.handleDeleteSale)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth("admin"))

			r.Post("/sales/migrate-legacy", a.handleMigrateAll)
			r.Post("/sales/{id}/migrate", a.handleMigrateSale)
			r.Get("/audit-logs", a.handleAuditLogs)
		})
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeMethodNotAllowed(w)
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("route not found"))
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

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
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

func (a *API) handleValidateStock(w http.ResponseWriter, r *http.Request) {
	var req domain.StockValidationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := a.service.ValidateStock(r.Context(), req)
	if err != nil {
		writeSaleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" {
		req.IdempotencyKey = key
	}

	resp, err := a.service.CreateSale(r.Context(), req)
	if err != nil {
		writeSaleError(w, err)
		return
	}

	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{
		"sale":      toSaleView(resp.Sale),
		"duplicate": resp.Duplicate,
	})
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := parsePositiveLimit(query.Get("limit"), 100, 500)

	result, err := a.service.ListSales(r.Context(), query.Get("from"), query.Get("to"), limit)
	if err != nil {
		writeSaleError(w, err)
		return
	}

	views := make([]saleView, 0, len(result))
	for _, sale := range result {
		views = append(views, toSaleView(sale))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": views})
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeSaleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleView(sale))
}

func (a *API) handleUpdateSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sale, err := a.service.UpdateSale(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeSaleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleView(sale))
}

func (a *API) handleDeleteSale(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteSale(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeSaleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMigrateSale(w http.ResponseWriter, r *http.Request) {
	result, err := a.service.MigrateLegacySale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeSaleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleMigrateAll(w http.ResponseWriter, r *http.Request) {
	results, err := a.service.MigrateAllLegacySales(r.Context())
	if err != nil {
		log.Printf("[httpapi] WARN: legacy migration incomplete: %v", err)
		writeJSON(w, http.StatusMultiStatus, map[string]any{
			"migrated": results,
			"error":    "some legacy sales could not be migrated",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"migrated": results})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := parsePositiveLimit(query.Get("limit"), 100, 500)

	logs, err := a.service.ListAuditLogs(r.Context(), query.Get("date"), limit)
	if err != nil {
		writeSaleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": logs})
}

// saleView adds major-unit amounts next to the stored cents.
type saleView struct {
	domain.Sale
	Display displayTotals `json:"display"`
}

type displayTotals struct {
	Base     string `json:"base"`
	Donation string `json:"donation"`
	Grand    string `json:"grand"`
}

func toSaleView(sale domain.Sale) saleView {
	return saleView{
		Sale: sale,
		Display: displayTotals{
			Base:     formatCents(sale.Totals.BaseCents),
			Donation: formatCents(sale.Totals.DonationCents),
			Grand:    formatCents(sale.Totals.GrandCents),
		},
	}
}

func formatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

// writeSaleError maps engine and service errors to a status code. Partial
// rollbacks were already logged as alerts by the engine.
func writeSaleError(w http.ResponseWriter, err error) {
	var (
		validationErr *sales.ValidationError
		stockErr      *sales.StockError
		partialErr    *sales.PartialRollbackError
		ledgerErr     *sales.LedgerError
	)

	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": validationErr.Message,
			"field": validationErr.Field,
		})
	case errors.As(err, &stockErr):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": "insufficient stock",
			"lines": stockErr.Lines,
		})
	case errors.Is(err, sales.ErrDuplicateSubmission):
		writeError(w, http.StatusConflict, errors.New("a sale with this idempotency key is still being processed"))
	case errors.Is(err, sales.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, err)
	case errors.As(err, &partialErr):
		log.Printf("[httpapi] ALERT: %v", partialErr)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": "sale left in an inconsistent state, contact support",
			"code":  "partial_rollback",
		})
	case errors.As(err, &ledgerErr):
		log.Printf("[httpapi] WARN: sale failed at %s: %v", ledgerErr.Step, ledgerErr.Err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": ledgerErr.Error(),
		})
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
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

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx detail stays in the log.
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
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
