package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kasirpos/internal/apperror"
	"kasirpos/internal/domain"
	"kasirpos/internal/logger"
	"kasirpos/internal/metrics"
	"kasirpos/internal/service"
	"kasirpos/internal/xid"
)

const requestIDHeader = "X-Request-ID"

type Options struct {
	AllowedOrigin string
	// CurrencyExponent is the number of minor-unit digits used when exports
	// render money. Rupiah uses 0.
	CurrencyExponent int32
}

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	money         moneyFormatter
	loginLimiter  *attemptLimiter
	csrfSecret    []byte
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	if opts.CurrencyExponent < 0 {
		opts.CurrencyExponent = 0
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: opts.AllowedOrigin,
		money:         moneyFormatter{exponent: opts.CurrencyExponent},
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		csrfSecret:    csrfSecret,
	}
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (Unix time truncated to the hour), hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	bucket := time.Now().UTC().Truncate(time.Hour).Unix()
	return a.csrfTokenForHour(bucket)
}

// validateCSRFToken accepts the current or previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	current := time.Now().UTC().Truncate(time.Hour).Unix()
	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(current))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(current-3600)))
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
	l.entries[key] = append(kept, now)
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
	mux := http.NewServeMux()
	cashier := []string{domain.RoleCashier, domain.RoleAdmin}

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/auth/csrf-token", a.handleCSRFToken)
	mux.HandleFunc("/api/v1/auth/me", a.requireAuth(a.handleMe, cashier...))
	mux.HandleFunc("/api/v1/auth/password", a.requireAuth(a.handleChangePassword, cashier...))

	mux.HandleFunc("/api/v1/products", a.requireAuth(a.handleProducts, cashier...))
	mux.HandleFunc("/api/v1/products/barcode/{barcode}", a.requireAuth(a.handleProductByBarcode, cashier...))
	mux.HandleFunc("/api/v1/products/{id}", a.requireAuth(a.handleProductActions, domain.RoleAdmin))

	mux.HandleFunc("/api/v1/stock/low", a.requireAuth(a.handleLowStock, cashier...))
	mux.HandleFunc("/api/v1/stock/moves", a.requireAuth(a.handleStockMoves, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/stock/move", a.requireAuth(a.handleApplyMove, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/stock/set", a.requireAuth(a.handleSetStock, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/stock/reconcile", a.requireAuth(a.handleReconcile, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/stock/{productId}", a.requireAuth(a.handleGetStock, cashier...))

	mux.HandleFunc("/api/v1/sales/hold", a.requireAuth(a.handleHoldSale, cashier...))
	mux.HandleFunc("/api/v1/sales/held", a.requireAuth(a.handleHeldSales, cashier...))
	mux.HandleFunc("/api/v1/sales/checkout", a.requireAuth(a.handleCheckout, cashier...))
	mux.HandleFunc("/api/v1/sales/recent", a.requireAuth(a.handleRecentSales, cashier...))
	mux.HandleFunc("/api/v1/sales/{id}", a.requireAuth(a.handleGetSale, cashier...))
	mux.HandleFunc("/api/v1/sales/{id}/void", a.requireAuth(a.handleVoidSale, cashier...))
	mux.HandleFunc("/api/v1/sales/{id}/void-paid", a.requireAuth(a.handleVoidPaidSale, domain.RoleAdmin))

	mux.HandleFunc("/api/v1/shifts", a.requireAuth(a.handleShifts, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/shifts/open", a.requireAuth(a.handleShiftOpen, cashier...))
	mux.HandleFunc("/api/v1/shifts/close", a.requireAuth(a.handleShiftClose, cashier...))
	mux.HandleFunc("/api/v1/shifts/me", a.requireAuth(a.handleShiftMe, cashier...))

	mux.HandleFunc("/api/v1/reports/summary", a.requireAuth(a.handleReportSummary, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/reports/sales", a.requireAuth(a.handleReportSales, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/reports/top-products", a.requireAuth(a.handleReportTopProducts, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/reports/export", a.requireAuth(a.handleReportExport, domain.RoleAdmin))

	mux.HandleFunc("/api/v1/users", a.requireAuth(a.handleUsers, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/users/{id}/password", a.requireAuth(a.handleUserPassword, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/users/{id}/active", a.requireAuth(a.handleUserActive, domain.RoleAdmin))

	mux.HandleFunc("/api/v1/audit", a.requireAuth(a.handleAudit, domain.RoleAdmin))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, r, apperror.Unauthenticated("", "Missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, r, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, r, apperror.Forbidden("Forbidden role"))
			return
		}

		ctx := service.WithActor(r.Context(), actor)
		ctx = logger.With(ctx, "user_id", actor.UserID)
		next(w, r.WithContext(ctx))
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

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"status": "up",
		"at":     time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeEnvelope(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many login attempts")
		return
	}

	var req domain.LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless token valid for the current hour. Clients
// send it in X-CSRF-Token on every mutating request.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"csrf_token": a.generateCSRFToken()})
}

// csrfExemptPaths are called without a prior token fetch.
var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	method := r.Method
	if method != http.MethodPost && method != http.MethodPut && method != http.MethodPatch && method != http.MethodDelete {
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	if !a.validateCSRFToken(strings.TrimSpace(r.Header.Get("X-CSRF-Token"))) {
		writeError(w, r, apperror.Forbidden("Missing or invalid CSRF token"))
		return false
	}
	return true
}

// statusRecorder captures the response status for logs and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token, X-Request-ID")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if !xid.Valid(requestID) {
			requestID = xid.New("req")
		}
		w.Header().Set(requestIDHeader, requestID)

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		ctx := logger.With(r.Context(), "request_id", requestID)
		r = r.WithContext(ctx)

		if !a.checkCSRF(w, r) {
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		startedAt := time.Now()
		next.ServeHTTP(rec, r)
		elapsed := time.Since(startedAt)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(rec.status)
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route, status).Observe(elapsed.Seconds())
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
		logger.Info(ctx, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

// decodeBody decodes the request body and writes a validation envelope on
// failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := decodeJSON(r, dest); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, apperror.Validation("Request body too large"))
			return false
		}
		writeError(w, r, apperror.Validationf("Invalid JSON body: %v", err))
		return false
	}
	return true
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

func pathID(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(r.PathValue(name))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.Validationf("Invalid %s: %q", name, raw)
	}
	return id, nil
}

func queryID(r *http.Request, name string) (*int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, apperror.Validationf("Invalid %s: %q", name, raw)
	}
	return &id, nil
}

// queryTime accepts RFC 3339 timestamps or plain dates. A plain date used as
// an upper bound covers the whole day.
func queryTime(r *http.Request, name string, endOfDay bool) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	day, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, apperror.Validationf("Invalid %s: %q", name, raw)
	}
	if endOfDay {
		day = day.Add(24*time.Hour - time.Nanosecond)
	}
	return &day, nil
}

func writeMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeEnvelope(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
}

// writeError renders err as a failure envelope. Internal errors are logged and
// replaced by a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperror.HTTPStatus(err)
	appErr, ok := apperror.As(err)
	if !ok {
		appErr = apperror.Internal(err)
	}
	if status >= http.StatusInternalServerError {
		logger.Error(r.Context(), "internal error", "status", status, "error", err)
	}

	body := map[string]any{
		"ok":      false,
		"code":    appErr.Code,
		"message": appErr.Message,
	}
	if len(appErr.Details) > 0 && status < http.StatusInternalServerError {
		body["details"] = appErr.Details
	}
	writeJSON(w, status, body)
}

func writeEnvelope(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, map[string]any{"ok": false, "code": code, "message": message})
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{"ok": true, "data": data})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
