package httpapi

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"kasirpos/internal/domain"
	"kasirpos/internal/service"
	"kasirpos/internal/store/memory"
)

// newTestAPI builds a full API on the seeded in-memory store so handler tests
// exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, nil, service.Options{BcryptCost: bcrypt.MinCost})
	auth := NewAuthManager("test-secret-key-with-32-characters", time.Hour, svc)

	return New(svc, auth, Options{AllowedOrigin: "*"})
}

type envelope struct {
	OK      bool            `json:"ok"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, body io.Reader) envelope {
	t.Helper()
	var env envelope
	if err := json.NewDecoder(body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

// doJSON sends an authenticated request carrying a valid CSRF token.
func doJSON(t *testing.T, api *API, method string, path string, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if method != http.MethodGet {
		req.Header.Set("X-CSRF-Token", api.generateCSRFToken())
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if env := decodeEnvelope(t, rec.Body); !env.OK {
		t.Fatalf("expected ok:true, got %+v", env)
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "admin", "admin123")
	if strings.TrimSpace(token) == "" {
		t.Fatalf("expected access token")
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "wrongpassword"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec.Body)
	if env.OK || env.Code != "INVALID_CREDENTIALS" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodGet, "/api/v1/products", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")

	rec := doJSON(t, api, http.MethodGet, "/api/v1/products?q=kopi", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var products []domain.Product
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec.Body).Data, &products))
	require.Len(t, products, 1)
	assert.Equal(t, "Kopi Sachet", products[0].Name)
}

func TestCashierCannotUseAdminRoutes(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/stock/move", token, domain.StockMoveRequest{ProductID: 1, QtyChange: 5, Reason: "RECEIVE"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCheckoutVoidAndExportFlow(t *testing.T) {
	api := newTestAPI(t)
	cashier := loginAs(t, api, "cashier", "cashier123")
	admin := loginAs(t, api, "admin", "admin123")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/sales/checkout", cashier, domain.CheckoutRequest{
		Items:    []domain.CartItem{{ProductID: 5, Qty: 4}},
		Payments: []domain.Payment{{Method: "qris", Amount: 10400}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result domain.CheckoutResult
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec.Body).Data, &result))
	assert.EqualValues(t, 10400, result.Total)
	assert.Equal(t, "QRIS", result.PaymentMethod)

	rec = doJSON(t, api, http.MethodGet, "/api/v1/stock/5", cashier, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snapshot domain.StockSnapshot
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec.Body).Data, &snapshot))
	assert.EqualValues(t, 116, snapshot.Stock)

	rec = doJSON(t, api, http.MethodGet, "/api/v1/reports/export?kind=top-products&format=csv", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	rows, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"5", "8991001000059", "Kopi Sachet", "4", "10400", "6800", "3600"}, rows[1])

	path := "/api/v1/sales/" + jsonNumber(result.SaleID) + "/void-paid"
	rec = doJSON(t, api, http.MethodPost, path, cashier, map[string]string{"note": "x"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, api, http.MethodPost, path, admin, map[string]string{"note": "batal"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, api, http.MethodPost, path, admin, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CONFLICT", decodeEnvelope(t, rec.Body).Code)
}

func TestCheckoutErrorEnvelopes(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/sales/checkout", token, domain.CheckoutRequest{
		Items:    []domain.CartItem{{ProductID: 1, Qty: 500}},
		Payments: []domain.Payment{{Method: "CASH", Amount: 5_000_000}},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "OUT_OF_STOCK", decodeEnvelope(t, rec.Body).Code)

	rec = doJSON(t, api, http.MethodPost, "/api/v1/sales/checkout", token, domain.CheckoutRequest{
		Items:    []domain.CartItem{{ProductID: 1, Qty: 1}},
		Payments: []domain.Payment{{Method: "CASH", Amount: 100}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "INSUFFICIENT_PAYMENT", decodeEnvelope(t, rec.Body).Code)

	rec = doJSON(t, api, http.MethodPost, "/api/v1/sales/checkout", token, map[string]any{"unknown": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestShiftEndpoints(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/shifts/open", token, domain.ShiftOpenRequest{OpeningCash: 100000})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, api, http.MethodPost, "/api/v1/shifts/open", token, domain.ShiftOpenRequest{})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, api, http.MethodPost, "/api/v1/shifts/close", token, domain.ShiftCloseRequest{ClosingCash: 150000})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, api, http.MethodGet, "/api/v1/shifts/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", string(decodeEnvelope(t, rec.Body).Data))
}

func jsonNumber(v int64) string {
	raw, _ := json.Marshal(v)
	return string(raw)
}

func loginAs(t *testing.T, api *API, username string, password string) string {
	t.Helper()

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: username, Password: password})
	if rec.Code != http.StatusOK {
		t.Fatalf("%s login failed, status %d: %s", username, rec.Code, rec.Body.String())
	}

	var payload domain.LoginResponse
	if err := json.Unmarshal(decodeEnvelope(t, rec.Body).Data, &payload); err != nil {
		t.Fatalf("decode login response failed: %v", err)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		t.Fatalf("expected access token in login response")
	}
	return payload.AccessToken
}
