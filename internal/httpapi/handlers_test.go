package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"koperasi/backend/internal/cache"
	"koperasi/backend/internal/domain"
	"koperasi/backend/internal/sales"
	"koperasi/backend/internal/service"
	"koperasi/backend/internal/store/memory"
)

const (
	testAdminPassword = "admin-test-pass"
	testClerkPassword = "clerk-test-pass"
)

// newTestAPI builds the full request path on the seeded in-memory store.
func newTestAPI(t *testing.T) *API {
	t.Helper()
	t.Setenv("SEED_ADMIN_PASSWORD", testAdminPassword)
	t.Setenv("SEED_CLERK_PASSWORD", testClerkPassword)

	repo := memory.NewSeeded()
	engine := sales.NewEngine(repo, sales.WithActor(service.ActorName))
	svc := service.New(repo, engine, cache.NewMemorySubmissionCache(), time.Minute)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*")
}

func login(t *testing.T, api *API, username string, password string) string {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("%s login failed, status %d (body: %s)", username, res.Code, res.Body.String())
	}

	var payload domain.LoginResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response failed: %v", err)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		t.Fatalf("expected access token in login response")
	}
	return payload.AccessToken
}

func doJSON(t *testing.T, api *API, method string, path string, token string, payload any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	return res
}

func uniformOrder() domain.SaleRequest {
	return domain.SaleRequest{
		Buyer: "Bu Sari",
		Date:  "2024-08-01",
		Lines: []domain.SaleLineInput{
			{ItemID: "ITM-SERAGAM-BTK", Quantity: 2, BasePriceCents: 8500000, DonationCents: 500000},
			{ItemID: "ITM-TOPI-SD", Quantity: 2, BasePriceCents: 2000000},
		},
	}
}

type createdSale struct {
	Sale struct {
		ID      string        `json:"id"`
		Totals  domain.Totals `json:"totals"`
		Display displayTotals `json:"display"`
	} `json:"sale"`
	Duplicate bool `json:"duplicate"`
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	res := doJSON(t, api, http.MethodGet, "/healthz", "", nil, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)

	res := doJSON(t, api, http.MethodGet, "/healthz", "", nil, nil)
	if got := res.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options nosniff, got %q", got)
	}
	if got := res.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected X-Frame-Options DENY, got %q", got)
	}
}

func TestCORSPreflightAllowsIdempotencyHeader(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/sales", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Idempotency-Key")
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)

	if got := res.Header().Get("Access-Control-Allow-Origin"); got == "" {
		t.Fatalf("expected Access-Control-Allow-Origin on preflight")
	}
}

func TestLoginRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	body, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: "wrong-pass"})

	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "127.0.0.1:5000"
		res := httptest.NewRecorder()

		api.Handler().ServeHTTP(res, req)

		if i < 5 && res.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d expected 401 before limit, got %d", i+1, res.Code)
		}
		if i == 5 && res.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 6 expected 429, got %d", res.Code)
		}
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api := newTestAPI(t)
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := fmt.Sprintf(`{"username":"%s","password":"x"}`, veryLong)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for too large body, got %d", res.Code)
	}
}

func TestSalesRequireBearerToken(t *testing.T) {
	api := newTestAPI(t)

	res := doJSON(t, api, http.MethodGet, "/api/v1/sales", "", nil, nil)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", res.Code)
	}
}

func TestCreateSaleThenReplayWithIdempotencyHeader(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "clerk", testClerkPassword)
	headers := map[string]string{"Idempotency-Key": "form-42"}

	res := doJSON(t, api, http.MethodPost, "/api/v1/sales", token, uniformOrder(), headers)
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", res.Code, res.Body.String())
	}
	var first createdSale
	if err := json.NewDecoder(res.Body).Decode(&first); err != nil {
		t.Fatalf("decode sale: %v", err)
	}
	if first.Sale.Totals.GrandCents != 21500000 {
		t.Fatalf("expected grand total 21500000, got %d", first.Sale.Totals.GrandCents)
	}
	if first.Sale.Display.Grand != "215000.00" {
		t.Fatalf("expected display grand 215000.00, got %s", first.Sale.Display.Grand)
	}

	res = doJSON(t, api, http.MethodPost, "/api/v1/sales", token, uniformOrder(), headers)
	if res.Code != http.StatusOK {
		t.Fatalf("expected replay 200, got %d", res.Code)
	}
	var second createdSale
	if err := json.NewDecoder(res.Body).Decode(&second); err != nil {
		t.Fatalf("decode replay: %v", err)
	}
	if !second.Duplicate || second.Sale.ID != first.Sale.ID {
		t.Fatalf("expected duplicate of %s, got %+v", first.Sale.ID, second)
	}

	res = doJSON(t, api, http.MethodGet, "/api/v1/sales/"+first.Sale.ID, token, nil, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 reading sale, got %d", res.Code)
	}
}

func TestCreateSaleInsufficientStockReturnsLines(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "clerk", testClerkPassword)

	order := uniformOrder()
	order.Lines[0].Quantity = 61
	order.Lines = append(order.Lines, domain.SaleLineInput{ItemID: "ITM-NOPE", Quantity: 1})

	res := doJSON(t, api, http.MethodPost, "/api/v1/sales", token, order, nil)
	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", res.Code, res.Body.String())
	}
	var body struct {
		Lines []domain.LineError `json:"lines"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Lines) != 2 {
		t.Fatalf("expected both failing lines, got %+v", body.Lines)
	}
	if body.Lines[0].Available != 60 || body.Lines[1].Code != sales.CodeItemNotFound {
		t.Fatalf("unexpected line errors %+v", body.Lines)
	}
}

func TestCreateSaleRejectsInvalidInput(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "clerk", testClerkPassword)

	order := uniformOrder()
	order.Buyer = "  "
	res := doJSON(t, api, http.MethodPost, "/api/v1/sales", token, order, nil)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing buyer, got %d", res.Code)
	}

	res = doJSON(t, api, http.MethodPost, "/api/v1/sales", token, map[string]any{"buyer": "x", "discount": 5}, nil)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", res.Code)
	}
}

func TestValidateStockEndpoint(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "clerk", testClerkPassword)

	res := doJSON(t, api, http.MethodPost, "/api/v1/sales/validate", token, domain.StockValidationRequest{
		Lines: []domain.StockLine{{ItemID: "ITM-ATLAS-IND", Quantity: 26}},
	}, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var result domain.StockValidation
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		t.Fatalf("decode validation: %v", err)
	}
	if result.Valid || len(result.Errors) != 1 || result.Errors[0].Available != 25 {
		t.Fatalf("unexpected validation %+v", result)
	}
}

func TestUpdateAndDeleteSaleEndpoints(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "clerk", testClerkPassword)

	res := doJSON(t, api, http.MethodPost, "/api/v1/sales", token, uniformOrder(), nil)
	var created createdSale
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatalf("decode sale: %v", err)
	}

	edit := uniformOrder()
	edit.Lines = edit.Lines[1:]
	res = doJSON(t, api, http.MethodPut, "/api/v1/sales/"+created.Sale.ID, token, edit, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 on update, got %d (body: %s)", res.Code, res.Body.String())
	}

	for i := 0; i < 2; i++ {
		res = doJSON(t, api, http.MethodDelete, "/api/v1/sales/"+created.Sale.ID, token, nil, nil)
		if res.Code != http.StatusNoContent {
			t.Fatalf("delete %d expected 204, got %d", i+1, res.Code)
		}
	}

	res = doJSON(t, api, http.MethodGet, "/api/v1/sales/"+created.Sale.ID, token, nil, nil)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", res.Code)
	}
}

func TestMigrateLegacyIsAdminOnly(t *testing.T) {
	api := newTestAPI(t)
	clerk := login(t, api, "clerk", testClerkPassword)
	admin := login(t, api, "admin", testAdminPassword)

	res := doJSON(t, api, http.MethodPost, "/api/v1/sales/mov-legacy-0001/migrate", clerk, nil, nil)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for clerk, got %d", res.Code)
	}

	res = doJSON(t, api, http.MethodPost, "/api/v1/sales/mov-legacy-0001/migrate", admin, nil, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d (body: %s)", res.Code, res.Body.String())
	}
	var result domain.MigrationResult
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		t.Fatalf("decode migration: %v", err)
	}
	if result.SaleID != "mov-legacy-0001" || result.Relinked != 1 {
		t.Fatalf("unexpected migration result %+v", result)
	}

	res = doJSON(t, api, http.MethodGet, "/api/v1/audit-logs", admin, nil, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 for audit logs, got %d", res.Code)
	}
}

func TestWriteSaleErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{"ledger", &sales.LedgerError{Step: sales.StepLedgerPosted, Err: errors.New("db down")}, http.StatusServiceUnavailable, "no changes were made"},
		{"partial", &sales.PartialRollbackError{SaleID: "sale-1", Op: "create", Cause: errors.New("boom")}, http.StatusInternalServerError, `"code":"partial_rollback"`},
		{"duplicate", sales.ErrDuplicateSubmission, http.StatusConflict, "still being processed"},
		{"not found", fmt.Errorf("read: %w", sales.ErrNotFound), http.StatusNotFound, "sale not found"},
		{"unknown", errors.New("secret sql detail"), http.StatusInternalServerError, "internal server error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := httptest.NewRecorder()
			writeSaleError(res, tc.err)
			if res.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, res.Code)
			}
			if !strings.Contains(res.Body.String(), tc.body) {
				t.Fatalf("expected body to contain %q, got %s", tc.body, res.Body.String())
			}
			if strings.Contains(res.Body.String(), "db down") || strings.Contains(res.Body.String(), "secret sql") {
				t.Fatalf("store detail leaked: %s", res.Body.String())
			}
		})
	}
}

func TestWriteSaleErrorPartialRollbackBody(t *testing.T) {
	res := httptest.NewRecorder()
	writeSaleError(res, &sales.PartialRollbackError{SaleID: "sale-1", Op: "update", Cause: errors.New("disk full")})

	var body map[string]string
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	want := map[string]string{"error": "sale left in an inconsistent state, contact support", "code": "partial_rollback"}
	if len(body) != len(want) || body["error"] != want["error"] || body["code"] != want["code"] {
		t.Fatalf("expected %v, got %v", want, body)
	}
}

func TestParsePositiveLimitCaps(t *testing.T) {
	if got := parsePositiveLimit("9999", 50, 200); got != 200 {
		t.Fatalf("expected capped limit 200, got %d", got)
	}
	if got := parsePositiveLimit("", 50, 200); got != 50 {
		t.Fatalf("expected fallback limit 50, got %d", got)
	}
	if got := parsePositiveLimit("invalid", 50, 200); got != 50 {
		t.Fatalf("expected fallback on invalid input, got %d", got)
	}
}
