package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/davinic7/tienda2-sub000/internal/service"
	"github.com/davinic7/tienda2-sub000/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, nil, nil, nil, "central")
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, nil, "*")
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": username,
		"password": password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode login body: %v", err)
	}
	if body.AccessToken == "" {
		t.Fatalf("expected access token")
	}
	return body.AccessToken
}

func TestHandleHealth(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleLogin_RateLimit(t *testing.T) {
	handler := newTestAPI(t).Handler()

	// The loginLimiter allows 5 attempts per minute from one address.
	var last *httptest.ResponseRecorder
	for i := 0; i < 6; i++ {
		last = doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
			"username": "admin",
			"password": "badpass",
		})
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on sixth attempt, got %d", last.Code)
	}
}

func TestSalesRequireBearerToken(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", "", map[string]any{
		"payment_method": "cash",
		"lines":          []map[string]any{{"product_id": "prd-arroz-01", "quantity": 1}},
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestStockAdjustForbiddenForSeller(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "vendedor", "vendedor123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/stock/adjust", token, map[string]any{
		"location_id": "central",
		"product_id":  "prd-arroz-01",
		"quantity":    5,
		"mode":        "add",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestSaleWithoutShiftRejected(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "vendedor", "vendedor123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, map[string]any{
		"payment_method": "cash",
		"lines":          []map[string]any{{"product_id": "prd-arroz-01", "quantity": 1}},
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestSaleLifecycleOverHTTP(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "vendedor", "vendedor123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/shifts/open", token, map[string]any{
		"location_id":   "central",
		"opening_float": "50.00",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("open shift: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var opened struct {
		Shift struct {
			ID string `json:"id"`
		} `json:"shift"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&opened); err != nil {
		t.Fatalf("decode shift: %v", err)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, map[string]any{
		"payment_method": "cash",
		"cash_tendered":  "5.00",
		"lines":          []map[string]any{{"product_id": "prd-arroz-01", "quantity": 2}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("sale: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created struct {
		Sale struct {
			ID    string `json:"id"`
			Total string `json:"total"`
		} `json:"sale"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode sale: %v", err)
	}
	if created.Sale.Total != "3.70" {
		t.Fatalf("expected total 3.70, got %s", created.Sale.Total)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/sales/"+created.Sale.ID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get sale: expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/shifts/active", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("active shift: expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/shifts/close", token, map[string]any{
		"shift_id":     opened.Shift.ID,
		"closing_cash": "53.70",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("close shift: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var closed struct {
		Shift struct {
			Variance string `json:"variance"`
		} `json:"shift"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&closed); err != nil {
		t.Fatalf("decode closed shift: %v", err)
	}
	if closed.Shift.Variance != "0.00" {
		t.Fatalf("expected variance 0.00, got %s", closed.Shift.Variance)
	}
}

func TestSaleInsufficientStockConflict(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "vendedor", "vendedor123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/shifts/open", token, map[string]any{
		"location_id": "central",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("open shift failed: %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, map[string]any{
		"payment_method": "cash",
		"lines":          []map[string]any{{"product_id": "prd-arroz-01", "quantity": 9999}},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestSaleUnknownProductUnprocessable(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "admin", "admin123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, map[string]any{
		"location_id":    "central",
		"payment_method": "cash",
		"lines":          []map[string]any{{"product_id": "prd-missing", "quantity": 1}},
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestCancelSaleSellerForbidden(t *testing.T) {
	handler := newTestAPI(t).Handler()
	sellerToken := login(t, handler, "vendedor", "vendedor123")
	adminToken := login(t, handler, "admin", "admin123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/shifts/open", sellerToken, map[string]any{
		"location_id": "central",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("open shift failed: %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sales", sellerToken, map[string]any{
		"payment_method": "cash",
		"lines":          []map[string]any{{"product_id": "prd-arroz-01", "quantity": 1}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("sale failed: %d", rec.Code)
	}
	var created struct {
		Sale struct {
			ID string `json:"id"`
		} `json:"sale"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode sale: %v", err)
	}
	cancelPath := fmt.Sprintf("/api/v1/sales/%s/cancel", created.Sale.ID)

	rec = doJSON(t, handler, http.MethodPost, cancelPath, sellerToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for seller cancel, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, cancelPath, adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin cancel, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestCreateProductValidation(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "admin", "admin123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/products", token, map[string]any{
		"name":  "",
		"price": "1.00",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/products", token, map[string]any{
		"name":          "Harina 1kg",
		"price":         "1.15",
		"initial_stock": 30,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestTopUpCreditOverHTTP(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "vendedor", "vendedor123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/customers/cus-miguel-01/topup", token, map[string]any{
		"amount": "5.00",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Customer struct {
			CreditBalance string `json:"credit_balance"`
		} `json:"customer"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Customer.CreditBalance != "17.50" {
		t.Fatalf("expected balance 17.50, got %s", body.Customer.CreditBalance)
	}
}

func TestCreateUserDuplicateUsernameConflicts(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "admin", "admin123")

	// "vendedor" ships with the seed data.
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/users", token, map[string]any{
		"username": "vendedor",
		"password": "password123",
		"role":     "seller",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/users", token, map[string]any{
		"username": "carla",
		"password": "password123",
		"role":     "seller",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}
