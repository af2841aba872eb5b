package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailerp/backend/internal/cache"
	"retailerp/backend/internal/domain"
	"retailerp/backend/internal/metrics"
	"retailerp/backend/internal/service"
	"retailerp/backend/internal/store/memory"
)

const testManagerPIN = "9191"

// newTestAPI wires the real service, auth manager and a seeded in-memory
// store so handler tests exercise the whole request path.
func newTestAPI(t *testing.T) http.Handler {
	t.Helper()

	repo := memory.NewSeeded()
	m := metrics.New()
	svc := service.New(repo, cache.NewMemoryCartStore(), service.Options{
		DefaultStoreID: memory.SeedStoreID,
		DefaultTaxRate: decimal.RequireFromString("0.10"),
		Metrics:        m,
	})
	auth := NewAuthManager(context.Background(), "test-secret-key", time.Hour, testManagerPIN, repo, nil)
	return New(svc, auth, Options{AllowedOrigin: "*", Metrics: m}).Handler()
}

func do(t *testing.T, h http.Handler, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out), rec.Body.String())
	return out
}

func login(t *testing.T, h http.Handler, username string, password string) string {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: username, Password: password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody[domain.LoginResponse](t, rec).AccessToken
}

func TestHandleHealth(t *testing.T) {
	h := newTestAPI(t)
	rec := do(t, h, http.MethodGet, "/healthz", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestHandleLogin(t *testing.T) {
	h := newTestAPI(t)

	token := login(t, h, "admin", "admin123")
	assert.NotEmpty(t, token)

	rec := do(t, h, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "admin"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginRateLimitReturns429(t *testing.T) {
	h := newTestAPI(t)
	for i := 0; i < 6; i++ {
		rec := do(t, h, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "wrong-pass"})
		if i < 5 {
			require.Equal(t, http.StatusUnauthorized, rec.Code, "attempt %d", i+1)
			continue
		}
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	h := newTestAPI(t)
	body := fmt.Sprintf(`{"username":"%s","password":"x"}`, strings.Repeat("a", maxBodyBytes+1024))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRoutesRequireAuthAndRole(t *testing.T) {
	h := newTestAPI(t)

	rec := do(t, h, http.MethodGet, "/api/v1/products", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/products", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	cashier := login(t, h, "cashier", "cashier123")
	rec = do(t, h, http.MethodGet, "/api/v1/products", cashier, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeBody[[]domain.Product](t, rec))

	rec = do(t, h, http.MethodPost, "/api/v1/inventory/credit", cashier, domain.LedgerRequest{
		ProductID: "prod-rice-5kg", Location: domain.LocationRef{StoreID: memory.SeedStoreID}, Quantity: 5,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/users", cashier, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestInventoryLedgerEndpoints(t *testing.T) {
	h := newTestAPI(t)
	manager := login(t, h, "manager", "manager123")
	loc := domain.LocationRef{StoreID: memory.SeedStoreID}

	rec := do(t, h, http.MethodPost, "/api/v1/inventory/reserve", manager, domain.LedgerRequest{ProductID: "prod-coffee", Location: loc, Quantity: 100})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	record := decodeBody[domain.InventoryRecord](t, rec)
	assert.Equal(t, 100, record.ReservedQuantity)

	rec = do(t, h, http.MethodPost, "/api/v1/inventory/deduct", manager, domain.LedgerRequest{ProductID: "prod-coffee", Location: loc, Quantity: 30})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/inventory/release", manager, domain.LedgerRequest{ProductID: "prod-coffee", Location: loc, Quantity: 101})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/inventory/credit", manager, domain.LedgerRequest{ProductID: "prod-coffee", Location: loc, Quantity: 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/inventory/products/prod-coffee?store_id="+memory.SeedStoreID, manager, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	record = decodeBody[domain.InventoryRecord](t, rec)
	assert.Equal(t, 120, record.CurrentQuantity)
	assert.Equal(t, 20, record.AvailableQuantity())

	rec = do(t, h, http.MethodGet, "/api/v1/inventory/movements?product_id=prod-coffee", manager, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeBody[[]domain.InventoryMovement](t, rec))
}

func TestCheckoutPaymentAndRefundFlow(t *testing.T) {
	h := newTestAPI(t)
	cashier := login(t, h, "cashier", "cashier123")

	rec := do(t, h, http.MethodPost, "/api/v1/carts", cashier, domain.CreateCartRequest{})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	cart := decodeBody[domain.Cart](t, rec)

	rec = do(t, h, http.MethodPost, "/api/v1/carts/"+cart.ID+"/items", cashier, domain.AddCartItemRequest{ProductID: "prod-rice-5kg", Quantity: 500})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/carts/"+cart.ID+"/items", cashier, domain.AddCartItemRequest{ProductID: "prod-rice-5kg", Quantity: 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/v1/carts/"+cart.ID+"/scan", cashier, scanRequest{Barcode: "8991001000028"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cart = decodeBody[domain.Cart](t, rec)
	require.Len(t, cart.Items, 2)

	rec = do(t, h, http.MethodPost, "/api/v1/orders/checkout", cashier, domain.CheckoutRequest{CartID: cart.ID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	order := decodeBody[domain.SalesOrder](t, rec)
	assert.Equal(t, domain.OrderStatusCompleted, order.Status)
	assert.True(t, order.Total.Equal(cart.Total))

	rec = do(t, h, http.MethodGet, "/api/v1/carts/"+cart.ID, cashier, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	over := order.Total.Add(decimal.NewFromInt(1))
	rec = do(t, h, http.MethodPost, "/api/v1/orders/"+order.ID+"/payments", cashier, domain.PaymentRequest{Type: domain.PaymentCash, Amount: over})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/orders/"+order.ID+"/payments", cashier, domain.PaymentRequest{Type: domain.PaymentCash, Amount: order.Total})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	payment := decodeBody[domain.Payment](t, rec)

	refund := domain.RefundRequest{Amount: decimal.NewFromInt(1), Reason: "damaged", ManagerPIN: "0000"}
	rec = do(t, h, http.MethodPost, "/api/v1/payments/"+payment.ID+"/refund", cashier, refund)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	refund.ManagerPIN = testManagerPIN
	rec = do(t, h, http.MethodPost, "/api/v1/payments/"+payment.ID+"/refund", cashier, refund)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, decodeBody[domain.Payment](t, rec).Amount.Equal(decimal.NewFromInt(-1)))

	rec = do(t, h, http.MethodGet, "/api/v1/orders/"+order.ID+"/payments", cashier, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]domain.Payment](t, rec), 2)

	rec = do(t, h, http.MethodGet, "/api/v1/orders/lookup?number="+strings.ToLower(order.OrderNumber), cashier, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, order.ID, decodeBody[domain.SalesOrder](t, rec).ID)
}

func TestCancelOrderRequiresManagerPIN(t *testing.T) {
	h := newTestAPI(t)
	cashier := login(t, h, "cashier", "cashier123")

	rec := do(t, h, http.MethodPost, "/api/v1/orders/missing/cancel", cashier, domain.CancelOrderRequest{Reason: "typo", ManagerPIN: testManagerPIN})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/orders/missing/cancel", cashier, map[string]string{"manager_pin": testManagerPIN})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestManagerPINRateLimitReturns429(t *testing.T) {
	h := newTestAPI(t)
	token := login(t, h, "admin", "admin123")

	for i := 0; i < 9; i++ {
		rec := do(t, h, http.MethodPost, "/api/v1/orders/ord-nonexistent/cancel", token, domain.CancelOrderRequest{Reason: "test", ManagerPIN: "000000"})
		if i < 8 {
			require.Equal(t, http.StatusForbidden, rec.Code, "attempt %d", i+1)
			continue
		}
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	}
}

func TestTransferEndpoints(t *testing.T) {
	h := newTestAPI(t)
	manager := login(t, h, "manager", "manager123")

	rec := do(t, h, http.MethodPost, "/api/v1/transfers", manager, domain.CreateTransferRequest{
		From:  domain.LocationRef{StoreID: memory.SeedStoreID},
		To:    domain.LocationRef{StoreID: memory.SeedStoreID, WarehouseID: "wh-central"},
		Items: []domain.TransferItemRequest{{ProductID: "prod-bread", Quantity: 5}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/transfers", manager, domain.CreateTransferRequest{
		From:  domain.LocationRef{StoreID: memory.SeedStoreID},
		To:    domain.LocationRef{StoreID: "branch-store"},
		Items: []domain.TransferItemRequest{{ProductID: "prod-bread", Quantity: 5}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	transfer := decodeBody[domain.StockTransfer](t, rec)

	rec = do(t, h, http.MethodPost, "/api/v1/transfers/"+transfer.ID+"/ship", manager, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	for _, step := range []string{"approve", "ship"} {
		rec = do(t, h, http.MethodPost, "/api/v1/transfers/"+transfer.ID+"/"+step, manager, nil)
		require.Equal(t, http.StatusOK, rec.Code, "%s: %s", step, rec.Body.String())
	}

	rec = do(t, h, http.MethodPost, "/api/v1/transfers/"+transfer.ID+"/receive", manager, domain.ReceiveTransferRequest{
		Items: []domain.ReceiveLine{{ItemID: transfer.Items[0].ID, ReceivedQuantity: 5}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.TransferStatusReceived, decodeBody[domain.StockTransfer](t, rec).Status)

	rec = do(t, h, http.MethodGet, "/api/v1/transfers?status=received&store_id="+memory.SeedStoreID, manager, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]domain.StockTransfer](t, rec), 1)
}

func TestShiftAndDayEndpoints(t *testing.T) {
	h := newTestAPI(t)
	cashier := login(t, h, "cashier", "cashier123")
	manager := login(t, h, "manager", "manager123")
	today := time.Now().UTC().Format(dateLayout)

	rec := do(t, h, http.MethodPost, "/api/v1/days/start", cashier, domain.StartDayRequest{StoreID: memory.SeedStoreID, Date: today})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/days/start", manager, domain.StartDayRequest{StoreID: memory.SeedStoreID, Date: today, InitialCash: decimal.NewFromInt(200)})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	start := domain.StartShiftRequest{StoreID: memory.SeedStoreID, StartingCash: decimal.NewFromInt(100)}
	rec = do(t, h, http.MethodPost, "/api/v1/shifts/start", cashier, start)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	shift := decodeBody[domain.Shift](t, rec)

	rec = do(t, h, http.MethodPost, "/api/v1/shifts/start", cashier, start)
	assert.Equal(t, http.StatusConflict, rec.Code)

	endDay := domain.EndDayRequest{StoreID: memory.SeedStoreID, Date: today, ManagerPIN: testManagerPIN}
	rec = do(t, h, http.MethodPost, "/api/v1/days/end", manager, endDay)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/shifts/active", cashier, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]domain.Shift](t, rec), 1)

	rec = do(t, h, http.MethodPost, "/api/v1/shifts/"+shift.ID+"/end", cashier, domain.EndShiftRequest{EndingCash: decimal.NewFromInt(100)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ended := decodeBody[domain.Shift](t, rec)
	assert.Equal(t, domain.ShiftStatusCompleted, ended.Status)
	require.NotNil(t, ended.CashDifference)
	assert.True(t, ended.CashDifference.IsZero())

	rec = do(t, h, http.MethodPost, "/api/v1/days/end", manager, endDay)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.DayStatusClosed, decodeBody[domain.BusinessDay](t, rec).Status)

	rec = do(t, h, http.MethodGet, "/api/v1/days/"+today, cashier, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decodeBody[domain.BusinessDay](t, rec).ShiftCount)
}

func TestLoginHistoryIsScopedToCaller(t *testing.T) {
	h := newTestAPI(t)
	cashier := login(t, h, "cashier", "cashier123")
	manager := login(t, h, "manager", "manager123")

	rec := do(t, h, http.MethodPost, "/api/v1/sessions/login", cashier, domain.LoginEventRequest{StoreID: memory.SeedStoreID})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/v1/sessions/history", cashier, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]domain.LoginEvent](t, rec), 1)

	rec = do(t, h, http.MethodGet, "/api/v1/sessions/history?user_id=manager", cashier, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/sessions/history?user_id=cashier", manager, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	h := newTestAPI(t)
	do(t, h, http.MethodGet, "/healthz", "", nil)

	rec := do(t, h, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `retailerp_http_requests_total{code="2xx",method="GET",route="GET /healthz"}`)
}

func TestStatusForMapsErrorTaxonomy(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.Invalidf("bad"), http.StatusBadRequest},
		{domain.ErrForbidden, http.StatusForbidden},
		{domain.ErrInvalidTransferState, http.StatusConflict},
		{domain.ErrActiveShiftExists, http.StatusConflict},
		{domain.ErrSplitMismatch, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: cart c1: %w", domain.ErrCheckoutFailed, domain.ErrInsufficientStock), http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: cart c1: %w", domain.ErrCheckoutFailed, domain.NewStorageError("lock", errors.New("conn reset"))), http.StatusServiceUnavailable},
		{domain.NewStorageError("get", domain.ErrNotFound), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestQueryHelpers(t *testing.T) {
	assert.Equal(t, 200, parsePositiveLimit("9999", 50, 200))
	assert.Equal(t, 50, parsePositiveLimit("-3", 50, 200))
	assert.Equal(t, 7, parsePositiveLimit(" 7 ", 50, 200))

	req := httptest.NewRequest(http.MethodGet, "/x?from=2026-03-01&to=2026-03-01", nil)
	from, to, err := queryRange(req)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, to.Sub(from))

	req = httptest.NewRequest(http.MethodGet, "/x?from=yesterday", nil)
	_, _, err = queryRange(req)
	require.Error(t, err)
}

func TestAttemptLimiterWindow(t *testing.T) {
	limiter := newAttemptLimiter(2, time.Minute)
	assert.True(t, limiter.Allow("k"))
	assert.True(t, limiter.Allow("k"))
	assert.False(t, limiter.Allow("k"))
	assert.True(t, limiter.Allow("other"))

	limiter.entries["k"] = []time.Time{time.Now().Add(-2 * time.Minute), time.Now().Add(-2 * time.Minute)}
	assert.True(t, limiter.Allow("k"))

	assert.Equal(t, "192.0.2.1", clientKey(httptest.NewRequest(http.MethodGet, "/", nil)))
}
