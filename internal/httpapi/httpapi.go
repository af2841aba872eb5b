package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"retailerp/backend/internal/domain"
	"retailerp/backend/internal/metrics"
	"retailerp/backend/internal/service"
)

const (
	dateLayout   = "2006-01-02"
	maxBodyBytes = 1 << 20
)

var (
	staffRoles   = []string{domain.RoleCashier, domain.RoleManager, domain.RoleAdmin}
	managerRoles = []string{domain.RoleManager, domain.RoleAdmin}
	adminRoles   = []string{domain.RoleAdmin}
)

type Options struct {
	AllowedOrigin string
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
}

type API struct {
	service       *service.Service
	auth          *AuthManager
	validate      *validator.Validate
	logger        *zap.Logger
	metrics       *metrics.Metrics
	allowedOrigin string
	loginLimiter  *attemptLimiter
	pinLimiter    *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.AllowedOrigin == "" {
		opts.AllowedOrigin = "*"
	}
	return &API{
		service:       svc,
		auth:          auth,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		allowedOrigin: opts.AllowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		pinLimiter:    newAttemptLimiter(8, time.Minute),
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

// Allow records an attempt for key and reports whether it is within the
// sliding window budget.
func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.entries[key][:0]
	for _, ts := range l.entries[key] {
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
	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)
	mux.Handle("GET /metrics", a.metrics.Handler())

	mux.HandleFunc("GET /api/v1/users", a.requireAuth(a.handleListUsers, adminRoles...))
	mux.HandleFunc("POST /api/v1/users", a.requireAuth(a.handleCreateUser, adminRoles...))

	mux.HandleFunc("GET /api/v1/products", a.requireAuth(a.handleListProducts, staffRoles...))
	mux.HandleFunc("GET /api/v1/products/{id}", a.requireAuth(a.handleGetProduct, staffRoles...))

	mux.HandleFunc("GET /api/v1/inventory", a.requireAuth(a.handleInventoryByLocation, staffRoles...))
	mux.HandleFunc("GET /api/v1/inventory/products/{productID}", a.requireAuth(a.handleInventoryByProduct, staffRoles...))
	mux.HandleFunc("GET /api/v1/inventory/low-stock", a.requireAuth(a.handleLowStock, staffRoles...))
	mux.HandleFunc("GET /api/v1/inventory/out-of-stock", a.requireAuth(a.handleOutOfStock, staffRoles...))
	mux.HandleFunc("GET /api/v1/inventory/overstock", a.requireAuth(a.handleOverstock, staffRoles...))
	mux.HandleFunc("GET /api/v1/inventory/movements", a.requireAuth(a.handleMovements, managerRoles...))
	mux.HandleFunc("POST /api/v1/inventory/deduct", a.requireAuth(a.ledgerHandler(a.service.Deduct), managerRoles...))
	mux.HandleFunc("POST /api/v1/inventory/credit", a.requireAuth(a.ledgerHandler(a.service.Credit), managerRoles...))
	mux.HandleFunc("POST /api/v1/inventory/reserve", a.requireAuth(a.ledgerHandler(a.service.Reserve), managerRoles...))
	mux.HandleFunc("POST /api/v1/inventory/release", a.requireAuth(a.ledgerHandler(a.service.Release), managerRoles...))

	mux.HandleFunc("POST /api/v1/carts", a.requireAuth(a.handleCreateCart, staffRoles...))
	mux.HandleFunc("GET /api/v1/carts/{id}", a.requireAuth(a.handleGetCart, staffRoles...))
	mux.HandleFunc("DELETE /api/v1/carts/{id}", a.requireAuth(a.handleDeleteCart, staffRoles...))
	mux.HandleFunc("POST /api/v1/carts/{id}/items", a.requireAuth(a.handleAddCartItem, staffRoles...))
	mux.HandleFunc("POST /api/v1/carts/{id}/scan", a.requireAuth(a.handleScanCartItem, staffRoles...))
	mux.HandleFunc("PATCH /api/v1/carts/{id}/items/{itemID}", a.requireAuth(a.handleUpdateCartItem, staffRoles...))
	mux.HandleFunc("DELETE /api/v1/carts/{id}/items/{itemID}", a.requireAuth(a.handleRemoveCartItem, staffRoles...))
	mux.HandleFunc("POST /api/v1/carts/{id}/discount", a.requireAuth(a.handleApplyDiscount, staffRoles...))
	mux.HandleFunc("DELETE /api/v1/carts/{id}/discount", a.requireAuth(a.handleRemoveDiscount, staffRoles...))
	mux.HandleFunc("POST /api/v1/carts/{id}/clear", a.requireAuth(a.handleClearCart, staffRoles...))

	mux.HandleFunc("POST /api/v1/orders/checkout", a.requireAuth(a.handleCheckout, staffRoles...))
	mux.HandleFunc("POST /api/v1/orders/hold", a.requireAuth(a.handleHold, staffRoles...))
	mux.HandleFunc("POST /api/v1/orders/returns", a.requireAuth(a.handleReturn, staffRoles...))
	mux.HandleFunc("GET /api/v1/orders", a.requireAuth(a.handleListOrders, staffRoles...))
	mux.HandleFunc("GET /api/v1/orders/held", a.requireAuth(a.handleHeldOrders, staffRoles...))
	mux.HandleFunc("GET /api/v1/orders/lookup", a.requireAuth(a.handleOrderByNumber, staffRoles...))
	mux.HandleFunc("GET /api/v1/orders/{id}", a.requireAuth(a.handleGetOrder, staffRoles...))
	mux.HandleFunc("POST /api/v1/orders/{id}/resume", a.requireAuth(a.handleResume, staffRoles...))
	mux.HandleFunc("POST /api/v1/orders/{id}/cancel", a.requireAuth(a.handleCancelOrder, staffRoles...))
	mux.HandleFunc("GET /api/v1/orders/{id}/payments", a.requireAuth(a.handlePaymentHistory, staffRoles...))
	mux.HandleFunc("POST /api/v1/orders/{id}/payments", a.requireAuth(a.handlePayment, staffRoles...))
	mux.HandleFunc("POST /api/v1/orders/{id}/payments/split", a.requireAuth(a.handleSplitPayment, staffRoles...))

	mux.HandleFunc("POST /api/v1/payments/{id}/refund", a.requireAuth(a.handleRefund, staffRoles...))
	mux.HandleFunc("GET /api/v1/payments/breakdown", a.requireAuth(a.handlePaymentBreakdown, managerRoles...))
	mux.HandleFunc("GET /api/v1/payments/total", a.requireAuth(a.handlePaymentTotal, managerRoles...))

	mux.HandleFunc("POST /api/v1/transfers", a.requireAuth(a.handleCreateTransfer, managerRoles...))
	mux.HandleFunc("GET /api/v1/transfers", a.requireAuth(a.handleListTransfers, staffRoles...))
	mux.HandleFunc("GET /api/v1/transfers/{id}", a.requireAuth(a.handleGetTransfer, staffRoles...))
	mux.HandleFunc("POST /api/v1/transfers/{id}/approve", a.requireAuth(a.transferStepHandler(a.service.ApproveTransfer), managerRoles...))
	mux.HandleFunc("POST /api/v1/transfers/{id}/ship", a.requireAuth(a.transferStepHandler(a.service.ShipTransfer), managerRoles...))
	mux.HandleFunc("POST /api/v1/transfers/{id}/receive", a.requireAuth(a.handleReceiveTransfer, staffRoles...))
	mux.HandleFunc("POST /api/v1/transfers/{id}/cancel", a.requireAuth(a.handleCancelTransfer, managerRoles...))

	mux.HandleFunc("POST /api/v1/shifts/start", a.requireAuth(a.handleStartShift, staffRoles...))
	mux.HandleFunc("GET /api/v1/shifts", a.requireAuth(a.handleShiftsByDate, staffRoles...))
	mux.HandleFunc("GET /api/v1/shifts/active", a.requireAuth(a.handleActiveShifts, staffRoles...))
	mux.HandleFunc("GET /api/v1/shifts/{id}", a.requireAuth(a.handleGetShift, staffRoles...))
	mux.HandleFunc("POST /api/v1/shifts/{id}/end", a.requireAuth(a.handleEndShift, staffRoles...))
	mux.HandleFunc("POST /api/v1/shifts/{id}/cancel", a.requireAuth(a.handleCancelShift, managerRoles...))

	mux.HandleFunc("POST /api/v1/days/start", a.requireAuth(a.handleStartDay, managerRoles...))
	mux.HandleFunc("POST /api/v1/days/end", a.requireAuth(a.handleEndDay, managerRoles...))
	mux.HandleFunc("GET /api/v1/days/{date}", a.requireAuth(a.handleGetDay, staffRoles...))

	mux.HandleFunc("POST /api/v1/swaps", a.requireAuth(a.handleCreateSwap, staffRoles...))
	mux.HandleFunc("GET /api/v1/swaps", a.requireAuth(a.handleListSwaps, managerRoles...))
	mux.HandleFunc("GET /api/v1/swaps/pending", a.requireAuth(a.handlePendingSwaps, staffRoles...))
	mux.HandleFunc("POST /api/v1/swaps/{id}/accept", a.requireAuth(a.swapStepHandler(a.service.AcceptShiftSwap), staffRoles...))
	mux.HandleFunc("POST /api/v1/swaps/{id}/approve", a.requireAuth(a.handleApproveSwap, managerRoles...))
	mux.HandleFunc("POST /api/v1/swaps/{id}/reject", a.requireAuth(a.handleRejectSwap, staffRoles...))
	mux.HandleFunc("POST /api/v1/swaps/{id}/cancel", a.requireAuth(a.swapStepHandler(a.service.CancelShiftSwap), staffRoles...))

	mux.HandleFunc("POST /api/v1/sessions/login", a.requireAuth(a.handleSessionLogin, staffRoles...))
	mux.HandleFunc("POST /api/v1/sessions/logout", a.requireAuth(a.handleSessionLogout, staffRoles...))
	mux.HandleFunc("GET /api/v1/sessions/history", a.requireAuth(a.handleLoginHistory, staffRoles...))

	mux.HandleFunc("GET /api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, managerRoles...))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}
		actor, err := a.auth.ParseToken(strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		if !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, domain.ErrForbidden)
			return
		}
		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, candidate := range allowed {
		if role == candidate {
			return true
		}
	}
	return false
}

// checkManagerPIN rate-limits and validates a manager override. It writes the
// response itself when the override is refused.
func (a *API) checkManagerPIN(w http.ResponseWriter, r *http.Request, scope string, pin string) bool {
	if !a.pinLimiter.Allow("pin:" + scope + ":" + clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many manager pin attempts"))
		return false
	}
	if !a.auth.ValidateManagerPIN(pin) {
		writeError(w, http.StatusForbidden, errors.New("invalid manager pin"))
		return false
	}
	return true
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"service": "retailerp",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow("login:" + clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}
	var req domain.LoginRequest
	if !a.decode(w, r, &req) {
		return
	}
	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		status := http.StatusUnauthorized
		if !errors.Is(err, ErrInvalidCredentials) && !errors.Is(err, ErrInactiveAccount) {
			status = http.StatusInternalServerError
		}
		a.writeFailure(w, r, status, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.auth.ListUsers(r.Context(), r.URL.Query().Get("role")))
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateUserRequest
	if !a.decode(w, r, &req) {
		return
	}
	user, err := a.auth.CreateUser(r.Context(), req)
	if errors.Is(err, ErrUserExists) {
		writeError(w, http.StatusConflict, err)
		return
	}
	a.respond(w, r, http.StatusCreated, user, err)
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context())
	a.respond(w, r, http.StatusOK, products, err)
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.GetProduct(r.Context(), r.PathValue("id"))
	a.respond(w, r, http.StatusOK, product, err)
}

func (a *API) handleInventoryByLocation(w http.ResponseWriter, r *http.Request) {
	records, err := a.service.InventoryByLocation(r.Context(), queryLocation(r))
	a.respond(w, r, http.StatusOK, records, err)
}

// handleInventoryByProduct returns one record when a store is named and every
// location's record otherwise.
func (a *API) handleInventoryByProduct(w http.ResponseWriter, r *http.Request) {
	productID := r.PathValue("productID")
	if r.URL.Query().Get("store_id") != "" {
		record, err := a.service.GetInventory(r.Context(), productID, queryLocation(r))
		a.respond(w, r, http.StatusOK, record, err)
		return
	}
	records, err := a.service.InventoryByProduct(r.Context(), productID)
	a.respond(w, r, http.StatusOK, records, err)
}

func (a *API) handleLowStock(w http.ResponseWriter, r *http.Request) {
	records, err := a.service.LowStock(r.Context(), r.URL.Query().Get("store_id"))
	a.respond(w, r, http.StatusOK, records, err)
}

func (a *API) handleOutOfStock(w http.ResponseWriter, r *http.Request) {
	records, err := a.service.OutOfStock(r.Context(), r.URL.Query().Get("store_id"))
	a.respond(w, r, http.StatusOK, records, err)
}

func (a *API) handleOverstock(w http.ResponseWriter, r *http.Request) {
	records, err := a.service.Overstock(r.Context(), r.URL.Query().Get("store_id"))
	a.respond(w, r, http.StatusOK, records, err)
}

func (a *API) handleMovements(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	movements, err := a.service.ListMovements(r.Context(), domain.MovementFilter{
		ProductID: query.Get("product_id"),
		StoreID:   query.Get("store_id"),
		Reference: query.Get("reference"),
		Limit:     parsePositiveLimit(query.Get("limit"), 100, 500),
	})
	a.respond(w, r, http.StatusOK, movements, err)
}

func (a *API) ledgerHandler(apply func(ctx context.Context, req domain.LedgerRequest) (domain.InventoryRecord, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req domain.LedgerRequest
		if !a.decode(w, r, &req) {
			return
		}
		record, err := apply(r.Context(), req)
		a.respond(w, r, http.StatusOK, record, err)
	}
}

func (a *API) handleCreateCart(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateCartRequest
	if !a.decode(w, r, &req) {
		return
	}
	cart, err := a.service.CreateCart(r.Context(), req)
	a.respond(w, r, http.StatusCreated, cart, err)
}

func (a *API) handleGetCart(w http.ResponseWriter, r *http.Request) {
	cart, err := a.service.GetCart(r.Context(), r.PathValue("id"))
	a.respond(w, r, http.StatusOK, cart, err)
}

func (a *API) handleDeleteCart(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteCart(r.Context(), r.PathValue("id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAddCartItem(w http.ResponseWriter, r *http.Request) {
	var req domain.AddCartItemRequest
	if !a.decode(w, r, &req) {
		return
	}
	cart, err := a.service.AddItem(r.Context(), r.PathValue("id"), req)
	a.respond(w, r, http.StatusOK, cart, err)
}

type scanRequest struct {
	Barcode  string `json:"barcode" validate:"required"`
	Quantity int    `json:"quantity" validate:"omitempty,gt=0"`
}

func (a *API) handleScanCartItem(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	cart, err := a.service.AddItemByBarcode(r.Context(), r.PathValue("id"), req.Barcode, req.Quantity)
	a.respond(w, r, http.StatusOK, cart, err)
}

func (a *API) handleUpdateCartItem(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateCartItemRequest
	if !a.decode(w, r, &req) {
		return
	}
	cart, err := a.service.UpdateItem(r.Context(), r.PathValue("id"), r.PathValue("itemID"), req.Quantity)
	a.respond(w, r, http.StatusOK, cart, err)
}

func (a *API) handleRemoveCartItem(w http.ResponseWriter, r *http.Request) {
	cart, err := a.service.RemoveItem(r.Context(), r.PathValue("id"), r.PathValue("itemID"))
	a.respond(w, r, http.StatusOK, cart, err)
}

func (a *API) handleApplyDiscount(w http.ResponseWriter, r *http.Request) {
	var req domain.ApplyDiscountRequest
	if !a.decode(w, r, &req) {
		return
	}
	cart, err := a.service.ApplyDiscount(r.Context(), r.PathValue("id"), req.Code)
	a.respond(w, r, http.StatusOK, cart, err)
}

func (a *API) handleRemoveDiscount(w http.ResponseWriter, r *http.Request) {
	cart, err := a.service.RemoveDiscount(r.Context(), r.PathValue("id"))
	a.respond(w, r, http.StatusOK, cart, err)
}

func (a *API) handleClearCart(w http.ResponseWriter, r *http.Request) {
	cart, err := a.service.ClearCart(r.Context(), r.PathValue("id"))
	a.respond(w, r, http.StatusOK, cart, err)
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckoutRequest
	if !a.decode(w, r, &req) {
		return
	}
	order, err := a.service.Checkout(r.Context(), req)
	a.respond(w, r, http.StatusCreated, order, err)
}

func (a *API) handleHold(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckoutRequest
	if !a.decode(w, r, &req) {
		return
	}
	order, err := a.service.Hold(r.Context(), req)
	a.respond(w, r, http.StatusCreated, order, err)
}

func (a *API) handleHeldOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := a.service.ListHeldOrders(r.Context(), r.URL.Query().Get("store_id"))
	a.respond(w, r, http.StatusOK, orders, err)
}

func (a *API) handleResume(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.Resume(r.Context(), r.PathValue("id"))
	a.respond(w, r, http.StatusOK, resp, err)
}

func (a *API) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.CancelOrderRequest
	if !a.decode(w, r, &req) {
		return
	}
	if !a.checkManagerPIN(w, r, "cancel", req.ManagerPIN) {
		return
	}
	order, err := a.service.CancelOrder(r.Context(), r.PathValue("id"), req.Reason)
	a.respond(w, r, http.StatusOK, order, err)
}

func (a *API) handleReturn(w http.ResponseWriter, r *http.Request) {
	var req domain.ReturnRequest
	if !a.decode(w, r, &req) {
		return
	}
	if !a.checkManagerPIN(w, r, "return", req.ManagerPIN) {
		return
	}
	order, err := a.service.ProcessReturn(r.Context(), req)
	a.respond(w, r, http.StatusCreated, order, err)
}

func (a *API) handleListOrders(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	from, to, err := queryRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	orders, err := a.service.ListOrders(r.Context(), domain.OrderFilter{
		StoreID:    query.Get("store_id"),
		CustomerID: query.Get("customer_id"),
		Status:     domain.OrderStatus(strings.ToUpper(query.Get("status"))),
		From:       from,
		To:         to,
		Limit:      parsePositiveLimit(query.Get("limit"), 50, 500),
	})
	a.respond(w, r, http.StatusOK, orders, err)
}

func (a *API) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := a.service.GetOrder(r.Context(), r.PathValue("id"))
	a.respond(w, r, http.StatusOK, order, err)
}

func (a *API) handleOrderByNumber(w http.ResponseWriter, r *http.Request) {
	order, err := a.service.GetOrderByNumber(r.Context(), r.URL.Query().Get("number"))
	a.respond(w, r, http.StatusOK, order, err)
}

func (a *API) handlePayment(w http.ResponseWriter, r *http.Request) {
	var req domain.PaymentRequest
	if !a.decode(w, r, &req) {
		return
	}
	payment, err := a.service.ProcessPayment(r.Context(), r.PathValue("id"), req)
	a.respond(w, r, http.StatusCreated, payment, err)
}

func (a *API) handleSplitPayment(w http.ResponseWriter, r *http.Request) {
	var req domain.SplitPaymentRequest
	if !a.decode(w, r, &req) {
		return
	}
	payments, err := a.service.ProcessSplitPayment(r.Context(), r.PathValue("id"), req)
	a.respond(w, r, http.StatusCreated, payments, err)
}

func (a *API) handlePaymentHistory(w http.ResponseWriter, r *http.Request) {
	payments, err := a.service.GetPaymentHistory(r.Context(), r.PathValue("id"))
	a.respond(w, r, http.StatusOK, payments, err)
}

func (a *API) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req domain.RefundRequest
	if !a.decode(w, r, &req) {
		return
	}
	if !a.checkManagerPIN(w, r, "refund", req.ManagerPIN) {
		return
	}
	refund, err := a.service.ProcessRefund(r.Context(), r.PathValue("id"), req)
	a.respond(w, r, http.StatusCreated, refund, err)
}

func (a *API) handlePaymentBreakdown(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	breakdown, err := a.service.GetPaymentBreakdown(r.Context(), query.Get("store_id"), queryDate(r))
	a.respond(w, r, http.StatusOK, breakdown, err)
}

func (a *API) handlePaymentTotal(w http.ResponseWriter, r *http.Request) {
	from, to, err := queryRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if from.IsZero() || to.IsZero() {
		writeError(w, http.StatusBadRequest, errors.New("from and to are required"))
		return
	}
	storeID := r.URL.Query().Get("store_id")
	total, err := a.service.GetTotalPayments(r.Context(), storeID, from, to)
	a.respond(w, r, http.StatusOK, map[string]any{
		"store_id": storeID,
		"from":     from.Format(time.RFC3339),
		"to":       to.Format(time.RFC3339),
		"total":    total,
	}, err)
}

func (a *API) handleCreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateTransferRequest
	if !a.decode(w, r, &req) {
		return
	}
	transfer, err := a.service.CreateTransfer(r.Context(), req)
	a.respond(w, r, http.StatusCreated, transfer, err)
}

func (a *API) handleListTransfers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	transfers, err := a.service.ListTransfers(r.Context(), domain.TransferFilter{
		StoreID: query.Get("store_id"),
		Status:  domain.TransferStatus(strings.ToUpper(query.Get("status"))),
		Limit:   parsePositiveLimit(query.Get("limit"), 50, 500),
	})
	a.respond(w, r, http.StatusOK, transfers, err)
}

func (a *API) handleGetTransfer(w http.ResponseWriter, r *http.Request) {
	transfer, err := a.service.GetTransfer(r.Context(), r.PathValue("id"))
	a.respond(w, r, http.StatusOK, transfer, err)
}

func (a *API) transferStepHandler(step func(ctx context.Context, id string) (domain.StockTransfer, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		transfer, err := step(r.Context(), r.PathValue("id"))
		a.respond(w, r, http.StatusOK, transfer, err)
	}
}

func (a *API) handleReceiveTransfer(w http.ResponseWriter, r *http.Request) {
	var req domain.ReceiveTransferRequest
	if !a.decode(w, r, &req) {
		return
	}
	transfer, err := a.service.ReceiveTransfer(r.Context(), r.PathValue("id"), req)
	a.respond(w, r, http.StatusOK, transfer, err)
}

func (a *API) handleCancelTransfer(w http.ResponseWriter, r *http.Request) {
	var req domain.CancelTransferRequest
	if !a.decode(w, r, &req) {
		return
	}
	transfer, err := a.service.CancelTransfer(r.Context(), r.PathValue("id"), req.Reason)
	a.respond(w, r, http.StatusOK, transfer, err)
}

func (a *API) handleStartShift(w http.ResponseWriter, r *http.Request) {
	var req domain.StartShiftRequest
	if !a.decode(w, r, &req) {
		return
	}
	shift, err := a.service.StartShift(r.Context(), req)
	a.respond(w, r, http.StatusCreated, shift, err)
}

func (a *API) handleEndShift(w http.ResponseWriter, r *http.Request) {
	var req domain.EndShiftRequest
	if !a.decode(w, r, &req) {
		return
	}
	shift, err := a.service.EndShift(r.Context(), r.PathValue("id"), req)
	a.respond(w, r, http.StatusOK, shift, err)
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (a *API) handleCancelShift(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !a.decode(w, r, &req) {
		return
	}
	shift, err := a.service.CancelShift(r.Context(), r.PathValue("id"), req.Reason)
	a.respond(w, r, http.StatusOK, shift, err)
}

func (a *API) handleGetShift(w http.ResponseWriter, r *http.Request) {
	shift, err := a.service.GetShift(r.Context(), r.PathValue("id"))
	a.respond(w, r, http.StatusOK, shift, err)
}

func (a *API) handleActiveShifts(w http.ResponseWriter, r *http.Request) {
	shifts, err := a.service.ActiveShifts(r.Context(), r.URL.Query().Get("store_id"))
	a.respond(w, r, http.StatusOK, shifts, err)
}

func (a *API) handleShiftsByDate(w http.ResponseWriter, r *http.Request) {
	shifts, err := a.service.ShiftsByDate(r.Context(), r.URL.Query().Get("store_id"), queryDate(r))
	a.respond(w, r, http.StatusOK, shifts, err)
}

func (a *API) handleStartDay(w http.ResponseWriter, r *http.Request) {
	var req domain.StartDayRequest
	if !a.decode(w, r, &req) {
		return
	}
	day, err := a.service.StartNewDay(r.Context(), req)
	a.respond(w, r, http.StatusCreated, day, err)
}

func (a *API) handleEndDay(w http.ResponseWriter, r *http.Request) {
	var req domain.EndDayRequest
	if !a.decode(w, r, &req) {
		return
	}
	if !a.checkManagerPIN(w, r, "end-day", req.ManagerPIN) {
		return
	}
	day, err := a.service.EndDay(r.Context(), req)
	a.respond(w, r, http.StatusOK, day, err)
}

func (a *API) handleGetDay(w http.ResponseWriter, r *http.Request) {
	day, err := a.service.GetBusinessDay(r.Context(), r.URL.Query().Get("store_id"), r.PathValue("date"))
	a.respond(w, r, http.StatusOK, day, err)
}

func (a *API) handleCreateSwap(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSwapRequest
	if !a.decode(w, r, &req) {
		return
	}
	swap, err := a.service.CreateShiftSwap(r.Context(), req)
	a.respond(w, r, http.StatusCreated, swap, err)
}

func (a *API) handleListSwaps(w http.ResponseWriter, r *http.Request) {
	swaps, err := a.service.ListSwapsByStore(r.Context(), r.URL.Query().Get("store_id"))
	a.respond(w, r, http.StatusOK, swaps, err)
}

func (a *API) handlePendingSwaps(w http.ResponseWriter, r *http.Request) {
	swaps, err := a.service.ListPendingSwaps(r.Context(), r.URL.Query().Get("user_id"))
	a.respond(w, r, http.StatusOK, swaps, err)
}

func (a *API) swapStepHandler(step func(ctx context.Context, id string) (domain.ShiftSwap, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		swap, err := step(r.Context(), r.PathValue("id"))
		a.respond(w, r, http.StatusOK, swap, err)
	}
}

func (a *API) handleApproveSwap(w http.ResponseWriter, r *http.Request) {
	var req domain.SwapDecisionRequest
	if !a.decodeOptional(w, r, &req) {
		return
	}
	swap, err := a.service.ManagerApproveShiftSwap(r.Context(), r.PathValue("id"), req)
	a.respond(w, r, http.StatusOK, swap, err)
}

func (a *API) handleRejectSwap(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !a.decode(w, r, &req) {
		return
	}
	swap, err := a.service.RejectShiftSwap(r.Context(), r.PathValue("id"), req.Reason)
	a.respond(w, r, http.StatusOK, swap, err)
}

func (a *API) handleSessionLogin(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginEventRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.service.RecordLogin(r.Context(), req); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSessionLogout(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginEventRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.service.RecordLogout(r.Context(), req); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLoginHistory defaults to the caller's own history. Only managers may
// read another user's.
func (a *API) handleLoginHistory(w http.ResponseWriter, r *http.Request) {
	actor, _ := service.ActorFromContext(r.Context())
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		userID = actor.UserID
	}
	if userID != actor.UserID && !actor.IsManager() {
		writeError(w, http.StatusForbidden, domain.ErrForbidden)
		return
	}
	events, err := a.service.LoginHistory(r.Context(), userID, queryDate(r))
	a.respond(w, r, http.StatusOK, events, err)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	logs, err := a.service.ListAuditLogs(r.Context(), query.Get("store_id"), query.Get("date"), parsePositiveLimit(query.Get("limit"), 100, 500))
	a.respond(w, r, http.StatusOK, logs, err)
}

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
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		a.metrics.ObserveHTTP(r.Method, route, rec.status, startedAt)
		a.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(startedAt)),
		)
	})
}

// decode reads a JSON body into dest and runs struct validation, answering 400
// on any failure.
func (a *API) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := decodeJSON(r, dest); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	if err := a.validate.Struct(dest); err != nil {
		writeError(w, http.StatusBadRequest, validationError(err))
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func (a *API) decodeOptional(w http.ResponseWriter, r *http.Request, dest any) bool {
	if r.ContentLength == 0 {
		return true
	}
	return a.decode(w, r, dest)
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", domain.ErrInvalidRequest, strings.Join(parts, "; "))
}

func (a *API) respond(w http.ResponseWriter, r *http.Request, status int, payload any, err error) {
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, status, payload)
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	a.writeFailure(w, r, statusFor(err), err)
}

func (a *API) writeFailure(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= 500 {
		a.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	writeError(w, status, err)
}

// statusFor maps the domain error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case domain.IsStorage(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidOrderState),
		errors.Is(err, domain.ErrInvalidTransferState),
		errors.Is(err, domain.ErrInvalidSwapState),
		errors.Is(err, domain.ErrInvalidPaymentState),
		errors.Is(err, domain.ErrShiftNotActive),
		errors.Is(err, domain.ErrActiveShiftExists),
		errors.Is(err, domain.ErrActiveShiftsPresent):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrInsufficientAvailable),
		errors.Is(err, domain.ErrInsufficientInventory),
		errors.Is(err, domain.ErrOverRelease),
		errors.Is(err, domain.ErrOverpaymentRejected),
		errors.Is(err, domain.ErrSplitMismatch),
		errors.Is(err, domain.ErrReturnExceedsPurchase),
		errors.Is(err, domain.ErrOverReceipt),
		errors.Is(err, domain.ErrRefundExceedsPayment),
		errors.Is(err, domain.ErrDiscountExhausted),
		errors.Is(err, domain.ErrDiscountNotApplicable),
		errors.Is(err, domain.ErrSameLocationTransfer),
		errors.Is(err, domain.ErrCheckoutFailed):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func queryLocation(r *http.Request) domain.LocationRef {
	query := r.URL.Query()
	return domain.LocationRef{
		StoreID:     strings.TrimSpace(query.Get("store_id")),
		WarehouseID: strings.TrimSpace(query.Get("warehouse_id")),
	}
}

// queryDate returns the date query parameter, defaulting to today in UTC.
func queryDate(r *http.Request) string {
	if date := strings.TrimSpace(r.URL.Query().Get("date")); date != "" {
		return date
	}
	return time.Now().UTC().Format(dateLayout)
}

// queryRange parses from/to as RFC3339 timestamps or plain dates. A plain
// "to" date covers that whole day.
func queryRange(r *http.Request) (time.Time, time.Time, error) {
	query := r.URL.Query()
	from, err := parseInstant(query.Get("from"), false)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid from: %w", err)
	}
	to, err := parseInstant(query.Get("to"), true)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid to: %w", err)
	}
	return from, to, nil
}

func parseInstant(raw string, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC(), nil
	}
	day, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		day = day.Add(24 * time.Hour)
	}
	return day, nil
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

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; the cause is logged by the caller.
	msg := err.Error()
	if status >= 500 {
		msg = http.StatusText(status)
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
