package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailerp/backend/internal/domain"
	"retailerp/backend/internal/events"
)

func TestCheckoutIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "prod-a", floor, 10)
	f.stock(t, "prod-b", floor, 3)
	cart := f.putCart(t, map[string]int{"prod-a": 5, "prod-b": 5})

	_, err := f.svc.Checkout(f.cashier, domain.CheckoutRequest{CartID: cart.ID})
	require.ErrorIs(t, err, domain.ErrCheckoutFailed)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	assert.Equal(t, 10, f.record(t, "prod-a", floor).CurrentQuantity)
	assert.Equal(t, 3, f.record(t, "prod-b", floor).CurrentQuantity)

	orders, err := f.svc.ListOrders(context.Background(), domain.OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, orders)

	_, err = f.svc.GetCart(context.Background(), cart.ID)
	require.NoError(t, err, "a failed checkout keeps the cart")

	movements, err := f.svc.ListMovements(context.Background(), domain.MovementFilter{ProductID: "prod-a"})
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, domain.MovementCredit, movements[0].Kind)
}

func TestCheckoutDeductsStockAndDeletesCart(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "prod-a", floor, 10)
	f.stock(t, "prod-b", floor, 10)
	cart := f.putCart(t, map[string]int{"prod-a": 2, "prod-b": 3})

	order, err := f.svc.Checkout(f.cashier, domain.CheckoutRequest{CartID: cart.ID, CustomerID: "cust-9", Notes: " walk-in "})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCompleted, order.Status)
	assert.Equal(t, domain.PaymentStatusPending, order.PaymentStatus)
	assert.True(t, strings.HasPrefix(order.OrderNumber, "SO-STORE-1-"), order.OrderNumber)
	assert.True(t, order.Total.Equal(dec("35")))
	assert.Equal(t, "cust-9", order.CustomerID)
	assert.Equal(t, "walk-in", order.Notes)

	assert.Equal(t, 8, f.record(t, "prod-a", floor).CurrentQuantity)
	assert.Equal(t, 7, f.record(t, "prod-b", floor).CurrentQuantity)

	_, err = f.svc.GetCart(context.Background(), cart.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	byNumber, err := f.svc.GetOrderByNumber(context.Background(), strings.ToLower(order.OrderNumber))
	require.NoError(t, err)
	assert.Equal(t, order.ID, byNumber.ID)
	assert.Len(t, byNumber.Items, 2)

	assert.Contains(t, f.publisher.types(), events.TypeOrderCompleted)
}

func TestCheckoutEmptyCartRejected(t *testing.T) {
	f := newFixture(t)
	cart, err := f.svc.CreateCart(f.cashier, domain.CreateCartRequest{})
	require.NoError(t, err)

	_, err = f.svc.Checkout(f.cashier, domain.CheckoutRequest{CartID: cart.ID})
	require.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = f.svc.Checkout(f.cashier, domain.CheckoutRequest{CartID: "cart-missing"})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCheckoutDiscountUsageCap(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "prod-a", floor, 10)
	maxUses := 1
	f.repo.AddDiscount(domain.Discount{ID: "disc-once", Code: "ONCE", Type: domain.DiscountFixedAmount, Value: dec("2"), MaxUsageCount: &maxUses, Active: true})

	first, err := f.svc.CreateCart(f.cashier, domain.CreateCartRequest{})
	require.NoError(t, err)
	second, err := f.svc.CreateCart(f.cashier, domain.CreateCartRequest{})
	require.NoError(t, err)
	for _, id := range []string{first.ID, second.ID} {
		_, err = f.svc.AddItem(f.cashier, id, domain.AddCartItemRequest{ProductID: "prod-a", Quantity: 1})
		require.NoError(t, err)
		_, err = f.svc.ApplyDiscount(f.cashier, id, "ONCE")
		require.NoError(t, err)
	}

	order, err := f.svc.Checkout(f.cashier, domain.CheckoutRequest{CartID: first.ID})
	require.NoError(t, err)
	assert.True(t, order.Total.Equal(dec("8")))
	assert.Equal(t, "ONCE", order.DiscountCode)

	_, err = f.svc.Checkout(f.cashier, domain.CheckoutRequest{CartID: second.ID})
	require.ErrorIs(t, err, domain.ErrCheckoutFailed)
	require.ErrorIs(t, err, domain.ErrDiscountExhausted)
	assert.Equal(t, 9, f.record(t, "prod-a", floor).CurrentQuantity)
}

func TestCancelOrderRestoresStockExactly(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "prod-a", floor, 10)
	f.stock(t, "prod-b", floor, 6)
	order := f.checkout(t, map[string]int{"prod-a": 4, "prod-b": 6})
	assert.Equal(t, 0, f.record(t, "prod-b", floor).CurrentQuantity)

	_, err := f.svc.CancelOrder(f.manager, order.ID, "")
	require.ErrorIs(t, err, domain.ErrInvalidRequest)

	cancelled, err := f.svc.CancelOrder(f.manager, order.ID, "customer changed mind")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	assert.Equal(t, 10, f.record(t, "prod-a", floor).CurrentQuantity)
	assert.Equal(t, 6, f.record(t, "prod-b", floor).CurrentQuantity)

	_, err = f.svc.CancelOrder(f.manager, order.ID, "again")
	require.ErrorIs(t, err, domain.ErrInvalidOrderState)
	assert.Equal(t, 10, f.record(t, "prod-a", floor).CurrentQuantity)
}

func TestCancelAfterReturnCreditsOnlyUnreturnedUnits(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "prod-a", floor, 10)
	f.stock(t, "prod-b", floor, 10)
	order := f.checkout(t, map[string]int{"prod-a": 3, "prod-b": 4})

	_, err := f.svc.ProcessReturn(f.manager, domain.ReturnRequest{
		OriginalOrderID: order.ID,
		Items:           []domain.ReturnItemRequest{{ProductID: "prod-a", Quantity: 3}, {ProductID: "prod-b", Quantity: 1}},
		Reason:          "wrong size",
	})
	require.NoError(t, err)
	assert.Equal(t, 10, f.record(t, "prod-a", floor).CurrentQuantity)
	assert.Equal(t, 7, f.record(t, "prod-b", floor).CurrentQuantity)

	_, err = f.svc.CancelOrder(f.manager, order.ID, "voided after return")
	require.NoError(t, err)
	assert.Equal(t, 10, f.record(t, "prod-a", floor).CurrentQuantity)
	assert.Equal(t, 10, f.record(t, "prod-b", floor).CurrentQuantity)

	movements, err := f.svc.ListMovements(context.Background(), domain.MovementFilter{ProductID: "prod-a"})
	require.NoError(t, err)
	for _, movement := range movements {
		assert.NotEqual(t, "cancel", movement.Reason, "fully returned line must not be credited again")
	}
}

func TestCancelReturnOrderRejected(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "prod-a", floor, 10)
	order := f.checkout(t, map[string]int{"prod-a": 2})
	ret, err := f.svc.ProcessReturn(f.manager, domain.ReturnRequest{
		OriginalOrderID: order.ID,
		Items:           []domain.ReturnItemRequest{{ProductID: "prod-a", Quantity: 2}},
		Reason:          "unopened",
	})
	require.NoError(t, err)

	_, err = f.svc.CancelOrder(f.manager, ret.ID, "undo return")
	require.ErrorIs(t, err, domain.ErrInvalidOrderState)
	assert.Equal(t, 10, f.record(t, "prod-a", floor).CurrentQuantity)
}

func TestCheckoutPricesWithCurrentDiscountTerms(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "prod-a", floor, 10)
	f.repo.AddDiscount(domain.Discount{ID: "disc-flex", Code: "FLEX", Type: domain.DiscountFixedAmount, Value: dec("2"), Active: true})

	cart, err := f.svc.CreateCart(f.cashier, domain.CreateCartRequest{})
	require.NoError(t, err)
	_, err = f.svc.AddItem(f.cashier, cart.ID, domain.AddCartItemRequest{ProductID: "prod-a", Quantity: 1})
	require.NoError(t, err)
	applied, err := f.svc.ApplyDiscount(f.cashier, cart.ID, "FLEX")
	require.NoError(t, err)
	assert.True(t, applied.Total.Equal(dec("8")))

	f.repo.AddDiscount(domain.Discount{ID: "disc-flex", Code: "FLEX", Type: domain.DiscountFixedAmount, Value: dec("3"), Active: true})

	order, err := f.svc.Checkout(f.cashier, domain.CheckoutRequest{CartID: cart.ID})
	require.NoError(t, err)
	assert.True(t, order.DiscountAmount.Equal(dec("3")), order.DiscountAmount.String())
	assert.True(t, order.Total.Equal(dec("7")), order.Total.String())
}

func TestConcurrentCheckoutOfOneCartSellsOnce(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "prod-a", floor, 10)
	cart := f.putCart(t, map[string]int{"prod-a": 2})

	var wg sync.WaitGroup
	results := make([]error, 6)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, results[i] = f.svc.Checkout(f.cashier, domain.CheckoutRequest{CartID: cart.ID})
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, domain.ErrNotFound)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 8, f.record(t, "prod-a", floor).CurrentQuantity)

	orders, err := f.svc.ListOrders(context.Background(), domain.OrderFilter{})
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestHoldAndResume(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "prod-a", floor, 10)
	f.repo.AddDiscount(domain.Discount{ID: "disc-two", Code: "TWO", Type: domain.DiscountFixedAmount, Value: dec("2"), Active: true})

	cart, err := f.svc.CreateCart(f.cashier, domain.CreateCartRequest{})
	require.NoError(t, err)
	_, err = f.svc.AddItem(f.cashier, cart.ID, domain.AddCartItemRequest{ProductID: "prod-a", Quantity: 3})
	require.NoError(t, err)
	_, err = f.svc.ApplyDiscount(f.cashier, cart.ID, "TWO")
	require.NoError(t, err)

	held, err := f.svc.Hold(f.cashier, domain.CheckoutRequest{CartID: cart.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusHeld, held.Status)
	assert.Equal(t, 7, f.record(t, "prod-a", floor).CurrentQuantity)

	discount, err := f.repo.GetDiscountByCode(context.Background(), "TWO")
	require.NoError(t, err)
	assert.Equal(t, 1, discount.CurrentUsageCount)

	list, err := f.svc.ListHeldOrders(context.Background(), testStore)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = f.svc.ProcessPayment(f.cashier, held.ID, domain.PaymentRequest{Type: domain.PaymentCash, Amount: dec("1")})
	require.ErrorIs(t, err, domain.ErrInvalidOrderState)

	resumed, err := f.svc.Resume(f.cashier, held.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, resumed.Order.Status)
	assert.Equal(t, 3, resumed.Cart.QuantityOf("prod-a"))
	assert.True(t, resumed.Cart.Total.Equal(held.Total), resumed.Cart.Total.String())
	assert.Equal(t, 10, f.record(t, "prod-a", floor).CurrentQuantity)

	discount, err = f.repo.GetDiscountByCode(context.Background(), "TWO")
	require.NoError(t, err)
	assert.Equal(t, 0, discount.CurrentUsageCount)

	stored, err := f.svc.GetCart(context.Background(), resumed.Cart.ID)
	require.NoError(t, err)
	assert.Equal(t, held.CashierID, stored.CashierID)

	_, err = f.svc.Resume(f.cashier, held.ID)
	require.ErrorIs(t, err, domain.ErrInvalidOrderState)

	completed := f.checkout(t, map[string]int{"prod-a": 1})
	_, err = f.svc.Resume(f.cashier, completed.ID)
	require.ErrorIs(t, err, domain.ErrInvalidOrderState)
}

func TestProcessReturnAccumulatesLimits(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "prod-a", floor, 10)
	f.stock(t, "prod-b", floor, 10)
	order := f.checkout(t, map[string]int{"prod-a": 3, "prod-b": 2})

	ret, err := f.svc.ProcessReturn(f.manager, domain.ReturnRequest{
		OriginalOrderID: order.ID,
		Items:           []domain.ReturnItemRequest{{ProductID: "prod-a", Quantity: 2}},
		Reason:          "damaged box",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusReturned, ret.Status)
	assert.Equal(t, domain.PaymentStatusRefunded, ret.PaymentStatus)
	assert.Equal(t, order.ID, ret.OriginalOrderID)
	require.Len(t, ret.Items, 1)
	assert.Equal(t, -2, ret.Items[0].Quantity)
	assert.True(t, ret.Total.Equal(dec("-20")), ret.Total.String())
	assert.True(t, ret.Subtotal.Equal(dec("-20")))
	assert.Equal(t, 9, f.record(t, "prod-a", floor).CurrentQuantity)

	_, err = f.svc.ProcessReturn(f.manager, domain.ReturnRequest{
		OriginalOrderID: order.ID,
		Items:           []domain.ReturnItemRequest{{ProductID: "prod-a", Quantity: 2}},
		Reason:          "again",
	})
	require.ErrorIs(t, err, domain.ErrReturnExceedsPurchase)
	assert.Equal(t, 9, f.record(t, "prod-a", floor).CurrentQuantity)

	_, err = f.svc.ProcessReturn(f.manager, domain.ReturnRequest{
		OriginalOrderID: order.ID,
		Items:           []domain.ReturnItemRequest{{ProductID: "prod-a", Quantity: 1}, {ProductID: "prod-b", Quantity: 2}},
		Reason:          "rest",
	})
	require.NoError(t, err)
	assert.Equal(t, 10, f.record(t, "prod-a", floor).CurrentQuantity)
	assert.Equal(t, 10, f.record(t, "prod-b", floor).CurrentQuantity)

	_, err = f.svc.ProcessReturn(f.manager, domain.ReturnRequest{
		OriginalOrderID: order.ID,
		Items:           []domain.ReturnItemRequest{{ProductID: "prod-off", Quantity: 1}},
		Reason:          "not bought",
	})
	require.ErrorIs(t, err, domain.ErrReturnExceedsPurchase)

	_, err = f.svc.ProcessReturn(f.manager, domain.ReturnRequest{
		OriginalOrderID: ret.ID,
		Items:           []domain.ReturnItemRequest{{ProductID: "prod-a", Quantity: 1}},
		Reason:          "return of a return",
	})
	require.ErrorIs(t, err, domain.ErrInvalidOrderState)
}

func TestReturnSharesOrderDiscount(t *testing.T) {
	original := domain.SalesOrder{
		ID:             "ord-1",
		StoreID:        testStore,
		Subtotal:       dec("100"),
		DiscountAmount: dec("10"),
		Items: []domain.SalesOrderItem{
			{ProductID: "prod-a", SKU: "SKU-A", Quantity: 10, UnitPrice: dec("10"), TaxRate: dec("0.15"), TaxAmount: dec("15")},
		},
	}

	ret := buildReturnOrder(original, map[string]int{"prod-a": 4}, "ord-2", "SO-X", original.OrderDate)
	assert.True(t, ret.Subtotal.Equal(dec("-40")))
	assert.True(t, ret.TaxAmount.Equal(dec("-6")))
	assert.True(t, ret.DiscountAmount.Equal(dec("-4")))
	assert.True(t, ret.Total.Equal(dec("-42")), ret.Total.String())
}
