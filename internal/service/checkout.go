package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"retailerp/backend/internal/domain"
	"retailerp/backend/internal/events"
	"retailerp/backend/internal/xid"
)

func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.SalesOrder, error) {
	return s.placeOrder(ctx, req, domain.OrderStatusCompleted)
}

// Hold parks a cart as a HELD order. Stock leaves the shelf exactly as in a
// checkout so the held goods cannot be sold twice.
func (s *Service) Hold(ctx context.Context, req domain.CheckoutRequest) (domain.SalesOrder, error) {
	return s.placeOrder(ctx, req, domain.OrderStatusHeld)
}

func (s *Service) placeOrder(ctx context.Context, req domain.CheckoutRequest, status domain.OrderStatus) (order domain.SalesOrder, err error) {
	operation := "checkout"
	if status == domain.OrderStatusHeld {
		operation = "hold"
	}
	ctx, done := s.begin(ctx, operation, attribute.String("cart_id", req.CartID))
	defer func() { done(err) }()

	// Taking the cart claims it: a concurrent checkout of the same cart sees
	// ErrNotFound instead of selling the lines a second time.
	cart, err := s.carts.Take(ctx, req.CartID)
	if err != nil {
		return domain.SalesOrder{}, err
	}
	if len(cart.Items) == 0 {
		s.restoreCart(ctx, *cart)
		return domain.SalesOrder{}, domain.Invalidf("cart %s is empty", cart.ID)
	}
	cart.Recalculate()

	now := s.now()
	orderID := xid.New("ord")
	orderNumber := xid.OrderNumber(cart.StoreID, now)

	err = s.repo.WithTransaction(ctx, func(ctx context.Context) error {
		if cart.Discount != nil {
			discount, err := s.repo.GetDiscountByCode(ctx, cart.Discount.Code)
			if err != nil {
				return err
			}
			// price with the current discount terms, not the snapshot taken at apply
			cart.SetDiscount(discount)
			if err := discount.CheckApplicable(cart.Subtotal, now); err != nil {
				return err
			}
		}
		order = domain.OrderFromCart(*cart, orderID, orderNumber, status, now)
		order.CustomerID = strings.TrimSpace(req.CustomerID)
		order.Notes = strings.TrimSpace(req.Notes)

		for _, item := range cart.Items {
			if _, err := s.applyLedger(ctx, ledgerOp{
				kind:      domain.MovementDeduct,
				productID: item.ProductID,
				loc:       domain.LocationRef{StoreID: cart.StoreID},
				qty:       item.Quantity,
				reason:    "sale",
				reference: order.OrderNumber,
			}); err != nil {
				return err
			}
		}
		if err := s.repo.CreateOrder(ctx, order); err != nil {
			return err
		}
		if cart.Discount != nil {
			return s.repo.IncrementDiscountUsage(ctx, cart.Discount.ID)
		}
		return nil
	})
	if err != nil {
		s.restoreCart(ctx, *cart)
		return domain.SalesOrder{}, fmt.Errorf("%w: cart %s: %w", domain.ErrCheckoutFailed, cart.ID, err)
	}

	for _, item := range order.Items {
		s.metrics.ObserveMovement(order.StoreID, domain.MovementDeduct, item.Quantity)
	}
	s.metrics.ObserveOrder(order.StoreID, order.Status, order.Total)
	s.logAudit(ctx, order.StoreID, operation, "order", order.ID, fmt.Sprintf("number=%s,total=%s,items=%d", order.OrderNumber, order.Total.StringFixed(2), len(order.Items)))

	eventType := events.TypeOrderCompleted
	if status == domain.OrderStatusHeld {
		eventType = events.TypeOrderHeld
	}
	s.publish(ctx, eventType, order.StoreID, order.ID, map[string]any{
		"order_number": order.OrderNumber,
		"total":        order.Total,
	})
	s.logger.Info("order placed",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("status", string(order.Status)),
		zap.String("total", order.Total.StringFixed(2)),
	)
	return order, nil
}

func (s *Service) restoreCart(ctx context.Context, cart domain.Cart) {
	if err := s.carts.Put(ctx, cart); err != nil {
		s.logger.Warn("restore cart after failed checkout", zap.String("cart_id", cart.ID), zap.Error(err))
	}
}

// Resume turns a HELD order back into a cart: the held order is cancelled,
// its stock credited back and its discount usage released, and a new cart
// carrying the same lines is returned.
func (s *Service) Resume(ctx context.Context, orderID string) (resp domain.ResumeResponse, err error) {
	ctx, done := s.begin(ctx, "resume", attribute.String("order_id", orderID))
	defer func() { done(err) }()

	held, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.ResumeResponse{}, err
	}
	if _, err := domain.OrderMachine.Apply(held.Status, domain.OrderEventResume); err != nil {
		return domain.ResumeResponse{}, err
	}

	now := s.now()
	cart := domain.NewCart(xid.New("cart"), held.StoreID, held.CashierID, now)
	for _, item := range held.Items {
		product := domain.Product{ID: item.ProductID, SKU: item.SKU, Name: item.Name, UnitPrice: item.UnitPrice}
		if _, err := cart.AddProduct(xid.New("item"), product, item.Quantity, item.TaxRate); err != nil {
			return domain.ResumeResponse{}, err
		}
	}
	if held.DiscountCode != "" {
		discount, err := s.repo.GetDiscountByCode(ctx, held.DiscountCode)
		switch {
		case err == nil:
			cart.SetDiscount(discount)
		case !isNotFound(err):
			return domain.ResumeResponse{}, err
		}
	}
	if err := s.carts.Put(ctx, *cart); err != nil {
		return domain.ResumeResponse{}, err
	}

	var order domain.SalesOrder
	err = s.repo.WithTransaction(ctx, func(ctx context.Context) error {
		locked, err := s.repo.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		order = *locked
		next, err := domain.OrderMachine.Apply(order.Status, domain.OrderEventResume)
		if err != nil {
			return err
		}
		if err := s.creditOrderItems(ctx, order, "resume", nil); err != nil {
			return err
		}
		if order.DiscountID != "" {
			if err := s.repo.ReleaseDiscountUsage(ctx, order.DiscountID); err != nil {
				return err
			}
		}
		order.Status = next
		order.CancelReason = "resumed into cart " + cart.ID
		order.CancelledAt = &now
		return s.repo.UpdateOrder(ctx, order)
	})
	if err != nil {
		if delErr := s.carts.Delete(ctx, cart.ID); delErr != nil {
			s.logger.Warn("discard resumed cart failed", zap.String("cart_id", cart.ID), zap.Error(delErr))
		}
		return domain.ResumeResponse{}, err
	}

	s.logAudit(ctx, order.StoreID, "resume", "order", order.ID, "cart="+cart.ID)
	s.publish(ctx, events.TypeOrderCancelled, order.StoreID, order.ID, map[string]any{"resumed_cart_id": cart.ID})
	return domain.ResumeResponse{Order: order, Cart: *cart}, nil
}

func (s *Service) ListHeldOrders(ctx context.Context, storeID string) ([]domain.SalesOrder, error) {
	return s.repo.ListOrders(ctx, domain.OrderFilter{StoreID: s.storeOrDefault(storeID), Status: domain.OrderStatusHeld})
}

func (s *Service) CancelOrder(ctx context.Context, orderID string, reason string) (order domain.SalesOrder, err error) {
	ctx, done := s.begin(ctx, "cancel_order", attribute.String("order_id", orderID))
	defer func() { done(err) }()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.SalesOrder{}, domain.Invalidf("cancel reason is required")
	}

	err = s.repo.WithTransaction(ctx, func(ctx context.Context) error {
		locked, err := s.repo.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		order = *locked
		next, err := domain.OrderMachine.Apply(order.Status, domain.OrderEventCancel)
		if err != nil {
			return err
		}
		returned, err := s.repo.ReturnedQuantities(ctx, order.ID)
		if err != nil {
			return err
		}
		if err := s.creditOrderItems(ctx, order, "cancel", returned); err != nil {
			return err
		}
		now := s.now()
		order.Status = next
		order.CancelReason = reason
		order.CancelledAt = &now
		return s.repo.UpdateOrder(ctx, order)
	})
	if err != nil {
		return domain.SalesOrder{}, err
	}

	s.logAudit(ctx, order.StoreID, "cancel_order", "order", order.ID, "reason="+reason)
	s.publish(ctx, events.TypeOrderCancelled, order.StoreID, order.ID, map[string]any{"reason": reason})
	return order, nil
}

// creditOrderItems puts the order's lines back on the shelf, less the units
// that returns against the order already credited.
func (s *Service) creditOrderItems(ctx context.Context, order domain.SalesOrder, reason string, returned map[string]int) error {
	for _, item := range order.Items {
		qty := item.Quantity
		if already := min(returned[item.ProductID], qty); already > 0 {
			qty -= already
			returned[item.ProductID] -= already
		}
		if qty < 1 {
			continue
		}
		if _, err := s.applyLedger(ctx, ledgerOp{
			kind:      domain.MovementCredit,
			productID: item.ProductID,
			loc:       domain.LocationRef{StoreID: order.StoreID},
			qty:       qty,
			reason:    reason,
			reference: order.OrderNumber,
		}); err != nil {
			return err
		}
	}
	return nil
}

// ProcessReturn books a RETURNED order with negated quantities and amounts
// against a completed order and puts the goods back on the shelf. Returned
// quantities accumulate across every earlier return of the same order.
func (s *Service) ProcessReturn(ctx context.Context, req domain.ReturnRequest) (ret domain.SalesOrder, err error) {
	ctx, done := s.begin(ctx, "return", attribute.String("original_order_id", req.OriginalOrderID))
	defer func() { done(err) }()

	if len(req.Items) == 0 {
		return domain.SalesOrder{}, domain.Invalidf("return needs at least one item")
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return domain.SalesOrder{}, domain.Invalidf("return reason is required")
	}
	requested := make(map[string]int, len(req.Items))
	for _, item := range req.Items {
		if item.Quantity < 1 {
			return domain.SalesOrder{}, domain.Invalidf("return quantity must be greater than 0")
		}
		requested[item.ProductID] += item.Quantity
	}

	err = s.repo.WithTransaction(ctx, func(ctx context.Context) error {
		original, err := s.repo.LockOrder(ctx, req.OriginalOrderID)
		if err != nil {
			return err
		}
		if original.Status != domain.OrderStatusCompleted {
			return fmt.Errorf("%w: order %s is %s, only completed orders accept returns", domain.ErrInvalidOrderState, original.OrderNumber, original.Status)
		}
		returned, err := s.repo.ReturnedQuantities(ctx, original.ID)
		if err != nil {
			return err
		}
		for productID, qty := range requested {
			purchased := original.QuantityOf(productID)
			if returned[productID]+qty > purchased {
				return fmt.Errorf("%w: product %s purchased %d, already returned %d, requested %d", domain.ErrReturnExceedsPurchase, productID, purchased, returned[productID], qty)
			}
		}

		now := s.now()
		ret = buildReturnOrder(*original, requested, xid.New("ord"), xid.OrderNumber(original.StoreID, now), now)
		ret.CashierID = s.actor(ctx).UserID
		ret.Notes = reason

		for _, item := range ret.Items {
			if _, err := s.applyLedger(ctx, ledgerOp{
				kind:      domain.MovementCredit,
				productID: item.ProductID,
				loc:       domain.LocationRef{StoreID: original.StoreID},
				qty:       -item.Quantity,
				reason:    "return",
				reference: ret.OrderNumber,
			}); err != nil {
				return err
			}
		}
		return s.repo.CreateOrder(ctx, ret)
	})
	if err != nil {
		return domain.SalesOrder{}, err
	}

	s.metrics.ObserveOrder(ret.StoreID, ret.Status, ret.Total)
	s.logAudit(ctx, ret.StoreID, "return", "order", ret.ID, fmt.Sprintf("original=%s,total=%s,reason=%s", req.OriginalOrderID, ret.Total.StringFixed(2), reason))
	s.publish(ctx, events.TypeOrderReturned, ret.StoreID, ret.ID, map[string]any{
		"original_order_id": req.OriginalOrderID,
		"total":             ret.Total,
	})
	return ret, nil
}

// buildReturnOrder prices each returned product proportionally to its
// original line, including a proportional share of any order level discount.
func buildReturnOrder(original domain.SalesOrder, requested map[string]int, id string, number string, at time.Time) domain.SalesOrder {
	productIDs := make([]string, 0, len(requested))
	for productID := range requested {
		productIDs = append(productIDs, productID)
	}
	sort.Strings(productIDs)

	lines := make(map[string]domain.SalesOrderItem, len(original.Items))
	for _, item := range original.Items {
		if _, ok := lines[item.ProductID]; !ok {
			lines[item.ProductID] = item
		}
	}

	ret := domain.SalesOrder{
		ID:              id,
		OrderNumber:     number,
		StoreID:         original.StoreID,
		CustomerID:      original.CustomerID,
		OrderDate:       at,
		Status:          domain.OrderStatusReturned,
		PaymentStatus:   domain.PaymentStatusRefunded,
		OriginalOrderID: original.ID,
		Items:           make([]domain.SalesOrderItem, 0, len(productIDs)),
	}

	net := decimal.Zero
	tax := decimal.Zero
	for _, productID := range productIDs {
		qty := requested[productID]
		line := lines[productID]
		ratio := decimal.NewFromInt(int64(qty)).Div(decimal.NewFromInt(int64(line.Quantity)))
		lineDiscount := domain.Money(line.Discount.Mul(ratio))
		lineNet := line.UnitPrice.Mul(decimal.NewFromInt(int64(qty))).Sub(lineDiscount)
		lineTax := domain.Money(line.TaxAmount.Mul(ratio))

		ret.Items = append(ret.Items, domain.SalesOrderItem{
			ID:        xid.New("item"),
			ProductID: productID,
			SKU:       line.SKU,
			Name:      line.Name,
			Quantity:  -qty,
			UnitPrice: line.UnitPrice,
			Discount:  lineDiscount.Neg(),
			TaxRate:   line.TaxRate,
			TaxAmount: lineTax.Neg(),
			Total:     domain.Money(lineNet.Add(lineTax)).Neg(),
		})
		net = net.Add(lineNet)
		tax = tax.Add(lineTax)
	}

	share := decimal.Zero
	if original.DiscountAmount.IsPositive() && original.Subtotal.IsPositive() {
		share = domain.Money(original.DiscountAmount.Mul(net).Div(original.Subtotal))
	}
	total := net.Add(tax).Sub(share)
	if total.IsNegative() {
		total = decimal.Zero
	}
	ret.Subtotal = domain.Money(net).Neg()
	ret.TaxAmount = domain.Money(tax).Neg()
	ret.DiscountAmount = share.Neg()
	ret.Total = domain.Money(total).Neg()
	return ret
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.SalesOrder, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.SalesOrder{}, err
	}
	return s.withPayments(ctx, *order)
}

func (s *Service) GetOrderByNumber(ctx context.Context, number string) (domain.SalesOrder, error) {
	order, err := s.repo.GetOrderByNumber(ctx, strings.ToUpper(strings.TrimSpace(number)))
	if err != nil {
		return domain.SalesOrder{}, err
	}
	return s.withPayments(ctx, *order)
}

func (s *Service) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.SalesOrder, error) {
	filter.StoreID = s.storeOrDefault(filter.StoreID)
	if filter.Limit < 1 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.repo.ListOrders(ctx, filter)
}

func (s *Service) withPayments(ctx context.Context, order domain.SalesOrder) (domain.SalesOrder, error) {
	payments, err := s.repo.ListPaymentsByOrder(ctx, order.ID)
	if err != nil {
		return domain.SalesOrder{}, err
	}
	order.Payments = payments
	return order, nil
}
