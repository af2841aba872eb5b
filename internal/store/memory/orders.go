package memory

import (
	"context"
	"fmt"
	"slices"

	"retailerp/backend/internal/domain"
)

func cloneOrder(src domain.SalesOrder) domain.SalesOrder {
	dst := src
	dst.Items = slices.Clone(src.Items)
	dst.Payments = nil
	return dst
}

func (s *Store) CreateOrder(ctx context.Context, order domain.SalesOrder) error {
	defer s.wlock(ctx)()

	if order.ID == "" || order.OrderNumber == "" {
		return domain.Invalidf("order id and number are required")
	}
	if _, exists := s.orders[order.ID]; exists {
		return domain.Invalidf("order %s already exists", order.ID)
	}
	if _, exists := s.ordersByNumber[order.OrderNumber]; exists {
		return domain.Invalidf("order number %s already exists", order.OrderNumber)
	}
	remember(ctx, s.orders, order.ID)
	remember(ctx, s.ordersByNumber, order.OrderNumber)
	s.orders[order.ID] = cloneOrder(order)
	s.ordersByNumber[order.OrderNumber] = order.ID
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.SalesOrder, error) {
	defer s.rlock(ctx)()

	order, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
	}
	order = cloneOrder(order)
	return &order, nil
}

func (s *Store) GetOrderByNumber(ctx context.Context, number string) (*domain.SalesOrder, error) {
	defer s.rlock(ctx)()

	id, ok := s.ordersByNumber[number]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, number)
	}
	order := cloneOrder(s.orders[id])
	return &order, nil
}

func (s *Store) LockOrder(ctx context.Context, id string) (*domain.SalesOrder, error) {
	return s.GetOrder(ctx, id)
}

// UpdateOrder rewrites the order header. Lines are immutable after creation.
func (s *Store) UpdateOrder(ctx context.Context, order domain.SalesOrder) error {
	defer s.wlock(ctx)()

	existing, ok := s.orders[order.ID]
	if !ok {
		return fmt.Errorf("%w: order %s", domain.ErrNotFound, order.ID)
	}
	updated := cloneOrder(order)
	updated.Items = existing.Items
	remember(ctx, s.orders, order.ID)
	s.orders[order.ID] = updated
	return nil
}

func (s *Store) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.SalesOrder, error) {
	defer s.rlock(ctx)()

	result := make([]domain.SalesOrder, 0, 32)
	for _, order := range s.orders {
		if filter.StoreID != "" && order.StoreID != filter.StoreID {
			continue
		}
		if filter.CustomerID != "" && order.CustomerID != filter.CustomerID {
			continue
		}
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		if !inWindow(order.OrderDate, filter.From, filter.To) {
			continue
		}
		result = append(result, cloneOrder(order))
	}
	slices.SortFunc(result, func(a, b domain.SalesOrder) int {
		if c := newestFirst(a.OrderDate, b.OrderDate); c != 0 {
			return c
		}
		return cmpString(b.OrderNumber, a.OrderNumber)
	})
	return truncate(result, filter.Limit), nil
}

// ReturnedQuantities sums, per product, the units already returned against an
// order. Return lines carry negative quantities.
func (s *Store) ReturnedQuantities(ctx context.Context, originalOrderID string) (map[string]int, error) {
	defer s.rlock(ctx)()

	returned := make(map[string]int)
	for _, order := range s.orders {
		if order.OriginalOrderID != originalOrderID || order.Status != domain.OrderStatusReturned {
			continue
		}
		for _, item := range order.Items {
			returned[item.ProductID] += -item.Quantity
		}
	}
	return returned, nil
}

func (s *Store) CreatePayment(ctx context.Context, payment domain.Payment) error {
	defer s.wlock(ctx)()

	if payment.ID == "" {
		return domain.Invalidf("payment id is required")
	}
	if _, ok := s.orders[payment.OrderID]; !ok {
		return fmt.Errorf("%w: order %s", domain.ErrNotFound, payment.OrderID)
	}
	if _, exists := s.payments[payment.ID]; exists {
		return domain.Invalidf("payment %s already exists", payment.ID)
	}
	remember(ctx, s.payments, payment.ID)
	s.payments[payment.ID] = payment
	return nil
}

func (s *Store) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	defer s.rlock(ctx)()

	payment, ok := s.payments[id]
	if !ok {
		return nil, fmt.Errorf("%w: payment %s", domain.ErrNotFound, id)
	}
	return &payment, nil
}

func (s *Store) LockPayment(ctx context.Context, id string) (*domain.Payment, error) {
	return s.GetPayment(ctx, id)
}

func (s *Store) UpdatePayment(ctx context.Context, payment domain.Payment) error {
	defer s.wlock(ctx)()

	if _, ok := s.payments[payment.ID]; !ok {
		return fmt.Errorf("%w: payment %s", domain.ErrNotFound, payment.ID)
	}
	remember(ctx, s.payments, payment.ID)
	s.payments[payment.ID] = payment
	return nil
}

func (s *Store) ListPaymentsByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	defer s.rlock(ctx)()

	result := make([]domain.Payment, 0, 4)
	for _, payment := range s.payments {
		if payment.OrderID == orderID {
			result = append(result, payment)
		}
	}
	sortPayments(result)
	return result, nil
}

func (s *Store) ListPayments(ctx context.Context, filter domain.PaymentFilter) ([]domain.Payment, error) {
	defer s.rlock(ctx)()

	result := make([]domain.Payment, 0, 32)
	for _, payment := range s.payments {
		if filter.StoreID != "" && payment.StoreID != filter.StoreID {
			continue
		}
		if filter.CashierID != "" && payment.CashierID != filter.CashierID {
			continue
		}
		if filter.Type != "" && payment.Type != filter.Type {
			continue
		}
		if !inWindow(payment.ProcessedAt, filter.From, filter.To) {
			continue
		}
		result = append(result, payment)
	}
	sortPayments(result)
	return result, nil
}

func sortPayments(list []domain.Payment) {
	slices.SortFunc(list, func(a, b domain.Payment) int {
		if a.ProcessedAt.Equal(b.ProcessedAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.ProcessedAt.Before(b.ProcessedAt) {
			return -1
		}
		return 1
	})
}
