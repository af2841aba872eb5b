package postgres

import (
	"context"
	"fmt"
	"strings"

	"retailerp/backend/internal/domain"
)

const orderColumns = `id, order_number, store_id, customer_id, cashier_id, order_date, subtotal, tax_amount, discount_amount, total,
	status, payment_status, discount_id, discount_code, original_order_id, notes, cancel_reason, cancelled_at`

func scanOrder(row interface{ Scan(...any) error }) (domain.SalesOrder, error) {
	var o domain.SalesOrder
	err := row.Scan(&o.ID, &o.OrderNumber, &o.StoreID, &o.CustomerID, &o.CashierID, &o.OrderDate, &o.Subtotal, &o.TaxAmount, &o.DiscountAmount, &o.Total,
		&o.Status, &o.PaymentStatus, &o.DiscountID, &o.DiscountCode, &o.OriginalOrderID, &o.Notes, &o.CancelReason, &o.CancelledAt)
	return o, err
}

func (s *Store) CreateOrder(ctx context.Context, o domain.SalesOrder) error {
	return s.WithTransaction(ctx, func(ctx context.Context) error {
		_, err := s.q(ctx).ExecContext(ctx, `
			INSERT INTO sales_orders (`+orderColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		`, o.ID, o.OrderNumber, o.StoreID, o.CustomerID, o.CashierID, o.OrderDate, o.Subtotal, o.TaxAmount, o.DiscountAmount, o.Total,
			o.Status, o.PaymentStatus, o.DiscountID, o.DiscountCode, o.OriginalOrderID, o.Notes, o.CancelReason, nullTime(o.CancelledAt))
		if err != nil {
			if isUniqueViolation(err) {
				return domain.Invalidf("order %s already exists", o.OrderNumber)
			}
			return domain.NewStorageError("create order", err)
		}
		for i, item := range o.Items {
			_, err := s.q(ctx).ExecContext(ctx, `
				INSERT INTO sales_order_items (order_id, id, line_no, product_id, sku, name, quantity, unit_price, discount, tax_rate, tax_amount, total)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			`, o.ID, item.ID, i, item.ProductID, item.SKU, item.Name, item.Quantity, item.UnitPrice, item.Discount, item.TaxRate, item.TaxAmount, item.Total)
			if err != nil {
				return domain.NewStorageError("create order item", err)
			}
		}
		return nil
	})
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.SalesOrder, error) {
	return s.getOrder(ctx, "id", id, "")
}

func (s *Store) GetOrderByNumber(ctx context.Context, number string) (*domain.SalesOrder, error) {
	return s.getOrder(ctx, "order_number", number, "")
}

func (s *Store) LockOrder(ctx context.Context, id string) (*domain.SalesOrder, error) {
	return s.getOrder(ctx, "id", id, " FOR UPDATE")
}

func (s *Store) getOrder(ctx context.Context, column string, value string, suffix string) (*domain.SalesOrder, error) {
	order, err := scanOrder(s.q(ctx).QueryRowContext(ctx, `SELECT `+orderColumns+` FROM sales_orders WHERE `+column+` = $1`+suffix, value))
	if err != nil {
		return nil, notFound("get order", "order "+value, err)
	}
	items, err := s.orderItems(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return &order, nil
}

func (s *Store) orderItems(ctx context.Context, orderID string) ([]domain.SalesOrderItem, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, product_id, sku, name, quantity, unit_price, discount, tax_rate, tax_amount, total
		FROM sales_order_items
		WHERE order_id = $1
		ORDER BY line_no
	`, orderID)
	if err != nil {
		return nil, domain.NewStorageError("list order items", err)
	}
	defer rows.Close()

	items := make([]domain.SalesOrderItem, 0, 8)
	for rows.Next() {
		var item domain.SalesOrderItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.SKU, &item.Name, &item.Quantity, &item.UnitPrice, &item.Discount, &item.TaxRate, &item.TaxAmount, &item.Total); err != nil {
			return nil, domain.NewStorageError("list order items", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("list order items", err)
	}
	return items, nil
}

func (s *Store) UpdateOrder(ctx context.Context, o domain.SalesOrder) error {
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE sales_orders
		SET status = $2, payment_status = $3, notes = $4, cancel_reason = $5, cancelled_at = $6, customer_id = $7
		WHERE id = $1
	`, o.ID, o.Status, o.PaymentStatus, o.Notes, o.CancelReason, nullTime(o.CancelledAt), o.CustomerID)
	return mustAffect("update order", "order "+o.ID, res, err)
}

func (s *Store) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.SalesOrder, error) {
	where := []string{"true"}
	args := make([]any, 0, 5)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.StoreID != "" {
		add("store_id = $%d", filter.StoreID)
	}
	if filter.CustomerID != "" {
		add("customer_id = $%d", filter.CustomerID)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if !filter.From.IsZero() {
		add("order_date >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("order_date < $%d", filter.To)
	}
	limit := filter.Limit
	if limit < 1 {
		limit = 200
	}
	args = append(args, limit)

	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM sales_orders
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY order_date DESC, order_number DESC
		LIMIT $`+fmt.Sprint(len(args)), args...)
	if err != nil {
		return nil, domain.NewStorageError("list orders", err)
	}
	orders := make([]domain.SalesOrder, 0, 32)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			_ = rows.Close()
			return nil, domain.NewStorageError("list orders", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, domain.NewStorageError("list orders", err)
	}
	_ = rows.Close()

	for i := range orders {
		items, err := s.orderItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

func (s *Store) ReturnedQuantities(ctx context.Context, originalOrderID string) (map[string]int, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT i.product_id, COALESCE(SUM(-i.quantity), 0)
		FROM sales_order_items i
		JOIN sales_orders o ON o.id = i.order_id
		WHERE o.original_order_id = $1 AND o.status = $2
		GROUP BY i.product_id
	`, originalOrderID, domain.OrderStatusReturned)
	if err != nil {
		return nil, domain.NewStorageError("returned quantities", err)
	}
	defer rows.Close()

	returned := make(map[string]int)
	for rows.Next() {
		var productID string
		var qty int
		if err := rows.Scan(&productID, &qty); err != nil {
			return nil, domain.NewStorageError("returned quantities", err)
		}
		returned[productID] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("returned quantities", err)
	}
	return returned, nil
}

const paymentColumns = `id, order_id, store_id, cashier_id, type, amount, transaction_id, status, original_payment_id, notes, processed_at`

func scanPayment(row interface{ Scan(...any) error }) (domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(&p.ID, &p.OrderID, &p.StoreID, &p.CashierID, &p.Type, &p.Amount, &p.TransactionID, &p.Status, &p.OriginalPaymentID, &p.Notes, &p.ProcessedAt)
	return p, err
}

func (s *Store) CreatePayment(ctx context.Context, p domain.Payment) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, p.ID, p.OrderID, p.StoreID, p.CashierID, p.Type, p.Amount, p.TransactionID, p.Status, p.OriginalPaymentID, p.Notes, p.ProcessedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Invalidf("payment %s already exists", p.ID)
		}
		return domain.NewStorageError("create payment", err)
	}
	return nil
}

func (s *Store) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	p, err := scanPayment(s.q(ctx).QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
	if err != nil {
		return nil, notFound("get payment", "payment "+id, err)
	}
	return &p, nil
}

func (s *Store) LockPayment(ctx context.Context, id string) (*domain.Payment, error) {
	p, err := scanPayment(s.q(ctx).QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound("lock payment", "payment "+id, err)
	}
	return &p, nil
}

func (s *Store) UpdatePayment(ctx context.Context, p domain.Payment) error {
	res, err := s.q(ctx).ExecContext(ctx, `UPDATE payments SET status = $2, notes = $3 WHERE id = $1`, p.ID, p.Status, p.Notes)
	return mustAffect("update payment", "payment "+p.ID, res, err)
}

func (s *Store) ListPaymentsByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	return s.listPayments(ctx, `WHERE order_id = $1`, orderID)
}

func (s *Store) ListPayments(ctx context.Context, filter domain.PaymentFilter) ([]domain.Payment, error) {
	where := []string{"true"}
	args := make([]any, 0, 5)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.StoreID != "" {
		add("store_id = $%d", filter.StoreID)
	}
	if filter.CashierID != "" {
		add("cashier_id = $%d", filter.CashierID)
	}
	if filter.Type != "" {
		add("type = $%d", filter.Type)
	}
	if !filter.From.IsZero() {
		add("processed_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("processed_at < $%d", filter.To)
	}
	return s.listPayments(ctx, `WHERE `+strings.Join(where, " AND "), args...)
}

func (s *Store) listPayments(ctx context.Context, where string, args ...any) ([]domain.Payment, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT `+paymentColumns+` FROM payments `+where+` ORDER BY processed_at, id`, args...)
	if err != nil {
		return nil, domain.NewStorageError("list payments", err)
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0, 8)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, domain.NewStorageError("list payments", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("list payments", err)
	}
	return payments, nil
}
