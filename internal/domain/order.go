package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusCompleted OrderStatus = "COMPLETED"
	OrderStatusHeld      OrderStatus = "HELD"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusReturned  OrderStatus = "RETURNED"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
)

type SalesOrderItem struct {
	ID        string          `json:"id"`
	ProductID string          `json:"product_id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Discount  decimal.Decimal `json:"discount"`
	TaxRate   decimal.Decimal `json:"tax_rate"`
	TaxAmount decimal.Decimal `json:"tax_amount"`
	Total     decimal.Decimal `json:"total"`
}

type SalesOrder struct {
	ID              string           `json:"id"`
	OrderNumber     string           `json:"order_number"`
	StoreID         string           `json:"store_id"`
	CustomerID      string           `json:"customer_id,omitempty"`
	CashierID       string           `json:"cashier_id"`
	OrderDate       time.Time        `json:"order_date"`
	Subtotal        decimal.Decimal  `json:"subtotal"`
	TaxAmount       decimal.Decimal  `json:"tax_amount"`
	DiscountAmount  decimal.Decimal  `json:"discount_amount"`
	Total           decimal.Decimal  `json:"total"`
	Status          OrderStatus      `json:"status"`
	PaymentStatus   PaymentStatus    `json:"payment_status"`
	DiscountID      string           `json:"discount_id,omitempty"`
	DiscountCode    string           `json:"discount_code,omitempty"`
	OriginalOrderID string           `json:"original_order_id,omitempty"`
	Notes           string           `json:"notes,omitempty"`
	CancelReason    string           `json:"cancel_reason,omitempty"`
	CancelledAt     *time.Time       `json:"cancelled_at,omitempty"`
	Items           []SalesOrderItem `json:"items"`
	Payments        []Payment        `json:"payments,omitempty"`
}

// OrderFromCart copies a recalculated cart into an order with the given status.
func OrderFromCart(cart Cart, id string, number string, status OrderStatus, at time.Time) SalesOrder {
	order := SalesOrder{
		ID:             id,
		OrderNumber:    number,
		StoreID:        cart.StoreID,
		CashierID:      cart.CashierID,
		OrderDate:      at,
		Subtotal:       cart.Subtotal,
		TaxAmount:      cart.TaxAmount,
		DiscountAmount: cart.DiscountAmount,
		Total:          cart.Total,
		Status:         status,
		PaymentStatus:  PaymentStatusPending,
		Items:          make([]SalesOrderItem, 0, len(cart.Items)),
	}
	if cart.Discount != nil {
		order.DiscountID = cart.Discount.ID
		order.DiscountCode = cart.Discount.Code
	}
	for _, item := range cart.Items {
		order.Items = append(order.Items, SalesOrderItem{
			ID:        item.ItemID,
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Discount:  item.Discount,
			TaxRate:   item.TaxRate,
			TaxAmount: item.TaxAmount,
			Total:     item.Total,
		})
	}
	return order
}

// QuantityOf sums the quantity ordered for a product across lines.
func (o SalesOrder) QuantityOf(productID string) int {
	total := 0
	for _, item := range o.Items {
		if item.ProductID == productID {
			total += item.Quantity
		}
	}
	return total
}

// SettlePayments recomputes PaymentStatus from the sum of completed payments.
// A zero sum leaves the status untouched.
func (o *SalesOrder) SettlePayments(completed decimal.Decimal) {
	switch {
	case completed.GreaterThanOrEqual(o.Total) && completed.IsPositive():
		o.PaymentStatus = PaymentStatusCompleted
	case completed.IsPositive():
		o.PaymentStatus = PaymentStatusPending
	}
}

type OrderFilter struct {
	StoreID    string
	CustomerID string
	Status     OrderStatus
	From       time.Time
	To         time.Time
	Limit      int
}

type CheckoutRequest struct {
	CartID     string `json:"cart_id"`
	CustomerID string `json:"customer_id,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

type CancelOrderRequest struct {
	Reason     string `json:"reason" validate:"required"`
	ManagerPIN string `json:"manager_pin" validate:"required"`
}

type ReturnItemRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
}

type ReturnRequest struct {
	OriginalOrderID string              `json:"original_order_id" validate:"required"`
	Items           []ReturnItemRequest `json:"items" validate:"required,min=1,dive"`
	Reason          string              `json:"reason" validate:"required"`
	ManagerPIN      string              `json:"manager_pin,omitempty"`
}

type ResumeResponse struct {
	Order SalesOrder `json:"order"`
	Cart  Cart       `json:"cart"`
}
