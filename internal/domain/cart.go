package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type CartItem struct {
	ItemID    string          `json:"item_id"`
	ProductID string          `json:"product_id"`
	SKU       string          `json:"sku"`
	Barcode   string          `json:"barcode,omitempty"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Discount  decimal.Decimal `json:"discount"`
	TaxRate   decimal.Decimal `json:"tax_rate"`
	TaxAmount decimal.Decimal `json:"tax_amount"`
	Total     decimal.Decimal `json:"total"`
}

// Net is the line value before tax.
func (i CartItem) Net() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity))).Sub(i.Discount)
}

type Cart struct {
	ID             string          `json:"id"`
	StoreID        string          `json:"store_id"`
	CashierID      string          `json:"cashier_id"`
	Items          []CartItem      `json:"items"`
	Discount       *Discount       `json:"discount,omitempty"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Total          decimal.Decimal `json:"total"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func NewCart(id string, storeID string, cashierID string, now time.Time) *Cart {
	cart := &Cart{
		ID:        id,
		StoreID:   storeID,
		CashierID: cashierID,
		Items:     make([]CartItem, 0, 8),
		CreatedAt: now,
		UpdatedAt: now,
	}
	cart.Recalculate()
	return cart
}

func (c *Cart) QuantityOf(productID string) int {
	total := 0
	for _, item := range c.Items {
		if item.ProductID == productID {
			total += item.Quantity
		}
	}
	return total
}

func (c *Cart) Item(itemID string) (CartItem, bool) {
	for _, item := range c.Items {
		if item.ItemID == itemID {
			return item, true
		}
	}
	return CartItem{}, false
}

// AddProduct merges into an existing line for the same product, otherwise it
// appends a new line with the given item id.
func (c *Cart) AddProduct(itemID string, product Product, qty int, taxRate decimal.Decimal) (CartItem, error) {
	if qty < 1 {
		return CartItem{}, Invalidf("quantity must be greater than 0")
	}
	for i := range c.Items {
		if c.Items[i].ProductID == product.ID {
			c.Items[i].Quantity += qty
			c.Recalculate()
			return c.Items[i], nil
		}
	}
	c.Items = append(c.Items, CartItem{
		ItemID:    itemID,
		ProductID: product.ID,
		SKU:       product.SKU,
		Barcode:   product.Barcode,
		Name:      product.Name,
		Quantity:  qty,
		UnitPrice: product.UnitPrice,
		Discount:  decimal.Zero,
		TaxRate:   taxRate,
	})
	c.Recalculate()
	return c.Items[len(c.Items)-1], nil
}

func (c *Cart) SetQuantity(itemID string, qty int) error {
	if qty < 1 {
		return Invalidf("quantity must be greater than 0")
	}
	for i := range c.Items {
		if c.Items[i].ItemID == itemID {
			c.Items[i].Quantity = qty
			c.Recalculate()
			return nil
		}
	}
	return fmt.Errorf("%w: cart item %s", ErrNotFound, itemID)
}

func (c *Cart) Remove(itemID string) error {
	for i := range c.Items {
		if c.Items[i].ItemID == itemID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			c.Recalculate()
			return nil
		}
	}
	return fmt.Errorf("%w: cart item %s", ErrNotFound, itemID)
}

func (c *Cart) SetDiscount(discount *Discount) {
	c.Discount = discount
	c.Recalculate()
}

func (c *Cart) Clear() {
	c.Items = c.Items[:0]
	c.Discount = nil
	c.Recalculate()
}

// Recalculate derives every line and cart total from the raw lines. Nothing is
// accumulated across calls, so repeated calls always agree.
func (c *Cart) Recalculate() {
	subtotal := decimal.Zero
	tax := decimal.Zero
	for i := range c.Items {
		item := &c.Items[i]
		net := item.Net()
		item.TaxAmount = Money(net.Mul(item.TaxRate))
		item.Total = net.Add(item.TaxAmount)
		subtotal = subtotal.Add(net)
		tax = tax.Add(item.TaxAmount)
	}

	discount := decimal.Zero
	if c.Discount != nil {
		discount = c.Discount.Amount(subtotal)
	}

	total := subtotal.Add(tax).Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	c.Subtotal = Money(subtotal)
	c.TaxAmount = Money(tax)
	c.DiscountAmount = Money(discount)
	c.Total = Money(total)
}

type CreateCartRequest struct {
	StoreID   string `json:"store_id"`
	CashierID string `json:"cashier_id"`
}

type AddCartItemRequest struct {
	ProductID string `json:"product_id" validate:"required_without=Barcode"`
	Barcode   string `json:"barcode,omitempty"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
}

type UpdateCartItemRequest struct {
	Quantity int `json:"quantity" validate:"gt=0"`
}

type ApplyDiscountRequest struct {
	Code string `json:"code" validate:"required"`
}
