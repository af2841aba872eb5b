package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountPercentage  DiscountType = "PERCENTAGE"
	DiscountFixedAmount DiscountType = "FIXED_AMOUNT"
)

var hundred = decimal.NewFromInt(100)

type Discount struct {
	ID                string           `json:"id"`
	Code              string           `json:"code"`
	Name              string           `json:"name"`
	Type              DiscountType     `json:"type"`
	Value             decimal.Decimal  `json:"value"`
	MinPurchaseAmount decimal.Decimal  `json:"min_purchase_amount"`
	MaxDiscountAmount *decimal.Decimal `json:"max_discount_amount,omitempty"`
	ValidFrom         *time.Time       `json:"valid_from,omitempty"`
	ValidTo           *time.Time       `json:"valid_to,omitempty"`
	MaxUsageCount     *int             `json:"max_usage_count,omitempty"`
	CurrentUsageCount int              `json:"current_usage_count"`
	Active            bool             `json:"active"`
}

func (d Discount) Exhausted() bool {
	return d.MaxUsageCount != nil && d.CurrentUsageCount >= *d.MaxUsageCount
}

// CheckApplicable validates the discount against a cart subtotal at a point in time.
func (d Discount) CheckApplicable(subtotal decimal.Decimal, now time.Time) error {
	switch {
	case !d.Active:
		return fmt.Errorf("%w: %s is not active", ErrDiscountNotApplicable, d.Code)
	case d.ValidFrom != nil && now.Before(*d.ValidFrom):
		return fmt.Errorf("%w: %s is not yet valid", ErrDiscountNotApplicable, d.Code)
	case d.ValidTo != nil && now.After(*d.ValidTo):
		return fmt.Errorf("%w: %s has expired", ErrDiscountNotApplicable, d.Code)
	case subtotal.LessThan(d.MinPurchaseAmount):
		return fmt.Errorf("%w: minimum purchase %s not met", ErrDiscountNotApplicable, d.MinPurchaseAmount.StringFixed(2))
	case d.Exhausted():
		return fmt.Errorf("%w: %s", ErrDiscountExhausted, d.Code)
	}
	return nil
}

// Amount is the discount granted on a subtotal, capped by the configured
// maximum and by the subtotal itself.
func (d Discount) Amount(subtotal decimal.Decimal) decimal.Decimal {
	amount := decimal.Zero
	switch d.Type {
	case DiscountPercentage:
		amount = Money(subtotal.Mul(d.Value).Div(hundred))
	case DiscountFixedAmount:
		amount = d.Value
	}
	if d.MaxDiscountAmount != nil && amount.GreaterThan(*d.MaxDiscountAmount) {
		amount = *d.MaxDiscountAmount
	}
	if amount.GreaterThan(subtotal) {
		amount = subtotal
	}
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	return amount
}

func (d Discount) Validate() error {
	switch d.Type {
	case DiscountPercentage:
		if d.Value.GreaterThan(hundred) {
			return Invalidf("percentage discount cannot exceed 100")
		}
	case DiscountFixedAmount:
	default:
		return Invalidf("unknown discount type %q", d.Type)
	}
	if !d.Value.IsPositive() {
		return Invalidf("discount value must be greater than zero")
	}
	if d.MinPurchaseAmount.IsNegative() {
		return Invalidf("minimum purchase amount cannot be negative")
	}
	if d.MaxDiscountAmount != nil && !d.MaxDiscountAmount.IsPositive() {
		return Invalidf("maximum discount amount must be greater than zero")
	}
	if d.MaxUsageCount != nil && *d.MaxUsageCount < 1 {
		return Invalidf("maximum usage count must be greater than zero")
	}
	if d.ValidFrom != nil && d.ValidTo != nil && d.ValidFrom.After(*d.ValidTo) {
		return Invalidf("valid from must be before valid to")
	}
	return nil
}
