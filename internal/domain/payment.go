package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentType string

const (
	PaymentCash         PaymentType = "CASH"
	PaymentCard         PaymentType = "CARD"
	PaymentMobileMoney  PaymentType = "MOBILE_MONEY"
	PaymentBankTransfer PaymentType = "BANK_TRANSFER"
)

func (t PaymentType) Valid() bool {
	switch t {
	case PaymentCash, PaymentCard, PaymentMobileMoney, PaymentBankTransfer:
		return true
	}
	return false
}

type Payment struct {
	ID                string          `json:"id"`
	OrderID           string          `json:"order_id"`
	StoreID           string          `json:"store_id"`
	CashierID         string          `json:"cashier_id"`
	Type              PaymentType     `json:"type"`
	Amount            decimal.Decimal `json:"amount"`
	TransactionID     string          `json:"transaction_id,omitempty"`
	Status            PaymentStatus   `json:"status"`
	OriginalPaymentID string          `json:"original_payment_id,omitempty"`
	Notes             string          `json:"notes,omitempty"`
	ProcessedAt       time.Time       `json:"processed_at"`
}

func (p Payment) IsRefund() bool {
	return p.OriginalPaymentID != ""
}

// CompletedTotal sums the amounts of COMPLETED payments.
func CompletedTotal(payments []Payment) decimal.Decimal {
	total := decimal.Zero
	for _, p := range payments {
		if p.Status == PaymentStatusCompleted {
			total = total.Add(p.Amount)
		}
	}
	return total
}

// RefundedTotal is the magnitude already refunded against one original payment.
func RefundedTotal(payments []Payment, originalID string) decimal.Decimal {
	total := decimal.Zero
	for _, p := range payments {
		if p.OriginalPaymentID == originalID {
			total = total.Add(p.Amount.Abs())
		}
	}
	return total
}

type PaymentFilter struct {
	StoreID   string
	CashierID string
	Type      PaymentType
	From      time.Time
	To        time.Time
}

type PaymentRequest struct {
	Type          PaymentType     `json:"type" validate:"required"`
	Amount        decimal.Decimal `json:"amount"`
	TransactionID string          `json:"transaction_id,omitempty"`
}

type SplitPaymentRequest struct {
	Payments []PaymentRequest `json:"payments" validate:"required,min=1,dive"`
}

type RefundRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	Reason     string          `json:"reason" validate:"required"`
	ManagerPIN string          `json:"manager_pin" validate:"required"`
}

type PaymentBreakdown struct {
	StoreID string                          `json:"store_id"`
	Date    string                          `json:"date"`
	ByType  map[PaymentType]decimal.Decimal `json:"by_type"`
	Total   decimal.Decimal                 `json:"total"`
}
