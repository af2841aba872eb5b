package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"retailerp/backend/internal/domain"
	"retailerp/backend/internal/events"
	"retailerp/backend/internal/xid"
)

func (s *Service) ProcessPayment(ctx context.Context, orderID string, req domain.PaymentRequest) (payment domain.Payment, err error) {
	ctx, done := s.begin(ctx, "payment", attribute.String("order_id", orderID), attribute.String("type", string(req.Type)))
	defer func() { done(err) }()

	if err := validatePaymentPart(req); err != nil {
		return domain.Payment{}, err
	}

	err = s.repo.WithTransaction(ctx, func(ctx context.Context) error {
		order, completed, err := s.lockPayableOrder(ctx, orderID)
		if err != nil {
			return err
		}
		remaining := order.Total.Sub(completed)
		if req.Amount.GreaterThan(remaining) {
			return fmt.Errorf("%w: order %s remaining %s, payment %s", domain.ErrOverpaymentRejected, order.OrderNumber, remaining.StringFixed(2), req.Amount.StringFixed(2))
		}

		payment = s.newPayment(ctx, *order, req)
		if err := s.repo.CreatePayment(ctx, payment); err != nil {
			return err
		}
		order.SettlePayments(completed.Add(payment.Amount))
		return s.repo.UpdateOrder(ctx, *order)
	})
	if err != nil {
		return domain.Payment{}, err
	}

	s.afterPayments(ctx, payment)
	return payment, nil
}

// ProcessSplitPayment settles an unpaid order with several tenders at once.
// The parts must add up to the order total exactly; they are stored together
// or not at all.
func (s *Service) ProcessSplitPayment(ctx context.Context, orderID string, req domain.SplitPaymentRequest) (payments []domain.Payment, err error) {
	ctx, done := s.begin(ctx, "split_payment", attribute.String("order_id", orderID), attribute.Int("parts", len(req.Payments)))
	defer func() { done(err) }()

	if len(req.Payments) == 0 {
		return nil, domain.Invalidf("split payment needs at least one part")
	}
	sum := decimal.Zero
	for _, part := range req.Payments {
		if err := validatePaymentPart(part); err != nil {
			return nil, err
		}
		sum = sum.Add(part.Amount)
	}

	err = s.repo.WithTransaction(ctx, func(ctx context.Context) error {
		order, completed, err := s.lockPayableOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if completed.IsPositive() {
			return fmt.Errorf("%w: order %s already has %s paid", domain.ErrOverpaymentRejected, order.OrderNumber, completed.StringFixed(2))
		}
		if !sum.Equal(order.Total) {
			return fmt.Errorf("%w: parts sum %s, order total %s", domain.ErrSplitMismatch, sum.StringFixed(2), order.Total.StringFixed(2))
		}

		payments = make([]domain.Payment, 0, len(req.Payments))
		for _, part := range req.Payments {
			payment := s.newPayment(ctx, *order, part)
			if err := s.repo.CreatePayment(ctx, payment); err != nil {
				return err
			}
			payments = append(payments, payment)
		}
		order.SettlePayments(sum)
		return s.repo.UpdateOrder(ctx, *order)
	})
	if err != nil {
		return nil, err
	}

	s.afterPayments(ctx, payments...)
	return payments, nil
}

// ProcessRefund writes a negative REFUNDED payment against a completed one.
// Refunds accumulate; together they never exceed the original amount.
func (s *Service) ProcessRefund(ctx context.Context, paymentID string, req domain.RefundRequest) (refund domain.Payment, err error) {
	ctx, done := s.begin(ctx, "refund", attribute.String("payment_id", paymentID))
	defer func() { done(err) }()

	if !req.Amount.IsPositive() {
		return domain.Payment{}, domain.Invalidf("refund amount must be greater than zero")
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return domain.Payment{}, domain.Invalidf("refund reason is required")
	}

	target, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return domain.Payment{}, err
	}

	err = s.repo.WithTransaction(ctx, func(ctx context.Context) error {
		// order first, then payment: the same order ProcessPayment locks in
		order, err := s.repo.LockOrder(ctx, target.OrderID)
		if err != nil {
			return err
		}
		original, err := s.repo.LockPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if original.IsRefund() || original.Status != domain.PaymentStatusCompleted {
			return fmt.Errorf("%w: payment %s is %s", domain.ErrInvalidPaymentState, original.ID, original.Status)
		}

		payments, err := s.repo.ListPaymentsByOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		refunded := domain.RefundedTotal(payments, original.ID)
		refundable := original.Amount.Sub(refunded)
		amount := domain.Money(req.Amount)
		if amount.GreaterThan(refundable) {
			return fmt.Errorf("%w: payment %s refundable %s, requested %s", domain.ErrRefundExceedsPayment, original.ID, refundable.StringFixed(2), amount.StringFixed(2))
		}

		txnRef := original.TransactionID
		if txnRef == "" {
			txnRef = original.ID
		}
		refund = domain.Payment{
			ID:                xid.New("pay"),
			OrderID:           order.ID,
			StoreID:           order.StoreID,
			CashierID:         s.actor(ctx).UserID,
			Type:              original.Type,
			Amount:            amount.Neg(),
			TransactionID:     "REFUND-" + txnRef,
			Status:            domain.PaymentStatusRefunded,
			OriginalPaymentID: original.ID,
			Notes:             reason,
			ProcessedAt:       s.now(),
		}
		if err := s.repo.CreatePayment(ctx, refund); err != nil {
			return err
		}

		if refunded.Add(amount).Equal(original.Amount) {
			original.Status = domain.PaymentStatusRefunded
			if err := s.repo.UpdatePayment(ctx, *original); err != nil {
				return err
			}
			for i := range payments {
				if payments[i].ID == original.ID {
					payments[i].Status = domain.PaymentStatusRefunded
				}
			}
		}
		if domain.CompletedTotal(payments).IsZero() {
			order.PaymentStatus = domain.PaymentStatusRefunded
			return s.repo.UpdateOrder(ctx, *order)
		}
		return nil
	})
	if err != nil {
		return domain.Payment{}, err
	}

	s.metrics.ObservePayment(refund)
	s.logAudit(ctx, refund.StoreID, "refund", "payment", refund.ID, fmt.Sprintf("original=%s,amount=%s,reason=%s", paymentID, refund.Amount.StringFixed(2), reason))
	s.publish(ctx, events.TypePaymentRefunded, refund.StoreID, refund.OrderID, refund)
	return refund, nil
}

func (s *Service) GetPaymentHistory(ctx context.Context, orderID string) ([]domain.Payment, error) {
	if _, err := s.repo.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.repo.ListPaymentsByOrder(ctx, orderID)
}

// GetPaymentBreakdown nets every payment and refund processed at a store on
// one calendar day (UTC) per tender type.
func (s *Service) GetPaymentBreakdown(ctx context.Context, storeID string, date string) (domain.PaymentBreakdown, error) {
	day, err := parseDate(date)
	if err != nil {
		return domain.PaymentBreakdown{}, err
	}
	storeID = s.storeOrDefault(storeID)
	payments, err := s.repo.ListPayments(ctx, domain.PaymentFilter{StoreID: storeID, From: day, To: day.Add(24 * time.Hour)})
	if err != nil {
		return domain.PaymentBreakdown{}, err
	}

	breakdown := domain.PaymentBreakdown{
		StoreID: storeID,
		Date:    day.Format(dateLayout),
		ByType:  make(map[domain.PaymentType]decimal.Decimal, 4),
		Total:   decimal.Zero,
	}
	for _, payment := range payments {
		breakdown.ByType[payment.Type] = breakdown.ByType[payment.Type].Add(payment.Amount)
		breakdown.Total = breakdown.Total.Add(payment.Amount)
	}
	return breakdown, nil
}

func (s *Service) GetTotalPayments(ctx context.Context, storeID string, from time.Time, to time.Time) (decimal.Decimal, error) {
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return decimal.Zero, domain.Invalidf("to must not be before from")
	}
	payments, err := s.repo.ListPayments(ctx, domain.PaymentFilter{StoreID: s.storeOrDefault(storeID), From: from, To: to})
	if err != nil {
		return decimal.Zero, err
	}
	return netAmount(payments), nil
}

func (s *Service) lockPayableOrder(ctx context.Context, orderID string) (*domain.SalesOrder, decimal.Decimal, error) {
	order, err := s.repo.LockOrder(ctx, orderID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	if order.Status != domain.OrderStatusCompleted {
		return nil, decimal.Zero, fmt.Errorf("%w: order %s is %s, only completed orders take payments", domain.ErrInvalidOrderState, order.OrderNumber, order.Status)
	}
	payments, err := s.repo.ListPaymentsByOrder(ctx, order.ID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	return order, domain.CompletedTotal(payments), nil
}

func (s *Service) newPayment(ctx context.Context, order domain.SalesOrder, req domain.PaymentRequest) domain.Payment {
	return domain.Payment{
		ID:            xid.New("pay"),
		OrderID:       order.ID,
		StoreID:       order.StoreID,
		CashierID:     s.actor(ctx).UserID,
		Type:          req.Type,
		Amount:        domain.Money(req.Amount),
		TransactionID: strings.TrimSpace(req.TransactionID),
		Status:        domain.PaymentStatusCompleted,
		ProcessedAt:   s.now(),
	}
}

func (s *Service) afterPayments(ctx context.Context, payments ...domain.Payment) {
	for _, payment := range payments {
		s.metrics.ObservePayment(payment)
		s.logAudit(ctx, payment.StoreID, "payment", "payment", payment.ID, fmt.Sprintf("order=%s,type=%s,amount=%s", payment.OrderID, payment.Type, payment.Amount.StringFixed(2)))
		s.publish(ctx, events.TypePaymentRecorded, payment.StoreID, payment.OrderID, payment)
	}
}

func validatePaymentPart(req domain.PaymentRequest) error {
	if !req.Type.Valid() {
		return domain.Invalidf("unsupported payment type %q", req.Type)
	}
	if !req.Amount.IsPositive() {
		return domain.Invalidf("payment amount must be greater than zero")
	}
	if !req.Amount.Equal(domain.Money(req.Amount)) {
		return domain.Invalidf("payment amount carries more than two decimal places")
	}
	return nil
}

func netAmount(payments []domain.Payment) decimal.Decimal {
	total := decimal.Zero
	for _, payment := range payments {
		total = total.Add(payment.Amount)
	}
	return total
}
