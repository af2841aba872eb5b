package service

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"retailerp/backend/internal/domain"
	"retailerp/backend/internal/events"
	"retailerp/backend/internal/xid"
)

func (s *Service) CreateTransfer(ctx context.Context, req domain.CreateTransferRequest) (transfer domain.StockTransfer, err error) {
	ctx, done := s.begin(ctx, "transfer.create")
	defer func() { done(err) }()

	from := s.resolveLocation(req.From)
	to := s.resolveLocation(req.To)
	if from.StoreID == to.StoreID {
		return domain.StockTransfer{}, fmt.Errorf("%w: %s to %s", domain.ErrSameLocationTransfer, from, to)
	}
	priority := req.Priority
	if priority == "" {
		priority = domain.PriorityNormal
	}
	if !priority.Valid() {
		return domain.StockTransfer{}, domain.Invalidf("unknown priority %q", req.Priority)
	}
	if len(req.Items) == 0 {
		return domain.StockTransfer{}, domain.Invalidf("transfer needs at least one item")
	}

	wanted := make(map[string]int, len(req.Items))
	for _, item := range req.Items {
		if item.Quantity < 1 {
			return domain.StockTransfer{}, domain.Invalidf("transfer quantity must be greater than 0")
		}
		if _, err := s.repo.GetProduct(ctx, item.ProductID); err != nil {
			return domain.StockTransfer{}, err
		}
		wanted[item.ProductID] += item.Quantity
	}
	for productID, qty := range wanted {
		available := 0
		record, err := s.repo.GetInventory(ctx, productID, from)
		switch {
		case err == nil:
			available = record.AvailableQuantity()
		case !isNotFound(err):
			return domain.StockTransfer{}, err
		}
		if qty > available {
			return domain.StockTransfer{}, fmt.Errorf("%w: product %s at %s has %d available, transfer needs %d", domain.ErrInsufficientAvailable, productID, from, available, qty)
		}
	}

	now := s.now()
	transfer = domain.StockTransfer{
		ID:             xid.New("trf"),
		TransferNumber: xid.TransferNumber(now),
		From:           from,
		To:             to,
		TransferType:   domain.DeriveTransferType(from, to),
		Status:         domain.TransferStatusPending,
		Priority:       priority,
		Notes:          strings.TrimSpace(req.Notes),
		RequestedBy:    s.actor(ctx).UserID,
		RequestedAt:    now,
		Items:          make([]domain.StockTransferItem, 0, len(req.Items)),
	}
	for _, item := range req.Items {
		transfer.Items = append(transfer.Items, domain.StockTransferItem{
			ID:                xid.New("trfi"),
			ProductID:         item.ProductID,
			RequestedQuantity: item.Quantity,
		})
	}
	if err := s.repo.CreateTransfer(ctx, transfer); err != nil {
		return domain.StockTransfer{}, err
	}

	s.transferChanged(ctx, transfer, "transfer_create", fmt.Sprintf("number=%s,type=%s,items=%d", transfer.TransferNumber, transfer.TransferType, len(transfer.Items)))
	return transfer, nil
}

// ApproveTransfer reserves every item at the source. One failed reservation
// rolls back all the others made in the same call.
func (s *Service) ApproveTransfer(ctx context.Context, id string) (domain.StockTransfer, error) {
	return s.stepTransfer(ctx, id, domain.TransferEventApprove, func(ctx context.Context, transfer *domain.StockTransfer) error {
		for _, item := range transfer.Items {
			if _, err := s.applyLedger(ctx, ledgerOp{
				kind:      domain.MovementReserve,
				productID: item.ProductID,
				loc:       transfer.From,
				qty:       item.RequestedQuantity,
				reason:    "transfer approved",
				reference: transfer.TransferNumber,
			}); err != nil {
				return err
			}
		}
		now := s.now()
		transfer.ApprovedBy = s.actor(ctx).UserID
		transfer.ApprovedAt = &now
		return nil
	})
}

// ShipTransfer turns the reservations into deductions at the source.
func (s *Service) ShipTransfer(ctx context.Context, id string) (domain.StockTransfer, error) {
	return s.stepTransfer(ctx, id, domain.TransferEventShip, func(ctx context.Context, transfer *domain.StockTransfer) error {
		for _, item := range transfer.Items {
			for _, kind := range []domain.MovementKind{domain.MovementRelease, domain.MovementDeduct} {
				if _, err := s.applyLedger(ctx, ledgerOp{
					kind:      kind,
					productID: item.ProductID,
					loc:       transfer.From,
					qty:       item.RequestedQuantity,
					reason:    "transfer shipped",
					reference: transfer.TransferNumber,
				}); err != nil {
					return err
				}
			}
		}
		now := s.now()
		transfer.ShippedAt = &now
		return nil
	})
}

// ReceiveTransfer credits the received (not damaged) units at the destination.
func (s *Service) ReceiveTransfer(ctx context.Context, id string, req domain.ReceiveTransferRequest) (transfer domain.StockTransfer, err error) {
	ctx, done := s.begin(ctx, "transfer.receive", attribute.String("transfer_id", id))
	defer func() { done(err) }()

	if len(req.Items) == 0 {
		return domain.StockTransfer{}, domain.Invalidf("receipt needs at least one line")
	}

	err = s.repo.WithTransaction(ctx, func(ctx context.Context) error {
		locked, err := s.repo.LockTransfer(ctx, id)
		if err != nil {
			return err
		}
		transfer = *locked
		if _, ok := domain.TransferMachine.Next(transfer.Status, domain.TransferEventReceiveFull); !ok {
			return fmt.Errorf("%w: transfer %s is %s", domain.ErrInvalidTransferState, transfer.TransferNumber, transfer.Status)
		}
		event, err := transfer.RecordReceipt(req.Items)
		if err != nil {
			return err
		}
		if err := transfer.Apply(event); err != nil {
			return err
		}

		products := make(map[string]string, len(transfer.Items))
		for _, item := range transfer.Items {
			products[item.ID] = item.ProductID
		}
		for _, line := range req.Items {
			if line.ReceivedQuantity == 0 {
				continue
			}
			if _, err := s.applyLedger(ctx, ledgerOp{
				kind:      domain.MovementCredit,
				productID: products[line.ItemID],
				loc:       transfer.To,
				qty:       line.ReceivedQuantity,
				reason:    "transfer received",
				reference: transfer.TransferNumber,
			}); err != nil {
				return err
			}
		}
		now := s.now()
		transfer.ReceivedBy = s.actor(ctx).UserID
		transfer.ReceivedAt = &now
		return s.repo.UpdateTransfer(ctx, transfer)
	})
	if err != nil {
		return domain.StockTransfer{}, err
	}

	s.transferChanged(ctx, transfer, "transfer_receive", fmt.Sprintf("status=%s,lines=%d", transfer.Status, len(req.Items)))
	return transfer, nil
}

// CancelTransfer is only possible before shipping. An approved transfer gives
// its reservations back.
func (s *Service) CancelTransfer(ctx context.Context, id string, reason string) (domain.StockTransfer, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.StockTransfer{}, domain.Invalidf("cancel reason is required")
	}
	return s.stepTransfer(ctx, id, domain.TransferEventCancel, func(ctx context.Context, transfer *domain.StockTransfer) error {
		if transfer.ApprovedAt != nil {
			for _, item := range transfer.Items {
				if _, err := s.applyLedger(ctx, ledgerOp{
					kind:      domain.MovementRelease,
					productID: item.ProductID,
					loc:       transfer.From,
					qty:       item.RequestedQuantity,
					reason:    "transfer cancelled",
					reference: transfer.TransferNumber,
				}); err != nil {
					return err
				}
			}
		}
		now := s.now()
		transfer.CancelReason = reason
		transfer.CancelledAt = &now
		return nil
	})
}

func (s *Service) GetTransfer(ctx context.Context, id string) (domain.StockTransfer, error) {
	transfer, err := s.repo.GetTransfer(ctx, id)
	if err != nil {
		return domain.StockTransfer{}, err
	}
	return *transfer, nil
}

func (s *Service) ListTransfers(ctx context.Context, filter domain.TransferFilter) ([]domain.StockTransfer, error) {
	if filter.Limit < 1 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.repo.ListTransfers(ctx, filter)
}

// stepTransfer runs one lifecycle step: lock, transition, side effects, save,
// all in one transaction.
func (s *Service) stepTransfer(ctx context.Context, id string, event domain.TransferEvent, effects func(ctx context.Context, transfer *domain.StockTransfer) error) (transfer domain.StockTransfer, err error) {
	ctx, done := s.begin(ctx, "transfer."+string(event), attribute.String("transfer_id", id))
	defer func() { done(err) }()

	err = s.repo.WithTransaction(ctx, func(ctx context.Context) error {
		locked, err := s.repo.LockTransfer(ctx, id)
		if err != nil {
			return err
		}
		transfer = *locked
		if err := transfer.Apply(event); err != nil {
			return err
		}
		if err := effects(ctx, &transfer); err != nil {
			return err
		}
		return s.repo.UpdateTransfer(ctx, transfer)
	})
	if err != nil {
		return domain.StockTransfer{}, err
	}

	s.transferChanged(ctx, transfer, "transfer_"+string(event), "status="+string(transfer.Status))
	return transfer, nil
}

func (s *Service) transferChanged(ctx context.Context, transfer domain.StockTransfer, action string, detail string) {
	s.logAudit(ctx, transfer.From.StoreID, action, "transfer", transfer.ID, detail)
	s.publish(ctx, events.TypeTransferChanged, transfer.From.StoreID, transfer.ID, map[string]any{
		"transfer_number": transfer.TransferNumber,
		"status":          transfer.Status,
		"from":            transfer.From.String(),
		"to":              transfer.To.String(),
	})
}
