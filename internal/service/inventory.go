package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"retailerp/backend/internal/domain"
	"retailerp/backend/internal/events"
	"retailerp/backend/internal/xid"
)

type ledgerOp struct {
	kind      domain.MovementKind
	productID string
	loc       domain.LocationRef
	qty       int
	reason    string
	reference string
}

// applyLedger mutates one inventory record under its row lock and journals the
// movement. It must run inside a transaction; compound callers pass their own
// transactional ctx so every step commits or rolls back together.
func (s *Service) applyLedger(ctx context.Context, op ledgerOp) (domain.InventoryRecord, error) {
	actor := s.actor(ctx).UserID
	now := s.now()

	record, err := s.repo.LockInventory(ctx, op.productID, op.loc)
	switch {
	case err == nil:
	case isNotFound(err):
		record, err = s.missingRecord(ctx, op)
		if err != nil {
			return domain.InventoryRecord{}, err
		}
	default:
		return domain.InventoryRecord{}, err
	}

	switch op.kind {
	case domain.MovementDeduct:
		err = record.Deduct(op.qty, actor, now)
	case domain.MovementCredit:
		err = record.Credit(op.qty, actor, now)
	case domain.MovementReserve:
		err = record.Reserve(op.qty, actor, now)
	case domain.MovementRelease:
		err = record.Release(op.qty, actor, now)
	default:
		err = domain.Invalidf("unknown ledger operation %q", op.kind)
	}
	if err != nil {
		return domain.InventoryRecord{}, err
	}

	if err := s.repo.SaveInventory(ctx, *record); err != nil {
		return domain.InventoryRecord{}, err
	}
	if err := s.repo.CreateMovement(ctx, domain.InventoryMovement{
		ID:            xid.New("mov"),
		ProductID:     record.ProductID,
		StoreID:       record.StoreID,
		WarehouseID:   record.WarehouseID,
		Kind:          op.kind,
		Quantity:      op.qty,
		CurrentAfter:  record.CurrentQuantity,
		ReservedAfter: record.ReservedQuantity,
		Actor:         actor,
		Reason:        op.reason,
		Reference:     op.reference,
		CreatedAt:     now,
	}); err != nil {
		return domain.InventoryRecord{}, err
	}
	return *record, nil
}

// missingRecord decides what an absent record means for each operation: only
// a credit may create one.
func (s *Service) missingRecord(ctx context.Context, op ledgerOp) (*domain.InventoryRecord, error) {
	switch op.kind {
	case domain.MovementDeduct:
		return nil, fmt.Errorf("%w: no stock of %s at %s", domain.ErrInsufficientStock, op.productID, op.loc)
	case domain.MovementReserve:
		return nil, fmt.Errorf("%w: no stock of %s at %s", domain.ErrInsufficientAvailable, op.productID, op.loc)
	case domain.MovementRelease:
		return nil, fmt.Errorf("%w: nothing reserved for %s at %s", domain.ErrOverRelease, op.productID, op.loc)
	}
	product, err := s.repo.GetProduct(ctx, op.productID)
	if err != nil {
		return nil, err
	}
	return s.repo.LockOrCreateInventory(ctx, domain.NewInventoryRecord(xid.New("inv"), *product, op.loc))
}

func (s *Service) ledger(ctx context.Context, kind domain.MovementKind, req domain.LedgerRequest) (record domain.InventoryRecord, err error) {
	req.Location = s.resolveLocation(req.Location)
	ctx, done := s.begin(ctx, "inventory."+string(kind),
		attribute.String("product_id", req.ProductID),
		attribute.String("location", req.Location.String()),
		attribute.Int("quantity", req.Quantity),
	)
	defer func() { done(err) }()

	if req.ProductID == "" {
		return domain.InventoryRecord{}, domain.Invalidf("product_id is required")
	}
	if req.Quantity < 1 {
		return domain.InventoryRecord{}, domain.Invalidf("quantity must be greater than 0")
	}

	err = s.repo.WithTransaction(ctx, func(ctx context.Context) error {
		var txErr error
		record, txErr = s.applyLedger(ctx, ledgerOp{
			kind:      kind,
			productID: req.ProductID,
			loc:       req.Location,
			qty:       req.Quantity,
			reason:    req.Reason,
			reference: req.Reference,
		})
		return txErr
	})
	if err != nil {
		return domain.InventoryRecord{}, err
	}

	s.metrics.ObserveMovement(record.StoreID, kind, req.Quantity)
	s.logAudit(ctx, record.StoreID, "inventory_"+string(kind), "inventory", record.ID, fmt.Sprintf("product=%s,qty=%d,current=%d,reserved=%d,reason=%s", record.ProductID, req.Quantity, record.CurrentQuantity, record.ReservedQuantity, req.Reason))
	s.alertLowStock(ctx, record)
	return record, nil
}

func (s *Service) Deduct(ctx context.Context, req domain.LedgerRequest) (domain.InventoryRecord, error) {
	return s.ledger(ctx, domain.MovementDeduct, req)
}

func (s *Service) Credit(ctx context.Context, req domain.LedgerRequest) (domain.InventoryRecord, error) {
	return s.ledger(ctx, domain.MovementCredit, req)
}

func (s *Service) Reserve(ctx context.Context, req domain.LedgerRequest) (domain.InventoryRecord, error) {
	return s.ledger(ctx, domain.MovementReserve, req)
}

func (s *Service) Release(ctx context.Context, req domain.LedgerRequest) (domain.InventoryRecord, error) {
	return s.ledger(ctx, domain.MovementRelease, req)
}

func (s *Service) GetInventory(ctx context.Context, productID string, loc domain.LocationRef) (domain.InventoryRecord, error) {
	record, err := s.repo.GetInventory(ctx, productID, s.resolveLocation(loc))
	if err != nil {
		return domain.InventoryRecord{}, err
	}
	return *record, nil
}

func (s *Service) InventoryByLocation(ctx context.Context, loc domain.LocationRef) ([]domain.InventoryRecord, error) {
	loc = s.resolveLocation(loc)
	return s.repo.ListInventory(ctx, domain.InventoryFilter{StoreID: loc.StoreID, Location: &loc})
}

func (s *Service) InventoryByProduct(ctx context.Context, productID string) ([]domain.InventoryRecord, error) {
	if productID == "" {
		return nil, domain.Invalidf("product_id is required")
	}
	return s.repo.ListInventory(ctx, domain.InventoryFilter{ProductID: productID})
}

func (s *Service) LowStock(ctx context.Context, storeID string) ([]domain.InventoryRecord, error) {
	return s.selectInventory(ctx, storeID, domain.InventoryRecord.IsLowStock)
}

func (s *Service) OutOfStock(ctx context.Context, storeID string) ([]domain.InventoryRecord, error) {
	return s.selectInventory(ctx, storeID, domain.InventoryRecord.IsOutOfStock)
}

func (s *Service) Overstock(ctx context.Context, storeID string) ([]domain.InventoryRecord, error) {
	return s.selectInventory(ctx, storeID, domain.InventoryRecord.IsOverstock)
}

func (s *Service) ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.InventoryMovement, error) {
	if filter.Limit < 1 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.repo.ListMovements(ctx, filter)
}

func (s *Service) selectInventory(ctx context.Context, storeID string, keep func(domain.InventoryRecord) bool) ([]domain.InventoryRecord, error) {
	records, err := s.repo.ListInventory(ctx, domain.InventoryFilter{StoreID: s.storeOrDefault(storeID)})
	if err != nil {
		return nil, err
	}
	result := make([]domain.InventoryRecord, 0, len(records))
	for _, record := range records {
		if keep(record) {
			result = append(result, record)
		}
	}
	return result, nil
}

func (s *Service) alertLowStock(ctx context.Context, record domain.InventoryRecord) {
	if !record.IsLowStock() {
		return
	}
	s.logger.Info("low stock",
		zap.String("product_id", record.ProductID),
		zap.String("location", record.Ref().String()),
		zap.Int("available", record.AvailableQuantity()),
		zap.Int("minimum", record.MinimumStockLevel),
	)
	s.publish(ctx, events.TypeInventoryLow, record.StoreID, record.ProductID, map[string]any{
		"location":  record.Ref().String(),
		"available": record.AvailableQuantity(),
		"minimum":   record.MinimumStockLevel,
	})
}
