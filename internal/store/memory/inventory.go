package memory

import (
	"context"
	"fmt"
	"slices"

	"retailerp/backend/internal/domain"
	"retailerp/backend/internal/xid"
)

func inventoryKey(productID string, loc domain.LocationRef) string {
	return productID + "|" + loc.StoreID + "|" + loc.WarehouseID
}

func (s *Store) GetInventory(ctx context.Context, productID string, loc domain.LocationRef) (*domain.InventoryRecord, error) {
	defer s.rlock(ctx)()

	rec, ok := s.inventory[inventoryKey(productID, loc)]
	if !ok {
		return nil, fmt.Errorf("%w: inventory for %s at %s", domain.ErrNotFound, productID, loc)
	}
	return &rec, nil
}

// LockInventory is GetInventory here: the transaction already holds the store
// write lock.
func (s *Store) LockInventory(ctx context.Context, productID string, loc domain.LocationRef) (*domain.InventoryRecord, error) {
	return s.GetInventory(ctx, productID, loc)
}

func (s *Store) LockOrCreateInventory(ctx context.Context, record domain.InventoryRecord) (*domain.InventoryRecord, error) {
	defer s.wlock(ctx)()

	key := inventoryKey(record.ProductID, record.Ref())
	if existing, ok := s.inventory[key]; ok {
		return &existing, nil
	}
	if err := record.CheckInvariant(); err != nil {
		return nil, domain.Invalidf("%v", err)
	}
	if record.ID == "" {
		record.ID = xid.New("inv")
	}
	remember(ctx, s.inventory, key)
	s.inventory[key] = record
	return &record, nil
}

func (s *Store) SaveInventory(ctx context.Context, record domain.InventoryRecord) error {
	defer s.wlock(ctx)()

	if err := record.CheckInvariant(); err != nil {
		return domain.Invalidf("%v", err)
	}
	if record.ID == "" {
		record.ID = xid.New("inv")
	}
	key := inventoryKey(record.ProductID, record.Ref())
	remember(ctx, s.inventory, key)
	s.inventory[key] = record
	return nil
}

func (s *Store) ListInventory(ctx context.Context, filter domain.InventoryFilter) ([]domain.InventoryRecord, error) {
	defer s.rlock(ctx)()

	result := make([]domain.InventoryRecord, 0, 32)
	for _, rec := range s.inventory {
		if filter.Matches(rec) {
			result = append(result, rec)
		}
	}
	slices.SortFunc(result, func(a, b domain.InventoryRecord) int {
		if a.ProductID != b.ProductID {
			return cmpString(a.ProductID, b.ProductID)
		}
		return cmpString(a.Ref().String(), b.Ref().String())
	})
	return result, nil
}

func (s *Store) CreateMovement(ctx context.Context, movement domain.InventoryMovement) error {
	defer s.wlock(ctx)()

	if movement.ID == "" {
		movement.ID = xid.New("mov")
	}
	rememberLen(ctx, &s.movements)
	s.movements = append(s.movements, movement)
	return nil
}

func (s *Store) ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.InventoryMovement, error) {
	defer s.rlock(ctx)()

	result := make([]domain.InventoryMovement, 0, 32)
	for i := len(s.movements) - 1; i >= 0; i-- {
		m := s.movements[i]
		if filter.ProductID != "" && m.ProductID != filter.ProductID {
			continue
		}
		if filter.StoreID != "" && m.StoreID != filter.StoreID {
			continue
		}
		if filter.Reference != "" && m.Reference != filter.Reference {
			continue
		}
		result = append(result, m)
		if filter.Limit > 0 && len(result) == filter.Limit {
			break
		}
	}
	return result, nil
}
