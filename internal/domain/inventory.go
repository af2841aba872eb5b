package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const DefaultBinLocation = "MAIN"

// LocationRef names a stock holding location. An empty WarehouseID means the
// store's own floor stock.
type LocationRef struct {
	StoreID     string `json:"store_id" validate:"required"`
	WarehouseID string `json:"warehouse_id,omitempty"`
}

func (l LocationRef) IsWarehouse() bool {
	return l.WarehouseID != ""
}

func (l LocationRef) String() string {
	if l.WarehouseID == "" {
		return l.StoreID
	}
	return l.StoreID + "/" + l.WarehouseID
}

type InventoryRecord struct {
	ID                string          `json:"id"`
	ProductID         string          `json:"product_id"`
	StoreID           string          `json:"store_id"`
	WarehouseID       string          `json:"warehouse_id,omitempty"`
	Location          string          `json:"location"`
	CurrentQuantity   int             `json:"current_quantity"`
	ReservedQuantity  int             `json:"reserved_quantity"`
	MinimumStockLevel int             `json:"minimum_stock_level"`
	MaximumStockLevel int             `json:"maximum_stock_level"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
	TotalValue        decimal.Decimal `json:"total_value"`
	LastUpdated       time.Time       `json:"last_updated"`
	LastUpdatedBy     string          `json:"last_updated_by"`
}

func NewInventoryRecord(id string, product Product, loc LocationRef) InventoryRecord {
	return InventoryRecord{
		ID:                id,
		ProductID:         product.ID,
		StoreID:           loc.StoreID,
		WarehouseID:       loc.WarehouseID,
		Location:          DefaultBinLocation,
		MinimumStockLevel: product.MinimumStockLevel,
		MaximumStockLevel: product.MaximumStockLevel,
		UnitCost:          product.UnitCost,
		TotalValue:        decimal.Zero,
	}
}

func (r InventoryRecord) Ref() LocationRef {
	return LocationRef{StoreID: r.StoreID, WarehouseID: r.WarehouseID}
}

func (r InventoryRecord) AvailableQuantity() int {
	return r.CurrentQuantity - r.ReservedQuantity
}

func (r InventoryRecord) IsLowStock() bool {
	return r.AvailableQuantity() < r.MinimumStockLevel
}

func (r InventoryRecord) IsOutOfStock() bool {
	return r.AvailableQuantity() == 0
}

func (r InventoryRecord) IsOverstock() bool {
	return r.MaximumStockLevel > 0 && r.CurrentQuantity > r.MaximumStockLevel
}

// CheckInvariant reports a record whose quantities escaped 0 <= reserved <= current.
func (r InventoryRecord) CheckInvariant() error {
	if r.ReservedQuantity < 0 || r.CurrentQuantity < 0 || r.ReservedQuantity > r.CurrentQuantity {
		return fmt.Errorf("inventory %s at %s: current=%d reserved=%d", r.ProductID, r.Ref(), r.CurrentQuantity, r.ReservedQuantity)
	}
	return nil
}

// Deduct removes sellable stock. Reserved units are never consumed here; a
// reservation has to be released first.
func (r *InventoryRecord) Deduct(qty int, actor string, at time.Time) error {
	if qty < 1 {
		return Invalidf("deduct quantity must be positive")
	}
	if r.CurrentQuantity-qty < 0 || qty > r.AvailableQuantity() {
		return fmt.Errorf("%w: product %s at %s has %d available, %d requested", ErrInsufficientStock, r.ProductID, r.Ref(), r.AvailableQuantity(), qty)
	}
	r.CurrentQuantity -= qty
	r.touch(actor, at)
	return nil
}

func (r *InventoryRecord) Credit(qty int, actor string, at time.Time) error {
	if qty < 1 {
		return Invalidf("credit quantity must be positive")
	}
	r.CurrentQuantity += qty
	r.touch(actor, at)
	return nil
}

func (r *InventoryRecord) Reserve(qty int, actor string, at time.Time) error {
	if qty < 1 {
		return Invalidf("reserve quantity must be positive")
	}
	if qty > r.AvailableQuantity() {
		return fmt.Errorf("%w: product %s at %s has %d available, %d requested", ErrInsufficientAvailable, r.ProductID, r.Ref(), r.AvailableQuantity(), qty)
	}
	r.ReservedQuantity += qty
	r.touch(actor, at)
	return nil
}

func (r *InventoryRecord) Release(qty int, actor string, at time.Time) error {
	if qty < 1 {
		return Invalidf("release quantity must be positive")
	}
	if qty > r.ReservedQuantity {
		return fmt.Errorf("%w: product %s at %s has %d reserved, %d requested", ErrOverRelease, r.ProductID, r.Ref(), r.ReservedQuantity, qty)
	}
	r.ReservedQuantity -= qty
	r.touch(actor, at)
	return nil
}

func (r *InventoryRecord) touch(actor string, at time.Time) {
	r.TotalValue = Money(r.UnitCost.Mul(decimal.NewFromInt(int64(r.CurrentQuantity))))
	r.LastUpdated = at
	r.LastUpdatedBy = actor
}

func (r InventoryRecord) MarshalJSON() ([]byte, error) {
	type plain InventoryRecord
	return json.Marshal(struct {
		plain
		AvailableQuantity int `json:"available_quantity"`
	}{plain: plain(r), AvailableQuantity: r.AvailableQuantity()})
}

type MovementKind string

const (
	MovementDeduct  MovementKind = "DEDUCT"
	MovementCredit  MovementKind = "CREDIT"
	MovementReserve MovementKind = "RESERVE"
	MovementRelease MovementKind = "RELEASE"
)

// InventoryMovement is the append-only journal entry written for every ledger
// mutation.
type InventoryMovement struct {
	ID            string       `json:"id"`
	ProductID     string       `json:"product_id"`
	StoreID       string       `json:"store_id"`
	WarehouseID   string       `json:"warehouse_id,omitempty"`
	Kind          MovementKind `json:"kind"`
	Quantity      int          `json:"quantity"`
	CurrentAfter  int          `json:"current_after"`
	ReservedAfter int          `json:"reserved_after"`
	Actor         string       `json:"actor"`
	Reason        string       `json:"reason"`
	Reference     string       `json:"reference,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

type LedgerRequest struct {
	ProductID string      `json:"product_id" validate:"required"`
	Location  LocationRef `json:"location"`
	Quantity  int         `json:"quantity" validate:"gt=0"`
	Reason    string      `json:"reason"`
	Reference string      `json:"reference,omitempty"`
}

// InventoryFilter selects ledger records. A nil Location matches every
// location of StoreID (floor stock and its warehouses).
type InventoryFilter struct {
	StoreID   string
	Location  *LocationRef
	ProductID string
}

func (f InventoryFilter) Matches(r InventoryRecord) bool {
	if f.ProductID != "" && r.ProductID != f.ProductID {
		return false
	}
	if f.Location != nil {
		return r.Ref() == *f.Location
	}
	return f.StoreID == "" || r.StoreID == f.StoreID
}

type MovementFilter struct {
	ProductID string
	StoreID   string
	Reference string
	Limit     int
}
