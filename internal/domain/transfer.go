package domain

import (
	"fmt"
	"time"
)

type TransferStatus string

const (
	TransferStatusPending           TransferStatus = "PENDING"
	TransferStatusApproved          TransferStatus = "APPROVED"
	TransferStatusInTransit         TransferStatus = "IN_TRANSIT"
	TransferStatusPartiallyReceived TransferStatus = "PARTIALLY_RECEIVED"
	TransferStatusReceived          TransferStatus = "RECEIVED"
	TransferStatusCancelled         TransferStatus = "CANCELLED"
)

type TransferType string

const (
	TransferStoreToStore         TransferType = "STORE_TO_STORE"
	TransferStoreToWarehouse     TransferType = "STORE_TO_WAREHOUSE"
	TransferWarehouseToStore     TransferType = "WAREHOUSE_TO_STORE"
	TransferWarehouseToWarehouse TransferType = "WAREHOUSE_TO_WAREHOUSE"
)

func DeriveTransferType(from LocationRef, to LocationRef) TransferType {
	switch {
	case from.IsWarehouse() && to.IsWarehouse():
		return TransferWarehouseToWarehouse
	case from.IsWarehouse():
		return TransferWarehouseToStore
	case to.IsWarehouse():
		return TransferStoreToWarehouse
	default:
		return TransferStoreToStore
	}
}

type TransferPriority string

const (
	PriorityLow    TransferPriority = "LOW"
	PriorityNormal TransferPriority = "NORMAL"
	PriorityHigh   TransferPriority = "HIGH"
	PriorityUrgent TransferPriority = "URGENT"
)

func (p TransferPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type StockTransferItem struct {
	ID                string `json:"id"`
	ProductID         string `json:"product_id"`
	RequestedQuantity int    `json:"requested_quantity"`
	ReceivedQuantity  int    `json:"received_quantity"`
	DamagedQuantity   int    `json:"damaged_quantity"`
}

func (i StockTransferItem) Accounted() int {
	return i.ReceivedQuantity + i.DamagedQuantity
}

func (i StockTransferItem) FullyAccounted() bool {
	return i.Accounted() >= i.RequestedQuantity
}

type StockTransfer struct {
	ID             string              `json:"id"`
	TransferNumber string              `json:"transfer_number"`
	From           LocationRef         `json:"from"`
	To             LocationRef         `json:"to"`
	TransferType   TransferType        `json:"transfer_type"`
	Status         TransferStatus      `json:"status"`
	Priority       TransferPriority    `json:"priority"`
	Notes          string              `json:"notes,omitempty"`
	RequestedBy    string              `json:"requested_by"`
	ApprovedBy     string              `json:"approved_by,omitempty"`
	ReceivedBy     string              `json:"received_by,omitempty"`
	CancelReason   string              `json:"cancel_reason,omitempty"`
	RequestedAt    time.Time           `json:"requested_at"`
	ApprovedAt     *time.Time          `json:"approved_at,omitempty"`
	ShippedAt      *time.Time          `json:"shipped_at,omitempty"`
	ReceivedAt     *time.Time          `json:"received_at,omitempty"`
	CancelledAt    *time.Time          `json:"cancelled_at,omitempty"`
	Items          []StockTransferItem `json:"items"`
}

func (t *StockTransfer) Apply(event TransferEvent) error {
	next, err := TransferMachine.Apply(t.Status, event)
	if err != nil {
		return err
	}
	t.Status = next
	return nil
}

type ReceiveLine struct {
	ItemID           string `json:"item_id" validate:"required"`
	ReceivedQuantity int    `json:"received_quantity" validate:"gte=0"`
	DamagedQuantity  int    `json:"damaged_quantity" validate:"gte=0"`
}

// RecordReceipt books received and damaged quantities against the items and
// reports the receive event the transfer should take. It mutates nothing when
// any line is rejected.
func (t *StockTransfer) RecordReceipt(lines []ReceiveLine) (TransferEvent, error) {
	index := make(map[string]int, len(t.Items))
	for i, item := range t.Items {
		index[item.ID] = i
	}

	updated := make([]StockTransferItem, len(t.Items))
	copy(updated, t.Items)
	for _, line := range lines {
		if line.ReceivedQuantity < 0 || line.DamagedQuantity < 0 {
			return "", Invalidf("received and damaged quantities must not be negative")
		}
		pos, ok := index[line.ItemID]
		if !ok {
			return "", fmt.Errorf("%w: transfer item %s", ErrNotFound, line.ItemID)
		}
		item := &updated[pos]
		if item.Accounted()+line.ReceivedQuantity+line.DamagedQuantity > item.RequestedQuantity {
			return "", fmt.Errorf("%w: item %s requested %d, received %d, damaged %d", ErrOverReceipt, item.ID, item.RequestedQuantity, item.ReceivedQuantity+line.ReceivedQuantity, item.DamagedQuantity+line.DamagedQuantity)
		}
		item.ReceivedQuantity += line.ReceivedQuantity
		item.DamagedQuantity += line.DamagedQuantity
	}

	event := TransferEventReceiveFull
	for _, item := range updated {
		if !item.FullyAccounted() {
			event = TransferEventReceivePartial
			break
		}
	}
	t.Items = updated
	return event, nil
}

type TransferFilter struct {
	StoreID string
	Status  TransferStatus
	Limit   int
}

type TransferItemRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
}

type CreateTransferRequest struct {
	From     LocationRef           `json:"from"`
	To       LocationRef           `json:"to"`
	Priority TransferPriority      `json:"priority,omitempty"`
	Notes    string                `json:"notes,omitempty"`
	Items    []TransferItemRequest `json:"items" validate:"required,min=1,dive"`
}

type ReceiveTransferRequest struct {
	Items []ReceiveLine `json:"items" validate:"required,min=1,dive"`
}

type CancelTransferRequest struct {
	Reason string `json:"reason" validate:"required"`
}
