package domain

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecord(current int) InventoryRecord {
	rec := NewInventoryRecord("inv-1", Product{ID: "p1", UnitCost: dec("2.50"), MinimumStockLevel: 5}, LocationRef{StoreID: "s1"})
	rec.CurrentQuantity = current
	return rec
}

func TestInventoryDeductRespectsReservation(t *testing.T) {
	rec := newRecord(10)
	now := time.Now()
	require.NoError(t, rec.Reserve(6, "u1", now))

	err := rec.Deduct(5, "u1", now)
	require.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, 10, rec.CurrentQuantity)

	require.NoError(t, rec.Deduct(4, "u1", now))
	assert.Equal(t, 6, rec.CurrentQuantity)
	assert.Equal(t, 0, rec.AvailableQuantity())
	assert.True(t, rec.TotalValue.Equal(dec("15")))
	assert.Equal(t, "u1", rec.LastUpdatedBy)
}

func TestInventoryReserveAndRelease(t *testing.T) {
	rec := newRecord(3)
	now := time.Now()

	require.ErrorIs(t, rec.Reserve(4, "u1", now), ErrInsufficientAvailable)
	require.NoError(t, rec.Reserve(3, "u1", now))
	require.ErrorIs(t, rec.Release(4, "u1", now), ErrOverRelease)
	require.NoError(t, rec.Release(3, "u1", now))
	assert.Equal(t, 0, rec.ReservedQuantity)
	require.ErrorIs(t, rec.Credit(0, "u1", now), ErrInvalidRequest)
}

func TestInventoryQueriesPredicates(t *testing.T) {
	rec := newRecord(4)
	assert.True(t, rec.IsLowStock())
	assert.False(t, rec.IsOutOfStock())
	assert.False(t, rec.IsOverstock())

	rec.MaximumStockLevel = 3
	assert.True(t, rec.IsOverstock())

	rec.ReservedQuantity = 4
	assert.True(t, rec.IsOutOfStock())
}

func TestInventoryInvariantHoldsUnderRandomOperations(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	rec := newRecord(20)
	now := time.Now()
	for i := 0; i < 2000; i++ {
		qty := rng.Intn(8) + 1
		switch rng.Intn(4) {
		case 0:
			_ = rec.Deduct(qty, "u", now)
		case 1:
			_ = rec.Credit(qty, "u", now)
		case 2:
			_ = rec.Reserve(qty, "u", now)
		case 3:
			_ = rec.Release(qty, "u", now)
		}
		require.NoError(t, rec.CheckInvariant())
		require.GreaterOrEqual(t, rec.AvailableQuantity(), 0)
	}
}

func TestTransferRecordReceipt(t *testing.T) {
	transfer := StockTransfer{
		Status: TransferStatusInTransit,
		Items: []StockTransferItem{
			{ID: "i1", ProductID: "p1", RequestedQuantity: 20},
		},
	}

	_, err := transfer.RecordReceipt([]ReceiveLine{{ItemID: "i1", ReceivedQuantity: 16, DamagedQuantity: 5}})
	require.ErrorIs(t, err, ErrOverReceipt)
	assert.Equal(t, 0, transfer.Items[0].ReceivedQuantity)

	event, err := transfer.RecordReceipt([]ReceiveLine{{ItemID: "i1", ReceivedQuantity: 10}})
	require.NoError(t, err)
	assert.Equal(t, TransferEventReceivePartial, event)

	event, err = transfer.RecordReceipt([]ReceiveLine{{ItemID: "i1", ReceivedQuantity: 5, DamagedQuantity: 5}})
	require.NoError(t, err)
	assert.Equal(t, TransferEventReceiveFull, event)
	assert.Equal(t, 15, transfer.Items[0].ReceivedQuantity)
	assert.Equal(t, 5, transfer.Items[0].DamagedQuantity)

	_, err = transfer.RecordReceipt([]ReceiveLine{{ItemID: "nope", ReceivedQuantity: 1}})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeriveTransferType(t *testing.T) {
	store := LocationRef{StoreID: "s1"}
	warehouse := LocationRef{StoreID: "s2", WarehouseID: "w1"}
	assert.Equal(t, TransferStoreToStore, DeriveTransferType(store, LocationRef{StoreID: "s3"}))
	assert.Equal(t, TransferStoreToWarehouse, DeriveTransferType(store, warehouse))
	assert.Equal(t, TransferWarehouseToStore, DeriveTransferType(warehouse, store))
	assert.Equal(t, TransferWarehouseToWarehouse, DeriveTransferType(warehouse, LocationRef{StoreID: "s1", WarehouseID: "w2"}))
}

func TestShiftCloseComputesDifference(t *testing.T) {
	shift := Shift{Status: ShiftStatusActive, StartingCash: dec("100")}
	require.NoError(t, shift.Close("mgr", dec("245.50"), dec("250"), time.Now()))
	assert.Equal(t, ShiftStatusCompleted, shift.Status)
	assert.True(t, shift.CashDifference.Equal(dec("-4.5")))

	require.ErrorIs(t, shift.Close("mgr", dec("1"), dec("1"), time.Now()), ErrShiftNotActive)
}
