package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailerp/backend/internal/domain"
)

var branch = domain.LocationRef{StoreID: "store-2"}

func newTransfer(t *testing.T, f *fixture, items ...domain.TransferItemRequest) domain.StockTransfer {
	t.Helper()
	transfer, err := f.svc.CreateTransfer(f.manager, domain.CreateTransferRequest{From: floor, To: branch, Items: items})
	require.NoError(t, err)
	return transfer
}

func TestTransferConservation(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "prod-a", floor, 50)

	transfer := newTransfer(t, f, domain.TransferItemRequest{ProductID: "prod-a", Quantity: 20})
	assert.Equal(t, domain.TransferStatusPending, transfer.Status)
	assert.Equal(t, domain.TransferStoreToStore, transfer.TransferType)
	assert.Equal(t, domain.PriorityNormal, transfer.Priority)
	assert.True(t, strings.HasPrefix(transfer.TransferNumber, "TRF-"))

	transfer, err := f.svc.ApproveTransfer(f.manager, transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusApproved, transfer.Status)
	source := f.record(t, "prod-a", floor)
	assert.Equal(t, 50, source.CurrentQuantity)
	assert.Equal(t, 20, source.ReservedQuantity)

	transfer, err = f.svc.ShipTransfer(f.manager, transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusInTransit, transfer.Status)
	source = f.record(t, "prod-a", floor)
	assert.Equal(t, 30, source.CurrentQuantity)
	assert.Equal(t, 0, source.ReservedQuantity)

	itemID := transfer.Items[0].ID
	transfer, err = f.svc.ReceiveTransfer(f.manager, transfer.ID, domain.ReceiveTransferRequest{Items: []domain.ReceiveLine{
		{ItemID: itemID, ReceivedQuantity: 15, DamagedQuantity: 5},
	}})
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusReceived, transfer.Status)
	assert.Equal(t, "manager-1", transfer.ReceivedBy)
	assert.Equal(t, 15, f.record(t, "prod-a", branch).CurrentQuantity)

	_, err = f.svc.CancelTransfer(f.manager, transfer.ID, "too late")
	require.ErrorIs(t, err, domain.ErrInvalidTransferState)
}

func TestTransferPartialReceipt(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "prod-a", floor, 20)
	transfer := newTransfer(t, f, domain.TransferItemRequest{ProductID: "prod-a", Quantity: 20})
	_, err := f.svc.ApproveTransfer(f.manager, transfer.ID)
	require.NoError(t, err)
	_, err = f.svc.ShipTransfer(f.manager, transfer.ID)
	require.NoError(t, err)

	_, err = f.svc.ReceiveTransfer(f.manager, transfer.ID, domain.ReceiveTransferRequest{Items: []domain.ReceiveLine{
		{ItemID: transfer.Items[0].ID, ReceivedQuantity: 16, DamagedQuantity: 5},
	}})
	require.ErrorIs(t, err, domain.ErrOverReceipt)
	_, err = f.svc.GetInventory(context.Background(), "prod-a", branch)
	require.ErrorIs(t, err, domain.ErrNotFound)

	received, err := f.svc.ReceiveTransfer(f.manager, transfer.ID, domain.ReceiveTransferRequest{Items: []domain.ReceiveLine{
		{ItemID: transfer.Items[0].ID, ReceivedQuantity: 10},
	}})
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusPartiallyReceived, received.Status)
	assert.Equal(t, 10, received.Items[0].ReceivedQuantity)
	assert.Equal(t, 10, f.record(t, "prod-a", branch).CurrentQuantity)

	stored, err := f.svc.GetTransfer(context.Background(), transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusPartiallyReceived, stored.Status)
}

func TestTransferCreateValidation(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "prod-a", floor, 5)

	_, err := f.svc.CreateTransfer(f.manager, domain.CreateTransferRequest{
		From:  floor,
		To:    domain.LocationRef{StoreID: testStore, WarehouseID: "wh-1"},
		Items: []domain.TransferItemRequest{{ProductID: "prod-a", Quantity: 1}},
	})
	require.ErrorIs(t, err, domain.ErrSameLocationTransfer)

	_, err = f.svc.CreateTransfer(f.manager, domain.CreateTransferRequest{
		From:  floor,
		To:    branch,
		Items: []domain.TransferItemRequest{{ProductID: "prod-a", Quantity: 3}, {ProductID: "prod-a", Quantity: 3}},
	})
	require.ErrorIs(t, err, domain.ErrInsufficientAvailable)

	_, err = f.svc.CreateTransfer(f.manager, domain.CreateTransferRequest{
		From:     floor,
		To:       domain.LocationRef{StoreID: "store-2", WarehouseID: "wh-9"},
		Priority: "ASAP",
		Items:    []domain.TransferItemRequest{{ProductID: "prod-a", Quantity: 1}},
	})
	require.ErrorIs(t, err, domain.ErrInvalidRequest)

	transfer, err := f.svc.CreateTransfer(f.manager, domain.CreateTransferRequest{
		From:     floor,
		To:       domain.LocationRef{StoreID: "store-2", WarehouseID: "wh-9"},
		Priority: domain.PriorityUrgent,
		Items:    []domain.TransferItemRequest{{ProductID: "prod-a", Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStoreToWarehouse, transfer.TransferType)
}

func TestTransferApproveRollsBackEveryReservation(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "prod-a", floor, 30)
	f.stock(t, "prod-b", floor, 5)
	transfer := newTransfer(t, f,
		domain.TransferItemRequest{ProductID: "prod-a", Quantity: 20},
		domain.TransferItemRequest{ProductID: "prod-b", Quantity: 5},
	)

	_, err := f.svc.Deduct(f.cashier, domain.LedgerRequest{ProductID: "prod-b", Location: floor, Quantity: 2})
	require.NoError(t, err)

	_, err = f.svc.ApproveTransfer(f.manager, transfer.ID)
	require.ErrorIs(t, err, domain.ErrInsufficientAvailable)
	assert.Equal(t, 0, f.record(t, "prod-a", floor).ReservedQuantity)
	assert.Equal(t, 0, f.record(t, "prod-b", floor).ReservedQuantity)

	stored, err := f.svc.GetTransfer(context.Background(), transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusPending, stored.Status)
}

func TestCancelApprovedTransferReleasesReservations(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "prod-a", floor, 30)
	transfer := newTransfer(t, f, domain.TransferItemRequest{ProductID: "prod-a", Quantity: 12})
	_, err := f.svc.ApproveTransfer(f.manager, transfer.ID)
	require.NoError(t, err)

	_, err = f.svc.CancelTransfer(f.manager, transfer.ID, "")
	require.ErrorIs(t, err, domain.ErrInvalidRequest)

	cancelled, err := f.svc.CancelTransfer(f.manager, transfer.ID, "store closed")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusCancelled, cancelled.Status)
	assert.Equal(t, "store closed", cancelled.CancelReason)
	source := f.record(t, "prod-a", floor)
	assert.Equal(t, 30, source.CurrentQuantity)
	assert.Equal(t, 0, source.ReservedQuantity)

	pending, err := f.svc.ListTransfers(context.Background(), domain.TransferFilter{StoreID: testStore, Status: domain.TransferStatusCancelled})
	require.NoError(t, err)
	require.Len(t, pending, 1)

	_, err = f.svc.ShipTransfer(f.manager, transfer.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransferState)
}

func TestTransferShipRequiresApproval(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "prod-a", floor, 10)
	transfer := newTransfer(t, f, domain.TransferItemRequest{ProductID: "prod-a", Quantity: 4})

	_, err := f.svc.ShipTransfer(f.manager, transfer.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransferState)
	_, err = f.svc.ReceiveTransfer(f.manager, transfer.ID, domain.ReceiveTransferRequest{Items: []domain.ReceiveLine{{ItemID: transfer.Items[0].ID, ReceivedQuantity: 4}}})
	require.ErrorIs(t, err, domain.ErrInvalidTransferState)
	assert.Equal(t, 10, f.record(t, "prod-a", floor).CurrentQuantity)
}
