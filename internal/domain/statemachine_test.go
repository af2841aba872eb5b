package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransferMachineTable(t *testing.T) {
	cases := []struct {
		from TransferStatus
		to   TransferStatus
		ok   bool
	}{
		{TransferStatusPending, TransferStatusApproved, true},
		{TransferStatusApproved, TransferStatusInTransit, true},
		{TransferStatusInTransit, TransferStatusReceived, true},
		{TransferStatusInTransit, TransferStatusPartiallyReceived, true},
		{TransferStatusPending, TransferStatusCancelled, true},
		{TransferStatusApproved, TransferStatusCancelled, true},
		{TransferStatusInTransit, TransferStatusCancelled, false},
		{TransferStatusReceived, TransferStatusCancelled, false},
		{TransferStatusCancelled, TransferStatusCancelled, false},
		{TransferStatusPending, TransferStatusInTransit, false},
		{TransferStatusPartiallyReceived, TransferStatusReceived, false},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.ok, TransferMachine.CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestMachineApplyRejectsUnknownEvent(t *testing.T) {
	_, err := TransferMachine.Apply(TransferStatusInTransit, TransferEventCancel)
	require.ErrorIs(t, err, ErrInvalidTransferState)

	_, err = ShiftMachine.Apply(ShiftStatusCompleted, ShiftEventEnd)
	require.ErrorIs(t, err, ErrShiftNotActive)

	_, err = OrderMachine.Apply(OrderStatusReturned, OrderEventCancel)
	require.ErrorIs(t, err, ErrInvalidOrderState)
}

func TestSwapMachineOnlyManagerApprovalFromApproved(t *testing.T) {
	assert.False(t, SwapMachine.CanTransition(SwapStatusPending, SwapStatusManagerApproved))
	assert.True(t, SwapMachine.CanTransition(SwapStatusApproved, SwapStatusManagerApproved))
	assert.False(t, SwapMachine.CanTransition(SwapStatusManagerApproved, SwapStatusCancelled))
	assert.False(t, SwapMachine.CanTransition(SwapStatusRejected, SwapStatusRejected))

	swap := ShiftSwap{Status: SwapStatusPending}
	require.NoError(t, swap.Apply(SwapEventAccept))
	require.NoError(t, swap.Apply(SwapEventManagerApprove))
	assert.Equal(t, SwapStatusManagerApproved, swap.Status)
	require.ErrorIs(t, swap.Apply(SwapEventReject), ErrInvalidSwapState)
}

func TestMachineEventsListsOutgoingEdges(t *testing.T) {
	assert.ElementsMatch(t, []TransferEvent{TransferEventApprove, TransferEventCancel}, TransferMachine.Events(TransferStatusPending))
	assert.Empty(t, TransferMachine.Events(TransferStatusReceived))
}
