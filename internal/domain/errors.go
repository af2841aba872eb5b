package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrForbidden      = errors.New("forbidden")

	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrInsufficientAvailable = errors.New("insufficient available stock")
	ErrOverRelease           = errors.New("release exceeds reserved quantity")
	ErrInsufficientInventory = errors.New("insufficient inventory for cart")

	ErrInvalidOrderState    = errors.New("invalid order state")
	ErrInvalidTransferState = errors.New("invalid transfer state")
	ErrInvalidSwapState     = errors.New("invalid shift swap state")
	ErrInvalidPaymentState  = errors.New("invalid payment state")
	ErrShiftNotActive       = errors.New("shift is not active")

	ErrOverpaymentRejected   = errors.New("payment exceeds remaining balance")
	ErrSplitMismatch         = errors.New("split payment total does not match order total")
	ErrReturnExceedsPurchase = errors.New("return quantity exceeds purchased quantity")
	ErrOverReceipt           = errors.New("received and damaged quantity exceeds requested quantity")
	ErrRefundExceedsPayment  = errors.New("refund exceeds refundable amount")

	ErrDiscountExhausted     = errors.New("discount usage limit reached")
	ErrDiscountNotApplicable = errors.New("discount not applicable")

	ErrActiveShiftExists    = errors.New("user already has an active shift")
	ErrActiveShiftsPresent  = errors.New("store still has active shifts")
	ErrSameLocationTransfer = errors.New("cannot transfer to the same store")

	ErrCheckoutFailed = errors.New("checkout failed")
)

// StorageError marks infrastructure failures (database, cache) so callers can
// tell them apart from business rule violations.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *StorageError
	if errors.As(err, &existing) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

func IsStorage(err error) bool {
	var storageErr *StorageError
	return errors.As(err, &storageErr)
}

// Invalidf wraps ErrInvalidRequest with a caller facing message.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

func wrapTransition(invalid error, machine string, from string, event string) error {
	return fmt.Errorf("%w: %s cannot %s from %s", invalid, machine, event, from)
}
