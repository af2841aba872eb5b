package store

import (
	"context"
	"time"

	"retailerp/backend/internal/domain"
)

// TxManager runs fn inside one atomic unit. Repository calls made with the ctx
// handed to fn join that unit; a nested WithTransaction joins the outer one.
type TxManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Repository is the persistence contract shared by the memory and postgres
// stores. Lock* methods take a row lock for the rest of the transaction and
// must be called with a transactional ctx.
type Repository interface {
	TxManager

	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)

	GetInventory(ctx context.Context, productID string, loc domain.LocationRef) (*domain.InventoryRecord, error)
	LockInventory(ctx context.Context, productID string, loc domain.LocationRef) (*domain.InventoryRecord, error)
	// LockOrCreateInventory locks the record for record's key, inserting record
	// first when none exists yet.
	LockOrCreateInventory(ctx context.Context, record domain.InventoryRecord) (*domain.InventoryRecord, error)
	SaveInventory(ctx context.Context, record domain.InventoryRecord) error
	ListInventory(ctx context.Context, filter domain.InventoryFilter) ([]domain.InventoryRecord, error)
	CreateMovement(ctx context.Context, movement domain.InventoryMovement) error
	ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.InventoryMovement, error)

	GetDiscountByCode(ctx context.Context, code string) (*domain.Discount, error)
	IncrementDiscountUsage(ctx context.Context, discountID string) error
	ReleaseDiscountUsage(ctx context.Context, discountID string) error

	CreateOrder(ctx context.Context, order domain.SalesOrder) error
	GetOrder(ctx context.Context, id string) (*domain.SalesOrder, error)
	GetOrderByNumber(ctx context.Context, number string) (*domain.SalesOrder, error)
	LockOrder(ctx context.Context, id string) (*domain.SalesOrder, error)
	UpdateOrder(ctx context.Context, order domain.SalesOrder) error
	ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.SalesOrder, error)
	ReturnedQuantities(ctx context.Context, originalOrderID string) (map[string]int, error)

	CreatePayment(ctx context.Context, payment domain.Payment) error
	GetPayment(ctx context.Context, id string) (*domain.Payment, error)
	LockPayment(ctx context.Context, id string) (*domain.Payment, error)
	UpdatePayment(ctx context.Context, payment domain.Payment) error
	ListPaymentsByOrder(ctx context.Context, orderID string) ([]domain.Payment, error)
	ListPayments(ctx context.Context, filter domain.PaymentFilter) ([]domain.Payment, error)

	CreateTransfer(ctx context.Context, transfer domain.StockTransfer) error
	GetTransfer(ctx context.Context, id string) (*domain.StockTransfer, error)
	LockTransfer(ctx context.Context, id string) (*domain.StockTransfer, error)
	UpdateTransfer(ctx context.Context, transfer domain.StockTransfer) error
	ListTransfers(ctx context.Context, filter domain.TransferFilter) ([]domain.StockTransfer, error)

	CreateShift(ctx context.Context, shift domain.Shift) error
	GetShift(ctx context.Context, id string) (*domain.Shift, error)
	LockShift(ctx context.Context, id string) (*domain.Shift, error)
	UpdateShift(ctx context.Context, shift domain.Shift) error
	FindActiveShiftByUser(ctx context.Context, userID string) (*domain.Shift, error)
	ListShifts(ctx context.Context, filter domain.ShiftFilter) ([]domain.Shift, error)

	CreateShiftSwap(ctx context.Context, swap domain.ShiftSwap) error
	GetShiftSwap(ctx context.Context, id string) (*domain.ShiftSwap, error)
	LockShiftSwap(ctx context.Context, id string) (*domain.ShiftSwap, error)
	UpdateShiftSwap(ctx context.Context, swap domain.ShiftSwap) error
	ListShiftSwaps(ctx context.Context, filter domain.SwapFilter) ([]domain.ShiftSwap, error)

	CreateLoginEvent(ctx context.Context, event domain.LoginEvent) error
	ListLoginEvents(ctx context.Context, userID string, from time.Time, to time.Time) ([]domain.LoginEvent, error)

	GetBusinessDay(ctx context.Context, storeID string, date string) (*domain.BusinessDay, error)
	SaveBusinessDay(ctx context.Context, day domain.BusinessDay) error

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// CartStore keeps carts between requests. Carts are last-write-wins per id.
type CartStore interface {
	Get(ctx context.Context, cartID string) (*domain.Cart, error)
	Put(ctx context.Context, cart domain.Cart) error
	Delete(ctx context.Context, cartID string) error
	// Take removes the cart and returns it. Of two concurrent callers only
	// one gets the cart; the other sees ErrNotFound.
	Take(ctx context.Context, cartID string) (*domain.Cart, error)
}
