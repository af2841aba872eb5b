package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailerp/backend/internal/cache"
	"retailerp/backend/internal/domain"
	"retailerp/backend/internal/events"
	"retailerp/backend/internal/metrics"
	"retailerp/backend/internal/store/memory"
	"retailerp/backend/internal/xid"
)

const testStore = "store-1"

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, event := range p.events {
		out = append(out, event.Type)
	}
	return out
}

type fixture struct {
	svc       *Service
	repo      *memory.Store
	carts     *cache.MemoryCartStore
	publisher *recordingPublisher
	cashier   context.Context
	cashier2  context.Context
	manager   context.Context
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := memory.New()
	repo.AddProduct(domain.Product{ID: "prod-a", SKU: "SKU-A", Barcode: "1001", Name: "Product A", UnitPrice: dec("10.00"), UnitCost: dec("6.00"), MinimumStockLevel: 2, Active: true})
	repo.AddProduct(domain.Product{ID: "prod-b", SKU: "SKU-B", Barcode: "1002", Name: "Product B", UnitPrice: dec("5.00"), UnitCost: dec("3.00"), Active: true})
	repo.AddProduct(domain.Product{ID: "prod-off", SKU: "SKU-OFF", Name: "Retired", UnitPrice: dec("1.00"), Active: false})

	carts := cache.NewMemoryCartStore()
	publisher := &recordingPublisher{}
	svc := New(repo, carts, Options{
		DefaultStoreID: testStore,
		DefaultTaxRate: decimal.Zero,
		Publisher:      publisher,
		Metrics:        metrics.New(),
	})

	return &fixture{
		svc:       svc,
		repo:      repo,
		carts:     carts,
		publisher: publisher,
		cashier:   WithActor(context.Background(), domain.Actor{UserID: "cashier-1", Role: domain.RoleCashier}),
		cashier2:  WithActor(context.Background(), domain.Actor{UserID: "cashier-2", Role: domain.RoleCashier}),
		manager:   WithActor(context.Background(), domain.Actor{UserID: "manager-1", Role: domain.RoleManager}),
	}
}

func (f *fixture) stock(t *testing.T, productID string, loc domain.LocationRef, qty int) {
	t.Helper()
	_, err := f.svc.Credit(f.manager, domain.LedgerRequest{ProductID: productID, Location: loc, Quantity: qty, Reason: "opening stock"})
	require.NoError(t, err)
}

func (f *fixture) record(t *testing.T, productID string, loc domain.LocationRef) domain.InventoryRecord {
	t.Helper()
	record, err := f.svc.GetInventory(context.Background(), productID, loc)
	require.NoError(t, err)
	require.NoError(t, record.CheckInvariant())
	return record
}

// putCart stores a cart directly, skipping the advisory availability check.
func (f *fixture) putCart(t *testing.T, lines map[string]int) domain.Cart {
	t.Helper()
	cart := domain.NewCart(xid.New("cart"), testStore, "cashier-1", time.Now())
	for _, productID := range []string{"prod-a", "prod-b"} {
		qty, ok := lines[productID]
		if !ok {
			continue
		}
		product, err := f.svc.GetProduct(context.Background(), productID)
		require.NoError(t, err)
		_, err = cart.AddProduct("item-"+productID, product, qty, decimal.Zero)
		require.NoError(t, err)
	}
	require.NoError(t, f.carts.Put(context.Background(), *cart))
	return *cart
}

func (f *fixture) checkout(t *testing.T, lines map[string]int) domain.SalesOrder {
	t.Helper()
	cart := f.putCart(t, lines)
	order, err := f.svc.Checkout(f.cashier, domain.CheckoutRequest{CartID: cart.ID})
	require.NoError(t, err)
	return order
}

var floor = domain.LocationRef{StoreID: testStore}

func TestLedgerCreditCreatesRecordAtDefaultStore(t *testing.T) {
	f := newFixture(t)

	record, err := f.svc.Credit(f.manager, domain.LedgerRequest{ProductID: "prod-a", Quantity: 7, Reason: "delivery"})
	require.NoError(t, err)
	assert.Equal(t, testStore, record.StoreID)
	assert.Equal(t, domain.DefaultBinLocation, record.Location)
	assert.Equal(t, 2, record.MinimumStockLevel)
	assert.Equal(t, 7, record.CurrentQuantity)
	assert.True(t, record.TotalValue.Equal(dec("42")))
	assert.Equal(t, "manager-1", record.LastUpdatedBy)

	movements, err := f.svc.ListMovements(context.Background(), domain.MovementFilter{ProductID: "prod-a"})
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, domain.MovementCredit, movements[0].Kind)
	assert.Equal(t, 7, movements[0].CurrentAfter)
}

func TestLedgerRejectsMissingRecordAndBadQuantity(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Deduct(f.cashier, domain.LedgerRequest{ProductID: "prod-a", Location: floor, Quantity: 1})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	_, err = f.svc.Reserve(f.cashier, domain.LedgerRequest{ProductID: "prod-a", Location: floor, Quantity: 1})
	require.ErrorIs(t, err, domain.ErrInsufficientAvailable)

	_, err = f.svc.Release(f.cashier, domain.LedgerRequest{ProductID: "prod-a", Location: floor, Quantity: 1})
	require.ErrorIs(t, err, domain.ErrOverRelease)

	_, err = f.svc.Credit(f.cashier, domain.LedgerRequest{ProductID: "prod-a", Location: floor, Quantity: 0})
	require.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = f.svc.Credit(f.cashier, domain.LedgerRequest{ProductID: "missing", Location: floor, Quantity: 1})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLedgerReservationsBlockDeduct(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "prod-a", floor, 10)

	_, err := f.svc.Reserve(f.manager, domain.LedgerRequest{ProductID: "prod-a", Location: floor, Quantity: 8})
	require.NoError(t, err)

	_, err = f.svc.Deduct(f.cashier, domain.LedgerRequest{ProductID: "prod-a", Location: floor, Quantity: 3})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	_, err = f.svc.Release(f.manager, domain.LedgerRequest{ProductID: "prod-a", Location: floor, Quantity: 9})
	require.ErrorIs(t, err, domain.ErrOverRelease)

	record := f.record(t, "prod-a", floor)
	assert.Equal(t, 10, record.CurrentQuantity)
	assert.Equal(t, 8, record.ReservedQuantity)
	assert.Equal(t, 2, record.AvailableQuantity())
}

func TestLedgerConcurrentDeductsNeverOversell(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "prod-a", floor, 30)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, fail int
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Deduct(f.cashier, domain.LedgerRequest{ProductID: "prod-a", Location: floor, Quantity: 1})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrInsufficientStock)
				fail++
				return
			}
			ok++
		}()
	}
	wg.Wait()

	assert.Equal(t, 30, ok)
	assert.Equal(t, 10, fail)
	assert.Equal(t, 0, f.record(t, "prod-a", floor).CurrentQuantity)
}

func TestInventoryQueries(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "prod-a", floor, 1)
	f.stock(t, "prod-b", floor, 4)
	f.stock(t, "prod-b", domain.LocationRef{StoreID: testStore, WarehouseID: "wh-1"}, 9)

	low, err := f.svc.LowStock(context.Background(), testStore)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, "prod-a", low[0].ProductID)

	_, err = f.svc.Deduct(f.cashier, domain.LedgerRequest{ProductID: "prod-a", Location: floor, Quantity: 1})
	require.NoError(t, err)
	out, err := f.svc.OutOfStock(context.Background(), testStore)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "prod-a", out[0].ProductID)

	byLocation, err := f.svc.InventoryByLocation(context.Background(), floor)
	require.NoError(t, err)
	assert.Len(t, byLocation, 2)

	byProduct, err := f.svc.InventoryByProduct(context.Background(), "prod-b")
	require.NoError(t, err)
	assert.Len(t, byProduct, 2)

	assert.Contains(t, f.publisher.types(), events.TypeInventoryLow)
}
