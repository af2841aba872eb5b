package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"retailerp/backend/internal/domain"
	"retailerp/backend/internal/store"
	"retailerp/backend/internal/xid"
)

var _ store.Repository = (*Store)(nil)

const SeedStoreID = "main-store"

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	productsByCode  map[string]string
	inventory       map[string]domain.InventoryRecord
	movements       []domain.InventoryMovement
	discounts       map[string]domain.Discount
	discountsByCode map[string]string
	orders          map[string]domain.SalesOrder
	ordersByNumber  map[string]string
	payments        map[string]domain.Payment
	transfers       map[string]domain.StockTransfer
	shifts          map[string]domain.Shift
	swaps           map[string]domain.ShiftSwap
	loginEvents     []domain.LoginEvent
	businessDays    map[string]domain.BusinessDay
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		productsByCode:  make(map[string]string),
		inventory:       make(map[string]domain.InventoryRecord),
		movements:       make([]domain.InventoryMovement, 0, 256),
		discounts:       make(map[string]domain.Discount),
		discountsByCode: make(map[string]string),
		orders:          make(map[string]domain.SalesOrder),
		ordersByNumber:  make(map[string]string),
		payments:        make(map[string]domain.Payment),
		transfers:       make(map[string]domain.StockTransfer),
		shifts:          make(map[string]domain.Shift),
		swaps:           make(map[string]domain.ShiftSwap),
		loginEvents:     make([]domain.LoginEvent, 0, 64),
		businessDays:    make(map[string]domain.BusinessDay),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Passwords come from SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and
// SEED_CASHIER_PASSWORD; dev defaults are used when unset (see UsingDefaultSeedCredentials).
// The backend uses PostgreSQL when DATABASE_URL is set, so these never reach
// production.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	managerPwd := envOr("SEED_MANAGER_PASSWORD", "manager123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"manager", managerPwd, domain.RoleManager},
		{"cashier", cashierPwd, domain.RoleCashier},
		{"cashier2", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			continue
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			StoreID:   SeedStoreID,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

// UsingDefaultSeedCredentials reports whether any seed account falls back to
// its well-known dev password.
func UsingDefaultSeedCredentials() bool {
	for _, key := range []string{"SEED_ADMIN_PASSWORD", "SEED_MANAGER_PASSWORD", "SEED_CASHIER_PASSWORD"} {
		if os.Getenv(key) == "" {
			return true
		}
	}
	return false
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with demo products, stock for two stores and a
// warehouse, a couple of discount codes and the dev user accounts.
func NewSeeded() *Store {
	s := New()
	products := []domain.Product{
		{ID: "prod-rice-5kg", SKU: "SKU-RICE-5KG", Barcode: "8991001000011", Name: "Rice 5kg", UnitPrice: money("12.50"), UnitCost: money("9.10"), MinimumStockLevel: 20, MaximumStockLevel: 400},
		{ID: "prod-eggs-10", SKU: "SKU-EGGS-10", Barcode: "8991001000028", Name: "Eggs 10 pack", UnitPrice: money("3.20"), UnitCost: money("2.40"), MinimumStockLevel: 30, MaximumStockLevel: 300},
		{ID: "prod-milk-1l", SKU: "SKU-MILK-1L", Barcode: "8991001000035", Name: "UHT Milk 1L", UnitPrice: money("1.89"), UnitCost: money("1.25"), MinimumStockLevel: 40, MaximumStockLevel: 500},
		{ID: "prod-bread", SKU: "SKU-BREAD", Barcode: "8991001000042", Name: "White Bread", UnitPrice: money("2.15"), UnitCost: money("1.40"), MinimumStockLevel: 15, MaximumStockLevel: 150},
		{ID: "prod-coffee", SKU: "SKU-COFFEE-200", Barcode: "8991001000059", Name: "Ground Coffee 200g", UnitPrice: money("6.75"), UnitCost: money("4.10"), MinimumStockLevel: 10, MaximumStockLevel: 200},
		{ID: "prod-sugar-1kg", SKU: "SKU-SUGAR-1KG", Barcode: "8991001000066", Name: "Sugar 1kg", UnitPrice: money("1.74"), UnitCost: money("1.30"), MinimumStockLevel: 25, MaximumStockLevel: 300},
		{ID: "prod-water-600", SKU: "SKU-WATER-600", Barcode: "8991001000073", Name: "Mineral Water 600ml", UnitPrice: money("0.39"), UnitCost: money("0.21"), MinimumStockLevel: 60, MaximumStockLevel: 1000},
		{ID: "prod-soap", SKU: "SKU-SOAP", Barcode: "8991001000080", Name: "Bath Soap", UnitPrice: money("0.74"), UnitCost: money("0.45"), MinimumStockLevel: 20, MaximumStockLevel: 250},
	}
	zeroRate := decimal.Zero
	products[6].TaxRate = &zeroRate

	now := time.Now().UTC()
	locations := []struct {
		loc domain.LocationRef
		qty int
	}{
		{domain.LocationRef{StoreID: SeedStoreID}, 120},
		{domain.LocationRef{StoreID: "branch-store"}, 40},
		{domain.LocationRef{StoreID: SeedStoreID, WarehouseID: "wh-central"}, 600},
	}
	for _, p := range products {
		p.Active = true
		s.AddProduct(p)
		for _, l := range locations {
			rec := domain.NewInventoryRecord(xid.New("inv"), p, l.loc)
			rec.CurrentQuantity = l.qty
			rec.TotalValue = domain.Money(p.UnitCost.Mul(decimal.NewFromInt(int64(l.qty))))
			rec.LastUpdated = now
			rec.LastUpdatedBy = "seed"
			s.inventory[inventoryKey(p.ID, l.loc)] = rec
		}
	}

	maxWelcome := money("50")
	welcomeUses := 1000
	s.AddDiscount(domain.Discount{ID: "disc-welcome10", Code: "WELCOME10", Name: "Welcome 10%", Type: domain.DiscountPercentage, Value: money("10"), MaxDiscountAmount: &maxWelcome, MaxUsageCount: &welcomeUses, Active: true})
	s.AddDiscount(domain.Discount{ID: "disc-flat5", Code: "FLAT5", Name: "5 off 20", Type: domain.DiscountFixedAmount, Value: money("5"), MinPurchaseAmount: money("20"), Active: true})

	s.usersByUsername = seedUsers()
	return s
}

// AddProduct registers master data. Products are owned by the catalogue, so
// the repository contract only reads them.
func (s *Store) AddProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.ID] = product
	if product.Barcode != "" {
		s.productsByCode[product.Barcode] = product.ID
	}
}

func (s *Store) AddDiscount(discount domain.Discount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if discount.ID == "" {
		discount.ID = xid.New("disc")
	}
	s.discounts[discount.ID] = discount
	s.discountsByCode[strings.ToUpper(discount.Code)] = discount.ID
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	defer s.rlock(ctx)()

	product, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: product %s", domain.ErrNotFound, id)
	}
	return &product, nil
}

func (s *Store) GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	defer s.rlock(ctx)()

	id, ok := s.productsByCode[barcode]
	if !ok {
		return nil, fmt.Errorf("%w: barcode %s", domain.ErrNotFound, barcode)
	}
	product := s.products[id]
	return &product, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	defer s.rlock(ctx)()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return cmpString(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) GetDiscountByCode(ctx context.Context, code string) (*domain.Discount, error) {
	defer s.rlock(ctx)()

	id, ok := s.discountsByCode[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return nil, fmt.Errorf("%w: discount %s", domain.ErrNotFound, code)
	}
	discount := s.discounts[id]
	return &discount, nil
}

func (s *Store) IncrementDiscountUsage(ctx context.Context, discountID string) error {
	defer s.wlock(ctx)()

	discount, ok := s.discounts[discountID]
	if !ok {
		return fmt.Errorf("%w: discount %s", domain.ErrNotFound, discountID)
	}
	if discount.Exhausted() {
		return fmt.Errorf("%w: %s", domain.ErrDiscountExhausted, discount.Code)
	}
	remember(ctx, s.discounts, discountID)
	discount.CurrentUsageCount++
	s.discounts[discountID] = discount
	return nil
}

func (s *Store) ReleaseDiscountUsage(ctx context.Context, discountID string) error {
	defer s.wlock(ctx)()

	discount, ok := s.discounts[discountID]
	if !ok {
		return fmt.Errorf("%w: discount %s", domain.ErrNotFound, discountID)
	}
	if discount.CurrentUsageCount == 0 {
		return nil
	}
	remember(ctx, s.discounts, discountID)
	discount.CurrentUsageCount--
	s.discounts[discountID] = discount
	return nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	defer s.wlock(ctx)()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	rememberLen(ctx, &s.auditLogs)
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	defer s.rlock(ctx)()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if storeID != "" && entry.StoreID != storeID {
			continue
		}
		if !inWindow(entry.CreatedAt, from, to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return truncate(result, limit), nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	defer s.wlock(ctx)()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return domain.Invalidf("username and password are required")
	}
	if _, exists := s.usersByUsername[username]; exists {
		return domain.Invalidf("username %s already exists", username)
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	remember(ctx, s.usersByUsername, username)
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	defer s.rlock(ctx)()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	defer s.wlock(ctx)()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return domain.Invalidf("username and password are required")
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return fmt.Errorf("%w: user %s", domain.ErrNotFound, username)
	}
	remember(ctx, s.usersByUsername, username)
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func money(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func newestFirst(a time.Time, b time.Time) int {
	switch {
	case a.After(b):
		return -1
	case a.Before(b):
		return 1
	}
	return 0
}

// inWindow reports whether at falls in [from, to); zero bounds are open.
func inWindow(at time.Time, from time.Time, to time.Time) bool {
	if !from.IsZero() && at.Before(from) {
		return false
	}
	if !to.IsZero() && !at.Before(to) {
		return false
	}
	return true
}

func truncate[T any](list []T, limit int) []T {
	if limit > 0 && len(list) > limit {
		return list[:limit]
	}
	return list
}
