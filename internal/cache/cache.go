package cache

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"retailerp/backend/internal/domain"
	"retailerp/backend/internal/store"
)

var (
	_ store.CartStore = (*MemoryCartStore)(nil)
	_ store.CartStore = (*RedisCartStore)(nil)
	_ store.CartStore = (*BreakerCartStore)(nil)
)

// MemoryCartStore keeps carts in process. It is the default when no redis
// address is configured.
type MemoryCartStore struct {
	mu    sync.RWMutex
	carts map[string]domain.Cart
}

func NewMemoryCartStore() *MemoryCartStore {
	return &MemoryCartStore{carts: make(map[string]domain.Cart)}
}

func (m *MemoryCartStore) Get(_ context.Context, cartID string) (*domain.Cart, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cart, ok := m.carts[cartID]
	if !ok {
		return nil, fmt.Errorf("%w: cart %s", domain.ErrNotFound, cartID)
	}
	cart = cloneCart(cart)
	return &cart, nil
}

func (m *MemoryCartStore) Put(_ context.Context, cart domain.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[cart.ID] = cloneCart(cart)
	return nil
}

func (m *MemoryCartStore) Delete(_ context.Context, cartID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, cartID)
	return nil
}

func (m *MemoryCartStore) Take(_ context.Context, cartID string) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cart, ok := m.carts[cartID]
	if !ok {
		return nil, fmt.Errorf("%w: cart %s", domain.ErrNotFound, cartID)
	}
	delete(m.carts, cartID)
	return &cart, nil
}

func cloneCart(src domain.Cart) domain.Cart {
	dst := src
	dst.Items = slices.Clone(src.Items)
	if src.Discount != nil {
		discount := *src.Discount
		dst.Discount = &discount
	}
	return dst
}
