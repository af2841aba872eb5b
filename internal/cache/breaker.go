package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"retailerp/backend/internal/domain"
	"retailerp/backend/internal/store"
)

type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          15 * time.Second,
		FailureThreshold: 5,
	}
}

// BreakerCartStore stops hammering an unhealthy cart backend. A missing cart
// is a normal answer and never counts as a failure.
type BreakerCartStore struct {
	next store.CartStore
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerCartStore(next store.CartStore, cfg BreakerConfig, logger *zap.Logger) *BreakerCartStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("cart store circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &BreakerCartStore{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerCartStore) State() gobreaker.State {
	return b.cb.State()
}

type cartLookup struct {
	cart     *domain.Cart
	notFound error
}

func (b *BreakerCartStore) Get(ctx context.Context, cartID string) (*domain.Cart, error) {
	return b.lookup(func() (*domain.Cart, error) { return b.next.Get(ctx, cartID) })
}

func (b *BreakerCartStore) Take(ctx context.Context, cartID string) (*domain.Cart, error) {
	return b.lookup(func() (*domain.Cart, error) { return b.next.Take(ctx, cartID) })
}

func (b *BreakerCartStore) lookup(fetch func() (*domain.Cart, error)) (*domain.Cart, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		cart, err := fetch()
		if errors.Is(err, domain.ErrNotFound) {
			return cartLookup{notFound: err}, nil
		}
		if err != nil {
			return nil, err
		}
		return cartLookup{cart: cart}, nil
	})
	if err != nil {
		return nil, b.wrap(err)
	}
	lookup := result.(cartLookup)
	if lookup.notFound != nil {
		return nil, lookup.notFound
	}
	return lookup.cart, nil
}

func (b *BreakerCartStore) Put(ctx context.Context, cart domain.Cart) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Put(ctx, cart)
	})
	return b.wrap(err)
}

func (b *BreakerCartStore) Delete(ctx context.Context, cartID string) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Delete(ctx, cartID)
	})
	return b.wrap(err)
}

func (b *BreakerCartStore) wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.NewStorageError("cart store", fmt.Errorf("%s unavailable: %w", b.cb.Name(), err))
	}
	return err
}
