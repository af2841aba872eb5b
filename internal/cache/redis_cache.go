package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"retailerp/backend/internal/domain"
)

const cartKeyPrefix = "retailerp:cart:"

// RedisCartStore shares carts between API replicas. Every Put refreshes the
// TTL so abandoned carts expire on their own.
type RedisCartStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCartStore(addr string, password string, db int, ttl time.Duration) *RedisCartStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &RedisCartStore{client: client, ttl: ttl}
}

func (c *RedisCartStore) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return domain.NewStorageError("redis ping", err)
	}
	return nil
}

func (c *RedisCartStore) Close() error {
	return c.client.Close()
}

func (c *RedisCartStore) Get(ctx context.Context, cartID string) (*domain.Cart, error) {
	return decodeCart(cartID, "redis get cart", c.client.Get(ctx, cartKeyPrefix+cartID))
}

// Take relies on GETDEL so the read and the delete are one atomic command.
func (c *RedisCartStore) Take(ctx context.Context, cartID string) (*domain.Cart, error) {
	return decodeCart(cartID, "redis take cart", c.client.GetDel(ctx, cartKeyPrefix+cartID))
}

func decodeCart(cartID string, op string, cmd *redis.StringCmd) (*domain.Cart, error) {
	val, err := cmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: cart %s", domain.ErrNotFound, cartID)
	}
	if err != nil {
		return nil, domain.NewStorageError(op, err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(val, &cart); err != nil {
		return nil, domain.NewStorageError("decode cart", err)
	}
	return &cart, nil
}

func (c *RedisCartStore) Put(ctx context.Context, cart domain.Cart) error {
	payload, err := json.Marshal(cart)
	if err != nil {
		return domain.NewStorageError("encode cart", err)
	}
	if err := c.client.Set(ctx, cartKeyPrefix+cart.ID, payload, c.ttl).Err(); err != nil {
		return domain.NewStorageError("redis put cart", err)
	}
	return nil
}

func (c *RedisCartStore) Delete(ctx context.Context, cartID string) error {
	if err := c.client.Del(ctx, cartKeyPrefix+cartID).Err(); err != nil {
		return domain.NewStorageError("redis delete cart", err)
	}
	return nil
}
