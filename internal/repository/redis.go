package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hotelbook/internal/config"

	"github.com/redis/go-redis/v9"
)

// RedisIdempotencyStore keeps idempotency bindings and booking attempt counters in Redis.
type RedisIdempotencyStore struct {
	client *redis.Client
}

// NewRedisClient builds a go-redis client from config.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisIdempotencyStore(client *redis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

func idempotencyKey(userID, key string) string {
	return fmt.Sprintf("idem:%s:%s", userID, key)
}

func (r *RedisIdempotencyStore) GetBookingID(ctx context.Context, userID, key string) (string, error) {
	if r.client == nil {
		return "", fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, idempotencyKey(userID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get idempotency key from redis: %w", err)
	}
	return val, nil
}

// SetBookingID binds the key only if it is not bound yet; the first booking wins.
func (r *RedisIdempotencyStore) SetBookingID(ctx context.Context, userID, key, bookingID string, ttl time.Duration) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.SetNX(ctx, idempotencyKey(userID, key), bookingID, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set idempotency key in redis: %w", err)
	}
	return nil
}

// CheckRateLimit counts attempts in a fixed window and reports whether this one is allowed.
func (r *RedisIdempotencyStore) CheckRateLimit(ctx context.Context, userID string, limit int, window time.Duration) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	key := "rate_limit:booking:" + userID

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit: %w", err)
	}
	if count == 1 {
		if err := r.client.Expire(ctx, key, window).Err(); err != nil {
			return false, fmt.Errorf("failed to set rate limit window: %w", err)
		}
	}
	return count <= int64(limit), nil
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
