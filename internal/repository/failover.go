package repository

import (
	"context"
	"sync/atomic"
	"time"

	"hotelbook/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverIdempotencyStore uses the primary store and switches to the fallback when the
// primary errors. It retries the primary once recoveryInterval has passed.
type FailoverIdempotencyStore struct {
	primary  domain.IdempotencyStore
	fallback domain.IdempotencyStore
	logger   *zerolog.Logger
	downAt   atomic.Int64 // unix nanos; zero while the primary is healthy
	now      func() time.Time
}

func NewFailoverIdempotencyStore(primary, fallback domain.IdempotencyStore, logger *zerolog.Logger) *FailoverIdempotencyStore {
	return &FailoverIdempotencyStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

func (r *FailoverIdempotencyStore) usePrimary() bool {
	downAt := r.downAt.Load()
	return downAt == 0 || r.now().Sub(time.Unix(0, downAt)) > recoveryInterval
}

func (r *FailoverIdempotencyStore) markDown(err error) {
	if r.downAt.Swap(r.now().UnixNano()) == 0 {
		r.logger.Error().Err(err).Msg("Primary idempotency store failed, falling back to memory")
	}
}

func (r *FailoverIdempotencyStore) markUp() {
	if r.downAt.Swap(0) != 0 {
		r.logger.Info().Msg("Primary idempotency store recovered")
	}
}

func (r *FailoverIdempotencyStore) GetBookingID(ctx context.Context, userID, key string) (string, error) {
	if r.usePrimary() {
		id, err := r.primary.GetBookingID(ctx, userID, key)
		if err == nil {
			r.markUp()
			return id, nil
		}
		r.markDown(err)
	}
	return r.fallback.GetBookingID(ctx, userID, key)
}

func (r *FailoverIdempotencyStore) SetBookingID(ctx context.Context, userID, key, bookingID string, ttl time.Duration) error {
	if r.usePrimary() {
		err := r.primary.SetBookingID(ctx, userID, key, bookingID, ttl)
		if err == nil {
			r.markUp()
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.SetBookingID(ctx, userID, key, bookingID, ttl)
}

func (r *FailoverIdempotencyStore) CheckRateLimit(ctx context.Context, userID string, limit int, window time.Duration) (bool, error) {
	if r.usePrimary() {
		allowed, err := r.primary.CheckRateLimit(ctx, userID, limit, window)
		if err == nil {
			r.markUp()
			return allowed, nil
		}
		r.markDown(err)
	}
	return r.fallback.CheckRateLimit(ctx, userID, limit, window)
}
