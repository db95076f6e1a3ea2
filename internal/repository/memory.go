package repository

import (
	"context"
	"sync"
	"time"
)

// MemoryIdempotencyStore is the in-process fallback used when Redis is unreachable. It is
// only correct for a single instance.
type MemoryIdempotencyStore struct {
	mu         sync.Mutex
	bindings   map[string]binding
	rateLimits map[string]*rateLimitEntry
	now        func() time.Time
}

type binding struct {
	bookingID string
	expiresAt time.Time
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		bindings:   make(map[string]binding),
		rateLimits: make(map[string]*rateLimitEntry),
		now:        time.Now,
	}
}

func (r *MemoryIdempotencyStore) GetBookingID(_ context.Context, userID, key string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bindings[idempotencyKey(userID, key)]
	if !ok || r.now().After(b.expiresAt) {
		return "", nil
	}
	return b.bookingID, nil
}

func (r *MemoryIdempotencyStore) SetBookingID(_ context.Context, userID, key, bookingID string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := idempotencyKey(userID, key)
	if b, ok := r.bindings[k]; ok && !r.now().After(b.expiresAt) {
		return nil
	}
	r.bindings[k] = binding{bookingID: bookingID, expiresAt: r.now().Add(ttl)}
	return nil
}

func (r *MemoryIdempotencyStore) CheckRateLimit(_ context.Context, userID string, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	entry, ok := r.rateLimits[userID]
	if !ok || now.After(entry.expiresAt) {
		entry = &rateLimitEntry{expiresAt: now.Add(window)}
		r.rateLimits[userID] = entry
	}
	entry.count++
	return entry.count <= limit, nil
}
