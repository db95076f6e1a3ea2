// Package cache keeps hot catalog lookups in process memory.
package cache

import (
	"context"
	"strings"
	"time"

	"hotelbook/internal/domain"
	"hotelbook/internal/metrics"
	"hotelbook/internal/models"

	"github.com/karlseguin/ccache/v3"
)

// Catalog is a read-through cache in front of another Catalog. Missing entries are not
// cached so a later seed becomes visible without waiting for the TTL.
type Catalog struct {
	next      domain.Catalog
	ttl       time.Duration
	props     *ccache.Cache[*models.Property]
	roomTypes *ccache.Cache[*models.RoomType]
	lists     *ccache.Cache[[]*models.RoomType]
	promos    *ccache.Cache[*models.PromoCode]
}

func NewCatalog(next domain.Catalog, maxSize int64, ttl time.Duration) *Catalog {
	return &Catalog{
		next:      next,
		ttl:       ttl,
		props:     ccache.New(ccache.Configure[*models.Property]().MaxSize(maxSize)),
		roomTypes: ccache.New(ccache.Configure[*models.RoomType]().MaxSize(maxSize)),
		lists:     ccache.New(ccache.Configure[[]*models.RoomType]().MaxSize(maxSize)),
		promos:    ccache.New(ccache.Configure[*models.PromoCode]().MaxSize(maxSize)),
	}
}

func (c *Catalog) GetProperty(ctx context.Context, propertyID string) (*models.Property, error) {
	return readThrough(c.props, propertyID, c.ttl, func() (*models.Property, error) {
		return c.next.GetProperty(ctx, propertyID)
	})
}

func (c *Catalog) GetRoomType(ctx context.Context, propertyID, roomTypeID string) (*models.RoomType, error) {
	return readThrough(c.roomTypes, propertyID+"/"+roomTypeID, c.ttl, func() (*models.RoomType, error) {
		return c.next.GetRoomType(ctx, propertyID, roomTypeID)
	})
}

func (c *Catalog) GetRoomTypeByID(ctx context.Context, roomTypeID string) (*models.RoomType, error) {
	return readThrough(c.roomTypes, "/"+roomTypeID, c.ttl, func() (*models.RoomType, error) {
		return c.next.GetRoomTypeByID(ctx, roomTypeID)
	})
}

func (c *Catalog) ListRoomTypes(ctx context.Context, propertyID string) ([]*models.RoomType, error) {
	return readThrough(c.lists, propertyID, c.ttl, func() ([]*models.RoomType, error) {
		return c.next.ListRoomTypes(ctx, propertyID)
	})
}

func (c *Catalog) GetPromoCode(ctx context.Context, code string) (*models.PromoCode, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	return readThrough(c.promos, code, c.ttl, func() (*models.PromoCode, error) {
		return c.next.GetPromoCode(ctx, code)
	})
}

// Purge drops everything, e.g. after the catalog was re-seeded.
func (c *Catalog) Purge() {
	c.props.Clear()
	c.roomTypes.Clear()
	c.lists.Clear()
	c.promos.Clear()
}

// Stop ends the cache worker goroutines. The Catalog must not be used afterwards.
func (c *Catalog) Stop() {
	c.props.Stop()
	c.roomTypes.Stop()
	c.lists.Stop()
	c.promos.Stop()
}

func readThrough[T any](cache *ccache.Cache[T], key string, ttl time.Duration, load func() (T, error)) (T, error) {
	if item := cache.Get(key); item != nil && !item.Expired() {
		metrics.IncCache(true)
		return item.Value(), nil
	}
	metrics.IncCache(false)

	v, err := load()
	if err != nil {
		return v, err
	}
	if !isEmpty(v) {
		cache.Set(key, v, ttl)
	}
	return v, nil
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case *models.Property:
		return x == nil
	case *models.RoomType:
		return x == nil
	case *models.PromoCode:
		return x == nil
	case []*models.RoomType:
		return len(x) == 0
	}
	return false
}
