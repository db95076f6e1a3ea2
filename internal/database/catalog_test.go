package database

import (
	"context"
	"testing"
	"time"

	"hotelbook/internal/calendar"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogLookups(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	seedCatalog(t, db)
	ctx := context.Background()

	p, err := db.GetProperty(ctx, "prop_1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Lisbon", p.City)

	missing, err := db.GetProperty(ctx, "prop_nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	rt, err := db.GetRoomType(ctx, "prop_1", "rt_deluxe")
	require.NoError(t, err)
	require.NotNil(t, rt)
	assert.Equal(t, 3, rt.MaxOccupancy)
	assert.Equal(t, "USD", rt.Currency)

	wrongProperty, err := db.GetRoomType(ctx, "prop_2", "rt_deluxe")
	require.NoError(t, err)
	assert.Nil(t, wrongProperty)

	list, err := db.ListRoomTypes(ctx, "prop_1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "rt_deluxe", list[0].ID)

	promo, err := db.GetPromoCode(ctx, "Summer10")
	require.NoError(t, err)
	require.NotNil(t, promo)
	assert.Equal(t, "SUMMER10", promo.Code)
	assert.True(t, promo.IsActive)

	none, err := db.GetPromoCode(ctx, "NOPE")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestSeedCatalogIsUpsert(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	seedCatalog(t, db)
	seedCatalog(t, db)

	list, err := db.ListRoomTypes(context.Background(), "prop_1")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestProvisionAvailability(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	seedCatalog(t, db)
	ctx := context.Background()

	rt, err := db.GetRoomTypeByID(ctx, "rt_deluxe")
	require.NoError(t, err)

	from := calendar.Date(time.Now())
	created, err := db.ProvisionAvailability(ctx, rt, from, 10)
	require.NoError(t, err)
	assert.Equal(t, 10, created)

	nights := []time.Time{from.AddDate(0, 0, 3)}
	require.NoError(t, db.Reserve(ctx, rt.ID, nights, 2))

	created, err = db.ProvisionAvailability(ctx, rt, from, 12)
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	records, err := db.GetAvailabilityRecords(ctx, rt.ID, nights)
	require.NoError(t, err)
	assert.Equal(t, 3, records[calendar.Format(nights[0])].AvailableRooms)
}
