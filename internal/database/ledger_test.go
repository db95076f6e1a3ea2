package database

import (
	"context"
	"errors"
	"testing"

	"hotelbook/internal/calendar"
	"hotelbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetAvailability(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	seedCatalog(t, db)
	ctx := context.Background()

	_, _, nights := stayFrom(t, 10, 3)
	provision(t, db, "rt_deluxe", nights[:2], 5, 5, 100)
	require.NoError(t, db.UpsertAvailability(ctx, &models.AvailabilityRecord{
		RoomTypeID: "rt_deluxe", Date: nights[1], AvailableRooms: 1, TotalRooms: 5, PricePerNight: 120,
	}))

	t.Run("MissingNightCountsAsZero", func(t *testing.T) {
		av, err := db.GetAvailability(ctx, "rt_deluxe", nights, 1)
		require.NoError(t, err)
		assert.False(t, av.AllAvailable)
		assert.Equal(t, 0, av.MinAvailable)
		assert.Equal(t, 0, av.AvailablePerNight()[calendar.Format(nights[2])])
	})

	t.Run("MinimumAcrossNights", func(t *testing.T) {
		av, err := db.GetAvailability(ctx, "rt_deluxe", nights[:2], 2)
		require.NoError(t, err)
		assert.False(t, av.AllAvailable)
		assert.Equal(t, 1, av.MinAvailable)

		av, err = db.GetAvailability(ctx, "rt_deluxe", nights[:2], 1)
		require.NoError(t, err)
		assert.True(t, av.AllAvailable)
	})

	t.Run("BlockedNight", func(t *testing.T) {
		require.NoError(t, db.UpsertAvailability(ctx, &models.AvailabilityRecord{
			RoomTypeID: "rt_deluxe", Date: nights[0], AvailableRooms: 5, TotalRooms: 5, PricePerNight: 100, IsBlocked: true,
		}))
		av, err := db.GetAvailability(ctx, "rt_deluxe", nights[:1], 1)
		require.NoError(t, err)
		assert.False(t, av.AllAvailable)
		assert.Error(t, db.Reserve(ctx, "rt_deluxe", nights[:1], 1))
	})
}

func TestReserveIsAllOrNothing(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	seedCatalog(t, db)
	ctx := context.Background()

	_, _, nights := stayFrom(t, 10, 3)
	provision(t, db, "rt_deluxe", nights, 5, 5, 100)
	require.NoError(t, db.UpsertAvailability(ctx, &models.AvailabilityRecord{
		RoomTypeID: "rt_deluxe", Date: nights[2], AvailableRooms: 1, TotalRooms: 5, PricePerNight: 100,
	}))

	err := db.Reserve(ctx, "rt_deluxe", nights, 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientAvailability))

	records, err := db.GetAvailabilityRecords(ctx, "rt_deluxe", nights)
	require.NoError(t, err)
	assert.Equal(t, 5, records[calendar.Format(nights[0])].AvailableRooms)
	assert.Equal(t, 5, records[calendar.Format(nights[1])].AvailableRooms)
	assert.Equal(t, 1, records[calendar.Format(nights[2])].AvailableRooms)
}

func TestReserveAndRelease(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	seedCatalog(t, db)
	ctx := context.Background()

	_, _, nights := stayFrom(t, 10, 2)
	provision(t, db, "rt_deluxe", nights, 5, 5, 100)

	require.NoError(t, db.Reserve(ctx, "rt_deluxe", nights, 2))
	av, err := db.GetAvailability(ctx, "rt_deluxe", nights, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, av.MinAvailable)

	require.NoError(t, db.Release(ctx, "rt_deluxe", nights, 2))
	av, err = db.GetAvailability(ctx, "rt_deluxe", nights, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, av.MinAvailable)

	t.Run("ReleaseIsClampedAtTotal", func(t *testing.T) {
		require.NoError(t, db.Release(ctx, "rt_deluxe", nights, 3))
		av, err := db.GetAvailability(ctx, "rt_deluxe", nights, 1)
		require.NoError(t, err)
		assert.Equal(t, 5, av.MinAvailable)
	})

	t.Run("ReleaseWithoutRowIsNoop", func(t *testing.T) {
		_, _, other := stayFrom(t, 40, 1)
		assert.NoError(t, db.Release(ctx, "rt_deluxe", other, 1))
	})

	t.Run("RejectsNonPositiveRooms", func(t *testing.T) {
		assert.Error(t, db.Reserve(ctx, "rt_deluxe", nights, 0))
	})
}
