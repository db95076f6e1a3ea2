package database

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"hotelbook/internal/domain"
	"hotelbook/internal/events"
	"hotelbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateBooking(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	seedCatalog(t, db)
	ctx := context.Background()

	checkIn, checkOut, nights := stayFrom(t, 20, 2)
	provision(t, db, "rt_deluxe", nights, 5, 5, 100)

	b := newTestBooking("bkg_1", checkIn, checkOut, 2)
	b.IdempotencyKey = "idem-1"
	require.NoError(t, db.CreateBooking(ctx, b))
	assert.Equal(t, int64(1), b.Version)

	av, err := db.GetAvailability(ctx, "rt_deluxe", nights, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, av.MinAvailable)

	got, err := db.GetBooking(ctx, "bkg_1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, b.Reference, got.Reference)
	assert.True(t, checkIn.Equal(got.CheckIn))
	assert.Equal(t, 2, got.Room.NumberOfRooms)
	assert.Len(t, got.Room.NightlyRates, 2)
	assert.Equal(t, "4242", got.Payment.TokenLast4)
	assert.Equal(t, "bkg_1", got.Payment.BookingID)
	assert.Nil(t, got.CancelledAt)
	assert.Nil(t, got.RefundAmount)

	byRef, err := db.GetBookingByReference(ctx, "rbkg_1")
	require.NoError(t, err)
	require.NotNil(t, byRef)
	assert.Equal(t, "bkg_1", byRef.ID)

	byKey, err := db.GetBookingByIdempotencyKey(ctx, "user_1", "idem-1")
	require.NoError(t, err)
	require.NotNil(t, byKey)
	assert.Equal(t, "bkg_1", byKey.ID)

	none, err := db.GetBooking(ctx, "bkg_missing")
	require.NoError(t, err)
	assert.Nil(t, none)

	pending, err := db.GetPendingOutboxEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, events.EventBookingCreated, pending[0].EventType)

	var payload events.BookingEventPayload
	require.NoError(t, json.Unmarshal([]byte(pending[0].Payload), &payload))
	assert.Equal(t, "bkg_1", payload.BookingID)
	assert.Equal(t, 2, payload.Rooms)
}

func TestCreateBooking_InsufficientAvailability(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	seedCatalog(t, db)
	ctx := context.Background()

	checkIn, checkOut, nights := stayFrom(t, 20, 2)
	provision(t, db, "rt_deluxe", nights, 3, 5, 100)

	err := db.CreateBooking(ctx, newTestBooking("bkg_big", checkIn, checkOut, 4))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientAvailability))

	got, err := db.GetBooking(ctx, "bkg_big")
	require.NoError(t, err)
	assert.Nil(t, got)

	av, err := db.GetAvailability(ctx, "rt_deluxe", nights, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, av.MinAvailable)

	pending, err := db.GetPendingOutboxEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCreateBooking_Duplicates(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	seedCatalog(t, db)
	ctx := context.Background()

	checkIn, checkOut, nights := stayFrom(t, 20, 1)
	provision(t, db, "rt_deluxe", nights, 5, 5, 100)

	first := newTestBooking("bkg_a", checkIn, checkOut, 1)
	first.IdempotencyKey = "same"
	require.NoError(t, db.CreateBooking(ctx, first))

	dupRef := newTestBooking("bkg_b", checkIn, checkOut, 1)
	dupRef.Reference = first.Reference
	assert.ErrorIs(t, db.CreateBooking(ctx, dupRef), ErrDuplicateReference)

	dupKey := newTestBooking("bkg_c", checkIn, checkOut, 1)
	dupKey.IdempotencyKey = "same"
	assert.ErrorIs(t, db.CreateBooking(ctx, dupKey), ErrDuplicateIdempotencyKey)

	av, err := db.GetAvailability(ctx, "rt_deluxe", nights, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, av.MinAvailable)
}

func TestCancelBooking(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	seedCatalog(t, db)
	ctx := context.Background()

	checkIn, checkOut, nights := stayFrom(t, 20, 2)
	provision(t, db, "rt_deluxe", nights, 5, 5, 100)

	b := newTestBooking("bkg_1", checkIn, checkOut, 2)
	require.NoError(t, db.CreateBooking(ctx, b))

	cancelledAt := time.Now().UTC()
	got, err := db.CancelBooking(ctx, domain.Cancellation{
		BookingID: "bkg_1", ExpectedVersion: 1, CancelledAt: cancelledAt, RefundAmount: 468,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	require.NotNil(t, got.RefundAmount)
	assert.Equal(t, 468.0, *got.RefundAmount)
	assert.Equal(t, int64(2), got.Version)

	av, err := db.GetAvailability(ctx, "rt_deluxe", nights, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, av.MinAvailable)

	stored, err := db.GetBooking(ctx, "bkg_1")
	require.NoError(t, err)
	require.NotNil(t, stored.CancelledAt)
	assert.WithinDuration(t, cancelledAt, *stored.CancelledAt, time.Second)

	t.Run("SecondCancelFails", func(t *testing.T) {
		_, err := db.CancelBooking(ctx, domain.Cancellation{BookingID: "bkg_1", ExpectedVersion: 2, CancelledAt: time.Now()})
		assert.ErrorIs(t, err, ErrAlreadyCancelled)

		av, err := db.GetAvailability(ctx, "rt_deluxe", nights, 1)
		require.NoError(t, err)
		assert.Equal(t, 5, av.MinAvailable)
	})

	t.Run("StaleVersion", func(t *testing.T) {
		other := newTestBooking("bkg_2", checkIn, checkOut, 1)
		require.NoError(t, db.CreateBooking(ctx, other))
		_, err := db.CancelBooking(ctx, domain.Cancellation{BookingID: "bkg_2", ExpectedVersion: 7, CancelledAt: time.Now()})
		assert.ErrorIs(t, err, ErrConcurrentModification)
	})

	t.Run("Completed", func(t *testing.T) {
		done := newTestBooking("bkg_3", checkIn, checkOut, 1)
		require.NoError(t, db.CreateBooking(ctx, done))
		_, err := db.ExecContext(ctx, `UPDATE bookings SET status = ? WHERE id = ?`, models.StatusCompleted, "bkg_3")
		require.NoError(t, err)

		_, err = db.CancelBooking(ctx, domain.Cancellation{BookingID: "bkg_3", ExpectedVersion: 1, CancelledAt: time.Now()})
		assert.ErrorIs(t, err, ErrCannotCancelCompleted)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := db.CancelBooking(ctx, domain.Cancellation{BookingID: "bkg_missing", ExpectedVersion: 1})
		assert.ErrorIs(t, err, ErrBookingNotFound)
	})

	t.Run("OutboxHasCancellation", func(t *testing.T) {
		pending, err := db.GetPendingOutboxEvents(ctx, 50)
		require.NoError(t, err)
		var cancelled int
		for _, ev := range pending {
			if ev.EventType == events.EventBookingCancelled {
				cancelled++
				assert.Equal(t, "bkg_1", ev.BookingID)
			}
		}
		assert.Equal(t, 1, cancelled)
	})
}

func TestListUserBookings(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	seedCatalog(t, db)
	ctx := context.Background()

	checkIn, checkOut, nights := stayFrom(t, 20, 1)
	provision(t, db, "rt_deluxe", nights, 5, 5, 100)

	ids := []string{"bkg_1", "bkg_2", "bkg_3", "bkg_4", "bkg_5"}
	for _, id := range ids {
		require.NoError(t, db.CreateBooking(ctx, newTestBooking(id, checkIn, checkOut, 1)))
	}
	_, err := db.CancelBooking(ctx, domain.Cancellation{BookingID: "bkg_2", ExpectedVersion: 1, CancelledAt: time.Now()})
	require.NoError(t, err)

	t.Run("PagesNewestFirst", func(t *testing.T) {
		var seen []string
		token := ""
		for {
			page, err := db.ListUserBookings(ctx, domain.UserBookingsQuery{UserID: "user_1", Limit: 2, NextToken: token, Today: time.Now()})
			require.NoError(t, err)
			for _, b := range page.Bookings {
				seen = append(seen, b.ID)
			}
			if !page.HasMore {
				assert.Empty(t, page.NextToken)
				break
			}
			require.NotEmpty(t, page.NextToken)
			token = page.NextToken
		}
		assert.Equal(t, []string{"bkg_5", "bkg_4", "bkg_3", "bkg_2", "bkg_1"}, seen)
	})

	t.Run("FilterByStatus", func(t *testing.T) {
		page, err := db.ListUserBookings(ctx, domain.UserBookingsQuery{UserID: "user_1", Status: models.StatusCancelled, Today: time.Now()})
		require.NoError(t, err)
		require.Len(t, page.Bookings, 1)
		assert.Equal(t, "bkg_2", page.Bookings[0].ID)
	})

	t.Run("Upcoming", func(t *testing.T) {
		page, err := db.ListUserBookings(ctx, domain.UserBookingsQuery{UserID: "user_1", Status: models.TripUpcoming, Today: time.Now()})
		require.NoError(t, err)
		assert.Len(t, page.Bookings, 4)
	})

	t.Run("Past", func(t *testing.T) {
		page, err := db.ListUserBookings(ctx, domain.UserBookingsQuery{UserID: "user_1", Status: models.TripPast, Today: time.Now()})
		require.NoError(t, err)
		assert.Empty(t, page.Bookings)
	})

	t.Run("OtherUser", func(t *testing.T) {
		page, err := db.ListUserBookings(ctx, domain.UserBookingsQuery{UserID: "user_2", Today: time.Now()})
		require.NoError(t, err)
		assert.Empty(t, page.Bookings)
		assert.False(t, page.HasMore)
	})

	t.Run("BadToken", func(t *testing.T) {
		_, err := db.ListUserBookings(ctx, domain.UserBookingsQuery{UserID: "user_1", NextToken: "!!!"})
		assert.ErrorIs(t, err, domain.ErrInvalidCursor)
	})
}

func TestListPropertyBookings(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	seedCatalog(t, db)
	ctx := context.Background()

	checkIn, checkOut, nights := stayFrom(t, 20, 3)
	provision(t, db, "rt_deluxe", nights, 5, 5, 100)
	require.NoError(t, db.CreateBooking(ctx, newTestBooking("bkg_1", checkIn, checkOut, 1)))

	overlapping, err := db.ListPropertyBookings(ctx, "prop_1", checkIn.AddDate(0, 0, 2), checkIn.AddDate(0, 0, 10))
	require.NoError(t, err)
	assert.Len(t, overlapping, 1)

	after, err := db.ListPropertyBookings(ctx, "prop_1", checkOut, checkOut.AddDate(0, 0, 5))
	require.NoError(t, err)
	assert.Empty(t, after)
}
