package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"hotelbook/internal/apperr"
	"hotelbook/internal/calendar"
	"hotelbook/internal/database"
	"hotelbook/internal/domain"
	"hotelbook/internal/events"
	"hotelbook/internal/models"
	"hotelbook/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc *BookingService
	db  *database.DB
	bus *events.EventBus
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	require.NoError(t, db.SeedCatalog(ctx, &models.CatalogSeed{
		Properties: []models.Property{
			{ID: "prop_1", Name: "Harbor View", City: "Lisbon", Country: "PT", Currency: "USD"},
			{ID: "prop_2", Name: "Empty Inn", City: "Porto", Country: "PT", Currency: "USD"},
		},
		RoomTypes: []models.RoomType{
			{ID: "rt_deluxe", PropertyID: "prop_1", Name: "Deluxe King", MaxOccupancy: 3, TotalRooms: 5, BasePricePerNight: 100},
			{ID: "rt_suite", PropertyID: "prop_1", Name: "Suite", MaxOccupancy: 4, TotalRooms: 2, BasePricePerNight: 250},
		},
		PromoCodes: []models.PromoCode{
			{Code: "SUMMER10", Description: "Summer", DiscountType: models.DiscountPercentage, DiscountValue: 10, IsActive: true},
		},
	}))

	today := calendar.Date(time.Now())
	for _, id := range []string{"rt_deluxe", "rt_suite"} {
		rt, err := db.GetRoomTypeByID(ctx, id)
		require.NoError(t, err)
		_, err = db.ProvisionAvailability(ctx, rt, today, 60)
		require.NoError(t, err)
	}

	bus := events.NewEventBus()
	svc := NewBookingService(db, nil, repository.NewMemoryIdempotencyStore(), bus, opts, &logger)
	return &fixture{svc: svc, db: db, bus: bus}
}

func stay(offset, nights int) (time.Time, time.Time) {
	checkIn := calendar.Date(time.Now()).AddDate(0, 0, offset)
	return checkIn, checkIn.AddDate(0, 0, nights)
}

func bookingRequest(offset, nights, rooms int) models.CreateBookingRequest {
	checkIn, checkOut := stay(offset, nights)
	return models.CreateBookingRequest{
		UserID:        "user_1",
		PropertyID:    "prop_1",
		RoomTypeID:    "rt_deluxe",
		CheckIn:       checkIn,
		CheckOut:      checkOut,
		Rooms:         rooms,
		Adults:        2,
		Guest:         models.Guest{FirstName: "Ana", LastName: "Silva", Email: "ana@example.com", Phone: "+351910000000"},
		PaymentMethod: "card",
		PaymentToken:  "tok_visa_4242",
	}
}

func (f *fixture) minAvailable(t *testing.T, roomTypeID string, offset, nights int) int {
	t.Helper()
	checkIn, checkOut := stay(offset, nights)
	days, err := calendar.ExpandNights(checkIn, checkOut)
	require.NoError(t, err)
	a, err := f.db.GetAvailability(context.Background(), roomTypeID, days, 1)
	require.NoError(t, err)
	return a.MinAvailable
}

func TestBookingLifecycle(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	var (
		mu        sync.Mutex
		published []string
	)
	for _, et := range []string{events.EventBookingCreated, events.EventBookingCancelled} {
		f.bus.Subscribe(et, func(e *events.Event) error {
			var p events.BookingEventPayload
			if err := json.Unmarshal(e.Payload, &p); err != nil {
				return err
			}
			mu.Lock()
			published = append(published, e.Type+":"+p.Status)
			mu.Unlock()
			return nil
		})
	}

	booking, err := f.svc.CreateBooking(ctx, bookingRequest(20, 2, 2))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(booking.ID, "bkg_"))
	assert.Len(t, booking.Reference, models.ReferenceLength)
	assert.Equal(t, models.StatusConfirmed, booking.Status)
	assert.Equal(t, 2, booking.Nights)
	assert.Equal(t, 400.0, booking.Subtotal)
	assert.Equal(t, 48.0, booking.Taxes)
	assert.Equal(t, 20.0, booking.ServiceFee)
	assert.Equal(t, 468.0, booking.TotalAmount)
	assert.Equal(t, "Harbor View", booking.PropertyName)
	assert.Equal(t, models.PaymentStatusCompleted, booking.Payment.Status)
	assert.Equal(t, "4242", booking.Payment.TokenLast4)
	assert.True(t, strings.HasPrefix(booking.Payment.PaymentID, "pay_"))
	assert.True(t, strings.HasPrefix(booking.Payment.TransactionID, "txn_"))
	assert.Equal(t, 100.0, booking.Room.PricePerNight)
	assert.Len(t, booking.Room.NightlyRates, 2)
	assert.Equal(t, 3, f.minAvailable(t, "rt_deluxe", 20, 2))

	_, err = f.svc.CreateBooking(ctx, bookingRequest(20, 2, 4))
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInsufficientAvailability, apperr.CodeOf(err))
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, 3, f.minAvailable(t, "rt_deluxe", 20, 2))

	result, err := f.svc.CancelBooking(ctx, booking.ID, "user_1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, result.Status)
	assert.Equal(t, 468.0, result.RefundAmount)
	assert.Equal(t, 100, result.RefundPercentage)
	assert.Equal(t, 20, result.DaysUntilCheckIn)
	assert.Equal(t, models.RefundMethod, result.RefundMethod)
	assert.Equal(t, models.RefundProcessingTime, result.ProcessingTime)
	assert.Equal(t, 5, f.minAvailable(t, "rt_deluxe", 20, 2))

	stored, err := f.svc.GetBooking(ctx, booking.ID, "user_1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, stored.Status)
	require.NotNil(t, stored.RefundAmount)
	assert.Equal(t, 468.0, *stored.RefundAmount)

	_, err = f.svc.CancelBooking(ctx, booking.ID, "user_1")
	assert.True(t, errors.Is(err, apperr.ErrAlreadyCancelled))
	assert.Equal(t, 5, f.minAvailable(t, "rt_deluxe", 20, 2))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"booking.created:confirmed", "booking.cancelled:cancelled"}, published)

	outbox, err := f.db.GetPendingOutboxEvents(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, outbox, 2)
}

func TestCreateBooking_Validation(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(r *models.CreateBookingRequest)
		code   string
	}{
		{"past check-in", func(r *models.CreateBookingRequest) {
			r.CheckIn, r.CheckOut = stay(-1, 2)
		}, apperr.CodeInvalidDates},
		{"check-out before check-in", func(r *models.CreateBookingRequest) {
			r.CheckOut = r.CheckIn
		}, apperr.CodeInvalidDates},
		{"stay too long", func(r *models.CreateBookingRequest) {
			r.CheckIn, r.CheckOut = stay(1, 31)
		}, apperr.CodeInvalidDates},
		{"missing dates", func(r *models.CreateBookingRequest) {
			r.CheckIn = time.Time{}
		}, apperr.CodeInvalidDates},
		{"missing guest email", func(r *models.CreateBookingRequest) {
			r.Guest.Email = ""
		}, apperr.CodeValidation},
		{"malformed guest email", func(r *models.CreateBookingRequest) {
			r.Guest.Email = "ana-at-example"
		}, apperr.CodeValidation},
		{"missing phone", func(r *models.CreateBookingRequest) {
			r.Guest.Phone = " "
		}, apperr.CodeValidation},
		{"negative children", func(r *models.CreateBookingRequest) {
			r.Children = -1
		}, apperr.CodeValidation},
		{"negative rooms", func(r *models.CreateBookingRequest) {
			r.Rooms = -2
		}, apperr.CodeValidation},
		{"missing payment method", func(r *models.CreateBookingRequest) {
			r.PaymentMethod = ""
		}, apperr.CodeValidation},
		{"missing room type", func(r *models.CreateBookingRequest) {
			r.RoomTypeID = ""
		}, apperr.CodeValidation},
		{"unknown property", func(r *models.CreateBookingRequest) {
			r.PropertyID = "prop_404"
		}, apperr.CodeNotFound},
		{"room type of another property", func(r *models.CreateBookingRequest) {
			r.PropertyID = "prop_2"
		}, apperr.CodeNotFound},
		{"too many guests", func(r *models.CreateBookingRequest) {
			r.Adults, r.Children = 3, 1
		}, apperr.CodeOccupancyExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := bookingRequest(10, 2, 1)
			tt.mutate(&req)
			_, err := f.svc.CreateBooking(ctx, req)
			require.Error(t, err)
			assert.Equal(t, tt.code, apperr.CodeOf(err))
		})
	}

	assert.Equal(t, 5, f.minAvailable(t, "rt_deluxe", 10, 2))
}

func TestCreateBooking_Defaults(t *testing.T) {
	f := newFixture(t, Options{})

	req := bookingRequest(5, 1, 0)
	req.Adults = 0
	req.UserID = ""
	req.Guest.Email = "Guest@Example.com"

	booking, err := f.svc.CreateBooking(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, booking.Adults)
	assert.Equal(t, 0, booking.Children)
	assert.Equal(t, 1, booking.Rooms)
	assert.Equal(t, "guest@example.com", booking.UserID)
}

func TestCreateBooking_PromoAppliedAtCommit(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	req := bookingRequest(15, 2, 2)
	req.PromoCode = "summer10"

	quote, err := f.svc.CalculatePricing(ctx, models.PricingRequest{
		RoomTypeID: req.RoomTypeID, CheckIn: req.CheckIn, CheckOut: req.CheckOut, Rooms: req.Rooms, PromoCode: req.PromoCode,
	})
	require.NoError(t, err)

	booking, err := f.svc.CreateBooking(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 40.0, booking.Discount)
	assert.Equal(t, 428.0, booking.TotalAmount)
	assert.Equal(t, "SUMMER10", booking.PromoCode)
	assert.Equal(t, quote.Total, booking.TotalAmount)
}

func TestCreateBooking_Idempotent(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	req := bookingRequest(12, 3, 1)
	req.IdempotencyKey = "key-123"

	first, err := f.svc.CreateBooking(ctx, req)
	require.NoError(t, err)
	second, err := f.svc.CreateBooking(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 4, f.minAvailable(t, "rt_deluxe", 12, 3))

	// Without the Redis binding the unique column still resolves the replay.
	f.svc.idem = nil
	third, err := f.svc.CreateBooking(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)

	other := req
	other.UserID = "user_2"
	fourth, err := f.svc.CreateBooking(ctx, other)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, fourth.ID)
	assert.Equal(t, 3, f.minAvailable(t, "rt_deluxe", 12, 3))
}

func TestCreateBooking_RateLimited(t *testing.T) {
	f := newFixture(t, Options{RateLimitAttempts: 1, RateLimitWindow: time.Minute})
	ctx := context.Background()

	_, err := f.svc.CreateBooking(ctx, bookingRequest(8, 1, 1))
	require.NoError(t, err)

	_, err = f.svc.CreateBooking(ctx, bookingRequest(9, 1, 1))
	assert.True(t, errors.Is(err, apperr.ErrRateLimited))
}

func TestCreateBooking_ReferenceCollisionRetried(t *testing.T) {
	f := newFixture(t, Options{ReferenceAttempts: 3})
	ctx := context.Background()

	refs := []string{"AAAAAAAA", "AAAAAAAA", "BBBBBBBB"}
	f.svc.newReference = func() (string, error) {
		ref := refs[0]
		refs = refs[1:]
		return ref, nil
	}

	first, err := f.svc.CreateBooking(ctx, bookingRequest(30, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, "AAAAAAAA", first.Reference)

	second, err := f.svc.CreateBooking(ctx, bookingRequest(30, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, "BBBBBBBB", second.Reference)
	assert.Equal(t, 3, f.minAvailable(t, "rt_deluxe", 30, 1))
}

func TestCreateBooking_ReferenceAttemptsExhausted(t *testing.T) {
	f := newFixture(t, Options{ReferenceAttempts: 2})
	ctx := context.Background()

	f.svc.newReference = func() (string, error) { return "CCCCCCCC", nil }

	_, err := f.svc.CreateBooking(ctx, bookingRequest(31, 1, 1))
	require.NoError(t, err)

	_, err = f.svc.CreateBooking(ctx, bookingRequest(31, 1, 1))
	require.Error(t, err)
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
	assert.Equal(t, 4, f.minAvailable(t, "rt_deluxe", 31, 1))
}

func TestCancelBooking_Rules(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	booking, err := f.svc.CreateBooking(ctx, bookingRequest(5, 2, 1))
	require.NoError(t, err)

	_, err = f.svc.CancelBooking(ctx, "bkg_missing", "user_1")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))

	_, err = f.svc.CancelBooking(ctx, booking.ID, "user_2")
	assert.Equal(t, apperr.CodeUnauthorized, apperr.CodeOf(err))

	realNow := f.svc.now
	f.svc.now = func() time.Time { return realNow().AddDate(0, 0, 7) }
	_, err = f.svc.CancelBooking(ctx, booking.ID, "user_1")
	assert.True(t, errors.Is(err, apperr.ErrStayAlreadyStarted))
	f.svc.now = realNow

	result, err := f.svc.CancelBooking(ctx, booking.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 25, result.RefundPercentage)
	assert.Equal(t, 58.5, result.RefundAmount)
}

func TestCheckAvailability(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	checkIn, checkOut := stay(3, 2)

	_, err := f.svc.CreateBooking(ctx, bookingRequest(3, 2, 2))
	require.NoError(t, err)

	single, err := f.svc.CheckAvailability(ctx, models.AvailabilityRequest{
		PropertyID: "prop_1", RoomTypeID: "rt_deluxe", CheckIn: checkIn, CheckOut: checkOut, Rooms: 3,
	})
	require.NoError(t, err)
	assert.True(t, single.Available)
	assert.Equal(t, 3, single.RoomsAvailable)
	assert.Len(t, single.Daily, 2)
	require.NotNil(t, single.Quote)
	assert.Equal(t, 600.0, single.Quote.RoomSubtotal)

	tooMany, err := f.svc.CheckAvailability(ctx, models.AvailabilityRequest{
		PropertyID: "prop_1", RoomTypeID: "rt_deluxe", CheckIn: checkIn, CheckOut: checkOut, Rooms: 4,
	})
	require.NoError(t, err)
	assert.False(t, tooMany.Available)

	all, err := f.svc.CheckAvailability(ctx, models.AvailabilityRequest{
		PropertyID: "prop_1", CheckIn: checkIn, CheckOut: checkOut,
	})
	require.NoError(t, err)
	assert.True(t, all.Available)
	require.Len(t, all.RoomTypes, 2)
	assert.Equal(t, "rt_deluxe", all.RoomTypes[0].RoomTypeID)
	assert.Equal(t, 3, all.RoomTypes[0].RoomsAvailable)
	assert.Equal(t, 234.0, all.RoomTypes[0].TotalPrice)
	assert.Equal(t, "rt_suite", all.RoomTypes[1].RoomTypeID)
	assert.Equal(t, 585.0, all.RoomTypes[1].TotalPrice)

	_, err = f.svc.CheckAvailability(ctx, models.AvailabilityRequest{PropertyID: "prop_2", CheckIn: checkIn, CheckOut: checkOut})
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))

	_, err = f.svc.CheckAvailability(ctx, models.AvailabilityRequest{PropertyID: "prop_1", CheckIn: checkOut, CheckOut: checkIn})
	assert.Equal(t, apperr.CodeInvalidDates, apperr.CodeOf(err))
}

func TestCalculatePricing_UnknownRoomType(t *testing.T) {
	f := newFixture(t, Options{})
	checkIn, checkOut := stay(3, 2)

	_, err := f.svc.CalculatePricing(context.Background(), models.PricingRequest{RoomTypeID: "rt_none", CheckIn: checkIn, CheckOut: checkOut})
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestListUserBookings(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		b, err := f.svc.CreateBooking(ctx, bookingRequest(40+i, 1, 1))
		require.NoError(t, err)
		ids = append(ids, b.ID)
		time.Sleep(2 * time.Millisecond)
	}

	page, err := f.svc.ListUserBookings(ctx, domain.UserBookingsQuery{UserID: "user_1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Bookings, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, ids[2], page.Bookings[0].ID)
	assert.Equal(t, ids[1], page.Bookings[1].ID)

	next, err := f.svc.ListUserBookings(ctx, domain.UserBookingsQuery{UserID: "user_1", Limit: 2, NextToken: page.NextToken})
	require.NoError(t, err)
	require.Len(t, next.Bookings, 1)
	assert.Equal(t, ids[0], next.Bookings[0].ID)
	assert.False(t, next.HasMore)

	upcoming, err := f.svc.ListUserBookings(ctx, domain.UserBookingsQuery{UserID: "user_1", Status: "upcoming"})
	require.NoError(t, err)
	assert.Len(t, upcoming.Bookings, 3)

	_, err = f.svc.ListUserBookings(ctx, domain.UserBookingsQuery{UserID: "user_1", Status: "archived"})
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

	_, err = f.svc.ListUserBookings(ctx, domain.UserBookingsQuery{UserID: "user_1", NextToken: "%%%"})
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

	_, err = f.svc.ListUserBookings(ctx, domain.UserBookingsQuery{UserID: "user_1", Limit: 500})
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

	_, err = f.svc.ListUserBookings(ctx, domain.UserBookingsQuery{})
	assert.Equal(t, apperr.CodeUnauthorized, apperr.CodeOf(err))
}

func TestGetBookingByReference(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	booking, err := f.svc.CreateBooking(ctx, bookingRequest(6, 1, 1))
	require.NoError(t, err)

	found, err := f.svc.GetBookingByReference(ctx, strings.ToLower(booking.Reference), "user_1")
	require.NoError(t, err)
	assert.Equal(t, booking.ID, found.ID)

	_, err = f.svc.GetBookingByReference(ctx, booking.Reference, "user_9")
	assert.Equal(t, apperr.CodeUnauthorized, apperr.CodeOf(err))

	_, err = f.svc.GetBookingByReference(ctx, "ZZZZZZZZ", "")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestListPropertyBookings(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.svc.CreateBooking(ctx, bookingRequest(10, 3, 1))
	require.NoError(t, err)
	_, err = f.svc.CreateBooking(ctx, bookingRequest(25, 2, 1))
	require.NoError(t, err)

	from, to := stay(9, 5)
	bookings, err := f.svc.ListPropertyBookings(ctx, "prop_1", from, to)
	require.NoError(t, err)
	assert.Len(t, bookings, 1)

	_, err = f.svc.ListPropertyBookings(ctx, "prop_404", from, to)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))

	_, err = f.svc.ListPropertyBookings(ctx, "prop_1", to, from)
	assert.Equal(t, apperr.CodeInvalidDates, apperr.CodeOf(err))
}

func TestConcurrentCreate_NoOversell(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateBooking(ctx, bookingRequest(50, 2, 1))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case apperr.CodeOf(err) == apperr.CodeInsufficientAvailability:
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 3, conflicts)
	assert.Equal(t, 0, f.minAvailable(t, "rt_deluxe", 50, 2))
}

func TestTranslateStoreError(t *testing.T) {
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(translateStoreError(domain.ErrConcurrentModification)))
	assert.Equal(t, apperr.CodeAlreadyCancelled, apperr.CodeOf(translateStoreError(domain.ErrAlreadyCancelled)))
	assert.Equal(t, apperr.CodeCannotCancelCompleted, apperr.CodeOf(translateStoreError(domain.ErrCannotCancelCompleted)))
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(translateStoreError(domain.ErrBookingNotFound)))
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(translateStoreError(domain.ErrDuplicateReference)))
	assert.Equal(t, apperr.CodeInternal, apperr.CodeOf(translateStoreError(errors.New("disk full"))))

	wrapped := translateStoreError(domain.ErrInsufficientAvailability)
	assert.True(t, errors.Is(wrapped, domain.ErrInsufficientAvailability))
	assert.True(t, errors.Is(wrapped, apperr.ErrInsufficientAvailability))
}

func TestNewReference(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		ref, err := NewReference()
		require.NoError(t, err)
		require.Len(t, ref, models.ReferenceLength)
		for _, c := range ref {
			assert.Contains(t, models.ReferenceAlphabet, string(c))
		}
		seen[ref] = true
	}
	assert.Greater(t, len(seen), 190)
}
