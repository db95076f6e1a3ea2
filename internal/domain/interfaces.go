package domain

import (
	"context"
	"time"

	"hotelbook/internal/models"
)

// Catalog is the read-only property, room type and promo data. Lookups return nil
// without error when the entry does not exist.
type Catalog interface {
	GetProperty(ctx context.Context, propertyID string) (*models.Property, error)
	GetRoomType(ctx context.Context, propertyID, roomTypeID string) (*models.RoomType, error)
	GetRoomTypeByID(ctx context.Context, roomTypeID string) (*models.RoomType, error)
	ListRoomTypes(ctx context.Context, propertyID string) ([]*models.RoomType, error)
	GetPromoCode(ctx context.Context, code string) (*models.PromoCode, error)
}

// Ledger is the per room type, per night inventory.
type Ledger interface {
	GetAvailabilityRecords(ctx context.Context, roomTypeID string, nights []time.Time) (map[string]models.AvailabilityRecord, error)
	GetAvailability(ctx context.Context, roomTypeID string, nights []time.Time, rooms int) (*models.Availability, error)
	Reserve(ctx context.Context, roomTypeID string, nights []time.Time, rooms int) error
	Release(ctx context.Context, roomTypeID string, nights []time.Time, rooms int) error
}

// Cancellation is the state a confirmed booking moves to when it is cancelled.
type Cancellation struct {
	BookingID       string
	ExpectedVersion int64
	CancelledAt     time.Time
	RefundAmount    float64
}

type UserBookingsQuery struct {
	UserID    string
	Status    string // confirmed, cancelled, completed, upcoming, past or empty for all
	Limit     int
	NextToken string
	Today     time.Time
}

type BookingPage struct {
	Bookings  []*models.Booking
	NextToken string
	HasMore   bool
}

// BookingStore persists booking aggregates. CreateBooking and CancelBooking are the only
// writers and each commits its ledger adjustment in the same transaction.
type BookingStore interface {
	CreateBooking(ctx context.Context, booking *models.Booking) error
	CancelBooking(ctx context.Context, c Cancellation) (*models.Booking, error)
	GetBooking(ctx context.Context, bookingID string) (*models.Booking, error)
	GetBookingByReference(ctx context.Context, reference string) (*models.Booking, error)
	GetBookingByIdempotencyKey(ctx context.Context, userID, key string) (*models.Booking, error)
	ListUserBookings(ctx context.Context, q UserBookingsQuery) (*BookingPage, error)
	ListPropertyBookings(ctx context.Context, propertyID string, from, to time.Time) ([]*models.Booking, error)
}

// Repository is everything the booking coordinator needs from the backing store.
type Repository interface {
	Catalog
	Ledger
	BookingStore
	Ping(ctx context.Context) error
}

// IdempotencyStore binds client-supplied idempotency keys to booking ids.
type IdempotencyStore interface {
	GetBookingID(ctx context.Context, userID, key string) (string, error)
	SetBookingID(ctx context.Context, userID, key, bookingID string, ttl time.Duration) error
	CheckRateLimit(ctx context.Context, userID string, limit int, window time.Duration) (bool, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// EventSink delivers a committed outbox event to a downstream system.
type EventSink interface {
	Name() string
	Deliver(ctx context.Context, event *models.OutboxEvent) error
}

type BookingService interface {
	CheckAvailability(ctx context.Context, req models.AvailabilityRequest) (*models.AvailabilityResult, error)
	CalculatePricing(ctx context.Context, req models.PricingRequest) (*models.Quote, error)
	CreateBooking(ctx context.Context, req models.CreateBookingRequest) (*models.Booking, error)
	CancelBooking(ctx context.Context, bookingID, callerID string) (*models.CancellationResult, error)
	GetBooking(ctx context.Context, bookingID, callerID string) (*models.Booking, error)
	GetBookingByReference(ctx context.Context, reference, callerID string) (*models.Booking, error)
	ListUserBookings(ctx context.Context, q UserBookingsQuery) (*BookingPage, error)
	ListPropertyBookings(ctx context.Context, propertyID string, from, to time.Time) ([]*models.Booking, error)
}
