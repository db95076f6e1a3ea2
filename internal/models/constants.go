package models

const (
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
)

const (
	PaymentStatusCompleted = "completed"
	PaymentStatusPending   = "pending"

	PaymentProvider = "stripe"
)

const (
	TripUpcoming  = "upcoming"
	TripCurrent   = "current"
	TripPast      = "past"
	TripCancelled = "cancelled"
)

const (
	DiscountPercentage = "percentage"
	DiscountFixed      = "fixed"
)

const (
	// DateLayout is the calendar date format used on the wire and in storage.
	DateLayout = "2006-01-02"

	// MaxStayNights upper bound for a single booking
	MaxStayNights = 30

	DefaultAdults   = 2
	DefaultChildren = 0
	DefaultRooms    = 1

	// DefaultBookingsPageSize page size for user booking listings
	DefaultBookingsPageSize = 20
	MaxBookingsPageSize     = 100

	// ReferenceLength length of the human-facing booking reference
	ReferenceLength = 8
	// ReferenceAlphabet omits I, O, 0 and 1.
	ReferenceAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	DefaultCurrency = "USD"

	// DefaultIdempotencyTTL seconds an idempotency key stays bound in Redis
	DefaultIdempotencyTTL = 24 * 60 * 60

	// RefundMethod and RefundProcessingTime are reported to the guest on cancellation.
	RefundMethod         = "original_payment_method"
	RefundProcessingTime = "5-10 business days"
)
