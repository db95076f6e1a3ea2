package models

import "time"

type Guest struct {
	FirstName string `json:"firstName" yaml:"first_name"`
	LastName  string `json:"lastName" yaml:"last_name"`
	Email     string `json:"email" yaml:"email"`
	Phone     string `json:"phone" yaml:"phone"`
	Country   string `json:"country,omitempty" yaml:"country"`
}

func (g Guest) FullName() string {
	if g.LastName == "" {
		return g.FirstName
	}
	return g.FirstName + " " + g.LastName
}

// RoomLine is the room-type part of a booking: what was booked and at which nightly rates.
type RoomLine struct {
	RoomTypeID    string             `json:"roomTypeId"`
	RoomTypeName  string             `json:"roomTypeName"`
	NumberOfRooms int                `json:"numberOfRooms"`
	PricePerNight float64            `json:"pricePerNight"`
	NightlyRates  map[string]float64 `json:"nightlyRates"`
}

type Payment struct {
	PaymentID     string    `json:"paymentId"`
	BookingID     string    `json:"bookingId"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	Method        string    `json:"method"`
	Provider      string    `json:"provider"`
	TokenLast4    string    `json:"tokenLast4,omitempty"`
	Status        string    `json:"status"`
	TransactionID string    `json:"transactionId"`
	CreatedAt     time.Time `json:"createdAt"`
}

type Booking struct {
	ID              string     `json:"bookingId"`
	Reference       string     `json:"bookingReference"`
	UserID          string     `json:"userId"`
	PropertyID      string     `json:"propertyId"`
	PropertyName    string     `json:"propertyName"`
	RoomTypeID      string     `json:"roomTypeId"`
	CheckIn         time.Time  `json:"checkInDate"`
	CheckOut        time.Time  `json:"checkOutDate"`
	Nights          int        `json:"numberOfNights"`
	Rooms           int        `json:"numberOfRooms"`
	Adults          int        `json:"adults"`
	Children        int        `json:"children"`
	Status          string     `json:"status"` // confirmed, cancelled, completed
	Subtotal        float64    `json:"subtotal"`
	Taxes           float64    `json:"taxes"`
	ServiceFee      float64    `json:"serviceFee"`
	Discount        float64    `json:"discount"`
	TotalAmount     float64    `json:"totalAmount"`
	Currency        string     `json:"currency"`
	PromoCode       string     `json:"promoCode,omitempty"`
	Guest           Guest      `json:"guest"`
	SpecialRequests string     `json:"specialRequests,omitempty"`
	IdempotencyKey  string     `json:"-"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	CancelledAt     *time.Time `json:"cancelledAt,omitempty"`
	RefundAmount    *float64   `json:"refundAmount,omitempty"`
	Version         int64      `json:"version"`

	Room    RoomLine `json:"room"`
	Payment Payment  `json:"payment"`
}

func (b *Booking) TotalGuests() int {
	return b.Adults + b.Children
}

// TripStatus classifies the stay relative to today from the guest's point of view.
func (b *Booking) TripStatus(today time.Time) string {
	day := today.UTC().Format(DateLayout)
	checkIn := b.CheckIn.Format(DateLayout)
	checkOut := b.CheckOut.Format(DateLayout)

	switch {
	case b.Status == StatusCancelled:
		return TripCancelled
	case checkOut < day:
		return TripPast
	case checkIn <= day && checkOut >= day:
		return TripCurrent
	default:
		return TripUpcoming
	}
}
