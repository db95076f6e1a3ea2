package models

import "time"

type AvailabilityRequest struct {
	PropertyID string
	RoomTypeID string // empty means every room type of the property
	CheckIn    time.Time
	CheckOut   time.Time
	Rooms      int
}

type RoomTypeAvailability struct {
	RoomTypeID     string  `json:"roomTypeId"`
	RoomTypeName   string  `json:"roomTypeName"`
	BasePrice      float64 `json:"basePrice"`
	MaxOccupancy   int     `json:"maxOccupancy"`
	Available      bool    `json:"available"`
	RoomsAvailable int     `json:"roomsAvailable"`
	TotalPrice     float64 `json:"totalPrice"`
	Currency       string  `json:"currency"`
}

type AvailabilityResult struct {
	PropertyID     string
	RoomTypeID     string
	CheckIn        time.Time
	CheckOut       time.Time
	Nights         int
	RoomsRequested int
	Available      bool
	RoomsAvailable int
	Daily          []NightAvailability
	Quote          *Quote
	RoomTypes      []RoomTypeAvailability
}

type PricingRequest struct {
	RoomTypeID string
	CheckIn    time.Time
	CheckOut   time.Time
	Rooms      int
	PromoCode  string
}

type CreateBookingRequest struct {
	UserID          string
	PropertyID      string
	RoomTypeID      string
	CheckIn         time.Time
	CheckOut        time.Time
	Rooms           int
	Adults          int
	Children        int
	Guest           Guest
	SpecialRequests string
	PromoCode       string
	PaymentMethod   string
	PaymentToken    string
	IdempotencyKey  string
}

type CancellationResult struct {
	BookingID        string    `json:"bookingId"`
	Reference        string    `json:"bookingReference"`
	Status           string    `json:"status"`
	CancelledAt      time.Time `json:"cancelledAt"`
	DaysUntilCheckIn int       `json:"daysUntilCheckIn"`
	RefundAmount     float64   `json:"refundAmount"`
	RefundPercentage int       `json:"refundPercentage"`
	Currency         string    `json:"currency"`
	RefundMethod     string    `json:"refundMethod"`
	ProcessingTime   string    `json:"processingTime"`
}
