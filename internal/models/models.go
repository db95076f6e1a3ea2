package models

import "time"

type Property struct {
	ID       string `json:"propertyId" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	City     string `json:"city" yaml:"city"`
	Country  string `json:"country" yaml:"country"`
	Currency string `json:"currency" yaml:"currency"`
}

type RoomType struct {
	ID                string  `json:"roomTypeId" yaml:"id"`
	PropertyID        string  `json:"propertyId" yaml:"property_id"`
	Name              string  `json:"name" yaml:"name"`
	MaxOccupancy      int     `json:"maxOccupancy" yaml:"max_occupancy"`
	TotalRooms        int     `json:"totalRooms" yaml:"total_rooms"`
	BasePricePerNight float64 `json:"basePricePerNight" yaml:"base_price_per_night"`
	Currency          string  `json:"currency" yaml:"currency"`
}

type PromoCode struct {
	Code          string  `json:"code" yaml:"code"`
	Description   string  `json:"description" yaml:"description"`
	DiscountType  string  `json:"discountType" yaml:"discount_type"` // percentage, fixed
	DiscountValue float64 `json:"discountValue" yaml:"discount_value"`
	IsActive      bool    `json:"isActive" yaml:"is_active"`
}

// AvailabilityRecord is one ledger row: a room type on a single calendar date.
type AvailabilityRecord struct {
	RoomTypeID      string    `json:"roomTypeId"`
	Date            time.Time `json:"date"`
	AvailableRooms  int       `json:"availableRooms"`
	TotalRooms      int       `json:"totalRooms"`
	PricePerNight   float64   `json:"pricePerNight"`
	PriceMultiplier float64   `json:"priceMultiplier"`
	Currency        string    `json:"currency"`
	MinStay         int       `json:"minStay"`
	MaxStay         int       `json:"maxStay"`
	IsBlocked       bool      `json:"isBlocked"`
}

// NightAvailability is what the ledger reports for one night of a requested stay.
type NightAvailability struct {
	Date      time.Time `json:"date"`
	Available int       `json:"available"`
	Price     float64   `json:"price"`
	Currency  string    `json:"currency"`
	Found     bool      `json:"-"`
}

type Availability struct {
	RoomTypeID     string              `json:"roomTypeId"`
	RoomsRequested int                 `json:"roomsRequested"`
	Nights         []NightAvailability `json:"dailyAvailability"`
	MinAvailable   int                 `json:"roomsAvailable"`
	AllAvailable   bool                `json:"available"`
	Currency       string              `json:"currency"`
}

// AvailablePerNight indexes the nightly counts by date string.
func (a *Availability) AvailablePerNight() map[string]int {
	out := make(map[string]int, len(a.Nights))
	for _, n := range a.Nights {
		out[n.Date.Format(DateLayout)] = n.Available
	}
	return out
}

type NightlyRate struct {
	Date       time.Time `json:"date"`
	BaseRate   float64   `json:"baseRate"`
	Multiplier float64   `json:"multiplier"`
	FinalRate  float64   `json:"finalRate"`
}

type Fee struct {
	Name   string  `json:"name"`
	Rate   string  `json:"rate"`
	Amount float64 `json:"amount"`
}

type PromoDetails struct {
	Code          string  `json:"code"`
	Description   string  `json:"description"`
	DiscountType  string  `json:"discountType"`
	DiscountValue float64 `json:"discountValue"`
}

type Quote struct {
	RoomTypeID         string        `json:"roomTypeId"`
	NightlyRateSum     float64       `json:"nightlyRateSum"`
	RoomSubtotal       float64       `json:"roomSubtotal"`
	Taxes              float64       `json:"taxes"`
	ServiceFee         float64       `json:"serviceFee"`
	Discount           float64       `json:"discount"`
	Total              float64       `json:"total"`
	Currency           string        `json:"currency"`
	Nights             int           `json:"numberOfNights"`
	Rooms              int           `json:"numberOfRooms"`
	AverageNightlyRate float64       `json:"averageNightlyRate"`
	NightlyBreakdown   []NightlyRate `json:"dailyPricing"`
	Fees               []Fee         `json:"fees"`
	Promo              *PromoDetails `json:"promoCode,omitempty"`
}

// NightlyRates returns the per-room price of each night keyed by date string.
func (q *Quote) NightlyRates() map[string]float64 {
	out := make(map[string]float64, len(q.NightlyBreakdown))
	for _, n := range q.NightlyBreakdown {
		out[n.Date.Format(DateLayout)] = n.FinalRate
	}
	return out
}

// CatalogSeed is the read-only catalog loaded at startup.
type CatalogSeed struct {
	Properties []Property  `yaml:"properties"`
	RoomTypes  []RoomType  `yaml:"room_types"`
	PromoCodes []PromoCode `yaml:"promo_codes"`
}
