package api

import (
	"fmt"
	"strings"
	"time"

	"hotelbook/internal/apperr"
	"hotelbook/internal/calendar"
	"hotelbook/internal/domain"
	"hotelbook/internal/models"
)

// Wire types shared by the HTTP handlers and the gRPC service. Dates travel as YYYY-MM-DD.

type availabilityCheckRequest struct {
	PropertyID string `json:"propertyId"`
	RoomTypeID string `json:"roomTypeId"`
	CheckIn    string `json:"checkInDate"`
	CheckOut   string `json:"checkOutDate"`
	Rooms      int    `json:"rooms"`
}

func (r availabilityCheckRequest) toModel() (models.AvailabilityRequest, error) {
	checkIn, checkOut, err := parseStay(r.CheckIn, r.CheckOut)
	if err != nil {
		return models.AvailabilityRequest{}, err
	}
	return models.AvailabilityRequest{
		PropertyID: r.PropertyID,
		RoomTypeID: r.RoomTypeID,
		CheckIn:    checkIn,
		CheckOut:   checkOut,
		Rooms:      r.Rooms,
	}, nil
}

type pricingRequest struct {
	RoomTypeID string `json:"roomTypeId"`
	CheckIn    string `json:"checkInDate"`
	CheckOut   string `json:"checkOutDate"`
	Rooms      int    `json:"rooms"`
	PromoCode  string `json:"promoCode"`
}

func (r pricingRequest) toModel() (models.PricingRequest, error) {
	checkIn, checkOut, err := parseStay(r.CheckIn, r.CheckOut)
	if err != nil {
		return models.PricingRequest{}, err
	}
	return models.PricingRequest{
		RoomTypeID: r.RoomTypeID,
		CheckIn:    checkIn,
		CheckOut:   checkOut,
		Rooms:      r.Rooms,
		PromoCode:  r.PromoCode,
	}, nil
}

type paymentInput struct {
	Method string `json:"method"`
	Token  string `json:"token"`
}

type createBookingRequest struct {
	PropertyID      string       `json:"propertyId"`
	RoomTypeID      string       `json:"roomTypeId"`
	CheckIn         string       `json:"checkInDate"`
	CheckOut        string       `json:"checkOutDate"`
	Rooms           int          `json:"rooms"`
	Adults          int          `json:"adults"`
	Children        int          `json:"children"`
	Guest           models.Guest `json:"guest"`
	SpecialRequests string       `json:"specialRequests"`
	PromoCode       string       `json:"promoCode"`
	Payment         paymentInput `json:"payment"`
	// IdempotencyKey is only read from the body on gRPC; HTTP uses the Idempotency-Key header.
	IdempotencyKey string `json:"idempotencyKey"`
}

func (r createBookingRequest) toModel(userID, idempotencyKey string) (models.CreateBookingRequest, error) {
	checkIn, checkOut, err := parseStay(r.CheckIn, r.CheckOut)
	if err != nil {
		return models.CreateBookingRequest{}, err
	}
	return models.CreateBookingRequest{
		UserID:          userID,
		PropertyID:      r.PropertyID,
		RoomTypeID:      r.RoomTypeID,
		CheckIn:         checkIn,
		CheckOut:        checkOut,
		Rooms:           r.Rooms,
		Adults:          r.Adults,
		Children:        r.Children,
		Guest:           r.Guest,
		SpecialRequests: r.SpecialRequests,
		PromoCode:       r.PromoCode,
		PaymentMethod:   r.Payment.Method,
		PaymentToken:    r.Payment.Token,
		IdempotencyKey:  strings.TrimSpace(idempotencyKey),
	}, nil
}

type bookingIDRequest struct {
	BookingID string `json:"bookingId"`
}

type dailyAvailability struct {
	Date      string  `json:"date"`
	Available int     `json:"available"`
	Price     float64 `json:"price"`
	Currency  string  `json:"currency"`
}

type availabilityResponse struct {
	PropertyID     string                        `json:"propertyId"`
	RoomTypeID     string                        `json:"roomTypeId,omitempty"`
	CheckIn        string                        `json:"checkInDate"`
	CheckOut       string                        `json:"checkOutDate"`
	Nights         int                           `json:"numberOfNights"`
	RoomsRequested int                           `json:"roomsRequested"`
	Available      bool                          `json:"available"`
	RoomsAvailable int                           `json:"roomsAvailable"`
	Daily          []dailyAvailability           `json:"dailyAvailability,omitempty"`
	Pricing        *models.Quote                 `json:"pricing,omitempty"`
	RoomTypes      []models.RoomTypeAvailability `json:"roomTypes,omitempty"`
}

func newAvailabilityResponse(res *models.AvailabilityResult) availabilityResponse {
	out := availabilityResponse{
		PropertyID:     res.PropertyID,
		RoomTypeID:     res.RoomTypeID,
		CheckIn:        calendar.Format(res.CheckIn),
		CheckOut:       calendar.Format(res.CheckOut),
		Nights:         res.Nights,
		RoomsRequested: res.RoomsRequested,
		Available:      res.Available,
		RoomsAvailable: res.RoomsAvailable,
		Pricing:        res.Quote,
		RoomTypes:      res.RoomTypes,
	}
	for _, n := range res.Daily {
		out.Daily = append(out.Daily, dailyAvailability{
			Date:      calendar.Format(n.Date),
			Available: n.Available,
			Price:     n.Price,
			Currency:  n.Currency,
		})
	}
	return out
}

// bookingView shadows the stay dates so they leave as calendar dates, not timestamps.
type bookingView struct {
	*models.Booking
	CheckIn    string `json:"checkInDate"`
	CheckOut   string `json:"checkOutDate"`
	TripStatus string `json:"tripStatus"`
}

func newBookingView(b *models.Booking, today time.Time) bookingView {
	return bookingView{
		Booking:    b,
		CheckIn:    calendar.Format(b.CheckIn),
		CheckOut:   calendar.Format(b.CheckOut),
		TripStatus: b.TripStatus(today),
	}
}

type bookingListResponse struct {
	Bookings  []bookingView `json:"bookings"`
	Count     int           `json:"count"`
	NextToken string        `json:"nextToken,omitempty"`
	HasMore   bool          `json:"hasMore"`
}

func newBookingListResponse(page *domain.BookingPage, today time.Time) bookingListResponse {
	out := bookingListResponse{
		Bookings:  make([]bookingView, 0, len(page.Bookings)),
		NextToken: page.NextToken,
		HasMore:   page.HasMore,
	}
	for _, b := range page.Bookings {
		out.Bookings = append(out.Bookings, newBookingView(b, today))
	}
	out.Count = len(out.Bookings)
	return out
}

// parseStay parses both stay dates. Missing dates are left zero for the service to reject.
func parseStay(checkIn, checkOut string) (time.Time, time.Time, error) {
	in, err := parseDate("checkInDate", checkIn)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	out, err := parseDate("checkOutDate", checkOut)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return in, out, nil
}

func parseDate(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	t, err := calendar.ParseDate(value)
	if err != nil {
		return time.Time{}, apperr.InvalidDates(fmt.Errorf("%s: %w", field, err))
	}
	return t, nil
}
