package service

import (
	"net/mail"
	"strings"
	"time"

	"hotelbook/internal/apperr"
	"hotelbook/internal/calendar"
	"hotelbook/internal/models"
)

func applyDefaults(req *models.CreateBookingRequest) {
	if req.Adults == 0 {
		req.Adults = models.DefaultAdults
	}
	if req.Rooms == 0 {
		req.Rooms = models.DefaultRooms
	}
	req.PropertyID = strings.TrimSpace(req.PropertyID)
	req.RoomTypeID = strings.TrimSpace(req.RoomTypeID)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	req.Guest.FirstName = strings.TrimSpace(req.Guest.FirstName)
	req.Guest.LastName = strings.TrimSpace(req.Guest.LastName)
	req.Guest.Email = strings.TrimSpace(req.Guest.Email)
	req.Guest.Phone = strings.TrimSpace(req.Guest.Phone)
	req.PaymentMethod = strings.TrimSpace(req.PaymentMethod)
}

// validateCreate checks the request and returns the nights of the stay. A request without
// a caller identity is booked under the guest's email.
func (s *BookingService) validateCreate(req *models.CreateBookingRequest) ([]time.Time, error) {
	if req.PropertyID == "" {
		return nil, apperr.Validation("propertyId is required")
	}
	if req.RoomTypeID == "" {
		return nil, apperr.Validation("roomTypeId is required")
	}

	nights, err := s.validateStay(req.CheckIn, req.CheckOut)
	if err != nil {
		return nil, err
	}

	switch {
	case req.Adults < 1:
		return nil, apperr.Validation("adults must be at least 1")
	case req.Children < 0:
		return nil, apperr.Validation("children cannot be negative")
	case req.Rooms < 1:
		return nil, apperr.Validation("rooms must be at least 1")
	}

	if err := validateGuest(req.Guest); err != nil {
		return nil, err
	}
	if req.PaymentMethod == "" {
		return nil, apperr.Validation("payment.method is required")
	}

	if req.UserID == "" {
		req.UserID = strings.ToLower(req.Guest.Email)
	}
	return nights, nil
}

func (s *BookingService) validateStay(checkIn, checkOut time.Time) ([]time.Time, error) {
	if checkIn.IsZero() || checkOut.IsZero() {
		return nil, apperr.InvalidDates(calendar.ErrInvalidDate)
	}
	if _, err := calendar.ValidateStay(checkIn, checkOut, s.now(), s.opts.MaxStayNights); err != nil {
		return nil, apperr.InvalidDates(err)
	}
	nights, err := calendar.ExpandNights(checkIn, checkOut)
	if err != nil {
		return nil, apperr.InvalidDates(err)
	}
	return nights, nil
}

func validateGuest(g models.Guest) error {
	missing := make([]string, 0, 4)
	if g.FirstName == "" {
		missing = append(missing, "guest.firstName")
	}
	if g.LastName == "" {
		missing = append(missing, "guest.lastName")
	}
	if g.Email == "" {
		missing = append(missing, "guest.email")
	}
	if g.Phone == "" {
		missing = append(missing, "guest.phone")
	}
	if len(missing) > 0 {
		return apperr.Validationf("missing required fields: %s", strings.Join(missing, ", "))
	}

	addr, err := mail.ParseAddress(g.Email)
	if err != nil || addr.Address != g.Email {
		return apperr.Validationf("invalid guest email: %s", g.Email)
	}
	return nil
}
