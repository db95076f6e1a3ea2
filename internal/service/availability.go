package service

import (
	"context"
	"strings"

	"hotelbook/internal/apperr"
	"hotelbook/internal/calendar"
	"hotelbook/internal/models"
)

// CheckAvailability reports one room type with its nightly detail and a quote, or every
// room type of the property when no room type is given. It is advisory: only the commit
// decides whether rooms are actually taken.
func (s *BookingService) CheckAvailability(ctx context.Context, req models.AvailabilityRequest) (*models.AvailabilityResult, error) {
	req.PropertyID = strings.TrimSpace(req.PropertyID)
	req.RoomTypeID = strings.TrimSpace(req.RoomTypeID)
	if req.PropertyID == "" {
		return nil, apperr.Validation("propertyId is required")
	}
	if req.Rooms == 0 {
		req.Rooms = models.DefaultRooms
	}
	if req.Rooms < 1 {
		return nil, apperr.Validation("rooms must be at least 1")
	}

	nights, err := s.validateStay(req.CheckIn, req.CheckOut)
	if err != nil {
		return nil, err
	}

	property, err := s.catalog.GetProperty(ctx, req.PropertyID)
	if err != nil {
		return nil, apperr.Internal("failed to load property", err)
	}
	if property == nil {
		return nil, apperr.NotFound("property not found: %s", req.PropertyID)
	}

	result := &models.AvailabilityResult{
		PropertyID:     property.ID,
		RoomTypeID:     req.RoomTypeID,
		CheckIn:        calendar.Date(req.CheckIn),
		CheckOut:       calendar.Date(req.CheckOut),
		Nights:         len(nights),
		RoomsRequested: req.Rooms,
	}

	if req.RoomTypeID != "" {
		roomType, err := s.catalog.GetRoomType(ctx, property.ID, req.RoomTypeID)
		if err != nil {
			return nil, apperr.Internal("failed to load room type", err)
		}
		if roomType == nil {
			return nil, apperr.NotFound("room type not found: %s", req.RoomTypeID)
		}

		availability, err := s.repo.GetAvailability(ctx, roomType.ID, nights, req.Rooms)
		if err != nil {
			return nil, apperr.Internal("failed to read availability", err)
		}
		quote, err := s.pricing.Quote(ctx, roomType.ID, nights, req.Rooms, "")
		if err != nil {
			return nil, apperr.Internal("failed to price stay", err)
		}

		result.Available = availability.AllAvailable
		result.RoomsAvailable = availability.MinAvailable
		result.Daily = availability.Nights
		result.Quote = quote
		return result, nil
	}

	roomTypes, err := s.catalog.ListRoomTypes(ctx, property.ID)
	if err != nil {
		return nil, apperr.Internal("failed to list room types", err)
	}
	if len(roomTypes) == 0 {
		return nil, apperr.NotFound("no room types found for property: %s", property.ID)
	}

	result.RoomTypes = make([]models.RoomTypeAvailability, 0, len(roomTypes))
	for _, rt := range roomTypes {
		availability, err := s.repo.GetAvailability(ctx, rt.ID, nights, req.Rooms)
		if err != nil {
			return nil, apperr.Internal("failed to read availability", err)
		}
		quote, err := s.pricing.Quote(ctx, rt.ID, nights, req.Rooms, "")
		if err != nil {
			return nil, apperr.Internal("failed to price stay", err)
		}

		result.RoomTypes = append(result.RoomTypes, models.RoomTypeAvailability{
			RoomTypeID:     rt.ID,
			RoomTypeName:   rt.Name,
			BasePrice:      rt.BasePricePerNight,
			MaxOccupancy:   rt.MaxOccupancy,
			Available:      availability.AllAvailable,
			RoomsAvailable: availability.MinAvailable,
			TotalPrice:     quote.Total,
			Currency:       quote.Currency,
		})
		if availability.AllAvailable {
			result.Available = true
		}
		result.RoomsAvailable = max(result.RoomsAvailable, availability.MinAvailable)
	}
	return result, nil
}

// CalculatePricing quotes a stay. Unknown or inactive promo codes simply give no discount.
func (s *BookingService) CalculatePricing(ctx context.Context, req models.PricingRequest) (*models.Quote, error) {
	req.RoomTypeID = strings.TrimSpace(req.RoomTypeID)
	if req.RoomTypeID == "" {
		return nil, apperr.Validation("roomTypeId is required")
	}
	if req.Rooms == 0 {
		req.Rooms = models.DefaultRooms
	}
	if req.Rooms < 1 {
		return nil, apperr.Validation("rooms must be at least 1")
	}

	nights, err := s.validateStay(req.CheckIn, req.CheckOut)
	if err != nil {
		return nil, err
	}

	roomType, err := s.catalog.GetRoomTypeByID(ctx, req.RoomTypeID)
	if err != nil {
		return nil, apperr.Internal("failed to load room type", err)
	}
	if roomType == nil {
		return nil, apperr.NotFound("room type not found: %s", req.RoomTypeID)
	}

	quote, err := s.pricing.Quote(ctx, roomType.ID, nights, req.Rooms, req.PromoCode)
	if err != nil {
		return nil, apperr.Internal("failed to price stay", err)
	}
	return quote, nil
}
