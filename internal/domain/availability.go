package domain

import (
	"time"

	"hotelbook/internal/models"
)

// SummarizeAvailability folds ledger rows into the per-night view. A missing or blocked
// night counts as sold out.
func SummarizeAvailability(roomTypeID string, nights []time.Time, rooms int, records map[string]models.AvailabilityRecord) *models.Availability {
	a := &models.Availability{
		RoomTypeID:     roomTypeID,
		RoomsRequested: rooms,
		Nights:         make([]models.NightAvailability, 0, len(nights)),
		Currency:       models.DefaultCurrency,
	}

	minAvailable := -1
	for _, night := range nights {
		rec, ok := records[night.Format(models.DateLayout)]
		n := models.NightAvailability{Date: night, Currency: a.Currency, Found: ok}
		if ok {
			n.Price = rec.PricePerNight
			if rec.Currency != "" {
				n.Currency = rec.Currency
				a.Currency = rec.Currency
			}
			if !rec.IsBlocked {
				n.Available = rec.AvailableRooms
			}
		}
		if minAvailable < 0 || n.Available < minAvailable {
			minAvailable = n.Available
		}
		a.Nights = append(a.Nights, n)
	}

	if minAvailable < 0 {
		minAvailable = 0
	}
	a.MinAvailable = minAvailable
	a.AllAvailable = len(nights) > 0 && minAvailable >= rooms
	return a
}
