// Package export builds the per-property booking manifest workbook.
package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"hotelbook/internal/apperr"
	"hotelbook/internal/calendar"
	"hotelbook/internal/domain"
	"hotelbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const (
	bookingsSheet  = "Bookings"
	occupancySheet = "Occupancy"
)

type BookingLister interface {
	ListPropertyBookings(ctx context.Context, propertyID string, from, to time.Time) ([]*models.Booking, error)
}

type Exporter struct {
	bookings BookingLister
	catalog  domain.Catalog
	dir      string
	logger   *zerolog.Logger
}

// NewExporter writes saved manifests under dir.
func NewExporter(bookings BookingLister, catalog domain.Catalog, dir string, logger *zerolog.Logger) *Exporter {
	return &Exporter{bookings: bookings, catalog: catalog, dir: dir, logger: logger}
}

// WriteManifest streams the workbook of bookings overlapping [from, to) to w.
func (e *Exporter) WriteManifest(ctx context.Context, w io.Writer, propertyID string, from, to time.Time) error {
	f, err := e.build(ctx, propertyID, from, to)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

// SaveManifest writes the workbook into the export directory and returns its path.
func (e *Exporter) SaveManifest(ctx context.Context, propertyID string, from, to time.Time) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	f, err := e.build(ctx, propertyID, from, to)
	if err != nil {
		return "", err
	}
	defer f.Close()

	filePath := filepath.Join(e.dir, FileName(propertyID, from, to))
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}

	e.logger.Info().Str("file_path", filePath).Str("property_id", propertyID).Msg("manifest created")
	return filePath, nil
}

func FileName(propertyID string, from, to time.Time) string {
	return fmt.Sprintf("manifest_%s_%s_to_%s.xlsx", propertyID, calendar.Format(from), calendar.Format(to))
}

func (e *Exporter) build(ctx context.Context, propertyID string, from, to time.Time) (*excelize.File, error) {
	property, err := e.catalog.GetProperty(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("error getting property: %w", err)
	}
	if property == nil {
		return nil, apperr.NotFound("property not found: %s", propertyID)
	}
	roomTypes, err := e.catalog.ListRoomTypes(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("error getting room types: %w", err)
	}
	bookings, err := e.bookings.ListPropertyBookings(ctx, propertyID, from, to)
	if err != nil {
		return nil, fmt.Errorf("error getting bookings: %w", err)
	}

	f := excelize.NewFile()
	if _, err := f.NewSheet(bookingsSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	index, err := f.NewSheet(occupancySheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	writeBookings(f, property, bookings, time.Now())
	writeOccupancy(f, property, roomTypes, bookings, from, to)
	return f, nil
}

var bookingColumns = []string{
	"Reference", "Booking ID", "Status", "Trip", "Room Type", "Check-in", "Check-out", "Nights", "Rooms",
	"Guests", "Guest", "Email", "Phone", "Total", "Currency", "Refund", "Special Requests",
}

func writeBookings(f *excelize.File, property *models.Property, bookings []*models.Booking, now time.Time) {
	_ = f.SetCellValue(bookingsSheet, "A1", property.Name)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	for i, title := range bookingColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(bookingsSheet, cell, title)
		_ = f.SetCellStyle(bookingsSheet, cell, cell, headerStyle)
	}

	for i, b := range bookings {
		var refund interface{}
		if b.RefundAmount != nil {
			refund = *b.RefundAmount
		}
		values := []interface{}{
			b.Reference, b.ID, b.Status, b.TripStatus(now), b.Room.RoomTypeName,
			calendar.Format(b.CheckIn), calendar.Format(b.CheckOut), b.Nights, b.Rooms,
			b.TotalGuests(), b.Guest.FullName(), b.Guest.Email, b.Guest.Phone,
			b.TotalAmount, b.Currency, refund, b.SpecialRequests,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+3)
		_ = f.SetSheetRow(bookingsSheet, cell, &values)
	}

	_ = f.SetColWidth(bookingsSheet, "A", "Q", 16)
}

// writeOccupancy lays out room types against nights; each cell holds rooms sold out of
// the room type's total.
func writeOccupancy(f *excelize.File, property *models.Property, roomTypes []*models.RoomType, bookings []*models.Booking, from, to time.Time) {
	_ = f.SetCellValue(occupancySheet, "A1", fmt.Sprintf("%s: %s - %s", property.Name, calendar.Format(from), calendar.Format(to)))

	nights, err := calendar.ExpandNights(from, to)
	if err != nil {
		return
	}

	sold := make(map[string]map[string]int, len(roomTypes))
	for _, b := range bookings {
		if b.Status == models.StatusCancelled {
			continue
		}
		if sold[b.RoomTypeID] == nil {
			sold[b.RoomTypeID] = make(map[string]int)
		}
		stay, err := calendar.ExpandNights(b.CheckIn, b.CheckOut)
		if err != nil {
			continue
		}
		for _, n := range stay {
			sold[b.RoomTypeID][calendar.Format(n)] += b.Rooms
		}
	}

	dateStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	fullStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#F8CBAD"}, Pattern: 1},
	})

	for i, n := range nights {
		cell, _ := excelize.CoordinatesToCellName(i+2, 2)
		_ = f.SetCellValue(occupancySheet, cell, calendar.Format(n))
		_ = f.SetCellStyle(occupancySheet, cell, cell, dateStyle)
	}

	for r, rt := range roomTypes {
		row := r + 3
		cell, _ := excelize.CoordinatesToCellName(1, row)
		_ = f.SetCellValue(occupancySheet, cell, fmt.Sprintf("%s (%d)", rt.Name, rt.TotalRooms))

		for i, n := range nights {
			count := sold[rt.ID][calendar.Format(n)]
			cell, _ := excelize.CoordinatesToCellName(i+2, row)
			_ = f.SetCellValue(occupancySheet, cell, fmt.Sprintf("%d/%d", count, rt.TotalRooms))
			if count >= rt.TotalRooms {
				_ = f.SetCellStyle(occupancySheet, cell, cell, fullStyle)
			}
		}
	}

	_ = f.SetColWidth(occupancySheet, "A", "A", 25)
}
