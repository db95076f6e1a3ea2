// Package google mirrors the booking ledger into a Google Sheets spreadsheet.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"hotelbook/internal/events"
	"hotelbook/internal/models"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

var errRowNotFound = errors.New("booking row not found")

const lastColumn = "P"

var header = []interface{}{
	"Booking ID", "Reference", "Status", "Property", "Room Type", "Check-in", "Check-out", "Nights",
	"Rooms", "Guests", "Guest", "Email", "Total", "Currency", "Refund", "Updated At",
}

// SheetsSink keeps one row per booking, keyed by booking id in column A.
type SheetsSink struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string

	rowCache map[string]int
	cacheMu  sync.RWMutex
}

func NewSheetsSink(ctx context.Context, credentialsFile, spreadsheetID, sheetName string) (*SheetsSink, error) {
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}
	return newSheetsSink(srv, spreadsheetID, sheetName), nil
}

func newSheetsSink(srv *sheets.Service, spreadsheetID, sheetName string) *SheetsSink {
	if sheetName == "" {
		sheetName = "Bookings"
	}
	return &SheetsSink{
		service:       srv,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		rowCache:      make(map[string]int),
	}
}

func (s *SheetsSink) Name() string { return "sheets" }

// Deliver upserts the booking row described by the event payload.
func (s *SheetsSink) Deliver(ctx context.Context, ev *models.OutboxEvent) error {
	var p events.BookingEventPayload
	if err := json.Unmarshal([]byte(ev.Payload), &p); err != nil {
		return fmt.Errorf("decode %s payload: %w", ev.EventType, err)
	}
	if p.BookingID == "" {
		p.BookingID = ev.BookingID
	}
	return s.UpsertBooking(ctx, &p)
}

// TestConnection reads the header cell of the sheet.
func (s *SheetsSink) TestConnection(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.sheetName+"!A1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// EnsureHeader writes the column titles into row 1.
func (s *SheetsSink) EnsureHeader(ctx context.Context) error {
	rangeData := fmt.Sprintf("%s!A1:%s1", s.sheetName, lastColumn)
	_, err := s.service.Spreadsheets.Values.Update(s.spreadsheetID, rangeData, &sheets.ValueRange{
		Values: [][]interface{}{header},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

// WarmUpCache loads the booking id to row index mapping.
func (s *SheetsSink) WarmUpCache(ctx context.Context) error {
	ids, err := s.readIDColumn(ctx)
	if err != nil {
		return err
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache = make(map[string]int, len(ids))
	for i, id := range ids {
		if strings.HasPrefix(id, "bkg_") {
			s.rowCache[id] = i + 1
		}
	}
	return nil
}

func (s *SheetsSink) UpsertBooking(ctx context.Context, p *events.BookingEventPayload) error {
	rowIdx, err := s.FindBookingRow(ctx, p.BookingID)
	if errors.Is(err, errRowNotFound) {
		return s.appendBooking(ctx, p)
	}
	if err != nil {
		return err
	}

	rangeData := fmt.Sprintf("%s!A%d:%s%d", s.sheetName, rowIdx, lastColumn, rowIdx)
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, rangeData, &sheets.ValueRange{
		Values: [][]interface{}{bookingRowValues(p)},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

func (s *SheetsSink) appendBooking(ctx context.Context, p *events.BookingEventPayload) error {
	resp, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, s.sheetName+"!A:A", &sheets.ValueRange{
		Values: [][]interface{}{bookingRowValues(p)},
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return err
	}
	if resp.Updates != nil {
		if row := rowFromRange(resp.Updates.UpdatedRange); row > 0 {
			s.setCachedRow(p.BookingID, row)
		}
	}
	return nil
}

func (s *SheetsSink) FindBookingRow(ctx context.Context, bookingID string) (int, error) {
	if bookingID == "" {
		return 0, fmt.Errorf("booking id is required")
	}
	if row, ok := s.getCachedRow(bookingID); ok {
		return row, nil
	}

	ids, err := s.readIDColumn(ctx)
	if err != nil {
		return 0, err
	}
	for i, id := range ids {
		if id == bookingID {
			rowIdx := i + 1 // sheet rows are 1-based
			s.setCachedRow(bookingID, rowIdx)
			return rowIdx, nil
		}
	}
	return 0, errRowNotFound
}

func (s *SheetsSink) readIDColumn(ctx context.Context) ([]string, error) {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.sheetName+"!A:A").Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(resp.Values))
	for i, row := range resp.Values {
		if len(row) > 0 {
			ids[i] = fmt.Sprint(row[0])
		}
	}
	return ids, nil
}

func (s *SheetsSink) getCachedRow(id string) (int, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	row, ok := s.rowCache[id]
	return row, ok
}

func (s *SheetsSink) setCachedRow(id string, row int) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache[id] = row
}

func bookingRowValues(p *events.BookingEventPayload) []interface{} {
	var refund interface{} = ""
	if p.RefundAmount != nil {
		refund = *p.RefundAmount
	}
	return []interface{}{
		p.BookingID,
		p.Reference,
		p.Status,
		p.PropertyID,
		p.RoomTypeID,
		p.CheckIn,
		p.CheckOut,
		p.Nights,
		p.Rooms,
		p.Guests,
		p.GuestName,
		p.GuestEmail,
		p.TotalAmount,
		p.Currency,
		refund,
		p.OccurredAt.UTC().Format(time.DateTime),
	}
}

// rowFromRange extracts the first row number of an A1 range such as "Bookings!A10:P10".
func rowFromRange(r string) int {
	if i := strings.LastIndex(r, "!"); i >= 0 {
		r = r[i+1:]
	}
	if i := strings.Index(r, ":"); i >= 0 {
		r = r[:i]
	}
	r = strings.TrimLeft(r, "ABCDEFGHIJKLMNOPQRSTUVWXYZ")
	n, err := strconv.Atoi(r)
	if err != nil {
		return 0
	}
	return n
}
