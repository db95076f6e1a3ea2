package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"hotelbook/internal/events"
	"hotelbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

func setupMockServer(t *testing.T) (*http.ServeMux, *SheetsSink) {
	t.Helper()
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	srv, err := sheets.NewService(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	return mux, newSheetsSink(srv, "ledger_tid", "")
}

func outboxEvent(t *testing.T, status string) *models.OutboxEvent {
	t.Helper()
	refund := 234.0
	p := events.BookingEventPayload{
		BookingID: "bkg_1", Reference: "ABCD2345", Status: status, PropertyID: "prop_1", RoomTypeID: "rt_deluxe",
		CheckIn: "2030-05-01", CheckOut: "2030-05-03", Nights: 2, Rooms: 1, Guests: 2,
		GuestName: "Ana Silva", GuestEmail: "ana@example.com", TotalAmount: 234, Currency: "USD",
		OccurredAt: time.Date(2030, 4, 1, 10, 0, 0, 0, time.UTC),
	}
	if status == models.StatusCancelled {
		p.RefundAmount = &refund
	}
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	return &models.OutboxEvent{ID: 1, EventType: "booking." + status, BookingID: "bkg_1", Payload: string(raw)}
}

func TestSheetsSink_AppendsUnknownBooking(t *testing.T) {
	mux, s := setupMockServer(t)

	mux.HandleFunc("/v4/spreadsheets/ledger_tid/values/Bookings!A:A", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{Values: [][]interface{}{{"Booking ID"}, {"bkg_other"}}})
	})

	var (
		mu       sync.Mutex
		appended [][]interface{}
	)
	mux.HandleFunc("/v4/spreadsheets/ledger_tid/values/Bookings!A:A:append", func(w http.ResponseWriter, r *http.Request) {
		var body sheets.ValueRange
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		appended = append(appended, body.Values...)
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(sheets.AppendValuesResponse{
			Updates: &sheets.UpdateValuesResponse{UpdatedRange: "Bookings!A3:P3"},
		})
	})

	require.NoError(t, s.Deliver(context.Background(), outboxEvent(t, models.StatusConfirmed)))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, appended, 1)
	assert.Equal(t, "bkg_1", appended[0][0])
	assert.Equal(t, "confirmed", appended[0][2])
	row, ok := s.getCachedRow("bkg_1")
	assert.True(t, ok)
	assert.Equal(t, 3, row)
}

func TestSheetsSink_UpdatesKnownBooking(t *testing.T) {
	mux, s := setupMockServer(t)
	s.setCachedRow("bkg_1", 7)

	var updated sheets.ValueRange
	mux.HandleFunc("/v4/spreadsheets/ledger_tid/values/Bookings!A7:P7", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&updated)
		_ = json.NewEncoder(w).Encode(sheets.UpdateValuesResponse{})
	})

	require.NoError(t, s.Deliver(context.Background(), outboxEvent(t, models.StatusCancelled)))
	require.Len(t, updated.Values, 1)
	assert.Equal(t, "cancelled", updated.Values[0][2])
	assert.Equal(t, 234.0, updated.Values[0][14])
}

func TestSheetsSink_WarmUpCache(t *testing.T) {
	mux, s := setupMockServer(t)
	mux.HandleFunc("/v4/spreadsheets/ledger_tid/values/Bookings!A:A", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{
			Values: [][]interface{}{{"Booking ID"}, {"bkg_a"}, {}, {"bkg_b"}},
		})
	})

	require.NoError(t, s.WarmUpCache(context.Background()))
	row, ok := s.getCachedRow("bkg_b")
	assert.True(t, ok)
	assert.Equal(t, 4, row)
	_, ok = s.getCachedRow("Booking ID")
	assert.False(t, ok)
}

func TestSheetsSink_DeliverRejectsBadPayload(t *testing.T) {
	_, s := setupMockServer(t)
	err := s.Deliver(context.Background(), &models.OutboxEvent{EventType: "booking.created", Payload: "nope"})
	assert.Error(t, err)
}

func TestSheetsSink_TestConnection(t *testing.T) {
	mux, s := setupMockServer(t)
	mux.HandleFunc("/v4/spreadsheets/ledger_tid/values/Bookings!A1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{Values: [][]interface{}{{"Booking ID"}}})
	})
	assert.NoError(t, s.TestConnection(context.Background()))
}

func TestRowFromRange(t *testing.T) {
	assert.Equal(t, 10, rowFromRange("Bookings!A10:P10"))
	assert.Equal(t, 2, rowFromRange("A2"))
	assert.Equal(t, 0, rowFromRange("Bookings!A:A"))
}
