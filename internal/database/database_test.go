package database

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hotelbook/internal/calendar"
	"hotelbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	return db
}

func seedCatalog(t *testing.T, db *DB) {
	t.Helper()
	err := db.SeedCatalog(context.Background(), &models.CatalogSeed{
		Properties: []models.Property{{ID: "prop_1", Name: "Harbor View", City: "Lisbon", Country: "PT", Currency: "USD"}},
		RoomTypes: []models.RoomType{
			{ID: "rt_deluxe", PropertyID: "prop_1", Name: "Deluxe King", MaxOccupancy: 3, TotalRooms: 5, BasePricePerNight: 100},
			{ID: "rt_suite", PropertyID: "prop_1", Name: "Suite", MaxOccupancy: 4, TotalRooms: 2, BasePricePerNight: 250},
		},
		PromoCodes: []models.PromoCode{
			{Code: "summer10", Description: "Summer", DiscountType: models.DiscountPercentage, DiscountValue: 10, IsActive: true},
		},
	})
	require.NoError(t, err)
}

// stayFrom returns the nights of a stay starting offset days from today.
func stayFrom(t *testing.T, offset, nights int) (time.Time, time.Time, []time.Time) {
	t.Helper()
	checkIn := calendar.Date(time.Now()).AddDate(0, 0, offset)
	checkOut := checkIn.AddDate(0, 0, nights)
	days, err := calendar.ExpandNights(checkIn, checkOut)
	require.NoError(t, err)
	return checkIn, checkOut, days
}

func provision(t *testing.T, db *DB, roomTypeID string, nights []time.Time, available, total int, price float64) {
	t.Helper()
	for _, n := range nights {
		require.NoError(t, db.UpsertAvailability(context.Background(), &models.AvailabilityRecord{
			RoomTypeID: roomTypeID, Date: n, AvailableRooms: available, TotalRooms: total, PricePerNight: price,
		}))
	}
}

func newTestBooking(id string, checkIn, checkOut time.Time, rooms int) *models.Booking {
	nights := int(checkOut.Sub(checkIn).Hours() / 24)
	rates := map[string]float64{}
	for i := 0; i < nights; i++ {
		rates[checkIn.AddDate(0, 0, i).Format(models.DateLayout)] = 100
	}
	subtotal := float64(100 * nights * rooms)
	return &models.Booking{
		ID: id, Reference: strings.ToUpper("R" + id), UserID: "user_1",
		PropertyID: "prop_1", PropertyName: "Harbor View", RoomTypeID: "rt_deluxe",
		CheckIn: checkIn, CheckOut: checkOut, Nights: nights, Rooms: rooms, Adults: 2,
		Status: models.StatusConfirmed, Subtotal: subtotal, Taxes: subtotal * 0.12, ServiceFee: subtotal * 0.05,
		TotalAmount: subtotal * 1.17, Currency: "USD",
		Guest: models.Guest{FirstName: "Ana", LastName: "Silva", Email: "ana@example.com", Phone: "+351000"},
		Room:  models.RoomLine{RoomTypeID: "rt_deluxe", RoomTypeName: "Deluxe King", NumberOfRooms: rooms, PricePerNight: 100, NightlyRates: rates},
		Payment: models.Payment{
			PaymentID: "pay_" + id, Amount: subtotal * 1.17, Currency: "USD", Method: "card",
			Provider: models.PaymentProvider, TokenLast4: "4242", Status: models.PaymentStatusCompleted, TransactionID: "txn_" + id,
		},
	}
}

func TestNewDB_DirectoryCreation(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, dbPath)
	assert.Equal(t, dbPath, db.Path())
}

func TestNewDB_ReopenKeepsSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	seedCatalog(t, db)
	require.NoError(t, db.Close())

	db, err = NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	p, err := db.GetProperty(context.Background(), "prop_1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Harbor View", p.Name)
}

func TestDB_Ping(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	assert.NoError(t, db.Ping(context.Background()))
}

func TestDB_ErrorPaths(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.Close())

	ctx := context.Background()
	checkIn, checkOut, nights := stayFrom(t, 10, 2)

	_, err := db.GetAvailabilityRecords(ctx, "rt_deluxe", nights)
	assert.Error(t, err)
	assert.Error(t, db.Reserve(ctx, "rt_deluxe", nights, 1))
	assert.Error(t, db.CreateBooking(ctx, newTestBooking("bkg_closed", checkIn, checkOut, 1)))
	_, err = db.GetBooking(ctx, "bkg_closed")
	assert.Error(t, err)
	_, err = db.GetPendingOutboxEvents(ctx, 10)
	assert.Error(t, err)
}
