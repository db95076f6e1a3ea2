package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"hotelbook/internal/models"
)

// SeedCatalog upserts the read-only catalog in one transaction.
func (db *DB) SeedCatalog(ctx context.Context, seed *models.CatalogSeed) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i := range seed.Properties {
		p := &seed.Properties[i]
		_, err := tx.ExecContext(ctx, `INSERT INTO properties (id, name, city, country, currency)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name, city = excluded.city,
				country = excluded.country, currency = excluded.currency`,
			p.ID, p.Name, p.City, p.Country, currencyOrDefault(p.Currency))
		if err != nil {
			return fmt.Errorf("failed to upsert property %s: %w", p.ID, err)
		}
	}

	for i := range seed.RoomTypes {
		rt := &seed.RoomTypes[i]
		_, err := tx.ExecContext(ctx, `INSERT INTO room_types (id, property_id, name, max_occupancy, total_rooms, base_price, currency)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET property_id = excluded.property_id, name = excluded.name,
				max_occupancy = excluded.max_occupancy, total_rooms = excluded.total_rooms,
				base_price = excluded.base_price, currency = excluded.currency`,
			rt.ID, rt.PropertyID, rt.Name, rt.MaxOccupancy, rt.TotalRooms, rt.BasePricePerNight, currencyOrDefault(rt.Currency))
		if err != nil {
			return fmt.Errorf("failed to upsert room type %s: %w", rt.ID, err)
		}
	}

	for i := range seed.PromoCodes {
		p := &seed.PromoCodes[i]
		_, err := tx.ExecContext(ctx, `INSERT INTO promo_codes (code, description, discount_type, discount_value, is_active)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(code) DO UPDATE SET description = excluded.description, discount_type = excluded.discount_type,
				discount_value = excluded.discount_value, is_active = excluded.is_active`,
			strings.ToUpper(p.Code), p.Description, p.DiscountType, p.DiscountValue, p.IsActive)
		if err != nil {
			return fmt.Errorf("failed to upsert promo code %s: %w", p.Code, err)
		}
	}

	return tx.Commit()
}

func (db *DB) GetProperty(ctx context.Context, propertyID string) (*models.Property, error) {
	var p models.Property
	err := db.QueryRowContext(ctx, `SELECT id, name, COALESCE(city, ''), COALESCE(country, ''), currency
		FROM properties WHERE id = ?`, propertyID).Scan(&p.ID, &p.Name, &p.City, &p.Country, &p.Currency)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get property: %w", err)
	}
	return &p, nil
}

const roomTypeColumns = `id, property_id, name, max_occupancy, total_rooms, base_price, currency`

func scanRoomType(row interface{ Scan(...any) error }) (*models.RoomType, error) {
	var rt models.RoomType
	err := row.Scan(&rt.ID, &rt.PropertyID, &rt.Name, &rt.MaxOccupancy, &rt.TotalRooms, &rt.BasePricePerNight, &rt.Currency)
	if err != nil {
		return nil, err
	}
	return &rt, nil
}

func (db *DB) GetRoomType(ctx context.Context, propertyID, roomTypeID string) (*models.RoomType, error) {
	row := db.QueryRowContext(ctx, `SELECT `+roomTypeColumns+` FROM room_types WHERE id = ? AND property_id = ?`,
		roomTypeID, propertyID)
	rt, err := scanRoomType(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room type: %w", err)
	}
	return rt, nil
}

func (db *DB) GetRoomTypeByID(ctx context.Context, roomTypeID string) (*models.RoomType, error) {
	rt, err := scanRoomType(db.QueryRowContext(ctx, `SELECT `+roomTypeColumns+` FROM room_types WHERE id = ?`, roomTypeID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room type: %w", err)
	}
	return rt, nil
}

func (db *DB) ListRoomTypes(ctx context.Context, propertyID string) ([]*models.RoomType, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+roomTypeColumns+` FROM room_types WHERE property_id = ? ORDER BY base_price, id`, propertyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list room types: %w", err)
	}
	defer rows.Close()

	var roomTypes []*models.RoomType
	for rows.Next() {
		rt, err := scanRoomType(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan room type: %w", err)
		}
		roomTypes = append(roomTypes, rt)
	}
	return roomTypes, rows.Err()
}

func (db *DB) GetPromoCode(ctx context.Context, code string) (*models.PromoCode, error) {
	var p models.PromoCode
	err := db.QueryRowContext(ctx, `SELECT code, COALESCE(description, ''), discount_type, discount_value, is_active
		FROM promo_codes WHERE code = ?`, strings.ToUpper(code)).
		Scan(&p.Code, &p.Description, &p.DiscountType, &p.DiscountValue, &p.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get promo code: %w", err)
	}
	return &p, nil
}

// UpsertAvailability writes a single ledger row as inventory provisioning would.
func (db *DB) UpsertAvailability(ctx context.Context, rec *models.AvailabilityRecord) error {
	multiplier := rec.PriceMultiplier
	if multiplier == 0 {
		multiplier = 1
	}
	_, err := db.ExecContext(ctx, `INSERT INTO availability
			(room_type_id, date, available_rooms, total_rooms, price_per_night, price_multiplier, currency, min_stay, max_stay, is_blocked, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(room_type_id, date) DO UPDATE SET available_rooms = excluded.available_rooms,
			total_rooms = excluded.total_rooms, price_per_night = excluded.price_per_night,
			price_multiplier = excluded.price_multiplier, currency = excluded.currency,
			min_stay = excluded.min_stay, max_stay = excluded.max_stay,
			is_blocked = excluded.is_blocked, updated_at = excluded.updated_at`,
		rec.RoomTypeID, rec.Date.Format(models.DateLayout), rec.AvailableRooms, rec.TotalRooms, rec.PricePerNight,
		multiplier, currencyOrDefault(rec.Currency), max(rec.MinStay, 1), maxStayOrDefault(rec.MaxStay), rec.IsBlocked, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert availability: %w", err)
	}
	return nil
}

// ProvisionAvailability creates ledger rows for the next days of a room type at its base
// price. Existing rows are left untouched, so it is safe to run on every start.
func (db *DB) ProvisionAvailability(ctx context.Context, rt *models.RoomType, from time.Time, days int) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	created := 0
	for i := 0; i < days; i++ {
		day := from.AddDate(0, 0, i).Format(models.DateLayout)
		res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO availability
				(room_type_id, date, available_rooms, total_rooms, price_per_night, currency, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rt.ID, day, rt.TotalRooms, rt.TotalRooms, rt.BasePricePerNight, currencyOrDefault(rt.Currency), now)
		if err != nil {
			return 0, fmt.Errorf("failed to provision availability for %s: %w", day, err)
		}
		n, _ := res.RowsAffected()
		created += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit provisioning: %w", err)
	}
	return created, nil
}

func currencyOrDefault(c string) string {
	if c == "" {
		return models.DefaultCurrency
	}
	return c
}

func maxStayOrDefault(n int) int {
	if n <= 0 {
		return models.MaxStayNights
	}
	return n
}
