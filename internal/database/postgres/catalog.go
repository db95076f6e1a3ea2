package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"hotelbook/internal/models"

	"github.com/jackc/pgx/v5"
)

func (s *Store) SeedCatalog(ctx context.Context, seed *models.CatalogSeed) error {
	batch := &pgx.Batch{}
	for _, p := range seed.Properties {
		batch.Queue(`INSERT INTO properties (id, name, city, country, currency) VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, city = EXCLUDED.city,
				country = EXCLUDED.country, currency = EXCLUDED.currency`,
			p.ID, p.Name, p.City, p.Country, currencyOrDefault(p.Currency))
	}
	for _, rt := range seed.RoomTypes {
		batch.Queue(`INSERT INTO room_types (id, property_id, name, max_occupancy, total_rooms, base_price, currency)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET property_id = EXCLUDED.property_id, name = EXCLUDED.name,
				max_occupancy = EXCLUDED.max_occupancy, total_rooms = EXCLUDED.total_rooms,
				base_price = EXCLUDED.base_price, currency = EXCLUDED.currency`,
			rt.ID, rt.PropertyID, rt.Name, rt.MaxOccupancy, rt.TotalRooms, rt.BasePricePerNight, currencyOrDefault(rt.Currency))
	}
	for _, p := range seed.PromoCodes {
		batch.Queue(`INSERT INTO promo_codes (code, description, discount_type, discount_value, is_active)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (code) DO UPDATE SET description = EXCLUDED.description, discount_type = EXCLUDED.discount_type,
				discount_value = EXCLUDED.discount_value, is_active = EXCLUDED.is_active`,
			strings.ToUpper(p.Code), p.Description, p.DiscountType, p.DiscountValue, p.IsActive)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to seed catalog: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Store) GetProperty(ctx context.Context, propertyID string) (*models.Property, error) {
	var p models.Property
	err := s.pool.QueryRow(ctx, `SELECT id, name, city, country, currency FROM properties WHERE id = $1`, propertyID).
		Scan(&p.ID, &p.Name, &p.City, &p.Country, &p.Currency)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get property: %w", err)
	}
	return &p, nil
}

const roomTypeColumns = `id, property_id, name, max_occupancy, total_rooms, base_price, currency`

func scanRoomType(row pgx.Row) (*models.RoomType, error) {
	var rt models.RoomType
	if err := row.Scan(&rt.ID, &rt.PropertyID, &rt.Name, &rt.MaxOccupancy, &rt.TotalRooms, &rt.BasePricePerNight, &rt.Currency); err != nil {
		return nil, err
	}
	return &rt, nil
}

func (s *Store) getRoomType(ctx context.Context, where string, args ...any) (*models.RoomType, error) {
	rt, err := scanRoomType(s.pool.QueryRow(ctx, `SELECT `+roomTypeColumns+` FROM room_types WHERE `+where, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room type: %w", err)
	}
	return rt, nil
}

func (s *Store) GetRoomType(ctx context.Context, propertyID, roomTypeID string) (*models.RoomType, error) {
	return s.getRoomType(ctx, `id = $1 AND property_id = $2`, roomTypeID, propertyID)
}

func (s *Store) GetRoomTypeByID(ctx context.Context, roomTypeID string) (*models.RoomType, error) {
	return s.getRoomType(ctx, `id = $1`, roomTypeID)
}

func (s *Store) ListRoomTypes(ctx context.Context, propertyID string) ([]*models.RoomType, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+roomTypeColumns+` FROM room_types WHERE property_id = $1 ORDER BY base_price, id`, propertyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list room types: %w", err)
	}
	defer rows.Close()

	var out []*models.RoomType
	for rows.Next() {
		rt, err := scanRoomType(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan room type: %w", err)
		}
		out = append(out, rt)
	}
	return out, rows.Err()
}

func (s *Store) GetPromoCode(ctx context.Context, code string) (*models.PromoCode, error) {
	var p models.PromoCode
	err := s.pool.QueryRow(ctx, `SELECT code, description, discount_type, discount_value, is_active
		FROM promo_codes WHERE code = $1`, strings.ToUpper(code)).
		Scan(&p.Code, &p.Description, &p.DiscountType, &p.DiscountValue, &p.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get promo code: %w", err)
	}
	return &p, nil
}

func (s *Store) UpsertAvailability(ctx context.Context, rec *models.AvailabilityRecord) error {
	multiplier := rec.PriceMultiplier
	if multiplier == 0 {
		multiplier = 1
	}
	maxStay := rec.MaxStay
	if maxStay <= 0 {
		maxStay = models.MaxStayNights
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO availability
			(room_type_id, date, available_rooms, total_rooms, price_per_night, price_multiplier, currency, min_stay, max_stay, is_blocked, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (room_type_id, date) DO UPDATE SET available_rooms = EXCLUDED.available_rooms,
			total_rooms = EXCLUDED.total_rooms, price_per_night = EXCLUDED.price_per_night,
			price_multiplier = EXCLUDED.price_multiplier, currency = EXCLUDED.currency,
			min_stay = EXCLUDED.min_stay, max_stay = EXCLUDED.max_stay,
			is_blocked = EXCLUDED.is_blocked, updated_at = now()`,
		rec.RoomTypeID, rec.Date, rec.AvailableRooms, rec.TotalRooms, rec.PricePerNight, multiplier,
		currencyOrDefault(rec.Currency), max(rec.MinStay, 1), maxStay, rec.IsBlocked)
	if err != nil {
		return fmt.Errorf("failed to upsert availability: %w", err)
	}
	return nil
}

// ProvisionAvailability creates ledger rows for the next days at the room type's base price
// and leaves existing rows untouched.
func (s *Store) ProvisionAvailability(ctx context.Context, rt *models.RoomType, from time.Time, days int) (int, error) {
	tag, err := s.pool.Exec(ctx, `INSERT INTO availability (room_type_id, date, available_rooms, total_rooms, price_per_night, currency)
		SELECT $1, d::date, $2, $2, $3, $4
		FROM generate_series($5::date, $5::date + ($6 - 1) * INTERVAL '1 day', INTERVAL '1 day') AS d
		ON CONFLICT (room_type_id, date) DO NOTHING`,
		rt.ID, rt.TotalRooms, rt.BasePricePerNight, currencyOrDefault(rt.Currency), from, days)
	if err != nil {
		return 0, fmt.Errorf("failed to provision availability: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func currencyOrDefault(c string) string {
	if c == "" {
		return models.DefaultCurrency
	}
	return c
}
