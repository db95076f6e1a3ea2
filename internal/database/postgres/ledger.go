package postgres

import (
	"context"
	"fmt"
	"time"

	"hotelbook/internal/domain"
	"hotelbook/internal/metrics"
	"hotelbook/internal/models"

	"github.com/jackc/pgx/v5"
)

func (s *Store) GetAvailabilityRecords(ctx context.Context, roomTypeID string, nights []time.Time) (map[string]models.AvailabilityRecord, error) {
	defer metrics.ObserveLedger("read", time.Now())

	out := make(map[string]models.AvailabilityRecord, len(nights))
	if len(nights) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx, `SELECT room_type_id, date, available_rooms, total_rooms, price_per_night, price_multiplier,
			currency, min_stay, max_stay, is_blocked
		FROM availability WHERE room_type_id = $1 AND date = ANY($2::date[])`, roomTypeID, nights)
	if err != nil {
		return nil, fmt.Errorf("failed to get availability: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec models.AvailabilityRecord
		if err := rows.Scan(&rec.RoomTypeID, &rec.Date, &rec.AvailableRooms, &rec.TotalRooms, &rec.PricePerNight,
			&rec.PriceMultiplier, &rec.Currency, &rec.MinStay, &rec.MaxStay, &rec.IsBlocked); err != nil {
			return nil, fmt.Errorf("failed to scan availability: %w", err)
		}
		rec.Date = rec.Date.UTC()
		out[rec.Date.Format(models.DateLayout)] = rec
	}
	return out, rows.Err()
}

func (s *Store) GetAvailability(ctx context.Context, roomTypeID string, nights []time.Time, rooms int) (*models.Availability, error) {
	records, err := s.GetAvailabilityRecords(ctx, roomTypeID, nights)
	if err != nil {
		return nil, err
	}
	return domain.SummarizeAvailability(roomTypeID, nights, rooms, records), nil
}

func (s *Store) Reserve(ctx context.Context, roomTypeID string, nights []time.Time, rooms int) error {
	defer metrics.ObserveLedger("reserve", time.Now())
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return reserveTx(ctx, tx, roomTypeID, nights, rooms)
	})
}

func (s *Store) Release(ctx context.Context, roomTypeID string, nights []time.Time, rooms int) error {
	defer metrics.ObserveLedger("release", time.Now())
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return s.releaseTx(ctx, tx, roomTypeID, nights, rooms)
	})
}

// reserveTx decrements nights in ascending date order. Concurrent reservations therefore
// lock rows in the same order and the conditional update re-checks the count after waiting.
func reserveTx(ctx context.Context, tx pgx.Tx, roomTypeID string, nights []time.Time, rooms int) error {
	if rooms <= 0 {
		return fmt.Errorf("rooms must be positive, got %d", rooms)
	}
	for _, night := range nights {
		tag, err := tx.Exec(ctx, `UPDATE availability
			SET available_rooms = available_rooms - $1, updated_at = now()
			WHERE room_type_id = $2 AND date = $3 AND available_rooms >= $1 AND NOT is_blocked`,
			rooms, roomTypeID, night)
		if err != nil {
			return fmt.Errorf("failed to reserve %s on %s: %w", roomTypeID, night.Format(models.DateLayout), err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: room type %s on %s", domain.ErrInsufficientAvailability, roomTypeID, night.Format(models.DateLayout))
		}
	}
	return nil
}

func (s *Store) releaseTx(ctx context.Context, tx pgx.Tx, roomTypeID string, nights []time.Time, rooms int) error {
	for _, night := range nights {
		tag, err := tx.Exec(ctx, `UPDATE availability
			SET available_rooms = LEAST(available_rooms + $1, total_rooms), updated_at = now()
			WHERE room_type_id = $2 AND date = $3`,
			rooms, roomTypeID, night)
		if err != nil {
			return fmt.Errorf("failed to release %s on %s: %w", roomTypeID, night.Format(models.DateLayout), err)
		}
		if tag.RowsAffected() == 0 {
			s.logger.Warn().Str("room_type_id", roomTypeID).Str("date", night.Format(models.DateLayout)).Msg("release skipped, no ledger row")
		}
	}
	return nil
}
