package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"hotelbook/internal/domain"
	"hotelbook/internal/metrics"
	"hotelbook/internal/models"

	"github.com/rs/zerolog"
)

// GetAvailabilityRecords reads the ledger rows of the given nights. Nights without a row
// are absent from the result.
func (db *DB) GetAvailabilityRecords(ctx context.Context, roomTypeID string, nights []time.Time) (map[string]models.AvailabilityRecord, error) {
	defer metrics.ObserveLedger("read", time.Now())

	out := make(map[string]models.AvailabilityRecord, len(nights))
	if len(nights) == 0 {
		return out, nil
	}

	args := make([]any, 0, len(nights)+1)
	args = append(args, roomTypeID)
	for _, n := range nights {
		args = append(args, n.Format(models.DateLayout))
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(nights)), ",")

	query := `SELECT room_type_id, date, available_rooms, total_rooms, price_per_night, price_multiplier,
	                 currency, min_stay, max_stay, is_blocked
	          FROM availability WHERE room_type_id = ? AND date IN (` + placeholders + `)`
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get availability: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec     models.AvailabilityRecord
			dateStr string
		)
		if err := rows.Scan(&rec.RoomTypeID, &dateStr, &rec.AvailableRooms, &rec.TotalRooms, &rec.PricePerNight,
			&rec.PriceMultiplier, &rec.Currency, &rec.MinStay, &rec.MaxStay, &rec.IsBlocked); err != nil {
			return nil, fmt.Errorf("failed to scan availability: %w", err)
		}
		rec.Date, err = time.Parse(models.DateLayout, dateStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse availability date %s: %w", dateStr, err)
		}
		out[dateStr] = rec
	}
	return out, rows.Err()
}

func (db *DB) GetAvailability(ctx context.Context, roomTypeID string, nights []time.Time, rooms int) (*models.Availability, error) {
	records, err := db.GetAvailabilityRecords(ctx, roomTypeID, nights)
	if err != nil {
		return nil, err
	}
	return domain.SummarizeAvailability(roomTypeID, nights, rooms, records), nil
}

// Reserve takes rooms out of every night in one transaction. Either all nights are
// decremented or none is.
func (db *DB) Reserve(ctx context.Context, roomTypeID string, nights []time.Time, rooms int) error {
	defer metrics.ObserveLedger("reserve", time.Now())

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := reserveTx(ctx, tx, roomTypeID, nights, rooms); err != nil {
		return err
	}
	return tx.Commit()
}

// Release puts rooms back for every night in one transaction. The count never goes above
// the room type's capacity.
func (db *DB) Release(ctx context.Context, roomTypeID string, nights []time.Time, rooms int) error {
	defer metrics.ObserveLedger("release", time.Now())

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := releaseTx(ctx, tx, roomTypeID, nights, rooms, db.logger); err != nil {
		return err
	}
	return tx.Commit()
}

func reserveTx(ctx context.Context, tx *sql.Tx, roomTypeID string, nights []time.Time, rooms int) error {
	if rooms <= 0 {
		return fmt.Errorf("rooms must be positive, got %d", rooms)
	}
	now := time.Now().UTC()
	for _, night := range nights {
		day := night.Format(models.DateLayout)
		res, err := tx.ExecContext(ctx, `UPDATE availability
			SET available_rooms = available_rooms - ?, updated_at = ?
			WHERE room_type_id = ? AND date = ? AND available_rooms >= ? AND is_blocked = 0`,
			rooms, now, roomTypeID, day, rooms)
		if err != nil {
			return fmt.Errorf("failed to reserve %s on %s: %w", roomTypeID, day, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read reserve result: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("%w: room type %s on %s", ErrInsufficientAvailability, roomTypeID, day)
		}
	}
	return nil
}

func releaseTx(ctx context.Context, tx *sql.Tx, roomTypeID string, nights []time.Time, rooms int, log *zerolog.Logger) error {
	now := time.Now().UTC()
	for _, night := range nights {
		day := night.Format(models.DateLayout)
		res, err := tx.ExecContext(ctx, `UPDATE availability
			SET available_rooms = MIN(available_rooms + ?, total_rooms), updated_at = ?
			WHERE room_type_id = ? AND date = ?`,
			rooms, now, roomTypeID, day)
		if err != nil {
			return fmt.Errorf("failed to release %s on %s: %w", roomTypeID, day, err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 && log != nil {
			log.Warn().Str("room_type_id", roomTypeID).Str("date", day).Msg("release skipped, no ledger row")
		}
	}
	return nil
}
