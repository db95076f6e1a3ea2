package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"hotelbook/internal/events"
	"hotelbook/internal/models"

	"github.com/jackc/pgx/v5"
)

func insertOutboxTx(ctx context.Context, tx pgx.Tx, eventType string, b *models.Booking, at time.Time) error {
	payload, err := json.Marshal(events.NewBookingEventPayload(b, at))
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", eventType, err)
	}
	_, err = tx.Exec(ctx, `INSERT INTO outbox (event_type, booking_id, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5)`, eventType, b.ID, payload, models.OutboxPending, at)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

// GetPendingOutboxEvents claims nothing; a single relay is expected per database.
func (s *Store) GetPendingOutboxEvents(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, event_type, booking_id, payload::text, status, retry_count, last_error,
			created_at, processed_at, next_retry_at
		FROM outbox
		WHERE status IN ($1, $2) AND (next_retry_at IS NULL OR next_retry_at <= now())
		ORDER BY created_at, id LIMIT $3`, models.OutboxPending, models.OutboxRetry, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending outbox events: %w", err)
	}
	defer rows.Close()

	var out []models.OutboxEvent
	for rows.Next() {
		var ev models.OutboxEvent
		if err := rows.Scan(&ev.ID, &ev.EventType, &ev.BookingID, &ev.Payload, &ev.Status, &ev.RetryCount,
			&ev.LastError, &ev.CreatedAt, &ev.ProcessedAt, &ev.NextRetryAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) UpdateOutboxEventStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var lastErr *string
	if errMsg != "" {
		lastErr = &errMsg
	}

	var err error
	switch status {
	case models.OutboxRetry:
		_, err = s.pool.Exec(ctx, `UPDATE outbox SET status = $1, last_error = $2, next_retry_at = $3, retry_count = retry_count + 1
			WHERE id = $4`, status, lastErr, nextRetryAt, id)
	case models.OutboxCompleted, models.OutboxFailed:
		_, err = s.pool.Exec(ctx, `UPDATE outbox SET status = $1, last_error = $2, next_retry_at = $3, processed_at = now()
			WHERE id = $4`, status, lastErr, nextRetryAt, id)
	default:
		_, err = s.pool.Exec(ctx, `UPDATE outbox SET status = $1, last_error = $2, next_retry_at = $3 WHERE id = $4`,
			status, lastErr, nextRetryAt, id)
	}
	if err != nil {
		return fmt.Errorf("failed to update outbox event status: %w", err)
	}
	return nil
}
