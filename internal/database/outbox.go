package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"hotelbook/internal/events"
	"hotelbook/internal/models"
)

const outboxColumns = `id, event_type, booking_id, payload, status, retry_count, last_error, created_at, processed_at, next_retry_at`

func insertOutboxTx(ctx context.Context, tx *sql.Tx, eventType string, b *models.Booking, now time.Time) error {
	payload, err := json.Marshal(events.NewBookingEventPayload(b, now))
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", eventType, err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO outbox (event_type, booking_id, payload, status, created_at)
		VALUES (?, ?, ?, ?, ?)`, eventType, b.ID, string(payload), models.OutboxPending, now)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

// CreateOutboxEvent records an event outside a booking transaction, e.g. a manual resync.
func (db *DB) CreateOutboxEvent(ctx context.Context, ev *models.OutboxEvent) error {
	now := time.Now().UTC()
	status := ev.Status
	if status == "" {
		status = models.OutboxPending
	}
	result, err := db.ExecContext(ctx, `INSERT INTO outbox (event_type, booking_id, payload, status, retry_count, last_error, created_at, next_retry_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.EventType, ev.BookingID, ev.Payload, status, ev.RetryCount, ev.LastError, now, ev.NextRetryAt)
	if err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	ev.ID = id
	ev.Status = status
	ev.CreatedAt = now
	return nil
}

// GetPendingOutboxEvents returns events due for delivery, oldest first.
func (db *DB) GetPendingOutboxEvents(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+outboxColumns+` FROM outbox
		WHERE status IN (?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY created_at ASC, id ASC LIMIT ?`,
		models.OutboxPending, models.OutboxRetry, time.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending outbox events: %w", err)
	}
	return scanOutbox(rows)
}

func (db *DB) UpdateOutboxEventStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var (
		query string
		args  []any
	)
	now := time.Now().UTC()
	lastErr := nullString(errMsg)

	switch status {
	case models.OutboxRetry:
		query = `UPDATE outbox SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`
		args = []any{status, lastErr, nextRetryAt, id}
	case models.OutboxCompleted, models.OutboxFailed:
		query = `UPDATE outbox SET status = ?, last_error = ?, next_retry_at = ?, processed_at = ? WHERE id = ?`
		args = []any{status, lastErr, nextRetryAt, now, id}
	default:
		query = `UPDATE outbox SET status = ?, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []any{status, lastErr, nextRetryAt, id}
	}

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update outbox event status: %w", err)
	}
	return nil
}

func (db *DB) GetFailedOutboxEvents(ctx context.Context) ([]models.OutboxEvent, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+outboxColumns+` FROM outbox WHERE status = ? ORDER BY created_at DESC`,
		models.OutboxFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to get failed outbox events: %w", err)
	}
	return scanOutbox(rows)
}

func scanOutbox(rows *sql.Rows) ([]models.OutboxEvent, error) {
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
