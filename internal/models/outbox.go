package models

import "time"

const (
	OutboxPending   = "pending"
	OutboxRetry     = "retry"
	OutboxCompleted = "completed"
	OutboxFailed    = "failed"
)

// OutboxEvent is a booking change recorded in the same transaction as the change itself,
// waiting to be delivered to downstream sinks.
type OutboxEvent struct {
	ID          int64      `json:"id"`
	EventType   string     `json:"event_type"`
	BookingID   string     `json:"booking_id"`
	Payload     string     `json:"payload"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	LastError   *string    `json:"last_error"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at"`
	NextRetryAt *time.Time `json:"next_retry_at"`
}
