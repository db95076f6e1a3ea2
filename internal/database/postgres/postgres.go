// Package postgres is the PostgreSQL implementation of the booking repository. It keeps
// the same guarantees as the SQLite store: every ledger change commits together with the
// booking row that caused it.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const uniqueViolationCode = "23505"

type Store struct {
	pool   *pgxpool.Pool
	logger *zerolog.Logger
}

// Connect opens a pool against dsn and applies the schema.
func Connect(ctx context.Context, dsn string, logger *zerolog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	s := &Store{pool: pool, logger: logger}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info().Str("host", cfg.ConnConfig.Host).Str("database", cfg.ConnConfig.Database).Msg("postgres initialized")
	return s, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, q := range schema {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS properties (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		city TEXT NOT NULL DEFAULT '',
		country TEXT NOT NULL DEFAULT '',
		currency TEXT NOT NULL DEFAULT 'USD'
	)`,
	`CREATE TABLE IF NOT EXISTS room_types (
		id TEXT PRIMARY KEY,
		property_id TEXT NOT NULL REFERENCES properties(id),
		name TEXT NOT NULL,
		max_occupancy INTEGER NOT NULL,
		total_rooms INTEGER NOT NULL,
		base_price DOUBLE PRECISION NOT NULL,
		currency TEXT NOT NULL DEFAULT 'USD'
	)`,
	`CREATE TABLE IF NOT EXISTS promo_codes (
		code TEXT PRIMARY KEY,
		description TEXT NOT NULL DEFAULT '',
		discount_type TEXT NOT NULL,
		discount_value DOUBLE PRECISION NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS availability (
		room_type_id TEXT NOT NULL,
		date DATE NOT NULL,
		available_rooms INTEGER NOT NULL,
		total_rooms INTEGER NOT NULL,
		price_per_night DOUBLE PRECISION NOT NULL,
		price_multiplier DOUBLE PRECISION NOT NULL DEFAULT 1,
		currency TEXT NOT NULL DEFAULT 'USD',
		min_stay INTEGER NOT NULL DEFAULT 1,
		max_stay INTEGER NOT NULL DEFAULT 30,
		is_blocked BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (room_type_id, date),
		CHECK (available_rooms >= 0 AND available_rooms <= total_rooms)
	)`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		reference TEXT NOT NULL,
		user_id TEXT NOT NULL,
		property_id TEXT NOT NULL,
		property_name TEXT NOT NULL DEFAULT '',
		room_type_id TEXT NOT NULL,
		check_in DATE NOT NULL,
		check_out DATE NOT NULL,
		nights INTEGER NOT NULL,
		rooms INTEGER NOT NULL,
		adults INTEGER NOT NULL,
		children INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		subtotal DOUBLE PRECISION NOT NULL,
		taxes DOUBLE PRECISION NOT NULL,
		service_fee DOUBLE PRECISION NOT NULL,
		discount DOUBLE PRECISION NOT NULL DEFAULT 0,
		total_amount DOUBLE PRECISION NOT NULL,
		currency TEXT NOT NULL,
		promo_code TEXT NOT NULL DEFAULT '',
		guest_first_name TEXT NOT NULL,
		guest_last_name TEXT NOT NULL,
		guest_email TEXT NOT NULL,
		guest_phone TEXT NOT NULL,
		guest_country TEXT NOT NULL DEFAULT '',
		special_requests TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		cancelled_at TIMESTAMPTZ,
		refund_amount DOUBLE PRECISION,
		version BIGINT NOT NULL DEFAULT 1,
		CONSTRAINT bookings_reference_unique UNIQUE (reference),
		CONSTRAINT bookings_idempotency_unique UNIQUE (user_id, idempotency_key)
	)`,
	`CREATE TABLE IF NOT EXISTS booking_rooms (
		booking_id TEXT PRIMARY KEY REFERENCES bookings(id),
		room_type_id TEXT NOT NULL,
		room_type_name TEXT NOT NULL DEFAULT '',
		rooms INTEGER NOT NULL,
		price_per_night DOUBLE PRECISION NOT NULL,
		nightly_rates JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		booking_id TEXT NOT NULL UNIQUE REFERENCES bookings(id),
		amount DOUBLE PRECISION NOT NULL,
		currency TEXT NOT NULL,
		method TEXT NOT NULL,
		provider TEXT NOT NULL,
		token_last4 TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		transaction_id TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS outbox (
		id BIGSERIAL PRIMARY KEY,
		event_type TEXT NOT NULL,
		booking_id TEXT NOT NULL,
		payload JSONB NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		processed_at TIMESTAMPTZ,
		next_retry_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_room_types_property ON room_types(property_id)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_user ON bookings(user_id, created_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_property ON bookings(property_id, check_in)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox(status, next_retry_at)`,
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode && pgErr.ConstraintName == constraint
}

// now is truncated to the storage precision so cursors round-trip exactly.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
