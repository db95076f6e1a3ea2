package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"hotelbook/internal/domain"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

var (
	ErrInsufficientAvailability = domain.ErrInsufficientAvailability
	ErrBookingNotFound          = domain.ErrBookingNotFound
	ErrAlreadyCancelled         = domain.ErrAlreadyCancelled
	ErrCannotCancelCompleted    = domain.ErrCannotCancelCompleted
	ErrConcurrentModification   = domain.ErrConcurrentModification
	ErrDuplicateReference       = domain.ErrDuplicateReference
	ErrDuplicateIdempotencyKey  = domain.ErrDuplicateIdempotencyKey
)

const memoryPath = ":memory:"

type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
}

// NewDB opens the SQLite store at path and applies the schema. Write transactions start
// with BEGIN IMMEDIATE so ledger adjustments from concurrent callers are serialized by
// SQLite itself; the busy timeout makes them queue instead of failing.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	dsn := path
	if path != memoryPath {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_busy_timeout=10000&_txlock=immediate&_journal_mode=WAL&_foreign_keys=on", path)
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == memoryPath {
		// every connection to :memory: is a separate database
		sqlDB.SetMaxOpenConns(1)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return &DB{DB: sqlDB, path: path, logger: logger}, nil
}

func (db *DB) Path() string {
	return db.path
}

func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS properties (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            city TEXT,
            country TEXT,
            currency TEXT NOT NULL DEFAULT 'USD'
        )`,
		`CREATE TABLE IF NOT EXISTS room_types (
            id TEXT PRIMARY KEY,
            property_id TEXT NOT NULL REFERENCES properties(id),
            name TEXT NOT NULL,
            max_occupancy INTEGER NOT NULL,
            total_rooms INTEGER NOT NULL,
            base_price REAL NOT NULL,
            currency TEXT NOT NULL DEFAULT 'USD'
        )`,
		`CREATE TABLE IF NOT EXISTS promo_codes (
            code TEXT PRIMARY KEY,
            description TEXT,
            discount_type TEXT NOT NULL,
            discount_value REAL NOT NULL,
            is_active BOOLEAN NOT NULL DEFAULT 1
        )`,
		`CREATE TABLE IF NOT EXISTS availability (
            room_type_id TEXT NOT NULL,
            date TEXT NOT NULL,
            available_rooms INTEGER NOT NULL,
            total_rooms INTEGER NOT NULL,
            price_per_night REAL NOT NULL,
            price_multiplier REAL NOT NULL DEFAULT 1,
            currency TEXT NOT NULL DEFAULT 'USD',
            min_stay INTEGER NOT NULL DEFAULT 1,
            max_stay INTEGER NOT NULL DEFAULT 30,
            is_blocked BOOLEAN NOT NULL DEFAULT 0,
            updated_at DATETIME,
            PRIMARY KEY (room_type_id, date),
            CHECK (available_rooms >= 0 AND available_rooms <= total_rooms)
        )`,
		`CREATE TABLE IF NOT EXISTS bookings (
            id TEXT PRIMARY KEY,
            reference TEXT NOT NULL UNIQUE,
            user_id TEXT NOT NULL,
            property_id TEXT NOT NULL,
            property_name TEXT,
            room_type_id TEXT NOT NULL,
            check_in TEXT NOT NULL,
            check_out TEXT NOT NULL,
            nights INTEGER NOT NULL,
            rooms INTEGER NOT NULL,
            adults INTEGER NOT NULL,
            children INTEGER NOT NULL DEFAULT 0,
            status TEXT NOT NULL,
            subtotal REAL NOT NULL,
            taxes REAL NOT NULL,
            service_fee REAL NOT NULL,
            discount REAL NOT NULL DEFAULT 0,
            total_amount REAL NOT NULL,
            currency TEXT NOT NULL,
            promo_code TEXT,
            guest_first_name TEXT NOT NULL,
            guest_last_name TEXT NOT NULL,
            guest_email TEXT NOT NULL,
            guest_phone TEXT NOT NULL,
            guest_country TEXT,
            special_requests TEXT,
            idempotency_key TEXT,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            cancelled_at DATETIME,
            refund_amount REAL,
            version INTEGER NOT NULL DEFAULT 1,
            UNIQUE (user_id, idempotency_key)
        )`,
		`CREATE TABLE IF NOT EXISTS booking_rooms (
            booking_id TEXT PRIMARY KEY REFERENCES bookings(id),
            room_type_id TEXT NOT NULL,
            room_type_name TEXT,
            rooms INTEGER NOT NULL,
            price_per_night REAL NOT NULL,
            nightly_rates TEXT NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS payments (
            id TEXT PRIMARY KEY,
            booking_id TEXT NOT NULL UNIQUE REFERENCES bookings(id),
            amount REAL NOT NULL,
            currency TEXT NOT NULL,
            method TEXT NOT NULL,
            provider TEXT NOT NULL,
            token_last4 TEXT,
            status TEXT NOT NULL,
            transaction_id TEXT NOT NULL,
            created_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS outbox (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            event_type TEXT NOT NULL,
            booking_id TEXT NOT NULL,
            payload TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME NOT NULL,
            processed_at DATETIME,
            next_retry_at DATETIME
        )`,

		`CREATE INDEX IF NOT EXISTS idx_room_types_property ON room_types(property_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_user ON bookings(user_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_property ON bookings(property_id, check_in)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox(status, next_retry_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// uniqueViolation reports whether err is a UNIQUE constraint failure mentioning column.
func uniqueViolation(err error, column string) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique && strings.Contains(sqliteErr.Error(), column)
}

var _ domain.Repository = (*DB)(nil)
