package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"hotelbook/internal/calendar"
	"hotelbook/internal/domain"
	"hotelbook/internal/events"
	"hotelbook/internal/metrics"
	"hotelbook/internal/models"
)

// CreateBooking reserves the stay and writes the booking, its room line, its payment and
// the booking.created outbox event in a single transaction. Nothing is written when any
// night lacks rooms.
func (db *DB) CreateBooking(ctx context.Context, b *models.Booking) error {
	defer metrics.ObserveLedger("create_booking", time.Now())

	nights, err := calendar.ExpandNights(b.CheckIn, b.CheckOut)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := reserveTx(ctx, tx, b.RoomTypeID, nights, b.Rooms); err != nil {
		return err
	}

	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now
	b.Version = 1
	b.Payment.BookingID = b.ID
	b.Payment.CreatedAt = now

	_, err = tx.ExecContext(ctx, `INSERT INTO bookings (
			id, reference, user_id, property_id, property_name, room_type_id, check_in, check_out,
			nights, rooms, adults, children, status, subtotal, taxes, service_fee, discount,
			total_amount, currency, promo_code, guest_first_name, guest_last_name, guest_email,
			guest_phone, guest_country, special_requests, idempotency_key, created_at, updated_at, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Reference, b.UserID, b.PropertyID, b.PropertyName, b.RoomTypeID,
		b.CheckIn.Format(models.DateLayout), b.CheckOut.Format(models.DateLayout),
		b.Nights, b.Rooms, b.Adults, b.Children, b.Status, b.Subtotal, b.Taxes, b.ServiceFee, b.Discount,
		b.TotalAmount, b.Currency, nullString(b.PromoCode), b.Guest.FirstName, b.Guest.LastName, b.Guest.Email,
		b.Guest.Phone, nullString(b.Guest.Country), nullString(b.SpecialRequests), nullString(b.IdempotencyKey),
		now, now, b.Version,
	)
	if err != nil {
		switch {
		case uniqueViolation(err, "bookings.reference"):
			return ErrDuplicateReference
		case uniqueViolation(err, "bookings.idempotency_key"):
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to insert booking: %w", err)
	}

	rates, err := json.Marshal(b.Room.NightlyRates)
	if err != nil {
		return fmt.Errorf("failed to encode nightly rates: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO booking_rooms (booking_id, room_type_id, room_type_name, rooms, price_per_night, nightly_rates)
		VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID, b.Room.RoomTypeID, b.Room.RoomTypeName, b.Room.NumberOfRooms, b.Room.PricePerNight, string(rates))
	if err != nil {
		return fmt.Errorf("failed to insert booking room: %w", err)
	}

	p := &b.Payment
	_, err = tx.ExecContext(ctx, `INSERT INTO payments (id, booking_id, amount, currency, method, provider, token_last4, status, transaction_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.PaymentID, b.ID, p.Amount, p.Currency, p.Method, p.Provider, nullString(p.TokenLast4), p.Status, p.TransactionID, now)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}

	if err := insertOutboxTx(ctx, tx, events.EventBookingCreated, b, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit booking: %w", err)
	}
	return nil
}

// CancelBooking moves a confirmed booking to cancelled and gives its rooms back to the
// ledger in the same transaction. The status change is conditional on the version the
// caller read, so two racing cancellations cannot both release inventory.
func (db *DB) CancelBooking(ctx context.Context, c domain.Cancellation) (*models.Booking, error) {
	defer metrics.ObserveLedger("cancel_booking", time.Now())

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	b, err := getBooking(ctx, tx, `b.id = ?`, c.BookingID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrBookingNotFound
	}

	now := time.Now().UTC()
	cancelledAt := c.CancelledAt.UTC()
	res, err := tx.ExecContext(ctx, `UPDATE bookings
		SET status = ?, cancelled_at = ?, refund_amount = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND status = ? AND version = ?`,
		models.StatusCancelled, cancelledAt, c.RefundAmount, now, c.BookingID, models.StatusConfirmed, c.ExpectedVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel booking: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		switch b.Status {
		case models.StatusCancelled:
			return nil, ErrAlreadyCancelled
		case models.StatusCompleted:
			return nil, ErrCannotCancelCompleted
		}
		return nil, ErrConcurrentModification
	}

	nights, err := calendar.ExpandNights(b.CheckIn, b.CheckOut)
	if err != nil {
		return nil, err
	}
	if err := releaseTx(ctx, tx, b.RoomTypeID, nights, b.Rooms, db.logger); err != nil {
		return nil, err
	}

	b.Status = models.StatusCancelled
	b.CancelledAt = &cancelledAt
	refund := c.RefundAmount
	b.RefundAmount = &refund
	b.UpdatedAt = now
	b.Version++

	if err := insertOutboxTx(ctx, tx, events.EventBookingCancelled, b, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit cancellation: %w", err)
	}
	return b, nil
}

func (db *DB) GetBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	return getBooking(ctx, db, `b.id = ?`, bookingID)
}

func (db *DB) GetBookingByReference(ctx context.Context, reference string) (*models.Booking, error) {
	return getBooking(ctx, db, `b.reference = ?`, strings.ToUpper(reference))
}

func (db *DB) GetBookingByIdempotencyKey(ctx context.Context, userID, key string) (*models.Booking, error) {
	return getBooking(ctx, db, `b.user_id = ? AND b.idempotency_key = ?`, userID, key)
}

// ListUserBookings pages through a user's bookings, newest first.
func (db *DB) ListUserBookings(ctx context.Context, q domain.UserBookingsQuery) (*domain.BookingPage, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = models.DefaultBookingsPageSize
	}
	if limit > models.MaxBookingsPageSize {
		limit = models.MaxBookingsPageSize
	}

	where := []string{`b.user_id = ?`}
	args := []any{q.UserID}

	today := calendar.Format(calendar.Date(q.Today))
	switch q.Status {
	case "", "all":
	case models.TripUpcoming:
		where = append(where, `b.status = ? AND b.check_in > ?`)
		args = append(args, models.StatusConfirmed, today)
	case models.TripPast:
		where = append(where, `b.status != ? AND b.check_out < ?`)
		args = append(args, models.StatusCancelled, today)
	default:
		where = append(where, `b.status = ?`)
		args = append(args, q.Status)
	}

	if q.NextToken != "" {
		createdAt, id, err := domain.DecodeCursor(q.NextToken)
		if err != nil {
			return nil, err
		}
		where = append(where, `(b.created_at < ? OR (b.created_at = ? AND b.id < ?))`)
		args = append(args, createdAt, createdAt, id)
	}

	query := bookingSelect + ` WHERE ` + strings.Join(where, " AND ") + ` ORDER BY b.created_at DESC, b.id DESC LIMIT ?`
	args = append(args, limit+1)

	bookings, err := queryBookings(ctx, db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list user bookings: %w", err)
	}

	page := &domain.BookingPage{Bookings: bookings}
	if len(bookings) > limit {
		page.Bookings = bookings[:limit]
		page.HasMore = true
		last := page.Bookings[limit-1]
		page.NextToken = domain.EncodeCursor(last.CreatedAt, last.ID)
	}
	return page, nil
}

// ListPropertyBookings returns bookings of a property whose stay overlaps [from, to).
func (db *DB) ListPropertyBookings(ctx context.Context, propertyID string, from, to time.Time) ([]*models.Booking, error) {
	query := bookingSelect + ` WHERE b.property_id = ? AND b.check_in < ? AND b.check_out > ? ORDER BY b.check_in, b.created_at`
	bookings, err := queryBookings(ctx, db, query, propertyID, calendar.Format(to), calendar.Format(from))
	if err != nil {
		return nil, fmt.Errorf("failed to list property bookings: %w", err)
	}
	return bookings, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const bookingSelect = `SELECT b.id, b.reference, b.user_id, b.property_id, COALESCE(b.property_name, ''), b.room_type_id,
	       b.check_in, b.check_out, b.nights, b.rooms, b.adults, b.children, b.status, b.subtotal, b.taxes,
	       b.service_fee, b.discount, b.total_amount, b.currency, COALESCE(b.promo_code, ''),
	       b.guest_first_name, b.guest_last_name, b.guest_email, b.guest_phone, COALESCE(b.guest_country, ''),
	       COALESCE(b.special_requests, ''), COALESCE(b.idempotency_key, ''), b.created_at, b.updated_at,
	       b.cancelled_at, b.refund_amount, b.version,
	       r.room_type_id, COALESCE(r.room_type_name, ''), r.rooms, r.price_per_night, r.nightly_rates,
	       p.id, p.amount, p.currency, p.method, p.provider, COALESCE(p.token_last4, ''), p.status,
	       p.transaction_id, p.created_at
	FROM bookings b
	JOIN booking_rooms r ON r.booking_id = b.id
	JOIN payments p ON p.booking_id = b.id`

func getBooking(ctx context.Context, q querier, where string, args ...any) (*models.Booking, error) {
	b, err := scanBooking(q.QueryRowContext(ctx, bookingSelect+` WHERE `+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

func queryBookings(ctx context.Context, q querier, query string, args ...any) ([]*models.Booking, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func scanBooking(row interface{ Scan(...any) error }) (*models.Booking, error) {
	var (
		b                 models.Booking
		checkIn, checkOut string
		cancelledAt       sql.NullTime
		refund            sql.NullFloat64
		rates             string
	)
	err := row.Scan(
		&b.ID, &b.Reference, &b.UserID, &b.PropertyID, &b.PropertyName, &b.RoomTypeID,
		&checkIn, &checkOut, &b.Nights, &b.Rooms, &b.Adults, &b.Children, &b.Status, &b.Subtotal, &b.Taxes,
		&b.ServiceFee, &b.Discount, &b.TotalAmount, &b.Currency, &b.PromoCode,
		&b.Guest.FirstName, &b.Guest.LastName, &b.Guest.Email, &b.Guest.Phone, &b.Guest.Country,
		&b.SpecialRequests, &b.IdempotencyKey, &b.CreatedAt, &b.UpdatedAt,
		&cancelledAt, &refund, &b.Version,
		&b.Room.RoomTypeID, &b.Room.RoomTypeName, &b.Room.NumberOfRooms, &b.Room.PricePerNight, &rates,
		&b.Payment.PaymentID, &b.Payment.Amount, &b.Payment.Currency, &b.Payment.Method, &b.Payment.Provider,
		&b.Payment.TokenLast4, &b.Payment.Status, &b.Payment.TransactionID, &b.Payment.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if b.CheckIn, err = time.Parse(models.DateLayout, checkIn); err != nil {
		return nil, fmt.Errorf("failed to parse check-in %s: %w", checkIn, err)
	}
	if b.CheckOut, err = time.Parse(models.DateLayout, checkOut); err != nil {
		return nil, fmt.Errorf("failed to parse check-out %s: %w", checkOut, err)
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time.UTC()
		b.CancelledAt = &t
	}
	if refund.Valid {
		r := refund.Float64
		b.RefundAmount = &r
	}
	if err := json.Unmarshal([]byte(rates), &b.Room.NightlyRates); err != nil {
		return nil, fmt.Errorf("failed to decode nightly rates: %w", err)
	}
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	b.Payment.CreatedAt = b.Payment.CreatedAt.UTC()
	b.Payment.BookingID = b.ID
	return &b, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
