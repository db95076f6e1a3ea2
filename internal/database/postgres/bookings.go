package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"hotelbook/internal/calendar"
	"hotelbook/internal/domain"
	"hotelbook/internal/events"
	"hotelbook/internal/metrics"
	"hotelbook/internal/models"

	"github.com/jackc/pgx/v5"
)

func (s *Store) CreateBooking(ctx context.Context, b *models.Booking) error {
	defer metrics.ObserveLedger("create_booking", time.Now())

	nights, err := calendar.ExpandNights(b.CheckIn, b.CheckOut)
	if err != nil {
		return err
	}
	rates, err := json.Marshal(b.Room.NightlyRates)
	if err != nil {
		return fmt.Errorf("failed to encode nightly rates: %w", err)
	}

	at := now()
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := reserveTx(ctx, tx, b.RoomTypeID, nights, b.Rooms); err != nil {
			return err
		}

		var idemKey *string
		if b.IdempotencyKey != "" {
			idemKey = &b.IdempotencyKey
		}
		_, err := tx.Exec(ctx, `INSERT INTO bookings (
				id, reference, user_id, property_id, property_name, room_type_id, check_in, check_out,
				nights, rooms, adults, children, status, subtotal, taxes, service_fee, discount,
				total_amount, currency, promo_code, guest_first_name, guest_last_name, guest_email,
				guest_phone, guest_country, special_requests, idempotency_key, created_at, updated_at, version
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
				$21, $22, $23, $24, $25, $26, $27, $28, $28, 1)`,
			b.ID, b.Reference, b.UserID, b.PropertyID, b.PropertyName, b.RoomTypeID, b.CheckIn, b.CheckOut,
			b.Nights, b.Rooms, b.Adults, b.Children, b.Status, b.Subtotal, b.Taxes, b.ServiceFee, b.Discount,
			b.TotalAmount, b.Currency, b.PromoCode, b.Guest.FirstName, b.Guest.LastName, b.Guest.Email,
			b.Guest.Phone, b.Guest.Country, b.SpecialRequests, idemKey, at)
		switch {
		case isUniqueViolation(err, "bookings_reference_unique"):
			return domain.ErrDuplicateReference
		case isUniqueViolation(err, "bookings_idempotency_unique"):
			return domain.ErrDuplicateIdempotencyKey
		case err != nil:
			return fmt.Errorf("failed to insert booking: %w", err)
		}

		if _, err := tx.Exec(ctx, `INSERT INTO booking_rooms (booking_id, room_type_id, room_type_name, rooms, price_per_night, nightly_rates)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			b.ID, b.Room.RoomTypeID, b.Room.RoomTypeName, b.Room.NumberOfRooms, b.Room.PricePerNight, rates); err != nil {
			return fmt.Errorf("failed to insert booking room: %w", err)
		}

		p := &b.Payment
		if _, err := tx.Exec(ctx, `INSERT INTO payments (id, booking_id, amount, currency, method, provider, token_last4, status, transaction_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			p.PaymentID, b.ID, p.Amount, p.Currency, p.Method, p.Provider, p.TokenLast4, p.Status, p.TransactionID, at); err != nil {
			return fmt.Errorf("failed to insert payment: %w", err)
		}

		b.CreatedAt, b.UpdatedAt, b.Version = at, at, 1
		b.Payment.BookingID, b.Payment.CreatedAt = b.ID, at
		return insertOutboxTx(ctx, tx, events.EventBookingCreated, b, at)
	})
	return err
}

func (s *Store) CancelBooking(ctx context.Context, c domain.Cancellation) (*models.Booking, error) {
	defer metrics.ObserveLedger("cancel_booking", time.Now())

	var out *models.Booking
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		b, err := getBooking(ctx, tx, `b.id = $1 FOR UPDATE OF b`, c.BookingID)
		if err != nil {
			return err
		}
		if b == nil {
			return domain.ErrBookingNotFound
		}
		switch {
		case b.Status == models.StatusCancelled:
			return domain.ErrAlreadyCancelled
		case b.Status == models.StatusCompleted:
			return domain.ErrCannotCancelCompleted
		case b.Version != c.ExpectedVersion:
			return domain.ErrConcurrentModification
		}

		at := now()
		cancelledAt := c.CancelledAt.UTC().Truncate(time.Microsecond)
		if _, err := tx.Exec(ctx, `UPDATE bookings
			SET status = $1, cancelled_at = $2, refund_amount = $3, updated_at = $4, version = version + 1
			WHERE id = $5`, models.StatusCancelled, cancelledAt, c.RefundAmount, at, c.BookingID); err != nil {
			return fmt.Errorf("failed to cancel booking: %w", err)
		}

		nights, err := calendar.ExpandNights(b.CheckIn, b.CheckOut)
		if err != nil {
			return err
		}
		if err := s.releaseTx(ctx, tx, b.RoomTypeID, nights, b.Rooms); err != nil {
			return err
		}

		refund := c.RefundAmount
		b.Status, b.CancelledAt, b.RefundAmount, b.UpdatedAt = models.StatusCancelled, &cancelledAt, &refund, at
		b.Version++
		out = b
		return insertOutboxTx(ctx, tx, events.EventBookingCancelled, b, at)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	return getBooking(ctx, s.pool, `b.id = $1`, bookingID)
}

func (s *Store) GetBookingByReference(ctx context.Context, reference string) (*models.Booking, error) {
	return getBooking(ctx, s.pool, `b.reference = $1`, strings.ToUpper(reference))
}

func (s *Store) GetBookingByIdempotencyKey(ctx context.Context, userID, key string) (*models.Booking, error) {
	return getBooking(ctx, s.pool, `b.user_id = $1 AND b.idempotency_key = $2`, userID, key)
}

func (s *Store) ListUserBookings(ctx context.Context, q domain.UserBookingsQuery) (*domain.BookingPage, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = models.DefaultBookingsPageSize
	}
	limit = min(limit, models.MaxBookingsPageSize)

	args := []any{q.UserID}
	where := []string{`b.user_id = $1`}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	today := calendar.Date(q.Today)
	switch q.Status {
	case "", "all":
	case models.TripUpcoming:
		where = append(where, `b.status = `+arg(models.StatusConfirmed)+` AND b.check_in > `+arg(today))
	case models.TripPast:
		where = append(where, `b.status <> `+arg(models.StatusCancelled)+` AND b.check_out < `+arg(today))
	default:
		where = append(where, `b.status = `+arg(q.Status))
	}

	if q.NextToken != "" {
		createdAt, id, err := domain.DecodeCursor(q.NextToken)
		if err != nil {
			return nil, err
		}
		where = append(where, `(b.created_at, b.id) < (`+arg(createdAt)+`, `+arg(id)+`)`)
	}

	query := bookingSelect + ` WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY b.created_at DESC, b.id DESC LIMIT ` + arg(limit+1)
	bookings, err := queryBookings(ctx, s.pool, query, args...)
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

func (s *Store) ListPropertyBookings(ctx context.Context, propertyID string, from, to time.Time) ([]*models.Booking, error) {
	bookings, err := queryBookings(ctx, s.pool, bookingSelect+
		` WHERE b.property_id = $1 AND b.check_in < $2 AND b.check_out > $3 ORDER BY b.check_in, b.created_at`,
		propertyID, to, from)
	if err != nil {
		return nil, fmt.Errorf("failed to list property bookings: %w", err)
	}
	return bookings, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const bookingSelect = `SELECT b.id, b.reference, b.user_id, b.property_id, b.property_name, b.room_type_id,
		b.check_in, b.check_out, b.nights, b.rooms, b.adults, b.children, b.status, b.subtotal, b.taxes,
		b.service_fee, b.discount, b.total_amount, b.currency, b.promo_code,
		b.guest_first_name, b.guest_last_name, b.guest_email, b.guest_phone, b.guest_country,
		b.special_requests, COALESCE(b.idempotency_key, ''), b.created_at, b.updated_at,
		b.cancelled_at, b.refund_amount, b.version,
		r.room_type_id, r.room_type_name, r.rooms, r.price_per_night, r.nightly_rates,
		p.id, p.amount, p.currency, p.method, p.provider, p.token_last4, p.status, p.transaction_id, p.created_at
	FROM bookings b
	JOIN booking_rooms r ON r.booking_id = b.id
	JOIN payments p ON p.booking_id = b.id`

func getBooking(ctx context.Context, q querier, where string, args ...any) (*models.Booking, error) {
	b, err := scanBooking(q.QueryRow(ctx, bookingSelect+` WHERE `+where, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

func queryBookings(ctx context.Context, q querier, query string, args ...any) ([]*models.Booking, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBooking(row pgx.Row) (*models.Booking, error) {
	var (
		b     models.Booking
		rates []byte
	)
	err := row.Scan(
		&b.ID, &b.Reference, &b.UserID, &b.PropertyID, &b.PropertyName, &b.RoomTypeID,
		&b.CheckIn, &b.CheckOut, &b.Nights, &b.Rooms, &b.Adults, &b.Children, &b.Status, &b.Subtotal, &b.Taxes,
		&b.ServiceFee, &b.Discount, &b.TotalAmount, &b.Currency, &b.PromoCode,
		&b.Guest.FirstName, &b.Guest.LastName, &b.Guest.Email, &b.Guest.Phone, &b.Guest.Country,
		&b.SpecialRequests, &b.IdempotencyKey, &b.CreatedAt, &b.UpdatedAt,
		&b.CancelledAt, &b.RefundAmount, &b.Version,
		&b.Room.RoomTypeID, &b.Room.RoomTypeName, &b.Room.NumberOfRooms, &b.Room.PricePerNight, &rates,
		&b.Payment.PaymentID, &b.Payment.Amount, &b.Payment.Currency, &b.Payment.Method, &b.Payment.Provider,
		&b.Payment.TokenLast4, &b.Payment.Status, &b.Payment.TransactionID, &b.Payment.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(rates, &b.Room.NightlyRates); err != nil {
		return nil, fmt.Errorf("failed to decode nightly rates: %w", err)
	}

	b.CheckIn, b.CheckOut = b.CheckIn.UTC(), b.CheckOut.UTC()
	b.CreatedAt, b.UpdatedAt = b.CreatedAt.UTC(), b.UpdatedAt.UTC()
	b.Payment.CreatedAt = b.Payment.CreatedAt.UTC()
	b.Payment.BookingID = b.ID
	if b.CancelledAt != nil {
		t := b.CancelledAt.UTC()
		b.CancelledAt = &t
	}
	return &b, nil
}
