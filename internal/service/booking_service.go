package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"hotelbook/internal/apperr"
	"hotelbook/internal/calendar"
	"hotelbook/internal/domain"
	"hotelbook/internal/events"
	"hotelbook/internal/metrics"
	"hotelbook/internal/models"
	"hotelbook/internal/pricing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Stages of a booking attempt, used as log and metric labels.
const (
	stageValidating = "validating"
	stagePricing    = "pricing"
	stageReserving  = "reserving"
	stagePersisting = "persisting"
	stageCommitted  = "committed"
)

type Options struct {
	MaxStayNights     int
	TaxRate           float64
	ServiceFeeRate    float64
	DefaultCurrency   string
	ReferenceAttempts int
	IdempotencyTTL    time.Duration
	// RateLimitAttempts of zero disables per-user attempt limiting.
	RateLimitAttempts int
	RateLimitWindow   time.Duration
}

type BookingService struct {
	repo     domain.Repository
	catalog  domain.Catalog
	pricing  *pricing.Engine
	idem     domain.IdempotencyStore
	eventBus domain.EventPublisher
	opts     Options
	logger   *zerolog.Logger

	now          func() time.Time
	newID        func() string
	newReference func() (string, error)
}

// NewBookingService wires the coordinator. catalog may be a cache in front of repo and
// defaults to repo; idem and eventBus are optional.
func NewBookingService(repo domain.Repository, catalog domain.Catalog, idem domain.IdempotencyStore, eventBus domain.EventPublisher, opts Options, logger *zerolog.Logger) *BookingService {
	if catalog == nil {
		catalog = repo
	}
	if opts.MaxStayNights <= 0 {
		opts.MaxStayNights = models.MaxStayNights
	}
	if opts.ReferenceAttempts <= 0 {
		opts.ReferenceAttempts = 5
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = models.DefaultIdempotencyTTL * time.Second
	}
	if opts.RateLimitWindow <= 0 {
		opts.RateLimitWindow = time.Minute
	}
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = models.DefaultCurrency
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &BookingService{
		repo:     repo,
		catalog:  catalog,
		pricing:  pricing.NewEngine(repo, catalog, pricing.Options{TaxRate: opts.TaxRate, ServiceFeeRate: opts.ServiceFeeRate, DefaultCurrency: opts.DefaultCurrency}),
		idem:     idem,
		eventBus: eventBus,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		newID: func() string {
			return uuid.NewString()
		},
		newReference: NewReference,
	}
}

// CreateBooking turns a request into a confirmed booking. Availability is decided only by
// the store's conditional decrement, never by an earlier read.
func (s *BookingService) CreateBooking(ctx context.Context, req models.CreateBookingRequest) (*models.Booking, error) {
	applyDefaults(&req)

	nights, err := s.validateCreate(&req)
	if err != nil {
		return nil, s.fail(stageValidating, req, err)
	}

	if req.IdempotencyKey != "" {
		existing, err := s.findIdempotent(ctx, req.UserID, req.IdempotencyKey)
		if err != nil {
			return nil, s.fail(stageValidating, req, err)
		}
		if existing != nil {
			s.logger.Info().Str("booking_id", existing.ID).Str("user_id", req.UserID).Msg("idempotent replay of booking")
			return existing, nil
		}
	}

	if err := s.checkRateLimit(ctx, req.UserID); err != nil {
		return nil, s.fail(stageValidating, req, err)
	}

	property, err := s.catalog.GetProperty(ctx, req.PropertyID)
	if err != nil {
		return nil, s.fail(stageValidating, req, apperr.Internal("failed to load property", err))
	}
	if property == nil {
		return nil, s.fail(stageValidating, req, apperr.NotFound("property not found: %s", req.PropertyID))
	}
	roomType, err := s.catalog.GetRoomType(ctx, req.PropertyID, req.RoomTypeID)
	if err != nil {
		return nil, s.fail(stageValidating, req, apperr.Internal("failed to load room type", err))
	}
	if roomType == nil {
		return nil, s.fail(stageValidating, req, apperr.NotFound("room type not found: %s", req.RoomTypeID))
	}

	if guests := req.Adults + req.Children; guests > roomType.MaxOccupancy {
		return nil, s.fail(stageValidating, req,
			apperr.ErrOccupancyExceeded.With("total guests (%d) exceeds room capacity (%d)", guests, roomType.MaxOccupancy))
	}

	s.logger.Debug().Str("room_type_id", req.RoomTypeID).Int("nights", len(nights)).Msg("pricing booking")
	quote, err := s.pricing.Quote(ctx, req.RoomTypeID, nights, req.Rooms, req.PromoCode)
	if err != nil {
		return nil, s.fail(stagePricing, req, apperr.Internal("failed to price booking", err))
	}

	booking := s.buildBooking(req, property, roomType, quote)

	s.logger.Debug().Str("booking_id", booking.ID).Int("rooms", req.Rooms).Msg("reserving rooms")
	if err := s.persist(ctx, booking); err != nil {
		if errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
			existing, getErr := s.repo.GetBookingByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey)
			if getErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, s.fail(stageOf(err), req, translateStoreError(err))
	}

	s.logger.Info().
		Str("stage", stageCommitted).
		Str("booking_id", booking.ID).
		Str("reference", booking.Reference).
		Str("property_id", booking.PropertyID).
		Float64("total", booking.TotalAmount).
		Msg("booking confirmed")
	metrics.IncBookingCreated(booking.PropertyID)

	if req.IdempotencyKey != "" && s.idem != nil {
		if err := s.idem.SetBookingID(ctx, req.UserID, req.IdempotencyKey, booking.ID, s.opts.IdempotencyTTL); err != nil {
			s.logger.Warn().Err(err).Str("booking_id", booking.ID).Msg("failed to bind idempotency key")
		}
	}
	s.publishEvent(events.EventBookingCreated, booking)

	return booking, nil
}

func (s *BookingService) buildBooking(req models.CreateBookingRequest, property *models.Property, roomType *models.RoomType, quote *models.Quote) *models.Booking {
	now := s.now().UTC()
	id := "bkg_" + s.newID()

	return &models.Booking{
		ID:              id,
		UserID:          req.UserID,
		PropertyID:      property.ID,
		PropertyName:    property.Name,
		RoomTypeID:      roomType.ID,
		CheckIn:         calendar.Date(req.CheckIn),
		CheckOut:        calendar.Date(req.CheckOut),
		Nights:          quote.Nights,
		Rooms:           req.Rooms,
		Adults:          req.Adults,
		Children:        req.Children,
		Status:          models.StatusConfirmed,
		Subtotal:        quote.RoomSubtotal,
		Taxes:           quote.Taxes,
		ServiceFee:      quote.ServiceFee,
		Discount:        quote.Discount,
		TotalAmount:     quote.Total,
		Currency:        quote.Currency,
		PromoCode:       promoCodeOf(quote),
		Guest:           req.Guest,
		SpecialRequests: strings.TrimSpace(req.SpecialRequests),
		IdempotencyKey:  req.IdempotencyKey,
		CreatedAt:       now,
		UpdatedAt:       now,
		Room: models.RoomLine{
			RoomTypeID:    roomType.ID,
			RoomTypeName:  roomType.Name,
			NumberOfRooms: req.Rooms,
			PricePerNight: pricing.Round2(quote.NightlyRateSum / float64(max(quote.Nights, 1))),
			NightlyRates:  quote.NightlyRates(),
		},
		Payment: models.Payment{
			PaymentID:     "pay_" + s.newID(),
			BookingID:     id,
			Amount:        quote.Total,
			Currency:      quote.Currency,
			Method:        req.PaymentMethod,
			Provider:      models.PaymentProvider,
			TokenLast4:    last4(req.PaymentToken),
			Status:        models.PaymentStatusCompleted,
			TransactionID: "txn_" + s.newID(),
			CreatedAt:     now,
		},
	}
}

// persist commits the booking, drawing a fresh reference whenever the previous one
// collided with an existing booking.
func (s *BookingService) persist(ctx context.Context, booking *models.Booking) error {
	var err error
	for attempt := 1; attempt <= s.opts.ReferenceAttempts; attempt++ {
		booking.Reference, err = s.newReference()
		if err != nil {
			return err
		}

		err = s.repo.CreateBooking(ctx, booking)
		if !errors.Is(err, domain.ErrDuplicateReference) {
			return err
		}
		s.logger.Warn().Str("reference", booking.Reference).Int("attempt", attempt).Msg("booking reference collision, retrying")
	}
	return err
}

func (s *BookingService) findIdempotent(ctx context.Context, userID, key string) (*models.Booking, error) {
	if s.idem != nil {
		bookingID, err := s.idem.GetBookingID(ctx, userID, key)
		if err != nil {
			s.logger.Warn().Err(err).Msg("idempotency lookup failed, falling back to store")
		} else if bookingID != "" {
			b, err := s.repo.GetBooking(ctx, bookingID)
			if err != nil {
				return nil, apperr.Internal("failed to load booking", err)
			}
			if b != nil && b.UserID == userID {
				return b, nil
			}
		}
	}

	b, err := s.repo.GetBookingByIdempotencyKey(ctx, userID, key)
	if err != nil {
		return nil, apperr.Internal("failed to load booking", err)
	}
	return b, nil
}

func (s *BookingService) checkRateLimit(ctx context.Context, userID string) error {
	if s.idem == nil || s.opts.RateLimitAttempts <= 0 {
		return nil
	}
	allowed, err := s.idem.CheckRateLimit(ctx, userID, s.opts.RateLimitAttempts, s.opts.RateLimitWindow)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("rate limit check failed")
		return nil
	}
	if !allowed {
		return apperr.ErrRateLimited
	}
	return nil
}

// CancelBooking cancels a confirmed booking, releases its nights and refunds according
// to how far away check-in is.
func (s *BookingService) CancelBooking(ctx context.Context, bookingID, callerID string) (*models.CancellationResult, error) {
	if strings.TrimSpace(bookingID) == "" {
		return nil, apperr.Validation("bookingId is required")
	}

	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, apperr.Internal("failed to load booking", err)
	}
	if booking == nil {
		return nil, apperr.NotFound("booking not found: %s", bookingID)
	}
	if callerID != "" && booking.UserID != callerID {
		return nil, apperr.Unauthorized("you are not authorized to cancel this booking")
	}

	switch booking.Status {
	case models.StatusCancelled:
		return nil, apperr.ErrAlreadyCancelled
	case models.StatusCompleted:
		return nil, apperr.ErrCannotCancelCompleted
	}

	now := s.now().UTC()
	days := calendar.DaysUntil(booking.CheckIn, now)
	if days < 0 {
		return nil, apperr.ErrStayAlreadyStarted
	}
	refund := pricing.Refund(booking.TotalAmount, days)

	cancelled, err := s.repo.CancelBooking(ctx, domain.Cancellation{
		BookingID:       booking.ID,
		ExpectedVersion: booking.Version,
		CancelledAt:     now,
		RefundAmount:    refund,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("booking_id", booking.ID).Msg("cancellation failed")
		return nil, translateStoreError(err)
	}

	s.logger.Info().
		Str("booking_id", cancelled.ID).
		Int("days_until_check_in", days).
		Float64("refund", refund).
		Msg("booking cancelled")
	metrics.IncBookingCancelled(cancelled.PropertyID)
	s.publishEvent(events.EventBookingCancelled, cancelled)

	return &models.CancellationResult{
		BookingID:        cancelled.ID,
		Reference:        cancelled.Reference,
		Status:           models.StatusCancelled,
		CancelledAt:      now,
		DaysUntilCheckIn: days,
		RefundAmount:     refund,
		RefundPercentage: pricing.RefundPercentage(days),
		Currency:         cancelled.Currency,
		RefundMethod:     models.RefundMethod,
		ProcessingTime:   models.RefundProcessingTime,
	}, nil
}

func (s *BookingService) GetBooking(ctx context.Context, bookingID, callerID string) (*models.Booking, error) {
	if strings.TrimSpace(bookingID) == "" {
		return nil, apperr.Validation("bookingId is required")
	}
	b, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, apperr.Internal("failed to load booking", err)
	}
	return checkOwner(b, callerID, bookingID)
}

func (s *BookingService) GetBookingByReference(ctx context.Context, reference, callerID string) (*models.Booking, error) {
	reference = strings.ToUpper(strings.TrimSpace(reference))
	if reference == "" {
		return nil, apperr.Validation("booking reference is required")
	}
	b, err := s.repo.GetBookingByReference(ctx, reference)
	if err != nil {
		return nil, apperr.Internal("failed to load booking", err)
	}
	return checkOwner(b, callerID, reference)
}

func checkOwner(b *models.Booking, callerID, lookup string) (*models.Booking, error) {
	if b == nil {
		return nil, apperr.NotFound("booking not found: %s", lookup)
	}
	if callerID != "" && b.UserID != callerID {
		return nil, apperr.Unauthorized("you are not authorized to view this booking")
	}
	return b, nil
}

var userBookingFilters = map[string]bool{
	"":                     true,
	"all":                  true,
	models.StatusConfirmed: true,
	models.StatusCancelled: true,
	models.StatusCompleted: true,
	models.TripUpcoming:    true,
	models.TripPast:        true,
}

func (s *BookingService) ListUserBookings(ctx context.Context, q domain.UserBookingsQuery) (*domain.BookingPage, error) {
	if q.UserID == "" {
		return nil, apperr.Unauthorized("caller identity is required")
	}
	q.Status = strings.ToLower(strings.TrimSpace(q.Status))
	if !userBookingFilters[q.Status] {
		return nil, apperr.Validationf("invalid status filter: %s", q.Status)
	}
	if q.Limit < 0 || q.Limit > models.MaxBookingsPageSize {
		return nil, apperr.Validationf("limit must be between 1 and %d", models.MaxBookingsPageSize)
	}
	if q.Limit == 0 {
		q.Limit = models.DefaultBookingsPageSize
	}
	if q.Today.IsZero() {
		q.Today = s.now()
	}

	page, err := s.repo.ListUserBookings(ctx, q)
	if errors.Is(err, domain.ErrInvalidCursor) {
		return nil, apperr.Validation("invalid nextToken")
	}
	if err != nil {
		return nil, apperr.Internal("failed to list bookings", err)
	}
	return page, nil
}

// ListPropertyBookings returns the bookings whose stay overlaps [from, to).
func (s *BookingService) ListPropertyBookings(ctx context.Context, propertyID string, from, to time.Time) ([]*models.Booking, error) {
	if propertyID == "" {
		return nil, apperr.Validation("propertyId is required")
	}
	from, to = calendar.Date(from), calendar.Date(to)
	if !to.After(from) {
		return nil, apperr.InvalidDates(calendar.ErrInvalidRange)
	}

	property, err := s.catalog.GetProperty(ctx, propertyID)
	if err != nil {
		return nil, apperr.Internal("failed to load property", err)
	}
	if property == nil {
		return nil, apperr.NotFound("property not found: %s", propertyID)
	}

	bookings, err := s.repo.ListPropertyBookings(ctx, propertyID, from, to)
	if err != nil {
		return nil, apperr.Internal("failed to list property bookings", err)
	}
	return bookings, nil
}

// Ping reports whether the backing store is reachable.
func (s *BookingService) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// fail logs and counts a failed booking attempt.
func (s *BookingService) fail(stage string, req models.CreateBookingRequest, err error) error {
	code := apperr.CodeOf(err)
	metrics.IncBookingFailure(stage, code)

	ev := s.logger.Warn()
	if apperr.IsKind(err, apperr.KindInternal) {
		ev = s.logger.Error()
	}
	ev.Err(err).
		Str("stage", stage).
		Str("code", code).
		Str("user_id", req.UserID).
		Str("room_type_id", req.RoomTypeID).
		Msg("booking failed")
	return err
}

func (s *BookingService) publishEvent(eventType string, booking *models.Booking) {
	if s.eventBus == nil {
		return
	}
	payload := events.NewBookingEventPayload(booking, s.now().UTC())
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Str("booking_id", booking.ID).Msg("publish event error")
	}
}

func stageOf(err error) string {
	if errors.Is(err, domain.ErrInsufficientAvailability) {
		return stageReserving
	}
	return stagePersisting
}

// translateStoreError maps store sentinels onto the error taxonomy.
func translateStoreError(err error) error {
	switch {
	case errors.Is(err, domain.ErrInsufficientAvailability):
		return &apperr.Error{
			Kind:    apperr.KindConflict,
			Code:    apperr.CodeInsufficientAvailability,
			Message: "insufficient availability, the requested rooms may have been booked by another customer",
			Err:     err,
		}
	case errors.Is(err, domain.ErrAlreadyCancelled):
		return apperr.ErrAlreadyCancelled
	case errors.Is(err, domain.ErrCannotCancelCompleted):
		return apperr.ErrCannotCancelCompleted
	case errors.Is(err, domain.ErrConcurrentModification):
		return apperr.Conflict("booking was modified concurrently, retry the request", err)
	case errors.Is(err, domain.ErrBookingNotFound):
		return apperr.NotFound("booking not found")
	case errors.Is(err, domain.ErrDuplicateReference):
		return apperr.Conflict("could not allocate a unique booking reference, retry the request", err)
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperr.Internal("failed to save booking", err)
}

func promoCodeOf(q *models.Quote) string {
	if q.Promo == nil {
		return ""
	}
	return q.Promo.Code
}

func last4(token string) string {
	token = strings.TrimSpace(token)
	if len(token) <= 4 {
		return token
	}
	return token[len(token)-4:]
}

var _ domain.BookingService = (*BookingService)(nil)
