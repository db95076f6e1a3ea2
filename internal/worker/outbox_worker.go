package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"hotelbook/internal/domain"
	"hotelbook/internal/metrics"
	"hotelbook/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const deadLetterKey = "outbox:deadletter"

// OutboxStore is the part of the repository the relay drains.
type OutboxStore interface {
	GetPendingOutboxEvents(ctx context.Context, limit int) ([]models.OutboxEvent, error)
	UpdateOutboxEventStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
}

type Options struct {
	PollInterval time.Duration
	BatchSize    int
	Retry        RetryPolicy
}

// OutboxWorker delivers committed booking events to every sink. An event is completed
// only when all sinks accepted it, so sinks must tolerate redelivery.
type OutboxWorker struct {
	store        OutboxStore
	sinks        []domain.EventSink
	redis        *redis.Client
	retryPolicy  RetryPolicy
	pollInterval time.Duration
	batchSize    int
	wake         chan struct{}
	logger       *zerolog.Logger
	now          func() time.Time

	mu      sync.Mutex
	running bool
}

// NewOutboxWorker builds a relay. redisClient is optional and only receives dead letters.
func NewOutboxWorker(store OutboxStore, sinks []domain.EventSink, redisClient *redis.Client, opts Options, logger *zerolog.Logger) *OutboxWorker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &OutboxWorker{
		store:        store,
		sinks:        sinks,
		redis:        redisClient,
		retryPolicy:  opts.Retry.withDefaults(),
		pollInterval: opts.PollInterval,
		batchSize:    opts.BatchSize,
		wake:         make(chan struct{}, 1),
		logger:       logger,
		now:          time.Now,
	}
}

// Notify asks the relay to poll now instead of waiting for the next tick. It never blocks.
func (w *OutboxWorker) Notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Start runs the relay until ctx is done.
func (w *OutboxWorker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info().Int("sinks", len(w.sinks)).Dur("poll_interval", w.pollInterval).Msg("outbox worker started")
	defer w.logger.Info().Msg("outbox worker stopped")

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.ProcessBatch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error().Err(err).Msg("outbox batch failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.wake:
		}
	}
}

// ProcessBatch delivers one batch of due events and returns how many were completed.
func (w *OutboxWorker) ProcessBatch(ctx context.Context) (int, error) {
	events, err := w.store.GetPendingOutboxEvents(ctx, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch pending: %w", err)
	}

	completed := 0
	for i := range events {
		if ctx.Err() != nil {
			return completed, ctx.Err()
		}
		if w.processEvent(ctx, &events[i]) {
			completed++
		}
	}
	return completed, nil
}

func (w *OutboxWorker) processEvent(ctx context.Context, ev *models.OutboxEvent) bool {
	if !json.Valid([]byte(ev.Payload)) {
		w.fail(ctx, ev, errors.New("payload is not valid JSON"))
		return false
	}

	var errs []string
	for _, sink := range w.sinks {
		if err := sink.Deliver(ctx, ev); err != nil {
			metrics.IncOutbox(sink.Name(), "error")
			errs = append(errs, sink.Name()+": "+err.Error())
			continue
		}
		metrics.IncOutbox(sink.Name(), "delivered")
	}

	if len(errs) > 0 {
		w.retryOrFail(ctx, ev, errors.New(strings.Join(errs, "; ")))
		return false
	}

	if err := w.store.UpdateOutboxEventStatus(ctx, ev.ID, models.OutboxCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("event_id", ev.ID).Msg("mark outbox event completed")
		return false
	}
	w.logger.Debug().Int64("event_id", ev.ID).Str("event_type", ev.EventType).Str("booking_id", ev.BookingID).Msg("outbox event delivered")
	return true
}

func (w *OutboxWorker) retryOrFail(ctx context.Context, ev *models.OutboxEvent, cause error) {
	attempt := ev.RetryCount + 1
	if w.retryPolicy.Exhausted(attempt) {
		w.fail(ctx, ev, cause)
		return
	}

	next := w.now().UTC().Add(w.retryPolicy.NextDelay(attempt))
	if err := w.store.UpdateOutboxEventStatus(ctx, ev.ID, models.OutboxRetry, cause.Error(), &next); err != nil {
		w.logger.Error().Err(err).Int64("event_id", ev.ID).Msg("mark outbox event retry")
		return
	}
	w.logger.Warn().Err(cause).Int64("event_id", ev.ID).Int("attempt", attempt).Time("next_retry_at", next).Msg("outbox delivery failed, will retry")
}

func (w *OutboxWorker) fail(ctx context.Context, ev *models.OutboxEvent, cause error) {
	if err := w.store.UpdateOutboxEventStatus(ctx, ev.ID, models.OutboxFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("event_id", ev.ID).Msg("mark outbox event failed")
	}
	metrics.IncOutbox("relay", "failed")
	w.logger.Error().Err(cause).Int64("event_id", ev.ID).Str("booking_id", ev.BookingID).Msg("outbox event moved to failed")
	w.pushDeadLetter(ctx, ev)
}

func (w *OutboxWorker) pushDeadLetter(ctx context.Context, ev *models.OutboxEvent) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		w.logger.Error().Err(err).Int64("event_id", ev.ID).Msg("encode dead letter")
		return
	}
	if err := w.redis.LPush(ctx, deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Int64("event_id", ev.ID).Msg("dead letter push")
	}
}
