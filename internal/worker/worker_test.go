package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"hotelbook/internal/database"
	"hotelbook/internal/domain"
	"hotelbook/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	name string
	err  error

	mu        sync.Mutex
	delivered []string
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Deliver(_ context.Context, ev *models.OutboxEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.delivered = append(f.delivered, ev.BookingID)
	return nil
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func addEvent(t *testing.T, db *database.DB, bookingID string, retryCount int) int64 {
	t.Helper()
	ev := &models.OutboxEvent{
		EventType:  "booking.created",
		BookingID:  bookingID,
		Payload:    `{"booking_id":"` + bookingID + `"}`,
		RetryCount: retryCount,
	}
	require.NoError(t, db.CreateOutboxEvent(context.Background(), ev))
	return ev.ID
}

func loadEvent(t *testing.T, db *database.DB, id int64) (status string, retryCount int, nextRetry *time.Time) {
	t.Helper()
	err := db.QueryRowContext(context.Background(), `SELECT status, retry_count, next_retry_at FROM outbox WHERE id = ?`, id).
		Scan(&status, &retryCount, &nextRetry)
	require.NoError(t, err)
	return status, retryCount, nextRetry
}

func TestProcessBatch_DeliversToAllSinks(t *testing.T) {
	db := newTestDB(t)
	kafka := &fakeSink{name: "kafka"}
	sheets := &fakeSink{name: "sheets"}
	w := NewOutboxWorker(db, []domain.EventSink{kafka, sheets}, nil, Options{}, nil)

	first := addEvent(t, db, "bkg_1", 0)
	second := addEvent(t, db, "bkg_2", 0)

	n, err := w.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"bkg_1", "bkg_2"}, kafka.delivered)
	assert.Equal(t, []string{"bkg_1", "bkg_2"}, sheets.delivered)

	for _, id := range []int64{first, second} {
		status, retries, next := loadEvent(t, db, id)
		assert.Equal(t, models.OutboxCompleted, status)
		assert.Zero(t, retries)
		assert.Nil(t, next)
	}

	n, err = w.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProcessBatch_RetriesWithBackoff(t *testing.T) {
	db := newTestDB(t)
	ok := &fakeSink{name: "kafka"}
	broken := &fakeSink{name: "sheets", err: errors.New("quota exceeded")}
	w := NewOutboxWorker(db, []domain.EventSink{ok, broken}, nil, Options{
		Retry: RetryPolicy{MaxRetries: 3, InitialDelay: time.Minute},
	}, nil)
	fixed := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return fixed }

	id := addEvent(t, db, "bkg_1", 0)

	n, err := w.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	status, retries, next := loadEvent(t, db, id)
	assert.Equal(t, models.OutboxRetry, status)
	assert.Equal(t, 1, retries)
	require.NotNil(t, next)
	assert.True(t, next.Equal(fixed.Add(time.Minute)))

	pending, err := db.GetPendingOutboxEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "event is not due before its retry time")
}

func TestProcessBatch_ExhaustedGoesToDeadLetter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	db := newTestDB(t)
	broken := &fakeSink{name: "kafka", err: errors.New("broker down")}
	w := NewOutboxWorker(db, []domain.EventSink{broken}, client, Options{Retry: RetryPolicy{MaxRetries: 3}}, nil)

	id := addEvent(t, db, "bkg_9", 2)

	_, err := w.ProcessBatch(context.Background())
	require.NoError(t, err)

	status, _, _ := loadEvent(t, db, id)
	assert.Equal(t, models.OutboxFailed, status)

	failed, err := db.GetFailedOutboxEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.NotNil(t, failed[0].LastError)
	assert.Contains(t, *failed[0].LastError, "kafka: broker down")

	letters, err := client.LRange(context.Background(), deadLetterKey, 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Contains(t, letters[0], "bkg_9")
}

func TestProcessBatch_InvalidPayloadFailsImmediately(t *testing.T) {
	db := newTestDB(t)
	sink := &fakeSink{name: "kafka"}
	w := NewOutboxWorker(db, []domain.EventSink{sink}, nil, Options{}, nil)

	ev := &models.OutboxEvent{EventType: "booking.created", BookingID: "bkg_x", Payload: "{not json"}
	require.NoError(t, db.CreateOutboxEvent(context.Background(), ev))

	_, err := w.ProcessBatch(context.Background())
	require.NoError(t, err)

	status, _, _ := loadEvent(t, db, ev.ID)
	assert.Equal(t, models.OutboxFailed, status)
	assert.Empty(t, sink.delivered)
}

func TestStart_NotifyWakesRelay(t *testing.T) {
	db := newTestDB(t)
	sink := &fakeSink{name: "kafka"}
	w := NewOutboxWorker(db, []domain.EventSink{sink}, nil, Options{PollInterval: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	addEvent(t, db, "bkg_late", 0)
	w.Notify()

	assert.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.delivered) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestRetryPolicy(t *testing.T) {
	p := RetryPolicy{InitialDelay: time.Second, MaxDelay: 5 * time.Second}
	assert.Equal(t, time.Second, p.NextDelay(0))
	assert.Equal(t, time.Second, p.NextDelay(1))
	assert.Equal(t, 2*time.Second, p.NextDelay(2))
	assert.Equal(t, 4*time.Second, p.NextDelay(3))
	assert.Equal(t, 5*time.Second, p.NextDelay(4))
	assert.Equal(t, 5*time.Second, p.NextDelay(500))

	p = p.withDefaults()
	assert.False(t, p.Exhausted(4))
	assert.True(t, p.Exhausted(5))
}
