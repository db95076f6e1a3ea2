package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hotelbook"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		},
		[]string{"route", "status"},
	)

	bookingsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_created_total",
			Help:      "Committed bookings by property.",
		},
		[]string{"property_id"},
	)

	bookingsCancelled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_cancelled_total",
			Help:      "Cancelled bookings by property.",
		},
		[]string{"property_id"},
	)

	bookingFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_failures_total",
			Help:      "Failed booking attempts by coordinator stage and error code.",
		},
		[]string{"stage", "code"},
	)

	ledgerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ledger_operation_duration_seconds",
			Help:      "Duration of ledger reads and adjustments.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	outboxDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_total",
			Help:      "Outbox deliveries by sink and result.",
		},
		[]string{"sink", "result"},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_cache_lookups_total",
			Help:      "Catalog cache lookups by result.",
		},
		[]string{"result"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			bookingsCreated,
			bookingsCancelled,
			bookingFailures,
			ledgerDuration,
			outboxDelivered,
			cacheLookups,
		)
	})
}

func IncHTTP(route, status string) {
	httpRequests.WithLabelValues(route, status).Inc()
}

func IncBookingCreated(propertyID string) {
	bookingsCreated.WithLabelValues(propertyID).Inc()
}

func IncBookingCancelled(propertyID string) {
	bookingsCancelled.WithLabelValues(propertyID).Inc()
}

func IncBookingFailure(stage, code string) {
	bookingFailures.WithLabelValues(stage, code).Inc()
}

// ObserveLedger records how long a ledger operation took since start.
func ObserveLedger(operation string, start time.Time) {
	ledgerDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func IncOutbox(sink, result string) {
	outboxDelivered.WithLabelValues(sink, result).Inc()
}

func IncCache(hit bool) {
	if hit {
		cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	cacheLookups.WithLabelValues("miss").Inc()
}
