package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"hotelbook/internal/apperr"
	"hotelbook/internal/config"
	"hotelbook/internal/domain"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/propagation"
)

const maxRequestBody = 1 << 20

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ManifestWriter streams a property booking manifest workbook.
type ManifestWriter interface {
	WriteManifest(ctx context.Context, w io.Writer, propertyID string, from, to time.Time) error
}

// HTTPServer exposes the booking operations as a JSON API.
type HTTPServer struct {
	cfg       config.APIConfig
	svc       domain.BookingService
	manifests ManifestWriter
	health    Pinger
	auth      *Authenticator
	logger    *zerolog.Logger
	now       func() time.Time
	server    *http.Server
}

// NewHTTPServer wires the router. manifests and health may be nil; the export route and
// the readiness probe then report the feature as unavailable.
func NewHTTPServer(cfg config.APIConfig, svc domain.BookingService, manifests ManifestWriter, health Pinger, logger *zerolog.Logger) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	httpLogger := logger.With().Str("component", "http").Logger()

	srv := &HTTPServer{
		cfg:       cfg,
		svc:       svc,
		manifests: manifests,
		health:    health,
		auth:      NewAuthenticator(&cfg),
		logger:    &httpLogger,
		now:       time.Now,
	}

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return srv
}

func (s *HTTPServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(otelhttp.NewMiddleware("hotelbook.http", otelhttp.WithPropagators(propagation.TraceContext{})))
	r.Use(requestLogger(s.logger))
	r.Use(recoverer(s.logger))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, apperr.NotFound("route not found: %s %s", r.Method, r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, apperr.Validationf("method %s not allowed on %s", r.Method, r.URL.Path))
	})

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authenticate)

		r.With(s.require(permReadAvailability)).Post("/availability/check", s.handleCheckAvailability)
		r.With(s.require(permReadAvailability)).Post("/pricing/calculate", s.handleCalculatePricing)

		r.Route("/bookings", func(r chi.Router) {
			r.With(s.require(permWriteBookings)).Post("/", s.handleCreateBooking)
			r.With(s.require(permReadBookings)).Get("/reference/{reference}", s.handleGetBookingByReference)
			r.With(s.require(permReadBookings)).Get("/{bookingId}", s.handleGetBooking)
			r.With(s.require(permWriteBookings)).Delete("/{bookingId}", s.handleCancelBooking)
		})

		r.With(s.require(permReadBookings)).Get("/users/me/bookings", s.handleListUserBookings)
		r.With(s.require(permReadBookings)).Get("/properties/{propertyId}/bookings/export", s.handleExportManifest)
	})

	return r
}

// Handler returns the root handler, for tests and embedding.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
	Meta    meta       `json:"meta"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type meta struct {
	RequestID string    `json:"requestId"`
	Timestamp time.Time `json:"timestamp"`
}

func newMeta(r *http.Request) meta {
	return meta{RequestID: middleware.GetReqID(r.Context()), Timestamp: time.Now().UTC()}
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeData(w http.ResponseWriter, r *http.Request, statusCode int, data any) {
	writeJSON(w, statusCode, envelope{Success: true, Data: data, Meta: newMeta(r)})
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperr.From(err)
	if appErr.Kind == apperr.KindInternal {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
	}
	writeJSON(w, httpStatus(appErr), envelope{
		Success: false,
		Error:   &errorBody{Code: appErr.Code, Message: publicMessage(appErr)},
		Meta:    newMeta(r),
	})
}

// decodeJSON reads a bounded JSON body that must not carry unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return apperr.Validationf("invalid JSON body: %v", err)
	}
	return nil
}
