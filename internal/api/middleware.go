package api

import (
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"hotelbook/internal/apperr"
	"hotelbook/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// requestLogger logs each request with its request id and, when the request carries a
// span (otelhttp extracts it from traceparent), the trace id. It also counts requests per
// route pattern.
func requestLogger(logger *zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := middleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-Id", requestID)
			}

			lctx := logger.With().Str("request_id", requestID)
			if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
				lctx = lctx.Str("trace_id", sc.TraceID().String())
			}
			reqLogger := lctx.Logger()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(reqLogger.WithContext(r.Context())))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := routePattern(r)
			metrics.IncHTTP(route, strconv.Itoa(status))

			ev := reqLogger.Info()
			if status >= http.StatusInternalServerError {
				ev = reqLogger.Error()
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("route", route).
				Str("remote", r.RemoteAddr).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// recoverer answers a panicking handler with the standard internal error body.
func recoverer(logger *zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error().
						Str("request_id", middleware.GetReqID(r.Context())).
						Interface("panic", rec).
						Bytes("stack", debug.Stack()).
						Msg("http handler panicked")
					writeError(w, r, apperr.Internal("handler panicked", nil))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// authenticate resolves the caller for every API route and applies the per-client
// rate limit.
func (s *HTTPServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get(s.auth.apiKeyHeader)
		caller, err := s.auth.authenticate(apiKey, r.Header.Get(authorizationHeader), r.Header.Get(s.auth.userHeader))
		if err != nil {
			writeError(w, r, err)
			return
		}

		if !s.auth.allow(httpClientKey(r, apiKey)) {
			writeError(w, r, apperr.ErrRateLimited.With("rate limit exceeded"))
			return
		}

		next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), caller)))
	})
}

func (s *HTTPServer) require(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !CallerFrom(r.Context()).Can(perm) {
				writeError(w, r, errPermissionDenied)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func httpClientKey(r *http.Request, apiKey string) string {
	if apiKey != "" {
		return apiKey
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return clientKeyUnknown
}
