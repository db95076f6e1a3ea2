package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"hotelbook/internal/apperr"
	"hotelbook/internal/domain"
	"hotelbook/internal/export"

	"github.com/go-chi/chi/v5"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	if err := s.health.Ping(r.Context()); err != nil {
		s.logger.Warn().Err(err).Msg("readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *HTTPServer) handleCheckAvailability(w http.ResponseWriter, r *http.Request) {
	var body availabilityCheckRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	req, err := body.toModel()
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.svc.CheckAvailability(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, newAvailabilityResponse(res))
}

func (s *HTTPServer) handleCalculatePricing(w http.ResponseWriter, r *http.Request) {
	var body pricingRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	req, err := body.toModel()
	if err != nil {
		writeError(w, r, err)
		return
	}

	quote, err := s.svc.CalculatePricing(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, quote)
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var body createBookingRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	req, err := body.toModel(CallerFrom(r.Context()).UserID, r.Header.Get(idempotencyHeader))
	if err != nil {
		writeError(w, r, err)
		return
	}

	booking, err := s.svc.CreateBooking(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/bookings/"+booking.ID)
	writeData(w, r, http.StatusCreated, newBookingView(booking, s.now()))
}

func (s *HTTPServer) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.CancelBooking(r.Context(), chi.URLParam(r, "bookingId"), CallerFrom(r.Context()).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, res)
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	booking, err := s.svc.GetBooking(r.Context(), chi.URLParam(r, "bookingId"), CallerFrom(r.Context()).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, newBookingView(booking, s.now()))
}

func (s *HTTPServer) handleGetBookingByReference(w http.ResponseWriter, r *http.Request) {
	booking, err := s.svc.GetBookingByReference(r.Context(), chi.URLParam(r, "reference"), CallerFrom(r.Context()).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, newBookingView(booking, s.now()))
}

func (s *HTTPServer) handleListUserBookings(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := 0
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, apperr.Validationf("invalid limit %q", raw))
			return
		}
		limit = n
	}

	today := s.now()
	page, err := s.svc.ListUserBookings(r.Context(), domain.UserBookingsQuery{
		UserID:    CallerFrom(r.Context()).UserID,
		Status:    strings.TrimSpace(query.Get("status")),
		Limit:     limit,
		NextToken: strings.TrimSpace(query.Get("nextToken")),
		Today:     today,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, newBookingListResponse(page, today))
}

func (s *HTTPServer) handleExportManifest(w http.ResponseWriter, r *http.Request) {
	if s.manifests == nil {
		writeError(w, r, apperr.NotFound("manifest export is not enabled"))
		return
	}

	propertyID := chi.URLParam(r, "propertyId")
	query := r.URL.Query()
	if query.Get("from") == "" || query.Get("to") == "" {
		writeError(w, r, apperr.Validation("from and to are required"))
		return
	}
	from, err := parseDate("from", query.Get("from"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	to, err := parseDate("to", query.Get("to"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	// Buffered so that a failure still produces a JSON error instead of a truncated file.
	var buf bytes.Buffer
	if err := s.manifests.WriteManifest(r.Context(), &buf, propertyID, from, to); err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(propertyID, from, to)))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
