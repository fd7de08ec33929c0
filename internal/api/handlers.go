package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/doctor-appointment-booking/internal/appointment"
)

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "could not parse JSON body")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func createBookingHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateBookingRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		slotID, err := uuid.Parse(strings.TrimSpace(req.SlotID))
		if err != nil {
			writeError(w, http.StatusBadRequest, "slot_id must be a valid UUID")
			return
		}

		b, err := svc.RequestBooking(r.Context(), slotID, appointment.PatientInfo{
			Name:  req.PatientName,
			Email: req.PatientEmail,
			Phone: req.PatientPhone,
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		resp := toBookingResponse(*b)
		if b.Status != appointment.StatusConfirmed {
			writeJSON(w, http.StatusConflict, envelope{
				Success: false,
				Data:    resp,
				Error:   appointment.FailureSlotUnavailable,
				Message: "the slot was booked by someone else",
			})
			return
		}
		writeData(w, http.StatusCreated, resp, "booking confirmed")
	}
}

func cancelBookingHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		b, err := svc.CancelBooking(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, toBookingResponse(*b), "booking cancelled")
	}
}

func getBookingHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		b, err := svc.GetBooking(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, toBookingDetailResponse(*b), "")
	}
}

func listBookingsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := appointment.BookingFilter{PatientEmail: strings.TrimSpace(q.Get("patient_email"))}

		if raw := strings.TrimSpace(q.Get("status")); raw != "" {
			st, err := appointment.ParseBookingStatus(strings.ToUpper(raw))
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			filter.Status = &st
		}

		bookings, err := svc.ListBookings(r.Context(), filter)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeList(w, mapSlice(bookings, toBookingDetailResponse))
	}
}

func bookingStatsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := svc.Stats(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, StatsResponse{
			Confirmed: stats.Confirmed,
			Pending:   stats.Pending,
			Failed:    stats.Failed,
			Cancelled: stats.Cancelled,
			Total:     stats.Total,
		}, "")
	}
}
