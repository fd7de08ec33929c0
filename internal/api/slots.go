package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/doctor-appointment-booking/internal/appointment"
)

// slotFields holds the parsed common fields of the slot creation bodies.
type slotFields struct {
	doctorID uuid.UUID
	date     time.Time
}

func parseSlotFields(doctorID, date string) (slotFields, error) {
	id, err := uuid.Parse(strings.TrimSpace(doctorID))
	if err != nil {
		return slotFields{}, &appointment.ValidationError{Field: "doctor_id", Message: "doctor_id must be a valid UUID"}
	}
	d, err := appointment.ParseDate(strings.TrimSpace(date))
	if err != nil {
		return slotFields{}, &appointment.ValidationError{Field: "slot_date", Message: err.Error()}
	}
	return slotFields{doctorID: id, date: d}, nil
}

func parseTimeField(field, raw string, parse func(string) (appointment.TimeOfDay, error)) (appointment.TimeOfDay, error) {
	t, err := parse(strings.TrimSpace(raw))
	if err != nil {
		return 0, &appointment.ValidationError{Field: field, Message: err.Error()}
	}
	return t, nil
}

func listSlotsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := appointment.SlotFilter{Specialization: strings.TrimSpace(q.Get("specialization"))}

		if raw := q.Get("doctor_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "doctor_id must be a valid UUID")
				return
			}
			filter.DoctorID = &id
		}
		if raw := q.Get("date"); raw != "" {
			d, err := appointment.ParseDate(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			filter.Date = &d
		}

		slots, err := svc.ListAvailableSlots(r.Context(), filter)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeList(w, mapSlice(slots, toSlotDetailResponse))
	}
}

func getSlotHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		s, err := svc.GetSlot(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, toSlotDetailResponse(*s), "")
	}
}

func createSlotHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSlotRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		fields, err := parseSlotFields(req.DoctorID, req.SlotDate)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		start, err := parseTimeField("slot_time", req.SlotTime, appointment.ParseTimeOfDay)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		s, err := svc.CreateSlot(r.Context(), appointment.SlotInput{
			DoctorID:        fields.doctorID,
			SlotDate:        fields.date,
			SlotTime:        start,
			DurationMinutes: req.DurationMinutes,
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeData(w, http.StatusCreated, toSlotResponse(*s), "slot created")
	}
}

func createBulkSlotsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BulkSlotsRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		fields, err := parseSlotFields(req.DoctorID, req.SlotDate)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		start, err := parseTimeField("start_time", req.StartTime, appointment.ParseTimeOfDay)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		end, err := parseTimeField("end_time", req.EndTime, appointment.ParseRangeEnd)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		slots, err := svc.CreateBulkSlots(r.Context(), appointment.BulkSlotInput{
			DoctorID:        fields.doctorID,
			SlotDate:        fields.date,
			StartTime:       start,
			EndTime:         end,
			DurationMinutes: req.DurationMinutes,
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		n := len(slots)
		writeJSON(w, http.StatusCreated, envelope{
			Success: true,
			Data:    mapSlice(slots, toSlotResponse),
			Count:   &n,
			Message: "slots created",
		})
	}
}

func deleteSlotHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		if err := svc.DeleteSlot(r.Context(), id); err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, nil, "slot deleted")
	}
}
