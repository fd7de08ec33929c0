package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/hackgods/doctor-appointment-booking/internal/appointment"
)

// envelope is the body shape of every /api response.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Count   *int   `json:"count,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any, message string) {
	writeJSON(w, status, envelope{Success: true, Data: data, Message: message})
}

func writeList[T any](w http.ResponseWriter, items []T) {
	if items == nil {
		items = []T{}
	}
	n := len(items)
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: items, Count: &n})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: msg})
}

// writeServiceError maps an appointment error onto a status code. Internal errors
// are logged and reported without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch appointment.Classify(err) {
	case appointment.KindValidation:
		writeError(w, http.StatusBadRequest, err.Error())
	case appointment.KindNotFound:
		writeError(w, http.StatusNotFound, err.Error())
	case appointment.KindConflict, appointment.KindInvalidState:
		writeError(w, http.StatusConflict, err.Error())
	default:
		LoggerFrom(r.Context()).Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
