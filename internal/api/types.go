package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/doctor-appointment-booking/internal/appointment"
)

type DoctorRequest struct {
	Name           *string `json:"name"`
	Specialization *string `json:"specialization"`
	Email          *string `json:"email"`
	Phone          *string `json:"phone"`
}

type CreateSlotRequest struct {
	DoctorID        string `json:"doctor_id"`
	SlotDate        string `json:"slot_date"`
	SlotTime        string `json:"slot_time"`
	DurationMinutes int    `json:"duration_minutes"`
}

type BulkSlotsRequest struct {
	DoctorID        string `json:"doctor_id"`
	SlotDate        string `json:"slot_date"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	DurationMinutes int    `json:"duration_minutes"`
}

type CreateBookingRequest struct {
	SlotID       string  `json:"slot_id"`
	PatientName  string  `json:"patient_name"`
	PatientEmail string  `json:"patient_email"`
	PatientPhone *string `json:"patient_phone"`
}

type DoctorResponse struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Specialization string    `json:"specialization"`
	Email          string    `json:"email"`
	Phone          *string   `json:"phone,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type SlotResponse struct {
	ID              uuid.UUID `json:"id"`
	DoctorID        uuid.UUID `json:"doctor_id"`
	SlotDate        string    `json:"slot_date"`
	SlotTime        string    `json:"slot_time"`
	DurationMinutes int       `json:"duration_minutes"`
	IsAvailable     bool      `json:"is_available"`
	DoctorName      string    `json:"doctor_name,omitempty"`
	Specialization  string    `json:"specialization,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type BookingResponse struct {
	ID              uuid.UUID  `json:"id"`
	SlotID          uuid.UUID  `json:"slot_id"`
	PatientName     string     `json:"patient_name"`
	PatientEmail    string     `json:"patient_email"`
	PatientPhone    *string    `json:"patient_phone,omitempty"`
	Status          string     `json:"status"`
	BookingTime     time.Time  `json:"booking_time"`
	ConfirmedAt     *time.Time `json:"confirmed_at,omitempty"`
	FailedAt        *time.Time `json:"failed_at,omitempty"`
	FailureReason   *string    `json:"failure_reason,omitempty"`
	SlotDate        string     `json:"slot_date,omitempty"`
	SlotTime        string     `json:"slot_time,omitempty"`
	DurationMinutes int        `json:"duration_minutes,omitempty"`
	DoctorName      string     `json:"doctor_name,omitempty"`
	Specialization  string     `json:"specialization,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type StatsResponse struct {
	Confirmed int64 `json:"confirmed"`
	Pending   int64 `json:"pending"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
	Total     int64 `json:"total"`
}

func toDoctorResponse(d appointment.Doctor) DoctorResponse {
	return DoctorResponse{
		ID:             d.ID,
		Name:           d.Name,
		Specialization: d.Specialization,
		Email:          d.Email,
		Phone:          d.Phone,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func toSlotResponse(s appointment.AppointmentSlot) SlotResponse {
	return SlotResponse{
		ID:              s.ID,
		DoctorID:        s.DoctorID,
		SlotDate:        s.SlotDate.Format(appointment.DateLayout),
		SlotTime:        s.SlotTime.String(),
		DurationMinutes: s.DurationMinutes,
		IsAvailable:     s.IsAvailable,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

func toSlotDetailResponse(s appointment.SlotDetail) SlotResponse {
	resp := toSlotResponse(s.AppointmentSlot)
	resp.DoctorName = s.DoctorName
	resp.Specialization = s.Specialization
	return resp
}

func toBookingResponse(b appointment.Booking) BookingResponse {
	return BookingResponse{
		ID:            b.ID,
		SlotID:        b.SlotID,
		PatientName:   b.PatientName,
		PatientEmail:  b.PatientEmail,
		PatientPhone:  b.PatientPhone,
		Status:        string(b.Status),
		BookingTime:   b.BookingTime,
		ConfirmedAt:   b.ConfirmedAt,
		FailedAt:      b.FailedAt,
		FailureReason: b.FailureReason,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}

func toBookingDetailResponse(b appointment.BookingDetail) BookingResponse {
	resp := toBookingResponse(b.Booking)
	resp.SlotDate = b.SlotDate.Format(appointment.DateLayout)
	resp.SlotTime = b.SlotTime.String()
	resp.DurationMinutes = b.DurationMinutes
	resp.DoctorName = b.DoctorName
	resp.Specialization = b.Specialization
	return resp
}

func mapSlice[T, R any](in []T, fn func(T) R) []R {
	out := make([]R, len(in))
	for i, v := range in {
		out[i] = fn(v)
	}
	return out
}
