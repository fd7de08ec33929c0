package appointment

import (
	"time"

	"github.com/google/uuid"
)

// GenerateRequest describes a single-day block of equally sized slots for one doctor.
type GenerateRequest struct {
	DoctorID        uuid.UUID
	SlotDate        time.Time
	StartTime       TimeOfDay
	EndTime         TimeOfDay
	DurationMinutes int
}

// SlotSpec is a slot that has been generated but not yet stored.
type SlotSpec struct {
	DoctorID        uuid.UUID
	SlotDate        time.Time
	SlotTime        TimeOfDay
	DurationMinutes int
}

func (s SlotSpec) End() TimeOfDay {
	return s.SlotTime.Add(s.DurationMinutes)
}

// GenerateSlots splits [StartTime, EndTime) into consecutive slots of DurationMinutes.
// A trailing remainder shorter than one slot is dropped. It does not touch storage.
func GenerateSlots(req GenerateRequest) ([]SlotSpec, error) {
	if req.DurationMinutes <= 0 {
		return nil, &ValidationError{
			Field:   "duration_minutes",
			Message: "duration_minutes must be a positive integer",
			Err:     ErrInvalidRange,
		}
	}
	if req.EndTime <= req.StartTime {
		return nil, &ValidationError{
			Field:   "end_time",
			Message: "end_time must be after start_time",
			Err:     ErrInvalidRange,
		}
	}

	date := DateOf(req.SlotDate)
	step := req.DurationMinutes
	slots := make([]SlotSpec, 0, int(req.EndTime-req.StartTime)/step)

	for start := req.StartTime; start.Add(step) <= req.EndTime; start = start.Add(step) {
		slots = append(slots, SlotSpec{
			DoctorID:        req.DoctorID,
			SlotDate:        date,
			SlotTime:        start,
			DurationMinutes: step,
		})
	}

	return slots, nil
}
