package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	StatusPending   BookingStatus = "PENDING"
	StatusConfirmed BookingStatus = "CONFIRMED"
	StatusFailed    BookingStatus = "FAILED"
	StatusCancelled BookingStatus = "CANCELLED"
)

// AllStatuses lists every booking status in display order.
var AllStatuses = []BookingStatus{StatusConfirmed, StatusPending, StatusFailed, StatusCancelled}

// bookingTransitions is the complete set of legal status changes.
var bookingTransitions = map[BookingStatus][]BookingStatus{
	StatusPending:   {StatusConfirmed, StatusFailed},
	StatusConfirmed: {StatusCancelled},
	StatusFailed:    {},
	StatusCancelled: {},
}

func ParseBookingStatus(s string) (BookingStatus, error) {
	st := BookingStatus(s)
	if _, ok := bookingTransitions[st]; !ok {
		return "", &ValidationError{Field: "status", Message: fmt.Sprintf("unknown booking status %q", s)}
	}
	return st, nil
}

func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Active reports whether a booking in this status holds its slot.
func (s BookingStatus) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

func (s BookingStatus) Terminal() bool {
	return len(bookingTransitions[s]) == 0
}

// FailureSlotUnavailable is recorded on bookings that lost the claim for their slot.
const FailureSlotUnavailable = "slot unavailable"

type Doctor struct {
	ID             uuid.UUID
	Name           string
	Specialization string
	Email          string
	Phone          *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DoctorUpdate carries the fields of an administrative edit. Nil fields are left unchanged.
type DoctorUpdate struct {
	Name           *string
	Specialization *string
	Email          *string
	Phone          *string
}

type AppointmentSlot struct {
	ID              uuid.UUID
	DoctorID        uuid.UUID
	SlotDate        time.Time
	SlotTime        TimeOfDay
	DurationMinutes int
	IsAvailable     bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SlotDetail is a slot joined with its doctor's display fields at read time.
type SlotDetail struct {
	AppointmentSlot
	DoctorName     string
	Specialization string
}

type PatientInfo struct {
	Name  string
	Email string
	Phone *string
}

type Booking struct {
	ID            uuid.UUID
	SlotID        uuid.UUID
	PatientName   string
	PatientEmail  string
	PatientPhone  *string
	Status        BookingStatus
	BookingTime   time.Time
	ConfirmedAt   *time.Time
	FailedAt      *time.Time
	FailureReason *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// transition applies a legal status change and stamps the matching timestamp.
func (b *Booking) transition(to BookingStatus, at time.Time, reason *string) error {
	if b.Status.Terminal() {
		return fmt.Errorf("%w: %s is final", ErrInvalidTransition, b.Status)
	}
	if !b.Status.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, to)
	}
	b.Status = to
	b.UpdatedAt = at
	switch to {
	case StatusConfirmed:
		b.ConfirmedAt = &at
	case StatusFailed:
		b.FailedAt = &at
	}
	if reason != nil {
		r := *reason
		b.FailureReason = &r
	}
	return nil
}

// BookingDetail is a booking joined with its slot and doctor at read time.
type BookingDetail struct {
	Booking
	SlotDate        time.Time
	SlotTime        TimeOfDay
	DurationMinutes int
	DoctorName      string
	Specialization  string
}

type BookingStats struct {
	Confirmed int64
	Pending   int64
	Failed    int64
	Cancelled int64
	Total     int64
}

type SlotFilter struct {
	DoctorID       *uuid.UUID
	Date           *time.Time
	Specialization string
}

type BookingFilter struct {
	Status       *BookingStatus
	PatientEmail string
}

type EventLog struct {
	ID        int64
	EventType string
	BookingID *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}
