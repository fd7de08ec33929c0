package appointment

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDoctorNotFound  = errors.New("doctor not found")
	ErrSlotNotFound    = errors.New("slot not found")
	ErrBookingNotFound = errors.New("booking not found")

	ErrDuplicateSlot     = errors.New("slot already exists for doctor at that date and time")
	ErrDuplicateDoctor   = errors.New("doctor with that email already exists")
	ErrDoctorHasSlots    = errors.New("doctor still has appointment slots")
	ErrSlotInUse         = errors.New("slot is referenced by bookings")
	ErrInvalidState      = errors.New("invalid booking state")
	ErrInvalidRange      = errors.New("invalid time range")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError reports malformed input. It is raised before storage is touched.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error { return e.Err }

// DuplicateSlotError lists the slot start times that collided with existing slots.
// A batch that produces it leaves the store unchanged.
type DuplicateSlotError struct {
	DoctorID uuid.UUID
	SlotDate time.Time
	Times    []TimeOfDay
}

func (e *DuplicateSlotError) Error() string {
	if len(e.Times) == 0 {
		return ErrDuplicateSlot.Error()
	}
	times := make([]string, len(e.Times))
	for i, t := range e.Times {
		times[i] = t.String()
	}
	return fmt.Sprintf("%s: %s %s", ErrDuplicateSlot, e.SlotDate.Format(DateLayout), strings.Join(times, ", "))
}

func (e *DuplicateSlotError) Unwrap() error { return ErrDuplicateSlot }

type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindNotFound     ErrorKind = "not_found"
	KindConflict     ErrorKind = "conflict"
	KindInvalidState ErrorKind = "invalid_state"
	KindInternal     ErrorKind = "internal"
)

// Classify maps an error returned by this package onto the error taxonomy.
func Classify(err error) ErrorKind {
	var verr *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &verr):
		return KindValidation
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrInvalidTransition):
		return KindInvalidState
	case errors.Is(err, ErrDoctorNotFound), errors.Is(err, ErrSlotNotFound), errors.Is(err, ErrBookingNotFound):
		return KindNotFound
	case errors.Is(err, ErrDuplicateSlot), errors.Is(err, ErrDuplicateDoctor),
		errors.Is(err, ErrDoctorHasSlots), errors.Is(err, ErrSlotInUse):
		return KindConflict
	default:
		return KindInternal
	}
}
