package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all storage interactions needed by the service.
// Implementations must make ClaimSlot a single atomic compare-and-set per slot.
type Repository interface {
	// InTx runs fn against a repository whose writes commit or roll back together.
	InTx(ctx context.Context, fn func(tx Repository) error) error

	// Doctors
	CreateDoctor(ctx context.Context, d Doctor) (*Doctor, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	ListDoctors(ctx context.Context, specialization string) ([]Doctor, error)
	UpdateDoctor(ctx context.Context, id uuid.UUID, upd DoctorUpdate) (*Doctor, error)
	DeleteDoctor(ctx context.Context, id uuid.UUID) error

	// Availability
	InsertSlots(ctx context.Context, specs []SlotSpec) ([]AppointmentSlot, error)
	GetSlotByID(ctx context.Context, id uuid.UUID) (*SlotDetail, error)
	ListAvailableSlots(ctx context.Context, f SlotFilter) ([]SlotDetail, error)
	ClaimSlot(ctx context.Context, id uuid.UUID) (bool, error)
	ReleaseSlot(ctx context.Context, id uuid.UUID) error
	DeleteSlot(ctx context.Context, id uuid.UUID) error

	// Ledger
	InsertBooking(ctx context.Context, b Booking) (*Booking, error)
	GetBookingByID(ctx context.Context, id uuid.UUID) (*BookingDetail, error)
	ListBookings(ctx context.Context, f BookingFilter) ([]BookingDetail, error)
	TransitionBooking(ctx context.Context, id uuid.UUID, from, to BookingStatus, reason *string) (*Booking, error)
	CountBookingsByStatus(ctx context.Context) (map[BookingStatus]int64, error)

	// Maintenance
	FindAvailabilityDrift(ctx context.Context, updatedBefore time.Time) ([]uuid.UUID, error)
	ReconcileSlot(ctx context.Context, id uuid.UUID) (changed bool, available bool, err error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
