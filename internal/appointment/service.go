package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hackgods/doctor-appointment-booking/internal/config"
	"github.com/hackgods/doctor-appointment-booking/internal/metrics"
	redisclient "github.com/hackgods/doctor-appointment-booking/internal/redis"
)

const (
	EventBookingConfirmed = "BOOKING_CONFIRMED"
	EventBookingFailed    = "BOOKING_FAILED"
	EventBookingCancelled = "BOOKING_CANCELLED"
)

var bookingTracer = otel.Tracer("clinic/appointment")

type Service struct {
	repo    Repository
	locker  redisclient.Locker
	cfg     config.Config
	logger  *zap.Logger
	metrics *metrics.BookingMetrics
}

// NewService wires the coordinator. locker may be nil, in which case claims rely on
// the repository's compare-and-set alone.
func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, logger *zap.Logger, m *metrics.BookingMetrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:    repo,
		locker:  locker,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
}

// Doctors

func (s *Service) CreateDoctor(ctx context.Context, in DoctorInput) (*Doctor, error) {
	in = normalizeDoctor(in)
	if err := validateDoctor(in); err != nil {
		return nil, err
	}

	d, err := s.repo.CreateDoctor(ctx, Doctor{
		Name:           in.Name,
		Specialization: in.Specialization,
		Email:          in.Email,
		Phone:          in.Phone,
	})
	if err != nil {
		return nil, fmt.Errorf("create doctor: %w", err)
	}

	s.logger.Info("doctor created",
		zap.String("doctor_id", d.ID.String()),
		zap.String("specialization", d.Specialization))
	return d, nil
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	d, err := s.repo.GetDoctorByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get doctor: %w", err)
	}
	return d, nil
}

func (s *Service) ListDoctors(ctx context.Context, specialization string) ([]Doctor, error) {
	doctors, err := s.repo.ListDoctors(ctx, specialization)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	return doctors, nil
}

func (s *Service) UpdateDoctor(ctx context.Context, id uuid.UUID, upd DoctorUpdate) (*Doctor, error) {
	upd, err := validateDoctorUpdate(upd)
	if err != nil {
		return nil, err
	}

	d, err := s.repo.UpdateDoctor(ctx, id, upd)
	if err != nil {
		return nil, fmt.Errorf("update doctor: %w", err)
	}
	return d, nil
}

// DeleteDoctor refuses to remove a doctor who still owns slots.
func (s *Service) DeleteDoctor(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.DeleteDoctor(ctx, id); err != nil {
		return fmt.Errorf("delete doctor: %w", err)
	}
	s.logger.Info("doctor deleted", zap.String("doctor_id", id.String()))
	return nil
}

// Slots

type SlotInput struct {
	DoctorID        uuid.UUID
	SlotDate        time.Time
	SlotTime        TimeOfDay
	DurationMinutes int // zero selects the configured default
}

type BulkSlotInput struct {
	DoctorID        uuid.UUID
	SlotDate        time.Time
	StartTime       TimeOfDay
	EndTime         TimeOfDay
	DurationMinutes int // zero selects the configured default
}

func (s *Service) resolveDuration(minutes int) (int, error) {
	if minutes == 0 {
		minutes = s.cfg.SlotDefaultDuration
	}
	if minutes < s.cfg.SlotMinDuration || minutes > s.cfg.SlotMaxDuration {
		return 0, &ValidationError{
			Field:   "duration_minutes",
			Message: fmt.Sprintf("duration_minutes must be between %d and %d", s.cfg.SlotMinDuration, s.cfg.SlotMaxDuration),
			Err:     ErrInvalidRange,
		}
	}
	return minutes, nil
}

func (s *Service) CreateSlot(ctx context.Context, in SlotInput) (*AppointmentSlot, error) {
	duration, err := s.resolveDuration(in.DurationMinutes)
	if err != nil {
		return nil, err
	}
	spec := SlotSpec{
		DoctorID:        in.DoctorID,
		SlotDate:        DateOf(in.SlotDate),
		SlotTime:        in.SlotTime,
		DurationMinutes: duration,
	}
	if !spec.SlotTime.Valid() || spec.End() > EndOfDay {
		return nil, &ValidationError{Field: "slot_time", Message: "slot must start and end within the same day", Err: ErrInvalidRange}
	}

	slots, err := s.insertSlots(ctx, in.DoctorID, []SlotSpec{spec})
	if err != nil {
		return nil, err
	}
	return &slots[0], nil
}

// CreateBulkSlots generates one day of slots from a time range and stores them as a
// single batch. A collision with any existing slot rejects the whole batch.
func (s *Service) CreateBulkSlots(ctx context.Context, in BulkSlotInput) ([]AppointmentSlot, error) {
	duration, err := s.resolveDuration(in.DurationMinutes)
	if err != nil {
		return nil, err
	}
	if !in.StartTime.Valid() || in.EndTime > EndOfDay {
		return nil, &ValidationError{Field: "end_time", Message: "range must lie within one day, 24:00 at the latest", Err: ErrInvalidRange}
	}

	specs, err := GenerateSlots(GenerateRequest{
		DoctorID:        in.DoctorID,
		SlotDate:        in.SlotDate,
		StartTime:       in.StartTime,
		EndTime:         in.EndTime,
		DurationMinutes: duration,
	})
	if err != nil {
		return nil, err
	}

	return s.insertSlots(ctx, in.DoctorID, specs)
}

func (s *Service) insertSlots(ctx context.Context, doctorID uuid.UUID, specs []SlotSpec) ([]AppointmentSlot, error) {
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if len(specs) == 0 {
		return []AppointmentSlot{}, nil
	}

	slots, err := s.repo.InsertSlots(ctx, specs)
	if err != nil {
		return nil, fmt.Errorf("insert slots: %w", err)
	}

	s.metrics.AddSlotsCreated(len(slots))
	s.logger.Info("slots created",
		zap.String("doctor_id", doctorID.String()),
		zap.String("slot_date", specs[0].SlotDate.Format(DateLayout)),
		zap.Int("count", len(slots)))
	return slots, nil
}

func (s *Service) GetSlot(ctx context.Context, id uuid.UUID) (*SlotDetail, error) {
	slot, err := s.repo.GetSlotByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get slot: %w", err)
	}
	return slot, nil
}

func (s *Service) ListAvailableSlots(ctx context.Context, f SlotFilter) ([]SlotDetail, error) {
	slots, err := s.repo.ListAvailableSlots(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list available slots: %w", err)
	}
	return slots, nil
}

// DeleteSlot refuses to remove a slot that any booking references, so the ledger keeps
// its history.
func (s *Service) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.DeleteSlot(ctx, id); err != nil {
		return fmt.Errorf("delete slot: %w", err)
	}
	return nil
}

// Bookings

// RequestBooking resolves a booking request to CONFIRMED or FAILED before returning.
// The claim on the slot is a single compare-and-set in the repository, so among any
// number of concurrent requests for one slot exactly one is confirmed.
func (s *Service) RequestBooking(ctx context.Context, slotID uuid.UUID, patient PatientInfo) (*Booking, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.request",
		trace.WithAttributes(attribute.String("booking.slot_id", slotID.String())))
	defer span.End()

	patient = normalizePatient(patient)
	if err := validatePatient(patient); err != nil {
		return nil, err
	}

	if _, err := s.repo.GetSlotByID(ctx, slotID); err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load slot: %w", err)
	}

	start := time.Now()
	pending := Booking{
		SlotID:       slotID,
		PatientName:  patient.Name,
		PatientEmail: patient.Email,
		PatientPhone: patient.Phone,
		Status:       StatusPending,
		BookingTime:  start.UTC(),
	}

	result, err := s.claim(ctx, pending)
	if errors.Is(err, redisclient.ErrLockNotAcquired) || errors.Is(err, errActiveBookingExists) {
		result, err = s.recordFailure(ctx, pending)
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("request booking: %w", err)
	}

	span.SetAttributes(
		attribute.String("booking.id", result.ID.String()),
		attribute.String("booking.status", string(result.Status)),
	)
	s.metrics.ObserveBooking(string(result.Status), time.Since(start))

	fields := []zap.Field{
		zap.String("booking_id", result.ID.String()),
		zap.String("slot_id", slotID.String()),
		zap.String("status", string(result.Status)),
	}
	if result.Status == StatusConfirmed {
		s.logger.Info("booking confirmed", fields...)
		s.logEvent(ctx, result.ID, EventBookingConfirmed, map[string]any{
			"slot_id": slotID.String(),
		})
	} else {
		s.logger.Info("booking failed", append(fields, zap.Stringp("reason", result.FailureReason))...)
		s.logEvent(ctx, result.ID, EventBookingFailed, map[string]any{
			"slot_id": slotID.String(),
			"reason":  FailureSlotUnavailable,
		})
	}

	return result, nil
}

// claim runs the claim transaction, guarded by the per-slot lock when one is configured.
// If the lock backend itself is unreachable the claim still runs: the repository's
// compare-and-set is what decides the winner.
func (s *Service) claim(ctx context.Context, pending Booking) (*Booking, error) {
	if s.locker == nil {
		return s.claimAndRecord(ctx, pending)
	}

	var (
		result *Booking
		ran    bool
	)
	err := s.locker.WithSlotLock(ctx, pending.SlotID, func(lockCtx context.Context) error {
		ran = true
		var err error
		result, err = s.claimAndRecord(lockCtx, pending)
		return err
	})
	if err != nil && !ran && !errors.Is(err, redisclient.ErrLockNotAcquired) {
		s.logger.Warn("slot lock unavailable, claiming without it",
			zap.String("slot_id", pending.SlotID.String()),
			zap.Error(err))
		return s.claimAndRecord(ctx, pending)
	}
	return result, err
}

// claimAndRecord flips the slot and writes the ledger entry in one transaction.
func (s *Service) claimAndRecord(ctx context.Context, pending Booking) (*Booking, error) {
	var result *Booking

	err := s.repo.InTx(ctx, func(tx Repository) error {
		claimed, err := tx.ClaimSlot(ctx, pending.SlotID)
		if err != nil {
			return err
		}
		if !claimed {
			failed, err := failedBooking(pending)
			if err != nil {
				return err
			}
			result, err = tx.InsertBooking(ctx, failed)
			if err != nil {
				return fmt.Errorf("insert failed booking: %w", err)
			}
			return nil
		}

		created, err := tx.InsertBooking(ctx, pending)
		if err != nil {
			if errors.Is(err, errActiveBookingExists) {
				return err
			}
			return fmt.Errorf("insert pending booking: %w", err)
		}

		result, err = tx.TransitionBooking(ctx, created.ID, StatusPending, StatusConfirmed, nil)
		if err != nil {
			return fmt.Errorf("confirm booking: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// recordFailure writes a FAILED ledger entry outside any claim attempt.
func (s *Service) recordFailure(ctx context.Context, pending Booking) (*Booking, error) {
	failed, err := failedBooking(pending)
	if err != nil {
		return nil, err
	}
	b, err := s.repo.InsertBooking(ctx, failed)
	if err != nil {
		return nil, fmt.Errorf("insert failed booking: %w", err)
	}
	return b, nil
}

func failedBooking(pending Booking) (Booking, error) {
	reason := FailureSlotUnavailable
	b := pending
	if err := b.transition(StatusFailed, time.Now().UTC(), &reason); err != nil {
		return Booking{}, err
	}
	return b, nil
}

// CancelBooking moves a CONFIRMED booking to CANCELLED and returns its slot to
// availability. Any other current status, including an unknown id, is ErrInvalidState.
func (s *Service) CancelBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.cancel",
		trace.WithAttributes(attribute.String("booking.id", id.String())))
	defer span.End()

	var cancelled *Booking
	err := s.repo.InTx(ctx, func(tx Repository) error {
		current, err := tx.GetBookingByID(ctx, id)
		if err != nil {
			if errors.Is(err, ErrBookingNotFound) {
				return fmt.Errorf("%w: %w", ErrInvalidState, err)
			}
			return fmt.Errorf("load booking: %w", err)
		}
		if current.Status != StatusConfirmed {
			return fmt.Errorf("%w: booking is %s, only CONFIRMED bookings can be cancelled", ErrInvalidState, current.Status)
		}

		cancelled, err = tx.TransitionBooking(ctx, id, StatusConfirmed, StatusCancelled, nil)
		if err != nil {
			if errors.Is(err, ErrBookingNotFound) {
				return fmt.Errorf("%w: booking was cancelled concurrently", ErrInvalidState)
			}
			return fmt.Errorf("cancel booking: %w", err)
		}

		if err := tx.ReleaseSlot(ctx, cancelled.SlotID); err != nil {
			return fmt.Errorf("release slot: %w", err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.metrics.ObserveCancellation()
	s.logger.Info("booking cancelled",
		zap.String("booking_id", id.String()),
		zap.String("slot_id", cancelled.SlotID.String()))
	s.logEvent(ctx, id, EventBookingCancelled, map[string]any{
		"slot_id": cancelled.SlotID.String(),
	})

	return cancelled, nil
}

// GetBooking retrieves a booking joined with its slot and doctor.
func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (*BookingDetail, error) {
	b, err := s.repo.GetBookingByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

func (s *Service) ListBookings(ctx context.Context, f BookingFilter) ([]BookingDetail, error) {
	bookings, err := s.repo.ListBookings(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return bookings, nil
}

// Stats tallies the ledger as of the call.
func (s *Service) Stats(ctx context.Context) (BookingStats, error) {
	counts, err := s.repo.CountBookingsByStatus(ctx)
	if err != nil {
		return BookingStats{}, fmt.Errorf("booking stats: %w", err)
	}
	return ComputeStats(counts), nil
}

// ReconcileAvailability is intended to be called by the worker periodically. It repairs
// slots whose availability flag disagrees with the ledger and returns how many changed.
func (s *Service) ReconcileAvailability(ctx context.Context) (int, error) {
	candidates, err := s.repo.FindAvailabilityDrift(ctx, time.Now().Add(-s.cfg.ReconcileGrace))
	if err != nil {
		return 0, fmt.Errorf("find availability drift: %w", err)
	}

	repaired := 0
	for _, id := range candidates {
		changed, available, err := s.repo.ReconcileSlot(ctx, id)
		if err != nil {
			s.logger.Warn("failed to reconcile slot", zap.String("slot_id", id.String()), zap.Error(err))
			continue
		}
		if changed {
			repaired++
			s.logger.Warn("slot availability repaired",
				zap.String("slot_id", id.String()),
				zap.Bool("is_available", available))
		}
	}

	s.metrics.AddDriftRepaired(repaired)
	return repaired, nil
}

func (s *Service) logEvent(ctx context.Context, bookingID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to marshal event payload", zap.String("event_type", eventType), zap.Error(err))
		data = nil
	}

	id := bookingID

	ev := EventLog{
		EventType: eventType,
		BookingID: &id,
		Payload:   data,
		CreatedAt: time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Warn("failed to insert event log",
			zap.String("event_type", eventType),
			zap.String("booking_id", bookingID.String()),
			zap.Error(err))
	}
}
