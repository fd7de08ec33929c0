package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Constraint names from the schema migrations.
const (
	constraintSlotUnique       = "appointment_slots_doctor_start_key"
	constraintDoctorEmail      = "doctors_email_key"
	constraintOneActiveBooking = "bookings_one_active_per_slot"
)

// errActiveBookingExists means the storage layer refused a second active booking on a slot.
var errActiveBookingExists = errors.New("slot already has an active booking")

// pgxDB is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock pools.
type pgxDB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

type PgRepository struct {
	db   pgxDB
	inTx bool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{db: pool}
}

// NewPgRepositoryWithDB allows injecting a mock pool for tests.
func NewPgRepositoryWithDB(db pgxDB) *PgRepository {
	return &PgRepository{db: db}
}

const doctorColumns = `id, name, specialization, email, phone, created_at, updated_at`

const slotDetailColumns = `
	s.id, s.doctor_id, s.slot_date, s.slot_time, s.duration_minutes, s.is_available,
	s.created_at, s.updated_at, d.name, d.specialization`

const bookingColumns = `
	id, slot_id, patient_name, patient_email, patient_phone, status, booking_time,
	confirmed_at, failed_at, failure_reason, created_at, updated_at`

const bookingDetailColumns = `
	b.id, b.slot_id, b.patient_name, b.patient_email, b.patient_phone, b.status, b.booking_time,
	b.confirmed_at, b.failed_at, b.failure_reason, b.created_at, b.updated_at,
	s.slot_date, s.slot_time, s.duration_minutes, d.name, d.specialization`

// Helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.Specialization,
		&d.Email,
		&d.Phone,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
}

func scanSlotDetail(row pgx.Row) (*SlotDetail, error) {
	var s SlotDetail
	var slotTime pgtype.Time

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.SlotDate,
		&slotTime,
		&s.DurationMinutes,
		&s.IsAvailable,
		&s.CreatedAt,
		&s.UpdatedAt,
		&s.DoctorName,
		&s.Specialization,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	s.SlotTime = fromPgTime(slotTime)
	return &s, nil
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	err := row.Scan(
		&b.ID,
		&b.SlotID,
		&b.PatientName,
		&b.PatientEmail,
		&b.PatientPhone,
		&b.Status,
		&b.BookingTime,
		&b.ConfirmedAt,
		&b.FailedAt,
		&b.FailureReason,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	return &b, nil
}

func scanBookingDetail(row pgx.Row) (*BookingDetail, error) {
	var b BookingDetail
	var slotTime pgtype.Time

	err := row.Scan(
		&b.ID,
		&b.SlotID,
		&b.PatientName,
		&b.PatientEmail,
		&b.PatientPhone,
		&b.Status,
		&b.BookingTime,
		&b.ConfirmedAt,
		&b.FailedAt,
		&b.FailureReason,
		&b.CreatedAt,
		&b.UpdatedAt,
		&b.SlotDate,
		&slotTime,
		&b.DurationMinutes,
		&b.DoctorName,
		&b.Specialization,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}

	b.SlotTime = fromPgTime(slotTime)
	return &b, nil
}

func toPgTime(t TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: int64(t) * int64(time.Minute/time.Microsecond), Valid: true}
}

func fromPgTime(t pgtype.Time) TimeOfDay {
	return TimeOfDay(t.Microseconds / int64(time.Minute/time.Microsecond))
}

func toPgDate(t time.Time) pgtype.Date {
	return pgtype.Date{Time: DateOf(t), Valid: true}
}

func pgErrorCode(err error) (code, constraint string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

func isUniqueViolation(err error, constraint string) bool {
	code, name := pgErrorCode(err)
	return code == "23505" && (constraint == "" || name == constraint)
}

func isForeignKeyViolation(err error) bool {
	code, _ := pgErrorCode(err)
	return code == "23503"
}

// Interface methods

func (r *PgRepository) InTx(ctx context.Context, fn func(tx Repository) error) error {
	if r.inTx {
		return fn(r)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(&PgRepository{db: tx, inTx: true}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *PgRepository) CreateDoctor(ctx context.Context, d Doctor) (*Doctor, error) {
	id := uuid.New()

	row := r.db.QueryRow(ctx, `
		INSERT INTO doctors (id, name, specialization, email, phone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		RETURNING `+doctorColumns,
		id, d.Name, d.Specialization, d.Email, d.Phone)

	created, err := scanDoctor(row)
	if err != nil {
		if isUniqueViolation(err, constraintDoctorEmail) {
			return nil, ErrDuplicateDoctor
		}
		return nil, fmt.Errorf("insert doctor: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+doctorColumns+`
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) ListDoctors(ctx context.Context, specialization string) ([]Doctor, error) {
	query := `SELECT ` + doctorColumns + ` FROM doctors`
	var args []any
	if specialization != "" {
		args = append(args, specialization)
		query += ` WHERE lower(specialization) = lower($1)`
	}
	query += ` ORDER BY name`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	defer rows.Close()

	doctors := []Doctor{}
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan doctor: %w", err)
		}
		doctors = append(doctors, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return doctors, nil
}

func (r *PgRepository) UpdateDoctor(ctx context.Context, id uuid.UUID, upd DoctorUpdate) (*Doctor, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE doctors
		SET name = COALESCE($2, name),
		    specialization = COALESCE($3, specialization),
		    email = COALESCE($4, email),
		    phone = COALESCE($5, phone),
		    updated_at = now()
		WHERE id = $1
		RETURNING `+doctorColumns,
		id, upd.Name, upd.Specialization, upd.Email, upd.Phone)

	d, err := scanDoctor(row)
	if err != nil {
		if isUniqueViolation(err, constraintDoctorEmail) {
			return nil, ErrDuplicateDoctor
		}
		return nil, err
	}
	return d, nil
}

func (r *PgRepository) DeleteDoctor(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM doctors WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrDoctorHasSlots
		}
		return fmt.Errorf("delete doctor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDoctorNotFound
	}
	return nil
}

// InsertSlots stores the whole batch or nothing. Collisions with existing slots are
// reported as a *DuplicateSlotError.
func (r *PgRepository) InsertSlots(ctx context.Context, specs []SlotSpec) ([]AppointmentSlot, error) {
	if len(specs) == 0 {
		return []AppointmentSlot{}, nil
	}

	var inserted []AppointmentSlot
	err := r.InTx(ctx, func(tx Repository) error {
		var err error
		inserted, err = tx.(*PgRepository).insertSlots(ctx, specs)
		return err
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

func (r *PgRepository) insertSlots(ctx context.Context, specs []SlotSpec) ([]AppointmentSlot, error) {
	doctorIDs := make([]uuid.UUID, len(specs))
	dates := make([]pgtype.Date, len(specs))
	times := make([]pgtype.Time, len(specs))
	for i, s := range specs {
		doctorIDs[i] = s.DoctorID
		dates[i] = toPgDate(s.SlotDate)
		times[i] = toPgTime(s.SlotTime)
	}

	rows, err := r.db.Query(ctx, `
		SELECT s.slot_time
		FROM appointment_slots s
		JOIN unnest($1::uuid[], $2::date[], $3::time[]) AS n(doctor_id, slot_date, slot_time)
		  ON s.doctor_id = n.doctor_id
		 AND s.slot_date = n.slot_date
		 AND s.slot_time = n.slot_time
		ORDER BY s.slot_time
	`, doctorIDs, dates, times)
	if err != nil {
		return nil, fmt.Errorf("check slot collisions: %w", err)
	}

	var collisions []TimeOfDay
	for rows.Next() {
		var t pgtype.Time
		if err := rows.Scan(&t); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan slot collision: %w", err)
		}
		collisions = append(collisions, fromPgTime(t))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(collisions) > 0 {
		return nil, &DuplicateSlotError{DoctorID: specs[0].DoctorID, SlotDate: DateOf(specs[0].SlotDate), Times: collisions}
	}

	now := time.Now().UTC()
	slots := make([]AppointmentSlot, len(specs))
	copyRows := make([][]any, len(specs))
	for i, s := range specs {
		slots[i] = AppointmentSlot{
			ID:              uuid.New(),
			DoctorID:        s.DoctorID,
			SlotDate:        DateOf(s.SlotDate),
			SlotTime:        s.SlotTime,
			DurationMinutes: s.DurationMinutes,
			IsAvailable:     true,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		copyRows[i] = []any{
			slots[i].ID, s.DoctorID, dates[i], times[i], s.DurationMinutes, true, now, now,
		}
	}

	_, err = r.db.CopyFrom(ctx,
		pgx.Identifier{"appointment_slots"},
		[]string{"id", "doctor_id", "slot_date", "slot_time", "duration_minutes", "is_available", "created_at", "updated_at"},
		pgx.CopyFromRows(copyRows),
	)
	if err != nil {
		switch {
		case isUniqueViolation(err, constraintSlotUnique):
			return nil, &DuplicateSlotError{DoctorID: specs[0].DoctorID, SlotDate: DateOf(specs[0].SlotDate)}
		case isForeignKeyViolation(err):
			return nil, ErrDoctorNotFound
		}
		return nil, fmt.Errorf("copy slots: %w", err)
	}

	return slots, nil
}

func (r *PgRepository) GetSlotByID(ctx context.Context, id uuid.UUID) (*SlotDetail, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+slotDetailColumns+`
		FROM appointment_slots s
		JOIN doctors d ON d.id = s.doctor_id
		WHERE s.id = $1
	`, id)
	return scanSlotDetail(row)
}

func (r *PgRepository) ListAvailableSlots(ctx context.Context, f SlotFilter) ([]SlotDetail, error) {
	var (
		where = []string{"s.is_available"}
		args  []any
	)
	if f.DoctorID != nil {
		args = append(args, *f.DoctorID)
		where = append(where, fmt.Sprintf("s.doctor_id = $%d", len(args)))
	}
	if f.Date != nil {
		args = append(args, toPgDate(*f.Date))
		where = append(where, fmt.Sprintf("s.slot_date = $%d", len(args)))
	}
	if f.Specialization != "" {
		args = append(args, f.Specialization)
		where = append(where, fmt.Sprintf("lower(d.specialization) = lower($%d)", len(args)))
	}

	query := `SELECT ` + slotDetailColumns + `
		FROM appointment_slots s
		JOIN doctors d ON d.id = s.doctor_id
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY s.slot_date, s.slot_time, d.name`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list available slots: %w", err)
	}
	defer rows.Close()

	slots := []SlotDetail{}
	for rows.Next() {
		s, err := scanSlotDetail(rows)
		if err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		slots = append(slots, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return slots, nil
}

// ClaimSlot flips is_available from true to false in one statement. Postgres row
// locking serializes concurrent claims on the same row, so exactly one sees a hit.
func (r *PgRepository) ClaimSlot(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE appointment_slots
		SET is_available = FALSE,
		    updated_at = now()
		WHERE id = $1
		  AND is_available
	`, id)
	if err != nil {
		return false, fmt.Errorf("claim slot: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgRepository) ReleaseSlot(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE appointment_slots
		SET is_available = TRUE,
		    updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (r *PgRepository) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM appointment_slots WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrSlotInUse
		}
		return fmt.Errorf("delete slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (r *PgRepository) InsertBooking(ctx context.Context, b Booking) (*Booking, error) {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.BookingTime.IsZero() {
		b.BookingTime = time.Now().UTC()
	}

	row := r.db.QueryRow(ctx, `
		INSERT INTO bookings (id, slot_id, patient_name, patient_email, patient_phone, status,
		                      booking_time, confirmed_at, failed_at, failure_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		RETURNING `+bookingColumns,
		b.ID, b.SlotID, b.PatientName, b.PatientEmail, b.PatientPhone, string(b.Status),
		b.BookingTime, b.ConfirmedAt, b.FailedAt, b.FailureReason)

	created, err := scanBooking(row)
	if err != nil {
		switch {
		case isUniqueViolation(err, constraintOneActiveBooking):
			return nil, errActiveBookingExists
		case isForeignKeyViolation(err):
			return nil, ErrSlotNotFound
		}
		return nil, fmt.Errorf("insert booking: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetBookingByID(ctx context.Context, id uuid.UUID) (*BookingDetail, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+bookingDetailColumns+`
		FROM bookings b
		JOIN appointment_slots s ON s.id = b.slot_id
		JOIN doctors d ON d.id = s.doctor_id
		WHERE b.id = $1
	`, id)
	return scanBookingDetail(row)
}

func (r *PgRepository) ListBookings(ctx context.Context, f BookingFilter) ([]BookingDetail, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != nil {
		args = append(args, string(*f.Status))
		where = append(where, fmt.Sprintf("b.status = $%d", len(args)))
	}
	if f.PatientEmail != "" {
		args = append(args, f.PatientEmail)
		where = append(where, fmt.Sprintf("lower(b.patient_email) = lower($%d)", len(args)))
	}

	query := `SELECT ` + bookingDetailColumns + `
		FROM bookings b
		JOIN appointment_slots s ON s.id = b.slot_id
		JOIN doctors d ON d.id = s.doctor_id`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY b.booking_time DESC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	bookings := []BookingDetail{}
	for rows.Next() {
		b, err := scanBookingDetail(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		bookings = append(bookings, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bookings, nil
}

// TransitionBooking moves a booking from one status to another only if it is still in
// from. ErrBookingNotFound covers both an unknown id and a lost race on the status.
func (r *PgRepository) TransitionBooking(ctx context.Context, id uuid.UUID, from, to BookingStatus, reason *string) (*Booking, error) {
	if !from.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	row := r.db.QueryRow(ctx, `
		UPDATE bookings
		SET status = $3::text,
		    confirmed_at = CASE WHEN $3::text = 'CONFIRMED' THEN now() ELSE confirmed_at END,
		    failed_at = CASE WHEN $3::text = 'FAILED' THEN now() ELSE failed_at END,
		    failure_reason = COALESCE($4, failure_reason),
		    updated_at = now()
		WHERE id = $1
		  AND status = $2
		RETURNING `+bookingColumns,
		id, string(from), string(to), reason)

	return scanBooking(row)
}

func (r *PgRepository) CountBookingsByStatus(ctx context.Context) (map[BookingStatus]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT status, COUNT(*)
		FROM bookings
		GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("count bookings: %w", err)
	}
	defer rows.Close()

	counts := make(map[BookingStatus]int64, len(AllStatuses))
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan booking count: %w", err)
		}
		counts[BookingStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

// FindAvailabilityDrift returns slots, untouched since updatedBefore, whose flag
// disagrees with the presence of an active booking.
func (r *PgRepository) FindAvailabilityDrift(ctx context.Context, updatedBefore time.Time) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `
		SELECT s.id
		FROM appointment_slots s
		WHERE s.updated_at < $1
		  AND s.is_available = EXISTS (
		      SELECT 1 FROM bookings b
		      WHERE b.slot_id = s.id
		        AND b.status IN ('PENDING', 'CONFIRMED')
		  )
	`, updatedBefore)
	if err != nil {
		return nil, fmt.Errorf("find availability drift: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// ReconcileSlot locks the slot row, then re-derives is_available from the ledger.
func (r *PgRepository) ReconcileSlot(ctx context.Context, id uuid.UUID) (bool, bool, error) {
	var changed, available bool

	err := r.InTx(ctx, func(txRepo Repository) error {
		tx := txRepo.(*PgRepository)

		var current bool
		err := tx.db.QueryRow(ctx, `
			SELECT is_available FROM appointment_slots WHERE id = $1 FOR UPDATE
		`, id).Scan(&current)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrSlotNotFound
			}
			return fmt.Errorf("lock slot: %w", err)
		}

		var held bool
		err = tx.db.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM bookings
				WHERE slot_id = $1
				  AND status IN ('PENDING', 'CONFIRMED')
			)
		`, id).Scan(&held)
		if err != nil {
			return fmt.Errorf("check active booking: %w", err)
		}

		available = !held
		if current == available {
			return nil
		}

		if _, err := tx.db.Exec(ctx, `
			UPDATE appointment_slots
			SET is_available = $2,
			    updated_at = now()
			WHERE id = $1
		`, id, available); err != nil {
			return fmt.Errorf("repair slot availability: %w", err)
		}
		changed = true
		return nil
	})
	if err != nil {
		return false, false, err
	}
	return changed, available, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO booking_events (event_type, booking_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.BookingID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
