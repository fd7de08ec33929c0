package appointment

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// reconcileSettleTime is how long a slot must be left alone before the memory store
// will repair it. A claim and its ledger write always land within this window.
const reconcileSettleTime = 5 * time.Second

type slotKey struct {
	doctorID uuid.UUID
	date     time.Time
	start    TimeOfDay
}

type memSlot struct {
	slot      AppointmentSlot // immutable after insert except through the atomics below
	available atomic.Bool
	updatedAt atomic.Int64
}

func (s *memSlot) touch() {
	s.updatedAt.Store(time.Now().UnixNano())
}

func (s *memSlot) snapshot() AppointmentSlot {
	out := s.slot
	out.IsAvailable = s.available.Load()
	out.UpdatedAt = time.Unix(0, s.updatedAt.Load()).UTC()
	return out
}

// MemoryRepository keeps everything in process memory. Claims on different slots
// never contend: each slot carries its own atomic flag.
type MemoryRepository struct {
	doctorsMu sync.RWMutex
	doctors   map[uuid.UUID]*Doctor

	// slots holds *memSlot values; slotsMu guards slotKeys and structural changes only.
	slots    sync.Map
	slotsMu  sync.Mutex
	slotKeys map[slotKey]uuid.UUID

	bookingsMu   sync.RWMutex
	bookings     map[uuid.UUID]*Booking
	activeBySlot map[uuid.UUID]uuid.UUID

	eventsMu sync.Mutex
	events   []EventLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		doctors:      make(map[uuid.UUID]*Doctor),
		slotKeys:     make(map[slotKey]uuid.UUID),
		bookings:     make(map[uuid.UUID]*Booking),
		activeBySlot: make(map[uuid.UUID]uuid.UUID),
	}
}

// InTx runs fn directly. Each memory operation is atomic on its own.
func (r *MemoryRepository) InTx(ctx context.Context, fn func(tx Repository) error) error {
	return fn(r)
}

func (r *MemoryRepository) CreateDoctor(ctx context.Context, d Doctor) (*Doctor, error) {
	r.doctorsMu.Lock()
	defer r.doctorsMu.Unlock()

	for _, existing := range r.doctors {
		if strings.EqualFold(existing.Email, d.Email) {
			return nil, ErrDuplicateDoctor
		}
	}

	now := time.Now().UTC()
	d.ID = uuid.New()
	d.CreatedAt = now
	d.UpdatedAt = now
	r.doctors[d.ID] = &d

	out := d
	return &out, nil
}

func (r *MemoryRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	r.doctorsMu.RLock()
	defer r.doctorsMu.RUnlock()

	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	out := *d
	return &out, nil
}

func (r *MemoryRepository) ListDoctors(ctx context.Context, specialization string) ([]Doctor, error) {
	r.doctorsMu.RLock()
	defer r.doctorsMu.RUnlock()

	doctors := []Doctor{}
	for _, d := range r.doctors {
		if specialization != "" && !strings.EqualFold(d.Specialization, specialization) {
			continue
		}
		doctors = append(doctors, *d)
	}
	sort.Slice(doctors, func(i, j int) bool { return doctors[i].Name < doctors[j].Name })
	return doctors, nil
}

func (r *MemoryRepository) UpdateDoctor(ctx context.Context, id uuid.UUID, upd DoctorUpdate) (*Doctor, error) {
	r.doctorsMu.Lock()
	defer r.doctorsMu.Unlock()

	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	if upd.Email != nil {
		for otherID, other := range r.doctors {
			if otherID != id && strings.EqualFold(other.Email, *upd.Email) {
				return nil, ErrDuplicateDoctor
			}
		}
		d.Email = *upd.Email
	}
	if upd.Name != nil {
		d.Name = *upd.Name
	}
	if upd.Specialization != nil {
		d.Specialization = *upd.Specialization
	}
	if upd.Phone != nil {
		phone := *upd.Phone
		d.Phone = &phone
	}
	d.UpdatedAt = time.Now().UTC()

	out := *d
	return &out, nil
}

func (r *MemoryRepository) DeleteDoctor(ctx context.Context, id uuid.UUID) error {
	r.doctorsMu.Lock()
	defer r.doctorsMu.Unlock()

	if _, ok := r.doctors[id]; !ok {
		return ErrDoctorNotFound
	}

	r.slotsMu.Lock()
	defer r.slotsMu.Unlock()
	for key := range r.slotKeys {
		if key.doctorID == id {
			return ErrDoctorHasSlots
		}
	}

	delete(r.doctors, id)
	return nil
}

func (r *MemoryRepository) InsertSlots(ctx context.Context, specs []SlotSpec) ([]AppointmentSlot, error) {
	if len(specs) == 0 {
		return []AppointmentSlot{}, nil
	}

	r.doctorsMu.RLock()
	defer r.doctorsMu.RUnlock()
	for _, s := range specs {
		if _, ok := r.doctors[s.DoctorID]; !ok {
			return nil, ErrDoctorNotFound
		}
	}

	r.slotsMu.Lock()
	defer r.slotsMu.Unlock()

	// Validate the whole batch before mutating anything.
	var collisions []TimeOfDay
	seen := make(map[slotKey]struct{}, len(specs))
	for _, s := range specs {
		key := slotKey{doctorID: s.DoctorID, date: DateOf(s.SlotDate), start: s.SlotTime}
		_, exists := r.slotKeys[key]
		_, repeated := seen[key]
		if exists || repeated {
			collisions = append(collisions, s.SlotTime)
		}
		seen[key] = struct{}{}
	}
	if len(collisions) > 0 {
		return nil, &DuplicateSlotError{DoctorID: specs[0].DoctorID, SlotDate: DateOf(specs[0].SlotDate), Times: collisions}
	}

	now := time.Now().UTC()
	out := make([]AppointmentSlot, 0, len(specs))
	for _, s := range specs {
		entry := &memSlot{slot: AppointmentSlot{
			ID:              uuid.New(),
			DoctorID:        s.DoctorID,
			SlotDate:        DateOf(s.SlotDate),
			SlotTime:        s.SlotTime,
			DurationMinutes: s.DurationMinutes,
			CreatedAt:       now,
		}}
		entry.available.Store(true)
		entry.updatedAt.Store(now.UnixNano())

		r.slots.Store(entry.slot.ID, entry)
		r.slotKeys[slotKey{doctorID: s.DoctorID, date: entry.slot.SlotDate, start: s.SlotTime}] = entry.slot.ID
		out = append(out, entry.snapshot())
	}
	return out, nil
}

func (r *MemoryRepository) loadSlot(id uuid.UUID) (*memSlot, bool) {
	v, ok := r.slots.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*memSlot), true
}

func (r *MemoryRepository) slotDetail(entry *memSlot) SlotDetail {
	detail := SlotDetail{AppointmentSlot: entry.snapshot()}
	r.doctorsMu.RLock()
	if d, ok := r.doctors[entry.slot.DoctorID]; ok {
		detail.DoctorName = d.Name
		detail.Specialization = d.Specialization
	}
	r.doctorsMu.RUnlock()
	return detail
}

func (r *MemoryRepository) GetSlotByID(ctx context.Context, id uuid.UUID) (*SlotDetail, error) {
	entry, ok := r.loadSlot(id)
	if !ok {
		return nil, ErrSlotNotFound
	}
	detail := r.slotDetail(entry)
	return &detail, nil
}

func (r *MemoryRepository) ListAvailableSlots(ctx context.Context, f SlotFilter) ([]SlotDetail, error) {
	slots := []SlotDetail{}
	r.slots.Range(func(_, v any) bool {
		entry := v.(*memSlot)
		if !entry.available.Load() {
			return true
		}
		if f.DoctorID != nil && entry.slot.DoctorID != *f.DoctorID {
			return true
		}
		if f.Date != nil && !entry.slot.SlotDate.Equal(DateOf(*f.Date)) {
			return true
		}
		detail := r.slotDetail(entry)
		if f.Specialization != "" && !strings.EqualFold(detail.Specialization, f.Specialization) {
			return true
		}
		slots = append(slots, detail)
		return true
	})

	sort.Slice(slots, func(i, j int) bool {
		a, b := slots[i], slots[j]
		if !a.SlotDate.Equal(b.SlotDate) {
			return a.SlotDate.Before(b.SlotDate)
		}
		if a.SlotTime != b.SlotTime {
			return a.SlotTime < b.SlotTime
		}
		return a.DoctorName < b.DoctorName
	})
	return slots, nil
}

func (r *MemoryRepository) ClaimSlot(ctx context.Context, id uuid.UUID) (bool, error) {
	entry, ok := r.loadSlot(id)
	if !ok {
		return false, nil
	}
	if !entry.available.CompareAndSwap(true, false) {
		return false, nil
	}
	entry.touch()
	return true, nil
}

func (r *MemoryRepository) ReleaseSlot(ctx context.Context, id uuid.UUID) error {
	entry, ok := r.loadSlot(id)
	if !ok {
		return ErrSlotNotFound
	}
	entry.available.Store(true)
	entry.touch()
	return nil
}

func (r *MemoryRepository) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	r.slotsMu.Lock()
	defer r.slotsMu.Unlock()

	entry, ok := r.loadSlot(id)
	if !ok {
		return ErrSlotNotFound
	}

	r.bookingsMu.RLock()
	defer r.bookingsMu.RUnlock()
	for _, b := range r.bookings {
		if b.SlotID == id {
			return ErrSlotInUse
		}
	}
	// a claim that won but has not written its booking yet still holds the slot
	if !entry.available.CompareAndSwap(true, false) {
		return ErrSlotInUse
	}

	r.slots.Delete(id)
	delete(r.slotKeys, slotKey{doctorID: entry.slot.DoctorID, date: entry.slot.SlotDate, start: entry.slot.SlotTime})
	return nil
}

func (r *MemoryRepository) InsertBooking(ctx context.Context, b Booking) (*Booking, error) {
	r.bookingsMu.Lock()
	defer r.bookingsMu.Unlock()

	if _, ok := r.loadSlot(b.SlotID); !ok {
		return nil, ErrSlotNotFound
	}
	if b.Status.Active() {
		if _, held := r.activeBySlot[b.SlotID]; held {
			return nil, errActiveBookingExists
		}
	}

	now := time.Now().UTC()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.BookingTime.IsZero() {
		b.BookingTime = now
	}
	b.CreatedAt = now
	b.UpdatedAt = now

	stored := b
	r.bookings[b.ID] = &stored
	if b.Status.Active() {
		r.activeBySlot[b.SlotID] = b.ID
	}

	out := stored
	return &out, nil
}

func (r *MemoryRepository) bookingDetail(b Booking) BookingDetail {
	detail := BookingDetail{Booking: b}
	if entry, ok := r.loadSlot(b.SlotID); ok {
		slot := r.slotDetail(entry)
		detail.SlotDate = slot.SlotDate
		detail.SlotTime = slot.SlotTime
		detail.DurationMinutes = slot.DurationMinutes
		detail.DoctorName = slot.DoctorName
		detail.Specialization = slot.Specialization
	}
	return detail
}

func (r *MemoryRepository) GetBookingByID(ctx context.Context, id uuid.UUID) (*BookingDetail, error) {
	r.bookingsMu.RLock()
	b, ok := r.bookings[id]
	var snapshot Booking
	if ok {
		snapshot = *b
	}
	r.bookingsMu.RUnlock()

	if !ok {
		return nil, ErrBookingNotFound
	}
	detail := r.bookingDetail(snapshot)
	return &detail, nil
}

func (r *MemoryRepository) ListBookings(ctx context.Context, f BookingFilter) ([]BookingDetail, error) {
	r.bookingsMu.RLock()
	matched := make([]Booking, 0, len(r.bookings))
	for _, b := range r.bookings {
		if f.Status != nil && b.Status != *f.Status {
			continue
		}
		if f.PatientEmail != "" && !strings.EqualFold(b.PatientEmail, f.PatientEmail) {
			continue
		}
		matched = append(matched, *b)
	}
	r.bookingsMu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].BookingTime.After(matched[j].BookingTime) })

	bookings := make([]BookingDetail, 0, len(matched))
	for _, b := range matched {
		bookings = append(bookings, r.bookingDetail(b))
	}
	return bookings, nil
}

func (r *MemoryRepository) TransitionBooking(ctx context.Context, id uuid.UUID, from, to BookingStatus, reason *string) (*Booking, error) {
	if !from.CanTransitionTo(to) {
		return nil, ErrInvalidTransition
	}

	r.bookingsMu.Lock()
	defer r.bookingsMu.Unlock()

	b, ok := r.bookings[id]
	if !ok || b.Status != from {
		return nil, ErrBookingNotFound
	}

	if err := b.transition(to, time.Now().UTC(), reason); err != nil {
		return nil, err
	}

	if from.Active() && !to.Active() && r.activeBySlot[b.SlotID] == b.ID {
		delete(r.activeBySlot, b.SlotID)
	}

	out := *b
	return &out, nil
}

func (r *MemoryRepository) CountBookingsByStatus(ctx context.Context) (map[BookingStatus]int64, error) {
	r.bookingsMu.RLock()
	defer r.bookingsMu.RUnlock()

	counts := make(map[BookingStatus]int64, len(AllStatuses))
	for _, b := range r.bookings {
		counts[b.Status]++
	}
	return counts, nil
}

func (r *MemoryRepository) FindAvailabilityDrift(ctx context.Context, updatedBefore time.Time) ([]uuid.UUID, error) {
	r.bookingsMu.RLock()
	defer r.bookingsMu.RUnlock()

	var ids []uuid.UUID
	r.slots.Range(func(k, v any) bool {
		entry := v.(*memSlot)
		if entry.updatedAt.Load() >= updatedBefore.UnixNano() {
			return true
		}
		_, held := r.activeBySlot[entry.slot.ID]
		if entry.available.Load() == held {
			ids = append(ids, entry.slot.ID)
		}
		return true
	})
	return ids, nil
}

func (r *MemoryRepository) ReconcileSlot(ctx context.Context, id uuid.UUID) (bool, bool, error) {
	entry, ok := r.loadSlot(id)
	if !ok {
		return false, false, ErrSlotNotFound
	}

	r.bookingsMu.RLock()
	defer r.bookingsMu.RUnlock()

	_, held := r.activeBySlot[id]
	available := !held
	current := entry.available.Load()
	if current == available {
		return false, available, nil
	}
	if time.Since(time.Unix(0, entry.updatedAt.Load())) < reconcileSettleTime {
		return false, current, nil
	}
	if !entry.available.CompareAndSwap(current, available) {
		return false, entry.available.Load(), nil
	}
	entry.touch()
	return true, available, nil
}

func (r *MemoryRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	r.eventsMu.Lock()
	defer r.eventsMu.Unlock()

	ev.ID = int64(len(r.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded booking events.
func (r *MemoryRepository) Events() []EventLog {
	r.eventsMu.Lock()
	defer r.eventsMu.Unlock()

	out := make([]EventLog, len(r.events))
	copy(out, r.events)
	return out
}
