package appointment

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedDoctor(t *testing.T, repo Repository, email string) *Doctor {
	t.Helper()
	d, err := repo.CreateDoctor(context.Background(), Doctor{
		Name:           "Dr. " + email,
		Specialization: "Cardiology",
		Email:          email,
	})
	require.NoError(t, err)
	return d
}

func seedSlots(t *testing.T, repo Repository, doctorID uuid.UUID, times ...TimeOfDay) []AppointmentSlot {
	t.Helper()
	specs := make([]SlotSpec, len(times))
	for i, tod := range times {
		specs[i] = SlotSpec{DoctorID: doctorID, SlotDate: testDate, SlotTime: tod, DurationMinutes: 30}
	}
	slots, err := repo.InsertSlots(context.Background(), specs)
	require.NoError(t, err)
	return slots
}

var testDate = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func TestMemoryRepository_InsertSlotsIsAtomic(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	d := seedDoctor(t, repo, "a@clinic.test")

	seedSlots(t, repo, d.ID, NewTimeOfDay(10, 0))

	_, err := repo.InsertSlots(ctx, []SlotSpec{
		{DoctorID: d.ID, SlotDate: testDate, SlotTime: NewTimeOfDay(9, 0), DurationMinutes: 30},
		{DoctorID: d.ID, SlotDate: testDate, SlotTime: NewTimeOfDay(10, 0), DurationMinutes: 30},
	})

	var dup *DuplicateSlotError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, []TimeOfDay{NewTimeOfDay(10, 0)}, dup.Times)

	slots, err := repo.ListAvailableSlots(ctx, SlotFilter{DoctorID: &d.ID})
	require.NoError(t, err)
	assert.Len(t, slots, 1, "the colliding batch must leave nothing behind")
}

func TestMemoryRepository_InsertSlotsRejectsRepeatsInBatch(t *testing.T) {
	repo := NewMemoryRepository()
	d := seedDoctor(t, repo, "a@clinic.test")

	_, err := repo.InsertSlots(context.Background(), []SlotSpec{
		{DoctorID: d.ID, SlotDate: testDate, SlotTime: NewTimeOfDay(9, 0), DurationMinutes: 30},
		{DoctorID: d.ID, SlotDate: testDate, SlotTime: NewTimeOfDay(9, 0), DurationMinutes: 30},
	})
	assert.ErrorIs(t, err, ErrDuplicateSlot)
}

func TestMemoryRepository_InsertSlotsUnknownDoctor(t *testing.T) {
	repo := NewMemoryRepository()
	_, err := repo.InsertSlots(context.Background(), []SlotSpec{
		{DoctorID: uuid.New(), SlotDate: testDate, SlotTime: NewTimeOfDay(9, 0), DurationMinutes: 30},
	})
	assert.ErrorIs(t, err, ErrDoctorNotFound)
}

func TestMemoryRepository_ClaimSlotExactlyOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	d := seedDoctor(t, repo, "a@clinic.test")
	slot := seedSlots(t, repo, d.ID, NewTimeOfDay(9, 0))[0]

	const workers = 64
	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.ClaimSlot(ctx, slot.ID)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, wins.Load())

	ok, err := repo.ClaimSlot(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryRepository_ListAvailableSlotsFilters(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	cardio := seedDoctor(t, repo, "a@clinic.test")
	derm, err := repo.CreateDoctor(ctx, Doctor{Name: "Dr. Skin", Specialization: "Dermatology", Email: "b@clinic.test"})
	require.NoError(t, err)

	cardioSlots := seedSlots(t, repo, cardio.ID, NewTimeOfDay(10, 0), NewTimeOfDay(9, 0))
	seedSlots(t, repo, derm.ID, NewTimeOfDay(9, 0))

	claimed, err := repo.ClaimSlot(ctx, cardioSlots[0].ID)
	require.NoError(t, err)
	require.True(t, claimed)

	all, err := repo.ListAvailableSlots(ctx, SlotFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, s := range all {
		assert.True(t, s.IsAvailable)
		assert.Equal(t, NewTimeOfDay(9, 0), s.SlotTime)
	}

	bySpec, err := repo.ListAvailableSlots(ctx, SlotFilter{Specialization: "dermatology"})
	require.NoError(t, err)
	require.Len(t, bySpec, 1)
	assert.Equal(t, "Dr. Skin", bySpec[0].DoctorName)

	other := testDate.AddDate(0, 0, 1)
	byDate, err := repo.ListAvailableSlots(ctx, SlotFilter{Date: &other})
	require.NoError(t, err)
	assert.Empty(t, byDate)
}

func TestMemoryRepository_OneActiveBookingPerSlot(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	d := seedDoctor(t, repo, "a@clinic.test")
	slot := seedSlots(t, repo, d.ID, NewTimeOfDay(9, 0))[0]

	first, err := repo.InsertBooking(ctx, Booking{SlotID: slot.ID, PatientName: "A", PatientEmail: "a@x.io", Status: StatusPending})
	require.NoError(t, err)

	_, err = repo.InsertBooking(ctx, Booking{SlotID: slot.ID, PatientName: "B", PatientEmail: "b@x.io", Status: StatusPending})
	assert.ErrorIs(t, err, errActiveBookingExists)

	_, err = repo.InsertBooking(ctx, Booking{SlotID: slot.ID, PatientName: "B", PatientEmail: "b@x.io", Status: StatusFailed})
	assert.NoError(t, err, "inactive bookings never collide")

	_, err = repo.TransitionBooking(ctx, first.ID, StatusPending, StatusFailed, nil)
	require.NoError(t, err)

	_, err = repo.InsertBooking(ctx, Booking{SlotID: slot.ID, PatientName: "C", PatientEmail: "c@x.io", Status: StatusPending})
	assert.NoError(t, err)
}

func TestMemoryRepository_TransitionBookingRequiresFromStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	d := seedDoctor(t, repo, "a@clinic.test")
	slot := seedSlots(t, repo, d.ID, NewTimeOfDay(9, 0))[0]

	b, err := repo.InsertBooking(ctx, Booking{SlotID: slot.ID, PatientName: "A", PatientEmail: "a@x.io", Status: StatusPending})
	require.NoError(t, err)

	_, err = repo.TransitionBooking(ctx, b.ID, StatusConfirmed, StatusCancelled, nil)
	assert.ErrorIs(t, err, ErrBookingNotFound)

	_, err = repo.TransitionBooking(ctx, b.ID, StatusPending, StatusCancelled, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	confirmed, err := repo.TransitionBooking(ctx, b.ID, StatusPending, StatusConfirmed, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, confirmed.Status)
	assert.NotNil(t, confirmed.ConfirmedAt)
}

func TestMemoryRepository_DeleteRules(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	d := seedDoctor(t, repo, "a@clinic.test")
	slots := seedSlots(t, repo, d.ID, NewTimeOfDay(9, 0), NewTimeOfDay(9, 30))

	assert.ErrorIs(t, repo.DeleteDoctor(ctx, d.ID), ErrDoctorHasSlots)

	_, err := repo.InsertBooking(ctx, Booking{SlotID: slots[0].ID, PatientName: "A", PatientEmail: "a@x.io", Status: StatusFailed})
	require.NoError(t, err)
	assert.ErrorIs(t, repo.DeleteSlot(ctx, slots[0].ID), ErrSlotInUse)

	require.NoError(t, repo.DeleteSlot(ctx, slots[1].ID))
	assert.ErrorIs(t, repo.DeleteSlot(ctx, slots[1].ID), ErrSlotNotFound)

	// the freed start time can be reused
	seedSlots(t, repo, d.ID, NewTimeOfDay(9, 30))
}

func TestMemoryRepository_DeleteSlotDuringClaim(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	d := seedDoctor(t, repo, "a@clinic.test")
	slot := seedSlots(t, repo, d.ID, NewTimeOfDay(9, 0))[0]

	// claimed, booking not yet written
	ok, err := repo.ClaimSlot(ctx, slot.ID)
	require.NoError(t, err)
	require.True(t, ok)

	assert.ErrorIs(t, repo.DeleteSlot(ctx, slot.ID), ErrSlotInUse)

	b, err := repo.InsertBooking(ctx, Booking{SlotID: slot.ID, PatientName: "A", PatientEmail: "a@x.io", Status: StatusPending})
	require.NoError(t, err)
	assert.Equal(t, slot.ID, b.SlotID)
}

func TestMemoryRepository_DeletedSlotCannotBeClaimed(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	d := seedDoctor(t, repo, "a@clinic.test")
	slot := seedSlots(t, repo, d.ID, NewTimeOfDay(9, 0))[0]

	require.NoError(t, repo.DeleteSlot(ctx, slot.ID))

	ok, err := repo.ClaimSlot(ctx, slot.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryRepository_DoctorEmailUnique(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	seedDoctor(t, repo, "a@clinic.test")
	other := seedDoctor(t, repo, "b@clinic.test")

	_, err := repo.CreateDoctor(ctx, Doctor{Name: "X", Specialization: "Y", Email: "A@clinic.test"})
	assert.ErrorIs(t, err, ErrDuplicateDoctor)

	email := "a@clinic.test"
	_, err = repo.UpdateDoctor(ctx, other.ID, DoctorUpdate{Email: &email})
	assert.ErrorIs(t, err, ErrDuplicateDoctor)
}

func TestMemoryRepository_ReconcileSlot(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	d := seedDoctor(t, repo, "a@clinic.test")
	slot := seedSlots(t, repo, d.ID, NewTimeOfDay(9, 0))[0]

	// claimed but no ledger row ever landed
	ok, err := repo.ClaimSlot(ctx, slot.ID)
	require.NoError(t, err)
	require.True(t, ok)

	changed, _, err := repo.ReconcileSlot(ctx, slot.ID)
	require.NoError(t, err)
	assert.False(t, changed, "recently touched slots are left alone")

	entry, _ := repo.loadSlot(slot.ID)
	entry.updatedAt.Store(time.Now().Add(-time.Minute).UnixNano())

	ids, err := repo.FindAvailabilityDrift(ctx, time.Now().Add(-30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{slot.ID}, ids)

	changed, available, err := repo.ReconcileSlot(ctx, slot.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, available)

	ids, err = repo.FindAvailabilityDrift(ctx, time.Now())
	require.NoError(t, err)
	assert.Empty(t, ids)
}
