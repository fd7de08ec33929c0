package appointment

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookingStatus_Transitions(t *testing.T) {
	allowed := map[[2]BookingStatus]bool{
		{StatusPending, StatusConfirmed}:   true,
		{StatusPending, StatusFailed}:      true,
		{StatusConfirmed, StatusCancelled}: true,
	}

	for _, from := range AllStatuses {
		for _, to := range AllStatuses {
			want := allowed[[2]BookingStatus{from, to}]
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestBookingStatus_ActiveAndTerminal(t *testing.T) {
	assert.True(t, StatusPending.Active())
	assert.True(t, StatusConfirmed.Active())
	assert.False(t, StatusFailed.Active())
	assert.False(t, StatusCancelled.Active())

	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusConfirmed.Terminal())
}

func TestParseBookingStatus(t *testing.T) {
	st, err := ParseBookingStatus("CONFIRMED")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, st)

	_, err = ParseBookingStatus("confirmed")
	assert.Equal(t, KindValidation, Classify(err))
}

func TestBooking_Transition(t *testing.T) {
	at := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	b := Booking{Status: StatusPending}
	require.NoError(t, b.transition(StatusConfirmed, at, nil))
	assert.Equal(t, StatusConfirmed, b.Status)
	require.NotNil(t, b.ConfirmedAt)
	assert.Equal(t, at, *b.ConfirmedAt)
	assert.Nil(t, b.FailedAt)

	err := b.transition(StatusFailed, at, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusConfirmed, b.Status)

	reason := FailureSlotUnavailable
	failed := Booking{Status: StatusPending}
	require.NoError(t, failed.transition(StatusFailed, at, &reason))
	require.NotNil(t, failed.FailureReason)
	assert.Equal(t, FailureSlotUnavailable, *failed.FailureReason)
	require.NotNil(t, failed.FailedAt)
	assert.Nil(t, failed.ConfirmedAt)

	err = failed.transition(StatusConfirmed, at, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Contains(t, err.Error(), "FAILED is final")
	assert.Equal(t, StatusFailed, failed.Status)
}

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "09:00", want: "09:00"},
		{in: "23:59", want: "23:59"},
		{in: "14:30:00", want: "14:30"},
		{in: "14:30:15", wantErr: true},
		{in: "24:00", wantErr: true},
		{in: "9am", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeOfDay(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
			assert.True(t, got.Valid())
		})
	}
}

func TestParseRangeEnd(t *testing.T) {
	end, err := ParseRangeEnd("24:00")
	require.NoError(t, err)
	assert.Equal(t, EndOfDay, end)
	assert.False(t, end.Valid(), "midnight closes a range but cannot start a slot")

	end, err = ParseRangeEnd("24:00:00")
	require.NoError(t, err)
	assert.Equal(t, EndOfDay, end)

	end, err = ParseRangeEnd("17:30")
	require.NoError(t, err)
	assert.Equal(t, NewTimeOfDay(17, 30), end)

	_, err = ParseRangeEnd("24:30")
	assert.Error(t, err)
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-03-10")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), d)

	_, err = ParseDate("10/03/2025")
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, ""},
		{&ValidationError{Field: "x", Message: "bad"}, KindValidation},
		{fmt.Errorf("wrap: %w", ErrSlotNotFound), KindNotFound},
		{ErrDoctorNotFound, KindNotFound},
		{fmt.Errorf("%w: %w", ErrInvalidState, ErrBookingNotFound), KindInvalidState},
		{&DuplicateSlotError{Times: []TimeOfDay{NewTimeOfDay(9, 0)}}, KindConflict},
		{ErrDoctorHasSlots, KindConflict},
		{ErrSlotInUse, KindConflict},
		{errors.New("connection reset"), KindInternal},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), "%v", tt.err)
	}
}

func TestDuplicateSlotError_Message(t *testing.T) {
	err := &DuplicateSlotError{
		SlotDate: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		Times:    []TimeOfDay{NewTimeOfDay(9, 0), NewTimeOfDay(9, 30)},
	}
	assert.Contains(t, err.Error(), "2025-03-10 09:00, 09:30")
	assert.ErrorIs(t, err, ErrDuplicateSlot)
}

func TestComputeStats(t *testing.T) {
	stats := ComputeStats(map[BookingStatus]int64{
		StatusConfirmed: 3,
		StatusFailed:    5,
		StatusCancelled: 1,
	})
	assert.Equal(t, BookingStats{Confirmed: 3, Failed: 5, Cancelled: 1, Total: 9}, stats)
	assert.Equal(t, BookingStats{}, ComputeStats(nil))
}
