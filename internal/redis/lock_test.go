package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T, ttl time.Duration) (*SlotLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSlotLocker(client, ttl), mr
}

func TestWithSlotLock_RunsAndReleases(t *testing.T) {
	locker, mr := newTestLocker(t, 5*time.Second)
	slotID := uuid.New()

	ran := false
	err := locker.WithSlotLock(context.Background(), slotID, func(ctx context.Context) error {
		ran = true
		assert.True(t, mr.Exists(SlotLockKey(slotID)))
		return nil
	})

	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists(SlotLockKey(slotID)))
}

func TestWithSlotLock_HeldByAnother(t *testing.T) {
	locker, mr := newTestLocker(t, 5*time.Second)
	slotID := uuid.New()
	require.NoError(t, mr.Set(SlotLockKey(slotID), "someone-else"))

	err := locker.WithSlotLock(context.Background(), slotID, func(ctx context.Context) error {
		t.Fatal("fn must not run without the lock")
		return nil
	})

	assert.ErrorIs(t, err, ErrLockNotAcquired)
	got, _ := mr.Get(SlotLockKey(slotID))
	assert.Equal(t, "someone-else", got)
}

func TestWithSlotLock_PropagatesFnError(t *testing.T) {
	locker, mr := newTestLocker(t, 5*time.Second)
	slotID := uuid.New()
	boom := errors.New("boom")

	err := locker.WithSlotLock(context.Background(), slotID, func(ctx context.Context) error {
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists(SlotLockKey(slotID)))
}

func TestWithSlotLock_DoesNotReleaseForeignToken(t *testing.T) {
	locker, mr := newTestLocker(t, 5*time.Second)
	slotID := uuid.New()

	err := locker.WithSlotLock(context.Background(), slotID, func(ctx context.Context) error {
		// simulate expiry followed by another holder taking the key
		return mr.Set(SlotLockKey(slotID), "next-holder")
	})

	require.NoError(t, err)
	got, _ := mr.Get(SlotLockKey(slotID))
	assert.Equal(t, "next-holder", got)
}

func TestWithSlotLock_SetsTTL(t *testing.T) {
	locker, mr := newTestLocker(t, 3*time.Second)
	slotID := uuid.New()

	err := locker.WithSlotLock(context.Background(), slotID, func(ctx context.Context) error {
		assert.Equal(t, 3*time.Second, mr.TTL(SlotLockKey(slotID)))
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return nil
	})
	require.NoError(t, err)
}

func TestWithSlotLock_RedisDown(t *testing.T) {
	locker, mr := newTestLocker(t, time.Second)
	mr.Close()

	ran := false
	err := locker.WithSlotLock(context.Background(), uuid.New(), func(ctx context.Context) error {
		ran = true
		return nil
	})

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLockNotAcquired)
	assert.False(t, ran)
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	addr := mr.Addr()

	client, err := Connect(context.Background(), Options{Addr: addr})
	require.NoError(t, err)
	require.NoError(t, client.Close())

	mr.Close()
	_, err = Connect(context.Background(), Options{Addr: addr})
	assert.Error(t, err)
}
