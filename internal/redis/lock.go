package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("slot lock not acquired")
)

const slotLockPrefix = "booking:claim:slot:"

// Locker serializes booking claims on a single slot across processes.
type Locker interface {
	WithSlotLock(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error
}

type SlotLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewSlotLocker creates a locker that holds one Redis key per slot for at most ttl.
func NewSlotLocker(client redis.UniversalClient, ttl time.Duration) *SlotLocker {
	return &SlotLocker{
		client: client,
		ttl:    ttl,
	}
}

func SlotLockKey(slotID uuid.UUID) string {
	return slotLockPrefix + slotID.String()
}

// WithSlotLock runs fn while holding the slot's lock. fn's context is cut off at the
// lock TTL so the work never outlives the key. ErrLockNotAcquired means another
// holder is active; any other error before fn runs is a Redis failure.
func (l *SlotLocker) WithSlotLock(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error {
	key := SlotLockKey(slotID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire slot lock: %w", err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		_ = l.release(context.WithoutCancel(ctx), key, token)
	}()

	lockCtx, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(lockCtx)
}

// Only the token that set the key may delete it; an expired lock re-acquired by
// someone else is left alone.
var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *SlotLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release slot lock: %w", err)
	}
	return nil
}
