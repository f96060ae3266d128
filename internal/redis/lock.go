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
	ErrLockNotAcquired = errors.New("clinician lock not acquired")
)

// Locker serializes the availability/conflict check and the appointment
// insert per clinician, closing the check-then-act race between concurrent
// booking requests against the same clinician's calendar.
type Locker interface {
	WithClinicianLock(ctx context.Context, clinicianID uuid.UUID, fn func(ctx context.Context) error) error
}

type redisClinicianLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClinicianLocker creates a locker that uses a per clinician Redis key
func NewRedisClinicianLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisClinicianLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisClinicianLocker) WithClinicianLock(ctx context.Context, clinicianID uuid.UUID, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lock:clinician:%s", clinicianID.String())
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		// Redis being unreachable must not block bookings. Run the
		// critical section unserialized; the appointments_no_overlap
		// exclusion constraint still rejects conflicting inserts.
		return fn(ctx)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		_ = l.release(ctx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisClinicianLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release clinician lock: %w", err)
	}
	return nil
}
