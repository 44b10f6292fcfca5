package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("lock not acquired")
)

const lockPrefix = "lock:"

// KeyLocker is a distributed keyed mutex on top of SET NX. A holder that dies
// loses the lock after ttl. Acquisition retries with backoff for up to wait.
type KeyLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

func NewKeyLocker(client *redis.Client, ttl, wait time.Duration) *KeyLocker {
	return &KeyLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
	}
}

// WithLock runs fn while holding key. fn's error is returned unchanged.
func (l *KeyLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	lockKey := lockPrefix + key
	token := uuid.NewString()

	if err := l.acquire(ctx, lockKey, token); err != nil {
		return err
	}

	defer func() {
		// release even when the caller has gone away
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = l.release(relCtx, lockKey, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *KeyLocker) acquire(ctx context.Context, key, token string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	b.MaxElapsedTime = l.wait

	err := backoff.Retry(func() error {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("acquire %s: %w", key, err))
		}
		if !ok {
			return ErrLockNotAcquired
		}
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		if errors.Is(err, ErrLockNotAcquired) {
			return fmt.Errorf("%w: %s held for more than %s", ErrLockNotAcquired, key, l.wait)
		}
		return err
	}
	return nil
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *KeyLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}
