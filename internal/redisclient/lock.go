package redisclient

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrLockTimeout is returned when the lock could not be acquired within the
// wait budget. Callers treat it as non-fatal and proceed best-effort: a
// reserve without the warm-up guarantee fails clean with a missing counter
// rather than corrupting anything.
var ErrLockTimeout = errors.New("redisclient: lock wait timed out")

const lockPollInterval = 50 * time.Millisecond

// unlockScript releases the lock only while it still holds the caller's
// token. A holder whose work outlived the lock TTL must not delete the
// token a successor has since acquired.
var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// TryLock attempts to take the mutual-exclusion token for key. The token
// self-expires after ttl so a crashed holder cannot wedge the key.
func (c *Client) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, string, error) {
	token := uuid.New().String()
	ok, err := c.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, "", err
	}
	return ok, token, nil
}

// Unlock releases the lock held under token. A stale token (expired, or
// the lock was re-acquired by someone else) is a no-op.
func (c *Client) Unlock(ctx context.Context, key, token string) error {
	return unlockScript.Run(ctx, c.rdb, []string{key}, token).Err()
}

// WithLock runs fn while holding the lock for key, polling up to wait for
// acquisition. Exactly one concurrent caller per key runs fn; the rest
// block here and find the cache warm when they get their turn.
func (c *Client) WithLock(ctx context.Context, key string, wait, ttl time.Duration, fn func(ctx context.Context) error) error {
	deadline := time.Now().Add(wait)

	for {
		acquired, token, err := c.TryLock(ctx, key, ttl)
		if err != nil {
			return err
		}
		if acquired {
			defer c.Unlock(ctx, key, token)
			return fn(ctx)
		}

		if time.Now().After(deadline) {
			return ErrLockTimeout
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}
