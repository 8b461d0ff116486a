// File: internal/infra/redis/lock.go
package redis

import (
	"context"
	"time"

	"sms-agent/internal/domain"
	"sms-agent/internal/domain/ports/adapter"
	"sms-agent/internal/infra/metrics"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var _ adapter.Locker = (*RedisLocker)(nil)

// RedisLocker is a single-instance SET NX lock with a token-checked release.
type RedisLocker struct {
	cli   *redis.Client
	scope string
	tries int
	wait  time.Duration
}

// NewLocker returns a locker whose acquisitions are counted under scope.
func NewLocker(c *Client, scope string) *RedisLocker {
	return &RedisLocker{cli: c.cli, scope: scope, tries: 3, wait: 50 * time.Millisecond}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	var lastErr error
	for i := 0; i < l.tries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(l.wait): // wait before retrying
			}
		}
		ok, err := l.cli.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			metrics.IncLockAcquire(l.scope, "acquired")
			return token, nil
		}
		lastErr = nil
	}
	if lastErr != nil {
		metrics.IncLockAcquire(l.scope, "error")
		return "", lastErr
	}
	metrics.IncLockAcquire(l.scope, "held")
	return "", domain.ErrLockHeld
}

var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	_, err := luaUnlock.Run(ctx, l.cli, []string{key}, token).Result()
	return err
}
