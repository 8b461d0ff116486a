package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// RateLimiter is a fixed-window counter. Each window gets its own key, so a
// lost EXPIRE can never pin a caller at the limit.
type RateLimiter struct {
	client RedisClient
	now    func() time.Time
}

func NewRateLimiter(client RedisClient) *RateLimiter {
	return &RateLimiter{client: client, now: time.Now}
}

// Allow counts one hit for key in the current window and reports whether the
// caller is still within limit.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if window <= 0 || limit <= 0 {
		return false, fmt.Errorf("rate limiter: invalid limit %d per %s", limit, window)
	}
	bucket := windowKey(key, r.now(), window)

	count, err := r.client.Incr(ctx, bucket)
	if err != nil {
		return false, fmt.Errorf("rate limiter incr: %w", err)
	}
	if count == 1 {
		if err := r.client.Expire(ctx, bucket, 2*window); err != nil {
			return false, fmt.Errorf("rate limiter expire: %w", err)
		}
	}
	return count <= int64(limit), nil
}

func windowKey(key string, now time.Time, window time.Duration) string {
	return key + ":" + strconv.FormatInt(now.UnixNano()/int64(window), 10)
}

// AdminExtractKey scopes the on-demand context extraction limit to one
// conversation.
func AdminExtractKey(conversationID string) string {
	return "rate_limit:user_context:" + conversationID
}
