//go:build integration

package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"sms-agent/internal/config"
	"sms-agent/internal/domain"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = "localhost:6379"
	}
	c, err := NewClient(context.Background(), &config.RedisConfig{URL: url})
	if err != nil {
		t.Skipf("redis not reachable at %s: %v", url, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRedisLocker_Integration(t *testing.T) {
	ctx := context.Background()
	c := testClient(t)
	l := NewLocker(c, "test")
	key := "conversation:it-" + time.Now().Format("150405.000000")

	token, err := l.TryLock(ctx, key, 5*time.Second)
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}
	if _, err := l.TryLock(ctx, key, 5*time.Second); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}
	// a wrong token must not release
	if err := l.Unlock(ctx, key, "not-the-token"); err != nil {
		t.Fatalf("unlock wrong token: %v", err)
	}
	if _, err := l.TryLock(ctx, key, 5*time.Second); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("lock should still be held, got %v", err)
	}
	if err := l.Unlock(ctx, key, token); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	token2, err := l.TryLock(ctx, key, 5*time.Second)
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	_ = l.Unlock(ctx, key, token2)
}
