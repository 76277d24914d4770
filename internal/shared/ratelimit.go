package shared

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// LoginThrottle counts failed login attempts per identifier+address in Redis
// and refuses further attempts once the limit is reached inside the window.
type LoginThrottle struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewLoginThrottle constructs a LoginThrottle. A nil client or non-positive
// limit disables throttling.
func NewLoginThrottle(client *redis.Client, limit int, window time.Duration) *LoginThrottle {
	return &LoginThrottle{client: client, limit: limit, window: window}
}

// Allow reports whether another attempt is permitted.
func (t *LoginThrottle) Allow(ctx context.Context, identifier, addr string) bool {
	if t == nil || t.client == nil || t.limit <= 0 {
		return true
	}
	count, err := t.client.Get(ctx, t.key(identifier, addr)).Int()
	if err != nil {
		// fail open on redis errors
		return true
	}
	return count < t.limit
}

// RecordFailure bumps the failure counter and refreshes the window.
func (t *LoginThrottle) RecordFailure(ctx context.Context, identifier, addr string) {
	if t == nil || t.client == nil || t.limit <= 0 {
		return
	}
	key := t.key(identifier, addr)
	pipe := t.client.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, t.window)
	_, _ = pipe.Exec(ctx)
}

// Reset clears the counter after a successful login.
func (t *LoginThrottle) Reset(ctx context.Context, identifier, addr string) {
	if t == nil || t.client == nil {
		return
	}
	_ = t.client.Del(ctx, t.key(identifier, addr)).Err()
}

func (t *LoginThrottle) key(identifier, addr string) string {
	return "login:fail:" + strings.ToLower(identifier) + ":" + addr
}
