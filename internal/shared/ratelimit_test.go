package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func newThrottle(t *testing.T, limit int, window time.Duration) (*LoginThrottle, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewLoginThrottle(client, limit, window), mr
}

func TestThrottleBlocksAfterLimit(t *testing.T) {
	throttle, _ := newThrottle(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.True(t, throttle.Allow(ctx, "user@example.com", "1.2.3.4"))
		throttle.RecordFailure(ctx, "user@example.com", "1.2.3.4")
	}
	assert.False(t, throttle.Allow(ctx, "user@example.com", "1.2.3.4"))

	// Other identifiers and addresses are unaffected.
	assert.True(t, throttle.Allow(ctx, "other@example.com", "1.2.3.4"))
	assert.True(t, throttle.Allow(ctx, "user@example.com", "5.6.7.8"))
}

func TestThrottleResetClearsCounter(t *testing.T) {
	throttle, _ := newThrottle(t, 1, time.Minute)
	ctx := context.Background()

	throttle.RecordFailure(ctx, "user@example.com", "1.2.3.4")
	assert.False(t, throttle.Allow(ctx, "user@example.com", "1.2.3.4"))

	throttle.Reset(ctx, "user@example.com", "1.2.3.4")
	assert.True(t, throttle.Allow(ctx, "user@example.com", "1.2.3.4"))
}

func TestThrottleWindowExpires(t *testing.T) {
	throttle, mr := newThrottle(t, 1, time.Minute)
	ctx := context.Background()

	throttle.RecordFailure(ctx, "user@example.com", "1.2.3.4")
	assert.False(t, throttle.Allow(ctx, "user@example.com", "1.2.3.4"))

	mr.FastForward(2 * time.Minute)
	assert.True(t, throttle.Allow(ctx, "user@example.com", "1.2.3.4"))
}

func TestThrottleDisabled(t *testing.T) {
	ctx := context.Background()

	var nilThrottle *LoginThrottle
	assert.True(t, nilThrottle.Allow(ctx, "user@example.com", "1.2.3.4"))
	nilThrottle.RecordFailure(ctx, "user@example.com", "1.2.3.4")
	nilThrottle.Reset(ctx, "user@example.com", "1.2.3.4")

	throttle, _ := newThrottle(t, 0, time.Minute)
	throttle.RecordFailure(ctx, "user@example.com", "1.2.3.4")
	assert.True(t, throttle.Allow(ctx, "user@example.com", "1.2.3.4"))
}
