package ratelimit

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryFixedWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	l := NewMemoryWithClock(3, time.Minute, func() time.Time { return now })

	for i := 1; i <= 3; i++ {
		res, err := l.Check(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i)
		assert.Equal(t, 3-i, res.Remaining)
		assert.Equal(t, time.Minute, res.ResetIn)
	}

	res, _ := l.Check(ctx, "1.2.3.4")
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)

	// other clients are unaffected
	res, _ = l.Check(ctx, "5.6.7.8")
	assert.True(t, res.Allowed)

	now = now.Add(30 * time.Second)
	res, _ = l.Check(ctx, "1.2.3.4")
	assert.False(t, res.Allowed)
	assert.Equal(t, 30*time.Second, res.ResetIn)

	// window resets exactly at resetAt and the count restarts at 1
	now = now.Add(30 * time.Second)
	res, _ = l.Check(ctx, "1.2.3.4")
	assert.True(t, res.Allowed)
	assert.Equal(t, 2, res.Remaining)
	assert.Equal(t, 2, l.Clients())
}

func TestPropertyMemoryAllowsExactlyLimit(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("first N calls pass, N+1 fails, next window passes", prop.ForAll(
		func(limit int, extra int) bool {
			ctx := context.Background()
			now := time.Unix(1715000000, 0)
			l := NewMemoryWithClock(limit, time.Second, func() time.Time { return now })

			for i := 0; i < limit; i++ {
				if res, _ := l.Check(ctx, "c"); !res.Allowed {
					return false
				}
			}
			for i := 0; i <= extra; i++ {
				if res, _ := l.Check(ctx, "c"); res.Allowed {
					return false
				}
			}
			now = now.Add(time.Second)
			res, _ := l.Check(ctx, "c")
			return res.Allowed && res.Remaining == limit-1
		},
		gen.IntRange(1, 200),
		gen.IntRange(0, 20),
	))

	properties.TestingRun(t)
}

func TestClientID(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/ves/rate", nil)
	r.RemoteAddr = "10.0.0.9:51234"
	assert.Equal(t, "10.0.0.9", ClientID(r, true))

	r.Header.Set("X-Real-IP", "172.16.0.1")
	assert.Equal(t, "172.16.0.1", ClientID(r, true))

	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", ClientID(r, true))
}

func TestClientIDIgnoresForwardingHeadersByDefault(t *testing.T) {
	l := NewMemory(2, time.Minute)
	allowed := 0
	for i := range 10 {
		r := httptest.NewRequest("GET", "/api/ves/rate", nil)
		r.RemoteAddr = "10.0.0.9:51234"
		r.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		r.Header.Set("X-Real-IP", fmt.Sprintf("198.51.100.%d", i))
		if got := ClientID(r, false); got != "10.0.0.9" {
			t.Fatalf("伪造的转发头不应被采信, got %s", got)
		}
		res, err := l.Check(context.Background(), ClientID(r, false))
		require.NoError(t, err)
		if res.Allowed {
			allowed++
		}
	}
	assert.Equal(t, 2, allowed)
	assert.Equal(t, 1, l.Clients())
}

func TestRedisKeyNamespace(t *testing.T) {
	l := NewRedis(nil, "pricehub:", 1, time.Minute, zerolog.Nop())
	assert.Equal(t, "pricehub:ratelimit:203.0.113.7", l.key("203.0.113.7"))
}

func TestRedisLimiter(t *testing.T) {
	addr := os.Getenv("PRICEHUB_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PRICEHUB_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	l := NewRedis(client, "pricehub:test:", 2, time.Minute, zerolog.Nop())
	id := uuid.NewString()

	res, err := l.Check(ctx, id)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	res, _ = l.Check(ctx, id)
	assert.True(t, res.Allowed)
	res, _ = l.Check(ctx, id)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.ResetIn, time.Duration(0))
}
