package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis stores entries with native key expiry so replicas share one cache.
// Backend failures degrade to misses.
type Redis struct {
	client redis.Cmdable
	prefix string
	logger zerolog.Logger
}

// NewRedis wraps client. prefix namespaces every key.
func NewRedis(client redis.Cmdable, prefix string, logger zerolog.Logger) *Redis {
	return &Redis{
		client: client,
		prefix: prefix,
		logger: logger.With().Str("component", "cache_redis").Logger(),
	}
}

func (r *Redis) key(k string) string {
	return r.prefix + k
}

// Get reads key; redis.Nil and errors both read as a miss.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn().Err(err).Str("key", key).Msg("cache get failed")
		}
		return nil, false
	}
	return raw, true
}

// Set writes key with a PX expiry.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		r.Delete(ctx, key)
		return
	}
	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("cache set failed")
	}
}

// Delete removes key.
func (r *Redis) Delete(ctx context.Context, key string) {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("cache delete failed")
	}
}

var _ Cache = (*Redis)(nil)
