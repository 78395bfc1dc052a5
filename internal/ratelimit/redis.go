package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis shares windows across replicas: INCR opens or extends the count and the key's
// expiry marks the window end.
type Redis struct {
	client redis.Cmdable
	prefix string
	limit  int
	window time.Duration
	logger zerolog.Logger
}

// NewRedis builds a Redis-backed limiter. Keys are prefix + "ratelimit:" + client.
func NewRedis(client redis.Cmdable, prefix string, limit int, w time.Duration, logger zerolog.Logger) *Redis {
	return &Redis{
		client: client,
		prefix: prefix + "ratelimit:",
		limit:  limit,
		window: w,
		logger: logger.With().Str("component", "ratelimit_redis").Logger(),
	}
}

func (r *Redis) key(clientID string) string {
	return r.prefix + clientID
}

// Check fails open: when Redis is unreachable the request is allowed and the error returned.
func (r *Redis) Check(ctx context.Context, clientID string) (Result, error) {
	key := r.key(clientID)

	var incr *redis.IntCmd
	var pttl *redis.DurationCmd
	_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		pttl = p.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		r.logger.Warn().Err(err).Str("client", clientID).Msg("rate limit check failed, allowing")
		return Result{Allowed: true, Limit: r.limit, Remaining: r.limit, ResetIn: r.window}, err
	}

	count := int(incr.Val())
	resetIn := pttl.Val()
	// a fresh key, or one that lost its expiry, starts a new window
	if count == 1 || resetIn < 0 {
		if err := r.client.PExpire(ctx, key, r.window).Err(); err != nil {
			r.logger.Warn().Err(err).Str("client", clientID).Msg("set window expiry failed")
		}
		resetIn = r.window
	}
	return decide(count, r.limit, resetIn), nil
}

var _ Limiter = (*Redis)(nil)
