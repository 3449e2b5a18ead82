package breaker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Redis keeps breaker state in a hash per key so several splitter processes
// sharing one API key back off together.
type Redis struct {
	client *redis.Client
	opts   Options
	prefix string
}

func NewRedis(client *redis.Client, opts Options) *Redis {
	return &Redis{client: client, opts: opts.withDefaults(), prefix: "cb"}
}

func (r *Redis) key(k string) string { return fmt.Sprintf("%s:%s", r.prefix, k) }

func (r *Redis) Allow(ctx context.Context, key string) bool {
	k := r.key(key)
	state, err := r.client.HGet(ctx, k, "state").Result()
	if err != nil || state != "open" {
		// no record or unreachable redis: closed
		return true
	}

	retryAtStr, _ := r.client.HGet(ctx, k, "retry_at").Result()
	retryAt, _ := strconv.ParseInt(retryAtStr, 10, 64)
	if time.Now().Unix() >= retryAt {
		r.client.HSet(ctx, k, "state", "half_open")
		log.Info().Str("key", key).Msg("circuit breaker moved to HALF-OPEN")
		return true
	}
	return false
}

func (r *Redis) RetryAt(ctx context.Context, key string) time.Time {
	vals, err := r.client.HMGet(ctx, r.key(key), "state", "retry_at").Result()
	if err != nil || len(vals) != 2 {
		return time.Time{}
	}
	if state, _ := vals[0].(string); state != "open" {
		return time.Time{}
	}
	s, _ := vals[1].(string)
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	at := time.Unix(sec, 0)
	if !time.Now().Before(at) {
		return time.Time{}
	}
	return at
}

func (r *Redis) Success(ctx context.Context, key string) {
	k := r.key(key)
	state, _ := r.client.HGet(ctx, k, "state").Result()
	r.client.Del(ctx, k)
	if state == "open" || state == "half_open" {
		log.Info().Str("key", key).Msg("circuit breaker CLOSED (reset)")
	}
}

func (r *Redis) Failure(ctx context.Context, key string) {
	k := r.key(key)
	failures, err := r.client.HIncrBy(ctx, k, "failures", 1).Result()
	if err != nil {
		log.Debug().Err(err).Str("key", key).Msg("breaker failure not recorded")
		return
	}
	r.client.Expire(ctx, k, 10*time.Minute)
	if int(failures) < r.opts.Threshold {
		return
	}

	cooldown := r.opts.backoff(int(failures))
	retryAt := time.Now().Add(cooldown)
	r.client.HSet(ctx, k, map[string]interface{}{
		"state":     "open",
		"retry_at":  retryAt.Unix(),
		"opened_at": time.Now().Unix(),
	})

	log.Warn().
		Str("key", key).
		Int64("failures", failures).
		Dur("cooldown", cooldown).
		Time("retry_at", retryAt).
		Msg("circuit breaker OPENED")
}
