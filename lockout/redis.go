package lockout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/rentAuth/internal"
)

const (
	failureStatusWarning int64 = 1
	failureStatusLocked  int64 = 2
)

// Failures live in a sorted set scored by unix milliseconds; the lock key
// holds the unlock instant and expires with it.
var recordFailureLua = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local threshold = tonumber(ARGV[3])
local lockMs = tonumber(ARGV[4])

local lockedUntil = tonumber(redis.call("GET", KEYS[2]) or "0")
if lockedUntil > now then
  return {2, 0, lockedUntil}
end

redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
redis.call("ZADD", KEYS[1], now, ARGV[5])
local count = redis.call("ZCARD", KEYS[1])
if count >= threshold then
  redis.call("DEL", KEYS[1])
  redis.call("SET", KEYS[2], now + lockMs, "PX", lockMs)
  return {2, count, now + lockMs}
end
redis.call("PEXPIRE", KEYS[1], window)
return {1, count, 0}
`)

// RedisGuard is a Guard shared across instances.
type RedisGuard struct {
	redis  redis.UniversalClient
	config Config
	prefix string
	now    func() time.Time
}

// NewRedisGuard validates cfg and returns a guard storing keys under prefix
// (default "lg").
func NewRedisGuard(client redis.UniversalClient, cfg Config, prefix string, now func() time.Time) (*RedisGuard, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "lg"
	}
	if now == nil {
		now = time.Now
	}
	return &RedisGuard{redis: client, config: cfg, prefix: prefix, now: now}, nil
}

// Both keys of one guard key carry it as a hash tag so the failure script
// stays in a single cluster slot.
func (g *RedisGuard) failuresKey(key string) string { return g.prefix + ":{" + key + "}:f" }
func (g *RedisGuard) lockKey(key string) string     { return g.prefix + ":{" + key + "}:l" }

func (g *RedisGuard) CheckLocked(ctx context.Context, key string) (Status, error) {
	raw, err := g.redis.Get(ctx, g.lockKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return Status{}, fmt.Errorf("%w: corrupt lock value %q", ErrUnavailable, raw)
	}
	now := g.now()
	until := time.UnixMilli(ms)
	if !until.After(now) {
		return Status{}, nil
	}
	return lockedStatus(until, now), nil
}

func (g *RedisGuard) RecordFailure(ctx context.Context, key string) (GuardState, error) {
	member, err := internal.NewID(nil)
	if err != nil {
		return GuardState{}, err
	}
	now := g.now()

	parts, err := recordFailureLua.Run(
		ctx,
		g.redis,
		[]string{g.failuresKey(key), g.lockKey(key)},
		now.UnixMilli(),
		g.config.Window.Milliseconds(),
		g.config.Threshold,
		g.config.LockDuration.Milliseconds(),
		member,
	).Int64Slice()
	if err != nil {
		return GuardState{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(parts) != 3 {
		return GuardState{}, fmt.Errorf("%w: invalid failure script response", ErrUnavailable)
	}

	switch parts[0] {
	case failureStatusLocked:
		until := time.UnixMilli(parts[2])
		return GuardState{
			State:       StateLocked,
			Failures:    int(parts[1]),
			LockedUntil: until,
			RetryAfter:  until.Sub(now),
		}, nil
	case failureStatusWarning:
		return GuardState{State: StateWarning, Failures: int(parts[1])}, nil
	default:
		return GuardState{}, fmt.Errorf("%w: unknown failure status %d", ErrUnavailable, parts[0])
	}
}

func (g *RedisGuard) RecordSuccess(ctx context.Context, key string) error {
	if err := g.redis.Del(ctx, g.failuresKey(key), g.lockKey(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
