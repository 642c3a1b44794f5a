package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// extendScript keeps the later of the stored and requested expiries.
var extendScript = redis.NewScript(`
local cur = redis.call("PTTL", KEYS[1])
local ttl = tonumber(ARGV[2])
if cur < ttl then
  redis.call("SET", KEYS[1], ARGV[1], "PX", ttl)
  return 1
end
return 0
`)

// RedisRegistry is a Registry shared across instances through Redis key
// expiry.
type RedisRegistry struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisRegistry returns a registry storing entries under prefix
// (default "rv").
func NewRedisRegistry(client redis.UniversalClient, prefix string, now func() time.Time) *RedisRegistry {
	if prefix == "" {
		prefix = "rv"
	}
	if now == nil {
		now = time.Now
	}
	return &RedisRegistry{redis: client, prefix: prefix, now: now}
}

func (r *RedisRegistry) key(id string) string {
	return r.prefix + ":" + id
}

func (r *RedisRegistry) Add(ctx context.Context, tokenID string, reason Reason, expiresAt time.Time) error {
	ttl := expiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	if err := extendScript.Run(ctx, r.redis, []string{r.key(tokenID)}, string(reason), ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *RedisRegistry) Contains(ctx context.Context, tokenID string) (bool, error) {
	return r.ContainsAny(ctx, tokenID)
}

func (r *RedisRegistry) ContainsAny(ctx context.Context, ids ...string) (bool, error) {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			keys = append(keys, r.key(id))
		}
	}
	if len(keys) == 0 {
		return false, nil
	}

	// One EXISTS per key: a token id and its family key hash to different
	// cluster slots.
	cmds := make([]*redis.IntCmd, len(keys))
	_, err := r.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = pipe.Exists(ctx, k)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	for _, cmd := range cmds {
		if cmd.Val() > 0 {
			return true, nil
		}
	}
	return false, nil
}

// SweepExpired is a no-op; Redis expires entries itself.
func (r *RedisRegistry) SweepExpired(context.Context) (int, error) {
	return 0, nil
}

// Reason returns the stored reason for tokenID, or "" when absent.
func (r *RedisRegistry) Reason(ctx context.Context, tokenID string) (Reason, error) {
	v, err := r.redis.Get(ctx, r.key(tokenID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return Reason(v), nil
}
