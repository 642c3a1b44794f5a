package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps Redis failures.
var ErrUnavailable = errors.New("rate: redis unavailable")

// Config holds one fixed window: at most Limit hits per Window.
type Config struct {
	Limit  int
	Window time.Duration
	// Prefix namespaces every counter key.
	Prefix string
}

func (c Config) Validate() error {
	if c.Limit < 1 {
		return fmt.Errorf("rate: limit must be >= 1")
	}
	if c.Window <= 0 {
		return fmt.Errorf("rate: window must be > 0")
	}
	return nil
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed bool
	// Remaining hits in the current window.
	Remaining int
	// RetryAfter is the time until the window resets when !Allowed.
	RetryAfter time.Duration
}

// Limiter counts hits per key in Redis.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

func New(redisClient redis.UniversalClient, cfg Config) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}, nil
}

// Allow records one hit for key and reports whether it fits the window.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	full := l.key(key)

	// Fixed-window semantics: the TTL is set only by the first hit.
	pipe := l.redis.TxPipeline()
	incr := pipe.Incr(ctx, full)
	pipe.ExpireNX(ctx, full, l.config.Window)
	ttl := pipe.PTTL(ctx, full)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	count := incr.Val()
	if count <= int64(l.config.Limit) {
		return Decision{Allowed: true, Remaining: l.config.Limit - int(count)}, nil
	}

	retry := ttl.Val()
	if retry <= 0 {
		retry = l.config.Window
	}
	return Decision{RetryAfter: retry}, nil
}

// Reset clears the counter for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, l.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (l *Limiter) key(key string) string {
	if l.config.Prefix == "" {
		return "rl:" + key
	}
	return l.config.Prefix + ":rl:" + key
}
