package lockout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig() Config {
	return Config{Threshold: 5, LockDuration: 10 * time.Minute, Window: time.Minute}
}

type guardFactory func(t *testing.T, cfg Config, now func() time.Time) Guard

func guardFactories() map[string]guardFactory {
	return map[string]guardFactory{
		"memory": func(t *testing.T, cfg Config, now func() time.Time) Guard {
			g, err := NewMemoryGuard(cfg, now)
			if err != nil {
				t.Fatalf("NewMemoryGuard error: %v", err)
			}
			return g
		},
		"redis": func(t *testing.T, cfg Config, now func() time.Time) Guard {
			mr, err := miniredis.Run()
			if err != nil {
				t.Fatalf("miniredis start: %v", err)
			}
			t.Cleanup(mr.Close)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = rdb.Close() })

			g, err := NewRedisGuard(rdb, cfg, "lg", now)
			if err != nil {
				t.Fatalf("NewRedisGuard error: %v", err)
			}
			return g
		},
	}
}

func forEachGuard(t *testing.T, fn func(t *testing.T, g Guard, clock *manualClock)) {
	for name, factory := range guardFactories() {
		t.Run(name, func(t *testing.T) {
			clock := &manualClock{now: time.Unix(1_700_000_000, 0)}
			fn(t, factory(t, testConfig(), clock.Now), clock)
		})
	}
}

func TestGuardLocksAtThreshold(t *testing.T) {
	forEachGuard(t, func(t *testing.T, g Guard, clock *manualClock) {
		ctx := context.Background()
		key := "email:bob@example.com"

		for i := 1; i < 5; i++ {
			st, err := g.RecordFailure(ctx, key)
			if err != nil {
				t.Fatalf("RecordFailure error: %v", err)
			}
			if st.State != StateWarning || st.Failures != i {
				t.Fatalf("failure %d: got %+v", i, st)
			}
			clock.Advance(time.Second)
		}

		status, err := g.CheckLocked(ctx, key)
		if err != nil || status.Locked {
			t.Fatalf("locked before threshold: %+v %v", status, err)
		}

		st, err := g.RecordFailure(ctx, key)
		if err != nil {
			t.Fatalf("RecordFailure error: %v", err)
		}
		if st.State != StateLocked || st.RetryAfter != 10*time.Minute {
			t.Fatalf("expected lock with 10m retry, got %+v", st)
		}

		status, err = g.CheckLocked(ctx, key)
		if err != nil {
			t.Fatalf("CheckLocked error: %v", err)
		}
		if !status.Locked || status.RetryAfter != 10*time.Minute {
			t.Fatalf("expected locked status, got %+v", status)
		}

		clock.Advance(4 * time.Minute)
		status, _ = g.CheckLocked(ctx, key)
		if !status.Locked || status.RetryAfter != 6*time.Minute {
			t.Fatalf("expected 6m remaining, got %+v", status)
		}

		clock.Advance(6 * time.Minute)
		status, _ = g.CheckLocked(ctx, key)
		if status.Locked {
			t.Fatalf("expected clear after lock elapsed, got %+v", status)
		}

		st, _ = g.RecordFailure(ctx, key)
		if st.State != StateWarning || st.Failures != 1 {
			t.Fatalf("expected fresh count after lock, got %+v", st)
		}
	})
}

func TestGuardSlidingWindow(t *testing.T) {
	forEachGuard(t, func(t *testing.T, g Guard, clock *manualClock) {
		ctx := context.Background()
		key := "email:carol@example.com"

		for i := 0; i < 4; i++ {
			if _, err := g.RecordFailure(ctx, key); err != nil {
				t.Fatalf("RecordFailure error: %v", err)
			}
		}

		clock.Advance(61 * time.Second)

		st, err := g.RecordFailure(ctx, key)
		if err != nil {
			t.Fatalf("RecordFailure error: %v", err)
		}
		if st.State != StateWarning || st.Failures != 1 {
			t.Fatalf("stale failures counted: %+v", st)
		}
	})
}

func TestGuardSuccessResets(t *testing.T) {
	forEachGuard(t, func(t *testing.T, g Guard, clock *manualClock) {
		ctx := context.Background()
		key := "email:dave@example.com"

		for i := 0; i < 4; i++ {
			_, _ = g.RecordFailure(ctx, key)
		}
		if err := g.RecordSuccess(ctx, key); err != nil {
			t.Fatalf("RecordSuccess error: %v", err)
		}

		st, _ := g.RecordFailure(ctx, key)
		if st.Failures != 1 {
			t.Fatalf("expected count reset to zero before this failure, got %+v", st)
		}
	})
}

func TestGuardKeysAreIndependent(t *testing.T) {
	forEachGuard(t, func(t *testing.T, g Guard, clock *manualClock) {
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			_, _ = g.RecordFailure(ctx, "email:a@example.com")
		}
		status, _ := g.CheckLocked(ctx, "email:b@example.com")
		if status.Locked {
			t.Fatal("lock leaked across keys")
		}
		status, _ = g.CheckLocked(ctx, "email:a@example.com")
		if !status.Locked {
			t.Fatal("expected a@example.com locked")
		}
	})
}

func TestGuardConcurrentFailuresLockOnce(t *testing.T) {
	forEachGuard(t, func(t *testing.T, g Guard, clock *manualClock) {
		ctx := context.Background()
		key := "ip:10.0.0.1"

		var (
			wg     sync.WaitGroup
			mu     sync.Mutex
			locked int
		)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				st, err := g.RecordFailure(ctx, key)
				if err != nil {
					t.Errorf("RecordFailure error: %v", err)
					return
				}
				if st.State == StateLocked {
					mu.Lock()
					locked++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if locked != 16 {
			t.Fatalf("expected 16 attempts to observe the lock, got %d", locked)
		}
	})
}

func TestMemoryGuardSweep(t *testing.T) {
	clock := &manualClock{now: time.Unix(1_700_000_000, 0)}
	g, err := NewMemoryGuard(testConfig(), clock.Now)
	if err != nil {
		t.Fatalf("NewMemoryGuard error: %v", err)
	}
	ctx := context.Background()

	_, _ = g.RecordFailure(ctx, "a")
	for i := 0; i < 5; i++ {
		_, _ = g.RecordFailure(ctx, "b")
	}

	clock.Advance(2 * time.Minute)
	n, _ := g.SweepExpired(ctx)
	if n != 1 {
		t.Fatalf("expected only the stale warning swept, got %d", n)
	}

	clock.Advance(10 * time.Minute)
	n, _ = g.SweepExpired(ctx)
	if n != 1 {
		t.Fatalf("expected elapsed lock swept, got %d", n)
	}
}

func TestRedisGuardUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	g, err := NewRedisGuard(rdb, testConfig(), "", nil)
	if err != nil {
		t.Fatalf("NewRedisGuard error: %v", err)
	}
	mr.Close()

	if _, err := g.CheckLocked(context.Background(), "k"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, err := g.RecordFailure(context.Background(), "k"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestRedisGuardKeysShareHashTag(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	clock := &manualClock{now: time.Unix(1_700_000_000, 0)}
	g, err := NewRedisGuard(rdb, testConfig(), "lg", clock.Now)
	if err != nil {
		t.Fatalf("NewRedisGuard error: %v", err)
	}
	ctx := context.Background()

	if _, err := g.RecordFailure(ctx, "email:ann@example.com"); err != nil {
		t.Fatalf("RecordFailure error: %v", err)
	}
	if !mr.Exists("lg:{email:ann@example.com}:f") {
		t.Fatalf("failure key missing, have %v", mr.Keys())
	}

	for i := 1; i < testConfig().Threshold; i++ {
		if _, err := g.RecordFailure(ctx, "email:ann@example.com"); err != nil {
			t.Fatalf("RecordFailure error: %v", err)
		}
	}
	if !mr.Exists("lg:{email:ann@example.com}:l") {
		t.Fatalf("lock key missing, have %v", mr.Keys())
	}
	st, err := g.CheckLocked(ctx, "email:ann@example.com")
	if err != nil || !st.Locked {
		t.Fatalf("CheckLocked = %+v, %v", st, err)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (Config{}).Validate(); err == nil {
		t.Fatal("expected zero config to be invalid")
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if StateLocked.String() != "locked" {
		t.Fatalf("unexpected state name %q", StateLocked.String())
	}
}
