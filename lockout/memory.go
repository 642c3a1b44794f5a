package lockout

import (
	"context"
	"time"

	"github.com/MrEthical07/rentAuth/internal/shard"
)

type record struct {
	failures    []time.Time
	lockedUntil time.Time
}

// MemoryGuard is a process-local Guard. Contention is limited to the
// shard holding a key.
type MemoryGuard struct {
	config  Config
	now     func() time.Time
	records *shard.Map[record]
}

// NewMemoryGuard validates cfg and returns a guard. A nil now uses time.Now.
func NewMemoryGuard(cfg Config, now func() time.Time) (*MemoryGuard, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryGuard{config: cfg, now: now, records: shard.New[record](0)}, nil
}

func (g *MemoryGuard) CheckLocked(_ context.Context, key string) (Status, error) {
	now := g.now()
	var status Status
	g.records.Update(key, func(rec record, ok bool) (record, bool) {
		if !ok {
			return rec, false
		}
		if rec.lockedUntil.After(now) {
			status = lockedStatus(rec.lockedUntil, now)
			return rec, true
		}
		if !rec.lockedUntil.IsZero() {
			return record{}, false
		}
		return rec, true
	})
	return status, nil
}

func (g *MemoryGuard) RecordFailure(_ context.Context, key string) (GuardState, error) {
	now := g.now()
	var state GuardState
	g.records.Update(key, func(rec record, _ bool) (record, bool) {
		if rec.lockedUntil.After(now) {
			state = GuardState{
				State:       StateLocked,
				LockedUntil: rec.lockedUntil,
				RetryAfter:  rec.lockedUntil.Sub(now),
			}
			return rec, true
		}

		cutoff := now.Add(-g.config.Window)
		kept := make([]time.Time, 0, len(rec.failures)+1)
		for _, ts := range rec.failures {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		kept = append(kept, now)

		if len(kept) >= g.config.Threshold {
			until := now.Add(g.config.LockDuration)
			state = GuardState{State: StateLocked, Failures: len(kept), LockedUntil: until, RetryAfter: g.config.LockDuration}
			return record{lockedUntil: until}, true
		}

		state = GuardState{State: StateWarning, Failures: len(kept)}
		return record{failures: kept}, true
	})
	return state, nil
}

func (g *MemoryGuard) RecordSuccess(_ context.Context, key string) error {
	g.records.Delete(key)
	return nil
}

// SweepExpired drops keys whose lock has elapsed and whose failures have
// all left the window.
func (g *MemoryGuard) SweepExpired(_ context.Context) (int, error) {
	now := g.now()
	cutoff := now.Add(-g.config.Window)
	return g.records.DeleteFunc(func(_ string, rec record) bool {
		if rec.lockedUntil.After(now) {
			return false
		}
		for _, ts := range rec.failures {
			if ts.After(cutoff) {
				return false
			}
		}
		return true
	}), nil
}
