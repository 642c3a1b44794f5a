package lockout

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable wraps backend failures.
var ErrUnavailable = errors.New("lockout backend unavailable")

// State is the position of a key in the guard's state machine.
type State uint8

const (
	// StateClear has no counted failures.
	StateClear State = iota
	// StateWarning has failures below the threshold.
	StateWarning
	// StateLocked rejects attempts until LockedUntil.
	StateLocked
)

func (s State) String() string {
	switch s {
	case StateClear:
		return "clear"
	case StateWarning:
		return "warning"
	case StateLocked:
		return "locked"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Config controls thresholds and timing.
type Config struct {
	Threshold    int
	LockDuration time.Duration
	Window       time.Duration
}

// DefaultConfig locks for 15 minutes after 5 failures within 15 minutes.
func DefaultConfig() Config {
	return Config{Threshold: 5, LockDuration: 15 * time.Minute, Window: 15 * time.Minute}
}

// Validate rejects a configuration that could never lock or never unlock.
func (c Config) Validate() error {
	if c.Threshold < 1 {
		return errors.New("lockout: threshold must be >= 1")
	}
	if c.LockDuration <= 0 {
		return errors.New("lockout: lock duration must be > 0")
	}
	if c.Window <= 0 {
		return errors.New("lockout: failure window must be > 0")
	}
	return nil
}

// GuardState is the result of recording a failure.
type GuardState struct {
	State       State
	Failures    int
	LockedUntil time.Time
	RetryAfter  time.Duration
}

// Status is the result of a lock check.
type Status struct {
	Locked      bool
	LockedUntil time.Time
	RetryAfter  time.Duration
}

// Guard tracks failed attempts per key.
type Guard interface {
	// CheckLocked must be consulted before verifying credentials.
	CheckLocked(ctx context.Context, key string) (Status, error)
	// RecordFailure counts a failed attempt and may lock the key.
	RecordFailure(ctx context.Context, key string) (GuardState, error)
	// RecordSuccess returns the key to StateClear unconditionally.
	RecordSuccess(ctx context.Context, key string) error
}

func lockedStatus(until, now time.Time) Status {
	return Status{Locked: true, LockedUntil: until, RetryAfter: until.Sub(now)}
}
