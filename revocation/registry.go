package revocation

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps backend failures.
var ErrUnavailable = errors.New("revocation registry unavailable")

// Reason records why an entry was added.
type Reason string

const (
	ReasonLogout         Reason = "logout"
	ReasonLogoutAll      Reason = "logout_all"
	ReasonPasswordChange Reason = "password_change"
	ReasonReuseDetected  Reason = "reuse_detected"
	ReasonCompromise     Reason = "compromise"
)

// Entry is one revoked identifier.
type Entry struct {
	TokenID   string
	ExpiresAt time.Time
	Reason    Reason
}

// Registry is a blacklist of identifiers with self-expiring entries.
type Registry interface {
	// Add blocks tokenID until expiresAt. Adding an already expired entry is
	// a no-op.
	Add(ctx context.Context, tokenID string, reason Reason, expiresAt time.Time) error
	// Contains reports whether tokenID is blocked.
	Contains(ctx context.Context, tokenID string) (bool, error)
	// ContainsAny reports whether any of ids is blocked, in one round trip.
	ContainsAny(ctx context.Context, ids ...string) (bool, error)
	// SweepExpired drops expired entries and returns how many were removed.
	SweepExpired(ctx context.Context) (int, error)
}
