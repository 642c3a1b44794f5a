package refresh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/MrEthical07/rentAuth/internal"
)

var (
	// ErrNotFound is returned when no record exists for a token id.
	ErrNotFound = errors.New("refresh token not found")
	// ErrReuseDetected is returned when a token already spent by rotation is
	// presented again. The token's family has been revoked by the time the
	// error is returned.
	ErrReuseDetected = errors.New("refresh token reuse detected")
	// ErrRevoked is returned when a token revoked by logout, password change
	// or an administrator is presented for rotation.
	ErrRevoked = errors.New("refresh token revoked")
	// ErrExpired is returned when the presented token is past its expiry.
	ErrExpired = errors.New("refresh token expired")
	// ErrDuplicate is returned by Create when the token id already exists.
	ErrDuplicate = errors.New("refresh token id already exists")
	// ErrCorrupt is returned for a stored record that cannot be decoded.
	ErrCorrupt = errors.New("refresh token record corrupt")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("refresh store unavailable")
)

// Reason records why a token was revoked.
type Reason string

const (
	ReasonRotated        Reason = "rotated"
	ReasonLogout         Reason = "logout"
	ReasonLogoutAll      Reason = "logout_all"
	ReasonPasswordChange Reason = "password_change"
	ReasonReuseDetected  Reason = "reuse_detected"
	ReasonAdmin          Reason = "admin"
)

// Spent reports whether a token revoked for r was consumed by rotation,
// so presenting it again signals replay.
func (r Reason) Spent() bool {
	return r == ReasonRotated || r == ReasonReuseDetected
}

// Token is the persisted record of an issued refresh token.
type Token struct {
	ID            string
	SubjectID     string
	FamilyID      string
	IssuedAt      time.Time
	ExpiresAt     time.Time
	RotatedFrom   string
	Revoked       bool
	RevokedReason Reason
	DeviceInfo    string
}

// Active reports whether t is unrevoked and unexpired at now.
func (t Token) Active(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}

// Successor describes the token a rotation creates. Subject and family are
// inherited from the rotated token.
type Successor struct {
	ID         string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	DeviceInfo string
}

// RotateResult reports both sides of a rotation. Previous is populated for
// ErrReuseDetected and ErrRevoked so callers can audit the burned family.
type RotateResult struct {
	Previous Token
	Next     *Token
}

// Store persists refresh tokens, their rotation lineage and revocation state.
type Store interface {
	// Create persists t. t.ID and t.FamilyID must be set.
	Create(ctx context.Context, t Token) error
	// Rotate atomically revokes the presented token and creates next in the
	// same family. Only one concurrent caller can succeed per token id.
	Rotate(ctx context.Context, presentedID string, next Successor) (RotateResult, error)
	// RevokeFamily revokes every member of a family and returns the number of
	// tokens that were active.
	RevokeFamily(ctx context.Context, familyID string, reason Reason) (int, error)
	// RevokeSubject revokes every family of a subject and returns the ids of
	// families that had an active member.
	RevokeSubject(ctx context.Context, subjectID string, reason Reason) ([]string, error)
	// IsActive reports whether a token exists, is unrevoked and unexpired.
	IsActive(ctx context.Context, tokenID string) (bool, error)
	// Get returns the stored record for a token id.
	Get(ctx context.Context, tokenID string) (*Token, error)
}

// NewToken builds a record for a freshly issued token. An empty familyID
// starts a new family.
func NewToken(random io.Reader, subjectID, familyID string, now time.Time, ttl time.Duration, device string) (Token, error) {
	if subjectID == "" {
		return Token{}, fmt.Errorf("refresh: empty subject id")
	}
	if ttl <= 0 {
		return Token{}, fmt.Errorf("refresh: non-positive ttl")
	}

	id, err := internal.NewID(random)
	if err != nil {
		return Token{}, err
	}
	if familyID == "" {
		if familyID, err = internal.NewID(random); err != nil {
			return Token{}, err
		}
	}

	return Token{
		ID:         id,
		SubjectID:  subjectID,
		FamilyID:   familyID,
		IssuedAt:   now,
		ExpiresAt:  now.Add(ttl),
		DeviceInfo: device,
	}, nil
}

// NewSuccessor builds the successor description for a rotation.
func NewSuccessor(random io.Reader, now time.Time, ttl time.Duration, device string) (Successor, error) {
	if ttl <= 0 {
		return Successor{}, fmt.Errorf("refresh: non-positive ttl")
	}
	id, err := internal.NewID(random)
	if err != nil {
		return Successor{}, err
	}
	return Successor{ID: id, IssuedAt: now, ExpiresAt: now.Add(ttl), DeviceInfo: device}, nil
}

func validateToken(t Token) error {
	if t.ID == "" || t.SubjectID == "" || t.FamilyID == "" {
		return fmt.Errorf("refresh: token requires id, subject and family")
	}
	if !t.ExpiresAt.After(t.IssuedAt) {
		return fmt.Errorf("refresh: expiry must follow issue time")
	}
	return nil
}
