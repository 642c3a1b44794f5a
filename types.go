package rentAuth

import (
	"context"
	"errors"
	"maps"
	"time"
)

var (
	// ErrIdentityNotFound is returned by an IdentityStore lookup that matched
	// nothing.
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrIdentityExists is returned by IdentityStore.Create when the email is
	// already taken. Stores must enforce this with a unique constraint.
	ErrIdentityExists = errors.New("identity already exists")
)

// Identity is a registered account. PasswordHash never leaves the engine;
// results carry a Sanitized copy.
type Identity struct {
	ID           string            `json:"id"`
	Email        string            `json:"email"`
	PasswordHash string            `json:"-"`
	Role         string            `json:"role"`
	Profile      map[string]string `json:"profile,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Sanitized returns a copy without the password hash.
func (i Identity) Sanitized() Identity {
	out := i
	out.PasswordHash = ""
	out.Profile = maps.Clone(i.Profile)
	return out
}

// IdentityStore is the persistence collaborator for accounts. Emails are
// passed already normalized.
type IdentityStore interface {
	FindByEmail(ctx context.Context, email string) (*Identity, error)
	FindByID(ctx context.Context, id string) (*Identity, error)
	Create(ctx context.Context, identity Identity) error
	UpdatePasswordHash(ctx context.Context, id, hash string) error
}

// Clock supplies the current time to every time-dependent component.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// TokenPair is what a successful Register, Login or Refresh hands back to
// the client.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// AuthResult is returned by Register and Login.
type AuthResult struct {
	Identity Identity  `json:"identity"`
	Tokens   TokenPair `json:"tokens"`
}

// Claims is an authenticated access token.
type Claims struct {
	SubjectID string    `json:"sub"`
	Role      string    `json:"role"`
	TokenID   string    `json:"jti"`
	FamilyID  string    `json:"fam,omitempty"`
	RefreshID string    `json:"rti,omitempty"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
}

// RegisterRequest creates an account. An empty Role means Config.DefaultRole;
// any other role must be listed in Config.RegistrationRoles.
type RegisterRequest struct {
	Email      string
	Password   string
	Role       string
	Profile    map[string]string
	DeviceInfo string
}

type LoginRequest struct {
	Email      string
	Password   string
	DeviceInfo string
}

// LogoutRequest ends the session of AccessToken. RefreshToken is optional;
// without it the family bound in the access token is revoked. AllDevices
// revokes every session of the subject.
type LogoutRequest struct {
	AccessToken  string
	RefreshToken string
	AllDevices   bool
}

type ChangePasswordRequest struct {
	SubjectID       string
	CurrentPassword string
	NewPassword     string
}
