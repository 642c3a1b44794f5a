package jwt

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const minSecretBytes = 32

var (
	// ErrExpired reports a correctly signed token whose exp has passed.
	ErrExpired = errors.New("jwt: token expired")
	// ErrMalformed reports a token that fails signature checks or parsing.
	ErrMalformed = errors.New("jwt: token malformed")
	// ErrAudienceMismatch reports an issuer or audience outside the
	// expected caller context.
	ErrAudienceMismatch = errors.New("jwt: issuer or audience mismatch")
	// ErrInvalidConfig is returned by NewCodec.
	ErrInvalidConfig = errors.New("jwt: invalid codec config")
)

// Config configures a Codec. AccessSecret and RefreshSecret must be
// distinct and at least 32 bytes each.
type Config struct {
	Issuer          string
	Audience        string
	RefreshAudience string
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	AccessSecret    []byte
	RefreshSecret   []byte
	Leeway          time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
	// Random feeds token ids and defaults to crypto/rand.
	Random io.Reader
}

// Subject is the identity a token is issued for.
type Subject struct {
	ID   string
	Role string
}

// Binding ties an access token to the refresh token it was minted with.
type Binding struct {
	FamilyID  string
	RefreshID string
}

// RefreshSpec carries the persisted refresh record a refresh JWT encodes.
type RefreshSpec struct {
	TokenID   string
	FamilyID  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// AccessClaims is the payload of an access token.
type AccessClaims struct {
	Role      string `json:"role"`
	FamilyID  string `json:"fam,omitempty"`
	RefreshID string `json:"rti,omitempty"`
	jwt.RegisteredClaims
}

// RefreshClaims is the payload of a refresh token. ID is the refresh
// record's token id.
type RefreshClaims struct {
	Role     string `json:"role"`
	FamilyID string `json:"fam"`
	jwt.RegisteredClaims
}

// Codec signs and verifies HS256 access and refresh tokens.
type Codec struct {
	config        Config
	accessParser  *jwt.Parser
	refreshParser *jwt.Parser
}

// NewCodec validates cfg and builds a Codec.
func NewCodec(cfg Config) (*Codec, error) {
	if cfg.AccessTTL < time.Second || cfg.RefreshTTL < time.Second {
		return nil, fmt.Errorf("%w: token lifetimes must be at least one second", ErrInvalidConfig)
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, fmt.Errorf("%w: leeway must be within [0, 2m]", ErrInvalidConfig)
	}
	if len(cfg.AccessSecret) < minSecretBytes || len(cfg.RefreshSecret) < minSecretBytes {
		return nil, fmt.Errorf("%w: signing secrets must be at least %d bytes", ErrInvalidConfig, minSecretBytes)
	}
	if subtle.ConstantTimeCompare(cfg.AccessSecret, cfg.RefreshSecret) == 1 {
		return nil, fmt.Errorf("%w: access and refresh secrets must differ", ErrInvalidConfig)
	}
	if cfg.Issuer == "" || cfg.Audience == "" {
		return nil, fmt.Errorf("%w: issuer and audience are required", ErrInvalidConfig)
	}
	if cfg.RefreshAudience == "" {
		cfg.RefreshAudience = cfg.Audience + ":refresh"
	}
	if cfg.RefreshAudience == cfg.Audience {
		return nil, fmt.Errorf("%w: refresh audience must differ from access audience", ErrInvalidConfig)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Random == nil {
		cfg.Random = rand.Reader
	}

	return &Codec{
		config:        cfg,
		accessParser:  newParser(cfg, cfg.Audience),
		refreshParser: newParser(cfg, cfg.RefreshAudience),
	}, nil
}

func newParser(cfg Config, audience string) *jwt.Parser {
	return jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithTimeFunc(cfg.Now),
	)
}

// AccessTTL returns the configured access token lifetime.
func (c *Codec) AccessTTL() time.Duration { return c.config.AccessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (c *Codec) RefreshTTL() time.Duration { return c.config.RefreshTTL }

// Audience returns the access token audience.
func (c *Codec) Audience() string { return c.config.Audience }

// IssueAccess mints an access token with a fresh random jti.
func (c *Codec) IssueAccess(sub Subject, b Binding) (string, *AccessClaims, error) {
	if sub.ID == "" {
		return "", nil, fmt.Errorf("jwt: empty subject")
	}
	id, err := uuid.NewRandomFromReader(c.config.Random)
	if err != nil {
		return "", nil, fmt.Errorf("jwt: token id: %w", err)
	}

	now := c.config.Now()
	claims := &AccessClaims{
		Role:      sub.Role,
		FamilyID:  b.FamilyID,
		RefreshID: b.RefreshID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.config.Issuer,
			Subject:   sub.ID,
			Audience:  jwt.ClaimStrings{c.config.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.config.AccessTTL)),
			ID:        id.String(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.config.AccessSecret)
	if err != nil {
		return "", nil, fmt.Errorf("jwt: sign access: %w", err)
	}
	return signed, claims, nil
}

// IssueRefresh encodes a persisted refresh record as a signed token.
func (c *Codec) IssueRefresh(sub Subject, spec RefreshSpec) (string, error) {
	if sub.ID == "" || spec.TokenID == "" || spec.FamilyID == "" {
		return "", fmt.Errorf("jwt: incomplete refresh spec")
	}
	if !spec.ExpiresAt.After(spec.IssuedAt) {
		return "", fmt.Errorf("jwt: refresh expiry must follow issue time")
	}

	claims := &RefreshClaims{
		Role:     sub.Role,
		FamilyID: spec.FamilyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.config.Issuer,
			Subject:   sub.ID,
			Audience:  jwt.ClaimStrings{c.config.RefreshAudience},
			IssuedAt:  jwt.NewNumericDate(spec.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(spec.ExpiresAt),
			ID:        spec.TokenID,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.config.RefreshSecret)
	if err != nil {
		return "", fmt.Errorf("jwt: sign refresh: %w", err)
	}
	return signed, nil
}

// VerifyAccess checks an access token. An empty expectedAudience means the
// configured access audience. On ErrExpired the signature has been verified
// and the claims are returned alongside the error.
func (c *Codec) VerifyAccess(token, expectedAudience string) (*AccessClaims, error) {
	parser := c.accessParser
	if expectedAudience != "" && expectedAudience != c.config.Audience {
		parser = newParser(c.config, expectedAudience)
	}

	claims := &AccessClaims{}
	_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return c.config.AccessSecret, nil
	})
	if err = classify(err); err != nil && !errors.Is(err, ErrExpired) {
		return nil, err
	}
	if claims.Subject == "" || claims.ID == "" || claims.IssuedAt == nil {
		return nil, fmt.Errorf("%w: missing sub, jti or iat", ErrMalformed)
	}
	return claims, err
}

// VerifyRefresh checks a refresh token against the refresh secret and
// audience. Like VerifyAccess it returns claims with ErrExpired.
func (c *Codec) VerifyRefresh(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	_, err := c.refreshParser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return c.config.RefreshSecret, nil
	})
	if err = classify(err); err != nil && !errors.Is(err, ErrExpired) {
		return nil, err
	}
	if claims.Subject == "" || claims.ID == "" || claims.FamilyID == "" {
		return nil, fmt.Errorf("%w: missing sub, jti or fam", ErrMalformed)
	}
	return claims, err
}

// classify collapses golang-jwt validation errors into the codec's three
// kinds. A token failing both context and expiry checks reports the
// context mismatch.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenInvalidAudience):
		return fmt.Errorf("%w: %v", ErrAudienceMismatch, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
