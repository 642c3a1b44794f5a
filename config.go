package rentAuth

import (
	"fmt"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/MrEthical07/rentAuth/jwt"
	"github.com/MrEthical07/rentAuth/lockout"
	"github.com/MrEthical07/rentAuth/password"
)

// Config is the complete engine configuration. Start from DefaultConfig and
// set at least the two JWT secrets.
type Config struct {
	JWT      JWTConfig
	Password PasswordConfig
	Policy   PolicyConfig
	Lockout  LockoutConfig
	Timeouts TimeoutConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
	Redis    RedisConfig

	// DefaultRole is assigned when a registration names no role.
	DefaultRole string
	// RegistrationRoles lists the roles a registration may request.
	// DefaultRole is always allowed.
	RegistrationRoles []string
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls token issuance. RefreshAudience defaults to
// Audience + ":refresh".
type JWTConfig struct {
	Issuer          string
	Audience        string
	RefreshAudience string
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	AccessSecret    []byte
	RefreshSecret   []byte
	Leeway          time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds Argon2id parameters (Memory in KiB) and hashing
// concurrency.
type PasswordConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	// UpgradeOnLogin rehashes legacy or weaker hashes after a successful login.
	UpgradeOnLogin bool
	// MaxConcurrentHashes bounds simultaneous Argon2 computations.
	MaxConcurrentHashes int
}

// PolicyConfig is the password policy. An empty Symbols uses
// password.DefaultSymbols.
type PolicyConfig struct {
	MinLength     int
	MaxLength     int
	RequireLower  bool
	RequireUpper  bool
	RequireDigit  bool
	RequireSymbol bool
	Symbols       string
}

// LockoutConfig controls the login guard. With TrackIP, failures are also
// counted per client IP (see WithClientIP).
type LockoutConfig struct {
	Threshold     int
	LockDuration  time.Duration
	FailureWindow time.Duration
	TrackIP       bool
}

// TimeoutConfig bounds every blocking dependency call.
type TimeoutConfig struct {
	Store time.Duration
	Hash  time.Duration
}

// AuditConfig controls the async audit dispatcher. DeliveryTimeout bounds
// each sink call; zero leaves it unbounded.
type AuditConfig struct {
	Enabled         bool
	BufferSize      int
	DropIfFull      bool
	DeliveryTimeout time.Duration
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// RedisConfig prefixes every key the Redis-backed components write.
type RedisConfig struct {
	KeyPrefix string
}

// DefaultConfig returns production defaults. The JWT secrets are left
// empty and must be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			Issuer:     "rentauth",
			Audience:   "rentauth-api",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
			Leeway:     5 * time.Second,
		},
		Password: PasswordConfig{
			Memory:              64 * 1024,
			Time:                3,
			Parallelism:         2,
			SaltLength:          16,
			KeyLength:           32,
			UpgradeOnLogin:      true,
			MaxConcurrentHashes: runtime.NumCPU(),
		},
		Policy: PolicyConfig{
			MinLength:     8,
			MaxLength:     128,
			RequireLower:  true,
			RequireUpper:  true,
			RequireDigit:  true,
			RequireSymbol: true,
			Symbols:       password.DefaultSymbols,
		},
		Lockout: LockoutConfig{
			Threshold:     5,
			LockDuration:  15 * time.Minute,
			FailureWindow: 15 * time.Minute,
		},
		Timeouts: TimeoutConfig{
			Store: 2 * time.Second,
			Hash:  5 * time.Second,
		},
		Audit: AuditConfig{
			BufferSize:      1024,
			DropIfFull:      true,
			DeliveryTimeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Redis: RedisConfig{
			KeyPrefix: "rentauth",
		},
		DefaultRole: "customer",
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.AccessSecret = slices.Clone(cfg.JWT.AccessSecret)
	out.JWT.RefreshSecret = slices.Clone(cfg.JWT.RefreshSecret)
	out.RegistrationRoles = slices.Clone(cfg.RegistrationRoles)
	return out
}

func (c Config) hasherConfig() password.Config {
	return password.Config{
		Memory:      c.Password.Memory,
		Time:        c.Password.Time,
		Parallelism: c.Password.Parallelism,
		SaltLength:  c.Password.SaltLength,
		KeyLength:   c.Password.KeyLength,
	}
}

// policy maps an empty Symbols to password.DefaultSymbols, the same
// alphabet Policy.Check accepts.
func (c Config) policy() password.Policy {
	symbols := c.Policy.Symbols
	if symbols == "" {
		symbols = password.DefaultSymbols
	}
	return password.Policy{
		MinLength:     c.Policy.MinLength,
		MaxLength:     c.Policy.MaxLength,
		RequireLower:  c.Policy.RequireLower,
		RequireUpper:  c.Policy.RequireUpper,
		RequireDigit:  c.Policy.RequireDigit,
		RequireSymbol: c.Policy.RequireSymbol,
		Symbols:       symbols,
	}
}

func (c Config) lockoutConfig() lockout.Config {
	return lockout.Config{
		Threshold:    c.Lockout.Threshold,
		LockDuration: c.Lockout.LockDuration,
		Window:       c.Lockout.FailureWindow,
	}
}

func (c Config) codecConfig() jwt.Config {
	return jwt.Config{
		Issuer:          c.JWT.Issuer,
		Audience:        c.JWT.Audience,
		RefreshAudience: c.JWT.RefreshAudience,
		AccessTTL:       c.JWT.AccessTTL,
		RefreshTTL:      c.JWT.RefreshTTL,
		AccessSecret:    c.JWT.AccessSecret,
		RefreshSecret:   c.JWT.RefreshSecret,
		Leeway:          c.JWT.Leeway,
	}
}

// roleAllowed reports whether a registration may request role.
func (c Config) roleAllowed(role string) bool {
	return role == c.DefaultRole || slices.Contains(c.RegistrationRoles, role)
}

// Validate reports the first unusable setting. Token codec rules (secret
// length, distinct secrets) are checked again when the codec is built.
func (c Config) Validate() error {
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 {
		return fmt.Errorf("%w: JWT lifetimes must be > 0", ErrInvalidConfig)
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return fmt.Errorf("%w: JWT RefreshTTL must exceed AccessTTL", ErrInvalidConfig)
	}
	if len(c.JWT.AccessSecret) == 0 || len(c.JWT.RefreshSecret) == 0 {
		return fmt.Errorf("%w: JWT AccessSecret and RefreshSecret are required", ErrInvalidConfig)
	}
	if err := c.hasherConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Password.MaxConcurrentHashes < 1 {
		return fmt.Errorf("%w: Password MaxConcurrentHashes must be >= 1", ErrInvalidConfig)
	}
	if err := c.policy().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.lockoutConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Timeouts.Store <= 0 || c.Timeouts.Hash <= 0 {
		return fmt.Errorf("%w: timeouts must be > 0", ErrInvalidConfig)
	}
	if c.Audit.Enabled && c.Audit.BufferSize < 1 {
		return fmt.Errorf("%w: Audit BufferSize must be >= 1", ErrInvalidConfig)
	}
	if c.Audit.DeliveryTimeout < 0 {
		return fmt.Errorf("%w: Audit DeliveryTimeout must be >= 0", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.DefaultRole) == "" {
		return fmt.Errorf("%w: DefaultRole is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.Redis.KeyPrefix) == "" {
		return fmt.Errorf("%w: Redis KeyPrefix is required", ErrInvalidConfig)
	}
	return nil
}
