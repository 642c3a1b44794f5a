// Package appconfig loads the rentauth-server configuration from an
// optional YAML file, an optional .env file and RENTAUTH_* environment
// variables, in increasing order of precedence.
package appconfig

import (
	"time"

	rentAuth "github.com/MrEthical07/rentAuth"
	"github.com/MrEthical07/rentAuth/internal/logging"
	"github.com/MrEthical07/rentAuth/persistence"
)

type Config struct {
	App     App     `mapstructure:"app"`
	Server  Server  `mapstructure:"server"`
	Log     Log     `mapstructure:"log"`
	DB      DB      `mapstructure:"db"`
	Redis   Redis   `mapstructure:"redis"`
	Kafka   Kafka   `mapstructure:"kafka"`
	Auth    Auth    `mapstructure:"auth"`
	Metrics Metrics `mapstructure:"metrics"`
}

type App struct {
	Name    string `mapstructure:"name" validate:"required"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type Server struct {
	HTTPAddr        string        `mapstructure:"http_addr" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" validate:"gt=0"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout" validate:"gt=0"`
	// TrustProxy takes the client IP from X-Forwarded-For.
	TrustProxy bool   `mapstructure:"trust_proxy"`
	BodyLimit  string `mapstructure:"body_limit"`
	// RateLimit caps register, login and refresh requests per client IP
	// per RateWindow. It needs Redis; zero disables it.
	RateLimit  int           `mapstructure:"rate_limit" validate:"gte=0"`
	RateWindow time.Duration `mapstructure:"rate_window" validate:"gt=0"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

func (l Log) LoggerConfig(app App) logging.Config {
	return logging.Config{
		Level:   l.Level,
		Pretty:  l.Pretty,
		Service: app.Name,
		Env:     app.Env,
		Version: app.Version,
	}
}

type DB struct {
	Driver             string        `mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DSN                string        `mapstructure:"dsn" validate:"required"`
	MaxOpenConns       int           `mapstructure:"max_open_conns" validate:"gte=1"`
	MaxIdleConns       int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime    time.Duration `mapstructure:"conn_max_lifetime"`
	SlowQueryThreshold time.Duration `mapstructure:"slow_query_threshold"`
	LogLevel           string        `mapstructure:"log_level" validate:"oneof=silent error warn info"`
	AutoMigrate        bool          `mapstructure:"auto_migrate"`
}

func (d DB) PersistenceConfig() persistence.Config {
	return persistence.Config{
		Driver:             d.Driver,
		DSN:                d.DSN,
		MaxOpenConns:       d.MaxOpenConns,
		MaxIdleConns:       d.MaxIdleConns,
		ConnMaxLifetime:    d.ConnMaxLifetime,
		SlowQueryThreshold: d.SlowQueryThreshold,
		LogLevel:           d.LogLevel,
	}
}

// Redis is optional. Without it refresh tokens, revocations and lockout
// counters are kept in SQL (refresh tokens) and process memory.
type Redis struct {
	Enable    bool   `mapstructure:"enable"`
	Addr      string `mapstructure:"addr" validate:"required_if=Enable true"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db" validate:"gte=0"`
	KeyPrefix string `mapstructure:"key_prefix" validate:"required"`
}

type Kafka struct {
	Enable  bool     `mapstructure:"enable"`
	Brokers []string `mapstructure:"brokers" validate:"required_if=Enable true"`
	Topic   string   `mapstructure:"topic" validate:"required_if=Enable true"`
}

type Auth struct {
	Issuer        string        `mapstructure:"issuer" validate:"required"`
	Audience      string        `mapstructure:"audience" validate:"required"`
	AccessTTL     time.Duration `mapstructure:"access_ttl" validate:"gt=0"`
	RefreshTTL    time.Duration `mapstructure:"refresh_ttl" validate:"gtfield=AccessTTL"`
	Leeway        time.Duration `mapstructure:"leeway" validate:"gte=0"`
	AccessSecret  string        `mapstructure:"access_secret" validate:"min=32"`
	RefreshSecret string        `mapstructure:"refresh_secret" validate:"min=32,nefield=AccessSecret"`

	DefaultRole       string   `mapstructure:"default_role" validate:"required"`
	RegistrationRoles []string `mapstructure:"registration_roles"`

	LockoutThreshold int           `mapstructure:"lockout_threshold" validate:"gte=1"`
	LockoutDuration  time.Duration `mapstructure:"lockout_duration" validate:"gt=0"`
	LockoutWindow    time.Duration `mapstructure:"lockout_window" validate:"gt=0"`
	LockoutTrackIP   bool          `mapstructure:"lockout_track_ip"`

	ArgonMemoryKiB      uint32 `mapstructure:"argon_memory_kib" validate:"gte=8192"`
	ArgonTime           uint32 `mapstructure:"argon_time" validate:"gte=1"`
	ArgonParallelism    uint8  `mapstructure:"argon_parallelism" validate:"gte=1"`
	MaxConcurrentHashes int    `mapstructure:"max_concurrent_hashes" validate:"gte=1"`

	StoreTimeout time.Duration `mapstructure:"store_timeout" validate:"gt=0"`
	HashTimeout  time.Duration `mapstructure:"hash_timeout" validate:"gt=0"`

	AuditEnable          bool          `mapstructure:"audit_enable"`
	AuditDeliveryTimeout time.Duration `mapstructure:"audit_delivery_timeout" validate:"gte=0"`
	// SweepInterval is how often expired revocations and refresh records
	// are purged. Zero disables the sweeper.
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"gte=0"`
}

type Metrics struct {
	Enable     bool   `mapstructure:"enable"`
	Histograms bool   `mapstructure:"histograms"`
	Path       string `mapstructure:"path" validate:"required"`
}

// EngineConfig overlays the loaded settings on rentAuth.DefaultConfig.
func (c *Config) EngineConfig() rentAuth.Config {
	cfg := rentAuth.DefaultConfig()
	a := c.Auth

	cfg.JWT.Issuer = a.Issuer
	cfg.JWT.Audience = a.Audience
	cfg.JWT.AccessTTL = a.AccessTTL
	cfg.JWT.RefreshTTL = a.RefreshTTL
	cfg.JWT.Leeway = a.Leeway
	cfg.JWT.AccessSecret = []byte(a.AccessSecret)
	cfg.JWT.RefreshSecret = []byte(a.RefreshSecret)

	cfg.DefaultRole = a.DefaultRole
	cfg.RegistrationRoles = append([]string(nil), a.RegistrationRoles...)

	cfg.Lockout.Threshold = a.LockoutThreshold
	cfg.Lockout.LockDuration = a.LockoutDuration
	cfg.Lockout.FailureWindow = a.LockoutWindow
	cfg.Lockout.TrackIP = a.LockoutTrackIP

	cfg.Password.Memory = a.ArgonMemoryKiB
	cfg.Password.Time = a.ArgonTime
	cfg.Password.Parallelism = a.ArgonParallelism
	cfg.Password.MaxConcurrentHashes = a.MaxConcurrentHashes

	cfg.Timeouts.Store = a.StoreTimeout
	cfg.Timeouts.Hash = a.HashTimeout

	cfg.Audit.Enabled = a.AuditEnable || c.Kafka.Enable
	cfg.Audit.DeliveryTimeout = a.AuditDeliveryTimeout
	cfg.Metrics.Enabled = c.Metrics.Enable
	cfg.Metrics.EnableLatencyHistograms = c.Metrics.Histograms
	cfg.Redis.KeyPrefix = c.Redis.KeyPrefix
	return cfg
}
