package appconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override: auth.access_secret is
// RENTAUTH_AUTH_ACCESS_SECRET.
const EnvPrefix = "RENTAUTH"

// Load reads configPath (YAML, optional), then envFile (optional, never
// overriding variables already set), then the environment, and validates
// the result. Empty paths are skipped; a named file that does not exist is
// an error.
func Load(configPath, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("appconfig: load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("appconfig: read %s: %w", configPath, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("appconfig: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDotEnvIfPresent is Load with envFile treated as optional.
func LoadDotEnvIfPresent(configPath, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("appconfig: load %s: %w", envFile, err)
		}
	}
	return Load(configPath, "")
}

// Validate checks the struct tags on every section.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("appconfig: invalid: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("appconfig: invalid: %w", err)
	}
	return nil
}

// Every key needs a default, even an empty one, or AutomaticEnv will not
// see it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "rentauth")
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.version", "")

	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.read_timeout", "5s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.graceful_timeout", "15s")
	v.SetDefault("server.trust_proxy", false)
	v.SetDefault("server.body_limit", "64K")
	v.SetDefault("server.rate_limit", 0)
	v.SetDefault("server.rate_window", "1m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "rentauth.db")
	v.SetDefault("db.max_open_conns", 1)
	v.SetDefault("db.max_idle_conns", 1)
	v.SetDefault("db.conn_max_lifetime", "1h")
	v.SetDefault("db.slow_query_threshold", "200ms")
	v.SetDefault("db.log_level", "warn")
	v.SetDefault("db.auto_migrate", true)

	v.SetDefault("redis.enable", false)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "rentauth")

	v.SetDefault("kafka.enable", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "rentauth.audit")

	v.SetDefault("auth.issuer", "rentauth")
	v.SetDefault("auth.audience", "rentauth-api")
	v.SetDefault("auth.access_ttl", "15m")
	v.SetDefault("auth.refresh_ttl", "168h")
	v.SetDefault("auth.leeway", "5s")
	v.SetDefault("auth.access_secret", "")
	v.SetDefault("auth.refresh_secret", "")
	v.SetDefault("auth.default_role", "customer")
	v.SetDefault("auth.registration_roles", []string{})
	v.SetDefault("auth.lockout_threshold", 5)
	v.SetDefault("auth.lockout_duration", "15m")
	v.SetDefault("auth.lockout_window", "15m")
	v.SetDefault("auth.lockout_track_ip", false)
	v.SetDefault("auth.argon_memory_kib", 64*1024)
	v.SetDefault("auth.argon_time", 3)
	v.SetDefault("auth.argon_parallelism", 2)
	v.SetDefault("auth.max_concurrent_hashes", 4)
	v.SetDefault("auth.store_timeout", "2s")
	v.SetDefault("auth.hash_timeout", "5s")
	v.SetDefault("auth.audit_enable", false)
	v.SetDefault("auth.audit_delivery_timeout", "5s")
	v.SetDefault("auth.sweep_interval", "5m")

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.histograms", false)
	v.SetDefault("metrics.path", "/metrics")
}
