package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// ErrUnknownDriver is returned by Open for a driver name with no dialector.
var ErrUnknownDriver = errors.New("persistence: unknown driver")

// DialectorOpener builds a gorm dialector from a DSN.
type DialectorOpener = func(dsn string) gorm.Dialector

var dialectors = map[string]DialectorOpener{
	"sqlite":   sqlite.Open,
	"postgres": postgres.Open,
}

// Config selects and tunes the database connection.
type Config struct {
	// Driver is "sqlite" or "postgres".
	Driver string
	DSN    string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// SlowQueryThreshold logs slower statements at warn level.
	SlowQueryThreshold time.Duration
	// LogLevel is one of silent, error, warn or info.
	LogLevel string
}

// DefaultConfig returns a single-file SQLite database at path.
func DefaultConfig(path string) Config {
	return Config{
		Driver:             "sqlite",
		DSN:                path,
		MaxOpenConns:       1,
		MaxIdleConns:       1,
		ConnMaxLifetime:    time.Hour,
		SlowQueryThreshold: 200 * time.Millisecond,
		LogLevel:           "warn",
	}
}

// Open connects, pings and applies pool limits. It does not migrate.
func Open(ctx context.Context, cfg Config, log *zap.Logger) (*gorm.DB, error) {
	opener, ok := dialectors[strings.ToLower(cfg.Driver)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
	if log == nil {
		log = zap.NewNop()
	}

	db, err := gorm.Open(opener(cfg.DSN), &gorm.Config{
		Logger:         newGormLogger(log, cfg.SlowQueryThreshold, parseLogLevel(cfg.LogLevel)),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("persistence: open %s: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("persistence: underlying sql.DB: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("persistence: ping %s: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	log.Info("database connection established", zap.String("driver", cfg.Driver))
	return db, nil
}

// Migrate creates or updates the identity and refresh token tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&identityRecord{}, &refreshRecord{})
}

// Close releases the connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
