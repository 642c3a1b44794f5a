package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	rentAuth "github.com/MrEthical07/rentAuth"
	"github.com/MrEthical07/rentAuth/internal/appconfig"
	"github.com/MrEthical07/rentAuth/internal/httpapi"
	"github.com/MrEthical07/rentAuth/internal/logging"
	"github.com/MrEthical07/rentAuth/internal/rate"
	promexport "github.com/MrEthical07/rentAuth/metrics/export/prometheus"
	"github.com/MrEthical07/rentAuth/persistence"
	"github.com/MrEthical07/rentAuth/revocation"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config file")
		envFile    = flag.String("env-file", ".env", "path to a .env file; skipped when absent")
	)
	flag.Parse()

	cfg, err := appconfig.LoadDotEnvIfPresent(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.Log.LoggerConfig(cfg.App))
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *appconfig.Config, logger *zap.Logger) error {
	db, err := persistence.Open(ctx, cfg.DB.PersistenceConfig(), logger)
	if err != nil {
		return err
	}
	defer func() { _ = persistence.Close(db) }()

	if cfg.DB.AutoMigrate {
		if err := persistence.Migrate(db); err != nil {
			return err
		}
	}

	builder := rentAuth.New().
		WithConfig(cfg.EngineConfig()).
		WithLogger(logger).
		WithIdentityStore(persistence.NewIdentityRepository(db))

	handlerOpts := []httpapi.Option{
		httpapi.WithLogger(logger),
		httpapi.WithReadinessCheck("db", pingDB(db)),
	}

	if cfg.Redis.Enable {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = client.Close() }()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		builder.WithRedis(client)
		handlerOpts = append(handlerOpts, httpapi.WithReadinessCheck("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}))

		if cfg.Server.RateLimit > 0 {
			limiter, err := rate.New(client, rate.Config{
				Limit:  cfg.Server.RateLimit,
				Window: cfg.Server.RateWindow,
				Prefix: cfg.Redis.KeyPrefix,
			})
			if err != nil {
				return err
			}
			handlerOpts = append(handlerOpts, httpapi.WithThrottle(limiter))
		}
	} else {
		if cfg.Server.RateLimit > 0 {
			logger.Warn("rate limiting needs redis; disabled")
		}
		builder.WithRefreshStore(persistence.NewRefreshRepository(db, nil))
	}

	switch {
	case cfg.Kafka.Enable:
		writer := rentAuth.NewKafkaAuditWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer func() { _ = writer.Close() }()
		builder.WithAuditSink(rentAuth.NewKafkaAuditSink(writer, logger))
	case cfg.Auth.AuditEnable:
		builder.WithAuditSink(rentAuth.NewZapAuditSink(logger))
	}

	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	if cfg.Auth.SweepInterval > 0 {
		if targets := engine.Sweepables(); len(targets) > 0 {
			go revocation.NewSweeper(cfg.Auth.SweepInterval, logger, targets...).Run(ctx)
		}
	}

	e := httpapi.NewEcho(httpapi.ServerConfig{
		TrustProxy: cfg.Server.TrustProxy,
		BodyLimit:  cfg.Server.BodyLimit,
	}, logger)
	h := httpapi.NewHandler(engine, handlerOpts...)
	h.RegisterRoutes(e.Group("/api/v1"))
	h.RegisterProbes(e)
	if cfg.Metrics.Enable {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promexport.Handler(promexport.NewCollector(engine))))
	}

	srv := &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      e,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func pingDB(db *gorm.DB) httpapi.Check {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}
