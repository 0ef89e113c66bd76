package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"pompaku/backend/internal/cache"
	"pompaku/backend/internal/config"
	"pompaku/backend/internal/httpapi"
	"pompaku/backend/internal/lock"
	"pompaku/backend/internal/logging"
	"pompaku/backend/internal/service"
	"pompaku/backend/internal/store"
	"pompaku/backend/internal/store/memory"
	mysqlstore "pompaku/backend/internal/store/mysql"
	pgstore "pompaku/backend/internal/store/postgres"
)

// lockWait bounds how long a request queues for a per-product lock.
const lockWait = 2 * time.Second

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	repo, closers, err := openRepository(ctx, cfg, log)
	if err != nil {
		log.Fatalf("repository unavailable: %v", err)
	}

	if cfg.SeedDemoData {
		seeded, err := store.ApplySeed(ctx, repo, store.DefaultSeed())
		if err != nil {
			log.Fatalf("seed demo data: %v", err)
		}
		log.WithField("seeded", seeded).Info("demo data checked")
	}

	opts := service.Options{
		ReportCacheTTL: cfg.ReportCacheTTL,
		Logger:         log.WithField("module", "service"),
	}
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		reportCache := cache.NewRedisReportCache(client)
		if err := reportCache.Ping(ctx); err != nil {
			log.WithError(err).Warn("redis unavailable, using noop cache and locker")
			_ = client.Close()
		} else {
			opts.ReportCache = reportCache
			opts.Locker = lock.NewRedisLocker(client, cfg.LockTTL, lockWait)
			closers = append(closers, client.Close)
			log.WithField("addr", cfg.RedisAddr).Info("cache: redis")
		}
	} else {
		log.Info("cache: noop")
	}

	svc := service.New(repo, opts)
	api := httpapi.New(svc, log.WithField("module", "httpapi"), cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Address()).Info("fuel station ledger listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.WithError(err).Error("close error")
		}
	}

	log.Info("server stopped")
}

func validateConfig(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.RedisAddr != "" && cfg.LockTTL <= lockWait {
		return fmt.Errorf("LOCK_TTL_SECONDS must exceed the %s lock wait", lockWait)
	}
	return nil
}

// openRepository connects the configured backend and migrates SQL schemas.
// A configured database that cannot be reached is fatal; there is no silent
// fallback to memory.
func openRepository(ctx context.Context, cfg config.Config, log *logrus.Logger) (store.Repository, []func() error, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, fmt.Errorf("postgres migrate: %w", err)
		}
		log.Info("repository: postgres")
		return pg, []func() error{pg.Close}, nil
	case config.DriverMySQL:
		my, err := mysqlstore.New(ctx, cfg.MySQLDSN, log)
		if err != nil {
			return nil, nil, fmt.Errorf("mysql: %w", err)
		}
		if err := my.Migrate(ctx); err != nil {
			_ = my.Close()
			return nil, nil, fmt.Errorf("mysql migrate: %w", err)
		}
		log.Info("repository: mysql")
		return my, []func() error{my.Close}, nil
	case config.DriverMemory:
		log.Info("repository: in-memory")
		return memory.New(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported driver %q", cfg.DBDriver)
	}
}
