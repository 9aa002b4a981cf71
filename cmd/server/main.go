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

	"golang.org/x/crypto/bcrypt"

	"kasirpos/internal/cache"
	"kasirpos/internal/config"
	"kasirpos/internal/httpapi"
	"kasirpos/internal/logger"
	"kasirpos/internal/service"
	"kasirpos/internal/store"
	"kasirpos/internal/store/memory"
	"kasirpos/internal/store/sqlstore"
)

func main() {
	if err := run(); err != nil {
		logger.Default().Errorw("server exited", "error", err)
		_ = logger.Default().Sync()
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Development: cfg.LogDevelopment})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.SetDefault(log)
	defer func() { _ = log.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, err := openRepository(ctx, cfg)
	if err != nil {
		return err
	}
	closers := []func() error{repo.Close}
	log.Infow("repository ready", "driver", cfg.StoreDriver)

	reportCache := cache.ReportCache(cache.NoopReportCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisReportCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warnw("redis unavailable, using noop report cache", "addr", cfg.RedisAddr, "error", err)
			_ = redisCache.Close()
		} else {
			reportCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Infow("report cache: redis", "addr", cfg.RedisAddr)
		}
	} else {
		log.Infow("report cache: noop")
	}

	svc := service.New(repo, reportCache, service.Options{
		RequireOpenShift:  cfg.RequireOpenShift,
		LowStockThreshold: int64(cfg.LowStockThreshold),
		ReportCacheTTL:    cfg.ReportCacheTTL(),
		BcryptCost:        bcrypt.DefaultCost,
	})

	seeded, err := svc.EnsureDefaultAdmin(ctx, cfg.SeedAdminPassword)
	if err != nil {
		return fmt.Errorf("seed default admin: %w", err)
	}
	if seeded {
		log.Warnw("seeded default admin account; change its password on first login", "username", "admin")
	}

	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), svc)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin:    cfg.AllowedOrigin,
		CurrencyExponent: int32(cfg.CurrencyExponent),
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Infow("POS backend listening", "addr", cfg.Address())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		log.Infow("shutdown requested", "signal", s.String())
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnw("shutdown error", "error", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Warnw("close error", "error", err)
		}
	}

	log.Infow("server stopped")
	return nil
}

func openRepository(ctx context.Context, cfg config.Config) (store.Repository, error) {
	switch cfg.StoreDriver {
	case config.StoreMemory:
		return memory.NewSeeded(), nil
	case config.StorePostgres:
		repo, err := sqlstore.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres unavailable and STORE_DRIVER=postgres; refusing to start: %w", err)
		}
		return repo, nil
	case config.StoreSQLite:
		repo, err := sqlstore.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.SeedAdminPassword) < 4 {
		return fmt.Errorf("SEED_ADMIN_PASSWORD must be at least 4 characters")
	}
	return nil
}
