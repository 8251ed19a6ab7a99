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

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"posledger/internal/alert"
	"posledger/internal/cache"
	"posledger/internal/config"
	"posledger/internal/domain"
	"posledger/internal/httpapi"
	"posledger/internal/obs"
	"posledger/internal/service"
	"posledger/internal/store"
	"posledger/internal/store/memory"
	pgstore "posledger/internal/store/postgres"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := obs.NewLogger(obs.LoggerConfig{
		IsDevelopment: cfg.IsDevelopment(),
		Encoding:      cfg.LogEncoding,
		Level:         cfg.LogLevel,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal("invalid security configuration", zap.Error(err))
	}
	location, err := time.LoadLocation(cfg.ReportTimezone)
	if err != nil {
		logger.Fatal("invalid REPORT_TIMEZONE", zap.String("timezone", cfg.ReportTimezone), zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal("schema migration failed", zap.Error(err))
		}
		if err := bootstrapAdmin(ctx, pg, cfg.SeedAdminPassword); err != nil {
			logger.Fatal("admin bootstrap failed", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		logger.Info("repository: in-memory")
	}

	stockCache := cache.StockCache(cache.NoopStockCache{})
	notifier := alert.Multi{alert.NewLogNotifier(logger)}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, using noop cache and log alerts only", zap.Error(err))
			_ = client.Close()
		} else {
			stockCache = cache.NewRedisStockCache(client)
			notifier = append(notifier, alert.NewRedisNotifier(client, cfg.AlertChannel))
			closers = append(closers, client.Close)
			logger.Info("cache: redis", zap.String("alert_channel", cfg.AlertChannel))
		}
	} else {
		logger.Info("cache: noop")
	}

	svc := service.New(repo, service.Options{
		LowStockThreshold: cfg.LowStockThreshold,
		StockCacheTTL:     time.Duration(cfg.StockCacheTTLSeconds) * time.Second,
		Location:          location,
		Logger:            logger,
		Notifier:          notifier,
		Cache:             stockCache,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("ledger backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Error("close error", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

// bootstrapAdmin creates the first admin on an empty user table.
func bootstrapAdmin(ctx context.Context, pg *pgstore.Store, password string) error {
	users, err := pg.ListUsers(ctx)
	if err != nil || len(users) > 0 || password == "" {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return pg.CreateUser(ctx, domain.UserAccount{
		Username:  "admin",
		Password:  string(hash),
		Role:      domain.RoleAdmin,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	})
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects repeated digits, straight runs and common PINs.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "111111": true,
		"121212": true, "112233": true, "123123": true, "696969": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
