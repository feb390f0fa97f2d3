package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/aadvita/dues-engine/internal/cache"
	"github.com/aadvita/dues-engine/internal/config"
	"github.com/aadvita/dues-engine/internal/handler"
	"github.com/aadvita/dues-engine/internal/repository"
	"github.com/aadvita/dues-engine/internal/service"
	"github.com/aadvita/dues-engine/internal/telemetry"
	"github.com/aadvita/dues-engine/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing)
	if err != nil {
		log.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Initialize database
	db, err := repository.Connect(ctx, cfg.Database, log)
	if err != nil {
		log.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Database.MigrateOnStart {
		applied, err := repository.Migrate(ctx, db)
		if err != nil {
			log.Error("failed to apply migrations", "error", err)
			os.Exit(1)
		}
		log.Info("migrations applied", "count", len(applied), "names", applied)
	}

	// Initialize Redis; without it the tick lock only holds within this process
	redisClient := initRedis(cfg)
	var coordinator service.TickCoordinator = cache.NewLocalTickCoordinator()
	if redisClient != nil {
		defer redisClient.Close()
		coordinator = cache.NewRedisTickCoordinator(redisClient)
	} else {
		log.Warn("REDIS_HOST is empty, monthly tick lock is process-local")
	}

	// Initialize repositories
	memberRepo := repository.NewMemberRepository(db)
	installmentRepo := repository.NewInstallmentRepository(db)

	// Initialize services
	generator := service.NewScheduleGenerator(cfg, nil)
	membershipService := service.NewMembershipService(memberRepo, installmentRepo, generator, cfg, log)
	ledgerService := service.NewLedgerService(memberRepo, installmentRepo, log)
	reportService := service.NewReportService(memberRepo, installmentRepo, generator, log)
	tickService := service.NewTickService(memberRepo, installmentRepo, generator, coordinator, cfg, log)

	validate := handler.NewValidator()
	handlers := handler.Handlers{
		Members: handler.NewMemberHandler(membershipService, ledgerService, validate),
		Ledger:  handler.NewLedgerHandler(ledgerService, reportService, validate, cfg.Location()),
		Tick:    handler.NewTickHandler(tickService),
		Health:  handler.NewHealthHandler(healthChecks(db, redisClient), cfg.Health.Timeout),
	}

	router := handler.NewRouter(handlers, handler.RouterOptions{
		AdminSecret:         []byte(cfg.Auth.AdminJWTSecret),
		TickSecret:          cfg.Scheduler.TickSecret,
		RegistrationLimiter: handler.NewClientLimiter(rate.Limit(cfg.Auth.RegistrationPerMin/60), cfg.Auth.RegistrationBurst, 10*time.Minute),
		RequestTimeout:      cfg.Server.RequestTimeout,
		Logger:              log,
	})

	// Start server
	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("server starting", "addr", server.Addr, "env", cfg.Server.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("tracer shutdown failed", "error", err)
	}

	log.Info("server exited")
}

func initRedis(cfg *config.Config) *redis.Client {
	if cfg.Redis.Host == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Host + ":" + cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func healthChecks(db *sqlx.DB, redisClient *redis.Client) map[string]handler.Checker {
	checks := map[string]handler.Checker{
		"database": db.PingContext,
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}
	return checks
}
