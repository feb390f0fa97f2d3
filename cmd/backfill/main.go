package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/aadvita/dues-engine/internal/config"
	"github.com/aadvita/dues-engine/internal/domain"
	"github.com/aadvita/dues-engine/internal/repository"
	"github.com/aadvita/dues-engine/internal/service"
	"github.com/aadvita/dues-engine/pkg/logger"
)

func main() {
	force := flag.Bool("force", false, "regenerate schedules of members that already have installments (destroys paid history)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = domain.WithActor(ctx, "backfill")

	db, err := repository.Connect(ctx, cfg.Database, log)
	if err != nil {
		log.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if _, err := repository.Migrate(ctx, db); err != nil {
		log.Error("failed to apply migrations", "error", err)
		os.Exit(1)
	}

	memberRepo := repository.NewMemberRepository(db)
	installmentRepo := repository.NewInstallmentRepository(db)
	generator := service.NewScheduleGenerator(cfg, nil)
	members := service.NewMembershipService(memberRepo, installmentRepo, generator, cfg, log)

	result, err := members.Backfill(ctx, *force)
	if err != nil {
		log.Error("backfill failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("generated=%d skipped=%d failed=%d\n", result.Generated, result.Skipped, result.Failed)
	if result.Failed > 0 {
		os.Exit(2)
	}
}
