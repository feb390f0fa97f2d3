package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aadvita/dues-engine/internal/config"
	"github.com/aadvita/dues-engine/internal/scheduler"
	"github.com/aadvita/dues-engine/pkg/logger"
)

func main() {
	once := flag.Bool("once", false, "trigger a single monthly tick and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	client := scheduler.NewTickClient(cfg.Scheduler.TickURL, cfg.Scheduler.TickSecret, cfg.Scheduler.TickTimeout)

	if *once {
		result, err := client.Trigger(context.Background())
		if err != nil {
			log.Error("monthly tick failed", "error", err)
			os.Exit(1)
		}
		log.Info("monthly tick finished", "generated", result.Generated, "skipped", result.Skipped, "failed", result.Failed)
		return
	}

	c := scheduler.NewCron(cfg.Location(), log)
	if _, err := c.AddJob(cfg.Scheduler.TickSpec, scheduler.Job(client, log)); err != nil {
		log.Error("invalid tick schedule", "spec", cfg.Scheduler.TickSpec, "error", err)
		os.Exit(1)
	}

	c.Start()
	log.Info("scheduler started", "spec", cfg.Scheduler.TickSpec, "timezone", cfg.Location().String(), "target", cfg.Scheduler.TickURL)

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down scheduler")
	<-c.Stop().Done()
	log.Info("scheduler stopped")
}
