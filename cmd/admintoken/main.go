package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aadvita/dues-engine/internal/config"
	"github.com/aadvita/dues-engine/internal/handler"
)

func main() {
	subject := flag.String("sub", "", "administrator identity recorded as the actor")
	ttl := flag.Duration("ttl", 12*time.Hour, "token lifetime")
	flag.Parse()

	if *subject == "" {
		fmt.Fprintln(os.Stderr, "usage: admintoken -sub admin@example.org [-ttl 12h]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	token, err := handler.IssueAdminToken([]byte(cfg.Auth.AdminJWTSecret), *subject, *ttl)
	if err != nil {
		slog.Error("failed to issue token", "error", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
