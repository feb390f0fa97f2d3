// Package scheduler triggers the monthly tick on the API server from a cron process.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aadvita/dues-engine/internal/domain"
	"github.com/aadvita/dues-engine/internal/handler"
)

type TickClient struct {
	url    string
	secret string
	client *http.Client
}

func NewTickClient(url, secret string, timeout time.Duration) *TickClient {
	return &TickClient{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: timeout},
	}
}

type tickEnvelope struct {
	Success bool               `json:"success"`
	Data    *domain.TickResult `json:"data"`
	Error   string             `json:"error"`
	Code    string             `json:"code"`
}

// Trigger posts one tick request and returns the server's counts.
func (c *TickClient) Trigger(ctx context.Context) (*domain.TickResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build tick request: %w", err)
	}
	req.Header.Set(handler.TickSecretHeader, c.secret)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post tick: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read tick response: %w", err)
	}

	var envelope tickEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("tick returned %d with undecodable body: %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || !envelope.Success {
		return nil, fmt.Errorf("tick returned %d: %s %s", resp.StatusCode, envelope.Code, envelope.Error)
	}
	if envelope.Data == nil {
		return nil, fmt.Errorf("tick returned no result")
	}
	return envelope.Data, nil
}

// Job adapts the client to a cron job that logs each run.
func Job(client *TickClient, logger *slog.Logger) cron.FuncJob {
	return func() {
		start := time.Now()
		logger.Info("running monthly tick")

		result, err := client.Trigger(context.Background())
		if err != nil {
			logger.Error("monthly tick failed", "error", err, "duration", time.Since(start))
			return
		}

		logger.Info("monthly tick finished",
			"generated", result.Generated,
			"skipped", result.Skipped,
			"failed", result.Failed,
			"duration", time.Since(start),
		)
	}
}

// NewCron builds a seconds-resolution scheduler in the billing timezone that never
// overlaps runs.
func NewCron(location *time.Location, logger *slog.Logger) *cron.Cron {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	return cron.New(
		cron.WithSeconds(),
		cron.WithLocation(location),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
}
