// Package cache coordinates monthly tick runs through Redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/aadvita/dues-engine/internal/domain"
	customError "github.com/aadvita/dues-engine/pkg/errors"
)

const (
	tickLockKey    = "dues:tick:lock"
	tickLastRunKey = "dues:tick:last_run"
)

// deletes the lock only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisTickCoordinator struct {
	client *redis.Client
}

func NewRedisTickCoordinator(client *redis.Client) *RedisTickCoordinator {
	return &RedisTickCoordinator{client: client}
}

func (c *RedisTickCoordinator) Acquire(ctx context.Context, ttl time.Duration) (func(context.Context) error, error) {
	token := uuid.NewString()
	ok, err := c.client.SetNX(ctx, tickLockKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire tick lock: %w", err)
	}
	if !ok {
		return nil, customError.ErrTickInProgress
	}

	return func(ctx context.Context) error {
		return releaseScript.Run(ctx, c.client, []string{tickLockKey}, token).Err()
	}, nil
}

func (c *RedisTickCoordinator) LastRun(ctx context.Context) (domain.Period, bool, error) {
	raw, err := c.client.Get(ctx, tickLastRunKey).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Period{}, false, nil
	}
	if err != nil {
		return domain.Period{}, false, fmt.Errorf("read last tick run: %w", err)
	}

	period, err := domain.ParsePeriod(raw)
	if err != nil {
		return domain.Period{}, false, fmt.Errorf("decode last tick run %q: %w", raw, err)
	}
	return period, true, nil
}

func (c *RedisTickCoordinator) RecordRun(ctx context.Context, period domain.Period) error {
	if err := c.client.Set(ctx, tickLastRunKey, period.String(), 0).Err(); err != nil {
		return fmt.Errorf("record tick run: %w", err)
	}
	return nil
}

// LocalTickCoordinator keeps the lock and last run in process memory. It serves
// single-instance deployments without Redis and tests.
type LocalTickCoordinator struct {
	mu      sync.Mutex
	held    bool
	token   uint64
	expires time.Time
	last    *domain.Period
}

func NewLocalTickCoordinator() *LocalTickCoordinator {
	return &LocalTickCoordinator{}
}

func (c *LocalTickCoordinator) Acquire(_ context.Context, ttl time.Duration) (func(context.Context) error, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if c.held && now.Before(c.expires) {
		return nil, customError.ErrTickInProgress
	}
	c.held = true
	c.token++
	c.expires = now.Add(ttl)
	token := c.token

	return func(context.Context) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		// a release after expiry must not free a newer holder's lock
		if c.token == token {
			c.held = false
		}
		return nil
	}, nil
}

func (c *LocalTickCoordinator) LastRun(context.Context) (domain.Period, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.last == nil {
		return domain.Period{}, false, nil
	}
	return *c.last, true, nil
}

func (c *LocalTickCoordinator) RecordRun(_ context.Context, period domain.Period) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.last = &period
	return nil
}
