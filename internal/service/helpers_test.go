package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/aadvita/dues-engine/internal/cache"
	"github.com/aadvita/dues-engine/internal/config"
	"github.com/aadvita/dues-engine/internal/domain"
	"github.com/aadvita/dues-engine/internal/repository/memory"
	"github.com/aadvita/dues-engine/pkg/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// at returns mid-morning of the given day, so civil-date truncation is exercised.
func at(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 10, 30, 0, 0, time.UTC)
}

func testConfig() *config.Config {
	return &config.Config{
		Scheduler: config.SchedulerConfig{
			Timezone:    "UTC",
			TickTimeout: time.Minute,
			TickLockTTL: time.Minute,
		},
		Business: config.BusinessConfig{
			ScheduleMonths:       12,
			FirstDueBusinessDays: 3,
		},
		Auth: config.AuthConfig{
			PasswordMinLength: 8,
		},
	}
}

type harness struct {
	clock       *fakeClock
	cfg         *config.Config
	store       *memory.Store
	generator   *ScheduleGenerator
	coordinator *cache.LocalTickCoordinator
	members     *MembershipService
	ledger      *LedgerService
	ticks       *TickService
	reports     *ReportService
}

func newHarness(t *testing.T, now time.Time) *harness {
	t.Helper()

	cfg := testConfig()
	clock := newFakeClock(now)
	store := memory.NewStore()
	log := logger.Discard()
	generator := NewScheduleGenerator(cfg, clock.Now)
	coordinator := cache.NewLocalTickCoordinator()

	return &harness{
		clock:       clock,
		cfg:         cfg,
		store:       store,
		generator:   generator,
		coordinator: coordinator,
		members:     NewMembershipService(store.Members(), store.Installments(), generator, cfg, log),
		ledger:      NewLedgerService(store.Members(), store.Installments(), log),
		ticks:       NewTickService(store.Members(), store.Installments(), generator, coordinator, cfg, log),
		reports:     NewReportService(store.Members(), store.Installments(), generator, log),
	}
}

func dues(base string, kind string, value string) domain.Dues {
	return domain.Dues{
		BaseAmount:    decimal.RequireFromString(base),
		DiscountKind:  kind,
		DiscountValue: decimal.RequireFromString(value),
	}
}

// seedPending stores a pending member directly, bypassing password hashing.
func (h *harness) seedPending(t *testing.T, name string) *domain.Member {
	t.Helper()

	now := h.clock.Now().UTC()
	member := &domain.Member{
		ID:            uuid.New(),
		NationalID:    uuid.NewString()[:14],
		FullName:      name,
		PasswordHash:  "x",
		Status:        domain.MemberStatusPending,
		Active:        true,
		BaseAmount:    decimal.Zero,
		DiscountKind:  domain.DiscountKindNone,
		DiscountValue: decimal.Zero,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, h.store.Members().Create(context.Background(), member))
	return member
}

// seedApproved approves a new member on the harness clock's current day.
func (h *harness) seedApproved(t *testing.T, name string, d domain.Dues) *domain.MemberScheduleResponse {
	t.Helper()

	member := h.seedPending(t, name)
	result, err := h.members.Approve(context.Background(), member.ID, d)
	require.NoError(t, err)
	return result
}

func dueDates(installments []*domain.Installment) []string {
	out := make([]string, len(installments))
	for i, installment := range installments {
		out[i] = installment.DueDate.Format("2006-01-02")
	}
	return out
}
