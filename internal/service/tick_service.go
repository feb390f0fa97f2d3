package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/aadvita/dues-engine/internal/config"
	"github.com/aadvita/dues-engine/internal/domain"
	"github.com/aadvita/dues-engine/internal/repository"
	customError "github.com/aadvita/dues-engine/pkg/errors"
)

// TickCoordinator serializes tick runs across processes and remembers the last
// month a run completed for.
type TickCoordinator interface {
	// Acquire takes the run lock for ttl. A held lock yields errors.ErrTickInProgress.
	Acquire(ctx context.Context, ttl time.Duration) (release func(context.Context) error, err error)
	// LastRun returns the month of the last completed run; ok is false if none was recorded.
	LastRun(ctx context.Context) (period domain.Period, ok bool, err error)
	RecordRun(ctx context.Context, period domain.Period) error
}

// TickService extends the schedule of every billable member by one month per run.
type TickService struct {
	MemberRepo      repository.MemberRepository
	InstallmentRepo repository.InstallmentRepository
	generator       *ScheduleGenerator
	coordinator     TickCoordinator
	config          *config.Config
	logger          *slog.Logger
	tracer          trace.Tracer
	generated       metric.Int64Counter
}

func NewTickService(
	memberRepo repository.MemberRepository,
	installmentRepo repository.InstallmentRepository,
	generator *ScheduleGenerator,
	coordinator TickCoordinator,
	config *config.Config,
	logger *slog.Logger,
) *TickService {
	counter, err := otel.Meter(instrumentationName).Int64Counter(
		"dues.tick.installments_generated",
		metric.WithDescription("Installments appended by the monthly tick"),
	)
	if err != nil {
		logger.Warn("tick counter unavailable", "error", err)
	}

	return &TickService{
		MemberRepo:      memberRepo,
		InstallmentRepo: installmentRepo,
		generator:       generator,
		coordinator:     coordinator,
		config:          config,
		logger:          logger,
		tracer:          tracer(),
		generated:       counter,
	}
}

// RunMonthlyTick appends at most one installment per billable member. Running it
// again within the same civil month changes nothing. Per-member failures are
// counted and logged; the batch continues.
func (s *TickService) RunMonthlyTick(ctx context.Context) (result *domain.TickResult, err error) {
	ctx, span := s.tracer.Start(ctx, "tick.run")
	defer func() { finishSpan(span, err) }()

	ctx, cancel := context.WithTimeout(ctx, s.config.Scheduler.TickTimeout)
	defer cancel()

	current := s.generator.CurrentPeriod()
	span.SetAttributes(attribute.String("tick.period", current.String()))

	release, err := s.coordinator.Acquire(ctx, s.config.Scheduler.TickLockTTL)
	if err != nil {
		if errors.Is(err, customError.ErrTickInProgress) {
			return nil, customError.NewBusinessError(customError.KindConflict, customError.ErrCodeConflict,
				"monthly tick is already running", err)
		}
		return nil, customError.WrapCacheError(err)
	}
	defer func() {
		if releaseErr := release(context.WithoutCancel(ctx)); releaseErr != nil {
			s.logger.Warn("release tick lock", "error", releaseErr)
		}
	}()

	last, ok, err := s.coordinator.LastRun(ctx)
	if err != nil {
		return nil, customError.WrapCacheError(err)
	}
	if ok && current.Before(last) {
		return nil, customError.NewBusinessError(customError.KindPrecondition, customError.ErrCodePrecondition,
			fmt.Sprintf("tick called out of order: current month %s is before last run %s", current, last),
			customError.ErrTickOutOfOrder)
	}

	members, err := s.MemberRepo.ListBillable(ctx)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}

	result = &domain.TickResult{}
	for _, member := range members {
		if ctx.Err() != nil {
			s.logger.ErrorContext(ctx, "monthly tick interrupted",
				"period", current.String(),
				"remaining", len(members)-result.Generated-result.Skipped-result.Failed,
				"error", ctx.Err(),
			)
			return result, fmt.Errorf("monthly tick interrupted: %w", ctx.Err())
		}

		installment, err := s.InstallmentRepo.AppendInstallment(ctx, member.ID, s.generator.PlanNext)
		switch {
		case err != nil:
			result.Failed++
			s.logger.ErrorContext(ctx, "monthly tick failed for member", "member_id", member.ID, "error", err)
		case installment == nil:
			result.Skipped++
		default:
			result.Generated++
			s.logger.DebugContext(ctx, "installment appended",
				"member_id", member.ID,
				"period", installment.Period().String(),
				"due_date", installment.DueDate.Format("2006-01-02"),
			)
		}
	}

	if s.generated != nil && result.Generated > 0 {
		s.generated.Add(ctx, int64(result.Generated), metric.WithAttributes(attribute.String("period", current.String())))
	}

	if err = s.coordinator.RecordRun(ctx, current); err != nil {
		return result, customError.WrapCacheError(err)
	}

	s.logger.InfoContext(ctx, "monthly tick finished",
		"actor", domain.ActorFrom(ctx),
		"period", current.String(),
		"generated", result.Generated,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
	return result, nil
}
