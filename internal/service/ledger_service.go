package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aadvita/dues-engine/internal/domain"
	"github.com/aadvita/dues-engine/internal/repository"
	customError "github.com/aadvita/dues-engine/pkg/errors"
)

const installmentEntity = "installment"

// LedgerService applies status transitions to installments and lists them.
type LedgerService struct {
	MemberRepo      repository.MemberRepository
	InstallmentRepo repository.InstallmentRepository
	logger          *slog.Logger
	tracer          trace.Tracer
}

func NewLedgerService(
	memberRepo repository.MemberRepository,
	installmentRepo repository.InstallmentRepository,
	logger *slog.Logger,
) *LedgerService {
	return &LedgerService{
		MemberRepo:      memberRepo,
		InstallmentRepo: installmentRepo,
		logger:          logger,
		tracer:          tracer(),
	}
}

// RecordPayment moves a pending installment to paid on paidOn.
func (s *LedgerService) RecordPayment(ctx context.Context, id uuid.UUID, paidOn time.Time) (installment *domain.Installment, err error) {
	ctx, span := s.tracer.Start(ctx, "ledger.record_payment", trace.WithAttributes(attribute.String("installment.id", id.String())))
	defer func() { finishSpan(span, err) }()

	paid := time.Date(paidOn.Year(), paidOn.Month(), paidOn.Day(), 0, 0, 0, 0, time.UTC)
	installment, err = s.transition(ctx, id, func(i *domain.Installment) error {
		switch i.Status {
		case domain.InstallmentStatusPending:
		case domain.InstallmentStatusPaid:
			return customError.NewBusinessError(customError.KindInvalidTransition, customError.ErrCodeInvalidTransition,
				"installment is already paid", customError.ErrInvalidTransition)
		case domain.InstallmentStatusCancelled:
			return customError.NewBusinessError(customError.KindInvalidTransition, customError.ErrCodeInvalidTransition,
				"installment is cancelled, reopen it first", customError.ErrInvalidTransition)
		default:
			return customError.WrapInvalidTransition(installmentEntity, i.Status, domain.InstallmentStatusPaid)
		}
		i.Status = domain.InstallmentStatusPaid
		i.PaymentDate = &paid
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "installment paid",
		"actor", domain.ActorFrom(ctx),
		"installment_id", id,
		"member_id", installment.MemberID,
		"paid_on", paid.Format("2006-01-02"),
	)
	return installment, nil
}

// Cancel moves a pending installment to cancelled and keeps reason in its notes.
func (s *LedgerService) Cancel(ctx context.Context, id uuid.UUID, reason string) (installment *domain.Installment, err error) {
	ctx, span := s.tracer.Start(ctx, "ledger.cancel", trace.WithAttributes(attribute.String("installment.id", id.String())))
	defer func() { finishSpan(span, err) }()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, customError.WrapValidation("a cancellation reason is required")
	}

	installment, err = s.transition(ctx, id, func(i *domain.Installment) error {
		if i.Status != domain.InstallmentStatusPending {
			return customError.WrapInvalidTransition(installmentEntity, i.Status, domain.InstallmentStatusCancelled)
		}
		i.Status = domain.InstallmentStatusCancelled
		i.Notes = reason
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "installment cancelled",
		"actor", domain.ActorFrom(ctx),
		"installment_id", id,
		"member_id", installment.MemberID,
		"reason", reason,
	)
	return installment, nil
}

// Reopen moves a cancelled installment back to pending.
func (s *LedgerService) Reopen(ctx context.Context, id uuid.UUID) (installment *domain.Installment, err error) {
	ctx, span := s.tracer.Start(ctx, "ledger.reopen", trace.WithAttributes(attribute.String("installment.id", id.String())))
	defer func() { finishSpan(span, err) }()

	installment, err = s.transition(ctx, id, func(i *domain.Installment) error {
		if i.Status != domain.InstallmentStatusCancelled {
			return customError.WrapInvalidTransition(installmentEntity, i.Status, domain.InstallmentStatusPending)
		}
		i.Status = domain.InstallmentStatusPending
		i.PaymentDate = nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "installment reopened",
		"actor", domain.ActorFrom(ctx),
		"installment_id", id,
		"member_id", installment.MemberID,
	)
	return installment, nil
}

// RevertPayment is the administrative override paid -> pending. It is always
// logged as an anomaly.
func (s *LedgerService) RevertPayment(ctx context.Context, id uuid.UUID, reason string) (installment *domain.Installment, err error) {
	ctx, span := s.tracer.Start(ctx, "ledger.revert_payment", trace.WithAttributes(attribute.String("installment.id", id.String())))
	defer func() { finishSpan(span, err) }()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, customError.WrapValidation("a reason is required to revert a payment")
	}

	var previous *time.Time
	installment, err = s.transition(ctx, id, func(i *domain.Installment) error {
		if i.Status != domain.InstallmentStatusPaid {
			return customError.WrapInvalidTransition(installmentEntity, i.Status, domain.InstallmentStatusPending)
		}
		previous = i.PaymentDate
		i.Status = domain.InstallmentStatusPending
		i.PaymentDate = nil
		i.Notes = reason
		return nil
	})
	if err != nil {
		return nil, err
	}

	attrs := []any{
		"actor", domain.ActorFrom(ctx),
		"installment_id", id,
		"member_id", installment.MemberID,
		"reason", reason,
	}
	if previous != nil {
		attrs = append(attrs, "previous_payment_date", previous.Format("2006-01-02"))
	}
	s.logger.WarnContext(ctx, "payment reverted by administrator", attrs...)
	return installment, nil
}

// ListForMember returns the member's installments in reference-period order.
func (s *LedgerService) ListForMember(ctx context.Context, memberID uuid.UUID) ([]*domain.Installment, error) {
	if _, err := s.MemberRepo.GetByID(ctx, memberID); err != nil {
		if errors.Is(err, customError.ErrMemberNotFound) {
			return nil, customError.WrapMemberNotFound(memberID.String())
		}
		return nil, customError.WrapDatabaseError(err)
	}

	installments, err := s.InstallmentRepo.ListByMember(ctx, memberID)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	return installments, nil
}

// ListOverdue returns pending installments due strictly before asOf.
func (s *LedgerService) ListOverdue(ctx context.Context, asOf time.Time) ([]*domain.Installment, error) {
	installments, err := s.InstallmentRepo.ListOverdue(ctx, asOf)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	return installments, nil
}

func (s *LedgerService) transition(ctx context.Context, id uuid.UUID, mutate repository.InstallmentMutator) (*domain.Installment, error) {
	installment, err := s.InstallmentRepo.Transition(ctx, id, mutate)
	if err == nil {
		return installment, nil
	}
	if errors.Is(err, customError.ErrInstallmentNotFound) {
		return nil, customError.WrapInstallmentNotFound(id.String())
	}
	return nil, customError.WrapRepositoryError(err)
}
