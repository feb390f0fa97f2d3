package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/aadvita/dues-engine/internal/config"
	"github.com/aadvita/dues-engine/internal/domain"
	"github.com/aadvita/dues-engine/internal/repository"
	customError "github.com/aadvita/dues-engine/pkg/errors"
	"github.com/aadvita/dues-engine/pkg/utils"
)

const memberEntity = "member"

var maxPercent = decimal.NewFromInt(100)

// MembershipService drives the member lifecycle and the schedule writes it triggers.
type MembershipService struct {
	MemberRepo      repository.MemberRepository
	InstallmentRepo repository.InstallmentRepository
	generator       *ScheduleGenerator
	config          *config.Config
	logger          *slog.Logger
	tracer          trace.Tracer
}

func NewMembershipService(
	memberRepo repository.MemberRepository,
	installmentRepo repository.InstallmentRepository,
	generator *ScheduleGenerator,
	config *config.Config,
	logger *slog.Logger,
) *MembershipService {
	return &MembershipService{
		MemberRepo:      memberRepo,
		InstallmentRepo: installmentRepo,
		generator:       generator,
		config:          config,
		logger:          logger,
		tracer:          tracer(),
	}
}

// Register records a self-registration as a pending member.
func (s *MembershipService) Register(ctx context.Context, request *domain.RegisterMemberRequest) (member *domain.Member, err error) {
	ctx, span := s.tracer.Start(ctx, "membership.register")
	defer func() { finishSpan(span, err) }()

	nationalID, ok := utils.NormalizeNationalID(request.NationalID)
	if !ok {
		return nil, customError.WrapValidation("national id must have 11 digits, optionally formatted as 000.000.000-00")
	}

	if len(request.Password) < s.config.Auth.PasswordMinLength {
		return nil, customError.WrapValidation("password must have at least %d characters", s.config.Auth.PasswordMinLength)
	}

	var birthDate *time.Time
	if request.BirthDate != "" {
		parsed, err := time.Parse(utils.DateLayout, request.BirthDate)
		if err != nil {
			return nil, customError.WrapValidation("birth_date must be formatted as YYYY-MM-DD")
		}
		birthDate = &parsed
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(request.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, customError.WrapProgramming("hash password: %v", err)
	}

	now := s.generator.Now().UTC()
	member = &domain.Member{
		ID:            uuid.New(),
		NationalID:    nationalID,
		FullName:      strings.TrimSpace(request.FullName),
		BirthDate:     birthDate,
		Address:       strings.TrimSpace(request.Address),
		Phone:         strings.TrimSpace(request.Phone),
		Email:         strings.ToLower(strings.TrimSpace(request.Email)),
		PasswordHash:  string(hash),
		Status:        domain.MemberStatusPending,
		Active:        true,
		BaseAmount:    decimal.Zero,
		DiscountKind:  domain.DiscountKindNone,
		DiscountValue: decimal.Zero,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err = s.MemberRepo.Create(ctx, member); err != nil {
		return nil, customError.WrapRepositoryError(err)
	}

	s.logger.InfoContext(ctx, "member registered", "member_id", member.ID)
	return member, nil
}

// Approve moves a pending member to approved with dues and generates the schedule
// from today in the same transaction.
func (s *MembershipService) Approve(ctx context.Context, id uuid.UUID, dues domain.Dues) (result *domain.MemberScheduleResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "membership.approve", trace.WithAttributes(attribute.String("member.id", id.String())))
	defer func() { finishSpan(span, err) }()

	if err = validateDues(dues); err != nil {
		return nil, err
	}

	member, err := s.getMember(ctx, id)
	if err != nil {
		return nil, err
	}
	if member.Status != domain.MemberStatusPending {
		return nil, customError.WrapInvalidTransition(memberEntity, member.Status, domain.MemberStatusApproved)
	}
	if !dues.BaseAmount.IsPositive() {
		return nil, customError.WrapPrecondition("approving a member requires a positive base amount")
	}

	now := s.generator.Now().UTC()
	member.Status = domain.MemberStatusApproved
	member.ApprovedAt = &now
	applyDues(member, dues)

	schedule, err := s.generator.Generate(member, s.generator.Today())
	if err != nil {
		return nil, err
	}

	if _, err = s.InstallmentRepo.SaveSchedule(ctx, member, schedule, false); err != nil {
		return nil, s.wrapMemberError(id, err)
	}

	s.logger.InfoContext(ctx, "member approved",
		"actor", domain.ActorFrom(ctx),
		"member_id", id,
		"base_amount", member.BaseAmount.StringFixed(2),
		"discount_kind", member.DiscountKind,
		"discount_value", member.DiscountValue.StringFixed(2),
		"installments", len(schedule),
	)
	return &domain.MemberScheduleResponse{Member: member, Installments: schedule}, nil
}

// Deny moves a pending member to denied.
func (s *MembershipService) Deny(ctx context.Context, id uuid.UUID) (member *domain.Member, err error) {
	ctx, span := s.tracer.Start(ctx, "membership.deny", trace.WithAttributes(attribute.String("member.id", id.String())))
	defer func() { finishSpan(span, err) }()

	member, err = s.getMember(ctx, id)
	if err != nil {
		return nil, err
	}
	if member.Status != domain.MemberStatusPending {
		return nil, customError.WrapInvalidTransition(memberEntity, member.Status, domain.MemberStatusDenied)
	}

	member.Status = domain.MemberStatusDenied
	if err = s.MemberRepo.Update(ctx, member); err != nil {
		return nil, s.wrapMemberError(id, err)
	}

	s.logger.InfoContext(ctx, "member denied", "actor", domain.ActorFrom(ctx), "member_id", id)
	return member, nil
}

// UpdateDues changes an approved member's dues. A changed configuration with a
// positive base regenerates the schedule from today, discarding the previous one
// including its paid rows.
func (s *MembershipService) UpdateDues(ctx context.Context, id uuid.UUID, dues domain.Dues) (result *domain.MemberScheduleResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "membership.update_dues", trace.WithAttributes(attribute.String("member.id", id.String())))
	defer func() { finishSpan(span, err) }()

	if err = validateDues(dues); err != nil {
		return nil, err
	}

	member, err := s.getMember(ctx, id)
	if err != nil {
		return nil, err
	}
	if member.Status != domain.MemberStatusApproved {
		return nil, customError.WrapPrecondition("dues can only be changed on an approved member, member is %s", member.Status)
	}

	if member.Dues().Equal(dues) {
		installments, err := s.InstallmentRepo.ListByMember(ctx, id)
		if err != nil {
			return nil, customError.WrapDatabaseError(err)
		}
		return &domain.MemberScheduleResponse{Member: member, Installments: installments}, nil
	}

	previous := member.Dues()
	applyDues(member, dues)

	// Without a positive base there is nothing to bill; the schedule is left as is
	// and the tick stops extending it.
	if !member.BaseAmount.IsPositive() {
		if err = s.MemberRepo.Update(ctx, member); err != nil {
			return nil, s.wrapMemberError(id, err)
		}
		installments, err := s.InstallmentRepo.ListByMember(ctx, id)
		if err != nil {
			return nil, customError.WrapDatabaseError(err)
		}
		s.logger.InfoContext(ctx, "member dues cleared", "actor", domain.ActorFrom(ctx), "member_id", id)
		return &domain.MemberScheduleResponse{Member: member, Installments: installments}, nil
	}

	schedule, err := s.generator.Generate(member, s.generator.Today())
	if err != nil {
		return nil, err
	}

	paidDeleted, err := s.InstallmentRepo.SaveSchedule(ctx, member, schedule, true)
	if err != nil {
		return nil, s.wrapMemberError(id, err)
	}

	attrs := []any{
		"actor", domain.ActorFrom(ctx),
		"member_id", id,
		"previous_base_amount", previous.BaseAmount.StringFixed(2),
		"base_amount", member.BaseAmount.StringFixed(2),
		"discount_kind", member.DiscountKind,
		"discount_value", member.DiscountValue.StringFixed(2),
		"paid_installments_deleted", paidDeleted,
	}
	if paidDeleted > 0 {
		s.logger.WarnContext(ctx, "schedule regenerated, paid installments discarded", attrs...)
	} else {
		s.logger.InfoContext(ctx, "schedule regenerated", attrs...)
	}
	return &domain.MemberScheduleResponse{Member: member, Installments: schedule}, nil
}

// SetActive toggles the active flag of an approved member. Installments are untouched.
func (s *MembershipService) SetActive(ctx context.Context, id uuid.UUID, active bool) (member *domain.Member, err error) {
	ctx, span := s.tracer.Start(ctx, "membership.set_active", trace.WithAttributes(
		attribute.String("member.id", id.String()),
		attribute.Bool("member.active", active),
	))
	defer func() { finishSpan(span, err) }()

	member, err = s.getMember(ctx, id)
	if err != nil {
		return nil, err
	}
	if member.Status != domain.MemberStatusApproved {
		return nil, customError.WrapInvalidTransition(memberEntity, member.Status, activeLabel(active))
	}
	if member.Active == active {
		return member, nil
	}

	member.Active = active
	if err = s.MemberRepo.Update(ctx, member); err != nil {
		return nil, s.wrapMemberError(id, err)
	}

	s.logger.InfoContext(ctx, "member "+activeLabel(active), "actor", domain.ActorFrom(ctx), "member_id", id)
	return member, nil
}

// Delete removes the member together with all of its installments.
func (s *MembershipService) Delete(ctx context.Context, id uuid.UUID) (err error) {
	ctx, span := s.tracer.Start(ctx, "membership.delete", trace.WithAttributes(attribute.String("member.id", id.String())))
	defer func() { finishSpan(span, err) }()

	if err = s.MemberRepo.Delete(ctx, id); err != nil {
		return s.wrapMemberError(id, err)
	}

	s.logger.InfoContext(ctx, "member deleted", "actor", domain.ActorFrom(ctx), "member_id", id)
	return nil
}

func (s *MembershipService) Get(ctx context.Context, id uuid.UUID) (*domain.Member, error) {
	return s.getMember(ctx, id)
}

func (s *MembershipService) List(ctx context.Context, filter domain.MemberFilter) ([]*domain.Member, error) {
	if filter.Status != "" &&
		filter.Status != domain.MemberStatusPending &&
		filter.Status != domain.MemberStatusApproved &&
		filter.Status != domain.MemberStatusDenied {
		return nil, customError.WrapValidation("unknown member status %q", filter.Status)
	}

	members, err := s.MemberRepo.List(ctx, filter)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	return members, nil
}

// Backfill gives every approved member with a positive base a schedule. Members that
// already have installments are skipped unless force is set, in which case their
// schedule is regenerated from today.
func (s *MembershipService) Backfill(ctx context.Context, force bool) (*domain.TickResult, error) {
	members, err := s.MemberRepo.List(ctx, domain.MemberFilter{Status: domain.MemberStatusApproved})
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}

	result := &domain.TickResult{}
	for _, member := range members {
		if !member.BaseAmount.IsPositive() {
			result.Skipped++
			continue
		}

		existing, err := s.InstallmentRepo.ListByMember(ctx, member.ID)
		if err != nil {
			result.Failed++
			s.logger.ErrorContext(ctx, "backfill: list installments", "member_id", member.ID, "error", err)
			continue
		}
		if len(existing) > 0 && !force {
			result.Skipped++
			continue
		}

		schedule, err := s.generator.Generate(member, s.generator.Today())
		if err != nil {
			result.Failed++
			s.logger.ErrorContext(ctx, "backfill: generate schedule", "member_id", member.ID, "error", err)
			continue
		}

		paidDeleted, err := s.InstallmentRepo.SaveSchedule(ctx, member, schedule, len(existing) > 0)
		if err != nil {
			result.Failed++
			s.logger.ErrorContext(ctx, "backfill: save schedule", "member_id", member.ID, "error", err)
			continue
		}

		result.Generated++
		if paidDeleted > 0 {
			s.logger.WarnContext(ctx, "backfill regenerated schedule, paid installments discarded",
				"member_id", member.ID, "paid_installments_deleted", paidDeleted)
		}
	}

	s.logger.InfoContext(ctx, "backfill finished",
		"actor", domain.ActorFrom(ctx),
		"force", force,
		"generated", result.Generated,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
	return result, nil
}

func (s *MembershipService) getMember(ctx context.Context, id uuid.UUID) (*domain.Member, error) {
	member, err := s.MemberRepo.GetByID(ctx, id)
	if err != nil {
		return nil, s.wrapMemberError(id, err)
	}
	return member, nil
}

func (s *MembershipService) wrapMemberError(id uuid.UUID, err error) error {
	switch {
	case errors.Is(err, customError.ErrMemberNotFound):
		return customError.WrapMemberNotFound(id.String())
	case errors.Is(err, customError.ErrScheduleExists):
		return customError.WrapPrecondition("member %s already has installments", id)
	}
	return customError.WrapRepositoryError(err)
}

func validateDues(dues domain.Dues) error {
	if dues.BaseAmount.IsNegative() {
		return customError.WrapValidation("base_amount must not be negative")
	}
	if dues.DiscountValue.IsNegative() {
		return customError.WrapValidation("discount_value must not be negative")
	}
	if dues.BaseAmount.Round(2).GreaterThan(domain.MaxAmount) || dues.DiscountValue.Round(2).GreaterThan(domain.MaxAmount) {
		return customError.WrapValidation("amounts must not exceed %s", domain.MaxAmount.StringFixed(2))
	}
	if !utils.IsDiscountKind(dues.DiscountKind) {
		return customError.WrapValidation("discount_kind must be one of none, absolute, percent")
	}
	if dues.DiscountKind == domain.DiscountKindPercent && dues.DiscountValue.GreaterThan(maxPercent) {
		return customError.WrapValidation("percent discount must not exceed 100")
	}
	return nil
}

func applyDues(member *domain.Member, dues domain.Dues) {
	kind := dues.DiscountKind
	if kind == "" {
		kind = domain.DiscountKindNone
	}
	member.BaseAmount = dues.BaseAmount.Round(2)
	member.DiscountKind = kind
	member.DiscountValue = dues.DiscountValue.Round(2)
}

func activeLabel(active bool) string {
	if active {
		return "activated"
	}
	return "deactivated"
}
