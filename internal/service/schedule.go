package service

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aadvita/dues-engine/internal/config"
	"github.com/aadvita/dues-engine/internal/domain"
	customError "github.com/aadvita/dues-engine/pkg/errors"
	"github.com/aadvita/dues-engine/pkg/utils"
)

// ScheduleGenerator builds installment schedules. It does no I/O.
type ScheduleGenerator struct {
	months        int
	firstDueGrace int
	location      *time.Location
	now           func() time.Time
}

func NewScheduleGenerator(cfg *config.Config, now func() time.Time) *ScheduleGenerator {
	if now == nil {
		now = time.Now
	}
	return &ScheduleGenerator{
		months:        cfg.Business.ScheduleMonths,
		firstDueGrace: cfg.Business.FirstDueBusinessDays,
		location:      cfg.Location(),
		now:           now,
	}
}

// Now returns the generator's clock reading.
func (g *ScheduleGenerator) Now() time.Time {
	return g.now()
}

// Today returns the current civil date in the configured timezone.
func (g *ScheduleGenerator) Today() time.Time {
	return utils.CivilDate(g.now(), g.location)
}

// CurrentPeriod returns the current civil month in the configured timezone.
func (g *ScheduleGenerator) CurrentPeriod() domain.Period {
	return domain.PeriodOf(g.Today())
}

// Generate returns the full schedule for member anchored at activation.
//
// The first installment falls a few business days after activation and its month is
// the reference month of the schedule. Every following installment is due on the
// activation day-of-month, clamped to the month's last day.
func (g *ScheduleGenerator) Generate(member *domain.Member, activation time.Time) ([]*domain.Installment, error) {
	if member.Status != domain.MemberStatusApproved {
		return nil, customError.WrapPrecondition("member %s is %s, schedules require an approved member", member.ID, member.Status)
	}
	if !member.BaseAmount.IsPositive() {
		return nil, customError.WrapPrecondition("member %s has no positive base amount", member.ID)
	}

	amount, err := member.Dues().EffectiveAmount()
	if err != nil {
		return nil, err
	}

	activation = time.Date(activation.Year(), activation.Month(), activation.Day(), 0, 0, 0, 0, time.UTC)
	anchorDay := activation.Day()

	firstDue, err := utils.AddBusinessDays(activation, g.firstDueGrace)
	if err != nil {
		return nil, err
	}

	createdAt := g.now().UTC()
	schedule := make([]*domain.Installment, 0, g.months)
	schedule = append(schedule, newInstallment(member, amount, firstDue, createdAt))

	first := domain.PeriodOf(firstDue)
	for i := 1; i < g.months; i++ {
		period := first.AddMonths(i)
		due, err := utils.SafeDayOfMonth(period.Year, period.Month, anchorDay)
		if err != nil {
			return nil, err
		}
		schedule = append(schedule, newInstallment(member, amount, due, createdAt))
	}

	return schedule, nil
}

// PlanNext decides which installment the monthly tick appends for member, given
// its latest installment (nil if none). It returns nil when the member was already
// served during the current civil month.
func (g *ScheduleGenerator) PlanNext(member *domain.Member, latest *domain.Installment) (*domain.Installment, error) {
	if !member.Billable() {
		return nil, nil
	}

	now := g.now()
	current := g.CurrentPeriod()

	target := current
	anchorDay := member.CreatedAt.In(g.location).Day()
	if latest != nil {
		if domain.PeriodOf(latest.CreatedAt.In(g.location)) == current {
			return nil, nil
		}
		if next := latest.Period().AddMonths(1); next.After(current) {
			target = next
		}
		anchorDay = latest.DueDate.Day()
	}

	amount, err := member.Dues().EffectiveAmount()
	if err != nil {
		return nil, err
	}

	due, err := utils.SafeDayOfMonth(target.Year, target.Month, anchorDay)
	if err != nil {
		return nil, err
	}

	return newInstallment(member, amount, due, now.UTC()), nil
}

func newInstallment(member *domain.Member, amount decimal.Decimal, due time.Time, createdAt time.Time) *domain.Installment {
	kind := member.DiscountKind
	if kind == "" {
		kind = domain.DiscountKindNone
	}
	return &domain.Installment{
		ID:             uuid.New(),
		MemberID:       member.ID,
		BaseAmount:     member.BaseAmount,
		DiscountKind:   kind,
		DiscountValue:  member.DiscountValue,
		FinalAmount:    amount,
		ReferenceMonth: int(due.Month()),
		ReferenceYear:  due.Year(),
		DueDate:        due,
		Status:         domain.InstallmentStatusPending,
		CreatedAt:      createdAt,
	}
}
