package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aadvita/dues-engine/pkg/utils"
)

const (
	MemberStatusPending  = "pending"
	MemberStatusApproved = "approved"
	MemberStatusDenied   = "denied"
)

const (
	DiscountKindNone     = utils.DiscountNone
	DiscountKindAbsolute = utils.DiscountAbsolute
	DiscountKindPercent  = utils.DiscountPercent
)

// MaxAmount is the largest value the NUMERIC(10,2) amount columns hold.
var MaxAmount = decimal.RequireFromString("99999999.99")

// Member represents an association member and their dues configuration
type Member struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	NationalID    string          `json:"national_id" db:"national_id"`
	FullName      string          `json:"full_name" db:"full_name"`
	BirthDate     *time.Time      `json:"birth_date,omitempty" db:"birth_date"`
	Address       string          `json:"address" db:"address"`
	Phone         string          `json:"phone" db:"phone"`
	Email         string          `json:"email,omitempty" db:"email"`
	PasswordHash  string          `json:"-" db:"password_hash"`
	Status        string          `json:"status" db:"status"` // pending, approved, denied
	Active        bool            `json:"active" db:"active"`
	BaseAmount    decimal.Decimal `json:"base_amount" db:"base_amount"`
	DiscountKind  string          `json:"discount_kind" db:"discount_kind"`
	DiscountValue decimal.Decimal `json:"discount_value" db:"discount_value"`
	ApprovedAt    *time.Time      `json:"approved_at,omitempty" db:"approved_at"`
	Version       int             `json:"version" db:"version"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// Dues returns the member's current dues configuration.
func (m *Member) Dues() Dues {
	return Dues{BaseAmount: m.BaseAmount, DiscountKind: m.DiscountKind, DiscountValue: m.DiscountValue}
}

// Billable reports whether the monthly tick should extend this member's schedule.
func (m *Member) Billable() bool {
	return m.Status == MemberStatusApproved && m.Active && m.BaseAmount.IsPositive()
}

// Dues is a base amount plus a discount descriptor.
type Dues struct {
	BaseAmount    decimal.Decimal `json:"base_amount"`
	DiscountKind  string          `json:"discount_kind"`
	DiscountValue decimal.Decimal `json:"discount_value"`
}

// EffectiveAmount is the amount owed per installment under these dues.
func (d Dues) EffectiveAmount() (decimal.Decimal, error) {
	return utils.ApplyDiscount(d.BaseAmount, d.DiscountKind, d.DiscountValue)
}

// Equal reports whether two dues configurations charge the same way.
func (d Dues) Equal(other Dues) bool {
	return d.BaseAmount.Equal(other.BaseAmount) &&
		normalizeKind(d.DiscountKind) == normalizeKind(other.DiscountKind) &&
		d.DiscountValue.Equal(other.DiscountValue)
}

func normalizeKind(kind string) string {
	if kind == "" {
		return DiscountKindNone
	}
	return kind
}

// MemberFilter narrows member listings. Zero values mean "any".
type MemberFilter struct {
	Status string
	Active *bool
}

// DTOs for requests and responses

type RegisterMemberRequest struct {
	NationalID string `json:"national_id" validate:"required,national_id"`
	FullName   string `json:"full_name" validate:"required,min=3,max=200"`
	BirthDate  string `json:"birth_date" validate:"omitempty,datetime=2006-01-02"`
	Address    string `json:"address" validate:"max=300"`
	Phone      string `json:"phone" validate:"max=30"`
	Email      string `json:"email" validate:"omitempty,email"`
	Password   string `json:"password" validate:"required"`
}

type DuesRequest struct {
	BaseAmount    decimal.Decimal `json:"base_amount" validate:"gte=0,lte=99999999.99"`
	DiscountKind  string          `json:"discount_kind" validate:"omitempty,oneof=none absolute percent"`
	DiscountValue decimal.Decimal `json:"discount_value" validate:"gte=0,lte=99999999.99"`
}

func (r DuesRequest) Dues() Dues {
	kind := r.DiscountKind
	if kind == "" {
		kind = DiscountKindNone
	}
	return Dues{BaseAmount: r.BaseAmount, DiscountKind: kind, DiscountValue: r.DiscountValue}
}

type SetActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

type MemberScheduleResponse struct {
	Member       *Member        `json:"member"`
	Installments []*Installment `json:"installments"`
}
