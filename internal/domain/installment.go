package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	InstallmentStatusPending   = "pending"
	InstallmentStatusPaid      = "paid"
	InstallmentStatusCancelled = "cancelled"
)

// InstallmentStatuses lists every installment status in display order.
var InstallmentStatuses = []string{InstallmentStatusPending, InstallmentStatusPaid, InstallmentStatusCancelled}

// Installment is one monthly dues charge. Amount fields are a snapshot of the
// member's dues at generation time.
type Installment struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	MemberID       uuid.UUID       `json:"member_id" db:"member_id"`
	BaseAmount     decimal.Decimal `json:"base_amount" db:"base_amount"`
	DiscountKind   string          `json:"discount_kind" db:"discount_kind"`
	DiscountValue  decimal.Decimal `json:"discount_value" db:"discount_value"`
	FinalAmount    decimal.Decimal `json:"final_amount" db:"final_amount"`
	ReferenceMonth int             `json:"reference_month" db:"reference_month"`
	ReferenceYear  int             `json:"reference_year" db:"reference_year"`
	DueDate        time.Time       `json:"due_date" db:"due_date"`
	Status         string          `json:"status" db:"status"` // pending, paid, cancelled
	PaymentDate    *time.Time      `json:"payment_date,omitempty" db:"payment_date"`
	Notes          string          `json:"notes" db:"notes"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// Period returns the installment's reference month.
func (i *Installment) Period() Period {
	return Period{Year: i.ReferenceYear, Month: time.Month(i.ReferenceMonth)}
}

// IsOverdue reports whether the installment is unpaid past its due date.
func (i *Installment) IsOverdue(asOf time.Time) bool {
	return i.Status == InstallmentStatusPending && i.DueDate.Before(asOf)
}

// InstallmentFilter narrows ledger queries. Zero values mean "any".
type InstallmentFilter struct {
	MemberID      *uuid.UUID
	Statuses      []string
	DueFrom       *time.Time
	DueTo         *time.Time
	ReferenceYear int
}

// Matches applies the filter in memory.
func (f InstallmentFilter) Matches(i *Installment) bool {
	if f.MemberID != nil && i.MemberID != *f.MemberID {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if s == i.Status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.DueFrom != nil && i.DueDate.Before(*f.DueFrom) {
		return false
	}
	if f.DueTo != nil && i.DueDate.After(*f.DueTo) {
		return false
	}
	if f.ReferenceYear != 0 && i.ReferenceYear != f.ReferenceYear {
		return false
	}
	return true
}

type PayInstallmentRequest struct {
	PaidOn string `json:"paid_on" validate:"required,datetime=2006-01-02"`
}

type CancelInstallmentRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type RevertPaymentRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}
