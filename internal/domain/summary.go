package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerSummary aggregates installments for dashboards and exports.
type LedgerSummary struct {
	TotalCount          int                        `json:"total_count"`
	ByStatus            map[string]int             `json:"by_status"`
	TotalAmountByStatus map[string]decimal.Decimal `json:"total_amount_by_status"`
	TotalAmount         decimal.Decimal            `json:"total_amount"`
	Overdue             []MemberOverdue            `json:"overdue"`
}

// MemberOverdue groups one member's overdue installments.
type MemberOverdue struct {
	MemberID     uuid.UUID       `json:"member_id"`
	MemberName   string          `json:"member_name"`
	Count        int             `json:"count"`
	Amount       decimal.Decimal `json:"amount"`
	Installments []*Installment  `json:"installments"`
}

// TickResult reports what a monthly tick run did.
type TickResult struct {
	Generated int `json:"generated"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}
