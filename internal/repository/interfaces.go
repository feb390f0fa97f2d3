package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/aadvita/dues-engine/internal/domain"
)

// MemberRepository defines the interface for member data operations
type MemberRepository interface {
	// Create inserts a new member. A taken national id yields errors.ErrDuplicateNationalID.
	Create(ctx context.Context, member *domain.Member) error

	// GetByID retrieves a member by id, or errors.ErrMemberNotFound
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Member, error)

	// GetByNationalID retrieves a member by canonical national id
	GetByNationalID(ctx context.Context, nationalID string) (*domain.Member, error)

	// Update persists lifecycle fields if member.Version still matches the stored row
	// and bumps the version. A stale version yields errors.ErrConflict.
	Update(ctx context.Context, member *domain.Member) error

	// Delete removes the member and, in the same transaction, all of its installments.
	Delete(ctx context.Context, id uuid.UUID) error

	// List returns members matching filter, oldest first
	List(ctx context.Context, filter domain.MemberFilter) ([]*domain.Member, error)

	// ListBillable returns approved, active members with a positive base amount
	ListBillable(ctx context.Context) ([]*domain.Member, error)
}

// AppendPlanner decides, under the member lock, which installment (if any) to append.
// It receives the freshly read member and its latest installment (nil if none).
// Returning nil means nothing to do.
type AppendPlanner func(member *domain.Member, latest *domain.Installment) (*domain.Installment, error)

// InstallmentMutator applies a status transition to a locked installment.
type InstallmentMutator func(installment *domain.Installment) error

// InstallmentRepository defines the interface for the installment ledger
type InstallmentRepository interface {
	// SaveSchedule locks the member row, persists the member's lifecycle fields (optimistic
	// version check) and writes schedule in one transaction. With replace the member's
	// existing installments are deleted first; without it, existing installments yield
	// errors.ErrScheduleExists. Returns the number of deleted rows that were paid.
	SaveSchedule(ctx context.Context, member *domain.Member, schedule []*domain.Installment, replace bool) (int, error)

	// AppendInstallment locks the member row, reads the latest installment, asks plan for
	// a candidate and inserts it unless the member already has that period.
	// Returns the inserted installment or nil.
	AppendInstallment(ctx context.Context, memberID uuid.UUID, plan AppendPlanner) (*domain.Installment, error)

	// Transition locks the installment row, applies mutate and persists status, payment date and notes.
	Transition(ctx context.Context, id uuid.UUID, mutate InstallmentMutator) (*domain.Installment, error)

	// GetByID retrieves an installment, or errors.ErrInstallmentNotFound
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Installment, error)

	// ListByMember returns the member's installments ordered by reference period
	ListByMember(ctx context.Context, memberID uuid.UUID) ([]*domain.Installment, error)

	// ListOverdue returns pending installments due before asOf
	ListOverdue(ctx context.Context, asOf time.Time) ([]*domain.Installment, error)

	// List returns installments matching filter ordered by member, then reference period
	List(ctx context.Context, filter domain.InstallmentFilter) ([]*domain.Installment, error)
}
