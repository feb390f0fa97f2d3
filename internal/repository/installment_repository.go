package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/aadvita/dues-engine/internal/domain"
	customError "github.com/aadvita/dues-engine/pkg/errors"
)

const installmentColumns = `id, member_id, base_amount, discount_kind, discount_value, final_amount,
	reference_month, reference_year, due_date, status, payment_date, notes, created_at`

type installmentRepository struct {
	db *sqlx.DB
}

func NewInstallmentRepository(db *sqlx.DB) InstallmentRepository {
	return &installmentRepository{db: db}
}

func (r *installmentRepository) SaveSchedule(ctx context.Context, member *domain.Member, schedule []*domain.Installment, replace bool) (int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := lockMember(ctx, tx, member.ID); err != nil {
		return 0, err
	}

	paidDeleted := 0
	if replace {
		if err := tx.GetContext(ctx, &paidDeleted,
			`SELECT COUNT(*) FROM installments WHERE member_id = $1 AND status = 'paid'`, member.ID); err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM installments WHERE member_id = $1`, member.ID); err != nil {
			return 0, err
		}
	} else {
		var existing int
		if err := tx.GetContext(ctx, &existing,
			`SELECT COUNT(*) FROM installments WHERE member_id = $1`, member.ID); err != nil {
			return 0, err
		}
		if existing > 0 {
			return 0, customError.ErrScheduleExists
		}
	}

	// updateMember bumps the caller's version; undo that if the transaction does not commit
	version, updatedAt := member.Version, member.UpdatedAt
	committed := false
	defer func() {
		if !committed {
			member.Version, member.UpdatedAt = version, updatedAt
		}
	}()

	if err := updateMember(ctx, tx, member); err != nil {
		return 0, err
	}

	for _, installment := range schedule {
		if err := insertInstallment(ctx, tx, installment); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	committed = true
	return paidDeleted, nil
}

func (r *installmentRepository) AppendInstallment(ctx context.Context, memberID uuid.UUID, plan AppendPlanner) (*domain.Installment, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	member, err := lockMember(ctx, tx, memberID)
	if err != nil {
		return nil, err
	}

	var latest domain.Installment
	var latestPtr *domain.Installment
	err = tx.GetContext(ctx, &latest, `
		SELECT `+installmentColumns+`
		FROM installments
		WHERE member_id = $1
		ORDER BY reference_year DESC, reference_month DESC
		LIMIT 1
	`, memberID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, err
	default:
		latestPtr = &latest
	}

	candidate, err := plan(member, latestPtr)
	if err != nil || candidate == nil {
		return nil, err
	}

	var taken bool
	if err := tx.GetContext(ctx, &taken, `
		SELECT EXISTS(SELECT 1 FROM installments WHERE member_id = $1 AND reference_year = $2 AND reference_month = $3)
	`, memberID, candidate.ReferenceYear, candidate.ReferenceMonth); err != nil {
		return nil, err
	}
	if taken {
		return nil, nil
	}

	if err := insertInstallment(ctx, tx, candidate); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return candidate, nil
}

func (r *installmentRepository) Transition(ctx context.Context, id uuid.UUID, mutate InstallmentMutator) (*domain.Installment, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var installment domain.Installment
	err = tx.GetContext(ctx, &installment, `SELECT `+installmentColumns+` FROM installments WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, customError.ErrInstallmentNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := mutate(&installment); err != nil {
		return nil, err
	}

	query := `
		UPDATE installments
		SET status = $2, payment_date = $3, notes = $4
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, query, installment.ID, installment.Status, installment.PaymentDate, installment.Notes); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &installment, nil
}

func (r *installmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Installment, error) {
	var installment domain.Installment
	err := r.db.GetContext(ctx, &installment, `SELECT `+installmentColumns+` FROM installments WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, customError.ErrInstallmentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &installment, nil
}

func (r *installmentRepository) ListByMember(ctx context.Context, memberID uuid.UUID) ([]*domain.Installment, error) {
	return r.List(ctx, domain.InstallmentFilter{MemberID: &memberID})
}

func (r *installmentRepository) ListOverdue(ctx context.Context, asOf time.Time) ([]*domain.Installment, error) {
	query := `
		SELECT ` + installmentColumns + `
		FROM installments
		WHERE status = 'pending' AND due_date < $1
		ORDER BY member_id, reference_year, reference_month
	`

	installments := make([]*domain.Installment, 0)
	if err := r.db.SelectContext(ctx, &installments, query, asOf); err != nil {
		return nil, err
	}
	return installments, nil
}

func (r *installmentRepository) List(ctx context.Context, filter domain.InstallmentFilter) ([]*domain.Installment, error) {
	conditions := make([]string, 0, 5)
	args := make([]interface{}, 0, 5)

	if filter.MemberID != nil {
		args = append(args, *filter.MemberID)
		conditions = append(conditions, fmt.Sprintf("member_id = $%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		args = append(args, pq.Array(filter.Statuses))
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if filter.DueFrom != nil {
		args = append(args, *filter.DueFrom)
		conditions = append(conditions, fmt.Sprintf("due_date >= $%d", len(args)))
	}
	if filter.DueTo != nil {
		args = append(args, *filter.DueTo)
		conditions = append(conditions, fmt.Sprintf("due_date <= $%d", len(args)))
	}
	if filter.ReferenceYear != 0 {
		args = append(args, filter.ReferenceYear)
		conditions = append(conditions, fmt.Sprintf("reference_year = $%d", len(args)))
	}

	query := `SELECT ` + installmentColumns + ` FROM installments`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY member_id, reference_year, reference_month`

	installments := make([]*domain.Installment, 0)
	if err := r.db.SelectContext(ctx, &installments, query, args...); err != nil {
		return nil, err
	}
	return installments, nil
}

func lockMember(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.Member, error) {
	member, err := getMember(ctx, tx, `SELECT `+memberColumns+` FROM members WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, err
	}
	return member, nil
}

func insertInstallment(ctx context.Context, tx *sqlx.Tx, installment *domain.Installment) error {
	query := `
		INSERT INTO installments (id, member_id, base_amount, discount_kind, discount_value, final_amount,
			reference_month, reference_year, due_date, status, payment_date, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := tx.ExecContext(ctx, query,
		installment.ID,
		installment.MemberID,
		installment.BaseAmount,
		installment.DiscountKind,
		installment.DiscountValue,
		installment.FinalAmount,
		installment.ReferenceMonth,
		installment.ReferenceYear,
		installment.DueDate,
		installment.Status,
		installment.PaymentDate,
		installment.Notes,
		installment.CreatedAt,
	)
	return translateUniqueViolation(err)
}
