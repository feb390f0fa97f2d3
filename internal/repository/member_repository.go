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

	"github.com/aadvita/dues-engine/internal/domain"
	customError "github.com/aadvita/dues-engine/pkg/errors"
)

const memberColumns = `id, national_id, full_name, birth_date, address, phone, email, password_hash,
	status, active, base_amount, discount_kind, discount_value, approved_at, version, created_at, updated_at`

type memberRepository struct {
	db *sqlx.DB
}

func NewMemberRepository(db *sqlx.DB) MemberRepository {
	return &memberRepository{db: db}
}

func (r *memberRepository) Create(ctx context.Context, member *domain.Member) error {
	query := `
		INSERT INTO members (id, national_id, full_name, birth_date, address, phone, email, password_hash,
			status, active, base_amount, discount_kind, discount_value, approved_at, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err := r.db.ExecContext(ctx, query,
		member.ID,
		member.NationalID,
		member.FullName,
		member.BirthDate,
		member.Address,
		member.Phone,
		member.Email,
		member.PasswordHash,
		member.Status,
		member.Active,
		member.BaseAmount,
		member.DiscountKind,
		member.DiscountValue,
		member.ApprovedAt,
		member.Version,
		member.CreatedAt,
		member.UpdatedAt,
	)

	return translateUniqueViolation(err)
}

func (r *memberRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Member, error) {
	return getMember(ctx, r.db, `SELECT `+memberColumns+` FROM members WHERE id = $1`, id)
}

func (r *memberRepository) GetByNationalID(ctx context.Context, nationalID string) (*domain.Member, error) {
	return getMember(ctx, r.db, `SELECT `+memberColumns+` FROM members WHERE national_id = $1`, nationalID)
}

func (r *memberRepository) Update(ctx context.Context, member *domain.Member) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := updateMember(ctx, tx, member); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *memberRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// The FK cascades as well; deleting explicitly keeps the contract independent of the schema.
	if _, err := tx.ExecContext(ctx, `DELETE FROM installments WHERE member_id = $1`, id); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM members WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return customError.ErrMemberNotFound
	}

	return tx.Commit()
}

func (r *memberRepository) List(ctx context.Context, filter domain.MemberFilter) ([]*domain.Member, error) {
	conditions := make([]string, 0, 2)
	args := make([]interface{}, 0, 2)

	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		conditions = append(conditions, fmt.Sprintf("active = $%d", len(args)))
	}

	query := `SELECT ` + memberColumns + ` FROM members`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY created_at, id`

	members := make([]*domain.Member, 0)
	if err := r.db.SelectContext(ctx, &members, query, args...); err != nil {
		return nil, err
	}
	return members, nil
}

func (r *memberRepository) ListBillable(ctx context.Context) ([]*domain.Member, error) {
	query := `
		SELECT ` + memberColumns + `
		FROM members
		WHERE status = 'approved' AND active = TRUE AND base_amount > 0
		ORDER BY created_at, id
	`

	members := make([]*domain.Member, 0)
	if err := r.db.SelectContext(ctx, &members, query); err != nil {
		return nil, err
	}
	return members, nil
}

func getMember(ctx context.Context, q sqlx.QueryerContext, query string, arg interface{}) (*domain.Member, error) {
	var member domain.Member
	err := sqlx.GetContext(ctx, q, &member, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, customError.ErrMemberNotFound
	}
	if err != nil {
		return nil, err
	}
	return &member, nil
}

// updateMember writes the mutable member fields guarded by the optimistic version.
func updateMember(ctx context.Context, tx *sqlx.Tx, member *domain.Member) error {
	query := `
		UPDATE members
		SET full_name = $3, birth_date = $4, address = $5, phone = $6, email = $7,
			status = $8, active = $9, base_amount = $10, discount_kind = $11, discount_value = $12,
			approved_at = $13, version = version + 1, updated_at = $14
		WHERE id = $1 AND version = $2
	`

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, query,
		member.ID,
		member.Version,
		member.FullName,
		member.BirthDate,
		member.Address,
		member.Phone,
		member.Email,
		member.Status,
		member.Active,
		member.BaseAmount,
		member.DiscountKind,
		member.DiscountValue,
		member.ApprovedAt,
		now,
	)
	if err != nil {
		return err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM members WHERE id = $1)`, member.ID); err != nil {
			return err
		}
		if !exists {
			return customError.ErrMemberNotFound
		}
		return customError.ErrConflict
	}

	member.Version++
	member.UpdatedAt = now
	return nil
}
