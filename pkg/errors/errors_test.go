package errors

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Kind
	}{
		{"nil", nil, ""},
		{"business error", WrapInvalidTransition("installment", "paid", "paid"), KindInvalidTransition},
		{"wrapped sentinel", fmt.Errorf("lookup: %w", ErrMemberNotFound), KindNotFound},
		{"installment sentinel", ErrInstallmentNotFound, KindNotFound},
		{"conflict sentinel", ErrConflict, KindConflict},
		{"duplicate national id", ErrDuplicateNationalID, KindConflict},
		{"tick out of order", ErrTickOutOfOrder, KindPrecondition},
		{"invariant", WrapProgramming("bad month %d", 13), KindProgramming},
		{"unknown error", sql.ErrConnDone, KindDatabase},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, KindOf(tt.err))
		})
	}
}

func TestWrapRepositoryError(t *testing.T) {
	err := WrapRepositoryError(ErrInstallmentNotFound)
	var be *BusinessError
	assert.True(t, errors.As(err, &be))
	assert.Equal(t, ErrCodeInstallmentNotFound, be.Code)
	assert.True(t, errors.Is(err, ErrInstallmentNotFound))

	err = WrapRepositoryError(ErrDuplicateNationalID)
	assert.True(t, errors.As(err, &be))
	assert.Equal(t, ErrCodeDuplicateNationalID, be.Code)

	err = WrapRepositoryError(errors.New("connection reset"))
	assert.Equal(t, KindDatabase, KindOf(err))
	assert.Contains(t, err.Error(), "connection reset")

	assert.NoError(t, WrapRepositoryError(nil))
}
