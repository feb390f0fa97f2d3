package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers of the administrative interface.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindInvalidTransition Kind = "invalid_transition"
	KindPrecondition      Kind = "precondition"
	KindConflict          Kind = "conflict"
	KindProgramming       Kind = "programming_error"
	KindDatabase          Kind = "database"
)

// Domain errors
var (
	ErrValidation          = errors.New("validation failed")
	ErrMemberNotFound      = errors.New("member not found")
	ErrInstallmentNotFound = errors.New("installment not found")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrPrecondition        = errors.New("precondition failed")
	ErrConflict            = errors.New("concurrent modification detected")
	ErrDuplicateNationalID = errors.New("national id already registered")
	ErrScheduleExists      = errors.New("member already has installments")
	ErrInvariant           = errors.New("invariant violated")
	ErrTickOutOfOrder      = errors.New("monthly tick called out of order")
	ErrTickInProgress      = errors.New("monthly tick already running")
)

// BusinessError represents a business logic error
type BusinessError struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

// NewBusinessError creates a new business error
func NewBusinessError(kind Kind, code, message string, err error) *BusinessError {
	return &BusinessError{
		Kind:    kind,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Error codes
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeMemberNotFound      = "MEMBER_NOT_FOUND"
	ErrCodeInstallmentNotFound = "INSTALLMENT_NOT_FOUND"
	ErrCodeInvalidTransition   = "INVALID_TRANSITION"
	ErrCodePrecondition        = "PRECONDITION_FAILED"
	ErrCodeConflict            = "CONFLICT"
	ErrCodeDuplicateNationalID = "DUPLICATE_NATIONAL_ID"
	ErrCodeProgramming         = "PROGRAMMING_ERROR"
	ErrCodeDatabaseError       = "DATABASE_ERROR"
	ErrCodeCacheError          = "CACHE_ERROR"
)

// KindOf returns the kind of the first BusinessError in err's chain.
// Bare sentinels are classified too, so repository errors map without wrapping.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var be *BusinessError
	if errors.As(err, &be) {
		return be.Kind
	}
	switch {
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrMemberNotFound), errors.Is(err, ErrInstallmentNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrPrecondition), errors.Is(err, ErrTickOutOfOrder), errors.Is(err, ErrScheduleExists):
		return KindPrecondition
	case errors.Is(err, ErrConflict), errors.Is(err, ErrDuplicateNationalID), errors.Is(err, ErrTickInProgress):
		return KindConflict
	case errors.Is(err, ErrInvariant):
		return KindProgramming
	}
	return KindDatabase
}

func WrapValidation(format string, args ...any) *BusinessError {
	return NewBusinessError(KindValidation, ErrCodeValidation, fmt.Sprintf(format, args...), ErrValidation)
}

func WrapMemberNotFound(memberID string) *BusinessError {
	return NewBusinessError(
		KindNotFound,
		ErrCodeMemberNotFound,
		fmt.Sprintf("Member with ID %s not found", memberID),
		ErrMemberNotFound,
	)
}

func WrapInstallmentNotFound(installmentID string) *BusinessError {
	return NewBusinessError(
		KindNotFound,
		ErrCodeInstallmentNotFound,
		fmt.Sprintf("Installment with ID %s not found", installmentID),
		ErrInstallmentNotFound,
	)
}

func WrapInvalidTransition(entity, from, to string) *BusinessError {
	return NewBusinessError(
		KindInvalidTransition,
		ErrCodeInvalidTransition,
		fmt.Sprintf("%s cannot move from %s to %s", entity, from, to),
		ErrInvalidTransition,
	)
}

func WrapPrecondition(format string, args ...any) *BusinessError {
	return NewBusinessError(KindPrecondition, ErrCodePrecondition, fmt.Sprintf(format, args...), ErrPrecondition)
}

func WrapConflict(err error) *BusinessError {
	if errors.Is(err, ErrDuplicateNationalID) {
		return NewBusinessError(KindConflict, ErrCodeDuplicateNationalID, "national id already registered", err)
	}
	return NewBusinessError(KindConflict, ErrCodeConflict, "record was modified concurrently, retry", err)
}

func WrapProgramming(format string, args ...any) *BusinessError {
	return NewBusinessError(KindProgramming, ErrCodeProgramming, fmt.Sprintf(format, args...), ErrInvariant)
}

func WrapDatabaseError(err error) *BusinessError {
	return NewBusinessError(
		KindDatabase,
		ErrCodeDatabaseError,
		"database operation failed",
		err,
	)
}

func WrapCacheError(err error) *BusinessError {
	return NewBusinessError(
		KindDatabase,
		ErrCodeCacheError,
		"Cache operation failed",
		err,
	)
}

// WrapRepositoryError keeps domain sentinels returned by repositories in their
// own kind and treats everything else as a database failure.
func WrapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var be *BusinessError
	if errors.As(err, &be) {
		return err
	}
	switch KindOf(err) {
	case KindNotFound:
		return NewBusinessError(KindNotFound, notFoundCode(err), err.Error(), err)
	case KindConflict:
		return WrapConflict(err)
	case KindPrecondition:
		return NewBusinessError(KindPrecondition, ErrCodePrecondition, err.Error(), err)
	case KindInvalidTransition:
		return NewBusinessError(KindInvalidTransition, ErrCodeInvalidTransition, err.Error(), err)
	}
	return WrapDatabaseError(err)
}

func notFoundCode(err error) string {
	if errors.Is(err, ErrInstallmentNotFound) {
		return ErrCodeInstallmentNotFound
	}
	return ErrCodeMemberNotFound
}
