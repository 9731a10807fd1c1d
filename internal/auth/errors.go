package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/nerrad567/depot-core/internal/infrastructure/database"
)

// Kind classifies a failure for callers. The HTTP layer maps it to a status
// code and a stable machine-readable code.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidInput
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindRateLimited
	KindTransient
)

// String returns the kind name used in logs.
func (k Kind) String() string {
	return k.Code()
}

// HTTPStatus returns the response status for k.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindTransient:
		return http.StatusServiceUnavailable
	case KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the machine-readable error code for k.
func (k Kind) Code() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindRateLimited:
		return "rate_limited"
	case KindTransient:
		return "unavailable"
	case KindInternal:
		return "internal_error"
	default:
		return "internal_error"
	}
}

// Error is the error type returned across the auth service boundary.
//
// Message is safe to show to the caller. Err carries the internal reason and
// is only reachable through errors.Is / errors.As.
type Error struct {
	Kind    Kind
	Message string
	Details []string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an *Error of the given kind.
func NewError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// InvalidInput builds a KindInvalidInput error carrying one entry per problem.
func InvalidInput(message string, details ...string) *Error {
	return &Error{Kind: KindInvalidInput, Message: message, Details: details}
}

// KindOf classifies err. Context cancellation and deadline errors are
// Transient; anything unrecognised is Internal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}
	// A database locked past its busy timeout clears on retry.
	if database.IsBusy(err) {
		return KindTransient
	}
	return KindInternal
}

// MessageOf returns the caller-safe message for err.
func MessageOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	if KindOf(err) == KindTransient {
		return "Service temporarily unavailable"
	}
	return "Internal server error"
}

// DetailsOf returns the per-field problems attached to err, if any.
func DetailsOf(err error) []string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Details
	}
	return nil
}

// Internal reasons. They are wrapped inside *Error values and never shown to callers.
var (
	ErrTokenInvalid   = errors.New("invalid token")
	ErrTokenExpired   = errors.New("token has expired")
	ErrTokenMismatch  = errors.New("refresh token does not match the stored session")
	ErrRefreshExpired = errors.New("stored refresh session has expired")
)

// Store-level outcomes returned by the repositories.
var (
	ErrUserNotFound     = errors.New("user not found")
	ErrPhoneExists      = errors.New("phone number already registered")
	ErrRoleNotFound     = errors.New("role not found")
	ErrRoleNameExists   = errors.New("role name already exists")
	ErrOfficeNotFound   = errors.New("office not found")
	ErrBranchNotFound   = errors.New("branch not found")
	ErrInvalidReference = errors.New("referenced record does not exist")
)

// storeFailure wraps an unexpected repository error as Transient so the
// caller is told to retry instead of receiving a wrong answer.
func storeFailure(op string, err error) *Error {
	return &Error{
		Kind:    KindTransient,
		Message: "Service temporarily unavailable",
		Err:     fmt.Errorf("%s: %w", op, err),
	}
}

// classifyWrite maps constraint failures from an INSERT or UPDATE to
// repository sentinels. ok is false when err is not a constraint failure.
func classifyWrite(err error, unique error) (sentinel error, ok bool) {
	switch {
	case database.IsUniqueViolation(err):
		return unique, true
	case database.IsForeignKeyViolation(err):
		return ErrInvalidReference, true
	default:
		return nil, false
	}
}
