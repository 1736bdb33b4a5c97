// Package apperr holds the error taxonomy shared by the store, the services and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthentication
	KindAuthorization
	KindNotFound
	KindConflict
	KindTransient
	KindInvariant
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	case KindInvariant:
		return "invariant"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// FieldError is one client-fixable problem with a named input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Fields  []FieldError
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by code so that a wrapped copy carrying a cause still satisfies errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

func sentinel(k Kind, code, msg string) *Error { return &Error{Kind: k, Code: code, Message: msg} }

var (
	ErrMissingCredential = sentinel(KindAuthentication, "missing_credential", "missing credential")
	ErrInvalidCredential = sentinel(KindAuthentication, "invalid_credential", "invalid credential")
	ErrExpiredCredential = sentinel(KindAuthentication, "expired_credential", "credential expired")
	ErrUserInactive      = sentinel(KindAuthentication, "user_inactive", "account is not active")
	ErrBadLogin          = sentinel(KindAuthentication, "bad_login", "invalid email or password")

	ErrForbidden = sentinel(KindAuthorization, "forbidden", "insufficient permissions")
	ErrNotOwner  = sentinel(KindAuthorization, "not_owner", "only the requester may do this")

	ErrNotFound         = sentinel(KindNotFound, "not_found", "not found")
	ErrItemNotFound     = sentinel(KindNotFound, "item_not_found", "equipment not found")
	ErrRequestNotFound  = sentinel(KindNotFound, "request_not_found", "loan request not found")
	ErrLoanNotFound     = sentinel(KindNotFound, "loan_not_found", "loan not found")
	ErrUserNotFound     = sentinel(KindNotFound, "user_not_found", "user not found")
	ErrNotificationGone = sentinel(KindNotFound, "notification_not_found", "notification not found")

	ErrInsufficientStock = sentinel(KindConflict, "insufficient_stock", "not enough units available")
	ErrDuplicateSerial   = sentinel(KindConflict, "duplicate_serial", "serial number already exists")
	ErrDuplicateEmail    = sentinel(KindConflict, "duplicate_email", "email already in use")
	ErrDuplicateStudent  = sentinel(KindConflict, "duplicate_student_number", "student number already in use")
	ErrDuplicateCategory = sentinel(KindConflict, "duplicate_category", "category already exists")
	ErrItemInUse         = sentinel(KindConflict, "item_in_use", "equipment has active loans")
	ErrUserHasLoans      = sentinel(KindConflict, "user_has_loans", "user has active loans")
	ErrLastManager       = sentinel(KindConflict, "last_manager", "at least one active manager must remain")
	ErrInFlight          = sentinel(KindConflict, "request_in_flight", "a request with this idempotency key is in progress")
	ErrInvalidTransition = sentinel(KindConflict, "invalid_transition", "transition not allowed from current state")

	ErrCategoryNotFound = sentinel(KindValidation, "category_not_found", "category does not exist")
	ErrInvalidQuantity  = sentinel(KindValidation, "invalid_quantity", "available quantity cannot exceed total quantity")
	ErrItemOutOfService = sentinel(KindValidation, "item_out_of_service", "equipment is out of service")
	ErrInvalidInvite    = sentinel(KindValidation, "invalid_invite", "invite is invalid or expired")

	ErrTransient = sentinel(KindTransient, "transient", "storage temporarily unavailable")
	ErrInvariant = sentinel(KindInvariant, "invariant_violation", "inventory invariant violated")

	ErrTooManyAttempts = sentinel(KindRateLimited, "too_many_attempts", "too many attempts, try again later")
)

// Wrap attaches a cause to a sentinel while keeping its identity for errors.Is.
func Wrap(s *Error, cause error) *Error {
	cp := *s
	cp.Err = cause
	return &cp
}

// Validation builds a field-level validation error.
func Validation(fields ...FieldError) *Error {
	msg := "invalid request"
	if len(fields) == 1 {
		msg = fields[0].Message
	}
	return &Error{Kind: KindValidation, Code: "validation", Message: msg, Fields: fields}
}

// Field is a shorthand for a single-field validation error.
func Field(field, message string) *Error {
	return Validation(FieldError{Field: field, Message: message})
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// HTTPStatus maps an error to the status code the API answers with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTransient:
		return http.StatusServiceUnavailable
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
