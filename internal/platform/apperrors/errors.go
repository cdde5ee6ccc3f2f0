package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies the business meaning of a failure. Handlers map kinds to the
// HTTP status and envelope code returned to clients.
type Kind string

const (
	KindValidation          Kind = "VALIDATION_ERROR"
	KindInvalidOperation    Kind = "INVALID_OPERATION"
	KindNotFound            Kind = "RESOURCE_NOT_FOUND"
	KindDuplicateKey        Kind = "DUPLICATE_KEY"
	KindTerminalStatus      Kind = "TERMINAL_STATUS_ERROR"
	KindTerminalNotSignedIn Kind = "TERMINAL_NOT_SIGNED_IN"
	KindTerminalOpened      Kind = "TERMINAL_ALREADY_OPENED"
	KindTerminalClosed      Kind = "TERMINAL_ALREADY_CLOSED"
	KindTerminalNotClosed   Kind = "TERMINAL_NOT_CLOSED"
	KindBalanceZero         Kind = "BALANCE_ZERO"
	KindBalanceGreaterZero  Kind = "BALANCE_GREATER_THAN_ZERO"
	KindBalanceMinus        Kind = "BALANCE_MINUS"
	KindDepositOver         Kind = "DEPOSIT_OVER"
	KindAlreadyVoided       Kind = "ALREADY_VOIDED"
	KindAlreadyRefunded     Kind = "ALREADY_REFUNDED"
	KindExternalService     Kind = "EXTERNAL_SERVICE_ERROR"
	KindSystem              Kind = "SYSTEM_ERROR"
	KindUnexpected          Kind = "UNEXPECTED_ERROR"
)

var kindStatus = map[Kind]int{
	KindValidation:          http.StatusUnprocessableEntity,
	KindInvalidOperation:    http.StatusBadRequest,
	KindNotFound:            http.StatusNotFound,
	KindDuplicateKey:        http.StatusBadRequest,
	KindTerminalStatus:      http.StatusBadRequest,
	KindTerminalNotSignedIn: http.StatusUnauthorized,
	KindTerminalOpened:      http.StatusBadRequest,
	KindTerminalClosed:      http.StatusBadRequest,
	KindTerminalNotClosed:   http.StatusBadRequest,
	KindBalanceZero:         http.StatusBadRequest,
	KindBalanceGreaterZero:  http.StatusBadRequest,
	KindBalanceMinus:        http.StatusNotAcceptable,
	KindDepositOver:         http.StatusNotAcceptable,
	KindAlreadyVoided:       http.StatusBadRequest,
	KindAlreadyRefunded:     http.StatusBadRequest,
	KindExternalService:     http.StatusBadGateway,
	KindSystem:              http.StatusInternalServerError,
	KindUnexpected:          http.StatusInternalServerError,
}

// UserError carries the localisable message surfaced to terminal operators.
type UserError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error is the typed failure flowing from services to handlers. It carries the
// kind, the HTTP-equivalent status, and an optional operator-facing message.
type Error struct {
	Kind      Kind
	Message   string
	UserError *UserError
	cause     error
}

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf constructs an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error of the given kind preserving the underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithUser attaches an operator-facing error to the failure.
func (e *Error) WithUser(code, message string) *Error {
	e.UserError = &UserError{Code: code, Message: message}
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Status returns the HTTP status corresponding to the error kind.
func (e *Error) Status() int {
	if e == nil {
		return http.StatusInternalServerError
	}
	if status, ok := kindStatus[e.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// KindOf extracts the Kind from an error chain, defaulting to UNEXPECTED_ERROR.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnexpected
}

// StatusOf extracts the HTTP status from an error chain.
func StatusOf(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status()
	}
	return http.StatusInternalServerError
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// RepositoryError is satisfied by storage errors that classify themselves.
// Firestore-backed repositories return errors implementing this shape.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// FromRepository translates a repository failure into the matching typed error.
func FromRepository(op string, err error) error {
	if err == nil {
		return nil
	}
	var repoErr RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return Wrap(KindNotFound, op, err)
		case repoErr.IsConflict():
			return Wrap(KindDuplicateKey, op, err)
		case repoErr.IsUnavailable():
			return Wrap(KindExternalService, op, err)
		}
	}
	return Wrap(KindSystem, op, err)
}
