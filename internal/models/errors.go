// Package models defines the core domain types for Tally
package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies domain failures. The HTTP adapter maps kinds to
// status codes; the core never deals in status codes itself.
type ErrorKind string

const (
	ErrValidation        ErrorKind = "ValidationError"
	ErrUnbalanced        ErrorKind = "Unbalanced"
	ErrCurrencyMismatch  ErrorKind = "CurrencyMismatch"
	ErrInvalidTransition ErrorKind = "InvalidTransition"
	ErrMissingBucket     ErrorKind = "MissingBucket"
	ErrInvalidBucket     ErrorKind = "InvalidBucket"
	ErrInsufficientFunds ErrorKind = "InsufficientFunds"
	ErrNegativeBalance   ErrorKind = "NegativeBalance"
	ErrInvalidAmount     ErrorKind = "InvalidAmount"
	ErrDuplicateKey      ErrorKind = "DuplicateKey"
	ErrUnauthorized      ErrorKind = "Unauthorized"
	ErrMisconfigured     ErrorKind = "Misconfigured"
	ErrNotFound          ErrorKind = "NotFound"
	ErrChaos             ErrorKind = "ChaosFailure"
	ErrInternal          ErrorKind = "InternalError"
)

// ValidationIssue describes one field-level schema violation.
type ValidationIssue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error is the typed domain error carried through the core.
type Error struct {
	Kind    ErrorKind
	Message string
	Details []ValidationIssue
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// E builds a domain error with a formatted message.
func E(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the domain error kind, or ErrInternal for foreign errors.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ErrInternal
}

// IsKind reports whether err is a domain error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
