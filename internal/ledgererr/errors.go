// Package ledgererr defines the stable error kinds shared by the marketplace
// ledger components.
package ledgererr

import "errors"

// Kind classifies a failure. A Kind is itself an error so callers can match
// any error of that class with errors.Is.
type Kind string

const (
	InvalidInput    Kind = "invalid_input"
	Unauthorized    Kind = "unauthorized"
	Forbidden       Kind = "forbidden"
	NotFound        Kind = "not_found"
	Conflict        Kind = "conflict"
	InvalidState    Kind = "invalid_state"
	PaymentMismatch Kind = "payment_mismatch"
	Expired         Kind = "expired"
	Inactive        Kind = "inactive"
)

func (k Kind) Error() string { return string(k) }

// Error is a domain failure with a stable reason code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func New(kind Kind, code string) *Error {
	return &Error{Kind: kind, Code: code, Message: code}
}

func Newf(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.Message == "" || e.Message == e.Code {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// Is reports whether target is the same sentinel or the error's kind.
func (e *Error) Is(target error) bool {
	if kind, ok := target.(Kind); ok {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the kind carried by err, or "" if none.
func KindOf(err error) Kind {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Kind
	}
	var kind Kind
	if errors.As(err, &kind) {
		return kind
	}
	return ""
}

// CodeOf returns the reason code carried by err, or "" if none.
func CodeOf(err error) string {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}
