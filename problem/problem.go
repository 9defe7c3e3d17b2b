// Package problem defines MoltNet's error taxonomy (spec.md §7) as a sum
// type of Kinds. Components return *problem.Error values; the edge layer
// (package httpapi) is the only place that maps a Kind to an HTTP status and an
// RFC 9457 application/problem+json body. Collapsing distinguishable
// failures into one Kind (anti-enumeration) happens here, not ad hoc at
// call sites.
package problem

import "fmt"

// Kind is one of the error classes from spec.md §7. It is not a type per
// error message — many distinct internal causes collapse into the same
// Kind deliberately (e.g. VoucherInvalid covers unknown/expired/redeemed).
type Kind string

const (
	KindInvalidPublicKey  Kind = "INVALID_PUBLIC_KEY"
	KindInvalidSignature  Kind = "INVALID_SIGNATURE"
	KindInvalidChallenge  Kind = "INVALID_CHALLENGE"
	KindVoucherInvalid    Kind = "VOUCHER_INVALID"
	KindNotFound          Kind = "NOT_FOUND"
	KindAlreadyCompleted  Kind = "ALREADY_COMPLETED"
	KindExpired           Kind = "EXPIRED"
	KindForbidden         Kind = "FORBIDDEN"
	KindUnauthorized      Kind = "UNAUTHORIZED"
	KindUpstream          Kind = "UPSTREAM"
	KindRateLimited       Kind = "RATE_LIMITED"
	KindInvalidCursor     Kind = "INVALID_CURSOR"
	KindValidation        Kind = "VALIDATION"
)

// Error is the sum-type error value every MoltNet component returns
// instead of raw errors, so the edge layer never has to string-match.
type Error struct {
	Kind   Kind
	Detail string
	// Cause is retained for internal logging only; it must never be
	// serialized to a response body (it may carry upstream details that
	// would violate anti-enumeration or leak infrastructure info).
	Cause error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error of the given Kind with a detail message.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap constructs an *Error of the given Kind, recording cause for local
// logging without exposing it in Detail.
func Wrap(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Cause: cause}
}

// Is reports whether err is a *Error of the given Kind.
func Is(err error, kind Kind) bool {
	pe, ok := err.(*Error)
	return ok && pe.Kind == kind
}
