package shared

import (
	"errors"
	"fmt"
)

// Kind classifies failures so callers can branch without string matching.
type Kind string

const (
	KindValidation             Kind = "validation"
	KindUnbalanced             Kind = "unbalanced"
	KindPeriodClosed           Kind = "period_closed"
	KindForeignAccount         Kind = "foreign_account"
	KindMissingAccountMapping  Kind = "missing_account_mapping"
	KindNoRateCard             Kind = "no_rate_card"
	KindNoPublishedRate        Kind = "no_published_rate"
	KindInvalidStateTransition Kind = "invalid_state_transition"
	KindPermissionDenied       Kind = "permission_denied"
	KindAllocationMismatch     Kind = "allocation_mismatch"
	KindNotFound               Kind = "not_found"
	KindConflict               Kind = "conflict"
	KindInternal               Kind = "internal"
)

// Error carries a kind plus a human readable reason.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Reason != "" && e.Err != nil:
		return e.Reason + ": " + e.Err.Error()
	case e.Reason != "":
		return e.Reason
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports a match when target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrValidation             = &Error{Kind: KindValidation, Reason: "validation failed"}
	ErrUnbalanced             = &Error{Kind: KindUnbalanced, Reason: "journal lines must balance"}
	ErrPeriodClosed           = &Error{Kind: KindPeriodClosed, Reason: "period is closed"}
	ErrForeignAccount         = &Error{Kind: KindForeignAccount, Reason: "account does not belong to company"}
	ErrMissingAccountMapping  = &Error{Kind: KindMissingAccountMapping, Reason: "account mapping not configured"}
	ErrNoRateCard             = &Error{Kind: KindNoRateCard, Reason: "no rate card covers date"}
	ErrNoPublishedRate        = &Error{Kind: KindNoPublishedRate, Reason: "no published rate for depot and takeover center"}
	ErrInvalidStateTransition = &Error{Kind: KindInvalidStateTransition, Reason: "invalid state transition"}
	ErrPermissionDenied       = &Error{Kind: KindPermissionDenied, Reason: "permission denied"}
	ErrAllocationMismatch     = &Error{Kind: KindAllocationMismatch, Reason: "allocations do not match settlement"}
	ErrNotFound               = &Error{Kind: KindNotFound, Reason: "not found"}
	ErrConflict               = &Error{Kind: KindConflict, Reason: "conflict"}
)

// Errorf builds an error of the given kind with a formatted reason.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and reason to an underlying error.
func Wrap(kind Kind, err error, reason string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// KindOf extracts the kind of err, KindInternal when err is untyped.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ReasonOf returns the reason attached to err, or err.Error() for untyped errors.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Reason != "" {
		return e.Reason
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
