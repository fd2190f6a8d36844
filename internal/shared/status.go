package shared

import "strings"

// Status enumerates lifecycle states shared by documents and journals.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusSubmitted Status = "SUBMITTED"
	StatusApproved  Status = "APPROVED"
	StatusPosted    Status = "POSTED"
	StatusReversed  Status = "REVERSED"
	StatusVoided    Status = "VOIDED"
)

// Label renders the status for user facing messages.
func (s Status) Label() string {
	return strings.ToLower(string(s))
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusReversed || s == StatusVoided
}
