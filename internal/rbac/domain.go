package rbac

import (
	"strings"
)

// Role is a business role supplied by the identity collaborator.
type Role string

const (
	RoleAdmin           Role = "ADMIN"
	RoleAccountsOfficer Role = "ACCOUNTS_OFFICER"
	RoleManager         Role = "MANAGER"
	RoleDirector        Role = "DIRECTOR"
	RoleAuditor         Role = "AUDITOR"
)

// Action is an operation a principal attempts.
type Action string

const (
	ActionView         Action = "VIEW"
	ActionCreate       Action = "CREATE"
	ActionEdit         Action = "EDIT"
	ActionDeleteDraft  Action = "DELETE_DRAFT"
	ActionSubmit       Action = "SUBMIT"
	ActionApprove      Action = "APPROVE"
	ActionPost         Action = "POST"
	ActionVoid         Action = "VOID"
	ActionReverse      Action = "REVERSE"
	ActionClosePeriod  Action = "CLOSE_PERIOD"
	ActionReopenPeriod Action = "REOPEN_PERIOD"
	ActionConfigure    Action = "CONFIGURE"
)

var allRoles = []Role{RoleAdmin, RoleAccountsOfficer, RoleManager, RoleDirector, RoleAuditor}

// ParseRole normalises "accounts-officer", "Accounts Officer" and friends.
func ParseRole(raw string) (Role, bool) {
	norm := strings.ToUpper(strings.TrimSpace(raw))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	for _, r := range allRoles {
		if string(r) == norm {
			return r, true
		}
	}
	return "", false
}

// ParseAction normalises an action name.
func ParseAction(raw string) (Action, bool) {
	norm := strings.ToUpper(strings.TrimSpace(raw))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	if _, ok := verbs[Action(norm)]; ok {
		return Action(norm), true
	}
	return "", false
}

// Principal describes the acting user within a company.
type Principal struct {
	UserID    int64
	CompanyID int64
	Roles     []Role
}

// HasRole reports whether the principal holds role.
func (p Principal) HasRole(role Role) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Role    Role   `json:"role,omitempty"`
	// StatusMismatch is set when a held role grants the action from other states.
	StatusMismatch bool `json:"status_mismatch,omitempty"`
}

type verb struct {
	base string
	past string
}

var verbs = map[Action]verb{
	ActionView:         {"view", "viewed"},
	ActionCreate:       {"create", "created"},
	ActionEdit:         {"edit", "edited"},
	ActionDeleteDraft:  {"delete", "deleted"},
	ActionSubmit:       {"submit", "submitted"},
	ActionApprove:      {"approve", "approved"},
	ActionPost:         {"post", "posted"},
	ActionVoid:         {"void", "voided"},
	ActionReverse:      {"reverse", "reversed"},
	ActionClosePeriod:  {"close periods", "closed"},
	ActionReopenPeriod: {"reopen periods", "reopened"},
	ActionConfigure:    {"configure", "configured"},
}
