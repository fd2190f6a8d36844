package rbac

import (
	"fmt"
	"strings"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Rule grants Action to Role while the target is in one of From.
// An empty From means any state.
type Rule struct {
	Role   Role
	Action Action
	From   []shared.Status
}

func (r Rule) permits(status shared.Status) bool {
	if len(r.From) == 0 {
		return true
	}
	for _, s := range r.From {
		if s == status {
			return true
		}
	}
	return false
}

var (
	draft     = []shared.Status{shared.StatusDraft}
	submitted = []shared.Status{shared.StatusSubmitted}
	approved  = []shared.Status{shared.StatusApproved}
	posted    = []shared.Status{shared.StatusPosted}
)

// Policy is the document permission table. Order only matters for the
// granting role reported.
var Policy = []Rule{
	{RoleAdmin, ActionView, nil},
	{RoleAdmin, ActionCreate, nil},
	{RoleAdmin, ActionEdit, draft},
	{RoleAdmin, ActionDeleteDraft, draft},
	{RoleAdmin, ActionSubmit, draft},
	{RoleAdmin, ActionApprove, draft},
	{RoleAdmin, ActionPost, submitted},
	{RoleAdmin, ActionVoid, posted},
	{RoleAdmin, ActionReverse, posted},
	{RoleAdmin, ActionClosePeriod, nil},
	{RoleAdmin, ActionReopenPeriod, nil},
	{RoleAdmin, ActionConfigure, nil},

	{RoleAccountsOfficer, ActionView, nil},
	{RoleAccountsOfficer, ActionCreate, nil},
	{RoleAccountsOfficer, ActionEdit, draft},
	{RoleAccountsOfficer, ActionSubmit, draft},

	{RoleManager, ActionView, nil},
	{RoleManager, ActionApprove, draft},
	{RoleManager, ActionPost, submitted},
	{RoleManager, ActionVoid, posted},
	{RoleManager, ActionReverse, posted},
	{RoleManager, ActionClosePeriod, nil},
	{RoleManager, ActionReopenPeriod, nil},

	{RoleDirector, ActionView, nil},
	{RoleAuditor, ActionView, nil},
}

// JournalPolicy is Policy for manual journals, which post from Approved
// rather than Submitted.
var JournalPolicy = journalRules(Policy)

func journalRules(rules []Rule) []Rule {
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Action == ActionPost {
			r.From = approved
		}
		out = append(out, r)
	}
	return out
}

// TargetKind selects the permission table.
type TargetKind int

const (
	TargetDocument TargetKind = iota
	TargetJournal
)

func (k TargetKind) table() ([]Rule, string) {
	if k == TargetJournal {
		return JournalPolicy, "journals"
	}
	return Policy, "documents"
}

// Evaluate checks roles against the document table. The first held role
// that grants the action from status wins.
func Evaluate(roles []Role, status shared.Status, action Action) Decision {
	return EvaluateFor(TargetDocument, roles, status, action)
}

// EvaluateFor checks roles against the table of kind.
func EvaluateFor(kind TargetKind, roles []Role, status shared.Status, action Action) Decision {
	table, noun := kind.table()
	var states []shared.Status
	held := false
	for _, role := range roles {
		for _, rule := range table {
			if rule.Role != role || rule.Action != action {
				continue
			}
			held = true
			if rule.permits(status) {
				return Decision{Allowed: true, Role: role}
			}
			states = appendUnique(states, rule.From...)
		}
	}
	if !held {
		return Decision{Reason: roleReason(roles, action)}
	}
	return Decision{Reason: statusReason(noun, states, action), StatusMismatch: true}
}

// CanAnyRole reports whether any role grants action from status.
func CanAnyRole(roles []Role, status shared.Status, action Action) bool {
	return Evaluate(roles, status, action).Allowed
}

// CheckMakerChecker denies approving or posting one's own work.
func CheckMakerChecker(actorID, createdBy int64, action Action) Decision {
	if action != ActionApprove && action != ActionPost {
		return Decision{Allowed: true}
	}
	if actorID != 0 && actorID == createdBy {
		return Decision{Reason: fmt.Sprintf("You cannot %s a document you created", verbs[action].base)}
	}
	return Decision{Allowed: true}
}

// Target is the state of the object an action applies to.
type Target struct {
	Kind      TargetKind
	Status    shared.Status
	CreatedBy int64
}

// Authorize layers maker/checker on the policy table and returns a typed error.
// A role holding the action from other states yields InvalidStateTransition.
func Authorize(p Principal, target Target, action Action) error {
	d := EvaluateFor(target.Kind, p.Roles, target.Status, action)
	if !d.Allowed {
		if d.StatusMismatch {
			return shared.Errorf(shared.KindInvalidStateTransition, "%s", d.Reason)
		}
		return shared.Errorf(shared.KindPermissionDenied, "%s", d.Reason)
	}
	if mc := CheckMakerChecker(p.UserID, target.CreatedBy, action); !mc.Allowed {
		return shared.Errorf(shared.KindPermissionDenied, "%s", mc.Reason)
	}
	return nil
}

// StatusReason phrases "Only submitted documents can be posted".
func StatusReason(states []shared.Status, action Action) string {
	return statusReason("documents", states, action)
}

func statusReason(noun string, states []shared.Status, action Action) string {
	labels := make([]string, 0, len(states))
	for _, s := range states {
		labels = append(labels, s.Label())
	}
	return fmt.Sprintf("Only %s %s can be %s", strings.Join(labels, " or "), noun, verbs[action].past)
}

func roleReason(roles []Role, action Action) string {
	v, ok := verbs[action]
	if !ok {
		return fmt.Sprintf("Unknown action %q", action)
	}
	if len(roles) == 0 {
		return fmt.Sprintf("You need a role to %s", v.base)
	}
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, string(r))
	}
	return fmt.Sprintf("Role %s cannot %s", strings.Join(names, ", "), v.base)
}

func appendUnique(dst []shared.Status, items ...shared.Status) []shared.Status {
	for _, item := range items {
		found := false
		for _, existing := range dst {
			if existing == item {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, item)
		}
	}
	return dst
}
