package documents

import (
	"github.com/odyssey-erp/backoffice/internal/rbac"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

type transition struct {
	from shared.Status
	to   shared.Status
}

// transitions is the document lifecycle. DeleteDraft has no target state.
var transitions = map[rbac.Action]transition{
	rbac.ActionEdit:        {shared.StatusDraft, shared.StatusDraft},
	rbac.ActionSubmit:      {shared.StatusDraft, shared.StatusSubmitted},
	rbac.ActionPost:        {shared.StatusSubmitted, shared.StatusPosted},
	rbac.ActionReverse:     {shared.StatusPosted, shared.StatusReversed},
	rbac.ActionVoid:        {shared.StatusPosted, shared.StatusVoided},
	rbac.ActionDeleteDraft: {shared.StatusDraft, ""},
}

// Next returns the state reached by applying action from current.
func Next(current shared.Status, action rbac.Action) (shared.Status, error) {
	t, ok := transitions[action]
	if !ok {
		return "", shared.Errorf(shared.KindValidation, "action %s does not change document state", action)
	}
	if current != t.from {
		return "", shared.Errorf(shared.KindInvalidStateTransition, "%s", rbac.StatusReason([]shared.Status{t.from}, action))
	}
	return t.to, nil
}
