package rbac

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

func TestEvaluateTable(t *testing.T) {
	cases := []struct {
		name    string
		roles   []Role
		status  shared.Status
		action  Action
		allowed bool
		reason  string
	}{
		{"officer submits draft", []Role{RoleAccountsOfficer}, shared.StatusDraft, ActionSubmit, true, ""},
		{"officer cannot post", []Role{RoleAccountsOfficer}, shared.StatusSubmitted, ActionPost, false, "Role ACCOUNTS_OFFICER cannot post"},
		{"manager posts submitted", []Role{RoleManager}, shared.StatusSubmitted, ActionPost, true, ""},
		{"manager posts draft", []Role{RoleManager}, shared.StatusDraft, ActionPost, false, "Only submitted documents can be posted"},
		{"manager posts approved document", []Role{RoleManager}, shared.StatusApproved, ActionPost, false, "Only submitted documents can be posted"},
		{"officer cannot delete draft", []Role{RoleAccountsOfficer}, shared.StatusDraft, ActionDeleteDraft, false, "Role ACCOUNTS_OFFICER cannot delete"},
		{"admin deletes draft", []Role{RoleAdmin}, shared.StatusDraft, ActionDeleteDraft, true, ""},
		{"manager cannot submit", []Role{RoleManager}, shared.StatusDraft, ActionSubmit, false, "Role MANAGER cannot submit"},
		{"admin reverses posted", []Role{RoleAdmin}, shared.StatusPosted, ActionReverse, true, ""},
		{"admin voids draft", []Role{RoleAdmin}, shared.StatusDraft, ActionVoid, false, "Only posted documents can be voided"},
		{"director views", []Role{RoleDirector}, shared.StatusPosted, ActionView, true, ""},
		{"auditor cannot create", []Role{RoleAuditor}, "", ActionCreate, false, "Role AUDITOR cannot create"},
		{"no roles", nil, shared.StatusDraft, ActionView, false, "You need a role to view"},
		{"officer edits draft only", []Role{RoleAccountsOfficer}, shared.StatusSubmitted, ActionEdit, false, "Only draft documents can be edited"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Evaluate(tc.roles, tc.status, tc.action)
			require.Equal(t, tc.allowed, d.Allowed)
			require.Equal(t, tc.reason, d.Reason)
		})
	}
}

func TestEvaluateJournalTable(t *testing.T) {
	d := EvaluateFor(TargetJournal, []Role{RoleManager}, shared.StatusApproved, ActionPost)
	require.True(t, d.Allowed)

	d = EvaluateFor(TargetJournal, []Role{RoleManager}, shared.StatusSubmitted, ActionPost)
	require.False(t, d.Allowed)
	require.Equal(t, "Only approved journals can be posted", d.Reason)

	d = EvaluateFor(TargetJournal, []Role{RoleAdmin}, shared.StatusPosted, ActionDeleteDraft)
	require.Equal(t, "Only draft journals can be deleted", d.Reason)

	manager := Principal{UserID: 9, Roles: []Role{RoleManager}}
	require.NoError(t, Authorize(manager, Target{Kind: TargetJournal, Status: shared.StatusApproved, CreatedBy: 4}, ActionPost))
	err := Authorize(manager, Target{Status: shared.StatusApproved, CreatedBy: 4}, ActionPost)
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)
}

func TestEvaluateFirstGrantingRoleWins(t *testing.T) {
	d := Evaluate([]Role{RoleAuditor, RoleManager, RoleAdmin}, shared.StatusSubmitted, ActionPost)
	require.True(t, d.Allowed)
	require.Equal(t, RoleManager, d.Role)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	roles := []Role{RoleAccountsOfficer, RoleDirector}
	first := Evaluate(roles, shared.StatusSubmitted, ActionPost)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, Evaluate(roles, shared.StatusSubmitted, ActionPost))
	}
}

func TestAuthorizeMakerChecker(t *testing.T) {
	manager := Principal{UserID: 9, CompanyID: 1, Roles: []Role{RoleManager}}
	err := Authorize(manager, Target{Status: shared.StatusSubmitted, CreatedBy: 9}, ActionPost)
	require.ErrorIs(t, err, shared.ErrPermissionDenied)
	require.Equal(t, "You cannot post a document you created", err.Error())

	require.NoError(t, Authorize(manager, Target{Status: shared.StatusSubmitted, CreatedBy: 4}, ActionPost))

	// Submitting one's own draft is expected.
	officer := Principal{UserID: 4, CompanyID: 1, Roles: []Role{RoleAccountsOfficer}}
	require.NoError(t, Authorize(officer, Target{Status: shared.StatusDraft, CreatedBy: 4}, ActionSubmit))
}

func TestAuthorizeStatusMismatchIsStateError(t *testing.T) {
	manager := Principal{UserID: 9, Roles: []Role{RoleManager}}
	err := Authorize(manager, Target{Status: shared.StatusDraft, CreatedBy: 4}, ActionPost)
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)

	officer := Principal{UserID: 4, Roles: []Role{RoleAccountsOfficer}}
	err = Authorize(officer, Target{Status: shared.StatusSubmitted, CreatedBy: 4}, ActionPost)
	require.ErrorIs(t, err, shared.ErrPermissionDenied)
}

func TestParseRole(t *testing.T) {
	role, ok := ParseRole(" accounts-officer ")
	require.True(t, ok)
	require.Equal(t, RoleAccountsOfficer, role)
	_, ok = ParseRole("janitor")
	require.False(t, ok)
	action, ok := ParseAction("delete_draft")
	require.True(t, ok)
	require.Equal(t, ActionDeleteDraft, action)
}
