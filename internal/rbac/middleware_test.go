package rbac

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func TestIdentityMiddlewareBuildsPrincipal(t *testing.T) {
	var got Principal
	h := Middleware{}.Identity(Middleware{}.RequirePrincipal(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderActorID, "12")
	req.Header.Set(HeaderCompanyID, "3")
	req.Header.Set(HeaderRoles, "manager, auditor")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, int64(12), got.UserID)
	require.Equal(t, int64(3), got.CompanyID)
	require.Equal(t, []Role{RoleManager, RoleAuditor}, got.Roles)
}

func TestIdentityMiddlewareRejectsMissingAndBadHeaders(t *testing.T) {
	h := Middleware{}.Identity(Middleware{}.RequirePrincipal(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderActorID, "12")
	req.Header.Set(HeaderCompanyID, "3")
	req.Header.Set(HeaderRoles, "janitor")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestEvaluateHandler(t *testing.T) {
	r := chi.NewRouter()
	NewHandler().MountRoutes(r)

	body, _ := json.Marshal(map[string]any{"roles": []string{"ACCOUNTS_OFFICER"}, "status": "SUBMITTED", "action": "POST"})
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rr.Code)

	var d Decision
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &d))
	require.False(t, d.Allowed)
	require.Equal(t, "Role ACCOUNTS_OFFICER cannot post", d.Reason)

	body, _ = json.Marshal(map[string]any{"roles": []string{"MANAGER"}, "status": "SUBMITTED", "action": "POST", "actor_id": 5, "created_by": 5})
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewReader(body)))
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &d))
	require.False(t, d.Allowed)
	require.Equal(t, "You cannot post a document you created", d.Reason)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewReader([]byte(`{"roles":[]}`))))
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}
