package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/rbac"
)

func timelineRouter(t *testing.T) http.Handler {
	t.Helper()
	rec := NewRecorder(NewMemorySink(), nil)
	rec.WithNow(func() time.Time { return time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC) })
	_, err := rec.Append(context.Background(), Change{Entity: "document", EntityID: int64(4), Action: "document.create", After: map[string]string{"status": "DRAFT"}, ActorID: 3})
	require.NoError(t, err)
	_, err = rec.Append(context.Background(), Change{Entity: "document", EntityID: int64(4), Action: "document.post", ActorID: 2})
	require.NoError(t, err)

	r := chi.NewRouter()
	NewHandler(nil, rec).MountRoutes(r)
	return r
}

func get(h http.Handler, path string, p *rbac.Principal) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if p != nil {
		req = req.WithContext(rbac.WithPrincipal(req.Context(), *p))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestTimelineJSONAndCSV(t *testing.T) {
	h := timelineRouter(t)
	auditor := rbac.Principal{UserID: 9, CompanyID: 1, Roles: []rbac.Role{rbac.RoleAuditor}}

	rr := get(h, "/document/4", &auditor)
	require.Equal(t, http.StatusOK, rr.Code)
	var records []Record
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &records))
	require.Len(t, records, 2)
	require.Equal(t, "document.create", records[0].Action)

	rr = get(h, "/document/4?format=csv", &auditor)
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, strings.HasPrefix(rr.Header().Get("Content-Type"), "text/csv"))
	rows, err := csv.NewReader(rr.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, exportHeader, rows[0])
	require.Equal(t, "2024-03-05T10:00:00Z", rows[1][0])
	require.Equal(t, `{"status":"DRAFT"}`, rows[1][6])
	require.Equal(t, "", rows[2][6])

	rr = get(h, "/document/99", &auditor)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, "[]", rr.Body.String())
}

func TestTimelineNeedsRole(t *testing.T) {
	h := timelineRouter(t)
	rr := get(h, "/document/4", &rbac.Principal{UserID: 9, CompanyID: 1})
	require.Equal(t, http.StatusForbidden, rr.Code)
}
