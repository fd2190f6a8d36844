package rbac

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
)

// Identity headers set by the upstream identity collaborator.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderCompanyID = "X-Company-ID"
	HeaderRoles     = "X-Roles"
)

// Middleware turns identity headers into a Principal.
type Middleware struct {
	Logger *slog.Logger
}

// Identity attaches a Principal when the actor header is present.
func (m Middleware) Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(HeaderActorID))
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		p, err := principalFromHeaders(r.Header)
		if err != nil {
			if m.Logger != nil {
				m.Logger.Warn("rbac identity headers", slog.Any("error", err))
			}
			httpx.Problem(w, http.StatusBadRequest, "Bad Identity", err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// RequirePrincipal rejects requests without an identity.
func (m Middleware) RequirePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := PrincipalFromContext(r.Context()); !ok {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "identity headers required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func principalFromHeaders(h http.Header) (Principal, error) {
	actor, err := strconv.ParseInt(strings.TrimSpace(h.Get(HeaderActorID)), 10, 64)
	if err != nil || actor <= 0 {
		return Principal{}, errBadHeader(HeaderActorID)
	}
	company, err := strconv.ParseInt(strings.TrimSpace(h.Get(HeaderCompanyID)), 10, 64)
	if err != nil || company <= 0 {
		return Principal{}, errBadHeader(HeaderCompanyID)
	}
	p := Principal{UserID: actor, CompanyID: company}
	for _, part := range strings.Split(h.Get(HeaderRoles), ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		role, ok := ParseRole(part)
		if !ok {
			return Principal{}, errBadHeader(HeaderRoles)
		}
		p.Roles = append(p.Roles, role)
	}
	return p, nil
}

type errBadHeader string

func (e errBadHeader) Error() string { return "invalid " + string(e) + " header" }
