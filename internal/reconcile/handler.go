package reconcile

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/rbac"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

type reportService interface {
	Reconcile(ctx context.Context, companyID int64, side Side) (Result, error)
	Statement(ctx context.Context, companyID, partyID int64) (Statement, error)
	Aging(ctx context.Context, companyID, partyID int64, asOf time.Time) (Aging, error)
	AgingAll(ctx context.Context, companyID int64, side Side, asOf time.Time) (Aging, error)
}

// Handler serves the report endpoints.
type Handler struct {
	logger  *slog.Logger
	service reportService
}

// NewHandler builds the report handler.
func NewHandler(logger *slog.Logger, service reportService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/reconcile", h.reconcile)
	r.Get("/statement", h.statement)
	r.Get("/aging", h.aging)
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	company, ok := h.company(w, r)
	if !ok {
		return
	}
	side, ok := ParseSide(r.URL.Query().Get("side"))
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Side", "side must be AR or AP")
		return
	}
	res, err := h.service.Reconcile(r.Context(), company, side)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) statement(w http.ResponseWriter, r *http.Request) {
	company, ok := h.company(w, r)
	if !ok {
		return
	}
	party, err := strconv.ParseInt(r.URL.Query().Get("party"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Party", "party must be numeric")
		return
	}
	st, err := h.service.Statement(r.Context(), company, party)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) aging(w http.ResponseWriter, r *http.Request) {
	company, ok := h.company(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	var asOf time.Time
	if raw := q.Get("as_of"); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Date", "as_of must be YYYY-MM-DD")
			return
		}
		asOf = parsed
	}
	var (
		out Aging
		err error
	)
	if raw := q.Get("party"); raw != "" {
		party, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Party", "party must be numeric")
			return
		}
		out, err = h.service.Aging(r.Context(), company, party, asOf)
	} else {
		side, ok := ParseSide(q.Get("side"))
		if !ok {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Side", "party or side is required")
			return
		}
		out, err = h.service.AgingAll(r.Context(), company, side, asOf)
	}
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

// company authorizes a view and resolves the company. Unscoped principals
// name it with ?company=.
func (h *Handler) company(w http.ResponseWriter, r *http.Request) (int64, bool) {
	p, _ := rbac.PrincipalFromContext(r.Context())
	if err := rbac.Authorize(p, rbac.Target{}, rbac.ActionView); err != nil {
		h.fail(w, err)
		return 0, false
	}
	if p.CompanyID != 0 {
		return p.CompanyID, true
	}
	id, err := strconv.ParseInt(r.URL.Query().Get("company"), 10, 64)
	if err != nil || id == 0 {
		h.fail(w, shared.Errorf(shared.KindValidation, "company required"))
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError && h.logger != nil {
		h.logger.Error("reports handler", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
