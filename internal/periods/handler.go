package periods

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/rbac"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

type periodService interface {
	CreatePeriod(ctx context.Context, actor rbac.Principal, in CreatePeriodInput) (Period, error)
	Close(ctx context.Context, actor rbac.Principal, periodID int64) (Period, error)
	Reopen(ctx context.Context, actor rbac.Principal, periodID int64, reason string) (Period, error)
	ListPeriods(ctx context.Context, companyID int64) ([]Period, error)
}

// Handler exposes period lifecycle endpoints.
type Handler struct {
	logger   *slog.Logger
	service  periodService
	validate *validator.Validate
}

// NewHandler builds the period handler.
func NewHandler(logger *slog.Logger, service periodService) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers period routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Post("/{id}/close", h.close)
	r.Post("/{id}/reopen", h.reopen)
}

type createRequest struct {
	Year  int `json:"year" validate:"required,min=1900,max=9999"`
	Month int `json:"month" validate:"required,min=1,max=12"`
}

type reopenRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	p, _ := rbac.PrincipalFromContext(r.Context())
	out, err := h.service.ListPeriods(r.Context(), p.CompanyID)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	p, _ := rbac.PrincipalFromContext(r.Context())
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.fail(w, shared.Wrap(shared.KindValidation, err, "invalid period"))
		return
	}
	out, err := h.service.CreatePeriod(r.Context(), p, CreatePeriodInput{CompanyID: p.CompanyID, Year: req.Year, Month: req.Month})
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, out)
}

func (h *Handler) close(w http.ResponseWriter, r *http.Request) {
	id, ok := h.periodID(w, r)
	if !ok {
		return
	}
	p, _ := rbac.PrincipalFromContext(r.Context())
	out, err := h.service.Close(r.Context(), p, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) reopen(w http.ResponseWriter, r *http.Request) {
	id, ok := h.periodID(w, r)
	if !ok {
		return
	}
	var req reopenRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.fail(w, shared.Wrap(shared.KindValidation, err, "a reason is required to reopen a period"))
		return
	}
	p, _ := rbac.PrincipalFromContext(r.Context())
	out, err := h.service.Reopen(r.Context(), p, id, req.Reason)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) periodID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Period", "period id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError && h.logger != nil {
		h.logger.Error("periods handler", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
