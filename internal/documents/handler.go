package documents

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

type workflowService interface {
	CreateDraft(ctx context.Context, actor rbac.Principal, in DraftInput) (Document, error)
	UpdateDraft(ctx context.Context, actor rbac.Principal, id int64, in DraftInput) (Document, error)
	Submit(ctx context.Context, actor rbac.Principal, id int64) (Document, error)
	Post(ctx context.Context, actor rbac.Principal, id int64) (Document, error)
	SubmitAndPost(ctx context.Context, actor rbac.Principal, id int64) (Document, error)
	Reverse(ctx context.Context, actor rbac.Principal, id int64, reason string) (Document, error)
	Void(ctx context.Context, actor rbac.Principal, id int64, reason string) (Document, error)
	DeleteDraft(ctx context.Context, actor rbac.Principal, id int64) error
	Get(ctx context.Context, actor rbac.Principal, id int64) (Document, error)
	List(ctx context.Context, filter ListFilter) ([]Document, error)
}

// Handler exposes the document workflow over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  workflowService
	validate *validator.Validate
}

// NewHandler builds a documents handler.
func NewHandler(logger *slog.Logger, service workflowService) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers document routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/{type}", h.create)
	r.Route("/{id:[0-9]+}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Put("/", h.update)
		r.Delete("/", h.delete)
		r.Post("/submit", h.transition((*Handler).submit))
		r.Post("/post", h.transition((*Handler).post))
		r.Post("/submit-post", h.transition((*Handler).submitPost))
		r.Post("/reverse", h.withReason(rbac.ActionReverse))
		r.Post("/void", h.withReason(rbac.ActionVoid))
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	p, _ := rbac.PrincipalFromContext(r.Context())
	if err := rbac.Authorize(p, rbac.Target{}, rbac.ActionView); err != nil {
		h.fail(w, err)
		return
	}
	q := r.URL.Query()
	filter := ListFilter{CompanyID: p.CompanyID}
	if raw := q.Get("type"); raw != "" {
		t, ok := ParseType(raw)
		if !ok {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Type", "unknown document type "+raw)
			return
		}
		filter.Types = []DocType{t}
	}
	if raw := q.Get("status"); raw != "" {
		st, ok := ParseStatus(raw)
		if !ok {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Status", "unknown document status "+raw)
			return
		}
		filter.Statuses = []shared.Status{st}
	}
	if raw := q.Get("party"); raw != "" {
		party, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Party", "party must be numeric")
			return
		}
		filter.PartyID = party
	}
	docs, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, docs)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	p, _ := rbac.PrincipalFromContext(r.Context())
	t, ok := ParseType(chi.URLParam(r, "type"))
	if !ok {
		httpx.Problem(w, http.StatusNotFound, "Unknown Document Type", chi.URLParam(r, "type"))
		return
	}
	req, ok := h.decodeDraft(w, r)
	if !ok {
		return
	}
	doc, err := h.service.CreateDraft(r.Context(), p, req.toInput(t, p.CompanyID))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, doc)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	p, _ := rbac.PrincipalFromContext(r.Context())
	doc, err := h.service.Get(r.Context(), p, docID(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	p, _ := rbac.PrincipalFromContext(r.Context())
	req, ok := h.decodeDraft(w, r)
	if !ok {
		return
	}
	doc, err := h.service.UpdateDraft(r.Context(), p, docID(r), req.toInput("", p.CompanyID))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	p, _ := rbac.PrincipalFromContext(r.Context())
	if err := h.service.DeleteDraft(r.Context(), p, docID(r)); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type transitionFunc func(h *Handler, ctx context.Context, p rbac.Principal, id int64) (Document, error)

func (h *Handler) transition(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := rbac.PrincipalFromContext(r.Context())
		doc, err := fn(h, r.Context(), p, docID(r))
		if err != nil {
			h.fail(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, doc)
	}
}

func (h *Handler) submit(ctx context.Context, p rbac.Principal, id int64) (Document, error) {
	return h.service.Submit(ctx, p, id)
}

func (h *Handler) post(ctx context.Context, p rbac.Principal, id int64) (Document, error) {
	return h.service.Post(ctx, p, id)
}

func (h *Handler) submitPost(ctx context.Context, p rbac.Principal, id int64) (Document, error) {
	return h.service.SubmitAndPost(ctx, p, id)
}

func (h *Handler) withReason(action rbac.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := rbac.PrincipalFromContext(r.Context())
		var req reasonRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
			return
		}
		if err := h.validate.Struct(req); err != nil {
			h.fail(w, shared.Wrap(shared.KindValidation, err, "a reason is required"))
			return
		}
		var (
			doc Document
			err error
		)
		if action == rbac.ActionVoid {
			doc, err = h.service.Void(r.Context(), p, docID(r), req.Reason)
		} else {
			doc, err = h.service.Reverse(r.Context(), p, docID(r), req.Reason)
		}
		if err != nil {
			h.fail(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, doc)
	}
}

func (h *Handler) decodeDraft(w http.ResponseWriter, r *http.Request) (draftRequest, bool) {
	var req draftRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return req, false
	}
	if err := h.validate.Struct(req); err != nil {
		h.fail(w, shared.Wrap(shared.KindValidation, err, "invalid document"))
		return req, false
	}
	return req, true
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError && h.logger != nil {
		h.logger.Error("documents handler", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func docID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id
}
