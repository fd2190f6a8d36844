package audit

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/rbac"
)

type timelineSource interface {
	Timeline(ctx context.Context, entity, entityID string) ([]Record, error)
}

// Handler serves audit timelines.
type Handler struct {
	logger  *slog.Logger
	records timelineSource
}

// NewHandler builds the audit handler.
func NewHandler(logger *slog.Logger, records timelineSource) *Handler {
	return &Handler{logger: logger, records: records}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{entity}/{id}", h.timeline)
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	p, _ := rbac.PrincipalFromContext(r.Context())
	if err := rbac.Authorize(p, rbac.Target{}, rbac.ActionView); err != nil {
		httpx.RespondError(w, err)
		return
	}
	records, err := h.records.Timeline(r.Context(), chi.URLParam(r, "entity"), chi.URLParam(r, "id"))
	if err != nil {
		if h.logger != nil {
			h.logger.Error("audit timeline", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	if r.URL.Query().Get("format") != "csv" {
		if records == nil {
			records = []Record{}
		}
		httpx.JSON(w, http.StatusOK, records)
		return
	}
	payload, err := ExportCSV(records)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="audit.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}
