package rbac

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Handler exposes the evaluator for the UI to grey out actions.
type Handler struct {
	validate *validator.Validate
}

// NewHandler builds the permissions handler.
func NewHandler() *Handler {
	return &Handler{validate: validator.New()}
}

// MountRoutes registers permission routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/evaluate", h.evaluate)
}

type evaluateRequest struct {
	Roles     []string `json:"roles" validate:"required,min=1,dive,required"`
	Status    string   `json:"status"`
	Action    string   `json:"action" validate:"required"`
	ActorID   int64    `json:"actor_id"`
	CreatedBy int64    `json:"created_by"`
}

func (h *Handler) evaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.Wrap(shared.KindValidation, err, "invalid evaluation request"))
		return
	}
	action, ok := ParseAction(req.Action)
	if !ok {
		httpx.RespondError(w, shared.Errorf(shared.KindValidation, "unknown action %q", req.Action))
		return
	}
	roles := make([]Role, 0, len(req.Roles))
	for _, raw := range req.Roles {
		role, ok := ParseRole(raw)
		if !ok {
			httpx.RespondError(w, shared.Errorf(shared.KindValidation, "unknown role %q", raw))
			return
		}
		roles = append(roles, role)
	}
	decision := Evaluate(roles, shared.Status(req.Status), action)
	if decision.Allowed && req.ActorID != 0 {
		if mc := CheckMakerChecker(req.ActorID, req.CreatedBy, action); !mc.Allowed {
			decision = mc
		}
	}
	httpx.JSON(w, http.StatusOK, decision)
}
