package ctro

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/rbac"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

type costingService interface {
	ComputeCtroLine(ctx context.Context, companyID, depotID, centerID, bags int64, treatment Treatment, date time.Time) (CostedLine, error)
	Publish(ctx context.Context, actor rbac.Principal, card RateCard) (RateCard, error)
	CurrentRateCard(ctx context.Context, companyID int64, date time.Time) (RateCard, error)
}

// Handler exposes the costing engine.
type Handler struct {
	logger   *slog.Logger
	engine   costingService
	validate *validator.Validate
}

// NewHandler builds the CTRO handler.
func NewHandler(logger *slog.Logger, engine costingService) *Handler {
	return &Handler{logger: logger, engine: engine, validate: validator.New()}
}

// MountRoutes registers CTRO routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/cost-line", h.costLine)
	r.Get("/rate-cards/current", h.current)
	r.Post("/rate-cards", h.publish)
}

type costLineRequest struct {
	DepotID          int64  `json:"depot_id" validate:"required"`
	TakeoverCenterID int64  `json:"takeover_center_id" validate:"required"`
	Bags             int64  `json:"bags" validate:"required,gt=0"`
	Treatment        string `json:"treatment" validate:"omitempty,oneof=COMPANY_PAID DEDUCTED"`
	Date             string `json:"date" validate:"required,datetime=2006-01-02"`
}

func (h *Handler) costLine(w http.ResponseWriter, r *http.Request) {
	p, _ := rbac.PrincipalFromContext(r.Context())
	if err := rbac.Authorize(p, rbac.Target{}, rbac.ActionView); err != nil {
		h.fail(w, err)
		return
	}
	var req costLineRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.fail(w, shared.Wrap(shared.KindValidation, err, "invalid CTRO line"))
		return
	}
	date, _ := time.Parse(time.DateOnly, req.Date)
	line, err := h.engine.ComputeCtroLine(r.Context(), p.CompanyID, req.DepotID, req.TakeoverCenterID, req.Bags, Treatment(req.Treatment), date)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, costLineResponse{CostedLine: line, TonnageDisplay: line.Tonnage.StringFixed(3)})
}

type costLineResponse struct {
	CostedLine
	TonnageDisplay string `json:"tonnage_display"`
}

func (h *Handler) current(w http.ResponseWriter, r *http.Request) {
	p, _ := rbac.PrincipalFromContext(r.Context())
	date := time.Now()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Date", "date must be YYYY-MM-DD")
			return
		}
		date = parsed
	}
	card, err := h.engine.CurrentRateCard(r.Context(), p.CompanyID, date)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, card)
}

type rateCardLineRequest struct {
	RegionID          int64           `json:"region_id"`
	DistrictID        int64           `json:"district_id"`
	DepotID           *int64          `json:"depot_id"`
	TakeoverCenterID  int64           `json:"takeover_center_id" validate:"required"`
	ProducerPrice     decimal.Decimal `json:"producer_price"`
	BuyerMargin       decimal.Decimal `json:"buyer_margin"`
	SecondaryEvacCost decimal.Decimal `json:"secondary_evac_cost"`
	TakeoverPrice     decimal.Decimal `json:"takeover_price"`
}

type rateCardRequest struct {
	Season        string                `json:"season" validate:"required"`
	BagWeightKg   decimal.Decimal       `json:"bag_weight_kg"`
	BagsPerTonne  decimal.Decimal       `json:"bags_per_tonne"`
	EffectiveFrom string                `json:"effective_from" validate:"required,datetime=2006-01-02"`
	EffectiveTo   string                `json:"effective_to" validate:"omitempty,datetime=2006-01-02"`
	Lines         []rateCardLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) publish(w http.ResponseWriter, r *http.Request) {
	p, _ := rbac.PrincipalFromContext(r.Context())
	var req rateCardRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.fail(w, shared.Wrap(shared.KindValidation, err, "invalid rate card"))
		return
	}
	card := RateCard{CompanyID: p.CompanyID, Season: req.Season, BagWeightKg: req.BagWeightKg, BagsPerTonne: req.BagsPerTonne}
	card.EffectiveFrom, _ = time.Parse(time.DateOnly, req.EffectiveFrom)
	if req.EffectiveTo != "" {
		to, _ := time.Parse(time.DateOnly, req.EffectiveTo)
		card.EffectiveTo = &to
	}
	for _, l := range req.Lines {
		card.Lines = append(card.Lines, RateCardLine{
			RegionID:          l.RegionID,
			DistrictID:        l.DistrictID,
			DepotID:           l.DepotID,
			TakeoverCenterID:  l.TakeoverCenterID,
			ProducerPrice:     l.ProducerPrice,
			BuyerMargin:       l.BuyerMargin,
			SecondaryEvacCost: l.SecondaryEvacCost,
			TakeoverPrice:     l.TakeoverPrice,
		})
	}
	stored, err := h.engine.Publish(r.Context(), p, card)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, stored)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError && h.logger != nil {
		h.logger.Error("ctro handler", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
