package accounting

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/rbac"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

type ledgerService interface {
	GetJournal(ctx context.Context, id int64) (JournalEntry, error)
	ListJournals(ctx context.Context, companyID, periodID int64) ([]JournalEntry, error)
	CreateJournalDraft(ctx context.Context, actor rbac.Principal, input PostingInput) (JournalEntry, error)
	ApproveJournal(ctx context.Context, actor rbac.Principal, journalID int64) (JournalEntry, error)
	PostJournal(ctx context.Context, input PostingInput) (JournalEntry, error)
	PostApprovedJournal(ctx context.Context, actor rbac.Principal, journalID int64) (JournalEntry, error)
	ReverseJournal(ctx context.Context, actor rbac.Principal, journalID int64, reason string) (JournalEntry, error)
	DeleteJournalDraft(ctx context.Context, actor rbac.Principal, journalID int64) error
	ListAccounts(ctx context.Context, companyID int64) ([]Account, error)
	CreateAccount(ctx context.Context, actor rbac.Principal, a Account) (Account, error)
	UpdateAccount(ctx context.Context, actor rbac.Principal, a Account) (Account, error)
	SetAccountMapping(ctx context.Context, actor rbac.Principal, m AccountMapping) error
	TrialBalance(ctx context.Context, companyID, periodID int64) (TrialBalance, error)
	IntegrityScan(ctx context.Context, companyID int64) ([]JournalTotal, error)
}

// Handler exposes the general ledger over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  ledgerService
	validate *validator.Validate
}

// NewHandler builds the ledger handler.
func NewHandler(logger *slog.Logger, service ledgerService) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/accounts", h.listAccounts)
	r.Post("/accounts", h.createAccount)
	r.Put("/accounts/{id:[0-9]+}", h.updateAccount)
	r.Put("/mappings", h.setMapping)
	r.Get("/trial-balance", h.trialBalance)
	r.Get("/integrity", h.integrity)
	r.Get("/journals", h.listJournals)
	r.Post("/journals", h.postDirect)
	r.Post("/journals/drafts", h.createDraft)
	r.Route("/journals/{id:[0-9]+}", func(r chi.Router) {
		r.Get("/", h.getJournal)
		r.Delete("/", h.deleteDraft)
		r.Post("/approve", h.approve)
		r.Post("/post", h.post)
		r.Post("/reverse", h.reverse)
	})
}

func (h *Handler) viewer(w http.ResponseWriter, r *http.Request) (rbac.Principal, int64, bool) {
	p, _ := rbac.PrincipalFromContext(r.Context())
	if err := rbac.Authorize(p, rbac.Target{}, rbac.ActionView); err != nil {
		h.fail(w, err)
		return p, 0, false
	}
	company := p.CompanyID
	if company == 0 {
		company, _ = strconv.ParseInt(r.URL.Query().Get("company"), 10, 64)
	}
	if company == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Missing Company", "company is required")
		return p, 0, false
	}
	return p, company, true
}

func (h *Handler) periodParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.URL.Query().Get("period")
	if raw == "" {
		return 0, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Period", "period must be numeric")
		return 0, false
	}
	return id, true
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	_, company, ok := h.viewer(w, r)
	if !ok {
		return
	}
	accounts, err := h.service.ListAccounts(r.Context(), company)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, accounts)
}

type accountRequest struct {
	Code          string `json:"code" validate:"required"`
	Name          string `json:"name" validate:"required"`
	NormalBalance string `json:"normal_balance" validate:"required,oneof=DEBIT CREDIT"`
	IsControl     bool   `json:"is_control"`
	IsActive      *bool  `json:"is_active"`
}

func (req accountRequest) toAccount(companyID int64) Account {
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	return Account{
		CompanyID:     companyID,
		Code:          req.Code,
		Name:          req.Name,
		NormalBalance: NormalBalance(req.NormalBalance),
		IsControl:     req.IsControl,
		IsActive:      active,
	}
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	p, _ := rbac.PrincipalFromContext(r.Context())
	var req accountRequest
	if !h.decode(w, r, &req, "invalid account") {
		return
	}
	created, err := h.service.CreateAccount(r.Context(), p, req.toAccount(p.CompanyID))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) updateAccount(w http.ResponseWriter, r *http.Request) {
	p, _ := rbac.PrincipalFromContext(r.Context())
	var req accountRequest
	if !h.decode(w, r, &req, "invalid account") {
		return
	}
	a := req.toAccount(p.CompanyID)
	a.ID = pathID(r)
	updated, err := h.service.UpdateAccount(r.Context(), p, a)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

type mappingRequest struct {
	Module    string `json:"module" validate:"required"`
	Key       string `json:"key" validate:"required"`
	AccountID int64  `json:"account_id" validate:"required"`
}

func (h *Handler) setMapping(w http.ResponseWriter, r *http.Request) {
	p, _ := rbac.PrincipalFromContext(r.Context())
	var req mappingRequest
	if !h.decode(w, r, &req, "invalid mapping") {
		return
	}
	m := AccountMapping{CompanyID: p.CompanyID, Module: req.Module, Key: req.Key, AccountID: req.AccountID}
	if err := h.service.SetAccountMapping(r.Context(), p, m); err != nil {
		h.fail(w, err)
		return
	}
	m.Module, m.Key = NormalizeMappingKey(m.Module, m.Key)
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) trialBalance(w http.ResponseWriter, r *http.Request) {
	_, company, ok := h.viewer(w, r)
	if !ok {
		return
	}
	period, ok := h.periodParam(w, r)
	if !ok {
		return
	}
	tb, err := h.service.TrialBalance(r.Context(), company, period)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tb)
}

func (h *Handler) integrity(w http.ResponseWriter, r *http.Request) {
	_, company, ok := h.viewer(w, r)
	if !ok {
		return
	}
	offenders, err := h.service.IntegrityScan(r.Context(), company)
	if err != nil {
		h.fail(w, err)
		return
	}
	if offenders == nil {
		offenders = []JournalTotal{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"company_id": company, "unbalanced": offenders})
}

func (h *Handler) listJournals(w http.ResponseWriter, r *http.Request) {
	_, company, ok := h.viewer(w, r)
	if !ok {
		return
	}
	period, ok := h.periodParam(w, r)
	if !ok {
		return
	}
	entries, err := h.service.ListJournals(r.Context(), company, period)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) getJournal(w http.ResponseWriter, r *http.Request) {
	p, _, ok := h.viewer(w, r)
	if !ok {
		return
	}
	entry, err := h.service.GetJournal(r.Context(), pathID(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	if p.CompanyID != 0 && entry.CompanyID != p.CompanyID {
		h.fail(w, shared.Errorf(shared.KindNotFound, "journal %d not found", entry.ID))
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

type journalLineRequest struct {
	AccountID int64           `json:"account_id" validate:"required"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
	Memo      string          `json:"memo"`
}

type journalRequest struct {
	PeriodID  int64                `json:"period_id" validate:"required"`
	Date      string               `json:"date" validate:"required,datetime=2006-01-02"`
	Narration string               `json:"narration" validate:"max=500"`
	Lines     []journalLineRequest `json:"lines" validate:"required,min=2,dive"`
}

func (h *Handler) decodeJournal(w http.ResponseWriter, r *http.Request, p rbac.Principal) (PostingInput, bool) {
	var req journalRequest
	if !h.decode(w, r, &req, "invalid journal") {
		return PostingInput{}, false
	}
	date, _ := time.Parse(time.DateOnly, req.Date)
	input := PostingInput{CompanyID: p.CompanyID, PeriodID: req.PeriodID, Date: date, Narration: req.Narration, ActorID: p.UserID}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, PostingLineInput(l))
	}
	return input, true
}

// postDirect posts a balanced journal in one step. It carries the same
// authority as posting an approved journal.
func (h *Handler) postDirect(w http.ResponseWriter, r *http.Request) {
	p, _ := rbac.PrincipalFromContext(r.Context())
	if err := rbac.Authorize(p, rbac.Target{Kind: rbac.TargetJournal, Status: shared.StatusApproved}, rbac.ActionPost); err != nil {
		h.fail(w, err)
		return
	}
	input, ok := h.decodeJournal(w, r, p)
	if !ok {
		return
	}
	if input.CompanyID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Missing Company", "company is required")
		return
	}
	h.respond(w, http.StatusCreated)(h.service.PostJournal(r.Context(), input))
}

func (h *Handler) createDraft(w http.ResponseWriter, r *http.Request) {
	p, _ := rbac.PrincipalFromContext(r.Context())
	input, ok := h.decodeJournal(w, r, p)
	if !ok {
		return
	}
	h.respond(w, http.StatusCreated)(h.service.CreateJournalDraft(r.Context(), p, input))
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	p, _ := rbac.PrincipalFromContext(r.Context())
	h.respond(w, http.StatusOK)(h.service.ApproveJournal(r.Context(), p, pathID(r)))
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	p, _ := rbac.PrincipalFromContext(r.Context())
	h.respond(w, http.StatusOK)(h.service.PostApprovedJournal(r.Context(), p, pathID(r)))
}

type reverseRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) reverse(w http.ResponseWriter, r *http.Request) {
	p, _ := rbac.PrincipalFromContext(r.Context())
	var req reverseRequest
	if !h.decode(w, r, &req, "a reason is required") {
		return
	}
	h.respond(w, http.StatusCreated)(h.service.ReverseJournal(r.Context(), p, pathID(r), req.Reason))
}

func (h *Handler) deleteDraft(w http.ResponseWriter, r *http.Request) {
	p, _ := rbac.PrincipalFromContext(r.Context())
	if err := h.service.DeleteJournalDraft(r.Context(), p, pathID(r)); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respond(w http.ResponseWriter, status int) func(JournalEntry, error) {
	return func(entry JournalEntry, err error) {
		if err != nil {
			h.fail(w, err)
			return
		}
		httpx.JSON(w, status, entry)
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any, reason string) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		h.fail(w, shared.Wrap(shared.KindValidation, err, reason))
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError && h.logger != nil {
		h.logger.Error("ledger handler", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func pathID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id
}
