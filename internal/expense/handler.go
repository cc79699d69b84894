package expense

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/teranga-app/teranga/internal/org"
	"github.com/teranga-app/teranga/internal/platform/httpx"
	"github.com/teranga-app/teranga/internal/shared"
)

// Handler wires HTTP endpoints for the expense approval workflow.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	actors    *org.ActorLoader
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, actors *org.ActorLoader) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		actors:    actors,
		validator: validator.New(),
	}
}

// MountRoutes registers expense routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Get("/{requestID}", h.handleGet)
	r.Post("/{requestID}/submit", h.handleSubmit)
	r.Post("/{requestID}/decisions", h.handleDecision)
	r.Post("/{requestID}/info", h.handleProvideInfo)
	r.Post("/{requestID}/pay", h.handlePay)
}

type loanTermsForm struct {
	DurationMonths int     `json:"durationMonths" validate:"required,gt=0"`
	InterestRate   float64 `json:"interestRate" validate:"min=0"`
	MonthlyPayment float64 `json:"monthlyPayment" validate:"required,gt=0"`
}

type createRequestForm struct {
	SectionID           *uuid.UUID     `json:"sectionId"`
	BeneficiaryMemberID *uuid.UUID     `json:"beneficiaryMemberId"`
	BeneficiaryName     string         `json:"beneficiaryName"`
	BeneficiaryContact  string         `json:"beneficiaryContact"`
	ExpenseType         string         `json:"expenseType" validate:"required"`
	Amount              float64        `json:"amount" validate:"required,gt=0"`
	Currency            string         `json:"currency" validate:"required,len=3"`
	Urgency             string         `json:"urgency" validate:"required,oneof=low normal high critical"`
	IsLoan              bool           `json:"isLoan"`
	LoanTerms           *loanTermsForm `json:"loanTerms"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	actor, assoc, err := h.actors.Load(r.Context(), r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var form createRequestForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	var terms *LoanTerms
	if form.LoanTerms != nil {
		terms = &LoanTerms{
			DurationMonths: form.LoanTerms.DurationMonths,
			InterestRate:   form.LoanTerms.InterestRate,
			MonthlyPayment: form.LoanTerms.MonthlyPayment,
		}
	}
	req, err := h.service.CreateRequest(r.Context(), CreateInput{
		Requester:   actor,
		Association: assoc,
		SectionID:   form.SectionID,
		Beneficiary: Beneficiary{
			MemberID: form.BeneficiaryMemberID,
			Name:     form.BeneficiaryName,
			Contact:  form.BeneficiaryContact,
		},
		ExpenseType: form.ExpenseType,
		Amount:      form.Amount,
		Currency:    form.Currency,
		Urgency:     Urgency(form.Urgency),
		IsLoan:      form.IsLoan,
		LoanTerms:   terms,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, req)
}

type listResponse struct {
	Items      []Request         `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	_, assoc, err := h.actors.Load(r.Context(), r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	requests, err := h.service.ListRequests(r.Context(), assoc.ID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("perPage"))
	pagination := shared.NewPagination(page, perPage, len(requests))
	start := (pagination.Page - 1) * pagination.PerPage
	if start > len(requests) {
		start = len(requests)
	}
	end := start + pagination.PerPage
	if end > len(requests) {
		end = len(requests)
	}
	items := requests[start:end]
	if items == nil {
		items = []Request{}
	}
	httpx.JSON(w, http.StatusOK, listResponse{Items: items, Pagination: pagination})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "requestID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid request id")
		return
	}
	req, err := h.service.GetRequest(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "requestID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid request id")
		return
	}
	actor, _, err := h.actors.Load(r.Context(), r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	req, err := h.service.SubmitForReview(r.Context(), id, actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

type decisionForm struct {
	Decision string `json:"decision" validate:"required,oneof=approved rejected info_requested"`
	Comment  string `json:"comment"`
}

func (h *Handler) handleDecision(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "requestID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid request id")
		return
	}
	actor, assoc, err := h.actors.Load(r.Context(), r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var form decisionForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	req, err := h.service.RecordApprovalDecision(r.Context(), DecisionInput{
		RequestID:   id,
		Validator:   actor,
		Association: assoc,
		Decision:    Decision(form.Decision),
		Comment:     form.Comment,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) handleProvideInfo(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "requestID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid request id")
		return
	}
	actor, _, err := h.actors.Load(r.Context(), r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	req, err := h.service.ProvideAdditionalInfo(r.Context(), id, actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) handlePay(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "requestID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid request id")
		return
	}
	actor, assoc, err := h.actors.Load(r.Context(), r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	req, err := h.service.TransitionToPaid(r.Context(), id, actor, assoc)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}
