package loan

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/teranga-app/teranga/internal/org"
	"github.com/teranga-app/teranga/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the loan repayment ledger.
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

// MountRoutes registers loan routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{loanID}/ledger", h.handleLedger)
	r.Post("/{loanID}/repayments", h.handleRecordRepayment)
	r.Post("/repayments/{repaymentID}/validate", h.handleValidate)
	r.Post("/repayments/{repaymentID}/reject", h.handleReject)
}

func (h *Handler) handleLedger(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "loanID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid loan id")
		return
	}
	view, err := h.service.Ledger(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

type recordRepaymentForm struct {
	Amount          float64 `json:"amount" validate:"required,gt=0"`
	PrincipalAmount float64 `json:"principalAmount" validate:"min=0"`
	InterestAmount  float64 `json:"interestAmount" validate:"min=0"`
	PenaltyAmount   float64 `json:"penaltyAmount" validate:"min=0"`
	PaymentDate     string  `json:"paymentDate" validate:"omitempty,datetime=2006-01-02"`
	PaymentMethod   string  `json:"paymentMethod"`
	ManualReference string  `json:"manualReference"`
}

func (h *Handler) handleRecordRepayment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "loanID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid loan id")
		return
	}
	actor, assoc, err := h.actors.Load(r.Context(), r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var form recordRepaymentForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	var paymentDate time.Time
	if form.PaymentDate != "" {
		paymentDate, _ = time.Parse("2006-01-02", form.PaymentDate)
	}
	repayment, err := h.service.RecordRepayment(r.Context(), RecordRepaymentInput{
		Actor:            actor,
		Association:      assoc,
		ExpenseRequestID: id,
		Amount:           form.Amount,
		PrincipalAmount:  form.PrincipalAmount,
		InterestAmount:   form.InterestAmount,
		PenaltyAmount:    form.PenaltyAmount,
		PaymentDate:      paymentDate,
		PaymentMethod:    form.PaymentMethod,
		ManualReference:  form.ManualReference,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, repayment)
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.service.ValidateRepayment)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.service.RejectRepayment)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, input ValidateRepaymentInput) (Repayment, error)) {
	id, err := uuid.Parse(chi.URLParam(r, "repaymentID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid repayment id")
		return
	}
	actor, assoc, err := h.actors.Load(r.Context(), r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	repayment, err := op(r.Context(), ValidateRepaymentInput{
		RepaymentID: id,
		Validator:   actor,
		Association: assoc,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, repayment)
}
