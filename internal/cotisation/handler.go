package cotisation

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

// Handler wires HTTP endpoints for cotisation recording and validation.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	orgs      *org.Service
	actors    *org.ActorLoader
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, orgs *org.Service, actors *org.ActorLoader) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		orgs:      orgs,
		actors:    actors,
		validator: validator.New(),
	}
}

// MountRoutes registers cotisation routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleRecordPayment)
	r.Post("/open-period", h.handleOpenPeriod)
	r.Post("/{recordID}/validate", h.handleValidate)
	r.Post("/{recordID}/reject", h.handleReject)
	r.Get("/{recordID}", h.handleGetRecord)
	r.Get("/members/{memberID}/statement", h.handleStatement)
}

type recordPaymentForm struct {
	MemberID    uuid.UUID `json:"memberId" validate:"required"`
	Month       int       `json:"month" validate:"required,min=1,max=12"`
	Year        int       `json:"year" validate:"required,min=2000"`
	Amount      float64   `json:"amount" validate:"required,gt=0"`
	Method      string    `json:"paymentMethod"`
	Source      string    `json:"source" validate:"required,oneof=manual transfer card import"`
	PaymentDate string    `json:"paymentDate" validate:"omitempty,datetime=2006-01-02"`
}

func (h *Handler) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	actor, assoc, err := h.actors.Load(r.Context(), r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var form recordPaymentForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	member, err := h.orgs.GetMember(r.Context(), form.MemberID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var paymentDate time.Time
	if form.PaymentDate != "" {
		paymentDate, _ = time.Parse("2006-01-02", form.PaymentDate)
	}
	record, err := h.service.RecordPayment(r.Context(), RecordPaymentInput{
		Actor:       actor,
		Association: assoc,
		Member:      member,
		Month:       form.Month,
		Year:        form.Year,
		Amount:      form.Amount,
		Method:      form.Method,
		Source:      Source(form.Source),
		PaymentDate: paymentDate,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, record)
}

type openPeriodForm struct {
	Month int `json:"month" validate:"required,min=1,max=12"`
	Year  int `json:"year" validate:"required,min=2000"`
}

func (h *Handler) handleOpenPeriod(w http.ResponseWriter, r *http.Request) {
	_, assoc, err := h.actors.Load(r.Context(), r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var form openPeriodForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	created, err := h.service.OpenPeriod(r.Context(), assoc, form.Month, form.Year)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int{"created": created})
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.service.ValidatePayment)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.service.RejectPayment)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, input ValidateInput) (Record, error)) {
	recordID, err := uuid.Parse(chi.URLParam(r, "recordID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid record id")
		return
	}
	actor, assoc, err := h.actors.Load(r.Context(), r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	record, err := op(r.Context(), ValidateInput{
		RecordID:    recordID,
		Validator:   actor,
		Association: assoc,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, record)
}

func (h *Handler) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	recordID, err := uuid.Parse(chi.URLParam(r, "recordID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid record id")
		return
	}
	record, err := h.service.GetRecord(r.Context(), recordID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, record)
}

func (h *Handler) handleStatement(w http.ResponseWriter, r *http.Request) {
	memberID, err := uuid.Parse(chi.URLParam(r, "memberID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid member id")
		return
	}
	member, err := h.orgs.GetMember(r.Context(), memberID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	assoc, err := h.orgs.GetAssociation(r.Context(), member.AssociationID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	statement, err := h.service.Statement(r.Context(), member, assoc, time.Now())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, statement)
}
