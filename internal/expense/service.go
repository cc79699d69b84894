package expense

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/currency"

	"github.com/teranga-app/teranga/internal/org"
	"github.com/teranga-app/teranga/internal/perm"
	"github.com/teranga-app/teranga/internal/shared"
)

// Service orchestrates the approval workflow around the pure state machine.
// Every operation re-reads the request inside a transaction so concurrent
// validators surface as Conflict errors instead of lost updates.
type Service struct {
	repo   Repository
	sink   shared.EventSink
	locker *shared.AggregateLocker
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository, sink shared.EventSink, logger *slog.Logger) *Service {
	if sink == nil {
		sink = shared.NopSink
	}
	return &Service{repo: repo, sink: sink, logger: logger, now: time.Now}
}

// WithClock overrides the wall clock. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithLocker adds a redis lock around decision cycles. Without one the
// version check alone guards concurrent validators.
func (s *Service) WithLocker(locker *shared.AggregateLocker) *Service {
	s.locker = locker
	return s
}

// CreateInput describes a new expense or loan request.
type CreateInput struct {
	Requester   org.Member
	Association org.Association
	SectionID   *uuid.UUID
	Beneficiary Beneficiary
	ExpenseType string
	Amount      float64
	Currency    string
	Urgency     Urgency
	IsLoan      bool
	LoanTerms   *LoanTerms
}

// CreateRequest validates and persists a new request in pending state.
func (s *Service) CreateRequest(ctx context.Context, input CreateInput) (Request, error) {
	if !org.HasPermission(input.Requester, input.Association, perm.PermExpensesCreate) {
		return Request{}, shared.Authorizationf("member %s may not create expense requests", input.Requester.ID)
	}
	if input.Requester.AssociationID != input.Association.ID {
		return Request{}, shared.Validationf("requester does not belong to the association")
	}
	if input.Amount <= 0 {
		return Request{}, shared.Validationf("amount must be positive")
	}
	if _, err := currency.ParseISO(input.Currency); err != nil {
		return Request{}, shared.Validationf("invalid currency code %q", input.Currency)
	}
	if !ValidUrgency(input.Urgency) {
		return Request{}, shared.Validationf("unknown urgency level %q", input.Urgency)
	}
	if input.Beneficiary.MemberID == nil && strings.TrimSpace(input.Beneficiary.Name) == "" {
		return Request{}, shared.Validationf("beneficiary must be an internal member or carry an external name")
	}
	if input.SectionID != nil && !input.Association.IsMultiSection {
		return Request{}, shared.Validationf("single-section association cannot scope requests to a section")
	}
	if input.IsLoan && input.LoanTerms != nil {
		if input.LoanTerms.DurationMonths <= 0 {
			return Request{}, shared.Validationf("loan duration must be positive")
		}
		if input.LoanTerms.InterestRate < 0 {
			return Request{}, shared.Validationf("loan interest rate must not be negative")
		}
		if input.LoanTerms.MonthlyPayment <= 0 {
			return Request{}, shared.Validationf("loan monthly payment must be positive")
		}
	}

	now := s.now()
	req := Request{
		ID:              uuid.New(),
		AssociationID:   input.Association.ID,
		SectionID:       input.SectionID,
		RequesterID:     input.Requester.ID,
		Beneficiary:     input.Beneficiary,
		ExpenseType:     strings.TrimSpace(input.ExpenseType),
		AmountRequested: input.Amount,
		Currency:        input.Currency,
		Urgency:         input.Urgency,
		IsLoan:          input.IsLoan,
		LoanTerms:       input.LoanTerms,
		Status:          StatusPending,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.CreateRequest(ctx, req); err != nil {
		return Request{}, err
	}
	return req, nil
}

// SubmitForReview moves the requester's pending request into review.
func (s *Service) SubmitForReview(ctx context.Context, requestID uuid.UUID, actor org.Member) (Request, error) {
	var out Request
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.GetRequestForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if req.RequesterID != actor.ID {
			return shared.Authorizationf("only the requester may submit request %s", requestID)
		}
		next, err := SubmitForReview(req, s.now())
		if err != nil {
			return err
		}
		if err := tx.UpdateRequest(ctx, next); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return Request{}, err
	}
	return out, nil
}

// DecisionInput identifies the request and the acting validator.
type DecisionInput struct {
	RequestID   uuid.UUID
	Validator   org.Member
	Association org.Association
	Decision    Decision
	Comment     string
}

// RecordApprovalDecision applies a validator decision. The read set is the
// request row re-fetched under lock; the write set is the new status plus
// the appended history entry.
func (s *Service) RecordApprovalDecision(ctx context.Context, input DecisionInput) (Request, error) {
	release, err := s.locker.Acquire(ctx, shared.ExpenseLockKey(input.RequestID))
	if err != nil {
		return Request{}, err
	}
	defer release()

	var out Request
	var newlyApproved bool
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.GetRequestForUpdate(ctx, input.RequestID)
		if err != nil {
			return err
		}
		if req.AssociationID != input.Association.ID {
			return shared.Validationf("request belongs to another association")
		}
		next, err := ApplyDecision(req, input.Validator, input.Association, input.Decision, input.Comment, s.now())
		if err != nil {
			return err
		}
		newlyApproved = req.Status != StatusApproved && next.Status == StatusApproved
		if err := tx.UpdateRequest(ctx, next); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return Request{}, err
	}
	s.emitDecisionEvents(ctx, out, input, newlyApproved)
	return out, nil
}

func (s *Service) emitDecisionEvents(ctx context.Context, req Request, input DecisionInput, newlyApproved bool) {
	now := s.now()
	var events []shared.Event
	switch input.Decision {
	case DecisionApproved:
		events = append(events, shared.NewEvent(shared.EventExpenseApproved, now, map[string]any{
			"request_id":   req.ID.String(),
			"validator_id": input.Validator.ID.String(),
			"amount":       req.AmountRequested,
		}))
		if req.IsLoan && newlyApproved && req.LoanTerms != nil {
			events = append(events, shared.NewEvent(shared.EventScheduleRepayments, now, map[string]any{
				"request_id":      req.ID.String(),
				"duration_months": req.LoanTerms.DurationMonths,
				"monthly_payment": req.LoanTerms.MonthlyPayment,
				"interest_rate":   req.LoanTerms.InterestRate,
			}))
		}
	case DecisionRejected:
		events = append(events, shared.NewEvent(shared.EventExpenseRejected, now, map[string]any{
			"request_id":   req.ID.String(),
			"validator_id": input.Validator.ID.String(),
			"comment":      input.Comment,
		}))
	case DecisionInfoRequested:
		events = append(events, shared.NewEvent(shared.EventExpenseInfoRequested, now, map[string]any{
			"request_id":   req.ID.String(),
			"validator_id": input.Validator.ID.String(),
			"comment":      input.Comment,
		}))
	}
	for _, event := range events {
		if err := s.sink(ctx, event); err != nil {
			s.logger.Warn("emit expense event", slog.String("event", event.Name), slog.Any("error", err))
		}
	}
}

// ProvideAdditionalInfo re-opens review after the requester answered an
// information request. A new review cycle starts.
func (s *Service) ProvideAdditionalInfo(ctx context.Context, requestID uuid.UUID, actor org.Member) (Request, error) {
	var out Request
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.GetRequestForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if req.RequesterID != actor.ID {
			return shared.Authorizationf("only the requester may answer an information request")
		}
		next, err := ResumeReview(req, s.now())
		if err != nil {
			return err
		}
		if err := tx.UpdateRequest(ctx, next); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return Request{}, err
	}
	return out, nil
}

// TransitionToPaid finalises an approved request and signals the balance
// debit for the caller's ledger to apply.
func (s *Service) TransitionToPaid(ctx context.Context, requestID uuid.UUID, actor org.Member, assoc org.Association) (Request, error) {
	if !org.HasPermission(actor, assoc, perm.PermExpensesPay) {
		return Request{}, shared.Authorizationf("member %s may not pay out requests", actor.ID)
	}
	var out Request
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.GetRequestForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if req.AssociationID != assoc.ID {
			return shared.Validationf("request belongs to another association")
		}
		next, err := MarkPaid(req, s.now())
		if err != nil {
			return err
		}
		if err := tx.UpdateRequest(ctx, next); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return Request{}, err
	}
	event := shared.NewEvent(shared.EventDebitBalance, s.now(), map[string]any{
		"request_id":     out.ID.String(),
		"association_id": out.AssociationID.String(),
		"amount":         out.AmountRequested,
		"currency":       out.Currency,
	})
	if err := s.sink(ctx, event); err != nil {
		s.logger.Warn("emit expense.debit_balance", slog.Any("error", err))
	}
	return out, nil
}

// GetRequest fetches a request snapshot.
func (s *Service) GetRequest(ctx context.Context, id uuid.UUID) (Request, error) {
	return s.repo.GetRequest(ctx, id)
}

// ListRequests returns the association's requests, newest first.
func (s *Service) ListRequests(ctx context.Context, associationID uuid.UUID) ([]Request, error) {
	return s.repo.ListRequests(ctx, associationID)
}
