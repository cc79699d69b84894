package loan

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teranga-app/teranga/internal/org"
	"github.com/teranga-app/teranga/internal/perm"
	"github.com/teranga-app/teranga/internal/shared"
)

// Service orchestrates the repayment ledger. Recording and validating are
// separate phases: a recorded repayment stays pending and only counts
// toward the outstanding balance once a validator confirms it.
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

// WithLocker adds a redis lock around ledger mutations. Without one the
// row locks and version checks alone guard concurrent writers.
func (s *Service) WithLocker(locker *shared.AggregateLocker) *Service {
	s.locker = locker
	return s
}

// RecordRepaymentInput describes a phase-1 repayment entry.
type RecordRepaymentInput struct {
	Actor            org.Member
	Association      org.Association
	ExpenseRequestID uuid.UUID
	Amount           float64
	PrincipalAmount  float64
	InterestAmount   float64
	PenaltyAmount    float64
	PaymentDate      time.Time
	PaymentMethod    string
	ManualReference  string
}

// RecordRepayment writes a provisional repayment against the loan. The
// ledger preconditions are checked against the current ledger under lock;
// the entry then awaits validator confirmation.
func (s *Service) RecordRepayment(ctx context.Context, input RecordRepaymentInput) (Repayment, error) {
	if !org.HasPermission(input.Actor, input.Association, perm.PermLoansRecordRepayment) {
		return Repayment{}, shared.Authorizationf("member %s may not record repayments", input.Actor.ID)
	}
	paymentDate := input.PaymentDate
	if paymentDate.IsZero() {
		paymentDate = s.now()
	}

	release, err := s.locker.Acquire(ctx, shared.LoanLockKey(input.ExpenseRequestID))
	if err != nil {
		return Repayment{}, err
	}
	defer release()

	var out Repayment
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		loan, err := s.repo.GetLoan(ctx, input.ExpenseRequestID)
		if err != nil {
			return err
		}
		if loan.AssociationID != input.Association.ID {
			return shared.Validationf("loan belongs to another association")
		}
		existing, err := tx.ListRepaymentsForUpdate(ctx, input.ExpenseRequestID)
		if err != nil {
			return err
		}
		now := s.now()
		out = Repayment{
			ID:               uuid.New(),
			ExpenseRequestID: input.ExpenseRequestID,
			Amount:           input.Amount,
			PrincipalAmount:  input.PrincipalAmount,
			InterestAmount:   input.InterestAmount,
			PenaltyAmount:    input.PenaltyAmount,
			PaymentDate:      paymentDate,
			DueDate:          DueDate(loan.OriginationDate, nextInstallment(existing)),
			PaymentMethod:    input.PaymentMethod,
			ManualReference:  strings.TrimSpace(input.ManualReference),
			Status:           RepaymentPending,
			Version:          1,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := CheckRepayment(loan, existing, out); err != nil {
			return err
		}
		return tx.InsertRepayment(ctx, out)
	})
	if err != nil {
		return Repayment{}, err
	}
	return out, nil
}

// nextInstallment assigns the entry to the first installment slot not yet
// taken by a live (pending or validated) repayment.
func nextInstallment(existing []Repayment) int {
	k := 1
	for _, r := range existing {
		if r.Status != RepaymentRejected {
			k++
		}
	}
	return k
}

// ValidateRepaymentInput identifies the repayment and the acting validator.
type ValidateRepaymentInput struct {
	RepaymentID uuid.UUID
	Validator   org.Member
	Association org.Association
}

// ValidateRepayment is phase 2: the ledger preconditions are re-checked
// against the repayments validated meanwhile, and only then does the amount
// start counting toward the outstanding balance.
func (s *Service) ValidateRepayment(ctx context.Context, input ValidateRepaymentInput) (Repayment, error) {
	if !org.HasPermission(input.Validator, input.Association, perm.PermLoansValidateRepayment) {
		return Repayment{}, shared.Authorizationf("member %s may not validate repayments", input.Validator.ID)
	}
	var out Repayment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		repayment, err := tx.GetRepaymentForUpdate(ctx, input.RepaymentID)
		if err != nil {
			return err
		}
		if repayment.Status != RepaymentPending {
			return shared.Invariantf("repayment %s is not awaiting validation", repayment.ID)
		}
		loan, err := s.repo.GetLoan(ctx, repayment.ExpenseRequestID)
		if err != nil {
			return err
		}
		if loan.AssociationID != input.Association.ID {
			return shared.Validationf("loan belongs to another association")
		}
		ledger, err := tx.ListRepaymentsForUpdate(ctx, repayment.ExpenseRequestID)
		if err != nil {
			return err
		}
		others := ledger[:0:0]
		for _, r := range ledger {
			if r.ID != repayment.ID {
				others = append(others, r)
			}
		}
		if err := CheckRepayment(loan, others, repayment); err != nil {
			return err
		}
		validatorID := input.Validator.ID
		repayment.Status = RepaymentValidated
		repayment.ValidatorID = &validatorID
		if err := tx.UpdateRepayment(ctx, repayment); err != nil {
			return err
		}
		out = repayment
		return nil
	})
	if err != nil {
		return Repayment{}, err
	}
	event := shared.NewEvent(shared.EventRepaymentValidated, s.now(), map[string]any{
		"repayment_id":       out.ID.String(),
		"expense_request_id": out.ExpenseRequestID.String(),
		"amount":             out.Amount,
		"validator_id":       input.Validator.ID.String(),
	})
	if err := s.sink(ctx, event); err != nil {
		s.logger.Warn("emit loan.repayment_validated", slog.Any("error", err))
	}
	return out, nil
}

// RejectRepayment discards a pending entry. Its manual reference becomes
// reusable and the balance is untouched.
func (s *Service) RejectRepayment(ctx context.Context, input ValidateRepaymentInput) (Repayment, error) {
	if !org.HasPermission(input.Validator, input.Association, perm.PermLoansValidateRepayment) {
		return Repayment{}, shared.Authorizationf("member %s may not validate repayments", input.Validator.ID)
	}
	var out Repayment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		repayment, err := tx.GetRepaymentForUpdate(ctx, input.RepaymentID)
		if err != nil {
			return err
		}
		if repayment.Status != RepaymentPending {
			return shared.Invariantf("repayment %s is not awaiting validation", repayment.ID)
		}
		validatorID := input.Validator.ID
		repayment.Status = RepaymentRejected
		repayment.ValidatorID = &validatorID
		if err := tx.UpdateRepayment(ctx, repayment); err != nil {
			return err
		}
		out = repayment
		return nil
	})
	if err != nil {
		return Repayment{}, err
	}
	return out, nil
}

// LedgerView is the reporting snapshot of a loan.
type LedgerView struct {
	Loan        Loan
	Repayments  []Repayment
	Outstanding float64
	TotalRepaid float64
	Progress    float64
	Schedule    []Installment
}

// Ledger assembles the full reporting view of a loan.
func (s *Service) Ledger(ctx context.Context, expenseRequestID uuid.UUID) (LedgerView, error) {
	loan, err := s.repo.GetLoan(ctx, expenseRequestID)
	if err != nil {
		return LedgerView{}, err
	}
	repayments, err := s.repo.ListRepayments(ctx, expenseRequestID)
	if err != nil {
		return LedgerView{}, err
	}
	return LedgerView{
		Loan:        loan,
		Repayments:  repayments,
		Outstanding: Outstanding(loan, repayments),
		TotalRepaid: TotalRepaid(repayments),
		Progress:    Progress(loan, repayments),
		Schedule:    BuildSchedule(loan),
	}, nil
}

// ComputeOutstanding returns the current outstanding balance of a loan.
func (s *Service) ComputeOutstanding(ctx context.Context, expenseRequestID uuid.UUID) (float64, error) {
	loan, err := s.repo.GetLoan(ctx, expenseRequestID)
	if err != nil {
		return 0, err
	}
	repayments, err := s.repo.ListRepayments(ctx, expenseRequestID)
	if err != nil {
		return 0, err
	}
	return Outstanding(loan, repayments), nil
}

// GetRepayment fetches a repayment snapshot.
func (s *Service) GetRepayment(ctx context.Context, id uuid.UUID) (Repayment, error) {
	return s.repo.GetRepayment(ctx, id)
}
