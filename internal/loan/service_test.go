package loan

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/teranga-app/teranga/internal/org"
	"github.com/teranga-app/teranga/internal/perm"
	"github.com/teranga-app/teranga/internal/shared"
)

type memoryLoanRepo struct {
	loans      map[uuid.UUID]Loan
	repayments map[uuid.UUID]Repayment
}

func newMemoryLoanRepo() *memoryLoanRepo {
	return &memoryLoanRepo{
		loans:      make(map[uuid.UUID]Loan),
		repayments: make(map[uuid.UUID]Repayment),
	}
}

func (r *memoryLoanRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryLoanTx{repo: r})
}

func (r *memoryLoanRepo) GetLoan(ctx context.Context, id uuid.UUID) (Loan, error) {
	loan, ok := r.loans[id]
	if !ok {
		return Loan{}, shared.ErrNotFound
	}
	return loan, nil
}

func (r *memoryLoanRepo) GetRepayment(ctx context.Context, id uuid.UUID) (Repayment, error) {
	repayment, ok := r.repayments[id]
	if !ok {
		return Repayment{}, shared.ErrNotFound
	}
	return repayment, nil
}

func (r *memoryLoanRepo) ListRepayments(ctx context.Context, loanID uuid.UUID) ([]Repayment, error) {
	var out []Repayment
	for _, repayment := range r.repayments {
		if repayment.ExpenseRequestID == loanID {
			out = append(out, repayment)
		}
	}
	return out, nil
}

type memoryLoanTx struct{ repo *memoryLoanRepo }

func (t *memoryLoanTx) ListRepaymentsForUpdate(ctx context.Context, loanID uuid.UUID) ([]Repayment, error) {
	return t.repo.ListRepayments(ctx, loanID)
}

func (t *memoryLoanTx) GetRepaymentForUpdate(ctx context.Context, id uuid.UUID) (Repayment, error) {
	return t.repo.GetRepayment(ctx, id)
}

func (t *memoryLoanTx) InsertRepayment(ctx context.Context, r Repayment) error {
	t.repo.repayments[r.ID] = r
	return nil
}

func (t *memoryLoanTx) UpdateRepayment(ctx context.Context, r Repayment) error {
	current, ok := t.repo.repayments[r.ID]
	if !ok {
		return shared.ErrNotFound
	}
	if current.Version != r.Version {
		return shared.Conflictf("repayment %s was modified concurrently", r.ID)
	}
	r.Version++
	t.repo.repayments[r.ID] = r
	return nil
}

var ledgerNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func newLedgerFixture(t *testing.T) (*Service, *memoryLoanRepo, *[]shared.Event, Loan, org.Association, org.Member) {
	t.Helper()
	repo := newMemoryLoanRepo()
	var events []shared.Event
	sink := func(ctx context.Context, e shared.Event) error {
		events = append(events, e)
		return nil
	}
	svc := NewService(repo, sink, slog.Default())
	svc.WithClock(func() time.Time { return ledgerNow })

	assoc := org.Association{ID: uuid.New()}
	loan := testLoan(1200, 12, 0)
	loan.AssociationID = assoc.ID
	repo.loans[loan.ExpenseRequestID] = loan

	tresorier := org.Member{
		ID:            uuid.New(),
		AssociationID: assoc.ID,
		Roles:         []string{perm.RoleTresorier},
	}
	return svc, repo, &events, loan, assoc, tresorier
}

func record(t *testing.T, svc *Service, loan Loan, assoc org.Association, actor org.Member, amount float64, ref string) Repayment {
	t.Helper()
	repayment, err := svc.RecordRepayment(context.Background(), RecordRepaymentInput{
		Actor:            actor,
		Association:      assoc,
		ExpenseRequestID: loan.ExpenseRequestID,
		Amount:           amount,
		PrincipalAmount:  amount,
		PaymentDate:      ledgerNow,
		PaymentMethod:    "transfer",
		ManualReference:  ref,
	})
	require.NoError(t, err)
	require.Equal(t, RepaymentPending, repayment.Status)
	return repayment
}

func TestRepaymentScenario(t *testing.T) {
	svc, _, events, loan, assoc, tresorier := newLedgerFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		entry := record(t, svc, loan, assoc, tresorier, 100, "")
		_, err := svc.ValidateRepayment(ctx, ValidateRepaymentInput{
			RepaymentID: entry.ID,
			Validator:   tresorier,
			Association: assoc,
		})
		require.NoError(t, err)
	}

	outstanding, err := svc.ComputeOutstanding(ctx, loan.ExpenseRequestID)
	require.NoError(t, err)
	require.InDelta(t, 700, outstanding, 1e-9)

	// A sixth repayment above the outstanding balance is refused outright.
	_, err = svc.RecordRepayment(ctx, RecordRepaymentInput{
		Actor:            tresorier,
		Association:      assoc,
		ExpenseRequestID: loan.ExpenseRequestID,
		Amount:           750,
		PaymentDate:      ledgerNow,
	})
	require.True(t, shared.IsKind(err, shared.KindValidation))

	require.Len(t, *events, 5)
	require.Equal(t, shared.EventRepaymentValidated, (*events)[0].Name)
}

func TestValidationRechecksOutstanding(t *testing.T) {
	svc, _, _, loan, assoc, tresorier := newLedgerFixture(t)
	ctx := context.Background()

	// Two pending entries individually fit the balance but not together.
	first := record(t, svc, loan, assoc, tresorier, 900, "")
	second := record(t, svc, loan, assoc, tresorier, 400, "")

	_, err := svc.ValidateRepayment(ctx, ValidateRepaymentInput{RepaymentID: first.ID, Validator: tresorier, Association: assoc})
	require.NoError(t, err)

	_, err = svc.ValidateRepayment(ctx, ValidateRepaymentInput{RepaymentID: second.ID, Validator: tresorier, Association: assoc})
	require.True(t, shared.IsKind(err, shared.KindValidation))

	outstanding, err := svc.ComputeOutstanding(ctx, loan.ExpenseRequestID)
	require.NoError(t, err)
	require.InDelta(t, 300, outstanding, 1e-9)
}

func TestRejectedRepaymentFreesReference(t *testing.T) {
	svc, _, _, loan, assoc, tresorier := newLedgerFixture(t)
	ctx := context.Background()

	entry := record(t, svc, loan, assoc, tresorier, 100, "WU-001")

	_, err := svc.RecordRepayment(ctx, RecordRepaymentInput{
		Actor:            tresorier,
		Association:      assoc,
		ExpenseRequestID: loan.ExpenseRequestID,
		Amount:           100,
		ManualReference:  "WU-001",
		PaymentDate:      ledgerNow,
	})
	require.True(t, shared.IsKind(err, shared.KindValidation))

	rejected, err := svc.RejectRepayment(ctx, ValidateRepaymentInput{RepaymentID: entry.ID, Validator: tresorier, Association: assoc})
	require.NoError(t, err)
	require.Equal(t, RepaymentRejected, rejected.Status)

	record(t, svc, loan, assoc, tresorier, 100, "WU-001")
}

func TestDoubleValidationRejected(t *testing.T) {
	svc, _, _, loan, assoc, tresorier := newLedgerFixture(t)
	ctx := context.Background()

	entry := record(t, svc, loan, assoc, tresorier, 100, "")
	input := ValidateRepaymentInput{RepaymentID: entry.ID, Validator: tresorier, Association: assoc}

	validatedEntry, err := svc.ValidateRepayment(ctx, input)
	require.NoError(t, err)
	require.Equal(t, RepaymentValidated, validatedEntry.Status)
	require.Equal(t, tresorier.ID, *validatedEntry.ValidatorID)

	_, err = svc.ValidateRepayment(ctx, input)
	require.True(t, shared.IsKind(err, shared.KindInvariant))
}

func TestRepaymentPermissions(t *testing.T) {
	svc, _, _, loan, assoc, _ := newLedgerFixture(t)
	ctx := context.Background()

	plain := org.Member{ID: uuid.New(), AssociationID: assoc.ID}
	_, err := svc.RecordRepayment(ctx, RecordRepaymentInput{
		Actor:            plain,
		Association:      assoc,
		ExpenseRequestID: loan.ExpenseRequestID,
		Amount:           100,
	})
	require.True(t, shared.IsKind(err, shared.KindAuthorization))

	// A section treasurer may record but not validate.
	sectionID := uuid.New()
	sectionTresorier := org.Member{
		ID:            uuid.New(),
		AssociationID: assoc.ID,
		SectionID:     &sectionID,
		Roles:         []string{perm.RoleTresorierSection},
	}
	entry, err := svc.RecordRepayment(ctx, RecordRepaymentInput{
		Actor:            sectionTresorier,
		Association:      assoc,
		ExpenseRequestID: loan.ExpenseRequestID,
		Amount:           100,
		PaymentDate:      ledgerNow,
	})
	require.NoError(t, err)

	_, err = svc.ValidateRepayment(ctx, ValidateRepaymentInput{
		RepaymentID: entry.ID,
		Validator:   sectionTresorier,
		Association: assoc,
	})
	require.True(t, shared.IsKind(err, shared.KindAuthorization))
}

func TestLedgerView(t *testing.T) {
	svc, _, _, loan, assoc, tresorier := newLedgerFixture(t)
	ctx := context.Background()

	entry := record(t, svc, loan, assoc, tresorier, 300, "")
	_, err := svc.ValidateRepayment(ctx, ValidateRepaymentInput{RepaymentID: entry.ID, Validator: tresorier, Association: assoc})
	require.NoError(t, err)

	view, err := svc.Ledger(ctx, loan.ExpenseRequestID)
	require.NoError(t, err)
	require.InDelta(t, 900, view.Outstanding, 1e-9)
	require.InDelta(t, 300, view.TotalRepaid, 1e-9)
	require.InDelta(t, 0.25, view.Progress, 1e-9)
	require.Len(t, view.Schedule, 12)
	require.Len(t, view.Repayments, 1)
}
