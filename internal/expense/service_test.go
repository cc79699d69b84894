package expense

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

type memoryExpenseRepo struct {
	requests map[uuid.UUID]Request
}

func newMemoryExpenseRepo() *memoryExpenseRepo {
	return &memoryExpenseRepo{requests: make(map[uuid.UUID]Request)}
}

type memoryExpenseTx struct{ repo *memoryExpenseRepo }

func (r *memoryExpenseRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryExpenseTx{repo: r})
}

func (r *memoryExpenseRepo) CreateRequest(ctx context.Context, req Request) error {
	r.requests[req.ID] = req
	return nil
}

func (r *memoryExpenseRepo) GetRequest(ctx context.Context, id uuid.UUID) (Request, error) {
	req, ok := r.requests[id]
	if !ok {
		return Request{}, shared.ErrNotFound
	}
	return req, nil
}

func (r *memoryExpenseRepo) ListRequests(ctx context.Context, associationID uuid.UUID) ([]Request, error) {
	var out []Request
	for _, req := range r.requests {
		if req.AssociationID == associationID {
			out = append(out, req)
		}
	}
	return out, nil
}

func (t *memoryExpenseTx) GetRequestForUpdate(ctx context.Context, id uuid.UUID) (Request, error) {
	return t.repo.GetRequest(ctx, id)
}

func (t *memoryExpenseTx) UpdateRequest(ctx context.Context, req Request) error {
	current, ok := t.repo.requests[req.ID]
	if !ok {
		return shared.ErrNotFound
	}
	if current.Version != req.Version {
		return shared.Conflictf("expense request %s was modified concurrently", req.ID)
	}
	req.Version++
	t.repo.requests[req.ID] = req
	return nil
}

type eventRecorder struct {
	events []shared.Event
}

func (e *eventRecorder) sink(ctx context.Context, event shared.Event) error {
	e.events = append(e.events, event)
	return nil
}

func (e *eventRecorder) names() []string {
	out := make([]string, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.Name)
	}
	return out
}

func newFixture(t *testing.T) (*Service, *memoryExpenseRepo, *eventRecorder, org.Association, org.Member, org.Member) {
	t.Helper()
	repo := newMemoryExpenseRepo()
	events := &eventRecorder{}
	svc := NewService(repo, events.sink, slog.Default())
	svc.WithClock(func() time.Time { return testNow })
	assoc := singleSectionAssoc()
	requester := org.Member{
		ID:            uuid.New(),
		AssociationID: assoc.ID,
		Roles:         []string{perm.RoleSecretaire},
	}
	tresorier := centralMember(assoc, perm.RoleTresorier)
	return svc, repo, events, assoc, requester, tresorier
}

func TestFullApprovalLifecycle(t *testing.T) {
	svc, _, events, assoc, requester, tresorier := newFixture(t)
	ctx := context.Background()

	req, err := svc.CreateRequest(ctx, CreateInput{
		Requester:   requester,
		Association: assoc,
		Beneficiary: Beneficiary{Name: "Clinique Pasteur", Contact: "+221 33 000 00 00"},
		ExpenseType: "medical",
		Amount:      300,
		Currency:    "EUR",
		Urgency:     UrgencyHigh,
	})
	require.NoError(t, err)
	require.Equal(t, StatusPending, req.Status)

	req, err = svc.SubmitForReview(ctx, req.ID, requester)
	require.NoError(t, err)
	require.Equal(t, StatusUnderReview, req.Status)

	req, err = svc.RecordApprovalDecision(ctx, DecisionInput{
		RequestID:   req.ID,
		Validator:   tresorier,
		Association: assoc,
		Decision:    DecisionApproved,
	})
	require.NoError(t, err)
	require.Equal(t, StatusApproved, req.Status)

	req, err = svc.TransitionToPaid(ctx, req.ID, tresorier, assoc)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, req.Status)

	require.Equal(t, []string{shared.EventExpenseApproved, shared.EventDebitBalance}, events.names())
}

func TestCannotPayUnapprovedRequest(t *testing.T) {
	svc, _, _, assoc, requester, tresorier := newFixture(t)
	ctx := context.Background()

	req, err := svc.CreateRequest(ctx, CreateInput{
		Requester:   requester,
		Association: assoc,
		Beneficiary: Beneficiary{Name: "Fournisseur"},
		ExpenseType: "supplies",
		Amount:      50,
		Currency:    "EUR",
		Urgency:     UrgencyNormal,
	})
	require.NoError(t, err)

	_, err = svc.TransitionToPaid(ctx, req.ID, tresorier, assoc)
	require.True(t, shared.IsKind(err, shared.KindInvariant))

	_, err = svc.SubmitForReview(ctx, req.ID, requester)
	require.NoError(t, err)
	_, err = svc.TransitionToPaid(ctx, req.ID, tresorier, assoc)
	require.True(t, shared.IsKind(err, shared.KindInvariant))
}

func TestLoanApprovalEmitsSchedule(t *testing.T) {
	svc, _, events, assoc, requester, tresorier := newFixture(t)
	ctx := context.Background()
	beneficiary := requester.ID

	req, err := svc.CreateRequest(ctx, CreateInput{
		Requester:   requester,
		Association: assoc,
		Beneficiary: Beneficiary{MemberID: &beneficiary},
		ExpenseType: "loan",
		Amount:      1200,
		Currency:    "EUR",
		Urgency:     UrgencyNormal,
		IsLoan:      true,
		LoanTerms:   &LoanTerms{DurationMonths: 12, InterestRate: 0, MonthlyPayment: 100},
	})
	require.NoError(t, err)

	req, err = svc.SubmitForReview(ctx, req.ID, requester)
	require.NoError(t, err)

	_, err = svc.RecordApprovalDecision(ctx, DecisionInput{
		RequestID:   req.ID,
		Validator:   tresorier,
		Association: assoc,
		Decision:    DecisionApproved,
	})
	require.NoError(t, err)
	require.Contains(t, events.names(), shared.EventScheduleRepayments)

	var schedule shared.Event
	for _, ev := range events.events {
		if ev.Name == shared.EventScheduleRepayments {
			schedule = ev
		}
	}
	require.Equal(t, 12, schedule.Payload["duration_months"])
	require.Equal(t, 100.0, schedule.Payload["monthly_payment"])
}

func TestInfoLoopResetsCycle(t *testing.T) {
	svc, _, _, assoc, requester, tresorier := newFixture(t)
	ctx := context.Background()

	req, err := svc.CreateRequest(ctx, CreateInput{
		Requester:   requester,
		Association: assoc,
		Beneficiary: Beneficiary{Name: "Traiteur"},
		ExpenseType: "event",
		Amount:      400,
		Currency:    "EUR",
		Urgency:     UrgencyLow,
	})
	require.NoError(t, err)
	_, err = svc.SubmitForReview(ctx, req.ID, requester)
	require.NoError(t, err)

	_, err = svc.RecordApprovalDecision(ctx, DecisionInput{
		RequestID:   req.ID,
		Validator:   tresorier,
		Association: assoc,
		Decision:    DecisionInfoRequested,
		Comment:     "attach the invoice",
	})
	require.NoError(t, err)

	// Only the requester may answer.
	_, err = svc.ProvideAdditionalInfo(ctx, req.ID, tresorier)
	require.True(t, shared.IsKind(err, shared.KindAuthorization))

	resumed, err := svc.ProvideAdditionalInfo(ctx, req.ID, requester)
	require.NoError(t, err)
	require.Equal(t, StatusUnderReview, resumed.Status)
	require.Equal(t, 1, resumed.ReviewCycle)

	final, err := svc.RecordApprovalDecision(ctx, DecisionInput{
		RequestID:   req.ID,
		Validator:   tresorier,
		Association: assoc,
		Decision:    DecisionApproved,
	})
	require.NoError(t, err)
	require.Equal(t, StatusApproved, final.Status)
}

func TestRejectionWithEmptyCommentLeavesHistoryUnchanged(t *testing.T) {
	svc, repo, _, assoc, requester, tresorier := newFixture(t)
	ctx := context.Background()

	req, err := svc.CreateRequest(ctx, CreateInput{
		Requester:   requester,
		Association: assoc,
		Beneficiary: Beneficiary{Name: "Transporteur"},
		ExpenseType: "transport",
		Amount:      80,
		Currency:    "EUR",
		Urgency:     UrgencyNormal,
	})
	require.NoError(t, err)
	_, err = svc.SubmitForReview(ctx, req.ID, requester)
	require.NoError(t, err)

	_, err = svc.RecordApprovalDecision(ctx, DecisionInput{
		RequestID:   req.ID,
		Validator:   tresorier,
		Association: assoc,
		Decision:    DecisionRejected,
		Comment:     "",
	})
	require.True(t, shared.IsKind(err, shared.KindValidation))

	stored, err := repo.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Empty(t, stored.History)
	require.Equal(t, StatusUnderReview, stored.Status)
}

func TestStaleVersionSurfacesConflict(t *testing.T) {
	svc, repo, _, assoc, requester, tresorier := newFixture(t)
	ctx := context.Background()

	req, err := svc.CreateRequest(ctx, CreateInput{
		Requester:   requester,
		Association: assoc,
		Beneficiary: Beneficiary{Name: "Imprimeur"},
		ExpenseType: "printing",
		Amount:      120,
		Currency:    "EUR",
		Urgency:     UrgencyNormal,
	})
	require.NoError(t, err)
	_, err = svc.SubmitForReview(ctx, req.ID, requester)
	require.NoError(t, err)

	// Simulate a concurrent writer bumping the version under our feet.
	stored := repo.requests[req.ID]
	stored.Version += 5
	repo.requests[req.ID] = stored

	// The service re-reads under lock, so the decision still applies; force
	// a stale write by mutating between read and write via a wrapped repo.
	staleRepo := &staleOnUpdateRepo{memoryExpenseRepo: repo}
	staleSvc := NewService(staleRepo, nil, slog.Default())
	_, err = staleSvc.RecordApprovalDecision(ctx, DecisionInput{
		RequestID:   req.ID,
		Validator:   tresorier,
		Association: assoc,
		Decision:    DecisionApproved,
	})
	require.True(t, shared.IsKind(err, shared.KindConflict))
}

type staleOnUpdateRepo struct {
	*memoryExpenseRepo
}

func (r *staleOnUpdateRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &staleOnUpdateTx{repo: r.memoryExpenseRepo})
}

type staleOnUpdateTx struct{ repo *memoryExpenseRepo }

func (t *staleOnUpdateTx) GetRequestForUpdate(ctx context.Context, id uuid.UUID) (Request, error) {
	req, err := t.repo.GetRequest(ctx, id)
	if err != nil {
		return Request{}, err
	}
	// Hand out a snapshot that is already behind the stored row.
	req.Version--
	return req, nil
}

func (t *staleOnUpdateTx) UpdateRequest(ctx context.Context, req Request) error {
	return (&memoryExpenseTx{repo: t.repo}).UpdateRequest(ctx, req)
}

func TestCreateRequestValidation(t *testing.T) {
	svc, _, _, assoc, requester, _ := newFixture(t)
	ctx := context.Background()

	_, err := svc.CreateRequest(ctx, CreateInput{
		Requester:   requester,
		Association: assoc,
		Beneficiary: Beneficiary{Name: "X"},
		Amount:      -5,
		Currency:    "EUR",
		Urgency:     UrgencyNormal,
	})
	require.True(t, shared.IsKind(err, shared.KindValidation))

	_, err = svc.CreateRequest(ctx, CreateInput{
		Requester:   requester,
		Association: assoc,
		Beneficiary: Beneficiary{},
		Amount:      10,
		Currency:    "EUR",
		Urgency:     UrgencyNormal,
	})
	require.True(t, shared.IsKind(err, shared.KindValidation))

	_, err = svc.CreateRequest(ctx, CreateInput{
		Requester:   requester,
		Association: assoc,
		Beneficiary: Beneficiary{Name: "X"},
		Amount:      10,
		Currency:    "EUR",
		Urgency:     Urgency("panic"),
	})
	require.True(t, shared.IsKind(err, shared.KindValidation))

	plain := org.Member{ID: uuid.New(), AssociationID: assoc.ID}
	_, err = svc.CreateRequest(ctx, CreateInput{
		Requester:   plain,
		Association: assoc,
		Beneficiary: Beneficiary{Name: "X"},
		Amount:      10,
		Currency:    "EUR",
		Urgency:     UrgencyNormal,
	})
	require.True(t, shared.IsKind(err, shared.KindAuthorization))
}
