package cotisation

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/teranga-app/teranga/internal/org"
	"github.com/teranga-app/teranga/internal/perm"
	"github.com/teranga-app/teranga/internal/shared"
)

type memoryCotisationRepo struct {
	records map[uuid.UUID]Record
	members map[uuid.UUID]*org.Member
}

func newMemoryCotisationRepo() *memoryCotisationRepo {
	return &memoryCotisationRepo{
		records: make(map[uuid.UUID]Record),
		members: make(map[uuid.UUID]*org.Member),
	}
}

type memoryCotisationTx struct{ repo *memoryCotisationRepo }

func (r *memoryCotisationRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryCotisationTx{repo: r})
}

func (r *memoryCotisationRepo) GetRecord(ctx context.Context, id uuid.UUID) (Record, error) {
	rec, ok := r.records[id]
	if !ok {
		return Record{}, shared.ErrNotFound
	}
	return rec, nil
}

func (r *memoryCotisationRepo) ListMemberRecords(ctx context.Context, memberID uuid.UUID) ([]Record, error) {
	var out []Record
	for _, rec := range r.records {
		if rec.MemberID == memberID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *memoryCotisationRepo) ListUnpaidRecords(ctx context.Context, associationID uuid.UUID) ([]Record, error) {
	var out []Record
	for _, rec := range r.records {
		if rec.AssociationID == associationID && rec.PaidAmount < rec.ExpectedAmount {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *memoryCotisationRepo) ListActiveMembers(ctx context.Context, associationID uuid.UUID) ([]org.Member, error) {
	var out []org.Member
	for _, m := range r.members {
		if m.AssociationID == associationID && m.Status == org.MemberActive {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (t *memoryCotisationTx) InsertRecord(ctx context.Context, rec Record) error {
	for _, existing := range t.repo.records {
		if existing.MemberID == rec.MemberID && existing.Month == rec.Month && existing.Year == rec.Year {
			return shared.Conflictf("record for period %d/%d already exists", rec.Month, rec.Year)
		}
	}
	t.repo.records[rec.ID] = rec
	return nil
}

func (t *memoryCotisationTx) InsertRecordIfAbsent(ctx context.Context, rec Record) (bool, error) {
	for _, existing := range t.repo.records {
		if existing.MemberID == rec.MemberID && existing.Month == rec.Month && existing.Year == rec.Year {
			return false, nil
		}
	}
	t.repo.records[rec.ID] = rec
	return true, nil
}

func (t *memoryCotisationTx) GetRecordForUpdate(ctx context.Context, id uuid.UUID) (Record, error) {
	return t.repo.GetRecord(ctx, id)
}

func (t *memoryCotisationTx) GetRecordForPeriodForUpdate(ctx context.Context, memberID uuid.UUID, month, year int) (Record, error) {
	for _, rec := range t.repo.records {
		if rec.MemberID == memberID && rec.Month == month && rec.Year == year {
			return rec, nil
		}
	}
	return Record{}, shared.ErrNotFound
}

func (t *memoryCotisationTx) UpdateRecord(ctx context.Context, rec Record) error {
	current, ok := t.repo.records[rec.ID]
	if !ok {
		return shared.ErrNotFound
	}
	if current.Version != rec.Version {
		return shared.Conflictf("record %s was modified concurrently", rec.ID)
	}
	rec.Version++
	t.repo.records[rec.ID] = rec
	return nil
}

func (t *memoryCotisationTx) AddToMemberTotal(ctx context.Context, memberID uuid.UUID, amount float64) error {
	if m, ok := t.repo.members[memberID]; ok {
		m.TotalContributed += amount
	}
	return nil
}

type capturedEvents struct {
	mu     sync.Mutex
	events []shared.Event
}

func (c *capturedEvents) sink(ctx context.Context, event shared.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *capturedEvents) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Name)
	}
	return out
}

func fixtureAssociation() org.Association {
	return org.Association{
		ID:                 uuid.New(),
		Name:               "Diaspora Bamako",
		PrimaryCurrency:    "EUR",
		CotisationSettings: org.CotisationSettings{DueDay: 5, GracePeriodDays: 3},
	}
}

func fixtureMember(assoc org.Association, roles ...string) org.Member {
	return org.Member{
		ID:               uuid.New(),
		UserID:           uuid.New(),
		AssociationID:    assoc.ID,
		Status:           org.MemberActive,
		MemberType:       "actif",
		JoinDate:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Roles:            roles,
		CotisationAmount: 20,
	}
}

func TestRecordPaymentRequiresPermission(t *testing.T) {
	repo := newMemoryCotisationRepo()
	svc := NewService(repo, nil, slog.Default())
	assoc := fixtureAssociation()
	plain := fixtureMember(assoc)

	_, err := svc.RecordPayment(context.Background(), RecordPaymentInput{
		Actor:       plain,
		Association: assoc,
		Member:      plain,
		Month:       3, Year: 2025, Amount: 20,
		Source: SourceManual,
	})
	require.True(t, shared.IsKind(err, shared.KindAuthorization))
}

func TestRecordThenValidateFlowsIntoMemberTotal(t *testing.T) {
	repo := newMemoryCotisationRepo()
	events := &capturedEvents{}
	svc := NewService(repo, events.sink, slog.Default())
	assoc := fixtureAssociation()
	tresorier := fixtureMember(assoc, perm.RoleTresorier)
	member := fixtureMember(assoc)
	repo.members[member.ID] = &member

	rec, err := svc.RecordPayment(context.Background(), RecordPaymentInput{
		Actor:       tresorier,
		Association: assoc,
		Member:      member,
		Month:       3, Year: 2025, Amount: 20,
		Method: "cash",
		Source: SourceManual,
	})
	require.NoError(t, err)
	require.Equal(t, ValidationPending, rec.ValidationState)
	require.Equal(t, 0.0, member.TotalContributed)

	validated, err := svc.ValidatePayment(context.Background(), ValidateInput{
		RecordID:    rec.ID,
		Validator:   tresorier,
		Association: assoc,
	})
	require.NoError(t, err)
	require.Equal(t, ValidationValidated, validated.ValidationState)
	require.NotNil(t, validated.ValidatorID)
	require.Equal(t, 20.0, repo.members[member.ID].TotalContributed)
	require.Contains(t, events.names(), shared.EventCotisationValidated)
}

func TestValidateTwiceRejected(t *testing.T) {
	repo := newMemoryCotisationRepo()
	svc := NewService(repo, nil, slog.Default())
	assoc := fixtureAssociation()
	tresorier := fixtureMember(assoc, perm.RoleTresorier)
	member := fixtureMember(assoc)
	repo.members[member.ID] = &member

	rec, err := svc.RecordPayment(context.Background(), RecordPaymentInput{
		Actor: tresorier, Association: assoc, Member: member,
		Month: 4, Year: 2025, Amount: 20, Source: SourceTransfer,
	})
	require.NoError(t, err)

	_, err = svc.ValidatePayment(context.Background(), ValidateInput{RecordID: rec.ID, Validator: tresorier, Association: assoc})
	require.NoError(t, err)

	_, err = svc.ValidatePayment(context.Background(), ValidateInput{RecordID: rec.ID, Validator: tresorier, Association: assoc})
	require.True(t, shared.IsKind(err, shared.KindInvariant))
}

func TestRecordPaymentSupersedesExistingEntry(t *testing.T) {
	repo := newMemoryCotisationRepo()
	svc := NewService(repo, nil, slog.Default())
	assoc := fixtureAssociation()
	tresorier := fixtureMember(assoc, perm.RoleTresorier)
	member := fixtureMember(assoc)
	repo.members[member.ID] = &member

	first, err := svc.RecordPayment(context.Background(), RecordPaymentInput{
		Actor: tresorier, Association: assoc, Member: member,
		Month: 5, Year: 2025, Amount: 10, Source: SourceManual,
	})
	require.NoError(t, err)

	_, err = svc.ValidatePayment(context.Background(), ValidateInput{RecordID: first.ID, Validator: tresorier, Association: assoc})
	require.NoError(t, err)

	second, err := svc.RecordPayment(context.Background(), RecordPaymentInput{
		Actor: tresorier, Association: assoc, Member: member,
		Month: 5, Year: 2025, Amount: 20, Source: SourceCard,
	})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 20.0, second.PaidAmount)
	require.Equal(t, ValidationPending, second.ValidationState)
	require.Nil(t, second.ValidatorID)
}

func TestSupersedingValidatedRecordBacksOutCredit(t *testing.T) {
	repo := newMemoryCotisationRepo()
	svc := NewService(repo, nil, slog.Default())
	assoc := fixtureAssociation()
	tresorier := fixtureMember(assoc, perm.RoleTresorier)
	member := fixtureMember(assoc)
	repo.members[member.ID] = &member

	first, err := svc.RecordPayment(context.Background(), RecordPaymentInput{
		Actor: tresorier, Association: assoc, Member: member,
		Month: 6, Year: 2025, Amount: 100, Source: SourceManual,
	})
	require.NoError(t, err)

	_, err = svc.ValidatePayment(context.Background(), ValidateInput{RecordID: first.ID, Validator: tresorier, Association: assoc})
	require.NoError(t, err)
	require.Equal(t, 100.0, repo.members[member.ID].TotalContributed)

	second, err := svc.RecordPayment(context.Background(), RecordPaymentInput{
		Actor: tresorier, Association: assoc, Member: member,
		Month: 6, Year: 2025, Amount: 120, Source: SourceTransfer,
	})
	require.NoError(t, err)
	require.Equal(t, 0.0, repo.members[member.ID].TotalContributed)

	_, err = svc.ValidatePayment(context.Background(), ValidateInput{RecordID: second.ID, Validator: tresorier, Association: assoc})
	require.NoError(t, err)
	require.Equal(t, 120.0, repo.members[member.ID].TotalContributed)
}

func TestOpenPeriodCreatesMissingRecordsOnly(t *testing.T) {
	repo := newMemoryCotisationRepo()
	svc := NewService(repo, nil, slog.Default())
	assoc := fixtureAssociation()
	a := fixtureMember(assoc)
	b := fixtureMember(assoc)
	repo.members[a.ID] = &a
	repo.members[b.ID] = &b

	created, err := svc.OpenPeriod(context.Background(), assoc, 6, 2025)
	require.NoError(t, err)
	require.Equal(t, 2, created)

	created, err = svc.OpenPeriod(context.Background(), assoc, 6, 2025)
	require.NoError(t, err)
	require.Equal(t, 0, created)
}

func TestSendRemindersTargetsLateMembersOnly(t *testing.T) {
	repo := newMemoryCotisationRepo()
	events := &capturedEvents{}
	svc := NewService(repo, events.sink, slog.Default())
	assoc := fixtureAssociation()
	member := fixtureMember(assoc)
	repo.members[member.ID] = &member

	now := time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC)
	// Paid May, unpaid June (late window: deadline June 8).
	repo.records[uuid.New()] = Record{
		ID: uuid.New(), MemberID: member.ID, AssociationID: assoc.ID,
		Month: 5, Year: 2025, ExpectedAmount: 20, PaidAmount: 20,
	}
	lateID := uuid.New()
	repo.records[lateID] = Record{
		ID: lateID, MemberID: member.ID, AssociationID: assoc.ID,
		Month: 6, Year: 2025, ExpectedAmount: 20,
	}
	// Not yet due.
	pendingID := uuid.New()
	repo.records[pendingID] = Record{
		ID: pendingID, MemberID: member.ID, AssociationID: assoc.ID,
		Month: 7, Year: 2025, ExpectedAmount: 20,
	}

	sent, err := svc.SendReminders(context.Background(), assoc, now)
	require.NoError(t, err)
	require.Equal(t, 1, sent)
	require.Equal(t, []string{shared.EventCotisationReminder}, events.names())
}

func TestStatementAggregates(t *testing.T) {
	repo := newMemoryCotisationRepo()
	svc := NewService(repo, nil, slog.Default())
	assoc := fixtureAssociation()
	member := fixtureMember(assoc)
	repo.members[member.ID] = &member

	id := uuid.New()
	repo.records[id] = Record{
		ID: id, MemberID: member.ID, AssociationID: assoc.ID,
		Month: 4, Year: 2025, ExpectedAmount: 20,
	}

	now := time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC)
	statement, err := svc.Statement(context.Background(), member, assoc, now)
	require.NoError(t, err)
	require.Equal(t, AggregateVeryLate, statement.Aggregate)
	require.Len(t, statement.Records, 1)
	require.Equal(t, StatusVeryLate, statement.Records[0].Result.Status)
}
