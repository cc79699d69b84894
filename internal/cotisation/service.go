package cotisation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/teranga-app/teranga/internal/org"
	"github.com/teranga-app/teranga/internal/perm"
	"github.com/teranga-app/teranga/internal/shared"
)

// Service orchestrates cotisation recording and validation. All engine
// computations receive explicit snapshots; the service only wires the
// repository, the clock and the event sink around them.
type Service struct {
	repo   Repository
	sink   shared.EventSink
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

// RecordPaymentInput describes a phase-1 manual entry.
type RecordPaymentInput struct {
	Actor       org.Member
	Association org.Association
	Member      org.Member
	Month       int
	Year        int
	Amount      float64
	Method      string
	Source      Source
	PaymentDate time.Time
}

// RecordPayment writes a provisional cotisation entry for a period. The
// entry stays pending until a validator confirms it; a new payment for an
// existing period supersedes the paid amount and resets validation.
func (s *Service) RecordPayment(ctx context.Context, input RecordPaymentInput) (Record, error) {
	if !org.HasPermission(input.Actor, input.Association, perm.PermCotisationsRecord) {
		return Record{}, shared.Authorizationf("member %s may not record cotisations", input.Actor.ID)
	}
	if input.Member.AssociationID != input.Association.ID {
		return Record{}, shared.Validationf("member does not belong to the association")
	}
	if input.Month < 1 || input.Month > 12 {
		return Record{}, shared.Validationf("month must be between 1 and 12, got %d", input.Month)
	}
	if input.Year < 2000 {
		return Record{}, shared.Validationf("year %d out of range", input.Year)
	}
	if input.Amount <= 0 {
		return Record{}, shared.Validationf("amount must be positive")
	}
	switch input.Source {
	case SourceManual, SourceTransfer, SourceCard, SourceImport:
	default:
		return Record{}, shared.Validationf("unknown payment source %q", input.Source)
	}

	paymentDate := input.PaymentDate
	if paymentDate.IsZero() {
		paymentDate = s.now()
	}

	var out Record
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.GetRecordForPeriodForUpdate(ctx, input.Member.ID, input.Month, input.Year)
		if errors.Is(err, shared.ErrNotFound) {
			now := s.now()
			out = Record{
				ID:              uuid.New(),
				MemberID:        input.Member.ID,
				AssociationID:   input.Association.ID,
				Month:           input.Month,
				Year:            input.Year,
				ExpectedAmount:  input.Member.CotisationAmount,
				PaidAmount:      input.Amount,
				PaymentMethod:   input.Method,
				PaymentDate:     &paymentDate,
				Source:          input.Source,
				ValidationState: ValidationPending,
				Version:         1,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			return tx.InsertRecord(ctx, out)
		}
		if err != nil {
			return err
		}
		// Supersede: records are never deleted, a new entry replaces the
		// provisional amount and clears any previous validation. An amount
		// already credited by a validator is backed out first so that the
		// member total only ever reflects the validated snapshot.
		if existing.ValidationState == ValidationValidated {
			if err := tx.AddToMemberTotal(ctx, existing.MemberID, -existing.PaidAmount); err != nil {
				return err
			}
		}
		existing.PaidAmount = input.Amount
		existing.PaymentMethod = input.Method
		existing.PaymentDate = &paymentDate
		existing.Source = input.Source
		existing.ValidationState = ValidationPending
		existing.ValidatorID = nil
		if err := tx.UpdateRecord(ctx, existing); err != nil {
			return err
		}
		out = existing
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return out, nil
}

// OpenPeriod creates zero-paid records for every active member of the
// association for (month, year). Existing records are left untouched.
func (s *Service) OpenPeriod(ctx context.Context, assoc org.Association, month, year int) (int, error) {
	if month < 1 || month > 12 {
		return 0, shared.Validationf("month must be between 1 and 12, got %d", month)
	}
	members, err := s.repo.ListActiveMembers(ctx, assoc.ID)
	if err != nil {
		return 0, err
	}
	created := 0
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, member := range members {
			now := s.now()
			inserted, err := tx.InsertRecordIfAbsent(ctx, Record{
				ID:              uuid.New(),
				MemberID:        member.ID,
				AssociationID:   assoc.ID,
				Month:           month,
				Year:            year,
				ExpectedAmount:  member.CotisationAmount,
				Source:          SourceManual,
				ValidationState: ValidationPending,
				Version:         1,
				CreatedAt:       now,
				UpdatedAt:       now,
			})
			if err != nil {
				return err
			}
			if inserted {
				created++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

// ValidateInput identifies the record and the acting validator.
type ValidateInput struct {
	RecordID    uuid.UUID
	Validator   org.Member
	Association org.Association
}

// ValidatePayment is phase 2 of the dual-control flow: only here does the
// paid amount flow into the member's running total.
func (s *Service) ValidatePayment(ctx context.Context, input ValidateInput) (Record, error) {
	if !org.HasPermission(input.Validator, input.Association, perm.PermCotisationsValidate) {
		return Record{}, shared.Authorizationf("member %s may not validate cotisations", input.Validator.ID)
	}
	var out Record
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		record, err := tx.GetRecordForUpdate(ctx, input.RecordID)
		if err != nil {
			return err
		}
		if record.ValidationState != ValidationPending {
			return shared.Invariantf("record %s is not awaiting validation", record.ID)
		}
		validatorID := input.Validator.ID
		record.ValidationState = ValidationValidated
		record.ValidatorID = &validatorID
		if err := tx.UpdateRecord(ctx, record); err != nil {
			return err
		}
		if err := tx.AddToMemberTotal(ctx, record.MemberID, record.PaidAmount); err != nil {
			return err
		}
		out = record
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	event := shared.NewEvent(shared.EventCotisationValidated, s.now(), map[string]any{
		"record_id":    out.ID.String(),
		"member_id":    out.MemberID.String(),
		"amount":       out.PaidAmount,
		"validator_id": input.Validator.ID.String(),
	})
	if err := s.sink(ctx, event); err != nil {
		s.logger.Warn("emit cotisation.validated", slog.Any("error", err))
	}
	return out, nil
}

// RejectPayment marks a pending entry as rejected without touching totals.
func (s *Service) RejectPayment(ctx context.Context, input ValidateInput) (Record, error) {
	if !org.HasPermission(input.Validator, input.Association, perm.PermCotisationsValidate) {
		return Record{}, shared.Authorizationf("member %s may not validate cotisations", input.Validator.ID)
	}
	var out Record
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		record, err := tx.GetRecordForUpdate(ctx, input.RecordID)
		if err != nil {
			return err
		}
		if record.ValidationState != ValidationPending {
			return shared.Invariantf("record %s is not awaiting validation", record.ID)
		}
		validatorID := input.Validator.ID
		record.ValidationState = ValidationRejected
		record.ValidatorID = &validatorID
		if err := tx.UpdateRecord(ctx, record); err != nil {
			return err
		}
		out = record
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return out, nil
}

// RecordStatus is a record decorated with its derived status.
type RecordStatus struct {
	Record Record
	Result StatusResult
}

// MemberStatement reports a member's records with derived statuses and the
// aggregate status over the recent window.
type MemberStatement struct {
	Member    org.Member
	Records   []RecordStatus
	Aggregate AggregateStatus
}

// Statement computes the dues statement for a member at the given instant.
func (s *Service) Statement(ctx context.Context, member org.Member, assoc org.Association, now time.Time) (MemberStatement, error) {
	records, err := s.repo.ListMemberRecords(ctx, member.ID)
	if err != nil {
		return MemberStatement{}, err
	}
	statement := MemberStatement{
		Member:    member,
		Aggregate: AggregateMemberStatus(records, assoc.CotisationSettings, member.JoinDate, now, DefaultAggregateWindow),
	}
	for _, record := range records {
		statement.Records = append(statement.Records, RecordStatus{
			Record: record,
			Result: ComputeStatus(record, assoc.CotisationSettings, now),
		})
	}
	return statement, nil
}

// SendReminders emits a reminder event for every member of the association
// whose current records are late or very late. Returns the emitted count.
func (s *Service) SendReminders(ctx context.Context, assoc org.Association, now time.Time) (int, error) {
	records, err := s.repo.ListUnpaidRecords(ctx, assoc.ID)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, record := range records {
		result := ComputeStatus(record, assoc.CotisationSettings, now)
		if result.Status != StatusLate && result.Status != StatusVeryLate {
			continue
		}
		event := shared.NewEvent(shared.EventCotisationReminder, now, map[string]any{
			"member_id":           record.MemberID.String(),
			"association_id":      assoc.ID.String(),
			"month":               record.Month,
			"year":                record.Year,
			"status":              string(result.Status),
			"days_since_deadline": result.DaysSinceDeadline,
		})
		if err := s.sink(ctx, event); err != nil {
			s.logger.Warn("emit cotisation.reminder", slog.Any("error", err))
			continue
		}
		sent++
	}
	return sent, nil
}

// GetRecord fetches a record snapshot.
func (s *Service) GetRecord(ctx context.Context, id uuid.UUID) (Record, error) {
	return s.repo.GetRecord(ctx, id)
}
