package shared

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Domain event names emitted by the engines. Delivery (SMS, push, ledger
// write) is entirely external to the core.
const (
	EventCotisationValidated   = "cotisation.validated"
	EventCotisationReminder    = "cotisation.reminder"
	EventExpenseApproved       = "expense.approved"
	EventExpenseRejected       = "expense.rejected"
	EventExpenseInfoRequested  = "expense.info_requested"
	EventDebitBalance          = "expense.debit_balance"
	EventScheduleRepayments    = "loan.schedule_repayments"
	EventRepaymentValidated    = "loan.repayment_validated"
)

// Event is a domain event produced by an engine operation.
type Event struct {
	ID         uuid.UUID
	Name       string
	OccurredAt time.Time
	Payload    map[string]any
}

// EventSink receives domain events for out-of-band delivery. Implementations
// must be safe for concurrent use.
type EventSink func(ctx context.Context, event Event) error

// NewEvent builds an event with a fresh id.
func NewEvent(name string, at time.Time, payload map[string]any) Event {
	return Event{ID: uuid.New(), Name: name, OccurredAt: at, Payload: payload}
}

// NopSink discards events. Useful for tests and CLI tooling.
func NopSink(context.Context, Event) error { return nil }
