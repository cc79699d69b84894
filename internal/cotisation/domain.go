// Package cotisation computes dues statuses and tracks monthly cotisation
// records under the dual-control record/validate pattern.
package cotisation

import (
	"time"

	"github.com/google/uuid"
)

// Status is the derived dues status of a single record.
type Status string

const (
	StatusPaid     Status = "paid"
	StatusPending  Status = "pending"
	StatusLate     Status = "late"
	StatusVeryLate Status = "very_late"
)

// AggregateStatus is the member-level dues status across recent periods.
type AggregateStatus string

const (
	AggregateUpToDate AggregateStatus = "uptodate"
	AggregateLate     AggregateStatus = "late"
	AggregateVeryLate AggregateStatus = "very_late"
)

// Source identifies how a payment entry was produced.
type Source string

const (
	SourceManual   Source = "manual"
	SourceTransfer Source = "transfer"
	SourceCard     Source = "card"
	SourceImport   Source = "import"
)

// ValidationState is the dual-control lifecycle of a record. Phase 1
// (recorded) writes provisional data; phase 2 (validated) is the only phase
// that mutates aggregate totals.
type ValidationState string

const (
	ValidationPending   ValidationState = "pending"
	ValidationValidated ValidationState = "validated"
	ValidationRejected  ValidationState = "rejected"
)

// Record is one cotisation entry per (member, month, year). Records are
// never deleted; a new payment supersedes the paid amount.
type Record struct {
	ID              uuid.UUID
	MemberID        uuid.UUID
	AssociationID   uuid.UUID
	Month           int // 1..12
	Year            int
	ExpectedAmount  float64
	PaidAmount      float64
	PaymentMethod   string
	PaymentDate     *time.Time
	Source          Source
	ValidationState ValidationState
	ValidatorID     *uuid.UUID
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// StatusResult pairs a derived status with its lateness in days.
type StatusResult struct {
	Status            Status
	DaysSinceDeadline int
}
