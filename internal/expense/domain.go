// Package expense drives expense and loan requests through their multi-party
// approval lifecycle.
package expense

import (
	"time"

	"github.com/google/uuid"
)

// RequestStatus enumerates the approval state machine.
type RequestStatus string

const (
	StatusPending              RequestStatus = "pending"
	StatusUnderReview          RequestStatus = "under_review"
	StatusApproved             RequestStatus = "approved"
	StatusAdditionalInfoNeeded RequestStatus = "additional_info_needed"
	StatusRejected             RequestStatus = "rejected"
	StatusPaid                 RequestStatus = "paid"
)

// Terminal reports whether no further transition is possible.
func (s RequestStatus) Terminal() bool {
	return s == StatusRejected || s == StatusPaid
}

// Urgency enumerates request urgency levels.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyNormal   Urgency = "normal"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// ValidUrgency reports whether u is a known urgency level.
func ValidUrgency(u Urgency) bool {
	switch u {
	case UrgencyLow, UrgencyNormal, UrgencyHigh, UrgencyCritical:
		return true
	}
	return false
}

// Decision enumerates validator decisions.
type Decision string

const (
	DecisionApproved      Decision = "approved"
	DecisionRejected      Decision = "rejected"
	DecisionInfoRequested Decision = "info_requested"
)

// Beneficiary is either an internal member or an external party.
type Beneficiary struct {
	MemberID *uuid.UUID
	Name     string
	Contact  string
}

// LoanTerms describes repayment conditions of a loan request.
type LoanTerms struct {
	DurationMonths int
	InterestRate   float64 // annual, percent
	MonthlyPayment float64
}

// Complete reports whether every term is populated.
func (t LoanTerms) Complete() bool {
	return t.DurationMonths > 0 && t.InterestRate >= 0 && t.MonthlyPayment > 0
}

// ValidationEntry is one decision in the request's approval history.
type ValidationEntry struct {
	ValidatorID uuid.UUID
	Role        string
	Decision    Decision
	Comment     string
	Cycle       int
	Timestamp   time.Time
}

// Request is an expense or loan disbursement request. It is owned by its
// association; a section reference narrows, never replaces, that ownership.
type Request struct {
	ID              uuid.UUID
	AssociationID   uuid.UUID
	SectionID       *uuid.UUID
	RequesterID     uuid.UUID
	Beneficiary     Beneficiary
	ExpenseType     string
	AmountRequested float64
	Currency        string
	Urgency         Urgency
	IsLoan          bool
	LoanTerms       *LoanTerms
	Status          RequestStatus
	ReviewCycle     int
	History         []ValidationEntry
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// DecisionInCycle reports whether the validator already decided in the
// current review cycle.
func (r Request) DecisionInCycle(validatorID uuid.UUID) bool {
	for _, entry := range r.History {
		if entry.Cycle == r.ReviewCycle && entry.ValidatorID == validatorID {
			return true
		}
	}
	return false
}
