// Package loan tracks repayments against approved loan requests, computing
// outstanding balances, lateness and repayment progress.
package loan

import (
	"time"

	"github.com/google/uuid"

	"github.com/teranga-app/teranga/internal/expense"
	"github.com/teranga-app/teranga/internal/shared"
)

// RepaymentStatus enumerates the dual-control states of a repayment.
type RepaymentStatus string

const (
	RepaymentPending   RepaymentStatus = "pending"
	RepaymentValidated RepaymentStatus = "validated"
	RepaymentRejected  RepaymentStatus = "rejected"
)

// Repayment is one payment recorded against a loan. Only validated
// repayments count toward the outstanding balance.
type Repayment struct {
	ID               uuid.UUID
	ExpenseRequestID uuid.UUID
	Amount           float64
	PrincipalAmount  float64
	InterestAmount   float64
	PenaltyAmount    float64
	PaymentDate      time.Time
	DueDate          time.Time
	PaymentMethod    string
	ManualReference  string
	Status           RepaymentStatus
	ValidatorID      *uuid.UUID
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Loan is the ledger view of an approved loan request.
type Loan struct {
	ExpenseRequestID uuid.UUID
	AssociationID    uuid.UUID
	BorrowerID       *uuid.UUID
	Amount           float64
	Currency         string
	InterestRate     float64 // annual, percent
	DurationMonths   int
	MonthlyPayment   float64
	OriginationDate  time.Time
}

// LoanFromRequest projects an approved loan request onto the ledger view.
// The origination date is the instant the request was approved.
func LoanFromRequest(req expense.Request) (Loan, error) {
	if !req.IsLoan || req.LoanTerms == nil {
		return Loan{}, shared.Invariantf("request %s is not a loan", req.ID)
	}
	if req.Status != expense.StatusApproved && req.Status != expense.StatusPaid {
		return Loan{}, shared.Invariantf("loan request %s is not approved (status %s)", req.ID, req.Status)
	}
	return Loan{
		ExpenseRequestID: req.ID,
		AssociationID:    req.AssociationID,
		BorrowerID:       req.Beneficiary.MemberID,
		Amount:           req.AmountRequested,
		Currency:         req.Currency,
		InterestRate:     req.LoanTerms.InterestRate,
		DurationMonths:   req.LoanTerms.DurationMonths,
		MonthlyPayment:   req.LoanTerms.MonthlyPayment,
		OriginationDate:  req.UpdatedAt,
	}, nil
}

// Installment is one scheduled payment of a loan.
type Installment struct {
	Number  int
	DueDate time.Time
	Amount  float64
}
