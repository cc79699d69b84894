package loan

import (
	"strings"
	"time"

	"github.com/teranga-app/teranga/internal/shared"
)

// installmentInterval is the spacing between scheduled installments.
const installmentInterval = 30 * 24 * time.Hour

// AccruedInterest returns the simple interest owed over the full loan term:
// amount x rate/100 x months/12.
func AccruedInterest(l Loan) float64 {
	return l.Amount * l.InterestRate / 100 * float64(l.DurationMonths) / 12
}

// TotalOwed is the principal plus accrued interest.
func TotalOwed(l Loan) float64 {
	return l.Amount + AccruedInterest(l)
}

// Outstanding returns the balance still owed given the repayments recorded
// so far. Only validated repayments reduce the balance.
func Outstanding(l Loan, repayments []Repayment) float64 {
	balance := TotalOwed(l)
	for _, r := range repayments {
		if r.Status == RepaymentValidated {
			balance -= r.Amount
		}
	}
	if balance < 0 {
		return 0
	}
	return balance
}

// TotalRepaid sums the validated repayment amounts.
func TotalRepaid(repayments []Repayment) float64 {
	var total float64
	for _, r := range repayments {
		if r.Status == RepaymentValidated {
			total += r.Amount
		}
	}
	return total
}

// Progress is the repaid fraction of the total owed, clamped to [0, 1].
func Progress(l Loan, repayments []Repayment) float64 {
	owed := TotalOwed(l)
	if owed <= 0 {
		return 1
	}
	p := TotalRepaid(repayments) / owed
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// DueDate returns the due date of the k-th installment, counted from 1.
func DueDate(origination time.Time, k int) time.Time {
	return origination.Add(time.Duration(k) * installmentInterval)
}

// DaysLate returns how many whole days the payment landed after its due
// date. Early or on-time payments return 0.
func DaysLate(paymentDate, dueDate time.Time) int {
	if !paymentDate.After(dueDate) {
		return 0
	}
	return int(paymentDate.Sub(dueDate) / (24 * time.Hour))
}

// BuildSchedule expands the loan terms into its installment plan.
func BuildSchedule(l Loan) []Installment {
	schedule := make([]Installment, 0, l.DurationMonths)
	for k := 1; k <= l.DurationMonths; k++ {
		schedule = append(schedule, Installment{
			Number:  k,
			DueDate: DueDate(l.OriginationDate, k),
			Amount:  l.MonthlyPayment,
		})
	}
	return schedule
}

// CheckRepayment verifies the ledger preconditions for accepting a new
// repayment entry against the existing ledger. Rejected entries do not
// block reuse of their manual reference.
func CheckRepayment(l Loan, existing []Repayment, r Repayment) error {
	if r.Amount <= 0 {
		return shared.Validationf("repayment amount must be positive")
	}
	if r.PenaltyAmount < 0 {
		return shared.Validationf("penalty amount must not be negative")
	}
	if outstanding := Outstanding(l, existing); r.Amount > outstanding {
		return shared.Validationf("repayment %.2f exceeds outstanding balance %.2f", r.Amount, outstanding)
	}
	ref := strings.TrimSpace(r.ManualReference)
	if ref != "" {
		for _, other := range existing {
			if other.ID == r.ID || other.Status == RepaymentRejected {
				continue
			}
			if strings.EqualFold(strings.TrimSpace(other.ManualReference), ref) {
				return shared.Validationf("manual reference %q already used on this loan", ref)
			}
		}
	}
	return nil
}
