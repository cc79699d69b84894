package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/teranga-app/teranga/internal/shared"
)

// NewEventSink bridges domain events onto the job queue. Events without a
// queue-side consumer are logged and dropped; the engines never block on
// delivery.
func NewEventSink(client *Client, logger *slog.Logger) shared.EventSink {
	return func(ctx context.Context, event shared.Event) error {
		task, err := taskForEvent(event)
		if err != nil {
			return err
		}
		if task == nil {
			logger.Debug("event without queue consumer", slog.String("event", event.Name))
			return nil
		}
		_, err = client.Enqueue(ctx, task)
		return err
	}
}

func taskForEvent(event shared.Event) (*asynq.Task, error) {
	switch event.Name {
	case shared.EventCotisationReminder:
		return NewReminderTask(ReminderPayload{
			MemberID:          str(event.Payload["member_id"]),
			AssociationID:     str(event.Payload["association_id"]),
			Month:             integer(event.Payload["month"]),
			Year:              integer(event.Payload["year"]),
			Status:            str(event.Payload["status"]),
			DaysSinceDeadline: integer(event.Payload["days_since_deadline"]),
		})
	case shared.EventScheduleRepayments:
		return NewScheduleRepaymentsTask(SchedulePayload{
			RequestID:      str(event.Payload["request_id"]),
			DurationMonths: integer(event.Payload["duration_months"]),
			MonthlyPayment: number(event.Payload["monthly_payment"]),
			InterestRate:   number(event.Payload["interest_rate"]),
		})
	case shared.EventDebitBalance:
		return NewDebitBalanceTask(DebitBalancePayload{
			RequestID:     str(event.Payload["request_id"]),
			AssociationID: str(event.Payload["association_id"]),
			Amount:        number(event.Payload["amount"]),
			Currency:      str(event.Payload["currency"]),
		})
	}
	return nil, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func integer(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}
