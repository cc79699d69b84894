package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/teranga-app/teranga/internal/cotisation"
	jobmetrics "github.com/teranga-app/teranga/internal/jobs"
	"github.com/teranga-app/teranga/internal/org"
)

// ReminderScanHandler builds the cron handler that sweeps every association
// for late cotisations and emits a reminder per delinquent record.
func ReminderScanHandler(orgs *org.Service, cotisations *cotisation.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track(TaskTypeReminderScan)
		associations, err := orgs.ListAssociations(ctx)
		if err != nil {
			return tracker.End(err)
		}
		now := time.Now().UTC()
		g, ctx := errgroup.WithContext(ctx)
		g.SetLimit(4)
		for _, assoc := range associations {
			assoc := assoc
			g.Go(func() error {
				sent, err := cotisations.SendReminders(ctx, assoc, now)
				if err != nil {
					// One failing association must not block the sweep.
					logger.Error("reminder scan",
						slog.String("association_id", assoc.ID.String()),
						slog.Any("error", err))
					return nil
				}
				if sent > 0 {
					metrics.AddReminders(assoc.ID.String(), sent)
					logger.Info("reminders queued",
						slog.String("association_id", assoc.ID.String()),
						slog.Int("count", sent))
				}
				return nil
			})
		}
		return tracker.End(g.Wait())
	}
}
