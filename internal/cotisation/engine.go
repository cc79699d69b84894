package cotisation

import (
	"time"

	"github.com/teranga-app/teranga/internal/org"
)

// lateWindowDays is how long past the deadline a record stays merely
// late; beyond it the record is very late.
const lateWindowDays = 30

// DefaultAggregateWindow is the number of recent periods considered when
// aggregating a member-level status.
const DefaultAggregateWindow = 12

// Deadline returns the payment deadline for a period: the association due
// day of that month (clamped to the month's length) plus the grace period.
func Deadline(month, year int, settings org.CotisationSettings) time.Time {
	day := settings.DueDay
	if last := lastDayOfMonth(month, year); day > last {
		day = last
	}
	due := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return due.AddDate(0, 0, settings.GracePeriodDays)
}

func lastDayOfMonth(month, year int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ComputeStatus derives the dues status of a record at the given instant.
// The status is never stored; callers recompute it from the snapshot.
// Lateness is counted in calendar days, not clock hours: the deadline day
// and the day after it still count as pending, and a record turns late on
// the second day past the deadline regardless of the time of day.
func ComputeStatus(record Record, settings org.CotisationSettings, now time.Time) StatusResult {
	deadline := Deadline(record.Month, record.Year, settings)
	u := now.UTC()
	today := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	days := int(today.Sub(deadline).Hours() / 24)
	if days < 0 {
		days = 0
	}
	result := StatusResult{DaysSinceDeadline: days}
	switch {
	case record.PaidAmount >= record.ExpectedAmount:
		result.Status = StatusPaid
	case days <= 1:
		result.Status = StatusPending
	case days <= 1+lateWindowDays:
		result.Status = StatusLate
	default:
		result.Status = StatusVeryLate
	}
	return result
}

// AggregateMemberStatus folds the worst status across the member's last
// lastN relevant periods. Periods before the member's join date are not
// relevant. very_late dominates late dominates uptodate.
func AggregateMemberStatus(records []Record, settings org.CotisationSettings, joinDate, now time.Time, lastN int) AggregateStatus {
	if lastN <= 0 {
		lastN = DefaultAggregateWindow
	}
	joinPeriod := time.Date(joinDate.Year(), joinDate.Month(), 1, 0, 0, 0, 0, time.UTC)
	worst := AggregateUpToDate
	considered := 0
	for _, record := range sortRecentFirst(records) {
		if considered >= lastN {
			break
		}
		period := time.Date(record.Year, time.Month(record.Month), 1, 0, 0, 0, 0, time.UTC)
		if period.Before(joinPeriod) {
			continue
		}
		considered++
		switch ComputeStatus(record, settings, now).Status {
		case StatusVeryLate:
			return AggregateVeryLate
		case StatusLate:
			worst = AggregateLate
		}
	}
	return worst
}

func sortRecentFirst(records []Record) []Record {
	out := make([]Record, len(records))
	copy(out, records)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && periodAfter(out[j], out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func periodAfter(a, b Record) bool {
	if a.Year != b.Year {
		return a.Year > b.Year
	}
	return a.Month > b.Month
}
