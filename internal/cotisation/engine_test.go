package cotisation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teranga-app/teranga/internal/org"
)

var testSettings = org.CotisationSettings{DueDay: 5, GracePeriodDays: 3}

func marchRecord(expected, paid float64) Record {
	return Record{Month: 3, Year: 2025, ExpectedAmount: expected, PaidAmount: paid}
}

func at(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 12, 0, 0, 0, time.UTC)
}

func TestComputeStatusMarchScenario(t *testing.T) {
	// dueDay=5, grace=3 => deadline March 8.
	record := marchRecord(20, 0)

	res := ComputeStatus(record, testSettings, at(2025, time.March, 9))
	require.Equal(t, StatusPending, res.Status)
	require.Equal(t, 1, res.DaysSinceDeadline)

	res = ComputeStatus(record, testSettings, at(2025, time.March, 10))
	require.Equal(t, StatusLate, res.Status)
	require.Equal(t, 2, res.DaysSinceDeadline)

	res = ComputeStatus(record, testSettings, at(2025, time.April, 10))
	require.Equal(t, StatusVeryLate, res.Status)
}

func TestComputeStatusPaidDominatesDate(t *testing.T) {
	record := marchRecord(20, 20)
	for _, now := range []time.Time{
		at(2025, time.February, 1),
		at(2025, time.March, 9),
		at(2026, time.March, 9),
	} {
		res := ComputeStatus(record, testSettings, now)
		require.Equal(t, StatusPaid, res.Status)
	}

	overpaid := marchRecord(20, 25)
	require.Equal(t, StatusPaid, ComputeStatus(overpaid, testSettings, at(2026, time.January, 1)).Status)
}

func TestComputeStatusMonotonicInTime(t *testing.T) {
	rank := map[Status]int{StatusPending: 0, StatusLate: 1, StatusVeryLate: 2}
	for _, settings := range []org.CotisationSettings{
		{DueDay: 1, GracePeriodDays: 0},
		{DueDay: 5, GracePeriodDays: 3},
		{DueDay: 31, GracePeriodDays: 10},
	} {
		record := marchRecord(20, 0)
		prev := -1
		now := at(2025, time.February, 15)
		for i := 0; i < 120; i++ {
			res := ComputeStatus(record, settings, now)
			require.GreaterOrEqual(t, rank[res.Status], prev, "status regressed at %s", now)
			prev = rank[res.Status]
			now = now.AddDate(0, 0, 1)
		}
	}
}

func TestDeadlineClampsDueDayToMonthLength(t *testing.T) {
	settings := org.CotisationSettings{DueDay: 31, GracePeriodDays: 0}
	deadline := Deadline(2, 2025, settings)
	require.Equal(t, time.Date(2025, time.February, 28, 0, 0, 0, 0, time.UTC), deadline)
}

func TestDaysSinceDeadlineNeverNegative(t *testing.T) {
	record := marchRecord(20, 0)
	res := ComputeStatus(record, testSettings, at(2025, time.January, 1))
	require.Equal(t, 0, res.DaysSinceDeadline)
}

func TestAggregateMemberStatusWorstOf(t *testing.T) {
	now := at(2025, time.June, 1)
	joinDate := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	records := []Record{
		{Month: 5, Year: 2025, ExpectedAmount: 20, PaidAmount: 0}, // 24 days past deadline, late
		{Month: 4, Year: 2025, ExpectedAmount: 20, PaidAmount: 20},
		{Month: 3, Year: 2025, ExpectedAmount: 20, PaidAmount: 20},
	}
	require.Equal(t, AggregateLate, AggregateMemberStatus(records, testSettings, joinDate, now, 12))

	records = append(records, Record{Month: 2, Year: 2025, ExpectedAmount: 20, PaidAmount: 0})
	require.Equal(t, AggregateVeryLate, AggregateMemberStatus(records, testSettings, joinDate, now, 12))
}

func TestAggregateExcludesPeriodsBeforeJoinDate(t *testing.T) {
	now := at(2025, time.June, 1)
	joinDate := time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC)

	records := []Record{
		{Month: 2, Year: 2025, ExpectedAmount: 20, PaidAmount: 0}, // before join, ignored
		{Month: 5, Year: 2025, ExpectedAmount: 20, PaidAmount: 20},
	}
	require.Equal(t, AggregateUpToDate, AggregateMemberStatus(records, testSettings, joinDate, now, 12))
}

func TestAggregateWindowLimitsPeriods(t *testing.T) {
	now := at(2025, time.June, 1)
	joinDate := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	records := []Record{
		{Month: 5, Year: 2025, ExpectedAmount: 20, PaidAmount: 20},
		{Month: 4, Year: 2025, ExpectedAmount: 20, PaidAmount: 20},
		{Month: 1, Year: 2024, ExpectedAmount: 20, PaidAmount: 0}, // outside window of 2
	}
	require.Equal(t, AggregateUpToDate, AggregateMemberStatus(records, testSettings, joinDate, now, 2))
}
