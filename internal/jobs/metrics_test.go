package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	if err := metrics.Track("scan").End(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantErr := errors.New("boom")
	if err := metrics.Track("scan").End(wantErr); err != wantErr {
		t.Fatalf("expected error passthrough, got %v", err)
	}

	if got := testutil.ToFloat64(metrics.runs.WithLabelValues("scan", "success")); got != 1 {
		t.Fatalf("expected 1 success run, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.failures.WithLabelValues("scan")); got != 1 {
		t.Fatalf("expected 1 failure, got %v", got)
	}
}

func TestAddRemindersIgnoresEmptyCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	metrics.AddReminders("assoc-1", 0)
	metrics.AddReminders("assoc-1", 3)

	if got := testutil.ToFloat64(metrics.reminders.WithLabelValues("assoc-1")); got != 3 {
		t.Fatalf("expected 3 reminders, got %v", got)
	}
}

func TestNilMetricsTrackerIsSafe(t *testing.T) {
	var metrics *Metrics
	if err := metrics.Track("scan").End(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	metrics.AddReminders("assoc-1", 2)
}
