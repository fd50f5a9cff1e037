package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"lifejourney/internal/jobs/engine"
	"lifejourney/internal/reminders"
	"lifejourney/internal/sweep"
)

func TestJobMetrics(t *testing.T) {
	c := NewCollector("test")
	c.JobFinished("sweep.overdue", 40*time.Millisecond, 1, nil)
	c.JobFinished("sweep.overdue", 2*time.Second, 3, errors.New("down"))
	c.JobDropped("reminders.dispatch", "queue_full")

	if got := testutil.ToFloat64(c.jobRuns.WithLabelValues("sweep.overdue", "error")); got != 1 {
		t.Fatalf("error runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.jobDropped.WithLabelValues("reminders.dispatch", "queue_full")); got != 1 {
		t.Fatalf("dropped = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(c.jobDuration); n != 1 {
		t.Fatalf("duration series = %d, want 1", n)
	}
}

func TestSweepAndReminderMetrics(t *testing.T) {
	c := NewCollector("test")
	date := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	c.SweepFinished(sweep.Report{
		Date:      date,
		Started:   date.Add(23 * time.Hour),
		Took:      time.Second,
		Advanced:  4,
		Conflicts: 1,
		Failures:  []sweep.Failure{{ItemID: "x", Err: errors.New("bad")}},
	})
	c.RemindersDispatched(reminders.Report{Queued: 3, Deduped: 2})
	c.NotificationResult("sms", "sent")
	c.NotificationResult("sms", "sent")

	expected := `
# HELP test_sweep_items_total Items seen by the sweep by outcome (advanced, conflict, failed)
# TYPE test_sweep_items_total counter
test_sweep_items_total{outcome="advanced"} 4
test_sweep_items_total{outcome="conflict"} 1
test_sweep_items_total{outcome="failed"} 1
`
	if err := testutil.CollectAndCompare(c.sweepItems, strings.NewReader(expected)); err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(c.sweepRuns.WithLabelValues("partial")); got != 1 {
		t.Fatalf("partial sweeps = %v", got)
	}
	if got := testutil.ToFloat64(c.sweepLastDate); got != float64(date.Unix()) {
		t.Fatalf("last date = %v", got)
	}
	if got := testutil.ToFloat64(c.reminderItems.WithLabelValues("queued")); got != 3 {
		t.Fatalf("queued reminders = %v", got)
	}
	if got := testutil.ToFloat64(c.notifications.WithLabelValues("sms", "sent")); got != 2 {
		t.Fatalf("sms sent = %v", got)
	}
}

func TestWatchEngine(t *testing.T) {
	c := NewCollector("test")
	c.WatchEngine("test", func() engine.Snapshot { return engine.Snapshot{QueueLen: 5, InFlight: 2} })

	mfs, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := map[string]float64{}
	for _, mf := range mfs {
		if strings.HasPrefix(mf.GetName(), "test_engine_") {
			found[mf.GetName()] = mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	if found["test_engine_queue_length"] != 5 || found["test_engine_in_flight"] != 2 {
		t.Fatalf("engine gauges = %v", found)
	}
}
