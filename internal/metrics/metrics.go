// Package metrics exposes Prometheus collectors for the job engine, the
// overdue sweep, reminders and outbound notifications.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"lifejourney/internal/jobs/engine"
	"lifejourney/internal/notifier"
	"lifejourney/internal/reminders"
	"lifejourney/internal/sweep"
)

// Collector implements the observer interfaces of the services it measures.
type Collector struct {
	registry *prometheus.Registry

	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	jobAttempts *prometheus.HistogramVec
	jobDropped  *prometheus.CounterVec

	sweepRuns     *prometheus.CounterVec
	sweepDuration prometheus.Histogram
	sweepItems    *prometheus.CounterVec
	sweepLastRun  prometheus.Gauge
	sweepLastDate prometheus.Gauge
	reminderItems *prometheus.CounterVec
	reminderLast  prometheus.Gauge
	notifications *prometheus.CounterVec
	startTime     time.Time
	uptime        prometheus.GaugeFunc
}

var (
	_ engine.Observer    = (*Collector)(nil)
	_ sweep.Observer     = (*Collector)(nil)
	_ reminders.Observer = (*Collector)(nil)
	_ notifier.Observer  = (*Collector)(nil)
)

// NewCollector creates a collector on a private registry that also carries
// the Go runtime and process collectors.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "lifejourney"
	}
	c := &Collector{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
	}

	c.jobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "runs_total",
			Help:      "Executed jobs by final result",
		},
		[]string{"job", "result"},
	)
	c.jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "duration_seconds",
			Help:      "Job duration including retries",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		},
		[]string{"job"},
	)
	c.jobAttempts = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "attempts",
			Help:      "Attempts per executed job",
			Buckets:   []float64{1, 2, 3, 4, 6, 8},
		},
		[]string{"job"},
	)
	c.jobDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "dropped_total",
			Help:      "Jobs dropped before running",
		},
		[]string{"job", "reason"},
	)

	c.sweepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "runs_total",
			Help:      "Overdue sweeps by result (ok, partial)",
		},
		[]string{"result"},
	)
	c.sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "duration_seconds",
			Help:      "Time taken by one sweep",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		},
	)
	c.sweepItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "items_total",
			Help:      "Items seen by the sweep by outcome (advanced, conflict, failed)",
		},
		[]string{"outcome"},
	)
	c.sweepLastRun = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last sweep finished",
		},
	)
	c.sweepLastDate = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "last_date_timestamp_seconds",
			Help:      "Civil date (midnight UTC) the last sweep processed",
		},
	)

	c.reminderItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reminders",
			Name:      "total",
			Help:      "Reminder decisions by outcome",
		},
		[]string{"outcome"},
	)
	c.reminderLast = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reminders",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last reminder run finished",
		},
	)

	c.notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "messages_total",
			Help:      "Outbound messages by channel and result (sent, failed, deduped, dropped)",
		},
		[]string{"channel", "result"},
	)

	c.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds",
		},
		func() float64 { return time.Since(c.startTime).Seconds() },
	)

	c.registry.MustRegister(
		c.jobRuns,
		c.jobDuration,
		c.jobAttempts,
		c.jobDropped,
		c.sweepRuns,
		c.sweepDuration,
		c.sweepItems,
		c.sweepLastRun,
		c.sweepLastDate,
		c.reminderItems,
		c.reminderLast,
		c.notifications,
		c.uptime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// WatchEngine exports live queue gauges read from snapshot on every scrape.
func (c *Collector) WatchEngine(namespace string, snapshot func() engine.Snapshot) {
	if namespace == "" {
		namespace = "lifejourney"
	}
	gauge := func(name, help string, v func(engine.Snapshot) int) prometheus.Collector {
		return prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Namespace: namespace, Subsystem: "engine", Name: name, Help: help},
			func() float64 { return float64(v(snapshot())) },
		)
	}
	c.registry.MustRegister(
		gauge("queue_length", "Jobs waiting in the queue", func(s engine.Snapshot) int { return s.QueueLen }),
		gauge("in_flight", "Jobs currently running", func(s engine.Snapshot) int { return s.InFlight }),
		gauge("circuits_open", "Job names whose circuit breaker is open", func(s engine.Snapshot) int { return s.CircuitOpen }),
	)
}

func (c *Collector) JobFinished(name string, dur time.Duration, attempts int, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	c.jobRuns.WithLabelValues(name, result).Inc()
	c.jobDuration.WithLabelValues(name).Observe(dur.Seconds())
	c.jobAttempts.WithLabelValues(name).Observe(float64(attempts))
}

func (c *Collector) JobDropped(name, reason string) {
	c.jobDropped.WithLabelValues(name, reason).Inc()
}

func (c *Collector) SweepFinished(r sweep.Report) {
	result := "ok"
	if len(r.Failures) > 0 {
		result = "partial"
	}
	c.sweepRuns.WithLabelValues(result).Inc()
	c.sweepDuration.Observe(r.Took.Seconds())
	c.sweepItems.WithLabelValues("advanced").Add(float64(r.Advanced))
	c.sweepItems.WithLabelValues("conflict").Add(float64(r.Conflicts))
	c.sweepItems.WithLabelValues("failed").Add(float64(len(r.Failures)))
	c.sweepLastRun.Set(float64(r.Started.Add(r.Took).Unix()))
	c.sweepLastDate.Set(float64(r.Date.Unix()))
}

func (c *Collector) RemindersDispatched(r reminders.Report) {
	for outcome, n := range map[string]int{
		"queued":      r.Queued,
		"deduped":     r.Deduped,
		"quiet":       r.Quiet,
		"moderated":   r.Moderated,
		"unreachable": r.Unreachable,
		"failed":      len(r.Failures),
	} {
		c.reminderItems.WithLabelValues(outcome).Add(float64(n))
	}
	c.reminderLast.Set(float64(r.Started.Add(r.Took).Unix()))
}

func (c *Collector) NotificationResult(channel, result string) {
	c.notifications.WithLabelValues(channel, result).Inc()
}
