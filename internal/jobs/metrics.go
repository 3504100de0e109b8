// Package jobmetrics instruments background maintenance tasks.
package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the task collectors.
type Metrics struct {
	runs     *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	removed  *prometheus.CounterVec
}

var (
	sharedOnce    sync.Once
	sharedMetrics *Metrics
)

// NewMetrics registers collectors on reg. A nil reg shares one instance on
// the default registerer, since registering twice there panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg != nil {
		return register(reg)
	}
	sharedOnce.Do(func() { sharedMetrics = register(prometheus.DefaultRegisterer) })
	return sharedMetrics
}

func register(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_jobs_total",
			Help: "Maintenance task runs by task type and outcome.",
		}, []string{"job", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_jobs_failures_total",
			Help: "Failed maintenance task runs by task type.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "odyssey_job_duration_seconds",
			Help:    "Maintenance task run time.",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60},
		}, []string{"job"}),
		removed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_auth_maintenance_removed_total",
			Help: "Rows deleted by maintenance tasks.",
		}, []string{"job"}),
	}
	reg.MustRegister(m.runs, m.failures, m.duration, m.removed)
	return m
}

// Tracker times one task run.
type Tracker struct {
	m     *Metrics
	job   string
	start time.Time
}

// Track starts timing job. It is safe on a nil receiver.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{m: m, job: job, start: time.Now()}
}

// End records the outcome and hands err back so callers can
// `return tracker.End(err)`.
func (t *Tracker) End(err error) error {
	if t == nil || t.m == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.m.failures.WithLabelValues(t.job).Inc()
	}
	t.m.runs.WithLabelValues(t.job, status).Inc()
	t.m.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddRemoved counts rows deleted by job.
func (m *Metrics) AddRemoved(job string, count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.removed.WithLabelValues(job).Add(float64(count))
}
