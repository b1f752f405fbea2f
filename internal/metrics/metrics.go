// Package metrics provides Prometheus collectors for the engine's background
// jobs and session traffic.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricJobRunsTotal       = "engage_job_runs_total"
	MetricJobDurationSeconds = "engage_job_duration_seconds"
	MetricSessionsSweptTotal = "engage_sessions_swept_total"
	MetricSamplesFoldedTotal = "engage_samples_folded_total"
	MetricHeartbeatsTotal    = "engage_heartbeats_total"
)

// Job type labels.
const (
	JobSweep  = "sweep"
	JobSample = "sample"
	JobRollup = "engagement_rollup"
)

// Status labels.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Heartbeat outcome labels.
const (
	HeartbeatAccumulated = "accumulated"
	HeartbeatThrottled   = "throttled"
	HeartbeatPaused      = "paused"
	HeartbeatRejected    = "rejected"
)

// Metrics contains Prometheus collectors. All operations are thread-safe.
type Metrics struct {
	jobRuns       *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	sessionsSwept prometheus.Counter
	samplesFolded prometheus.Counter
	heartbeats    *prometheus.CounterVec
}

// New creates all collectors, unregistered; call Register to attach them to
// a registry.
func New() *Metrics {
	return &Metrics{
		jobRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricJobRunsTotal,
				Help: "Background job executions by type and status",
			},
			[]string{"job_type", "status"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricJobDurationSeconds,
				Help:    "Background job duration in seconds by job type",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"job_type"},
		),
		sessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricSessionsSweptTotal,
			Help: "Stale sessions force-closed by the sweeper",
		}),
		samplesFolded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricSamplesFoldedTotal,
			Help: "Concurrency samples folded into access buckets",
		}),
		heartbeats: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricHeartbeatsTotal,
				Help: "Heartbeats by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// Register registers all collectors with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncJobRun records one job execution.
func (m *Metrics) IncJobRun(jobType, status string) {
	m.jobRuns.WithLabelValues(jobType, status).Inc()
}

// ObserveJobDuration records a job duration sample.
func (m *Metrics) ObserveJobDuration(jobType string, seconds float64) {
	m.jobDuration.WithLabelValues(jobType).Observe(seconds)
}

// AddSessionsSwept records sessions closed by a sweep run.
func (m *Metrics) AddSessionsSwept(n int) {
	m.sessionsSwept.Add(float64(n))
}

// AddSamplesFolded records folded concurrency samples.
func (m *Metrics) AddSamplesFolded(n int) {
	m.samplesFolded.Add(float64(n))
}

// IncHeartbeat records one heartbeat outcome.
func (m *Metrics) IncHeartbeat(outcome string) {
	m.heartbeats.WithLabelValues(outcome).Inc()
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.jobRuns,
		m.jobDuration,
		m.sessionsSwept,
		m.samplesFolded,
		m.heartbeats,
	}
}
