// Package metrics exposes Prometheus instruments for the chat pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shopchat"

// Metrics satisfies the observer interfaces of the jobs, session and chat
// packages. Each instance owns its registry so tests can create many.
type Metrics struct {
	registry *prometheus.Registry

	submissions         *prometheus.CounterVec
	submissionDuration  *prometheus.HistogramVec
	jobPolls            *prometheus.CounterVec
	jobResolutions      *prometheus.CounterVec
	jobAttempts         prometheus.Histogram
	persistenceFailures *prometheus.CounterVec
}

// New registers all instruments on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Finished submissions by kind and rendered result.",
		}, []string{"kind", "result"}),
		submissionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submission_duration_seconds",
			Help:      "Time from user message to bot reply.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
		}, []string{"kind"}),
		jobPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_polls_total",
			Help:      "Job status requests by reported status.",
		}, []string{"status"}),
		jobResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_resolutions_total",
			Help:      "Queued jobs by how waiting on them ended.",
		}, []string{"result"}),
		jobAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_poll_attempts",
			Help:      "Status requests needed per queued job.",
			Buckets:   []float64{1, 2, 3, 5, 10, 15, 20},
		}),
		persistenceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_persistence_failures_total",
			Help:      "Swallowed session storage failures by operation.",
		}, []string{"op"}),
	}
	m.registry.MustRegister(
		m.submissions,
		m.submissionDuration,
		m.jobPolls,
		m.jobResolutions,
		m.jobAttempts,
		m.persistenceFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveSubmission implements chat.Observer.
func (m *Metrics) ObserveSubmission(kind, result string, elapsed time.Duration) {
	m.submissions.WithLabelValues(kind, result).Inc()
	m.submissionDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// ObservePoll implements jobs.Observer.
func (m *Metrics) ObservePoll(status string) {
	switch status {
	case "pending", "finished", "failed":
	default:
		// Keep label cardinality bounded.
		status = "other"
	}
	m.jobPolls.WithLabelValues(status).Inc()
}

// ObserveResolution implements jobs.Observer.
func (m *Metrics) ObserveResolution(result string, attempts int) {
	m.jobResolutions.WithLabelValues(result).Inc()
	m.jobAttempts.Observe(float64(attempts))
}

// ObservePersistenceFailure implements session.Observer.
func (m *Metrics) ObservePersistenceFailure(op string) {
	m.persistenceFailures.WithLabelValues(op).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
