package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Metrics tracks queue metrics on a private Prometheus registry
type Metrics struct {
	registry *prometheus.Registry

	totalJobs     prometheus.Counter
	claimedJobs   prometheus.Counter
	completedJobs prometheus.Counter
	deadJobs      prometheus.Counter
	retriedJobs   prometheus.Counter

	outcomes        *prometheus.CounterVec
	jobDuration     prometheus.Histogram
	activeExecutors prometheus.Gauge
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		totalJobs: factory.NewCounter(prometheus.CounterOpts{
			Name: "queuectl_jobs_enqueued_total",
			Help: "Jobs enqueued by this process; see queuectl_jobs for the queue-wide count",
		}),
		claimedJobs: factory.NewCounter(prometheus.CounterOpts{
			Name: "queuectl_jobs_claimed_total",
			Help: "Total number of successful claims by executors",
		}),
		completedJobs: factory.NewCounter(prometheus.CounterOpts{
			Name: "queuectl_jobs_completed_total",
			Help: "Total number of jobs that finished with exit code 0",
		}),
		deadJobs: factory.NewCounter(prometheus.CounterOpts{
			Name: "queuectl_jobs_dead_total",
			Help: "Total number of jobs moved to the dead-letter state",
		}),
		retriedJobs: factory.NewCounter(prometheus.CounterOpts{
			Name: "queuectl_jobs_retried_total",
			Help: "Total number of failed attempts scheduled for retry",
		}),
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "queuectl_job_outcomes_total",
			Help: "Execution attempts by outcome",
		}, []string{"outcome"}),
		// 10ms to ~163s
		jobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "queuectl_job_duration_seconds",
			Help:    "Wall-clock duration of one execution attempt",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		}),
		activeExecutors: factory.NewGauge(prometheus.GaugeOpts{
			Name: "queuectl_active_executors",
			Help: "Number of executors currently running",
		}),
	}
}

// IncrementTotalJobs increments the enqueued jobs counter
func (m *Metrics) IncrementTotalJobs() {
	m.totalJobs.Inc()
}

// IncrementClaimedJobs increments the claimed jobs counter
func (m *Metrics) IncrementClaimedJobs() {
	m.claimedJobs.Inc()
}

// IncrementCompletedJobs increments the completed jobs counter
func (m *Metrics) IncrementCompletedJobs() {
	m.completedJobs.Inc()
}

// IncrementDeadJobs increments the dead-lettered jobs counter
func (m *Metrics) IncrementDeadJobs() {
	m.deadJobs.Inc()
}

// IncrementRetriedJobs increments the retried jobs counter
func (m *Metrics) IncrementRetriedJobs() {
	m.retriedJobs.Inc()
}

// ObserveAttempt records the outcome and duration of one execution attempt
func (m *Metrics) ObserveAttempt(outcome string, seconds float64) {
	m.outcomes.WithLabelValues(outcome).Inc()
	m.jobDuration.Observe(seconds)
}

// ExecutorStarted increments the active executors gauge
func (m *Metrics) ExecutorStarted() {
	m.activeExecutors.Inc()
}

// ExecutorStopped decrements the active executors gauge
func (m *Metrics) ExecutorStopped() {
	m.activeExecutors.Dec()
}

// DepthFunc returns the current number of jobs per state
type DepthFunc func() (map[string]int, error)

// queueDepth reads the job counts from storage at scrape time, so the
// value is shared by every process using the same queue.
type queueDepth struct {
	desc  *prometheus.Desc
	depth DepthFunc
}

func (q *queueDepth) Describe(ch chan<- *prometheus.Desc) {
	ch <- q.desc
}

func (q *queueDepth) Collect(ch chan<- prometheus.Metric) {
	counts, err := q.depth()
	if err != nil {
		ch <- prometheus.NewInvalidMetric(q.desc, err)
		return
	}
	for state, n := range counts {
		ch <- prometheus.MustNewConstMetric(q.desc, prometheus.GaugeValue, float64(n), state)
	}
}

// RegisterQueueDepth exposes queuectl_jobs{state} backed by depth
func (m *Metrics) RegisterQueueDepth(depth DepthFunc) error {
	return m.registry.Register(&queueDepth{
		desc:  prometheus.NewDesc("queuectl_jobs", "Number of jobs in the queue by state", []string{"state"}, nil),
		depth: depth,
	})
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// GetSnapshot returns a snapshot of the job counters
func (m *Metrics) GetSnapshot() map[string]int64 {
	return map[string]int64{
		"total_jobs":       counterValue(m.totalJobs),
		"claimed_jobs":     counterValue(m.claimedJobs),
		"completed_jobs":   counterValue(m.completedJobs),
		"dead_jobs":        counterValue(m.deadJobs),
		"retried_jobs":     counterValue(m.retriedJobs),
		"active_executors": gaugeValue(m.activeExecutors),
	}
}

func counterValue(c prometheus.Counter) int64 {
	var pb dto.Metric
	if err := c.Write(&pb); err != nil {
		return 0
	}
	return int64(pb.GetCounter().GetValue())
}

func gaugeValue(g prometheus.Gauge) int64 {
	var pb dto.Metric
	if err := g.Write(&pb); err != nil {
		return 0
	}
	return int64(pb.GetGauge().GetValue())
}
