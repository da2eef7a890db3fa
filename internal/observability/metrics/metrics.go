// Package metrics exposes Prometheus instruments for the invoice lifecycle
// jobs: batch scan health and dunning escalation throughput.
package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Config struct {
	ServiceName string
	Environment string
}

// SchedulerMetrics captures batch job health signals.
type SchedulerMetrics struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobErrors      *prometheus.CounterVec
	batchProcessed *prometheus.CounterVec
	escalations    *prometheus.CounterVec
}

var (
	schedulerMetricsOnce sync.Once
	schedulerMetrics     *SchedulerMetrics
)

// Scheduler returns the singleton scheduler metrics registry.
func Scheduler() *SchedulerMetrics {
	return SchedulerWithConfig(Config{})
}

// SchedulerWithConfig returns the singleton using config labels.
func SchedulerWithConfig(cfg Config) *SchedulerMetrics {
	schedulerMetricsOnce.Do(func() {
		schedulerMetrics = newSchedulerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return schedulerMetrics
}

// ResetSchedulerMetricsForTest resets the singleton for tests.
func ResetSchedulerMetricsForTest() {
	schedulerMetricsOnce = sync.Once{}
	schedulerMetrics = nil
}

func newSchedulerMetrics(registerer prometheus.Registerer, cfg Config) *SchedulerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "fakturo"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "fakturo_scheduler_job_runs_total",
		Help:        "Scheduler job runs by name.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "fakturo_scheduler_job_duration_seconds",
		Help:        "Scheduler job latency to keep the daily dunning pass within its window.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "fakturo_scheduler_job_errors_total",
		Help:        "Scheduler job errors by job name.",
		ConstLabels: constLabels,
	}, []string{"job"})
	batchProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "fakturo_scheduler_batch_processed_total",
		Help:        "Invoices processed per batch job.",
		ConstLabels: constLabels,
	}, []string{"job"})
	escalations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "fakturo_dunning_escalations_total",
		Help:        "Dunning escalations recorded, by reached level.",
		ConstLabels: constLabels,
	}, []string{"level"})

	for _, collector := range []prometheus.Collector{jobRuns, jobDuration, jobErrors, batchProcessed, escalations} {
		register(registerer, collector)
	}

	return &SchedulerMetrics{
		jobRuns:        jobRuns,
		jobDuration:    jobDuration,
		jobErrors:      jobErrors,
		batchProcessed: batchProcessed,
		escalations:    escalations,
	}
}

func register(registerer prometheus.Registerer, collector prometheus.Collector) {
	if err := registerer.Register(collector); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return
		}
		panic(err)
	}
}

func (m *SchedulerMetrics) ObserveJob(job string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
	if err != nil {
		m.jobErrors.WithLabelValues(job).Inc()
	}
}

func (m *SchedulerMetrics) AddBatchProcessed(job string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.batchProcessed.WithLabelValues(job).Add(float64(n))
}

func (m *SchedulerMetrics) IncEscalation(level string) {
	if m == nil {
		return
	}
	m.escalations.WithLabelValues(level).Inc()
}
