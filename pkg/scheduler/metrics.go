package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/xenbak/xenbakd/pkg/jobs"
)

const (
	statusSuccess = "success"
	statusFailure = "failure"
	statusSkipped = "skipped"
)

type Metrics struct {
	runsTotal    *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	objectsTotal *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "xenbakd_job_runs_total",
			Help: "Job runs by terminal status (success, failure or skipped).",
		}, []string{"job", "status"}),

		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "xenbakd_job_duration_seconds",
			Help:    "Wall clock duration of finished job runs.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"job"}),

		objectsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "xenbakd_objects_total",
			Help: "Objects processed by job runs, by result.",
		}, []string{"job", "result"}),
	}
}

func (m *Metrics) ObserveRun(job string, stats jobs.Stats, runErr error, duration time.Duration) {
	status := statusSuccess
	if runErr != nil {
		status = statusFailure
	}

	m.runsTotal.WithLabelValues(job, status).Inc()
	m.duration.WithLabelValues(job).Observe(duration.Seconds())

	m.objectsTotal.WithLabelValues(job, statusSuccess).Add(float64(stats.SuccessfulObjects))
	m.objectsTotal.WithLabelValues(job, statusFailure).Add(float64(stats.FailedObjects))
}

func (m *Metrics) ObserveSkip(job string) {
	m.runsTotal.WithLabelValues(job, statusSkipped).Inc()
}
