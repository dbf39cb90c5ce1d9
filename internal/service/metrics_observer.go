package service

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type MetricsObserver struct {
	jobsCreated   *prometheus.CounterVec
	attempts      *prometheus.CounterVec
	retries       *prometheus.CounterVec
	jobsCompleted *prometheus.CounterVec
	retryDelay    prometheus.Histogram
}

func NewMetricsObserver(reg prometheus.Registerer) *MetricsObserver {
	factory := promauto.With(reg)
	return &MetricsObserver{
		jobsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "publisher_jobs_created_total",
			Help: "Total number of publish jobs created",
		}, []string{"platform"}),
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "publisher_attempts_total",
			Help: "Total number of publish attempts started",
		}, []string{"platform"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "publisher_retries_total",
			Help: "Total number of failed attempts scheduled for retry",
		}, []string{"platform"}),
		jobsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "publisher_jobs_completed_total",
			Help: "Total number of jobs that reached a terminal status",
		}, []string{"platform", "status"}),
		retryDelay: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "publisher_retry_delay_seconds",
			Help:    "Backoff delay applied before a retry",
			Buckets: prometheus.ExponentialBuckets(60, 2, 8),
		}),
	}
}

func (m *MetricsObserver) Observe(ctx context.Context, e Event) {
	switch e.Type {
	case EventJobCreated:
		m.jobsCreated.WithLabelValues(e.Platform).Inc()
	case EventAttemptStarted:
		m.attempts.WithLabelValues(e.Platform).Inc()
	case EventAttemptFailed:
		m.retries.WithLabelValues(e.Platform).Inc()
		m.retryDelay.Observe(e.Delay.Seconds())
	case EventJobPublished:
		m.jobsCompleted.WithLabelValues(e.Platform, "published").Inc()
	case EventJobFailed:
		m.jobsCompleted.WithLabelValues(e.Platform, "failed").Inc()
	case EventJobCancelled:
		m.jobsCompleted.WithLabelValues(e.Platform, "cancelled").Inc()
	}
}
