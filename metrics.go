package imap

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "imap",
		Subsystem: "session",
		Name:      "operation_attempts_total",
		Help:      "Operation attempts by operation name and attempt outcome.",
	}, []string{"operation", "outcome"})

	metricSessions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "imap",
		Subsystem: "session",
		Name:      "established_total",
		Help:      "Sessions established, initial connects and recreations alike.",
	})

	metricInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "imap",
		Subsystem: "session",
		Name:      "invalidations_total",
		Help:      "Sessions discarded after retryable failures or staleness.",
	})

	metricBackoff = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "imap",
		Subsystem: "session",
		Name:      "retry_backoff_seconds",
		Help:      "Backoff delays slept before retry attempts.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 8),
	})

	metricHealthChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "imap",
		Subsystem: "session",
		Name:      "health_checks_total",
		Help:      "Health probes by result.",
	}, []string{"healthy"})
)
