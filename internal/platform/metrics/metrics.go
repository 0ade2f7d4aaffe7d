package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the daemon.
type Metrics struct {
	SyncOutcomes    *prometheus.CounterVec
	FetchDuration   *prometheus.HistogramVec
	SyncRunDuration prometheus.Histogram
	SessionRefresh  prometheus.Counter
	CaptchaAttempts *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		SyncOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "casewatch_sync_outcomes_total",
			Help: "Per-case sync outcomes by source and outcome kind",
		}, []string{"source", "outcome"}),
		FetchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "casewatch_fetch_duration_seconds",
			Help:    "Case fetch latency by source, including in-pass retries",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
		SyncRunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "casewatch_sync_run_duration_seconds",
			Help:    "Wall time of one full scheduler pass",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		SessionRefresh: promauto.NewCounter(prometheus.CounterOpts{
			Name: "casewatch_session_refresh_total",
			Help: "Protocol session refreshes triggered by decryption failures",
		}),
		CaptchaAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "casewatch_captcha_attempts_total",
			Help: "CAPTCHA challenge submissions by source, including retries",
		}, []string{"source"}),
	}
}
