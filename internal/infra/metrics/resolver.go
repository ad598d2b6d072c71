package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		resolverAttemptsTotal,
		resolverLatencySeconds,
		downloadedBytesTotal,
		downloadsTotal,
	)
}

var (
	resolverAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolver_attempts_total",
			Help: "Strategy attempts by strategy and result (ok, no_token, rejected, no_media, content_type, error).",
		},
		[]string{"strategy", "result"},
	)

	resolverLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resolver_attempt_seconds",
			Help:    "Time spent in one strategy attempt, including the media stream when it succeeds.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64, 128},
		},
		[]string{"strategy"},
	)

	downloadedBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "resolver_downloaded_bytes_total",
			Help: "Media bytes written to the output directory.",
		},
	)

	downloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolver_downloads_total",
			Help: "Pipeline results (succeeded/failed/unsupported).",
		},
		[]string{"result"},
	)
)

func ObserveStrategyAttempt(strategy, result string, took time.Duration) {
	resolverAttemptsTotal.WithLabelValues(norm(strategy), norm(result)).Inc()
	resolverLatencySeconds.WithLabelValues(norm(strategy)).Observe(took.Seconds())
}

func AddDownloadedBytes(n int64) {
	if n > 0 {
		downloadedBytesTotal.Add(float64(n))
	}
}

func IncDownload(result string) {
	downloadsTotal.WithLabelValues(norm(result)).Inc()
}
