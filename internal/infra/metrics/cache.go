package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(cacheRequestsTotal, cacheEvictionsTotal) }

var (
	cacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_requests_total",
			Help: "Lookups against in-process caches by result (hit/miss/settled).",
		},
		[]string{"cache", "result"},
	)

	cacheEvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_evictions_total",
			Help: "Entries evicted from in-process caches for capacity or expiry.",
		},
		[]string{"cache", "reason"},
	)
)

func IncCacheRequest(cacheName, result string) {
	cacheRequestsTotal.WithLabelValues(norm(cacheName), norm(result)).Inc()
}

func IncCacheEviction(cacheName, reason string) {
	cacheEvictionsTotal.WithLabelValues(norm(cacheName), norm(reason)).Inc()
}
