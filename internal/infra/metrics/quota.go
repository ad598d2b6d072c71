package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		accessRequestsTotal,
		premiumGrantsTotal,
		premiumDaysGrantedTotal,
		storeErrorsTotal,
	)
}

var (
	accessRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_requests_total",
			Help: "Access gate outcomes (delivered/denied/failed).",
		},
		[]string{"outcome"},
	)

	premiumGrantsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "premium_grants_total",
			Help: "Premium grants by source (payment, fallback, admin).",
		},
		[]string{"source"},
	)

	premiumDaysGrantedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "premium_days_granted_total",
			Help: "Sum of premium days granted.",
		},
	)

	storeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlement_store_errors_total",
			Help: "Entitlement store failures by operation.",
		},
		[]string{"op"},
	)
)

func IncAccess(outcome string) {
	accessRequestsTotal.WithLabelValues(norm(outcome)).Inc()
}

func IncPremiumGrant(source string, days int) {
	premiumGrantsTotal.WithLabelValues(norm(source)).Inc()
	if days > 0 {
		premiumDaysGrantedTotal.Add(float64(days))
	}
}

func IncStoreError(op string) {
	storeErrorsTotal.WithLabelValues(norm(op)).Inc()
}
