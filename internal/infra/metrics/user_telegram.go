package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		usersCreatedTotal,
		telegramUpdatesTotal,
		telegramRateLimitTriggeredTotal,
	)
}

var (
	usersCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "entitlement_records_created_total",
			Help: "Entitlement records created on first contact.",
		},
	)

	telegramUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telegram_updates_total",
			Help: "Incoming updates by kind (command name, link, text, callback).",
		},
		[]string{"kind"},
	)

	telegramRateLimitTriggeredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "telegram_rate_limit_triggered_total",
			Help: "Total number of times users have been rate-limited.",
		},
	)
)

func IncUserCreated() {
	usersCreatedTotal.Inc()
}

func IncTelegramUpdate(kind string) {
	telegramUpdatesTotal.WithLabelValues(norm(kind)).Inc()
}

func IncRateLimitTriggered() {
	telegramRateLimitTriggeredTotal.Inc()
}
