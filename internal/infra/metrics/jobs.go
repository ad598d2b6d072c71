package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		janitorFilesRemovedTotal,
		reconcilerSettledTotal,
		workerQueueRejectedTotal,
	)
}

var (
	janitorFilesRemovedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "output_janitor_files_removed_total",
			Help: "Stale media files removed from the output directory.",
		},
	)

	reconcilerSettledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_reconciler_total",
			Help: "Reconciler results per pending order (settled, unpaid, error).",
		},
		[]string{"result"},
	)

	workerQueueRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "worker_queue_rejected_total",
			Help: "Tasks dropped because the worker queue was full.",
		},
	)
)

func AddJanitorRemoved(n int) {
	if n > 0 {
		janitorFilesRemovedTotal.Add(float64(n))
	}
}

func IncReconciler(result string) {
	reconcilerSettledTotal.WithLabelValues(norm(result)).Inc()
}

func IncWorkerRejected() {
	workerQueueRejectedTotal.Inc()
}
