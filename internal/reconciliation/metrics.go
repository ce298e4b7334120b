package reconciliation

import "github.com/prometheus/client_golang/prometheus"

var (
	legsSettledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reliefd",
		Subsystem: "reconciliation",
		Name:      "legs_settled_total",
		Help:      "Total pending chain legs settled by reconciliation retries.",
	})

	legsFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reliefd",
		Subsystem: "reconciliation",
		Name:      "legs_failed_total",
		Help:      "Total pending chain legs marked permanently failed.",
	})

	balanceMismatches = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reliefd",
		Subsystem: "reconciliation",
		Name:      "balance_mismatches_total",
		Help:      "Total beneficiary wallet balances that diverged from the ledger.",
	})

	reconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "reliefd",
		Subsystem: "reconciliation",
		Name:      "run_duration_seconds",
		Help:      "Duration of reconciliation runs in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	reconcileErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reliefd",
		Subsystem: "reconciliation",
		Name:      "errors_total",
		Help:      "Total reconciliation check errors.",
	})
)

func init() {
	prometheus.MustRegister(
		legsSettledTotal,
		legsFailedTotal,
		balanceMismatches,
		reconcileDuration,
		reconcileErrors,
	)
}
