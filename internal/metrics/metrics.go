// Package metrics provides Prometheus instrumentation for reliefd.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reliefd",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "reliefd",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// DistributionsTotal counts fund distributions by outcome.
	DistributionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reliefd",
			Name:      "distributions_total",
			Help:      "Total fund distributions by outcome (recorded, rejected).",
		},
		[]string{"outcome"},
	)

	// DistributedAmount accumulates total drUSD distributed.
	DistributedAmount = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reliefd",
		Name:      "distributed_drusd_total",
		Help:      "Total drUSD distributed to beneficiaries.",
	})

	// ChainCallsTotal counts on-chain calls by operation and result.
	ChainCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reliefd",
			Name:      "chain_calls_total",
			Help:      "Total on-chain contract calls by operation and result.",
		},
		[]string{"op", "result"},
	)

	// PendingChainLegs tracks ledger rows whose on-chain leg has not settled.
	PendingChainLegs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reliefd",
		Name:      "pending_chain_legs",
		Help:      "Ledger transactions recorded without a settled on-chain leg.",
	})

	// FlaggedTransactionsTotal counts transactions flagged by the anomaly detector.
	FlaggedTransactionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reliefd",
		Name:      "flagged_transactions_total",
		Help:      "Total transactions flagged as anomalous.",
	})

	// SpendsTotal counts beneficiary spends by status.
	SpendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reliefd",
			Name:      "spends_total",
			Help:      "Total beneficiary spend transactions by status.",
		},
		[]string{"status"},
	)

	// DonationsTotal counts donations by result.
	DonationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reliefd",
			Name:      "donations_total",
			Help:      "Total donation payments by result.",
		},
		[]string{"result"},
	)

	// ModelTrainingsTotal counts fraud model training runs by result.
	ModelTrainingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reliefd",
			Name:      "model_trainings_total",
			Help:      "Total fraud model training runs by result.",
		},
		[]string{"result"},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "reliefd",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reliefd", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reliefd", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reliefd", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reliefd", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reliefd", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reliefd", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		DistributionsTotal,
		DistributedAmount,
		ChainCallsTotal,
		PendingChainLegs,
		FlaggedTransactionsTotal,
		SpendsTotal,
		DonationsTotal,
		ModelTrainingsTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// ChainCall records one on-chain call outcome under the op label.
func ChainCall(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ChainCallsTotal.WithLabelValues(op, result).Inc()
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
