// Package metrics provides Prometheus instrumentation for the stimulus engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SimRunsTotal counts simulation computations, partitioned by whether
	// the Markov sub-model was active.
	SimRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stimulus_sim_runs_total",
		Help: "Total number of simulation runs computed",
	}, []string{"markov"})

	// SimDuration tracks simulation compute latency.
	SimDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stimulus_sim_duration_seconds",
		Help:    "Simulation compute latency in seconds",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	})

	// DealTransitionsTotal counts deal lifecycle transitions by target status.
	DealTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stimulus_deal_transitions_total",
		Help: "Total deal status transitions",
	}, []string{"to"})

	// TurnsTotal counts appended negotiation turns by subtype.
	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stimulus_negotiation_turns_total",
		Help: "Total negotiation turns appended",
	}, []string{"subtype"})

	// TransactionsTotal counts recorded settlement transactions.
	TransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stimulus_transactions_total",
		Help: "Total settlement transactions recorded",
	}, []string{"eligible"})

	// DuplicateTransactions counts idempotent re-records dropped by txid.
	DuplicateTransactions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stimulus_duplicate_transactions_total",
		Help: "Transaction records dropped as duplicates by txid",
	})

	// FeedClients tracks connected live-feed WebSocket clients.
	FeedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stimulus_feed_clients",
		Help: "Number of connected live-feed clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stimulus_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stimulus_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
