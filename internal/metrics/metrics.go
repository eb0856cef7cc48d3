// Package metrics provides Prometheus instrumentation for the wager engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RoundsTotal counts resolved rounds by game and outcome
	// (crashed, lost, cashed_out).
	RoundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_rounds_total",
		Help: "Total number of resolved rounds",
	}, []string{"game", "outcome"})

	// StakeTotal accumulates staked amounts per game.
	StakeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_stake_total",
		Help: "Cumulative amount staked",
	}, []string{"game"})

	// PayoutTotal accumulates paid-out amounts per game.
	PayoutTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_payout_total",
		Help: "Cumulative amount paid out",
	}, []string{"game"})

	// ActiveRound is 1 while the named game holds the round lock.
	ActiveRound = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wager_active_round",
		Help: "Whether a game currently holds the round lock",
	}, []string{"game"})

	// RejectedCommands counts commands rejected without state change.
	RejectedCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_rejected_commands_total",
		Help: "Commands rejected by the engines",
	}, []string{"game", "reason"})

	// PersistenceFailures counts ledger writes that failed after retries.
	PersistenceFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wager_persistence_failures_total",
		Help: "Ledger writes that failed after all retries",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wager_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wager_http_request_duration_seconds",
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

// Hijack passes through to the underlying writer so WebSocket upgrades work
// behind the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
