// Package metrics provides Prometheus instrumentation for the mirror engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TxTotal counts submitted transactions by target contract and outcome.
	TxTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mirror_tx_total",
		Help: "Total number of transactions submitted",
	}, []string{"contract", "status"})

	// TxLatency tracks transaction execution latency.
	TxLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mirror_tx_latency_seconds",
		Help:    "Transaction execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"contract"})

	// PositionsOpened counts CDPs opened, partitioned by short flag.
	PositionsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mirror_positions_opened_total",
		Help: "Total number of positions opened",
	}, []string{"is_short"})

	// PositionsClosed counts CDPs removed from storage.
	PositionsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mirror_positions_closed_total",
		Help: "Total number of positions closed",
	})

	// Liquidations counts successful auctions per minted asset.
	Liquidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mirror_liquidations_total",
		Help: "Total number of liquidation auctions executed",
	}, []string{"asset"})

	// CollateralPriceQueries counts collateral price resolutions by source type.
	CollateralPriceQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mirror_collateral_price_queries_total",
		Help: "Collateral price queries by price source",
	}, []string{"source"})

	// BlockHeight is the current chain height.
	BlockHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mirror_block_height",
		Help: "Current block height",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mirror_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// RateLimitRejections counts transactions rejected by the per-client limiter.
	RateLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mirror_rate_limit_rejections_total",
		Help: "Requests rejected by the rate limiter",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mirror_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mirror_http_request_duration_seconds",
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

		// Route pattern keeps position indexes out of the label set.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
