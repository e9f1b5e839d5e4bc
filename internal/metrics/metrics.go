// Package metrics holds the Prometheus collectors exported on
// /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	gobreaker "github.com/sony/gobreaker/v2"
)

var (
	// ReportDuration tracks end-to-end report computation by mode
	// and outcome.
	ReportDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tripstats_report_duration_seconds",
			Help:    "Duration of stats report computation in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"mode", "outcome"},
	)

	// ReaderErrors counts metric reader failures by reader name.
	ReaderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tripstats_reader_errors_total",
			Help: "Total number of failed metric reads",
		},
		[]string{"reader"},
	)

	// HTTPRequests counts served requests by route and status code.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tripstats_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "code"},
	)

	// HTTPDuration tracks request latency by route.
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tripstats_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// BreakerState is 0 closed, 1 half-open, 2 open.
	BreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tripstats_storage_breaker_state",
			Help: "Storage circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
	)
)

// ObserveReport records one report computation.
func ObserveReport(mode string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	ReportDuration.WithLabelValues(mode, outcome).Observe(d.Seconds())
}

// ReaderError records a failed reader. Its signature matches
// stats.WithReaderErrorHook.
func ReaderError(reader string, _ error) {
	ReaderErrors.WithLabelValues(reader).Inc()
}

// ObserveRequest records one served HTTP request.
func ObserveRequest(route string, code int, d time.Duration) {
	HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	HTTPDuration.WithLabelValues(route).Observe(d.Seconds())
}

// SetBreakerState publishes the breaker state.
func SetBreakerState(s gobreaker.State) {
	switch s {
	case gobreaker.StateClosed:
		BreakerState.Set(0)
	case gobreaker.StateHalfOpen:
		BreakerState.Set(1)
	case gobreaker.StateOpen:
		BreakerState.Set(2)
	}
}
