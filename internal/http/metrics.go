package http

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "devbrain",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests by method, endpoint and status code.",
	}, []string{"method", "endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "devbrain",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
	}, []string{"method", "endpoint", "status"})

	responseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "devbrain",
		Subsystem: "http",
		Name:      "response_size_bytes",
		Help:      "HTTP response body size in bytes.",
		Buckets:   []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000},
	}, []string{"method", "endpoint", "status"})

	activeRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "devbrain",
		Subsystem: "http",
		Name:      "active_requests",
		Help:      "Number of in-flight HTTP requests.",
	})
)

// MetricsMiddleware records request count, latency and response size.
func MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			activeRequests.Inc()
			defer activeRequests.Dec()

			err := next(c)
			if err != nil {
				// Let echo write the error so the recorded status is final.
				c.Error(err)
			}

			status := strconv.Itoa(c.Response().Status)
			endpoint := normalizePath(c.Path())
			method := c.Request().Method

			requestsTotal.WithLabelValues(method, endpoint, status).Inc()
			requestDuration.WithLabelValues(method, endpoint, status).Observe(time.Since(start).Seconds())
			responseSize.WithLabelValues(method, endpoint, status).Observe(float64(c.Response().Size))
			return nil
		}
	}
}

// normalizePath keeps label cardinality bounded. Routes are fixed, so only
// unmatched requests need folding.
func normalizePath(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}
