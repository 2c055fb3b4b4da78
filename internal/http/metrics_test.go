package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsMiddleware(t *testing.T) {
	e := echo.New()
	e.Use(MetricsMiddleware())
	e.GET("/ok", func(c echo.Context) error {
		return c.String(http.StatusOK, "hello")
	})
	e.GET("/teapot", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusTeapot, "short and stout")
	})

	okBefore := testutil.ToFloat64(requestsTotal.WithLabelValues(http.MethodGet, "/ok", "200"))
	teapotBefore := testutil.ToFloat64(requestsTotal.WithLabelValues(http.MethodGet, "/teapot", "418"))

	for _, path := range []string{"/ok", "/ok", "/teapot"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, okBefore+2, testutil.ToFloat64(requestsTotal.WithLabelValues(http.MethodGet, "/ok", "200")))
	assert.Equal(t, teapotBefore+1, testutil.ToFloat64(requestsTotal.WithLabelValues(http.MethodGet, "/teapot", "418")))
	assert.Zero(t, testutil.ToFloat64(activeRequests))
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "unmatched", normalizePath(""))
	assert.Equal(t, "/api/fixes", normalizePath("/api/fixes"))
}
