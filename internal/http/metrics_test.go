package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))

	m := &HTTPMetrics{
		meter:  mp.Meter(httpInstrumentationName),
		logger: zap.NewNop(),
	}
	m.init()

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/api/v1/sessions/:id/trackers/:tracker/items", func(c echo.Context) error {
		return c.JSON(http.StatusOK, NamesResponse{Names: []string{"a"}})
	})

	for _, path := range []string{
		"/api/v1/sessions/one/trackers/Requirements/items",
		"/api/v1/sessions/two/trackers/Risks/items",
		"/missing",
	} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	endpoints := map[string]int64{}
	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, mt := range sm.Metrics {
			found[mt.Name] = true
			if mt.Name != "almseed.http.requests_total" {
				continue
			}
			sum, ok := mt.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				v, _ := dp.Attributes.Value(attribute.Key("endpoint"))
				endpoints[v.AsString()] += dp.Value
			}
		}
	}

	assert.True(t, found["almseed.http.requests_total"])
	assert.True(t, found["almseed.http.request_duration_seconds"])
	assert.True(t, found["almseed.http.response_size_bytes"])
	assert.Equal(t, int64(2), endpoints["/api/v1/sessions/:id/trackers/:tracker/items"])
	var total int64
	for _, n := range endpoints {
		total += n
	}
	assert.Equal(t, int64(3), total)
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "unmatched"},
		{"/health", "/health"},
		{"/api/v1/sessions/:id/generate/batch", "/api/v1/sessions/:id/generate/batch"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, normalizePath(tt.input), tt.input)
	}
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(http.StatusOK))
	assert.Equal(t, "4xx", statusClass(http.StatusUnprocessableEntity))
	assert.Equal(t, "5xx", statusClass(http.StatusBadGateway))
	assert.Equal(t, "unknown", statusClass(0))
}
