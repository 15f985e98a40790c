package http

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/almseed/internal/http"

// HTTPMetrics records request counts, latencies, response sizes and in-flight
// requests per route.
type HTTPMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	requests metric.Int64Counter
	duration metric.Float64Histogram
	size     metric.Int64Histogram
	inFlight metric.Int64UpDownCounter
}

// NewHTTPMetrics creates HTTPMetrics on the global meter provider.
func NewHTTPMetrics(logger *zap.Logger) *HTTPMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &HTTPMetrics{meter: otel.Meter(httpInstrumentationName), logger: logger}
	m.init()
	return m
}

// init creates the instruments. An instrument that fails to register stays
// nil and is skipped when recording.
func (m *HTTPMetrics) init() {
	var err error
	warn := func(name string) {
		if err != nil {
			m.logger.Warn("failed to create http instrument", zap.String("instrument", name), zap.Error(err))
		}
	}

	m.requests, err = m.meter.Int64Counter("almseed.http.requests_total",
		metric.WithDescription("HTTP requests by method, route and status class. Pipeline routes are long running; compare with request_duration_seconds."),
		metric.WithUnit("{request}"))
	warn("requests_total")

	// Generation routes wait on synthesis and bulk writes, so the buckets
	// reach into minutes.
	m.duration, err = m.meter.Float64Histogram("almseed.http.request_duration_seconds",
		metric.WithDescription("HTTP request duration by method, route and status class."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600))
	warn("request_duration_seconds")

	m.size, err = m.meter.Int64Histogram("almseed.http.response_size_bytes",
		metric.WithDescription("HTTP response body size by method, route and status class."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(128, 1024, 8192, 65536, 524288))
	warn("response_size_bytes")

	m.inFlight, err = m.meter.Int64UpDownCounter("almseed.http.active_requests",
		metric.WithDescription("HTTP requests currently being served."),
		metric.WithUnit("{request}"))
	warn("active_requests")
}

// MetricsMiddleware returns an Echo middleware that records HTTP metrics. It
// must run outside the middleware that turns handler errors into responses so
// the final status is visible.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			start := time.Now()
			if m.inFlight != nil {
				m.inFlight.Add(ctx, 1)
				defer m.inFlight.Add(ctx, -1)
			}

			err := next(c)

			res := c.Response()
			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("endpoint", normalizePath(c.Path())),
				attribute.String("status_class", statusClass(res.Status)),
				attribute.Int("status", res.Status),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if m.size != nil {
				m.size.Record(ctx, res.Size, attrs)
			}
			return err
		}
	}
}

// normalizePath returns the route pattern used as the endpoint label.
// c.Path() is already the registered pattern (e.g. /api/v1/sessions/:id/trackers/:tracker/items),
// so session ids and tracker names never become label values.
func normalizePath(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}
