package tracker

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/almseed/internal/tracker"

// clientMetrics records request counts and latencies per operation.
type clientMetrics struct {
	requestsTotal metric.Int64Counter
	requestDur    metric.Float64Histogram
}

func newClientMetrics(mp metric.MeterProvider, logger *zap.Logger) *clientMetrics {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)
	m := &clientMetrics{}

	var err error
	m.requestsTotal, err = meter.Int64Counter(
		"almseed.tracker.requests_total",
		metric.WithDescription("Tracker API requests labeled by operation and outcome (ok, auth, not_found, server, rejected, transport)."),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		logger.Warn("failed to create requests counter", zap.Error(err))
	}

	m.requestDur, err = meter.Float64Histogram(
		"almseed.tracker.request_duration_seconds",
		metric.WithDescription("Tracker API request duration in seconds, labeled by operation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	return m
}

func (m *clientMetrics) record(ctx context.Context, op string, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if m.requestsTotal != nil {
		m.requestsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", op),
			attribute.String("outcome", outcome),
		))
	}
	if m.requestDur != nil {
		m.requestDur.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("operation", op)))
	}
}

func outcomeFor(kind error) string {
	switch kind {
	case nil:
		return "ok"
	case ErrAuthentication:
		return "auth"
	case ErrNotFound:
		return "not_found"
	case ErrServer:
		return "server"
	default:
		return "rejected"
	}
}
