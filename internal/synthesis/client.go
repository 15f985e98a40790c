// Package synthesis asks a text-completion service for YAML describing tracker
// content.
//
// A Client renders a Request into an instruction, sends exactly one completion
// call through a Completer and returns the reply with code fences stripped.
// Failures are fatal for the calling pipeline; there is no retry.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/almseed/internal/synthesis"

// ErrSynthesis marks a failed completion call.
var ErrSynthesis = errors.New("synthesis failed")

// Client generates content for Requests.
type Client struct {
	completer Completer
	logger    *zap.Logger
	tracer    trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTracerProvider records one span per Generate call.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		if tp != nil {
			c.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// NewClient wraps a Completer.
func NewClient(completer Completer, opts ...Option) *Client {
	c := &Client{
		completer: completer,
		logger:    zap.NewNop(),
		tracer:    otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate renders req, performs one completion and returns the cleaned reply.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	prompt, err := Render(req)
	if err != nil {
		return "", err
	}

	ctx, span := c.tracer.Start(ctx, "synthesis.generate",
		trace.WithAttributes(
			attribute.String("synthesis.kind", string(req.Kind)),
			attribute.String("synthesis.tracker", req.TrackerName),
		))
	defer span.End()

	c.logger.Info("requesting content",
		zap.String("kind", string(req.Kind)),
		zap.String("tracker", req.TrackerName),
		zap.Int("upstream", len(req.Upstream)))

	start := time.Now()
	reply, err := c.completer.Complete(ctx, systemMessage, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return "", fmt.Errorf("%w: %s: %w", ErrSynthesis, req.Kind, err)
	}

	out := StripFences(reply)
	c.logger.Info("content received",
		zap.String("kind", string(req.Kind)),
		zap.Duration("duration", time.Since(start)))
	return out, nil
}
