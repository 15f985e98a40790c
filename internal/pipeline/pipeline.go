// Package pipeline implements the generation and bulk-update pipelines.
//
// Every pipeline is a struct holding its inputs plus shared Deps, and a Run
// method returning a *Result. Pipelines resolve tracker metadata through
// TrackerAPI, ask a Synthesizer for YAML content when they need it, validate
// that content into typed records and only then write through TrackerAPI with
// a bounded worker pool.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/almseed/internal/logging"
	"github.com/fyrsmithlabs/almseed/internal/synthesis"
	"github.com/fyrsmithlabs/almseed/internal/tracker"
	"github.com/fyrsmithlabs/almseed/internal/workpool"
)

const instrumentationName = "github.com/fyrsmithlabs/almseed/internal/pipeline"

// ErrNoItems is returned when a pipeline's selection resolves to no items.
var ErrNoItems = errors.New("no items selected")

// TrackerAPI is the tracker surface the pipelines use. *tracker.Client
// implements it.
type TrackerAPI interface {
	tracker.PageLister

	Tracker(ctx context.Context, trackerID int) (*tracker.Tracker, error)
	TrackerFields(ctx context.Context, trackerID int) ([]tracker.FieldRef, error)
	TrackerField(ctx context.Context, trackerID, fieldID int) (tracker.Field, error)
	TrackerTransitions(ctx context.Context, trackerID int) ([]tracker.Transition, error)

	Item(ctx context.Context, itemID int) (*tracker.Item, error)
	ItemFields(ctx context.Context, itemID int) (*tracker.ItemFields, error)
	CreateItem(ctx context.Context, trackerID int, item *tracker.Item) (*tracker.Item, error)
	UpdateItem(ctx context.Context, itemID int, item *tracker.Item) (*tracker.Item, error)
	UpdateItemFields(ctx context.Context, itemID int, values []tracker.FieldValue) (*tracker.Item, error)

	CreateTestRun(ctx context.Context, trackerID int, req tracker.TestRunRequest) (*tracker.Item, error)
	UpdateTestRunResult(ctx context.Context, testRunID int, req tracker.TestRunResultRequest) error

	MemberIDs() []int
}

var _ TrackerAPI = (*tracker.Client)(nil)

// Synthesizer produces YAML content for a request. *synthesis.Client
// implements it.
type Synthesizer interface {
	Generate(ctx context.Context, req synthesis.Request) (string, error)
}

var _ Synthesizer = (*synthesis.Client)(nil)

// Deps are the collaborators shared by every pipeline.
type Deps struct {
	Tracker TrackerAPI
	Synth   Synthesizer
	// Workers bounds concurrent writes; 0 means workpool.DefaultWorkers.
	Workers int
	Logger  *zap.Logger
	Tracer  trace.Tracer
	Rand    *Rand
	Metrics *Metrics
}

// init fills unset collaborators. It runs before any worker starts.
func (d *Deps) init() {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Tracer == nil {
		d.Tracer = otel.Tracer(instrumentationName)
	}
	if d.Rand == nil {
		d.Rand = NewRand()
	}
	if d.Metrics == nil {
		d.Metrics = NewMetrics()
	}
}

// start opens the pipeline span and tags ctx with the pipeline name for logging.
func (d *Deps) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, *zap.Logger) {
	d.init()
	ctx = logging.WithPipeline(ctx, name)
	ctx, span := d.Tracer.Start(ctx, "pipeline."+name, trace.WithAttributes(attrs...))
	return ctx, span, d.Logger.With(zap.String("pipeline", name))
}

// finish closes span and counts the run, recording err if any.
func (d *Deps) finish(span trace.Span, res *Result, err error) {
	d.Metrics.run(res.Pipeline, err)
	span.SetAttributes(
		attribute.Int("items.created", len(res.Created)+len(res.Parts)),
		attribute.Int("items.updated", len(res.Updated)),
		attribute.Int("items.failed", res.Failed),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Result summarizes one pipeline run.
type Result struct {
	Pipeline string `json:"pipeline"`
	Created  []int  `json:"created,omitempty"`
	Updated  []int  `json:"updated,omitempty"`
	Skipped  int    `json:"skipped"`
	Failed   int    `json:"failed"`
	// Parts are the ids of created PLM parts.
	Parts []string `json:"parts,omitempty"`

	mu sync.Mutex
}

func newResult(name string) *Result {
	return &Result{Pipeline: name}
}

func (r *Result) created(id int) {
	r.mu.Lock()
	r.Created = append(r.Created, id)
	r.mu.Unlock()
}

func (r *Result) createdPart(id string) {
	r.mu.Lock()
	r.Parts = append(r.Parts, id)
	r.mu.Unlock()
}

func (r *Result) updated(id int) {
	r.mu.Lock()
	r.Updated = append(r.Updated, id)
	r.mu.Unlock()
}

func (r *Result) skipped() {
	r.mu.Lock()
	r.Skipped++
	r.mu.Unlock()
}

func (r *Result) failed() {
	r.mu.Lock()
	r.Failed++
	r.mu.Unlock()
}

// trackerInfo resolves a tracker's name and type name.
func trackerInfo(ctx context.Context, api TrackerAPI, trackerID int) (*tracker.Tracker, error) {
	t, err := api.Tracker(ctx, trackerID)
	if err != nil {
		return nil, fmt.Errorf("get tracker %d: %w", trackerID, err)
	}
	return t, nil
}

// poolOptions returns workpool options for the given policy.
func (d *Deps) poolOptions(policy workpool.Policy, onError func(int, error)) workpool.Options {
	return workpool.Options{Workers: d.Workers, Policy: policy, OnError: onError}
}
