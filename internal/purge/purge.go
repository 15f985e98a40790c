// Package purge deletes every item of a tracker or a whole project.
//
// Deletion runs in passes. A pass scans the first page of a tracker and
// deletes what it finds with bounded parallelism; passes repeat until a scan
// comes back empty, since totals shift while deletions land and items can be
// blocked by references from other trackers.
package purge

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/almseed/internal/logging"
	"github.com/fyrsmithlabs/almseed/internal/tracker"
	"github.com/fyrsmithlabs/almseed/internal/workpool"
)

const instrumentationName = "github.com/fyrsmithlabs/almseed/internal/purge"

// DefaultMaxPasses bounds the number of passes of one purge.
const DefaultMaxPasses = 1000

// ErrNoProgress is returned when a purge is still finding items after
// MaxPasses passes.
var ErrNoProgress = errors.New("purge did not converge")

// Tracker is the tracker surface the engine uses. *tracker.Client implements it.
type Tracker interface {
	tracker.PageLister
	DeleteItem(ctx context.Context, itemID int) error
	Trackers(ctx context.Context, projectID int) ([]tracker.TrackerRef, error)
}

var _ Tracker = (*tracker.Client)(nil)

// Report summarizes a purge.
type Report struct {
	Passes  int `json:"passes"`
	Deleted int `json:"deleted"`
}

// Engine runs purges. The zero value is not usable; set Tracker.
type Engine struct {
	Tracker Tracker
	// Workers bounds concurrent deletes; 0 means workpool.DefaultWorkers.
	Workers int
	// MaxPasses bounds passes per purge; 0 means DefaultMaxPasses.
	MaxPasses int

	Logger  *zap.Logger
	Tracer  trace.Tracer
	Metrics *Metrics
}

func (e *Engine) init() {
	if e.Logger == nil {
		e.Logger = zap.NewNop()
	}
	if e.Tracer == nil {
		e.Tracer = otel.Tracer(instrumentationName)
	}
	if e.Metrics == nil {
		e.Metrics = NewMetrics()
	}
	if e.MaxPasses <= 0 {
		e.MaxPasses = DefaultMaxPasses
	}
}

// PurgeTracker deletes items of one tracker until a scan finds none.
func (e *Engine) PurgeTracker(ctx context.Context, trackerID int) (rep Report, err error) {
	e.init()
	ctx = logging.WithPipeline(ctx, "purge_tracker")
	ctx, span := e.Tracer.Start(ctx, "purge.tracker", trace.WithAttributes(attribute.Int("tracker.id", trackerID)))
	defer func() { end(span, rep, err) }()
	log := e.Logger.With(zap.Int("tracker.id", trackerID))

	for rep.Passes < e.MaxPasses {
		rep.Passes++
		e.Metrics.pass()
		found, deleted, err := e.pass(ctx, log, trackerID)
		rep.Deleted += deleted
		if err != nil {
			return rep, err
		}
		if found == 0 {
			log.Info("tracker purged", zap.Int("passes", rep.Passes), zap.Int("deleted", rep.Deleted))
			return rep, nil
		}
	}
	return rep, fmt.Errorf("tracker %d: %w after %d passes", trackerID, ErrNoProgress, rep.Passes)
}

// PurgeProject repeats one pass over every tracker of the project until a
// whole pass finds no items anywhere.
func (e *Engine) PurgeProject(ctx context.Context, projectID int) (rep Report, err error) {
	e.init()
	ctx = logging.WithPipeline(ctx, "purge_project")
	ctx = logging.WithProjectID(ctx, projectID)
	ctx, span := e.Tracer.Start(ctx, "purge.project", trace.WithAttributes(attribute.Int("project.id", projectID)))
	defer func() { end(span, rep, err) }()
	log := e.Logger.With(zap.Int("project.id", projectID))

	trackers, err := e.Tracker.Trackers(ctx, projectID)
	if err != nil {
		return rep, fmt.Errorf("list trackers of project %d: %w", projectID, err)
	}

	for rep.Passes < e.MaxPasses {
		rep.Passes++
		e.Metrics.pass()
		found := 0
		for _, t := range trackers {
			n, deleted, err := e.pass(ctx, log.With(zap.Int("tracker.id", t.ID)), t.ID)
			rep.Deleted += deleted
			found += n
			if err != nil {
				return rep, fmt.Errorf("tracker %q: %w", t.Name, err)
			}
		}
		log.Debug("project pass finished", zap.Int("pass", rep.Passes), zap.Int("found", found))
		if found == 0 {
			log.Info("project purged", zap.Int("passes", rep.Passes), zap.Int("deleted", rep.Deleted), zap.Int("trackers", len(trackers)))
			return rep, nil
		}
	}
	return rep, fmt.Errorf("project %d: %w after %d passes", projectID, ErrNoProgress, rep.Passes)
}

// pass scans one page and deletes it, returning the items found and deleted.
// The page is abandoned at the first failed delete.
func (e *Engine) pass(ctx context.Context, log *zap.Logger, trackerID int) (found, deleted int, err error) {
	page, err := e.Tracker.ItemsPage(ctx, trackerID, 1, tracker.DeletePageSize)
	if err != nil {
		return 0, 0, fmt.Errorf("scan tracker %d: %w", trackerID, err)
	}
	refs := page.ItemRefs
	log.Debug("scanned tracker", zap.Int("found", len(refs)), zap.Int("total", page.Total))
	if len(refs) == 0 {
		return 0, 0, nil
	}

	var n atomic.Int64
	opts := workpool.Options{Workers: e.Workers, Policy: workpool.AbortOnError}
	err = workpool.Run(ctx, refs, opts, func(ctx context.Context, ref tracker.ItemRef) error {
		if err := e.Tracker.DeleteItem(ctx, ref.ID); err != nil {
			return fmt.Errorf("delete item %d: %w", ref.ID, err)
		}
		n.Add(1)
		e.Metrics.deleted()
		log.Debug("deleted item", zap.Int("item.id", ref.ID), zap.String("name", ref.Name))
		return nil
	})
	return len(refs), int(n.Load()), err
}

func end(span trace.Span, rep Report, err error) {
	span.SetAttributes(attribute.Int("purge.passes", rep.Passes), attribute.Int("purge.deleted", rep.Deleted))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
