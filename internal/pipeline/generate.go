package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/almseed/internal/parse"
	"github.com/fyrsmithlabs/almseed/internal/synthesis"
	"github.com/fyrsmithlabs/almseed/internal/tracker"
	"github.com/fyrsmithlabs/almseed/internal/workpool"
)

// Pipeline names, used for spans, logs and metric labels.
const (
	NameTopLevel             = "top_level"
	NameTraceability         = "traceability"
	NameCompliance           = "compliance"
	NameComplianceDownstream = "compliance_downstream"
)

// complianceChildren is the number of downstream items requested per
// compliance entry.
const complianceChildren = 2

// IntegrityError reports a synthesized record whose parent id is not in the
// upstream table the request was built from. It is returned before any write.
type IntegrityError struct {
	Index    int
	ParentID *int
}

func (e *IntegrityError) Error() string {
	if e.ParentID == nil {
		return fmt.Sprintf("record %d has no parent id", e.Index)
	}
	return fmt.Sprintf("record %d references unknown parent %d", e.Index, *e.ParentID)
}

// TopLevelGenerator creates synthesized items with no upstream trace.
type TopLevelGenerator struct {
	Deps

	TrackerID int
	Product   string
	Count     int
	Category  synthesis.Category
	Rules     string
}

// Run synthesizes Count items and creates them in the tracker.
func (g *TopLevelGenerator) Run(ctx context.Context) (res *Result, err error) {
	res = newResult(NameTopLevel)
	ctx, span, log := g.start(ctx, NameTopLevel, attribute.Int("tracker.id", g.TrackerID))
	defer func() { g.finish(span, res, err) }()

	if g.Count < 1 {
		return res, fmt.Errorf("item count must be >= 1, got %d", g.Count)
	}
	t, err := trackerInfo(ctx, g.Tracker, g.TrackerID)
	if err != nil {
		return res, err
	}

	records, err := g.synthesizeItems(ctx, synthesis.Request{
		Kind:        synthesis.KindTopLevel,
		Product:     g.Product,
		TrackerName: t.Name,
		TrackerType: t.TypeName(),
		Count:       g.Count,
		Category:    g.Category,
		Rules:       g.Rules,
	})
	if err != nil {
		return res, err
	}

	items := make([]*tracker.Item, len(records))
	for i, r := range records {
		if r.ParentID != nil {
			log.Debug("ignoring parent id on top-level record", zap.Int("index", i), zap.Int("parent_id", *r.ParentID))
		}
		items[i] = &tracker.Item{Name: r.Name, Description: r.Description}
	}
	err = g.createItems(ctx, log, res, g.TrackerID, items)
	return res, err
}

// ComplianceGenerator creates regulatory top-level items derived from the
// tracker name, e.g. a tracker called "ISO 14971".
type ComplianceGenerator struct {
	Deps

	TrackerID int
}

// Run synthesizes the standard's entries and creates them.
func (g *ComplianceGenerator) Run(ctx context.Context) (res *Result, err error) {
	res = newResult(NameCompliance)
	ctx, span, log := g.start(ctx, NameCompliance, attribute.Int("tracker.id", g.TrackerID))
	defer func() { g.finish(span, res, err) }()

	t, err := trackerInfo(ctx, g.Tracker, g.TrackerID)
	if err != nil {
		return res, err
	}

	records, err := g.synthesizeItems(ctx, synthesis.Request{
		Kind:        synthesis.KindComplianceTopLevel,
		TrackerName: t.Name,
		TrackerType: t.TypeName(),
	})
	if err != nil {
		return res, err
	}

	items := make([]*tracker.Item, len(records))
	for i, r := range records {
		items[i] = &tracker.Item{Name: r.Name, Description: r.Description}
	}
	err = g.createItems(ctx, log, res, g.TrackerID, items)
	return res, err
}

// TraceabilityGenerator creates downstream items that each trace to one
// selected upstream item.
type TraceabilityGenerator struct {
	Deps

	UpstreamTrackerID   int
	DownstreamTrackerID int
	Product             string
	Upstream            Selection
	// CountPerUpstream is the number of downstream items per upstream item.
	CountPerUpstream int
	Rules            string
}

// Run reads the upstream tracker, synthesizes linked items and creates them.
// Every record must reference an id from the upstream table; otherwise an
// *IntegrityError is returned and nothing is written.
func (g *TraceabilityGenerator) Run(ctx context.Context) (res *Result, err error) {
	res = newResult(NameTraceability)
	ctx, span, log := g.start(ctx, NameTraceability,
		attribute.Int("upstream.tracker.id", g.UpstreamTrackerID),
		attribute.Int("downstream.tracker.id", g.DownstreamTrackerID))
	defer func() { g.finish(span, res, err) }()

	if g.CountPerUpstream < 1 {
		return res, fmt.Errorf("count per upstream item must be >= 1, got %d", g.CountPerUpstream)
	}
	up, err := trackerInfo(ctx, g.Tracker, g.UpstreamTrackerID)
	if err != nil {
		return res, err
	}
	down, err := trackerInfo(ctx, g.Tracker, g.DownstreamTrackerID)
	if err != nil {
		return res, err
	}

	refs, err := tracker.ReadAllItems(ctx, g.Tracker, g.UpstreamTrackerID, tracker.ReadPageSize)
	if err != nil {
		return res, err
	}
	table := upstreamTable(g.Upstream.Apply(refs))
	if len(table) == 0 {
		return res, fmt.Errorf("upstream tracker %q: %w", up.Name, ErrNoItems)
	}
	log.Info("upstream table resolved", zap.Int("rows", len(table)), zap.Int("upstream_items", len(refs)))

	records, err := g.synthesizeItems(ctx, synthesis.Request{
		Kind:                synthesis.KindDownstream,
		Product:             g.Product,
		TrackerName:         down.Name,
		TrackerType:         down.TypeName(),
		UpstreamTrackerName: up.Name,
		UpstreamTrackerType: up.TypeName(),
		Count:               g.CountPerUpstream,
		Rules:               g.Rules,
		Upstream:            table,
	})
	if err != nil {
		return res, err
	}

	items, err := linkedItems(records, table)
	if err != nil {
		return res, err
	}
	err = g.createItems(ctx, log, res, g.DownstreamTrackerID, items)
	return res, err
}

// ComplianceDownstreamGenerator samples a percentage of a compliance tracker's
// entries and creates two linked downstream items for each sampled entry.
type ComplianceDownstreamGenerator struct {
	Deps

	ComplianceTrackerID int
	DownstreamTrackerID int
	Product             string
	// Percent of compliance entries to sample, 1..100. At least one entry is
	// always sampled.
	Percent int
}

// Run samples, synthesizes and creates the linked items.
func (g *ComplianceDownstreamGenerator) Run(ctx context.Context) (res *Result, err error) {
	res = newResult(NameComplianceDownstream)
	ctx, span, log := g.start(ctx, NameComplianceDownstream,
		attribute.Int("compliance.tracker.id", g.ComplianceTrackerID),
		attribute.Int("downstream.tracker.id", g.DownstreamTrackerID),
		attribute.Int("percent", g.Percent))
	defer func() { g.finish(span, res, err) }()

	if g.Percent < 1 || g.Percent > 100 {
		return res, fmt.Errorf("percent must be between 1 and 100, got %d", g.Percent)
	}
	compliance, err := trackerInfo(ctx, g.Tracker, g.ComplianceTrackerID)
	if err != nil {
		return res, err
	}
	down, err := trackerInfo(ctx, g.Tracker, g.DownstreamTrackerID)
	if err != nil {
		return res, err
	}

	refs, err := tracker.ReadAllItems(ctx, g.Tracker, g.ComplianceTrackerID, tracker.ReadPageSize)
	if err != nil {
		return res, err
	}
	if len(refs) == 0 {
		return res, fmt.Errorf("compliance tracker %q: %w", compliance.Name, ErrNoItems)
	}
	table := upstreamTable(sample(g.Rand, refs, g.Percent))
	log.Info("sampled compliance entries", zap.Int("sampled", len(table)), zap.Int("total", len(refs)))

	records, err := g.synthesizeItems(ctx, synthesis.Request{
		Kind:                synthesis.KindComplianceDownstream,
		Product:             g.Product,
		TrackerName:         down.Name,
		TrackerType:         down.TypeName(),
		UpstreamTrackerName: compliance.Name,
		UpstreamTrackerType: compliance.TypeName(),
		Count:               complianceChildren,
		Upstream:            table,
	})
	if err != nil {
		return res, err
	}

	items, err := linkedItems(records, table)
	if err != nil {
		return res, err
	}
	err = g.createItems(ctx, log, res, g.DownstreamTrackerID, items)
	return res, err
}

// sample picks max(1, len(refs)*percent/100) refs uniformly without
// replacement and returns them in server order.
func sample(r *Rand, refs []tracker.ItemRef, percent int) []tracker.ItemRef {
	n := max(1, len(refs)*percent/100)
	idx := r.Perm(len(refs))[:n]
	sort.Ints(idx)
	out := make([]tracker.ItemRef, n)
	for i, j := range idx {
		out[i] = refs[j]
	}
	return out
}

func upstreamTable(refs []tracker.ItemRef) []synthesis.Upstream {
	table := make([]synthesis.Upstream, len(refs))
	for i, r := range refs {
		table[i] = synthesis.Upstream{ID: r.ID, Name: r.Name}
	}
	return table
}

// linkedItems checks every record against the upstream table and builds the
// items to create, each carrying a subject link to its parent.
func linkedItems(records []parse.GeneratedItem, table []synthesis.Upstream) ([]*tracker.Item, error) {
	known := make(map[int]struct{}, len(table))
	for _, u := range table {
		known[u.ID] = struct{}{}
	}

	items := make([]*tracker.Item, len(records))
	for i, r := range records {
		if r.ParentID == nil {
			return nil, &IntegrityError{Index: i}
		}
		if _, ok := known[*r.ParentID]; !ok {
			return nil, &IntegrityError{Index: i, ParentID: r.ParentID}
		}
		items[i] = &tracker.Item{
			Name:        r.Name,
			Description: r.Description,
			Subjects:    []tracker.Reference{tracker.TrackerItemReference(*r.ParentID)},
		}
	}
	return items, nil
}

// synthesizeItems requests content and parses it into item records.
func (d *Deps) synthesizeItems(ctx context.Context, req synthesis.Request) ([]parse.GeneratedItem, error) {
	if d.Synth == nil {
		return nil, errors.New("no synthesizer configured")
	}
	raw, err := d.Synth.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	records, err := parse.Items(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s response: %w", req.Kind, err)
	}
	return records, nil
}

// createItems creates items concurrently, stopping at the first failure.
func (d *Deps) createItems(ctx context.Context, log *zap.Logger, res *Result, trackerID int, items []*tracker.Item) error {
	return workpool.Run(ctx, items, d.poolOptions(workpool.AbortOnError, nil), func(ctx context.Context, it *tracker.Item) error {
		created, err := d.Tracker.CreateItem(ctx, trackerID, it)
		if err != nil {
			d.Metrics.item(res.Pipeline, OutcomeFailed)
			res.failed()
			return fmt.Errorf("create item %q: %w", it.Name, err)
		}
		d.Metrics.item(res.Pipeline, OutcomeCreated)
		res.created(created.ID)
		log.Debug("created item", zap.Int("item.id", created.ID), zap.String("name", it.Name), zap.Int("tracker.id", trackerID))
		return nil
	})
}
