package pipeline

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/almseed/internal/tracker"
	"github.com/fyrsmithlabs/almseed/internal/workpool"
)

const NameBatch = "batch"

// LoremIpsum is the description of every batch item.
const LoremIpsum = "Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor " +
	"incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis nostrud exercitation " +
	"ullamco laboris nisi ut aliquip ex ea commodo consequat. Duis aute irure dolor in reprehenderit in " +
	"voluptate velit esse cillum dolore eu fugiat nulla pariatur. Excepteur sint occaecat cupidatat non " +
	"proident, sunt in culpa qui officia deserunt mollit anim id est laborum."

// BatchGenerator bulk-creates placeholder items without synthesis.
type BatchGenerator struct {
	Deps

	TrackerID int
	// Prefix names the items "<Prefix> 1" .. "<Prefix> <Count>". Empty means
	// the tracker name.
	Prefix string
	Count  int
}

// Run creates Count items. A failed create is logged and counted; the rest
// still run and a *workpool.BatchError summarizes the failures.
func (g *BatchGenerator) Run(ctx context.Context) (res *Result, err error) {
	res = newResult(NameBatch)
	ctx, span, log := g.start(ctx, NameBatch,
		attribute.Int("tracker.id", g.TrackerID),
		attribute.Int("count", g.Count))
	defer func() { g.finish(span, res, err) }()

	if g.Count < 1 {
		return res, fmt.Errorf("item count must be >= 1, got %d", g.Count)
	}
	prefix := g.Prefix
	if prefix == "" {
		t, err := trackerInfo(ctx, g.Tracker, g.TrackerID)
		if err != nil {
			return res, err
		}
		prefix = t.Name
	}

	seq := make([]int, g.Count)
	for i := range seq {
		seq[i] = i + 1
	}

	onError := func(i int, err error) {
		log.Warn("batch item failed", zap.Int("index", seq[i]), zap.Error(err))
	}
	err = workpool.Run(ctx, seq, g.poolOptions(workpool.ContinueOnError, onError), func(ctx context.Context, n int) error {
		name := fmt.Sprintf("%s %d", prefix, n)
		created, err := g.Tracker.CreateItem(ctx, g.TrackerID, &tracker.Item{Name: name, Description: LoremIpsum})
		if err != nil {
			g.Metrics.item(NameBatch, OutcomeFailed)
			res.failed()
			return fmt.Errorf("create item %q: %w", name, err)
		}
		g.Metrics.item(NameBatch, OutcomeCreated)
		res.created(created.ID)
		log.Debug("created item", zap.Int("item.id", created.ID), zap.String("name", name))
		return nil
	})
	return res, err
}
