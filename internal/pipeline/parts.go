package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/almseed/internal/parse"
	"github.com/fyrsmithlabs/almseed/internal/plm"
	"github.com/fyrsmithlabs/almseed/internal/synthesis"
	"github.com/fyrsmithlabs/almseed/internal/tracker"
	"github.com/fyrsmithlabs/almseed/internal/workpool"
)

const NameParts = "parts"

// PartCreator creates parts in a PLM container. *plm.Client implements it.
type PartCreator interface {
	CreatePart(ctx context.Context, name, number, containerID string) (*plm.Part, error)
}

var _ PartCreator = (*plm.Client)(nil)

// PartsGenerator synthesizes PLM parts for the items of a tracker and creates
// them in a product container.
type PartsGenerator struct {
	Deps

	PLM         PartCreator
	TrackerID   int
	Product     string
	ContainerID string
}

// Run reads every item of the tracker, asks for parts realizing them and
// creates each part. Failed parts are logged and the rest still run.
func (g *PartsGenerator) Run(ctx context.Context) (res *Result, err error) {
	res = newResult(NameParts)
	ctx, span, log := g.start(ctx, NameParts,
		attribute.Int("tracker.id", g.TrackerID),
		attribute.String("plm.container", g.ContainerID))
	defer func() { g.finish(span, res, err) }()

	if g.Synth == nil {
		return res, errors.New("no synthesizer configured")
	}
	if g.PLM == nil {
		return res, errors.New("no plm client configured")
	}
	if g.ContainerID == "" {
		return res, errors.New("plm container required")
	}

	refs, err := tracker.ReadAllItems(ctx, g.Tracker, g.TrackerID, tracker.ReadPageSize)
	if err != nil {
		return res, err
	}
	if len(refs) == 0 {
		return res, fmt.Errorf("tracker %d: %w", g.TrackerID, ErrNoItems)
	}
	names := make([]string, len(refs))
	for i, r := range refs {
		names[i] = r.Name
	}

	raw, err := g.Synth.Generate(ctx, synthesis.Request{
		Kind:             synthesis.KindParts,
		Product:          g.Product,
		RequirementNames: names,
	})
	if err != nil {
		return res, err
	}
	parts, err := parse.Parts(raw)
	if err != nil {
		return res, fmt.Errorf("parse %s response: %w", synthesis.KindParts, err)
	}

	onError := func(i int, err error) {
		log.Warn("part creation failed", zap.String("number", parts[i].ID), zap.Error(err))
	}
	err = workpool.Run(ctx, parts, g.poolOptions(workpool.ContinueOnError, onError), func(ctx context.Context, p parse.ExternalPart) error {
		created, err := g.PLM.CreatePart(ctx, p.PartName, p.ID, g.ContainerID)
		if err != nil {
			g.Metrics.item(NameParts, OutcomeFailed)
			res.failed()
			return fmt.Errorf("create part %q: %w", p.ID, err)
		}
		g.Metrics.item(NameParts, OutcomeCreated)
		res.createdPart(created.ID)
		log.Debug("created part", zap.String("part.id", created.ID), zap.String("requirement", p.RequirementName))
		return nil
	})
	return res, err
}
