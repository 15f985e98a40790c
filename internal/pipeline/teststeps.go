package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/almseed/internal/parse"
	"github.com/fyrsmithlabs/almseed/internal/synthesis"
	"github.com/fyrsmithlabs/almseed/internal/tracker"
	"github.com/fyrsmithlabs/almseed/internal/workpool"
)

const NameTestSteps = "test_steps"

// Names of the test step table and its columns on test case trackers.
const (
	TestStepsField       = "Test Steps"
	ActionColumn         = "Action"
	ExpectedResultColumn = "Expected result"
	stepsPerTestCase     = 2
)

// TestStepGenerator writes synthesized steps into the test step table of
// existing test cases.
type TestStepGenerator struct {
	Deps

	TrackerID int
	ItemIDs   []int
	Product   string
}

// stepTable locates the table field and its two columns.
type stepTable struct {
	field          tracker.FieldRef
	action, result int
}

// Run resolves the table layout once and then updates every item. Existing
// rows are replaced, never appended to.
func (g *TestStepGenerator) Run(ctx context.Context) (res *Result, err error) {
	res = newResult(NameTestSteps)
	ctx, span, log := g.start(ctx, NameTestSteps,
		attribute.Int("tracker.id", g.TrackerID),
		attribute.Int("items.selected", len(g.ItemIDs)))
	defer func() { g.finish(span, res, err) }()

	if len(g.ItemIDs) == 0 {
		return res, ErrNoItems
	}
	if g.Synth == nil {
		return res, errors.New("no synthesizer configured")
	}
	table, err := g.resolveTable(ctx)
	if err != nil {
		return res, err
	}

	err = workpool.Run(ctx, g.ItemIDs, g.poolOptions(workpool.AbortOnError, nil), func(ctx context.Context, id int) error {
		if err := g.writeSteps(ctx, table, id); err != nil {
			g.Metrics.item(NameTestSteps, OutcomeFailed)
			res.failed()
			return fmt.Errorf("item %d: %w", id, err)
		}
		g.Metrics.item(NameTestSteps, OutcomeUpdated)
		res.updated(id)
		log.Debug("wrote test steps", zap.Int("item.id", id))
		return nil
	})
	return res, err
}

func (g *TestStepGenerator) resolveTable(ctx context.Context) (stepTable, error) {
	fields, err := g.Tracker.TrackerFields(ctx, g.TrackerID)
	if err != nil {
		return stepTable{}, fmt.Errorf("list fields of tracker %d: %w", g.TrackerID, err)
	}
	var ref *tracker.FieldRef
	for i := range fields {
		if fields[i].Name == TestStepsField {
			ref = &fields[i]
			break
		}
	}
	if ref == nil {
		return stepTable{}, fmt.Errorf("tracker %d has no %q field", g.TrackerID, TestStepsField)
	}

	f, err := g.Tracker.TrackerField(ctx, g.TrackerID, ref.ID)
	if err != nil {
		return stepTable{}, fmt.Errorf("get field %d: %w", ref.ID, err)
	}
	tf, ok := f.(tracker.TableField)
	if !ok {
		return stepTable{}, fmt.Errorf("field %q is %s, not a table", TestStepsField, f.Info().Type)
	}
	action, ok := tf.Column(ActionColumn)
	if !ok {
		return stepTable{}, fmt.Errorf("field %q has no %q column", TestStepsField, ActionColumn)
	}
	result, ok := tf.Column(ExpectedResultColumn)
	if !ok {
		return stepTable{}, fmt.Errorf("field %q has no %q column", TestStepsField, ExpectedResultColumn)
	}
	return stepTable{field: *ref, action: action, result: result}, nil
}

func (g *TestStepGenerator) writeSteps(ctx context.Context, table stepTable, itemID int) error {
	item, err := g.Tracker.Item(ctx, itemID)
	if err != nil {
		return err
	}

	raw, err := g.Synth.Generate(ctx, synthesis.Request{
		Kind:         synthesis.KindTestSteps,
		Product:      g.Product,
		TestCaseName: item.Name,
	})
	if err != nil {
		return err
	}
	steps, err := parse.TestSteps(raw)
	if err != nil {
		return fmt.Errorf("parse %s response: %w", synthesis.KindTestSteps, err)
	}
	if len(steps) < stepsPerTestCase {
		return &parse.FormatError{
			Index:  -1,
			Reason: fmt.Sprintf("want %d test steps, got %d", stepsPerTestCase, len(steps)),
		}
	}
	steps = steps[:stepsPerTestCase]

	rows := make([][]tracker.FieldValue, len(steps))
	for i, s := range steps {
		rows[i] = []tracker.FieldValue{
			tracker.NewWikiText(table.action, s.Action),
			tracker.NewWikiText(table.result, s.ExpectedResult),
		}
	}
	item.SetFieldValue(tracker.TableFieldValue{
		FieldMeta: tracker.FieldMeta{ID: table.field.ID, Name: table.field.Name},
		Rows:      rows,
	})

	if _, err := g.Tracker.UpdateItem(ctx, itemID, item); err != nil {
		return err
	}
	return nil
}
