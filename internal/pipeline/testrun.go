package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/almseed/internal/tracker"
)

const NameTestRun = "test_run"

// ErrDistribution is returned when the requested result counts do not add up
// to the number of test cases.
var ErrDistribution = errors.New("result counts do not match test cases")

// TestRunGenerator creates one test run over a set of test cases and records a
// shuffled mix of results on it.
type TestRunGenerator struct {
	Deps

	TestRunTrackerID int
	TestCaseIDs      []int
	Passed           int
	Failed           int
	Blocked          int
}

// Run validates the distribution, creates the run and assigns one result per
// test case. Nothing is written when the counts are wrong.
func (g *TestRunGenerator) Run(ctx context.Context) (res *Result, err error) {
	res = newResult(NameTestRun)
	ctx, span, log := g.start(ctx, NameTestRun,
		attribute.Int("tracker.id", g.TestRunTrackerID),
		attribute.Int("test_cases", len(g.TestCaseIDs)))
	defer func() { g.finish(span, res, err) }()

	if len(g.TestCaseIDs) == 0 {
		return res, ErrNoItems
	}
	if g.Passed < 0 || g.Failed < 0 || g.Blocked < 0 {
		return res, fmt.Errorf("%w: negative count", ErrDistribution)
	}
	if sum := g.Passed + g.Failed + g.Blocked; sum != len(g.TestCaseIDs) {
		return res, fmt.Errorf("%w: %d passed + %d failed + %d blocked = %d, have %d test cases",
			ErrDistribution, g.Passed, g.Failed, g.Blocked, sum, len(g.TestCaseIDs))
	}

	run, err := g.Tracker.CreateTestRun(ctx, g.TestRunTrackerID, tracker.NewTestRunRequest(g.TestCaseIDs))
	if err != nil {
		g.Metrics.item(NameTestRun, OutcomeFailed)
		return res, fmt.Errorf("create test run: %w", err)
	}
	g.Metrics.item(NameTestRun, OutcomeCreated)
	res.created(run.ID)
	log.Info("created test run", zap.Int("item.id", run.ID))

	results := g.distribution()
	models := make([]tracker.TestCaseResult, len(g.TestCaseIDs))
	for i, id := range g.TestCaseIDs {
		models[i] = tracker.TestCaseResult{
			Result:            results[i],
			TestCaseReference: tracker.TrackerItemReference(id),
		}
	}

	err = g.Tracker.UpdateTestRunResult(ctx, run.ID, tracker.TestRunResultRequest{
		ParentResultPropagation: true,
		UpdateRequestModels:     models,
	})
	if err != nil {
		g.Metrics.item(NameTestRun, OutcomeFailed)
		return res, fmt.Errorf("record results on test run %d: %w", run.ID, err)
	}
	g.Metrics.item(NameTestRun, OutcomeUpdated)
	res.updated(run.ID)
	return res, nil
}

// distribution returns the result multiset in random order.
func (g *TestRunGenerator) distribution() []string {
	out := make([]string, 0, g.Passed+g.Failed+g.Blocked)
	for _, c := range []struct {
		result string
		n      int
	}{
		{tracker.ResultPassed, g.Passed},
		{tracker.ResultFailed, g.Failed},
		{tracker.ResultBlocked, g.Blocked},
	} {
		for range c.n {
			out = append(out, c.result)
		}
	}
	g.Rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
