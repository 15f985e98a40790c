package pipeline

import (
	"context"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/almseed/internal/tracker"
	"github.com/fyrsmithlabs/almseed/internal/workpool"
)

const NameStatuses = "statuses"

// RejectedStatus is never chosen as a destination.
const RejectedStatus = "Rejected"

// TransitionMap maps a status id to the status ids reachable from it,
// including itself.
type TransitionMap map[int]map[int]struct{}

// NewTransitionMap builds the map from a tracker's transitions. Transitions
// into RejectedStatus and initial transitions (no source) are ignored.
func NewTransitionMap(transitions []tracker.Transition) TransitionMap {
	m := make(TransitionMap)
	for _, t := range transitions {
		if t.From == nil || t.To == nil || t.To.Name == RejectedStatus {
			continue
		}
		dst, ok := m[t.From.ID]
		if !ok {
			dst = make(map[int]struct{})
			m[t.From.ID] = dst
		}
		dst[t.To.ID] = struct{}{}
		dst[t.From.ID] = struct{}{}
	}
	return m
}

// Next returns the statuses reachable from status in ascending order.
func (m TransitionMap) Next(status int) []int {
	out := make([]int, 0, len(m[status]))
	for id := range m[status] {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// StatusUpdater moves items to a random status reachable from their current one.
type StatusUpdater struct {
	Deps

	TrackerID int
	ItemIDs   []int
}

// Run updates every item. Failures are logged and counted and never stop the
// run; a *workpool.BatchError summarizes them.
func (u *StatusUpdater) Run(ctx context.Context) (res *Result, err error) {
	res = newResult(NameStatuses)
	ctx, span, log := u.start(ctx, NameStatuses,
		attribute.Int("tracker.id", u.TrackerID),
		attribute.Int("items.selected", len(u.ItemIDs)))
	defer func() { u.finish(span, res, err) }()

	if len(u.ItemIDs) == 0 {
		return res, ErrNoItems
	}
	transitions, err := u.Tracker.TrackerTransitions(ctx, u.TrackerID)
	if err != nil {
		return res, fmt.Errorf("get transitions of tracker %d: %w", u.TrackerID, err)
	}
	tm := NewTransitionMap(transitions)

	onError := func(i int, err error) {
		log.Warn("status update failed", zap.Int("item.id", u.ItemIDs[i]), zap.Error(err))
	}
	err = workpool.Run(ctx, u.ItemIDs, u.poolOptions(workpool.ContinueOnError, onError), func(ctx context.Context, id int) error {
		item, err := u.Tracker.Item(ctx, id)
		if err != nil {
			u.Metrics.item(NameStatuses, OutcomeFailed)
			res.failed()
			return fmt.Errorf("get item %d: %w", id, err)
		}
		if item.Status == nil {
			u.Metrics.item(NameStatuses, OutcomeSkipped)
			res.skipped()
			log.Debug("item has no status", zap.Int("item.id", id))
			return nil
		}
		next := tm.Next(item.Status.ID)
		if len(next) == 0 {
			u.Metrics.item(NameStatuses, OutcomeSkipped)
			res.skipped()
			log.Debug("no transition from status", zap.Int("item.id", id), zap.Int("status.id", item.Status.ID))
			return nil
		}

		to := pick(u.Rand, next)
		status := tracker.ChoiceOptionReference(to)
		item.Status = &status
		if _, err := u.Tracker.UpdateItem(ctx, id, item); err != nil {
			u.Metrics.item(NameStatuses, OutcomeFailed)
			res.failed()
			return fmt.Errorf("update status of item %d: %w", id, err)
		}
		u.Metrics.item(NameStatuses, OutcomeUpdated)
		res.updated(id)
		return nil
	})
	return res, err
}
