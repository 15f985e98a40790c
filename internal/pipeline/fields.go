package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fyrsmithlabs/almseed/internal/tracker"
	"github.com/fyrsmithlabs/almseed/internal/workpool"
)

const NameFields = "fields"

// IgnoredFields are never touched by FieldUpdater.
var IgnoredFields = map[string]struct{}{
	"ID":                 {},
	"Summary":            {},
	"Tracker":            {},
	"Submitted at":       {},
	"Submitted by":       {},
	"Parent":             {},
	"Children":           {},
	"Description":        {},
	"Description Format": {},
	"Attachments":        {},
	"Status":             {},
}

// SentinelOptions are option names never assigned at random.
var SentinelOptions = map[string]struct{}{
	"Information": {},
	"Folder":      {},
	"Unset":       {},
	"Theme":       {},
}

// Integer fields receive a value in [integerMin, integerMax].
const (
	integerMin = 1
	integerMax = 10
)

// FieldUpdater assigns random values to the editable custom fields of items.
type FieldUpdater struct {
	Deps

	TrackerID int
	ItemIDs   []int
}

// Run updates every item with one call each. Items with nothing to change are
// skipped. The first failure stops the run.
func (u *FieldUpdater) Run(ctx context.Context) (res *Result, err error) {
	res = newResult(NameFields)
	ctx, span, log := u.start(ctx, NameFields,
		attribute.Int("tracker.id", u.TrackerID),
		attribute.Int("items.selected", len(u.ItemIDs)))
	defer func() { u.finish(span, res, err) }()

	if len(u.ItemIDs) == 0 {
		return res, ErrNoItems
	}

	defs := &fieldDefs{api: u.Tracker, trackerID: u.TrackerID, byID: make(map[int]tracker.Field)}
	members := u.Tracker.MemberIDs()

	err = workpool.Run(ctx, u.ItemIDs, u.poolOptions(workpool.AbortOnError, nil), func(ctx context.Context, id int) error {
		values, err := u.randomize(ctx, defs, members, id)
		if err != nil {
			u.Metrics.item(NameFields, OutcomeFailed)
			res.failed()
			return fmt.Errorf("item %d: %w", id, err)
		}
		if len(values) == 0 {
			u.Metrics.item(NameFields, OutcomeSkipped)
			res.skipped()
			log.Debug("no editable fields to update", zap.Int("item.id", id))
			return nil
		}
		if _, err := u.Tracker.UpdateItemFields(ctx, id, values); err != nil {
			u.Metrics.item(NameFields, OutcomeFailed)
			res.failed()
			return fmt.Errorf("update fields of item %d: %w", id, err)
		}
		u.Metrics.item(NameFields, OutcomeUpdated)
		res.updated(id)
		log.Debug("updated fields", zap.Int("item.id", id), zap.Int("fields", len(values)))
		return nil
	})
	return res, err
}

// randomize returns the new values for one item's editable fields.
func (u *FieldUpdater) randomize(ctx context.Context, defs *fieldDefs, members []int, itemID int) ([]tracker.FieldValue, error) {
	fields, err := u.Tracker.ItemFields(ctx, itemID)
	if err != nil {
		return nil, err
	}

	var out []tracker.FieldValue
	for _, v := range fields.Editable {
		if _, skip := IgnoredFields[v.FieldName()]; skip {
			continue
		}
		switch fv := v.(type) {
		case tracker.ChoiceFieldValue:
			def, err := defs.get(ctx, fv.ID)
			if err != nil {
				return nil, err
			}
			switch d := def.(type) {
			case tracker.ChoiceField:
				opts := assignableOptions(d.Options)
				if len(opts) == 0 {
					continue
				}
				o := pick(u.Rand, opts)
				fv.Values = []tracker.Reference{tracker.ChoiceOptionReference(o.ID)}
				out = append(out, fv)
			case tracker.UserField:
				if len(members) == 0 {
					continue
				}
				fv.Values = []tracker.Reference{tracker.UserReference(pick(u.Rand, members))}
				out = append(out, fv)
			}
		case tracker.IntegerFieldValue:
			fv.Value = tracker.IntPtr(integerMin + u.Rand.IntN(integerMax-integerMin+1))
			out = append(out, fv)
		}
	}
	return out, nil
}

// assignableOptions drops sentinel options.
func assignableOptions(opts []tracker.Reference) []tracker.Reference {
	out := make([]tracker.Reference, 0, len(opts))
	for _, o := range opts {
		if _, sentinel := SentinelOptions[o.Name]; !sentinel {
			out = append(out, o)
		}
	}
	return out
}

// fieldDefs caches tracker field definitions for one run.
type fieldDefs struct {
	api       TrackerAPI
	trackerID int

	group singleflight.Group
	mu    sync.RWMutex
	byID  map[int]tracker.Field
}

func (c *fieldDefs) get(ctx context.Context, fieldID int) (tracker.Field, error) {
	c.mu.RLock()
	f, ok := c.byID[fieldID]
	c.mu.RUnlock()
	if ok {
		return f, nil
	}

	v, err, _ := c.group.Do(strconv.Itoa(fieldID), func() (any, error) {
		f, err := c.api.TrackerField(ctx, c.trackerID, fieldID)
		if err != nil {
			return nil, fmt.Errorf("get field %d: %w", fieldID, err)
		}
		c.mu.Lock()
		c.byID[fieldID] = f
		c.mu.Unlock()
		return f, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(tracker.Field), nil
}
