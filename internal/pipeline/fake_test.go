package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/almseed/internal/synthesis"
	"github.com/fyrsmithlabs/almseed/internal/tracker"
)

// fakeTracker is an in-memory TrackerAPI.
type fakeTracker struct {
	mu sync.Mutex

	nextID      int
	trackers    map[int]*tracker.Tracker
	order       map[int][]int // tracker id -> item ids in server order
	items       map[int]*tracker.Item
	fields      map[int][]tracker.FieldRef
	fieldDefs   map[int]tracker.Field
	itemFields  map[int]*tracker.ItemFields
	transitions map[int][]tracker.Transition
	members     []int

	failCreate func(*tracker.Item) error
	failUpdate map[int]error

	created      []*tracker.Item
	updates      map[int]*tracker.Item
	fieldUpdates map[int][]tracker.FieldValue
	fieldCalls   int
	testRuns     []tracker.TestRunRequest
	runResults   map[int]tracker.TestRunResultRequest
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		nextID:       1000,
		trackers:     make(map[int]*tracker.Tracker),
		order:        make(map[int][]int),
		items:        make(map[int]*tracker.Item),
		fields:       make(map[int][]tracker.FieldRef),
		fieldDefs:    make(map[int]tracker.Field),
		itemFields:   make(map[int]*tracker.ItemFields),
		transitions:  make(map[int][]tracker.Transition),
		failUpdate:   make(map[int]error),
		updates:      make(map[int]*tracker.Item),
		fieldUpdates: make(map[int][]tracker.FieldValue),
		runResults:   make(map[int]tracker.TestRunResultRequest),
	}
}

func (f *fakeTracker) addTracker(id int, name, typ string) {
	f.trackers[id] = &tracker.Tracker{ID: id, Name: name, Type: &tracker.TypeRef{ID: 1, Name: typ}}
}

func (f *fakeTracker) addItem(trackerID, id int, name string) *tracker.Item {
	it := &tracker.Item{ID: id, Name: name}
	f.items[id] = it
	f.order[trackerID] = append(f.order[trackerID], id)
	return it
}

func notFound(op string) error {
	return &tracker.APIError{Op: op, Status: http.StatusNotFound, Kind: tracker.ErrNotFound}
}

func (f *fakeTracker) ItemsPage(_ context.Context, trackerID, page, pageSize int) (*tracker.ItemPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := f.order[trackerID]
	p := &tracker.ItemPage{Page: page, PageSize: pageSize, Total: len(ids)}
	for _, id := range ids[min((page-1)*pageSize, len(ids)):min(page*pageSize, len(ids))] {
		p.ItemRefs = append(p.ItemRefs, tracker.ItemRef{ID: id, Name: f.items[id].Name})
	}
	return p, nil
}

func (f *fakeTracker) Tracker(_ context.Context, trackerID int) (*tracker.Tracker, error) {
	t, ok := f.trackers[trackerID]
	if !ok {
		return nil, notFound("get tracker")
	}
	return t, nil
}

func (f *fakeTracker) TrackerFields(_ context.Context, trackerID int) ([]tracker.FieldRef, error) {
	return f.fields[trackerID], nil
}

func (f *fakeTracker) TrackerField(_ context.Context, _, fieldID int) (tracker.Field, error) {
	d, ok := f.fieldDefs[fieldID]
	if !ok {
		return nil, notFound("get field")
	}
	return d, nil
}

func (f *fakeTracker) TrackerTransitions(_ context.Context, trackerID int) ([]tracker.Transition, error) {
	return f.transitions[trackerID], nil
}

// Item returns a deep copy so callers cannot mutate the store.
func (f *fakeTracker) Item(_ context.Context, itemID int) (*tracker.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[itemID]
	if !ok {
		return nil, notFound("get item")
	}
	return cloneItem(it), nil
}

func (f *fakeTracker) ItemFields(_ context.Context, itemID int) (*tracker.ItemFields, error) {
	fields, ok := f.itemFields[itemID]
	if !ok {
		return nil, notFound("get item fields")
	}
	return fields, nil
}

func (f *fakeTracker) CreateItem(_ context.Context, trackerID int, item *tracker.Item) (*tracker.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate != nil {
		if err := f.failCreate(item); err != nil {
			return nil, err
		}
	}
	f.nextID++
	it := cloneItem(item)
	it.ID = f.nextID
	f.items[it.ID] = it
	f.order[trackerID] = append(f.order[trackerID], it.ID)
	f.created = append(f.created, it)
	return cloneItem(it), nil
}

func (f *fakeTracker) UpdateItem(_ context.Context, itemID int, item *tracker.Item) (*tracker.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failUpdate[itemID]; err != nil {
		return nil, err
	}
	f.items[itemID] = cloneItem(item)
	f.updates[itemID] = cloneItem(item)
	return cloneItem(item), nil
}

func (f *fakeTracker) UpdateItemFields(_ context.Context, itemID int, values []tracker.FieldValue) (*tracker.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failUpdate[itemID]; err != nil {
		return nil, err
	}
	f.fieldCalls++
	f.fieldUpdates[itemID] = values
	return cloneItem(f.items[itemID]), nil
}

func (f *fakeTracker) CreateTestRun(_ context.Context, trackerID int, req tracker.TestRunRequest) (*tracker.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.testRuns = append(f.testRuns, req)
	f.nextID++
	f.order[trackerID] = append(f.order[trackerID], f.nextID)
	f.items[f.nextID] = &tracker.Item{ID: f.nextID, Name: "Test Run"}
	return &tracker.Item{ID: f.nextID}, nil
}

func (f *fakeTracker) UpdateTestRunResult(_ context.Context, testRunID int, req tracker.TestRunResultRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runResults[testRunID] = req
	return nil
}

func (f *fakeTracker) MemberIDs() []int { return slices.Clone(f.members) }

func cloneItem(it *tracker.Item) *tracker.Item {
	data, err := json.Marshal(it)
	if err != nil {
		panic(err)
	}
	var out tracker.Item
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}
	return &out
}

// fakeSynth answers synthesis requests with canned content.
type fakeSynth struct {
	mu       sync.Mutex
	reply    func(synthesis.Request) (string, error)
	requests []synthesis.Request
}

func replyWith(content string) *fakeSynth {
	return &fakeSynth{reply: func(synthesis.Request) (string, error) { return content, nil }}
}

func (s *fakeSynth) Generate(_ context.Context, req synthesis.Request) (string, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("invalid request: %w", err)
	}
	return s.reply(req)
}

// testDeps returns deterministic deps with an isolated metrics registry.
func testDeps(t *testing.T, api TrackerAPI, synth Synthesizer) (Deps, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return Deps{
		Tracker: api,
		Synth:   synth,
		Workers: 4,
		Rand:    NewSeededRand(42),
		Metrics: NewMetricsWith(reg),
	}, reg
}

func requireNoWrites(t *testing.T, f *fakeTracker) {
	t.Helper()
	require.Empty(t, f.created, "no items created")
	require.Empty(t, f.updates, "no items updated")
	require.Zero(t, f.fieldCalls, "no field updates")
}
