package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/almseed/internal/pipeline"
	"github.com/fyrsmithlabs/almseed/internal/plm"
	"github.com/fyrsmithlabs/almseed/internal/purge"
	"github.com/fyrsmithlabs/almseed/internal/synthesis"
	"github.com/fyrsmithlabs/almseed/internal/tracker"
)

// fakeClient implements the TrackerClient methods the session layer calls
// directly. Anything else panics through the nil embedded interface.
type fakeClient struct {
	pipeline.TrackerAPI

	mu           sync.Mutex
	projects     []tracker.Project
	projectCalls atomic.Int32
	trackers     map[int]map[string]int // project id -> tracker map
	items        map[int][]tracker.ItemRef
	names        map[int]string
	populated    []int
	nextID       int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		projects: []tracker.Project{{ID: 1, Name: "Demo"}, {ID: 2, Name: "Archive"}},
		trackers: map[int]map[string]int{1: {"Requirements": 10, "Test Cases": 11}},
		items:    map[int][]tracker.ItemRef{},
		names:    map[int]string{10: "Requirements", 11: "Test Cases"},
		nextID:   500,
	}
}

func (f *fakeClient) Projects(context.Context) ([]tracker.Project, error) {
	f.projectCalls.Add(1)
	return f.projects, nil
}

func (f *fakeClient) TrackerMap(_ context.Context, projectID int) (map[string]int, error) {
	return f.trackers[projectID], nil
}

func (f *fakeClient) PopulateProject(_ context.Context, projectID int) error {
	f.populated = append(f.populated, projectID)
	return nil
}

func (f *fakeClient) Trackers(_ context.Context, projectID int) ([]tracker.TrackerRef, error) {
	var refs []tracker.TrackerRef
	for name, id := range f.trackers[projectID] {
		refs = append(refs, tracker.TrackerRef{ID: id, Name: name})
	}
	return refs, nil
}

func (f *fakeClient) Tracker(_ context.Context, id int) (*tracker.Tracker, error) {
	return &tracker.Tracker{ID: id, Name: f.names[id]}, nil
}

func (f *fakeClient) ItemsPage(_ context.Context, trackerID, page, pageSize int) (*tracker.ItemPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	refs := f.items[trackerID]
	lo, hi := min((page-1)*pageSize, len(refs)), min(page*pageSize, len(refs))
	return &tracker.ItemPage{Page: page, PageSize: pageSize, Total: len(refs), ItemRefs: append([]tracker.ItemRef(nil), refs[lo:hi]...)}, nil
}

func (f *fakeClient) CreateItem(_ context.Context, trackerID int, it *tracker.Item) (*tracker.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.items[trackerID] = append(f.items[trackerID], tracker.ItemRef{ID: f.nextID, Name: it.Name})
	out := *it
	out.ID = f.nextID
	return &out, nil
}

func (f *fakeClient) DeleteItem(_ context.Context, itemID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for tid, refs := range f.items {
		for i, r := range refs {
			if r.ID == itemID {
				f.items[tid] = append(refs[:i:i], refs[i+1:]...)
				return nil
			}
		}
	}
	return nil
}

type fakePLM struct {
	products map[string]string
	parts    []string
}

func (p *fakePLM) ProductMap(context.Context) (map[string]string, error) { return p.products, nil }

func (p *fakePLM) CreatePart(_ context.Context, name, number, containerID string) (*plm.Part, error) {
	p.parts = append(p.parts, containerID+"/"+number)
	return &plm.Part{ID: "OR:" + number, Name: name, Number: number}, nil
}

func newTestService(t *testing.T, c *fakeClient) (*Service, *Session) {
	t.Helper()
	svc := NewService(NewStore(nil), nil, nil)
	svc.Workers = 4
	svc.Metrics = pipeline.NewMetricsWith(prometheus.NewRegistry())
	svc.PurgeMetrics = purge.NewMetricsWith(prometheus.NewRegistry())
	svc.DialTracker = func(_ context.Context, opts tracker.Options) (TrackerClient, []tracker.Project, error) {
		if opts.Password != "secret" {
			return nil, nil, &tracker.APIError{Op: "list projects", Status: http.StatusUnauthorized, Kind: tracker.ErrAuthentication}
		}
		return c, c.projects, nil
	}
	return svc, svc.Store.Create()
}

func connectAndSelect(t *testing.T, svc *Service, s *Session) {
	t.Helper()
	_, err := svc.Connect(context.Background(), s, "https://alm.example.com/cb", "bond", "secret")
	require.NoError(t, err)
	_, err = svc.SelectProject(context.Background(), s, "Demo")
	require.NoError(t, err)
}

func TestStore(t *testing.T) {
	st := NewStore(nil)
	a, b := st.Create(), st.Create()
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, st.Len())

	got, err := st.Get(a.ID)
	require.NoError(t, err)
	assert.Same(t, a, got)

	st.Delete(a.ID)
	st.Delete("missing")
	_, err = st.Get(a.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, 1, st.Len())
}

func TestConnect(t *testing.T) {
	c := newFakeClient()
	svc, s := newTestService(t, c)

	names, err := svc.Connect(context.Background(), s, "https://alm.example.com/cb", "bond", "secret")
	require.NoError(t, err)
	assert.Equal(t, []string{"Archive", "Demo"}, names)

	snap := s.Snapshot()
	assert.True(t, snap.Connected)
	assert.Equal(t, "https://alm.example.com/cb", snap.ServerURL)
	assert.Zero(t, snap.ProjectID)
	assert.Zero(t, c.projectCalls.Load(), "projects come from the dial, not a second listing")
}

func TestConnect_FailureCarriesRemediation(t *testing.T) {
	c := newFakeClient()
	svc, s := newTestService(t, c)
	connectAndSelect(t, svc, s)

	_, err := svc.Connect(context.Background(), s, "https://alm.example.com/cb", "bond", "wrong")
	require.Error(t, err)

	var ce *ConnectError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "Unauthorized: Please check your username and password", ce.Remediation)
	assert.ErrorIs(t, err, tracker.ErrAuthentication)
	assert.False(t, s.Snapshot().Connected, "failed connect must drop the previous client")
}

func TestDisconnect(t *testing.T) {
	svc, s := newTestService(t, newFakeClient())
	connectAndSelect(t, svc, s)
	s.SetProduct("Infusion Pump")

	svc.Disconnect(context.Background(), s)

	assert.Equal(t, Snapshot{ID: s.ID}, s.Snapshot())
	_, err := svc.TrackerItems(context.Background(), s, "Requirements")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSelectProject(t *testing.T) {
	c := newFakeClient()
	svc, s := newTestService(t, c)

	_, err := svc.SelectProject(context.Background(), s, "Demo")
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = svc.Connect(context.Background(), s, "https://alm.example.com/cb", "bond", "secret")
	require.NoError(t, err)

	_, err = svc.TrackerItems(context.Background(), s, "Requirements")
	assert.ErrorIs(t, err, ErrNoProject)

	_, err = svc.SelectProject(context.Background(), s, "Nope")
	var le *LookupError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "Nope", le.Name)
	assert.ErrorIs(t, err, ErrUnknownProject)

	names, err := svc.SelectProject(context.Background(), s, "Demo")
	require.NoError(t, err)
	assert.Equal(t, []string{"Requirements", "Test Cases"}, names)
	assert.Equal(t, []int{1}, c.populated)
	assert.Equal(t, "Demo", s.Snapshot().ProjectName)
}

func TestTrackerItems_NewestFirst(t *testing.T) {
	c := newFakeClient()
	c.items[10] = []tracker.ItemRef{{ID: 1, Name: "oldest"}, {ID: 2, Name: "middle"}, {ID: 3, Name: "newest"}}
	svc, s := newTestService(t, c)
	connectAndSelect(t, svc, s)

	names, err := svc.TrackerItems(context.Background(), s, "Requirements")
	require.NoError(t, err)
	assert.Equal(t, []string{"newest", "middle", "oldest"}, names)

	_, err = svc.TrackerItems(context.Background(), s, "Risks")
	assert.ErrorIs(t, err, ErrUnknownTracker)
}

func TestGenerateTopLevel_RequiresProduct(t *testing.T) {
	svc, s := newTestService(t, newFakeClient())
	connectAndSelect(t, svc, s)

	_, err := svc.GenerateTopLevel(context.Background(), s, TopLevelParams{Tracker: "Requirements", Count: 3})
	assert.ErrorIs(t, err, ErrNoProduct)
	assert.True(t, IsUserError(err))
}

func TestGenerateBatchThenPurge(t *testing.T) {
	c := newFakeClient()
	svc, s := newTestService(t, c)
	connectAndSelect(t, svc, s)

	res, err := svc.GenerateBatch(context.Background(), s, "Test Cases", 5)
	require.NoError(t, err)
	assert.Len(t, res.Created, 5)

	names, err := svc.TrackerItems(context.Background(), s, "Test Cases")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Test Cases 1", "Test Cases 2", "Test Cases 3", "Test Cases 4", "Test Cases 5"}, names)

	rep, err := svc.PurgeProject(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, 5, rep.Deleted)
	assert.Empty(t, c.items[11])
}

func TestUpdateStatuses_EmptySelection(t *testing.T) {
	c := newFakeClient()
	c.items[10] = []tracker.ItemRef{{ID: 1, Name: "a"}}
	svc, s := newTestService(t, c)
	connectAndSelect(t, svc, s)

	_, err := svc.UpdateStatuses(context.Background(), s, "Requirements", pipeline.SelectNames("zzz"))
	assert.ErrorIs(t, err, pipeline.ErrNoItems)
	assert.True(t, IsUserError(err))
}

func TestPLM(t *testing.T) {
	c := newFakeClient()
	c.items[10] = []tracker.ItemRef{{ID: 1, Name: "Flow accuracy"}}
	fp := &fakePLM{products: map[string]string{"Pump": "OR:wt.pdmlink.PDMLinkProduct:1", "Drive": "OR:wt.pdmlink.PDMLinkProduct:2"}}

	svc, s := newTestService(t, c)
	svc.DialPLM = func(_ context.Context, opts plm.Options) (PLMClient, error) {
		if opts.BaseURL == "" {
			return nil, errors.New("plm base URL required")
		}
		return fp, nil
	}
	svc.Synth = stubSynth(`- id: "0000-1"
  part_name: Pump housing
  requirement_name: Flow accuracy
- id: "0000-2"
  part_name: Flow sensor
  requirement_name: Flow accuracy
`)
	connectAndSelect(t, svc, s)
	s.SetProduct("Infusion Pump")

	_, err := svc.PLMProducts(context.Background(), s)
	assert.ErrorIs(t, err, ErrPLMNotConnected)

	require.NoError(t, svc.ConnectPLM(context.Background(), s, "https://plm.example.com/Windchill", "bond", "secret"))
	assert.True(t, s.Snapshot().PLMConnected)

	products, err := svc.PLMProducts(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, []string{"Pump", "Drive"}, products)

	_, err = svc.GenerateParts(context.Background(), s, "Requirements", "Valve")
	assert.ErrorIs(t, err, ErrUnknownProduct)

	res, err := svc.GenerateParts(context.Background(), s, "Requirements", "Pump")
	require.NoError(t, err)
	assert.Len(t, res.Parts, 2)
	assert.ElementsMatch(t, []string{"OR:wt.pdmlink.PDMLinkProduct:1/0000-1", "OR:wt.pdmlink.PDMLinkProduct:1/0000-2"}, fp.parts)
}

type stubSynth string

func (s stubSynth) Generate(context.Context, synthesis.Request) (string, error) {
	return string(s), nil
}
