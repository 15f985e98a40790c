package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/almseed/internal/logging"
	"github.com/fyrsmithlabs/almseed/internal/pipeline"
	"github.com/fyrsmithlabs/almseed/internal/purge"
	"github.com/fyrsmithlabs/almseed/internal/session"
	"github.com/fyrsmithlabs/almseed/internal/tracker"
)

// fakeClient serves one project with two trackers. Methods the tests do not
// reach panic through the nil embedded interface.
type fakeClient struct {
	session.TrackerClient

	mu     sync.Mutex
	items  map[int][]tracker.ItemRef
	nextID int
}

func (f *fakeClient) Projects(context.Context) ([]tracker.Project, error) {
	return []tracker.Project{{ID: 1, Name: "Demo"}}, nil
}

func (f *fakeClient) PopulateProject(context.Context, int) error { return nil }

func (f *fakeClient) TrackerMap(context.Context, int) (map[string]int, error) {
	return map[string]int{"Requirements": 10, "Test Cases": 11}, nil
}

func (f *fakeClient) Trackers(context.Context, int) ([]tracker.TrackerRef, error) {
	return []tracker.TrackerRef{{ID: 10, Name: "Requirements"}, {ID: 11, Name: "Test Cases"}}, nil
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
	return &tracker.Item{ID: f.nextID, Name: it.Name}, nil
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

func setupTestServer(t *testing.T) (*Server, *fakeClient) {
	t.Helper()
	fc := &fakeClient{items: map[int][]tracker.ItemRef{
		10: {{ID: 1, Name: "REQ-1"}, {ID: 2, Name: "REQ-2"}},
	}, nextID: 100}

	svc := session.NewService(session.NewStore(nil), nil, zap.NewNop())
	svc.Metrics = pipeline.NewMetricsWith(prometheus.NewRegistry())
	svc.PurgeMetrics = purge.NewMetricsWith(prometheus.NewRegistry())
	svc.DialTracker = func(ctx context.Context, opts tracker.Options) (session.TrackerClient, []tracker.Project, error) {
		if opts.Password != "secret" {
			return nil, nil, &tracker.APIError{Op: "list projects", Status: http.StatusUnauthorized, Kind: tracker.ErrAuthentication}
		}
		projects, _ := fc.Projects(ctx)
		return fc, projects, nil
	}

	server, err := NewServer(svc, zap.NewNop(), nil)
	require.NoError(t, err)
	return server, fc
}

func call(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// newSession creates a session connected to the fake server with the demo
// project selected.
func newSession(t *testing.T, s *Server) string {
	t.Helper()
	rec := call(t, s, http.MethodPost, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[session.Snapshot](t, rec).ID
	require.NotEmpty(t, id)

	rec = call(t, s, http.MethodPost, "/api/v1/sessions/"+id+"/connect", ConnectRequest{URL: "https://alm.example.com/cb", Username: "bond", Password: "secret"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = call(t, s, http.MethodPut, "/api/v1/sessions/"+id+"/project", NameRequest{Name: "Demo"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return id
}

func TestNewServer(t *testing.T) {
	svc := session.NewService(session.NewStore(nil), nil, nil)

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(svc, zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "localhost", server.config.Host)
		assert.Equal(t, 8085, server.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(svc, nil, nil)
		assert.ErrorContains(t, err, "logger is required")
	})

	t.Run("returns error when service is nil", func(t *testing.T) {
		_, err := NewServer(nil, zap.NewNop(), nil)
		assert.ErrorContains(t, err, "session service cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	server, _ := setupTestServer(t)
	call(t, server, http.MethodPost, "/api/v1/sessions", nil)

	rec := call(t, server, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, HealthResponse{Status: "ok", Sessions: 1}, decode[HealthResponse](t, rec))
}

func TestMetricsEndpoint(t *testing.T) {
	server, _ := setupTestServer(t)
	rec := call(t, server, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestSessionLifecycle(t *testing.T) {
	server, _ := setupTestServer(t)
	id := newSession(t, server)

	rec := call(t, server, http.MethodGet, "/api/v1/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[session.Snapshot](t, rec)
	assert.True(t, snap.Connected)
	assert.Equal(t, "Demo", snap.ProjectName)

	rec = call(t, server, http.MethodDelete, "/api/v1/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = call(t, server, http.MethodGet, "/api/v1/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConnect_BadCredentials(t *testing.T) {
	server, _ := setupTestServer(t)
	id := decode[session.Snapshot](t, call(t, server, http.MethodPost, "/api/v1/sessions", nil)).ID

	rec := call(t, server, http.MethodPost, "/api/v1/sessions/"+id+"/connect", ConnectRequest{URL: "https://alm.example.com/cb", Username: "bond", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	resp := decode[map[string]any](t, rec)
	assert.Equal(t, "Unauthorized: Please check your username and password", resp["message"])

	rec = call(t, server, http.MethodPost, "/api/v1/sessions/"+id+"/connect", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotConnected(t *testing.T) {
	server, _ := setupTestServer(t)
	id := decode[session.Snapshot](t, call(t, server, http.MethodPost, "/api/v1/sessions", nil)).ID

	rec := call(t, server, http.MethodGet, "/api/v1/sessions/"+id+"/projects", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "please connect to a server")
}

func TestBrowse(t *testing.T) {
	server, _ := setupTestServer(t)
	id := newSession(t, server)

	rec := call(t, server, http.MethodGet, "/api/v1/sessions/"+id+"/trackers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"Requirements", "Test Cases"}, decode[NamesResponse](t, rec).Names)

	rec = call(t, server, http.MethodGet, "/api/v1/sessions/"+id+"/trackers/Requirements/items", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"REQ-2", "REQ-1"}, decode[NamesResponse](t, rec).Names)

	rec = call(t, server, http.MethodGet, "/api/v1/sessions/"+id+"/trackers/Risks/items", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGenerateBatchAndPurge(t *testing.T) {
	server, fc := setupTestServer(t)
	id := newSession(t, server)

	rec := call(t, server, http.MethodPost, "/api/v1/sessions/"+id+"/generate/batch", BatchRequest{Tracker: "Test Cases", Count: 3})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := decode[RunResponse](t, rec)
	assert.Equal(t, pipeline.NameBatch, run.Result.Pipeline)
	assert.Len(t, run.Result.Created, 3)
	assert.Empty(t, run.Error)

	rec = call(t, server, http.MethodPost, "/api/v1/sessions/"+id+"/purge/tracker", TrackerRequest{Tracker: "Test Cases"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, purge.Report{Passes: 2, Deleted: 3}, decode[PurgeResponse](t, rec).Report)
	assert.Empty(t, fc.items[11])
	assert.Len(t, fc.items[10], 2)
}

func TestErrorStatuses(t *testing.T) {
	server, _ := setupTestServer(t)
	id := newSession(t, server)

	t.Run("generation without product", func(t *testing.T) {
		rec := call(t, server, http.MethodPost, "/api/v1/sessions/"+id+"/generate/top-level", session.TopLevelParams{Tracker: "Requirements", Count: 2})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("selection matching nothing", func(t *testing.T) {
		rec := call(t, server, http.MethodPost, "/api/v1/sessions/"+id+"/update/statuses", TrackerRequest{Tracker: "Requirements", Selection: pipeline.SelectNames("REQ-9")})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("unknown tracker", func(t *testing.T) {
		rec := call(t, server, http.MethodPost, "/api/v1/sessions/"+id+"/purge/tracker", TrackerRequest{Tracker: "Risks"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("plm not connected", func(t *testing.T) {
		rec := call(t, server, http.MethodGet, "/api/v1/sessions/"+id+"/plm/products", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("invalid json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/api/v1/sessions/"+id+"/product", bytes.NewReader([]byte("invalid json")))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		server.echo.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestMiddleware(t *testing.T) {
	tl := logging.NewTestLogger()
	svc := session.NewService(session.NewStore(nil), nil, nil)
	server, err := NewServer(svc, tl.Underlying(), nil)
	require.NoError(t, err)

	rec := call(t, server, http.MethodGet, "/api/v1/sessions/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))

	entries := tl.FilterMessage("http request").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(http.StatusNotFound), entries[0].ContextMap()["status"])
}

func TestServerLifecycle(t *testing.T) {
	svc := session.NewService(session.NewStore(nil), nil, nil)
	server, err := NewServer(svc, zap.NewNop(), &Config{Host: "localhost", Port: 0})
	require.NoError(t, err)

	errChan := make(chan error, 1)
	go func() { errChan <- server.Start() }()
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, server.Shutdown(ctx))

	select {
	case err := <-errChan:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}
