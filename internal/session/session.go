// Package session holds per-user connection state for the HTTP API and CLI.
//
// A Session carries the tracker and PLM clients and the user's selections
// (project, product). Sessions live in a Store that callers own and pass
// around explicitly; nothing here is package-level state.
package session

import (
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Errors returned by session operations.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNotConnected    = errors.New("tracker server not connected, please connect to a server before proceeding")
	ErrNoProject       = errors.New("no project selected")
	ErrNoProduct       = errors.New("no product set")
	ErrUnknownProject  = errors.New("unknown project")
	ErrUnknownTracker  = errors.New("unknown tracker")
	ErrPLMNotConnected = errors.New("plm server not connected")
	ErrUnknownProduct  = errors.New("unknown plm product")
)

// Session is one user's connection state. It is safe for concurrent use.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu          sync.RWMutex
	serverURL   string
	tracker     TrackerClient
	projects    map[string]int
	projectID   int
	projectName string
	trackers    map[string]int
	product     string
	plm         PLMClient
	plmProducts map[string]string
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	ID           string `json:"id"`
	Connected    bool   `json:"connected"`
	ServerURL    string `json:"server_url,omitempty"`
	ProjectID    int    `json:"project_id,omitempty"`
	ProjectName  string `json:"project_name,omitempty"`
	Product      string `json:"product,omitempty"`
	PLMConnected bool   `json:"plm_connected"`
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		ID:           s.ID,
		Connected:    s.tracker != nil,
		ServerURL:    s.serverURL,
		ProjectID:    s.projectID,
		ProjectName:  s.projectName,
		Product:      s.product,
		PLMConnected: s.plm != nil,
	}
}

// ProjectNames lists the projects of the connected server, sorted.
func (s *Session) ProjectNames() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tracker == nil {
		return nil, ErrNotConnected
	}
	return slices.Sorted(maps.Keys(s.projects)), nil
}

// TrackerNames lists the trackers of the selected project, sorted.
func (s *Session) TrackerNames() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tracker == nil {
		return nil, ErrNotConnected
	}
	if s.projectID == 0 {
		return nil, ErrNoProject
	}
	return slices.Sorted(maps.Keys(s.trackers)), nil
}

// SetProduct sets the product name used in synthesis requests.
func (s *Session) SetProduct(product string) {
	s.mu.Lock()
	s.product = product
	s.mu.Unlock()
}

// Product returns the product name, or ErrNoProduct.
func (s *Session) Product() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.product == "" {
		return "", ErrNoProduct
	}
	return s.product, nil
}

// client returns the connected tracker client.
func (s *Session) client() (TrackerClient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tracker == nil {
		return nil, ErrNotConnected
	}
	return s.tracker, nil
}

func (s *Session) trackerID(name string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tracker == nil {
		return 0, ErrNotConnected
	}
	if s.projectID == 0 {
		return 0, ErrNoProject
	}
	id, ok := s.trackers[name]
	if !ok {
		return 0, &LookupError{Kind: ErrUnknownTracker, Name: name}
	}
	return id, nil
}

func (s *Session) plmClient() (PLMClient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.plm == nil {
		return nil, ErrPLMNotConnected
	}
	return s.plm, nil
}

// LookupError reports a name that does not resolve.
type LookupError struct {
	Kind error
	Name string
}

func (e *LookupError) Error() string { return e.Kind.Error() + ": " + e.Name }
func (e *LookupError) Unwrap() error { return e.Kind }

// Store holds sessions by id.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *zap.Logger
}

// NewStore returns an empty store.
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{sessions: make(map[string]*Session), logger: logger}
}

// Create starts a new session with a random id.
func (st *Store) Create() *Session {
	s := &Session{ID: uuid.NewString(), CreatedAt: time.Now()}
	st.mu.Lock()
	st.sessions[s.ID] = s
	st.mu.Unlock()
	st.logger.Debug("session created", zap.String("session.id", s.ID))
	return s
}

// Get returns the session with the given id.
func (st *Store) Get(id string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Delete removes a session. Deleting an unknown id is a no-op.
func (st *Store) Delete(id string) {
	st.mu.Lock()
	delete(st.sessions, id)
	st.mu.Unlock()
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
