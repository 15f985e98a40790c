package session

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/almseed/internal/logging"
	"github.com/fyrsmithlabs/almseed/internal/pipeline"
	"github.com/fyrsmithlabs/almseed/internal/plm"
	"github.com/fyrsmithlabs/almseed/internal/purge"
	"github.com/fyrsmithlabs/almseed/internal/synthesis"
	"github.com/fyrsmithlabs/almseed/internal/tracker"
)

// TrackerClient is everything a session does with the tracker server.
// *tracker.Client implements it.
type TrackerClient interface {
	pipeline.TrackerAPI
	purge.Tracker

	Projects(ctx context.Context) ([]tracker.Project, error)
	TrackerMap(ctx context.Context, projectID int) (map[string]int, error)
	PopulateProject(ctx context.Context, projectID int) error
}

var _ TrackerClient = (*tracker.Client)(nil)

// PLMClient is everything a session does with the PLM server. *plm.Client
// implements it.
type PLMClient interface {
	pipeline.PartCreator
	ProductMap(ctx context.Context) (map[string]string, error)
}

var _ PLMClient = (*plm.Client)(nil)

// ConnectError is a failed connect with the message to show the operator.
type ConnectError struct {
	Err         error
	Remediation string
}

func (e *ConnectError) Error() string { return e.Remediation }
func (e *ConnectError) Unwrap() error { return e.Err }

// Service runs operations against sessions.
type Service struct {
	Store *Store
	Synth pipeline.Synthesizer

	// TrackerOptions is the template for tracker connections; URL and
	// credentials come from each Connect call.
	TrackerOptions tracker.Options
	// PLMOptions is the template for PLM connections.
	PLMOptions plm.Options

	Workers        int
	PurgeMaxPasses int
	Logger         *zap.Logger
	Tracer         trace.Tracer
	Metrics        *pipeline.Metrics
	PurgeMetrics   *purge.Metrics

	// DialTracker and DialPLM open connections; tests replace them.
	// DialTracker also returns the project listing that verified the login.
	DialTracker func(ctx context.Context, opts tracker.Options) (TrackerClient, []tracker.Project, error)
	DialPLM     func(ctx context.Context, opts plm.Options) (PLMClient, error)
}

// NewService returns a Service dialing real servers.
func NewService(store *Store, synth pipeline.Synthesizer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		Store:  store,
		Synth:  synth,
		Logger: logger,
		DialTracker: func(ctx context.Context, opts tracker.Options) (TrackerClient, []tracker.Project, error) {
			c, projects, err := tracker.Connect(ctx, opts)
			if err != nil {
				return nil, nil, err
			}
			return c, projects, nil
		},
		DialPLM: func(ctx context.Context, opts plm.Options) (PLMClient, error) {
			return plm.Connect(ctx, opts)
		},
	}
}

func (svc *Service) log(ctx context.Context, s *Session) *zap.Logger {
	return svc.Logger.With(zap.String("session.id", s.ID)).With(logging.ContextFields(ctx)...)
}

func (svc *Service) deps(c TrackerClient) pipeline.Deps {
	return pipeline.Deps{
		Tracker: c,
		Synth:   svc.Synth,
		Workers: svc.Workers,
		Logger:  svc.Logger,
		Tracer:  svc.Tracer,
		Metrics: svc.Metrics,
	}
}

// Connect connects the session to a tracker server and returns the project
// names. On failure the session is left disconnected and the error is a
// *ConnectError carrying the remediation message.
func (svc *Service) Connect(ctx context.Context, s *Session, url, username, password string) ([]string, error) {
	log := svc.log(ctx, s)
	log.Info("connecting to tracker server", zap.String("url", url))

	opts := svc.TrackerOptions
	opts.BaseURL, opts.Username, opts.Password = url, username, password
	if opts.Logger == nil {
		opts.Logger = svc.Logger
	}

	fail := func(err error) ([]string, error) {
		s.mu.Lock()
		s.tracker, s.serverURL = nil, ""
		s.mu.Unlock()
		log.Warn("connect failed", zap.Error(err))
		return nil, &ConnectError{Err: err, Remediation: tracker.Remediation(err)}
	}

	c, projects, err := svc.DialTracker(ctx, opts)
	if err != nil {
		return fail(err)
	}
	pm := make(map[string]int, len(projects))
	for _, p := range projects {
		pm[p.Name] = p.ID
	}

	s.mu.Lock()
	s.tracker = c
	s.serverURL = url
	s.projects = pm
	s.projectID, s.projectName, s.trackers = 0, "", nil
	s.mu.Unlock()

	log.Info("connected to tracker server", zap.Int("projects", len(pm)))
	return s.ProjectNames()
}

// Disconnect forgets the tracker connection and every selection tied to it.
func (svc *Service) Disconnect(ctx context.Context, s *Session) {
	s.mu.Lock()
	s.tracker = nil
	s.serverURL = ""
	s.projects = nil
	s.projectID, s.projectName, s.trackers = 0, "", nil
	s.product = ""
	s.mu.Unlock()
	svc.log(ctx, s).Info("disconnected from tracker server")
}

// SelectProject selects a project by name, rebuilds its member roster and
// returns its tracker names.
func (svc *Service) SelectProject(ctx context.Context, s *Session, name string) ([]string, error) {
	s.mu.RLock()
	c := s.tracker
	id, ok := s.projects[name]
	s.mu.RUnlock()
	if c == nil {
		return nil, ErrNotConnected
	}
	if !ok {
		return nil, &LookupError{Kind: ErrUnknownProject, Name: name}
	}

	ctx = logging.WithProjectID(ctx, id)
	if err := c.PopulateProject(ctx, id); err != nil {
		return nil, err
	}
	tm, err := c.TrackerMap(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list trackers of project %q: %w", name, err)
	}

	s.mu.Lock()
	s.projectID, s.projectName, s.trackers = id, name, tm
	s.mu.Unlock()

	svc.log(ctx, s).Info("project selected", zap.String("project", name), zap.Int("trackers", len(tm)))
	return s.TrackerNames()
}

// TrackerItems returns the item names of a tracker, newest first.
func (svc *Service) TrackerItems(ctx context.Context, s *Session, trackerName string) ([]string, error) {
	c, id, err := svc.resolve(s, trackerName)
	if err != nil {
		return nil, err
	}
	refs, err := tracker.ReadAllItems(ctx, c, id, tracker.ReadPageSize)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(refs))
	for i, r := range refs {
		names[len(refs)-1-i] = r.Name
	}
	return names, nil
}

func (svc *Service) resolve(s *Session, trackerName string) (TrackerClient, int, error) {
	c, err := s.client()
	if err != nil {
		return nil, 0, err
	}
	id, err := s.trackerID(trackerName)
	if err != nil {
		return nil, 0, err
	}
	return c, id, nil
}

// TopLevelParams are the inputs of GenerateTopLevel.
type TopLevelParams struct {
	Tracker  string             `json:"tracker"`
	Count    int                `json:"count"`
	Category synthesis.Category `json:"category"`
	Rules    string             `json:"rules,omitempty"`
}

// GenerateTopLevel synthesizes top-level items into a tracker.
func (svc *Service) GenerateTopLevel(ctx context.Context, s *Session, p TopLevelParams) (*pipeline.Result, error) {
	c, id, err := svc.resolve(s, p.Tracker)
	if err != nil {
		return nil, err
	}
	product, err := s.Product()
	if err != nil {
		return nil, err
	}
	g := &pipeline.TopLevelGenerator{Deps: svc.deps(c), TrackerID: id, Product: product, Count: p.Count, Category: p.Category, Rules: p.Rules}
	return g.Run(ctx)
}

// TraceabilityParams are the inputs of GenerateTraceability.
type TraceabilityParams struct {
	UpstreamTracker   string             `json:"upstream_tracker"`
	Upstream          pipeline.Selection `json:"upstream"`
	DownstreamTracker string             `json:"downstream_tracker"`
	CountPerUpstream  int                `json:"count_per_upstream"`
	Rules             string             `json:"rules,omitempty"`
}

// GenerateTraceability synthesizes downstream items linked to upstream ones.
func (svc *Service) GenerateTraceability(ctx context.Context, s *Session, p TraceabilityParams) (*pipeline.Result, error) {
	c, up, err := svc.resolve(s, p.UpstreamTracker)
	if err != nil {
		return nil, err
	}
	_, down, err := svc.resolve(s, p.DownstreamTracker)
	if err != nil {
		return nil, err
	}
	product, err := s.Product()
	if err != nil {
		return nil, err
	}
	g := &pipeline.TraceabilityGenerator{
		Deps:                svc.deps(c),
		UpstreamTrackerID:   up,
		DownstreamTrackerID: down,
		Product:             product,
		Upstream:            p.Upstream,
		CountPerUpstream:    p.CountPerUpstream,
		Rules:               p.Rules,
	}
	return g.Run(ctx)
}

// GenerateCompliance synthesizes the entries of a regulatory standard named
// by the tracker.
func (svc *Service) GenerateCompliance(ctx context.Context, s *Session, trackerName string) (*pipeline.Result, error) {
	c, id, err := svc.resolve(s, trackerName)
	if err != nil {
		return nil, err
	}
	return (&pipeline.ComplianceGenerator{Deps: svc.deps(c), TrackerID: id}).Run(ctx)
}

// ComplianceDownstreamParams are the inputs of GenerateComplianceDownstream.
type ComplianceDownstreamParams struct {
	ComplianceTracker string `json:"compliance_tracker"`
	DownstreamTracker string `json:"downstream_tracker"`
	Percent           int    `json:"percent"`
}

// GenerateComplianceDownstream links downstream items to a sample of
// compliance entries.
func (svc *Service) GenerateComplianceDownstream(ctx context.Context, s *Session, p ComplianceDownstreamParams) (*pipeline.Result, error) {
	c, comp, err := svc.resolve(s, p.ComplianceTracker)
	if err != nil {
		return nil, err
	}
	_, down, err := svc.resolve(s, p.DownstreamTracker)
	if err != nil {
		return nil, err
	}
	product, err := s.Product()
	if err != nil {
		return nil, err
	}
	g := &pipeline.ComplianceDownstreamGenerator{
		Deps:                svc.deps(c),
		ComplianceTrackerID: comp,
		DownstreamTrackerID: down,
		Product:             product,
		Percent:             p.Percent,
	}
	return g.Run(ctx)
}

// UpdateStatuses moves the selected items to random reachable statuses.
func (svc *Service) UpdateStatuses(ctx context.Context, s *Session, trackerName string, sel pipeline.Selection) (*pipeline.Result, error) {
	c, id, err := svc.resolve(s, trackerName)
	if err != nil {
		return nil, err
	}
	ids, err := pipeline.ResolveSelection(ctx, c, id, sel)
	if err != nil {
		return nil, err
	}
	return (&pipeline.StatusUpdater{Deps: svc.deps(c), TrackerID: id, ItemIDs: ids}).Run(ctx)
}

// UpdateMetadata assigns random values to the selected items' fields.
func (svc *Service) UpdateMetadata(ctx context.Context, s *Session, trackerName string, sel pipeline.Selection) (*pipeline.Result, error) {
	c, id, err := svc.resolve(s, trackerName)
	if err != nil {
		return nil, err
	}
	ids, err := pipeline.ResolveSelection(ctx, c, id, sel)
	if err != nil {
		return nil, err
	}
	return (&pipeline.FieldUpdater{Deps: svc.deps(c), TrackerID: id, ItemIDs: ids}).Run(ctx)
}

// TestRunParams are the inputs of GenerateTestRun.
type TestRunParams struct {
	TestCaseTracker string             `json:"test_case_tracker"`
	TestCases       pipeline.Selection `json:"test_cases"`
	TestRunTracker  string             `json:"test_run_tracker"`
	Passed          int                `json:"passed"`
	Failed          int                `json:"failed"`
	Blocked         int                `json:"blocked"`
}

// GenerateTestRun creates a test run over the selected test cases.
func (svc *Service) GenerateTestRun(ctx context.Context, s *Session, p TestRunParams) (*pipeline.Result, error) {
	c, cases, err := svc.resolve(s, p.TestCaseTracker)
	if err != nil {
		return nil, err
	}
	_, runs, err := svc.resolve(s, p.TestRunTracker)
	if err != nil {
		return nil, err
	}
	ids, err := pipeline.ResolveSelection(ctx, c, cases, p.TestCases)
	if err != nil {
		return nil, err
	}
	g := &pipeline.TestRunGenerator{
		Deps:             svc.deps(c),
		TestRunTrackerID: runs,
		TestCaseIDs:      ids,
		Passed:           p.Passed,
		Failed:           p.Failed,
		Blocked:          p.Blocked,
	}
	return g.Run(ctx)
}

// GenerateTestSteps writes synthesized steps into the selected test cases.
func (svc *Service) GenerateTestSteps(ctx context.Context, s *Session, trackerName string, sel pipeline.Selection) (*pipeline.Result, error) {
	c, id, err := svc.resolve(s, trackerName)
	if err != nil {
		return nil, err
	}
	product, err := s.Product()
	if err != nil {
		return nil, err
	}
	ids, err := pipeline.ResolveSelection(ctx, c, id, sel)
	if err != nil {
		return nil, err
	}
	return (&pipeline.TestStepGenerator{Deps: svc.deps(c), TrackerID: id, ItemIDs: ids, Product: product}).Run(ctx)
}

// GenerateBatch creates count placeholder items named after the tracker.
func (svc *Service) GenerateBatch(ctx context.Context, s *Session, trackerName string, count int) (*pipeline.Result, error) {
	c, id, err := svc.resolve(s, trackerName)
	if err != nil {
		return nil, err
	}
	return (&pipeline.BatchGenerator{Deps: svc.deps(c), TrackerID: id, Prefix: trackerName, Count: count}).Run(ctx)
}

func (svc *Service) engine(c TrackerClient) *purge.Engine {
	return &purge.Engine{
		Tracker:   c,
		Workers:   svc.Workers,
		MaxPasses: svc.PurgeMaxPasses,
		Logger:    svc.Logger,
		Tracer:    svc.Tracer,
		Metrics:   svc.PurgeMetrics,
	}
}

// PurgeTracker deletes every item of a tracker.
func (svc *Service) PurgeTracker(ctx context.Context, s *Session, trackerName string) (purge.Report, error) {
	c, id, err := svc.resolve(s, trackerName)
	if err != nil {
		return purge.Report{}, err
	}
	return svc.engine(c).PurgeTracker(ctx, id)
}

// PurgeProject deletes every item of the selected project.
func (svc *Service) PurgeProject(ctx context.Context, s *Session) (purge.Report, error) {
	c, err := s.client()
	if err != nil {
		return purge.Report{}, err
	}
	project := s.Snapshot().ProjectID
	if project == 0 {
		return purge.Report{}, ErrNoProject
	}
	return svc.engine(c).PurgeProject(ctx, project)
}

// ConnectPLM connects the session to a PLM server.
func (svc *Service) ConnectPLM(ctx context.Context, s *Session, url, username, password string) error {
	opts := svc.PLMOptions
	opts.BaseURL, opts.Username, opts.Password = url, username, password
	if opts.Logger == nil {
		opts.Logger = svc.Logger
	}
	c, err := svc.DialPLM(ctx, opts)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.plm, s.plmProducts = c, nil
	s.mu.Unlock()
	svc.log(ctx, s).Info("connected to plm server", zap.String("url", url))
	return nil
}

// PLMProducts fetches the PLM product containers and returns their names in
// reverse alphabetical order.
func (svc *Service) PLMProducts(ctx context.Context, s *Session) ([]string, error) {
	c, err := s.plmClient()
	if err != nil {
		return nil, err
	}
	products, err := c.ProductMap(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.plmProducts = products
	s.mu.Unlock()

	names := make([]string, 0, len(products))
	for name := range products {
		names = append(names, name)
	}
	slices.Sort(names)
	slices.Reverse(names)
	return names, nil
}

// GenerateParts creates PLM parts for every item of a tracker in the named
// PLM product.
func (svc *Service) GenerateParts(ctx context.Context, s *Session, trackerName, plmProduct string) (*pipeline.Result, error) {
	c, id, err := svc.resolve(s, trackerName)
	if err != nil {
		return nil, err
	}
	pc, err := s.plmClient()
	if err != nil {
		return nil, err
	}
	product, err := s.Product()
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	container, ok := s.plmProducts[plmProduct]
	s.mu.RUnlock()
	if !ok {
		if _, err := svc.PLMProducts(ctx, s); err != nil {
			return nil, err
		}
		s.mu.RLock()
		container, ok = s.plmProducts[plmProduct]
		s.mu.RUnlock()
	}
	if !ok {
		return nil, &LookupError{Kind: ErrUnknownProduct, Name: plmProduct}
	}

	g := &pipeline.PartsGenerator{Deps: svc.deps(c), PLM: pc, TrackerID: id, Product: product, ContainerID: container}
	return g.Run(ctx)
}

// IsUserError reports whether err comes from bad input or session state
// rather than a server or synthesis failure.
func IsUserError(err error) bool {
	for _, kind := range []error{
		ErrNotConnected, ErrNoProject, ErrNoProduct, ErrUnknownProject, ErrUnknownTracker,
		ErrPLMNotConnected, ErrUnknownProduct, pipeline.ErrNoItems, pipeline.ErrDistribution,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
