// Package tracker is the client for the ALM tracker server (Codebeamer REST v3).
//
// A Client is created with Connect, which verifies credentials before returning.
// Every failure is an *APIError carrying one of ErrAuthentication, ErrNotFound,
// ErrServer or ErrBadRequest.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout   = 60 * time.Second
	maxErrorBodySize = 2048
	memberPageSize   = 500
)

// Options configures a Client.
type Options struct {
	BaseURL  string // server root, e.g. https://alm.example.com/cb
	Username string
	Password string
	Timeout  time.Duration
	// RateLimit is the sustained requests per second; 0 disables pacing.
	RateLimit float64

	HTTPClient    *http.Client
	Logger        *zap.Logger
	MeterProvider metric.MeterProvider
}

// Client is a connected tracker client. It is safe for concurrent use.
type Client struct {
	apiURL     string
	username   string
	password   string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
	metrics    *clientMetrics

	mu        sync.RWMutex
	projectID int
	memberIDs []int
}

// New creates a Client without contacting the server.
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("tracker base URL required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid tracker base URL: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), max(1, int(opts.RateLimit)))
	}

	return &Client{
		apiURL:     base + "/api/v3",
		username:   opts.Username,
		password:   opts.Password,
		httpClient: httpClient,
		limiter:    limiter,
		logger:     logger,
		metrics:    newClientMetrics(opts.MeterProvider, logger),
	}, nil
}

// Connect creates a Client and verifies the credentials with one project
// listing, which it returns.
func Connect(ctx context.Context, opts Options) (*Client, []Project, error) {
	c, err := New(opts)
	if err != nil {
		return nil, nil, err
	}
	projects, err := c.Projects(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", opts.BaseURL, err)
	}
	c.logger.Info("connected to tracker server", zap.String("url", opts.BaseURL), zap.String("user", opts.Username))
	return c, projects, nil
}

// Projects lists the projects visible to the user.
func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	var out []Project
	err := c.do(ctx, "get projects", http.MethodGet, "/projects", nil, nil, &out)
	return out, err
}

// Trackers lists the trackers of a project.
func (c *Client) Trackers(ctx context.Context, projectID int) ([]TrackerRef, error) {
	var out []TrackerRef
	err := c.do(ctx, "get trackers", http.MethodGet, fmt.Sprintf("/projects/%d/trackers", projectID), nil, nil, &out)
	return out, err
}

// TrackerMap returns tracker ids of a project keyed by tracker name.
func (c *Client) TrackerMap(ctx context.Context, projectID int) (map[string]int, error) {
	trackers, err := c.Trackers(ctx, projectID)
	if err != nil {
		return nil, err
	}
	m := make(map[string]int, len(trackers))
	for _, t := range trackers {
		m[t.Name] = t.ID
	}
	return m, nil
}

// Tracker returns one tracker.
func (c *Client) Tracker(ctx context.Context, trackerID int) (*Tracker, error) {
	var out Tracker
	if err := c.do(ctx, "get tracker", http.MethodGet, fmt.Sprintf("/trackers/%d", trackerID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TrackerFields lists the fields of a tracker.
func (c *Client) TrackerFields(ctx context.Context, trackerID int) ([]FieldRef, error) {
	var out []FieldRef
	err := c.do(ctx, "get tracker fields", http.MethodGet, fmt.Sprintf("/trackers/%d/fields", trackerID), nil, nil, &out)
	return out, err
}

// TrackerField returns the full definition of one tracker field.
func (c *Client) TrackerField(ctx context.Context, trackerID, fieldID int) (Field, error) {
	var raw json.RawMessage
	path := fmt.Sprintf("/trackers/%d/fields/%d", trackerID, fieldID)
	if err := c.do(ctx, "get tracker field", http.MethodGet, path, nil, nil, &raw); err != nil {
		return nil, err
	}
	f, err := DecodeField(raw)
	if err != nil {
		return nil, &APIError{Op: "get tracker field", Kind: ErrBadRequest, Err: err}
	}
	return f, nil
}

// TrackerTransitions lists the legal status transitions of a tracker.
func (c *Client) TrackerTransitions(ctx context.Context, trackerID int) ([]Transition, error) {
	var out []Transition
	err := c.do(ctx, "get transitions", http.MethodGet, fmt.Sprintf("/trackers/%d/transitions", trackerID), nil, nil, &out)
	return out, err
}

// Members lists every member of a project, following pagination.
func (c *Client) Members(ctx context.Context, projectID int) ([]Member, error) {
	var all []Member
	for page := 1; ; page++ {
		q := url.Values{"page": {strconv.Itoa(page)}, "pageSize": {strconv.Itoa(memberPageSize)}}
		var mp memberPage
		if err := c.do(ctx, "get members", http.MethodGet, fmt.Sprintf("/projects/%d/members", projectID), q, nil, &mp); err != nil {
			return nil, err
		}
		all = append(all, mp.Members...)
		if len(mp.Members) == 0 || len(all) >= mp.Total {
			return all, nil
		}
	}
}

// PopulateProject rebuilds the member roster for projectID.
// The roster is replaced, never appended to.
func (c *Client) PopulateProject(ctx context.Context, projectID int) error {
	members, err := c.Members(ctx, projectID)
	if err != nil {
		return fmt.Errorf("populate project %d: %w", projectID, err)
	}
	ids := make([]int, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}

	c.mu.Lock()
	c.projectID = projectID
	c.memberIDs = ids
	c.mu.Unlock()

	c.logger.Debug("project roster populated", zap.Int("project.id", projectID), zap.Int("members", len(ids)))
	return nil
}

// MemberIDs returns a copy of the roster built by the last PopulateProject.
func (c *Client) MemberIDs() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]int(nil), c.memberIDs...)
}

// ProjectID returns the project of the last PopulateProject, or 0.
func (c *Client) ProjectID() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.projectID
}

// ItemsPage fetches one page (1-based) of a tracker's items.
func (c *Client) ItemsPage(ctx context.Context, trackerID, page, pageSize int) (*ItemPage, error) {
	q := url.Values{"page": {strconv.Itoa(page)}, "pageSize": {strconv.Itoa(pageSize)}}
	var out ItemPage
	if err := c.do(ctx, "get items", http.MethodGet, fmt.Sprintf("/trackers/%d/items", trackerID), q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Item fetches one item.
func (c *Client) Item(ctx context.Context, itemID int) (*Item, error) {
	var out Item
	if err := c.do(ctx, "get item", http.MethodGet, fmt.Sprintf("/items/%d", itemID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ItemFields fetches the editable and read-only field values of an item.
func (c *Client) ItemFields(ctx context.Context, itemID int) (*ItemFields, error) {
	var out ItemFields
	if err := c.do(ctx, "get item fields", http.MethodGet, fmt.Sprintf("/items/%d/fields", itemID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateItem creates an item in a tracker and returns the stored item.
func (c *Client) CreateItem(ctx context.Context, trackerID int, item *Item) (*Item, error) {
	var out Item
	if err := c.do(ctx, "create item", http.MethodPost, fmt.Sprintf("/trackers/%d/items", trackerID), nil, item, &out); err != nil {
		return nil, err
	}
	c.logger.Debug("item created", zap.Int("tracker.id", trackerID), zap.Int("item.id", out.ID), zap.String("name", item.Name))
	return &out, nil
}

// UpdateItem replaces an item.
func (c *Client) UpdateItem(ctx context.Context, itemID int, item *Item) (*Item, error) {
	var out Item
	if err := c.do(ctx, "update item", http.MethodPut, fmt.Sprintf("/items/%d", itemID), nil, item, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateItemFields sets the given field values on an item in one call.
func (c *Client) UpdateItemFields(ctx context.Context, itemID int, values []FieldValue) (*Item, error) {
	var out Item
	body := updateFieldsRequest{FieldValues: values}
	if err := c.do(ctx, "update item fields", http.MethodPut, fmt.Sprintf("/items/%d/fields", itemID), nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteItem deletes an item. Deleting an item that is already gone succeeds.
func (c *Client) DeleteItem(ctx context.Context, itemID int) error {
	err := c.do(ctx, "delete item", http.MethodDelete, fmt.Sprintf("/items/%d", itemID), nil, nil, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		c.logger.Debug("item already deleted", zap.Int("item.id", itemID))
		return nil
	}
	return err
}

// CreateTestRun creates a test run in a test run tracker.
func (c *Client) CreateTestRun(ctx context.Context, trackerID int, req TestRunRequest) (*Item, error) {
	var out Item
	if err := c.do(ctx, "create test run", http.MethodPost, fmt.Sprintf("/trackers/%d/testruns", trackerID), nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateTestRunResult records test case results on a test run.
func (c *Client) UpdateTestRunResult(ctx context.Context, testRunID int, req TestRunResultRequest) error {
	if err := req.validate(); err != nil {
		return &APIError{Op: "update test run", Kind: ErrBadRequest, Err: err}
	}
	return c.do(ctx, "update test run", http.MethodPut, fmt.Sprintf("/testruns/%d", testRunID), nil, req, nil)
}

// do sends one request. in is JSON-encoded when non-nil; out is decoded when non-nil.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &APIError{Op: op, Kind: ErrBadRequest, Err: fmt.Errorf("rate limiter: %w", err)}
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return &APIError{Op: op, Kind: ErrBadRequest, Err: fmt.Errorf("marshal request: %w", err)}
		}
		body = bytes.NewReader(data)
	}

	u := c.apiURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return &APIError{Op: op, Kind: ErrBadRequest, Err: err}
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.record(ctx, op, "transport", time.Since(start))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		// An unreachable host looks the same to the operator as a wrong URL.
		return &APIError{Op: op, Kind: ErrNotFound, Err: err}
	}
	defer resp.Body.Close()

	kind := kindForStatus(resp.StatusCode)
	c.metrics.record(ctx, op, outcomeFor(kind), time.Since(start))

	if kind != nil {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		c.logger.Debug("tracker request failed",
			zap.String("op", op),
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return &APIError{Op: op, Status: resp.StatusCode, Kind: kind, Body: strings.TrimSpace(string(data))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return &APIError{Op: op, Status: resp.StatusCode, Kind: ErrServer, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
