// Package plm is a minimal client for the Windchill OData REST services. It
// lists product containers and creates parts in them.
package plm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	odataPath        = "/servlet/odata"
	csrfPath         = "/PTC/GetCSRFToken"
	productsPath     = "/DataAdmin/Containers/PTC.DataAdmin.ProductContainer"
	partsPath        = "/ProdMgmt/Parts"
	defaultTimeout   = 60 * time.Second
	maxErrorBodySize = 2048
)

var (
	// ErrCSRF is returned when the server does not hand out a usable nonce.
	ErrCSRF = errors.New("csrf token unavailable")
	// ErrRequest is returned for any unexpected response status.
	ErrRequest = errors.New("plm request failed")
)

// Options configures a Client.
type Options struct {
	BaseURL  string // server root, e.g. https://plm.example.com/Windchill
	Username string
	Password string
	Timeout  time.Duration
	// RateLimit is the sustained requests per second; 0 disables pacing.
	RateLimit float64

	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client is a connected PLM client holding a server session and CSRF nonce.
// It is safe for concurrent use.
type Client struct {
	odataURL   string
	username   string
	password   string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger

	nonceKey   string
	nonceValue string
}

// Connect opens a session and fetches the CSRF nonce required for writes.
func Connect(ctx context.Context, opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("plm base URL required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid plm base URL: %w", err)
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
	if httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		cp := *httpClient
		cp.Jar = jar
		httpClient = &cp
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), max(1, int(opts.RateLimit)))
	}

	c := &Client{
		odataURL:   base + odataPath,
		username:   opts.Username,
		password:   opts.Password,
		httpClient: httpClient,
		limiter:    limiter,
		logger:     logger,
	}

	// The first request only establishes the session cookie; its status is ignored.
	if err := c.do(ctx, "open session", http.MethodGet, "", nil, 0, nil); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", opts.BaseURL, err)
	}

	var token csrfToken
	if err := c.do(ctx, "get csrf token", http.MethodGet, csrfPath, nil, http.StatusOK, &token); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCSRF, err)
	}
	if token.NonceKey == "" || token.NonceValue == "" {
		return nil, fmt.Errorf("%w: nonce missing in response", ErrCSRF)
	}
	c.nonceKey, c.nonceValue = token.NonceKey, token.NonceValue

	logger.Info("connected to plm server", zap.String("url", opts.BaseURL), zap.String("user", opts.Username))
	return c, nil
}

// Products lists the product containers.
func (c *Client) Products(ctx context.Context) ([]Product, error) {
	var out struct {
		Value []Product `json:"value"`
	}
	if err := c.do(ctx, "list products", http.MethodGet, productsPath, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out.Value, nil
}

// ProductMap returns product container ids keyed by name.
func (c *Client) ProductMap(ctx context.Context) (map[string]string, error) {
	products, err := c.Products(ctx)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, len(products))
	for _, p := range products {
		m[p.Name] = p.ID
	}
	return m, nil
}

// CreatePart creates a made, separable end-item part in the given container.
func (c *Client) CreatePart(ctx context.Context, name, number, containerID string) (*Part, error) {
	var out Part
	if err := c.do(ctx, "create part", http.MethodPost, partsPath, newPartRequest(name, number, containerID), http.StatusCreated, &out); err != nil {
		return nil, err
	}
	c.logger.Debug("created part", zap.String("part.id", out.ID), zap.String("number", number))
	return &out, nil
}

// do sends one request and expects status want; want 0 accepts any status.
func (c *Client) do(ctx context.Context, op, method, path string, in any, want int, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limiter: %w", op, err)
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.odataURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.nonceKey != "" {
		req.Header.Set(c.nonceKey, c.nonceValue)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if want != 0 && resp.StatusCode != want {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return fmt.Errorf("%w: %s: status %d: %s", ErrRequest, op, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
