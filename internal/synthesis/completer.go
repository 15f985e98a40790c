package synthesis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fyrsmithlabs/almseed/internal/config"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Auth header styles for the chat completer.
const (
	AuthAzure  = "azure"  // api-key header, deployment-scoped URL
	AuthBearer = "bearer" // Authorization: Bearer, OpenAI-compatible /v1 URL
)

const (
	defaultModel       = "gpt-4o-mini"
	defaultAPIVersion  = "2025-01-01-preview"
	defaultMaxTokens   = 4000
	defaultTemperature = 0.5
	defaultTimeout     = 120 * time.Second
	maxErrorBodySize   = 2048
)

// Completer sends one system + user message exchange and returns the reply text.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Config configures a Completer.
type Config struct {
	Provider    string // chat (default) or langchain
	Endpoint    string
	APIKey      string `json:"-"`
	AuthStyle   string
	Model       string
	APIVersion  string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	// RateLimit is the sustained requests per second; 0 disables pacing.
	RateLimit float64
}

// FromAppConfig converts the application synthesis section.
func FromAppConfig(c config.SynthesisConfig) Config {
	return Config{
		Provider:    c.Provider,
		Endpoint:    c.Endpoint,
		APIKey:      c.APIKey.Value(),
		AuthStyle:   c.AuthStyle,
		Model:       c.Model,
		APIVersion:  c.APIVersion,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
		Timeout:     c.Timeout,
	}
}

// applyDefaults fills zero values. A zero Temperature is treated as unset.
func (c *Config) applyDefaults() {
	if c.Provider == "" {
		c.Provider = "chat"
	}
	if c.AuthStyle == "" {
		c.AuthStyle = AuthAzure
	}
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.APIVersion == "" {
		c.APIVersion = defaultAPIVersion
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.Temperature == 0 {
		c.Temperature = defaultTemperature
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
}

// NewCompleter builds the completer named by cfg.Provider.
func NewCompleter(cfg Config, logger *zap.Logger) (Completer, error) {
	cfg.applyDefaults()
	switch cfg.Provider {
	case "chat":
		return newChatCompleter(cfg, nil, logger)
	case "langchain":
		return newLangchainCompleter(cfg, nil)
	default:
		return nil, fmt.Errorf("unknown synthesis provider %q", cfg.Provider)
	}
}

// chatCompleter calls an OpenAI-style chat-completions endpoint directly.
type chatCompleter struct {
	url         string
	authStyle   string
	apiKey      string `json:"-"` // Never serialize API keys
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	limiter     *rate.Limiter
	logger      *zap.Logger
}

func newChatCompleter(cfg Config, httpClient *http.Client, logger *zap.Logger) (*chatCompleter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("synthesis API key required")
	}
	endpoint, err := chatURL(cfg)
	if err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	return &chatCompleter{
		url:         endpoint,
		authStyle:   cfg.AuthStyle,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		httpClient:  httpClient,
		limiter:     limiter,
		logger:      logger,
	}, nil
}

// chatURL resolves the request URL. An endpoint that already names a
// chat/completions path is used as is.
func chatURL(cfg Config) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if base == "" {
		return "", errors.New("synthesis endpoint required")
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid synthesis endpoint %q", cfg.Endpoint)
	}
	if strings.HasSuffix(u.Path, "/chat/completions") {
		return base, nil
	}

	switch cfg.AuthStyle {
	case AuthAzure:
		u = u.JoinPath("openai", "deployments", cfg.Model, "chat", "completions")
		q := u.Query()
		q.Set("api-version", cfg.APIVersion)
		u.RawQuery = q.Encode()
	case AuthBearer:
		u = u.JoinPath("v1", "chat", "completions")
	default:
		return "", fmt.Errorf("unknown auth style %q", cfg.AuthStyle)
	}
	return u.String(), nil
}

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends exactly one request. Any non-200 status is returned as an
// error without retry.
func (c *chatCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter error: %w", err)
	}

	req := chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}
	// Azure selects the model by deployment URL.
	if c.authStyle == AuthBearer {
		req.Model = c.model
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.authStyle == AuthAzure {
		httpReq.Header.Set("api-key", c.apiKey)
	} else {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("empty response from API")
	}

	c.logger.Debug("completion received",
		zap.Duration("duration", time.Since(start)),
		zap.Int("chars", len(out.Choices[0].Message.Content)))
	return out.Choices[0].Message.Content, nil
}
