package synthesis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type capturedChat struct {
	path   string
	query  string
	header http.Header
	body   map[string]any
}

func newChatServer(t *testing.T, status int, reply string) (*httptest.Server, *capturedChat) {
	t.Helper()
	got := &capturedChat{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		got.query = r.URL.RawQuery
		got.header = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&got.body)

		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": reply},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func testConfig(endpoint, style string) Config {
	cfg := Config{Endpoint: endpoint, APIKey: "sk-test", AuthStyle: style}
	cfg.applyDefaults()
	return cfg
}

func TestChatCompleter_Azure(t *testing.T) {
	srv, got := newChatServer(t, http.StatusOK, "- name: a")
	c, err := newChatCompleter(testConfig(srv.URL, AuthAzure), srv.Client(), zap.NewNop())
	require.NoError(t, err)

	reply, err := c.Complete(context.Background(), systemMessage, "make things")
	require.NoError(t, err)
	assert.Equal(t, "- name: a", reply)

	assert.Equal(t, "/openai/deployments/gpt-4o-mini/chat/completions", got.path)
	assert.Equal(t, "api-version=2025-01-01-preview", got.query)
	assert.Equal(t, "sk-test", got.header.Get("api-key"))
	assert.Empty(t, got.header.Get("Authorization"))

	assert.Equal(t, float64(4000), got.body["max_tokens"])
	assert.Equal(t, 0.5, got.body["temperature"])
	assert.NotContains(t, got.body, "model")
	msgs := got.body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, map[string]any{"role": "system", "content": "You are a helpful assistant."}, msgs[0])
	assert.Equal(t, map[string]any{"role": "user", "content": "make things"}, msgs[1])
}

func TestChatCompleter_Bearer(t *testing.T) {
	srv, got := newChatServer(t, http.StatusOK, "ok")
	c, err := newChatCompleter(testConfig(srv.URL, AuthBearer), srv.Client(), nil)
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), "s", "p")
	require.NoError(t, err)
	assert.Equal(t, "/v1/chat/completions", got.path)
	assert.Equal(t, "Bearer sk-test", got.header.Get("Authorization"))
	assert.Equal(t, "gpt-4o-mini", got.body["model"])
}

func TestChatCompleter_FullEndpointUsedAsIs(t *testing.T) {
	srv, got := newChatServer(t, http.StatusOK, "ok")
	endpoint := srv.URL + "/openai/deployments/custom/chat/completions?api-version=2024-02-01"
	c, err := newChatCompleter(testConfig(endpoint, AuthAzure), srv.Client(), nil)
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), "s", "p")
	require.NoError(t, err)
	assert.Equal(t, "/openai/deployments/custom/chat/completions", got.path)
	assert.Equal(t, "api-version=2024-02-01", got.query)
}

func TestChatCompleter_NonOKIsError(t *testing.T) {
	srv, _ := newChatServer(t, http.StatusTooManyRequests, "")
	c, err := newChatCompleter(testConfig(srv.URL, AuthAzure), srv.Client(), nil)
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), "s", "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestNewCompleter(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"chat", Config{Endpoint: "https://x.openai.azure.com", APIKey: "k"}, ""},
		{"langchain bearer", Config{Provider: "langchain", Endpoint: "https://api.openai.com", APIKey: "k", AuthStyle: AuthBearer}, ""},
		{"missing key", Config{Endpoint: "https://x.openai.azure.com"}, "API key required"},
		{"missing endpoint", Config{APIKey: "k"}, "endpoint required"},
		{"bad endpoint", Config{Endpoint: "not a url", APIKey: "k"}, "invalid synthesis endpoint"},
		{"unknown provider", Config{Provider: "grpc", Endpoint: "https://x", APIKey: "k"}, "unknown synthesis provider"},
		{"unknown auth style", Config{Endpoint: "https://x", APIKey: "k", AuthStyle: "oauth"}, "unknown auth style"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewCompleter(tt.cfg, nil)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, c)
		})
	}
}

func TestLangchainCompleter_Bearer(t *testing.T) {
	srv, got := newChatServer(t, http.StatusOK, "```yaml\n- name: a\n```")
	cfg := testConfig(srv.URL, AuthBearer)
	c, err := newLangchainCompleter(cfg, srv.Client())
	require.NoError(t, err)

	reply, err := c.Complete(context.Background(), systemMessage, "make things")
	require.NoError(t, err)
	assert.Equal(t, "- name: a", StripFences(reply))
	assert.True(t, strings.HasSuffix(got.path, "/chat/completions"), got.path)
	assert.Equal(t, "Bearer sk-test", got.header.Get("Authorization"))

	msgs := got.body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "user", msgs[1].(map[string]any)["role"])
}
