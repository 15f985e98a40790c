package synthesis

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

// langchainCompleter routes completions through langchaingo's OpenAI model,
// in OpenAI or Azure mode depending on the auth style.
type langchainCompleter struct {
	llm         llms.Model
	maxTokens   int
	temperature float64
}

func newLangchainCompleter(cfg Config, httpClient *http.Client) (*langchainCompleter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("synthesis API key required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if base == "" {
		return nil, errors.New("synthesis endpoint required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
		openai.WithHTTPClient(httpClient),
	}
	switch cfg.AuthStyle {
	case AuthAzure:
		opts = append(opts,
			openai.WithBaseURL(base),
			openai.WithAPIType(openai.APITypeAzure),
			openai.WithAPIVersion(cfg.APIVersion))
	case AuthBearer:
		opts = append(opts, openai.WithBaseURL(base+"/v1"))
	default:
		return nil, fmt.Errorf("unknown auth style %q", cfg.AuthStyle)
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}
	return &langchainCompleter{llm: llm, maxTokens: cfg.MaxTokens, temperature: cfg.Temperature}, nil
}

func (l *langchainCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := l.llm.GenerateContent(ctx,
		[]llms.MessageContent{
			llms.TextParts(schema.ChatMessageTypeSystem, system),
			llms.TextParts(schema.ChatMessageTypeHuman, prompt),
		},
		llms.WithMaxTokens(l.maxTokens),
		llms.WithTemperature(l.temperature),
	)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty response from API")
	}
	return resp.Choices[0].Content, nil
}
