package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Provider constants
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderCerebras  = "cerebras"
	ProviderMock      = "mock"
)

const requestTimeout = 30 * time.Second

// completer sends a single user prompt and returns the model's text reply.
type completer interface {
	complete(ctx context.Context, prompt string) (string, error)
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: requestTimeout}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// apiError is the error object both providers embed in failed responses.
type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Type == "" {
		return "provider error: " + e.Message
	}
	return fmt.Sprintf("provider error (%s): %s", e.Type, e.Message)
}

// maxErrorBody bounds how much of a failed response ends up in the error.
const maxErrorBody = 512

// postJSON sends in as a JSON body and decodes a 200 response into out.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}
		return fmt.Errorf("provider returned status %d: %s", resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// NewScorer creates an emotion scorer backed by the named provider.
// Returns an error if the provider is unknown or the API key is empty (except for mock).
func NewScorer(provider, apiKey string, logger *zap.Logger) (*Scorer, error) {
	switch provider {
	case ProviderOpenAI:
		if apiKey == "" {
			return nil, fmt.Errorf("EMOTION_API_KEY is required for OpenAI provider")
		}
		return newScorer(NewOpenAIClient(apiKey), logger), nil

	case ProviderAnthropic:
		if apiKey == "" {
			return nil, fmt.Errorf("EMOTION_API_KEY is required for Anthropic provider")
		}
		return newScorer(NewAnthropicClient(apiKey), logger), nil

	case ProviderCerebras:
		if apiKey == "" {
			return nil, fmt.Errorf("EMOTION_API_KEY is required for Cerebras provider")
		}
		return newScorer(NewCerebrasClient(apiKey), logger), nil

	case ProviderMock:
		return newScorer(NewMockClient(), logger), nil

	default:
		return nil, fmt.Errorf("unknown emotion provider: %s (valid options: openai, anthropic, cerebras, mock)", provider)
	}
}
