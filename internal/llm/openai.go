package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

const (
	openAIChatURL = "https://api.openai.com/v1/chat/completions"
	chatModel     = "gpt-4o-mini"

	cerebrasAPIURL = "https://api.cerebras.ai/v1/chat/completions"
	cerebrasModel  = "llama-3.3-70b"
)

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	apiKey     string
	url        string
	model      string
	httpClient *http.Client
}

func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{
		apiKey:     apiKey,
		url:        openAIChatURL,
		model:      chatModel,
		httpClient: newHTTPClient(),
	}
}

// NewCerebrasClient returns a client for Cerebras, which uses the OpenAI wire format.
func NewCerebrasClient(apiKey string) *OpenAIClient {
	c := NewOpenAIClient(apiKey)
	c.url = cerebrasAPIURL
	c.model = cerebrasModel
	return c
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float32   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

func (c *OpenAIClient) complete(ctx context.Context, prompt string) (string, error) {
	in := chatRequest{
		Model:    c.model,
		Messages: []message{{Role: "user", Content: prompt}},
	}

	var out chatResponse
	err := postJSON(ctx, c.httpClient, c.url, map[string]string{
		"Authorization": "Bearer " + c.apiKey,
	}, in, &out)
	if err != nil {
		return "", err
	}
	if out.Error != nil {
		return "", out.Error
	}
	if len(out.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
