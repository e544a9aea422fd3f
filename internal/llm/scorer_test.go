package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Harshitk-cp/leandeep/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var _ domain.EmotionScorer = (*Scorer)(nil)

var conversation = []domain.Message{
	{Role: "A", Text: "Ich bin so wütend auf dich!"},
	{Role: "B", Text: "ok"},
	{Role: "A", Text: "Das macht mich wirklich traurig."},
}

func TestScoreConversation(t *testing.T) {
	mock := NewMockClient()
	mock.Response = "```json\n" + `[
		{"index": 0, "scores": {"ANGER": 0.8, "SADNESS": 0.2, "JOY": -0.5}},
		{"index": 2, "scores": {"sadness": 0.9, "FEAR": 1.7}},
		{"index": 7, "scores": {"JOY": 1}}
	]` + "\n```"
	s := newScorer(mock, zap.NewNop())

	scores, err := s.ScoreConversation(context.Background(), conversation)
	require.NoError(t, err)
	require.Len(t, scores, 3)

	require.NotNil(t, scores[0])
	assert.Equal(t, "ANGER", scores[0].Dominant)
	assert.Equal(t, 0.8, scores[0].DominantScore)
	assert.Equal(t, 0.0, scores[0].Scores["JOY"])
	assert.Len(t, scores[0].Scores, len(Emotions))

	assert.Nil(t, scores[1], "short messages are not scored")

	require.NotNil(t, scores[2])
	assert.Equal(t, "FEAR", scores[2].Dominant, "clamped to 1 beats 0.9")
	assert.Equal(t, 1.0, scores[2].DominantScore)
	assert.Equal(t, 0.9, scores[2].Scores["SADNESS"])

	require.Len(t, mock.Prompts, 1)
	assert.Contains(t, mock.Prompts[0], "0. Ich bin so wütend auf dich!")
	assert.NotContains(t, mock.Prompts[0], "1. ok")
	assert.Contains(t, mock.Prompts[0], "2. Das macht mich wirklich traurig.")
}

func TestScoreConversationSkipsModelWhenNothingToScore(t *testing.T) {
	mock := NewMockClient()
	s := newScorer(mock, nil)

	scores, err := s.ScoreConversation(context.Background(), []domain.Message{{Role: "A", Text: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, []*domain.EmotionScore{nil}, scores)
	assert.Empty(t, mock.Prompts)
}

func TestScoreConversationErrors(t *testing.T) {
	mock := NewMockClient()
	mock.Error = errors.New("boom")
	_, err := newScorer(mock, nil).ScoreConversation(context.Background(), conversation)
	assert.ErrorContains(t, err, "boom")

	mock = NewMockClient()
	mock.Response = "not json"
	_, err = newScorer(mock, nil).ScoreConversation(context.Background(), conversation)
	assert.ErrorContains(t, err, "parse emotion scores")
}

func TestNormalizeScoresNeutral(t *testing.T) {
	es := normalizeScores(nil)
	assert.Equal(t, "NEUTRAL", es.Dominant)
	assert.Zero(t, es.DominantScore)
}

func TestOpenAIClientComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		var req chatRequest
		assert.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, chatModel, req.Model)
		if assert.Len(t, req.Messages, 1) {
			assert.True(t, strings.HasPrefix(req.Messages[0].Content, "You are an emotion rater"))
		}

		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": " [{\"index\": 0, \"scores\": {\"JOY\": 0.6}}] "}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("test-key")
	c.url = srv.URL
	scores, err := newScorer(c, nil).ScoreConversation(context.Background(), conversation[:1])
	require.NoError(t, err)
	require.NotNil(t, scores[0])
	assert.Equal(t, "JOY", scores[0].Dominant)
}

func TestOpenAIClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "slow down"}}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("k")
	c.url = srv.URL
	_, err := c.complete(context.Background(), "hi")
	assert.ErrorContains(t, err, "status 429")
}

func TestAnthropicClientComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		_, _ = w.Write([]byte(`{"content": [{"type": "text", "text": "[]"}]}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient("k")
	c.url = srv.URL
	out, err := c.complete(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "[]", out)
}

func TestAnthropicClientErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content": [], "error": {"type": "overloaded_error", "message": "busy"}}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient("k")
	c.url = srv.URL
	_, err := c.complete(context.Background(), "hi")
	assert.EqualError(t, err, "provider error (overloaded_error): busy")
}

func TestNewScorer(t *testing.T) {
	_, err := NewScorer(ProviderOpenAI, "", nil)
	assert.Error(t, err)
	_, err = NewScorer("nope", "k", nil)
	assert.Error(t, err)

	for _, p := range []string{ProviderOpenAI, ProviderAnthropic, ProviderCerebras, ProviderMock} {
		s, err := NewScorer(p, "k", nil)
		require.NoError(t, err, p)
		assert.NotNil(t, s)
	}

	s, _ := NewScorer(ProviderCerebras, "k", nil)
	c := s.client.(*OpenAIClient)
	assert.Equal(t, cerebrasModel, c.model)
}
