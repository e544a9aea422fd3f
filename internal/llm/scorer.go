package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Harshitk-cp/leandeep/internal/domain"
	"go.uber.org/zap"
)

// Emotions is the fixed label set, in tie-break order.
var Emotions = []string{"ANGER", "DISGUST", "FEAR", "JOY", "LOVE", "SADNESS", "SURPRISE"}

// minScoredLength is the shortest trimmed message that gets scored.
const minScoredLength = 10

// Scorer rates each message of a conversation for basic emotions with one
// model call. It implements domain.EmotionScorer.
type Scorer struct {
	client completer
	logger *zap.Logger
}

func newScorer(c completer, logger *zap.Logger) *Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{client: c, logger: logger}
}

type ratedMessage struct {
	Index  int                `json:"index"`
	Scores map[string]float64 `json:"scores"`
}

// ScoreConversation returns one entry per message. Entries for messages that
// are too short or that the model skipped are nil.
func (s *Scorer) ScoreConversation(ctx context.Context, messages []domain.Message) ([]*domain.EmotionScore, error) {
	out := make([]*domain.EmotionScore, len(messages))

	var sb strings.Builder
	scored := 0
	for i, m := range messages {
		text := strings.TrimSpace(m.Text)
		if utf8.RuneCountInString(text) < minScoredLength {
			continue
		}
		fmt.Fprintf(&sb, "%d. %s\n", i, strings.ReplaceAll(text, "\n", " "))
		scored++
	}
	if scored == 0 {
		return out, nil
	}

	result, err := s.client.complete(ctx, fmt.Sprintf(emotionPrompt, sb.String()))
	if err != nil {
		return nil, fmt.Errorf("score emotions: %w", err)
	}

	var rated []ratedMessage
	if err := json.Unmarshal([]byte(stripFences(result)), &rated); err != nil {
		return nil, fmt.Errorf("parse emotion scores: %w (raw: %s)", err, result)
	}

	for _, r := range rated {
		if r.Index < 0 || r.Index >= len(out) {
			s.logger.Debug("emotion score for unknown message", zap.Int("index", r.Index))
			continue
		}
		out[r.Index] = normalizeScores(r.Scores)
	}
	return out, nil
}

// normalizeScores keeps the known labels, clamps them to [0,1] and picks the
// dominant one. The earliest label wins ties.
func normalizeScores(raw map[string]float64) *domain.EmotionScore {
	es := &domain.EmotionScore{Scores: make(map[string]float64, len(Emotions))}
	for _, e := range Emotions {
		v := raw[e]
		if v == 0 {
			v = raw[strings.ToLower(e)]
		}
		v = domain.Round3(min(max(v, 0), 1))
		es.Scores[e] = v
		if v > es.DominantScore {
			es.Dominant = e
			es.DominantScore = v
		}
	}
	if es.Dominant == "" {
		es.Dominant = "NEUTRAL"
	}
	return es
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
