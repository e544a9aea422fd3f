package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type AnalysisStore interface {
	Create(ctx context.Context, run *AnalysisRun) error
	GetByID(ctx context.Context, id uuid.UUID) (*AnalysisRun, error)
	ListRecent(ctx context.Context, limit int) ([]AnalysisRun, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// DetectionEvent is what downstream consumers (discourse checking, persona
// tracking) receive for one analyzed conversation.
type DetectionEvent struct {
	AnalysisID   uuid.UUID    `json:"analysis_id"`
	RequestID    string       `json:"request_id,omitempty"`
	Messages     []Message    `json:"messages"`
	Detections   []Detection  `json:"detections"`
	MessageVAD   []VAD        `json:"message_vad"`
	StateIndices StateIndices `json:"state_indices"`
}

type DetectionPublisher interface {
	Publish(ctx context.Context, ev DetectionEvent) (string, error)
}

// EmotionScorer is an independent, text-only emotion signal source whose
// output is returned next to marker detections.
type EmotionScorer interface {
	ScoreConversation(ctx context.Context, messages []Message) ([]*EmotionScore, error)
}
