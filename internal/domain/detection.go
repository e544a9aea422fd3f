package domain

import (
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
)

// Match is one regular-expression hit. Start and End are rune offsets into
// the noise-stripped text.
type Match struct {
	MarkerID    string  `json:"marker_id"`
	Pattern     string  `json:"pattern"`
	Start       int     `json:"start"`
	End         int     `json:"end"`
	MatchedText string  `json:"matched_text"`
	Confidence  float64 `json:"confidence"`
}

// Detection is the unit every layer emits.
type Detection struct {
	MarkerID       string  `json:"marker_id"`
	Layer          Layer   `json:"layer"`
	Confidence     float64 `json:"confidence"`
	Description    string  `json:"description"`
	Matches        []Match `json:"matches"`
	Family         string  `json:"family,omitempty"`
	Multiplier     float64 `json:"multiplier,omitempty"`
	MessageIndices []int   `json:"message_indices,omitempty"`
	VAD            *VAD    `json:"vad,omitempty"`
}

// AtMessage returns a copy of d attributed to message idx.
func (d Detection) AtMessage(idx int) Detection {
	d.MessageIndices = []int{idx}
	return d
}

// Scaled returns a copy of d with its confidence multiplied by f.
func (d Detection) Scaled(f float64) Detection {
	d.Confidence = Round3(d.Confidence * f)
	return d
}

func (d Detection) InMessage(idx int) bool {
	for _, i := range d.MessageIndices {
		if i == idx {
			return true
		}
	}
	return false
}

// Message is one conversational turn.
type Message struct {
	Role string `json:"role" yaml:"role"`
	Text string `json:"text" yaml:"text"`
}

type TextResult struct {
	Detections []Detection   `json:"detections"`
	Timing     time.Duration `json:"-"`
}

// ConversationResult carries one MessageVAD entry per input message.
type ConversationResult struct {
	Detections []Detection   `json:"detections"`
	MessageVAD []VAD         `json:"message_vad"`
	Atomic     [][]Detection `json:"-"`
	Semantic   [][]Detection `json:"-"`
	Timing     time.Duration `json:"-"`
}

// StateIndices aggregates effect_on_state over a conversation.
type StateIndices struct {
	Trust               float64 `json:"trust"`
	Conflict            float64 `json:"conflict"`
	Deesc               float64 `json:"deesc"`
	ContributingMarkers int     `json:"contributing_markers"`
}

type VADSpread struct {
	Valence float64 `json:"valence"`
	Arousal float64 `json:"arousal"`
}

// UEDMetrics summarizes the emotional trajectory of a conversation.
type UEDMetrics struct {
	HomeBase     VAD       `json:"home_base"`
	Variability  VADSpread `json:"variability"`
	Instability  VADSpread `json:"instability"`
	RiseRate     float64   `json:"rise_rate"`
	RecoveryRate float64   `json:"recovery_rate"`
	Density      float64   `json:"density"`
}

type ShiftKind string

const (
	ShiftRepair     ShiftKind = "repair"
	ShiftEscalation ShiftKind = "escalation"
	ShiftVolatility ShiftKind = "volatility"
)

type SpeakerDelta struct {
	Speaker   string     `json:"speaker"`
	DeltaV    float64    `json:"delta_v"`
	DeltaA    float64    `json:"delta_a"`
	BaselineV float64    `json:"baseline_v"`
	BaselineA float64    `json:"baseline_a"`
	Shift     *ShiftKind `json:"shift"`
}

type SpeakerSummary struct {
	MessageCount  int     `json:"message_count"`
	BaselineFinal VAD     `json:"baseline_final"`
	ValenceMean   float64 `json:"valence_mean"`
	ValenceRange  float64 `json:"valence_range"`
}

type SpeakerBaselines struct {
	Speakers        map[string]SpeakerSummary `json:"speakers"`
	PerMessageDelta []*SpeakerDelta           `json:"per_message_delta"`
}

type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

type TemporalPattern struct {
	PatternType string `json:"pattern_type"`
	MarkerID    string `json:"marker_id"`
	FirstSeen   int    `json:"first_seen"`
	LastSeen    int    `json:"last_seen"`
	Frequency   int    `json:"frequency"`
	Trend       Trend  `json:"trend"`
}

// EmotionScore is the output of an external prosody scorer for one message.
type EmotionScore struct {
	Scores        map[string]float64 `json:"scores"`
	Dominant      string             `json:"dominant"`
	DominantScore float64            `json:"dominant_score"`
	Prosody       map[string]float64 `json:"prosody,omitempty"`
}

type AnalysisKind string

const (
	AnalysisText         AnalysisKind = "text"
	AnalysisConversation AnalysisKind = "conversation"
	AnalysisDynamics     AnalysisKind = "dynamics"
)

// AnalysisRun is a persisted analysis result.
type AnalysisRun struct {
	ID             uuid.UUID       `json:"id"`
	Kind           AnalysisKind    `json:"kind"`
	RequestID      string          `json:"request_id,omitempty"`
	Client         string          `json:"client,omitempty"`
	MessageCount   int             `json:"message_count"`
	DetectionCount int             `json:"detection_count"`
	Threshold      float64         `json:"threshold"`
	Layers         []string        `json:"layers"`
	Result         json.RawMessage `json:"result"`
	ProcessingMS   float64         `json:"processing_ms"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Round3 rounds to three decimals.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// Clamp01 limits v to [0,1].
func Clamp01(v float64) float64 {
	return clamp(v, 0, 1)
}

// ClampUnit limits v to [-1,1].
func ClampUnit(v float64) float64 {
	return clamp(v, -1, 1)
}
