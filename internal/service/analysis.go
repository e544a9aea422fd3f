package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Harshitk-cp/leandeep/internal/domain"
	"github.com/Harshitk-cp/leandeep/internal/dynamics"
	"github.com/Harshitk-cp/leandeep/internal/engine"
	"github.com/Harshitk-cp/leandeep/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrThresholdOutOfRange = errors.New("threshold must be between 0 and 1")
	ErrTextEmpty           = errors.New("text is required")
	ErrTextTooLong         = errors.New("text exceeds maximum length")
	ErrNoMessages          = errors.New("at least one message is required")
	ErrTooManyMessages     = errors.New("too many messages")
	ErrInvalidLayer        = errors.New("invalid layer")
	ErrBatchEmpty          = errors.New("at least one conversation is required")
	ErrBatchTooLarge       = errors.New("too many conversations in batch")
	ErrAnalysisNotFound    = errors.New("analysis not found")
	ErrStoreDisabled       = errors.New("analysis persistence is not configured")
)

// Limits bound what a single request may ask for.
type Limits struct {
	DefaultThreshold float64
	MaxTextLength    int
	MaxMessages      int
	MaxBatch         int
	BatchConcurrency int
}

func DefaultLimits() Limits {
	return Limits{
		DefaultThreshold: 0.5,
		MaxTextLength:    50000,
		MaxMessages:      200,
		MaxBatch:         16,
		BatchConcurrency: 4,
	}
}

var (
	defaultTextLayers         = []domain.Layer{domain.LayerAtomic, domain.LayerSemantic}
	defaultConversationLayers = domain.AllLayers()
)

// RequestInfo identifies who asked for an analysis. It is recorded with
// persisted runs and published events.
type RequestInfo struct {
	RequestID string
	Client    string
}

type TextRequest struct {
	Text      string
	Layers    []string
	Threshold *float64
	RequestInfo
}

type ConversationRequest struct {
	Messages  []domain.Message
	Layers    []string
	Threshold *float64
	WarmStart map[string]domain.VAD
	RequestInfo
}

type AnalysisMeta struct {
	AnalysisID      *uuid.UUID `json:"analysis_id,omitempty"`
	ProcessingMS    float64    `json:"processing_ms"`
	Version         string     `json:"version"`
	TextLength      int        `json:"text_length"`
	MarkersDetected int        `json:"markers_detected"`
	LayersScanned   []string   `json:"layers_scanned"`
}

type TextAnalysis struct {
	Markers []domain.Detection `json:"markers"`
	Meta    AnalysisMeta       `json:"meta"`
}

type ConversationAnalysis struct {
	Markers          []domain.Detection       `json:"markers"`
	MessageVAD       []domain.VAD             `json:"message_vad"`
	TemporalPatterns []domain.TemporalPattern `json:"temporal_patterns"`
	Meta             AnalysisMeta             `json:"meta"`
}

type DynamicsAnalysis struct {
	Markers          []domain.Detection       `json:"markers"`
	MessageVAD       []domain.VAD             `json:"message_vad"`
	MessageEmotions  []*domain.EmotionScore   `json:"message_emotions,omitempty"`
	UEDMetrics       *domain.UEDMetrics       `json:"ued_metrics"`
	StateIndices     domain.StateIndices      `json:"state_indices"`
	SpeakerBaselines domain.SpeakerBaselines  `json:"speaker_baselines"`
	TemporalPatterns []domain.TemporalPattern `json:"temporal_patterns"`
	Meta             AnalysisMeta             `json:"meta"`
}

// BatchItem is the outcome of one conversation of a batch. Exactly one of
// Result and Error is set.
type BatchItem struct {
	Index  int                   `json:"index"`
	Result *ConversationAnalysis `json:"result,omitempty"`
	Error  string                `json:"error,omitempty"`
}

// AnalysisService validates requests, runs the engine and hands results to
// the optional store, publisher and emotion scorer.
type AnalysisService struct {
	engine    *engine.Engine
	limits    Limits
	store     domain.AnalysisStore
	publisher domain.DetectionPublisher
	scorer    domain.EmotionScorer
	logger    *zap.Logger
}

func NewAnalysisService(e *engine.Engine, limits Limits, logger *zap.Logger) *AnalysisService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalysisService{engine: e, limits: limits, logger: logger}
}

// SetStore enables persistence of analysis runs.
func (s *AnalysisService) SetStore(st domain.AnalysisStore) { s.store = st }

// SetPublisher enables hand-off of conversation detections.
func (s *AnalysisService) SetPublisher(p domain.DetectionPublisher) { s.publisher = p }

// SetScorer enables per-message emotion scores on dynamics analyses.
func (s *AnalysisService) SetScorer(sc domain.EmotionScorer) { s.scorer = sc }

func (s *AnalysisService) Limits() Limits { return s.limits }

func (s *AnalysisService) AnalyzeText(ctx context.Context, req TextRequest) (*TextAnalysis, error) {
	threshold, err := s.threshold(req.Threshold)
	if err != nil {
		return nil, err
	}
	layers, err := parseLayers(req.Layers, defaultTextLayers)
	if err != nil {
		return nil, err
	}
	if err := s.checkText(req.Text); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := s.engine.AnalyzeText(req.Text, layers, threshold)
	out := &TextAnalysis{
		Markers: sortDetections(res.Detections),
		Meta: AnalysisMeta{
			ProcessingMS:    millis(res.Timing),
			Version:         engine.Version,
			TextLength:      utf8.RuneCountInString(req.Text),
			MarkersDetected: len(res.Detections),
			LayersScanned:   layers.List(),
		},
	}
	out.Meta.AnalysisID = s.persist(ctx, domain.AnalysisText, req.RequestInfo, 1, threshold, out.Meta, out)
	return out, nil
}

func (s *AnalysisService) AnalyzeConversation(ctx context.Context, req ConversationRequest) (*ConversationAnalysis, error) {
	run, err := s.runConversation(ctx, req)
	if err != nil {
		return nil, err
	}
	out := &ConversationAnalysis{
		Markers:          run.markers,
		MessageVAD:       run.res.MessageVAD,
		TemporalPatterns: dynamics.TemporalPatterns(run.attributed, len(req.Messages)),
		Meta:             run.meta,
	}
	out.Meta.AnalysisID = s.persist(ctx, domain.AnalysisConversation, req.RequestInfo, len(req.Messages), run.threshold, out.Meta, out)
	s.publish(ctx, out.Meta.AnalysisID, req, run)
	return out, nil
}

// AnalyzeDynamics is AnalyzeConversation plus emotion trajectory metrics,
// relationship state indices and per-speaker baselines.
func (s *AnalysisService) AnalyzeDynamics(ctx context.Context, req ConversationRequest) (*DynamicsAnalysis, error) {
	run, err := s.runConversation(ctx, req)
	if err != nil {
		return nil, err
	}
	out := &DynamicsAnalysis{
		Markers:          run.markers,
		MessageVAD:       run.res.MessageVAD,
		UEDMetrics:       dynamics.ComputeUED(run.res.MessageVAD),
		StateIndices:     run.state,
		SpeakerBaselines: dynamics.ComputeSpeakerBaselines(req.Messages, run.res.MessageVAD, req.WarmStart),
		TemporalPatterns: dynamics.TemporalPatterns(run.attributed, len(req.Messages)),
		Meta:             run.meta,
	}
	if s.scorer != nil {
		scores, err := s.scorer.ScoreConversation(ctx, req.Messages)
		if err != nil {
			s.logger.Warn("emotion scoring failed", zap.String("request_id", req.RequestID), zap.Error(err))
		} else {
			out.MessageEmotions = scores
		}
	}
	out.Meta.AnalysisID = s.persist(ctx, domain.AnalysisDynamics, req.RequestInfo, len(req.Messages), run.threshold, out.Meta, out)
	s.publish(ctx, out.Meta.AnalysisID, req, run)
	return out, nil
}

// AnalyzeBatch analyzes independent conversations concurrently. A request
// that fails validation is reported in its item and does not fail the batch.
func (s *AnalysisService) AnalyzeBatch(ctx context.Context, reqs []ConversationRequest) ([]BatchItem, error) {
	if len(reqs) == 0 {
		return nil, ErrBatchEmpty
	}
	if len(reqs) > s.limits.MaxBatch {
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(reqs), s.limits.MaxBatch)
	}

	items := make([]BatchItem, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.limits.BatchConcurrency, 1))
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			items[i].Index = i
			res, err := s.AnalyzeConversation(gctx, req)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				items[i].Error = err.Error()
				return nil
			}
			items[i].Result = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

// GetAnalysis loads a persisted run.
func (s *AnalysisService) GetAnalysis(ctx context.Context, id uuid.UUID) (*domain.AnalysisRun, error) {
	if s.store == nil {
		return nil, ErrStoreDisabled
	}
	run, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrAnalysisNotFound
		}
		return nil, err
	}
	return run, nil
}

// ListAnalyses returns the most recent persisted runs.
func (s *AnalysisService) ListAnalyses(ctx context.Context, limit int) ([]domain.AnalysisRun, error) {
	if s.store == nil {
		return nil, ErrStoreDisabled
	}
	return s.store.ListRecent(ctx, limit)
}

type conversationRun struct {
	res        domain.ConversationResult
	markers    []domain.Detection
	attributed []domain.Detection // gated atomic and semantic detections
	state      domain.StateIndices
	threshold  float64
	meta       AnalysisMeta
}

func (s *AnalysisService) runConversation(ctx context.Context, req ConversationRequest) (*conversationRun, error) {
	threshold, err := s.threshold(req.Threshold)
	if err != nil {
		return nil, err
	}
	layers, err := parseLayers(req.Layers, defaultConversationLayers)
	if err != nil {
		return nil, err
	}
	if len(req.Messages) == 0 {
		return nil, ErrNoMessages
	}
	if len(req.Messages) > s.limits.MaxMessages {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyMessages, len(req.Messages), s.limits.MaxMessages)
	}
	textLength := 0
	for i, m := range req.Messages {
		if err := s.checkText(m.Text); err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		textLength += utf8.RuneCountInString(m.Text)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := s.engine.AnalyzeConversation(req.Messages, layers, threshold)

	var attributed []domain.Detection
	for _, dets := range res.Atomic {
		attributed = append(attributed, dets...)
	}
	for _, dets := range res.Semantic {
		attributed = append(attributed, dets...)
	}
	snap := s.engine.Registry().Snapshot()

	return &conversationRun{
		res:        res,
		markers:    sortDetections(res.Detections),
		attributed: attributed,
		state:      dynamics.ComputeStateIndices(attributed, snap.Get),
		threshold:  threshold,
		meta: AnalysisMeta{
			ProcessingMS:    millis(res.Timing),
			Version:         engine.Version,
			TextLength:      textLength,
			MarkersDetected: len(res.Detections),
			LayersScanned:   layers.List(),
		},
	}, nil
}

func (s *AnalysisService) threshold(t *float64) (float64, error) {
	if t == nil {
		return s.limits.DefaultThreshold, nil
	}
	if *t < 0 || *t > 1 {
		return 0, ErrThresholdOutOfRange
	}
	return *t, nil
}

func (s *AnalysisService) checkText(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrTextEmpty
	}
	if n := utf8.RuneCountInString(text); n > s.limits.MaxTextLength {
		return fmt.Errorf("%w: %d > %d", ErrTextTooLong, n, s.limits.MaxTextLength)
	}
	return nil
}

// persist stores the run when a store is configured. Storage failures are
// logged; the analysis itself already succeeded.
func (s *AnalysisService) persist(ctx context.Context, kind domain.AnalysisKind, info RequestInfo, messages int, threshold float64, meta AnalysisMeta, result any) *uuid.UUID {
	if s.store == nil {
		return nil
	}
	body, err := json.Marshal(result)
	if err != nil {
		s.logger.Warn("encode analysis result", zap.Error(err))
		return nil
	}
	run := &domain.AnalysisRun{
		ID:             uuid.New(),
		Kind:           kind,
		RequestID:      info.RequestID,
		Client:         info.Client,
		MessageCount:   messages,
		DetectionCount: meta.MarkersDetected,
		Threshold:      threshold,
		Layers:         meta.LayersScanned,
		Result:         body,
		ProcessingMS:   meta.ProcessingMS,
	}
	if err := s.store.Create(ctx, run); err != nil {
		s.logger.Warn("failed to persist analysis",
			zap.String("kind", string(kind)),
			zap.String("request_id", info.RequestID),
			zap.Error(err))
		return nil
	}
	return &run.ID
}

func (s *AnalysisService) publish(ctx context.Context, analysisID *uuid.UUID, req ConversationRequest, run *conversationRun) {
	if s.publisher == nil {
		return
	}
	ev := domain.DetectionEvent{
		RequestID:    req.RequestID,
		Messages:     req.Messages,
		Detections:   run.attributed,
		MessageVAD:   run.res.MessageVAD,
		StateIndices: run.state,
	}
	if analysisID != nil {
		ev.AnalysisID = *analysisID
	}
	if ev.Detections == nil {
		ev.Detections = []domain.Detection{}
	}
	id, err := s.publisher.Publish(ctx, ev)
	if err != nil {
		s.logger.Warn("failed to publish detections", zap.String("request_id", req.RequestID), zap.Error(err))
		return
	}
	s.logger.Debug("detections published", zap.String("entry_id", id), zap.Int("detections", len(ev.Detections)))
}

func parseLayers(raw []string, def []domain.Layer) (domain.LayerSet, error) {
	if len(raw) == 0 {
		return domain.NewLayerSet(def), nil
	}
	layers := make([]domain.Layer, 0, len(raw))
	for _, l := range raw {
		up := strings.ToUpper(strings.TrimSpace(l))
		if !domain.ValidLayer(up) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidLayer, l)
		}
		layers = append(layers, domain.Layer(up))
	}
	return domain.NewLayerSet(layers), nil
}

// sortDetections orders by confidence descending, then marker id.
func sortDetections(dets []domain.Detection) []domain.Detection {
	out := make([]domain.Detection, len(dets))
	copy(out, dets)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].MarkerID < out[j].MarkerID
	})
	return out
}

func millis(d time.Duration) float64 {
	return domain.Round3(float64(d.Microseconds()) / 1000)
}
