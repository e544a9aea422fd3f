package engine

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Harshitk-cp/leandeep/internal/domain"
	"github.com/Harshitk-cp/leandeep/internal/registry"
	"go.uber.org/zap"
)

// Version is reported alongside every analysis.
const Version = "5.1-LD5"

// minMessageRunes is the shortest noise-stripped message that is analyzed.
const minMessageRunes = 2

// Engine runs the ATO → SEM → CLU → MEMA pipeline against the registry's
// current snapshot. It is safe for concurrent use.
type Engine struct {
	reg    *registry.Registry
	gate   GateConfig
	logger *zap.Logger
}

func New(reg *registry.Registry, gate GateConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{reg: reg, gate: gate, logger: logger}
}

func (e *Engine) Registry() *registry.Registry { return e.reg }

func (e *Engine) Gate() GateConfig { return e.gate }

// AnalyzeText runs the atomic and semantic layers over a single text.
// Cluster and meta layers need a conversation and are never produced here.
func (e *Engine) AnalyzeText(text string, layers domain.LayerSet, threshold float64) domain.TextResult {
	start := time.Now()
	snap := e.reg.Snapshot()
	clean := StripTechnicalNoise(text)

	res := domain.TextResult{Detections: []domain.Detection{}}
	var atoms []domain.Detection
	if layers.Any(domain.AllLayers()...) {
		atoms = detectAtomic(snap, clean, threshold)
		if layers.Has(domain.LayerAtomic) {
			res.Detections = append(res.Detections, visible(snap, atoms)...)
		}
	}
	if layers.Any(domain.LayerSemantic, domain.LayerCluster, domain.LayerMeta) {
		sem := detectSemantic(snap, clean, atoms, threshold)
		if layers.Has(domain.LayerSemantic) {
			res.Detections = append(res.Detections, sem...)
		}
	}
	res.Timing = time.Since(start)
	return res
}

// MessageStep is the outcome of analyzing one message of a conversation.
type MessageStep struct {
	Atomic   []domain.Detection
	Semantic []domain.Detection
	VAD      domain.VAD
	Shadow   ShadowBuffer // handed to the next message
}

// Step analyzes message idx given the previous message's shadow buffer.
// Messages with nothing left after noise stripping produce no detections and
// an empty buffer.
func (e *Engine) Step(snap *registry.Snapshot, idx int, text string, threshold float64, shadow ShadowBuffer) MessageStep {
	clean := StripTechnicalNoise(text)
	if utf8.RuneCountInString(strings.TrimSpace(clean)) < minMessageRunes {
		return MessageStep{}
	}

	raw := detectAtomic(snap, clean, threshold)
	for i := range raw {
		raw[i].MessageIndices = []int{idx}
	}
	vad := MessageVAD(snap, raw)
	gated := e.gate.Apply(raw, vad, shadow, idx)
	atoms := gated.Effective()

	sem := detectSemantic(snap, clean, atoms, threshold)
	for i := range sem {
		sem[i].MessageIndices = []int{idx}
	}
	return MessageStep{Atomic: atoms, Semantic: sem, VAD: vad, Shadow: gated.Suppressed}
}

// AnalyzeConversation runs every message in order, carrying the shadow buffer
// forward, then aggregates clusters and meta diagnoses over the whole history.
func (e *Engine) AnalyzeConversation(messages []domain.Message, layers domain.LayerSet, threshold float64) domain.ConversationResult {
	start := time.Now()
	snap := e.reg.Snapshot()

	res := domain.ConversationResult{
		Detections: []domain.Detection{},
		Atomic:     make([][]domain.Detection, len(messages)),
		Semantic:   make([][]domain.Detection, len(messages)),
	}
	var (
		shadow  ShadowBuffer
		flatATO []domain.Detection
		flatSEM []domain.Detection
	)
	for idx, msg := range messages {
		step := e.Step(snap, idx, msg.Text, threshold, shadow)
		shadow = step.Shadow
		res.Atomic[idx] = step.Atomic
		res.Semantic[idx] = step.Semantic
		flatATO = append(flatATO, step.Atomic...)
		flatSEM = append(flatSEM, step.Semantic...)
	}

	if layers.Has(domain.LayerAtomic) {
		res.Detections = append(res.Detections, visible(snap, flatATO)...)
	}
	if layers.Has(domain.LayerSemantic) {
		res.Detections = append(res.Detections, flatSEM...)
	}

	var clusters []domain.Detection
	if layers.Any(domain.LayerCluster, domain.LayerMeta) {
		clusters = detectCluster(snap, res.Semantic, res.Atomic, threshold)
		if layers.Has(domain.LayerCluster) {
			res.Detections = append(res.Detections, clusters...)
		}
	}
	if layers.Has(domain.LayerMeta) {
		res.Detections = append(res.Detections, detectMeta(snap, clusters, flatSEM, flatATO, threshold)...)
	}

	res.MessageVAD = messageVADs(len(messages), flatATO, flatSEM)
	res.Timing = time.Since(start)

	e.logger.Debug("conversation analyzed",
		zap.Int("messages", len(messages)),
		zap.Int("detections", len(res.Detections)),
		zap.Duration("duration", res.Timing))
	return res
}

// messageVADs averages the VAD of every gated atomic and semantic detection
// attributed to each message.
func messageVADs(n int, layers ...[]domain.Detection) []domain.VAD {
	sums := make([]domain.VAD, n)
	counts := make([]int, n)
	for _, dets := range layers {
		for _, d := range dets {
			if d.VAD == nil {
				continue
			}
			for _, idx := range d.MessageIndices {
				if idx < 0 || idx >= n {
					continue
				}
				sums[idx].Valence += d.VAD.Valence
				sums[idx].Arousal += d.VAD.Arousal
				sums[idx].Dominance += d.VAD.Dominance
				counts[idx]++
			}
		}
	}
	out := make([]domain.VAD, n)
	for i := range out {
		if counts[i] == 0 {
			continue
		}
		c := float64(counts[i])
		out[i] = domain.VAD{
			Valence:   domain.Round3(sums[i].Valence / c),
			Arousal:   domain.Round3(sums[i].Arousal / c),
			Dominance: domain.Round3(sums[i].Dominance / c),
		}
	}
	return out
}

// GetMarker looks up one marker definition in the current snapshot.
func (e *Engine) GetMarker(id string) (*domain.MarkerDefinition, bool) {
	return e.reg.Snapshot().Get(id)
}

// SearchMarkers returns one page of markers matching q and the total count.
func (e *Engine) SearchMarkers(q registry.SearchQuery) ([]*domain.MarkerDefinition, int) {
	return e.reg.Snapshot().Search(q)
}
