package engine

import (
	"strings"

	"github.com/Harshitk-cp/leandeep/internal/domain"
	"github.com/Harshitk-cp/leandeep/internal/registry"
	"github.com/dlclark/regexp2"
)

// Atomic ids that steer emotion semantics rather than carry evidence.
const (
	guardNegation        = "ATO_NEGATION_TOKEN"
	guardIntensityHigh   = "ATO_EMO_INTENSIFIER_HIGH"
	guardIntensityLow    = "ATO_EMO_INTENSIFIER_LOW"
	guardPunctIntensity  = "ATO_EMO_PUNCT_INTENSITY"
	emotionLexiconPrefix = "ATO_EMO_LEX_"
)

var reportedSpeechIDs = []string{"ATO_REPORTED_SPEECH_VERB", "ATO_QUOTE_MARK", "ATO_HEARSAY_CUE"}

var selfReport = regexp2.MustCompile(`(?i)\b(ich\s+(bin|fühle|fuehle|habe|hab|war|werde|merke|spüre|spuere))\b`, regexp2.None)

var emotionTags = map[string]struct{}{
	"emotion": {}, "shame": {}, "anger": {}, "sadness": {}, "fear": {},
	"joy": {}, "disgust": {}, "love": {}, "envy": {}, "pride": {},
	"hope": {}, "loneliness": {}, "grief": {}, "intuition": {},
}

// Guards are the confidence modifiers for emotion semantics in one message.
type Guards struct {
	Negation       float64 `json:"negation,omitempty"`
	ReportedSpeech float64 `json:"reported_speech,omitempty"`
	IntensityHigh  float64 `json:"intensity_high,omitempty"`
	IntensityLow   float64 `json:"intensity_low,omitempty"`
	PunctIntensity float64 `json:"punct_intensity,omitempty"`
}

func (g Guards) Sum() float64 {
	return g.Negation + g.ReportedSpeech + g.IntensityHigh + g.IntensityLow + g.PunctIntensity
}

// evaluateGuards derives the modifiers from the active atomics and the text.
func evaluateGuards(text string, active registry.IDSet) Guards {
	var g Guards
	if active.Has(guardNegation) {
		g.Negation = -0.30
	}
	for _, id := range reportedSpeechIDs {
		if !active.Has(id) {
			continue
		}
		if ok, err := selfReport.MatchString(text); err != nil || !ok {
			g.ReportedSpeech = -0.20
		}
		break
	}
	if active.Has(guardIntensityHigh) {
		g.IntensityHigh = 0.15
	}
	if active.Has(guardIntensityLow) {
		g.IntensityLow = -0.10
	}
	if active.Has(guardPunctIntensity) {
		g.PunctIntensity = 0.10
	}
	return g
}

func isEmotionAtomic(id string) bool {
	return strings.HasPrefix(id, emotionLexiconPrefix)
}

func hasEmotionAtomic(active registry.IDSet) bool {
	for id := range active {
		if isEmotionAtomic(id) {
			return true
		}
	}
	return false
}

// isEmotionSemantic: tagged with an emotion family, or composed of
// emotion lexicon atomics.
func isEmotionSemantic(m *domain.MarkerDefinition) bool {
	for _, t := range m.Tags {
		if _, ok := emotionTags[t]; ok {
			return true
		}
	}
	if m.Composition.Kind != domain.CompositionList {
		return false
	}
	for _, ref := range m.Composition.Refs {
		if !ref.Grouped && len(ref.IDs) == 1 && isEmotionAtomic(ref.IDs[0]) {
			return true
		}
	}
	return false
}
