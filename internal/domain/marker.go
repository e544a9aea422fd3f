package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

type Layer string

const (
	LayerAtomic   Layer = "ATO"
	LayerSemantic Layer = "SEM"
	LayerCluster  Layer = "CLU"
	LayerMeta     Layer = "MEMA"
)

func ValidLayer(l string) bool {
	switch Layer(l) {
	case LayerAtomic, LayerSemantic, LayerCluster, LayerMeta:
		return true
	}
	return false
}

func AllLayers() []Layer {
	return []Layer{LayerAtomic, LayerSemantic, LayerCluster, LayerMeta}
}

// LayerSet is the set of layers a caller asked for.
type LayerSet map[Layer]bool

func NewLayerSet(layers []Layer) LayerSet {
	if len(layers) == 0 {
		layers = AllLayers()
	}
	s := make(LayerSet, len(layers))
	for _, l := range layers {
		s[l] = true
	}
	return s
}

func (s LayerSet) Has(l Layer) bool { return s[l] }

func (s LayerSet) Any(layers ...Layer) bool {
	for _, l := range layers {
		if s[l] {
			return true
		}
	}
	return false
}

func (s LayerSet) List() []string {
	out := make([]string, 0, len(s))
	for _, l := range AllLayers() {
		if s[l] {
			out = append(out, string(l))
		}
	}
	return out
}

type Compositionality string

const (
	CompositionalityDeterministic Compositionality = "deterministic"
	CompositionalityContextual    Compositionality = "contextual"
	CompositionalityEmergent      Compositionality = "emergent"
)

// Discount is the factor applied to a satisfied composition.
func (c Compositionality) Discount() float64 {
	switch c {
	case CompositionalityContextual:
		return 0.70
	case CompositionalityEmergent:
		return 0.50
	default:
		return 1.0
	}
}

// VAD is a valence/arousal/dominance point.
type VAD struct {
	Valence   float64 `json:"valence" yaml:"valence"`
	Arousal   float64 `json:"arousal" yaml:"arousal"`
	Dominance float64 `json:"dominance" yaml:"dominance"`
}

// Intensity is |valence| + arousal.
func (v VAD) Intensity() float64 {
	if v.Valence < 0 {
		return -v.Valence + v.Arousal
	}
	return v.Valence + v.Arousal
}

// Clamped returns v limited to valence [-1,1], arousal [0,1], dominance [0,1].
func (v VAD) Clamped() VAD {
	return VAD{
		Valence:   clamp(v.Valence, -1, 1),
		Arousal:   clamp(v.Arousal, 0, 1),
		Dominance: clamp(v.Dominance, 0, 1),
	}
}

func (v VAD) InRange() bool {
	return v == v.Clamped()
}

// StateEffect holds the deltas a marker contributes to relationship state.
type StateEffect struct {
	Trust    float64 `json:"trust"`
	Conflict float64 `json:"conflict"`
	Deesc    float64 `json:"deesc"`
}

type CompositionKind int

const (
	CompositionNone CompositionKind = iota
	CompositionList
	CompositionStructured
)

// CompositionRef is one entry of a list composition. A plain id has exactly
// one element in IDs and Grouped=false; a {marker_ids, weight} entry is Grouped.
type CompositionRef struct {
	IDs     []string `json:"marker_ids"`
	Weight  float64  `json:"weight,omitempty"`
	Grouped bool     `json:"-"`
}

// Composition is the tagged union of the composed_of forms a registry may use.
type Composition struct {
	Kind             CompositionKind
	Refs             []CompositionRef
	Require          []string
	NegativeEvidence []string
	Raw              any
}

// Size is the denominator used for hit ratios.
func (c Composition) Size() int {
	switch c.Kind {
	case CompositionList:
		return len(c.Refs)
	case CompositionStructured:
		return len(c.Require)
	}
	return 0
}

// ReferencedIDs lists every id the composition points to.
func (c Composition) ReferencedIDs() []string {
	var ids []string
	switch c.Kind {
	case CompositionList:
		for _, r := range c.Refs {
			ids = append(ids, r.IDs...)
		}
	case CompositionStructured:
		ids = append(ids, c.Require...)
		ids = append(ids, c.NegativeEvidence...)
	}
	return ids
}

// AbsenceSet names markers and tags that must all be inactive.
type AbsenceSet struct {
	IDs  []string `json:"ids,omitempty"`
	Tags []string `json:"tags,omitempty"`
}

// GatingConflict requires active conflict before an absence counts.
type GatingConflict struct {
	Raw     map[string]any
	MinHits int
}

func (g *GatingConflict) Present() bool {
	return g != nil && len(g.Raw) > 0
}

// Pattern is one registry pattern. A pattern whose regex failed to compile is
// kept with a nil matcher and never matches.
type Pattern struct {
	Raw     string
	Kind    string
	Flags   []string
	Err     error
	matcher *regexp2.Regexp
}

const patternMatchTimeout = 250 * time.Millisecond

var errEmptyPattern = errors.New("empty pattern")

// CompilePattern compiles raw with case-insensitive matching plus MULTILINE /
// DOTALL when listed in flags.
func CompilePattern(raw, kind string, flags []string) Pattern {
	p := Pattern{Raw: raw, Kind: kind, Flags: flags}
	if strings.TrimSpace(raw) == "" {
		p.Err = errEmptyPattern
		return p
	}
	opts := regexp2.RegexOptions(regexp2.IgnoreCase)
	for _, f := range flags {
		switch strings.ToUpper(f) {
		case "MULTILINE":
			opts |= regexp2.Multiline
		case "DOTALL":
			opts |= regexp2.Singleline
		}
	}
	re, err := regexp2.Compile(raw, opts)
	if err != nil {
		p.Err = err
		return p
	}
	re.MatchTimeout = patternMatchTimeout
	p.matcher = re
	return p
}

func (p Pattern) Compiled() bool { return p.matcher != nil }

// PatternHit is a raw regex hit with rune offsets.
type PatternHit struct {
	Start int
	End   int
	Text  string
}

// FindAll returns every non-overlapping hit in text. A timeout ends the scan.
func (p Pattern) FindAll(text string) []PatternHit {
	if p.matcher == nil {
		return nil
	}
	var hits []PatternHit
	m, err := p.matcher.FindStringMatch(text)
	for err == nil && m != nil {
		hits = append(hits, PatternHit{Start: m.Index, End: m.Index + m.Length, Text: m.String()})
		m, err = p.matcher.FindNextMatch(m)
	}
	return hits
}

// MarkerDefinition is a compiled registry entry. It is never mutated after load.
type MarkerDefinition struct {
	ID               string                `json:"id"`
	Layer            Layer                 `json:"layer"`
	Lang             string                `json:"lang"`
	Description      string                `json:"description"`
	Frame            map[string]any        `json:"frame,omitempty"`
	Patterns         []Pattern             `json:"-"`
	Examples         map[string]any        `json:"examples,omitempty"`
	Tags             []string              `json:"tags"`
	Rating           int                   `json:"rating"`
	Composition      Composition           `json:"-"`
	Activation       any                   `json:"activation,omitempty"`
	Scoring          map[string]any        `json:"scoring,omitempty"`
	Window           map[string]any        `json:"window,omitempty"`
	Family           string                `json:"family,omitempty"`
	Multiplier       float64               `json:"multiplier"`
	DetectClass      string                `json:"detect_class,omitempty"`
	Compositionality Compositionality      `json:"compositionality,omitempty"`
	VAD              *VAD                  `json:"vad_estimate,omitempty"`
	EffectOnState    *StateEffect          `json:"effect_on_state,omitempty"`
	Semiotic         map[string]any        `json:"semiotic,omitempty"`
	AbsenceSets      map[string]AbsenceSet `json:"absence_sets,omitempty"`
	GatingConflict   *GatingConflict       `json:"-"`
}

func (m *MarkerDefinition) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// HasTagFold is HasTag ignoring case.
func (m *MarkerDefinition) HasTagFold(tag string) bool {
	for _, t := range m.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

func (m *MarkerDefinition) CompiledPatternCount() int {
	n := 0
	for _, p := range m.Patterns {
		if p.Compiled() {
			n++
		}
	}
	return n
}

// ScoringBase returns scoring.base, defaulting to 1.
func (m *MarkerDefinition) ScoringBase() float64 {
	if v, ok := ToFloat(m.Scoring["base"]); ok {
		return v
	}
	return 1.0
}

// WindowMessages returns window.messages, defaulting to 10.
func (m *MarkerDefinition) WindowMessages() int {
	if v, ok := ToFloat(m.Window["messages"]); ok {
		return int(v)
	}
	return 10
}

// ToFloat converts the numeric shapes JSON and YAML decoders produce.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
