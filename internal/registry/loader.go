package registry

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Harshitk-cp/leandeep/internal/domain"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatForPath picks the decoder from the file extension.
func FormatForPath(path string) Format {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml") {
		return FormatYAML
	}
	return FormatJSON
}

type rawMarker struct {
	Layer            string         `json:"layer" yaml:"layer"`
	Lang             string         `json:"lang" yaml:"lang"`
	Description      string         `json:"description" yaml:"description"`
	Frame            map[string]any `json:"frame" yaml:"frame"`
	Patterns         []any          `json:"patterns" yaml:"patterns"`
	Examples         map[string]any `json:"examples" yaml:"examples"`
	Tags             []string       `json:"tags" yaml:"tags"`
	Rating           *int           `json:"rating" yaml:"rating"`
	ComposedOf       any            `json:"composed_of" yaml:"composed_of"`
	Activation       any            `json:"activation" yaml:"activation"`
	Scoring          map[string]any `json:"scoring" yaml:"scoring"`
	Window           map[string]any `json:"window" yaml:"window"`
	Family           string         `json:"ld5_family" yaml:"ld5_family"`
	Multiplier       *float64       `json:"ld5_multiplier" yaml:"ld5_multiplier"`
	DetectClass      string         `json:"detect_class" yaml:"detect_class"`
	Compositionality string         `json:"compositionality" yaml:"compositionality"`
	VADEstimate      *domain.VAD    `json:"vad_estimate" yaml:"vad_estimate"`
	EffectOnState    map[string]any `json:"effect_on_state" yaml:"effect_on_state"`
	Semiotic         map[string]any `json:"semiotic" yaml:"semiotic"`
	AbsenceSets      map[string]any `json:"absence_sets" yaml:"absence_sets"`
	GatingConflict   map[string]any `json:"gating_conflict" yaml:"gating_conflict"`
}

type rawDocument struct {
	Engine  map[string]any
	Markers map[string]rawMarker
	Broken  map[string]error // entries that could not be decoded
}

func decodeDocument(data []byte, format Format) (*rawDocument, error) {
	doc := &rawDocument{Markers: make(map[string]rawMarker), Broken: make(map[string]error)}
	switch format {
	case FormatYAML:
		var top struct {
			Engine  map[string]any       `yaml:"ld5_engine"`
			Markers map[string]yaml.Node `yaml:"markers"`
		}
		if err := yaml.Unmarshal(data, &top); err != nil {
			return nil, err
		}
		if top.Markers == nil {
			return nil, fmt.Errorf("document has no markers map")
		}
		doc.Engine = top.Engine
		for id, node := range top.Markers {
			var m rawMarker
			if err := node.Decode(&m); err != nil {
				doc.Broken[id] = err
				continue
			}
			doc.Markers[id] = m
		}
	default:
		var top struct {
			Engine  map[string]any             `json:"ld5_engine"`
			Markers map[string]json.RawMessage `json:"markers"`
		}
		if err := json.Unmarshal(data, &top); err != nil {
			return nil, err
		}
		if top.Markers == nil {
			return nil, fmt.Errorf("document has no markers map")
		}
		doc.Engine = top.Engine
		for id, raw := range top.Markers {
			var m rawMarker
			if err := json.Unmarshal(raw, &m); err != nil {
				doc.Broken[id] = err
				continue
			}
			doc.Markers[id] = m
		}
	}
	return doc, nil
}

// parseMarker turns one decoded entry into a compiled definition. Pattern
// compile failures are recorded on the pattern and in stats.
func parseMarker(id string, raw rawMarker, stats *LoadStats, logger *zap.Logger) *domain.MarkerDefinition {
	m := &domain.MarkerDefinition{
		ID:               id,
		Layer:            domain.Layer(raw.Layer),
		Lang:             raw.Lang,
		Description:      raw.Description,
		Frame:            raw.Frame,
		Examples:         raw.Examples,
		Tags:             raw.Tags,
		Rating:           2,
		Composition:      parseComposition(raw.ComposedOf),
		Activation:       raw.Activation,
		Scoring:          raw.Scoring,
		Window:           raw.Window,
		Family:           raw.Family,
		Multiplier:       1.0,
		DetectClass:      raw.DetectClass,
		Compositionality: domain.Compositionality(raw.Compositionality),
		Semiotic:         raw.Semiotic,
	}
	if m.Layer == "" {
		m.Layer = "UNKNOWN"
	}
	if m.Lang == "" {
		m.Lang = "de"
	}
	if m.Tags == nil {
		m.Tags = []string{}
	}
	if raw.Rating != nil {
		m.Rating = *raw.Rating
	}
	if raw.Multiplier != nil {
		m.Multiplier = *raw.Multiplier
	}

	for _, p := range raw.Patterns {
		kind, value, flags, ok := patternSpec(p)
		if !ok {
			stats.PatternsSkipped++
			continue
		}
		pat := domain.CompilePattern(value, kind, flags)
		stats.PatternsTotal++
		if !pat.Compiled() {
			stats.PatternsFailed++
			logger.Debug("pattern compile failure",
				zap.String("marker_id", id),
				zap.String("pattern", value),
				zap.Error(pat.Err))
		}
		m.Patterns = append(m.Patterns, pat)
	}

	if raw.VADEstimate != nil {
		v := *raw.VADEstimate
		if !v.InRange() {
			logger.Warn("vad estimate out of range, clamping",
				zap.String("marker_id", id),
				zap.Float64("valence", v.Valence),
				zap.Float64("arousal", v.Arousal),
				zap.Float64("dominance", v.Dominance))
			v = v.Clamped()
		}
		m.VAD = &v
	}

	if raw.EffectOnState != nil {
		eff := &domain.StateEffect{}
		eff.Trust, _ = domain.ToFloat(raw.EffectOnState["trust"])
		eff.Conflict, _ = domain.ToFloat(raw.EffectOnState["conflict"])
		eff.Deesc, _ = domain.ToFloat(raw.EffectOnState["deesc"])
		m.EffectOnState = eff
	}

	absence := raw.AbsenceSets
	if len(absence) == 0 {
		if fromFrame, ok := raw.Frame["absence_sets"].(map[string]any); ok {
			absence = fromFrame
		}
	}
	if len(absence) > 0 {
		m.AbsenceSets = make(map[string]domain.AbsenceSet, len(absence))
		for name, v := range absence {
			def, _ := v.(map[string]any)
			m.AbsenceSets[name] = domain.AbsenceSet{
				IDs:  stringList(def["ids"]),
				Tags: stringList(def["tags"]),
			}
		}
	}

	if raw.GatingConflict != nil {
		g := &domain.GatingConflict{Raw: raw.GatingConflict, MinHits: 1}
		if n, ok := domain.ToFloat(raw.GatingConflict["min_bias_hits"]); ok {
			g.MinHits = int(n)
		} else if n, ok := domain.ToFloat(raw.GatingConflict["min_E_hits"]); ok {
			g.MinHits = int(n)
		}
		m.GatingConflict = g
	}

	return m
}

// patternSpec normalizes a pattern entry. Plain strings are regexes; objects
// carry type/value/flags. Kinds other than regex and keyword are skipped.
func patternSpec(p any) (kind, value string, flags []string, ok bool) {
	switch v := p.(type) {
	case string:
		return "regex", v, nil, true
	case map[string]any:
		kind = "regex"
		if t, isStr := v["type"].(string); isStr && t != "" {
			kind = t
		}
		if kind != "regex" && kind != "keyword" {
			return "", "", nil, false
		}
		if v["value"] != nil {
			value = fmt.Sprint(v["value"])
		}
		return kind, value, stringList(v["flags"]), true
	}
	return "", "", nil, false
}

// parseComposition maps every composed_of shape onto the Composition union.
func parseComposition(v any) domain.Composition {
	switch c := v.(type) {
	case nil:
		return domain.Composition{Kind: domain.CompositionNone}
	case string:
		if c == "" {
			return domain.Composition{Kind: domain.CompositionNone}
		}
		return domain.Composition{
			Kind: domain.CompositionList,
			Refs: []domain.CompositionRef{{IDs: []string{c}}},
			Raw:  v,
		}
	case []any:
		if len(c) == 0 {
			return domain.Composition{Kind: domain.CompositionNone, Raw: v}
		}
		comp := domain.Composition{Kind: domain.CompositionList, Raw: v}
		for _, item := range c {
			switch it := item.(type) {
			case string:
				comp.Refs = append(comp.Refs, domain.CompositionRef{IDs: []string{it}})
			case map[string]any:
				ref := domain.CompositionRef{Grouped: true, IDs: stringList(it["marker_ids"])}
				ref.Weight, _ = domain.ToFloat(it["weight"])
				comp.Refs = append(comp.Refs, ref)
			default:
				// counts toward the ratio denominator, never hits
				comp.Refs = append(comp.Refs, domain.CompositionRef{Grouped: true})
			}
		}
		return comp
	case map[string]any:
		comp := domain.Composition{Kind: domain.CompositionStructured, Raw: v}
		if req, ok := c["require"]; ok {
			comp.Require = stringList(req)
		} else {
			comp.Require = stringList(c["sem_pool"])
		}
		if neg, ok := c["negative_evidence"].(map[string]any); ok {
			comp.NegativeEvidence = stringList(neg["any_of"])
		}
		return comp
	}
	return domain.Composition{Kind: domain.CompositionNone, Raw: v}
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		if ss, ok := v.([]string); ok {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		switch s := it.(type) {
		case string:
			out = append(out, s)
		case nil:
		default:
			out = append(out, fmt.Sprint(s))
		}
	}
	return out
}
