package engine

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/Harshitk-cp/leandeep/internal/domain"
	"github.com/Harshitk-cp/leandeep/internal/registry"
	"github.com/dlclark/regexp2"
)

type ActivationMode string

const (
	ActivationAll     ActivationMode = "ALL"
	ActivationAtLeast ActivationMode = "AT_LEAST"
	ActivationAny     ActivationMode = "ANY"
)

// ActivationRule is a parsed activation string. MinHits is -1 for ALL.
type ActivationRule struct {
	Mode    ActivationMode
	MinHits int
}

var (
	atLeastRule = regexp2.MustCompile(`AT\s*LEAST\s+(\d+)`, regexp2.None)
	anyNRule    = regexp2.MustCompile(`ANY\s+(\d+)`, regexp2.None)
)

// ParseActivationRule understands the registry's free-text rules, e.g.
// "ANY 2 IN 3 messages", "AT_LEAST 2", "BOTH IN 1 message", "SEQUENCE".
// Anything unrecognized means ANY 1.
func ParseActivationRule(s string) ActivationRule {
	rule := strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "_", " ")

	for _, k := range []string{"ALL", "BOTH", "WEIGHTED AND", "SEQUENCE"} {
		if strings.Contains(rule, k) {
			return ActivationRule{Mode: ActivationAll, MinHits: -1}
		}
	}
	if n, ok := firstNumber(atLeastRule, rule); ok {
		return ActivationRule{Mode: ActivationAtLeast, MinHits: n}
	}
	if n, ok := firstNumber(anyNRule, rule); ok {
		return ActivationRule{Mode: ActivationAny, MinHits: n}
	}
	return ActivationRule{Mode: ActivationAny, MinHits: 1}
}

func firstNumber(re *regexp2.Regexp, s string) (int, bool) {
	m, err := re.FindStringMatch(s)
	if err != nil || m == nil {
		return 0, false
	}
	g := m.GroupByNumber(1)
	if g == nil {
		return 0, false
	}
	n, err := strconv.Atoi(g.String())
	if err != nil {
		return 0, false
	}
	return n, true
}

// activationSource picks the rule text out of the activation field.
func activationSource(v any) string {
	switch a := v.(type) {
	case string:
		return a
	case map[string]any:
		if r, ok := a["rule"]; ok {
			return fmt.Sprint(r)
		}
		if n, ok := a["min_components"]; ok {
			return fmt.Sprintf("ANY %v", n)
		}
	}
	return "ANY 1"
}

// detectSemantic activates semantic markers from the active atomics of one
// message plus each marker's own patterns over the stripped text.
func detectSemantic(snap *registry.Snapshot, text string, atoms []domain.Detection, threshold float64) []domain.Detection {
	active := make(registry.IDSet, len(atoms))
	for _, d := range atoms {
		active.Add(d.MarkerID)
	}
	guards := evaluateGuards(text, active)
	emotionActive := hasEmotionAtomic(active)

	var out []domain.Detection
	for _, m := range snap.Layer(domain.LayerSemantic) {
		conf := 0.0
		var contributing []domain.Match

		if m.Composition.Kind == domain.CompositionList {
			var hits int
			hitIDs := make(registry.IDSet)
			for _, ref := range m.Composition.Refs {
				for _, id := range ref.IDs {
					if active.Has(id) {
						hits++
						hitIDs.Add(id)
					}
				}
			}
			size := m.Composition.Size()
			ratio := float64(hits) / float64(size)

			rule := ParseActivationRule(activationSource(m.Activation))
			if rule.Mode == ActivationAll {
				rule.MinHits = size
			}
			if hits >= rule.MinHits {
				if rule.MinHits >= 2 || rule.Mode == ActivationAll {
					conf = 0.7 + 0.3*ratio
				} else {
					conf = 0.6 + 0.4*ratio
				}
				conf *= m.Compositionality.Discount()
			}
			for _, d := range atoms {
				if hitIDs.Has(d.MarkerID) {
					contributing = append(contributing, d.Matches...)
				}
			}
		}

		var own []domain.Match
		for _, p := range m.Patterns {
			for _, hit := range p.FindAll(text) {
				if utf8.RuneCountInString(strings.TrimSpace(hit.Text)) < 3 {
					continue
				}
				own = append(own, domain.Match{
					MarkerID:    m.ID,
					Pattern:     p.Raw,
					Start:       hit.Start,
					End:         hit.End,
					MatchedText: hit.Text,
					Confidence:  1.0,
				})
			}
		}
		contributing = append(contributing, own...)

		if len(own) > 0 && conf == 0 {
			conf = 0.5 + float64(len(own))*0.1*m.ScoringBase()
		}
		// Grouped refs count each member, so the ratio can pass 1.
		conf = domain.Clamp01(conf)

		if conf > 0 && emotionActive && isEmotionSemantic(m) {
			conf = domain.Clamp01(conf + guards.Sum())
		}

		if conf >= threshold && len(contributing) > 0 {
			out = append(out, domain.Detection{
				MarkerID:    m.ID,
				Layer:       domain.LayerSemantic,
				Confidence:  domain.Round3(conf),
				Description: m.Description,
				Matches:     contributing,
				VAD:         m.VAD,
			})
		}
	}
	return out
}
