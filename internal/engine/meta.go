package engine

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Harshitk-cp/leandeep/internal/domain"
	"github.com/Harshitk-cp/leandeep/internal/registry"
)

// Words in meta ids that name the kind of marker, not its subject.
var structuralKeywords = map[string]struct{}{
	"MARKER": {}, "TEXT": {}, "AUDIO": {}, "PROSODY": {}, "PATTERN": {}, "ALERT": {},
	"TREND": {}, "PROFILE": {}, "META": {}, "CLUSTER": {}, "ABSENCE": {}, "IN": {},
}

var (
	conflictIndicators = []string{"CONFLICT", "GRIEF", "UNCERTAINTY", "ESCALATION", "ACCUSATION", "BLAME"}
	negativeFamilies   = []string{"CONFLICT", "GRIEF", "UNCERTAINTY", "ESCALATION"}
	positiveFamilies   = []string{"SUPPORT", "COMMITMENT", "REPAIR"}
)

const (
	absenceConfidence       = 0.65
	absenceEvidenceMinConf  = 0.6
	specializedConfidence   = 0.55
	compositeClusterWeight  = 1.0
	compositeSemanticWeight = 0.5
)

type upperSet map[string]struct{}

func (s upperSet) anyOf(keys []string) bool {
	for _, k := range keys {
		if _, ok := s[k]; ok {
			return true
		}
	}
	return false
}

// metaKeywords are the subject words of a meta marker id, falling back to
// long description words when the id is all structure.
func metaKeywords(m *domain.MarkerDefinition) []string {
	var kws []string
	for _, part := range strings.Split(strings.ReplaceAll(m.ID, "MEMA_", ""), "_") {
		up := strings.ToUpper(part)
		if utf8.RuneCountInString(part) < 3 {
			continue
		}
		if _, ok := structuralKeywords[up]; ok {
			continue
		}
		kws = append(kws, up)
	}
	if len(kws) > 0 {
		return kws
	}
	words := strings.FieldsFunc(strings.ToUpper(m.Description), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	for _, w := range words {
		if utf8.RuneCountInString(w) <= 4 {
			continue
		}
		if _, ok := structuralKeywords[w]; ok {
			continue
		}
		kws = append(kws, w)
	}
	return kws
}

func countRelated(ids registry.IDSet, kws []string) int {
	n := 0
	for id := range ids {
		up := strings.ToUpper(id)
		for _, kw := range kws {
			if strings.Contains(up, kw) {
				n++
				break
			}
		}
	}
	return n
}

type metaInput struct {
	snap           *registry.Snapshot
	clusters       registry.IDSet
	semantic       registry.IDSet
	all            registry.IDSet
	clusterInfo    upperSet // upper-cased families and tags of active clusters
	strongSemantic int      // semantic detections above the absence evidence bar
}

// detectMeta diagnoses meta markers from the active clusters, semantics and
// atomics of a conversation.
func detectMeta(snap *registry.Snapshot, clusters, semantic, atomic []domain.Detection, threshold float64) []domain.Detection {
	in := metaInput{
		snap:        snap,
		clusters:    make(registry.IDSet),
		semantic:    make(registry.IDSet),
		all:         make(registry.IDSet),
		clusterInfo: make(upperSet),
	}
	for _, d := range clusters {
		in.clusters.Add(d.MarkerID)
		in.all.Add(d.MarkerID)
		if d.Family != "" {
			in.clusterInfo[strings.ToUpper(d.Family)] = struct{}{}
		}
		if m, ok := snap.Get(d.MarkerID); ok {
			for _, t := range m.Tags {
				in.clusterInfo[strings.ToUpper(t)] = struct{}{}
			}
		}
	}
	for _, d := range semantic {
		in.semantic.Add(d.MarkerID)
		in.all.Add(d.MarkerID)
		if d.Confidence > absenceEvidenceMinConf {
			in.strongSemantic++
		}
	}
	for _, d := range atomic {
		in.all.Add(d.MarkerID)
	}

	var out []domain.Detection
	for _, m := range snap.Layer(domain.LayerMeta) {
		conf, found := in.composition(m)
		if !found && len(m.AbsenceSets) > 0 {
			conf = in.absence(m)
		}
		if conf < threshold && m.DetectClass != "" {
			if c := in.detectClass(m); c > conf {
				conf = c
			}
		}
		conf = domain.Clamp01(conf)
		if conf < threshold {
			continue
		}
		out = append(out, domain.Detection{
			MarkerID:    m.ID,
			Layer:       domain.LayerMeta,
			Confidence:  domain.Round3(conf),
			Description: m.Description,
			Matches:     []domain.Match{},
			Family:      m.Family,
			Multiplier:  m.Multiplier,
		})
	}
	return out
}

func (in metaInput) composition(m *domain.MarkerDefinition) (float64, bool) {
	if m.Composition.Kind != domain.CompositionList {
		return 0, false
	}
	hits := 0
	for _, ref := range m.Composition.Refs {
		for _, id := range ref.IDs {
			if registry.ResolveRef(id, in.all) {
				hits++
			}
		}
	}
	if hits == 0 {
		return 0, false
	}
	ratio := float64(hits) / float64(m.Composition.Size())
	return 0.5 + 0.5*ratio, true
}

// absence fires when nothing named by the marker's absence sets is active.
func (in metaInput) absence(m *domain.MarkerDefinition) float64 {
	for _, set := range m.AbsenceSets {
		for _, id := range set.IDs {
			if in.all.Has(id) {
				return 0
			}
		}
		if len(set.Tags) == 0 {
			continue
		}
		for id := range in.all {
			active, ok := in.snap.Get(id)
			if !ok {
				continue
			}
			for _, t := range set.Tags {
				if active.HasTagFold(t) {
					return 0
				}
			}
		}
	}

	if m.GatingConflict.Present() && !in.clusterInfo.anyOf(conflictIndicators) {
		return 0
	}
	minHits := 1
	if m.GatingConflict != nil {
		minHits = m.GatingConflict.MinHits
	}
	if in.strongSemantic >= minHits {
		return absenceConfidence
	}
	return 0
}

func (in metaInput) detectClass(m *domain.MarkerDefinition) float64 {
	kws := metaKeywords(m)
	switch m.DetectClass {
	case "absence_meta":
		if !in.clusterInfo.anyOf(negativeFamilies) {
			return 0
		}
		if in.clusterInfo.anyOf(positiveFamilies) {
			return 0.5
		}
		return absenceConfidence
	case "trend_analysis":
		if n := countRelated(in.all, kws); n > 0 {
			return 0.5 + min(0.4, float64(n)*0.12)
		}
	case "cycle_detection":
		switch n := countRelated(in.all, kws); {
		case n >= 2:
			return 0.6
		case n == 1:
			return 0.45
		}
	case "pattern_detection":
		if n := countRelated(in.all, kws); n > 0 {
			return 0.5 + min(0.3, float64(n)*0.1)
		}
	case "composite_meta", "profile_composite", "archetype_composite":
		w := float64(countRelated(in.clusters, kws))*compositeClusterWeight +
			float64(countRelated(in.semantic, kws))*compositeSemanticWeight
		switch {
		case w >= 1.0:
			return 0.55 + min(0.35, w*0.15)
		case w >= 0.5:
			return 0.5
		}
	case "E", "coherence_calculator", "echo_detector", "evolution_pressure_analyzer", "node_crystallizer":
		if countRelated(in.all, kws) > 0 {
			return specializedConfidence
		}
	}
	return 0
}
