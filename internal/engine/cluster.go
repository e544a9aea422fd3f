package engine

import (
	"sort"

	"github.com/Harshitk-cp/leandeep/internal/domain"
	"github.com/Harshitk-cp/leandeep/internal/registry"
)

const maxClusterMultiplier = 1.5

// occurrences maps every active id to the messages it appeared in.
type occurrences map[string][]int

func collectOccurrences(layers ...[][]domain.Detection) occurrences {
	occ := make(occurrences)
	for _, perMessage := range layers {
		for idx, dets := range perMessage {
			for _, d := range dets {
				occ[d.MarkerID] = append(occ[d.MarkerID], idx)
			}
		}
	}
	return occ
}

func (o occurrences) ids() registry.IDSet {
	s := make(registry.IDSet, len(o))
	for id := range o {
		s.Add(id)
	}
	return s
}

func (o occurrences) seenSince(id string, start int) bool {
	for _, idx := range o[id] {
		if idx >= start {
			return true
		}
	}
	return false
}

// detectCluster aggregates semantic and atomic detections across the whole
// conversation into cluster markers.
func detectCluster(snap *registry.Snapshot, semantic, atomic [][]domain.Detection, threshold float64) []domain.Detection {
	occ := collectOccurrences(semantic, atomic)
	active := occ.ids()
	total := len(semantic)

	var out []domain.Detection
	for _, m := range snap.Layer(domain.LayerCluster) {
		var hits []string
		switch m.Composition.Kind {
		case domain.CompositionList:
			for _, ref := range m.Composition.Refs {
				if ref.Grouped {
					continue
				}
				if registry.ResolveRef(ref.IDs[0], active) {
					hits = append(hits, ref.IDs[0])
				}
			}
		case domain.CompositionStructured:
			blocked := false
			for _, ref := range m.Composition.NegativeEvidence {
				if registry.ResolveRef(ref, active) {
					blocked = true
					break
				}
			}
			if !blocked {
				for _, ref := range m.Composition.Require {
					if registry.ResolveRef(ref, active) {
						hits = append(hits, ref)
					}
				}
			}
		}
		if len(hits) == 0 {
			continue
		}

		indices := make(map[int]struct{})
		for _, h := range hits {
			for id := range active {
				if registry.Covers(h, id) {
					for _, idx := range occ[id] {
						indices[idx] = struct{}{}
					}
				}
			}
		}

		start := total - m.WindowMessages()
		if start < 0 {
			start = 0
		}
		var inWindow []string
		for _, h := range hits {
			if occ.seenSince(h, start) {
				inWindow = append(inWindow, h)
			}
		}
		if len(inWindow) == 0 {
			for _, h := range hits {
				for id := range active {
					if registry.Covers(h, id) && occ.seenSince(id, start) {
						inWindow = append(inWindow, h)
						break
					}
				}
			}
		}
		if len(inWindow) == 0 {
			continue
		}

		distinct := len(registry.NewIDSet(inWindow...))
		size := m.Composition.Size()
		if size < 1 {
			size = 1
		}
		ratio := float64(distinct) / float64(size)

		var base float64
		if distinct >= 2 {
			base = 0.5 + 0.5*ratio
		} else {
			base = 0.35 + 0.25*ratio
		}
		mult := m.Multiplier
		if mult > maxClusterMultiplier {
			mult = maxClusterMultiplier
		}
		conf := base * mult
		if conf > 1 {
			conf = 1
		}
		if conf < threshold {
			continue
		}

		msgIdx := make([]int, 0, len(indices))
		for idx := range indices {
			msgIdx = append(msgIdx, idx)
		}
		sort.Ints(msgIdx)

		out = append(out, domain.Detection{
			MarkerID:       m.ID,
			Layer:          domain.LayerCluster,
			Confidence:     domain.Round3(conf),
			Description:    m.Description,
			Matches:        []domain.Match{},
			Family:         m.Family,
			Multiplier:     m.Multiplier,
			MessageIndices: msgIdx,
		})
	}
	return out
}
