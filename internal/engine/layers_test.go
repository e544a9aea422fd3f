package engine

import (
	"testing"

	"github.com/Harshitk-cp/leandeep/internal/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const semanticRegistry = `{
  "markers": {
    "ATO_A": {"layer": "ATO", "patterns": ["\\balpha\\b"]},
    "ATO_B": {"layer": "ATO", "patterns": ["\\bbeta\\b"]},
    "ATO_C": {"layer": "ATO", "patterns": ["\\bgamma\\b"]},
    "SEM_GROUPED": {"layer": "SEM", "composed_of": [{"marker_ids": ["ATO_A", "ATO_B"]}]},
    "SEM_EMERGENT": {"layer": "SEM", "composed_of": ["ATO_A", "ATO_B"], "compositionality": "emergent"},
    "SEM_AT_LEAST": {"layer": "SEM", "composed_of": ["ATO_A", "ATO_B", "ATO_C"], "activation": "AT_LEAST 2 IN 3 messages"},
    "SEM_MIN_THREE": {"layer": "SEM", "composed_of": ["ATO_A", "ATO_B", "ATO_C"], "activation": {"min_components": 3}},
    "MEMA_GROUPED": {"layer": "MEMA", "composed_of": [{"marker_ids": ["ATO_A", "ATO_B", "SEM_GROUPED"]}]}
  }
}`

func semanticConfidences(dets []domain.Detection) map[string]float64 {
	out := make(map[string]float64)
	for _, d := range dets {
		if d.Layer == domain.LayerSemantic {
			out[d.MarkerID] = d.Confidence
		}
	}
	return out
}

func TestSemanticActivation(t *testing.T) {
	e := newInlineEngine(t, semanticRegistry)

	tests := []struct {
		name string
		text string
		want map[string]float64
	}{
		{
			name: "two atoms",
			text: "alpha and beta",
			want: map[string]float64{
				"SEM_GROUPED":  1.0, // two group members over one ref, capped
				"SEM_EMERGENT": 0.5,
				"SEM_AT_LEAST": 0.9,
			},
		},
		{
			name: "one atom",
			text: "only alpha here",
			want: map[string]float64{
				"SEM_GROUPED":  1.0,
				"SEM_EMERGENT": 0.4,
			},
		},
		{
			name: "all atoms",
			text: "alpha beta gamma",
			want: map[string]float64{
				"SEM_GROUPED":   1.0,
				"SEM_EMERGENT":  0.5,
				"SEM_AT_LEAST":  1.0,
				"SEM_MIN_THREE": 1.0,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.AnalyzeText(tt.text, domain.NewLayerSet(nil), 0.3)
			got := semanticConfidences(res.Detections)
			if diff := cmp.Diff(tt.want, got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
				t.Errorf("semantic confidences mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGroupedReferencesStayInRange(t *testing.T) {
	e := newInlineEngine(t, semanticRegistry)

	res := e.AnalyzeConversation([]domain.Message{{Role: "A", Text: "alpha and beta"}}, domain.NewLayerSet(nil), 0.3)
	got := byID(res.Detections)
	require.Contains(t, got, "SEM_GROUPED")
	require.Contains(t, got, "MEMA_GROUPED")
	assert.Equal(t, 1.0, got["SEM_GROUPED"].Confidence)
	assert.Equal(t, 1.0, got["MEMA_GROUPED"].Confidence)
	for _, d := range res.Detections {
		assert.LessOrEqual(t, d.Confidence, 1.0, d.MarkerID)
		assert.GreaterOrEqual(t, d.Confidence, 0.0, d.MarkerID)
	}
}

const metaRegistry = `{
  "markers": {
    "CLU_CONFLICT_SPIRAL": {"layer": "CLU", "ld5_family": "CONFLICT", "tags": ["conflict"]},
    "CLU_SUPPORT_OFFER": {"layer": "CLU", "ld5_family": "SUPPORT"},
    "SEM_SPIRAL_BLAME": {"layer": "SEM"},
    "SEM_SPIRAL_DOUBT": {"layer": "SEM"},
    "SEM_REPAIR_OFFER": {"layer": "SEM", "tags": ["repair"]},
    "MEMA_SPIRAL_CYCLE": {"layer": "MEMA", "detect_class": "cycle_detection"},
    "MEMA_SPIRAL_PATTERN": {"layer": "MEMA", "detect_class": "pattern_detection"},
    "MEMA_SPIRAL_COMPOSITE": {"layer": "MEMA", "detect_class": "composite_meta"},
    "MEMA_SPIRAL_ECHO": {"layer": "MEMA", "detect_class": "echo_detector"},
    "MEMA_ABSENT_SUPPORT": {"layer": "MEMA", "detect_class": "absence_meta"},
    "MEMA_NO_REPAIR": {
      "layer": "MEMA",
      "absence_sets": {"repair": {"ids": ["SEM_REPAIR_OFFER"]}},
      "gating_conflict": {"min_bias_hits": 1}
    },
    "MEMA_SPIRAL_GUARD": {
      "layer": "MEMA",
      "composed_of": ["CLU_CONFLICT_SPIRAL", "SEM_NEVER_SEEN"],
      "absence_sets": {"blame": {"ids": ["SEM_SPIRAL_BLAME"]}}
    }
  }
}`

var (
	conflictSpiral = domain.Detection{MarkerID: "CLU_CONFLICT_SPIRAL", Layer: domain.LayerCluster, Confidence: 0.8, Family: "CONFLICT"}
	supportOffer   = domain.Detection{MarkerID: "CLU_SUPPORT_OFFER", Layer: domain.LayerCluster, Confidence: 0.7, Family: "SUPPORT"}
	spiralBlame    = domain.Detection{MarkerID: "SEM_SPIRAL_BLAME", Layer: domain.LayerSemantic, Confidence: 0.8}
	spiralDoubt    = domain.Detection{MarkerID: "SEM_SPIRAL_DOUBT", Layer: domain.LayerSemantic, Confidence: 0.5}
	repairOffer    = domain.Detection{MarkerID: "SEM_REPAIR_OFFER", Layer: domain.LayerSemantic, Confidence: 0.9}
)

func TestDetectMeta(t *testing.T) {
	e := newInlineEngine(t, metaRegistry)
	snap := e.Registry().Snapshot()

	tests := []struct {
		name     string
		clusters []domain.Detection
		semantic []domain.Detection
		want     map[string]float64
	}{
		{
			name:     "conflict cluster and one strong semantic",
			clusters: []domain.Detection{conflictSpiral},
			semantic: []domain.Detection{spiralBlame},
			want: map[string]float64{
				"MEMA_SPIRAL_CYCLE":     0.6,
				"MEMA_SPIRAL_PATTERN":   0.7,
				"MEMA_SPIRAL_COMPOSITE": 0.775, // cluster 1.0 + semantic 0.5
				"MEMA_SPIRAL_ECHO":      0.55,
				"MEMA_ABSENT_SUPPORT":   0.65,
				"MEMA_NO_REPAIR":        0.65,
				"MEMA_SPIRAL_GUARD":     0.75, // composition wins, absence never runs
			},
		},
		{
			name:     "support present softens absence_meta",
			clusters: []domain.Detection{conflictSpiral, supportOffer},
			want: map[string]float64{
				"MEMA_SPIRAL_CYCLE":     0.45,
				"MEMA_SPIRAL_PATTERN":   0.6,
				"MEMA_SPIRAL_COMPOSITE": 0.7,
				"MEMA_SPIRAL_ECHO":      0.55,
				"MEMA_ABSENT_SUPPORT":   0.5,
				"MEMA_SPIRAL_GUARD":     0.75,
			},
		},
		{
			name:     "semantic only",
			semantic: []domain.Detection{spiralBlame},
			want: map[string]float64{
				"MEMA_SPIRAL_CYCLE":     0.45,
				"MEMA_SPIRAL_PATTERN":   0.6,
				"MEMA_SPIRAL_COMPOSITE": 0.5, // half weight floor
				"MEMA_SPIRAL_ECHO":      0.55,
				// gating conflict present but no conflict cluster: MEMA_NO_REPAIR stays silent
			},
		},
		{
			name:     "two semantics",
			semantic: []domain.Detection{spiralBlame, spiralDoubt},
			want: map[string]float64{
				"MEMA_SPIRAL_CYCLE":     0.6,
				"MEMA_SPIRAL_PATTERN":   0.7,
				"MEMA_SPIRAL_COMPOSITE": 0.7,
				"MEMA_SPIRAL_ECHO":      0.55,
			},
		},
		{
			name:     "repair present blocks absence",
			clusters: []domain.Detection{conflictSpiral},
			semantic: []domain.Detection{repairOffer},
			want: map[string]float64{
				"MEMA_SPIRAL_CYCLE":     0.45,
				"MEMA_SPIRAL_PATTERN":   0.6,
				"MEMA_SPIRAL_COMPOSITE": 0.7,
				"MEMA_SPIRAL_ECHO":      0.55,
				"MEMA_ABSENT_SUPPORT":   0.65,
				"MEMA_SPIRAL_GUARD":     0.75,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := make(map[string]float64)
			for _, d := range detectMeta(snap, tt.clusters, tt.semantic, nil, 0.4) {
				got[d.MarkerID] = d.Confidence
			}
			if diff := cmp.Diff(tt.want, got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
				t.Errorf("meta confidences mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDetectMetaAbsenceWithoutComposition(t *testing.T) {
	e := newInlineEngine(t, metaRegistry)
	snap := e.Registry().Snapshot()

	// SEM_SPIRAL_BLAME is in the guard's absence set, so once the composition
	// misses, the absence path runs and finds the set violated.
	got := byID(detectMeta(snap, nil, []domain.Detection{spiralBlame}, nil, 0.1))
	assert.NotContains(t, got, "MEMA_SPIRAL_GUARD")
}
