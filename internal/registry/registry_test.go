package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Harshitk-cp/leandeep/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const jsonRegistry = `{
  "ld5_engine": {"ewma": {"alpha": 0.3}},
  "markers": {
    "ATO_ANGER_WORD": {
      "layer": "ATO",
      "description": "anger lexeme",
      "patterns": ["\\bwütend\\b", {"type": "regex", "value": "\\bsauer\\b"}, {"type": "embedding", "value": "x"}, "(broken"],
      "tags": ["emotion"],
      "vad_estimate": {"valence": -1.5, "arousal": 0.8, "dominance": 0.5}
    },
    "ATO_BLAME_YOU": {
      "layer": "ATO",
      "patterns": ["\\bdu immer\\b"],
      "effect_on_state": {"trust": -0.2, "conflict": 0.3}
    },
    "SEM_ANGER_BLAME": {
      "layer": "SEM",
      "composed_of": ["ATO_ANGER_WORD", {"marker_ids": ["ATO_BLAME_YOU"], "weight": 0.5}],
      "activation": {"rule": "ALL"},
      "compositionality": "contextual"
    },
    "CLU_CONFLICT_LOOP": {
      "layer": "CLU",
      "composed_of": {"require": ["SEM_ANGER_BLAME"], "negative_evidence": {"any_of": ["SEM_REPAIR_OFFER"]}},
      "window": {"messages": 5},
      "ld5_multiplier": 1.2,
      "ld5_family": "conflict"
    },
    "MEMA_MISSING_LINK": {
      "layer": "MEMA",
      "composed_of": ["CLU_NOTHING_HERE"],
      "frame": {"absence_sets": {"repair": {"ids": ["SEM_REPAIR_OFFER"], "tags": ["repair"]}}},
      "gating_conflict": {"min_bias_hits": 2}
    },
    "ATO_BAD_ENTRY": {"layer": "ATO", "tags": "not-a-list"}
  }
}`

const yamlRegistry = `
markers:
  ATO_SADNESS_WORD:
    layer: ATO
    patterns:
      - '\btraurig\b'
    tags: [emotion, sadness]
  SEM_SADNESS:
    layer: SEM
    composed_of: ATO_SADNESS_WORD
`

func TestBuildJSON(t *testing.T) {
	snap, err := Build([]byte(jsonRegistry), FormatJSON, "test.json", zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, 5, snap.Len())
	assert.Equal(t, []string{"ATO_BAD_ENTRY"}, snap.Stats.InvalidEntries)
	assert.Equal(t, 2, snap.Stats.PerLayer["ATO"])
	assert.Equal(t, 1, snap.Stats.PerLayer["MEMA"])
	assert.Equal(t, 4, snap.Stats.PatternsTotal)
	assert.Equal(t, 1, snap.Stats.PatternsFailed)
	assert.Equal(t, 1, snap.Stats.PatternsSkipped)
	assert.Equal(t, []string{
		"CLU_CONFLICT_LOOP -> SEM_REPAIR_OFFER",
		"MEMA_MISSING_LINK -> CLU_NOTHING_HERE",
	}, snap.Stats.InvalidReferences)

	anger, ok := snap.Get("ATO_ANGER_WORD")
	require.True(t, ok)
	assert.Equal(t, 2, anger.CompiledPatternCount())
	require.NotNil(t, anger.VAD)
	assert.Equal(t, -1.0, anger.VAD.Valence, "vad should be clamped")
	assert.Equal(t, "de", anger.Lang)
	assert.Equal(t, 2, anger.Rating)
	assert.Equal(t, 1.0, anger.Multiplier)

	blame, _ := snap.Get("ATO_BLAME_YOU")
	require.NotNil(t, blame.EffectOnState)
	assert.Equal(t, -0.2, blame.EffectOnState.Trust)
	assert.Equal(t, 0.0, blame.EffectOnState.Deesc)

	sem, _ := snap.Get("SEM_ANGER_BLAME")
	assert.Equal(t, domain.CompositionList, sem.Composition.Kind)
	require.Len(t, sem.Composition.Refs, 2)
	assert.True(t, sem.Composition.Refs[1].Grouped)
	assert.Equal(t, 0.5, sem.Composition.Refs[1].Weight)

	clu, _ := snap.Get("CLU_CONFLICT_LOOP")
	assert.Equal(t, domain.CompositionStructured, clu.Composition.Kind)
	assert.Equal(t, []string{"SEM_REPAIR_OFFER"}, clu.Composition.NegativeEvidence)
	assert.Equal(t, 5, clu.WindowMessages())
	assert.Equal(t, 1.2, clu.Multiplier)

	mema, _ := snap.Get("MEMA_MISSING_LINK")
	require.Contains(t, mema.AbsenceSets, "repair")
	assert.Equal(t, []string{"repair"}, mema.AbsenceSets["repair"].Tags)
	require.True(t, mema.GatingConflict.Present())
	assert.Equal(t, 2, mema.GatingConflict.MinHits)

	assert.Len(t, snap.Layer(domain.LayerAtomic), 2)
	assert.Equal(t, []string{"conflict"}, snap.Families())
	assert.Contains(t, snap.Engine, "ewma")
}

func TestBuildReferenceStatsMatchResolution(t *testing.T) {
	doc := `{"markers": {
	  "SEM_ANGERED_TONE": {"layer": "SEM", "patterns": ["\\bgrr\\b"]},
	  "CLU_TONE": {"layer": "CLU", "composed_of": ["SEM_ANGER", "SEM_CALM"]}
	}}`
	snap, err := Build([]byte(doc), FormatJSON, "inline", zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, []string{"CLU_TONE -> SEM_CALM"}, snap.Stats.InvalidReferences)
	assert.True(t, ResolveRef("SEM_ANGER", NewIDSet("SEM_ANGERED_TONE")))
}

func TestBuildYAML(t *testing.T) {
	snap, err := Build([]byte(yamlRegistry), FormatYAML, "test.yaml", zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Len())

	sem, ok := snap.Get("SEM_SADNESS")
	require.True(t, ok)
	assert.Equal(t, domain.CompositionList, sem.Composition.Kind)
	assert.Equal(t, []string{"ATO_SADNESS_WORD"}, sem.Composition.ReferencedIDs())

	ato, _ := snap.Get("ATO_SADNESS_WORD")
	assert.Equal(t, []string{"emotion", "sadness"}, ato.Tags)
	assert.Equal(t, 1, ato.CompiledPatternCount())
}

func TestBuildRejectsUnreadableDocument(t *testing.T) {
	_, err := Build([]byte(`{"markers": [`), FormatJSON, "broken.json", zap.NewNop())
	assert.ErrorIs(t, err, ErrRegistryLoad)

	_, err = Build([]byte(`{"other": {}}`), FormatJSON, "empty.json", zap.NewNop())
	assert.ErrorIs(t, err, ErrRegistryLoad)
}

func TestRegistryReloadKeepsPreviousOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlRegistry), 0o644))

	r := New(zap.NewNop())
	assert.False(t, r.Loaded())

	stats, err := r.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Markers)
	before := r.Snapshot()

	require.NoError(t, os.WriteFile(path, []byte("markers: [oops"), 0o644))
	_, err = r.Reload()
	assert.ErrorIs(t, err, ErrRegistryLoad)
	assert.Same(t, before, r.Snapshot())

	require.NoError(t, os.WriteFile(path, []byte(jsonRegistry), 0o644))
	_, err = r.Reload()
	require.NoError(t, err, "yaml decoder accepts json documents")
	assert.Equal(t, 5, r.Snapshot().Len())
	assert.Equal(t, 2, before.Len(), "old snapshot must stay intact")
}

func TestReloadWithoutPath(t *testing.T) {
	_, err := New(nil).Reload()
	assert.ErrorIs(t, err, ErrRegistryLoad)
}

func TestSearch(t *testing.T) {
	snap, err := Build([]byte(jsonRegistry), FormatJSON, "test.json", zap.NewNop())
	require.NoError(t, err)

	hits, total := snap.Search(SearchQuery{Layer: "ato"})
	assert.Equal(t, 2, total)
	assert.Len(t, hits, 2)

	hits, total = snap.Search(SearchQuery{Text: "anger"})
	assert.Equal(t, 2, total)
	assert.Equal(t, "ATO_ANGER_WORD", hits[0].ID)

	hits, total = snap.Search(SearchQuery{Limit: 2, Offset: 4})
	assert.Equal(t, 5, total)
	assert.Len(t, hits, 1)

	hits, _ = snap.Search(SearchQuery{Offset: 50})
	assert.Empty(t, hits)

	hits, _ = snap.Search(SearchQuery{Tag: "EMOTION"})
	require.Len(t, hits, 1)
	assert.Equal(t, "ATO_ANGER_WORD", hits[0].ID)
}
