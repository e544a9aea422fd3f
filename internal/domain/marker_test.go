package domain

import (
	"testing"
)

func TestCompositionalityDiscount(t *testing.T) {
	tests := []struct {
		name string
		c    Compositionality
		want float64
	}{
		{"deterministic", CompositionalityDeterministic, 1.0},
		{"contextual", CompositionalityContextual, 0.70},
		{"emergent", CompositionalityEmergent, 0.50},
		{"unset", "", 1.0},
		{"unknown", "fuzzy", 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.c.Discount(); got != tt.want {
				t.Errorf("Discount() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVADClampAndIntensity(t *testing.T) {
	v := VAD{Valence: -1.4, Arousal: 1.2, Dominance: -0.1}
	if v.InRange() {
		t.Fatal("out-of-range vad reported in range")
	}
	c := v.Clamped()
	if c != (VAD{Valence: -1, Arousal: 1, Dominance: 0}) {
		t.Errorf("Clamped() = %+v", c)
	}
	if got := (VAD{Valence: -0.3, Arousal: 0.2}).Intensity(); Round3(got) != 0.5 {
		t.Errorf("Intensity() = %v, want 0.5", got)
	}
}

func TestCompilePattern(t *testing.T) {
	t.Run("case insensitive with rune offsets", func(t *testing.T) {
		p := CompilePattern(`\bwütend\b`, "regex", nil)
		if !p.Compiled() {
			t.Fatalf("compile failed: %v", p.Err)
		}
		hits := p.FindAll("Äh, ich bin WÜTEND.")
		if len(hits) != 1 {
			t.Fatalf("hits = %d, want 1", len(hits))
		}
		if hits[0].Start != 12 || hits[0].End != 18 {
			t.Errorf("offsets = [%d,%d), want [12,18)", hits[0].Start, hits[0].End)
		}
		if hits[0].Text != "WÜTEND" {
			t.Errorf("text = %q", hits[0].Text)
		}
	})

	t.Run("invalid regex is kept but inert", func(t *testing.T) {
		p := CompilePattern(`(unclosed`, "regex", nil)
		if p.Compiled() || p.Err == nil {
			t.Fatal("expected compile failure")
		}
		if hits := p.FindAll("unclosed"); hits != nil {
			t.Errorf("inert pattern matched: %v", hits)
		}
	})

	t.Run("empty pattern", func(t *testing.T) {
		p := CompilePattern("  ", "regex", nil)
		if p.Err != errEmptyPattern {
			t.Errorf("err = %v, want errEmptyPattern", p.Err)
		}
	})

	t.Run("dotall flag", func(t *testing.T) {
		p := CompilePattern(`a.b`, "regex", []string{"DOTALL"})
		if len(p.FindAll("a\nb")) != 1 {
			t.Error("DOTALL pattern should span newline")
		}
		q := CompilePattern(`a.b`, "regex", nil)
		if len(q.FindAll("a\nb")) != 0 {
			t.Error("pattern without DOTALL should not span newline")
		}
	})
}

func TestMarkerDefaults(t *testing.T) {
	m := &MarkerDefinition{Tags: []string{"Emotion"}}
	if m.ScoringBase() != 1.0 {
		t.Errorf("ScoringBase() = %v", m.ScoringBase())
	}
	if m.WindowMessages() != 10 {
		t.Errorf("WindowMessages() = %v", m.WindowMessages())
	}
	if m.HasTag("emotion") {
		t.Error("HasTag should be case sensitive")
	}
	if !m.HasTagFold("emotion") {
		t.Error("HasTagFold should ignore case")
	}

	m.Scoring = map[string]any{"base": 2}
	m.Window = map[string]any{"messages": 4.0}
	if m.ScoringBase() != 2 || m.WindowMessages() != 4 {
		t.Errorf("overrides not applied: %v %v", m.ScoringBase(), m.WindowMessages())
	}
}

func TestCompositionSize(t *testing.T) {
	list := Composition{Kind: CompositionList, Refs: []CompositionRef{
		{IDs: []string{"ATO_A"}},
		{IDs: []string{"ATO_B", "ATO_C"}, Grouped: true},
	}}
	if list.Size() != 2 {
		t.Errorf("list Size() = %d", list.Size())
	}
	if got := len(list.ReferencedIDs()); got != 3 {
		t.Errorf("ReferencedIDs() len = %d", got)
	}

	structured := Composition{Kind: CompositionStructured, Require: []string{"SEM_X"}, NegativeEvidence: []string{"SEM_Y"}}
	if structured.Size() != 1 {
		t.Errorf("structured Size() = %d", structured.Size())
	}
	if (Composition{}).Size() != 0 {
		t.Error("empty composition should have size 0")
	}
}

func TestDetectionCopies(t *testing.T) {
	d := Detection{MarkerID: "SEM_X", Confidence: 0.8333}
	s := d.Scaled(0.6)
	if s.Confidence != 0.5 {
		t.Errorf("Scaled = %v, want 0.5", s.Confidence)
	}
	if d.Confidence != 0.8333 {
		t.Error("Scaled mutated the receiver")
	}
	a := d.AtMessage(3)
	if !a.InMessage(3) || d.InMessage(3) {
		t.Error("AtMessage should attribute only the copy")
	}
}

func TestLayerSet(t *testing.T) {
	all := NewLayerSet(nil)
	for _, l := range AllLayers() {
		if !all.Has(l) {
			t.Errorf("empty request should include %s", l)
		}
	}
	s := NewLayerSet([]Layer{LayerSemantic, LayerAtomic})
	if s.Has(LayerCluster) {
		t.Error("unexpected CLU")
	}
	if got := s.List(); len(got) != 2 || got[0] != "ATO" || got[1] != "SEM" {
		t.Errorf("List() = %v", got)
	}
	if !ValidLayer("MEMA") || ValidLayer("mema") {
		t.Error("ValidLayer mismatch")
	}
}
