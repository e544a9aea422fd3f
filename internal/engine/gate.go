package engine

import (
	"math"
	"strings"

	"github.com/Harshitk-cp/leandeep/internal/domain"
	"github.com/Harshitk-cp/leandeep/internal/registry"
)

const tagBlind = "blind"

// GateConfig holds the thresholds of the VAD congruence gate.
type GateConfig struct {
	NeutralIntensity    float64 // message |v|+a below this disables gating
	PassCongruence      float64 // full pass at or above
	WeakCongruence      float64 // reduced pass at or above, suppressed below
	WeakFactor          float64
	ResurfaceCongruence float64 // shadow detections resurface at or above
	ResurfaceFactor     float64
	ValenceWeight       float64
	DominanceWeight     float64
	MaxDistance         float64
}

func DefaultGateConfig() GateConfig {
	return GateConfig{
		NeutralIntensity:    0.15,
		PassCongruence:      0.55,
		WeakCongruence:      0.35,
		WeakFactor:          0.6,
		ResurfaceCongruence: 0.45,
		ResurfaceFactor:     0.4,
		ValenceWeight:       1.5,
		DominanceWeight:     0.5,
		MaxDistance:         3.2,
	}
}

// Congruence scores how well a marker's VAD agrees with the message VAD,
// 1 for identical and 0 for maximally apart. Either side missing yields 0.5.
func (c GateConfig) Congruence(marker, message *domain.VAD) float64 {
	if marker == nil || message == nil {
		return 0.5
	}
	dv := (marker.Valence - message.Valence) * c.ValenceWeight
	da := marker.Arousal - message.Arousal
	dd := (marker.Dominance - message.Dominance) * c.DominanceWeight
	dist := math.Sqrt(dv*dv + da*da + dd*dd)
	return domain.Round3(math.Max(0, 1-dist/c.MaxDistance))
}

// Congruence uses the default weights.
func Congruence(marker, message *domain.VAD) float64 {
	return DefaultGateConfig().Congruence(marker, message)
}

func isBlind(snap *registry.Snapshot, d domain.Detection) bool {
	if strings.HasPrefix(d.MarkerID, "BLIND_") {
		return true
	}
	m, ok := snap.Get(d.MarkerID)
	return ok && m.HasTag(tagBlind)
}

// MessageVAD is the mean VAD of the non-blind detections that carry one.
// With none it is the zero point.
func MessageVAD(snap *registry.Snapshot, dets []domain.Detection) domain.VAD {
	var sum domain.VAD
	n := 0
	for _, d := range dets {
		if d.VAD == nil || isBlind(snap, d) {
			continue
		}
		sum.Valence += d.VAD.Valence
		sum.Arousal += d.VAD.Arousal
		sum.Dominance += d.VAD.Dominance
		n++
	}
	if n == 0 {
		return domain.VAD{}
	}
	return domain.VAD{
		Valence:   sum.Valence / float64(n),
		Arousal:   sum.Arousal / float64(n),
		Dominance: sum.Dominance / float64(n),
	}
}

// ShadowBuffer holds the atomics one message suppressed. They get exactly
// one more chance, against the next message.
type ShadowBuffer []domain.Detection

type GateResult struct {
	Passed     []domain.Detection
	Suppressed ShadowBuffer
	Surfaced   []domain.Detection
}

// Effective is what composition sees for this message.
func (r GateResult) Effective() []domain.Detection {
	out := make([]domain.Detection, 0, len(r.Passed)+len(r.Surfaced))
	out = append(out, r.Passed...)
	return append(out, r.Surfaced...)
}

// Apply gates one message's atomics against its VAD and re-scores the
// previous message's shadow buffer. Surfaced detections are attributed to
// msgIdx. Inputs are never mutated.
func (c GateConfig) Apply(atoms []domain.Detection, msgVAD domain.VAD, shadow ShadowBuffer, msgIdx int) GateResult {
	if msgVAD.Intensity() < c.NeutralIntensity {
		return GateResult{Passed: atoms}
	}

	var res GateResult
	for _, d := range atoms {
		if d.VAD == nil {
			res.Passed = append(res.Passed, d)
			continue
		}
		cong := c.Congruence(d.VAD, &msgVAD)
		switch {
		case cong >= c.PassCongruence:
			res.Passed = append(res.Passed, d)
		case cong >= c.WeakCongruence:
			res.Passed = append(res.Passed, d.Scaled(c.WeakFactor))
		default:
			res.Suppressed = append(res.Suppressed, d)
		}
	}

	for _, d := range shadow {
		if d.VAD == nil {
			continue
		}
		if c.Congruence(d.VAD, &msgVAD) >= c.ResurfaceCongruence {
			res.Surfaced = append(res.Surfaced, d.Scaled(c.ResurfaceFactor).AtMessage(msgIdx))
		}
	}
	return res
}
