// Package dynamics derives conversation-level emotion metrics from the
// per-message VAD trajectory and the detections of a conversation analysis.
package dynamics

import (
	"math"
	"sort"

	"github.com/Harshitk-cp/leandeep/internal/domain"
)

const (
	// MinUEDMessages is the shortest trajectory UED metrics are computed for.
	MinUEDMessages = 3

	negativeValence  = -0.1
	peakArousal      = 0.4
	chargedValence   = 0.2
	chargedArousal   = 0.3
	baselineAlpha    = 0.3
	repairShift      = 0.18
	escalationShift  = -0.25
	escalationCeil   = -0.1
	volatilityShift  = 0.3
	trendImbalance   = 1.5
	recurringPattern = "recurring"
)

// MarkerLookup resolves a marker id to its definition.
type MarkerLookup func(id string) (*domain.MarkerDefinition, bool)

// ComputeUED returns nil when the trajectory is shorter than MinUEDMessages.
func ComputeUED(seq []domain.VAD) *domain.UEDMetrics {
	n := len(seq)
	if n < MinUEDMessages {
		return nil
	}

	vals := make([]float64, n)
	aros := make([]float64, n)
	doms := make([]float64, n)
	for i, v := range seq {
		vals[i], aros[i], doms[i] = v.Valence, v.Arousal, v.Dominance
	}

	var rise, recovery []float64
	for i := 0; i < n-1; i++ {
		if vals[i] < negativeValence {
			if d := aros[i+1] - aros[i]; d > 0 {
				rise = append(rise, d)
			}
		}
	}
	for i := 1; i < n-1; i++ {
		if aros[i] > aros[i-1] && aros[i] > peakArousal {
			if d := aros[i+1] - aros[i]; d < 0 {
				recovery = append(recovery, -d)
			}
		}
	}

	charged := 0
	for _, v := range seq {
		if math.Abs(v.Valence) > chargedValence || v.Arousal > chargedArousal {
			charged++
		}
	}

	return &domain.UEDMetrics{
		HomeBase: domain.VAD{
			Valence:   domain.Round3(mean(vals)),
			Arousal:   domain.Round3(mean(aros)),
			Dominance: domain.Round3(mean(doms)),
		},
		Variability: domain.VADSpread{
			Valence: domain.Round3(stddev(vals)),
			Arousal: domain.Round3(stddev(aros)),
		},
		Instability: domain.VADSpread{
			Valence: domain.Round3(successiveDiff(vals)),
			Arousal: domain.Round3(successiveDiff(aros)),
		},
		RiseRate:     domain.Round3(sum(rise) / float64(max(len(rise), 1))),
		RecoveryRate: domain.Round3(sum(recovery) / float64(max(len(recovery), 1))),
		Density:      domain.Round3(float64(charged) / float64(n)),
	}
}

// ComputeStateIndices sums effect_on_state over the detections whose marker
// carries one. Each axis is clamped to [-1,1].
func ComputeStateIndices(dets []domain.Detection, lookup MarkerLookup) domain.StateIndices {
	var out domain.StateIndices
	var trust, conflict, deesc float64
	for _, d := range dets {
		m, ok := lookup(d.MarkerID)
		if !ok || m.EffectOnState == nil {
			continue
		}
		trust += m.EffectOnState.Trust
		conflict += m.EffectOnState.Conflict
		deesc += m.EffectOnState.Deesc
		out.ContributingMarkers++
	}
	out.Trust = domain.Round3(domain.ClampUnit(trust))
	out.Conflict = domain.Round3(domain.ClampUnit(conflict))
	out.Deesc = domain.Round3(domain.ClampUnit(deesc))
	return out
}

// ComputeSpeakerBaselines tracks a running EWMA of every speaker's VAD and
// reports each message as a delta from that speaker's own norm. Messages
// without emotional signal get a nil delta. warmStart pre-seeds baselines so
// the first message of a known speaker already yields a delta.
func ComputeSpeakerBaselines(messages []domain.Message, vads []domain.VAD, warmStart map[string]domain.VAD) domain.SpeakerBaselines {
	ewma := make(map[string]*domain.VAD, len(warmStart))
	history := make(map[string][]float64, len(warmStart))
	for role, seed := range warmStart {
		s := seed
		ewma[role] = &s
		history[role] = nil
	}

	deltas := make([]*domain.SpeakerDelta, 0, len(messages))
	for idx, msg := range messages {
		role := msg.Role
		if role == "" {
			role = "?"
		}
		if idx >= len(vads) || vads[idx] == (domain.VAD{}) {
			deltas = append(deltas, nil)
			continue
		}
		v := vads[idx]

		bl, ok := ewma[role]
		if !ok {
			seed := v
			ewma[role] = &seed
			history[role] = []float64{v.Valence}
			deltas = append(deltas, &domain.SpeakerDelta{
				Speaker:   role,
				BaselineV: v.Valence,
				BaselineA: v.Arousal,
			})
			continue
		}

		dv := domain.Round3(v.Valence - bl.Valence)
		da := domain.Round3(v.Arousal - bl.Arousal)
		deltas = append(deltas, &domain.SpeakerDelta{
			Speaker:   role,
			DeltaV:    dv,
			DeltaA:    da,
			BaselineV: domain.Round3(bl.Valence),
			BaselineA: domain.Round3(bl.Arousal),
			Shift:     classifyShift(dv, bl.Valence),
		})

		bl.Valence = domain.Round3(bl.Valence*(1-baselineAlpha) + v.Valence*baselineAlpha)
		bl.Arousal = domain.Round3(bl.Arousal*(1-baselineAlpha) + v.Arousal*baselineAlpha)
		bl.Dominance = domain.Round3(bl.Dominance*(1-baselineAlpha) + v.Dominance*baselineAlpha)
		history[role] = append(history[role], v.Valence)
	}

	speakers := make(map[string]domain.SpeakerSummary, len(history))
	for role, hist := range history {
		s := domain.SpeakerSummary{MessageCount: len(hist)}
		if bl, ok := ewma[role]; ok {
			s.BaselineFinal = *bl
		}
		if len(hist) > 0 {
			lo, hi := hist[0], hist[0]
			for _, h := range hist[1:] {
				lo, hi = min(lo, h), max(hi, h)
			}
			s.ValenceMean = domain.Round3(mean(hist))
			s.ValenceRange = domain.Round3(hi - lo)
		}
		speakers[role] = s
	}
	return domain.SpeakerBaselines{Speakers: speakers, PerMessageDelta: deltas}
}

func classifyShift(dv, baseline float64) *domain.ShiftKind {
	var k domain.ShiftKind
	switch {
	case dv > repairShift && baseline < 0:
		k = domain.ShiftRepair
	case dv < escalationShift && baseline > escalationCeil:
		k = domain.ShiftEscalation
	case math.Abs(dv) > volatilityShift:
		k = domain.ShiftVolatility
	default:
		return nil
	}
	return &k
}

// TemporalPatterns reports every marker attributed to at least two distinct
// messages, most frequent first. Ties keep first-appearance order.
func TemporalPatterns(dets []domain.Detection, totalMessages int) []domain.TemporalPattern {
	var order []string
	seen := make(map[string]map[int]struct{})
	for _, d := range dets {
		for _, idx := range d.MessageIndices {
			set, ok := seen[d.MarkerID]
			if !ok {
				set = make(map[int]struct{})
				seen[d.MarkerID] = set
				order = append(order, d.MarkerID)
			}
			set[idx] = struct{}{}
		}
	}

	midpoint := totalMessages / 2
	out := []domain.TemporalPattern{}
	for _, id := range order {
		set := seen[id]
		if len(set) < 2 {
			continue
		}
		indices := make([]int, 0, len(set))
		for i := range set {
			indices = append(indices, i)
		}
		sort.Ints(indices)

		var early, late int
		for _, i := range indices {
			if i < midpoint {
				early++
			} else {
				late++
			}
		}
		trend := domain.TrendStable
		switch {
		case float64(late) > float64(early)*trendImbalance:
			trend = domain.TrendIncreasing
		case float64(early) > float64(late)*trendImbalance:
			trend = domain.TrendDecreasing
		}

		out = append(out, domain.TemporalPattern{
			PatternType: recurringPattern,
			MarkerID:    id,
			FirstSeen:   indices[0],
			LastSeen:    indices[len(indices)-1],
			Frequency:   len(indices),
			Trend:       trend,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Frequency > out[j].Frequency })
	return out
}

func sum(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return sum(xs) / float64(len(xs))
}

func stddev(xs []float64) float64 {
	m := mean(xs)
	var v float64
	for _, x := range xs {
		v += (x - m) * (x - m)
	}
	return math.Sqrt(v / float64(len(xs)))
}

func successiveDiff(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var s float64
	for i := 0; i < len(xs)-1; i++ {
		s += math.Abs(xs[i+1] - xs[i])
	}
	return s / float64(len(xs)-1)
}
