package engine

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Harshitk-cp/leandeep/internal/domain"
	"github.com/Harshitk-cp/leandeep/internal/registry"
	"github.com/dlclark/regexp2"
)

const tagContextOnly = "context_only"

// Technical noise, stripped in this order before any pattern runs.
var noisePatterns = []*regexp2.Regexp{
	// urls
	regexp2.MustCompile(`https?://[^\s<>"')]+|www\.[^\s<>"')]+`, regexp2.IgnoreCase),
	// emails
	regexp2.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`, regexp2.IgnoreCase),
	// phone numbers, labelled or international
	regexp2.MustCompile(`(?:phone|Phone|Tel|Tel\.)\s*[:\s]*\+?[\d\s\-\(\)]{7,25}|\+[\d\s\-\(\)]{7,25}`, regexp2.IgnoreCase),
	// chat export metadata: [dd.mm.yy, hh:mm:ss], <Attachment: x>, "dd.mm.yy, hh:mm - "
	regexp2.MustCompile(`\[\d{2}\.\d{2}\.\d{2}, \d{2}:\d{2}(?::\d{2})?\]|<\w+: [^>]+>|\d{2}\.\d{2}\.\d{2}, \d{2}:\d{2} - `, regexp2.IgnoreCase),
}

// StripTechnicalNoise blanks URLs, emails, phone numbers and chat metadata.
// Every stripped span becomes the same number of spaces, so rune offsets
// into the result line up with the input.
func StripTechnicalNoise(text string) string {
	for _, re := range noisePatterns {
		out, err := re.ReplaceFunc(text, func(m regexp2.Match) string {
			return strings.Repeat(" ", m.Length)
		}, -1, -1)
		if err != nil {
			continue
		}
		text = out
	}
	return text
}

// isNoiseMatch reports hits that are digits and separators rather than
// language: phone fragments, ids, timestamps, or very short non-letter runs.
func isNoiseMatch(s string) bool {
	t := strings.TrimSpace(s)
	if t == "" {
		return true
	}
	n := utf8.RuneCountInString(t)

	digits, letters := 0, 0
	numericOnly := true
	for _, r := range t {
		switch {
		case unicode.IsDigit(r):
			digits++
		case unicode.IsLetter(r):
			letters++
			numericOnly = false
		case unicode.IsSpace(r) || strings.ContainsRune("+.-:/(),", r):
		default:
			numericOnly = false
		}
	}
	if numericOnly && digits > 0 {
		if float64(digits)/float64(n) > 0.6 || digits > 5 {
			return true
		}
	}
	return n < 3 && letters == 0
}

// questionPenalty reports whether the first '?' after the first hit comes
// before the next '.', i.e. the hit sits in a question.
func questionPenalty(runes []rune, from int) bool {
	q, dot := -1, -1
	for i := from; i < len(runes); i++ {
		if q < 0 && runes[i] == '?' {
			q = i
		}
		if dot < 0 && runes[i] == '.' {
			dot = i
		}
		if q >= 0 && dot >= 0 {
			break
		}
	}
	return q >= 0 && (dot < 0 || q < dot)
}

// detectAtomic runs every atomic marker over the already stripped text.
// Context-only markers are included; callers hide them from output.
func detectAtomic(snap *registry.Snapshot, text string, threshold float64) []domain.Detection {
	hasQuestion := strings.ContainsRune(text, '?')
	var runes []rune
	if hasQuestion {
		runes = []rune(text)
	}

	var out []domain.Detection
	for _, m := range snap.Layer(domain.LayerAtomic) {
		var matches []domain.Match
		distinct := make(map[string]struct{})
		for _, p := range m.Patterns {
			for _, hit := range p.FindAll(text) {
				if isNoiseMatch(hit.Text) {
					continue
				}
				matches = append(matches, domain.Match{
					MarkerID:    m.ID,
					Pattern:     p.Raw,
					Start:       hit.Start,
					End:         hit.End,
					MatchedText: hit.Text,
					Confidence:  1.0,
				})
				distinct[p.Raw] = struct{}{}
			}
		}
		if len(matches) == 0 {
			continue
		}

		total := m.CompiledPatternCount()
		if total < 1 {
			total = 1
		}
		conf := 0.6 + 0.4*float64(len(distinct))/float64(total)
		if conf > 1 {
			conf = 1
		}
		if hasQuestion && m.HasTag("emotion") && questionPenalty(runes, matches[0].Start) {
			conf *= 0.6
		}
		if conf < threshold {
			continue
		}
		out = append(out, domain.Detection{
			MarkerID:    m.ID,
			Layer:       domain.LayerAtomic,
			Confidence:  domain.Round3(conf),
			Description: m.Description,
			Matches:     matches,
			VAD:         m.VAD,
		})
	}
	return out
}

// visible drops context-only atomics, which only ever feed composition.
func visible(snap *registry.Snapshot, dets []domain.Detection) []domain.Detection {
	out := make([]domain.Detection, 0, len(dets))
	for _, d := range dets {
		if m, ok := snap.Get(d.MarkerID); ok && m.HasTag(tagContextOnly) {
			continue
		}
		out = append(out, d)
	}
	return out
}
