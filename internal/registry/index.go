package registry

import (
	"sort"
	"strings"
)

// IDSet is a set of marker ids.
type IDSet map[string]struct{}

func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s IDSet) Add(id string) { s[id] = struct{}{} }

// Sorted returns the ids in lexical order.
func (s IDSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// RefKeywords splits an id on "_" and drops the leading layer segment.
// "SEM_ANGER_ESCALATION" yields ["ANGER", "ESCALATION"].
func RefKeywords(ref string) []string {
	parts := strings.Split(ref, "_")
	if len(parts) <= 1 {
		return nil
	}
	out := make([]string, 0, len(parts)-1)
	for _, p := range parts[1:] {
		out = append(out, strings.ToUpper(p))
	}
	return out
}

// FuzzyIndex maps keyword segments to the marker ids that contain them.
// Whole-segment hits are the fast path; Candidates falls back to the same
// substring rule ResolveRef applies at analysis time.
type FuzzyIndex struct {
	segments map[string]IDSet
	upperIDs map[string]string // id -> upper-cased id
}

func BuildFuzzyIndex(ids []string) *FuzzyIndex {
	ix := &FuzzyIndex{
		segments: make(map[string]IDSet),
		upperIDs: make(map[string]string, len(ids)),
	}
	for _, id := range ids {
		ix.upperIDs[id] = strings.ToUpper(id)
		for _, kw := range RefKeywords(id) {
			set, ok := ix.segments[kw]
			if !ok {
				set = make(IDSet)
				ix.segments[kw] = set
			}
			set.Add(id)
		}
	}
	return ix
}

// segmentMatches intersects the ids indexed under every keyword.
func (ix *FuzzyIndex) segmentMatches(kws []string) IDSet {
	var acc IDSet
	for _, kw := range kws {
		set, ok := ix.segments[kw]
		if !ok {
			return nil
		}
		if acc == nil {
			acc = make(IDSet, len(set))
			for id := range set {
				acc.Add(id)
			}
			continue
		}
		for id := range acc {
			if !set.Has(id) {
				delete(acc, id)
			}
		}
	}
	return acc
}

// Candidates returns the registry ids that ref resolves to when they are
// active: ids carrying every keyword as a segment, or else ids containing
// every keyword as a substring.
func (ix *FuzzyIndex) Candidates(ref string) []string {
	kws := RefKeywords(ref)
	if len(kws) == 0 {
		return nil
	}
	if acc := ix.segmentMatches(kws); len(acc) > 0 {
		return acc.Sorted()
	}
	acc := make(IDSet)
	for id, upper := range ix.upperIDs {
		if containsAll(upper, kws) {
			acc.Add(id)
		}
	}
	if len(acc) == 0 {
		return nil
	}
	return acc.Sorted()
}

func (ix *FuzzyIndex) Len() int { return len(ix.segments) }

// ResolveRef reports whether a composition reference is satisfied by the
// active set. An exact id wins; otherwise every keyword of ref must occur
// somewhere inside one active id.
func ResolveRef(ref string, active IDSet) bool {
	if active.Has(ref) {
		return true
	}
	kws := RefKeywords(ref)
	if len(kws) == 0 {
		return false
	}
	for id := range active {
		if containsAll(strings.ToUpper(id), kws) {
			return true
		}
	}
	return false
}

// Covers reports whether ref is attributed to the active id. Unlike
// ResolveRef, a reference without keywords covers every id.
func Covers(ref, id string) bool {
	if ref == id {
		return true
	}
	return containsAll(strings.ToUpper(id), RefKeywords(ref))
}

func containsAll(upperID string, kws []string) bool {
	for _, kw := range kws {
		if !strings.Contains(upperID, kw) {
			return false
		}
	}
	return true
}
