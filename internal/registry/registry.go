package registry

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Harshitk-cp/leandeep/internal/domain"
	"go.uber.org/zap"
)

var ErrRegistryLoad = errors.New("registry load failed")

// LoadStats reports what a load produced.
type LoadStats struct {
	Source            string         `json:"source"`
	Markers           int            `json:"markers"`
	PerLayer          map[string]int `json:"per_layer"`
	PatternsTotal     int            `json:"patterns_total"`
	PatternsFailed    int            `json:"patterns_failed"`
	PatternsSkipped   int            `json:"patterns_skipped"`
	InvalidEntries    []string       `json:"invalid_entries,omitempty"`
	InvalidReferences []string       `json:"invalid_references,omitempty"`
	Duration          time.Duration  `json:"-"`
}

// Snapshot is an immutable view of a loaded registry. Readers hold on to one
// snapshot for the duration of an analysis.
type Snapshot struct {
	markers map[string]*domain.MarkerDefinition
	ids     []string
	byLayer map[domain.Layer][]*domain.MarkerDefinition
	index   *FuzzyIndex

	Engine   map[string]any
	Stats    LoadStats
	LoadedAt time.Time
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		markers: map[string]*domain.MarkerDefinition{},
		byLayer: map[domain.Layer][]*domain.MarkerDefinition{},
		index:   BuildFuzzyIndex(nil),
		Engine:  map[string]any{},
		Stats:   LoadStats{PerLayer: map[string]int{}},
	}
}

// Build decodes data and compiles every marker into a new snapshot.
func Build(data []byte, format Format, source string, logger *zap.Logger) (*Snapshot, error) {
	start := time.Now()
	doc, err := decodeDocument(data, format)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRegistryLoad, source, err)
	}

	snap := emptySnapshot()
	snap.Stats.Source = source
	if doc.Engine != nil {
		snap.Engine = doc.Engine
	}

	for id, err := range doc.Broken {
		logger.Warn("skipping malformed marker", zap.String("marker_id", id), zap.Error(err))
		snap.Stats.InvalidEntries = append(snap.Stats.InvalidEntries, id)
	}
	sort.Strings(snap.Stats.InvalidEntries)

	ids := make([]string, 0, len(doc.Markers))
	for id := range doc.Markers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		m := parseMarker(id, doc.Markers[id], &snap.Stats, logger)
		snap.markers[id] = m
		snap.byLayer[m.Layer] = append(snap.byLayer[m.Layer], m)
		snap.Stats.PerLayer[string(m.Layer)]++
		if !domain.ValidLayer(string(m.Layer)) {
			logger.Warn("marker has unknown layer", zap.String("marker_id", id), zap.String("layer", string(m.Layer)))
		}
	}
	snap.ids = ids
	snap.index = BuildFuzzyIndex(ids)
	snap.Stats.Markers = len(ids)

	for _, id := range ids {
		for _, ref := range snap.markers[id].Composition.ReferencedIDs() {
			if _, ok := snap.markers[ref]; ok {
				continue
			}
			if len(snap.index.Candidates(ref)) > 0 {
				continue
			}
			snap.Stats.InvalidReferences = append(snap.Stats.InvalidReferences, id+" -> "+ref)
		}
	}
	if n := len(snap.Stats.InvalidReferences); n > 0 {
		logger.Warn("registry has unresolvable references", zap.Int("count", n))
	}

	snap.LoadedAt = time.Now().UTC()
	snap.Stats.Duration = time.Since(start)
	return snap, nil
}

// Get returns one marker definition by exact id.
func (s *Snapshot) Get(id string) (*domain.MarkerDefinition, bool) {
	m, ok := s.markers[id]
	return m, ok
}

// Layer returns the markers of one layer in id order.
func (s *Snapshot) Layer(l domain.Layer) []*domain.MarkerDefinition {
	return s.byLayer[l]
}

func (s *Snapshot) Len() int { return len(s.ids) }

func (s *Snapshot) IDs() []string { return s.ids }

func (s *Snapshot) Index() *FuzzyIndex { return s.index }

// Families lists the distinct ld5_family values of the loaded markers.
func (s *Snapshot) Families() []string {
	set := make(IDSet)
	for _, m := range s.markers {
		if m.Family != "" {
			set.Add(m.Family)
		}
	}
	return set.Sorted()
}

// SearchQuery filters Snapshot.Search. Empty fields match everything.
type SearchQuery struct {
	Layer  string
	Family string
	Tag    string
	Text   string
	Limit  int
	Offset int
}

// Search returns one page of matching markers plus the total match count.
func (s *Snapshot) Search(q SearchQuery) ([]*domain.MarkerDefinition, int) {
	text := strings.ToLower(q.Text)
	var hits []*domain.MarkerDefinition
	for _, id := range s.ids {
		m := s.markers[id]
		if q.Layer != "" && !strings.EqualFold(string(m.Layer), q.Layer) {
			continue
		}
		if q.Family != "" && !strings.EqualFold(m.Family, q.Family) {
			continue
		}
		if q.Tag != "" && !m.HasTagFold(q.Tag) {
			continue
		}
		if text != "" && !strings.Contains(strings.ToLower(id), text) &&
			!strings.Contains(strings.ToLower(m.Description), text) {
			continue
		}
		hits = append(hits, m)
	}
	total := len(hits)
	if q.Offset >= total {
		return []*domain.MarkerDefinition{}, total
	}
	hits = hits[q.Offset:]
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	return hits, total
}

// Registry holds the current snapshot. Reloads build a fresh snapshot and
// swap it in, so in-flight analyses keep the one they started with.
type Registry struct {
	mu     sync.RWMutex
	snap   *Snapshot
	path   string
	logger *zap.Logger
}

func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{snap: emptySnapshot(), logger: logger}
}

// NewFromSnapshot wraps an already built snapshot.
func NewFromSnapshot(snap *Snapshot, logger *zap.Logger) *Registry {
	r := New(logger)
	r.snap = snap
	return r
}

// LoadFile reads and compiles the registry at path and makes it current.
// A failed load leaves the previous snapshot in place.
func (r *Registry) LoadFile(path string) (*LoadStats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegistryLoad, err)
	}
	stats, err := r.LoadBytes(data, FormatForPath(path), path)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.path = path
	r.mu.Unlock()
	return stats, nil
}

func (r *Registry) LoadBytes(data []byte, format Format, source string) (*LoadStats, error) {
	snap, err := Build(data, format, source, r.logger)
	if err != nil {
		r.logger.Error("registry load failed", zap.String("source", source), zap.Error(err))
		return nil, err
	}

	r.mu.Lock()
	r.snap = snap
	r.mu.Unlock()

	r.logger.Info("registry loaded",
		zap.String("source", source),
		zap.Int("markers", snap.Stats.Markers),
		zap.Int("ato", snap.Stats.PerLayer[string(domain.LayerAtomic)]),
		zap.Int("sem", snap.Stats.PerLayer[string(domain.LayerSemantic)]),
		zap.Int("clu", snap.Stats.PerLayer[string(domain.LayerCluster)]),
		zap.Int("mema", snap.Stats.PerLayer[string(domain.LayerMeta)]),
		zap.Int("patterns_failed", snap.Stats.PatternsFailed),
		zap.Duration("duration", snap.Stats.Duration))
	stats := snap.Stats
	return &stats, nil
}

// Reload re-reads the file most recently passed to LoadFile.
func (r *Registry) Reload() (*LoadStats, error) {
	r.mu.RLock()
	path := r.path
	r.mu.RUnlock()
	if path == "" {
		return nil, fmt.Errorf("%w: no registry path configured", ErrRegistryLoad)
	}
	return r.LoadFile(path)
}

func (r *Registry) Path() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.path
}

// Snapshot returns the current snapshot.
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

func (r *Registry) Loaded() bool {
	return r.Snapshot().Len() > 0
}
