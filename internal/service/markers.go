package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Harshitk-cp/leandeep/internal/domain"
	"github.com/Harshitk-cp/leandeep/internal/engine"
	"github.com/Harshitk-cp/leandeep/internal/registry"
	"go.uber.org/zap"
)

var (
	ErrMarkerNotFound   = errors.New("marker not found")
	ErrInvalidPage      = errors.New("limit must be between 1 and 500 and offset must not be negative")
	ErrRegistryNoSource = errors.New("registry was not loaded from a file")
)

const (
	DefaultMarkerPage = 50
	MaxMarkerPage     = 500
)

type MarkerSummary struct {
	ID          string   `json:"id"`
	Layer       string   `json:"layer"`
	Description string   `json:"description"`
	Family      string   `json:"family,omitempty"`
	Tags        []string `json:"tags"`
	Rating      int      `json:"rating"`
	Patterns    int      `json:"pattern_count"`
}

type MarkerList struct {
	Markers []MarkerSummary `json:"markers"`
	Total   int             `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// MarkerDetail is a full definition plus its raw patterns and references.
type MarkerDetail struct {
	*domain.MarkerDefinition
	PatternSources []string `json:"patterns"`
	ComposedOf     []string `json:"composed_of,omitempty"`
}

type EngineConfig struct {
	Version        string         `json:"version"`
	TotalMarkers   int            `json:"total_markers"`
	Layers         map[string]int `json:"layers"`
	Families       any            `json:"families,omitempty"`
	EWMA           any            `json:"ewma,omitempty"`
	ARS            any            `json:"ars,omitempty"`
	BiasProtection any            `json:"bias_protection,omitempty"`
	Source         string         `json:"source"`
	LoadedAt       time.Time      `json:"loaded_at"`
}

// MarkerService exposes the registry: listing, lookup, engine configuration
// and reload.
type MarkerService struct {
	engine *engine.Engine
	logger *zap.Logger
}

func NewMarkerService(e *engine.Engine, logger *zap.Logger) *MarkerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MarkerService{engine: e, logger: logger}
}

// List validates the page and layer, then searches the current snapshot.
// A zero limit means the default page size.
func (s *MarkerService) List(q registry.SearchQuery) (*MarkerList, error) {
	if q.Limit == 0 {
		q.Limit = DefaultMarkerPage
	}
	if q.Limit < 1 || q.Limit > MaxMarkerPage || q.Offset < 0 {
		return nil, ErrInvalidPage
	}
	if q.Layer != "" && !domain.ValidLayer(strings.ToUpper(q.Layer)) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLayer, q.Layer)
	}

	defs, total := s.engine.SearchMarkers(q)
	out := &MarkerList{Markers: make([]MarkerSummary, 0, len(defs)), Total: total, Limit: q.Limit, Offset: q.Offset}
	for _, m := range defs {
		out.Markers = append(out.Markers, MarkerSummary{
			ID:          m.ID,
			Layer:       string(m.Layer),
			Description: m.Description,
			Family:      m.Family,
			Tags:        m.Tags,
			Rating:      m.Rating,
			Patterns:    len(m.Patterns),
		})
	}
	return out, nil
}

func (s *MarkerService) Get(id string) (*MarkerDetail, error) {
	m, ok := s.engine.GetMarker(id)
	if !ok {
		return nil, ErrMarkerNotFound
	}
	d := &MarkerDetail{
		MarkerDefinition: m,
		PatternSources:   make([]string, 0, len(m.Patterns)),
		ComposedOf:       m.Composition.ReferencedIDs(),
	}
	for _, p := range m.Patterns {
		d.PatternSources = append(d.PatternSources, p.Raw)
	}
	return d, nil
}

func (s *MarkerService) EngineConfig() EngineConfig {
	snap := s.engine.Registry().Snapshot()
	layers := make(map[string]int, 4)
	for _, l := range domain.AllLayers() {
		layers[string(l)] = len(snap.Layer(l))
	}
	return EngineConfig{
		Version:        engine.Version,
		TotalMarkers:   snap.Len(),
		Layers:         layers,
		Families:       snap.Engine["families"],
		EWMA:           snap.Engine["ewma"],
		ARS:            snap.Engine["ars"],
		BiasProtection: snap.Engine["bias_protection"],
		Source:         snap.Stats.Source,
		LoadedAt:       snap.LoadedAt,
	}
}

// Stats returns the load statistics of the current snapshot.
func (s *MarkerService) Stats() registry.LoadStats {
	return s.engine.Registry().Snapshot().Stats
}

// Reload rebuilds the registry from its file. On failure the previous
// snapshot stays active.
func (s *MarkerService) Reload() (*registry.LoadStats, error) {
	reg := s.engine.Registry()
	if reg.Path() == "" {
		return nil, ErrRegistryNoSource
	}
	stats, err := reg.Reload()
	if err != nil {
		s.logger.Error("registry reload failed", zap.String("path", reg.Path()), zap.Error(err))
		return nil, err
	}
	return stats, nil
}
