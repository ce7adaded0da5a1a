// ABOUTME: Geofencing adapter deriving region enter/exit from an inner position source
// ABOUTME: Uses an initial ENTER trigger, keeps per-region state, and can be seeded from open visits

package provider

import (
	"context"
	"sync"

	"github.com/harper/geotrack/internal/models"
	"github.com/rs/zerolog"
)

type regionState int

const (
	stateUnknown regionState = iota
	stateInside
	stateOutside
)

type region struct {
	geofence models.Geofence
	state    regionState
}

// Geofencing monitors installed regions against fixes from source.
type Geofencing struct {
	source Adapter
	logger zerolog.Logger

	mu      sync.Mutex
	regions map[int64]*region
	order   []int64
	seeds   map[int64]bool
	sink    Sink
}

// NewGeofencing wraps a position adapter such as GPS or Fused.
func NewGeofencing(source Adapter, logger zerolog.Logger) *Geofencing {
	return &Geofencing{
		source:  source,
		logger:  logger.With().Str("component", "geofencing").Logger(),
		regions: make(map[int64]*region),
		seeds:   make(map[int64]bool),
	}
}

func (g *Geofencing) Mode() models.TrackingMode {
	return models.ModeGeofencing
}

func (g *Geofencing) HasRequiredCapability() bool {
	return g.source.HasRequiredCapability()
}

func (g *Geofencing) CheckCapability() error {
	return CheckCapability(g.source)
}

func (g *Geofencing) Start(ctx context.Context, sink Sink) error {
	g.mu.Lock()
	g.sink = sink
	g.mu.Unlock()

	if err := g.source.Start(ctx, &regionSink{g: g}); err != nil {
		g.mu.Lock()
		g.sink = nil
		g.mu.Unlock()
		return err
	}
	g.logger.Info().Int("regions", g.regionCount()).Msg("geofencing started")
	return nil
}

func (g *Geofencing) Stop(ctx context.Context) error {
	if err := g.source.Stop(ctx); err != nil {
		return err
	}
	g.mu.Lock()
	g.sink = nil
	g.mu.Unlock()
	g.logger.Info().Msg("geofencing stopped")
	return nil
}

func (g *Geofencing) LastKnownPosition() *models.Position {
	return g.source.LastKnownPosition()
}

// InstallRegions replaces the monitored set. Regions that keep their id and
// geometry keep their inside/outside state; new ones are checked against the
// last known fix when running.
func (g *Geofencing) InstallRegions(geofences []*models.Geofence) {
	g.mu.Lock()
	defer g.mu.Unlock()

	next := make(map[int64]*region, len(geofences))
	order := make([]int64, 0, len(geofences))
	for _, gf := range geofences {
		r := &region{geofence: *gf}
		if old, ok := g.regions[gf.ID]; ok && sameGeometry(old.geofence, *gf) {
			r.state = old.state
		}
		if r.state == stateUnknown && g.seeds[gf.ID] {
			r.state = stateInside
		}
		delete(g.seeds, gf.ID)
		next[gf.ID] = r
		order = append(order, gf.ID)
	}
	g.regions, g.order = next, order

	g.logger.Debug().Int("regions", len(order)).Msg("regions installed")

	if g.sink != nil {
		if pos := g.source.LastKnownPosition(); pos != nil {
			g.evaluate(*pos)
		}
	}
}

// SeedInside marks regions as occupied so the first fix outside them emits
// EXIT. Only regions without an observed state are affected; ids not yet
// installed are applied by the next InstallRegions.
func (g *Geofencing) SeedInside(geofenceIDs []int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, id := range geofenceIDs {
		r, ok := g.regions[id]
		if !ok {
			g.seeds[id] = true
			continue
		}
		if r.state == stateUnknown {
			r.state = stateInside
		}
	}
}

// ClearRegions stops monitoring every region.
func (g *Geofencing) ClearRegions() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.regions = make(map[int64]*region)
	g.order = nil
	g.seeds = make(map[int64]bool)
}

func (g *Geofencing) regionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.order)
}

// evaluate emits transitions for pos; caller holds g.mu.
func (g *Geofencing) evaluate(pos models.Position) {
	for _, id := range g.order {
		r := g.regions[id]
		inside := Contains(&r.geofence, pos.Latitude, pos.Longitude)

		var kind models.RegionEventKind
		switch {
		case inside && r.state != stateInside:
			kind = models.RegionEnter
			r.state = stateInside
		case !inside && r.state == stateInside:
			kind = models.RegionExit
			r.state = stateOutside
		case !inside:
			r.state = stateOutside
			continue
		default:
			continue
		}

		g.logger.Debug().Int64("geofence_id", id).Stringer("kind", kind).Msg("region transition")
		g.sink.Region(models.RegionEvent{GeofenceID: id, Kind: kind, Timestamp: pos.Timestamp})
	}
}

func sameGeometry(a, b models.Geofence) bool {
	return a.Latitude == b.Latitude && a.Longitude == b.Longitude && a.Radius == b.Radius
}

// regionSink adapts the inner adapter's events.
type regionSink struct {
	g *Geofencing
}

func (s *regionSink) Position(pos models.Position) {
	s.g.mu.Lock()
	defer s.g.mu.Unlock()
	if s.g.sink == nil {
		return
	}
	s.g.sink.Position(pos)
	s.g.evaluate(pos)
}

func (s *regionSink) Region(ev models.RegionEvent) {
	s.g.mu.Lock()
	defer s.g.mu.Unlock()
	if s.g.sink != nil {
		s.g.sink.Region(ev)
	}
}

func (s *regionSink) Error(err error) {
	s.g.mu.Lock()
	sink := s.g.sink
	s.g.mu.Unlock()
	if sink != nil {
		sink.Error(err)
	}
}
