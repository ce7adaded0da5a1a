// ABOUTME: Scriptable fake tracking adapters for tests
// ABOUTME: Counts starts and stops and lets tests push events by hand

package providertest

import (
	"context"
	"errors"
	"sync"

	"github.com/harper/geotrack/internal/models"
	"github.com/harper/geotrack/internal/provider"
)

// ActiveCounter tracks how many fakes sharing it are started at once.
type ActiveCounter struct {
	mu     sync.Mutex
	active int
	max    int
}

func (c *ActiveCounter) inc() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active++
	if c.active > c.max {
		c.max = c.active
	}
}

func (c *ActiveCounter) dec() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active--
}

// Active returns the number of currently started fakes.
func (c *ActiveCounter) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Max returns the highest number of simultaneously started fakes.
func (c *ActiveCounter) Max() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.max
}

// Fake is a provider.Adapter driven entirely by the test.
type Fake struct {
	mode    models.TrackingMode
	counter *ActiveCounter

	mu       sync.Mutex
	capable  bool
	capErr   error
	startErr error
	stopErr  error
	started  bool
	sink     provider.Sink
	lastSink provider.Sink
	starts   int
	stops    int
	last     *models.Position
}

// New returns a capable fake for mode. counter may be nil.
func New(mode models.TrackingMode, counter *ActiveCounter) *Fake {
	return &Fake{mode: mode, counter: counter, capable: true}
}

// SetCapable toggles HasRequiredCapability.
func (f *Fake) SetCapable(ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.capable = ok
	f.capErr = nil
}

// SetCapabilityError makes the fake incapable for the given reason.
// A nil err restores the capability.
func (f *Fake) SetCapabilityError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.capErr = err
	f.capable = err == nil
}

// FailStart makes the next starts return err until cleared with nil.
func (f *Fake) FailStart(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr = err
}

// FailStop makes the next stops return err, leaving the fake started,
// until cleared with nil.
func (f *Fake) FailStop(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopErr = err
}

func (f *Fake) Mode() models.TrackingMode {
	return f.mode
}

func (f *Fake) HasRequiredCapability() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.capable
}

func (f *Fake) CheckCapability() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checkLocked()
}

func (f *Fake) checkLocked() error {
	if f.capErr != nil {
		return f.capErr
	}
	if !f.capable {
		return provider.ErrPermissionDenied
	}
	return nil
}

func (f *Fake) Start(_ context.Context, sink provider.Sink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return errors.New("fake already started")
	}
	if f.startErr != nil {
		return f.startErr
	}
	if err := f.checkLocked(); err != nil {
		return err
	}
	f.started = true
	f.sink, f.lastSink = sink, sink
	f.starts++
	if f.counter != nil {
		f.counter.inc()
	}
	return nil
}

func (f *Fake) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return nil
	}
	if f.stopErr != nil {
		return f.stopErr
	}
	f.started = false
	f.sink = nil
	f.stops++
	if f.counter != nil {
		f.counter.dec()
	}
	return nil
}

func (f *Fake) LastKnownPosition() *models.Position {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return nil
	}
	p := *f.last
	return &p
}

// Started reports whether the fake is currently started.
func (f *Fake) Started() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

// Starts returns how many times Start succeeded.
func (f *Fake) Starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

// Stops returns how many times a started fake was stopped.
func (f *Fake) Stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

// LastSink returns the sink from the most recent start, even after Stop.
func (f *Fake) LastSink() provider.Sink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSink
}

// EmitPosition delivers pos to the current sink and reports whether it was started.
func (f *Fake) EmitPosition(pos models.Position) bool {
	f.mu.Lock()
	sink := f.sink
	if sink != nil {
		f.last = &pos
	}
	f.mu.Unlock()
	if sink == nil {
		return false
	}
	sink.Position(pos)
	return true
}

// EmitRegion delivers ev to the current sink.
func (f *Fake) EmitRegion(ev models.RegionEvent) bool {
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	if sink == nil {
		return false
	}
	sink.Region(ev)
	return true
}

// EmitError delivers err to the current sink.
func (f *Fake) EmitError(err error) bool {
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	if sink == nil {
		return false
	}
	sink.Error(err)
	return true
}

// Monitor is a Fake that also records installed regions.
type Monitor struct {
	*Fake

	regionMu sync.Mutex
	regions  []*models.Geofence
	installs int
	seeded   []int64
}

// NewMonitor returns a fake geofencing adapter.
func NewMonitor(counter *ActiveCounter) *Monitor {
	return &Monitor{Fake: New(models.ModeGeofencing, counter)}
}

func (m *Monitor) InstallRegions(regions []*models.Geofence) {
	m.regionMu.Lock()
	defer m.regionMu.Unlock()
	m.regions = append([]*models.Geofence(nil), regions...)
	m.installs++
}

func (m *Monitor) SeedInside(ids []int64) {
	m.regionMu.Lock()
	defer m.regionMu.Unlock()
	m.seeded = append([]int64(nil), ids...)
}

// Seeded returns the ids from the most recent SeedInside.
func (m *Monitor) Seeded() []int64 {
	m.regionMu.Lock()
	defer m.regionMu.Unlock()
	return append([]int64(nil), m.seeded...)
}

func (m *Monitor) ClearRegions() {
	m.regionMu.Lock()
	defer m.regionMu.Unlock()
	m.regions = nil
}

// Regions returns the currently installed regions.
func (m *Monitor) Regions() []*models.Geofence {
	m.regionMu.Lock()
	defer m.regionMu.Unlock()
	return append([]*models.Geofence(nil), m.regions...)
}

// Installs returns how many times InstallRegions was called.
func (m *Monitor) Installs() int {
	m.regionMu.Lock()
	defer m.regionMu.Unlock()
	return m.installs
}
