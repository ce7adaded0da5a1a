// ABOUTME: Tracking adapter capability interface shared by GPS, fused, and geofencing
// ABOUTME: Defines the event sink, sentinel errors, and the run-loop lifecycle helper

package provider

import (
	"context"
	"errors"
	"sync"

	"github.com/harper/geotrack/internal/models"
)

var (
	// ErrPermissionDenied means the location source exists but may not be used.
	ErrPermissionDenied = errors.New("location permission denied")

	// ErrUnavailable means the location source is missing or unreachable.
	ErrUnavailable = errors.New("location source unavailable")

	// ErrDisabled means a started source stopped delivering, e.g. the receiver was unplugged.
	ErrDisabled = errors.New("location source was disabled")

	errAlreadyStarted = errors.New("adapter already started")
)

// IsTerminal reports whether err means the adapter can no longer deliver events.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrUnavailable) || errors.Is(err, ErrDisabled)
}

// CapabilityChecker explains why an adapter lacks its required capability.
type CapabilityChecker interface {
	CheckCapability() error
}

// CheckCapability returns nil when a can start, or an error wrapping
// ErrPermissionDenied or ErrUnavailable.
func CheckCapability(a Adapter) error {
	if c, ok := a.(CapabilityChecker); ok {
		return c.CheckCapability()
	}
	if !a.HasRequiredCapability() {
		return ErrPermissionDenied
	}
	return nil
}

// Sink receives events from a started adapter. Calls arrive from the
// adapter's own goroutine in emission order.
type Sink interface {
	Position(pos models.Position)
	Region(ev models.RegionEvent)
	Error(err error)
}

// Adapter is one positioning strategy.
type Adapter interface {
	Mode() models.TrackingMode
	HasRequiredCapability() bool
	// Start begins delivering events to sink until Stop or ctx is done.
	Start(ctx context.Context, sink Sink) error
	// Stop returns once no further events will be delivered.
	Stop(ctx context.Context) error
	LastKnownPosition() *models.Position
}

// RegionMonitor is implemented by adapters that emit region transitions.
type RegionMonitor interface {
	InstallRegions(regions []*models.Geofence)
	ClearRegions()
}

// PresenceSeeder is implemented by region monitors that can start from a
// known occupancy, such as visits left open by a previous run.
type PresenceSeeder interface {
	SeedInside(geofenceIDs []int64)
}

// loop runs one background goroutine per activation.
type loop struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (l *loop) start(ctx context.Context, run func(ctx context.Context)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		return errAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.cancel, l.done = cancel, done

	go func() {
		defer close(done)
		run(ctx)
	}()
	return nil
}

// stop cancels the goroutine and waits for it, or for ctx. On a timeout the
// loop stays recorded as running so a later stop can wait again and start
// cannot launch a second goroutine.
func (l *loop) stop(ctx context.Context, unblock func()) error {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	if done == nil {
		return nil
	}
	cancel()
	if unblock != nil {
		unblock()
	}

	select {
	case <-done:
		l.mu.Lock()
		if l.done == done {
			l.cancel, l.done = nil, nil
		}
		l.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *loop) running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done != nil
}

// lastFix stores the most recent position.
type lastFix struct {
	mu  sync.RWMutex
	pos *models.Position
}

func (f *lastFix) set(pos models.Position) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pos = &pos
}

func (f *lastFix) get() *models.Position {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.pos == nil {
		return nil
	}
	p := *f.pos
	return &p
}
