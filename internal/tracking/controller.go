// ABOUTME: Tracking mode controller, a state machine over Idle(mode) and Running(mode)
// ABOUTME: Guarantees at most one started adapter and discards events from stale sessions

package tracking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/harper/geotrack/internal/models"
	"github.com/harper/geotrack/internal/observe"
	"github.com/harper/geotrack/internal/provider"
	"github.com/rs/zerolog"
)

const (
	opStart = "start"
	opStop  = "stop"
	opTrack = "track"
)

// stopTimeout bounds an adapter stop triggered by the adapter's own failure.
const stopTimeout = 10 * time.Second

// Controller selects exactly one tracking mode and runs at most one adapter.
// SelectMode, Start, and Stop serialise through one mutex.
type Controller struct {
	adapters map[models.TrackingMode]provider.Adapter
	logger   zerolog.Logger

	mu      sync.Mutex
	active  provider.Adapter
	cancel  context.CancelFunc
	session string

	gen atomic.Uint64

	mode     *observe.Value[models.TrackingMode]
	tracking *observe.Value[bool]
	position *observe.Value[*models.Position]
	errs     *observe.Stream[string]
	lastErr  atomic.Pointer[string]

	regions   chan models.RegionEvent
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Controller.
type Option func(*Controller)

// WithInitialMode sets the mode selected at construction. The default is GPS.
func WithInitialMode(m models.TrackingMode) Option {
	return func(c *Controller) { c.mode = observe.NewValue(m) }
}

// WithRegionBuffer sets the capacity of the region event channel.
func WithRegionBuffer(n int) Option {
	return func(c *Controller) { c.regions = make(chan models.RegionEvent, n) }
}

// NewController registers one adapter per mode.
func NewController(adapters []provider.Adapter, logger zerolog.Logger, opts ...Option) *Controller {
	c := &Controller{
		adapters: make(map[models.TrackingMode]provider.Adapter, len(adapters)),
		logger:   logger.With().Str("component", "tracking").Logger(),
		mode:     observe.NewValue(models.ModeGPS),
		tracking: observe.NewValue(false),
		position: observe.NewValue[*models.Position](nil),
		errs:     observe.NewStream[string](),
		regions:  make(chan models.RegionEvent, 64),
		done:     make(chan struct{}),
	}
	for _, a := range adapters {
		c.adapters[a.Mode()] = a
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SelectMode switches the selected mode. If tracking is running the old
// adapter is stopped and the new one started.
func (c *Controller) SelectMode(ctx context.Context, m models.TrackingMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.mode.Get()
	if m == cur {
		return nil
	}
	if _, ok := c.adapters[m]; !ok {
		err := &UnknownModeError{Mode: m}
		c.publish(err)
		return err
	}

	// An unconfirmed stop keeps Running(cur) so the switch can be retried.
	wasRunning := c.active != nil
	if wasRunning {
		if err := c.stopLocked(ctx); err != nil {
			return err
		}
	}

	c.mode.Set(m)
	c.logger.Info().Stringer("from", cur).Stringer("to", m).Bool("restart", wasRunning).Msg("mode selected")

	if wasRunning {
		return c.startLocked(ctx)
	}
	return nil
}

// Start activates the adapter for the selected mode. A running adapter is
// stopped first. Capability failures leave the controller idle.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		if err := c.stopLocked(ctx); err != nil {
			return err
		}
	}
	return c.startLocked(ctx)
}

// Stop deactivates the running adapter. Stopping while idle does nothing.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return nil
	}
	return c.stopLocked(ctx)
}

// Mode returns the selected mode.
func (c *Controller) Mode() models.TrackingMode {
	return c.mode.Get()
}

// IsTracking reports whether an adapter is running.
func (c *Controller) IsTracking() bool {
	return c.tracking.Get()
}

// Session returns the id of the running activation, or "".
func (c *Controller) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// LastPosition returns the latest fix seen by any session, falling back to
// the selected adapter's own last known position.
func (c *Controller) LastPosition() *models.Position {
	if p := c.position.Get(); p != nil {
		cp := *p
		return &cp
	}
	if a, ok := c.adapters[c.mode.Get()]; ok {
		return a.LastKnownPosition()
	}
	return nil
}

// LastError returns the most recent user-facing error message.
func (c *Controller) LastError() string {
	if p := c.lastErr.Load(); p != nil {
		return *p
	}
	return ""
}

// SubscribeMode observes the selected mode.
func (c *Controller) SubscribeMode() (<-chan models.TrackingMode, func()) {
	return c.mode.Subscribe()
}

// SubscribeTracking observes the running flag.
func (c *Controller) SubscribeTracking() (<-chan bool, func()) {
	return c.tracking.Subscribe()
}

// SubscribePosition observes the last position.
func (c *Controller) SubscribePosition() (<-chan *models.Position, func()) {
	return c.position.Subscribe()
}

// SubscribeErrors returns future user-facing error messages.
func (c *Controller) SubscribeErrors(buffer int) (<-chan string, func()) {
	return c.errs.Subscribe(buffer)
}

// RegionEvents carries region transitions from the running session.
func (c *Controller) RegionEvents() <-chan models.RegionEvent {
	return c.regions
}

// Done is closed by Close.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// RegionMonitors returns every registered adapter that can watch regions.
func (c *Controller) RegionMonitors() []provider.RegionMonitor {
	var out []provider.RegionMonitor
	for _, m := range models.AllModes() {
		if rm, ok := c.adapters[m].(provider.RegionMonitor); ok {
			out = append(out, rm)
		}
	}
	return out
}

// Report publishes a failure from outside the controller, such as a
// storage error while applying a region event.
func (c *Controller) Report(err error) {
	if err == nil {
		return
	}
	var me *ModeError
	var pe *PersistenceError
	if !errors.As(err, &me) && !errors.As(err, &pe) {
		err = &PersistenceError{Err: err}
	}
	c.publish(err)
}

// Close stops tracking and ends every subscription.
func (c *Controller) Close(ctx context.Context) error {
	err := c.Stop(ctx)
	c.closeOnce.Do(func() {
		close(c.done)
		c.mode.Close()
		c.tracking.Close()
		c.position.Close()
		c.errs.Close()
	})
	return err
}

func (c *Controller) startLocked(ctx context.Context) error {
	m := c.mode.Get()
	a, ok := c.adapters[m]
	if !ok {
		err := &UnknownModeError{Mode: m}
		c.publish(err)
		return err
	}

	if err := provider.CheckCapability(a); err != nil {
		return c.fail(m, opStart, err)
	}

	gen := c.gen.Add(1)
	sessCtx, cancel := context.WithCancel(context.Background())
	sink := &sessionSink{c: c, gen: gen, mode: m, ctx: sessCtx}

	if err := a.Start(sessCtx, sink); err != nil {
		cancel()
		return c.fail(m, opStart, err)
	}

	c.active, c.cancel = a, cancel
	c.session = uuid.NewString()
	c.tracking.Set(true)
	c.logger.Info().Stringer("mode", m).Str("session", c.session).Uint64("generation", gen).Msg("tracking started")
	return nil
}

func (c *Controller) stopLocked(ctx context.Context) error {
	a, cancel, session := c.active, c.cancel, c.session
	m := a.Mode()

	// Invalidate the sink before stopping so late events are dropped.
	c.gen.Add(1)
	cancel()
	if err := a.Stop(ctx); err != nil {
		// The adapter may still be running; keep it as the active one so
		// the next stop or start retries it before anything else starts.
		c.logger.Warn().Stringer("mode", m).Str("session", session).Msg("adapter stop unconfirmed")
		return c.fail(m, opStop, err)
	}

	c.active, c.cancel, c.session = nil, nil, ""
	c.tracking.Set(false)
	c.logger.Info().Stringer("mode", m).Str("session", session).Msg("tracking stopped")
	return nil
}

func (c *Controller) fail(m models.TrackingMode, op string, err error) error {
	merr := &ModeError{Mode: m, Op: op, Err: err}
	c.logger.Error().Err(err).Stringer("mode", m).Str("op", op).Msg("tracking failure")
	c.publish(merr)
	return merr
}

func (c *Controller) publish(err error) {
	msg := UserMessage(err)
	c.lastErr.Store(&msg)
	c.errs.Publish(msg)
}

// stopSession stops tracking if gen is still the running activation.
func (c *Controller) stopSession(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil || c.gen.Load() != gen {
		return
	}
	_ = c.stopLocked(ctx)
}

// sessionSink tags events with the activation that produced them.
type sessionSink struct {
	c    *Controller
	gen  uint64
	mode models.TrackingMode
	ctx  context.Context
}

func (s *sessionSink) stale() bool {
	if s.c.gen.Load() != s.gen {
		s.c.logger.Debug().Uint64("generation", s.gen).Msg("dropping event from stale session")
		return true
	}
	return false
}

func (s *sessionSink) Position(pos models.Position) {
	if s.stale() {
		return
	}
	s.c.position.Set(&pos)
}

func (s *sessionSink) Region(ev models.RegionEvent) {
	if s.stale() {
		return
	}
	select {
	case s.c.regions <- ev:
	case <-s.ctx.Done():
	case <-s.c.done:
	}
}

func (s *sessionSink) Error(err error) {
	if s.stale() {
		return
	}
	merr := &ModeError{Mode: s.mode, Op: opTrack, Err: err}
	s.c.logger.Error().Err(err).Stringer("mode", s.mode).Msg("adapter error")
	s.c.publish(merr)

	if provider.IsTerminal(err) {
		go s.c.stopSession(s.gen)
	}
}
