// ABOUTME: Tracking facade, the single entry point for CLI, HTTP, and MCP clients
// ABOUTME: Fans in controller state and fans out geofence and visit calls

package tracking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harper/geotrack/internal/geofence"
	"github.com/harper/geotrack/internal/models"
	"github.com/harper/geotrack/internal/notify"
	"github.com/harper/geotrack/internal/provider"
	"github.com/harper/geotrack/internal/visits"
	"github.com/rs/zerolog"
)

// Status is a snapshot of the tracking state.
type Status struct {
	Mode         models.TrackingMode `json:"mode"`
	ModeLabel    string              `json:"mode_label"`
	Tracking     bool                `json:"tracking"`
	Session      string              `json:"session,omitempty"`
	LastPosition *models.Position    `json:"last_position,omitempty"`
	LastError    string              `json:"last_error,omitempty"`
}

// Result is the outcome of a tracking control call. Error holds the
// user-facing message if the call failed.
type Result struct {
	Status
	Error string `json:"error,omitempty"`
}

// GeofenceSummary pairs a geofence with the time spent in it. Current adds
// the elapsed part of an open visit to Total; it equals Total when not Open.
type GeofenceSummary struct {
	Geofence *models.Geofence
	Total    time.Duration
	Current  time.Duration
	Open     bool
}

// Facade wires the controller, geofence store, and visit ledger together.
type Facade struct {
	ctrl      *Controller
	geofences *geofence.Store
	ledger    *visits.Ledger
	processor *visits.Processor
	events    *notify.Broadcast
	logger    zerolog.Logger
	now       func() time.Time

	closeOnce sync.Once
}

// NewFacade builds the transition processor and registers the delete
// cascade. notifier receives visit events in addition to the in-process
// broadcast and may be nil.
func NewFacade(ctrl *Controller, geofences *geofence.Store, ledger *visits.Ledger, notifier notify.Notifier, logger zerolog.Logger) *Facade {
	events := notify.NewBroadcast()
	var out notify.Notifier = events
	if notifier != nil {
		out = notify.Multi{notifier, events}
	}

	f := &Facade{
		ctrl:      ctrl,
		geofences: geofences,
		ledger:    ledger,
		events:    events,
		logger:    logger.With().Str("component", "facade").Logger(),
		now:       time.Now,
	}
	f.processor = visits.NewProcessor(ledger, geofences, out, ctrl, logger)
	geofences.OnDelete(ledger.Forget)
	return f
}

// Run feeds region events into the processor and keeps region monitors in
// sync with the geofence list until ctx is done. Tracking is stopped on return.
func (f *Facade) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-f.ctrl.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = f.processor.Run(ctx, f.ctrl.RegionEvents())
	}()
	go func() {
		defer wg.Done()
		f.syncRegions(ctx)
	}()
	wg.Wait()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	if err := f.ctrl.Stop(stopCtx); err != nil {
		return fmt.Errorf("stop tracking: %w", err)
	}
	return nil
}

func (f *Facade) syncRegions(ctx context.Context) {
	lists, unsubscribe := f.geofences.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case list, ok := <-lists:
			if !ok {
				return
			}
			open := f.openGeofenceIDs(ctx)
			for _, m := range f.ctrl.RegionMonitors() {
				if seeder, ok := m.(provider.PresenceSeeder); ok && len(open) > 0 {
					seeder.SeedInside(open)
				}
				m.InstallRegions(list)
			}
			f.logger.Debug().Int("regions", len(list)).Msg("regions installed")
		}
	}
}

// openGeofenceIDs lists geofences with a visit still open, so monitors can
// close visits left open by a previous run.
func (f *Facade) openGeofenceIDs(ctx context.Context) []int64 {
	open, err := f.ledger.OpenVisits(ctx)
	if err != nil {
		f.logger.Warn().Err(err).Msg("could not read open visits for region seeding")
		return nil
	}
	ids := make([]int64, 0, len(open))
	for _, v := range open {
		ids = append(ids, v.GeofenceID)
	}
	return ids
}

// SelectMode switches the tracking mode. Failures are reported on the error
// stream and in the result, never returned.
func (f *Facade) SelectMode(ctx context.Context, m models.TrackingMode) Result {
	return f.result(f.ctrl.SelectMode(ctx, m))
}

// Start begins tracking in the selected mode.
func (f *Facade) Start(ctx context.Context) Result {
	return f.result(f.ctrl.Start(ctx))
}

// Stop ends tracking. Stopping while idle is a no-op.
func (f *Facade) Stop(ctx context.Context) Result {
	return f.result(f.ctrl.Stop(ctx))
}

func (f *Facade) result(err error) Result {
	r := Result{Status: f.Status()}
	if err != nil {
		r.Error = UserMessage(err)
		f.logger.Debug().Err(err).Msg("tracking call failed")
	}
	return r
}

// Status returns the current mode, running flag, session, and last fix.
func (f *Facade) Status() Status {
	m := f.ctrl.Mode()
	return Status{
		Mode:         m,
		ModeLabel:    m.Label(),
		Tracking:     f.ctrl.IsTracking(),
		Session:      f.ctrl.Session(),
		LastPosition: f.ctrl.LastPosition(),
		LastError:    f.ctrl.LastError(),
	}
}

// LastPosition returns the most recent fix, or nil.
func (f *Facade) LastPosition() *models.Position {
	return f.ctrl.LastPosition()
}

// AddGeofence validates and stores a geofence.
func (f *Facade) AddGeofence(ctx context.Context, name string, lat, lng, radius float64) (*models.Geofence, error) {
	return f.geofences.Add(ctx, name, lat, lng, radius)
}

// DeleteGeofence removes a geofence with its visits.
func (f *Facade) DeleteGeofence(ctx context.Context, id int64) error {
	return f.geofences.Delete(ctx, id)
}

// Geofence returns one geofence or storage.ErrNotFound.
func (f *Facade) Geofence(ctx context.Context, id int64) (*models.Geofence, error) {
	return f.geofences.Get(ctx, id)
}

// Geofences returns every geofence ordered by id.
func (f *Facade) Geofences() []*models.Geofence {
	return f.geofences.List()
}

// Summaries returns every geofence with its total time, whether a visit is
// open, and the dwell time including the open visit so far.
func (f *Facade) Summaries(ctx context.Context) ([]GeofenceSummary, error) {
	open, err := f.ledger.OpenVisits(ctx)
	if err != nil {
		return nil, err
	}
	entered := make(map[int64]time.Time, len(open))
	for _, v := range open {
		if at, ok := entered[v.GeofenceID]; !ok || v.EnterTime.After(at) {
			entered[v.GeofenceID] = v.EnterTime
		}
	}

	now := f.now()
	list := f.geofences.List()
	out := make([]GeofenceSummary, 0, len(list))
	for _, g := range list {
		total, err := f.ledger.TotalDuration(ctx, g.ID)
		if err != nil {
			return nil, err
		}
		sum := GeofenceSummary{Geofence: g, Total: total, Current: total}
		if at, ok := entered[g.ID]; ok {
			sum.Open = true
			if elapsed := now.Sub(at); elapsed > 0 {
				sum.Current += elapsed
			}
		}
		out = append(out, sum)
	}
	return out, nil
}

// Visits returns the visits of a geofence, newest first.
func (f *Facade) Visits(ctx context.Context, geofenceID int64) ([]*models.Visit, error) {
	if _, err := f.geofences.Get(ctx, geofenceID); err != nil {
		return nil, err
	}
	return f.ledger.VisitsFor(ctx, geofenceID)
}

// TotalDuration returns the closed time spent in a geofence.
func (f *Facade) TotalDuration(ctx context.Context, geofenceID int64) (time.Duration, error) {
	if _, err := f.geofences.Get(ctx, geofenceID); err != nil {
		return 0, err
	}
	return f.ledger.TotalDuration(ctx, geofenceID)
}

// OpenVisits returns every visit still in progress.
func (f *Facade) OpenVisits(ctx context.Context) ([]*models.Visit, error) {
	return f.ledger.OpenVisits(ctx)
}

// SimulateEnter injects an enter transition as if a region monitor reported it.
// A zero at means now.
func (f *Facade) SimulateEnter(ctx context.Context, geofenceID int64, at time.Time) error {
	return f.simulate(ctx, geofenceID, models.RegionEnter, at)
}

// SimulateExit injects an exit transition.
func (f *Facade) SimulateExit(ctx context.Context, geofenceID int64, at time.Time) error {
	return f.simulate(ctx, geofenceID, models.RegionExit, at)
}

func (f *Facade) simulate(ctx context.Context, geofenceID int64, kind models.RegionEventKind, at time.Time) error {
	if _, err := f.geofences.Get(ctx, geofenceID); err != nil {
		return err
	}
	if at.IsZero() {
		at = time.Now()
	}
	f.logger.Info().Int64("geofence_id", geofenceID).Stringer("kind", kind).Time("at", at).Msg("simulated transition")
	return f.processor.Handle(ctx, models.RegionEvent{GeofenceID: geofenceID, Kind: kind, Timestamp: at})
}

// SubscribeMode observes the selected mode.
func (f *Facade) SubscribeMode() (<-chan models.TrackingMode, func()) {
	return f.ctrl.SubscribeMode()
}

// SubscribeTracking observes whether tracking is running.
func (f *Facade) SubscribeTracking() (<-chan bool, func()) {
	return f.ctrl.SubscribeTracking()
}

// SubscribePosition observes the last known position.
func (f *Facade) SubscribePosition() (<-chan *models.Position, func()) {
	return f.ctrl.SubscribePosition()
}

// SubscribeErrors returns future user-facing error messages.
func (f *Facade) SubscribeErrors(buffer int) (<-chan string, func()) {
	return f.ctrl.SubscribeErrors(buffer)
}

// SubscribeGeofences observes the geofence list.
func (f *Facade) SubscribeGeofences() (<-chan []*models.Geofence, func()) {
	return f.geofences.Subscribe()
}

// SubscribeVisits observes the visit list of one geofence.
func (f *Facade) SubscribeVisits(ctx context.Context, geofenceID int64) (<-chan []*models.Visit, func(), error) {
	if _, err := f.geofences.Get(ctx, geofenceID); err != nil {
		return nil, nil, err
	}
	return f.ledger.SubscribeVisits(ctx, geofenceID)
}

// SubscribeVisitEvents returns future visit-started and visit-ended events.
func (f *Facade) SubscribeVisitEvents(buffer int) (<-chan notify.VisitEvent, func()) {
	return f.events.Subscribe(buffer)
}

// Reload re-reads geofences from storage, e.g. after an import.
func (f *Facade) Reload(ctx context.Context) error {
	return f.geofences.Reload(ctx)
}

// Close stops tracking and ends every subscription. The storage backend is
// owned by the caller.
func (f *Facade) Close(ctx context.Context) error {
	var err error
	f.closeOnce.Do(func() {
		err = f.ctrl.Close(ctx)
		f.events.Close()
		f.ledger.Close()
		f.geofences.Close()
	})
	return err
}
