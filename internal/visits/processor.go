// ABOUTME: Transition processor turning region enter/exit events into visit writes
// ABOUTME: Emits visit-started and visit-ended notifications on real changes only

package visits

import (
	"context"
	"errors"
	"fmt"

	"github.com/harper/geotrack/internal/models"
	"github.com/harper/geotrack/internal/notify"
	"github.com/harper/geotrack/internal/storage"
	"github.com/rs/zerolog"
)

// Reporter receives failures that should reach the user, such as storage errors.
type Reporter interface {
	Report(err error)
}

// GeofenceLookup resolves geofence names for notifications.
type GeofenceLookup interface {
	Get(ctx context.Context, id int64) (*models.Geofence, error)
}

// Processor applies region transitions to a Ledger. It keeps no state of its
// own; duplicate and out-of-order events are absorbed by the ledger.
type Processor struct {
	ledger    *Ledger
	geofences GeofenceLookup
	notifier  notify.Notifier
	reporter  Reporter
	logger    zerolog.Logger
}

// NewProcessor wires a processor. notifier and reporter may be nil.
func NewProcessor(ledger *Ledger, geofences GeofenceLookup, notifier notify.Notifier, reporter Reporter, logger zerolog.Logger) *Processor {
	return &Processor{
		ledger:    ledger,
		geofences: geofences,
		notifier:  notifier,
		reporter:  reporter,
		logger:    logger.With().Str("component", "processor").Logger(),
	}
}

// Handle applies one event. Skipped enters, unmatched exits, and events for
// deleted geofences are dropped and return nil. Storage failures are reported
// and returned; the event is discarded.
func (p *Processor) Handle(ctx context.Context, ev models.RegionEvent) error {
	switch ev.Kind {
	case models.RegionEnter:
		return p.enter(ctx, ev)
	case models.RegionExit:
		return p.exit(ctx, ev)
	default:
		p.logger.Warn().Int64("geofence_id", ev.GeofenceID).Stringer("kind", ev.Kind).Msg("ignoring unknown region event")
		return nil
	}
}

// Run handles events until ctx is done or events is closed.
func (p *Processor) Run(ctx context.Context, events <-chan models.RegionEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			_ = p.Handle(ctx, ev)
		}
	}
}

func (p *Processor) enter(ctx context.Context, ev models.RegionEvent) error {
	v, err := p.ledger.RecordEnter(ctx, ev.GeofenceID, ev.Timestamp)
	switch {
	case errors.Is(err, ErrSkipped):
		return nil
	case errors.Is(err, storage.ErrNotFound):
		p.logger.Debug().Int64("geofence_id", ev.GeofenceID).Msg("enter for unknown geofence dropped")
		return nil
	case err != nil:
		return p.fail(fmt.Errorf("record enter for geofence %d: %w", ev.GeofenceID, err))
	}

	p.notify(ctx, notify.VisitEvent{
		Kind:         notify.VisitStarted,
		GeofenceID:   ev.GeofenceID,
		GeofenceName: p.name(ctx, ev.GeofenceID),
		VisitID:      v.ID,
		At:           v.EnterTime,
	})
	return nil
}

func (p *Processor) exit(ctx context.Context, ev models.RegionEvent) error {
	v, err := p.ledger.RecordExit(ctx, ev.GeofenceID, ev.Timestamp)
	var skew *InvariantError
	switch {
	case errors.Is(err, ErrNoOpenVisit):
		return nil
	case errors.As(err, &skew):
		// closed with zero duration; already logged by the ledger
	case err != nil:
		return p.fail(fmt.Errorf("record exit for geofence %d: %w", ev.GeofenceID, err))
	}

	total, err := p.ledger.TotalDuration(ctx, ev.GeofenceID)
	if err != nil {
		p.logger.Warn().Err(err).Int64("geofence_id", ev.GeofenceID).Msg("total duration unavailable")
		total = *v.Duration
	}

	p.notify(ctx, notify.VisitEvent{
		Kind:         notify.VisitEnded,
		GeofenceID:   ev.GeofenceID,
		GeofenceName: p.name(ctx, ev.GeofenceID),
		VisitID:      v.ID,
		At:           *v.ExitTime,
		Duration:     *v.Duration,
		Total:        total,
	})
	return nil
}

func (p *Processor) fail(err error) error {
	p.logger.Error().Err(err).Msg("region event discarded")
	if p.reporter != nil {
		p.reporter.Report(err)
	}
	return err
}

func (p *Processor) name(ctx context.Context, id int64) string {
	if p.geofences == nil {
		return notify.UnknownGeofence
	}
	g, err := p.geofences.Get(ctx, id)
	if err != nil || g == nil {
		return notify.UnknownGeofence
	}
	return g.Name
}

func (p *Processor) notify(ctx context.Context, ev notify.VisitEvent) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Notify(ctx, ev); err != nil {
		p.logger.Warn().Err(err).Str("kind", string(ev.Kind)).Msg("notification failed")
	}
}
