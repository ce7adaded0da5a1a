// ABOUTME: Visit ledger recording enter and exit transitions per geofence
// ABOUTME: Enforces at most one open visit per geofence and clamps clock skew

package visits

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harper/geotrack/internal/models"
	"github.com/harper/geotrack/internal/observe"
	"github.com/harper/geotrack/internal/storage"
	"github.com/rs/zerolog"
)

var (
	// ErrSkipped is returned by RecordEnter when the geofence already has an open visit.
	ErrSkipped = errors.New("visit already open")

	// ErrNoOpenVisit is returned by RecordExit when there is nothing to close.
	ErrNoOpenVisit = errors.New("no open visit")
)

// InvariantError reports an exit stamped before its visit's enter time.
// The visit is still closed, with a zero duration.
type InvariantError struct {
	GeofenceID int64
	VisitID    int64
	Enter      time.Time
	Exit       time.Time
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("visit %d in geofence %d: exit %s precedes enter %s",
		e.VisitID, e.GeofenceID, e.Exit.Format(time.RFC3339Nano), e.Enter.Format(time.RFC3339Nano))
}

// Ledger owns every visit write. All writes go through one mutex.
type Ledger struct {
	repo   storage.VisitRepository
	logger zerolog.Logger

	mu    sync.Mutex
	feeds map[int64]*observe.Value[[]*models.Visit]
}

// NewLedger returns a ledger over repo.
func NewLedger(repo storage.VisitRepository, logger zerolog.Logger) *Ledger {
	return &Ledger{
		repo:   repo,
		logger: logger.With().Str("component", "visits").Logger(),
		feeds:  make(map[int64]*observe.Value[[]*models.Visit]),
	}
}

// RecordEnter opens a visit for geofenceID at the given time.
// If a visit is already open it is returned along with ErrSkipped.
// A missing geofence yields storage.ErrNotFound.
func (l *Ledger) RecordEnter(ctx context.Context, geofenceID int64, at time.Time) (*models.Visit, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	open, err := l.repo.OpenVisitsFor(ctx, geofenceID)
	if err != nil {
		return nil, fmt.Errorf("find open visits: %w", err)
	}
	if len(open) > 0 {
		l.logger.Debug().Int64("geofence_id", geofenceID).Int64("visit_id", open[0].ID).Msg("enter skipped, visit already open")
		return open[0], ErrSkipped
	}

	v := models.NewVisit(geofenceID, truncate(at))
	if err := l.repo.CreateVisit(ctx, v); err != nil {
		return nil, fmt.Errorf("create visit: %w", err)
	}

	l.logger.Info().Int64("geofence_id", geofenceID).Int64("visit_id", v.ID).Time("enter", v.EnterTime).Msg("visit opened")
	l.publish(ctx, geofenceID)
	return v, nil
}

// RecordExit closes the most recently opened visit for geofenceID.
// With no open visit it returns ErrNoOpenVisit and changes nothing.
// If at precedes the enter time the visit is closed with a zero duration
// and the returned error is an *InvariantError alongside the closed visit.
func (l *Ledger) RecordExit(ctx context.Context, geofenceID int64, at time.Time) (*models.Visit, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	open, err := l.repo.OpenVisitsFor(ctx, geofenceID)
	if err != nil {
		return nil, fmt.Errorf("find open visits: %w", err)
	}
	if len(open) == 0 {
		l.logger.Debug().Int64("geofence_id", geofenceID).Msg("exit dropped, no open visit")
		return nil, ErrNoOpenVisit
	}

	v := open[0]
	exit := truncate(at)
	d := exit.Sub(v.EnterTime)

	var skew *InvariantError
	if d < 0 {
		skew = &InvariantError{GeofenceID: geofenceID, VisitID: v.ID, Enter: v.EnterTime, Exit: exit}
		l.logger.Warn().Err(skew).Msg("clock went backwards, closing visit with zero duration")
		d = 0
	}

	if err := l.repo.CloseVisit(ctx, v.ID, exit, d); err != nil {
		return nil, fmt.Errorf("close visit %d: %w", v.ID, err)
	}
	v.Close(exit, d)

	l.logger.Info().Int64("geofence_id", geofenceID).Int64("visit_id", v.ID).Dur("duration", d).Msg("visit closed")
	l.publish(ctx, geofenceID)

	if skew != nil {
		return v, skew
	}
	return v, nil
}

// VisitsFor returns every visit for geofenceID, newest enter time first.
func (l *Ledger) VisitsFor(ctx context.Context, geofenceID int64) ([]*models.Visit, error) {
	return l.repo.ListVisits(ctx, geofenceID)
}

// SubscribeVisits returns a channel with the current visit list for geofenceID
// and every later change to it.
func (l *Ledger) SubscribeVisits(ctx context.Context, geofenceID int64) (<-chan []*models.Visit, func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	feed, ok := l.feeds[geofenceID]
	if !ok {
		list, err := l.repo.ListVisits(ctx, geofenceID)
		if err != nil {
			return nil, nil, err
		}
		feed = observe.NewValue(list)
		l.feeds[geofenceID] = feed
	}
	ch, cancel := feed.Subscribe()
	return ch, cancel, nil
}

// TotalDuration sums the durations of all closed visits for geofenceID.
func (l *Ledger) TotalDuration(ctx context.Context, geofenceID int64) (time.Duration, error) {
	return l.repo.TotalDuration(ctx, geofenceID)
}

// OpenVisits returns every visit without an exit time.
func (l *Ledger) OpenVisits(ctx context.Context) ([]*models.Visit, error) {
	return l.repo.ListOpenVisits(ctx)
}

// Forget publishes an empty visit list for a deleted geofence.
func (l *Ledger) Forget(geofenceID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if feed, ok := l.feeds[geofenceID]; ok {
		feed.Set([]*models.Visit{})
	}
}

// Close ends every visit subscription.
func (l *Ledger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, feed := range l.feeds {
		feed.Close()
		delete(l.feeds, id)
	}
}

// publish pushes a fresh visit list to subscribers; caller holds l.mu.
func (l *Ledger) publish(ctx context.Context, geofenceID int64) {
	feed, ok := l.feeds[geofenceID]
	if !ok {
		return
	}
	list, err := l.repo.ListVisits(ctx, geofenceID)
	if err != nil {
		l.logger.Error().Err(err).Int64("geofence_id", geofenceID).Msg("refresh visit feed")
		return
	}
	feed.Set(list)
}

// truncate drops sub-millisecond precision so stored durations match exit minus enter.
func truncate(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli())
}
