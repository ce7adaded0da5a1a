// ABOUTME: Tests for the transition processor
// ABOUTME: Verifies notifications, dropped duplicates, and storage failure reporting

package visits

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/harper/geotrack/internal/models"
	"github.com/harper/geotrack/internal/notify"
	"github.com/harper/geotrack/internal/storage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.VisitEvent
}

func (r *recordingNotifier) Notify(_ context.Context, ev notify.VisitEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingNotifier) all() []notify.VisitEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.VisitEvent(nil), r.events...)
}

type recordingReporter struct {
	mu   sync.Mutex
	errs []error
}

func (r *recordingReporter) Report(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

// brokenVisits fails every visit write.
type brokenVisits struct {
	storage.VisitRepository
}

func (brokenVisits) CreateVisit(context.Context, *models.Visit) error {
	return errors.New("disk full")
}

func enter(id, sec int64) models.RegionEvent {
	return models.RegionEvent{GeofenceID: id, Kind: models.RegionEnter, Timestamp: time.Unix(sec, 0)}
}

func exit(id, sec int64) models.RegionEvent {
	return models.RegionEvent{GeofenceID: id, Kind: models.RegionExit, Timestamp: time.Unix(sec, 0)}
}

func TestProcessor_NotifiesOnRealTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.home(t)
	n := &recordingNotifier{}
	p := NewProcessor(f.ledger, f.store, n, nil, zerolog.Nop())

	for _, ev := range []models.RegionEvent{
		exit(g.ID, 900),
		enter(g.ID, 1000),
		enter(g.ID, 1005),
		exit(g.ID, 4600),
		exit(g.ID, 4601),
	} {
		require.NoError(t, p.Handle(ctx, ev))
	}

	events := n.all()
	require.Len(t, events, 2)

	assert.Equal(t, notify.VisitStarted, events[0].Kind)
	assert.Equal(t, "Home", events[0].GeofenceName)
	assert.Equal(t, int64(1), events[0].VisitID)

	assert.Equal(t, notify.VisitEnded, events[1].Kind)
	assert.Equal(t, time.Hour, events[1].Duration)
	assert.Equal(t, time.Hour, events[1].Total)
	assert.Equal(t, "You left 'Home'. Time spent: 1 h 0 min", events[1].Message())
}

func TestProcessor_ReorderedEventsNeverDuplicateOpenVisits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.home(t)
	p := NewProcessor(f.ledger, f.store, nil, nil, zerolog.Nop())

	// At-least-once delivery with reordering.
	for _, ev := range []models.RegionEvent{
		enter(g.ID, 10), enter(g.ID, 10), exit(g.ID, 20), enter(g.ID, 15),
		exit(g.ID, 30), exit(g.ID, 30), enter(g.ID, 40), enter(g.ID, 41),
	} {
		require.NoError(t, p.Handle(ctx, ev))
		assert.LessOrEqual(t, openCount(t, f.ledger, g.ID), 1)
	}

	visits, err := f.ledger.VisitsFor(ctx, g.ID)
	require.NoError(t, err)
	assert.Len(t, visits, 3)
}

func TestProcessor_UnknownGeofenceName(t *testing.T) {
	f := newFixture(t)
	g := f.home(t)
	n := &recordingNotifier{}
	p := NewProcessor(f.ledger, nil, n, nil, zerolog.Nop())

	require.NoError(t, p.Handle(context.Background(), enter(g.ID, 1)))
	require.Len(t, n.all(), 1)
	assert.Equal(t, notify.UnknownGeofence, n.all()[0].GeofenceName)
}

func TestProcessor_DeletedGeofenceIsDropped(t *testing.T) {
	f := newFixture(t)
	r := &recordingReporter{}
	p := NewProcessor(f.ledger, f.store, nil, r, zerolog.Nop())

	require.NoError(t, p.Handle(context.Background(), enter(77, 1)))
	assert.Empty(t, r.errs)
}

func TestProcessor_StorageFailureIsReported(t *testing.T) {
	f := newFixture(t)
	g := f.home(t)
	r := &recordingReporter{}
	n := &recordingNotifier{}
	ledger := NewLedger(brokenVisits{f.db}, zerolog.Nop())
	p := NewProcessor(ledger, f.store, n, r, zerolog.Nop())

	err := p.Handle(context.Background(), enter(g.ID, 1))
	require.Error(t, err)
	require.Len(t, r.errs, 1)
	assert.Contains(t, r.errs[0].Error(), "disk full")
	assert.Empty(t, n.all())

	visits, err := f.ledger.VisitsFor(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Empty(t, visits)
}

func TestProcessor_ClockSkewStillNotifies(t *testing.T) {
	f := newFixture(t)
	g := f.home(t)
	n := &recordingNotifier{}
	p := NewProcessor(f.ledger, f.store, n, nil, zerolog.Nop())

	require.NoError(t, p.Handle(context.Background(), enter(g.ID, 5000)))
	require.NoError(t, p.Handle(context.Background(), exit(g.ID, 4000)))

	events := n.all()
	require.Len(t, events, 2)
	assert.Zero(t, events[1].Duration)
}

func TestProcessor_Run(t *testing.T) {
	f := newFixture(t)
	g := f.home(t)
	n := &recordingNotifier{}
	p := NewProcessor(f.ledger, f.store, n, nil, zerolog.Nop())

	events := make(chan models.RegionEvent, 4)
	events <- enter(g.ID, 1000)
	events <- exit(g.ID, 1060)
	close(events)

	require.NoError(t, p.Run(context.Background(), events))
	assert.Len(t, n.all(), 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Run(ctx, make(chan models.RegionEvent)), context.Canceled)
}
