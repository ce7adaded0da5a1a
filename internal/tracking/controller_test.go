// ABOUTME: Tests for the tracking mode controller state machine
// ABOUTME: Covers restarts, idempotent stop, capability failures, and stale sessions

package tracking

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/harper/geotrack/internal/models"
	"github.com/harper/geotrack/internal/provider"
	"github.com/harper/geotrack/internal/provider/providertest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rig struct {
	counter *providertest.ActiveCounter
	gps     *providertest.Fake
	fused   *providertest.Fake
	geo     *providertest.Monitor
	ctrl    *Controller
}

func newRig(t *testing.T, opts ...Option) *rig {
	t.Helper()
	counter := &providertest.ActiveCounter{}
	r := &rig{
		counter: counter,
		gps:     providertest.New(models.ModeGPS, counter),
		fused:   providertest.New(models.ModeFused, counter),
		geo:     providertest.NewMonitor(counter),
	}
	r.ctrl = NewController([]provider.Adapter{r.gps, r.fused, r.geo}, zerolog.Nop(), opts...)
	t.Cleanup(func() { _ = r.ctrl.Close(context.Background()) })
	return r
}

func (r *rig) fake(m models.TrackingMode) *providertest.Fake {
	switch m {
	case models.ModeFused:
		return r.fused
	case models.ModeGeofencing:
		return r.geo.Fake
	default:
		return r.gps
	}
}

func recvString(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for error message")
		return ""
	}
}

func TestController_InitialIdleGPS(t *testing.T) {
	r := newRig(t)
	assert.Equal(t, models.ModeGPS, r.ctrl.Mode())
	assert.False(t, r.ctrl.IsTracking())
	assert.Empty(t, r.ctrl.Session())
	assert.Zero(t, r.counter.Active())
}

func TestController_InitialModeOption(t *testing.T) {
	r := newRig(t, WithInitialMode(models.ModeGeofencing))
	assert.Equal(t, models.ModeGeofencing, r.ctrl.Mode())
}

func TestController_SelectModeWhileIdle(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	require.NoError(t, r.ctrl.SelectMode(ctx, models.ModeFused))
	assert.Equal(t, models.ModeFused, r.ctrl.Mode())
	assert.False(t, r.ctrl.IsTracking())
	assert.Zero(t, r.fused.Starts())

	require.NoError(t, r.ctrl.SelectMode(ctx, models.ModeFused), "same mode is a no-op")
	assert.Zero(t, r.fused.Starts())
}

func TestController_ModeSwitchWhileRunningRestarts(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	require.NoError(t, r.ctrl.Start(ctx))
	require.True(t, r.gps.Started())

	require.NoError(t, r.ctrl.SelectMode(ctx, models.ModeFused))

	assert.Equal(t, models.ModeFused, r.ctrl.Mode())
	assert.True(t, r.ctrl.IsTracking())
	assert.Equal(t, 1, r.gps.Stops())
	assert.False(t, r.gps.Started())
	assert.Equal(t, 1, r.fused.Starts())
	assert.True(t, r.fused.Started())
	assert.Equal(t, 1, r.counter.Max())
}

func TestController_StartWhileRunningRestarts(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	require.NoError(t, r.ctrl.Start(ctx))
	first := r.ctrl.Session()
	require.NoError(t, r.ctrl.Start(ctx))

	assert.Equal(t, 2, r.gps.Starts())
	assert.Equal(t, 1, r.gps.Stops())
	assert.True(t, r.ctrl.IsTracking())
	assert.NotEqual(t, first, r.ctrl.Session())
	assert.NotEmpty(t, r.ctrl.Session())
}

func TestController_StopIsIdempotent(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	require.NoError(t, r.ctrl.Stop(ctx), "stop while idle")
	require.NoError(t, r.ctrl.Start(ctx))
	require.NoError(t, r.ctrl.Stop(ctx))
	require.NoError(t, r.ctrl.Stop(ctx))

	assert.Equal(t, 1, r.gps.Stops())
	assert.False(t, r.ctrl.IsTracking())
}

func TestController_FailedStopKeepsAdapterActive(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	errs, unsubscribe := r.ctrl.SubscribeErrors(4)
	defer unsubscribe()

	require.NoError(t, r.ctrl.Start(ctx))
	first := r.ctrl.Session()
	stopErr := errors.New("unregister timed out")
	r.gps.FailStop(stopErr)

	err := r.ctrl.Stop(ctx)
	require.ErrorIs(t, err, stopErr)
	assert.NotEmpty(t, recvString(t, errs))
	assert.True(t, r.ctrl.IsTracking(), "an unconfirmed stop is still running")
	assert.Equal(t, first, r.ctrl.Session())
	assert.True(t, r.gps.Started())

	require.True(t, r.gps.EmitPosition(models.Position{Latitude: 1}))
	assert.Nil(t, r.ctrl.position.Get(), "events after the stop request are dropped")

	require.ErrorIs(t, r.ctrl.Start(ctx), stopErr, "start retries the stop first")
	assert.Equal(t, 1, r.gps.Starts())
	assert.Equal(t, 1, r.counter.Max())

	r.gps.FailStop(nil)
	require.NoError(t, r.ctrl.Stop(ctx))
	assert.False(t, r.ctrl.IsTracking())
	assert.Empty(t, r.ctrl.Session())
	assert.Equal(t, 1, r.gps.Stops())
}

func TestController_FailedStopBlocksModeSwitch(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	require.NoError(t, r.ctrl.Start(ctx))
	stopErr := errors.New("unregister timed out")
	r.gps.FailStop(stopErr)

	require.ErrorIs(t, r.ctrl.SelectMode(ctx, models.ModeFused), stopErr)
	assert.Equal(t, models.ModeGPS, r.ctrl.Mode(), "mode stays with the adapter still held")
	assert.True(t, r.ctrl.IsTracking())
	assert.Zero(t, r.fused.Starts())

	require.ErrorIs(t, r.ctrl.SelectMode(ctx, models.ModeFused), stopErr)
	require.ErrorIs(t, r.ctrl.Start(ctx), stopErr)
	assert.Zero(t, r.fused.Starts())
	assert.Equal(t, 1, r.counter.Max())

	r.gps.FailStop(nil)
	require.NoError(t, r.ctrl.SelectMode(ctx, models.ModeFused))
	assert.Equal(t, models.ModeFused, r.ctrl.Mode())
	assert.True(t, r.ctrl.IsTracking())
	assert.False(t, r.gps.Started())
	assert.Equal(t, 1, r.gps.Stops())
	assert.Equal(t, 1, r.fused.Starts())
	assert.Equal(t, 1, r.counter.Max())
}

func TestController_MissingCapabilityStaysIdle(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	errs, cancel := r.ctrl.SubscribeErrors(4)
	defer cancel()

	r.gps.SetCapable(false)
	err := r.ctrl.Start(ctx)

	var me *ModeError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, models.ModeGPS, me.Mode)
	assert.ErrorIs(t, err, provider.ErrPermissionDenied)
	assert.False(t, r.ctrl.IsTracking())
	assert.Zero(t, r.gps.Starts())
	assert.Equal(t, "No location permission", recvString(t, errs))
	assert.Equal(t, "No location permission", r.ctrl.LastError())
}

func TestController_StartFailureStaysIdle(t *testing.T) {
	r := newRig(t)
	r.fused.FailStart(errors.New("socket: connection refused"))
	require.NoError(t, r.ctrl.SelectMode(context.Background(), models.ModeFused))

	err := r.ctrl.Start(context.Background())
	require.Error(t, err)
	assert.False(t, r.ctrl.IsTracking())
	assert.Equal(t, "Error starting Fused Location Provider", r.ctrl.LastError())
}

func TestController_SwitchToIncapableModeEndsIdle(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	require.NoError(t, r.ctrl.Start(ctx))

	r.fused.SetCapabilityError(provider.ErrUnavailable)
	err := r.ctrl.SelectMode(ctx, models.ModeFused)
	require.Error(t, err)

	assert.Equal(t, models.ModeFused, r.ctrl.Mode())
	assert.False(t, r.ctrl.IsTracking())
	assert.False(t, r.gps.Started(), "old adapter is never left running")
	assert.Zero(t, r.counter.Active())
}

func TestController_UnknownMode(t *testing.T) {
	gps := providertest.New(models.ModeGPS, nil)
	c := NewController([]provider.Adapter{gps}, zerolog.Nop())
	defer c.Close(context.Background())

	err := c.SelectMode(context.Background(), models.ModeFused)
	var unknown *UnknownModeError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, models.ModeGPS, c.Mode())
}

func TestController_AtMostOneActiveAdapter(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	modes := models.AllModes()

	for i := 0; i < 500; i++ {
		switch rng.Intn(3) {
		case 0:
			_ = r.ctrl.SelectMode(ctx, modes[rng.Intn(len(modes))])
		case 1:
			_ = r.ctrl.Start(ctx)
		case 2:
			_ = r.ctrl.Stop(ctx)
		}
		require.LessOrEqual(t, r.counter.Active(), 1)
		assert.Equal(t, r.ctrl.IsTracking(), r.counter.Active() == 1)
		if r.ctrl.IsTracking() {
			assert.True(t, r.fake(r.ctrl.Mode()).Started(), "running adapter matches selected mode")
		}
	}
	assert.Equal(t, 1, r.counter.Max())
}

func TestController_AtMostOneActiveAdapterConcurrent(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	modes := models.AllModes()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 200; i++ {
				switch rng.Intn(3) {
				case 0:
					_ = r.ctrl.SelectMode(ctx, modes[rng.Intn(len(modes))])
				case 1:
					_ = r.ctrl.Start(ctx)
				case 2:
					_ = r.ctrl.Stop(ctx)
				}
			}
		}(int64(w))
	}
	wg.Wait()

	assert.LessOrEqual(t, r.counter.Max(), 1)
}

func TestController_PositionUpdates(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	positions, cancel := r.ctrl.SubscribePosition()
	defer cancel()
	assert.Nil(t, <-positions)

	require.NoError(t, r.ctrl.Start(ctx))
	r.gps.EmitPosition(models.Position{Latitude: 1, Longitude: 2, Provider: "gps"})

	select {
	case p := <-positions:
		require.NotNil(t, p)
		assert.Equal(t, 1.0, p.Latitude)
	case <-time.After(time.Second):
		t.Fatal("no position")
	}
	assert.Equal(t, 2.0, r.ctrl.LastPosition().Longitude)
}

func TestController_LastPositionFallsBackToAdapter(t *testing.T) {
	r := newRig(t)
	assert.Nil(t, r.ctrl.LastPosition())
}

func TestController_StaleSessionEventsAreDropped(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	require.NoError(t, r.ctrl.Start(ctx))
	old := r.gps.LastSink()
	require.NoError(t, r.ctrl.SelectMode(ctx, models.ModeGeofencing))

	old.Position(models.Position{Latitude: 9})
	old.Region(models.RegionEvent{GeofenceID: 1, Kind: models.RegionEnter})
	old.Error(provider.ErrDisabled)

	assert.Nil(t, r.ctrl.LastPosition())
	select {
	case ev := <-r.ctrl.RegionEvents():
		t.Fatalf("stale region event delivered: %+v", ev)
	default:
	}
	assert.True(t, r.ctrl.IsTracking(), "stale terminal error must not stop the new session")
	assert.Empty(t, r.ctrl.LastError())

	r.geo.EmitRegion(models.RegionEvent{GeofenceID: 1, Kind: models.RegionEnter})
	select {
	case ev := <-r.ctrl.RegionEvents():
		assert.Equal(t, int64(1), ev.GeofenceID)
	case <-time.After(time.Second):
		t.Fatal("current session region event not delivered")
	}
}

func TestController_TerminalAdapterErrorStopsTracking(t *testing.T) {
	r := newRig(t)
	errs, cancel := r.ctrl.SubscribeErrors(4)
	defer cancel()

	require.NoError(t, r.ctrl.Start(context.Background()))
	r.gps.EmitError(provider.ErrDisabled)

	assert.Equal(t, "GPS was disabled", recvString(t, errs))
	require.Eventually(t, func() bool { return !r.ctrl.IsTracking() }, time.Second, 5*time.Millisecond)
	assert.False(t, r.gps.Started())
	assert.Equal(t, models.ModeGPS, r.ctrl.Mode())
}

func TestController_TransientAdapterErrorKeepsTracking(t *testing.T) {
	r := newRig(t)
	errs, cancel := r.ctrl.SubscribeErrors(4)
	defer cancel()

	require.NoError(t, r.ctrl.SelectMode(context.Background(), models.ModeFused))
	require.NoError(t, r.ctrl.Start(context.Background()))
	r.fused.EmitError(errors.New("geolocate: 503"))

	assert.Equal(t, "Fused Location Provider reported a problem", recvString(t, errs))
	assert.True(t, r.ctrl.IsTracking())
}

func TestController_RegionSendUnblocksOnStop(t *testing.T) {
	r := newRig(t, WithRegionBuffer(1))
	ctx := context.Background()
	require.NoError(t, r.ctrl.SelectMode(ctx, models.ModeGeofencing))
	require.NoError(t, r.ctrl.Start(ctx))

	r.geo.EmitRegion(models.RegionEvent{GeofenceID: 1, Kind: models.RegionEnter})

	blocked := make(chan struct{})
	go func() {
		defer close(blocked)
		r.geo.LastSink().Region(models.RegionEvent{GeofenceID: 1, Kind: models.RegionExit})
	}()

	require.NoError(t, r.ctrl.Stop(ctx))
	select {
	case <-blocked:
	case <-time.After(time.Second):
		t.Fatal("region send still blocked after stop")
	}
}

func TestController_ReportWrapsPersistenceErrors(t *testing.T) {
	r := newRig(t)
	errs, cancel := r.ctrl.SubscribeErrors(1)
	defer cancel()

	r.ctrl.Report(errors.New("database is locked"))
	assert.Equal(t, "Could not save visit data", recvString(t, errs))

	r.ctrl.Report(nil)
	assert.Equal(t, "Could not save visit data", r.ctrl.LastError())
}

func TestController_RegionMonitors(t *testing.T) {
	r := newRig(t)
	monitors := r.ctrl.RegionMonitors()
	require.Len(t, monitors, 1)
	assert.Same(t, r.geo, monitors[0])
}

func TestController_SubscribeModeAndTracking(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	modes, cancelModes := r.ctrl.SubscribeMode()
	defer cancelModes()
	tracking, cancelTracking := r.ctrl.SubscribeTracking()
	defer cancelTracking()

	assert.Equal(t, models.ModeGPS, <-modes)
	assert.False(t, <-tracking)

	require.NoError(t, r.ctrl.SelectMode(ctx, models.ModeFused))
	assert.Equal(t, models.ModeFused, <-modes)

	require.NoError(t, r.ctrl.Start(ctx))
	assert.True(t, <-tracking)
}

func TestController_CloseEndsSubscriptions(t *testing.T) {
	r := newRig(t)
	modes, _ := r.ctrl.SubscribeMode()
	<-modes
	require.NoError(t, r.ctrl.Start(context.Background()))

	require.NoError(t, r.ctrl.Close(context.Background()))
	assert.False(t, r.gps.Started())
	_, ok := <-modes
	assert.False(t, ok)
	<-r.ctrl.Done()
}
