// ABOUTME: Tests for the HTTP API and websocket event stream
// ABOUTME: Drives a real facade over SQLite with fake tracking adapters

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harper/geotrack/internal/geofence"
	"github.com/harper/geotrack/internal/models"
	"github.com/harper/geotrack/internal/notify"
	"github.com/harper/geotrack/internal/provider"
	"github.com/harper/geotrack/internal/provider/providertest"
	"github.com/harper/geotrack/internal/storage"
	"github.com/harper/geotrack/internal/tracking"
	"github.com/harper/geotrack/internal/visits"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiRig struct {
	facade *tracking.Facade
	gps    *providertest.Fake
	server *Server
	http   *httptest.Server
}

func newAPIRig(t *testing.T) *apiRig {
	t.Helper()
	ctx := context.Background()

	db, err := storage.NewSQLiteDB(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := geofence.NewStore(ctx, db, zerolog.Nop())
	require.NoError(t, err)
	gps := providertest.New(models.ModeGPS, nil)
	ctrl := tracking.NewController([]provider.Adapter{
		gps,
		providertest.New(models.ModeFused, nil),
		providertest.NewMonitor(nil),
	}, zerolog.Nop())
	facade := tracking.NewFacade(ctrl, store, visits.NewLedger(db, zerolog.Nop()), nil, zerolog.Nop())
	t.Cleanup(func() { _ = facade.Close(context.Background()) })

	srv := NewServer(facade, zerolog.Nop(), Options{})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	return &apiRig{facade: facade, gps: gps, server: srv, http: ts}
}

func (r *apiRig) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, r.http.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	r := newAPIRig(t)
	resp := r.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGeofenceCRUD(t *testing.T) {
	r := newAPIRig(t)

	resp := r.do(t, http.MethodPost, "/geofences", map[string]interface{}{
		"name": "Home", "latitude": 52.52, "longitude": 13.405,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[geofenceResponse](t, resp)
	assert.Equal(t, int64(1), created.ID)
	assert.Equal(t, 100.0, created.Radius, "radius defaults to 100 m")

	resp = r.do(t, http.MethodGet, "/geofences/1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Home", decode[geofenceResponse](t, resp).Name)

	resp = r.do(t, http.MethodGet, "/geofences", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[[]geofenceResponse](t, resp)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].TotalMs)
	assert.Zero(t, *list[0].TotalMs)
	assert.Nil(t, list[0].CurrentMs, "no current dwell while outside")

	resp = r.do(t, http.MethodDelete, "/geofences/1", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = r.do(t, http.MethodGet, "/geofences/1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Geofence not found", decode[map[string]string](t, resp)["error"])
}

func TestCreateGeofenceValidation(t *testing.T) {
	r := newAPIRig(t)

	tests := []struct {
		name string
		body interface{}
	}{
		{"empty name", map[string]interface{}{"name": " ", "latitude": 1, "longitude": 1}},
		{"bad radius", map[string]interface{}{"name": "a", "latitude": 1, "longitude": 1, "radius": 0}},
		{"bad latitude", map[string]interface{}{"name": "a", "latitude": 91, "longitude": 1}},
		{"missing coordinates", map[string]interface{}{"name": "a"}},
		{"not json", "{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := r.do(t, http.MethodPost, "/geofences", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.NotEmpty(t, decode[map[string]string](t, resp)["error"])
		})
	}
	assert.Empty(t, r.facade.Geofences())
}

func TestVisitsAndTotals(t *testing.T) {
	r := newAPIRig(t)
	ctx := context.Background()

	g, err := r.facade.AddGeofence(ctx, "Home", 52.52, 13.405, 100)
	require.NoError(t, err)
	require.NoError(t, r.facade.SimulateEnter(ctx, g.ID, time.Unix(1000, 0)))
	require.NoError(t, r.facade.SimulateExit(ctx, g.ID, time.Unix(4600, 0)))
	require.NoError(t, r.facade.SimulateEnter(ctx, g.ID, time.Unix(5000, 0)))

	resp := r.do(t, http.MethodGet, "/geofences/1/visits", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[[]visitResponse](t, resp)
	require.Len(t, list, 2)
	assert.Nil(t, list[0].DurationMs, "newest visit is open")
	require.NotNil(t, list[1].DurationMs)
	assert.Equal(t, int64(3600000), *list[1].DurationMs)

	resp = r.do(t, http.MethodGet, "/geofences/1/total", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(3600000), decode[map[string]int64](t, resp)["total_ms"])

	resp = r.do(t, http.MethodGet, "/visits/open", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]visitResponse](t, resp), 1)

	resp = r.do(t, http.MethodGet, "/geofences", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sums := decode[[]geofenceResponse](t, resp)
	require.Len(t, sums, 1)
	require.NotNil(t, sums[0].Inside)
	assert.True(t, *sums[0].Inside)
	require.NotNil(t, sums[0].CurrentMs)
	assert.Greater(t, *sums[0].CurrentMs, int64(3600000), "current dwell adds the open visit")

	resp = r.do(t, http.MethodGet, "/geofences/9/visits", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = r.do(t, http.MethodGet, "/geofences/abc/total", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTrackingControl(t *testing.T) {
	r := newAPIRig(t)

	resp := r.do(t, http.MethodGet, "/tracking", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decode[map[string]interface{}](t, resp)
	assert.Equal(t, "gps", st["mode"])
	assert.Equal(t, false, st["tracking"])

	resp = r.do(t, http.MethodPost, "/tracking/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decode[map[string]interface{}](t, resp)["tracking"])

	resp = r.do(t, http.MethodPut, "/tracking/mode", map[string]string{"mode": "fused"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[map[string]interface{}](t, resp)
	assert.Equal(t, "fused", res["mode"])
	assert.Equal(t, "Fused Location Provider", res["mode_label"])
	assert.Equal(t, true, res["tracking"])

	resp = r.do(t, http.MethodPost, "/tracking/stop", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = r.do(t, http.MethodPost, "/tracking/stop", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decode[map[string]interface{}](t, resp)["tracking"])

	resp = r.do(t, http.MethodPut, "/tracking/mode", map[string]string{"mode": "wifi"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTrackingStartFailure(t *testing.T) {
	r := newAPIRig(t)
	r.gps.SetCapable(false)

	resp := r.do(t, http.MethodPost, "/tracking/start", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decode[map[string]interface{}](t, resp)
	assert.Equal(t, "No location permission", body["error"])
	assert.Equal(t, false, body["tracking"])
}

func readEvent(t *testing.T, conn *websocket.Conn, typ string) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var ev Event
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Type == typ {
			return ev
		}
	}
}

func TestEventStream(t *testing.T) {
	r := newAPIRig(t)
	ctx := context.Background()

	url := "ws" + strings.TrimPrefix(r.http.URL, "http") + "/tracking/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	initial := readEvent(t, conn, EventStatus)
	require.NotNil(t, initial.Status)
	assert.Equal(t, models.ModeGPS, initial.Status.Mode)

	g, err := r.facade.AddGeofence(ctx, "Home", 52.52, 13.405, 100)
	require.NoError(t, err)
	require.NoError(t, r.facade.SimulateEnter(ctx, g.ID, time.Unix(1000, 0)))

	visit := readEvent(t, conn, EventVisit)
	require.NotNil(t, visit.Visit)
	assert.Equal(t, notify.VisitStarted, visit.Visit.Kind)
	assert.Equal(t, "Home", visit.Visit.GeofenceName)

	r.gps.SetCapable(false)
	r.facade.Start(ctx)
	assert.Equal(t, "No location permission", readEvent(t, conn, EventError).Message)

	r.gps.SetCapable(true)
	r.facade.Start(ctx)
	r.gps.EmitPosition(models.Position{Latitude: 52.52, Longitude: 13.405, Provider: "gps", Timestamp: time.Now()})
	pos := readEvent(t, conn, EventPosition)
	require.NotNil(t, pos.Position)
	assert.Equal(t, 52.52, pos.Position.Latitude)
}

func TestEventStreamClosesOnShutdown(t *testing.T) {
	r := newAPIRig(t)

	url := "ws" + strings.TrimPrefix(r.http.URL, "http") + "/tracking/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	readEvent(t, conn, EventStatus)

	require.NoError(t, r.server.Shutdown(context.Background()))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
			return
		}
	}
}
