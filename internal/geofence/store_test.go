// ABOUTME: Tests for the geofence store
// ABOUTME: Covers validation, observable list updates, and delete hooks

package geofence

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/harper/geotrack/internal/models"
	"github.com/harper/geotrack/internal/storage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) (*Store, *storage.SQLiteDB) {
	t.Helper()
	db, err := storage.NewSQLiteDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := NewStore(context.Background(), db, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, db
}

func next(t *testing.T, ch <-chan []*models.Geofence) []*models.Geofence {
	t.Helper()
	select {
	case list := <-ch:
		return list
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for geofence list")
		return nil
	}
}

func TestAdd_AssignsID(t *testing.T) {
	s, _ := testStore(t)

	g, err := s.Add(context.Background(), "Home", 52.52, 13.405, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), g.ID)
	assert.Equal(t, "Home", g.Name)

	got, err := s.Get(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Equal(t, g.Name, got.Name)
}

func TestAdd_ValidationErrorPersistsNothing(t *testing.T) {
	s, db := testStore(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		lat    float64
		lng    float64
		radius float64
	}{
		{"", 0, 0, 10},
		{"a", 0, 0, 0},
		{"a", 0, 0, -1},
		{"a", 95, 0, 10},
		{"a", 0, 200, 10},
	}
	for _, c := range cases {
		_, err := s.Add(ctx, c.name, c.lat, c.lng, c.radius)
		var ve *models.ValidationError
		assert.True(t, errors.As(err, &ve), "expected ValidationError for %+v, got %v", c, err)
	}

	list, err := db.ListGeofences(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, s.List())
}

func TestSubscribe_SeesAdditionsAndRemovals(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	ch, cancel := s.Subscribe()
	defer cancel()
	assert.Empty(t, next(t, ch))

	home, err := s.Add(ctx, "Home", 52.52, 13.405, 100)
	require.NoError(t, err)
	assert.Len(t, next(t, ch), 1)

	_, err = s.Add(ctx, "Work", 52.50, 13.40, 50)
	require.NoError(t, err)
	list := next(t, ch)
	require.Len(t, list, 2)
	assert.Equal(t, "Home", list[0].Name)
	assert.Equal(t, "Work", list[1].Name)

	require.NoError(t, s.Delete(ctx, home.ID))
	list = next(t, ch)
	require.Len(t, list, 1)
	assert.Equal(t, "Work", list[0].Name)
}

func TestDelete_UnknownIsNotFound(t *testing.T) {
	s, _ := testStore(t)
	err := s.Delete(context.Background(), 99)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDelete_RunsHooksAndCascades(t *testing.T) {
	s, db := testStore(t)
	ctx := context.Background()

	g, err := s.Add(ctx, "Home", 52.52, 13.405, 100)
	require.NoError(t, err)
	require.NoError(t, db.CreateVisit(ctx, models.NewVisit(g.ID, time.Unix(1000, 0))))

	var deleted []int64
	s.OnDelete(func(id int64) { deleted = append(deleted, id) })

	require.NoError(t, s.Delete(ctx, g.ID))
	assert.Equal(t, []int64{g.ID}, deleted)

	visits, err := db.ListVisits(ctx, g.ID)
	require.NoError(t, err)
	assert.Empty(t, visits)

	_, err = s.Get(ctx, g.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestList_ReturnsCopies(t *testing.T) {
	s, _ := testStore(t)
	_, err := s.Add(context.Background(), "Home", 1, 2, 3)
	require.NoError(t, err)

	s.List()[0].Name = "mutated"
	assert.Equal(t, "Home", s.List()[0].Name)
}

func TestReload_PicksUpExternalWrites(t *testing.T) {
	s, db := testStore(t)
	ctx := context.Background()

	g, err := models.NewGeofence("Imported", 1, 2, 3)
	require.NoError(t, err)
	require.NoError(t, db.CreateGeofence(ctx, g))
	assert.Empty(t, s.List())

	require.NoError(t, s.Reload(ctx))
	assert.Len(t, s.List(), 1)
}
