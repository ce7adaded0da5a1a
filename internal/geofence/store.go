// ABOUTME: Geofence store owning the lifecycle of named circular regions
// ABOUTME: Serialises writes and publishes the full list to subscribers

package geofence

import (
	"context"
	"fmt"
	"sync"

	"github.com/harper/geotrack/internal/models"
	"github.com/harper/geotrack/internal/observe"
	"github.com/harper/geotrack/internal/storage"
	"github.com/rs/zerolog"
)

// Store persists geofences and keeps an observable snapshot of all of them.
type Store struct {
	repo   storage.GeofenceRepository
	logger zerolog.Logger

	mu       sync.Mutex
	list     *observe.Value[[]*models.Geofence]
	onDelete []func(id int64)
}

// NewStore loads the current geofences from repo.
func NewStore(ctx context.Context, repo storage.GeofenceRepository, logger zerolog.Logger) (*Store, error) {
	s := &Store{
		repo:   repo,
		logger: logger.With().Str("component", "geofence").Logger(),
		list:   observe.NewValue[[]*models.Geofence](nil),
	}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Add validates and persists a new geofence, returning it with its id.
func (s *Store) Add(ctx context.Context, name string, lat, lng, radius float64) (*models.Geofence, error) {
	g, err := models.NewGeofence(name, lat, lng, radius)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.CreateGeofence(ctx, g); err != nil {
		return nil, fmt.Errorf("create geofence: %w", err)
	}
	if err := s.refresh(ctx); err != nil {
		return nil, err
	}

	s.logger.Info().Int64("geofence_id", g.ID).Str("name", g.Name).Msg("geofence added")
	return clone(g), nil
}

// Delete removes a geofence and all of its visits.
// Unknown ids return storage.ErrNotFound.
func (s *Store) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.DeleteGeofence(ctx, id); err != nil {
		return fmt.Errorf("delete geofence %d: %w", id, err)
	}
	if err := s.refresh(ctx); err != nil {
		return err
	}
	for _, fn := range s.onDelete {
		fn(id)
	}

	s.logger.Info().Int64("geofence_id", id).Msg("geofence deleted")
	return nil
}

// Get returns the geofence with id, or storage.ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (*models.Geofence, error) {
	for _, g := range s.list.Get() {
		if g.ID == id {
			return clone(g), nil
		}
	}
	g, err := s.repo.GetGeofence(ctx, id)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// List returns all geofences ordered by id.
func (s *Store) List() []*models.Geofence {
	cur := s.list.Get()
	out := make([]*models.Geofence, len(cur))
	for i, g := range cur {
		out[i] = clone(g)
	}
	return out
}

// Subscribe returns a channel carrying the current list and every later change.
// Received slices are shared and must not be modified.
func (s *Store) Subscribe() (<-chan []*models.Geofence, func()) {
	return s.list.Subscribe()
}

// OnDelete registers fn to run after each successful delete.
func (s *Store) OnDelete(fn func(id int64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDelete = append(s.onDelete, fn)
}

// Reload re-reads every geofence from the repository, e.g. after an import.
func (s *Store) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refresh(ctx)
}

// Close ends every subscription.
func (s *Store) Close() {
	s.list.Close()
}

func (s *Store) refresh(ctx context.Context) error {
	list, err := s.repo.ListGeofences(ctx)
	if err != nil {
		return fmt.Errorf("list geofences: %w", err)
	}
	s.list.Set(list)
	return nil
}

func clone(g *models.Geofence) *models.Geofence {
	c := *g
	return &c
}
