// ABOUTME: Repository interfaces for geofence and visit storage
// ABOUTME: Enables testability and storage backend swapping

package storage

import (
	"context"
	"time"

	"github.com/harper/geotrack/internal/models"
)

// GeofenceRepository defines operations for managing geofences.
type GeofenceRepository interface {
	// CreateGeofence inserts g and assigns its ID.
	CreateGeofence(ctx context.Context, g *models.Geofence) error
	GetGeofence(ctx context.Context, id int64) (*models.Geofence, error)
	// ListGeofences returns all geofences ordered by ID.
	ListGeofences(ctx context.Context) ([]*models.Geofence, error)
	// DeleteGeofence removes the geofence and every visit that references it.
	DeleteGeofence(ctx context.Context, id int64) error
}

// VisitRepository defines operations for managing visits.
type VisitRepository interface {
	// CreateVisit inserts v and assigns its ID. Returns ErrNotFound if the
	// geofence does not exist.
	CreateVisit(ctx context.Context, v *models.Visit) error
	GetVisit(ctx context.Context, id int64) (*models.Visit, error)
	// CloseVisit sets exit time and duration together. Returns ErrAlreadyClosed
	// if the visit is not open.
	CloseVisit(ctx context.Context, id int64, exit time.Time, d time.Duration) error
	// ListVisits returns a geofence's visits, newest enter time first.
	ListVisits(ctx context.Context, geofenceID int64) ([]*models.Visit, error)
	// OpenVisitsFor returns a geofence's open visits, newest enter time first,
	// then highest ID first.
	OpenVisitsFor(ctx context.Context, geofenceID int64) ([]*models.Visit, error)
	ListOpenVisits(ctx context.Context) ([]*models.Visit, error)
	ListAllVisits(ctx context.Context) ([]*models.Visit, error)
	// TotalDuration sums the durations of a geofence's closed visits.
	TotalDuration(ctx context.Context, geofenceID int64) (time.Duration, error)
}

// Repository combines all repository operations with lifecycle management.
type Repository interface {
	GeofenceRepository
	VisitRepository
	Close() error
	Reset(ctx context.Context) error
}

// Importer writes entities with their existing IDs, bypassing ID assignment.
// Used by migration and backup restore.
type Importer interface {
	ImportGeofence(ctx context.Context, g *models.Geofence) error
	ImportVisit(ctx context.Context, v *models.Visit) error
}
