// ABOUTME: Data migration between geotrack storage backends
// ABOUTME: Copies geofences and visits from source to destination repository

package storage

import (
	"context"
	"fmt"
	"os"
)

// MigrateSummary holds counts of migrated entities.
type MigrateSummary struct {
	Geofences int
	Visits    int
}

// MigrateData copies all data from src to dst storage, keeping IDs.
// The destination should be empty before calling this function.
func MigrateData(ctx context.Context, src Repository, dst Repository) (*MigrateSummary, error) {
	imp, ok := dst.(Importer)
	if !ok {
		return nil, fmt.Errorf("destination %T cannot import with existing IDs", dst)
	}

	summary := &MigrateSummary{}

	geofences, err := src.ListGeofences(ctx)
	if err != nil {
		return nil, fmt.Errorf("list source geofences: %w", err)
	}
	for _, g := range geofences {
		if err := imp.ImportGeofence(ctx, g); err != nil {
			return nil, fmt.Errorf("import geofence %q: %w", g.Name, err)
		}
		summary.Geofences++
	}

	visits, err := src.ListAllVisits(ctx)
	if err != nil {
		return nil, fmt.Errorf("list source visits: %w", err)
	}
	for _, v := range visits {
		if err := imp.ImportVisit(ctx, v); err != nil {
			return nil, fmt.Errorf("import visit %d: %w", v.ID, err)
		}
		summary.Visits++
	}

	return summary, nil
}

// IsDirNonEmpty checks whether a directory exists and contains any files or subdirectories.
// Returns false if the directory does not exist or is empty.
func IsDirNonEmpty(path string) (bool, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read directory %q: %w", path, err)
	}
	return len(entries) > 0, nil
}
