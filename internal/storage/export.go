// ABOUTME: Export and import functionality for geofence and visit data
// ABOUTME: Supports YAML backup format and markdown visit reports

package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/harper/geotrack/internal/models"
	"gopkg.in/yaml.v3"
)

// BackupVersion is the current backup format version.
const BackupVersion = "1.0"

// backupTool identifies backups written by this program.
const backupTool = "geotrack"

// Backup represents the YAML backup format.
type Backup struct {
	Version    string           `yaml:"version"`
	ExportedAt time.Time        `yaml:"exported_at"`
	Tool       string           `yaml:"tool"`
	Geofences  []GeofenceBackup `yaml:"geofences"`
	Visits     []VisitBackup    `yaml:"visits"`
}

// GeofenceBackup represents a geofence in the backup format.
type GeofenceBackup struct {
	ID        int64     `yaml:"id"`
	Name      string    `yaml:"name"`
	Latitude  float64   `yaml:"latitude"`
	Longitude float64   `yaml:"longitude"`
	Radius    float64   `yaml:"radius"`
	CreatedAt time.Time `yaml:"created_at"`
}

// VisitBackup represents a visit in the backup format.
// Duration is stored in milliseconds.
type VisitBackup struct {
	ID         int64      `yaml:"id"`
	GeofenceID int64      `yaml:"geofence_id"`
	EnterTime  time.Time  `yaml:"enter_time"`
	ExitTime   *time.Time `yaml:"exit_time,omitempty"`
	DurationMs *int64     `yaml:"duration_ms,omitempty"`
}

// GeofenceWithVisits groups a geofence with its visits and total time.
type GeofenceWithVisits struct {
	Geofence *models.Geofence
	Visits   []*models.Visit
	Total    time.Duration
}

// BuildBackup takes a snapshot of every geofence and visit in repo.
func BuildBackup(ctx context.Context, repo Repository) (*Backup, error) {
	geofences, err := repo.ListGeofences(ctx)
	if err != nil {
		return nil, fmt.Errorf("list geofences: %w", err)
	}

	visits, err := repo.ListAllVisits(ctx)
	if err != nil {
		return nil, fmt.Errorf("list visits: %w", err)
	}

	backup := &Backup{
		Version:    BackupVersion,
		ExportedAt: time.Now().UTC(),
		Tool:       backupTool,
		Geofences:  make([]GeofenceBackup, len(geofences)),
		Visits:     make([]VisitBackup, len(visits)),
	}

	for i, g := range geofences {
		backup.Geofences[i] = GeofenceBackup{
			ID:        g.ID,
			Name:      g.Name,
			Latitude:  g.Latitude,
			Longitude: g.Longitude,
			Radius:    g.Radius,
			CreatedAt: g.CreatedAt.UTC(),
		}
	}

	for i, v := range visits {
		vb := VisitBackup{
			ID:         v.ID,
			GeofenceID: v.GeofenceID,
			EnterTime:  v.EnterTime.UTC(),
		}
		if v.ExitTime != nil && v.Duration != nil {
			exit := v.ExitTime.UTC()
			ms := v.Duration.Milliseconds()
			vb.ExitTime = &exit
			vb.DurationMs = &ms
		}
		backup.Visits[i] = vb
	}

	return backup, nil
}

// Summary counts the entities in the backup.
func (b *Backup) Summary() MigrateSummary {
	return MigrateSummary{Geofences: len(b.Geofences), Visits: len(b.Visits)}
}

// Marshal encodes the backup as YAML.
func (b *Backup) Marshal() ([]byte, error) {
	return yaml.Marshal(b)
}

// ExportBackup exports all data to YAML format.
func ExportBackup(ctx context.Context, repo Repository) ([]byte, error) {
	backup, err := BuildBackup(ctx, repo)
	if err != nil {
		return nil, err
	}
	return backup.Marshal()
}

// ParseBackup decodes and validates a YAML backup without touching storage.
func ParseBackup(data []byte) (*Backup, error) {
	var backup Backup
	if err := yaml.Unmarshal(data, &backup); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	if backup.Version != BackupVersion {
		return nil, fmt.Errorf("unsupported backup version: %s (expected %s)", backup.Version, BackupVersion)
	}

	if backup.Tool != backupTool {
		return nil, fmt.Errorf("wrong tool: %s (expected %s)", backup.Tool, backupTool)
	}

	known := make(map[int64]bool, len(backup.Geofences))
	for _, gb := range backup.Geofences {
		if err := models.ValidateName(gb.Name); err != nil {
			return nil, fmt.Errorf("geofence %d: %w", gb.ID, err)
		}
		known[gb.ID] = true
	}

	for _, vb := range backup.Visits {
		if (vb.ExitTime == nil) != (vb.DurationMs == nil) {
			return nil, fmt.Errorf("visit %d: exit time and duration must be set together", vb.ID)
		}
		if !known[vb.GeofenceID] {
			return nil, fmt.Errorf("visit %d: unknown geofence %d", vb.ID, vb.GeofenceID)
		}
	}

	return &backup, nil
}

// ImportBackup restores a YAML backup into repo, keeping IDs.
func ImportBackup(ctx context.Context, repo Repository, data []byte) (*MigrateSummary, error) {
	backup, err := ParseBackup(data)
	if err != nil {
		return nil, err
	}

	imp, ok := repo.(Importer)
	if !ok {
		return nil, fmt.Errorf("import requires a backend that keeps IDs, got %T", repo)
	}

	summary := &MigrateSummary{}
	for _, gb := range backup.Geofences {
		g := &models.Geofence{
			ID:        gb.ID,
			Name:      gb.Name,
			Latitude:  gb.Latitude,
			Longitude: gb.Longitude,
			Radius:    gb.Radius,
			CreatedAt: gb.CreatedAt,
		}
		if err := imp.ImportGeofence(ctx, g); err != nil {
			return nil, fmt.Errorf("create geofence %s: %w", g.Name, err)
		}
		summary.Geofences++
	}

	for _, vb := range backup.Visits {
		v := models.NewVisit(vb.GeofenceID, vb.EnterTime)
		v.ID = vb.ID
		if vb.ExitTime != nil {
			v.Close(*vb.ExitTime, time.Duration(*vb.DurationMs)*time.Millisecond)
		}
		if err := imp.ImportVisit(ctx, v); err != nil {
			return nil, fmt.Errorf("create visit %d: %w", v.ID, err)
		}
		summary.Visits++
	}

	return summary, nil
}

// GetGeofencesWithVisits retrieves geofences with their visits.
// If geofenceID is nil, returns all geofences.
func GetGeofencesWithVisits(ctx context.Context, repo Repository, geofenceID *int64) ([]GeofenceWithVisits, error) {
	var geofences []*models.Geofence

	if geofenceID != nil {
		g, err := repo.GetGeofence(ctx, *geofenceID)
		if err != nil {
			return nil, err
		}
		geofences = []*models.Geofence{g}
	} else {
		var err error
		geofences, err = repo.ListGeofences(ctx)
		if err != nil {
			return nil, err
		}
	}

	result := make([]GeofenceWithVisits, len(geofences))
	for i, g := range geofences {
		visits, err := repo.ListVisits(ctx, g.ID)
		if err != nil {
			return nil, fmt.Errorf("list visits for %s: %w", g.Name, err)
		}
		total, err := repo.TotalDuration(ctx, g.ID)
		if err != nil {
			return nil, fmt.Errorf("total duration for %s: %w", g.Name, err)
		}
		result[i] = GeofenceWithVisits{Geofence: g, Visits: visits, Total: total}
	}

	return result, nil
}

// ExportToMarkdown renders a visit report as markdown.
// If geofenceID is nil, exports all geofences.
func ExportToMarkdown(ctx context.Context, repo Repository, geofenceID *int64) ([]byte, error) {
	data, err := GetGeofencesWithVisits(ctx, repo, geofenceID)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder

	now := time.Now().UTC()
	sb.WriteString(fmt.Sprintf("# Geofence Visits - %s\n\n", now.Format("2006-01-02")))
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", now.Format(time.RFC3339)))

	if len(data) == 0 {
		sb.WriteString("No geofences defined.\n")
		return []byte(sb.String()), nil
	}

	for _, gwv := range data {
		g := gwv.Geofence
		sb.WriteString(fmt.Sprintf("## %s\n\n", g.Name))
		sb.WriteString(fmt.Sprintf("Center (%.4f, %.4f), radius %.0f m, total time %s\n\n",
			g.Latitude, g.Longitude, g.Radius, gwv.Total))

		if len(gwv.Visits) == 0 {
			sb.WriteString("No visits recorded.\n\n")
			continue
		}

		sb.WriteString("| Entered | Left | Duration |\n")
		sb.WriteString("|---------|------|----------|\n")

		for _, v := range gwv.Visits {
			left, dur := "-", "open"
			if v.ExitTime != nil && v.Duration != nil {
				left = v.ExitTime.Format("2006-01-02 15:04")
				dur = v.Duration.String()
			}
			sb.WriteString(fmt.Sprintf("| %s | %s | %s |\n", v.EnterTime.Format("2006-01-02 15:04"), left, dur))
		}

		sb.WriteString("\n")
	}

	return []byte(sb.String()), nil
}
