// ABOUTME: SQLite storage implementation for geofences and visits
// ABOUTME: Provides local-only persistence using pure Go SQLite driver

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harper/geotrack/internal/models"
	_ "modernc.org/sqlite"
)

// SQLiteDB implements Repository with a local SQLite database.
type SQLiteDB struct {
	db   *sql.DB
	path string
}

// Compile-time checks that SQLiteDB implements Repository and Importer.
var (
	_ Repository = (*SQLiteDB)(nil)
	_ Importer   = (*SQLiteDB)(nil)
)

// DefaultDBPath returns the default database path.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".local", "share", "geotrack", "geotrack.db")
}

// NewSQLiteDB creates a new SQLite database at the given path.
// Creates the directory and database file if they don't exist.
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil { //nolint:gosec // 0750 is appropriate for user data directory
		return nil, fmt.Errorf("create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps pragmas and write ordering simple.
	db.SetMaxOpenConns(1)

	s := &SQLiteDB{db: db, path: path}

	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// migrate creates or updates the database schema.
func (s *SQLiteDB) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS geofences (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			radius REAL NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS visits (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			geofence_id INTEGER NOT NULL REFERENCES geofences(id) ON DELETE CASCADE,
			enter_time INTEGER NOT NULL,
			exit_time INTEGER,
			total_duration INTEGER,
			CHECK ((exit_time IS NULL) = (total_duration IS NULL)),
			CHECK (total_duration IS NULL OR total_duration >= 0)
		);

		CREATE INDEX IF NOT EXISTS idx_visits_geofence_id ON visits(geofence_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Path returns the database file path.
func (s *SQLiteDB) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// Reset clears all data from the database.
func (s *SQLiteDB) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM visits; DELETE FROM geofences;")
	return err
}

// CreateGeofence inserts a geofence and assigns its ID.
func (s *SQLiteDB) CreateGeofence(ctx context.Context, g *models.Geofence) error {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO geofences (name, latitude, longitude, radius, created_at) VALUES (?, ?, ?, ?, ?)",
		g.Name, g.Latitude, g.Longitude, g.Radius, g.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert geofence: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("geofence id: %w", err)
	}
	g.ID = id
	return nil
}

// ImportGeofence inserts a geofence keeping its ID.
func (s *SQLiteDB) ImportGeofence(ctx context.Context, g *models.Geofence) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO geofences (id, name, latitude, longitude, radius, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		g.ID, g.Name, g.Latitude, g.Longitude, g.Radius, g.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("import geofence: %w", err)
	}
	return nil
}

// GetGeofence retrieves a geofence by ID.
func (s *SQLiteDB) GetGeofence(ctx context.Context, id int64) (*models.Geofence, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, latitude, longitude, radius, created_at FROM geofences WHERE id = ?",
		id,
	)
	var g models.Geofence
	err := row.Scan(&g.ID, &g.Name, &g.Latitude, &g.Longitude, &g.Radius, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan geofence: %w", err)
	}
	return &g, nil
}

// ListGeofences returns all geofences in ID order.
func (s *SQLiteDB) ListGeofences(ctx context.Context) ([]*models.Geofence, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, latitude, longitude, radius, created_at FROM geofences ORDER BY id",
	)
	if err != nil {
		return nil, fmt.Errorf("query geofences: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var geofences []*models.Geofence
	for rows.Next() {
		var g models.Geofence
		if err := rows.Scan(&g.ID, &g.Name, &g.Latitude, &g.Longitude, &g.Radius, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan geofence: %w", err)
		}
		geofences = append(geofences, &g)
	}
	return geofences, rows.Err()
}

// DeleteGeofence removes a geofence (visits cascade delete automatically).
func (s *SQLiteDB) DeleteGeofence(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM geofences WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete geofence: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete geofence: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateVisit inserts an open visit for an existing geofence.
func (s *SQLiteDB) CreateVisit(ctx context.Context, v *models.Visit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM geofences WHERE id = ?", v.GeofenceID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check geofence: %w", err)
	}

	exit, dur := visitCloseColumns(v)
	res, err := tx.ExecContext(ctx,
		"INSERT INTO visits (geofence_id, enter_time, exit_time, total_duration) VALUES (?, ?, ?, ?)",
		v.GeofenceID, v.EnterTime.UnixMilli(), exit, dur,
	)
	if err != nil {
		return fmt.Errorf("insert visit: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("visit id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	v.ID = id
	return nil
}

// ImportVisit inserts a visit keeping its ID.
func (s *SQLiteDB) ImportVisit(ctx context.Context, v *models.Visit) error {
	exit, dur := visitCloseColumns(v)
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO visits (id, geofence_id, enter_time, exit_time, total_duration) VALUES (?, ?, ?, ?, ?)",
		v.ID, v.GeofenceID, v.EnterTime.UnixMilli(), exit, dur,
	)
	if err != nil {
		return fmt.Errorf("import visit: %w", err)
	}
	return nil
}

// CloseVisit records the exit of an open visit in a single statement.
func (s *SQLiteDB) CloseVisit(ctx context.Context, id int64, exit time.Time, d time.Duration) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE visits SET exit_time = ?, total_duration = ? WHERE id = ? AND exit_time IS NULL",
		exit.UnixMilli(), d.Milliseconds(), id,
	)
	if err != nil {
		return fmt.Errorf("close visit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close visit: %w", err)
	}
	if n == 0 {
		if _, err := s.GetVisit(ctx, id); err != nil {
			return err
		}
		return ErrAlreadyClosed
	}
	return nil
}

// GetVisit retrieves a visit by ID.
func (s *SQLiteDB) GetVisit(ctx context.Context, id int64) (*models.Visit, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, geofence_id, enter_time, exit_time, total_duration FROM visits WHERE id = ?",
		id,
	)
	v, err := scanVisit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return v, err
}

// ListVisits returns a geofence's visits, newest first.
func (s *SQLiteDB) ListVisits(ctx context.Context, geofenceID int64) ([]*models.Visit, error) {
	return s.queryVisits(ctx,
		`SELECT id, geofence_id, enter_time, exit_time, total_duration
		 FROM visits WHERE geofence_id = ? ORDER BY enter_time DESC, id DESC`,
		geofenceID,
	)
}

// OpenVisitsFor returns a geofence's open visits, most recently opened first.
func (s *SQLiteDB) OpenVisitsFor(ctx context.Context, geofenceID int64) ([]*models.Visit, error) {
	return s.queryVisits(ctx,
		`SELECT id, geofence_id, enter_time, exit_time, total_duration
		 FROM visits WHERE geofence_id = ? AND exit_time IS NULL ORDER BY enter_time DESC, id DESC`,
		geofenceID,
	)
}

// ListOpenVisits returns every open visit across all geofences.
func (s *SQLiteDB) ListOpenVisits(ctx context.Context) ([]*models.Visit, error) {
	return s.queryVisits(ctx,
		`SELECT id, geofence_id, enter_time, exit_time, total_duration
		 FROM visits WHERE exit_time IS NULL ORDER BY enter_time DESC, id DESC`,
	)
}

// ListAllVisits returns every visit in ID order.
func (s *SQLiteDB) ListAllVisits(ctx context.Context) ([]*models.Visit, error) {
	return s.queryVisits(ctx,
		"SELECT id, geofence_id, enter_time, exit_time, total_duration FROM visits ORDER BY id",
	)
}

// TotalDuration sums the durations of a geofence's closed visits.
func (s *SQLiteDB) TotalDuration(ctx context.Context, geofenceID int64) (time.Duration, error) {
	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(total_duration), 0) FROM visits
		 WHERE geofence_id = ? AND total_duration IS NOT NULL`,
		geofenceID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum durations: %w", err)
	}
	return time.Duration(total) * time.Millisecond, nil
}

func (s *SQLiteDB) queryVisits(ctx context.Context, query string, args ...any) ([]*models.Visit, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query visits: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var visits []*models.Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, err
		}
		visits = append(visits, v)
	}
	return visits, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVisit(row scanner) (*models.Visit, error) {
	var v models.Visit
	var enter int64
	var exit, dur sql.NullInt64
	if err := row.Scan(&v.ID, &v.GeofenceID, &enter, &exit, &dur); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan visit: %w", err)
	}
	v.EnterTime = time.UnixMilli(enter)
	if exit.Valid && dur.Valid {
		v.Close(time.UnixMilli(exit.Int64), time.Duration(dur.Int64)*time.Millisecond)
	}
	return &v, nil
}

func visitCloseColumns(v *models.Visit) (exit, dur sql.NullInt64) {
	if v.ExitTime != nil && v.Duration != nil {
		exit = sql.NullInt64{Int64: v.ExitTime.UnixMilli(), Valid: true}
		dur = sql.NullInt64{Int64: v.Duration.Milliseconds(), Valid: true}
	}
	return exit, dur
}
