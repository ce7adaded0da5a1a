// ABOUTME: Core data models for geofences, visits, and positions
// ABOUTME: Provides validators and constructor functions for new entities

package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// ValidationError reports malformed input to a creation call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ValidateCoordinates checks if latitude and longitude are within valid ranges.
func ValidateCoordinates(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsNaN(lng) {
		return &ValidationError{Field: "coordinates", Reason: "cannot be NaN"}
	}
	if math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return &ValidationError{Field: "coordinates", Reason: "cannot be infinite"}
	}
	if lat < -90 || lat > 90 {
		return &ValidationError{Field: "latitude", Reason: "must be between -90 and 90"}
	}
	if lng < -180 || lng > 180 {
		return &ValidationError{Field: "longitude", Reason: "must be between -180 and 180"}
	}
	return nil
}

// ValidateName checks if a name is valid (non-empty, within length limits).
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return &ValidationError{Field: "name", Reason: "cannot be empty or whitespace"}
	}
	if len(name) > 255 {
		return &ValidationError{Field: "name", Reason: "too long (max 255 characters)"}
	}
	return nil
}

// ValidateRadius checks that a radius in meters is finite and positive.
func ValidateRadius(radius float64) error {
	if math.IsNaN(radius) || math.IsInf(radius, 0) {
		return &ValidationError{Field: "radius", Reason: "must be a finite number"}
	}
	if radius <= 0 {
		return &ValidationError{Field: "radius", Reason: "must be greater than 0"}
	}
	return nil
}

// Geofence is a named circular region monitored for entry and exit.
type Geofence struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Radius    float64   `json:"radius"`
	CreatedAt time.Time `json:"created_at"`
}

// NewGeofence validates the input and returns an unsaved geofence.
// The ID is assigned by the repository on insert.
func NewGeofence(name string, lat, lng, radius float64) (*Geofence, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := ValidateCoordinates(lat, lng); err != nil {
		return nil, err
	}
	if err := ValidateRadius(radius); err != nil {
		return nil, err
	}
	return &Geofence{
		Name:      strings.TrimSpace(name),
		Latitude:  lat,
		Longitude: lng,
		Radius:    radius,
		CreatedAt: time.Now(),
	}, nil
}

// Visit is one continuous stay inside a geofence.
// ExitTime and Duration are either both nil (open) or both set (closed).
type Visit struct {
	ID         int64          `json:"id"`
	GeofenceID int64          `json:"geofence_id"`
	EnterTime  time.Time      `json:"enter_time"`
	ExitTime   *time.Time     `json:"exit_time,omitempty"`
	Duration   *time.Duration `json:"duration,omitempty"`
}

// NewVisit returns an unsaved open visit.
func NewVisit(geofenceID int64, enter time.Time) *Visit {
	return &Visit{
		GeofenceID: geofenceID,
		EnterTime:  enter,
	}
}

// IsOpen reports whether no exit has been recorded yet.
func (v *Visit) IsOpen() bool {
	return v.ExitTime == nil
}

// Close records the exit of an open visit.
func (v *Visit) Close(exit time.Time, d time.Duration) {
	v.ExitTime = &exit
	v.Duration = &d
}

// Position is a single location fix reported by a tracking adapter.
type Position struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy,omitempty"`
	Provider  string    `json:"provider"`
	Timestamp time.Time `json:"timestamp"`
}

// RegionEventKind distinguishes enter from exit transitions.
type RegionEventKind int

const (
	RegionEnter RegionEventKind = iota + 1
	RegionExit
)

func (k RegionEventKind) String() string {
	switch k {
	case RegionEnter:
		return "enter"
	case RegionExit:
		return "exit"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// RegionEvent is a transition reported by a region monitor.
type RegionEvent struct {
	GeofenceID int64           `json:"geofence_id"`
	Kind       RegionEventKind `json:"kind"`
	Timestamp  time.Time       `json:"timestamp"`
}
