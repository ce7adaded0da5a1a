// ABOUTME: Tracking mode enumeration
// ABOUTME: Names and display labels for the three positioning strategies

package models

import (
	"fmt"
	"strings"
)

// TrackingMode selects which positioning strategy is active.
type TrackingMode int

const (
	ModeGPS TrackingMode = iota
	ModeFused
	ModeGeofencing
)

// AllModes returns every mode in display order.
func AllModes() []TrackingMode {
	return []TrackingMode{ModeGPS, ModeFused, ModeGeofencing}
}

func (m TrackingMode) String() string {
	switch m {
	case ModeGPS:
		return "gps"
	case ModeFused:
		return "fused"
	case ModeGeofencing:
		return "geofencing"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Label returns the fixed display label of the mode.
func (m TrackingMode) Label() string {
	switch m {
	case ModeGPS:
		return "GPS Tracking"
	case ModeFused:
		return "Fused Location Provider"
	case ModeGeofencing:
		return "Geofencing"
	default:
		return "Unknown"
	}
}

// ParseTrackingMode accepts the mode name, case-insensitively.
func ParseTrackingMode(s string) (TrackingMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gps":
		return ModeGPS, nil
	case "fused", "fused_location", "fused-location":
		return ModeFused, nil
	case "geofencing", "geofence":
		return ModeGeofencing, nil
	default:
		return 0, &ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown tracking mode %q (use gps, fused, or geofencing)", s)}
	}
}

// MarshalText encodes the mode as its name.
func (m TrackingMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText decodes a mode name.
func (m *TrackingMode) UnmarshalText(text []byte) error {
	parsed, err := ParseTrackingMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
