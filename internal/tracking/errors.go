// ABOUTME: Tracking error types and user-facing error messages
// ABOUTME: Maps internal failures to short human-readable strings

package tracking

import (
	"errors"
	"fmt"

	"github.com/harper/geotrack/internal/models"
	"github.com/harper/geotrack/internal/provider"
	"github.com/harper/geotrack/internal/storage"
)

// ModeError wraps a failure of the adapter for Mode during Op.
type ModeError struct {
	Mode models.TrackingMode
	Op   string
	Err  error
}

func (e *ModeError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Mode, e.Err)
}

func (e *ModeError) Unwrap() error {
	return e.Err
}

// UnknownModeError is returned when no adapter is registered for a mode.
type UnknownModeError struct {
	Mode models.TrackingMode
}

func (e *UnknownModeError) Error() string {
	return fmt.Sprintf("no adapter registered for mode %s", e.Mode)
}

// UserMessage returns a short message suitable for showing to a person.
// Raw internal error text is never included.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var ve *models.ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}

	var unknown *UnknownModeError
	if errors.As(err, &unknown) {
		return fmt.Sprintf("%s is not supported", unknown.Mode.Label())
	}

	var me *ModeError
	if errors.As(err, &me) {
		label := me.Mode.Label()
		switch {
		case errors.Is(err, provider.ErrPermissionDenied):
			return "No location permission"
		case errors.Is(err, provider.ErrDisabled):
			if me.Mode == models.ModeGPS {
				return "GPS was disabled"
			}
			return fmt.Sprintf("%s was disabled", label)
		case errors.Is(err, provider.ErrUnavailable):
			if me.Mode == models.ModeGPS {
				return "GPS is not enabled"
			}
			return fmt.Sprintf("%s is not available", label)
		case me.Op == opStart:
			return fmt.Sprintf("Error starting %s", label)
		case me.Op == opStop:
			return fmt.Sprintf("Error stopping %s", label)
		default:
			return fmt.Sprintf("%s reported a problem", label)
		}
	}

	switch {
	case errors.Is(err, provider.ErrPermissionDenied):
		return "No location permission"
	case errors.Is(err, storage.ErrNotFound):
		return "Geofence not found"
	case errors.Is(err, storage.ErrAlreadyClosed):
		return "Visit is already closed"
	}

	var pe *PersistenceError
	if errors.As(err, &pe) {
		return "Could not save visit data"
	}

	return "Something went wrong"
}

// PersistenceError marks a storage failure reported from visit processing.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return "persistence: " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
