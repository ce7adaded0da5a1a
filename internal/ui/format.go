// ABOUTME: Terminal UI formatting utilities
// ABOUTME: Provides human-readable output for geofences, visits, and durations

package ui

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/harper/geotrack/internal/models"
)

// FormatDuration renders d as "H h M min", "M min S s", or "S s".
func FormatDuration(d time.Duration) string {
	seconds := int64(d / time.Second)
	if seconds < 0 {
		seconds = 0
	}
	minutes := seconds / 60
	hours := minutes / 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%d h %d min", hours, minutes%60)
	case minutes > 0:
		return fmt.Sprintf("%d min %d s", minutes, seconds%60)
	default:
		return fmt.Sprintf("%d s", seconds)
	}
}

// FormatGeofence formats a geofence with its total visit time.
func FormatGeofence(g *models.Geofence, total time.Duration) string {
	if g == nil {
		return color.New(color.Faint).Sprint("(invalid geofence)")
	}
	coords := fmt.Sprintf("(%.4f, %.4f) r=%.0fm", g.Latitude, g.Longitude, g.Radius)
	return fmt.Sprintf("%s %s %s - %s",
		color.New(color.Faint).Sprintf("#%d", g.ID),
		color.GreenString(g.Name),
		color.New(color.Faint).Sprint(coords),
		FormatDuration(total))
}

// FormatVisit formats one visit for a history listing.
func FormatVisit(v *models.Visit) string {
	if v == nil {
		return color.New(color.Faint).Sprint("  (no visit)")
	}
	enter := v.EnterTime.Format("Jan 2, 3:04 PM")
	if v.IsOpen() {
		return fmt.Sprintf("  %s %s - %s",
			color.New(color.Faint).Sprintf("#%d", v.ID),
			enter,
			color.YellowString("inside since %s", FormatRelativeTime(v.EnterTime)))
	}
	return fmt.Sprintf("  %s %s → %s  %s",
		color.New(color.Faint).Sprintf("#%d", v.ID),
		enter,
		v.ExitTime.Format("3:04 PM"),
		color.CyanString(FormatDuration(*v.Duration)))
}

// FormatPosition formats a position fix for terminal display.
func FormatPosition(pos *models.Position) string {
	if pos == nil {
		return color.New(color.Faint).Sprint("(no position)")
	}
	coords := fmt.Sprintf("(%.5f, %.5f)", pos.Latitude, pos.Longitude)
	return fmt.Sprintf("%s %s - %s",
		color.CyanString(coords),
		color.New(color.Faint).Sprint(pos.Provider),
		color.New(color.Faint).Sprint(FormatRelativeTime(pos.Timestamp)))
}

// FormatMode formats a tracking mode with its running state.
func FormatMode(m models.TrackingMode, running bool) string {
	state := color.New(color.Faint).Sprint("idle")
	if running {
		state = color.GreenString("running")
	}
	return fmt.Sprintf("%s (%s)", m.Label(), state)
}

// FormatRelativeTime formats a time as relative to now.
func FormatRelativeTime(t time.Time) string {
	diff := time.Since(t)

	// Handle future times (clock skew, bad data)
	if diff < 0 {
		return color.YellowString("in the future")
	}

	if diff < time.Minute {
		return "just now"
	}
	if diff < time.Hour {
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	}
	if diff < 24*time.Hour {
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	}
	days := int(diff.Hours() / 24)
	if days == 1 {
		return "1 day ago"
	}
	return fmt.Sprintf("%d days ago", days)
}
