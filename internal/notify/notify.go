// ABOUTME: Visit-started and visit-ended notifications
// ABOUTME: Defines the Notifier interface plus log, broadcast, and fan-out sinks

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/harper/geotrack/internal/observe"
	"github.com/harper/geotrack/internal/ui"
	"github.com/rs/zerolog"
)

// Kind names a visit notification.
type Kind string

const (
	VisitStarted Kind = "visit-started"
	VisitEnded   Kind = "visit-ended"
)

// UnknownGeofence is the display name used when a geofence cannot be resolved.
const UnknownGeofence = "Unknown"

// VisitEvent is emitted when a visit opens or closes.
// Duration is the closed visit's length; Total is all closed time in the geofence.
type VisitEvent struct {
	Kind         Kind          `json:"kind"`
	GeofenceID   int64         `json:"geofence_id"`
	GeofenceName string        `json:"geofence_name"`
	VisitID      int64         `json:"visit_id"`
	At           time.Time     `json:"at"`
	Duration     time.Duration `json:"-"`
	Total        time.Duration `json:"-"`
}

// Title returns a short notification headline.
func (e VisitEvent) Title() string {
	if e.Kind == VisitEnded {
		return "Geofence left"
	}
	return "Geofence entered"
}

// Message returns the notification body.
func (e VisitEvent) Message() string {
	name := e.GeofenceName
	if name == "" {
		name = UnknownGeofence
	}
	if e.Kind == VisitEnded {
		return fmt.Sprintf("You left '%s'. Time spent: %s", name, ui.FormatDuration(e.Total))
	}
	return fmt.Sprintf("You entered '%s'. Timing started.", name)
}

type visitEventJSON struct {
	Kind         Kind      `json:"kind"`
	GeofenceID   int64     `json:"geofence_id"`
	GeofenceName string    `json:"geofence_name"`
	VisitID      int64     `json:"visit_id"`
	At           time.Time `json:"at"`
	DurationMs   *int64    `json:"duration_ms,omitempty"`
	TotalMs      *int64    `json:"total_ms,omitempty"`
	Message      string    `json:"message"`
}

// MarshalJSON encodes durations in milliseconds and includes the message.
func (e VisitEvent) MarshalJSON() ([]byte, error) {
	out := visitEventJSON{
		Kind:         e.Kind,
		GeofenceID:   e.GeofenceID,
		GeofenceName: e.GeofenceName,
		VisitID:      e.VisitID,
		At:           e.At.UTC(),
		Message:      e.Message(),
	}
	if e.Kind == VisitEnded {
		d, total := e.Duration.Milliseconds(), e.Total.Milliseconds()
		out.DurationMs = &d
		out.TotalMs = &total
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the format written by MarshalJSON.
func (e *VisitEvent) UnmarshalJSON(data []byte) error {
	var in visitEventJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*e = VisitEvent{
		Kind:         in.Kind,
		GeofenceID:   in.GeofenceID,
		GeofenceName: in.GeofenceName,
		VisitID:      in.VisitID,
		At:           in.At,
	}
	if in.DurationMs != nil {
		e.Duration = time.Duration(*in.DurationMs) * time.Millisecond
	}
	if in.TotalMs != nil {
		e.Total = time.Duration(*in.TotalMs) * time.Millisecond
	}
	return nil
}

// Notifier delivers visit events to a collaborator.
type Notifier interface {
	Notify(ctx context.Context, ev VisitEvent) error
}

// Log writes each event to a zerolog logger.
type Log struct {
	logger zerolog.Logger
}

// NewLog returns a notifier that logs at info level.
func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger.With().Str("component", "notify").Logger()}
}

func (l *Log) Notify(_ context.Context, ev VisitEvent) error {
	l.logger.Info().
		Str("kind", string(ev.Kind)).
		Int64("geofence_id", ev.GeofenceID).
		Int64("visit_id", ev.VisitID).
		Str("title", ev.Title()).
		Msg(ev.Message())
	return nil
}

// Broadcast fans events out to in-process subscribers.
type Broadcast struct {
	stream *observe.Stream[VisitEvent]
}

// NewBroadcast returns an empty broadcast notifier.
func NewBroadcast() *Broadcast {
	return &Broadcast{stream: observe.NewStream[VisitEvent]()}
}

func (b *Broadcast) Notify(_ context.Context, ev VisitEvent) error {
	b.stream.Publish(ev)
	return nil
}

// Subscribe returns a channel of future events.
func (b *Broadcast) Subscribe(buffer int) (<-chan VisitEvent, func()) {
	return b.stream.Subscribe(buffer)
}

// Close ends every subscription.
func (b *Broadcast) Close() {
	b.stream.Close()
}

// Multi delivers every event to each notifier in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev VisitEvent) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
