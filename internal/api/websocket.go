// ABOUTME: Websocket stream of tracking status, positions, errors, and visit events
// ABOUTME: One write loop per connection fed by facade subscriptions

package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harper/geotrack/internal/models"
	"github.com/harper/geotrack/internal/notify"
	"github.com/harper/geotrack/internal/tracking"
)

// Event types sent on /tracking/events.
const (
	EventStatus   = "status"
	EventPosition = "position"
	EventError    = "error"
	EventVisit    = "visit"
)

const streamBuffer = 32

type wsConfig struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
}

func defaultWSConfig() wsConfig {
	return wsConfig{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     (60 * time.Second * 9) / 10,
		MaxMessageSize: 512,
	}
}

// Event is one message on the stream.
type Event struct {
	Type     string             `json:"type"`
	Status   *tracking.Status   `json:"status,omitempty"`
	Position *models.Position   `json:"position,omitempty"`
	Message  string             `json:"message,omitempty"`
	Visit    *notify.VisitEvent `json:"visit,omitempty"`
}

func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	modes, cancelModes := s.tracker.SubscribeMode()
	defer cancelModes()
	running, cancelRunning := s.tracker.SubscribeTracking()
	defer cancelRunning()
	positions, cancelPositions := s.tracker.SubscribePosition()
	defer cancelPositions()
	errs, cancelErrs := s.tracker.SubscribeErrors(streamBuffer)
	defer cancelErrs()
	visits, cancelVisits := s.tracker.SubscribeVisitEvents(streamBuffer)
	defer cancelVisits()

	closed := make(chan struct{})
	go s.readPump(conn, closed)

	ticker := time.NewTicker(s.ws.PingPeriod)
	defer ticker.Stop()

	s.logger.Debug().Str("remote", r.RemoteAddr).Msg("event stream opened")
	for {
		var ev Event
		select {
		case <-closed:
			return
		case <-s.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(s.ws.WriteWait))
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.ws.WriteWait)); err != nil {
				return
			}
			continue
		case _, ok := <-modes:
			if !ok {
				return
			}
			ev = s.statusEvent()
		case _, ok := <-running:
			if !ok {
				return
			}
			ev = s.statusEvent()
		case pos, ok := <-positions:
			if !ok {
				return
			}
			if pos == nil {
				continue
			}
			ev = Event{Type: EventPosition, Position: pos}
		case msg, ok := <-errs:
			if !ok {
				return
			}
			ev = Event{Type: EventError, Message: msg}
		case v, ok := <-visits:
			if !ok {
				return
			}
			ev = Event{Type: EventVisit, Visit: &v}
		}

		_ = conn.SetWriteDeadline(time.Now().Add(s.ws.WriteWait))
		if err := conn.WriteJSON(ev); err != nil {
			s.logger.Debug().Err(err).Msg("event stream write failed")
			return
		}
	}
}

func (s *Server) statusEvent() Event {
	st := s.tracker.Status()
	return Event{Type: EventStatus, Status: &st}
}

// readPump discards client messages and closes closed when the peer goes away.
func (s *Server) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadLimit(s.ws.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(s.ws.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.ws.PongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug().Err(err).Msg("event stream closed")
			}
			return
		}
	}
}
