// ABOUTME: HTTP handlers for geofences, visits, and tracking control
// ABOUTME: Maps facade errors to status codes and JSON bodies

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/harper/geotrack/internal/models"
	"github.com/harper/geotrack/internal/storage"
	"github.com/harper/geotrack/internal/tracking"
)

const defaultRadius = 100.0

type geofenceResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Radius    float64   `json:"radius"`
	CreatedAt time.Time `json:"created_at"`
	TotalMs   *int64    `json:"total_ms,omitempty"`
	Inside    *bool     `json:"inside,omitempty"`
	CurrentMs *int64    `json:"current_ms,omitempty"`
}

type visitResponse struct {
	ID         int64      `json:"id"`
	GeofenceID int64      `json:"geofence_id"`
	EnterTime  time.Time  `json:"enter_time"`
	ExitTime   *time.Time `json:"exit_time,omitempty"`
	DurationMs *int64     `json:"duration_ms,omitempty"`
}

type createGeofenceRequest struct {
	Name      string   `json:"name"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Radius    *float64 `json:"radius,omitempty"`
}

type selectModeRequest struct {
	Mode string `json:"mode"`
}

func toGeofence(g *models.Geofence) geofenceResponse {
	return geofenceResponse{
		ID:        g.ID,
		Name:      g.Name,
		Latitude:  g.Latitude,
		Longitude: g.Longitude,
		Radius:    g.Radius,
		CreatedAt: g.CreatedAt,
	}
}

func toVisits(list []*models.Visit) []visitResponse {
	out := make([]visitResponse, len(list))
	for i, v := range list {
		out[i] = visitResponse{ID: v.ID, GeofenceID: v.GeofenceID, EnterTime: v.EnterTime, ExitTime: v.ExitTime}
		if v.Duration != nil {
			ms := v.Duration.Milliseconds()
			out[i].DurationMs = &ms
		}
	}
	return out
}

func (s *Server) listGeofences(w http.ResponseWriter, r *http.Request) {
	sums, err := s.tracker.Summaries(r.Context())
	if err != nil {
		s.respondWithError(w, err)
		return
	}
	out := make([]geofenceResponse, len(sums))
	for i, sum := range sums {
		g := toGeofence(sum.Geofence)
		total, inside := sum.Total.Milliseconds(), sum.Open
		g.TotalMs, g.Inside = &total, &inside
		if sum.Open {
			current := sum.Current.Milliseconds()
			g.CurrentMs = &current
		}
		out[i] = g
	}
	respondWithJSON(w, http.StatusOK, out)
}

func (s *Server) createGeofence(w http.ResponseWriter, r *http.Request) {
	var req createGeofenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		respondWithMessage(w, http.StatusBadRequest, "latitude and longitude are required")
		return
	}
	radius := defaultRadius
	if req.Radius != nil {
		radius = *req.Radius
	}

	g, err := s.tracker.AddGeofence(r.Context(), req.Name, *req.Latitude, *req.Longitude, radius)
	if err != nil {
		s.respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, toGeofence(g))
}

func (s *Server) getGeofence(w http.ResponseWriter, r *http.Request) {
	id, ok := geofenceID(w, r)
	if !ok {
		return
	}
	g, err := s.tracker.Geofence(r.Context(), id)
	if err != nil {
		s.respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toGeofence(g))
}

func (s *Server) deleteGeofence(w http.ResponseWriter, r *http.Request) {
	id, ok := geofenceID(w, r)
	if !ok {
		return
	}
	if err := s.tracker.DeleteGeofence(r.Context(), id); err != nil {
		s.respondWithError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listVisits(w http.ResponseWriter, r *http.Request) {
	id, ok := geofenceID(w, r)
	if !ok {
		return
	}
	list, err := s.tracker.Visits(r.Context(), id)
	if err != nil {
		s.respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toVisits(list))
}

func (s *Server) totalDuration(w http.ResponseWriter, r *http.Request) {
	id, ok := geofenceID(w, r)
	if !ok {
		return
	}
	total, err := s.tracker.TotalDuration(r.Context(), id)
	if err != nil {
		s.respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]int64{"geofence_id": id, "total_ms": total.Milliseconds()})
}

func (s *Server) openVisits(w http.ResponseWriter, r *http.Request) {
	list, err := s.tracker.OpenVisits(r.Context())
	if err != nil {
		s.respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toVisits(list))
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	respondWithJSON(w, http.StatusOK, s.tracker.Status())
}

func (s *Server) selectMode(w http.ResponseWriter, r *http.Request) {
	var req selectModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	m, err := models.ParseTrackingMode(req.Mode)
	if err != nil {
		respondWithMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	respondWithResult(w, s.tracker.SelectMode(r.Context(), m))
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	respondWithResult(w, s.tracker.Start(r.Context()))
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	respondWithResult(w, s.tracker.Stop(r.Context()))
}

func geofenceID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondWithMessage(w, http.StatusBadRequest, "Invalid geofence id")
		return 0, false
	}
	return id, true
}

// respondWithResult answers tracking control calls; a failed call keeps the
// status body and uses 409.
func respondWithResult(w http.ResponseWriter, res tracking.Result) {
	code := http.StatusOK
	if res.Error != "" {
		code = http.StatusConflict
	}
	respondWithJSON(w, code, res)
}

func (s *Server) respondWithError(w http.ResponseWriter, err error) {
	var ve *models.ValidationError
	switch {
	case errors.As(err, &ve):
		respondWithMessage(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, storage.ErrNotFound):
		respondWithMessage(w, http.StatusNotFound, tracking.UserMessage(err))
	default:
		s.logger.Error().Err(err).Msg("request failed")
		respondWithMessage(w, http.StatusInternalServerError, tracking.UserMessage(err))
	}
}

func respondWithMessage(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Failed to marshal response"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}
