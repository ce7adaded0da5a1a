// ABOUTME: HTTP JSON API and websocket event stream over the tracking facade
// ABOUTME: Routes geofence, visit, and tracking calls through chi

package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/harper/geotrack/internal/models"
	"github.com/harper/geotrack/internal/notify"
	"github.com/harper/geotrack/internal/tracking"
	"github.com/rs/zerolog"
)

// Tracker is the part of the tracking facade the API serves.
type Tracker interface {
	Status() tracking.Status
	SelectMode(ctx context.Context, m models.TrackingMode) tracking.Result
	Start(ctx context.Context) tracking.Result
	Stop(ctx context.Context) tracking.Result

	AddGeofence(ctx context.Context, name string, lat, lng, radius float64) (*models.Geofence, error)
	DeleteGeofence(ctx context.Context, id int64) error
	Geofence(ctx context.Context, id int64) (*models.Geofence, error)
	Summaries(ctx context.Context) ([]tracking.GeofenceSummary, error)
	Visits(ctx context.Context, geofenceID int64) ([]*models.Visit, error)
	TotalDuration(ctx context.Context, geofenceID int64) (time.Duration, error)
	OpenVisits(ctx context.Context) ([]*models.Visit, error)

	SubscribeMode() (<-chan models.TrackingMode, func())
	SubscribeTracking() (<-chan bool, func())
	SubscribePosition() (<-chan *models.Position, func())
	SubscribeErrors(buffer int) (<-chan string, func())
	SubscribeVisitEvents(buffer int) (<-chan notify.VisitEvent, func())
}

// Options configures the HTTP server.
type Options struct {
	Addr        string
	CORSOrigins []string
}

// Server serves the API.
type Server struct {
	tracker  Tracker
	logger   zerolog.Logger
	router   *chi.Mux
	server   *http.Server
	upgrader websocket.Upgrader
	ws       wsConfig

	done      chan struct{}
	closeOnce sync.Once
}

// NewServer builds the router.
func NewServer(tracker Tracker, logger zerolog.Logger, opts Options) *Server {
	s := &Server{
		tracker: tracker,
		logger:  logger.With().Str("component", "api").Logger(),
		router:  chi.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		ws:   defaultWSConfig(),
		done: make(chan struct{}),
	}
	if len(opts.CORSOrigins) > 0 {
		origins := opts.CORSOrigins
		s.upgrader.CheckOrigin = func(r *http.Request) bool {
			return allowedOrigin(origins, r.Header.Get("Origin"))
		}
	}

	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/geofences", func(r chi.Router) {
		r.Get("/", s.listGeofences)
		r.Post("/", s.createGeofence)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getGeofence)
			r.Delete("/", s.deleteGeofence)
			r.Get("/visits", s.listVisits)
			r.Get("/total", s.totalDuration)
		})
	})
	r.Get("/visits/open", s.openVisits)

	r.Route("/tracking", func(r chi.Router) {
		r.Get("/", s.status)
		r.Put("/mode", s.selectMode)
		r.Post("/start", s.start)
		r.Post("/stop", s.stop)
		r.Get("/events", s.events)
	})

	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("http api listening")
	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown closes websocket streams and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.done) })
	return s.server.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

func allowedOrigin(origins []string, origin string) bool {
	if origin == "" {
		return true
	}
	for _, o := range origins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
