// ABOUTME: MCP server initialization and configuration
// ABOUTME: Exposes geofences, visits, and tracking control to AI agents over stdio

package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/harper/geotrack/internal/models"
	"github.com/harper/geotrack/internal/tracking"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Tracker is the part of the tracking facade the MCP tools use.
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
}

// Server wraps the MCP server around a tracker.
type Server struct {
	mcp     *mcp.Server
	tracker Tracker
}

// NewServer creates MCP server with all capabilities.
func NewServer(tracker Tracker) (*Server, error) {
	if tracker == nil {
		return nil, fmt.Errorf("tracker is required")
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "geotrack",
			Version: "1.0.0",
		},
		nil,
	)

	s := &Server{
		mcp:     mcpServer,
		tracker: tracker,
	}

	s.registerTools()
	s.registerResources()

	return s, nil
}

// Serve starts the MCP server in stdio mode.
func (s *Server) Serve(ctx context.Context) error {
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}
