// ABOUTME: MCP tool definitions and handlers
// ABOUTME: Geofence CRUD, visit queries, and tracking control for AI agents

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/harper/geotrack/internal/models"
	"github.com/harper/geotrack/internal/tracking"
	"github.com/harper/geotrack/internal/ui"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const defaultRadius = 100.0

func (s *Server) registerTools() {
	s.registerAddGeofenceTool()
	s.registerRemoveGeofenceTool()
	s.registerListGeofencesTool()
	s.registerListVisitsTool()
	s.registerOpenVisitsTool()
	s.registerTrackingStatusTool()
	s.registerSelectModeTool()
	s.registerStartTrackingTool()
	s.registerStopTrackingTool()
}

func textResult(output interface{}) *mcp.CallToolResult {
	jsonBytes, _ := json.MarshalIndent(output, "", "  ") //nolint:errchkjson // output is always serializable
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(jsonBytes)}},
	}
}

// userError hides internal error text behind the user-facing message.
func userError(err error) error {
	return errors.New(tracking.UserMessage(err))
}

// AddGeofenceInput defines input for add_geofence tool.
type AddGeofenceInput struct {
	Name      string   `json:"name"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Radius    *float64 `json:"radius,omitempty"`
}

// GeofenceOutput defines output for geofence tools.
type GeofenceOutput struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	Radius       float64   `json:"radius"`
	CreatedAt    time.Time `json:"created_at"`
	TotalSeconds int64     `json:"total_seconds"`
	TotalText    string    `json:"total_text"`
	Inside       bool      `json:"inside"`
	// CurrentSeconds includes the open visit so far; set only while inside.
	CurrentSeconds *int64 `json:"current_seconds,omitempty"`
}

func toGeofenceOutput(g *models.Geofence, total time.Duration, inside bool) GeofenceOutput {
	return GeofenceOutput{
		ID:           g.ID,
		Name:         g.Name,
		Latitude:     g.Latitude,
		Longitude:    g.Longitude,
		Radius:       g.Radius,
		CreatedAt:    g.CreatedAt,
		TotalSeconds: int64(total / time.Second),
		TotalText:    ui.FormatDuration(total),
		Inside:       inside,
	}
}

func (s *Server) registerAddGeofenceTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "add_geofence",
		Description: "Add a named circular geofence. Time spent inside it is recorded as visits while tracking runs.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Name of the place (e.g., 'Home', 'Office')",
				},
				"latitude": map[string]interface{}{
					"type":        "number",
					"description": "Center latitude (-90 to 90)",
				},
				"longitude": map[string]interface{}{
					"type":        "number",
					"description": "Center longitude (-180 to 180)",
				},
				"radius": map[string]interface{}{
					"type":        "number",
					"description": "Radius in meters (default 100)",
				},
			},
			"required": []string{"name", "latitude", "longitude"},
		},
	}, s.handleAddGeofence)
}

func (s *Server) handleAddGeofence(ctx context.Context, req *mcp.CallToolRequest, input AddGeofenceInput) (*mcp.CallToolResult, GeofenceOutput, error) {
	radius := defaultRadius
	if input.Radius != nil {
		radius = *input.Radius
	}

	g, err := s.tracker.AddGeofence(ctx, input.Name, input.Latitude, input.Longitude, radius)
	if err != nil {
		return nil, GeofenceOutput{}, userError(err)
	}

	output := toGeofenceOutput(g, 0, false)
	return textResult(output), output, nil
}

// RemoveGeofenceInput defines input for remove_geofence tool.
type RemoveGeofenceInput struct {
	ID int64 `json:"id"`
}

// RemoveGeofenceOutput defines output for remove_geofence tool.
type RemoveGeofenceOutput struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Server) registerRemoveGeofenceTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "remove_geofence",
		Description: "Remove a geofence and all its visit history. This cannot be undone.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"id": map[string]interface{}{
					"type":        "integer",
					"description": "ID of the geofence to remove",
				},
			},
			"required": []string{"id"},
		},
	}, s.handleRemoveGeofence)
}

func (s *Server) handleRemoveGeofence(ctx context.Context, req *mcp.CallToolRequest, input RemoveGeofenceInput) (*mcp.CallToolResult, RemoveGeofenceOutput, error) {
	g, err := s.tracker.Geofence(ctx, input.ID)
	if err != nil {
		return nil, RemoveGeofenceOutput{}, userError(err)
	}
	if err := s.tracker.DeleteGeofence(ctx, input.ID); err != nil {
		return nil, RemoveGeofenceOutput{}, userError(err)
	}

	output := RemoveGeofenceOutput{
		Success: true,
		Message: fmt.Sprintf("Removed '%s' and all visit history", g.Name),
	}
	return textResult(output), output, nil
}

// ListGeofencesInput is empty but required for type.
type ListGeofencesInput struct{}

// ListGeofencesOutput defines output for list_geofences tool.
type ListGeofencesOutput struct {
	Geofences []GeofenceOutput `json:"geofences"`
	Count     int              `json:"count"`
}

func (s *Server) registerListGeofencesTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_geofences",
		Description: "List all geofences with total time spent in each and whether a visit is in progress.",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
	}, s.handleListGeofences)
}

func (s *Server) handleListGeofences(ctx context.Context, req *mcp.CallToolRequest, input ListGeofencesInput) (*mcp.CallToolResult, ListGeofencesOutput, error) {
	output, err := s.listGeofences(ctx)
	if err != nil {
		return nil, ListGeofencesOutput{}, err
	}
	return textResult(output), output, nil
}

func (s *Server) listGeofences(ctx context.Context) (ListGeofencesOutput, error) {
	sums, err := s.tracker.Summaries(ctx)
	if err != nil {
		return ListGeofencesOutput{}, fmt.Errorf("failed to list geofences: %w", userError(err))
	}
	out := make([]GeofenceOutput, len(sums))
	for i, sum := range sums {
		out[i] = toGeofenceOutput(sum.Geofence, sum.Total, sum.Open)
		if sum.Open {
			secs := int64(sum.Current / time.Second)
			out[i].CurrentSeconds = &secs
		}
	}
	return ListGeofencesOutput{Geofences: out, Count: len(out)}, nil
}

// VisitOutput defines one visit in visit tools.
type VisitOutput struct {
	ID              int64      `json:"id"`
	GeofenceID      int64      `json:"geofence_id"`
	EnterTime       time.Time  `json:"enter_time"`
	ExitTime        *time.Time `json:"exit_time,omitempty"`
	DurationSeconds *int64     `json:"duration_seconds,omitempty"`
}

// VisitsOutput defines output for list_visits and open_visits.
type VisitsOutput struct {
	Visits       []VisitOutput `json:"visits"`
	Count        int           `json:"count"`
	TotalSeconds *int64        `json:"total_seconds,omitempty"`
}

func toVisitsOutput(list []*models.Visit) VisitsOutput {
	out := make([]VisitOutput, len(list))
	for i, v := range list {
		out[i] = VisitOutput{ID: v.ID, GeofenceID: v.GeofenceID, EnterTime: v.EnterTime, ExitTime: v.ExitTime}
		if v.Duration != nil {
			secs := int64(*v.Duration / time.Second)
			out[i].DurationSeconds = &secs
		}
	}
	return VisitsOutput{Visits: out, Count: len(out)}
}

// ListVisitsInput defines input for list_visits tool.
type ListVisitsInput struct {
	GeofenceID int64 `json:"geofence_id"`
}

func (s *Server) registerListVisitsTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_visits",
		Description: "List the visits of one geofence, newest first, with the total closed time.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"geofence_id": map[string]interface{}{
					"type":        "integer",
					"description": "ID of the geofence",
				},
			},
			"required": []string{"geofence_id"},
		},
	}, s.handleListVisits)
}

func (s *Server) handleListVisits(ctx context.Context, req *mcp.CallToolRequest, input ListVisitsInput) (*mcp.CallToolResult, VisitsOutput, error) {
	list, err := s.tracker.Visits(ctx, input.GeofenceID)
	if err != nil {
		return nil, VisitsOutput{}, userError(err)
	}
	total, err := s.tracker.TotalDuration(ctx, input.GeofenceID)
	if err != nil {
		return nil, VisitsOutput{}, userError(err)
	}

	output := toVisitsOutput(list)
	secs := int64(total / time.Second)
	output.TotalSeconds = &secs
	return textResult(output), output, nil
}

// OpenVisitsInput is empty but required for type.
type OpenVisitsInput struct{}

func (s *Server) registerOpenVisitsTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "open_visits",
		Description: "List every visit still in progress across all geofences.",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
	}, s.handleOpenVisits)
}

func (s *Server) handleOpenVisits(ctx context.Context, req *mcp.CallToolRequest, input OpenVisitsInput) (*mcp.CallToolResult, VisitsOutput, error) {
	list, err := s.tracker.OpenVisits(ctx)
	if err != nil {
		return nil, VisitsOutput{}, userError(err)
	}
	output := toVisitsOutput(list)
	return textResult(output), output, nil
}

// StatusOutput defines output for tracking tools.
type StatusOutput struct {
	Mode         string           `json:"mode"`
	ModeLabel    string           `json:"mode_label"`
	Tracking     bool             `json:"tracking"`
	Session      string           `json:"session,omitempty"`
	LastPosition *models.Position `json:"last_position,omitempty"`
	LastError    string           `json:"last_error,omitempty"`
}

func toStatusOutput(st tracking.Status) StatusOutput {
	return StatusOutput{
		Mode:         st.Mode.String(),
		ModeLabel:    st.ModeLabel,
		Tracking:     st.Tracking,
		Session:      st.Session,
		LastPosition: st.LastPosition,
		LastError:    st.LastError,
	}
}

// controlResult turns a tracking control result into a tool result.
func controlResult(res tracking.Result) (*mcp.CallToolResult, StatusOutput, error) {
	if res.Error != "" {
		return nil, StatusOutput{}, errors.New(res.Error)
	}
	output := toStatusOutput(res.Status)
	return textResult(output), output, nil
}

// TrackingStatusInput is empty but required for type.
type TrackingStatusInput struct{}

func (s *Server) registerTrackingStatusTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "tracking_status",
		Description: "Get the selected tracking mode, whether tracking is running, and the last known position.",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
	}, s.handleTrackingStatus)
}

func (s *Server) handleTrackingStatus(_ context.Context, req *mcp.CallToolRequest, input TrackingStatusInput) (*mcp.CallToolResult, StatusOutput, error) {
	output := toStatusOutput(s.tracker.Status())
	return textResult(output), output, nil
}

// SelectModeInput defines input for select_mode tool.
type SelectModeInput struct {
	Mode string `json:"mode"`
}

func (s *Server) registerSelectModeTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "select_mode",
		Description: "Select the tracking mode. If tracking is running it restarts in the new mode.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"mode": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"gps", "fused", "geofencing"},
					"description": "Tracking mode",
				},
			},
			"required": []string{"mode"},
		},
	}, s.handleSelectMode)
}

func (s *Server) handleSelectMode(ctx context.Context, req *mcp.CallToolRequest, input SelectModeInput) (*mcp.CallToolResult, StatusOutput, error) {
	m, err := models.ParseTrackingMode(input.Mode)
	if err != nil {
		return nil, StatusOutput{}, err
	}
	return controlResult(s.tracker.SelectMode(ctx, m))
}

// StartTrackingInput is empty but required for type.
type StartTrackingInput struct{}

func (s *Server) registerStartTrackingTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "start_tracking",
		Description: "Start tracking in the selected mode.",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
	}, s.handleStartTracking)
}

func (s *Server) handleStartTracking(ctx context.Context, req *mcp.CallToolRequest, input StartTrackingInput) (*mcp.CallToolResult, StatusOutput, error) {
	return controlResult(s.tracker.Start(ctx))
}

// StopTrackingInput is empty but required for type.
type StopTrackingInput struct{}

func (s *Server) registerStopTrackingTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "stop_tracking",
		Description: "Stop tracking. Stopping while idle does nothing.",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
	}, s.handleStopTracking)
}

func (s *Server) handleStopTracking(ctx context.Context, req *mcp.CallToolRequest, input StopTrackingInput) (*mcp.CallToolResult, StatusOutput, error) {
	return controlResult(s.tracker.Stop(ctx))
}
