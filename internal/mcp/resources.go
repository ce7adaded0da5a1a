// ABOUTME: MCP resource definitions
// ABOUTME: Provides a read-only geofence view with totals for AI agents

package mcp

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const geofencesURI = "geotrack://geofences"

func (s *Server) registerResources() {
	s.mcp.AddResource(&mcp.Resource{
		Name:        geofencesURI,
		Description: "All geofences with total time spent in each",
		URI:         geofencesURI,
		MIMEType:    "application/json",
	}, s.handleGeofencesResource)
}

func (s *Server) handleGeofencesResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	output, err := s.listGeofences(ctx)
	if err != nil {
		return nil, err
	}

	jsonBytes, _ := json.MarshalIndent(output, "", "  ") //nolint:errchkjson // output is always serializable

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      geofencesURI,
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		},
	}, nil
}
