// ABOUTME: Export command for generating GeoJSON and markdown output
// ABOUTME: Renders geofences as points or circles, or a markdown visit report

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/harper/geotrack/internal/geojson"
	"github.com/harper/geotrack/internal/models"
	"github.com/harper/geotrack/internal/storage"
	"github.com/harper/geotrack/internal/tracking"
	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:     "export [id]",
	Aliases: []string{"e"},
	Short:   "Export geofences and visits",
	Long: `Export geofences as GeoJSON or a visit report as markdown.

Examples:
  # Geofence centers as GeoJSON points
  geotrack export --format geojson

  # Geofence outlines as polygons
  geotrack export --format geojson --geometry circles

  # Markdown report for one geofence
  geotrack export 1 --format markdown

  # Save to file
  geotrack export --geometry circles --output places.geojson`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if format != "geojson" && format != "markdown" {
			return fmt.Errorf("unsupported format: %s (use 'geojson' or 'markdown')", format)
		}

		geometry, _ := cmd.Flags().GetString("geometry")
		if geometry != "points" && geometry != "circles" {
			return fmt.Errorf("unsupported geometry: %s (use 'points' or 'circles')", geometry)
		}

		var geofenceID *int64
		if len(args) == 1 {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if _, err := app.facade.Geofence(commandContext(cmd), id); err != nil {
				return fmt.Errorf("geofence #%d: %s", id, tracking.UserMessage(err))
			}
			geofenceID = &id
		}

		output, _ := cmd.Flags().GetString("output")

		if format == "markdown" {
			return exportMarkdown(cmd, geofenceID, output)
		}
		segments, _ := cmd.Flags().GetInt("segments")
		return exportGeoJSON(cmd, geofenceID, geometry, segments, output)
	},
}

func exportGeoJSON(cmd *cobra.Command, geofenceID *int64, geometry string, segments int, output string) error {
	ctx := commandContext(cmd)
	data, err := storage.GetGeofencesWithVisits(ctx, app.repo, geofenceID)
	if err != nil {
		return fmt.Errorf("failed to load geofences: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("no geofences found")
	}

	geofences := make([]*models.Geofence, len(data))
	totals := make(map[int64]time.Duration, len(data))
	for i, d := range data {
		geofences[i] = d.Geofence
		totals[d.Geofence.ID] = d.Total
	}
	resolver := func(id int64) time.Duration { return totals[id] }

	var fc *geojson.FeatureCollection
	if geometry == "circles" {
		fc = geojson.ToCirclesFeatureCollection(geofences, resolver, segments)
	} else {
		fc = geojson.ToPointsFeatureCollection(geofences, resolver)
	}

	jsonBytes, err := fc.ToJSONIndent()
	if err != nil {
		return fmt.Errorf("failed to generate GeoJSON: %w", err)
	}

	if output != "" {
		if err := os.WriteFile(output, jsonBytes, 0644); err != nil { //nolint:gosec // 0644 is intentional for data export files
			return fmt.Errorf("failed to write file: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Wrote %d geofences to %s\n", len(geofences), output)
	} else {
		fmt.Println(string(jsonBytes))
	}

	return nil
}

func exportMarkdown(cmd *cobra.Command, geofenceID *int64, output string) error {
	data, err := storage.ExportToMarkdown(commandContext(cmd), app.repo, geofenceID)
	if err != nil {
		return fmt.Errorf("failed to generate markdown: %w", err)
	}

	if output != "" {
		if err := os.WriteFile(output, data, 0644); err != nil { //nolint:gosec // 0644 is intentional for data export files
			return fmt.Errorf("failed to write file: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Wrote markdown to %s\n", output)
	} else {
		fmt.Print(string(data))
	}

	return nil
}

func init() {
	exportCmd.Flags().StringP("format", "f", "geojson", "output format (geojson, markdown)")
	exportCmd.Flags().StringP("geometry", "g", "points", "geometry type (points, circles)")
	exportCmd.Flags().Int("segments", geojson.DefaultSegments, "polygon segments per circle")
	exportCmd.Flags().StringP("output", "o", "", "output file (default: stdout)")

	rootCmd.AddCommand(exportCmd)
}
