// ABOUTME: Geofence add command
// ABOUTME: Creates a named circular geofence from a center and radius

package main

import (
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/harper/geotrack/internal/tracking"
	"github.com/spf13/cobra"
)

var addCmd = &cobra.Command{
	Use:     "add <name> <latitude> <longitude>",
	Aliases: []string{"a"},
	Short:   "Add a geofence",
	Long: `Add a circular geofence. Time spent inside it is recorded as visits
while tracking runs.

Examples:
  geotrack add Home 41.8781 -87.6298
  geotrack add Office 40.7128 -74.0060 --radius 250`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		lat, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid latitude: %w", err)
		}
		lng, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return fmt.Errorf("invalid longitude: %w", err)
		}
		radius, _ := cmd.Flags().GetFloat64("radius")

		g, err := app.facade.AddGeofence(commandContext(cmd), name, lat, lng, radius)
		if err != nil {
			return fmt.Errorf("failed to add geofence: %s", tracking.UserMessage(err))
		}

		color.Green("✓ Added geofence %s", g.Name)
		fmt.Printf("  %s (%.4f, %.4f) r=%.0fm\n",
			color.New(color.Faint).Sprintf("#%d", g.ID),
			g.Latitude, g.Longitude, g.Radius)
		return nil
	},
}

func init() {
	addCmd.Flags().Float64P("radius", "r", 100, "radius in meters")
	addCmd.Flags().SetInterspersed(false)

	rootCmd.AddCommand(addCmd)
}
