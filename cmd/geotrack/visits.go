// ABOUTME: Visit history commands
// ABOUTME: Shows one geofence's visits, or every visit still in progress

package main

import (
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/harper/geotrack/internal/tracking"
	"github.com/harper/geotrack/internal/ui"
	"github.com/spf13/cobra"
)

var visitsCmd = &cobra.Command{
	Use:     "visits <id>",
	Aliases: []string{"v"},
	Short:   "Show the visit history of a geofence",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		g, err := app.facade.Geofence(ctx, id)
		if err != nil {
			return fmt.Errorf("geofence #%d: %s", id, tracking.UserMessage(err))
		}
		list, err := app.facade.Visits(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to list visits: %w", err)
		}
		total, err := app.facade.TotalDuration(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to total visits: %w", err)
		}

		fmt.Println(ui.FormatGeofence(g, total))
		if len(list) == 0 {
			fmt.Println(color.New(color.Faint).Sprint("  No visits recorded."))
			return nil
		}
		for _, v := range list {
			fmt.Println(ui.FormatVisit(v))
		}
		return nil
	},
}

var openCmd = &cobra.Command{
	Use:   "open",
	Short: "List visits still in progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		open, err := app.facade.OpenVisits(commandContext(cmd))
		if err != nil {
			return fmt.Errorf("failed to list open visits: %w", err)
		}
		if len(open) == 0 {
			fmt.Println("Not inside any geofence.")
			return nil
		}

		names := make(map[int64]string)
		for _, g := range app.facade.Geofences() {
			names[g.ID] = g.Name
		}
		for _, v := range open {
			fmt.Printf("%s %s\n", color.GreenString(names[v.GeofenceID]), ui.FormatVisit(v))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(visitsCmd)
	rootCmd.AddCommand(openCmd)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid geofence id %q", s)
	}
	return id, nil
}
