// ABOUTME: Geofence list command
// ABOUTME: Lists every geofence with total time spent and the dwell time of an open visit

package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/harper/geotrack/internal/ui"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List all geofences",
	RunE: func(cmd *cobra.Command, args []string) error {
		sums, err := app.facade.Summaries(commandContext(cmd))
		if err != nil {
			return fmt.Errorf("failed to list geofences: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(sums) == 0 {
			fmt.Fprintln(out, "No geofences yet. Use 'geotrack add' to add one.")
			return nil
		}

		for _, s := range sums {
			line := ui.FormatGeofence(s.Geofence, s.Total)
			if s.Open {
				line += " " + color.YellowString("(inside, %s so far)", ui.FormatDuration(s.Current))
			}
			fmt.Fprintln(out, line)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
