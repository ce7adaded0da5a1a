// ABOUTME: Simulate command for injecting region transitions by hand
// ABOUTME: Records enters and exits as if a region monitor had reported them

package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/harper/geotrack/internal/tracking"
	"github.com/harper/geotrack/internal/ui"
	"github.com/spf13/cobra"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Inject geofence transitions",
	Long: `Record a geofence enter or exit without a location source.

Examples:
  geotrack simulate enter 1
  geotrack simulate exit 1 --at 2026-03-01T18:30:00Z`,
}

var simulateEnterCmd = &cobra.Command{
	Use:   "enter <id>",
	Short: "Record entering a geofence",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSimulate(cmd, args[0], true)
	},
}

var simulateExitCmd = &cobra.Command{
	Use:   "exit <id>",
	Short: "Record leaving a geofence",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSimulate(cmd, args[0], false)
	},
}

func runSimulate(cmd *cobra.Command, arg string, enter bool) error {
	ctx := commandContext(cmd)
	id, err := parseID(arg)
	if err != nil {
		return err
	}

	var at time.Time
	if s, _ := cmd.Flags().GetString("at"); s != "" {
		at, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("invalid timestamp format (use RFC3339, e.g., 2026-03-01T18:30:00Z): %w", err)
		}
	}

	if enter {
		err = app.facade.SimulateEnter(ctx, id, at)
	} else {
		err = app.facade.SimulateExit(ctx, id, at)
	}
	if err != nil {
		return fmt.Errorf("geofence #%d: %s", id, tracking.UserMessage(err))
	}

	g, err := app.facade.Geofence(ctx, id)
	if err != nil {
		return err
	}
	if enter {
		color.Green("✓ Entered %s", g.Name)
		return nil
	}
	total, err := app.facade.TotalDuration(ctx, id)
	if err != nil {
		return err
	}
	color.Green("✓ Left %s", g.Name)
	fmt.Printf("  total time %s\n", ui.FormatDuration(total))
	return nil
}

func init() {
	for _, c := range []*cobra.Command{simulateEnterCmd, simulateExitCmd} {
		c.Flags().String("at", "", "transition time (RFC3339, default now)")
		simulateCmd.AddCommand(c)
	}

	rootCmd.AddCommand(simulateCmd)
}
