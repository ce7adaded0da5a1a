// ABOUTME: Tracking modes command
// ABOUTME: Lists each mode with whether this machine can run it

package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/harper/geotrack/internal/provider"
	"github.com/spf13/cobra"
)

var modesCmd = &cobra.Command{
	Use:   "modes",
	Short: "List tracking modes and their availability",
	RunE: func(cmd *cobra.Command, args []string) error {
		current := app.facade.Status().Mode

		for _, a := range app.adapters {
			m := a.Mode()
			marker := " "
			if m == current {
				marker = "*"
			}
			state := color.GreenString("ready")
			if err := provider.CheckCapability(a); err != nil {
				state = color.RedString("unavailable: %v", err)
			}
			fmt.Printf("%s %-12s %-32s %s\n", marker, m, m.Label(), state)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(modesCmd)
}
