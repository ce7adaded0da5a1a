// ABOUTME: Geofence remove command
// ABOUTME: Removes a geofence and all its visit history

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/harper/geotrack/internal/tracking"
	"github.com/spf13/cobra"
)

var removeCmd = &cobra.Command{
	Use:     "remove <id>",
	Aliases: []string{"rm"},
	Short:   "Remove a geofence and all its visits",
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

		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			fmt.Printf("Remove '%s' and all visit history? [y/N] ", g.Name)
			reader := bufio.NewReader(os.Stdin)
			response, _ := reader.ReadString('\n')
			response = strings.TrimSpace(strings.ToLower(response))
			if response != "y" && response != "yes" {
				fmt.Println("Cancelled.")
				return nil
			}
		}

		if err := app.facade.DeleteGeofence(ctx, id); err != nil {
			return fmt.Errorf("failed to remove geofence: %s", tracking.UserMessage(err))
		}

		color.Green("✓ Removed %s", g.Name)
		return nil
	},
}

func init() {
	removeCmd.Flags().Bool("confirm", false, "skip confirmation prompt")

	rootCmd.AddCommand(removeCmd)
}
