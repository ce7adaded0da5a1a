// ABOUTME: Backup command writing every geofence and visit to a YAML file
// ABOUTME: Counts come from the same snapshot that is written, "-" writes to stdout

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/harper/geotrack/internal/storage"
	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create a YAML backup of all geofences and visits",
	Long: `Write every geofence and its visit history to a YAML file.

Restore it later with 'geotrack import'; IDs are kept so visit history
stays attached to the right geofence. An existing file is only replaced
with --force.

Examples:
  geotrack backup
  geotrack backup -o ~/backups/geotrack.yaml --force
  geotrack backup -o - | gzip > geotrack.yaml.gz`,
	RunE: runBackup,
}

func runBackup(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	output, _ := cmd.Flags().GetString("output")
	force, _ := cmd.Flags().GetBool("force")

	backup, err := storage.BuildBackup(ctx, app.repo)
	if err != nil {
		return fmt.Errorf("failed to read data: %w", err)
	}
	data, err := backup.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode backup: %w", err)
	}

	if output == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if output == "" {
		output = fmt.Sprintf("geotrack-%s.yaml", time.Now().Format("20060102-150405"))
	}
	if _, err := os.Stat(output); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to replace it)", output)
	}

	if err := os.WriteFile(output, data, 0600); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}

	sum := backup.Summary()
	color.Green("Backup created: %s", output)
	fmt.Fprintf(cmd.OutOrStdout(), "  %d geofences, %d visits\n", sum.Geofences, sum.Visits)
	return nil
}

func init() {
	backupCmd.Flags().StringP("output", "o", "", `output file, "-" for stdout (default: geotrack-YYYYMMDD-HHMMSS.yaml)`)
	backupCmd.Flags().Bool("force", false, "replace an existing output file")

	rootCmd.AddCommand(backupCmd)
}
