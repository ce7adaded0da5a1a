// ABOUTME: Import command restoring geofences and visits from a YAML backup
// ABOUTME: Validates the whole file first and reloads live geofences afterwards

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/harper/geotrack/internal/storage"
	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Restore geofences and visits from a YAML backup",
	Long: `Restore a backup written by 'geotrack backup'.

The file is validated before anything is written. IDs are kept, so
importing into a database that already holds the same IDs fails.
--dry-run only validates the file and prints what it contains.

Examples:
  geotrack import geotrack.yaml --dry-run
  geotrack import geotrack.yaml --confirm`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	filename := args[0]
	out := cmd.OutOrStdout()

	data, err := os.ReadFile(filename) //nolint:gosec // user-supplied backup path
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	backup, err := storage.ParseBackup(data)
	if err != nil {
		return fmt.Errorf("invalid backup: %w", err)
	}
	sum := backup.Summary()

	if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
		fmt.Fprintf(out, "%s: %d geofences, %d visits (exported %s)\n",
			filename, sum.Geofences, sum.Visits, backup.ExportedAt.Format("2006-01-02 15:04"))
		for _, g := range backup.Geofences {
			fmt.Fprintf(out, "  [%d] %s\n", g.ID, g.Name)
		}
		return nil
	}

	if confirm, _ := cmd.Flags().GetBool("confirm"); !confirm {
		fmt.Fprintf(out, "Import %d geofences and %d visits from '%s'? [y/N] ", sum.Geofences, sum.Visits, filename)
		response, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Fprintln(out, "Canceled.")
			return nil
		}
	}

	imported, err := storage.ImportBackup(ctx, app.repo, data)
	if err != nil {
		return fmt.Errorf("failed to import: %w", err)
	}
	if err := app.facade.Reload(ctx); err != nil {
		return fmt.Errorf("failed to reload geofences: %w", err)
	}

	color.Green("Import complete")
	fmt.Fprintf(out, "  %d geofences, %d visits imported\n", imported.Geofences, imported.Visits)
	return nil
}

func init() {
	importCmd.Flags().Bool("confirm", false, "skip confirmation prompt")
	importCmd.Flags().Bool("dry-run", false, "validate the file and list its contents without importing")

	rootCmd.AddCommand(importCmd)
}
