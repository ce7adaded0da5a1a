// ABOUTME: Migration command for converting data between storage backends
// ABOUTME: Copies geofences and visits between sqlite and badger with safety checks

package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harper/geotrack/internal/config"
	"github.com/harper/geotrack/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate data between storage backends",
	Long: `Migrate all geofence and visit data from the currently configured backend
to a different backend.

Reads geofences and visits from the current backend and writes them to the
target backend with the same IDs. Does NOT update the config file; verify the
migration was successful then update config.yaml manually.

Examples:
  geotrack migrate --to badger
  geotrack migrate --to sqlite --data-dir ~/geotrack-sqlite
  geotrack migrate --to badger --force`,
	Annotations: map[string]string{skipWiring: "true"},
	RunE:        runMigrate,
}

var (
	migrateTo      string
	migrateDataDir string
	migrateForce   bool
)

func init() {
	migrateCmd.Flags().StringVar(&migrateTo, "to", "", "target backend (sqlite or badger)")
	migrateCmd.Flags().StringVar(&migrateDataDir, "data-dir", "", "target data directory (defaults to current config data_dir)")
	migrateCmd.Flags().BoolVar(&migrateForce, "force", false, "allow writing into an existing target")
	_ = migrateCmd.MarkFlagRequired("to")

	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	cfg := app.cfg

	sourceBackend := cfg.GetBackend()
	targetBackend := migrateTo

	if targetBackend != config.BackendSQLite && targetBackend != config.BackendBadger {
		return fmt.Errorf("invalid target backend %q: must be %q or %q", targetBackend, config.BackendSQLite, config.BackendBadger)
	}

	target := *cfg
	target.Backend = targetBackend
	if migrateDataDir != "" {
		target.DataDir = migrateDataDir
	}
	if targetBackend == sourceBackend && target.GetDataDir() == cfg.GetDataDir() {
		return fmt.Errorf("target backend %q is the same as the current backend", targetBackend)
	}

	targetPath, err := target.StoragePath(targetBackend)
	if err != nil {
		return err
	}
	exists, err := targetExists(targetPath)
	if err != nil {
		return fmt.Errorf("check target: %w", err)
	}
	if exists && !migrateForce {
		return fmt.Errorf("target %q already exists; use --force to write into it", targetPath)
	}

	src, err := cfg.OpenStorage()
	if err != nil {
		return fmt.Errorf("open source storage (%s): %w", sourceBackend, err)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "warning: closing source storage: %v\n", cerr)
		}
	}()

	dst, err := target.OpenStorage()
	if err != nil {
		return fmt.Errorf("open target storage (%s): %w", targetBackend, err)
	}
	defer func() {
		if cerr := dst.Close(); cerr != nil {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "warning: closing target storage: %v\n", cerr)
		}
	}()

	color.Yellow("Migrating geotrack data:")
	fmt.Printf("  Source:  %s (%s)\n", sourceBackend, cfg.GetDataDir())
	fmt.Printf("  Target:  %s (%s)\n", targetBackend, target.GetDataDir())
	fmt.Println()

	summary, err := storage.MigrateData(ctx, src, dst)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	color.Green("Migration complete!")
	fmt.Printf("  Geofences: %d\n", summary.Geofences)
	fmt.Printf("  Visits:    %d\n", summary.Visits)
	fmt.Println()
	color.Yellow("Note: config.yaml was NOT updated. To switch to the new backend, edit:")
	fmt.Printf("  %s\n", config.GetConfigPath())
	fmt.Printf("  Set backend: %s", targetBackend)
	if migrateDataDir != "" {
		fmt.Printf(" and data_dir: %s", migrateDataDir)
	}
	fmt.Println()

	return nil
}

// targetExists reports whether a sqlite file or a non-empty badger directory is at path.
func targetExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		return storage.IsDirNonEmpty(path)
	}
	return true, nil
}
