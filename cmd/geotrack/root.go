// ABOUTME: Root Cobra command and global flags
// ABOUTME: Loads config and logging, then wires storage and tracking for each command

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/harper/geotrack/internal/config"
	"github.com/harper/geotrack/internal/logging"
	"github.com/spf13/cobra"
)

// skipWiring marks commands that open storage themselves.
const skipWiring = "skip-wiring"

var (
	configPath string
	app        *App
)

var rootCmd = &cobra.Command{
	Use:   "geotrack",
	Short: "Geofence visit tracking",
	Long: `
 ██████╗ ███████╗ ██████╗ ████████╗██████╗  █████╗  ██████╗██╗  ██╗
██╔════╝ ██╔════╝██╔═══██╗╚══██╔══╝██╔══██╗██╔══██╗██╔════╝██║ ██╔╝
██║  ███╗█████╗  ██║   ██║   ██║   ██████╔╝███████║██║     █████╔╝
██║   ██║██╔══╝  ██║   ██║   ██║   ██╔══██╗██╔══██║██║     ██╔═██╗
╚██████╔╝███████╗╚██████╔╝   ██║   ██║  ██║██║  ██║╚██████╗██║  ██╗
 ╚═════╝ ╚══════╝ ╚═════╝    ╚═╝   ╚═╝  ╚═╝╚═╝  ╚═╝ ╚═════╝╚═╝  ╚═╝

         Track how long you spend at the places you care about

Examples:
  geotrack add Home 41.8781 -87.6298 --radius 150
  geotrack list
  geotrack run --mode gps
  geotrack visits 1`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
		if err != nil {
			return err
		}
		if cmd.Annotations[skipWiring] != "" {
			app = &App{cfg: cfg, logger: logger}
			return nil
		}
		app, err = NewApp(cmd.Context(), cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to open storage: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if app == nil {
			return nil
		}
		err := app.Close(context.Background())
		app = nil
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: $XDG_CONFIG_HOME/geotrack/config.yaml)")
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFrom(config.ExpandPath(configPath))
	}
	return config.Load()
}
