// ABOUTME: Run command that tracks in the foreground
// ABOUTME: Starts tracking, serves the HTTP API, and prints visit events until interrupted

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/harper/geotrack/internal/api"
	"github.com/harper/geotrack/internal/models"
	"github.com/harper/geotrack/internal/notify"
	"github.com/harper/geotrack/internal/ui"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Track location and record visits until interrupted",
	Long: `Start tracking in the selected mode and record geofence visits.

The HTTP API and event stream listen on http.addr unless --no-http is set.

Examples:
  geotrack run
  geotrack run --mode fused
  geotrack run --http 0.0.0.0:8765`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(commandContext(cmd))
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		go func() {
			select {
			case <-sigCh:
				cancel()
			case <-ctx.Done():
			}
		}()

		f := app.facade
		if modeStr, _ := cmd.Flags().GetString("mode"); modeStr != "" {
			m, err := models.ParseTrackingMode(modeStr)
			if err != nil {
				return err
			}
			if res := f.SelectMode(ctx, m); res.Error != "" {
				return errors.New(res.Error)
			}
		}

		errs, unsubErrs := f.SubscribeErrors(16)
		defer unsubErrs()
		events, unsubEvents := f.SubscribeVisitEvents(16)
		defer unsubEvents()
		go printEvents(ctx, errs, events)

		runDone := make(chan error, 1)
		go func() { runDone <- f.Run(ctx) }()

		var srv *api.Server
		serveErr := make(chan error, 1)
		if noHTTP, _ := cmd.Flags().GetBool("no-http"); !noHTTP {
			addr, _ := cmd.Flags().GetString("http")
			if addr == "" {
				addr = app.cfg.HTTP.Addr
			}
			srv = api.NewServer(f, app.logger, api.Options{Addr: addr, CORSOrigins: app.cfg.HTTP.CORSOrigins})
			go func() { serveErr <- srv.ListenAndServe() }()
			fmt.Printf("API listening on http://%s\n", addr)
		}

		var err error
		if res := f.Start(ctx); res.Error != "" {
			err = errors.New(res.Error)
			cancel()
		} else {
			fmt.Println(ui.FormatMode(res.Mode, res.Tracking))
			select {
			case <-ctx.Done():
			case err = <-serveErr:
				cancel()
			}
		}

		if srv != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			if serr := srv.Shutdown(shutdownCtx); serr != nil && err == nil {
				err = serr
			}
			shutdownCancel()
		}
		if rerr := <-runDone; rerr != nil && err == nil {
			err = rerr
		}
		color.New(color.Faint).Println("Tracking stopped.")
		return err
	},
}

func printEvents(ctx context.Context, errs <-chan string, events <-chan notify.VisitEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-errs:
			if !ok {
				return
			}
			color.Red("✗ %s", msg)
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Kind == notify.VisitStarted {
				color.Green("→ %s", ev.Message())
			} else {
				color.Cyan("← %s", ev.Message())
			}
		}
	}
}

func init() {
	runCmd.Flags().StringP("mode", "m", "", "tracking mode (gps, fused, geofencing)")
	runCmd.Flags().String("http", "", "API listen address (default: http.addr from config)")
	runCmd.Flags().Bool("no-http", false, "do not serve the HTTP API")

	rootCmd.AddCommand(runCmd)
}
