// ABOUTME: Composition root that builds storage, adapters, notifiers, and the facade
// ABOUTME: Every command reaches tracking through the App created here

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harper/geotrack/internal/config"
	"github.com/harper/geotrack/internal/geofence"
	"github.com/harper/geotrack/internal/models"
	"github.com/harper/geotrack/internal/notify"
	"github.com/harper/geotrack/internal/provider"
	"github.com/harper/geotrack/internal/storage"
	"github.com/harper/geotrack/internal/tracking"
	"github.com/harper/geotrack/internal/visits"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const mqttDisconnectQuiesce = 250 // ms

// App holds everything a command needs.
type App struct {
	cfg    *config.Config
	logger zerolog.Logger
	repo   storage.Repository
	facade *tracking.Facade
	// adapters are kept for capability reporting.
	adapters []provider.Adapter

	closers []func() error
}

// NewApp opens the configured storage and builds the tracking stack on it.
func NewApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	mode, err := cfg.DefaultMode()
	if err != nil {
		return nil, fmt.Errorf("tracking.default_mode: %w", err)
	}
	adapters, err := buildAdapters(cfg, logger)
	if err != nil {
		return nil, err
	}

	repo, err := cfg.OpenStorage()
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, logger: logger, repo: repo}
	notifier, err := a.buildNotifier()
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	if err := a.wire(ctx, adapters, notifier, tracking.WithInitialMode(mode)); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

// wire builds the facade over a.repo.
func (a *App) wire(ctx context.Context, adapters []provider.Adapter, notifier notify.Notifier, opts ...tracking.Option) error {
	store, err := geofence.NewStore(ctx, a.repo, a.logger)
	if err != nil {
		return fmt.Errorf("load geofences: %w", err)
	}
	ledger := visits.NewLedger(a.repo, a.logger)
	a.adapters = adapters
	ctrl := tracking.NewController(adapters, a.logger, opts...)
	a.facade = tracking.NewFacade(ctrl, store, ledger, notifier, a.logger)
	return nil
}

// buildAdapters returns one adapter per tracking mode.
func buildAdapters(cfg *config.Config, logger zerolog.Logger) ([]provider.Adapter, error) {
	source, err := cfg.GeofencingSource()
	if err != nil {
		return nil, err
	}

	var client provider.Geolocator
	if cfg.Fused.APIKey != "" {
		c, err := provider.NewMapsGeolocator(cfg.Fused.APIKey)
		if err != nil {
			return nil, fmt.Errorf("geolocation client: %w", err)
		}
		client = c
	}

	newSource := func(m models.TrackingMode) provider.Adapter {
		if m == models.ModeFused {
			return provider.NewFused(cfg.FusedAdapter(), client, provider.ScanWiFi, logger)
		}
		return provider.NewGPS(cfg.GPSAdapter(), logger)
	}

	return []provider.Adapter{
		newSource(models.ModeGPS),
		newSource(models.ModeFused),
		provider.NewGeofencing(newSource(source), logger),
	}, nil
}

// buildNotifier always logs visit events and adds MQTT and NATS when configured.
func (a *App) buildNotifier() (notify.Notifier, error) {
	out := notify.Multi{notify.NewLog(a.logger)}

	if m := a.cfg.Notify.MQTT; m.Broker != "" {
		client, err := notify.ConnectMQTT(m.Broker, m.ClientID)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error {
			client.Disconnect(mqttDisconnectQuiesce)
			return nil
		})
		out = append(out, notify.NewMQTT(client, m.Topic, m.QoS))
		a.logger.Info().Str("broker", m.Broker).Str("topic", m.Topic).Msg("mqtt notifications enabled")
	}

	if n := a.cfg.Notify.NATS; n.URL != "" {
		conn, err := notify.ConnectNATS(n.URL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, conn.Drain)
		out = append(out, notify.NewNATS(conn, n.Subject))
		a.logger.Info().Str("url", n.URL).Str("subject", n.Subject).Msg("nats notifications enabled")
	}

	return out, nil
}

// Close shuts the facade down, then notifiers, then storage.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.facade != nil {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		errs = append(errs, a.facade.Close(ctx))
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	if a.repo != nil {
		errs = append(errs, a.repo.Close())
	}
	return errors.Join(errs...)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
