// ABOUTME: Fused adapter polling a network geolocation service
// ABOUTME: Combines IP and nearby Wi-Fi access points through the Google Maps client

package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/harper/geotrack/internal/models"
	"github.com/rs/zerolog"
	"googlemaps.github.io/maps"
)

// Geolocator resolves a position from network signals. *maps.Client satisfies it.
type Geolocator interface {
	Geolocate(ctx context.Context, r *maps.GeolocationRequest) (*maps.GeolocationResult, error)
}

// WiFiScanner lists nearby access points to improve a geolocation request.
type WiFiScanner func(ctx context.Context) ([]maps.WiFiAccessPoint, error)

// FusedConfig configures the fused adapter.
type FusedConfig struct {
	Interval time.Duration
	// Timeout bounds each geolocation request.
	Timeout time.Duration
}

// Fused polls a Geolocator at a fixed interval.
type Fused struct {
	cfg     FusedConfig
	client  Geolocator
	scanner WiFiScanner
	logger  zerolog.Logger
	now     func() time.Time

	loop loop
	last lastFix
}

// NewMapsGeolocator returns a Google Maps client for apiKey.
func NewMapsGeolocator(apiKey string) (*maps.Client, error) {
	return maps.NewClient(maps.WithAPIKey(apiKey))
}

// NewFused returns a fused adapter. A nil client leaves the adapter without
// its required capability. scanner may be nil.
func NewFused(cfg FusedConfig, client Geolocator, scanner WiFiScanner, logger zerolog.Logger) *Fused {
	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Fused{
		cfg:     cfg,
		client:  client,
		scanner: scanner,
		logger:  logger.With().Str("component", "fused").Logger(),
		now:     time.Now,
	}
}

func (f *Fused) Mode() models.TrackingMode {
	return models.ModeFused
}

func (f *Fused) HasRequiredCapability() bool {
	return f.client != nil
}

func (f *Fused) CheckCapability() error {
	if f.client == nil {
		return fmt.Errorf("%w: no geolocation API key configured", ErrPermissionDenied)
	}
	return nil
}

func (f *Fused) Start(ctx context.Context, sink Sink) error {
	if err := f.CheckCapability(); err != nil {
		return err
	}
	if err := f.loop.start(ctx, func(ctx context.Context) { f.poll(ctx, sink) }); err != nil {
		return err
	}
	f.logger.Info().Dur("interval", f.cfg.Interval).Msg("fused started")
	return nil
}

func (f *Fused) Stop(ctx context.Context) error {
	if err := f.loop.stop(ctx, nil); err != nil {
		return err
	}
	f.logger.Info().Msg("fused stopped")
	return nil
}

func (f *Fused) LastKnownPosition() *models.Position {
	return f.last.get()
}

func (f *Fused) poll(ctx context.Context, sink Sink) {
	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()

	for {
		f.locate(ctx, sink)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (f *Fused) locate(ctx context.Context, sink Sink) {
	reqCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req := &maps.GeolocationRequest{ConsiderIP: true}
	if f.scanner != nil {
		aps, err := f.scanner(reqCtx)
		if err != nil {
			f.logger.Debug().Err(err).Msg("wifi scan unavailable, using IP only")
		} else {
			req.WiFiAccessPoints = aps
		}
	}

	resp, err := f.client.Geolocate(reqCtx, req)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		f.logger.Warn().Err(err).Msg("geolocate failed")
		sink.Error(fmt.Errorf("geolocate: %w", err))
		return
	}

	pos := models.Position{
		Latitude:  resp.Location.Lat,
		Longitude: resp.Location.Lng,
		Accuracy:  resp.Accuracy,
		Provider:  "fused",
		Timestamp: f.now(),
	}
	f.last.set(pos)
	sink.Position(pos)
}
