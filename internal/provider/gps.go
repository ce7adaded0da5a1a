// ABOUTME: GPS adapter reading NMEA from a serial receiver or a replay file
// ABOUTME: Reports fixes filtered by minimum interval and distance

package provider

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/harper/geotrack/internal/models"
	"github.com/rs/zerolog"
	"github.com/tarm/serial"
)

// GPSConfig configures the GPS adapter.
type GPSConfig struct {
	// Device is a serial port path or a regular file of recorded NMEA.
	Device      string
	BaudRate    int
	MinInterval time.Duration
	MinDistance float64
	// ReplayDelay is the pause after each decoded fix read from a regular file.
	ReplayDelay time.Duration
}

// GPS reads positions from an NMEA source.
type GPS struct {
	cfg    GPSConfig
	logger zerolog.Logger
	now    func() time.Time

	loop loop
	last lastFix

	mu     sync.Mutex
	reader io.ReadCloser
}

// NewGPS returns a GPS adapter. Zero config values fall back to 9600 baud,
// 5s and 10m.
func NewGPS(cfg GPSConfig, logger zerolog.Logger) *GPS {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600
	}
	if cfg.MinInterval == 0 {
		cfg.MinInterval = 5 * time.Second
	}
	if cfg.MinDistance == 0 {
		cfg.MinDistance = 10
	}
	return &GPS{
		cfg:    cfg,
		logger: logger.With().Str("component", "gps").Logger(),
		now:    time.Now,
	}
}

func (g *GPS) Mode() models.TrackingMode {
	return models.ModeGPS
}

// HasRequiredCapability reports whether the device is configured and readable.
func (g *GPS) HasRequiredCapability() bool {
	return g.CheckCapability() == nil
}

func (g *GPS) CheckCapability() error {
	if g.cfg.Device == "" {
		return fmt.Errorf("%w: no GPS device configured", ErrUnavailable)
	}
	f, err := os.Open(g.cfg.Device)
	if err != nil {
		return classifyOpenError(err)
	}
	return f.Close()
}

func (g *GPS) Start(ctx context.Context, sink Sink) error {
	if g.loop.running() {
		return errAlreadyStarted
	}
	r, replay, err := g.open()
	if err != nil {
		return err
	}

	g.mu.Lock()
	g.reader = r
	g.mu.Unlock()

	err = g.loop.start(ctx, func(ctx context.Context) {
		defer r.Close()
		g.read(ctx, r, replay, sink)
	})
	if err != nil {
		_ = r.Close()
		return err
	}

	g.logger.Info().Str("device", g.cfg.Device).Bool("replay", replay).Msg("gps started")
	return nil
}

func (g *GPS) Stop(ctx context.Context) error {
	err := g.loop.stop(ctx, func() {
		// Closing the port unblocks a pending read.
		g.mu.Lock()
		if g.reader != nil {
			_ = g.reader.Close()
			g.reader = nil
		}
		g.mu.Unlock()
	})
	if err != nil {
		return err
	}
	g.logger.Info().Msg("gps stopped")
	return nil
}

func (g *GPS) LastKnownPosition() *models.Position {
	return g.last.get()
}

// open classifies device errors into ErrPermissionDenied and ErrUnavailable.
func (g *GPS) open() (io.ReadCloser, bool, error) {
	if g.cfg.Device == "" {
		return nil, false, fmt.Errorf("%w: no GPS device configured", ErrUnavailable)
	}

	info, err := os.Stat(g.cfg.Device)
	if err != nil {
		return nil, false, classifyOpenError(err)
	}

	if info.Mode().IsRegular() {
		f, err := os.Open(g.cfg.Device)
		if err != nil {
			return nil, false, classifyOpenError(err)
		}
		return f, true, nil
	}

	port, err := serial.OpenPort(&serial.Config{Name: g.cfg.Device, Baud: g.cfg.BaudRate})
	if err != nil {
		return nil, false, classifyOpenError(err)
	}
	return port, false, nil
}

func classifyOpenError(err error) error {
	switch {
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

func (g *GPS) read(ctx context.Context, r io.Reader, replay bool, sink Sink) {
	filter := updateFilter{minInterval: g.cfg.MinInterval, minDistance: g.cfg.MinDistance}
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		pos, ok := decodeSentence(scanner.Text(), g.now())
		if !ok {
			continue
		}
		if filter.accept(pos) {
			g.last.set(pos)
			sink.Position(pos)
		}

		// Every decoded fix takes one replay tick, so the filter sees the
		// file at its recorded pace.
		if replay && g.cfg.ReplayDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(g.cfg.ReplayDelay):
			}
		}
	}

	if ctx.Err() != nil {
		return
	}
	err := scanner.Err()
	if err == nil && replay {
		g.logger.Info().Msg("gps replay finished")
		return
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	g.logger.Error().Err(err).Msg("gps read failed")
	sink.Error(fmt.Errorf("%w: %v", ErrDisabled, err))
}
