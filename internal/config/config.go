// ABOUTME: Geotrack configuration management with backend selection
// ABOUTME: Loads the YAML config file, applies defaults and env overrides, opens storage

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harper/geotrack/internal/models"
	"github.com/harper/geotrack/internal/provider"
	"github.com/harper/geotrack/internal/storage"
	"gopkg.in/yaml.v3"
)

const (
	// BackendSQLite stores data in a single SQLite file.
	BackendSQLite = "sqlite"
	// BackendBadger stores data in an embedded Badger directory.
	BackendBadger = "badger"
)

const (
	sqliteFilename = "geotrack.db"
	badgerDirname  = "badger"
)

// Environment overrides.
const (
	EnvMapsAPIKey = "GEOTRACK_MAPS_API_KEY"
	EnvGPSDevice  = "GEOTRACK_GPS_DEVICE"
	EnvBackend    = "GEOTRACK_BACKEND"
)

// Config stores geotrack configuration.
type Config struct {
	// Backend selects the storage backend: "sqlite" (default) or "badger".
	Backend string `yaml:"backend,omitempty"`

	// DataDir is the root directory for data storage. Supports ~ expansion.
	// Defaults to $XDG_DATA_HOME/geotrack.
	DataDir string `yaml:"data_dir,omitempty"`

	LogLevel  string `yaml:"log_level,omitempty"`
	LogFormat string `yaml:"log_format,omitempty"`

	Tracking   TrackingConfig   `yaml:"tracking"`
	GPS        GPSConfig        `yaml:"gps"`
	Fused      FusedConfig      `yaml:"fused"`
	Geofencing GeofencingConfig `yaml:"geofencing"`
	Notify     NotifyConfig     `yaml:"notify"`
	HTTP       HTTPConfig       `yaml:"http"`
}

// TrackingConfig holds controller settings.
type TrackingConfig struct {
	DefaultMode string `yaml:"default_mode,omitempty"`
}

// GPSConfig configures the NMEA receiver.
type GPSConfig struct {
	Device      string        `yaml:"device,omitempty"`
	BaudRate    int           `yaml:"baud_rate,omitempty"`
	MinInterval time.Duration `yaml:"min_interval,omitempty"`
	MinDistance float64       `yaml:"min_distance,omitempty"`
	ReplayDelay time.Duration `yaml:"replay_delay,omitempty"`
}

// FusedConfig configures network geolocation.
type FusedConfig struct {
	APIKey   string        `yaml:"api_key,omitempty"`
	Interval time.Duration `yaml:"interval,omitempty"`
}

// GeofencingConfig selects the position source behind region monitoring.
type GeofencingConfig struct {
	Source string `yaml:"source,omitempty"`
}

// NotifyConfig enables external visit notification sinks.
type NotifyConfig struct {
	MQTT MQTTConfig `yaml:"mqtt"`
	NATS NATSConfig `yaml:"nats"`
}

// MQTTConfig is disabled while Broker is empty.
type MQTTConfig struct {
	Broker   string `yaml:"broker,omitempty"`
	ClientID string `yaml:"client_id,omitempty"`
	Topic    string `yaml:"topic,omitempty"`
	QoS      byte   `yaml:"qos,omitempty"`
}

// NATSConfig is disabled while URL is empty.
type NATSConfig struct {
	URL     string `yaml:"url,omitempty"`
	Subject string `yaml:"subject,omitempty"`
}

// HTTPConfig holds the API listen address. CORSOrigins lists browser
// origins allowed to call the API; empty allows same-origin only.
type HTTPConfig struct {
	Addr        string   `yaml:"addr,omitempty"`
	CORSOrigins []string `yaml:"cors_origins,omitempty"`
}

// Default returns a config with every default filled in.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Backend == "" {
		c.Backend = BackendSQLite
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}
	if c.Tracking.DefaultMode == "" {
		c.Tracking.DefaultMode = models.ModeGPS.String()
	}
	if c.GPS.BaudRate == 0 {
		c.GPS.BaudRate = 9600
	}
	if c.GPS.MinInterval == 0 {
		c.GPS.MinInterval = 5 * time.Second
	}
	if c.GPS.MinDistance == 0 {
		c.GPS.MinDistance = 10
	}
	if c.GPS.ReplayDelay == 0 {
		c.GPS.ReplayDelay = time.Second
	}
	if c.Fused.Interval == 0 {
		c.Fused.Interval = 5 * time.Second
	}
	if c.Geofencing.Source == "" {
		c.Geofencing.Source = models.ModeGPS.String()
	}
	if c.Notify.MQTT.ClientID == "" {
		c.Notify.MQTT.ClientID = "geotrack"
	}
	if c.Notify.MQTT.Topic == "" {
		c.Notify.MQTT.Topic = "geotrack/visits"
	}
	if c.Notify.NATS.Subject == "" {
		c.Notify.NATS.Subject = "geotrack.visits"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = "127.0.0.1:8765"
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvMapsAPIKey); v != "" {
		c.Fused.APIKey = v
	}
	if v := os.Getenv(EnvGPSDevice); v != "" {
		c.GPS.Device = v
	}
	if v := os.Getenv(EnvBackend); v != "" {
		c.Backend = v
	}
}

// GetBackend returns the configured backend, defaulting to "sqlite".
func (c *Config) GetBackend() string {
	if c.Backend == "" {
		return BackendSQLite
	}
	return c.Backend
}

// GetDataDir returns the configured data directory with ~ expanded,
// defaulting to the standard XDG data directory.
func (c *Config) GetDataDir() string {
	if c.DataDir == "" {
		return defaultDataDir()
	}
	return ExpandPath(c.DataDir)
}

// DefaultMode parses tracking.default_mode.
func (c *Config) DefaultMode() (models.TrackingMode, error) {
	return models.ParseTrackingMode(c.Tracking.DefaultMode)
}

// GeofencingSource parses geofencing.source. Only gps and fused can feed
// region monitoring.
func (c *Config) GeofencingSource() (models.TrackingMode, error) {
	m, err := models.ParseTrackingMode(c.Geofencing.Source)
	if err != nil {
		return 0, err
	}
	if m == models.ModeGeofencing {
		return 0, fmt.Errorf("geofencing.source must be gps or fused")
	}
	return m, nil
}

// GPSAdapter returns the GPS adapter settings.
func (c *Config) GPSAdapter() provider.GPSConfig {
	return provider.GPSConfig{
		Device:      ExpandPath(c.GPS.Device),
		BaudRate:    c.GPS.BaudRate,
		MinInterval: c.GPS.MinInterval,
		MinDistance: c.GPS.MinDistance,
		ReplayDelay: c.GPS.ReplayDelay,
	}
}

// FusedAdapter returns the fused adapter settings.
func (c *Config) FusedAdapter() provider.FusedConfig {
	return provider.FusedConfig{Interval: c.Fused.Interval}
}

// defaultDataDir returns the default XDG data directory for geotrack.
func defaultDataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "geotrack")
}

// defaultFirstRunConfig returns the default config for first-time runs.
// An existing Badger directory without a SQLite file keeps the Badger backend.
func defaultFirstRunConfig() *Config {
	cfg := Default()
	dataDir := defaultDataDir()
	if _, err := os.Stat(filepath.Join(dataDir, sqliteFilename)); err == nil {
		return cfg
	}
	nonEmpty, err := storage.IsDirNonEmpty(filepath.Join(dataDir, badgerDirname))
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not check for existing data: %v\n", err)
	}
	if nonEmpty {
		cfg.Backend = BackendBadger
	}
	return cfg
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// StoragePath returns where the given backend keeps its data.
func (c *Config) StoragePath(backend string) (string, error) {
	switch backend {
	case BackendSQLite:
		return filepath.Join(c.GetDataDir(), sqliteFilename), nil
	case BackendBadger:
		return filepath.Join(c.GetDataDir(), badgerDirname), nil
	default:
		return "", fmt.Errorf("unknown backend: %q", backend)
	}
}

// OpenStorage creates a Repository implementation based on the configured backend.
func (c *Config) OpenStorage() (storage.Repository, error) {
	return c.OpenBackend(c.GetBackend())
}

// OpenBackend opens a specific backend under the data directory.
func (c *Config) OpenBackend(backend string) (storage.Repository, error) {
	path, err := c.StoragePath(backend)
	if err != nil {
		return nil, err
	}
	if backend == BackendBadger {
		return storage.NewBadgerDB(path)
	}
	return storage.NewSQLiteDB(path)
}

// GetConfigPath returns the config file path.
func GetConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, _ := os.UserHomeDir()
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "geotrack", "config.yaml")
}

// Load reads config from the default path.
func Load() (*Config, error) {
	return LoadFrom(GetConfigPath())
}

// LoadFrom reads config from path, writing defaults there on first run.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg := defaultFirstRunConfig()
		if saveErr := cfg.SaveTo(path); saveErr != nil {
			fmt.Fprintf(os.Stderr, "warning: could not save default config: %v\n", saveErr)
		}
		cfg.applyEnv()
		return cfg, nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

// Save writes config to the default path.
func (c *Config) Save() error {
	return c.SaveTo(GetConfigPath())
}

// SaveTo writes config to path atomically.
func (c *Config) SaveTo(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return atomicWrite(path, data)
}

func atomicWrite(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.yaml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
