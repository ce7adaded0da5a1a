// ABOUTME: Tests for geotrack config functionality
// ABOUTME: Verifies config load, save, path resolution, defaults, env overrides, and backend factory

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harper/geotrack/internal/models"
	"gopkg.in/yaml.v3"
)

func isolate(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)
	t.Setenv("XDG_DATA_HOME", tmpDir)
	t.Setenv(EnvMapsAPIKey, "")
	t.Setenv(EnvGPSDevice, "")
	t.Setenv(EnvBackend, "")
	return tmpDir
}

func TestGetConfigPath(t *testing.T) {
	path := GetConfigPath()
	if path == "" {
		t.Error("GetConfigPath returned empty string")
	}
	if !filepath.IsAbs(path) {
		t.Errorf("GetConfigPath returned non-absolute path: %s", path)
	}
}

func TestGetConfigPathWithXDGConfigHome(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	path := GetConfigPath()
	if !strings.HasPrefix(path, tmpDir) {
		t.Errorf("GetConfigPath should use XDG_CONFIG_HOME, got %s", path)
	}
	if !strings.HasSuffix(path, filepath.Join("geotrack", "config.yaml")) {
		t.Errorf("GetConfigPath should end with geotrack/config.yaml, got %s", path)
	}
}

func TestGetConfigPathWithoutXDGConfigHome(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")

	path := GetConfigPath()
	if !strings.Contains(path, ".config") {
		t.Errorf("GetConfigPath should use .config fallback, got %s", path)
	}
}

func TestLoadNonExistent(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed on non-existent config: %v", err)
	}
	if cfg.Backend != BackendSQLite {
		t.Errorf("expected default backend 'sqlite', got %q", cfg.Backend)
	}
	if cfg.GPS.MinInterval != 5*time.Second || cfg.GPS.MinDistance != 10 {
		t.Errorf("unexpected GPS defaults: %+v", cfg.GPS)
	}

	if _, err := os.Stat(GetConfigPath()); os.IsNotExist(err) {
		t.Error("expected config file to be auto-created on first run")
	}
}

func TestLoadExistingBadgerUser(t *testing.T) {
	tmpDir := isolate(t)

	badgerDir := filepath.Join(tmpDir, "geotrack", "badger")
	if err := os.MkdirAll(badgerDir, 0750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(badgerDir, "MANIFEST"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Backend != BackendBadger {
		t.Errorf("expected backend 'badger' for existing badger data, got %q", cfg.Backend)
	}
}

func TestLoadAutoCreatedConfigIsValidYAML(t *testing.T) {
	isolate(t)

	if _, err := Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	data, err := os.ReadFile(GetConfigPath())
	if err != nil {
		t.Fatalf("failed to read auto-created config: %v", err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		t.Fatalf("auto-created config is not valid YAML: %v", err)
	}
	if raw["backend"] != "sqlite" {
		t.Errorf("expected auto-created config backend 'sqlite', got %v", raw["backend"])
	}
	gps, ok := raw["gps"].(map[string]interface{})
	if !ok || gps["min_interval"] != "5s" {
		t.Errorf("expected gps.min_interval '5s', got %v", raw["gps"])
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("backend: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFrom(path); err == nil {
		t.Error("LoadFrom should fail on invalid YAML")
	}
}

func TestLoadFillsMissingKeys(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "backend: badger\ngps:\n  device: /dev/ttyUSB0\n  min_interval: 2s\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend != BackendBadger {
		t.Errorf("expected badger, got %q", cfg.Backend)
	}
	if cfg.GPS.Device != "/dev/ttyUSB0" || cfg.GPS.MinInterval != 2*time.Second {
		t.Errorf("unexpected gps config: %+v", cfg.GPS)
	}
	if cfg.GPS.BaudRate != 9600 {
		t.Errorf("expected default baud rate, got %d", cfg.GPS.BaudRate)
	}
	if cfg.HTTP.Addr == "" || cfg.Notify.MQTT.Topic != "geotrack/visits" {
		t.Errorf("expected defaults for missing sections, got %+v %+v", cfg.HTTP, cfg.Notify)
	}
}

func TestEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv(EnvMapsAPIKey, "k-123")
	t.Setenv(EnvGPSDevice, "/tmp/track.nmea")
	t.Setenv(EnvBackend, "badger")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Fused.APIKey != "k-123" || cfg.GPS.Device != "/tmp/track.nmea" || cfg.Backend != BackendBadger {
		t.Errorf("env overrides not applied: %+v", cfg)
	}

	data, err := os.ReadFile(GetConfigPath())
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "k-123") {
		t.Error("env overrides must not be written to the config file")
	}
}

func TestSaveAndLoad(t *testing.T) {
	isolate(t)

	cfg := Default()
	cfg.DataDir = "/srv/geotrack"
	cfg.Tracking.DefaultMode = "fused"
	cfg.Notify.NATS.URL = "nats://localhost:4222"
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.DataDir != "/srv/geotrack" || loaded.Notify.NATS.URL != "nats://localhost:4222" {
		t.Errorf("round trip lost fields: %+v", loaded)
	}
	mode, err := loaded.DefaultMode()
	if err != nil || mode != models.ModeFused {
		t.Errorf("expected fused default mode, got %v %v", mode, err)
	}
}

func TestSaveCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "config.yaml")

	if err := Default().SaveTo(path); err != nil {
		t.Fatalf("SaveTo failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected config file at %s: %v", path, err)
	}
}

func TestSaveToUnwritableDirectory(t *testing.T) {
	// A regular file where a directory is expected fails even for root.
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, nil, 0600); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(blocker, "config"))

	if err := (&Config{}).Save(); err == nil {
		t.Error("expected error when saving to unwritable directory")
	}
}

func TestDefaultBackend(t *testing.T) {
	cfg := &Config{}
	if cfg.GetBackend() != BackendSQLite {
		t.Errorf("expected 'sqlite', got %q", cfg.GetBackend())
	}
}

func TestDefaultDataDir(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", tmpDir)

	cfg := &Config{}
	if got, want := cfg.GetDataDir(), filepath.Join(tmpDir, "geotrack"); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestDataDirTildeExpansion(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	cfg := &Config{DataDir: "~/geo"}
	if got := cfg.GetDataDir(); got != filepath.Join(home, "geo") {
		t.Errorf("expected expanded path, got %q", got)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"~", home},
		{"~/data", filepath.Join(home, "data")},
		{"/abs/path", "/abs/path"},
		{"relative", "relative"},
		{"~user/x", "~user/x"},
	}
	for _, tt := range tests {
		if got := ExpandPath(tt.in); got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGeofencingSource(t *testing.T) {
	cfg := Default()
	if m, err := cfg.GeofencingSource(); err != nil || m != models.ModeGPS {
		t.Errorf("expected gps source, got %v %v", m, err)
	}

	cfg.Geofencing.Source = "geofencing"
	if _, err := cfg.GeofencingSource(); err == nil {
		t.Error("geofencing cannot be its own source")
	}
}

func TestAdapterConfigs(t *testing.T) {
	cfg := Default()
	cfg.GPS.Device = "/dev/ttyACM0"

	gps := cfg.GPSAdapter()
	if gps.Device != "/dev/ttyACM0" || gps.BaudRate != 9600 || gps.ReplayDelay != time.Second {
		t.Errorf("unexpected gps adapter config: %+v", gps)
	}
	if cfg.FusedAdapter().Interval != 5*time.Second {
		t.Errorf("unexpected fused interval: %v", cfg.FusedAdapter().Interval)
	}
}

func TestOpenStorageSQLiteCreatesDBInDataDir(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := &Config{Backend: BackendSQLite, DataDir: tmpDir}

	repo, err := cfg.OpenStorage()
	if err != nil {
		t.Fatalf("OpenStorage failed: %v", err)
	}
	defer repo.Close()

	if _, err := os.Stat(filepath.Join(tmpDir, "geotrack.db")); err != nil {
		t.Errorf("expected database file: %v", err)
	}
}

func TestOpenStorageBadgerBackend(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := &Config{Backend: BackendBadger, DataDir: tmpDir}

	repo, err := cfg.OpenStorage()
	if err != nil {
		t.Fatalf("OpenStorage failed: %v", err)
	}
	defer repo.Close()

	nonEmpty, err := os.ReadDir(filepath.Join(tmpDir, "badger"))
	if err != nil || len(nonEmpty) == 0 {
		t.Errorf("expected badger files under data dir: %v", err)
	}
}

func TestOpenStorageUnknownBackend(t *testing.T) {
	cfg := &Config{Backend: "postgres", DataDir: t.TempDir()}

	if _, err := cfg.OpenStorage(); err == nil {
		t.Error("expected error for unknown backend")
	}
}
