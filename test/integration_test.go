// ABOUTME: Integration tests for full workflow
// ABOUTME: Builds the geotrack binary and drives geofences and visits end-to-end

package test

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func TestFullWorkflow(t *testing.T) {
	projectRoot, err := filepath.Abs("..")
	if err != nil {
		t.Fatalf("Failed to get project root: %v", err)
	}

	binary := filepath.Join(t.TempDir(), "geotrack")
	buildCmd := exec.Command("go", "build", "-o", binary, "./cmd/geotrack")
	buildCmd.Dir = projectRoot
	buildOutput, err := buildCmd.CombinedOutput()
	if err != nil {
		t.Fatalf("Failed to build: %v\nOutput: %s", err, buildOutput)
	}

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	run := func(args ...string) (string, error) {
		fullArgs := append([]string{"--config", configPath}, args...)
		cmd := exec.Command(binary, fullArgs...)
		cmd.Env = append(os.Environ(),
			"XDG_DATA_HOME="+filepath.Join(tmpDir, "data"),
			"GEOTRACK_BACKEND=",
			"GEOTRACK_GPS_DEVICE=",
			"GEOTRACK_MAPS_API_KEY=",
		)
		output, err := cmd.CombinedOutput()
		return string(output), err
	}

	// Add a geofence
	output, err := run("add", "--radius", "150", "Home", "41.8781", "-87.6298")
	if err != nil {
		t.Fatalf("Failed to add: %v\n%s", err, output)
	}
	if !strings.Contains(output, "Added geofence Home") {
		t.Errorf("Expected success message, got:\n%s", output)
	}
	if _, err := os.Stat(configPath); err != nil {
		t.Errorf("Expected default config to be written: %v", err)
	}

	// Record a visit by hand
	output, err = run("simulate", "enter", "1", "--at", "2026-03-01T08:00:00Z")
	if err != nil {
		t.Fatalf("Failed to simulate enter: %v\n%s", err, output)
	}

	output, err = run("open")
	if err != nil {
		t.Fatalf("Failed to list open visits: %v\n%s", err, output)
	}
	if !strings.Contains(output, "Home") {
		t.Error("Expected Home in open visits")
	}

	output, err = run("simulate", "exit", "1", "--at", "2026-03-01T09:30:00Z")
	if err != nil {
		t.Fatalf("Failed to simulate exit: %v\n%s", err, output)
	}
	if !strings.Contains(output, "1 h 30 min") {
		t.Errorf("Expected total time in output, got:\n%s", output)
	}

	// Visit history shows the closed visit
	output, err = run("visits", "1")
	if err != nil {
		t.Fatalf("Failed to get visits: %v\n%s", err, output)
	}
	if !strings.Contains(output, "1 h 30 min") {
		t.Errorf("Expected duration in visit history, got:\n%s", output)
	}

	// List should show Home
	output, err = run("list")
	if err != nil {
		t.Fatalf("Failed to list: %v\n%s", err, output)
	}
	if !strings.Contains(output, "Home") {
		t.Error("Expected Home in list")
	}

	// Remove
	output, err = run("remove", "1", "--confirm")
	if err != nil {
		t.Fatalf("Failed to remove: %v\n%s", err, output)
	}
	if !strings.Contains(output, "Removed") {
		t.Error("Expected removal confirmation")
	}

	// List should be empty
	output, err = run("list")
	if err != nil {
		t.Fatalf("Failed to list: %v\n%s", err, output)
	}
	if strings.Contains(output, "Home") {
		t.Error("Home should be removed")
	}

	t.Log("Integration test passed!")
}
