package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_RequiresToken(t *testing.T) {
	t.Setenv("AWAIR_TOKEN", "")

	if _, err := Load(); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("Expected ErrMissingToken, got %v", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("AWAIR_TOKEN", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	a := cfg.Awair
	if a.UserType != "users/self" || a.Endpoint != "15-min-avg" || a.Limit != 1 {
		t.Errorf("Unexpected polling defaults: %+v", a)
	}
	if a.Method != "awair-aqi" {
		t.Errorf("Expected breakpoint AQI by default, got %s", a.Method)
	}
	if a.CO2On != 1000 || a.CO2Off != 800 || a.PM25On != 35 || a.PM25Off != 20 {
		t.Errorf("Unexpected threshold defaults: %+v", a)
	}
	if a.OccupancyOffset != 2.0 || a.OccupancyInterval != 30*time.Second {
		t.Errorf("Unexpected occupancy defaults: %+v", a)
	}
	if cfg.Kafka.TopicCharacteristics != "awair.characteristics" || cfg.Kafka.TopicAlerts != "awair.alerts" {
		t.Errorf("Unexpected topics: %+v", cfg.Kafka)
	}
}

func TestLoad_BadValuesFallBack(t *testing.T) {
	t.Setenv("AWAIR_TOKEN", "secret")
	t.Setenv("AWAIR_CO2_THRESHOLD", "lots")
	t.Setenv("AWAIR_VERBOSE", "maybe")
	t.Setenv("AWAIR_LIMIT", "ten")
	t.Setenv("AWAIR_IGNORED_DEVICES", " 70886B000001, ,70886B000002 ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Awair.CO2On != 1000 || cfg.Awair.Verbose || cfg.Awair.Limit != 1 {
		t.Errorf("Expected defaults for unparsable values, got %+v", cfg.Awair)
	}
	if len(cfg.Awair.IgnoredDevices) != 2 || cfg.Awair.IgnoredDevices[1] != "70886B000002" {
		t.Errorf("Unexpected ignored devices %v", cfg.Awair.IgnoredDevices)
	}
}

func TestLoad_FileOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "awair.yaml")
	doc := []byte(`
endpoint: raw
limit: 5
carbonDioxideThreshold: 1200
ignoredDevices:
  - 70886B00AAAA
occupancyDetection: true
`)
	if err := os.WriteFile(path, doc, 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("AWAIR_TOKEN", "secret")
	t.Setenv("AWAIR_CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	a := cfg.Awair
	if a.Endpoint != "raw" || a.Limit != 5 || a.CO2On != 1200 || !a.OccupancyDetection {
		t.Errorf("Overlay not applied: %+v", a)
	}
	if a.CO2Off != 800 {
		t.Errorf("Expected untouched field to keep env default, got %v", a.CO2Off)
	}
	if len(a.IgnoredDevices) != 1 || a.IgnoredDevices[0] != "70886B00AAAA" {
		t.Errorf("Unexpected ignored devices %v", a.IgnoredDevices)
	}
}

func TestLoad_MissingFileIgnored(t *testing.T) {
	t.Setenv("AWAIR_TOKEN", "secret")
	t.Setenv("AWAIR_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	if _, err := Load(); err != nil {
		t.Errorf("Expected missing file to be ignored, got %v", err)
	}
}

func TestConnectionString(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5433, User: "u", Password: "p", DBName: "n", SSLMode: "disable"}
	want := "host=db port=5433 user=u password=p dbname=n sslmode=disable"
	if got := d.ConnectionString(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
