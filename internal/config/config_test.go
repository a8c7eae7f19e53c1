package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsAreValid(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("default config is invalid: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative tolerance", func(c *Config) { c.Tolerance = -1 }},
		{"zero detection size", func(c *Config) { c.DetectionSize = 0 }},
		{"inverted cooldown range", func(c *Config) { c.TriggerCooldownMin = 200; c.TriggerCooldownMax = 100 }},
		{"unknown detection mode", func(c *Config) { c.DetectionMode = "contour" }},
		{"color channel overflow", func(c *Config) { c.TargetColorG = 300 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Validate() accepted an invalid config")
			}
		})
	}
}

func TestManagerCreatesAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager() failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not created: %v", err)
	}

	cfg := m.Get()
	cfg.CaptureMode = "mss"
	cfg.Tolerance = 23
	if err := m.Update(cfg); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	// A fresh manager must read back the persisted values, with defaults
	// filling anything the file does not mention.
	m2, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager() reload failed: %v", err)
	}
	got := m2.Get()
	if got.CaptureMode != "mss" || got.Tolerance != 23 {
		t.Errorf("reload lost values: mode=%q tolerance=%d", got.CaptureMode, got.Tolerance)
	}
	if got.SerialBaud != 115200 {
		t.Errorf("reload lost default serial_baud: %d", got.SerialBaud)
	}
}

func TestManagerRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("tolerance: -5\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewManager(path); err == nil {
		t.Errorf("NewManager() accepted a config with negative tolerance")
	}
}

func TestStoreSnapshotIsolation(t *testing.T) {
	cfg := Defaults()
	store := NewStore(cfg)

	// Mutating the original after publishing must not affect the snapshot.
	cfg.Tolerance = 99
	if store.Snapshot().Tolerance == 99 {
		t.Errorf("store aliases the caller's config")
	}

	next := Defaults()
	next.Tolerance = 42
	store.Replace(next)
	if got := store.Snapshot().Tolerance; got != 42 {
		t.Errorf("Snapshot() after Replace() = %d, want 42", got)
	}
}
