package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agsys/valve-server/internal/engine"
	"github.com/agsys/valve-server/internal/link"
	"github.com/agsys/valve-server/internal/trend"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "valve-server.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

// TestBuildConfigsDefaults tests that an empty file keeps every default
func TestBuildConfigsDefaults(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	engineCfg, linkCfg, err := buildConfigs(cfg)
	if err != nil {
		t.Fatalf("buildConfigs failed: %v", err)
	}
	if engineCfg != engine.DefaultConfig() {
		t.Errorf("Engine config mismatch: got %+v, want %+v", engineCfg, engine.DefaultConfig())
	}
	if linkCfg != link.DefaultConfig() {
		t.Errorf("Link config mismatch: got %+v, want %+v", linkCfg, link.DefaultConfig())
	}
}

// TestBuildConfigsOverrides tests that set values replace defaults
func TestBuildConfigsOverrides(t *testing.T) {
	path := writeConfig(t, `
transport:
  role: listen
  address: 0.0.0.0:60001
  write_timeout: 2
controller:
  window_size: 10
  slope_threshold: 2.5
  comparison: signed
  x_axis: timestamp
  valve_duration: 120
  include_duration: true
  sweep_interval: 2
  status_interval: 0
journal:
  path: /tmp/journal.db
metrics:
  addr: ":9102"
`)
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	engineCfg, linkCfg, err := buildConfigs(cfg)
	if err != nil {
		t.Fatalf("buildConfigs failed: %v", err)
	}

	if linkCfg.Role != link.RoleListen || linkCfg.Address != "0.0.0.0:60001" || linkCfg.WriteTimeout != 2*time.Second {
		t.Errorf("Link config mismatch: got %+v", linkCfg)
	}
	if engineCfg.WindowSize != 10 || engineCfg.SlopeThreshold != 2.5 {
		t.Errorf("Window/threshold mismatch: got %d, %v", engineCfg.WindowSize, engineCfg.SlopeThreshold)
	}
	if engineCfg.Comparison != trend.ComparisonSigned || engineCfg.Axis != trend.AxisTimestamp {
		t.Errorf("Policy mismatch: got %v, %v", engineCfg.Comparison, engineCfg.Axis)
	}
	if engineCfg.ValveDuration != 120*time.Second || !engineCfg.IncludeDuration {
		t.Errorf("Valve duration mismatch: got %v, include %v", engineCfg.ValveDuration, engineCfg.IncludeDuration)
	}
	if engineCfg.SweepInterval != 2*time.Second || engineCfg.StatusInterval != 0 {
		t.Errorf("Interval mismatch: got sweep %v, status %v", engineCfg.SweepInterval, engineCfg.StatusInterval)
	}
	if engineCfg.JournalPath != "/tmp/journal.db" || engineCfg.WriteTimeout != 2*time.Second {
		t.Errorf("Journal/timeout mismatch: got %q, %v", engineCfg.JournalPath, engineCfg.WriteTimeout)
	}
	if cfg.Metrics.Addr != ":9102" {
		t.Errorf("Metrics addr mismatch: got %q", cfg.Metrics.Addr)
	}
}

// TestBuildConfigsExplicitZero tests that zero values are honoured rather
// than replaced by defaults
func TestBuildConfigsExplicitZero(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, "controller:\n  slope_threshold: 0\n  valve_duration: 0\n"))
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	engineCfg, _, err := buildConfigs(cfg)
	if err != nil {
		t.Fatalf("buildConfigs failed: %v", err)
	}
	if engineCfg.SlopeThreshold != 0 {
		t.Errorf("Slope threshold mismatch: got %v, want 0", engineCfg.SlopeThreshold)
	}
	if engineCfg.ValveDuration != 0 {
		t.Errorf("Valve duration mismatch: got %v, want 0", engineCfg.ValveDuration)
	}
}

// TestBuildConfigsInvalid tests rejected values
func TestBuildConfigsInvalid(t *testing.T) {
	bodies := []string{
		"transport:\n  role: both\n",
		"controller:\n  comparison: greater\n",
		"controller:\n  x_axis: time\n",
		"controller:\n  window_size: -1\n",
		"controller:\n  slope_threshold: -3\n",
		"controller:\n  valve_duration: -1\n",
		"controller:\n  status_interval: -5\n",
	}
	for _, body := range bodies {
		cfg, err := loadConfig(writeConfig(t, body))
		if err != nil {
			t.Fatalf("loadConfig failed: %v", err)
		}
		if _, _, err := buildConfigs(cfg); err == nil {
			t.Errorf("Expected error for config %q", body)
		}
	}

	if _, err := loadConfig(writeConfig(t, "transport: [")); err == nil {
		t.Error("Expected parse error")
	}
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected read error")
	}
}
