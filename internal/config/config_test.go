package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8000" {
		t.Fatalf("unexpected default addr %q", cfg.Server.Addr)
	}
	if cfg.Control.MinGreen != 10 || cfg.Control.YellowDuration != 4 {
		t.Fatalf("unexpected default timings: %+v", cfg.Control)
	}
	if cfg.Control.Policy != PolicyMaxPressure {
		t.Fatalf("unexpected default policy %q", cfg.Control.Policy)
	}
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9100"
sim:
  tick_rate: 250ms
  max_steps: 500
control:
  policy: qlearn
display:
  edge_directions:
    main_in: Main
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9100" {
		t.Fatalf("addr not overridden: %q", cfg.Server.Addr)
	}
	if cfg.Sim.TickRate != 250*time.Millisecond {
		t.Fatalf("tick rate not parsed: %v", cfg.Sim.TickRate)
	}
	if cfg.Sim.MaxSteps != 500 {
		t.Fatalf("max steps not parsed: %d", cfg.Sim.MaxSteps)
	}
	if cfg.Control.Policy != PolicyQLearn {
		t.Fatalf("policy not overridden: %q", cfg.Control.Policy)
	}
	// Untouched sections keep their defaults.
	if cfg.Control.MinGreen != 10 {
		t.Fatalf("min green default lost: %d", cfg.Control.MinGreen)
	}
	if cfg.Display.EdgeDirections["main_in"] != "Main" {
		t.Fatalf("edge directions not parsed: %+v", cfg.Display.EdgeDirections)
	}
}

func TestLoadRejectsUnknownPolicy(t *testing.T) {
	path := writeConfig(t, "control:\n  policy: oracle\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for unknown policy")
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateRejectsNonPositiveTimings(t *testing.T) {
	cfg := Default()
	cfg.Control.YellowDuration = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero yellow duration")
	}
}
