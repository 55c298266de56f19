// Package config loads the server configuration from YAML with environment
// overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Blackswan15/smart-urban-traffic-manager/internal/engine/microsim"
	"github.com/Blackswan15/smart-urban-traffic-manager/internal/signal/qlearn"
)

const (
	PolicyMaxPressure = "max_pressure"
	PolicyQLearn      = "qlearn"

	EngineMicrosim = "microsim"
)

// Config is the root configuration document.
type Config struct {
	Server  Server  `yaml:"server"`
	Sim     Sim     `yaml:"sim"`
	Control Control `yaml:"control"`
	Engine  Engine  `yaml:"engine"`
	Display Display `yaml:"display"`
	Logging Logging `yaml:"logging"`
}

// Server configures the HTTP listener.
type Server struct {
	Addr string `yaml:"addr"`
	// NetworkFile, when set, is the road geometry served at /network.
	NetworkFile string `yaml:"network_file"`
}

// Sim paces the simulation loop and sizes the cross-thread buffers.
type Sim struct {
	TickRate          time.Duration `yaml:"tick_rate"`
	MaxSteps          uint64        `yaml:"max_steps"`
	CommandCapacity   int           `yaml:"command_capacity"`
	TelemetryCapacity int           `yaml:"telemetry_capacity"`
	BroadcastIdle     time.Duration `yaml:"broadcast_idle"`
}

// Control tunes the phase selection state machine.
type Control struct {
	MinGreen       int           `yaml:"min_green"`
	YellowDuration int           `yaml:"yellow_duration"`
	Policy         string        `yaml:"policy"`
	QLearn         qlearn.Config `yaml:"qlearn"`
}

// Engine selects and configures the simulation backend.
type Engine struct {
	Kind     string          `yaml:"kind"`
	Microsim microsim.Config `yaml:"microsim"`
}

// Display maps engine identifiers to the labels shown in telemetry.
type Display struct {
	EdgeDirections map[string]string         `yaml:"edge_directions"`
	PhaseLabels    map[string]map[int]string `yaml:"phase_labels"`
}

// Logging configures the async event router.
type Logging struct {
	Sinks            []string      `yaml:"sinks"`
	BufferSize       int           `yaml:"buffer_size"`
	MinSeverity      string        `yaml:"min_severity"`
	JSONPath         string        `yaml:"json_path"`
	FlushInterval    time.Duration `yaml:"flush_interval"`
	DropWarnInterval time.Duration `yaml:"drop_warn_interval"`
}

// Default returns the configuration used when no file is provided: the
// built-in single-intersection scenario with max-pressure control.
func Default() Config {
	return Config{
		Server: Server{
			Addr: ":8000",
		},
		Sim: Sim{
			TickRate:          100 * time.Millisecond,
			MaxSteps:          3600,
			CommandCapacity:   64,
			TelemetryCapacity: 256,
			BroadcastIdle:     50 * time.Millisecond,
		},
		Control: Control{
			MinGreen:       10,
			YellowDuration: 4,
			Policy:         PolicyMaxPressure,
			QLearn:         qlearn.DefaultConfig(),
		},
		Engine: Engine{
			Kind:     EngineMicrosim,
			Microsim: microsim.DefaultConfig(),
		},
		Display: Display{
			// Keyed by the incoming edges of the built-in scenario; the values
			// are the compass labels shown on the dashboard.
			EdgeDirections: map[string]string{
				"NS": "North",
				"SN": "South",
				"EW": "West",
				"WE": "East",
			},
			PhaseLabels: map[string]map[int]string{
				"J0": {0: "East-West", 2: "North-South"},
			},
		},
		Logging: Logging{
			Sinks:       []string{"console"},
			BufferSize:  1024,
			MinSeverity: "info",
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns defaults
// untouched.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects values the server cannot run with.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config: server.addr is required")
	}
	if c.Sim.TickRate <= 0 {
		return fmt.Errorf("config: sim.tick_rate must be positive")
	}
	if c.Control.MinGreen <= 0 {
		return fmt.Errorf("config: control.min_green must be positive")
	}
	if c.Control.YellowDuration <= 0 {
		return fmt.Errorf("config: control.yellow_duration must be positive")
	}
	switch c.Control.Policy {
	case PolicyMaxPressure, PolicyQLearn:
	default:
		return fmt.Errorf("config: unknown control.policy %q", c.Control.Policy)
	}
	if c.Engine.Kind != EngineMicrosim {
		return fmt.Errorf("config: unknown engine.kind %q", c.Engine.Kind)
	}
	return nil
}
