package sim

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Blackswan15/smart-urban-traffic-manager/internal/engine"
	"github.com/Blackswan15/smart-urban-traffic-manager/internal/signal"
	"github.com/Blackswan15/smart-urban-traffic-manager/internal/telemetry"
	"github.com/Blackswan15/smart-urban-traffic-manager/logging"
	logcontrol "github.com/Blackswan15/smart-urban-traffic-manager/logging/control"
	lognetwork "github.com/Blackswan15/smart-urban-traffic-manager/logging/network"
)

const (
	defaultTickRate          = 100 * time.Millisecond
	defaultCommandCapacity   = 64
	defaultTelemetryCapacity = 256

	stepsMetricKey           = "sim_steps_total"
	stepDurationMetricKey    = "sim_step_duration_us"
	commandsAppliedMetricKey = "sim_commands_applied_total"
	commandsIgnoredMetricKey = "sim_commands_ignored_total"
)

// DriverConfig tunes the simulation loop and the presentation of telemetry.
type DriverConfig struct {
	// TickRate is the wall-clock pacing of simulation steps.
	TickRate time.Duration
	// MaxSteps caps the run; zero means run until the engine is empty.
	MaxSteps uint64

	Controller signal.ControllerConfig
	// Policy overrides the per-intersection selection strategy. Nil selects
	// max-pressure.
	Policy signal.PhasePolicy

	CommandCapacity   int
	TelemetryCapacity int

	// EdgeDirections maps engine edge IDs to the compass labels reported in
	// the waiting_vehicles telemetry field.
	EdgeDirections map[string]string
	// PhaseLabels maps intersection ID and green phase index to a
	// human-readable direction label.
	PhaseLabels map[string]map[int]string
}

// DriverDeps carries the ambient collaborators of the driver.
type DriverDeps struct {
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
	Publisher logging.Publisher
}

// Driver owns the simulation thread. All engine and controller access happens
// on the goroutine running Run; the outside world talks to it exclusively
// through the command and telemetry buffers.
type Driver struct {
	eng         engine.Engine
	cfg         DriverConfig
	deps        DriverDeps
	controllers []*signal.Controller
	commands    *CommandBuffer
	telemetry   *TelemetryBuffer

	mode signal.Mode
	step uint64
}

// NewDriver discovers the engine's intersections and prepares the loop. An
// engine without mappable signals is accepted; the driver then only relays
// telemetry.
func NewDriver(eng engine.Engine, cfg DriverConfig, deps DriverDeps) (*Driver, error) {
	if eng == nil {
		return nil, fmt.Errorf("sim: engine is required")
	}
	if cfg.TickRate <= 0 {
		cfg.TickRate = defaultTickRate
	}
	if cfg.CommandCapacity <= 0 {
		cfg.CommandCapacity = defaultCommandCapacity
	}
	if cfg.TelemetryCapacity <= 0 {
		cfg.TelemetryCapacity = defaultTelemetryCapacity
	}
	if deps.Publisher == nil {
		deps.Publisher = logging.NopPublisher()
	}

	intersections, err := signal.Discover(eng, deps.Publisher)
	if err != nil {
		return nil, fmt.Errorf("sim: discover intersections: %w", err)
	}
	controllers := make([]*signal.Controller, 0, len(intersections))
	for _, in := range intersections {
		controllers = append(controllers, signal.NewController(in, cfg.Controller, cfg.Policy, deps.Publisher, deps.Logger))
	}

	return &Driver{
		eng:         eng,
		cfg:         cfg,
		deps:        deps,
		controllers: controllers,
		commands:    NewCommandBuffer(cfg.CommandCapacity, deps.Metrics),
		telemetry:   NewTelemetryBuffer(cfg.TelemetryCapacity, deps.Metrics),
		mode:        signal.ModeAuto,
	}, nil
}

// Commands exposes the staging buffer the network layer pushes into.
func (d *Driver) Commands() *CommandBuffer {
	return d.commands
}

// Telemetry exposes the snapshot buffer the broadcast fan-out drains.
func (d *Driver) Telemetry() *TelemetryBuffer {
	return d.telemetry
}

// Mode reports the global control mode.
func (d *Driver) Mode() signal.Mode {
	return d.mode
}

// Run executes the fixed-timestep loop until the scenario finishes or the
// context is cancelled. It pushes the terminal sentinel exactly once.
func (d *Driver) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.TickRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			finished, err := d.Step()
			if err != nil {
				return err
			}
			if finished {
				return nil
			}
		}
	}
}

// Step advances the simulation by one step: staged commands are applied, the
// engine moves, every controller evaluates, and one snapshot is published.
// The boolean return reports scenario completion.
func (d *Driver) Step() (bool, error) {
	started := time.Now()
	for _, cmd := range d.commands.Drain() {
		d.applyCommand(cmd)
	}

	if err := d.eng.Step(); err != nil {
		return false, fmt.Errorf("sim: engine step: %w", err)
	}
	d.step++
	if d.deps.Metrics != nil {
		d.deps.Metrics.Add(stepsMetricKey, 1)
	}

	for _, ctrl := range d.controllers {
		ctrl.Advance(d.step, d.eng)
	}

	d.telemetry.Push(d.gather())
	if d.deps.Metrics != nil {
		d.deps.Metrics.Store(stepDurationMetricKey, uint64(time.Since(started).Microseconds()))
	}

	if d.finished() {
		d.telemetry.Push(Snapshot{Step: d.step, Finished: true})
		if d.deps.Logger != nil {
			d.deps.Logger.Printf("scenario finished after %d steps", d.step)
		}
		return true, nil
	}
	return false, nil
}

func (d *Driver) finished() bool {
	if d.cfg.MaxSteps > 0 && d.step >= d.cfg.MaxSteps {
		return true
	}
	return d.eng.RemainingVehicles() == 0
}

func (d *Driver) applyCommand(cmd Command) {
	ctx := context.Background()
	switch cmd.Type {
	case CommandSetMode:
		if cmd.SetMode == nil {
			d.discardCommand(ctx, cmd, "missing set_mode payload")
			return
		}
		mode := cmd.SetMode.Mode
		if mode != signal.ModeAuto && mode != signal.ModeManual {
			d.discardCommand(ctx, cmd, fmt.Sprintf("unknown mode %q", mode))
			return
		}
		if mode == d.mode {
			return
		}
		d.mode = mode
		for _, ctrl := range d.controllers {
			ctrl.SetMode(mode)
		}
		logcontrol.ModeChanged(ctx, d.deps.Publisher, d.step, logcontrol.ModeChangedPayload{Mode: string(mode)})
		if d.deps.Metrics != nil {
			d.deps.Metrics.Add(commandsAppliedMetricKey, 1)
		}
	case CommandForcePhase:
		if cmd.ForcePhase == nil {
			d.discardCommand(ctx, cmd, "missing force_phase payload")
			return
		}
		if d.mode != signal.ModeManual {
			d.discardCommand(ctx, cmd, "force_phase requires manual mode")
			return
		}
		applied := false
		for _, ctrl := range d.controllers {
			if cmd.ForcePhase.Intersection != "" && ctrl.ID() != cmd.ForcePhase.Intersection {
				continue
			}
			ctrl.ForcePhase(cmd.ForcePhase.Phase)
			applied = true
		}
		if !applied {
			d.discardCommand(ctx, cmd, fmt.Sprintf("no intersection matches %q", cmd.ForcePhase.Intersection))
			return
		}
		if d.deps.Metrics != nil {
			d.deps.Metrics.Add(commandsAppliedMetricKey, 1)
		}
	default:
		d.discardCommand(ctx, cmd, fmt.Sprintf("unknown command %q", cmd.Type))
	}
}

func (d *Driver) discardCommand(ctx context.Context, cmd Command, reason string) {
	lognetwork.CommandDiscarded(ctx, d.deps.Publisher, cmd.ClientID, lognetwork.DiscardPayload{
		Reason: fmt.Sprintf("%s: %s", cmd.Type, reason),
	})
	if d.deps.Metrics != nil {
		d.deps.Metrics.Add(commandsIgnoredMetricKey, 1)
	}
}

func (d *Driver) gather() Snapshot {
	snapshot := Snapshot{
		Step:            d.step,
		WaitingVehicles: make(map[string]int, len(d.cfg.EdgeDirections)),
		GreenDirection:  d.greenDirection(),
		ControlMode:     string(d.mode),
		Vehicles:        d.eng.VehiclePositions(),
		SignalStates:    make(map[string]SignalState),
	}
	for edgeID, direction := range d.cfg.EdgeDirections {
		halting, err := d.eng.EdgeHaltingCount(edgeID)
		if err != nil {
			continue
		}
		snapshot.WaitingVehicles[direction] += halting
	}
	for _, id := range d.eng.SignalIDs() {
		state, err := d.eng.CurrentState(id)
		if err != nil {
			continue
		}
		snapshot.SignalStates[id] = SignalState{State: state}
	}
	return snapshot
}

// greenDirection resolves the display label of the first labelled
// intersection's active phase. Yellow clearance phases report a transitional
// label so the operator console never shows a stale direction.
func (d *Driver) greenDirection() string {
	for _, ctrl := range d.controllers {
		labels, ok := d.cfg.PhaseLabels[ctrl.ID()]
		if !ok {
			continue
		}
		phase, err := d.eng.CurrentPhase(ctrl.ID())
		if err != nil {
			continue
		}
		if label, ok := labels[phase]; ok {
			return label
		}
		if state, err := d.eng.CurrentState(ctrl.ID()); err == nil && strings.ContainsAny(state, "yY") {
			return fmt.Sprintf("Yellow (Phase %d)", phase)
		}
		return "Unknown"
	}
	return "Unknown"
}
