// Package engine defines the control-API boundary to the microscopic traffic
// simulation. The control plane never assumes anything about the simulator
// beyond this surface; the built-in queueing engine in microsim and any
// external adapter both satisfy it.
package engine

import "errors"

var (
	// ErrUnknownSignal reports a signal id the engine has never heard of.
	ErrUnknownSignal = errors.New("engine: unknown signal id")
	// ErrUnknownLane reports a lane id outside the loaded network.
	ErrUnknownLane = errors.New("engine: unknown lane id")
	// ErrPhaseOutOfRange reports a phase index past the signal's catalog.
	ErrPhaseOutOfRange = errors.New("engine: phase index out of range")
	// ErrEngineClosed reports a call after Close.
	ErrEngineClosed = errors.New("engine: closed")
)

// PhaseDefinition is one entry of a signal's phase catalog. State holds one
// signal color per controlled link position ('G'/'g' go, 'y'/'Y' caution,
// 'r' stop), matching the link ordering of ControlledLinks.
type PhaseDefinition struct {
	Index int
	State string
}

// Link is one controlled connection through an intersection.
type Link struct {
	FromLane string
	ToLane   string
	ViaLane  string
}

// Vehicle is the position sample of one live vehicle.
type Vehicle struct {
	ID    string  `json:"id"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Angle float64 `json:"angle"`
	Speed float64 `json:"speed"`
}

// Engine is the simulation control surface. Implementations are not required
// to be safe for concurrent use; the simulation driver is the sole caller.
type Engine interface {
	// Step advances the simulation by one tick.
	Step() error

	// SignalIDs lists every traffic signal in the loaded network. An empty
	// list is not an error; the server degrades to pass-through telemetry.
	SignalIDs() []string

	// PhaseDefinitions returns the ordered phase catalog for a signal.
	PhaseDefinitions(signalID string) ([]PhaseDefinition, error)

	// ControlledLinks returns, per link position, the link triples governed
	// by that position in every phase's state string.
	ControlledLinks(signalID string) ([][]Link, error)

	// CurrentPhase reports the phase index a signal currently displays.
	CurrentPhase(signalID string) (int, error)

	// CurrentState reports the light string a signal currently displays.
	CurrentState(signalID string) (string, error)

	// SetPhase forces a signal to the given phase index.
	SetPhase(signalID string, phase int) error

	// LaneWaitingTime reports the accumulated waiting time on a lane.
	LaneWaitingTime(laneID string) (float64, error)

	// EdgeHaltingCount reports how many vehicles are stopped on an edge.
	EdgeHaltingCount(edgeID string) (int, error)

	// VehiclePositions samples every live vehicle.
	VehiclePositions() []Vehicle

	// RemainingVehicles reports how many vehicles are still expected,
	// including vehicles not yet inserted. Zero means the scenario is over.
	RemainingVehicles() int

	// Close releases the engine. Calls after Close return ErrEngineClosed.
	Close() error
}
