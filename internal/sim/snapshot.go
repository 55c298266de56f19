package sim

import "github.com/Blackswan15/smart-urban-traffic-manager/internal/engine"

// SignalState is the light string one intersection currently displays.
type SignalState struct {
	State string `json:"state"`
}

// Snapshot is the immutable telemetry record for one simulation step. It is
// built on the driver goroutine, handed to the telemetry buffer by value,
// and never references driver-owned state.
type Snapshot struct {
	Step            uint64                 `json:"step"`
	WaitingVehicles map[string]int         `json:"waiting_vehicles"`
	GreenDirection  string                 `json:"green_direction"`
	ControlMode     string                 `json:"control_mode"`
	Vehicles        []engine.Vehicle       `json:"vehicles"`
	SignalStates    map[string]SignalState `json:"tlsState"`

	// Finished marks the terminal sentinel pushed once after the last real
	// snapshot. It is never serialized; the fan-out sends a status message
	// instead.
	Finished bool `json:"-"`
}
