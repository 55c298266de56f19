package control

import (
	"context"

	"github.com/Blackswan15/smart-urban-traffic-manager/logging"
)

const (
	// EventPhaseSwitch is emitted when an intersection leaves its green phase
	// and begins yellow clearance toward a new target.
	EventPhaseSwitch logging.EventType = "control.phase_switch"
	// EventPhaseCommitted is emitted when yellow clearance elapses and the
	// target green phase is applied.
	EventPhaseCommitted logging.EventType = "control.phase_committed"
	// EventModeChanged is emitted when an operator switches between automatic
	// and manual control.
	EventModeChanged logging.EventType = "control.mode_changed"
	// EventManualOverride is emitted when a forced phase is applied.
	EventManualOverride logging.EventType = "control.manual_override"
	// EventDiscoveryAnomaly is emitted when phase topology discovery finds a
	// signal it cannot fully control.
	EventDiscoveryAnomaly logging.EventType = "control.discovery_anomaly"
	// EventPhaseRejected is emitted when the engine refuses a phase mutation.
	EventPhaseRejected logging.EventType = "control.phase_rejected"
)

// PhaseSwitchPayload captures a pressure-driven transition decision.
type PhaseSwitchPayload struct {
	FromPhase   int     `json:"fromPhase"`
	YellowPhase int     `json:"yellowPhase"`
	TargetPhase int     `json:"targetPhase"`
	Pressure    float64 `json:"pressure"`
	Direct      bool    `json:"direct,omitempty"`
}

func PhaseSwitch(ctx context.Context, pub logging.Publisher, step uint64, intersection string, payload PhaseSwitchPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPhaseSwitch,
		Step:     step,
		Actor:    logging.EntityRef{ID: intersection, Kind: logging.EntityKindIntersection},
		Severity: logging.SeverityDebug,
		Category: logging.CategoryControl,
		Payload:  payload,
	})
}

// PhaseCommittedPayload records the phase that became active after clearance.
type PhaseCommittedPayload struct {
	Phase       int `json:"phase"`
	YellowSteps int `json:"yellowSteps"`
}

func PhaseCommitted(ctx context.Context, pub logging.Publisher, step uint64, intersection string, payload PhaseCommittedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPhaseCommitted,
		Step:     step,
		Actor:    logging.EntityRef{ID: intersection, Kind: logging.EntityKindIntersection},
		Severity: logging.SeverityDebug,
		Category: logging.CategoryControl,
		Payload:  payload,
	})
}

// ModeChangedPayload records an operator mode transition.
type ModeChangedPayload struct {
	Mode string `json:"mode"`
}

func ModeChanged(ctx context.Context, pub logging.Publisher, step uint64, payload ModeChangedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventModeChanged,
		Step:     step,
		Actor:    logging.EntityRef{Kind: logging.EntityKindWorld},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryControl,
		Payload:  payload,
	})
}

// ManualOverridePayload records a forced phase application.
type ManualOverridePayload struct {
	Phase int `json:"phase"`
}

func ManualOverride(ctx context.Context, pub logging.Publisher, step uint64, intersection string, payload ManualOverridePayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventManualOverride,
		Step:     step,
		Actor:    logging.EntityRef{ID: intersection, Kind: logging.EntityKindIntersection},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryControl,
		Payload:  payload,
	})
}

// DiscoveryAnomalyPayload describes a signal that discovery could not map.
type DiscoveryAnomalyPayload struct {
	Reason string `json:"reason"`
	Phase  int    `json:"phase,omitempty"`
}

func DiscoveryAnomaly(ctx context.Context, pub logging.Publisher, intersection string, payload DiscoveryAnomalyPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventDiscoveryAnomaly,
		Actor:    logging.EntityRef{ID: intersection, Kind: logging.EntityKindIntersection},
		Severity: logging.SeverityWarn,
		Category: logging.CategoryControl,
		Payload:  payload,
	})
}

// PhaseRejectedPayload records an engine refusal of a phase mutation.
type PhaseRejectedPayload struct {
	Phase int    `json:"phase"`
	Error string `json:"error"`
}

func PhaseRejected(ctx context.Context, pub logging.Publisher, step uint64, intersection string, payload PhaseRejectedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPhaseRejected,
		Step:     step,
		Actor:    logging.EntityRef{ID: intersection, Kind: logging.EntityKindIntersection},
		Severity: logging.SeverityWarn,
		Category: logging.CategoryControl,
		Payload:  payload,
	})
}
