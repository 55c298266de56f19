package sim

import (
	"time"

	"github.com/Blackswan15/smart-urban-traffic-manager/internal/signal"
)

// CommandType enumerates the supported operator commands.
type CommandType string

const (
	CommandSetMode    CommandType = "set_mode"
	CommandForcePhase CommandType = "force_phase"
)

// SetModeCommand switches every intersection between automatic and manual
// control.
type SetModeCommand struct {
	Mode signal.Mode `json:"mode"`
}

// ForcePhaseCommand forces a phase index. An empty Intersection targets every
// managed intersection, matching the original operator console behavior.
type ForcePhaseCommand struct {
	Intersection string `json:"intersection,omitempty"`
	Phase        int    `json:"phase"`
}

// Command represents an operator intent captured for processing at the start
// of the next simulation step.
type Command struct {
	ClientID   string             `json:"clientId"`
	Type       CommandType        `json:"type"`
	IssuedAt   time.Time          `json:"issuedAt"`
	SetMode    *SetModeCommand    `json:"setMode,omitempty"`
	ForcePhase *ForcePhaseCommand `json:"forcePhase,omitempty"`
}
