package signal

import (
	"context"

	"github.com/Blackswan15/smart-urban-traffic-manager/internal/engine"
	"github.com/Blackswan15/smart-urban-traffic-manager/internal/telemetry"
	"github.com/Blackswan15/smart-urban-traffic-manager/logging"
	logcontrol "github.com/Blackswan15/smart-urban-traffic-manager/logging/control"
)

// Mode selects between pressure-driven and operator-driven control.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeManual Mode = "manual"
)

type phaseState int

const (
	stateGreen phaseState = iota
	stateYellow
)

// ControllerConfig tunes the hold times of the state machine, in steps.
type ControllerConfig struct {
	MinGreen       int
	YellowDuration int
}

// DefaultControllerConfig matches the deployed timings: ten steps of
// guaranteed green, four steps of yellow clearance.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{MinGreen: 10, YellowDuration: 4}
}

// Controller is the per-intersection control state machine. It is owned by
// the simulation driver goroutine and is not safe for concurrent use; remote
// intent reaches it only through SetMode and ForcePhase calls made on that
// same goroutine.
type Controller struct {
	topo   *Intersection
	cfg    ControllerConfig
	policy PhasePolicy
	pub    logging.Publisher
	logger telemetry.Logger

	mode        Mode
	state       phaseState
	timer       int
	current     int
	target      int
	manualPhase int
	manualDirty bool
	resync      bool
}

// NewController wraps a discovered intersection. The policy defaults to
// max-pressure when nil.
func NewController(topo *Intersection, cfg ControllerConfig, policy PhasePolicy, pub logging.Publisher, logger telemetry.Logger) *Controller {
	if cfg.MinGreen <= 0 {
		cfg.MinGreen = DefaultControllerConfig().MinGreen
	}
	if cfg.YellowDuration <= 0 {
		cfg.YellowDuration = DefaultControllerConfig().YellowDuration
	}
	if policy == nil {
		policy = MaxPressurePolicy{}
	}
	if pub == nil {
		pub = logging.NopPublisher()
	}
	return &Controller{
		topo:   topo,
		cfg:    cfg,
		policy: policy,
		pub:    pub,
		logger: logger,
		mode:   ModeAuto,
		state:  stateGreen,
		resync: true,
	}
}

// ID names the controlled intersection.
func (c *Controller) ID() string {
	return c.topo.ID
}

// Mode reports the current control mode.
func (c *Controller) Mode() Mode {
	return c.mode
}

// CurrentPhase reports the phase index the controller believes is displayed.
func (c *Controller) CurrentPhase() int {
	return c.current
}

// SetMode switches control modes. Entering manual abandons any in-flight
// yellow transition; returning to auto resumes pressure evaluation from
// whatever phase the engine displays on the next step.
func (c *Controller) SetMode(mode Mode) {
	if mode != ModeAuto && mode != ModeManual {
		return
	}
	if mode == c.mode {
		return
	}
	c.mode = mode
	c.state = stateGreen
	c.timer = 0
	c.target = 0
	c.manualDirty = false
	if mode == ModeAuto {
		c.resync = true
	}
}

// ForcePhase stages an operator override. Honored only under manual mode;
// under auto it is silently ignored.
func (c *Controller) ForcePhase(phase int) {
	if c.mode != ModeManual {
		return
	}
	c.manualPhase = phase
	c.manualDirty = true
}

// Advance runs one step of the state machine against the engine. It is
// called once per simulation step, after the engine has advanced.
func (c *Controller) Advance(step uint64, eng engine.Engine) {
	ctx := context.Background()

	// Manual overrides apply immediately and unconditionally; clearance is
	// the operator's responsibility.
	if c.mode == ModeManual {
		if !c.manualDirty {
			return
		}
		c.manualDirty = false
		if err := eng.SetPhase(c.topo.ID, c.manualPhase); err != nil {
			c.rejectPhase(ctx, step, c.manualPhase, err)
			return
		}
		c.current = c.manualPhase
		c.state = stateGreen
		c.timer = 0
		logcontrol.ManualOverride(ctx, c.pub, step, c.topo.ID, logcontrol.ManualOverridePayload{Phase: c.manualPhase})
		return
	}

	if c.resync {
		if phase, err := eng.CurrentPhase(c.topo.ID); err == nil {
			c.current = phase
		}
		c.state = stateGreen
		c.timer = 0
		c.resync = false
	}

	if c.state == stateYellow {
		c.timer++
		if c.timer < c.cfg.YellowDuration {
			return
		}
		if err := eng.SetPhase(c.topo.ID, c.target); err != nil {
			c.rejectPhase(ctx, step, c.target, err)
			// Abandon the transition instead of retrying forever.
			c.state = stateGreen
			c.timer = 0
			return
		}
		logcontrol.PhaseCommitted(ctx, c.pub, step, c.topo.ID, logcontrol.PhaseCommittedPayload{
			Phase:       c.target,
			YellowSteps: c.timer,
		})
		c.current = c.target
		c.state = stateGreen
		c.timer = 0
		return
	}

	c.timer++
	if c.timer < c.cfg.MinGreen {
		return
	}

	phases := c.topo.GreenPhases()
	if len(phases) == 0 {
		return
	}
	pressure := make(map[int]float64, len(phases))
	var maxPressure float64
	for _, phase := range phases {
		total := 0.0
		for _, laneID := range c.topo.GreenLanes[phase] {
			waiting, err := eng.LaneWaitingTime(laneID)
			if err != nil {
				continue
			}
			total += waiting
		}
		pressure[phase] = total
		if total > maxPressure {
			maxPressure = total
		}
	}

	selected := c.policy.SelectPhase(PolicyContext{Current: c.current, Phases: phases, Pressure: pressure})
	// No one waiting, or the winner is already being served: hold green. The
	// timer keeps counting so the next evaluation happens next step.
	if selected == c.current || pressure[selected] <= 0 {
		return
	}

	if yellow, ok := c.topo.GreenToYellow[c.current]; ok {
		if err := eng.SetPhase(c.topo.ID, yellow); err != nil {
			c.rejectPhase(ctx, step, yellow, err)
			return
		}
		logcontrol.PhaseSwitch(ctx, c.pub, step, c.topo.ID, logcontrol.PhaseSwitchPayload{
			FromPhase:   c.current,
			YellowPhase: yellow,
			TargetPhase: selected,
			Pressure:    pressure[selected],
		})
		c.state = stateYellow
		c.target = selected
		c.timer = 0
		return
	}

	// No clearance phase mapped for the outgoing green: switch directly.
	// Degraded but explicit; discovery already logged the anomaly.
	if err := eng.SetPhase(c.topo.ID, selected); err != nil {
		c.rejectPhase(ctx, step, selected, err)
		return
	}
	logcontrol.PhaseSwitch(ctx, c.pub, step, c.topo.ID, logcontrol.PhaseSwitchPayload{
		FromPhase:   c.current,
		YellowPhase: -1,
		TargetPhase: selected,
		Pressure:    pressure[selected],
		Direct:      true,
	})
	c.current = selected
	c.timer = 0
}

func (c *Controller) rejectPhase(ctx context.Context, step uint64, phase int, err error) {
	logcontrol.PhaseRejected(ctx, c.pub, step, c.topo.ID, logcontrol.PhaseRejectedPayload{
		Phase: phase,
		Error: err.Error(),
	})
	if c.logger != nil {
		c.logger.Printf("intersection %s rejected phase %d: %v", c.topo.ID, phase, err)
	}
}
