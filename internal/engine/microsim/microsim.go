// Package microsim is a deterministic queueing engine behind the engine
// boundary. It is not a physics simulator: vehicles spawn on approach lanes,
// queue while their light is not green, and drain at a fixed service rate.
// That is enough to exercise phase discovery, pressure control, and the
// telemetry pipeline end to end without an external simulator process.
package microsim

import (
	"fmt"
	"math"
	"math/rand"
	"strings"

	"github.com/Blackswan15/smart-urban-traffic-manager/internal/engine"
)

// LinkConfig describes one controlled connection and the traffic feeding it.
type LinkConfig struct {
	FromLane    string  `yaml:"fromLane"`
	ToLane      string  `yaml:"toLane"`
	ViaLane     string  `yaml:"viaLane"`
	ArrivalRate float64 `yaml:"arrivalRate"`
	OriginX     float64 `yaml:"originX"`
	OriginY     float64 `yaml:"originY"`
	// Heading is the approach direction in degrees; queued vehicles stack
	// backwards along it.
	Heading float64 `yaml:"heading"`
}

// SignalConfig describes one intersection: its phase catalog and one link
// per state-string position.
type SignalConfig struct {
	ID     string       `yaml:"id"`
	Phases []string     `yaml:"phases"`
	Links  []LinkConfig `yaml:"links"`
}

// Config seeds the engine.
type Config struct {
	Seed          int64          `yaml:"seed"`
	TotalVehicles int            `yaml:"totalVehicles"`
	ServiceRate   int            `yaml:"serviceRate"`
	Signals       []SignalConfig `yaml:"signals"`
}

// DefaultConfig is a single four-arm intersection with two green phases and
// their yellow clearances, heavier traffic on the north-south axis.
func DefaultConfig() Config {
	return Config{
		Seed:          1,
		TotalVehicles: 600,
		ServiceRate:   2,
		Signals: []SignalConfig{
			{
				ID:     "J0",
				Phases: []string{"GGrr", "yyrr", "rrGG", "rryy"},
				Links: []LinkConfig{
					{FromLane: "EW_0", ToLane: "WE_out_0", ArrivalRate: 0.20, OriginX: -40, OriginY: 2, Heading: 90},
					{FromLane: "WE_0", ToLane: "EW_out_0", ArrivalRate: 0.20, OriginX: 40, OriginY: -2, Heading: 270},
					{FromLane: "NS_0", ToLane: "SN_out_0", ArrivalRate: 0.35, OriginX: 2, OriginY: 40, Heading: 180},
					{FromLane: "SN_0", ToLane: "NS_out_0", ArrivalRate: 0.35, OriginX: -2, OriginY: -40, Heading: 0},
				},
			},
		},
	}
}

type queuedVehicle struct {
	id      string
	waited  float64
	origin  [2]float64
	heading float64
}

type lane struct {
	id      string
	edge    string
	rate    float64
	origin  [2]float64
	heading float64
	queue   []queuedVehicle
}

type signal struct {
	id     string
	phases []engine.PhaseDefinition
	links  [][]engine.Link
	// fromLanes mirrors links: the approach lane governed by each position.
	fromLanes []string
	current   int
}

// Engine implements engine.Engine over in-memory lane queues.
type Engine struct {
	rng       *rand.Rand
	signals   map[string]*signal
	signalIDs []string
	lanes     map[string]*lane
	laneIDs   []string
	budget    int
	service   int
	nextID    uint64
	closed    bool
}

// New builds an engine from the provided network description.
func New(cfg Config) (*Engine, error) {
	if len(cfg.Signals) == 0 {
		return nil, fmt.Errorf("microsim: no signals configured")
	}
	service := cfg.ServiceRate
	if service < 1 {
		service = 1
	}
	e := &Engine{
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		signals: make(map[string]*signal),
		lanes:   make(map[string]*lane),
		budget:  cfg.TotalVehicles,
		service: service,
	}
	for _, sc := range cfg.Signals {
		if len(sc.Phases) == 0 {
			return nil, fmt.Errorf("microsim: signal %q has no phases", sc.ID)
		}
		for i, state := range sc.Phases {
			if len(state) != len(sc.Links) {
				return nil, fmt.Errorf("microsim: signal %q phase %d state %q does not cover %d links", sc.ID, i, state, len(sc.Links))
			}
		}
		sig := &signal{id: sc.ID}
		for i, state := range sc.Phases {
			sig.phases = append(sig.phases, engine.PhaseDefinition{Index: i, State: state})
		}
		for _, lc := range sc.Links {
			sig.links = append(sig.links, []engine.Link{{FromLane: lc.FromLane, ToLane: lc.ToLane, ViaLane: lc.ViaLane}})
			sig.fromLanes = append(sig.fromLanes, lc.FromLane)
			if _, ok := e.lanes[lc.FromLane]; !ok {
				e.lanes[lc.FromLane] = &lane{
					id:      lc.FromLane,
					edge:    edgeOf(lc.FromLane),
					rate:    lc.ArrivalRate,
					origin:  [2]float64{lc.OriginX, lc.OriginY},
					heading: lc.Heading,
				}
				e.laneIDs = append(e.laneIDs, lc.FromLane)
			}
		}
		e.signals[sc.ID] = sig
		e.signalIDs = append(e.signalIDs, sc.ID)
	}
	return e, nil
}

// edgeOf strips the lane suffix ("NS_0" -> "NS"), mirroring the usual
// edge/lane id convention of microscopic network files.
func edgeOf(laneID string) string {
	if idx := strings.LastIndex(laneID, "_"); idx > 0 {
		return laneID[:idx]
	}
	return laneID
}

func (e *Engine) Step() error {
	if e.closed {
		return engine.ErrEngineClosed
	}
	// Arrivals first so a vehicle spawned this step can be served this step.
	for _, id := range e.laneIDs {
		ln := e.lanes[id]
		if e.budget > 0 && e.rng.Float64() < ln.rate {
			e.budget--
			e.nextID++
			ln.queue = append(ln.queue, queuedVehicle{
				id:      fmt.Sprintf("veh-%d", e.nextID),
				origin:  ln.origin,
				heading: ln.heading,
			})
		}
	}
	for _, sid := range e.signalIDs {
		sig := e.signals[sid]
		state := sig.phases[sig.current].State
		for pos, fromLane := range sig.fromLanes {
			if !isGo(state[pos]) {
				continue
			}
			ln := e.lanes[fromLane]
			served := e.service
			if served > len(ln.queue) {
				served = len(ln.queue)
			}
			ln.queue = ln.queue[served:]
		}
	}
	for _, id := range e.laneIDs {
		ln := e.lanes[id]
		for i := range ln.queue {
			ln.queue[i].waited++
		}
	}
	return nil
}

func isGo(c byte) bool {
	return c == 'G' || c == 'g'
}

func (e *Engine) SignalIDs() []string {
	ids := make([]string, len(e.signalIDs))
	copy(ids, e.signalIDs)
	return ids
}

func (e *Engine) PhaseDefinitions(signalID string) ([]engine.PhaseDefinition, error) {
	sig, ok := e.signals[signalID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", engine.ErrUnknownSignal, signalID)
	}
	defs := make([]engine.PhaseDefinition, len(sig.phases))
	copy(defs, sig.phases)
	return defs, nil
}

func (e *Engine) ControlledLinks(signalID string) ([][]engine.Link, error) {
	sig, ok := e.signals[signalID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", engine.ErrUnknownSignal, signalID)
	}
	links := make([][]engine.Link, len(sig.links))
	for i, group := range sig.links {
		links[i] = append([]engine.Link(nil), group...)
	}
	return links, nil
}

func (e *Engine) CurrentPhase(signalID string) (int, error) {
	sig, ok := e.signals[signalID]
	if !ok {
		return 0, fmt.Errorf("%w: %q", engine.ErrUnknownSignal, signalID)
	}
	return sig.current, nil
}

func (e *Engine) CurrentState(signalID string) (string, error) {
	sig, ok := e.signals[signalID]
	if !ok {
		return "", fmt.Errorf("%w: %q", engine.ErrUnknownSignal, signalID)
	}
	return sig.phases[sig.current].State, nil
}

func (e *Engine) SetPhase(signalID string, phase int) error {
	if e.closed {
		return engine.ErrEngineClosed
	}
	sig, ok := e.signals[signalID]
	if !ok {
		return fmt.Errorf("%w: %q", engine.ErrUnknownSignal, signalID)
	}
	if phase < 0 || phase >= len(sig.phases) {
		return fmt.Errorf("%w: %d of %d", engine.ErrPhaseOutOfRange, phase, len(sig.phases))
	}
	sig.current = phase
	return nil
}

func (e *Engine) LaneWaitingTime(laneID string) (float64, error) {
	ln, ok := e.lanes[laneID]
	if !ok {
		return 0, fmt.Errorf("%w: %q", engine.ErrUnknownLane, laneID)
	}
	total := 0.0
	for _, v := range ln.queue {
		total += v.waited
	}
	return total, nil
}

func (e *Engine) EdgeHaltingCount(edgeID string) (int, error) {
	count := 0
	found := false
	for _, id := range e.laneIDs {
		ln := e.lanes[id]
		if ln.edge != edgeID {
			continue
		}
		found = true
		count += len(ln.queue)
	}
	if !found {
		return 0, fmt.Errorf("%w: edge %q", engine.ErrUnknownLane, edgeID)
	}
	return count, nil
}

const vehicleGap = 7.0

func (e *Engine) VehiclePositions() []engine.Vehicle {
	vehicles := make([]engine.Vehicle, 0)
	for _, id := range e.laneIDs {
		ln := e.lanes[id]
		rad := ln.heading * math.Pi / 180
		// Heading 0 points north; queued vehicles stack away from the stop line.
		dx := -math.Sin(rad) * vehicleGap
		dy := -math.Cos(rad) * vehicleGap
		for i, v := range ln.queue {
			speed := 0.0
			if v.waited == 0 {
				speed = 8.0
			}
			vehicles = append(vehicles, engine.Vehicle{
				ID:    v.id,
				X:     ln.origin[0] + dx*float64(i),
				Y:     ln.origin[1] + dy*float64(i),
				Angle: ln.heading,
				Speed: speed,
			})
		}
	}
	return vehicles
}

func (e *Engine) RemainingVehicles() int {
	remaining := e.budget
	for _, id := range e.laneIDs {
		remaining += len(e.lanes[id].queue)
	}
	return remaining
}

func (e *Engine) Close() error {
	e.closed = true
	return nil
}

var _ engine.Engine = (*Engine)(nil)
