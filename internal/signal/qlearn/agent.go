// Package qlearn is a table-driven Q-learning phase chooser. It plugs into
// the signal controller as an alternative AUTO policy: the state machine
// still enforces minimum green and yellow clearance, the agent only decides
// which green phase to serve next.
package qlearn

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/Blackswan15/smart-urban-traffic-manager/internal/signal"
)

// Config tunes the learning behavior.
type Config struct {
	LearningRate float64 `yaml:"learningRate"`
	Discount     float64 `yaml:"discount"`
	Epsilon      float64 `yaml:"epsilon"`
	MinEpsilon   float64 `yaml:"minEpsilon"`
	DecayRate    float64 `yaml:"decayRate"`
	// PressureBucket is the discretization width applied to per-phase
	// pressure when forming a state key.
	PressureBucket float64 `yaml:"pressureBucket"`
	// TablePath, when set, is where SaveTable persists the learned values.
	TablePath string `yaml:"tablePath"`
}

// DefaultConfig mirrors the tuning the agent was trained with.
func DefaultConfig() Config {
	return Config{
		LearningRate:   0.1,
		Discount:       0.9,
		Epsilon:        0.1,
		MinEpsilon:     0.05,
		DecayRate:      0.9995,
		PressureBucket: 10,
	}
}

// Agent learns phase values per discretized pressure state. It is owned by
// the simulation driver goroutine, like the controller it serves.
type Agent struct {
	cfg   Config
	rng   *rand.Rand
	table map[string]map[int]float64

	lastState  string
	lastAction int
	hasLast    bool
}

// New constructs an agent. A nil rng falls back to an unseeded source; tests
// inject a seeded one for determinism.
func New(cfg Config, rng *rand.Rand) *Agent {
	if cfg.PressureBucket <= 0 {
		cfg.PressureBucket = DefaultConfig().PressureBucket
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Agent{
		cfg:   cfg,
		rng:   rng,
		table: make(map[string]map[int]float64),
	}
}

// SelectPhase implements signal.PhasePolicy. Each call first rewards the
// previous decision with the negated total waiting time, then picks the next
// action epsilon-greedily.
func (a *Agent) SelectPhase(ctx signal.PolicyContext) int {
	if len(ctx.Phases) == 0 {
		return ctx.Current
	}
	state := a.stateKey(ctx)

	if a.hasLast {
		total := 0.0
		for _, p := range ctx.Phases {
			total += ctx.Pressure[p]
		}
		a.update(a.lastState, a.lastAction, -total, state, ctx.Phases)
	}

	action := a.chooseAction(state, ctx.Phases)
	a.lastState = state
	a.lastAction = action
	a.hasLast = true
	a.decayEpsilon()
	return action
}

func (a *Agent) stateKey(ctx signal.PolicyContext) string {
	parts := make([]string, 0, len(ctx.Phases))
	for _, p := range ctx.Phases {
		bucket := int(ctx.Pressure[p] / a.cfg.PressureBucket)
		parts = append(parts, strconv.Itoa(bucket))
	}
	return strings.Join(parts, "|")
}

func (a *Agent) chooseAction(state string, actions []int) int {
	if a.rng.Float64() < a.cfg.Epsilon {
		return actions[a.rng.Intn(len(actions))]
	}
	maxQ := a.qValue(state, actions[0])
	for _, action := range actions[1:] {
		if q := a.qValue(state, action); q > maxQ {
			maxQ = q
		}
	}
	best := make([]int, 0, len(actions))
	for _, action := range actions {
		if a.qValue(state, action) == maxQ {
			best = append(best, action)
		}
	}
	return best[a.rng.Intn(len(best))]
}

func (a *Agent) qValue(state string, action int) float64 {
	return a.table[state][action]
}

func (a *Agent) update(state string, action int, reward float64, nextState string, actions []int) {
	futureQ := a.qValue(nextState, actions[0])
	for _, next := range actions[1:] {
		if q := a.qValue(nextState, next); q > futureQ {
			futureQ = q
		}
	}
	oldQ := a.qValue(state, action)
	newQ := oldQ + a.cfg.LearningRate*(reward+a.cfg.Discount*futureQ-oldQ)
	row, ok := a.table[state]
	if !ok {
		row = make(map[int]float64)
		a.table[state] = row
	}
	row[action] = newQ
}

func (a *Agent) decayEpsilon() {
	if a.cfg.Epsilon > a.cfg.MinEpsilon {
		a.cfg.Epsilon *= a.cfg.DecayRate
	}
}

// Epsilon reports the current exploration rate.
func (a *Agent) Epsilon() float64 {
	return a.cfg.Epsilon
}

// SaveTable persists the learned values to the configured path.
func (a *Agent) SaveTable() error {
	if a.cfg.TablePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(a.table, "", "  ")
	if err != nil {
		return fmt.Errorf("qlearn: marshal table: %w", err)
	}
	if err := os.WriteFile(a.cfg.TablePath, data, 0o644); err != nil {
		return fmt.Errorf("qlearn: write table: %w", err)
	}
	return nil
}

// LoadTable restores previously learned values. A missing file is not an
// error; the agent starts fresh.
func (a *Agent) LoadTable() error {
	if a.cfg.TablePath == "" {
		return nil
	}
	data, err := os.ReadFile(a.cfg.TablePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("qlearn: read table: %w", err)
	}
	table := make(map[string]map[int]float64)
	if err := json.Unmarshal(data, &table); err != nil {
		return fmt.Errorf("qlearn: decode table: %w", err)
	}
	a.table = table
	return nil
}

var _ signal.PhasePolicy = (*Agent)(nil)
