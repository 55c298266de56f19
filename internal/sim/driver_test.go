package sim

import (
	"testing"

	"github.com/Blackswan15/smart-urban-traffic-manager/internal/engine"
	"github.com/Blackswan15/smart-urban-traffic-manager/internal/signal"
)

// stubEngine is a two-approach intersection with deterministic queues. Phase 0
// serves lane north_0, phase 2 serves lane south_0.
type stubEngine struct {
	phases    []engine.PhaseDefinition
	links     [][]engine.Link
	current   int
	waiting   map[string]float64
	halting   map[string]int
	remaining int
	phaseLog  []int
}

func newStubEngine() *stubEngine {
	return &stubEngine{
		phases: []engine.PhaseDefinition{
			{Index: 0, State: "GGrr"},
			{Index: 1, State: "yyrr"},
			{Index: 2, State: "rrGG"},
			{Index: 3, State: "rryy"},
		},
		links: [][]engine.Link{
			{{FromLane: "north_0"}},
			{{FromLane: "north_0"}},
			{{FromLane: "south_0"}},
			{{FromLane: "south_0"}},
		},
		waiting:   map[string]float64{"north_0": 0, "south_0": 0},
		halting:   map[string]int{"north": 0, "south": 0},
		remaining: 1000,
	}
}

func (e *stubEngine) Step() error {
	if e.remaining > 0 {
		e.remaining--
	}
	return nil
}

func (e *stubEngine) SignalIDs() []string {
	return []string{"J1"}
}

func (e *stubEngine) PhaseDefinitions(string) ([]engine.PhaseDefinition, error) {
	return e.phases, nil
}

func (e *stubEngine) ControlledLinks(string) ([][]engine.Link, error) {
	return e.links, nil
}

func (e *stubEngine) CurrentPhase(string) (int, error) {
	return e.current, nil
}

func (e *stubEngine) CurrentState(string) (string, error) {
	return e.phases[e.current].State, nil
}

func (e *stubEngine) SetPhase(_ string, phase int) error {
	if phase < 0 || phase >= len(e.phases) {
		return engine.ErrPhaseOutOfRange
	}
	e.current = phase
	e.phaseLog = append(e.phaseLog, phase)
	return nil
}

func (e *stubEngine) LaneWaitingTime(laneID string) (float64, error) {
	return e.waiting[laneID], nil
}

func (e *stubEngine) EdgeHaltingCount(edgeID string) (int, error) {
	return e.halting[edgeID], nil
}

func (e *stubEngine) VehiclePositions() []engine.Vehicle {
	return []engine.Vehicle{{ID: "veh-0", X: 1, Y: 2, Speed: 3}}
}

func (e *stubEngine) RemainingVehicles() int {
	return e.remaining
}

func (e *stubEngine) Close() error {
	return nil
}

func newTestDriver(t *testing.T, eng engine.Engine, cfg DriverConfig) *Driver {
	t.Helper()
	driver, err := NewDriver(eng, cfg, DriverDeps{})
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	return driver
}

func TestDriverPublishesOneSnapshotPerStep(t *testing.T) {
	eng := newStubEngine()
	eng.halting["north"] = 4
	driver := newTestDriver(t, eng, DriverConfig{
		EdgeDirections: map[string]string{"north": "North", "south": "South"},
		PhaseLabels:    map[string]map[int]string{"J1": {0: "North-South", 2: "East-West"}},
	})

	for i := 0; i < 3; i++ {
		if finished, err := driver.Step(); err != nil || finished {
			t.Fatalf("step %d: finished=%v err=%v", i, finished, err)
		}
	}

	for want := uint64(1); want <= 3; want++ {
		snapshot, ok := driver.Telemetry().TryNext()
		if !ok {
			t.Fatalf("missing snapshot for step %d", want)
		}
		if snapshot.Step != want {
			t.Fatalf("expected step %d, got %d", want, snapshot.Step)
		}
		if snapshot.ControlMode != string(signal.ModeAuto) {
			t.Fatalf("expected auto mode, got %q", snapshot.ControlMode)
		}
		if snapshot.WaitingVehicles["North"] != 4 {
			t.Fatalf("expected 4 waiting North, got %d", snapshot.WaitingVehicles["North"])
		}
		if snapshot.GreenDirection != "North-South" {
			t.Fatalf("expected North-South, got %q", snapshot.GreenDirection)
		}
		if snapshot.SignalStates["J1"].State != "GGrr" {
			t.Fatalf("unexpected tls state %q", snapshot.SignalStates["J1"].State)
		}
		if len(snapshot.Vehicles) != 1 {
			t.Fatalf("expected one vehicle, got %d", len(snapshot.Vehicles))
		}
	}
	if _, ok := driver.Telemetry().TryNext(); ok {
		t.Fatal("exactly one snapshot per step expected")
	}
}

func TestDriverTerminalSentinelPushedOnce(t *testing.T) {
	eng := newStubEngine()
	eng.remaining = 2
	driver := newTestDriver(t, eng, DriverConfig{})

	var finished bool
	var err error
	steps := 0
	for !finished {
		finished, err = driver.Step()
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		steps++
		if steps > 10 {
			t.Fatal("driver never finished")
		}
	}

	var sentinels int
	for {
		snapshot, ok := driver.Telemetry().TryNext()
		if !ok {
			break
		}
		if snapshot.Finished {
			sentinels++
		}
	}
	if sentinels != 1 {
		t.Fatalf("expected exactly one terminal sentinel, got %d", sentinels)
	}
}

func TestDriverMaxStepsCap(t *testing.T) {
	eng := newStubEngine()
	driver := newTestDriver(t, eng, DriverConfig{MaxSteps: 2})

	if finished, _ := driver.Step(); finished {
		t.Fatal("finished after one step with MaxSteps=2")
	}
	finished, err := driver.Step()
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if !finished {
		t.Fatal("expected finish at MaxSteps")
	}
}

func TestManualCommandsApplyOnNextStep(t *testing.T) {
	eng := newStubEngine()
	driver := newTestDriver(t, eng, DriverConfig{})

	driver.Commands().Push(Command{ClientID: "c1", Type: CommandSetMode, SetMode: &SetModeCommand{Mode: signal.ModeManual}})
	driver.Commands().Push(Command{ClientID: "c1", Type: CommandForcePhase, ForcePhase: &ForcePhaseCommand{Phase: 2}})

	if _, err := driver.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if driver.Mode() != signal.ModeManual {
		t.Fatalf("expected manual mode, got %q", driver.Mode())
	}
	if eng.current != 2 {
		t.Fatalf("forced phase not applied within the same step, engine at %d", eng.current)
	}
	snapshot, ok := driver.Telemetry().TryNext()
	if !ok || snapshot.ControlMode != string(signal.ModeManual) {
		t.Fatalf("snapshot should report manual mode, got %+v (ok=%v)", snapshot, ok)
	}
}

func TestForcePhaseIgnoredUnderAutoMode(t *testing.T) {
	eng := newStubEngine()
	driver := newTestDriver(t, eng, DriverConfig{})

	driver.Commands().Push(Command{ClientID: "c1", Type: CommandForcePhase, ForcePhase: &ForcePhaseCommand{Phase: 2}})
	if _, err := driver.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if len(eng.phaseLog) != 0 {
		t.Fatalf("no phase mutation expected under auto, got %v", eng.phaseLog)
	}
}

func TestForcePhaseTargetsNamedIntersection(t *testing.T) {
	eng := newStubEngine()
	driver := newTestDriver(t, eng, DriverConfig{})

	driver.Commands().Push(Command{Type: CommandSetMode, SetMode: &SetModeCommand{Mode: signal.ModeManual}})
	driver.Commands().Push(Command{Type: CommandForcePhase, ForcePhase: &ForcePhaseCommand{Intersection: "J9", Phase: 2}})
	if _, err := driver.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if len(eng.phaseLog) != 0 {
		t.Fatalf("command for unknown intersection must not touch J1, got %v", eng.phaseLog)
	}

	driver.Commands().Push(Command{Type: CommandForcePhase, ForcePhase: &ForcePhaseCommand{Intersection: "J1", Phase: 2}})
	if _, err := driver.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if eng.current != 2 {
		t.Fatalf("expected phase 2 on named intersection, engine at %d", eng.current)
	}
}

func TestGreenDirectionReportsYellowTransition(t *testing.T) {
	eng := newStubEngine()
	driver := newTestDriver(t, eng, DriverConfig{
		PhaseLabels: map[string]map[int]string{"J1": {0: "North-South", 2: "East-West"}},
	})

	eng.current = 1
	if _, err := driver.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	snapshot, ok := driver.Telemetry().TryNext()
	if !ok {
		t.Fatal("expected snapshot")
	}
	if snapshot.GreenDirection != "Yellow (Phase 1)" {
		t.Fatalf("expected yellow label, got %q", snapshot.GreenDirection)
	}
}
