// Package signal holds the per-intersection phase topology and the adaptive
// control state machine that drives it.
package signal

import (
	"context"
	"sort"
	"strings"

	"github.com/Blackswan15/smart-urban-traffic-manager/internal/engine"
	"github.com/Blackswan15/smart-urban-traffic-manager/logging"
	logcontrol "github.com/Blackswan15/smart-urban-traffic-manager/logging/control"
)

// Intersection is the immutable phase topology of one managed signal, built
// once after the engine has loaded the network.
type Intersection struct {
	ID           string
	PhaseCatalog []engine.PhaseDefinition
	// GreenLanes maps a stable green phase index to the incoming lanes it
	// serves. Phases that serve no lane are excluded entirely.
	GreenLanes map[int][]string
	// GreenToYellow maps a green phase index to its clearance phase. A green
	// phase may be absent here when no caution phase follows it.
	GreenToYellow map[int]int
}

// GreenPhases returns the competing green phase indexes in ascending order.
func (in *Intersection) GreenPhases() []int {
	phases := make([]int, 0, len(in.GreenLanes))
	for p := range in.GreenLanes {
		phases = append(phases, p)
	}
	sort.Ints(phases)
	return phases
}

func isGreenChar(c rune) bool {
	return c == 'g'
}

func containsCaution(state string) bool {
	return strings.ContainsRune(strings.ToLower(state), 'y')
}

func containsGo(state string) bool {
	return strings.ContainsRune(strings.ToLower(state), 'g')
}

// DiscoverIntersection derives the topology record from the raw phase and
// link definitions the engine exposes for one signal.
//
// A phase is a candidate green phase iff its state string contains a go
// character and no caution character. The phase immediately following a green
// phase (wrapping) is its clearance phase iff it contains a caution
// character; the absent-yellow case is a handled, logged branch, not an
// assumption.
func DiscoverIntersection(id string, phases []engine.PhaseDefinition, links [][]engine.Link, pub logging.Publisher) *Intersection {
	if pub == nil {
		pub = logging.NopPublisher()
	}
	in := &Intersection{
		ID:            id,
		PhaseCatalog:  append([]engine.PhaseDefinition(nil), phases...),
		GreenLanes:    make(map[int][]string),
		GreenToYellow: make(map[int]int),
	}

	var greens []int
	for i, phase := range phases {
		if containsGo(phase.State) && !containsCaution(phase.State) {
			greens = append(greens, i)
		}
	}
	if len(greens) == 0 {
		logcontrol.DiscoveryAnomaly(context.Background(), pub, id, logcontrol.DiscoveryAnomalyPayload{
			Reason: "no usable green phases",
		})
		return in
	}

	for _, green := range greens {
		next := (green + 1) % len(phases)
		if containsCaution(phases[next].State) {
			in.GreenToYellow[green] = next
		} else {
			logcontrol.DiscoveryAnomaly(context.Background(), pub, id, logcontrol.DiscoveryAnomalyPayload{
				Reason: "green phase has no yellow successor",
				Phase:  green,
			})
		}
	}

	for _, green := range greens {
		state := strings.ToLower(phases[green].State)
		seen := make(map[string]bool)
		for pos, c := range state {
			if !isGreenChar(c) || pos >= len(links) {
				continue
			}
			for _, link := range links[pos] {
				if link.FromLane == "" || seen[link.FromLane] {
					continue
				}
				seen[link.FromLane] = true
				in.GreenLanes[green] = append(in.GreenLanes[green], link.FromLane)
			}
		}
		// A green phase with no mapped lanes controls nothing observable and
		// must never win the pressure competition.
		if len(in.GreenLanes[green]) == 0 {
			delete(in.GreenLanes, green)
			delete(in.GreenToYellow, green)
			logcontrol.DiscoveryAnomaly(context.Background(), pub, id, logcontrol.DiscoveryAnomalyPayload{
				Reason: "green phase serves no lanes",
				Phase:  green,
			})
		}
	}
	return in
}

// Discover maps every signal the engine reports. Signals that cannot be
// mapped at all are excluded from active control; an engine with no signals
// yields an empty slice and the server degrades to pass-through telemetry.
func Discover(eng engine.Engine, pub logging.Publisher) ([]*Intersection, error) {
	var intersections []*Intersection
	for _, id := range eng.SignalIDs() {
		phases, err := eng.PhaseDefinitions(id)
		if err != nil {
			return nil, err
		}
		links, err := eng.ControlledLinks(id)
		if err != nil {
			return nil, err
		}
		in := DiscoverIntersection(id, phases, links, pub)
		if len(in.GreenLanes) == 0 {
			continue
		}
		intersections = append(intersections, in)
	}
	return intersections, nil
}
