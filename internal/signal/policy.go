package signal

// PolicyContext is the per-step input to an AUTO phase selection policy.
type PolicyContext struct {
	// Current is the phase the intersection displays right now.
	Current int
	// Phases lists the competing green phase indexes in ascending order.
	Phases []int
	// Pressure holds the summed lane waiting time per green phase.
	Pressure map[int]float64
}

// PhasePolicy picks the green phase an intersection should serve next. The
// state machine still enforces minimum green and yellow clearance around
// whatever the policy returns.
type PhasePolicy interface {
	SelectPhase(ctx PolicyContext) int
}

// MaxPressurePolicy serves the phase with the strictly highest pressure.
// Ties keep the currently active phase so equal load never causes churn.
type MaxPressurePolicy struct{}

func (MaxPressurePolicy) SelectPhase(ctx PolicyContext) int {
	best := ctx.Current
	bestPressure := ctx.Pressure[ctx.Current]
	for _, phase := range ctx.Phases {
		if ctx.Pressure[phase] > bestPressure {
			best = phase
			bestPressure = ctx.Pressure[phase]
		}
	}
	return best
}
