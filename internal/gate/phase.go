package gate

// BudgetPhase is the monthly API budget regime.
type BudgetPhase string

const (
	// PhaseNormal runs every kind at full volume.
	PhaseNormal BudgetPhase = "normal"

	// PhaseConservation halves API-backed kinds.
	PhaseConservation BudgetPhase = "conservation"

	// PhaseHardStop disables API-backed kinds.
	PhaseHardStop BudgetPhase = "hard_stop"
)

// PhaseFor maps a usage ratio to a phase.
func PhaseFor(u, conservation, hardStop float64) BudgetPhase {
	switch {
	case u >= hardStop:
		return PhaseHardStop

	case u >= conservation:
		return PhaseConservation

	default:
		return PhaseNormal
	}
}

// PhaseMultiplier is the volume factor a phase applies to one kind. UI
// driven kinds are never affected by the API budget.
func PhaseMultiplier(phase BudgetPhase, apiBacked bool) float64 {
	if !apiBacked {
		return 1.0
	}

	switch phase {
	case PhaseHardStop:
		return 0

	case PhaseConservation:
		return 0.5

	default:
		return 1.0
	}
}
