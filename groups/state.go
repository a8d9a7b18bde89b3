package groups

// State is the position of the engine in the membership protocol.
type State uint8

const (
	// StateOperational: no membership change in progress.
	StateOperational State = iota + 1
	// StateTransitional: a transitional view arrived, waiting for the regular one.
	StateTransitional
	// StateGathering: exchanging GROUPS messages to reconcile the registry.
	StateGathering
	// StateGatherTransitional: gathering was interrupted by another transitional view.
	StateGatherTransitional
)

func (s State) String() string {
	switch s {
	case StateOperational:
		return "GOP"
	case StateTransitional:
		return "GTRANS"
	case StateGathering:
		return "GGATHER"
	case StateGatherTransitional:
		return "GGT"
	}
	return "UNKNOWN"
}

// Operational reports whether sessions may join, leave or be killed.
func (s State) Operational() bool {
	return s == StateOperational || s == StateTransitional
}
