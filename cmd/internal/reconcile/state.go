package reconcile

// State is a position in one update's reconciliation.
//
//	Submitting -> Committed
//	Submitting -> Conflicted -> Redirected
//	Submitting -> Conflicted -> Committed    (kinds that retry once)
type State uint8

const (
	StateSubmitting State = iota
	StateCommitted
	StateConflicted
	StateRedirected
)

func (s State) String() string {
	switch s {
	case StateSubmitting:
		return "submitting"
	case StateCommitted:
		return "committed"
	case StateConflicted:
		return "conflicted"
	case StateRedirected:
		return "redirected"
	default:
		return "unknown"
	}
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool { return s == StateCommitted || s == StateRedirected }

var transitions = map[State][]State{
	StateSubmitting: {StateCommitted, StateConflicted},
	StateConflicted: {StateRedirected, StateCommitted},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
