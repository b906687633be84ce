package transfer

// State tracks where a transfer is in its lifecycle. Transitions only
// ever move forward; a finished transfer is tombstoned.
type State uint8

const (
	// StateUninitiated applies to resumable uploads before a session exists.
	StateUninitiated State = iota
	StateActive
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateUninitiated:
		return "uninitiated"
	case StateActive:
		return "active"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Advance moves the state to next if next is further along. Attempts to
// move backwards are ignored.
func (s *State) Advance(next State) {
	if next > *s {
		*s = next
	}
}
