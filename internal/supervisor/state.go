package supervisor

// State is the pipeline lifecycle state. It is owned exclusively by the
// Supervisor; other components learn about changes through control messages
// and bus announcements, never through shared mutable access.
type State string

const (
	StateIdle      State = "idle"
	StateCapturing State = "capturing"
	StatePaused    State = "paused"
	StateDraining  State = "draining"
	StateStopped   State = "stopped"
	StateFaulted   State = "faulted"
)

var transitions = map[State][]State{
	StateIdle:      {StateCapturing},
	StateCapturing: {StatePaused, StateDraining, StateFaulted},
	StatePaused:    {StateCapturing, StateDraining, StateFaulted},
	StateDraining:  {StateStopped, StateFaulted},
	StateStopped:   {StateIdle},
	StateFaulted:   {StateIdle},
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// step.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Active reports whether a capture session currently exists in this state.
func (s State) Active() bool {
	switch s {
	case StateCapturing, StatePaused, StateDraining:
		return true
	}
	return false
}
