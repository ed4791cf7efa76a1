package supervisor

import "testing"

func TestLifecycleTransitions(t *testing.T) {
	legal := []struct{ from, to State }{
		{StateIdle, StateCapturing},
		{StateCapturing, StatePaused},
		{StatePaused, StateCapturing},
		{StateCapturing, StateDraining},
		{StatePaused, StateDraining},
		{StateDraining, StateStopped},
		{StateStopped, StateIdle},
		{StateCapturing, StateFaulted},
		{StatePaused, StateFaulted},
		{StateDraining, StateFaulted},
		{StateFaulted, StateIdle},
	}
	for _, tc := range legal {
		if !tc.from.CanTransition(tc.to) {
			t.Errorf("%s -> %s should be legal", tc.from, tc.to)
		}
	}

	illegal := []struct{ from, to State }{
		{StateIdle, StatePaused},
		{StateIdle, StateDraining},
		{StateIdle, StateFaulted},
		{StateStopped, StateCapturing},
		{StateFaulted, StateCapturing},
		{StateDraining, StateCapturing},
		{StatePaused, StateStopped},
		{StateCapturing, StateCapturing},
	}
	for _, tc := range illegal {
		if tc.from.CanTransition(tc.to) {
			t.Errorf("%s -> %s should be illegal", tc.from, tc.to)
		}
	}
}

func TestActiveStates(t *testing.T) {
	for _, st := range []State{StateCapturing, StatePaused, StateDraining} {
		if !st.Active() {
			t.Errorf("%s should be active", st)
		}
	}
	for _, st := range []State{StateIdle, StateStopped, StateFaulted} {
		if st.Active() {
			t.Errorf("%s should not be active", st)
		}
	}
}
