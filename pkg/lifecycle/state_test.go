package lifecycle

import (
	"slices"
	"testing"
)

// expectedTable restates the transition table independently of
// validTransitions so that the exhaustive test catches edits to either.
var expectedTable = map[State][]State{
	"registered":  {"deploying", "deleted"},
	"deploying":   {"deployed", "failed", "error"},
	"deployed":    {"starting", "updating", "deleted"},
	"starting":    {"online", "failed", "error", "timeout"},
	"online":      {"busy", "idle", "stopping", "updating", "maintenance", "suspended", "offline", "error"},
	"busy":        {"idle", "online", "stopping", "maintenance", "suspended", "offline", "error"},
	"idle":        {"busy", "online", "stopping", "updating", "maintenance", "suspended", "offline", "error"},
	"stopping":    {"offline", "terminated", "error"},
	"updating":    {"online", "failed", "error"},
	"scaling":     {"online", "busy", "idle", "error"},
	"error":       {"online", "offline", "maintenance", "failed"},
	"failed":      {"starting", "deploying", "deleted"},
	"timeout":     {"offline", "error", "starting"},
	"maintenance": {"online", "offline", "suspended"},
	"suspended":   {"online", "maintenance", "offline"},
	"offline":     {"starting", "maintenance", "terminated", "deleted"},
	"terminated":  {"deleted"},
	"deleted":     {},
}

// ===========================================================================
// State Tests
// ===========================================================================

// TestAllStates verifies the eighteen states in declaration order and that
// the returned slice is a copy.
func TestAllStates(t *testing.T) {
	t.Parallel()

	states := AllStates()
	if len(states) != 18 {
		t.Fatalf("len(AllStates()) = %d, want 18", len(states))
	}
	if states[0] != StateRegistered || states[17] != StateDeleted {
		t.Errorf("AllStates() order = %v", states)
	}

	states[0] = "mutated"
	if AllStates()[0] != StateRegistered {
		t.Error("AllStates() returned shared backing storage")
	}
}

// TestState_Valid verifies that every declared state is valid and that
// arbitrary strings are not.
func TestState_Valid(t *testing.T) {
	t.Parallel()

	for _, s := range AllStates() {
		if !s.Valid() {
			t.Errorf("State(%q).Valid() = false", s)
		}
	}
	for _, s := range []State{"", "ONLINE", "running", "unknown"} {
		if s.Valid() {
			t.Errorf("State(%q).Valid() = true", s)
		}
	}
}

// TestState_Predicates verifies each classification predicate against its
// fixed member set over all eighteen states.
func TestState_Predicates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		pred    func(State) bool
		members []State
	}{
		{"IsOperational", State.IsOperational, []State{StateOnline, StateBusy, StateIdle}},
		{"IsAvailableForTasks", State.IsAvailableForTasks, []State{StateOnline, StateIdle}},
		{"IsInError", State.IsInError, []State{StateError, StateFailed, StateTimeout}},
		{"IsInMaintenance", State.IsInMaintenance, []State{StateMaintenance, StateSuspended, StateUpdating}},
		{"IsTerminal", State.IsTerminal, []State{StateDeleted}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, s := range AllStates() {
				want := slices.Contains(tt.members, s)
				if got := tt.pred(s); got != want {
					t.Errorf("%s(%q) = %v, want %v", tt.name, s, got, want)
				}
			}
		})
	}
}

// TestState_Status verifies the mapping onto the coarse status vocabulary.
func TestState_Status(t *testing.T) {
	t.Parallel()

	tests := map[State]Status{
		StateRegistered:  StatusOffline,
		StateDeploying:   StatusOffline,
		StateStarting:    StatusOffline,
		StateOnline:      StatusOnline,
		StateIdle:        StatusOnline,
		StateBusy:        StatusBusy,
		StateScaling:     StatusBusy,
		StateError:       StatusError,
		StateFailed:      StatusError,
		StateTimeout:     StatusError,
		StateMaintenance: StatusMaintenance,
		StateSuspended:   StatusMaintenance,
		StateUpdating:    StatusMaintenance,
		StateStopping:    StatusOffline,
		StateOffline:     StatusOffline,
		StateTerminated:  StatusOffline,
		StateDeleted:     StatusOffline,
	}
	for s, want := range tests {
		if got := s.Status(); got != want {
			t.Errorf("State(%q).Status() = %q, want %q", s, got, want)
		}
	}
}

// ===========================================================================
// Transition Table Tests
// ===========================================================================

// TestValidTransition_Exhaustive checks all 18x18 (from, to) pairs.
func TestValidTransition_Exhaustive(t *testing.T) {
	t.Parallel()

	if len(expectedTable) != 18 {
		t.Fatalf("expected table has %d rows", len(expectedTable))
	}
	for _, from := range AllStates() {
		for _, to := range AllStates() {
			want := slices.Contains(expectedTable[from], to)
			if got := ValidTransition(from, to); got != want {
				t.Errorf("ValidTransition(%q, %q) = %v, want %v", from, to, got, want)
			}
		}
	}
}

// TestValidTransition_UnknownStates verifies that unknown states neither
// leave nor enter the machine.
func TestValidTransition_UnknownStates(t *testing.T) {
	t.Parallel()

	if ValidTransition("bogus", StateOnline) {
		t.Error("unknown source state should have no transitions")
	}
	if ValidTransition(StateOnline, "bogus") {
		t.Error("unknown target state should be rejected")
	}
}

// TestAllowedTransitions verifies table order and that the result is a copy.
func TestAllowedTransitions(t *testing.T) {
	t.Parallel()

	for from, want := range expectedTable {
		got := AllowedTransitions(from)
		if !slices.Equal(got, want) {
			t.Errorf("AllowedTransitions(%q) = %v, want %v", from, got, want)
		}
	}

	got := AllowedTransitions(StateRegistered)
	got[0] = StateDeleted
	if AllowedTransitions(StateRegistered)[0] != StateDeploying {
		t.Error("AllowedTransitions returned shared backing storage")
	}

	if got := AllowedTransitions(StateDeleted); got == nil || len(got) != 0 {
		t.Errorf("AllowedTransitions(deleted) = %#v, want empty non-nil", got)
	}
}

// TestNoSelfTransitions verifies that no state lists itself as a target.
func TestNoSelfTransitions(t *testing.T) {
	t.Parallel()

	for _, s := range AllStates() {
		if ValidTransition(s, s) {
			t.Errorf("ValidTransition(%q, %q) = true", s, s)
		}
	}
}

// TestReachability verifies every state is reachable from registered.
func TestReachability(t *testing.T) {
	t.Parallel()

	seen := map[State]bool{StateRegistered: true}
	queue := []State{StateRegistered}
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		for _, next := range AllowedTransitions(s) {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	for _, s := range AllStates() {
		if reachable(s) != seen[s] {
			t.Errorf("reachable(%q) = %v, want %v", s, reachable(s), seen[s])
		}
		// scaling has no inbound edge in the table.
		if s == StateScaling {
			continue
		}
		if !seen[s] {
			t.Errorf("state %q is unreachable from registered", s)
		}
	}
	if reachable(StateScaling) {
		t.Error("reachable(scaling) = true")
	}
}
