// Package lifecycle tracks and validates the operational state of agents
// from registration through deployment, execution, maintenance, and
// deletion.
//
// # State Machine
//
// Every agent occupies exactly one of eighteen [State] values. Movement
// between states is restricted to the static transition table consulted by
// [ValidTransition]; nothing else may change an agent's state. The healthy
// path for a new agent is:
//
//	registered → deploying → deployed → starting → online
//
// Operational agents move between online, busy, and idle as work is
// assigned and completed. [StateDeleted] is terminal.
//
// # Managers and the Service
//
// A [Manager] owns one agent's current state, its append-only transition
// history, and the handlers subscribed to its pre_transition and
// post_transition events. [Manager.TransitionTo] is the only mutation path.
//
// A [Service] owns one Manager per [AgentID], creating them lazily, and
// composes raw transitions into domain operations such as
// [Service.DeployAgent] and [Service.AssignTask]. Expected rejections are
// reported as a false result plus a log line rather than as errors.
//
// # Thread Safety
//
// All transition attempts for one agent are serialized. Handlers and
// injected [Work] may read the manager (State, History, Info) while a
// transition is in progress, but must not call mutating methods on the
// same agent.
//
// # OpenTelemetry Integration
//
// Transitions and domain operations create internal spans carrying
// agent.id, lifecycle.from_state, and lifecycle.to_state. The tracer scope
// is "github.com/Walrus94/DevCycle-sub001/pkg/lifecycle".
package lifecycle

// State is the lifecycle state of an agent. The zero value is not a valid
// state.
type State string

const (
	// StateRegistered is the state of every newly created agent.
	StateRegistered State = "registered"

	// StateDeploying is held while deployment work runs.
	StateDeploying State = "deploying"

	// StateDeployed indicates deployment finished and the agent can start.
	StateDeployed State = "deployed"

	// StateStarting is held while startup work runs.
	StateStarting State = "starting"

	// StateOnline indicates the agent is up and accepting work.
	StateOnline State = "online"

	// StateBusy indicates the agent is executing an assigned task.
	StateBusy State = "busy"

	// StateIdle indicates the agent finished its task and is waiting for
	// more work.
	StateIdle State = "idle"

	// StateStopping is held while shutdown work runs.
	StateStopping State = "stopping"

	StateUpdating State = "updating"
	StateScaling  State = "scaling"

	// StateError indicates a recoverable fault. The agent may return to
	// online once the fault clears.
	StateError State = "error"

	// StateFailed indicates deployment or startup failed. Recovery requires
	// redeploying or restarting.
	StateFailed State = "failed"

	// StateTimeout indicates startup did not complete in time.
	StateTimeout State = "timeout"

	StateMaintenance State = "maintenance"
	StateSuspended   State = "suspended"
	StateOffline     State = "offline"
	StateTerminated  State = "terminated"

	// StateDeleted is terminal. No transition leaves it.
	StateDeleted State = "deleted"
)

var allStates = []State{
	StateRegistered, StateDeploying, StateDeployed, StateStarting,
	StateOnline, StateBusy, StateIdle, StateStopping, StateUpdating,
	StateScaling, StateError, StateFailed, StateTimeout, StateMaintenance,
	StateSuspended, StateOffline, StateTerminated, StateDeleted,
}

// AllStates returns every lifecycle state in declaration order.
func AllStates() []State {
	out := make([]State, len(allStates))
	copy(out, allStates)
	return out
}

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// Valid reports whether s is one of the eighteen lifecycle states.
func (s State) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

// IsOperational reports whether an agent in state s is running:
// online, busy, or idle.
func (s State) IsOperational() bool {
	switch s {
	case StateOnline, StateBusy, StateIdle:
		return true
	default:
		return false
	}
}

// IsAvailableForTasks reports whether an agent in state s can accept a new
// task: online or idle.
func (s State) IsAvailableForTasks() bool {
	return s == StateOnline || s == StateIdle
}

// IsInError reports whether s is error, failed, or timeout.
func (s State) IsInError() bool {
	switch s {
	case StateError, StateFailed, StateTimeout:
		return true
	default:
		return false
	}
}

// IsInMaintenance reports whether s is maintenance, suspended, or updating.
func (s State) IsInMaintenance() bool {
	switch s {
	case StateMaintenance, StateSuspended, StateUpdating:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no transition leaves s.
func (s State) IsTerminal() bool {
	return s == StateDeleted
}

// Status is the coarse availability vocabulary stored alongside an agent's
// record by the repositories.
type Status string

const (
	StatusOnline      Status = "online"
	StatusOffline     Status = "offline"
	StatusBusy        Status = "busy"
	StatusError       Status = "error"
	StatusMaintenance Status = "maintenance"
)

// Status maps s onto the coarse status vocabulary. States with no running
// process (registered through starting, stopping, offline, terminated,
// deleted) map to offline.
func (s State) Status() Status {
	switch {
	case s == StateOnline || s == StateIdle:
		return StatusOnline
	case s == StateBusy || s == StateScaling:
		return StatusBusy
	case s.IsInError():
		return StatusError
	case s.IsInMaintenance():
		return StatusMaintenance
	default:
		return StatusOffline
	}
}

// validTransitions is the static transition table. Targets are listed in a
// fixed order, which AllowedTransitions preserves.
var validTransitions = map[State][]State{
	StateRegistered: {StateDeploying, StateDeleted},
	StateDeploying:  {StateDeployed, StateFailed, StateError},
	StateDeployed:   {StateStarting, StateUpdating, StateDeleted},
	StateStarting:   {StateOnline, StateFailed, StateError, StateTimeout},
	StateOnline: {
		StateBusy, StateIdle, StateStopping, StateUpdating,
		StateMaintenance, StateSuspended, StateOffline, StateError,
	},
	StateBusy: {
		StateIdle, StateOnline, StateStopping, StateMaintenance,
		StateSuspended, StateOffline, StateError,
	},
	StateIdle: {
		StateBusy, StateOnline, StateStopping, StateUpdating,
		StateMaintenance, StateSuspended, StateOffline, StateError,
	},
	StateStopping:    {StateOffline, StateTerminated, StateError},
	StateUpdating:    {StateOnline, StateFailed, StateError},
	StateScaling:     {StateOnline, StateBusy, StateIdle, StateError},
	StateError:       {StateOnline, StateOffline, StateMaintenance, StateFailed},
	StateFailed:      {StateStarting, StateDeploying, StateDeleted},
	StateTimeout:     {StateOffline, StateError, StateStarting},
	StateMaintenance: {StateOnline, StateOffline, StateSuspended},
	StateSuspended:   {StateOnline, StateMaintenance, StateOffline},
	StateOffline:     {StateStarting, StateMaintenance, StateTerminated, StateDeleted},
	StateTerminated:  {StateDeleted},
	StateDeleted:     {},
}

// ValidTransition reports whether the table allows moving from from to to.
// Unknown states have no allowed targets.
func ValidTransition(from, to State) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// AllowedTransitions returns a copy of the allowed targets of from, in
// table order. It returns an empty, non-nil slice for terminal or unknown
// states.
func AllowedTransitions(from State) []State {
	targets := validTransitions[from]
	out := make([]State, len(targets))
	copy(out, targets)
	return out
}

// reachableStates holds every state reachable from registered through the
// transition table.
var reachableStates = func() map[State]bool {
	seen := map[State]bool{StateRegistered: true}
	queue := []State{StateRegistered}
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		for _, next := range validTransitions[s] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return seen
}()

// reachable reports whether s can be reached from registered.
func reachable(s State) bool {
	return reachableStates[s]
}
