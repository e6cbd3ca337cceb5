package lifecycle

import (
	"context"
	"time"

	"github.com/Walrus94/DevCycle-sub001/pkg/auth"
)

// EventName identifies a lifecycle extension point.
type EventName string

const (
	// EventPreTransition fires after a transition is validated and before
	// it is recorded.
	EventPreTransition EventName = "pre_transition"

	// EventPostTransition fires after the new state and history entry are
	// visible.
	EventPostTransition EventName = "post_transition"
)

// Source classifies who caused an event.
type Source string

const (
	SourceSystem   Source = "system"
	SourceUser     Source = "user"
	SourceAgent    Source = "agent"
	SourceExternal Source = "external"
)

func sourceFromContext(ctx context.Context) Source {
	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return SourceSystem
	}
	switch id.Type() {
	case auth.IdentityTypeUser:
		return SourceUser
	case auth.IdentityTypeAgent:
		return SourceAgent
	case auth.IdentityTypeService:
		return SourceExternal
	default:
		return SourceSystem
	}
}

// Event is delivered to handlers for every accepted transition. All
// handlers of one dispatch see the same ID. Each handler receives its own
// copy of Transition.Metadata.
type Event struct {
	ID         string
	Name       EventName
	AgentID    AgentID
	Timestamp  time.Time
	Source     Source
	Transition StateTransition
}

// Data returns the event payload in its wire shape. Metadata is never nil.
func (e Event) Data() map[string]any {
	metadata := cloneMetadata(e.Transition.Metadata)
	if metadata == nil {
		metadata = map[string]any{}
	}
	return map[string]any{
		"from_state":   string(e.Transition.From),
		"to_state":     string(e.Transition.To),
		"reason":       e.Transition.Reason,
		"triggered_by": e.Transition.TriggeredBy,
		"metadata":     metadata,
	}
}

// Handler receives lifecycle events. A handler may block on ctx; the
// manager waits for it before invoking the next one. Returned errors and
// panics are logged and never abort the transition.
//
// Handlers run while the agent's transition slot is held. They may read
// the manager. A transition on the same agent started with the handler's
// ctx is rejected instead of waiting for the slot.
type Handler func(ctx context.Context, e Event) error

// SyncHandler adapts a callback that cannot fail.
func SyncHandler(fn func(Event)) Handler {
	return func(_ context.Context, e Event) error {
		fn(e)
		return nil
	}
}

// Work is the unit of deployment, startup, or shutdown work run by the
// corresponding Service operation. A nil Work completes immediately.
type Work func(ctx context.Context) error
