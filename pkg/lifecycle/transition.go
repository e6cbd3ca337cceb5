package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Walrus94/DevCycle-sub001/pkg/auth"
)

// AgentID identifies an agent. IDs are opaque and never reused.
type AgentID string

// NewAgentID returns a fresh random agent id.
func NewAgentID() AgentID {
	return AgentID(uuid.NewString())
}

// String returns the string representation of the id.
func (id AgentID) String() string {
	return string(id)
}

// TriggeredBySystem is recorded when a transition has no explicit trigger
// and the context carries no identity.
const TriggeredBySystem = "system"

// StateTransition records one accepted state change. Values handed out by
// a Manager own their Metadata, including nested maps and slices.
type StateTransition struct {
	From        State          `json:"from_state"`
	To          State          `json:"to_state"`
	Timestamp   time.Time      `json:"timestamp"`
	Reason      string         `json:"reason"`
	TriggeredBy string         `json:"triggered_by"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func (t StateTransition) clone() StateTransition {
	t.Metadata = cloneMetadata(t.Metadata)
	return t
}

// cloneMetadata deep-copies the JSON-shaped containers in m. Other values
// are copied as-is and are expected to be immutable.
func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return cloneMetadata(v)
	case []any:
		if v == nil {
			return v
		}
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	case []map[string]any:
		if v == nil {
			return v
		}
		out := make([]map[string]any, len(v))
		for i, e := range v {
			out[i] = cloneMetadata(e)
		}
		return out
	case map[string]string:
		if v == nil {
			return v
		}
		out := make(map[string]string, len(v))
		for k, e := range v {
			out[k] = e
		}
		return out
	case []string:
		if v == nil {
			return v
		}
		return append([]string(nil), v...)
	default:
		return v
	}
}

// StateInfo is a point-in-time snapshot of a manager.
type StateInfo struct {
	AgentID          AgentID          `json:"agent_id"`
	State            State            `json:"current_state"`
	Status           Status           `json:"status"`
	ValidTransitions []State          `json:"valid_transitions"`
	HistoryLength    int              `json:"history_length"`
	LastTransition   *StateTransition `json:"last_transition,omitempty"`
}

// resolveTriggeredBy fills in an empty trigger from the caller identity
// carried by ctx, formatted as "<type>:<id>".
func resolveTriggeredBy(ctx context.Context, triggeredBy string) string {
	if triggeredBy != "" {
		return triggeredBy
	}
	if id, ok := auth.IdentityFromContext(ctx); ok && id.ID() != "" {
		return auth.Format(id)
	}
	return TriggeredBySystem
}
