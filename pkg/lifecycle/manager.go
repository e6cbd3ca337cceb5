package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	sserr "github.com/Walrus94/DevCycle-sub001/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope for lifecycle
// spans.
const tracerName = "github.com/Walrus94/DevCycle-sub001/pkg/lifecycle"

// initialReason is recorded on the synthetic first history entry.
const initialReason = "Initial state"

// Manager owns the state, history, and event handlers of a single agent.
// Create one with [NewManager] or obtain one from [Service.Manager].
//
// A Manager uses two locks. slot serializes transition attempts and the
// composite operations built on them, and is held while handlers and
// injected work run. mu guards the fields below and is never held across
// a callback, so reads stay available during a transition.
type Manager struct {
	id     AgentID
	slot   *semaphore.Weighted
	holder atomic.Pointer[slotToken]
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time

	mu       sync.RWMutex
	state    State
	history  []StateTransition
	handlers map[EventName][]Handler
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithInitialState sets the state a new manager starts in. The first
// history entry records registered → s. Invalid states and states no
// transition leads into, such as scaling, are ignored.
func WithInitialState(s State) ManagerOption {
	return func(m *Manager) {
		if s.Valid() && reachable(s) {
			m.state = s
		}
	}
}

// WithManagerLogger sets the logger. The default is slog.Default().
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithManagerTracerProvider sets the tracer provider. The default is the
// global provider.
func WithManagerTracerProvider(tp trace.TracerProvider) ManagerOption {
	return func(m *Manager) {
		if tp != nil {
			m.tracer = tp.Tracer(tracerName)
		}
	}
}

// withClock overrides time.Now in tests.
func withClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a manager for id in [StateRegistered], or in the
// state given by [WithInitialState]. Its history holds one synthetic entry.
func NewManager(id AgentID, opts ...ManagerOption) *Manager {
	m := &Manager{
		id:       id,
		slot:     semaphore.NewWeighted(1),
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
		state:    StateRegistered,
		handlers: make(map[EventName][]Handler),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.history = []StateTransition{{
		From:        StateRegistered,
		To:          m.state,
		Timestamp:   m.now().UTC(),
		Reason:      initialReason,
		TriggeredBy: TriggeredBySystem,
	}}
	return m
}

// ID returns the agent id.
func (m *Manager) ID() AgentID {
	return m.id
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// CanTransitionTo reports whether target is allowed from the current state.
func (m *Manager) CanTransitionTo(target State) bool {
	return ValidTransition(m.State(), target)
}

// ValidTransitions returns the states reachable from the current state.
func (m *Manager) ValidTransitions() []State {
	return AllowedTransitions(m.State())
}

// IsOperational reports whether the agent is online, busy, or idle.
func (m *Manager) IsOperational() bool { return m.State().IsOperational() }

// IsAvailableForTasks reports whether the agent is online or idle.
func (m *Manager) IsAvailableForTasks() bool { return m.State().IsAvailableForTasks() }

// IsInErrorState reports whether the agent is in error, failed, or timeout.
func (m *Manager) IsInErrorState() bool { return m.State().IsInError() }

// IsInMaintenance reports whether the agent is in maintenance, suspended,
// or updating.
func (m *Manager) IsInMaintenance() bool { return m.State().IsInMaintenance() }

// OnEvent subscribes h to the named event. Handlers run in registration
// order. Nil handlers are ignored.
func (m *Manager) OnEvent(name EventName, h Handler) {
	if h == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[name] = append(m.handlers[name], h)
}

// History returns the transition history, oldest first. When limit is
// positive only the last limit entries are returned.
func (m *Manager) History(limit int) []StateTransition {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.history
	if limit > 0 && limit < len(entries) {
		entries = entries[len(entries)-limit:]
	}
	out := make([]StateTransition, len(entries))
	for i, t := range entries {
		out[i] = t.clone()
	}
	return out
}

// Info returns a snapshot of the manager.
func (m *Manager) Info() StateInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	last := m.history[len(m.history)-1].clone()
	return StateInfo{
		AgentID:          m.id,
		State:            m.state,
		Status:           m.state.Status(),
		ValidTransitions: AllowedTransitions(m.state),
		HistoryLength:    len(m.history),
		LastTransition:   &last,
	}
}

// TransitionTo moves the agent to target. It waits for any in-flight
// transition on the same agent, then validates and applies the change:
// pre_transition handlers run, the history entry is appended and the state
// set, then post_transition handlers run.
//
// TransitionTo returns false without side effects when target is not
// allowed from the current state, or when ctx ends before the agent's
// transition slot is acquired. An empty triggeredBy is resolved from the
// identity in ctx, falling back to "system".
func (m *Manager) TransitionTo(ctx context.Context, target State, reason, triggeredBy string, metadata map[string]any) bool {
	ctx, ok := m.acquire(ctx)
	if !ok {
		return false
	}
	defer m.release()
	return m.transition(ctx, target, reason, triggeredBy, metadata)
}

// slotToken marks a held transition slot. Tokens chain through the context
// so nested calls on other agents keep the outer marks.
type slotToken struct {
	m      *Manager
	parent *slotToken
}

type slotTokenKey struct{}

// heldBy returns the token ctx carries for m, or nil.
func (m *Manager) heldBy(ctx context.Context) *slotToken {
	tok, _ := ctx.Value(slotTokenKey{}).(*slotToken)
	for ; tok != nil; tok = tok.parent {
		if tok.m == m {
			return tok
		}
	}
	return nil
}

// acquire takes the transition slot and returns a context marked as its
// holder. Callers must release the slot. A ctx whose caller already holds
// the slot, such as a handler's ctx, is rejected instead of deadlocking.
func (m *Manager) acquire(ctx context.Context) (context.Context, bool) {
	if tok := m.heldBy(ctx); tok != nil && m.holder.Load() == tok {
		err := sserr.New(sserr.CodeConflict,
			"lifecycle: transition started while this agent's transition is in progress")
		m.logger.WarnContext(ctx, "lifecycle: reentrant transition rejected",
			"agent_id", string(m.id),
			"from_state", string(m.State()),
			"code", string(err.Code),
			"error", err,
		)
		return ctx, false
	}
	if err := m.slot.Acquire(ctx, 1); err != nil {
		m.logger.WarnContext(ctx, "lifecycle: transition slot not acquired",
			"agent_id", string(m.id),
			"error", err,
		)
		return ctx, false
	}
	parent, _ := ctx.Value(slotTokenKey{}).(*slotToken)
	tok := &slotToken{m: m, parent: parent}
	m.holder.Store(tok)
	return context.WithValue(ctx, slotTokenKey{}, tok), true
}

func (m *Manager) release() {
	m.holder.Store(nil)
	m.slot.Release(1)
}

// transition applies one validated state change. The slot must be held.
func (m *Manager) transition(ctx context.Context, target State, reason, triggeredBy string, metadata map[string]any) bool {
	from := m.State()

	ctx, span := m.tracer.Start(ctx, "lifecycle.TransitionTo",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("agent.id", string(m.id)),
			attribute.String("lifecycle.from_state", string(from)),
			attribute.String("lifecycle.to_state", string(target)),
		),
	)
	defer span.End()

	if !ValidTransition(from, target) {
		err := sserr.Newf(sserr.CodeInvalidTransition,
			"lifecycle: invalid transition from %q to %q", from, target)
		m.logger.WarnContext(ctx, "lifecycle: transition rejected",
			"agent_id", string(m.id),
			"from_state", string(from),
			"to_state", string(target),
			"code", string(err.Code),
			"error", err,
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false
	}

	t := StateTransition{
		From:        from,
		To:          target,
		Timestamp:   m.now().UTC(),
		Reason:      reason,
		TriggeredBy: resolveTriggeredBy(ctx, triggeredBy),
		Metadata:    cloneMetadata(metadata),
	}
	eventID := uuid.NewString()
	source := sourceFromContext(ctx)

	m.dispatch(ctx, EventPreTransition, eventID, source, t)

	m.mu.Lock()
	m.history = append(m.history, t)
	m.state = target
	m.mu.Unlock()

	m.dispatch(ctx, EventPostTransition, eventID, source, t)

	m.logger.InfoContext(ctx, "lifecycle: state changed",
		"agent_id", string(m.id),
		"from_state", string(from),
		"to_state", string(target),
		"reason", reason,
		"triggered_by", t.TriggeredBy,
	)
	span.SetStatus(codes.Ok, "")
	return true
}

// dispatch invokes the handlers registered for name, in order. The handler
// list is snapshotted so handlers may subscribe further handlers without
// affecting the current dispatch.
func (m *Manager) dispatch(ctx context.Context, name EventName, id string, source Source, t StateTransition) {
	m.mu.RLock()
	handlers := append([]Handler(nil), m.handlers[name]...)
	m.mu.RUnlock()

	for i, h := range handlers {
		ev := Event{
			ID:         id,
			Name:       name,
			AgentID:    m.id,
			Timestamp:  t.Timestamp,
			Source:     source,
			Transition: t.clone(),
		}
		if err := invokeHandler(ctx, h, ev); err != nil {
			herr := sserr.Wrapf(err, sserr.CodeHandlerFailure,
				"lifecycle: %s handler %d failed", name, i)
			m.logger.ErrorContext(ctx, "lifecycle: event handler failed",
				"agent_id", string(m.id),
				"event", string(name),
				"handler", i,
				"from_state", string(t.From),
				"to_state", string(t.To),
				"code", string(herr.Code),
				"error", herr,
			)
			trace.SpanFromContext(ctx).RecordError(herr)
		}
	}
}

// invokeHandler runs h and converts a panic into an error.
func invokeHandler(ctx context.Context, h Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx, ev)
}
