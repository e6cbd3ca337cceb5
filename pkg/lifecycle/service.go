package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/Walrus94/DevCycle-sub001/pkg/errors"
)

// Transition reasons recorded by the Service operations.
const (
	ReasonRegistered      = "Agent registered"
	ReasonDeployStarted   = "Starting deployment"
	ReasonDeployCompleted = "Deployment completed"
	ReasonStarting        = "Starting agent"
	ReasonStarted         = "Agent started successfully"
	ReasonStopping        = "Stopping agent"
	ReasonStopped         = "Agent stopped"
	ReasonTaskAssigned    = "Task assigned"
	ReasonTaskCompleted   = "Task completed"
	ReasonMaintenance     = "Maintenance"
	ReasonResumed         = "Resumed from maintenance"
	ReasonErrorPrefix     = "Error: "
)

// Metadata keys written by the Service operations.
const (
	MetadataKeyErrorMessage = "error_message"
	MetadataKeyOperation    = "operation"
)

// Repository persists accepted transitions. It is installed as a
// post_transition handler by [WithRepository].
type Repository interface {
	SaveTransition(ctx context.Context, id AgentID, t StateTransition) error
}

// Publisher fans lifecycle events out to external subscribers. It is
// installed on both events by [WithPublisher].
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type subscription struct {
	name    EventName
	handler Handler
}

// Service owns one [Manager] per agent and implements the domain
// operations built from raw transitions. Managers are created on first
// access and never removed; deletion is the [StateDeleted] state.
//
// Domain operations return false for expected rejections (invalid
// transitions, unmet preconditions, failed work). The reason is logged.
type Service struct {
	logger *slog.Logger
	tracer trace.Tracer

	mu            sync.RWMutex
	managers      map[AgentID]*Manager
	subscriptions []subscription
	managerOpts   []ManagerOption
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used by the service and its managers.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTracerProvider sets the tracer provider used by the service and its
// managers. The default is the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		if tp != nil {
			s.tracer = tp.Tracer(tracerName)
			s.managerOpts = append(s.managerOpts, WithManagerTracerProvider(tp))
		}
	}
}

// WithRepository persists every accepted transition through r.
func WithRepository(r Repository) Option {
	return func(s *Service) {
		s.subscriptions = append(s.subscriptions, subscription{
			name: EventPostTransition,
			handler: func(ctx context.Context, e Event) error {
				return r.SaveTransition(ctx, e.AgentID, e.Transition)
			},
		})
	}
}

// WithPublisher publishes every pre_transition and post_transition event
// through p.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		h := func(ctx context.Context, e Event) error {
			return p.Publish(ctx, e)
		}
		s.subscriptions = append(s.subscriptions,
			subscription{name: EventPreTransition, handler: h},
			subscription{name: EventPostTransition, handler: h},
		)
	}
}

// WithManagerOptions applies opts to every manager the service creates.
func WithManagerOptions(opts ...ManagerOption) Option {
	return func(s *Service) {
		s.managerOpts = append(s.managerOpts, opts...)
	}
}

// NewService creates an empty service.
func NewService(opts ...Option) *Service {
	s := &Service{
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
		managers: make(map[AgentID]*Manager),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnEvent subscribes h to the named event on every existing and future
// manager.
func (s *Service) OnEvent(name EventName, h Handler) {
	if h == nil {
		return
	}
	s.mu.Lock()
	s.subscriptions = append(s.subscriptions, subscription{name: name, handler: h})
	existing := make([]*Manager, 0, len(s.managers))
	for _, m := range s.managers {
		existing = append(existing, m)
	}
	s.mu.Unlock()

	for _, m := range existing {
		m.OnEvent(name, h)
	}
}

// Manager returns the manager for id, creating it in [StateRegistered] on
// first access. Concurrent first calls for the same id observe the same
// manager.
func (s *Service) Manager(id AgentID) *Manager {
	s.mu.RLock()
	m, ok := s.managers[id]
	s.mu.RUnlock()
	if ok {
		return m
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.managers[id]; ok {
		return m
	}

	// The registry always starts agents in registered; WithInitialState
	// among managerOpts is overridden.
	opts := append([]ManagerOption{WithManagerLogger(s.logger)}, s.managerOpts...)
	opts = append(opts, WithInitialState(StateRegistered))
	m = NewManager(id, opts...)
	for _, sub := range s.subscriptions {
		m.OnEvent(sub.name, sub.handler)
	}
	s.managers[id] = m

	s.logger.Debug("lifecycle: manager created", "agent_id", string(id))
	return m
}

// History returns the transition history of id, or nil when the agent has
// never been seen.
func (s *Service) History(id AgentID, limit int) []StateTransition {
	s.mu.RLock()
	m, ok := s.managers[id]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	return m.History(limit)
}

// ===========================================================================
// Domain operations
// ===========================================================================

// RegisterAgent ensures id is registered. It succeeds without a transition
// when the agent is already in [StateRegistered].
func (s *Service) RegisterAgent(ctx context.Context, id AgentID) bool {
	return s.run(ctx, "lifecycle.RegisterAgent", id, func(ctx context.Context, m *Manager) bool {
		if m.State() == StateRegistered {
			return true
		}
		return m.transition(ctx, StateRegistered, ReasonRegistered, "", nil)
	})
}

// DeployAgent moves the agent to deploying, runs work, then moves it to
// deployed. If work fails the agent moves to failed and DeployAgent
// returns false.
func (s *Service) DeployAgent(ctx context.Context, id AgentID, work Work) bool {
	return s.run(ctx, "lifecycle.DeployAgent", id, func(ctx context.Context, m *Manager) bool {
		if !m.transition(ctx, StateDeploying, ReasonDeployStarted, "", nil) {
			return false
		}
		if !s.runWork(ctx, m, "deploy", work, StateFailed) {
			return false
		}
		return m.transition(ctx, StateDeployed, ReasonDeployCompleted, "", nil)
	})
}

// StartAgent moves the agent to starting, runs work, then moves it to
// online. If work fails the agent moves to failed and StartAgent returns
// false.
func (s *Service) StartAgent(ctx context.Context, id AgentID, work Work) bool {
	return s.run(ctx, "lifecycle.StartAgent", id, func(ctx context.Context, m *Manager) bool {
		if !m.transition(ctx, StateStarting, ReasonStarting, "", nil) {
			return false
		}
		if !s.runWork(ctx, m, "start", work, StateFailed) {
			return false
		}
		return m.transition(ctx, StateOnline, ReasonStarted, "", nil)
	})
}

// StopAgent moves the agent to stopping, runs work, then moves it to
// offline. If work fails the agent moves to error and StopAgent returns
// false.
func (s *Service) StopAgent(ctx context.Context, id AgentID, work Work) bool {
	return s.run(ctx, "lifecycle.StopAgent", id, func(ctx context.Context, m *Manager) bool {
		if !m.transition(ctx, StateStopping, ReasonStopping, "", nil) {
			return false
		}
		if !s.runWork(ctx, m, "stop", work, StateError) {
			return false
		}
		return m.transition(ctx, StateOffline, ReasonStopped, "", nil)
	})
}

// AssignTask moves an online or idle agent to busy.
func (s *Service) AssignTask(ctx context.Context, id AgentID) bool {
	return s.run(ctx, "lifecycle.AssignTask", id, func(ctx context.Context, m *Manager) bool {
		if !m.State().IsAvailableForTasks() {
			s.preconditionFailed(ctx, m, "assign task", "agent is not available for tasks")
			return false
		}
		return m.transition(ctx, StateBusy, ReasonTaskAssigned, "", nil)
	})
}

// CompleteTask moves a busy agent to idle.
func (s *Service) CompleteTask(ctx context.Context, id AgentID) bool {
	return s.run(ctx, "lifecycle.CompleteTask", id, func(ctx context.Context, m *Manager) bool {
		if m.State() != StateBusy {
			s.preconditionFailed(ctx, m, "complete task", "agent is not busy")
			return false
		}
		return m.transition(ctx, StateIdle, ReasonTaskCompleted, "", nil)
	})
}

// PutInMaintenance moves the agent to maintenance. An empty reason is
// recorded as "Maintenance".
func (s *Service) PutInMaintenance(ctx context.Context, id AgentID, reason string) bool {
	if reason == "" {
		reason = ReasonMaintenance
	}
	return s.run(ctx, "lifecycle.PutInMaintenance", id, func(ctx context.Context, m *Manager) bool {
		return m.transition(ctx, StateMaintenance, reason, "", nil)
	})
}

// ResumeFromMaintenance moves an agent in maintenance back to online.
// Suspended and updating agents are not resumed.
func (s *Service) ResumeFromMaintenance(ctx context.Context, id AgentID) bool {
	return s.run(ctx, "lifecycle.ResumeFromMaintenance", id, func(ctx context.Context, m *Manager) bool {
		if m.State() != StateMaintenance {
			s.preconditionFailed(ctx, m, "resume from maintenance", "agent is not in maintenance")
			return false
		}
		return m.transition(ctx, StateOnline, ReasonResumed, "", nil)
	})
}

// HandleError moves the agent to error, recording message in the
// transition metadata under "error_message".
func (s *Service) HandleError(ctx context.Context, id AgentID, message string) bool {
	return s.run(ctx, "lifecycle.HandleError", id, func(ctx context.Context, m *Manager) bool {
		return m.transition(ctx, StateError, ReasonErrorPrefix+message, "",
			map[string]any{MetadataKeyErrorMessage: message})
	})
}

// run wraps a domain operation in a span and holds the agent's transition
// slot for its whole duration.
func (s *Service) run(ctx context.Context, op string, id AgentID, fn func(context.Context, *Manager) bool) bool {
	ctx, span := s.tracer.Start(ctx, op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("agent.id", string(id))),
	)
	defer span.End()

	m := s.Manager(id)
	ctx, ok := m.acquire(ctx)
	if !ok {
		span.SetStatus(codes.Error, "transition slot not acquired")
		return false
	}
	defer m.release()

	from := m.State()
	ok = fn(ctx, m)
	span.SetAttributes(
		attribute.String("lifecycle.from_state", string(from)),
		attribute.String("lifecycle.to_state", string(m.State())),
		attribute.Bool("lifecycle.success", ok),
	)
	if ok {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, op+" rejected")
	}
	return ok
}

// runWork executes work. On failure it moves the agent to onFailure and
// returns false.
func (s *Service) runWork(ctx context.Context, m *Manager, op string, work Work, onFailure State) bool {
	if work == nil {
		return true
	}
	err := invokeWork(ctx, work)
	if err == nil {
		return true
	}

	werr := sserr.Wrapf(err, sserr.CodeWorkFailure, "lifecycle: %s work failed", op)
	s.logger.ErrorContext(ctx, "lifecycle: work failed",
		"agent_id", string(m.ID()),
		"operation", op,
		"code", string(werr.Code),
		"error", werr,
	)
	trace.SpanFromContext(ctx).RecordError(werr)

	m.transition(ctx, onFailure, ReasonErrorPrefix+err.Error(), "", map[string]any{
		MetadataKeyErrorMessage: err.Error(),
		MetadataKeyOperation:    op,
	})
	return false
}

func invokeWork(ctx context.Context, work Work) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return work(ctx)
}

func (s *Service) preconditionFailed(ctx context.Context, m *Manager, op, msg string) {
	err := sserr.New(sserr.CodePreconditionFailed, "lifecycle: "+msg).
		WithDetail("state", string(m.State()))
	s.logger.WarnContext(ctx, "lifecycle: precondition failed",
		"agent_id", string(m.ID()),
		"operation", op,
		"from_state", string(m.State()),
		"code", string(err.Code),
		"error", err,
	)
}

// ===========================================================================
// Queries
// ===========================================================================

// AgentStatus returns a snapshot of id. It reports false when the agent
// has never been seen; it does not create a manager.
func (s *Service) AgentStatus(id AgentID) (StateInfo, bool) {
	s.mu.RLock()
	m, ok := s.managers[id]
	s.mu.RUnlock()
	if !ok {
		return StateInfo{}, false
	}
	return m.Info(), true
}

// AllAgentStatuses returns a snapshot of every known agent, sorted by id.
func (s *Service) AllAgentStatuses() []StateInfo {
	managers := s.snapshot()
	out := make([]StateInfo, len(managers))
	for i, m := range managers {
		out[i] = m.Info()
	}
	return out
}

// OperationalAgents returns the ids of online, busy, and idle agents.
func (s *Service) OperationalAgents() []AgentID {
	return s.filter(State.IsOperational)
}

// AvailableAgents returns the ids of agents that can accept a task.
func (s *Service) AvailableAgents() []AgentID {
	return s.filter(State.IsAvailableForTasks)
}

// AgentsInError returns the ids of agents in error, failed, or timeout.
func (s *Service) AgentsInError() []AgentID {
	return s.filter(State.IsInError)
}

// AgentsInMaintenance returns the ids of agents in maintenance, suspended,
// or updating.
func (s *Service) AgentsInMaintenance() []AgentID {
	return s.filter(State.IsInMaintenance)
}

func (s *Service) filter(pred func(State) bool) []AgentID {
	var out []AgentID
	for _, m := range s.snapshot() {
		if pred(m.State()) {
			out = append(out, m.ID())
		}
	}
	return out
}

// snapshot returns the managers sorted by id.
func (s *Service) snapshot() []*Manager {
	s.mu.RLock()
	out := make([]*Manager, 0, len(s.managers))
	for _, m := range s.managers {
		out = append(out, m)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Manager) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		default:
			return 0
		}
	})
	return out
}
