// Package redis fans lifecycle events out over Redis.
//
// [Publisher] implements [lifecycle.Publisher]. Every event is encoded as a
// JSON [Envelope] and sent with PUBLISH to <prefix>:<event_type>. On
// post_transition it also writes the agent's current state to the hash
// <prefix>:agent:<id> and refreshes that key's TTL, so dashboards can read
// the latest state without subscribing.
//
//	pub, err := redis.New(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	defer pub.Close()
//	svc := lifecycle.NewService(lifecycle.WithPublisher(pub))
package redis

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/Walrus94/DevCycle-sub001/pkg/errors"
	"github.com/Walrus94/DevCycle-sub001/pkg/lifecycle"
)

const tracerName = "github.com/Walrus94/DevCycle-sub001/pkg/events/redis"

// Cmdable is the subset of the go-redis client used by [Publisher].
type Cmdable interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

var _ Cmdable = (*redis.Client)(nil)

var _ lifecycle.Publisher = (*Publisher)(nil)

// Envelope is the JSON message published for each event.
type Envelope struct {
	ID        string           `json:"id"`
	EventType string           `json:"event_type"`
	AgentID   string           `json:"agent_id"`
	Timestamp time.Time        `json:"timestamp"`
	Source    lifecycle.Source `json:"source"`
	Data      map[string]any   `json:"data"`
}

// NewEnvelope converts e to its wire form.
func NewEnvelope(e lifecycle.Event) Envelope {
	return Envelope{
		ID:        e.ID,
		EventType: string(e.Name),
		AgentID:   e.AgentID.String(),
		Timestamp: e.Timestamp.UTC(),
		Source:    e.Source,
		Data:      e.Data(),
	}
}

// Publisher sends lifecycle events to Redis. It is safe for concurrent use.
type Publisher struct {
	cmdable Cmdable
	prefix  string
	ttl     time.Duration
	dbIndex int
	tracer  trace.Tracer
	logger  *slog.Logger
}

// New validates cfg, connects, and pings the server. A nil logger uses
// [slog.Default].
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration,
			"redis: invalid configuration")
	}

	var opts *redis.Options
	if cfg.URI != "" {
		var err error
		opts, err = redis.ParseURL(cfg.URI)
		if err != nil {
			return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration,
				"redis: failed to parse connection URI")
		}
	} else {
		opts = &redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password: cfg.Password.Value(),
			DB:       cfg.DB,
		}
		if cfg.TLSEnabled {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
	}
	opts.DialTimeout = cfg.DialTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency,
			"redis: failed to connect to server")
	}

	cfg.DB = opts.DB
	return NewFromClient(rdb, &cfg, logger), nil
}

// NewFromClient wraps an existing client, typically a mock in tests. A nil
// cfg uses [DefaultConfig].
func NewFromClient(cmdable Cmdable, cfg *Config, logger *slog.Logger) *Publisher {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	prefix, ttl := cfg.KeyPrefix, cfg.StateTTL
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &Publisher{
		cmdable: cmdable,
		prefix:  prefix,
		ttl:     ttl,
		dbIndex: cfg.DB,
		tracer:  otel.Tracer(tracerName),
		logger:  logger,
	}
}

// Channel returns the pub/sub channel for events named name.
func (p *Publisher) Channel(name lifecycle.EventName) string {
	return p.prefix + ":" + string(name)
}

// StateKey returns the hash key holding the cached state of id.
func (p *Publisher) StateKey(id lifecycle.AgentID) string {
	return p.prefix + ":agent:" + id.String()
}

// Publish sends e to its channel and, for post_transition events, caches
// the agent's new state.
func (p *Publisher) Publish(ctx context.Context, e lifecycle.Event) error {
	payload, err := json.Marshal(NewEnvelope(e))
	if err != nil {
		return sserr.Wrap(err, sserr.CodeValidation, "redis: event is not JSON-serializable")
	}

	channel := p.Channel(e.Name)
	ctx, span := p.startSpan(ctx, "Publish", "PUBLISH "+channel)
	span.SetAttributes(attribute.String("agent.id", e.AgentID.String()))
	err = p.cmdable.Publish(ctx, channel, payload).Err()
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "redis: publish failed")
	}

	if e.Name != lifecycle.EventPostTransition {
		return nil
	}
	return p.cacheState(ctx, e)
}

func (p *Publisher) cacheState(ctx context.Context, e lifecycle.Event) error {
	key := p.StateKey(e.AgentID)
	ctx, span := p.startSpan(ctx, "CacheState", "HSET "+key)
	err := p.writeState(ctx, key, e)
	finishSpan(span, err)
	if err != nil {
		return err
	}
	p.logger.DebugContext(ctx, "redis: agent state cached",
		"agent_id", e.AgentID.String(),
		"to_state", e.Transition.To.String(),
	)
	return nil
}

func (p *Publisher) writeState(ctx context.Context, key string, e lifecycle.Event) error {
	t := e.Transition
	if err := p.cmdable.HSet(ctx, key,
		"state", t.To.String(),
		"status", string(t.To.Status()),
		"reason", t.Reason,
		"triggered_by", t.TriggeredBy,
		"updated_at", t.Timestamp.UTC().Format(time.RFC3339Nano),
	).Err(); err != nil {
		return wrapError(err, "redis: cache agent state failed")
	}
	if err := p.cmdable.Expire(ctx, key, p.ttl).Err(); err != nil {
		return wrapError(err, "redis: set state TTL failed")
	}
	return nil
}

// Health pings Redis. It applies [DefaultHealthTimeout] when ctx has no
// deadline.
func (p *Publisher) Health(ctx context.Context) error {
	ctx, span := p.startSpan(ctx, "Health", "PING")

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}

	err := p.cmdable.Ping(ctx).Err()
	finishSpan(span, err)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeUnavailableDependency, "redis: health check failed")
	}
	return nil
}

// Close releases the connection.
func (p *Publisher) Close() error {
	return p.cmdable.Close()
}

func (p *Publisher) startSpan(ctx context.Context, operation, statement string) (context.Context, trace.Span) {
	ctx, span := p.tracer.Start(ctx, "redis."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.Int("db.redis.database_index", p.dbIndex),
		attribute.String("db.statement", statement),
	)
	return ctx, span
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// wrapError classifies deadline errors as retryable timeouts. A canceled
// context means the caller gave up, so it stays an internal error.
func wrapError(err error, message string) *sserr.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return sserr.Wrap(err, sserr.CodeTimeoutDatabase, message)
	}
	return sserr.Wrap(err, sserr.CodeInternalDatabase, message)
}
