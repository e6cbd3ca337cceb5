// Package postgres persists agent lifecycle transitions to PostgreSQL.
//
// [Store] implements [lifecycle.Repository]: every accepted transition is
// appended to agent_state_transitions and the agent's current state is
// upserted into agent_lifecycle, both inside one transaction. Reads rebuild
// an agent's history or current state after a restart.
//
// All driver errors are returned as [*sserr.Error] values. Context deadline
// and cancellation map to [sserr.CodeTimeoutDatabase]; everything else maps
// to [sserr.CodeInternalDatabase]. Each database call opens an OpenTelemetry
// client span carrying db.system, db.name, and the truncated statement.
//
// Usage:
//
//	store, err := postgres.New(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//	if err := store.EnsureSchema(ctx); err != nil {
//	    return err
//	}
//	svc := lifecycle.NewService(lifecycle.WithRepository(store))
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/Walrus94/DevCycle-sub001/pkg/errors"
	"github.com/Walrus94/DevCycle-sub001/pkg/lifecycle"
)

const tracerName = "github.com/Walrus94/DevCycle-sub001/pkg/store/postgres"

// maxStatementLength caps db.statement span attributes.
const maxStatementLength = 1024

const schemaSQL = `
CREATE TABLE IF NOT EXISTS agent_lifecycle (
    agent_id   TEXT PRIMARY KEY,
    state      TEXT NOT NULL,
    status     TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS agent_state_transitions (
    id           BIGSERIAL PRIMARY KEY,
    agent_id     TEXT NOT NULL,
    from_state   TEXT NOT NULL,
    to_state     TEXT NOT NULL,
    reason       TEXT NOT NULL,
    triggered_by TEXT NOT NULL,
    metadata     JSONB NOT NULL DEFAULT '{}'::jsonb,
    occurred_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_agent_state_transitions_agent
    ON agent_state_transitions (agent_id, id);
`

const insertTransitionSQL = `INSERT INTO agent_state_transitions
    (agent_id, from_state, to_state, reason, triggered_by, metadata, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

const upsertStateSQL = `INSERT INTO agent_lifecycle (agent_id, state, status, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (agent_id) DO UPDATE
SET state = EXCLUDED.state, status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`

const selectHistorySQL = `SELECT from_state, to_state, reason, triggered_by, metadata, occurred_at
FROM agent_state_transitions
WHERE agent_id = $1
ORDER BY id ASC`

const selectRecentHistorySQL = `SELECT from_state, to_state, reason, triggered_by, metadata, occurred_at
FROM (
    SELECT id, from_state, to_state, reason, triggered_by, metadata, occurred_at
    FROM agent_state_transitions
    WHERE agent_id = $1
    ORDER BY id DESC
    LIMIT $2
) recent
ORDER BY id ASC`

const selectStateSQL = `SELECT state FROM agent_lifecycle WHERE agent_id = $1`

// Pool is the subset of [pgxpool.Pool] used by [Store]. Both
// *pgxpool.Pool and pgxmock pools satisfy it.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Compile-time check that *pgxpool.Pool satisfies Pool.
var _ Pool = (*pgxpool.Pool)(nil)

// Compile-time check that Store satisfies lifecycle.Repository.
var _ lifecycle.Repository = (*Store)(nil)

// Store is a PostgreSQL-backed lifecycle repository. It is safe for
// concurrent use.
type Store struct {
	pool         Pool
	tracer       trace.Tracer
	logger       *slog.Logger
	databaseName string
}

// New validates cfg, opens a connection pool, and verifies connectivity.
// A nil logger uses [slog.Default].
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration,
			"postgres: invalid configuration")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration,
			"postgres: failed to parse connection config")
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency,
			"postgres: failed to create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency,
			"postgres: failed to connect to database")
	}

	s := NewFromPool(pool, logger)
	s.databaseName = databaseName(cfg)
	return s, nil
}

// NewFromPool wraps an existing pool. It is intended for tests with
// pgxmock and for callers that manage their own pool.
//
//	mock, _ := pgxmock.NewPool()
//	store := postgres.NewFromPool(mock, nil)
func NewFromPool(pool Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		pool:   pool,
		tracer: otel.Tracer(tracerName),
		logger: logger,
	}
}

func databaseName(cfg Config) string {
	if cfg.URI != "" {
		if u, err := url.Parse(cfg.URI); err == nil {
			return strings.TrimPrefix(u.Path, "/")
		}
	}
	return cfg.Database
}

// EnsureSchema creates the lifecycle tables and index if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "EnsureSchema", schemaSQL)
	_, err := s.pool.Exec(ctx, schemaSQL)
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "postgres: create schema failed")
	}
	return nil
}

// SaveTransition appends t to the agent's history and records t.To as the
// agent's current state. Both writes commit together or not at all.
func (s *Store) SaveTransition(ctx context.Context, id lifecycle.AgentID, t lifecycle.StateTransition) error {
	metadata, err := encodeMetadata(t.Metadata)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeValidation,
			"postgres: transition metadata is not JSON-serializable")
	}

	ctx, span := s.startSpan(ctx, "SaveTransition", insertTransitionSQL)
	span.SetAttributes(
		attribute.String("agent.id", id.String()),
		attribute.String("lifecycle.to_state", t.To.String()),
	)

	err = s.saveTransition(ctx, id, t, metadata)
	finishSpan(span, err)
	if err != nil {
		return err
	}
	s.logger.DebugContext(ctx, "postgres: transition saved",
		"agent_id", id.String(),
		"from_state", t.From.String(),
		"to_state", t.To.String(),
	)
	return nil
}

func (s *Store) saveTransition(ctx context.Context, id lifecycle.AgentID, t lifecycle.StateTransition, metadata []byte) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrapError(err, "postgres: begin transaction failed")
	}

	if _, err := tx.Exec(ctx, insertTransitionSQL,
		id.String(), t.From.String(), t.To.String(), t.Reason, t.TriggeredBy, metadata, t.Timestamp,
	); err != nil {
		_ = tx.Rollback(ctx)
		return wrapError(err, "postgres: insert transition failed")
	}
	if _, err := tx.Exec(ctx, upsertStateSQL,
		id.String(), t.To.String(), string(t.To.Status()), t.Timestamp,
	); err != nil {
		_ = tx.Rollback(ctx)
		return wrapError(err, "postgres: upsert agent state failed")
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapError(err, "postgres: commit failed")
	}
	return nil
}

// LoadHistory returns the persisted transitions for id, oldest first. When
// limit > 0 only the most recent limit entries are returned. An unknown id
// yields an empty slice.
func (s *Store) LoadHistory(ctx context.Context, id lifecycle.AgentID, limit int) ([]lifecycle.StateTransition, error) {
	query, args := selectHistorySQL, []any{id.String()}
	if limit > 0 {
		query, args = selectRecentHistorySQL, []any{id.String(), limit}
	}

	ctx, span := s.startSpan(ctx, "LoadHistory", query)
	history, err := s.loadHistory(ctx, query, args)
	finishSpan(span, err)
	return history, err
}

func (s *Store) loadHistory(ctx context.Context, query string, args []any) ([]lifecycle.StateTransition, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapError(err, "postgres: query history failed")
	}
	defer rows.Close()

	history := []lifecycle.StateTransition{}
	for rows.Next() {
		var (
			t        lifecycle.StateTransition
			from, to string
			metadata []byte
		)
		if err := rows.Scan(&from, &to, &t.Reason, &t.TriggeredBy, &metadata, &t.Timestamp); err != nil {
			return nil, wrapError(err, "postgres: scan transition failed")
		}
		t.From, t.To = lifecycle.State(from), lifecycle.State(to)
		if t.Metadata, err = decodeMetadata(metadata); err != nil {
			return nil, sserr.Wrap(err, sserr.CodeInternalDatabase,
				"postgres: stored metadata is corrupt")
		}
		history = append(history, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(err, "postgres: iterate history failed")
	}
	return history, nil
}

// CurrentState returns the last persisted state of id. It returns an error
// with [sserr.CodeNotFoundAgent] when the agent has never been saved.
func (s *Store) CurrentState(ctx context.Context, id lifecycle.AgentID) (lifecycle.State, error) {
	ctx, span := s.startSpan(ctx, "CurrentState", selectStateSQL)

	var state string
	err := s.pool.QueryRow(ctx, selectStateSQL, id.String()).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		finishSpan(span, nil)
		return "", sserr.Newf(sserr.CodeNotFoundAgent, "postgres: agent %q not found", id)
	}
	finishSpan(span, err)
	if err != nil {
		return "", wrapError(err, "postgres: query agent state failed")
	}
	return lifecycle.State(state), nil
}

// Health pings the database. It applies [DefaultHealthTimeout] when ctx has
// no deadline and reports failures as [sserr.CodeUnavailableDependency].
func (s *Store) Health(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Health", "SELECT 1")

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}

	err := s.pool.Ping(ctx)
	finishSpan(span, err)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeUnavailableDependency, "postgres: health check failed")
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) startSpan(ctx context.Context, operation, sql string) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "postgres."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.name", s.databaseName),
		attribute.String("db.statement", truncateSQL(sql)),
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

// wrapError maps driver errors onto platform codes so callers can use
// [sserr.IsTimeout] and [sserr.IsRetryable].
func wrapError(err error, message string) *sserr.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return sserr.Wrap(err, sserr.CodeTimeoutDatabase, message)
	}
	return sserr.Wrap(err, sserr.CodeInternalDatabase, message)
}

func truncateSQL(sql string) string {
	sql = strings.TrimSpace(sql)
	if len(sql) <= maxStatementLength {
		return sql
	}
	return sql[:maxStatementLength] + "..."
}

func encodeMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		m = map[string]any{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return b, nil
}

func decodeMetadata(b []byte) (map[string]any, error) {
	m := map[string]any{}
	if len(b) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return m, nil
}
