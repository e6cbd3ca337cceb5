// Package sqlite is an embedded lifecycle repository on modernc.org/sqlite.
// It stores the same two tables as the PostgreSQL store and creates them on
// open, so a single-node deployment needs no external database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	sserr "github.com/Walrus94/DevCycle-sub001/pkg/errors"
	"github.com/Walrus94/DevCycle-sub001/pkg/lifecycle"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS agent_lifecycle (
    agent_id   TEXT PRIMARY KEY,
    state      TEXT NOT NULL,
    status     TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS agent_state_transitions (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    agent_id     TEXT NOT NULL,
    from_state   TEXT NOT NULL,
    to_state     TEXT NOT NULL,
    reason       TEXT NOT NULL,
    triggered_by TEXT NOT NULL,
    metadata     TEXT NOT NULL DEFAULT '{}',
    occurred_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_agent_state_transitions_agent
    ON agent_state_transitions(agent_id, id);
`

var _ lifecycle.Repository = (*Store)(nil)

// Store persists lifecycle transitions in a SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens (or creates) the database at path, enables WAL mode, and
// creates the schema. Parent directories are created as needed. A nil
// logger uses [slog.Default].
func New(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "sqlite")

	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration,
				"sqlite: failed to create database directory")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalDatabase, "sqlite: failed to open database")
	}
	// One writer at a time; an in-memory database also lives on a single
	// connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, sserr.Wrap(err, sserr.CodeInternalDatabase, "sqlite: failed to enable WAL mode")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, sserr.Wrap(err, sserr.CodeInternalDatabase, "sqlite: failed to create schema")
	}

	logger.Info("sqlite: store initialized", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveTransition appends t to the agent's history and updates its current
// state in one transaction.
func (s *Store) SaveTransition(ctx context.Context, id lifecycle.AgentID, t lifecycle.StateTransition) error {
	metadata, err := encodeMetadata(t.Metadata)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeValidation,
			"sqlite: transition metadata is not JSON-serializable")
	}
	ts := formatTime(t.Timestamp)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapError(err, "sqlite: begin transaction failed")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO agent_state_transitions
			(agent_id, from_state, to_state, reason, triggered_by, metadata, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id.String(), t.From.String(), t.To.String(), t.Reason, t.TriggeredBy, metadata, ts,
	); err != nil {
		return wrapError(err, "sqlite: insert transition failed")
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO agent_lifecycle (agent_id, state, status, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			state = excluded.state,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		id.String(), t.To.String(), string(t.To.Status()), ts,
	); err != nil {
		return wrapError(err, "sqlite: upsert agent state failed")
	}

	if err := tx.Commit(); err != nil {
		return wrapError(err, "sqlite: commit failed")
	}
	s.logger.DebugContext(ctx, "sqlite: transition saved",
		"agent_id", id.String(),
		"from_state", t.From.String(),
		"to_state", t.To.String(),
	)
	return nil
}

// LoadHistory returns the stored transitions for id, oldest first. When
// limit > 0 only the most recent limit entries are returned.
func (s *Store) LoadHistory(ctx context.Context, id lifecycle.AgentID, limit int) ([]lifecycle.StateTransition, error) {
	query := `
		SELECT from_state, to_state, reason, triggered_by, metadata, occurred_at
		FROM agent_state_transitions
		WHERE agent_id = ?
		ORDER BY id ASC`
	args := []any{id.String()}
	if limit > 0 {
		query = `
		SELECT from_state, to_state, reason, triggered_by, metadata, occurred_at
		FROM (
			SELECT id, from_state, to_state, reason, triggered_by, metadata, occurred_at
			FROM agent_state_transitions
			WHERE agent_id = ?
			ORDER BY id DESC
			LIMIT ?
		)
		ORDER BY id ASC`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapError(err, "sqlite: query history failed")
	}
	defer rows.Close()

	history := []lifecycle.StateTransition{}
	for rows.Next() {
		var t lifecycle.StateTransition
		var from, to, metadata, occurredAt string
		if err := rows.Scan(&from, &to, &t.Reason, &t.TriggeredBy, &metadata, &occurredAt); err != nil {
			return nil, wrapError(err, "sqlite: scan transition failed")
		}
		t.From, t.To = lifecycle.State(from), lifecycle.State(to)
		if t.Timestamp, err = time.Parse(time.RFC3339Nano, occurredAt); err != nil {
			return nil, sserr.Wrap(err, sserr.CodeInternalDatabase, "sqlite: stored timestamp is corrupt")
		}
		if t.Metadata, err = decodeMetadata(metadata); err != nil {
			return nil, sserr.Wrap(err, sserr.CodeInternalDatabase, "sqlite: stored metadata is corrupt")
		}
		history = append(history, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(err, "sqlite: iterate history failed")
	}
	return history, nil
}

// CurrentState returns the last stored state of id, or an error with
// [sserr.CodeNotFoundAgent] when nothing was saved for it.
func (s *Store) CurrentState(ctx context.Context, id lifecycle.AgentID) (lifecycle.State, error) {
	var state string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM agent_lifecycle WHERE agent_id = ?`, id.String(),
	).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return "", sserr.Newf(sserr.CodeNotFoundAgent, "sqlite: agent %q not found", id)
	}
	if err != nil {
		return "", wrapError(err, "sqlite: query agent state failed")
	}
	return lifecycle.State(state), nil
}

// AgentsByStatus lists the ids whose current coarse status is status,
// sorted by id.
func (s *Store) AgentsByStatus(ctx context.Context, status lifecycle.Status) ([]lifecycle.AgentID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id FROM agent_lifecycle WHERE status = ? ORDER BY agent_id`, string(status))
	if err != nil {
		return nil, wrapError(err, "sqlite: query agents failed")
	}
	defer rows.Close()

	ids := []lifecycle.AgentID{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapError(err, "sqlite: scan agent failed")
		}
		ids = append(ids, lifecycle.AgentID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(err, "sqlite: iterate agents failed")
	}
	return ids, nil
}

func wrapError(err error, message string) *sserr.Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return sserr.Wrap(err, sserr.CodeTimeoutDatabase, message)
	}
	return sserr.Wrap(err, sserr.CodeInternalDatabase, message)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func encodeMetadata(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

func decodeMetadata(s string) (map[string]any, error) {
	m := map[string]any{}
	if s == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return m, nil
}
