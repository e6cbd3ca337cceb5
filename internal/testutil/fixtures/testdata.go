// Package fixtures holds shared test values for the lifecycle stores and
// sinks so tests do not repeat magic strings.
package fixtures

import "time"

// Agent identifiers.
const (
	AgentID    = "agent-001"
	AltAgentID = "agent-002"
)

// Identity strings as produced by auth.Format.
const (
	UserTrigger    = "user:alice"
	ServiceTrigger = "service:scheduler"
)

// Sink settings.
const (
	KeyPrefix    = "lifecycle-test"
	BucketName   = "lifecycle-archive-test"
	ObjectPrefix = "history"
)

// Epoch is a fixed timestamp for deterministic transitions.
var Epoch = time.Date(2026, time.January, 15, 9, 30, 0, 0, time.UTC)
