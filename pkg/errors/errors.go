// Package errors provides the structured error type used across the agent
// lifecycle core and its storage and messaging adapters.
//
// Every error carries a machine-readable [Code] of the form CATEGORY_NNN.
// The category prefix drives the classification helpers ([IsConflict],
// [IsInternal], [IsRetryable], ...), so callers can branch on the kind of
// failure without string matching.
//
// # Lifecycle Codes
//
// The lifecycle state machine never returns expected rejections as Go
// errors; domain operations report a boolean. The lifecycle codes below
// are attached to the values the state machine logs, so that log
// pipelines can group rejections by kind:
//
//   - [CodeInvalidTransition]: target state not allowed from the current state
//   - [CodePreconditionFailed]: a domain operation's precondition did not hold
//   - [CodeHandlerFailure]: an event handler returned an error or panicked
//   - [CodeWorkFailure]: injected deploy/start/stop work returned an error
//
// # Usage
//
//	err := errors.Wrap(cause, errors.CodeInternalDatabase, "store: insert failed")
//	if errors.IsRetryable(err) {
//	    // back off and retry
//	}
package errors
