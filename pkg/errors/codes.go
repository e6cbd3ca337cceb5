package errors

// Code is a machine-readable error code of the form CATEGORY_NNN.
// Codes are stable once assigned.
type Code string

// Categories:
//
//	VAL_xxx     - invalid input or configuration values
//	NF_xxx      - the referenced entity does not exist
//	CONF_xxx    - the operation conflicts with current state
//	INT_xxx     - unexpected internal failures
//	UNAVAIL_xxx - a dependency is temporarily unavailable
//	TIMEOUT_xxx - an operation exceeded its deadline
const (
	// CodeValidation indicates a general validation failure.
	CodeValidation Code = "VAL_001"

	// CodeValidationRequired indicates a required field is missing.
	CodeValidationRequired Code = "VAL_002"

	// CodeNotFound indicates a general not found error.
	CodeNotFound Code = "NF_001"

	// CodeNotFoundAgent indicates no lifecycle record exists for an agent.
	CodeNotFoundAgent Code = "NF_002"

	// CodeConflict indicates a general conflict error.
	CodeConflict Code = "CONF_001"

	// CodeInvalidTransition indicates the requested target state is not in
	// the allowed set of the agent's current state.
	CodeInvalidTransition Code = "CONF_004"

	// CodePreconditionFailed indicates a domain operation was refused
	// because the agent was not in the state the operation requires.
	CodePreconditionFailed Code = "CONF_005"

	// CodeInternal indicates a general internal error.
	CodeInternal Code = "INT_001"

	// CodeInternalDatabase indicates a database operation failed.
	CodeInternalDatabase Code = "INT_002"

	// CodeInternalConfiguration indicates a configuration error.
	CodeInternalConfiguration Code = "INT_003"

	// CodeHandlerFailure indicates a lifecycle event handler failed.
	CodeHandlerFailure Code = "INT_004"

	// CodeWorkFailure indicates deploy, start, or stop work failed.
	CodeWorkFailure Code = "INT_005"

	// CodeUnavailable indicates a general unavailable error.
	CodeUnavailable Code = "UNAVAIL_001"

	// CodeUnavailableDependency indicates a dependent service is unavailable.
	CodeUnavailableDependency Code = "UNAVAIL_002"

	// CodeTimeout indicates a general timeout error.
	CodeTimeout Code = "TIMEOUT_001"

	// CodeTimeoutDatabase indicates a database operation timed out.
	CodeTimeoutDatabase Code = "TIMEOUT_002"
)

// String returns the string representation of the error code.
func (c Code) String() string {
	return string(c)
}

// Category returns the prefix before the first underscore (e.g., "CONF").
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}
