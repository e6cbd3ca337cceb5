package errors

import "testing"

func TestCode_Category(t *testing.T) {
	tests := []struct {
		code Code
		want string
	}{
		{CodeValidation, "VAL"},
		{CodeNotFoundAgent, "NF"},
		{CodeInvalidTransition, "CONF"},
		{CodePreconditionFailed, "CONF"},
		{CodeHandlerFailure, "INT"},
		{CodeWorkFailure, "INT"},
		{CodeUnavailableDependency, "UNAVAIL"},
		{CodeTimeoutDatabase, "TIMEOUT"},
		{Code("NOUNDERSCORE"), "NOUNDERSCORE"},
		{Code(""), ""},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := tt.code.Category(); got != tt.want {
				t.Errorf("Category() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCode_Unique(t *testing.T) {
	all := []Code{
		CodeValidation, CodeValidationRequired,
		CodeNotFound, CodeNotFoundAgent,
		CodeConflict, CodeInvalidTransition, CodePreconditionFailed,
		CodeInternal, CodeInternalDatabase, CodeInternalConfiguration,
		CodeHandlerFailure, CodeWorkFailure,
		CodeUnavailable, CodeUnavailableDependency,
		CodeTimeout, CodeTimeoutDatabase,
	}
	seen := make(map[Code]bool, len(all))
	for _, c := range all {
		if seen[c] {
			t.Errorf("duplicate code %q", c)
		}
		seen[c] = true
	}
}

func TestCode_String(t *testing.T) {
	if got := CodeInvalidTransition.String(); got != "CONF_004" {
		t.Errorf("String() = %q, want %q", got, "CONF_004")
	}
}
