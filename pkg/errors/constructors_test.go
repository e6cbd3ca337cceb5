package errors

import (
	"errors"
	"testing"
)

func TestWrap_Nil(t *testing.T) {
	if Wrap(nil, CodeInternal, "x") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if Wrapf(nil, CodeInternal, "x %d", 1) != nil {
		t.Error("Wrapf(nil) should return nil")
	}
}

func TestNewf(t *testing.T) {
	e := Newf(CodeInvalidTransition, "cannot move from %s to %s", "online", "deployed")
	if e.Message != "cannot move from online to deployed" {
		t.Errorf("Message = %q", e.Message)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want Code
	}{
		{"Validation", Validation("x"), CodeValidation},
		{"Validationf", Validationf("x %d", 1), CodeValidation},
		{"NotFound", NotFound("x"), CodeNotFound},
		{"NotFoundf", NotFoundf("x %d", 1), CodeNotFound},
		{"Conflict", Conflict("x"), CodeConflict},
		{"Internal", Internal("x"), CodeInternal},
		{"Internalf", Internalf("x %d", 1), CodeInternal},
		{"Unavailable", Unavailable("x"), CodeUnavailable},
		{"Timeout", Timeout("x"), CodeTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.want {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.want)
			}
		})
	}
}

func TestFromError(t *testing.T) {
	if FromError(nil) != nil {
		t.Error("FromError(nil) should return nil")
	}

	structured := New(CodeNotFoundAgent, "no such agent")
	if FromError(structured) != structured {
		t.Error("FromError should return structured errors unchanged")
	}

	plain := errors.New("plain")
	got := FromError(plain)
	if got.Code != CodeInternal || !errors.Is(got, plain) {
		t.Errorf("FromError(plain) = %+v", got)
	}
}
