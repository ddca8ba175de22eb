package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestDomainError(t *testing.T) {
	t.Run("New", func(t *testing.T) {
		err := New(CodeInvalidConfig, "location is empty")
		if err.Error() != "[INVALID_CONFIG] location is empty" {
			t.Errorf("expected [INVALID_CONFIG] location is empty, got %s", err.Error())
		}
	})

	t.Run("Wrap", func(t *testing.T) {
		original := errors.New("exit status 1")
		err := Wrap(original, CodeToolInvocationFailure, "paket failed")
		expected := "[TOOL_INVOCATION_FAILURE] paket failed: exit status 1"
		if err.Error() != expected {
			t.Errorf("expected %s, got %s", expected, err.Error())
		}
	})

	t.Run("IsCode", func(t *testing.T) {
		err := New(CodeSessionNotReady, "no session")
		if !IsCode(err, CodeSessionNotReady) {
			t.Error("expected IsCode to return true for CodeSessionNotReady")
		}
		if IsCode(err, CodeInvalidCondition) {
			t.Error("expected IsCode to return false for CodeInvalidCondition")
		}
	})

	t.Run("IsCodeThroughFmtWrap", func(t *testing.T) {
		err := fmt.Errorf("init: %w", New(CodeParseFailure, "no symbols"))
		if !IsCode(err, CodeParseFailure) {
			t.Error("expected IsCode to see through fmt wrapping")
		}
	})

	t.Run("AddContext", func(t *testing.T) {
		err := AddContext(New(CodeToolInvocationFailure, "missing"), CtxTool, "ilspycmd")
		var de *DomainError
		if !errors.As(err, &de) {
			t.Fatalf("expected DomainError, got %T", err)
		}
		if de.Context[CtxTool] != "ilspycmd" {
			t.Errorf("expected tool context, got %v", de.Context)
		}
	})

	t.Run("AddContextPlainError", func(t *testing.T) {
		err := AddContext(errors.New("boom"), CtxFile, "a.cs")
		if !IsCode(err, CodeInternal) {
			t.Errorf("expected plain errors to be wrapped as internal, got %v", err)
		}
	})
}

func TestCodeOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, ""},
		{"domain", New(CodeUnknownCapability, "x"), CodeUnknownCapability},
		{"cancelled", fmt.Errorf("run: %w", context.Canceled), CodeCancelled},
		{"plain", errors.New("x"), CodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CodeOf(tc.err); got != tc.want {
				t.Errorf("CodeOf() = %q, want %q", got, tc.want)
			}
		})
	}
	if !IsInitCause(CodePersistenceFailure) || IsInitCause(CodeInvalidCondition) {
		t.Error("IsInitCause classification is wrong")
	}
}
