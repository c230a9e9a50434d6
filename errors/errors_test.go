package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:    PhaseAdvance,
				Kind:     KindTrap,
				Function: "fib",
				Detail:   "unreachable",
			},
			contains: []string{"[advance]", "trap", "in fib", "unreachable"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhasePoll,
				Kind:  KindInvalidState,
			},
			contains: []string{"[poll]", "invalid_state"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseHost,
				Kind:   KindHostFailure,
				Detail: "timer failed",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[host]", "host_failure", "timer failed", "caused by", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !containsSubstring(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseCompile,
		Kind:  KindCompile,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}

	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase:    PhaseInvoke,
		Kind:     KindTypeMismatch,
		Function: "fib",
	}

	if !err.Is(&Error{Phase: PhaseInvoke, Kind: KindTypeMismatch}) {
		t.Error("Is should match same phase and kind")
	}

	if err.Is(&Error{Phase: PhaseAdvance, Kind: KindTypeMismatch}) {
		t.Error("Is should not match different phase")
	}

	if err.Is(&Error{Phase: PhaseInvoke, Kind: KindNotFound}) {
		t.Error("Is should not match different kind")
	}

	if !errors.Is(err, ErrTypeMismatch) {
		t.Error("errors.Is should match the kind sentinel")
	}
	if errors.Is(err, ErrTrap) {
		t.Error("errors.Is should not match another kind sentinel")
	}

	wrapped := fmt.Errorf("setup: %w", err)
	if !errors.Is(wrapped, ErrTypeMismatch) {
		t.Error("errors.Is should see through fmt wrapping")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseHost, KindHostFailure).
		Function("sleep").
		Value(42).
		Cause(cause).
		Fatal().
		Detail("expected %s, got %s", "ready", "failed").
		Build()

	if err.Phase != PhaseHost {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseHost)
	}
	if err.Kind != KindHostFailure {
		t.Errorf("Kind = %v, want %v", err.Kind, KindHostFailure)
	}
	if err.Function != "sleep" {
		t.Errorf("Function = %v, want 'sleep'", err.Function)
	}
	if err.Value != 42 {
		t.Errorf("Value = %v, want 42", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if !err.Fatal {
		t.Error("Fatal should be set")
	}
	if err.Detail != "expected ready, got failed" {
		t.Errorf("Detail = %v, want 'expected ready, got failed'", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	tests := []struct {
		name  string
		err   *Error
		phase Phase
		kind  Kind
	}{
		{"CompileFailed", CompileFailed("bad magic", nil), PhaseCompile, KindCompile},
		{"LinkFailed", LinkFailed("instantiate", nil), PhaseLink, KindLink},
		{"NotFound", NotFound(PhaseInvoke, "export", "fib"), PhaseInvoke, KindNotFound},
		{"TypeMismatch", TypeMismatch("fib", "want %d args, got %d", 1, 2), PhaseInvoke, KindTypeMismatch},
		{"Trap", Trap("fib", "unreachable", nil), PhaseAdvance, KindTrap},
		{"InvalidState", InvalidState(PhaseAdvance, "already completed"), PhaseAdvance, KindInvalidState},
		{"HostFailure", HostFailure("sleep", errors.New("boom")), PhaseHost, KindHostFailure},
		{"Canceled", Canceled(PhaseDrive, nil), PhaseDrive, KindCanceled},
		{"InvalidInput", InvalidInput(PhaseConfig, "bad"), PhaseConfig, KindInvalidInput},
		{"Registration", Registration("host", "sleep", nil), PhaseHost, KindRegistration},
		{"Unsupported", Unsupported(PhaseCompile, "threads"), PhaseCompile, KindUnsupported},
		{"Wrap", Wrap(PhaseLoop, KindCanceled, nil, "stop"), PhaseLoop, KindCanceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Phase != tt.phase {
				t.Errorf("Phase = %v, want %v", tt.err.Phase, tt.phase)
			}
			if tt.err.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", tt.err.Kind, tt.kind)
			}
		})
	}

	t.Run("TypeMismatch detail", func(t *testing.T) {
		err := TypeMismatch("fib", "want %d args, got %d", 1, 2)
		if err.Detail != "want 1 args, got 2" {
			t.Errorf("Detail = %q", err.Detail)
		}
	})

	t.Run("NotFound detail", func(t *testing.T) {
		err := NotFound(PhaseInvoke, "export", "missing")
		if !containsSubstring(err.Error(), `"missing"`) {
			t.Errorf("error %q should quote the name", err.Error())
		}
	})
}

func TestIsFatal(t *testing.T) {
	fatal := New(PhaseHost, KindHostFailure).Fatal().Build()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("x"), false},
		{"not fatal", HostFailure("sleep", nil), false},
		{"fatal", fatal, true},
		{"wrapped fatal", fmt.Errorf("driver: %w", fatal), true},
		{"fatal as cause", Wrap(PhaseDrive, KindHostFailure, fatal, "driver"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFatal(tt.err); got != tt.want {
				t.Errorf("IsFatal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMissingImportsError(t *testing.T) {
	t.Run("single import", func(t *testing.T) {
		err := NewMissingImportsError([]string{"host#sleep"})
		if len(err.Imports) != 1 {
			t.Errorf("expected 1 import, got %d", len(err.Imports))
		}
		if err.Imports[0].Namespace != "host" {
			t.Errorf("namespace = %q, want host", err.Imports[0].Namespace)
		}
		if err.Imports[0].Function != "sleep" {
			t.Errorf("function = %q, want sleep", err.Imports[0].Function)
		}
	})

	t.Run("multiple namespaces grouped", func(t *testing.T) {
		err := NewMissingImportsError([]string{
			"host#sleep",
			"env#abort",
			"host#sleep_ms",
		})
		msg := err.Error()
		if !containsSubstring(msg, "missing 3") {
			t.Errorf("error should contain count, got: %s", msg)
		}
		if !containsSubstring(msg, "host:") {
			t.Errorf("error should group by namespace")
		}
		if !containsSubstring(msg, "env:") {
			t.Errorf("error should contain second namespace")
		}
		if !containsSubstring(msg, "sleep_ms") {
			t.Errorf("error should contain function name")
		}
	})

	t.Run("namespace only", func(t *testing.T) {
		err := NewMissingImportsError([]string{"host"})
		if err.Imports[0].Function != "" {
			t.Errorf("function = %q, want empty", err.Imports[0].Function)
		}
	})

	t.Run("empty imports", func(t *testing.T) {
		err := NewMissingImportsError([]string{})
		msg := err.Error()
		if !containsSubstring(msg, "no imports specified") {
			t.Errorf("empty error should have specific message, got: %s", msg)
		}
	})

	t.Run("errors.Is", func(t *testing.T) {
		err := LinkFailed("instantiate", NewMissingImportsError([]string{"ns#fn"}))
		if !errors.Is(err, &MissingImportsError{}) {
			t.Error("errors.Is should match MissingImportsError through the cause chain")
		}
	})
}

func containsSubstring(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || len(substr) == 0 ||
		(len(s) > 0 && containsSubstringHelper(s, substr)))
}

func containsSubstringHelper(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
