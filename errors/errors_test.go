package errors

import (
	"errors"
	"fmt"
	"strings"
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
				Phase:  PhaseInstrument,
				Kind:   KindInstrumentation,
				Path:   []string{"func[3]", "instr[17]"},
				Actor:  "ledger",
				Detail: "else without if",
			},
			contains: []string{"[instrument]", "instrumentation", "actor ledger", "func[3].instr[17]", "else without if"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseRegistry,
				Kind:  KindNoCoverageTarget,
			},
			contains: []string{"[registry]", "no_coverage_target"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseInstall,
				Kind:   KindInstall,
				Detail: "replica rejected module",
				Cause:  errors.New("unknown import ic0.call_new"),
			},
			contains: []string{"[install]", "install", "replica rejected module", "caused by", "ic0.call_new"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseDispatch,
		Kind:  KindCallDispatch,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is did not reach cause")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase:  PhaseInstrument,
		Kind:   KindMalformedModule,
		Detail: "truncated",
	}

	if !err.Is(&Error{Phase: PhaseInstrument, Kind: KindMalformedModule}) {
		t.Error("Is should match same phase and kind")
	}
	if err.Is(&Error{Phase: PhaseInstall, Kind: KindMalformedModule}) {
		t.Error("Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhaseInstrument, Kind: KindInstrumentation}) {
		t.Error("Is should not match different kind")
	}
	if !errors.Is(err, ErrMalformedModule) {
		t.Error("errors.Is should match the kind sentinel")
	}
	if errors.Is(err, ErrInstrumentation) {
		t.Error("errors.Is should not match another sentinel")
	}
}

func TestSentinelsThroughWrapping(t *testing.T) {
	inner := Install("ledger", errors.New("compile failed"))
	wrapped := fmt.Errorf("init: %w", inner)

	if !errors.Is(wrapped, ErrInstall) {
		t.Fatal("errors.Is should see through fmt wrapping")
	}

	var target *Error
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As should extract *Error")
	}
	if target.Actor != "ledger" {
		t.Errorf("Actor = %q, want ledger", target.Actor)
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseInstrument, KindInstrumentation).
		Path("func[1]", "instr[9]").
		Actor("counter").
		Value(9).
		Cause(cause).
		Detail("label depth %d exceeds %d", 4, 2).
		Build()

	if err.Phase != PhaseInstrument {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseInstrument)
	}
	if err.Kind != KindInstrumentation {
		t.Errorf("Kind = %v, want %v", err.Kind, KindInstrumentation)
	}
	if len(err.Path) != 2 || err.Path[0] != "func[1]" || err.Path[1] != "instr[9]" {
		t.Errorf("Path = %v, want [func[1] instr[9]]", err.Path)
	}
	if err.Actor != "counter" {
		t.Errorf("Actor = %q, want counter", err.Actor)
	}
	if err.Value != 9 {
		t.Errorf("Value = %v, want 9", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "label depth 4 exceeds 2" {
		t.Errorf("Detail = %q", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	tests := []struct {
		name  string
		err   *Error
		phase Phase
		kind  Kind
	}{
		{"MalformedModule", MalformedModule(errors.New("bad magic")), PhaseInstrument, KindMalformedModule},
		{"Instrumentation", Instrumentation([]string{"func[0]"}, "unbalanced end", nil), PhaseInstrument, KindInstrumentation},
		{"Install", Install("a", nil), PhaseInstall, KindInstall},
		{"NoCoverageTarget", NoCoverageTarget("s"), PhaseRegistry, KindNoCoverageTarget},
		{"MultipleCoverageTargets", MultipleCoverageTargets("s", []string{"a", "b"}), PhaseRegistry, KindMultipleCoverageTargets},
		{"CallDispatch", CallDispatch("a", "m", nil), PhaseDispatch, KindCallDispatch},
		{"TargetTrap", TargetTrap("a", "m", "unreachable"), PhaseExecute, KindTargetTrap},
		{"TargetTimeout", TargetTimeout("a", "m", "deadline"), PhaseExecute, KindTargetTimeout},
		{"CoverageRetrieval", CoverageRetrieval("a", "short read", nil), PhaseCoverage, KindCoverageRetrieval},
		{"AlreadyBound", AlreadyBound("replica"), PhaseRegistry, KindAlreadyBound},
		{"InvalidState", InvalidState("running", "init"), PhaseLifecycle, KindInvalidState},
		{"NotFound", NotFound(PhaseRegistry, "actor", "x"), PhaseRegistry, KindNotFound},
		{"Unsupported", Unsupported(PhaseInstrument, "imported memory"), PhaseInstrument, KindUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Phase != tt.phase {
				t.Errorf("Phase = %v, want %v", tt.err.Phase, tt.phase)
			}
			if tt.err.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", tt.err.Kind, tt.kind)
			}
			if tt.err.Error() == "" {
				t.Error("empty message")
			}
		})
	}

	t.Run("MultipleCoverageTargets lists names", func(t *testing.T) {
		err := MultipleCoverageTargets("duo", []string{"left", "right"})
		if !strings.Contains(err.Error(), "left, right") {
			t.Errorf("message %q should list actor names", err.Error())
		}
	})
}
