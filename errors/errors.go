package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in the harness lifecycle the error occurred
type Phase string

const (
	PhaseInstrument Phase = "instrument" // coverage rewrite of module bytes
	PhaseInstall    Phase = "install"    // actor installation into the replica
	PhaseRegistry   Phase = "registry"   // descriptor bookkeeping
	PhaseSource     Phase = "source"     // module byte resolution
	PhaseDispatch   Phase = "dispatch"   // replica call plumbing
	PhaseExecute    Phase = "execute"    // target behaviour during a call
	PhaseCoverage   Phase = "coverage"   // coverage map retrieval
	PhaseLifecycle  Phase = "lifecycle"  // orchestrator state machine
	PhaseConfig     Phase = "config"     // configuration loading
)

// Kind categorizes the error
type Kind string

const (
	KindMalformedModule         Kind = "malformed_module"
	KindInstrumentation         Kind = "instrumentation"
	KindInstall                 Kind = "install"
	KindNoCoverageTarget        Kind = "no_coverage_target"
	KindMultipleCoverageTargets Kind = "multiple_coverage_targets"
	KindCallDispatch            Kind = "call_dispatch"
	KindTargetTrap              Kind = "target_trap"
	KindTargetTimeout           Kind = "target_timeout"
	KindCoverageRetrieval       Kind = "coverage_retrieval"
	KindAlreadyBound            Kind = "already_bound"
	KindNotInitialized          Kind = "not_initialized"
	KindInvalidState            Kind = "invalid_state"
	KindNotFound                Kind = "not_found"
	KindInvalidInput            Kind = "invalid_input"
	KindUnsupported             Kind = "unsupported"
)

// Error is the structured error type used throughout the harness
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Actor  string
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Actor != "" {
		b.WriteString(" actor ")
		b.WriteString(e.Actor)
	}

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target with an empty Phase matches on Kind alone, which is how the
// package-level sentinels work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase == "" {
		return e.Kind == t.Kind
	}
	return e.Phase == t.Phase && e.Kind == t.Kind
}

// Sentinels for errors.Is checks against the harness taxonomy.
var (
	ErrMalformedModule         = &Error{Kind: KindMalformedModule}
	ErrInstrumentation         = &Error{Kind: KindInstrumentation}
	ErrInstall                 = &Error{Kind: KindInstall}
	ErrNoCoverageTarget        = &Error{Kind: KindNoCoverageTarget}
	ErrMultipleCoverageTargets = &Error{Kind: KindMultipleCoverageTargets}
	ErrCallDispatch            = &Error{Kind: KindCallDispatch}
	ErrTargetTrap              = &Error{Kind: KindTargetTrap}
	ErrTargetTimeout           = &Error{Kind: KindTargetTimeout}
	ErrCoverageRetrieval       = &Error{Kind: KindCoverageRetrieval}
	ErrAlreadyBound            = &Error{Kind: KindAlreadyBound}
	ErrInvalidState            = &Error{Kind: KindInvalidState}
)

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the location path, e.g. function and instruction index
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Actor sets the actor name the error relates to
func (b *Builder) Actor(name string) *Builder {
	b.err.Actor = name
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for the harness taxonomy

// MalformedModule creates an error for byte streams that are not a valid module
func MalformedModule(cause error) *Error {
	return &Error{
		Phase:  PhaseInstrument,
		Kind:   KindMalformedModule,
		Detail: "module bytes are not a structurally valid module",
		Cause:  cause,
	}
}

// Instrumentation creates an error for control-flow reconstruction or rewrite failures
func Instrumentation(path []string, detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseInstrument,
		Kind:   KindInstrumentation,
		Path:   path,
		Detail: detail,
		Cause:  cause,
	}
}

// Install creates an error for modules rejected by the replica
func Install(actor string, cause error) *Error {
	return &Error{
		Phase:  PhaseInstall,
		Kind:   KindInstall,
		Actor:  actor,
		Detail: "replica rejected module",
		Cause:  cause,
	}
}

// NoCoverageTarget creates the error for registries without a coverage target
func NoCoverageTarget(state string) *Error {
	return &Error{
		Phase:  PhaseRegistry,
		Kind:   KindNoCoverageTarget,
		Detail: fmt.Sprintf("fuzz state %q has no actor marked as coverage target", state),
	}
}

// MultipleCoverageTargets creates the error for registries with more than one coverage target
func MultipleCoverageTargets(state string, names []string) *Error {
	return &Error{
		Phase:  PhaseRegistry,
		Kind:   KindMultipleCoverageTargets,
		Detail: fmt.Sprintf("fuzz state %q marks %d actors as coverage target: %s", state, len(names), strings.Join(names, ", ")),
		Value:  names,
	}
}

// CallDispatch creates an environment-level call failure unrelated to target logic
func CallDispatch(actor, method string, cause error) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindCallDispatch,
		Actor:  actor,
		Detail: fmt.Sprintf("dispatch %q", method),
		Cause:  cause,
	}
}

// TargetTrap creates an error describing a target-triggered trap
func TargetTrap(actor, method, diagnostic string) *Error {
	return &Error{
		Phase:  PhaseExecute,
		Kind:   KindTargetTrap,
		Actor:  actor,
		Path:   []string{method},
		Detail: diagnostic,
	}
}

// TargetTimeout creates an error describing a call that exceeded its budget
func TargetTimeout(actor, method, diagnostic string) *Error {
	return &Error{
		Phase:  PhaseExecute,
		Kind:   KindTargetTimeout,
		Actor:  actor,
		Path:   []string{method},
		Detail: diagnostic,
	}
}

// CoverageRetrieval creates an error for failed or malformed coverage reads
func CoverageRetrieval(actor, detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseCoverage,
		Kind:   KindCoverageRetrieval,
		Actor:  actor,
		Detail: detail,
		Cause:  cause,
	}
}

// AlreadyBound creates the error for a second runtime binding
func AlreadyBound(what string) *Error {
	return &Error{
		Phase:  PhaseRegistry,
		Kind:   KindAlreadyBound,
		Detail: fmt.Sprintf("%s already bound", what),
	}
}

// NotInitialized creates a not-initialized error for missing runtime state
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// InvalidState creates an error for illegal lifecycle transitions
func InvalidState(from, op string) *Error {
	return &Error{
		Phase:  PhaseLifecycle,
		Kind:   KindInvalidState,
		Detail: fmt.Sprintf("%s not allowed in state %s", op, from),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
