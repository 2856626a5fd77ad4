package fuzzer

import (
	"fmt"
	"time"

	"github.com/wippyai/canfuzz/errors"
	"github.com/wippyai/canfuzz/replica"
)

// Outcome is the classification of one execution.
type Outcome uint8

const (
	Ok Outcome = iota
	Crash
	Timeout
)

func (o Outcome) String() string {
	switch o {
	case Ok:
		return "ok"
	case Crash:
		return "crash"
	case Timeout:
		return "timeout"
	}
	return fmt.Sprintf("Outcome(%d)", uint8(o))
}

// ExecutionResult is what one input produced. Execute never fails; every
// problem is reported here.
type ExecutionResult struct {
	// CoverageErr is set when the coverage map could not be read. Coverage
	// is nil then, which is distinct from an all-zero map.
	CoverageErr error

	// Fatal is set for failures of the environment rather than the target.
	// Engines stop on it.
	Fatal error

	Actor      string
	Method     string
	Diagnostic string
	Reply      []byte

	// Coverage holds the per-edge hit counts added by this input.
	Coverage []byte
	Duration time.Duration
	Code     replica.RejectCode
	Outcome  Outcome
}

// Err returns the target error for Crash and Timeout outcomes, or nil.
func (r *ExecutionResult) Err() error {
	switch r.Outcome {
	case Crash:
		return errors.TargetTrap(r.Actor, r.Method, r.Diagnostic)
	case Timeout:
		return errors.TargetTimeout(r.Actor, r.Method, r.Diagnostic)
	}
	return nil
}

// fatal builds the result for an environment failure.
func fatal(actor, method string, err error) ExecutionResult {
	return ExecutionResult{Actor: actor, Method: method, Fatal: err, Diagnostic: err.Error()}
}
