// Package errors provides structured error types for the canfuzz harness.
//
// Errors are categorized by Phase (where in the lifecycle the error occurred)
// and Kind (error category). Kinds mirror the harness failure taxonomy:
// malformed modules and instrumentation failures abort initialisation,
// install and missing coverage target errors abort setup, dispatch errors
// abort the process, and trap, timeout and coverage retrieval errors are
// recoverable per-input conditions.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseInstrument, errors.KindInstrumentation).
//		Path("func[12]", "instr[40]").
//		Detail("else without matching if").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Install("ledger", cause)
//	err := errors.NoCoverageTarget("decode_candid")
//
// Sentinels such as ErrMalformedModule match any error of the same Kind:
//
//	if errors.Is(err, canfuzzerrors.ErrMalformedModule) { ... }
package errors
