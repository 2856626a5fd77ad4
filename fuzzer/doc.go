// Package fuzzer connects a fuzzing engine to canisters running in a
// replica.
//
// A FuzzState lists the actors one fuzz target needs. Exactly one of them
// is the coverage target; it is instrumented before install, the others
// are installed as built.
//
//	state := fuzzer.NewState("ledger").
//	    WithActor(fuzzer.NewActor("ledger").WithEnv("LEDGER_WASM").AsCoverage().Build()).
//	    WithActor(fuzzer.NewActor("index").WithPath("index.wasm").Build()).
//	    Build()
//	o := fuzzer.New(state, &fuzzer.MethodHarness{Method: "transfer"}, fuzzer.Config{})
//	if err := o.Init(ctx); err != nil {
//	    return err
//	}
//	return o.Run(ctx, engine.New(engine.Config{}))
//
// The Orchestrator owns the lifecycle and serializes Execute. Each input
// goes through the harness to Bridge.Dispatch, which makes one update call
// and then one retrieval query against the coverage target, in that
// order, and classifies the call with a Classifier. Per-input failures of
// any kind come back as an ExecutionResult; only Init and Run return
// errors.
package fuzzer
