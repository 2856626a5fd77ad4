// Package canfuzz is a coverage-guided fuzzing harness for WebAssembly
// canisters.
//
// A canister is a core WebAssembly module that talks to its host through
// the "ic0" system API and exports its entry points as
// "canister_update <name>" and "canister_query <name>". canfuzz rewrites
// one such module so that every branch bumps a hit counter in linear
// memory, installs it together with its supporting canisters in an
// in-process replica, and lets a mutation engine feed it inputs.
//
// # Architecture Overview
//
//	canfuzz/
//	├── wasm/            Core module decoder and encoder
//	├── instrument/      Edge coverage rewrite and the retrieval export
//	├── replica/         In-process canister runtime on wazero with ic0 host functions
//	├── fuzzer/          Actor registry, orchestrator, execution bridge, classifier
//	├── engine/          Mutation engine, corpus, hit count feedback, metrics
//	├── errors/          Structured error types
//	└── cmd/canfuzz/     Command line front end
//
// # Quick Start
//
//	state := fuzzer.NewState("ledger").
//	    WithActor(fuzzer.NewActor("ledger").WithEnv("LEDGER_WASM").AsCoverage().Build()).
//	    Build()
//	o := fuzzer.New(state, &fuzzer.MethodHarness{Method: "transfer", Isolate: true}, fuzzer.Config{})
//	defer o.Close(ctx)
//	if err := o.Init(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	if err := o.Run(ctx, engine.New(engine.Config{Duration: time.Hour})); err != nil {
//	    log.Fatal(err)
//	}
//
// A crashing input found by a run is replayed with TestOneInput on a fresh
// orchestrator:
//
//	res, err := o.TestOneInput(ctx, input)
//	fmt.Println(res.Outcome, res.Diagnostic)
//
// # Coverage Map
//
// The map is one byte per edge, placed in pages appended to memory 0.
// Counters saturate at 255. The instrumented module exports
// "canister_query __export_coverage_for_afl", which replies with the
// map. The module never clears the counters itself; the bridge zeroes
// the map from the host before each input, so every read holds the hits
// of one input.
//
// # Thread Safety
//
// Replica is safe for concurrent use. An Orchestrator executes one input
// at a time; engines must call Execute sequentially.
package canfuzz
