// Package instrument rewrites canister modules to record edge coverage.
//
// Every conditional control-flow edge gets a one-byte saturating counter:
//
//	if            2 edges (then arm, else arm; a missing else is synthesized)
//	br_if         2 edges (taken, fall-through)
//	br_table      one edge per label plus the default
//	catch         1 edge per legacy catch or catch_all handler
//
// Unconditional branches, returns and function entry carry no edge, so a
// module without internal branching yields zero edges. br_on_null,
// br_on_non_null and try_table catch clauses carry no edge either.
// Edges are numbered in function index order, then instruction order.
//
// Counters live in memory 0 at Layout.Base, which is the old memory
// minimum; the minimum (and a declared maximum) grows to make room. A new
// function exported as CoverageExport replies with the map through
// ic0.msg_reply_data_append and ic0.msg_reply, adding those imports when
// missing and shifting the defined function index space accordingly.
//
// Usage:
//
//	res, err := instrument.Instrument(wasmBytes, instrument.Config{})
//	if err != nil {
//	    return err
//	}
//	// res.Wasm is installable, res.Edges is the map size
//
// Malformed input fails with errors.KindMalformedModule; control flow that
// cannot be reconstructed, unsupported features and validation failures of
// the output fail with errors.KindInstrumentation.
package instrument
