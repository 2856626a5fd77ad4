// Package engine is a coverage-guided mutation engine for fuzz targets
// driven by a fuzzer.Orchestrator.
//
// # Loop
//
// Fuzz loads the seed inputs from Dirs.Corpus, executes each of them once
// and keeps those that run cleanly. It then repeats:
//
//  1. pick a queue entry, favoring entries that found more coverage
//  2. apply a stack of byte-level mutations, or splice with another entry
//  3. execute the result through the target
//  4. keep the input if its bucketed hit counts raise any entry of the
//     global max map
//
// Crashing and timing-out inputs are written to Dirs.Crashes and
// Dirs.Timeouts, named by the SHA-256 of their content, so the same input
// is saved once. New queue entries go to Dirs.Queue under the same naming.
//
// # Hit count buckets
//
// Raw per-edge counts are folded into the usual classes before
// comparison:
//
//	count   0  1  2  3  4-7  8-15  16-31  32-127  128-255
//	bucket  0  1  2  4  8    16    32     64      128
//
// # Stopping
//
// The loop ends on context cancellation, after Config.MaxExecs executions,
// after Config.Duration, or when a result carries a Fatal error. Only the
// last case returns an error.
//
// # Metrics
//
// Every engine updates a Metrics set of prometheus collectors. Pass a
// registerer in Config.Registerer to expose them.
package engine
