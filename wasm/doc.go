// Package wasm parses and encodes WebAssembly binary modules for the
// coverage rewrite.
//
// The decoder understands the WebAssembly 2.0 core format plus the
// proposals commonly emitted by canister toolchains: bulk memory, reference
// types, multi-value, tail calls, SIMD, threads, legacy and table-based
// exception handling, multi-memory and memory64. GC types and instructions
// are reported as ErrUnsupported.
//
// # Parsing
//
//	data, _ := os.ReadFile("ledger.wasm")
//	module, err := wasm.ParseModule(data)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Only sections that carry function indices or the memory declaration are
// decoded. Tables, tags, data and the data count are opaque payloads that
// Encode writes back unchanged.
//
// # Encoding
//
//	encoded := module.Encode()
//
// Encoding a freshly parsed module reproduces the input byte for byte when
// the input uses minimal LEB128 encodings.
//
// # Instructions
//
//	instructions, err := wasm.DecodeInstructions(body.Code)
//	encoded := wasm.EncodeInstructions(instructions)
//
// Instructions whose immediates a rewrite may need to change (branches,
// calls, ref.func, locals, i32.const and memory access) carry typed
// immediates in Instruction.Imm. All other immediates are kept raw.
//
// # Names
//
// RemapNameSection keeps the name custom section consistent after the
// function index space shifts.
package wasm
