package instrument

// Names the instrumented module exposes.
const (
	// CoverageExport is the zero-argument query that replies with the
	// coverage map.
	CoverageExport = "canister_query __export_coverage_for_afl"

	// CoverageMethod is the method name of CoverageExport as seen by callers.
	CoverageMethod = "__export_coverage_for_afl"

	// BaseGlobalExport and SizeGlobalExport expose the map layout as
	// immutable globals.
	BaseGlobalExport = "__canfuzz_coverage_base"
	SizeGlobalExport = "__canfuzz_coverage_size"

	// SystemModule is the import module of the system API.
	SystemModule = "ic0"
)

// DefaultReservePages is the minimum number of pages reserved for the map.
const DefaultReservePages = 1

// Config tunes the rewrite. The zero value is usable.
type Config struct {
	// Validator checks the rewritten module. Nil selects a wazero
	// validator.
	Validator Validator

	// ReservePages is the minimum number of pages appended to memory 0
	// for the map. Zero selects DefaultReservePages.
	ReservePages uint32

	// SkipLayoutExports disables the BaseGlobalExport and SizeGlobalExport
	// globals.
	SkipLayoutExports bool
}

func (c Config) withDefaults() Config {
	if c.Validator == nil {
		c.Validator = NewWazeroValidator()
	}
	if c.ReservePages == 0 {
		c.ReservePages = DefaultReservePages
	}
	return c
}

// Layout records where the coverage map lives inside memory 0.
type Layout struct {
	Base     uint64 // Byte offset of entry 0
	Size     uint32 // Number of one-byte entries
	Pages    uint32 // Pages added to memory 0
	Memory64 bool
}

// FunctionEdges maps a defined function to its contiguous edge range.
// Index is the function index in the rewritten module.
type FunctionEdges struct {
	Name  string
	Index uint32
	First uint32
	Count uint32
}

// Result is an instrumented module.
type Result struct {
	Wasm      []byte
	Functions []FunctionEdges // Only functions with at least one edge
	Layout    Layout
	Edges     uint32
}
