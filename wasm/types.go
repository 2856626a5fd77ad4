package wasm

// Module represents a parsed WebAssembly module.
//
// Sections the coverage rewrite has to touch are decoded into fields.
// Table, tag, data count and data sections carry no function indices the
// rewrite can shift, so they are kept as opaque payloads and re-emitted
// verbatim.
type Module struct {
	Start     *uint32
	Types     []FuncType
	Imports   []Import
	Funcs     []uint32 // Type indices for declared functions
	Memories  []MemoryType
	Globals   []Global
	Exports   []Export
	Elements  []Element
	Code      []FuncBody
	Customs   []CustomSection
	Tables    []byte // Raw table section payload
	Tags      []byte // Raw tag section payload
	DataCount []byte // Raw data count section payload
	Data      []byte // Raw data section payload
}

// FuncType represents a WebAssembly function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// ValType represents a WebAssembly value type.
// See constants.go for ValI32, ValI64, ValF32, ValF64, etc.
type ValType byte

// String returns the text format name of the value type.
func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValV128:
		return "v128"
	case ValFuncRef:
		return "funcref"
	case ValExtern:
		return "externref"
	case ValExnRef:
		return "exnref"
	default:
		return "unknown"
	}
}

// Import represents an imported function, table, memory, global or tag.
type Import struct {
	Module string
	Name   string
	Desc   ImportDesc
}

// ImportDesc describes the imported entity.
// Memory is decoded because the coverage buffer cannot live in an imported
// memory; other non-function descriptors are kept as raw encoded types.
type ImportDesc struct {
	Memory  *MemoryType
	Raw     []byte
	TypeIdx uint32 // For KindFunc
	Kind    byte
}

// Limits describe the size bounds of a memory, in pages.
type Limits struct {
	Max      *uint64
	Min      uint64
	Shared   bool
	Memory64 bool
}

// MemoryType describes a linear memory.
type MemoryType struct {
	Limits Limits
}

// GlobalType describes a global variable.
type GlobalType struct {
	ValType ValType
	Mutable bool
}

// Global is a module-defined global with its constant initializer.
// Init holds the encoded expression including the trailing end.
type Global struct {
	Init []byte
	Type GlobalType
}

// Export represents an exported definition.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// Element represents an element segment in any of the eight encodings.
// Flags bit 0 marks passive or declarative, bit 1 an explicit table index
// (or declarative when bit 0 is set) and bit 2 expression elements.
type Element struct {
	Offset   []byte   // Active segments: encoded offset expression
	RefType  []byte   // Raw element kind or reference type, when encoded
	FuncIdxs []uint32 // Flags 0-3
	Exprs    [][]byte // Flags 4-7, each expression includes its end
	Flags    uint32
	Table    uint32
}

// Element segment flag bits.
const (
	ElemPassive  uint32 = 0x01
	ElemExplicit uint32 = 0x02
	ElemExprs    uint32 = 0x04
)

// Active reports whether the segment initializes a table at instantiation.
func (e Element) Active() bool {
	return e.Flags&ElemPassive == 0
}

// LocalEntry declares Count locals of one type.
type LocalEntry struct {
	Count uint32
	Type  ValType
}

// FuncBody is a function body from the code section.
// Code is the raw instruction stream including the final end.
type FuncBody struct {
	Locals []LocalEntry
	Code   []byte
}

// NumLocals returns the number of declared locals, excluding parameters.
func (b FuncBody) NumLocals() uint64 {
	var n uint64
	for _, l := range b.Locals {
		n += uint64(l.Count)
	}
	return n
}

// CustomSection is a named custom section.
// After records the id of the last non-custom section that precedes it,
// or SectionCustom when it sits before every other section.
type CustomSection struct {
	Name  string
	Data  []byte
	After byte
}

// NumImportedFuncs returns the count of imported functions
func (m *Module) NumImportedFuncs() int {
	return m.numImported(KindFunc)
}

// NumImportedGlobals returns the count of imported globals
func (m *Module) NumImportedGlobals() int {
	return m.numImported(KindGlobal)
}

// NumImportedMemories returns the count of imported memories
func (m *Module) NumImportedMemories() int {
	return m.numImported(KindMemory)
}

func (m *Module) numImported(kind byte) int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == kind {
			n++
		}
	}
	return n
}

// NumFuncs returns the size of the function index space.
func (m *Module) NumFuncs() int {
	return m.NumImportedFuncs() + len(m.Funcs)
}

// FuncTypeOf returns the signature of the function at funcIdx in the
// function index space, imports first.
func (m *Module) FuncTypeOf(funcIdx uint32) *FuncType {
	var typeIdx uint32
	imported := uint32(m.NumImportedFuncs())
	if funcIdx < imported {
		var n uint32
		for _, imp := range m.Imports {
			if imp.Desc.Kind != KindFunc {
				continue
			}
			if n == funcIdx {
				typeIdx = imp.Desc.TypeIdx
				break
			}
			n++
		}
	} else {
		local := funcIdx - imported
		if int(local) >= len(m.Funcs) {
			return nil
		}
		typeIdx = m.Funcs[local]
	}
	if int(typeIdx) >= len(m.Types) {
		return nil
	}
	return &m.Types[typeIdx]
}

// FindImport returns the function index of an imported function.
func (m *Module) FindImport(module, name string) (uint32, bool) {
	var idx uint32
	for _, imp := range m.Imports {
		if imp.Desc.Kind != KindFunc {
			continue
		}
		if imp.Module == module && imp.Name == name {
			return idx, true
		}
		idx++
	}
	return 0, false
}

// FindExport returns the export with the given name.
func (m *Module) FindExport(name string) (Export, bool) {
	for _, e := range m.Exports {
		if e.Name == name {
			return e, true
		}
	}
	return Export{}, false
}

// AddType returns the index of ft in the type section, appending it if
// no structurally equal type exists.
func (m *Module) AddType(ft FuncType) uint32 {
	for i, t := range m.Types {
		if typesEqual(t, ft) {
			return uint32(i)
		}
	}
	m.Types = append(m.Types, ft)
	return uint32(len(m.Types) - 1)
}

func typesEqual(a, b FuncType) bool {
	if len(a.Params) != len(b.Params) || len(a.Results) != len(b.Results) {
		return false
	}
	for i := range a.Params {
		if a.Params[i] != b.Params[i] {
			return false
		}
	}
	for i := range a.Results {
		if a.Results[i] != b.Results[i] {
			return false
		}
	}
	return true
}
