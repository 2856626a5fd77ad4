package wasm

// WebAssembly binary format magic number and version.
const (
	// Magic is the WebAssembly binary magic number ("\0asm" in little-endian).
	Magic uint32 = 0x6D736100

	// Version is the supported WebAssembly binary format version.
	Version uint32 = 0x01
)

// PageSize is the size of one linear memory page in bytes.
const PageSize = 65536

// Section IDs define the binary identifiers for each module section.
const (
	SectionCustom    byte = 0
	SectionType      byte = 1
	SectionImport    byte = 2
	SectionFunction  byte = 3
	SectionTable     byte = 4
	SectionMemory    byte = 5
	SectionGlobal    byte = 6
	SectionExport    byte = 7
	SectionStart     byte = 8
	SectionElement   byte = 9
	SectionCode      byte = 10
	SectionData      byte = 11
	SectionDataCount byte = 12
	SectionTag       byte = 13
)

// Import/Export descriptor kinds.
const (
	KindFunc   byte = 0
	KindTable  byte = 1
	KindMemory byte = 2
	KindGlobal byte = 3
	KindTag    byte = 4
)

// Value type encodings.
const (
	ValI32     ValType = 0x7F
	ValI64     ValType = 0x7E
	ValF32     ValType = 0x7D
	ValF64     ValType = 0x7C
	ValV128    ValType = 0x7B
	ValFuncRef ValType = 0x70
	ValExtern  ValType = 0x6F
	ValExnRef  ValType = 0x69

	// typed references carry a heap type and are not modeled by ValType
	valRefNull byte = 0x63
	valRef     byte = 0x64
)

// Block type constants (s33 encoding).
const (
	BlockTypeVoid int64 = -64 // 0x40
	BlockTypeI32  int64 = -1  // 0x7F
)

// Other type section markers.
const (
	typeFunc   byte = 0x60
	typeRec    byte = 0x4E
	typeSub    byte = 0x50
	typeSubFin byte = 0x4F
)

// Control opcodes
const (
	OpUnreachable        byte = 0x00
	OpNop                byte = 0x01
	OpBlock              byte = 0x02
	OpLoop               byte = 0x03
	OpIf                 byte = 0x04
	OpElse               byte = 0x05
	OpTry                byte = 0x06
	OpCatch              byte = 0x07
	OpThrow              byte = 0x08
	OpRethrow            byte = 0x09
	OpThrowRef           byte = 0x0A
	OpEnd                byte = 0x0B
	OpBr                 byte = 0x0C
	OpBrIf               byte = 0x0D
	OpBrTable            byte = 0x0E
	OpReturn             byte = 0x0F
	OpCall               byte = 0x10
	OpCallIndirect       byte = 0x11
	OpReturnCall         byte = 0x12
	OpReturnCallIndirect byte = 0x13
	OpCallRef            byte = 0x14
	OpReturnCallRef      byte = 0x15
	OpDelegate           byte = 0x18
	OpCatchAll           byte = 0x19
	OpDrop               byte = 0x1A
	OpSelect             byte = 0x1B
	OpSelectType         byte = 0x1C
	OpTryTable           byte = 0x1F
)

// Variable, table and memory opcodes
const (
	OpLocalGet   byte = 0x20
	OpLocalSet   byte = 0x21
	OpLocalTee   byte = 0x22
	OpGlobalGet  byte = 0x23
	OpGlobalSet  byte = 0x24
	OpTableGet   byte = 0x25
	OpTableSet   byte = 0x26
	OpI32Load    byte = 0x28
	OpI32Load8U  byte = 0x2D
	OpI32Store   byte = 0x36
	OpI64Store   byte = 0x37
	OpI64Store32 byte = 0x3E
	OpI32Store8  byte = 0x3A
	OpMemorySize byte = 0x3F
	OpMemoryGrow byte = 0x40
)

// Constant opcodes
const (
	OpI32Const byte = 0x41
	OpI64Const byte = 0x42
	OpF32Const byte = 0x43
	OpF64Const byte = 0x44
)

// Numeric opcodes emitted by the instrumentation. Everything in
// [OpI32Eqz, OpI64Extend32S] carries no immediate.
const (
	OpI32Eqz        byte = 0x45
	OpI32Eq         byte = 0x46
	OpI32LtU        byte = 0x49
	OpI32Add        byte = 0x6A
	OpI32Sub        byte = 0x6B
	OpI32ShrU       byte = 0x76
	OpI64Add        byte = 0x7C
	OpI64ExtendI32U byte = 0xAD
	OpI64Extend32S  byte = 0xC4
)

// Reference opcodes
const (
	OpRefNull      byte = 0xD0
	OpRefIsNull    byte = 0xD1
	OpRefFunc      byte = 0xD2
	OpRefEq        byte = 0xD3
	OpRefAsNonNull byte = 0xD4
	OpBrOnNull     byte = 0xD5
	OpBrOnNonNull  byte = 0xD6
)

// Prefix opcodes
const (
	OpPrefixGC     byte = 0xFB
	OpPrefixMisc   byte = 0xFC
	OpPrefixSIMD   byte = 0xFD
	OpPrefixAtomic byte = 0xFE
)

// Misc (0xFC) sub-opcodes with immediates
const (
	MiscTruncSatLast  uint32 = 0x07
	MiscMemoryInit    uint32 = 0x08
	MiscDataDrop      uint32 = 0x09
	MiscMemoryCopy    uint32 = 0x0A
	MiscMemoryFill    uint32 = 0x0B
	MiscTableInit     uint32 = 0x0C
	MiscElemDrop      uint32 = 0x0D
	MiscTableCopy     uint32 = 0x0E
	MiscTableGrow     uint32 = 0x0F
	MiscTableSize     uint32 = 0x10
	MiscTableFill     uint32 = 0x11
	MiscMemoryDiscard uint32 = 0x12
)

// SIMD (0xFD) sub-opcode ranges with immediates
const (
	simdLoadLast       uint32 = 0x0B // v128.load .. v128.store take a memarg
	simdConst          uint32 = 0x0C
	simdShuffle        uint32 = 0x0D
	simdLaneFirst      uint32 = 0x15 // extract/replace lane
	simdLaneLast       uint32 = 0x22
	simdLoadLaneFirst  uint32 = 0x54 // v128.load8_lane .. v128.store64_lane
	simdLoadLaneLast   uint32 = 0x5B
	simdLoadZeroFirst  uint32 = 0x5C
	simdLoadZeroLast   uint32 = 0x5D
	simdRelaxedFirst   uint32 = 0x100
	simdRelaxedLast    uint32 = 0x113
	simdNoImmLast      uint32 = 0xFF
	atomicFence        uint32 = 0x03
	atomicLastOpcode   uint32 = 0x4E
	memArgMultiMemBit  uint32 = 0x40
	memArgMaxAlignBits uint32 = 0x3F
)

// Try-table catch clause kinds
const (
	CatchKindCatch       byte = 0x00
	CatchKindCatchRef    byte = 0x01
	CatchKindCatchAll    byte = 0x02
	CatchKindCatchAllRef byte = 0x03
)

// Memory limit flags
const (
	limitsHasMax   byte = 0x01
	limitsShared   byte = 0x02
	limitsMemory64 byte = 0x04
	limitsPageSize byte = 0x08
)
