package wasm

import (
	"errors"
	"fmt"

	"github.com/wippyai/canfuzz/wasm/internal/binary"
)

// Instruction decoding errors.
var (
	ErrUnknownOpcode = errors.New("unknown opcode")
	// ErrUnsupported marks well-formed encodings outside the supported
	// feature set (GC types and instructions, custom page sizes).
	ErrUnsupported = errors.New("unsupported feature")
)

// Instruction represents a decoded WebAssembly instruction.
//
// Immediates the coverage rewrite inspects or creates are decoded into Imm.
// All other immediates are kept verbatim in Raw, so re-encoding an
// instruction never changes operands the rewrite does not understand.
type Instruction struct {
	Imm    any
	Raw    []byte
	Sub    uint32 // Sub-opcode for prefixed instructions
	Opcode byte
}

// BlockImm holds the block type for block, loop, if and try.
type BlockImm struct {
	Type int64 // s33: BlockTypeVoid, a negative value type, or a type index
}

// BranchImm holds the label index for br, br_if and br_on_null.
type BranchImm struct {
	LabelIdx uint32
}

// BrTableImm holds the label table for br_table.
type BrTableImm struct {
	Labels  []uint32
	Default uint32
}

// CallImm holds the function index for call and return_call.
type CallImm struct {
	FuncIdx uint32
}

// RefFuncImm holds the function index for ref.func.
type RefFuncImm struct {
	FuncIdx uint32
}

// LocalImm holds the local index for local.get, local.set, local.tee.
type LocalImm struct {
	LocalIdx uint32
}

// I32Imm holds the constant value for i32.const.
type I32Imm struct {
	Value int32
}

// I64Imm holds the constant value for i64.const.
type I64Imm struct {
	Value int64
}

// MemoryImm holds memory access parameters for load and store instructions.
type MemoryImm struct {
	Offset uint64
	Align  uint32
	MemIdx uint32
}

// DecodeInstructions decodes a sequence of instructions from raw bytes.
func DecodeInstructions(code []byte) ([]Instruction, error) {
	r := binary.NewReader(code)
	var instrs []Instruction
	for !r.EOF() {
		start := r.Position()
		instr, err := decodeInstruction(r)
		if err != nil {
			return nil, fmt.Errorf("instruction at offset %d: %w", start, err)
		}
		instrs = append(instrs, instr)
	}
	return instrs, nil
}

func decodeInstruction(r *binary.Reader) (Instruction, error) {
	op, err := r.ReadByte()
	if err != nil {
		return Instruction{}, err
	}
	instr := Instruction{Opcode: op}
	start := r.Position()

	switch {
	case op == OpBlock || op == OpLoop || op == OpIf || op == OpTry:
		bt, err := readBlockType(r)
		if err != nil {
			return instr, err
		}
		instr.Imm = BlockImm{Type: bt}

	case op == OpBr || op == OpBrIf || op == OpBrOnNull || op == OpBrOnNonNull:
		l, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = BranchImm{LabelIdx: l}

	case op == OpBrTable:
		n, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		if int(n) > r.Len() {
			return instr, fmt.Errorf("br_table: %d labels exceed remaining input", n)
		}
		labels := make([]uint32, n)
		for i := range labels {
			if labels[i], err = r.ReadU32(); err != nil {
				return instr, err
			}
		}
		def, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = BrTableImm{Labels: labels, Default: def}

	case op == OpCall || op == OpReturnCall:
		f, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = CallImm{FuncIdx: f}

	case op == OpRefFunc:
		f, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = RefFuncImm{FuncIdx: f}

	case op >= OpLocalGet && op <= OpLocalTee:
		l, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = LocalImm{LocalIdx: l}

	case op == OpI32Const:
		v, err := r.ReadS32()
		if err != nil {
			return instr, err
		}
		instr.Imm = I32Imm{Value: v}

	case op == OpI64Const:
		v, err := r.ReadS64()
		if err != nil {
			return instr, err
		}
		instr.Imm = I64Imm{Value: v}

	case op >= OpI32Load && op <= OpI64Store32:
		m, err := readMemArg(r)
		if err != nil {
			return instr, err
		}
		instr.Imm = m

	case op == OpPrefixMisc || op == OpPrefixSIMD || op == OpPrefixAtomic:
		sub, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Sub = sub
		start = r.Position()
		if err := skipPrefixed(r, op, sub); err != nil {
			return instr, err
		}
		if r.Position() > start {
			instr.Raw = r.Span(start)
		}

	case op == OpPrefixGC:
		return instr, fmt.Errorf("%w: gc instruction prefix 0x%02x", ErrUnsupported, op)

	default:
		if err := skipImmediate(r, op); err != nil {
			return instr, err
		}
		if r.Position() > start {
			instr.Raw = r.Span(start)
		}
	}
	return instr, nil
}

// skipImmediate consumes the immediates of an unprefixed opcode that is
// kept opaque.
func skipImmediate(r *binary.Reader, op byte) error {
	switch {
	case op == OpUnreachable || op == OpNop || op == OpElse || op == OpEnd ||
		op == OpReturn || op == OpThrowRef || op == OpCatchAll ||
		op == OpDrop || op == OpSelect:
		return nil
	case op == OpCatch || op == OpThrow || op == OpRethrow || op == OpDelegate,
		op == OpCallRef || op == OpReturnCallRef,
		op == OpGlobalGet || op == OpGlobalSet,
		op == OpTableGet || op == OpTableSet,
		op == OpMemorySize || op == OpMemoryGrow:
		_, err := r.ReadU32()
		return err
	case op == OpCallIndirect || op == OpReturnCallIndirect:
		if _, err := r.ReadU32(); err != nil {
			return err
		}
		_, err := r.ReadU32()
		return err
	case op == OpSelectType:
		n, err := r.ReadU32()
		if err != nil {
			return err
		}
		for range n {
			if _, err := readValType(r); err != nil {
				return err
			}
		}
		return nil
	case op == OpTryTable:
		if _, err := readBlockType(r); err != nil {
			return err
		}
		n, err := r.ReadU32()
		if err != nil {
			return err
		}
		for range n {
			kind, err := r.ReadByte()
			if err != nil {
				return err
			}
			switch kind {
			case CatchKindCatch, CatchKindCatchRef:
				if _, err := r.ReadU32(); err != nil {
					return err
				}
			case CatchKindCatchAll, CatchKindCatchAllRef:
			default:
				return fmt.Errorf("invalid catch kind 0x%02x", kind)
			}
			if _, err := r.ReadU32(); err != nil {
				return err
			}
		}
		return nil
	case op == OpF32Const:
		_, err := r.ReadBytes(4)
		return err
	case op == OpF64Const:
		_, err := r.ReadBytes(8)
		return err
	case op >= OpI32Eqz && op <= OpI64Extend32S:
		return nil
	case op == OpRefNull:
		_, err := readHeapType(r)
		return err
	case op == OpRefIsNull || op == OpRefEq || op == OpRefAsNonNull:
		return nil
	}
	return fmt.Errorf("%w 0x%02x", ErrUnknownOpcode, op)
}

func skipPrefixed(r *binary.Reader, prefix byte, sub uint32) error {
	switch prefix {
	case OpPrefixMisc:
		return skipMisc(r, sub)
	case OpPrefixSIMD:
		return skipSIMD(r, sub)
	default:
		return skipAtomic(r, sub)
	}
}

func skipMisc(r *binary.Reader, sub uint32) error {
	var n int
	switch {
	case sub <= MiscTruncSatLast:
		n = 0
	case sub == MiscMemoryInit || sub == MiscMemoryCopy || sub == MiscTableInit ||
		sub == MiscTableCopy:
		n = 2
	case sub == MiscDataDrop || sub == MiscMemoryFill || sub == MiscElemDrop ||
		sub == MiscTableGrow || sub == MiscTableSize || sub == MiscTableFill ||
		sub == MiscMemoryDiscard:
		n = 1
	default:
		return fmt.Errorf("%w 0xfc %d", ErrUnknownOpcode, sub)
	}
	for range n {
		if _, err := r.ReadU32(); err != nil {
			return err
		}
	}
	return nil
}

func skipSIMD(r *binary.Reader, sub uint32) error {
	switch {
	case sub <= simdLoadLast:
		_, err := readMemArg(r)
		return err
	case sub == simdConst || sub == simdShuffle:
		_, err := r.ReadBytes(16)
		return err
	case sub >= simdLaneFirst && sub <= simdLaneLast:
		_, err := r.ReadByte()
		return err
	case sub >= simdLoadLaneFirst && sub <= simdLoadLaneLast:
		if _, err := readMemArg(r); err != nil {
			return err
		}
		_, err := r.ReadByte()
		return err
	case sub >= simdLoadZeroFirst && sub <= simdLoadZeroLast:
		_, err := readMemArg(r)
		return err
	case sub <= simdNoImmLast:
		return nil
	case sub >= simdRelaxedFirst && sub <= simdRelaxedLast:
		return nil
	}
	return fmt.Errorf("%w 0xfd %d", ErrUnknownOpcode, sub)
}

func skipAtomic(r *binary.Reader, sub uint32) error {
	switch {
	case sub == atomicFence:
		_, err := r.ReadByte()
		return err
	case sub > atomicLastOpcode:
		return fmt.Errorf("%w 0xfe %d", ErrUnknownOpcode, sub)
	}
	_, err := readMemArg(r)
	return err
}

func readMemArg(r *binary.Reader) (MemoryImm, error) {
	var m MemoryImm
	align, err := r.ReadU32()
	if err != nil {
		return m, err
	}
	if align&memArgMultiMemBit != 0 {
		if m.MemIdx, err = r.ReadU32(); err != nil {
			return m, err
		}
		align &^= memArgMultiMemBit
	}
	if align > memArgMaxAlignBits {
		return m, fmt.Errorf("memarg alignment flags 0x%x", align)
	}
	m.Align = align
	if m.Offset, err = r.ReadU64(); err != nil {
		return m, err
	}
	return m, nil
}

func readBlockType(r *binary.Reader) (int64, error) {
	bt, err := r.ReadS33()
	if err != nil {
		return 0, err
	}
	// 0x63 and 0x64 decode as -29 and -28 and introduce a heap type
	if bt == -29 || bt == -28 {
		return 0, fmt.Errorf("%w: typed reference block type", ErrUnsupported)
	}
	return bt, nil
}

func readHeapType(r *binary.Reader) (int64, error) {
	return r.ReadS33()
}

// AppendInstruction appends the binary encoding of instr to dst.
func AppendInstruction(dst []byte, instr Instruction) []byte {
	dst = append(dst, instr.Opcode)
	switch instr.Opcode {
	case OpPrefixMisc, OpPrefixSIMD, OpPrefixAtomic:
		dst = binary.AppendU64(dst, uint64(instr.Sub))
	}

	switch imm := instr.Imm.(type) {
	case BlockImm:
		dst = binary.AppendS64(dst, imm.Type)
	case BranchImm:
		dst = binary.AppendU64(dst, uint64(imm.LabelIdx))
	case BrTableImm:
		dst = binary.AppendU64(dst, uint64(len(imm.Labels)))
		for _, l := range imm.Labels {
			dst = binary.AppendU64(dst, uint64(l))
		}
		dst = binary.AppendU64(dst, uint64(imm.Default))
	case CallImm:
		dst = binary.AppendU64(dst, uint64(imm.FuncIdx))
	case RefFuncImm:
		dst = binary.AppendU64(dst, uint64(imm.FuncIdx))
	case LocalImm:
		dst = binary.AppendU64(dst, uint64(imm.LocalIdx))
	case I32Imm:
		dst = binary.AppendS64(dst, int64(imm.Value))
	case I64Imm:
		dst = binary.AppendS64(dst, imm.Value)
	case MemoryImm:
		align := imm.Align
		if imm.MemIdx != 0 {
			align |= memArgMultiMemBit
		}
		dst = binary.AppendU64(dst, uint64(align))
		if imm.MemIdx != 0 {
			dst = binary.AppendU64(dst, uint64(imm.MemIdx))
		}
		dst = binary.AppendU64(dst, imm.Offset)
	}
	return append(dst, instr.Raw...)
}

// EncodeInstructions encodes a sequence of instructions.
func EncodeInstructions(instrs []Instruction) []byte {
	var out []byte
	for _, instr := range instrs {
		out = AppendInstruction(out, instr)
	}
	return out
}
