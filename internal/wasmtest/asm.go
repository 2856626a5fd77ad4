package wasmtest

import (
	"github.com/wippyai/canfuzz/wasm"
)

// Asm is a minimal instruction assembler. The zero value is ready to use.
type Asm struct {
	code []byte
}

// Bytes returns the assembled code.
func (a *Asm) Bytes() []byte {
	return a.code
}

// Op appends an opcode followed by unsigned LEB128 immediates.
func (a *Asm) Op(op byte, imms ...uint64) *Asm {
	a.code = append(a.code, op)
	for _, imm := range imms {
		a.code = wasm.AppendULEB128(a.code, imm)
	}
	return a
}

// Raw appends raw bytes.
func (a *Asm) Raw(b ...byte) *Asm {
	a.code = append(a.code, b...)
	return a
}

func (a *Asm) block(op byte, bt int64) *Asm {
	a.code = append(a.code, op)
	a.code = wasm.AppendSLEB128(a.code, bt)
	return a
}

// Control and variable instructions.

func (a *Asm) Block() *Asm { return a.block(wasm.OpBlock, wasm.BlockTypeVoid) }
func (a *Asm) Loop() *Asm { return a.block(wasm.OpLoop, wasm.BlockTypeVoid) }
func (a *Asm) If() *Asm { return a.block(wasm.OpIf, wasm.BlockTypeVoid) }
func (a *Asm) IfI32() *Asm { return a.block(wasm.OpIf, wasm.BlockTypeI32) }
func (a *Asm) Else() *Asm { return a.Op(wasm.OpElse) }
func (a *Asm) End() *Asm { return a.Op(wasm.OpEnd) }
func (a *Asm) Br(l uint32) *Asm { return a.Op(wasm.OpBr, uint64(l)) }
func (a *Asm) BrIf(l uint32) *Asm { return a.Op(wasm.OpBrIf, uint64(l)) }
func (a *Asm) Return() *Asm { return a.Op(wasm.OpReturn) }
func (a *Asm) Unreachable() *Asm { return a.Op(wasm.OpUnreachable) }
func (a *Asm) Nop() *Asm { return a.Op(wasm.OpNop) }
func (a *Asm) Drop() *Asm { return a.Op(wasm.OpDrop) }
func (a *Asm) Call(f uint32) *Asm { return a.Op(wasm.OpCall, uint64(f)) }
func (a *Asm) LocalGet(i uint32) *Asm { return a.Op(wasm.OpLocalGet, uint64(i)) }
func (a *Asm) LocalSet(i uint32) *Asm { return a.Op(wasm.OpLocalSet, uint64(i)) }
func (a *Asm) GlobalGet(i uint32) *Asm { return a.Op(wasm.OpGlobalGet, uint64(i)) }
func (a *Asm) RefFunc(f uint32) *Asm { return a.Op(wasm.OpRefFunc, uint64(f)) }

// BrTable appends br_table with the given labels and default.
func (a *Asm) BrTable(def uint32, labels ...uint32) *Asm {
	a.code = append(a.code, wasm.OpBrTable)
	a.code = wasm.AppendULEB128(a.code, uint64(len(labels)))
	for _, l := range labels {
		a.code = wasm.AppendULEB128(a.code, uint64(l))
	}
	a.code = wasm.AppendULEB128(a.code, uint64(def))
	return a
}

// I32Const appends i32.const v.
func (a *Asm) I32Const(v int32) *Asm {
	a.code = append(a.code, wasm.OpI32Const)
	a.code = wasm.AppendSLEB128(a.code, int64(v))
	return a
}

// I32Load8U appends i32.load8_u with the given offset.
func (a *Asm) I32Load8U(offset uint32) *Asm {
	return a.Op(wasm.OpI32Load8U, 0, uint64(offset))
}

// I32Load appends i32.load with the given offset.
func (a *Asm) I32Load(offset uint32) *Asm {
	return a.Op(wasm.OpI32Load, 2, uint64(offset))
}

// I32Store appends i32.store with the given offset.
func (a *Asm) I32Store(offset uint32) *Asm {
	return a.Op(wasm.OpI32Store, 2, uint64(offset))
}

// I64Store appends i64.store with the given offset.
func (a *Asm) I64Store(offset uint32) *Asm {
	return a.Op(wasm.OpI64Store, 3, uint64(offset))
}

// I32Add appends i32.add.
func (a *Asm) I32Add() *Asm { return a.Op(wasm.OpI32Add) }

// I32Eqz appends i32.eqz.
func (a *Asm) I32Eqz() *Asm { return a.Op(wasm.OpI32Eqz) }

// I32Eq appends i32.eq.
func (a *Asm) I32Eq() *Asm { return a.Op(wasm.OpI32Eq) }
