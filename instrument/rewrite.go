package instrument

import (
	"fmt"

	"github.com/wippyai/canfuzz/wasm"
)

type frameKind uint8

const (
	frameFunc frameKind = iota
	frameBlock
	frameLoop
	frameIf
	frameTry
	frameTryTable
)

type frame struct {
	elseEdge uint32
	kind     frameKind
	hasElse  bool
}

// bodyRewriter injects edge counters into one function body.
type bodyRewriter struct {
	remap   func(uint32) uint32
	out     []byte
	frames  []frame
	hit     uint32 // Function index of the counter helper
	scratch uint32 // Local index of the scratch i32
	next    uint32 // Next free edge index, shared across functions
	used    bool   // Whether the scratch local is referenced
}

// structureError reports a control-flow reconstruction failure at instruction i.
type structureError struct {
	detail string
	instr  int
}

func (e *structureError) Error() string {
	return fmt.Sprintf("instr[%d]: %s", e.instr, e.detail)
}

func (r *bodyRewriter) fail(i int, format string, args ...any) error {
	return &structureError{instr: i, detail: fmt.Sprintf(format, args...)}
}

func (r *bodyRewriter) emit(instrs ...wasm.Instruction) {
	for _, in := range instrs {
		r.out = wasm.AppendInstruction(r.out, in)
	}
}

func (r *bodyRewriter) edge() uint32 {
	e := r.next
	r.next++
	return e
}

// count emits a call bumping the counter of edge e.
func (r *bodyRewriter) count(e uint32) {
	r.emit(i32Const(e), call(r.hit))
}

// rewrite consumes the decoded body and leaves the instrumented stream in
// r.out. The stream must be one balanced expression terminated by end.
func (r *bodyRewriter) rewrite(instrs []wasm.Instruction) error {
	r.frames = append(r.frames[:0], frame{kind: frameFunc})

	for i, in := range instrs {
		if len(r.frames) == 0 {
			return r.fail(i, "trailing code after final end")
		}
		top := &r.frames[len(r.frames)-1]

		switch in.Opcode {
		case wasm.OpBlock:
			r.push(frameBlock)
			r.emit(in)
		case wasm.OpLoop:
			r.push(frameLoop)
			r.emit(in)
		case wasm.OpTry:
			r.push(frameTry)
			r.emit(in)
		case wasm.OpTryTable:
			r.push(frameTryTable)
			r.emit(in)

		case wasm.OpIf:
			then := r.edge()
			r.frames = append(r.frames, frame{kind: frameIf, elseEdge: r.edge()})
			r.emit(in)
			r.count(then)

		case wasm.OpElse:
			if top.kind != frameIf || top.hasElse {
				return r.fail(i, "else without matching if")
			}
			top.hasElse = true
			r.emit(in)
			r.count(top.elseEdge)

		case wasm.OpCatch, wasm.OpCatchAll:
			if top.kind != frameTry {
				return r.fail(i, "catch outside try")
			}
			r.emit(in)
			r.count(r.edge())

		case wasm.OpDelegate:
			if top.kind != frameTry {
				return r.fail(i, "delegate outside try")
			}
			r.emit(in)
			r.frames = r.frames[:len(r.frames)-1]

		case wasm.OpEnd:
			if top.kind == frameIf && !top.hasElse {
				r.emit(wasm.Instruction{Opcode: wasm.OpElse})
				r.count(top.elseEdge)
			}
			r.frames = r.frames[:len(r.frames)-1]
			r.emit(in)

		case wasm.OpBr, wasm.OpBrOnNull, wasm.OpBrOnNonNull:
			if err := r.checkLabel(i, in.Imm.(wasm.BranchImm).LabelIdx); err != nil {
				return err
			}
			r.emit(in)

		case wasm.OpBrIf:
			if err := r.checkLabel(i, in.Imm.(wasm.BranchImm).LabelIdx); err != nil {
				return err
			}
			r.brIf(in)

		case wasm.OpBrTable:
			imm := in.Imm.(wasm.BrTableImm)
			for _, l := range imm.Labels {
				if err := r.checkLabel(i, l); err != nil {
					return err
				}
			}
			if err := r.checkLabel(i, imm.Default); err != nil {
				return err
			}
			r.brTable(in, uint32(len(imm.Labels)))

		case wasm.OpCall, wasm.OpReturnCall:
			in.Imm = wasm.CallImm{FuncIdx: r.remap(in.Imm.(wasm.CallImm).FuncIdx)}
			r.emit(in)

		case wasm.OpRefFunc:
			in.Imm = wasm.RefFuncImm{FuncIdx: r.remap(in.Imm.(wasm.RefFuncImm).FuncIdx)}
			r.emit(in)

		default:
			r.emit(in)
		}
	}

	if len(r.frames) != 0 {
		return r.fail(len(instrs), "%d unterminated blocks", len(r.frames))
	}
	return nil
}

func (r *bodyRewriter) push(k frameKind) {
	r.frames = append(r.frames, frame{kind: k})
}

func (r *bodyRewriter) checkLabel(i int, label uint32) error {
	if int64(label) >= int64(len(r.frames)) {
		return r.fail(i, "label depth %d exceeds %d enclosing blocks", label, len(r.frames))
	}
	return nil
}

// brIf counts the taken edge when the condition is non-zero and the
// fall-through edge otherwise. The condition is kept in the scratch local
// so the branch sees the original operand.
func (r *bodyRewriter) brIf(in wasm.Instruction) {
	taken := r.edge()
	r.edge() // fall-through is taken+1
	r.used = true
	r.emit(
		local(wasm.OpLocalTee, r.scratch),
		wasm.Instruction{Opcode: wasm.OpI32Eqz},
		i32Const(taken),
		wasm.Instruction{Opcode: wasm.OpI32Add},
		call(r.hit),
		local(wasm.OpLocalGet, r.scratch),
		in,
	)
}

// brTable counts slot min(selector, n), where slot n is the default.
func (r *bodyRewriter) brTable(in wasm.Instruction, n uint32) {
	first := r.edge()
	for range n {
		r.edge()
	}
	r.used = true
	r.emit(
		local(wasm.OpLocalSet, r.scratch),
		local(wasm.OpLocalGet, r.scratch),
		i32Const(n),
		local(wasm.OpLocalGet, r.scratch),
		i32Const(n),
		wasm.Instruction{Opcode: wasm.OpI32LtU},
		wasm.Instruction{Opcode: wasm.OpSelect},
		i32Const(first),
		wasm.Instruction{Opcode: wasm.OpI32Add},
		call(r.hit),
		local(wasm.OpLocalGet, r.scratch),
		in,
	)
}

func i32Const(v uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: int32(v)}}
}

func call(f uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: f}}
}

func local(op byte, idx uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: op, Imm: wasm.LocalImm{LocalIdx: idx}}
}
