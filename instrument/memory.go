package instrument

import (
	"github.com/wippyai/canfuzz/errors"
	"github.com/wippyai/canfuzz/wasm"
)

const (
	maxPages32 = 1 << 16
	maxPages64 = 1 << 48
)

// placeBuffer grows memory 0 to hold edges counters and returns the layout.
// A module without memory gets one.
func placeBuffer(m *wasm.Module, edges, reserve uint32) (Layout, error) {
	if m.NumImportedMemories() > 0 {
		return Layout{}, errors.Instrumentation(nil, "coverage map cannot be placed in an imported memory", nil)
	}
	if len(m.Memories) == 0 {
		m.Memories = append(m.Memories, wasm.MemoryType{})
	}
	mem := &m.Memories[0].Limits

	pages := (uint64(edges) + wasm.PageSize - 1) / wasm.PageSize
	if pages < uint64(reserve) {
		pages = uint64(reserve)
	}
	limit := uint64(maxPages32)
	if mem.Memory64 {
		limit = maxPages64
	}
	if mem.Min+pages > limit {
		return Layout{}, errors.New(errors.PhaseInstrument, errors.KindInstrumentation).
			Value(mem.Min+pages).
			Detail("memory minimum of %d pages leaves no room for %d coverage pages", mem.Min, pages).
			Build()
	}

	layout := Layout{
		Base:     mem.Min * wasm.PageSize,
		Size:     edges,
		Pages:    uint32(pages),
		Memory64: mem.Memory64,
	}
	mem.Min += pages
	if mem.Max != nil {
		grown := *mem.Max + pages
		if grown > limit {
			grown = limit
		}
		mem.Max = &grown
	}
	return layout, nil
}

// helperBody builds the counter bump: v' = (v+1) - ((v+1) >> 8) at
// Base+edge, which saturates at 255.
func helperBody(l Layout) []byte {
	addr := []wasm.Instruction{local(wasm.OpLocalGet, 0)}
	if l.Memory64 {
		addr = append(addr, wasm.Instruction{Opcode: wasm.OpI64ExtendI32U})
	}
	mem := wasm.MemoryImm{Offset: l.Base}

	var instrs []wasm.Instruction
	instrs = append(instrs, addr...)
	instrs = append(instrs, addr...)
	instrs = append(instrs,
		wasm.Instruction{Opcode: wasm.OpI32Load8U, Imm: mem},
		i32Const(1),
		wasm.Instruction{Opcode: wasm.OpI32Add},
		local(wasm.OpLocalTee, 1),
		local(wasm.OpLocalGet, 1),
		i32Const(8),
		wasm.Instruction{Opcode: wasm.OpI32ShrU},
		wasm.Instruction{Opcode: wasm.OpI32Sub},
		wasm.Instruction{Opcode: wasm.OpI32Store8, Imm: mem},
		wasm.Instruction{Opcode: wasm.OpEnd},
	)
	return wasm.EncodeInstructions(instrs)
}

// retrievalBody replies with the map: msg_reply_data_append(Base, Size)
// then msg_reply. wide selects i64 operands for 64-bit system APIs.
func retrievalBody(l Layout, appendIdx, replyIdx uint32, wide bool) []byte {
	return wasm.EncodeInstructions([]wasm.Instruction{
		addrConst(l.Base, wide),
		addrConst(uint64(l.Size), wide),
		call(appendIdx),
		call(replyIdx),
		{Opcode: wasm.OpEnd},
	})
}

func addrConst(v uint64, wide bool) wasm.Instruction {
	if wide {
		return wasm.Instruction{Opcode: wasm.OpI64Const, Imm: wasm.I64Imm{Value: int64(v)}}
	}
	return wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: int32(uint32(v))}}
}

// constExpr encodes an immutable global initializer.
func constExpr(v uint64, wide bool) []byte {
	return wasm.EncodeInstructions([]wasm.Instruction{
		addrConst(v, wide),
		{Opcode: wasm.OpEnd},
	})
}
