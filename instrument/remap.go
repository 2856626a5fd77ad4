package instrument

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/canfuzz/wasm"
)

// funcRemap shifts defined function indices by the number of function
// imports inserted after the original imports.
type funcRemap struct {
	imported uint32
	added    uint32
}

func (f funcRemap) apply(idx uint32) uint32 {
	if idx < f.imported {
		return idx
	}
	return idx + f.added
}

func (f funcRemap) identity() bool {
	return f.added == 0
}

// remapModule rewrites every function index outside function bodies:
// exports, the start function, element segments, global initializers and
// the name section.
func remapModule(m *wasm.Module, f funcRemap) error {
	if f.identity() {
		return nil
	}
	for i := range m.Exports {
		if m.Exports[i].Kind == wasm.KindFunc {
			m.Exports[i].Idx = f.apply(m.Exports[i].Idx)
		}
	}
	if m.Start != nil {
		s := f.apply(*m.Start)
		m.Start = &s
	}
	for i := range m.Globals {
		expr, err := remapConstExpr(m.Globals[i].Init, f)
		if err != nil {
			return fmt.Errorf("global %d: %w", i, err)
		}
		m.Globals[i].Init = expr
	}
	for i := range m.Elements {
		e := &m.Elements[i]
		if e.Offset != nil {
			expr, err := remapConstExpr(e.Offset, f)
			if err != nil {
				return fmt.Errorf("element %d offset: %w", i, err)
			}
			e.Offset = expr
		}
		if e.FuncIdxs != nil {
			idxs := make([]uint32, len(e.FuncIdxs))
			for j, idx := range e.FuncIdxs {
				idxs[j] = f.apply(idx)
			}
			e.FuncIdxs = idxs
		}
		for j := range e.Exprs {
			expr, err := remapConstExpr(e.Exprs[j], f)
			if err != nil {
				return fmt.Errorf("element %d expression %d: %w", i, j, err)
			}
			e.Exprs[j] = expr
		}
	}
	remapNames(m, f)
	return nil
}

// remapConstExpr rewrites ref.func operands; other expressions come back
// unchanged.
func remapConstExpr(expr []byte, f funcRemap) ([]byte, error) {
	instrs, err := wasm.DecodeInstructions(expr)
	if err != nil {
		return nil, err
	}
	changed := false
	for i := range instrs {
		if imm, ok := instrs[i].Imm.(wasm.RefFuncImm); ok {
			instrs[i].Imm = wasm.RefFuncImm{FuncIdx: f.apply(imm.FuncIdx)}
			changed = true
		}
	}
	if !changed {
		return expr, nil
	}
	return wasm.EncodeInstructions(instrs), nil
}

// remapNames keeps debug names aligned with the shifted index space. A
// name section that cannot be decoded is dropped rather than left stale.
func remapNames(m *wasm.Module, f funcRemap) {
	kept := m.Customs[:0]
	for _, c := range m.Customs {
		if c.Name == wasm.NameSectionName {
			data, err := wasm.RemapNameSection(c.Data, f.apply)
			if err != nil {
				Logger().Warn("dropping undecodable name section", zap.Error(err))
				continue
			}
			c.Data = data
		}
		kept = append(kept, c)
	}
	m.Customs = kept
}
