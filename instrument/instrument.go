package instrument

import (
	"context"
	stderrors "errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/canfuzz/errors"
	"github.com/wippyai/canfuzz/wasm"
)

// Instrument rewrites a module so every edge updates the coverage map.
// See InstrumentContext.
func Instrument(module []byte, cfg Config) (*Result, error) {
	return InstrumentContext(context.Background(), module, cfg)
}

// InstrumentContext rewrites a module so every edge updates the coverage
// map and adds the retrieval export. The input is never modified. On
// error no output is produced.
func InstrumentContext(ctx context.Context, module []byte, cfg Config) (*Result, error) {
	cfg = cfg.withDefaults()

	m, err := wasm.ParseModule(module)
	if err != nil {
		if stderrors.Is(err, wasm.ErrUnsupported) {
			return nil, errors.Instrumentation(nil, "module uses an unsupported feature", err)
		}
		return nil, errors.MalformedModule(err)
	}
	if _, exists := m.FindExport(CoverageExport); exists {
		return nil, errors.Instrumentation(nil, "module already exports "+CoverageExport, nil)
	}
	if m.NumImportedMemories() > 0 {
		return nil, errors.Instrumentation(nil, "coverage map cannot be placed in an imported memory", nil)
	}
	memory64 := len(m.Memories) > 0 && m.Memories[0].Limits.Memory64

	names := functionNames(m)
	imported := uint32(m.NumImportedFuncs())
	appendIdx, replyIdx, added := ensureSystemImports(m, memory64)
	remap := funcRemap{imported: imported, added: added}
	newImported := imported + added
	defined := uint32(len(m.Funcs))
	helperIdx := newImported + defined
	retrievalIdx := helperIdx + 1

	rw := &bodyRewriter{remap: remap.apply, hit: helperIdx}
	var funcs []FunctionEdges
	for i := range m.Code {
		oldIdx := imported + uint32(i)
		ft := m.FuncTypeOf(newImported + uint32(i))
		if ft == nil {
			return nil, errors.Instrumentation([]string{fmt.Sprintf("func[%d]", oldIdx)}, "function has no valid type", nil)
		}
		instrs, err := wasm.DecodeInstructions(m.Code[i].Code)
		if err != nil {
			path := []string{fmt.Sprintf("func[%d]", oldIdx)}
			if stderrors.Is(err, wasm.ErrUnsupported) {
				return nil, errors.Instrumentation(path, "unsupported instruction", err)
			}
			return nil, errors.New(errors.PhaseInstrument, errors.KindMalformedModule).
				Path(path...).
				Detail("cannot decode function body").
				Cause(err).
				Build()
		}

		first := rw.next
		rw.out = make([]byte, 0, len(m.Code[i].Code)+len(m.Code[i].Code)/2)
		rw.scratch = uint32(uint64(len(ft.Params)) + m.Code[i].NumLocals())
		rw.used = false
		if err := rw.rewrite(instrs); err != nil {
			return nil, errors.Instrumentation([]string{fmt.Sprintf("func[%d]", oldIdx)}, "cannot reconstruct control flow", err)
		}

		body := wasm.FuncBody{Locals: m.Code[i].Locals, Code: rw.out}
		if rw.used {
			body.Locals = append(append([]wasm.LocalEntry(nil), body.Locals...), wasm.LocalEntry{Count: 1, Type: wasm.ValI32})
		}
		m.Code[i] = body

		if n := rw.next - first; n > 0 {
			funcs = append(funcs, FunctionEdges{
				Name:  names[oldIdx],
				Index: remap.apply(oldIdx),
				First: first,
				Count: n,
			})
		}
	}
	edges := rw.next

	if err := remapModule(m, remap); err != nil {
		return nil, errors.New(errors.PhaseInstrument, errors.KindMalformedModule).
			Detail("cannot remap function indices").
			Cause(err).
			Build()
	}

	layout, err := placeBuffer(m, edges, cfg.ReservePages)
	if err != nil {
		return nil, err
	}

	helperType := m.AddType(wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}})
	m.Funcs = append(m.Funcs, helperType)
	m.Code = append(m.Code, wasm.FuncBody{
		Locals: []wasm.LocalEntry{{Count: 1, Type: wasm.ValI32}},
		Code:   helperBody(layout),
	})

	wide := isWide(m, appendIdx)
	m.Funcs = append(m.Funcs, m.AddType(wasm.FuncType{}))
	m.Code = append(m.Code, wasm.FuncBody{Code: retrievalBody(layout, appendIdx, replyIdx, wide)})
	m.Exports = append(m.Exports, wasm.Export{Name: CoverageExport, Kind: wasm.KindFunc, Idx: retrievalIdx})

	if !cfg.SkipLayoutExports {
		addLayoutGlobals(m, layout)
	}

	out := m.Encode()
	if err := validate(ctx, cfg.Validator, module, out); err != nil {
		return nil, err
	}

	Logger().Debug("instrumented module",
		zap.Uint32("edges", edges),
		zap.Uint64("coverage_base", layout.Base),
		zap.Uint32("coverage_pages", layout.Pages),
		zap.Uint32("imports_added", added),
		zap.Int("functions_with_edges", len(funcs)),
	)
	return &Result{Wasm: out, Edges: edges, Layout: layout, Functions: funcs}, nil
}

// ensureSystemImports returns the function indices of msg_reply_data_append
// and msg_reply, appending missing imports after the existing ones.
func ensureSystemImports(m *wasm.Module, memory64 bool) (appendIdx, replyIdx, added uint32) {
	addr := wasm.ValI32
	if memory64 {
		addr = wasm.ValI64
	}
	lookup := func(name string, ft wasm.FuncType) uint32 {
		if idx, ok := m.FindImport(SystemModule, name); ok {
			return idx
		}
		idx := uint32(m.NumImportedFuncs())
		m.Imports = append(m.Imports, wasm.Import{
			Module: SystemModule,
			Name:   name,
			Desc:   wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: m.AddType(ft)},
		})
		added++
		return idx
	}
	appendIdx = lookup("msg_reply_data_append", wasm.FuncType{Params: []wasm.ValType{addr, addr}})
	replyIdx = lookup("msg_reply", wasm.FuncType{})
	return appendIdx, replyIdx, added
}

// isWide reports whether msg_reply_data_append takes i64 operands.
func isWide(m *wasm.Module, appendIdx uint32) bool {
	ft := m.FuncTypeOf(appendIdx)
	return ft != nil && len(ft.Params) > 0 && ft.Params[0] == wasm.ValI64
}

func addLayoutGlobals(m *wasm.Module, l Layout) {
	base := uint32(m.NumImportedGlobals() + len(m.Globals))
	baseType := wasm.ValI32
	if l.Memory64 {
		baseType = wasm.ValI64
	}
	m.Globals = append(m.Globals,
		wasm.Global{Type: wasm.GlobalType{ValType: baseType}, Init: constExpr(l.Base, l.Memory64)},
		wasm.Global{Type: wasm.GlobalType{ValType: wasm.ValI32}, Init: constExpr(uint64(l.Size), false)},
	)
	m.Exports = append(m.Exports,
		wasm.Export{Name: BaseGlobalExport, Kind: wasm.KindGlobal, Idx: base},
		wasm.Export{Name: SizeGlobalExport, Kind: wasm.KindGlobal, Idx: base + 1},
	)
}

func functionNames(m *wasm.Module) map[uint32]string {
	for _, c := range m.Customs {
		if c.Name != wasm.NameSectionName {
			continue
		}
		names, err := wasm.FunctionNames(c.Data)
		if err == nil {
			return names
		}
	}
	return nil
}

// validate compiles the rewritten module. A module the validator rejects
// before rewriting is passed through unvalidated.
func validate(ctx context.Context, v Validator, original, rewritten []byte) error {
	err := v.Validate(ctx, rewritten)
	if err == nil {
		return nil
	}
	if origErr := v.Validate(ctx, original); origErr != nil {
		Logger().Warn("validator rejects the original module, skipping output validation",
			zap.Error(origErr))
		return nil
	}
	return errors.Instrumentation(nil, "rewritten module failed validation", err)
}
