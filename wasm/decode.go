package wasm

import (
	"errors"
	"fmt"

	"github.com/wippyai/canfuzz/wasm/internal/binary"
)

// Parsing errors returned by ParseModule.
var (
	ErrInvalidMagic   = errors.New("invalid wasm magic number")
	ErrInvalidVersion = errors.New("invalid wasm version")
	ErrSectionOrder   = errors.New("section out of order")
	ErrUnknownSection = errors.New("unknown section id")
)

// ParseModule parses a WebAssembly binary module.
// The returned module aliases data; callers must not modify data while
// the module is in use.
func ParseModule(data []byte) (*Module, error) {
	r := binary.NewReader(data)

	magic, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if magic != Magic {
		return nil, ErrInvalidMagic
	}
	version, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if version != Version {
		return nil, ErrInvalidVersion
	}

	m := &Module{}
	var lastOrder int
	var lastID byte
	sawCode := false

	for !r.EOF() {
		sectionID, err := r.ReadByte()
		if err != nil {
			return nil, r.WrapError("section header", err)
		}
		if sectionID != SectionCustom {
			order := sectionOrder(sectionID)
			if order == 0 {
				return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownSection, sectionID)
			}
			if order <= lastOrder {
				return nil, fmt.Errorf("%w: section %d", ErrSectionOrder, sectionID)
			}
			lastOrder = order
		}

		size, err := r.ReadU32()
		if err != nil {
			return nil, r.WrapError("section size", err)
		}
		payload, err := r.ReadBytes(int(size))
		if err != nil {
			return nil, r.WrapError("section data", err)
		}
		sr := binary.NewReader(payload)

		var perr error
		switch sectionID {
		case SectionCustom:
			perr = parseCustomSection(sr, m, lastID)
		case SectionType:
			perr = parseTypeSection(sr, m)
		case SectionImport:
			perr = parseImportSection(sr, m)
		case SectionFunction:
			perr = parseFunctionSection(sr, m)
		case SectionTable:
			m.Tables = sr.ReadRemaining()
		case SectionMemory:
			perr = parseMemorySection(sr, m)
		case SectionGlobal:
			perr = parseGlobalSection(sr, m)
		case SectionExport:
			perr = parseExportSection(sr, m)
		case SectionStart:
			perr = parseStartSection(sr, m)
		case SectionElement:
			perr = parseElementSection(sr, m)
		case SectionCode:
			sawCode = true
			perr = parseCodeSection(sr, m)
		case SectionData:
			m.Data = sr.ReadRemaining()
		case SectionDataCount:
			m.DataCount = sr.ReadRemaining()
		case SectionTag:
			m.Tags = sr.ReadRemaining()
		}
		if perr != nil {
			return nil, fmt.Errorf("%s section: %w", sectionName(sectionID), perr)
		}
		if !sr.EOF() {
			return nil, fmt.Errorf("%s section: %d trailing bytes", sectionName(sectionID), sr.Len())
		}
		if sectionID != SectionCustom {
			lastID = sectionID
		}
	}

	if len(m.Funcs) != len(m.Code) || (len(m.Funcs) > 0 && !sawCode) {
		return nil, fmt.Errorf("function and code section have inconsistent lengths: %d != %d", len(m.Funcs), len(m.Code))
	}
	return m, nil
}

// sectionOrder returns the canonical position of a non-custom section,
// or 0 for an unknown id.
func sectionOrder(id byte) int {
	switch id {
	case SectionType:
		return 1
	case SectionImport:
		return 2
	case SectionFunction:
		return 3
	case SectionTable:
		return 4
	case SectionMemory:
		return 5
	case SectionTag:
		return 6
	case SectionGlobal:
		return 7
	case SectionExport:
		return 8
	case SectionStart:
		return 9
	case SectionElement:
		return 10
	case SectionDataCount:
		return 11
	case SectionCode:
		return 12
	case SectionData:
		return 13
	}
	return 0
}

func sectionName(id byte) string {
	switch id {
	case SectionCustom:
		return "custom"
	case SectionType:
		return "type"
	case SectionImport:
		return "import"
	case SectionFunction:
		return "function"
	case SectionTable:
		return "table"
	case SectionMemory:
		return "memory"
	case SectionGlobal:
		return "global"
	case SectionExport:
		return "export"
	case SectionStart:
		return "start"
	case SectionElement:
		return "element"
	case SectionCode:
		return "code"
	case SectionData:
		return "data"
	case SectionDataCount:
		return "data count"
	case SectionTag:
		return "tag"
	}
	return "unknown"
}

func parseCustomSection(r *binary.Reader, m *Module, after byte) error {
	name, err := r.ReadName()
	if err != nil {
		return err
	}
	m.Customs = append(m.Customs, CustomSection{
		Name:  name,
		Data:  r.ReadRemaining(),
		After: after,
	})
	return nil
}

func parseTypeSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r)
	if err != nil {
		return err
	}
	m.Types = make([]FuncType, 0, count)
	for range count {
		form, err := r.ReadByte()
		if err != nil {
			return err
		}
		switch form {
		case typeFunc:
		case typeRec, typeSub, typeSubFin:
			return fmt.Errorf("%w: gc type form 0x%02x", ErrUnsupported, form)
		default:
			return fmt.Errorf("invalid type form 0x%02x", form)
		}
		params, err := readValTypes(r)
		if err != nil {
			return err
		}
		results, err := readValTypes(r)
		if err != nil {
			return err
		}
		m.Types = append(m.Types, FuncType{Params: params, Results: results})
	}
	return nil
}

func parseImportSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r)
	if err != nil {
		return err
	}
	m.Imports = make([]Import, 0, count)
	for range count {
		var imp Import
		if imp.Module, err = r.ReadName(); err != nil {
			return err
		}
		if imp.Name, err = r.ReadName(); err != nil {
			return err
		}
		if imp.Desc.Kind, err = r.ReadByte(); err != nil {
			return err
		}
		start := r.Position()
		switch imp.Desc.Kind {
		case KindFunc:
			if imp.Desc.TypeIdx, err = r.ReadU32(); err != nil {
				return err
			}
		case KindTable:
			if err := skipTableType(r); err != nil {
				return err
			}
			imp.Desc.Raw = r.Span(start)
		case KindMemory:
			lim, err := readLimits(r)
			if err != nil {
				return err
			}
			imp.Desc.Memory = &MemoryType{Limits: lim}
		case KindGlobal:
			if _, err := readGlobalType(r); err != nil {
				return err
			}
			imp.Desc.Raw = r.Span(start)
		case KindTag:
			if _, err := r.ReadByte(); err != nil {
				return err
			}
			if _, err := r.ReadU32(); err != nil {
				return err
			}
			imp.Desc.Raw = r.Span(start)
		default:
			return fmt.Errorf("invalid import kind 0x%02x", imp.Desc.Kind)
		}
		m.Imports = append(m.Imports, imp)
	}
	return nil
}

func parseFunctionSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r)
	if err != nil {
		return err
	}
	m.Funcs = make([]uint32, count)
	for i := range m.Funcs {
		if m.Funcs[i], err = r.ReadU32(); err != nil {
			return err
		}
	}
	return nil
}

func parseMemorySection(r *binary.Reader, m *Module) error {
	count, err := readCount(r)
	if err != nil {
		return err
	}
	m.Memories = make([]MemoryType, 0, count)
	for range count {
		lim, err := readLimits(r)
		if err != nil {
			return err
		}
		m.Memories = append(m.Memories, MemoryType{Limits: lim})
	}
	return nil
}

func parseGlobalSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r)
	if err != nil {
		return err
	}
	m.Globals = make([]Global, 0, count)
	for range count {
		gt, err := readGlobalType(r)
		if err != nil {
			return err
		}
		init, err := readConstExpr(r)
		if err != nil {
			return err
		}
		m.Globals = append(m.Globals, Global{Type: gt, Init: init})
	}
	return nil
}

func parseExportSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r)
	if err != nil {
		return err
	}
	m.Exports = make([]Export, 0, count)
	for range count {
		var e Export
		if e.Name, err = r.ReadName(); err != nil {
			return err
		}
		if e.Kind, err = r.ReadByte(); err != nil {
			return err
		}
		if e.Kind > KindTag {
			return fmt.Errorf("invalid export kind 0x%02x", e.Kind)
		}
		if e.Idx, err = r.ReadU32(); err != nil {
			return err
		}
		m.Exports = append(m.Exports, e)
	}
	return nil
}

func parseStartSection(r *binary.Reader, m *Module) error {
	idx, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Start = &idx
	return nil
}

func parseElementSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r)
	if err != nil {
		return err
	}
	m.Elements = make([]Element, 0, count)
	for range count {
		var e Element
		if e.Flags, err = r.ReadU32(); err != nil {
			return err
		}
		if e.Flags > 7 {
			return fmt.Errorf("invalid element segment flags %d", e.Flags)
		}
		if e.Flags&ElemPassive == 0 {
			if e.Flags&ElemExplicit != 0 {
				if e.Table, err = r.ReadU32(); err != nil {
					return err
				}
			}
			if e.Offset, err = readConstExpr(r); err != nil {
				return err
			}
		}
		// flags 0 and 4 have an implicit funcref element type
		if e.Flags&(ElemPassive|ElemExplicit) != 0 {
			start := r.Position()
			if e.Flags&ElemExprs != 0 {
				if _, err := readValType(r); err != nil {
					return err
				}
			} else if _, err := r.ReadByte(); err != nil {
				return err
			}
			e.RefType = r.Span(start)
		}
		n, err := readCount(r)
		if err != nil {
			return err
		}
		if e.Flags&ElemExprs != 0 {
			e.Exprs = make([][]byte, 0, n)
			for range n {
				expr, err := readConstExpr(r)
				if err != nil {
					return err
				}
				e.Exprs = append(e.Exprs, expr)
			}
		} else {
			e.FuncIdxs = make([]uint32, n)
			for i := range e.FuncIdxs {
				if e.FuncIdxs[i], err = r.ReadU32(); err != nil {
					return err
				}
			}
		}
		m.Elements = append(m.Elements, e)
	}
	return nil
}

func parseCodeSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r)
	if err != nil {
		return err
	}
	m.Code = make([]FuncBody, 0, count)
	for i := range count {
		size, err := r.ReadU32()
		if err != nil {
			return err
		}
		body, err := r.ReadBytes(int(size))
		if err != nil {
			return fmt.Errorf("function %d: %w", i, err)
		}
		br := binary.NewReader(body)
		nl, err := readCount(br)
		if err != nil {
			return fmt.Errorf("function %d locals: %w", i, err)
		}
		fb := FuncBody{Locals: make([]LocalEntry, 0, nl)}
		for range nl {
			var le LocalEntry
			if le.Count, err = br.ReadU32(); err != nil {
				return fmt.Errorf("function %d locals: %w", i, err)
			}
			if le.Type, err = readValType(br); err != nil {
				return fmt.Errorf("function %d locals: %w", i, err)
			}
			fb.Locals = append(fb.Locals, le)
		}
		fb.Code = br.ReadRemaining()
		m.Code = append(m.Code, fb)
	}
	return nil
}

// readCount reads a vector length and rejects lengths that cannot fit in
// the remaining input, bounding allocations on hostile input.
func readCount(r *binary.Reader) (uint32, error) {
	n, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	if int(n) > r.Len() {
		return 0, fmt.Errorf("vector length %d exceeds remaining %d bytes", n, r.Len())
	}
	return n, nil
}

func readValTypes(r *binary.Reader) ([]ValType, error) {
	n, err := readCount(r)
	if err != nil {
		return nil, err
	}
	types := make([]ValType, n)
	for i := range types {
		if types[i], err = readValType(r); err != nil {
			return nil, err
		}
	}
	return types, nil
}

func readValType(r *binary.Reader) (ValType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	switch ValType(b) {
	case ValI32, ValI64, ValF32, ValF64, ValV128, ValFuncRef, ValExtern, ValExnRef:
		return ValType(b), nil
	}
	if b == valRefNull || b == valRef || (b >= 0x65 && b <= 0x74) {
		return 0, fmt.Errorf("%w: reference type 0x%02x", ErrUnsupported, b)
	}
	return 0, fmt.Errorf("invalid value type 0x%02x", b)
}

func readLimits(r *binary.Reader) (Limits, error) {
	var l Limits
	flags, err := r.ReadByte()
	if err != nil {
		return l, err
	}
	if flags&limitsPageSize != 0 {
		return l, fmt.Errorf("%w: custom page size", ErrUnsupported)
	}
	if flags&^(limitsHasMax|limitsShared|limitsMemory64) != 0 {
		return l, fmt.Errorf("invalid limits flags 0x%02x", flags)
	}
	l.Shared = flags&limitsShared != 0
	l.Memory64 = flags&limitsMemory64 != 0
	read := r.ReadU64
	if !l.Memory64 {
		read = func() (uint64, error) {
			v, err := r.ReadU32()
			return uint64(v), err
		}
	}
	if l.Min, err = read(); err != nil {
		return l, err
	}
	if flags&limitsHasMax != 0 {
		maxPages, err := read()
		if err != nil {
			return l, err
		}
		l.Max = &maxPages
	}
	return l, nil
}

func skipTableType(r *binary.Reader) error {
	b, err := r.ReadByte()
	if err != nil {
		return err
	}
	if b == valRefNull || b == valRef {
		if _, err := readHeapType(r); err != nil {
			return err
		}
	}
	flags, err := r.ReadByte()
	if err != nil {
		return err
	}
	n := 1
	if flags&limitsHasMax != 0 {
		n = 2
	}
	for range n {
		if flags&limitsMemory64 != 0 {
			_, err = r.ReadU64()
		} else {
			_, err = r.ReadU32()
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func readGlobalType(r *binary.Reader) (GlobalType, error) {
	vt, err := readValType(r)
	if err != nil {
		return GlobalType{}, err
	}
	mut, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	if mut > 1 {
		return GlobalType{}, fmt.Errorf("invalid global mutability 0x%02x", mut)
	}
	return GlobalType{ValType: vt, Mutable: mut == 1}, nil
}

// readConstExpr reads a constant expression up to and including its end.
func readConstExpr(r *binary.Reader) ([]byte, error) {
	start := r.Position()
	for {
		instr, err := decodeInstruction(r)
		if err != nil {
			return nil, fmt.Errorf("constant expression: %w", err)
		}
		if instr.Opcode == OpEnd {
			return r.Span(start), nil
		}
	}
}
