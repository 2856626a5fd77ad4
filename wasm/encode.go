package wasm

import (
	"github.com/wippyai/canfuzz/wasm/internal/binary"
)

// Encode serializes the module to WebAssembly binary format.
// Sections are written in canonical order; custom sections are placed
// after the section they followed when parsed.
func (m *Module) Encode() []byte {
	w := binary.NewWriter()
	w.WriteU32LE(Magic)
	w.WriteU32LE(Version)

	m.writeCustoms(w, SectionCustom)
	for _, id := range canonicalSections {
		if data, ok := m.sectionPayload(id); ok {
			writeSection(w, id, data)
		}
		m.writeCustoms(w, id)
	}
	return w.Bytes()
}

var canonicalSections = []byte{
	SectionType, SectionImport, SectionFunction, SectionTable, SectionMemory,
	SectionTag, SectionGlobal, SectionExport, SectionStart, SectionElement,
	SectionDataCount, SectionCode, SectionData,
}

func (m *Module) writeCustoms(w *binary.Writer, after byte) {
	for _, c := range m.Customs {
		if c.After != after {
			continue
		}
		s := binary.NewWriter()
		s.WriteName(c.Name)
		s.WriteBytes(c.Data)
		writeSection(w, SectionCustom, s.Bytes())
	}
}

func (m *Module) sectionPayload(id byte) ([]byte, bool) {
	switch id {
	case SectionType:
		if len(m.Types) == 0 {
			return nil, false
		}
		s := binary.NewWriter()
		s.WriteU32(uint32(len(m.Types)))
		for _, t := range m.Types {
			s.Byte(typeFunc)
			writeValTypes(s, t.Params)
			writeValTypes(s, t.Results)
		}
		return s.Bytes(), true

	case SectionImport:
		if len(m.Imports) == 0 {
			return nil, false
		}
		s := binary.NewWriter()
		s.WriteU32(uint32(len(m.Imports)))
		for _, imp := range m.Imports {
			s.WriteName(imp.Module)
			s.WriteName(imp.Name)
			s.Byte(imp.Desc.Kind)
			switch {
			case imp.Desc.Kind == KindFunc:
				s.WriteU32(imp.Desc.TypeIdx)
			case imp.Desc.Kind == KindMemory && imp.Desc.Memory != nil:
				writeLimits(s, imp.Desc.Memory.Limits)
			default:
				s.WriteBytes(imp.Desc.Raw)
			}
		}
		return s.Bytes(), true

	case SectionFunction:
		if len(m.Funcs) == 0 {
			return nil, false
		}
		s := binary.NewWriter()
		s.WriteU32(uint32(len(m.Funcs)))
		for _, f := range m.Funcs {
			s.WriteU32(f)
		}
		return s.Bytes(), true

	case SectionTable:
		return m.Tables, m.Tables != nil

	case SectionMemory:
		if len(m.Memories) == 0 {
			return nil, false
		}
		s := binary.NewWriter()
		s.WriteU32(uint32(len(m.Memories)))
		for _, mem := range m.Memories {
			writeLimits(s, mem.Limits)
		}
		return s.Bytes(), true

	case SectionTag:
		return m.Tags, m.Tags != nil

	case SectionGlobal:
		if len(m.Globals) == 0 {
			return nil, false
		}
		s := binary.NewWriter()
		s.WriteU32(uint32(len(m.Globals)))
		for _, g := range m.Globals {
			s.Byte(byte(g.Type.ValType))
			if g.Type.Mutable {
				s.Byte(1)
			} else {
				s.Byte(0)
			}
			s.WriteBytes(g.Init)
		}
		return s.Bytes(), true

	case SectionExport:
		if len(m.Exports) == 0 {
			return nil, false
		}
		s := binary.NewWriter()
		s.WriteU32(uint32(len(m.Exports)))
		for _, e := range m.Exports {
			s.WriteName(e.Name)
			s.Byte(e.Kind)
			s.WriteU32(e.Idx)
		}
		return s.Bytes(), true

	case SectionStart:
		if m.Start == nil {
			return nil, false
		}
		s := binary.NewWriter()
		s.WriteU32(*m.Start)
		return s.Bytes(), true

	case SectionElement:
		if len(m.Elements) == 0 {
			return nil, false
		}
		s := binary.NewWriter()
		s.WriteU32(uint32(len(m.Elements)))
		for _, e := range m.Elements {
			writeElement(s, e)
		}
		return s.Bytes(), true

	case SectionDataCount:
		return m.DataCount, m.DataCount != nil

	case SectionCode:
		if len(m.Code) == 0 {
			return nil, false
		}
		s := binary.NewWriter()
		s.WriteU32(uint32(len(m.Code)))
		for _, fb := range m.Code {
			body := binary.NewWriter()
			body.WriteU32(uint32(len(fb.Locals)))
			for _, l := range fb.Locals {
				body.WriteU32(l.Count)
				body.Byte(byte(l.Type))
			}
			body.WriteBytes(fb.Code)
			s.WriteVec(body.Bytes())
		}
		return s.Bytes(), true

	case SectionData:
		return m.Data, m.Data != nil
	}
	return nil, false
}

func writeSection(w *binary.Writer, id byte, data []byte) {
	w.Byte(id)
	w.WriteVec(data)
}

func writeValTypes(w *binary.Writer, types []ValType) {
	w.WriteU32(uint32(len(types)))
	for _, t := range types {
		w.Byte(byte(t))
	}
}

func writeLimits(w *binary.Writer, l Limits) {
	var flags byte
	if l.Max != nil {
		flags |= limitsHasMax
	}
	if l.Shared {
		flags |= limitsShared
	}
	if l.Memory64 {
		flags |= limitsMemory64
	}
	w.Byte(flags)
	w.WriteU64(l.Min)
	if l.Max != nil {
		w.WriteU64(*l.Max)
	}
}

func writeElement(w *binary.Writer, e Element) {
	w.WriteU32(e.Flags)
	if e.Active() {
		if e.Flags&ElemExplicit != 0 {
			w.WriteU32(e.Table)
		}
		w.WriteBytes(e.Offset)
	}
	if e.Flags&(ElemPassive|ElemExplicit) != 0 {
		w.WriteBytes(e.RefType)
	}
	if e.Flags&ElemExprs != 0 {
		w.WriteU32(uint32(len(e.Exprs)))
		for _, expr := range e.Exprs {
			w.WriteBytes(expr)
		}
		return
	}
	w.WriteU32(uint32(len(e.FuncIdxs)))
	for _, f := range e.FuncIdxs {
		w.WriteU32(f)
	}
}
