// Package wasmtest builds small WebAssembly modules for tests.
package wasmtest

import (
	"github.com/wippyai/canfuzz/wasm"
)

// Builder assembles a module one definition at a time.
// Function indices returned by ImportFunc are only stable if all imports
// are added before the first Func.
type Builder struct {
	m wasm.Module
}

// New creates an empty module builder.
func New() *Builder {
	return &Builder{}
}

// ImportFunc adds a function import and returns its function index.
func (b *Builder) ImportFunc(module, name string, params, results []wasm.ValType) uint32 {
	idx := uint32(b.m.NumImportedFuncs())
	t := b.m.AddType(wasm.FuncType{Params: params, Results: results})
	b.m.Imports = append(b.m.Imports, wasm.Import{
		Module: module,
		Name:   name,
		Desc:   wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: t},
	})
	return idx
}

// ImportMemory adds a memory import.
func (b *Builder) ImportMemory(module, name string, minPages uint64) {
	b.m.Imports = append(b.m.Imports, wasm.Import{
		Module: module,
		Name:   name,
		Desc: wasm.ImportDesc{
			Kind:   wasm.KindMemory,
			Memory: &wasm.MemoryType{Limits: wasm.Limits{Min: minPages}},
		},
	})
}

// Memory declares the module's memory. A nil max leaves it unbounded.
func (b *Builder) Memory(minPages uint64, maxPages *uint64) {
	b.m.Memories = append(b.m.Memories, wasm.MemoryType{
		Limits: wasm.Limits{Min: minPages, Max: maxPages},
	})
}

// Func defines a function and returns its function index.
// code must end with the function's final end opcode.
func (b *Builder) Func(params, results []wasm.ValType, locals []wasm.ValType, code []byte) uint32 {
	t := b.m.AddType(wasm.FuncType{Params: params, Results: results})
	b.m.Funcs = append(b.m.Funcs, t)
	body := wasm.FuncBody{Code: code}
	for _, l := range locals {
		body.Locals = append(body.Locals, wasm.LocalEntry{Count: 1, Type: l})
	}
	b.m.Code = append(b.m.Code, body)
	return uint32(b.m.NumFuncs() - 1)
}

// Global defines an immutable i32 global and returns its index.
func (b *Builder) Global(v int32) uint32 {
	var a Asm
	b.m.Globals = append(b.m.Globals, wasm.Global{
		Type: wasm.GlobalType{ValType: wasm.ValI32},
		Init: a.I32Const(v).End().Bytes(),
	})
	return uint32(len(b.m.Globals) - 1)
}

// Export exports a function.
func (b *Builder) Export(name string, funcIdx uint32) {
	b.m.Exports = append(b.m.Exports, wasm.Export{Name: name, Kind: wasm.KindFunc, Idx: funcIdx})
}

// ExportMemory exports memory 0.
func (b *Builder) ExportMemory(name string) {
	b.m.Exports = append(b.m.Exports, wasm.Export{Name: name, Kind: wasm.KindMemory})
}

// Start sets the start function.
func (b *Builder) Start(funcIdx uint32) {
	b.m.Start = &funcIdx
}

// Table declares funcref table 0 sized for n entries and an active element
// segment at offset 0 listing funcs.
func (b *Builder) Table(funcs ...uint32) {
	n := uint64(len(funcs))
	tables := []byte{1, byte(wasm.ValFuncRef), 0}
	b.m.Tables = wasm.AppendULEB128(tables, n)
	var a Asm
	b.m.Elements = append(b.m.Elements, wasm.Element{
		Offset:   a.I32Const(0).End().Bytes(),
		FuncIdxs: funcs,
	})
}

// Names attaches a name section with function names.
func (b *Builder) Names(names map[uint32]string, order ...uint32) {
	var sub []byte
	sub = wasm.AppendULEB128(sub, uint64(len(order)))
	for _, idx := range order {
		sub = wasm.AppendULEB128(sub, uint64(idx))
		sub = wasm.AppendULEB128(sub, uint64(len(names[idx])))
		sub = append(sub, names[idx]...)
	}
	data := []byte{1}
	data = wasm.AppendULEB128(data, uint64(len(sub)))
	data = append(data, sub...)
	b.m.Customs = append(b.m.Customs, wasm.CustomSection{
		Name:  wasm.NameSectionName,
		Data:  data,
		After: wasm.SectionData,
	})
}

// Module returns the module being built.
func (b *Builder) Module() *wasm.Module {
	return &b.m
}

// Bytes encodes the module.
func (b *Builder) Bytes() []byte {
	return b.m.Encode()
}
