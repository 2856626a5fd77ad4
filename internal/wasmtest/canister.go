package wasmtest

import (
	"github.com/wippyai/canfuzz/wasm"
)

var (
	i32 = wasm.ValI32
	i64 = wasm.ValI64
)

// Canister is a Builder with the common ic0 imports and one page of
// exported memory.
type Canister struct {
	*Builder
	ArgSize     uint32
	ArgCopy     uint32
	ReplyAppend uint32
	Reply       uint32
	Reject      uint32
	Trap        uint32
	StableGrow  uint32
	StableRead  uint32
	StableWrite uint32
	Time        uint32
}

// NewCanister creates a canister builder.
func NewCanister() *Canister {
	b := New()
	c := &Canister{
		Builder:     b,
		ArgSize:     b.ImportFunc("ic0", "msg_arg_data_size", nil, []wasm.ValType{i32}),
		ArgCopy:     b.ImportFunc("ic0", "msg_arg_data_copy", []wasm.ValType{i32, i32, i32}, nil),
		ReplyAppend: b.ImportFunc("ic0", "msg_reply_data_append", []wasm.ValType{i32, i32}, nil),
		Reply:       b.ImportFunc("ic0", "msg_reply", nil, nil),
		Reject:      b.ImportFunc("ic0", "msg_reject", []wasm.ValType{i32, i32}, nil),
		Trap:        b.ImportFunc("ic0", "trap", []wasm.ValType{i32, i32}, nil),
		StableGrow:  b.ImportFunc("ic0", "stable_grow", []wasm.ValType{i32}, []wasm.ValType{i32}),
		StableRead:  b.ImportFunc("ic0", "stable_read", []wasm.ValType{i32, i32, i32}, nil),
		StableWrite: b.ImportFunc("ic0", "stable_write", []wasm.ValType{i32, i32, i32}, nil),
		Time:        b.ImportFunc("ic0", "time", nil, []wasm.ValType{i64}),
	}
	b.Memory(1, nil)
	b.ExportMemory("memory")
	return c
}

// Update defines an exported update method.
func (c *Canister) Update(name string, code []byte, locals ...wasm.ValType) uint32 {
	f := c.Func(nil, nil, locals, code)
	c.Export("canister_update "+name, f)
	return f
}

// Query defines an exported query method.
func (c *Canister) Query(name string, code []byte, locals ...wasm.ValType) uint32 {
	f := c.Func(nil, nil, locals, code)
	c.Export("canister_query "+name, f)
	return f
}

// Init defines canister_init.
func (c *Canister) Init(code []byte, locals ...wasm.ValType) uint32 {
	f := c.Func(nil, nil, locals, code)
	c.Export("canister_init", f)
	return f
}

// ReplyWith appends a reply of size bytes read from addr.
func (c *Canister) ReplyWith(a *Asm, addr, size int32) *Asm {
	return a.I32Const(addr).I32Const(size).Call(c.ReplyAppend).Call(c.Reply)
}

// LoadArg appends code copying the argument to addr and storing its
// length in local.
func (c *Canister) LoadArg(a *Asm, addr int32, local uint32) *Asm {
	a.Call(c.ArgSize).LocalSet(local)
	return a.I32Const(addr).I32Const(0).LocalGet(local).Call(c.ArgCopy)
}

// Message stores up to four bytes of text at addr.
func Message(a *Asm, addr int32, text string) *Asm {
	var v uint32
	for i := len(text) - 1; i >= 0; i-- {
		v = v<<8 | uint32(text[i])
	}
	return a.I32Const(addr).I32Const(int32(v)).I32Store(0)
}

// Counter addresses used by SampleCanister.
const (
	CounterAddr = 0
	ScratchAddr = 16
	ArgAddr     = 64
)

// SampleCanister exercises the system API:
//
//	init            counter = len(arg)
//	update inc      counter++, replies with the counter
//	query get       replies with the counter
//	update echo     replies with the argument
//	update trap     ic0.trap("boom")
//	update crash    unreachable
//	update spin     never returns
//	update silent   returns without replying
//	update twice    replies twice
//	update reject   ic0.msg_reject("nope")
//	update stash    grows stable memory and writes the counter to it
//	query stashed   replies with the first four bytes of stable memory
//	query now       replies with ic0.time as 8 little-endian bytes
func SampleCanister() []byte {
	c := NewCanister()

	var a Asm
	a.I32Const(CounterAddr).Call(c.ArgSize).I32Store(0).End()
	c.Init(a.Bytes())

	a = Asm{}
	a.I32Const(CounterAddr).I32Const(CounterAddr).I32Load(0).I32Const(1).I32Add().I32Store(0)
	c.ReplyWith(&a, CounterAddr, 4).End()
	c.Update("inc", a.Bytes())

	a = Asm{}
	c.ReplyWith(&a, CounterAddr, 4).End()
	c.Query("get", a.Bytes())

	a = Asm{}
	c.LoadArg(&a, ArgAddr, 0)
	a.I32Const(ArgAddr).LocalGet(0).Call(c.ReplyAppend).Call(c.Reply).End()
	c.Update("echo", a.Bytes(), i32)

	a = Asm{}
	Message(&a, ScratchAddr, "boom")
	a.I32Const(ScratchAddr).I32Const(4).Call(c.Trap).End()
	c.Update("trap", a.Bytes())

	a = Asm{}
	a.Unreachable().End()
	c.Update("crash", a.Bytes())

	a = Asm{}
	a.Loop().Br(0).End().End()
	c.Update("spin", a.Bytes())

	a = Asm{}
	a.End()
	c.Update("silent", a.Bytes())

	a = Asm{}
	a.Call(c.Reply).Call(c.Reply).End()
	c.Update("twice", a.Bytes())

	a = Asm{}
	Message(&a, ScratchAddr, "nope")
	a.I32Const(ScratchAddr).I32Const(4).Call(c.Reject).End()
	c.Update("reject", a.Bytes())

	a = Asm{}
	a.I32Const(1).Call(c.StableGrow).Drop()
	a.I32Const(0).I32Const(CounterAddr).I32Const(4).Call(c.StableWrite)
	a.Call(c.Reply).End()
	c.Update("stash", a.Bytes())

	a = Asm{}
	a.I32Const(ScratchAddr).I32Const(0).I32Const(4).Call(c.StableRead)
	c.ReplyWith(&a, ScratchAddr, 4).End()
	c.Query("stashed", a.Bytes())

	a = Asm{}
	a.I32Const(ScratchAddr).Call(c.Time).I64Store(0)
	c.ReplyWith(&a, ScratchAddr, 8).End()
	c.Query("now", a.Bytes())

	return c.Bytes()
}

// BranchCanister has one update method "go" with two if statements: the
// first on an empty argument, the second on the first argument byte being
// 1. It replies with no data.
func BranchCanister() []byte {
	c := NewCanister()
	var a Asm
	c.LoadArg(&a, ArgAddr, 0)
	a.LocalGet(0).I32Eqz().If().Call(c.Reply).Return().End()
	a.I32Const(ArgAddr).I32Load8U(0).I32Const(1).I32Eq().If().Nop().Else().Nop().End()
	a.Call(c.Reply).End()
	c.Update("go", a.Bytes(), i32)
	return c.Bytes()
}

// TrapCanister has one update method "go" that always executes unreachable.
func TrapCanister() []byte {
	c := NewCanister()
	var a Asm
	a.Unreachable().End()
	c.Update("go", a.Bytes())
	return c.Bytes()
}

// FlatCanister has one update method "go" without any branching that
// replies with its argument.
func FlatCanister() []byte {
	c := NewCanister()
	var a Asm
	c.LoadArg(&a, ArgAddr, 0)
	a.I32Const(ArgAddr).LocalGet(0).Call(c.ReplyAppend).Call(c.Reply).End()
	c.Update("go", a.Bytes(), i32)
	return c.Bytes()
}

// MagicCanister has one update method "go" that traps when the argument
// starts with the given byte and replies otherwise.
func MagicCanister(magic byte) []byte {
	c := NewCanister()
	var a Asm
	c.LoadArg(&a, ArgAddr, 0)
	a.LocalGet(0).If()
	a.I32Const(ArgAddr).I32Load8U(0).I32Const(int32(magic)).I32Eq().If().Unreachable().End()
	a.End()
	a.Call(c.Reply).End()
	c.Update("go", a.Bytes(), i32)
	return c.Bytes()
}
