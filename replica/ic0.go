package replica

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// SystemModule is the import module name of the system API.
const SystemModule = "ic0"

type callKind uint8

const (
	kindStart callKind = 1 << iota
	kindInit
	kindUpdate
	kindQuery

	kindMessage = kindInit | kindUpdate | kindQuery
	kindReply   = kindUpdate | kindQuery
	kindAny     = kindStart | kindMessage
)

func (k callKind) String() string {
	switch k {
	case kindStart:
		return "start"
	case kindInit:
		return "init"
	case kindUpdate:
		return "update"
	case kindQuery:
		return "query"
	}
	return fmt.Sprintf("callKind(%d)", uint8(k))
}

// callContext is the per-message state the system API reads and writes.
type callContext struct {
	started time.Time
	actor   *actor
	reject  *Reject
	method  string
	arg     []byte
	caller  []byte
	reply   []byte
	time    uint64
	limits  *Config
	kind    callKind
	replied bool
}

type callKey struct{}

func withCall(ctx context.Context, c *callContext) context.Context {
	return context.WithValue(ctx, callKey{}, c)
}

func callFrom(ctx context.Context) *callContext {
	c, _ := ctx.Value(callKey{}).(*callContext)
	return c
}

// trapError aborts the running message. Host functions panic with it and
// wazero hands it back from Call.
type trapError struct {
	msg  string
	code RejectCode
}

func (e *trapError) Error() string {
	return e.msg
}

func violation(format string, args ...any) *trapError {
	return &trapError{code: CanisterContractViolation, msg: fmt.Sprintf(format, args...)}
}

func trapped(format string, args ...any) *trapError {
	return &trapError{code: CanisterTrapped, msg: fmt.Sprintf(format, args...)}
}

type sysFunc func(ctx context.Context, c *callContext, m api.Module, stack []uint64)

type sysDef struct {
	fn      sysFunc
	name    string
	params  []api.ValueType
	results []api.ValueType
	allowed callKind
}

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
)

func vals(v ...api.ValueType) []api.ValueType { return v }

// instantiateSystemAPI registers the ic0 host module in the runtime.
func instantiateSystemAPI(ctx context.Context, rt wazero.Runtime) error {
	builder := rt.NewHostModuleBuilder(SystemModule)
	for _, d := range systemAPI() {
		builder = builder.NewFunctionBuilder().
			WithGoModuleFunction(d.guard(), d.params, d.results).
			Export(d.name)
	}
	_, err := builder.Instantiate(ctx)
	return err
}

func (d sysDef) guard() api.GoModuleFunc {
	return func(ctx context.Context, m api.Module, stack []uint64) {
		c := callFrom(ctx)
		if c == nil {
			panic(violation("ic0.%s called outside of a message", d.name))
		}
		if c.kind&d.allowed == 0 {
			panic(violation("ic0.%s cannot be called in %s", d.name, c.kind))
		}
		d.fn(ctx, c, m, stack)
	}
}

func systemAPI() []sysDef {
	return []sysDef{
		{name: "msg_arg_data_size", results: vals(i32), allowed: kindMessage, fn: func(_ context.Context, c *callContext, _ api.Module, stack []uint64) {
			stack[0] = uint64(len(c.arg))
		}},
		{name: "msg_arg_data_copy", params: vals(i32, i32, i32), allowed: kindMessage, fn: func(_ context.Context, c *callContext, m api.Module, stack []uint64) {
			copyOut(m, "msg_arg_data_copy", c.arg, stack)
		}},
		{name: "msg_caller_size", results: vals(i32), allowed: kindMessage, fn: func(_ context.Context, c *callContext, _ api.Module, stack []uint64) {
			stack[0] = uint64(len(c.caller))
		}},
		{name: "msg_caller_copy", params: vals(i32, i32, i32), allowed: kindMessage, fn: func(_ context.Context, c *callContext, m api.Module, stack []uint64) {
			copyOut(m, "msg_caller_copy", c.caller, stack)
		}},
		{name: "msg_method_name_size", results: vals(i32), allowed: kindReply, fn: func(_ context.Context, c *callContext, _ api.Module, stack []uint64) {
			stack[0] = uint64(len(c.method))
		}},
		{name: "msg_method_name_copy", params: vals(i32, i32, i32), allowed: kindReply, fn: func(_ context.Context, c *callContext, m api.Module, stack []uint64) {
			copyOut(m, "msg_method_name_copy", []byte(c.method), stack)
		}},
		{name: "msg_reply_data_append", params: vals(i32, i32), allowed: kindReply, fn: func(_ context.Context, c *callContext, m api.Module, stack []uint64) {
			if c.replied {
				panic(violation("ic0.msg_reply_data_append called after the message was answered"))
			}
			data := readMemory(m, "msg_reply_data_append", uint32(stack[0]), uint32(stack[1]))
			if len(c.reply)+len(data) > c.limits.MaxReplySize {
				panic(violation("reply exceeds %d bytes", c.limits.MaxReplySize))
			}
			c.reply = append(c.reply, data...)
		}},
		{name: "msg_reply", allowed: kindReply, fn: func(_ context.Context, c *callContext, _ api.Module, _ []uint64) {
			if c.replied {
				panic(violation("ic0.msg_reply called after the message was answered"))
			}
			c.replied = true
		}},
		{name: "msg_reject", params: vals(i32, i32), allowed: kindReply, fn: func(_ context.Context, c *callContext, m api.Module, stack []uint64) {
			if c.replied {
				panic(violation("ic0.msg_reject called after the message was answered"))
			}
			msg := readMemory(m, "msg_reject", uint32(stack[0]), uint32(stack[1]))
			c.replied = true
			c.reject = &Reject{Code: CanisterRejectedMessage, Message: string(msg)}
		}},
		{name: "canister_self_size", results: vals(i32), allowed: kindMessage, fn: func(_ context.Context, c *callContext, _ api.Module, stack []uint64) {
			stack[0] = uint64(len(c.actor.id.Principal()))
		}},
		{name: "canister_self_copy", params: vals(i32, i32, i32), allowed: kindMessage, fn: func(_ context.Context, c *callContext, m api.Module, stack []uint64) {
			copyOut(m, "canister_self_copy", c.actor.id.Principal(), stack)
		}},
		{name: "canister_cycle_balance", results: vals(i64), allowed: kindMessage, fn: func(_ context.Context, c *callContext, _ api.Module, stack []uint64) {
			stack[0] = c.limits.CycleBalance
		}},
		{name: "canister_cycle_balance128", params: vals(i32), allowed: kindMessage, fn: func(_ context.Context, c *callContext, m api.Module, stack []uint64) {
			var buf [16]byte
			binary.LittleEndian.PutUint64(buf[:], c.limits.CycleBalance)
			writeMemory(m, "canister_cycle_balance128", uint32(stack[0]), buf[:])
		}},
		{name: "canister_status", results: vals(i32), allowed: kindMessage, fn: func(_ context.Context, _ *callContext, _ api.Module, stack []uint64) {
			stack[0] = 1 // running
		}},
		{name: "canister_version", results: vals(i64), allowed: kindMessage, fn: func(_ context.Context, c *callContext, _ api.Module, stack []uint64) {
			stack[0] = c.actor.version
		}},
		{name: "msg_cycles_available", results: vals(i64), allowed: kindReply, fn: func(_ context.Context, _ *callContext, _ api.Module, stack []uint64) {
			stack[0] = 0
		}},
		{name: "msg_cycles_accept", params: vals(i64), results: vals(i64), allowed: kindReply, fn: func(_ context.Context, _ *callContext, _ api.Module, stack []uint64) {
			stack[0] = 0
		}},
		{name: "accept_message", allowed: kindMessage, fn: func(context.Context, *callContext, api.Module, []uint64) {}},
		{name: "time", results: vals(i64), allowed: kindMessage, fn: func(_ context.Context, c *callContext, _ api.Module, stack []uint64) {
			stack[0] = c.time
		}},
		{name: "performance_counter", params: vals(i32), results: vals(i64), allowed: kindMessage, fn: func(_ context.Context, c *callContext, _ api.Module, stack []uint64) {
			// no instruction metering; elapsed nanoseconds stand in for both counter types
			stack[0] = uint64(time.Since(c.started))
		}},
		{name: "global_timer_set", params: vals(i64), results: vals(i64), allowed: kindMessage, fn: func(_ context.Context, c *callContext, _ api.Module, stack []uint64) {
			stack[0], c.actor.timer = c.actor.timer, stack[0]
		}},
		{name: "certified_data_set", params: vals(i32, i32), allowed: kindInit | kindUpdate, fn: func(_ context.Context, c *callContext, m api.Module, stack []uint64) {
			data := readMemory(m, "certified_data_set", uint32(stack[0]), uint32(stack[1]))
			if len(data) > 32 {
				panic(violation("certified data exceeds 32 bytes"))
			}
			c.actor.certified = append([]byte(nil), data...)
		}},
		{name: "data_certificate_present", results: vals(i32), allowed: kindMessage, fn: func(_ context.Context, _ *callContext, _ api.Module, stack []uint64) {
			stack[0] = 0
		}},
		{name: "debug_print", params: vals(i32, i32), allowed: kindAny, fn: func(_ context.Context, c *callContext, m api.Module, stack []uint64) {
			msg, ok := peek(m, uint32(stack[0]), uint32(stack[1]))
			if !ok {
				return
			}
			Logger().Debug("canister print",
				zap.String("actor", c.actor.name),
				zap.String("message", string(msg)))
		}},
		{name: "trap", params: vals(i32, i32), allowed: kindAny, fn: func(_ context.Context, _ *callContext, m api.Module, stack []uint64) {
			msg, _ := peek(m, uint32(stack[0]), uint32(stack[1]))
			panic(&trapError{code: CanisterCalledTrap, msg: string(msg)})
		}},

		{name: "stable_size", results: vals(i32), allowed: kindMessage, fn: func(_ context.Context, c *callContext, _ api.Module, stack []uint64) {
			pages := c.actor.stablePages()
			if pages > 1<<16 {
				panic(trapped("32-bit stable memory api used on a memory larger than 4GiB"))
			}
			stack[0] = pages
		}},
		{name: "stable_grow", params: vals(i32), results: vals(i32), allowed: kindMessage, fn: func(_ context.Context, c *callContext, _ api.Module, stack []uint64) {
			limit := min(c.limits.StablePagesLimit, 1<<16)
			old, ok := c.actor.growStable(uint64(uint32(stack[0])), limit)
			if !ok {
				stack[0] = api.EncodeI32(-1)
				return
			}
			stack[0] = old
		}},
		{name: "stable_read", params: vals(i32, i32, i32), allowed: kindMessage, fn: func(_ context.Context, c *callContext, m api.Module, stack []uint64) {
			stableRead(c, m, uint64(uint32(stack[0])), uint64(uint32(stack[1])), uint64(uint32(stack[2])))
		}},
		{name: "stable_write", params: vals(i32, i32, i32), allowed: kindMessage, fn: func(_ context.Context, c *callContext, m api.Module, stack []uint64) {
			stableWrite(c, m, uint64(uint32(stack[0])), uint64(uint32(stack[1])), uint64(uint32(stack[2])))
		}},
		{name: "stable64_size", results: vals(i64), allowed: kindMessage, fn: func(_ context.Context, c *callContext, _ api.Module, stack []uint64) {
			stack[0] = c.actor.stablePages()
		}},
		{name: "stable64_grow", params: vals(i64), results: vals(i64), allowed: kindMessage, fn: func(_ context.Context, c *callContext, _ api.Module, stack []uint64) {
			old, ok := c.actor.growStable(stack[0], c.limits.StablePagesLimit)
			if !ok {
				stack[0] = api.EncodeI64(-1)
				return
			}
			stack[0] = old
		}},
		{name: "stable64_read", params: vals(i64, i64, i64), allowed: kindMessage, fn: func(_ context.Context, c *callContext, m api.Module, stack []uint64) {
			stableRead(c, m, stack[0], stack[1], stack[2])
		}},
		{name: "stable64_write", params: vals(i64, i64, i64), allowed: kindMessage, fn: func(_ context.Context, c *callContext, m api.Module, stack []uint64) {
			stableWrite(c, m, stack[0], stack[1], stack[2])
		}},
	}
}

// peek reads memory without failing the message.
func peek(m api.Module, offset, size uint32) ([]byte, bool) {
	if mem := m.Memory(); mem != nil {
		return mem.Read(offset, size)
	}
	return nil, false
}

func readMemory(m api.Module, fn string, offset, size uint32) []byte {
	mem := m.Memory()
	if mem == nil {
		panic(violation("ic0.%s requires an exported memory", fn))
	}
	b, ok := mem.Read(offset, size)
	if !ok {
		panic(violation("ic0.%s: range [%d, +%d) out of bounds of memory of size %d", fn, offset, size, mem.Size()))
	}
	return b
}

func writeMemory(m api.Module, fn string, offset uint32, data []byte) {
	mem := m.Memory()
	if mem == nil {
		panic(violation("ic0.%s requires an exported memory", fn))
	}
	if !mem.Write(offset, data) {
		panic(violation("ic0.%s: range [%d, +%d) out of bounds of memory of size %d", fn, offset, len(data), mem.Size()))
	}
}

// copyOut implements the (dst, offset, size) copy convention.
func copyOut(m api.Module, fn string, src []byte, stack []uint64) {
	dst, off, size := uint32(stack[0]), uint64(uint32(stack[1])), uint64(uint32(stack[2]))
	if off+size > uint64(len(src)) {
		panic(violation("ic0.%s: range [%d, +%d) out of bounds of source of size %d", fn, off, size, len(src)))
	}
	writeMemory(m, fn, dst, src[off:off+size])
}

func stableRead(c *callContext, m api.Module, dst, offset, size uint64) {
	if offset+size < offset || offset+size > c.actor.stableLen() {
		panic(trapped("stable memory out of bounds"))
	}
	if dst > 1<<32-1 || size > 1<<32-1 {
		panic(violation("ic0.stable_read: destination %d out of bounds", dst))
	}
	writeMemory(m, "stable_read", uint32(dst), c.actor.readStable(offset, size))
}

func stableWrite(c *callContext, m api.Module, offset, src, size uint64) {
	if offset+size < offset || offset+size > c.actor.stableLen() {
		panic(trapped("stable memory out of bounds"))
	}
	if src > 1<<32-1 || size > 1<<32-1 {
		panic(violation("ic0.stable_write: source %d out of bounds", src))
	}
	data := readMemory(m, "stable_write", uint32(src), uint32(size))
	c.actor.writeStable(offset, data)
}
