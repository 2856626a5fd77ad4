package replica

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// message is one journaled update, replayed in order when the instance
// is rebuilt.
type message struct {
	method string
	arg    []byte
	time   uint64
}

// actor is an installed module: the compiled code, the live instance and
// everything needed to rebuild that instance.
type actor struct {
	compiled  wazero.CompiledModule
	instance  api.Module
	stable    map[uint64][]byte
	name      string
	initArg   []byte
	certified []byte
	journal   []message
	id        ActorID
	gen       uint64
	version   uint64
	timer     uint64
	pages     uint64
	truncated bool
}

func (a *actor) stablePages() uint64 {
	return a.pages
}

func (a *actor) stableLen() uint64 {
	return a.pages * StablePageSize
}

func (a *actor) growStable(delta, limit uint64) (uint64, bool) {
	old := a.pages
	if delta > limit || old+delta > limit {
		return 0, false
	}
	a.pages += delta
	return old, true
}

// readStable copies a range that the caller has bounds-checked. Pages that
// were never written read as zero.
func (a *actor) readStable(offset, size uint64) []byte {
	out := make([]byte, size)
	for done := uint64(0); done < size; {
		pos := offset + done
		page, in := pos/StablePageSize, pos%StablePageSize
		n := min(StablePageSize-in, size-done)
		if p, ok := a.stable[page]; ok {
			copy(out[done:done+n], p[in:in+n])
		}
		done += n
	}
	return out
}

func (a *actor) writeStable(offset uint64, data []byte) {
	if a.stable == nil {
		a.stable = make(map[uint64][]byte)
	}
	size := uint64(len(data))
	for done := uint64(0); done < size; {
		pos := offset + done
		page, in := pos/StablePageSize, pos%StablePageSize
		n := min(StablePageSize-in, size-done)
		p, ok := a.stable[page]
		if !ok {
			p = make([]byte, StablePageSize)
			a.stable[page] = p
		}
		copy(p[in:in+n], data[done:done+n])
		done += n
	}
}

// reset drops all mutable state ahead of a rebuild.
func (a *actor) reset() {
	a.stable = nil
	a.pages = 0
	a.timer = 0
	a.certified = nil
}

func (a *actor) closeInstance(ctx context.Context) {
	if a.instance != nil {
		_ = a.instance.Close(ctx)
		a.instance = nil
	}
}

func (a *actor) exported(name string) api.Function {
	if a.instance == nil {
		return nil
	}
	return a.instance.ExportedFunction(name)
}
