package replica

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/wippyai/canfuzz/errors"
)

var (
	ErrClosed       = stderrors.New("replica closed")
	ErrUnknownActor = stderrors.New("unknown actor")
)

// Replica hosts actors in a single wazero runtime. Calls are serialized;
// the replica is safe for use from multiple goroutines but never runs two
// messages at once.
type Replica struct {
	runtime wazero.Runtime
	actors  map[ActorID]*actor
	byName  map[string]ActorID
	now     time.Time
	cfg     Config
	zeros   []byte
	next    ActorID
	mu      sync.Mutex
	closed  bool
}

// Method is an exported entry point of an installed actor.
type Method struct {
	Name  string
	Query bool
}

// Snapshot marks a point in an actor's message history.
type Snapshot struct {
	Actor ActorID
	pos   int
}

// New creates an empty replica.
func New(ctx context.Context, cfg Config) (*Replica, error) {
	cfg = cfg.withDefaults()

	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg.Interpreter {
		runtimeCfg = wazero.NewRuntimeConfigInterpreter()
	}
	runtimeCfg = runtimeCfg.
		WithCoreFeatures(api.CoreFeaturesV2 | experimental.CoreFeaturesThreads).
		WithCloseOnContextDone(true)
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	if err := instantiateSystemAPI(ctx, rt); err != nil {
		_ = rt.Close(ctx)
		return nil, errors.Wrap(errors.PhaseInstall, errors.KindInstall, err, "instantiate system API")
	}

	return &Replica{
		runtime: rt,
		cfg:     cfg,
		now:     cfg.StartTime,
		actors:  make(map[ActorID]*actor),
		byName:  make(map[string]ActorID),
	}, nil
}

// Install compiles and instantiates a module, then runs canister_init with
// arg when exported. Any failure, including a trap or reject in init, is an
// install error and leaves nothing behind.
func (r *Replica) Install(ctx context.Context, name string, wasm []byte, arg []byte) (ActorID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, errors.Install(name, ErrClosed)
	}
	if _, dup := r.byName[name]; dup {
		return 0, errors.Install(name, fmt.Errorf("actor name %q already in use", name))
	}

	compiled, err := r.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return 0, errors.Install(name, fmt.Errorf("compile: %w", err))
	}

	r.next++
	a := &actor{
		id:       r.next,
		name:     name,
		compiled: compiled,
		initArg:  bytes.Clone(arg),
		version:  1,
	}
	if err := r.start(ctx, a); err != nil {
		_ = compiled.Close(ctx)
		return 0, errors.Install(name, err)
	}

	r.actors[a.id] = a
	r.byName[name] = a.id
	Logger().Info("installed actor",
		zap.String("actor", name),
		zap.Stringer("id", a.id),
		zap.Int("module_size", len(wasm)))
	return a.id, nil
}

// Update runs an update method. A reply or reject is a CallResult; the
// error is reserved for failures of the replica itself.
func (r *Replica) Update(ctx context.Context, id ActorID, method string, payload []byte) (*CallResult, error) {
	return r.call(ctx, id, kindUpdate, method, payload)
}

// Query runs a query method. Queries are not journaled, so state they
// write does not survive an instance rebuild.
func (r *Replica) Query(ctx context.Context, id ActorID, method string, payload []byte) (*CallResult, error) {
	return r.call(ctx, id, kindQuery, method, payload)
}

func (r *Replica) call(ctx context.Context, id ActorID, kind callKind, method string, payload []byte) (*CallResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, errors.CallDispatch(id.String(), method, ErrClosed)
	}
	a, ok := r.actors[id]
	if !ok {
		return nil, errors.CallDispatch(id.String(), method, ErrUnknownActor)
	}
	if a.instance == nil {
		if err := r.rebuild(ctx, a); err != nil {
			return nil, errors.CallDispatch(a.name, method, err)
		}
	}

	fn := lookup(a, kind, method)
	if fn == nil {
		res := rejected(CanisterMethodNotFound, "canister %s has no %s method %q", a.name, kind, method)
		res.Generation = a.gen
		return res, nil
	}
	def := fn.Definition()
	if len(def.ParamTypes()) != 0 || len(def.ResultTypes()) != 0 {
		res := rejected(CanisterContractViolation, "method %q must have type [] -> []", method)
		res.Generation = a.gen
		return res, nil
	}

	arg := bytes.Clone(payload)
	now := r.clock()
	res, lost, err := r.invoke(ctx, a, fn, kind, method, arg, now)
	if lost {
		if rerr := r.rebuild(context.WithoutCancel(ctx), a); rerr != nil {
			return nil, errors.CallDispatch(a.name, method, rerr)
		}
	}
	if err != nil {
		return nil, errors.CallDispatch(a.name, method, err)
	}
	if kind == kindUpdate && !lost {
		r.record(a, message{method: method, arg: arg, time: now})
	}
	res.Generation = a.gen

	if res.Reject != nil {
		Logger().Debug("call rejected",
			zap.String("actor", a.name),
			zap.String("method", method),
			zap.Stringer("code", res.Reject.Code),
			zap.String("message", res.Reject.Message))
	}
	return res, nil
}

func lookup(a *actor, kind callKind, method string) api.Function {
	var names []string
	switch kind {
	case kindUpdate:
		names = []string{"canister_update " + method, "canister_query " + method}
	case kindQuery:
		names = []string{"canister_query " + method, "canister_composite_query " + method}
	}
	for _, n := range names {
		if fn := a.exported(n); fn != nil {
			return fn
		}
	}
	return nil
}

// start instantiates a fresh instance and runs canister_init.
func (r *Replica) start(ctx context.Context, a *actor) error {
	c := r.newCall(a, kindStart, "", nil, r.clock())
	cctx, cancel := r.budget(withCall(ctx, c))
	defer cancel()

	mod, err := r.runtime.InstantiateModule(cctx, a.compiled,
		wazero.NewModuleConfig().WithName("").WithStartFunctions())
	if err != nil {
		return fmt.Errorf("instantiate: %w", err)
	}
	a.instance = mod
	a.gen++

	fn := mod.ExportedFunction("canister_init")
	if fn == nil {
		return nil
	}
	res, lost, err := r.invoke(ctx, a, fn, kindInit, "", a.initArg, r.clock())
	if err == nil && res.Reject != nil {
		err = res.Reject
	}
	if err != nil || lost {
		a.closeInstance(ctx)
		if err == nil {
			err = stderrors.New("instance lost during canister_init")
		}
		return fmt.Errorf("canister_init: %w", err)
	}
	return nil
}

// rebuild replaces the instance and replays the journal so the actor is
// back in the state after its last recorded message.
func (r *Replica) rebuild(ctx context.Context, a *actor) error {
	a.closeInstance(ctx)
	a.reset()
	if err := r.start(ctx, a); err != nil {
		return fmt.Errorf("rebuild: %w", err)
	}
	for i, msg := range a.journal {
		fn := lookup(a, kindUpdate, msg.method)
		if fn == nil {
			return fmt.Errorf("replay message %d: method %q missing", i, msg.method)
		}
		_, lost, err := r.invoke(ctx, a, fn, kindUpdate, msg.method, msg.arg, msg.time)
		if err != nil {
			return fmt.Errorf("replay message %d (%s): %w", i, msg.method, err)
		}
		if lost {
			a.closeInstance(ctx)
			return fmt.Errorf("replay message %d (%s) exceeded the call budget", i, msg.method)
		}
	}
	if a.truncated {
		Logger().Warn("rebuilt actor from a truncated journal, later messages are lost",
			zap.String("actor", a.name),
			zap.Int("replayed", len(a.journal)))
		a.truncated = false
	}
	Logger().Debug("rebuilt actor instance",
		zap.String("actor", a.name),
		zap.Uint64("generation", a.gen),
		zap.Int("replayed", len(a.journal)))
	return nil
}

func (r *Replica) record(a *actor, msg message) {
	if r.cfg.JournalLimit > 0 && len(a.journal) >= r.cfg.JournalLimit {
		if !a.truncated {
			Logger().Warn("journal limit reached, further messages will not be replayed",
				zap.String("actor", a.name),
				zap.Int("limit", r.cfg.JournalLimit))
		}
		a.truncated = true
		return
	}
	a.journal = append(a.journal, msg)
}

func (r *Replica) newCall(a *actor, kind callKind, method string, arg []byte, now uint64) *callContext {
	return &callContext{
		actor:  a,
		kind:   kind,
		method: method,
		arg:    arg,
		caller: r.cfg.Caller,
		time:   now,
		limits: &r.cfg,
	}
}

func (r *Replica) budget(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.CallTimeout < 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.cfg.CallTimeout)
}

// invoke runs one message. lost reports that the instance was closed by
// the runtime and must be rebuilt.
func (r *Replica) invoke(ctx context.Context, a *actor, fn api.Function, kind callKind, method string, arg []byte, now uint64) (res *CallResult, lost bool, err error) {
	c := r.newCall(a, kind, method, arg, now)
	cctx, cancel := r.budget(withCall(ctx, c))
	defer cancel()

	c.started = time.Now()
	_, callErr := fn.Call(cctx)
	elapsed := time.Since(c.started)

	res, lost, err = r.outcome(ctx, c, callErr)
	if res != nil {
		res.Duration = elapsed
	}
	return res, lost, err
}

func (r *Replica) outcome(parent context.Context, c *callContext, err error) (*CallResult, bool, error) {
	if err == nil {
		switch {
		case c.reject != nil:
			return &CallResult{Reject: c.reject}, false, nil
		case c.replied:
			return replied(c.reply), false, nil
		case c.kind&kindReply == 0:
			return replied(nil), false, nil
		}
		return rejected(CanisterDidNotReply, "canister did not reply to the call"), false, nil
	}

	var exit *sys.ExitError
	if stderrors.As(err, &exit) {
		if perr := parent.Err(); perr != nil {
			return nil, true, perr
		}
		if exit.ExitCode() == sys.ExitCodeDeadlineExceeded {
			return rejected(CanisterInstructionLimitExceeded,
				"canister exceeded the %s limit for a single message", r.cfg.CallTimeout), true, nil
		}
		return rejected(CanisterTrapped, "canister exited with code %d", exit.ExitCode()), true, nil
	}

	var te *trapError
	if stderrors.As(err, &te) {
		msg := te.msg
		if te.code == CanisterCalledTrap {
			msg = "canister called ic0.trap with message: " + te.msg
		}
		return &CallResult{Reject: &Reject{Code: te.code, Message: msg}}, false, nil
	}

	var rte runtime.Error
	if stderrors.As(err, &rte) {
		return nil, false, err
	}

	return rejected(CanisterTrapped, "canister trapped: %s", trapMessage(err)), false, nil
}

// trapMessage strips the runtime prefix and stack trace from a trap.
func trapMessage(err error) string {
	msg, _, _ := strings.Cut(err.Error(), "\n")
	return strings.TrimPrefix(msg, "wasm error: ")
}

func (r *Replica) clock() uint64 {
	return uint64(r.now.UnixNano())
}

// Time returns the current replica time.
func (r *Replica) Time() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.now
}

// AdvanceTime moves the clock forward. Negative durations are ignored.
func (r *Replica) AdvanceTime(d time.Duration) {
	if d <= 0 {
		return
	}
	r.mu.Lock()
	r.now = r.now.Add(d)
	r.mu.Unlock()
}

// Generation returns the instance generation of an actor. It increments
// every time the instance is rebuilt.
func (r *Replica) Generation(id ActorID) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.actors[id]
	if !ok {
		return 0, errors.NotFound(errors.PhaseDispatch, "actor", id.String())
	}
	return a.gen, nil
}

// ZeroMemory clears size bytes of an actor's memory 0 starting at offset.
// An actor whose instance waits for a rebuild has nothing to clear.
func (r *Replica) ZeroMemory(id ActorID, offset uint64, size uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.CallDispatch(id.String(), "zero memory", ErrClosed)
	}
	a, ok := r.actors[id]
	if !ok {
		return errors.NotFound(errors.PhaseDispatch, "actor", id.String())
	}
	if a.instance == nil {
		return nil
	}
	mem := a.instance.Memory()
	if mem == nil {
		return errors.InvalidInput(errors.PhaseDispatch,
			fmt.Sprintf("actor %s has no memory", a.name))
	}
	if offset > uint64(mem.Size()) || uint64(size) > uint64(mem.Size())-offset {
		return errors.InvalidInput(errors.PhaseDispatch,
			fmt.Sprintf("range [%d, %d) is outside the %d byte memory of actor %s",
				offset, offset+uint64(size), mem.Size(), a.name))
	}
	if len(r.zeros) < int(size) {
		r.zeros = make([]byte, size)
	}
	mem.Write(uint32(offset), r.zeros[:size])
	return nil
}

// TakeSnapshot records the current point in the actor's history.
func (r *Replica) TakeSnapshot(id ActorID) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.actors[id]
	if !ok {
		return Snapshot{}, errors.NotFound(errors.PhaseDispatch, "actor", id.String())
	}
	if a.truncated {
		return Snapshot{}, errors.InvalidInput(errors.PhaseDispatch,
			fmt.Sprintf("actor %s has a truncated journal", a.name))
	}
	return Snapshot{Actor: id, pos: len(a.journal)}, nil
}

// LoadSnapshot restores an actor to the state it had when the snapshot was
// taken. Messages after the snapshot are forgotten. Restoring with no
// updates since the snapshot is a no-op.
func (r *Replica) LoadSnapshot(ctx context.Context, s Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.CallDispatch(s.Actor.String(), "load snapshot", ErrClosed)
	}
	a, ok := r.actors[s.Actor]
	if !ok {
		return errors.NotFound(errors.PhaseDispatch, "actor", s.Actor.String())
	}
	if s.pos > len(a.journal) {
		return errors.InvalidInput(errors.PhaseDispatch, "snapshot is newer than the actor history")
	}
	if s.pos == len(a.journal) && !a.truncated && a.instance != nil {
		return nil
	}
	a.journal = a.journal[:s.pos]
	a.truncated = false
	if err := r.rebuild(ctx, a); err != nil {
		return errors.CallDispatch(a.name, "load snapshot", err)
	}
	return nil
}

// Lookup returns the id of an installed actor by name.
func (r *Replica) Lookup(name string) (ActorID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byName[name]
	return id, ok
}

// ActorName returns the install name of an actor.
func (r *Replica) ActorName(id ActorID) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.actors[id]
	if !ok {
		return "", false
	}
	return a.name, true
}

// Methods lists the update and query entry points of an actor, sorted by
// name.
func (r *Replica) Methods(id ActorID) ([]Method, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.actors[id]
	if !ok {
		return nil, errors.NotFound(errors.PhaseDispatch, "actor", id.String())
	}
	var out []Method
	for name := range a.compiled.ExportedFunctions() {
		switch {
		case strings.HasPrefix(name, "canister_update "):
			out = append(out, Method{Name: strings.TrimPrefix(name, "canister_update ")})
		case strings.HasPrefix(name, "canister_query "):
			out = append(out, Method{Name: strings.TrimPrefix(name, "canister_query "), Query: true})
		case strings.HasPrefix(name, "canister_composite_query "):
			out = append(out, Method{Name: strings.TrimPrefix(name, "canister_composite_query "), Query: true})
		}
	}
	slices.SortFunc(out, func(x, y Method) int { return strings.Compare(x.Name, y.Name) })
	return out, nil
}

// Close releases every instance and the runtime.
func (r *Replica) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.runtime.Close(ctx)
}
