package fuzzer

import (
	"bytes"
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/canfuzz/errors"
	"github.com/wippyai/canfuzz/instrument"
	"github.com/wippyai/canfuzz/replica"
)

// State is the orchestrator lifecycle state.
type State uint8

const (
	StateUninitialized State = iota
	StateInitialized
	StateRunning
	StateSingleInputDebug
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateSingleInputDebug:
		return "single_input_debug"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Target executes one input. The orchestrator is the Target handed to
// engines.
type Target interface {
	Execute(ctx context.Context, input []byte) ExecutionResult
}

// Engine owns the mutation loop. Fuzz blocks until the engine stops and
// must call Execute strictly sequentially.
type Engine interface {
	Fuzz(ctx context.Context, target Target, dirs Dirs) error
}

// Harness is the per-target behavior: how to set up the actors and how to
// turn one input into calls.
type Harness interface {
	Init(ctx context.Context, o *Orchestrator) error
	Execute(ctx context.Context, b *Bridge, input []byte) ExecutionResult
}

// SetupHook runs before every input.
type SetupHook interface {
	Setup(ctx context.Context, b *Bridge) error
}

// CleanupHook runs after every input.
type CleanupHook interface {
	Cleanup(ctx context.Context, b *Bridge) error
}

// Config holds orchestrator configuration.
type Config struct {
	// Classifier overrides the default reject classification.
	Classifier *Classifier

	// Now stamps the artifact run directory. Defaults to time.Now.
	Now func() time.Time

	// ArtifactRoot is where run directories are created.
	ArtifactRoot string

	// SeedDir holds initial inputs. Empty means an empty corpus directory
	// inside the run directory.
	SeedDir string

	Replica    replica.Config
	Instrument instrument.Config
}

func (c Config) withDefaults() Config {
	if c.Classifier == nil {
		c.Classifier = NewClassifier()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.ArtifactRoot == "" {
		c.ArtifactRoot = "artifacts"
	}
	return c
}

// Orchestrator drives one fuzz target through its lifecycle:
// Uninitialized -> Initialized -> Running, or Initialized ->
// SingleInputDebug.
type Orchestrator struct {
	harness Harness
	state   *FuzzState
	bridge  *Bridge
	cfg     Config
	dirs    Dirs
	mu      sync.Mutex
	exec    sync.Mutex
	phase   State
}

// New creates an orchestrator in StateUninitialized.
func New(state *FuzzState, h Harness, cfg Config) *Orchestrator {
	return &Orchestrator{
		harness: h,
		state:   state,
		cfg:     cfg.withDefaults(),
	}
}

// State returns the lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// FuzzState returns the actors of this target.
func (o *Orchestrator) FuzzState() *FuzzState {
	return o.state
}

// Bridge returns the execution bridge. It is set by SetupActors and is
// nil before that.
func (o *Orchestrator) Bridge() *Bridge {
	return o.bridge
}

// Dirs returns the artifact layout of the current run.
func (o *Orchestrator) Dirs() Dirs {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dirs
}

// Init runs the harness Init. A failure leaves the orchestrator
// uninitialized with no replica running.
func (o *Orchestrator) Init(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.initLocked(ctx)
}

func (o *Orchestrator) initLocked(ctx context.Context) error {
	if o.phase != StateUninitialized {
		return errors.InvalidState(o.phase.String(), "init")
	}

	start := time.Now()
	err := o.harness.Init(ctx, o)
	if err == nil && o.bridge == nil {
		err = errors.NotInitialized(errors.PhaseLifecycle, "execution bridge")
	}
	if err != nil {
		o.bridge = nil
		if r := o.state.release(); r != nil {
			_ = r.Close(ctx)
		}
		Logger().Error("init failed", zap.String("target", o.state.Name()), zap.Error(err))
		return err
	}

	o.phase = StateInitialized
	Logger().Info("fuzz target initialized",
		zap.String("target", o.state.Name()),
		zap.Strings("actors", o.state.Names()),
		zap.Stringer("coverage_target", o.bridge.Target()),
		zap.Int("edges", o.bridge.Edges()),
		zap.Duration("took", time.Since(start)))
	return nil
}

// Run hands the orchestrator to the engine and blocks until the engine
// returns.
func (o *Orchestrator) Run(ctx context.Context, eng Engine) error {
	o.mu.Lock()
	if o.phase != StateInitialized {
		phase := o.phase
		o.mu.Unlock()
		return errors.InvalidState(phase.String(), "run")
	}
	dirs := NewDirs(o.cfg.ArtifactRoot, o.state.Name(), o.cfg.SeedDir, o.cfg.Now())
	if err := dirs.Create(); err != nil {
		o.mu.Unlock()
		return err
	}
	o.dirs = dirs
	o.phase = StateRunning
	o.mu.Unlock()

	Logger().Info("fuzzing started",
		zap.String("target", o.state.Name()),
		zap.String("artifacts", dirs.Root))
	return eng.Fuzz(ctx, o, dirs)
}

// Execute runs one input. It never fails: panics become Crash results and
// environment failures are reported in ExecutionResult.Fatal.
func (o *Orchestrator) Execute(ctx context.Context, input []byte) (res ExecutionResult) {
	o.exec.Lock()
	defer o.exec.Unlock()

	o.mu.Lock()
	phase, b := o.phase, o.bridge
	o.mu.Unlock()
	if phase == StateUninitialized || b == nil {
		return fatal(o.state.Name(), "execute", errors.InvalidState(phase.String(), "execute"))
	}

	defer func() {
		if p := recover(); p != nil {
			Logger().Error("harness panicked",
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()))
			res = ExecutionResult{
				Actor:      b.name,
				Outcome:    Crash,
				Diagnostic: fmt.Sprintf("harness panic: %v", p),
			}
		}
	}()

	if hook, ok := o.harness.(SetupHook); ok {
		if err := hook.Setup(ctx, b); err != nil {
			return fatal(b.name, "setup", err)
		}
	}

	res = o.harness.Execute(ctx, b, bytes.Clone(input))

	if hook, ok := o.harness.(CleanupHook); ok {
		if err := hook.Cleanup(ctx, b); err != nil && res.Fatal == nil {
			res.Fatal = err
		}
	}
	return res
}

// TestOneInput initializes if needed and executes exactly one input,
// bypassing the engine. The error is the environment failure, if any.
func (o *Orchestrator) TestOneInput(ctx context.Context, input []byte) (ExecutionResult, error) {
	o.mu.Lock()
	if o.phase == StateUninitialized {
		if err := o.initLocked(ctx); err != nil {
			o.mu.Unlock()
			return ExecutionResult{}, err
		}
	}
	if o.phase != StateInitialized {
		phase := o.phase
		o.mu.Unlock()
		return ExecutionResult{}, errors.InvalidState(phase.String(), "test one input")
	}
	o.phase = StateSingleInputDebug
	o.mu.Unlock()

	res := o.Execute(ctx, input)
	Logger().Info("executed single input",
		zap.Int("size", len(input)),
		zap.Stringer("outcome", res.Outcome),
		zap.String("diagnostic", res.Diagnostic))
	return res, res.Fatal
}

// Close shuts the replica down.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if r := o.state.Replica(); r != nil {
		return r.Close(ctx)
	}
	return nil
}
