package fuzzer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/canfuzz/errors"
	"github.com/wippyai/canfuzz/instrument"
	"github.com/wippyai/canfuzz/replica"
)

// SetupActors creates the replica, installs every actor in declaration
// order, instrumenting the coverage target, and wires the bridge. It is
// the body of DefaultInit and can be called from custom Init methods.
// On error nothing stays installed and the state can be set up again.
func SetupActors(ctx context.Context, o *Orchestrator) (err error) {
	s := o.state
	target, err := s.CoverageTarget()
	if err != nil {
		return err
	}

	r, err := replica.New(ctx, o.cfg.Replica)
	if err != nil {
		return err
	}
	if err := s.InitState(r); err != nil {
		_ = r.Close(ctx)
		return err
	}
	defer func() {
		if err != nil {
			_ = s.release().Close(ctx)
		}
	}()

	var layout instrument.Layout
	for _, d := range s.Actors() {
		if d.Source == nil {
			return errors.New(errors.PhaseSource, errors.KindInvalidInput).
				Actor(d.Name).
				Detail("actor has no module source").
				Build()
		}
		wasm, err := d.Source.Resolve()
		if err != nil {
			return err
		}

		if d.IsCoverageTarget() {
			start := time.Now()
			res, err := instrument.InstrumentContext(ctx, wasm, o.cfg.Instrument)
			if err != nil {
				return err
			}
			wasm, layout = res.Wasm, res.Layout
			Logger().Info("instrumented coverage target",
				zap.String("actor", d.Name),
				zap.Uint32("edges", res.Edges),
				zap.Duration("took", time.Since(start)))
		}

		id, err := r.Install(ctx, d.Name, wasm, d.InitArg)
		if err != nil {
			return err
		}
		if err := d.Assign(id); err != nil {
			return err
		}
		Logger().Debug("actor ready",
			zap.String("actor", d.Name),
			zap.Stringer("role", d.Role),
			zap.Stringer("source", d.Source),
			zap.Stringer("id", id))
	}

	id, _ := target.ID()
	o.bridge = NewBridge(r, id, target.Name, layout, o.cfg.Classifier)
	return nil
}

// DefaultInit is embedded by harnesses whose Init is SetupActors.
type DefaultInit struct{}

// Init implements Harness.
func (DefaultInit) Init(ctx context.Context, o *Orchestrator) error {
	return SetupActors(ctx, o)
}

// MethodHarness sends every input as the payload of one update method.
type MethodHarness struct {
	// Method is the update method to call.
	Method string

	// Isolate restores the coverage target to its state right after Init
	// before every input, so inputs never see each other's effects.
	Isolate bool

	// Tick advances the replica clock before every input.
	Tick time.Duration

	snapshot replica.Snapshot
}

// Init installs the actors and, when isolating, takes the baseline
// snapshot.
func (h *MethodHarness) Init(ctx context.Context, o *Orchestrator) error {
	if err := SetupActors(ctx, o); err != nil {
		return err
	}
	if !h.Isolate {
		return nil
	}
	snap, err := o.bridge.Replica().TakeSnapshot(o.bridge.Target())
	if err != nil {
		return err
	}
	h.snapshot = snap
	return nil
}

// Setup implements SetupHook.
func (h *MethodHarness) Setup(ctx context.Context, b *Bridge) error {
	if h.Tick > 0 {
		b.Replica().AdvanceTime(h.Tick)
	}
	if h.Isolate {
		return b.Replica().LoadSnapshot(ctx, h.snapshot)
	}
	return nil
}

// Execute implements Harness.
func (h *MethodHarness) Execute(ctx context.Context, b *Bridge, input []byte) ExecutionResult {
	return b.Dispatch(ctx, h.Method, input)
}
