package fuzzer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/canfuzz/errors"
	"github.com/wippyai/canfuzz/instrument"
	"github.com/wippyai/canfuzz/replica"
)

// Bridge runs one input against the coverage target and reads the map
// back. It is not safe for concurrent use; the orchestrator serializes it.
type Bridge struct {
	replica    *replica.Replica
	classifier *Classifier
	name       string
	layout     instrument.Layout
	target     replica.ActorID
}

// NewBridge creates a bridge for an installed coverage target whose map
// sits at layout.
func NewBridge(r *replica.Replica, target replica.ActorID, name string, layout instrument.Layout, c *Classifier) *Bridge {
	if c == nil {
		c = NewClassifier()
	}
	return &Bridge{
		replica:    r,
		classifier: c,
		target:     target,
		name:       name,
		layout:     layout,
	}
}

// Target returns the coverage target identity.
func (b *Bridge) Target() replica.ActorID {
	return b.target
}

// Edges returns the coverage map size.
func (b *Bridge) Edges() int {
	return int(b.layout.Size)
}

// Layout returns where the map lives in the target's memory.
func (b *Bridge) Layout() instrument.Layout {
	return b.layout
}

// Replica returns the replica the bridge calls into, for harnesses that
// need to talk to support actors.
func (b *Bridge) Replica() *replica.Replica {
	return b.replica
}

// Dispatch clears the coverage map, sends one update call with payload to
// the coverage target, then reads the map and classifies the call. The
// counters read are the hits of this call alone.
func (b *Bridge) Dispatch(ctx context.Context, method string, payload []byte) ExecutionResult {
	gen, err := b.replica.Generation(b.target)
	if err != nil {
		return fatal(b.name, method, err)
	}
	if err := b.replica.ZeroMemory(b.target, b.layout.Base, b.layout.Size); err != nil {
		return fatal(b.name, method, err)
	}

	res, err := b.replica.Update(ctx, b.target, method, payload)
	if err != nil {
		return fatal(b.name, method, err)
	}

	out := ExecutionResult{
		Actor:    b.name,
		Method:   method,
		Reply:    res.Reply,
		Duration: res.Duration,
		Outcome:  b.classifier.Classify(res),
		Code:     res.Code(),
	}
	if res.Rejected() {
		out.Diagnostic = res.Reject.Error()
	}

	cov, err := b.retrieve(ctx)
	switch {
	case err != nil:
		out.CoverageErr = err
		Logger().Warn("coverage retrieval failed",
			zap.String("actor", b.name),
			zap.Error(err))
	case res.Generation != gen:
		// the instance was rebuilt during the call; the map holds replay
		// hits, not this input's
		out.Coverage = make([]byte, len(cov))
	default:
		out.Coverage = cov
	}
	return out
}

// retrieve reads the coverage map through the retrieval export.
func (b *Bridge) retrieve(ctx context.Context) ([]byte, error) {
	res, err := b.replica.Query(ctx, b.target, instrument.CoverageMethod, nil)
	if err != nil {
		return nil, errors.CoverageRetrieval(b.name, "retrieval call failed", err)
	}
	if res.Rejected() {
		return nil, errors.CoverageRetrieval(b.name, "retrieval call rejected", res.Reject)
	}
	if len(res.Reply) != int(b.layout.Size) {
		return nil, errors.CoverageRetrieval(b.name,
			fmt.Sprintf("retrieval returned %d bytes, want %d", len(res.Reply), b.layout.Size), nil)
	}
	return append([]byte{}, res.Reply...), nil
}
