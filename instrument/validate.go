package instrument

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
)

// Validator checks that a module compiles.
type Validator interface {
	Validate(ctx context.Context, wasm []byte) error
}

// WazeroValidator validates modules by compiling them with wazero.
// Compiled modules are discarded immediately.
type WazeroValidator struct {
	runtime wazero.Runtime
	once    sync.Once
	mu      sync.Mutex
}

// NewWazeroValidator creates a validator with threads enabled on top of
// the 2.0 core features, matching what the replica accepts.
func NewWazeroValidator() *WazeroValidator {
	return &WazeroValidator{}
}

// Validate implements Validator.
func (v *WazeroValidator) Validate(ctx context.Context, wasm []byte) error {
	v.once.Do(func() {
		cfg := wazero.NewRuntimeConfigInterpreter().
			WithCoreFeatures(api.CoreFeaturesV2 | experimental.CoreFeaturesThreads)
		v.runtime = wazero.NewRuntimeWithConfig(context.Background(), cfg)
	})

	v.mu.Lock()
	defer v.mu.Unlock()
	compiled, err := v.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return err
	}
	return compiled.Close(ctx)
}

// Close releases the underlying runtime.
func (v *WazeroValidator) Close(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.runtime == nil {
		return nil
	}
	return v.runtime.Close(ctx)
}
