package fuzzer

import "bytes"

// ActorBuilder provides fluent construction of descriptors.
type ActorBuilder struct {
	d ActorDescriptor
}

// NewActor starts a support actor descriptor.
func NewActor(name string) *ActorBuilder {
	return &ActorBuilder{d: ActorDescriptor{Name: name, Role: RoleSupport}}
}

// WithPath reads the module from a file.
func (b *ActorBuilder) WithPath(path string) *ActorBuilder {
	b.d.Source = PathSource{Path: path}
	return b
}

// WithEnv reads the module from the file named by an environment variable.
func (b *ActorBuilder) WithEnv(name string) *ActorBuilder {
	b.d.Source = EnvSource{Var: name}
	return b
}

// WithBytes uses an in-memory module.
func (b *ActorBuilder) WithBytes(wasm []byte) *ActorBuilder {
	b.d.Source = BytesSource{Wasm: bytes.Clone(wasm)}
	return b
}

// WithSource sets an arbitrary source.
func (b *ActorBuilder) WithSource(src ModuleSource) *ActorBuilder {
	b.d.Source = src
	return b
}

// WithInitArg sets the argument passed to canister_init.
func (b *ActorBuilder) WithInitArg(arg []byte) *ActorBuilder {
	b.d.InitArg = bytes.Clone(arg)
	return b
}

// AsCoverage marks the actor as the coverage target.
func (b *ActorBuilder) AsCoverage() *ActorBuilder {
	b.d.Role = RoleCoverageTarget
	return b
}

// Build returns the descriptor.
func (b *ActorBuilder) Build() *ActorDescriptor {
	d := b.d
	return &d
}

// StateBuilder collects descriptors for a FuzzState.
type StateBuilder struct {
	name   string
	actors []*ActorDescriptor
}

// NewState starts a fuzz state.
func NewState(name string) *StateBuilder {
	return &StateBuilder{name: name}
}

// WithActor appends a descriptor.
func (b *StateBuilder) WithActor(d *ActorDescriptor) *StateBuilder {
	b.actors = append(b.actors, d)
	return b
}

// Build returns the state.
func (b *StateBuilder) Build() *FuzzState {
	return NewFuzzState(b.name, b.actors)
}
