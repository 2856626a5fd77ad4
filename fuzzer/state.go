package fuzzer

import (
	"fmt"
	"iter"

	"github.com/wippyai/canfuzz/errors"
	"github.com/wippyai/canfuzz/replica"
)

// Role tells the orchestrator whether to instrument an actor.
type Role uint8

const (
	RoleSupport Role = iota
	RoleCoverageTarget
)

func (r Role) String() string {
	switch r {
	case RoleSupport:
		return "support"
	case RoleCoverageTarget:
		return "coverage"
	}
	return fmt.Sprintf("Role(%d)", uint8(r))
}

// ActorDescriptor describes one actor a fuzz target needs. Its identity
// is assigned once, when the actor is installed.
type ActorDescriptor struct {
	Source   ModuleSource
	Name     string
	InitArg  []byte
	id       replica.ActorID
	Role     Role
	assigned bool
}

// ID returns the assigned identity.
func (d *ActorDescriptor) ID() (replica.ActorID, bool) {
	return d.id, d.assigned
}

// Assign records the identity given by the replica. A second assignment
// fails.
func (d *ActorDescriptor) Assign(id replica.ActorID) error {
	if d.assigned {
		return errors.AlreadyBound(fmt.Sprintf("identity of actor %q", d.Name))
	}
	d.id = id
	d.assigned = true
	return nil
}

// IsCoverageTarget reports whether the actor is instrumented.
func (d *ActorDescriptor) IsCoverageTarget() bool {
	return d.Role == RoleCoverageTarget
}

// FuzzState owns the actors of one fuzz target and the replica they run
// in. The replica is bound once.
type FuzzState struct {
	replica *replica.Replica
	name    string
	actors  []*ActorDescriptor
}

// NewFuzzState creates a state with no replica bound.
func NewFuzzState(name string, actors []*ActorDescriptor) *FuzzState {
	return &FuzzState{name: name, actors: actors}
}

// Name returns the fuzz target name.
func (s *FuzzState) Name() string {
	return s.name
}

// InitState binds the replica.
func (s *FuzzState) InitState(r *replica.Replica) error {
	if s.replica != nil {
		return errors.AlreadyBound(fmt.Sprintf("replica of fuzz state %q", s.name))
	}
	s.replica = r
	return nil
}

// Replica returns the bound replica or nil.
func (s *FuzzState) Replica() *replica.Replica {
	return s.replica
}

// Actors iterates descriptors in declaration order.
func (s *FuzzState) Actors() iter.Seq2[int, *ActorDescriptor] {
	return func(yield func(int, *ActorDescriptor) bool) {
		for i, d := range s.actors {
			if !yield(i, d) {
				return
			}
		}
	}
}

// Len returns the number of descriptors.
func (s *FuzzState) Len() int {
	return len(s.actors)
}

// Names returns actor names in declaration order.
func (s *FuzzState) Names() []string {
	names := make([]string, len(s.actors))
	for i, d := range s.actors {
		names[i] = d.Name
	}
	return names
}

// ActorByName finds a descriptor.
func (s *FuzzState) ActorByName(name string) (*ActorDescriptor, bool) {
	for _, d := range s.actors {
		if d.Name == name {
			return d, true
		}
	}
	return nil, false
}

// ActorID returns the assigned identity of a named actor.
func (s *FuzzState) ActorID(name string) (replica.ActorID, error) {
	d, ok := s.ActorByName(name)
	if !ok {
		return 0, errors.NotFound(errors.PhaseRegistry, "actor", name)
	}
	id, ok := d.ID()
	if !ok {
		return 0, errors.NotInitialized(errors.PhaseRegistry, fmt.Sprintf("identity of actor %q", name))
	}
	return id, nil
}

// CoverageTarget returns the single descriptor marked RoleCoverageTarget.
func (s *FuzzState) CoverageTarget() (*ActorDescriptor, error) {
	var found []*ActorDescriptor
	for _, d := range s.actors {
		if d.IsCoverageTarget() {
			found = append(found, d)
		}
	}
	switch len(found) {
	case 0:
		return nil, errors.NoCoverageTarget(s.name)
	case 1:
		return found[0], nil
	}
	names := make([]string, len(found))
	for i, d := range found {
		names[i] = d.Name
	}
	return nil, errors.MultipleCoverageTargets(s.name, names)
}

// CoverageTargetID returns the assigned identity of the coverage target.
func (s *FuzzState) CoverageTargetID() (replica.ActorID, error) {
	d, err := s.CoverageTarget()
	if err != nil {
		return 0, err
	}
	id, ok := d.ID()
	if !ok {
		return 0, errors.NotInitialized(errors.PhaseRegistry, fmt.Sprintf("identity of coverage target %q", d.Name))
	}
	return id, nil
}

// release unbinds the replica and forgets identities after a failed
// setup, so the state can be initialized again.
func (s *FuzzState) release() *replica.Replica {
	r := s.replica
	s.replica = nil
	for _, d := range s.actors {
		d.id, d.assigned = 0, false
	}
	return r
}
