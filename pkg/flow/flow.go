package flow

import (
	"errors"
	"fmt"
	"slices"

	"github.com/kode4food/conduit/internal/util"
)

type (
	// Flow is an immutable, named sequence of steps with the triggers that
	// start it
	Flow struct {
		name     string
		triggers []Trigger
		steps    []*Step
	}

	// Builder accumulates the definition of a flow. Every method returns a
	// new Builder, leaving the receiver unchanged
	Builder struct {
		name     string
		triggers []Trigger
		steps    []*Step
	}
)

var (
	ErrFlowNameRequired = errors.New("flow name is required")
	ErrInvalidStep      = errors.New("invalid step")
	ErrDuplicateStep    = errors.New("duplicate step name")
	ErrInvalidTrigger   = errors.New("invalid trigger")
)

// Define starts the definition of a flow
func Define(name string) *Builder {
	return &Builder{name: name}
}

// Trigger returns a copy of the builder with t added to the flow's triggers
func (b *Builder) Trigger(t Trigger) *Builder {
	res := *b
	res.triggers = append(slices.Clone(b.triggers), t)
	return &res
}

// Step returns a copy of the builder with s appended to the flow's steps
func (b *Builder) Step(s *Step) *Builder {
	res := *b
	res.steps = append(slices.Clone(b.steps), s)
	return &res
}

// Build validates the definition and returns the Flow. Building has no side
// effects; the flow does nothing until it is registered and activated
func (b *Builder) Build() (*Flow, error) {
	if b.name == "" {
		return nil, ErrFlowNameRequired
	}

	names := util.Set[string]{}
	for i, s := range b.steps {
		switch {
		case s == nil:
			return nil, fmt.Errorf("%w: step %d of %s is nil",
				ErrInvalidStep, i, b.name)
		case s.err != nil:
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidStep, s.name, s.err)
		case s.name == "":
			return nil, fmt.Errorf("%w: step %d of %s has no name",
				ErrInvalidStep, i, b.name)
		case s.unit == nil:
			return nil, fmt.Errorf("%w: %s has no handler",
				ErrInvalidStep, s.name)
		case names.Contains(s.name):
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStep, s.name)
		}
		names.Add(s.name)
	}

	for i, t := range b.triggers {
		if t == nil {
			return nil, fmt.Errorf("%w: trigger %d of %s is nil",
				ErrInvalidTrigger, i, b.name)
		}
	}

	return &Flow{
		name:     b.name,
		triggers: slices.Clone(b.triggers),
		steps:    slices.Clone(b.steps),
	}, nil
}

// Name returns the flow name
func (f *Flow) Name() string {
	return f.name
}

// Steps returns the flow's steps in execution order
func (f *Flow) Steps() []*Step {
	return slices.Clone(f.steps)
}

// StepNames returns the names of the flow's steps in execution order
func (f *Flow) StepNames() []string {
	res := make([]string, len(f.steps))
	for i, s := range f.steps {
		res[i] = s.name
	}
	return res
}

// Triggers returns the triggers that start the flow
func (f *Flow) Triggers() []Trigger {
	return slices.Clone(f.triggers)
}
