package flow

import (
	"errors"
	"fmt"
	"sync"

	"github.com/kode4food/conduit/pkg/api"
)

// Registry holds the flows known to a process
type Registry struct {
	byName    map[string]*Flow
	flows     []*Flow
	mu        sync.RWMutex
	activated bool
}

var (
	ErrFlowExists       = errors.New("flow already registered")
	ErrAlreadyActivated = errors.New("registry already activated")
	ErrTriggerRegister  = errors.New("failed to register trigger")
)

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		byName: map[string]*Flow{},
	}
}

// Register adds flows to the registry. Flow names must be unique, and
// flows cannot be added once the registry is activated
func (r *Registry) Register(flows ...*Flow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.activated {
		return ErrAlreadyActivated
	}
	for _, f := range flows {
		if _, ok := r.byName[f.name]; ok {
			return fmt.Errorf("%w: %s", ErrFlowExists, f.name)
		}
		r.byName[f.name] = f
		r.flows = append(r.flows, f)
	}
	return nil
}

// Get returns the flow registered under name
func (r *Registry) Get(name string) (*Flow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.byName[name]
	return f, ok
}

// Flows returns every registered flow in registration order
func (r *Registry) Flows() []*Flow {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Flow(nil), r.flows...)
}

// Info describes every registered flow
func (r *Registry) Info() []*api.FlowInfo {
	flows := r.Flows()
	res := make([]*api.FlowInfo, 0, len(flows))
	for _, f := range flows {
		info := &api.FlowInfo{
			Name:     f.name,
			Steps:    f.StepNames(),
			Triggers: make([]*api.TriggerInfo, 0, len(f.triggers)),
		}
		for _, t := range f.triggers {
			info.Triggers = append(info.Triggers, t.Info())
		}
		res = append(res, info)
	}
	return res
}

// Activate registers every trigger of every flow with c. It may only be
// called once
func (r *Registry) Activate(c Collaborators) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.activated {
		return ErrAlreadyActivated
	}
	r.activated = true

	for _, f := range r.flows {
		for _, t := range f.triggers {
			if err := t.Register(f, c); err != nil {
				return fmt.Errorf("%w: %s %s: %w",
					ErrTriggerRegister, f.name, t.Type(), err)
			}
		}
	}
	return nil
}
