package flow

import (
	"github.com/kode4food/conduit/pkg/isolate"
)

// Step is a named unit of work in a flow. Each invocation runs on a fresh
// isolated unit created by the step's factory
type Step struct {
	unit     isolate.Factory
	err      error
	name     string
	storeKey string
}

// NewStep creates a step that runs h on its own goroutine
func NewStep(name string, h isolate.Handler) *Step {
	var unit isolate.Factory
	if h != nil {
		unit = isolate.GoUnit(h)
	}
	return NewUnitStep(name, unit)
}

// NewLuaStep creates a step that runs a sandboxed Lua script. Compile errors
// are reported when the flow is built
func NewLuaStep(name, src string) *Step {
	script, err := isolate.CompileLua(src)
	if err != nil {
		return &Step{name: name, err: err}
	}
	return NewUnitStep(name, isolate.LuaUnit(script))
}

// NewProcessStep creates a step that runs in a child process speaking the
// frame protocol over stdin and stdout
func NewProcessStep(name string, fn isolate.CommandFunc) *Step {
	var unit isolate.Factory
	if fn != nil {
		unit = isolate.ProcessUnit(fn)
	}
	return NewUnitStep(name, unit)
}

// NewUnitStep creates a step from any unit factory
func NewUnitStep(name string, unit isolate.Factory) *Step {
	return &Step{name: name, unit: unit}
}

// StoreAs returns a copy of the step that records its output in the run's
// store under key
func (s *Step) StoreAs(key string) *Step {
	res := *s
	res.storeKey = key
	return &res
}

// Name returns the step name
func (s *Step) Name() string {
	return s.name
}

// StoreKey returns the store key, or an empty string when the output is not
// stored
func (s *Step) StoreKey() string {
	return s.storeKey
}

// Unit returns the factory that spawns the step's isolated unit
func (s *Step) Unit() isolate.Factory {
	return s.unit
}
