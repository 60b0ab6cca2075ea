package api

import "maps"

// RunContext is the state threaded through the steps of a single run. Prev
// holds the output of the most recent successful step (initially the trigger
// payload), Store accumulates named step outputs, and Trigger keeps the
// original payload unchanged for the whole run
type RunContext struct {
	Prev      any            `json:"prev"`
	Store     map[string]any `json:"store"`
	Trigger   any            `json:"trigger"`
	Cancelled bool           `json:"cancelled"`
}

// NewRunContext creates the initial context for a run triggered by payload
func NewRunContext(payload any) *RunContext {
	return &RunContext{
		Prev:    payload,
		Store:   map[string]any{},
		Trigger: payload,
	}
}

// SetPrev returns a new RunContext with the previous output replaced
func (c *RunContext) SetPrev(v any) *RunContext {
	res := *c
	res.Prev = v
	return &res
}

// SetStored returns a new RunContext with value recorded under key
func (c *RunContext) SetStored(key string, v any) *RunContext {
	res := *c
	res.Store = maps.Clone(c.Store)
	if res.Store == nil {
		res.Store = map[string]any{}
	}
	res.Store[key] = v
	return &res
}

// SetCancelled returns a new RunContext marked as cancelled
func (c *RunContext) SetCancelled() *RunContext {
	res := *c
	res.Cancelled = true
	return &res
}
