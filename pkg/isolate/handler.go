package isolate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kode4food/conduit/pkg/api"
)

type (
	// Handler is the computation performed by a step. The returned value
	// must be JSON-serializable
	Handler func(*Context) (any, error)

	// Context is handed to a Handler. Prev, Store, and Trigger are private
	// copies decoded from the serialized RunContext; changing them has no
	// effect on the run
	Context struct {
		context.Context
		Prev    any
		Store   map[string]any
		Trigger any
		Console *Console

		logger *slog.Logger
		cancel func(reason string)
	}
)

var ErrInputMismatch = errors.New("step input does not match expected type")

// Cancel stops the run. The current step is recorded as cancelled, its
// result (if any) is discarded, and every remaining step is skipped
func (c *Context) Cancel(reason string) {
	c.cancel(reason)
}

// Logger returns a slog.Logger whose records are captured into the step's
// logs
func (c *Context) Logger() *slog.Logger {
	return c.logger
}

// Stored returns the value a previous step stored under key
func (c *Context) Stored(key string) (any, bool) {
	v, ok := c.Store[key]
	return v, ok
}

// Typed adapts a function taking a concrete input type into a Handler. The
// previous step's output is decoded into In at the serialization boundary;
// a value that cannot be decoded fails the step with ErrInputMismatch
func Typed[In, Out any](fn func(*Context, In) (Out, error)) Handler {
	return func(c *Context) (any, error) {
		in, err := Decode[In](c.Prev)
		if err != nil {
			return nil, err
		}
		return fn(c, in)
	}
}

// Decode converts a JSON-shaped value into T
func Decode[T any](v any) (T, error) {
	var res T
	data, err := json.Marshal(v)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrInputMismatch, err)
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return res, fmt.Errorf("%w: %w", ErrInputMismatch, err)
	}
	return res, nil
}

func newContext(
	ctx context.Context, rc *api.RunContext, emit func(api.LogKind, string),
	cancel func(string),
) *Context {
	console := &Console{emit: emit}
	return &Context{
		Context: ctx,
		Prev:    rc.Prev,
		Store:   rc.Store,
		Trigger: rc.Trigger,
		Console: console,
		logger:  slog.New(&consoleHandler{console: console}),
		cancel:  cancel,
	}
}
