package isolate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kode4food/conduit/pkg/api"
)

type (
	// Sink receives console lines and protocol notes produced while a unit
	// runs
	Sink func(kind api.LogKind, message string)

	// Result is the outcome of a unit that did not fail. When Cancelled is
	// set, Value and Raw are empty and Reason explains the cancellation
	Result struct {
		Value       any
		Raw         json.RawMessage
		Cancelled   bool
		Reason      string
		CompletedAt time.Time
	}

	// HandlerError is a failure reported by a step handler
	HandlerError struct {
		Message string
		Stack   string
	}
)

var (
	ErrProtocol        = errors.New("step protocol violation")
	ErrNotSerializable = errors.New("run context is not serializable")
	ErrUnitExited      = errors.New("unit exited before completing")
	ErrSpawn           = errors.New("failed to start unit")
)

const timeLayout = time.RFC3339Nano

// Invoke runs one step on a fresh unit created by f. Handler failures are
// returned as *HandlerError; protocol violations wrap ErrProtocol. The unit
// is always terminated before Invoke returns
func Invoke(
	ctx context.Context, f Factory, rc *api.RunContext, sink Sink,
) (*Result, error) {
	payload, err := json.Marshal(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %w", ErrProtocol, ErrNotSerializable, err)
	}

	unit, err := f(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpawn, err)
	}
	defer unit.Terminate()

	if err := unit.Send(pingFrame); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}

	ready := false
	for {
		var frame []byte
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case fr, ok := <-unit.Frames():
			if !ok {
				return nil, fmt.Errorf("%w: %w", ErrProtocol, ErrUnitExited)
			}
			frame = fr
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if isFrame(frame, pongFrame) {
			if ready {
				continue
			}
			ready = true
			if err := unit.Send(payload); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
			}
			continue
		}

		var m Message
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
		}

		switch m.Kind {
		case KindReady:
			if !ready {
				ready = true
				if err := unit.Send(payload); err != nil {
					return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
				}
			}
		case KindConsole:
			kind := m.LogType
			if kind == "" {
				kind = api.LogLog
			}
			sink(kind, m.Message)
		case KindSuccess:
			return succeeded(&m, sink)
		case KindCancelled:
			return cancelled(&m, sink), nil
		case KindFailure:
			return nil, failed(&m, sink)
		default:
			return nil, fmt.Errorf("%w: unknown message kind %q",
				ErrProtocol, m.Kind)
		}
	}
}

func succeeded(m *Message, sink Sink) (*Result, error) {
	raw := m.Result
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	at := completedAt(m)
	sink(api.LogInfo, "Task finished at "+at.Format(timeLayout))
	return &Result{
		Value:       value,
		Raw:         raw,
		CompletedAt: at,
	}, nil
}

func cancelled(m *Message, sink Sink) *Result {
	at := completedAt(m)
	sink(api.LogWarn, "Task cancelled at "+at.Format(timeLayout))
	if m.Reason != "" {
		sink(api.LogWarn, "Cancel reason: "+m.Reason)
	}
	return &Result{
		Cancelled:   true,
		Reason:      m.Reason,
		CompletedAt: at,
	}
}

func failed(m *Message, sink Sink) error {
	at := completedAt(m)
	sink(api.LogError, "Task failed at "+at.Format(timeLayout))
	if m.Error == nil {
		return &HandlerError{Message: "step failed without an error"}
	}
	return &HandlerError{Message: m.Error.Message, Stack: m.Error.Stack}
}

func completedAt(m *Message) time.Time {
	if m.CompletedAt > 0 {
		return time.UnixMilli(m.CompletedAt)
	}
	return time.Now()
}

// Error implements the error interface
func (e *HandlerError) Error() string {
	return e.Message
}
