package isolate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/kode4food/conduit/pkg/api"
)

type (
	// Emitter delivers a frame from a unit to the orchestrator
	Emitter func(frame []byte) error

	server struct {
		out  Emitter
		mu   sync.Mutex
		done bool
	}
)

var (
	ErrInputClosed     = errors.New("unit input closed before context")
	ErrHandlerPanicked = errors.New("step handler panicked")
	ErrBadContext      = errors.New("invalid run context frame")
)

// Serve runs the unit side of the protocol: it answers the ping, decodes
// the run context, invokes h, and emits exactly one terminal message. It
// returns once the terminal message has been emitted, the input is closed,
// or ctx is done
func Serve(
	ctx context.Context, h Handler, in <-chan []byte, out Emitter,
) error {
	s := &server{out: out}
	defer s.close()

	for {
		var frame []byte
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fr, ok := <-in:
			if !ok {
				return ErrInputClosed
			}
			frame = fr
		}

		if isFrame(frame, pingFrame) {
			if err := s.emit(pongFrame); err != nil {
				return err
			}
			continue
		}

		var rc api.RunContext
		if err := json.Unmarshal(frame, &rc); err != nil {
			err = fmt.Errorf("%w: %w", ErrBadContext, err)
			s.terminal(failureFrame(&ErrorInfo{Message: err.Error()}))
			return err
		}
		s.run(ctx, h, &rc)
		return nil
	}
}

func (s *server) run(ctx context.Context, h Handler, rc *api.RunContext) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := newContext(ctx, rc,
		func(kind api.LogKind, msg string) {
			_ = s.emit(consoleFrame(kind, msg))
		},
		func(reason string) {
			s.terminal(cancelledFrame(reason))
		},
	)

	res, err := call(h, c)
	if err != nil {
		s.terminal(failureFrame(errorInfo(err)))
		return
	}

	data, err := json.Marshal(res)
	if err != nil {
		s.terminal(failureFrame(&ErrorInfo{
			Message: fmt.Sprintf("result is not serializable: %s", err),
		}))
		return
	}
	s.terminal(successFrame(data))
}

func call(h Handler, c *Context) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = &HandlerError{
				Message: fmt.Sprintf("%s: %v", ErrHandlerPanicked, r),
				Stack:   string(debug.Stack()),
			}
		}
	}()
	return h(c)
}

func errorInfo(err error) *ErrorInfo {
	var he *HandlerError
	if errors.As(err, &he) {
		return &ErrorInfo{Message: he.Message, Stack: he.Stack}
	}
	return &ErrorInfo{Message: err.Error()}
}

// emit sends a non-terminal frame, dropping it once the terminal message
// has been sent
func (s *server) emit(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	return s.out(frame)
}

func (s *server) terminal(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	_ = s.out(frame)
}

func (s *server) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
}
