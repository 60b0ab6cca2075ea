package isolate

import (
	"context"
	"errors"
	"sync"
)

type (
	// Unit is one isolated execution of a step. Frames is closed when the
	// unit exits
	Unit interface {
		Send(frame []byte) error
		Frames() <-chan []byte
		Terminate()
	}

	// Factory spawns a fresh Unit for a single invocation
	Factory func(ctx context.Context) (Unit, error)

	goUnit struct {
		in        chan []byte
		frames    chan []byte
		exited    chan struct{}
		cancel    context.CancelFunc
		terminate sync.Once
	}
)

const frameBuffer = 64

var ErrUnitClosed = errors.New("unit is closed")

// GoUnit runs h on its own goroutine. All data crosses the boundary as JSON,
// so the handler never observes the orchestrator's memory. Terminating the
// unit cancels the handler's context
func GoUnit(h Handler) Factory {
	return func(ctx context.Context) (Unit, error) {
		ctx, cancel := context.WithCancel(ctx)
		u := &goUnit{
			in:     make(chan []byte, 2),
			frames: make(chan []byte, frameBuffer),
			exited: make(chan struct{}),
			cancel: cancel,
		}

		go func() {
			defer close(u.exited)
			defer close(u.frames)
			_ = Serve(ctx, h, u.in, func(frame []byte) error {
				select {
				case u.frames <- frame:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
		}()
		return u, nil
	}
}

func (u *goUnit) Send(frame []byte) error {
	select {
	case u.in <- frame:
		return nil
	case <-u.exited:
		return ErrUnitClosed
	}
}

func (u *goUnit) Frames() <-chan []byte {
	return u.frames
}

func (u *goUnit) Terminate() {
	u.terminate.Do(u.cancel)
}
