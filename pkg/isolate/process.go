package isolate

import (
	"bufio"
	"context"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"

	"github.com/kode4food/conduit/pkg/api"
)

type (
	// CommandFunc builds the command for a child process unit. The command
	// should be bound to ctx with exec.CommandContext
	CommandFunc func(ctx context.Context) *exec.Cmd

	processUnit struct {
		cmd       *exec.Cmd
		stdin     io.WriteCloser
		frames    chan []byte
		cancel    context.CancelFunc
		writeMu   sync.Mutex
		terminate sync.Once
	}

	frameWriter struct {
		w  io.Writer
		mu sync.Mutex
	}
)

const maxFrameSize = 16 * 1024 * 1024

// ProcessUnit runs a step in a child process that speaks newline-delimited
// frames on stdin and stdout. Each line the child writes to stderr is
// reported as an error console message. Terminating the unit kills the
// process
func ProcessUnit(fn CommandFunc) Factory {
	return func(ctx context.Context) (Unit, error) {
		ctx, cancel := context.WithCancel(ctx)
		cmd := fn(ctx)

		stdin, err := cmd.StdinPipe()
		if err != nil {
			cancel()
			return nil, err
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			cancel()
			return nil, err
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			cancel()
			return nil, err
		}
		if err := cmd.Start(); err != nil {
			cancel()
			return nil, err
		}

		u := &processUnit{
			cmd:    cmd,
			stdin:  stdin,
			frames: make(chan []byte, frameBuffer),
			cancel: cancel,
		}

		var wg sync.WaitGroup
		wg.Go(func() {
			scanLines(stdout, func(line []byte) bool {
				return u.deliver(ctx, line)
			})
		})
		wg.Go(func() {
			scanLines(stderr, func(line []byte) bool {
				return u.deliver(ctx, consoleFrame(api.LogError, string(line)))
			})
		})
		go func() {
			wg.Wait()
			_ = cmd.Wait()
			close(u.frames)
		}()
		return u, nil
	}
}

func (u *processUnit) Send(frame []byte) error {
	u.writeMu.Lock()
	defer u.writeMu.Unlock()
	if _, err := u.stdin.Write(withNewline(frame)); err != nil {
		return fmt.Errorf("%w: %w", ErrUnitClosed, err)
	}
	return nil
}

func (u *processUnit) Frames() <-chan []byte {
	return u.frames
}

func (u *processUnit) Terminate() {
	u.terminate.Do(func() {
		u.cancel()
		_ = u.stdin.Close()
		if u.cmd.Process != nil {
			_ = u.cmd.Process.Kill()
		}
	})
}

func (u *processUnit) deliver(ctx context.Context, frame []byte) bool {
	select {
	case u.frames <- frame:
		return true
	case <-ctx.Done():
		return false
	}
}

// ServeProcess is the entry point of a child process unit. It serves h over
// stdin and stdout. While the handler runs, anything written to os.Stdout,
// os.Stderr, or the standard log package is captured and forwarded as
// console messages, so stray output never corrupts the protocol stream
func ServeProcess(h Handler) error {
	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	proto := &frameWriter{w: os.Stdout}
	restore, flush, err := captureOutput(proto)
	if err != nil {
		return err
	}
	defer restore()

	in := make(chan []byte)
	go func() {
		defer close(in)
		scanLines(os.Stdin, func(line []byte) bool {
			select {
			case in <- line:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()

	wrapped := func(c *Context) (any, error) {
		defer flush()
		return h(c)
	}
	return Serve(ctx, wrapped, in, proto.write)
}

func captureOutput(proto *frameWriter) (func(), func(), error) {
	origOut, origErr := os.Stdout, os.Stderr
	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, nil, err
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		_ = outR.Close()
		_ = outW.Close()
		return nil, nil, err
	}

	os.Stdout, os.Stderr = outW, errW
	stdlog.SetOutput(errW)

	var wg sync.WaitGroup
	forward := func(r io.Reader, kind api.LogKind) {
		scanLines(r, func(line []byte) bool {
			_ = proto.write(consoleFrame(kind, string(line)))
			return true
		})
	}
	wg.Go(func() { forward(outR, api.LogLog) })
	wg.Go(func() { forward(errR, api.LogError) })

	var once sync.Once
	flush := func() {
		once.Do(func() {
			os.Stdout, os.Stderr = origErr, origErr
			stdlog.SetOutput(origErr)
			_ = outW.Close()
			_ = errW.Close()
			wg.Wait()
		})
	}
	restore := func() {
		flush()
		os.Stdout = origOut
	}
	return restore, flush, nil
}

func (w *frameWriter) write(frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.w.Write(withNewline(frame))
	return err
}

func scanLines(r io.Reader, fn func([]byte) bool) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		if len(line) == 0 {
			continue
		}
		if !fn(line) {
			return
		}
	}
}

func withNewline(frame []byte) []byte {
	res := make([]byte, 0, len(frame)+1)
	return append(append(res, frame...), '\n')
}
