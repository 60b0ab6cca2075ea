package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kode4food/conduit/internal/config"
	"github.com/kode4food/conduit/pkg/api"
	"github.com/kode4food/conduit/pkg/flow"
	"github.com/kode4food/conduit/pkg/log"
	"github.com/kode4food/conduit/pkg/trace"
)

type (
	// Engine is the sequential flow runner
	Engine struct {
		tracer  *trace.Tracer
		config  *config.Config
		ctx     context.Context
		cancel  context.CancelFunc
		wg      sync.WaitGroup
		mu      sync.Mutex
		stopped bool
	}

	// RunResult is the outcome of a synchronous run. Trace.Status tells
	// whether the run succeeded; Output is the last successful step output
	RunResult struct {
		Trace  *api.FlowRunTrace
		Output any
	}
)

var (
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")
	ErrEngineStopped   = errors.New("engine stopped")
	ErrTraceFailed     = errors.New("failed to record trace")
)

var _ flow.Invoker = (*Engine)(nil)

// New creates an engine that records runs through tracer
func New(tracer *trace.Tracer, cfg *config.Config) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		tracer: tracer,
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start marks the engine ready to accept runs
func (e *Engine) Start() {
	slog.Info("Engine starting")
}

// Stop cancels in-flight runs and waits for them to finalize their traces
func (e *Engine) Stop() error {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Engine stopped")
		return nil
	case <-time.After(e.config.ShutdownTimeout):
		return ErrShutdownTimeout
	}
}

// Run executes f to completion and returns its final trace
func (e *Engine) Run(
	ctx context.Context, f *flow.Flow, payload any, by api.TriggerTrace,
) (*RunResult, error) {
	if err := e.track(); err != nil {
		return nil, err
	}
	defer e.wg.Done()

	rt, err := e.startRun(ctx, f, by)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(e.ctx, cancel)
	defer stop()

	return newRun(f, rt, payload).execute(runCtx)
}

// Invoke persists a new run of f and executes it in the background,
// returning the run's ID as soon as its trace is visible
func (e *Engine) Invoke(
	ctx context.Context, f *flow.Flow, payload any, by api.TriggerTrace,
) (api.RunID, error) {
	if err := e.track(); err != nil {
		return "", err
	}

	rt, err := e.startRun(ctx, f, by)
	if err != nil {
		e.wg.Done()
		return "", err
	}

	go func() {
		defer e.wg.Done()
		if _, err := newRun(f, rt, payload).execute(e.ctx); err != nil {
			slog.Error("Run aborted",
				log.FlowName(f.Name()),
				log.RunID(rt.ID()),
				log.Error(err))
		}
	}()
	return rt.ID(), nil
}

func (e *Engine) track() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return ErrEngineStopped
	}
	e.wg.Add(1)
	return nil
}

func (e *Engine) startRun(
	ctx context.Context, f *flow.Flow, by api.TriggerTrace,
) (*trace.RunTracer, error) {
	run := api.NewRunTrace(f.Name(), f.StepNames(), by)
	rt, err := e.tracer.StartRun(context.WithoutCancel(ctx), run)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTraceFailed, err)
	}
	slog.Info("Run started",
		log.FlowName(f.Name()),
		log.RunID(run.ID))
	return rt, nil
}
