package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kode4food/conduit/pkg/api"
	"github.com/kode4food/conduit/pkg/flow"
	"github.com/kode4food/conduit/pkg/isolate"
	"github.com/kode4food/conduit/pkg/log"
	"github.com/kode4food/conduit/pkg/trace"
)

// run carries the mutable state of one flow execution
type run struct {
	flow   *flow.Flow
	tracer *trace.RunTracer
	rc     *api.RunContext
	failed bool
}

func newRun(f *flow.Flow, rt *trace.RunTracer, payload any) *run {
	return &run{
		flow:   f,
		tracer: rt,
		rc:     api.NewRunContext(payload),
	}
}

func (r *run) execute(ctx context.Context) (*RunResult, error) {
	persist := context.WithoutCancel(ctx)

	for i, step := range r.flow.Steps() {
		st := r.tracer.Step(i)
		if err := r.executeStep(ctx, persist, step, st); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTraceFailed, err)
		}
	}

	if err := r.tracer.Complete(persist); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTraceFailed, err)
	}

	res := r.tracer.Trace()
	slog.Info("Run completed",
		log.FlowName(res.Name),
		log.RunID(res.ID),
		log.Status(res.Status))
	return &RunResult{
		Trace:  res,
		Output: r.rc.Prev,
	}, nil
}

func (r *run) executeStep(
	ctx, persist context.Context, step *flow.Step, st *trace.StepTracer,
) error {
	if r.rc.Cancelled || r.failed {
		return st.SetStatus(persist, api.StepState{Kind: api.StepCancelled})
	}

	if err := st.SetStatus(persist, api.StepState{
		Kind: api.StepOngoing,
	}); err != nil {
		return err
	}

	var (
		mu      sync.Mutex
		sinkErr error
	)
	sink := func(kind api.LogKind, msg string) {
		err := st.Log(persist, kind, msg)
		mu.Lock()
		defer mu.Unlock()
		if err != nil && sinkErr == nil {
			sinkErr = err
		}
	}

	res, err := isolate.Invoke(ctx, step.Unit(), r.rc, sink)

	mu.Lock()
	logErr := sinkErr
	mu.Unlock()
	if logErr != nil {
		return logErr
	}

	switch {
	case err != nil:
		return r.stepFailed(persist, step, st, err)
	case res.Cancelled:
		return r.stepCancelled(persist, step, st, res)
	default:
		return r.stepSucceeded(persist, step, st, res)
	}
}

func (r *run) stepSucceeded(
	ctx context.Context, step *flow.Step, st *trace.StepTracer,
	res *isolate.Result,
) error {
	r.rc = r.rc.SetPrev(res.Value)
	if key := step.StoreKey(); key != "" {
		r.rc = r.rc.SetStored(key, res.Value)
		if err := st.SetStore(ctx, key, string(res.Raw)); err != nil {
			return err
		}
	}
	slog.Debug("Step succeeded",
		log.RunID(r.tracer.ID()),
		log.StepName(step.Name()))
	return st.SetStatus(ctx, api.StepState{
		Kind: api.StepSuccess,
		Data: string(res.Raw),
	})
}

func (r *run) stepCancelled(
	ctx context.Context, step *flow.Step, st *trace.StepTracer,
	res *isolate.Result,
) error {
	r.rc = r.rc.SetCancelled()
	slog.Info("Run cancelled by step",
		log.RunID(r.tracer.ID()),
		log.StepName(step.Name()),
		slog.String("reason", res.Reason))
	return st.SetStatus(ctx, api.StepState{Kind: api.StepCancelled})
}

func (r *run) stepFailed(
	ctx context.Context, step *flow.Step, st *trace.StepTracer, err error,
) error {
	r.failed = true
	slog.Warn("Step failed",
		log.RunID(r.tracer.ID()),
		log.StepName(step.Name()),
		log.Error(err))
	return st.SetStatus(ctx, api.StepState{
		Kind:  api.StepFailure,
		Error: err.Error(),
	})
}
