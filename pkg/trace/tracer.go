package trace

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kode4food/conduit/internal/util"
	"github.com/kode4food/conduit/pkg/api"
)

type (
	// Tracer records flow runs and their step traces
	Tracer struct {
		client redis.UniversalClient
		runs   *Store[*api.FlowRunTrace]
	}

	// RunTracer tracks the persisted state of one run. Every mutation writes
	// the affected step trace and the run trace back to the store
	RunTracer struct {
		tracer *Tracer
		steps  *Store[*api.StepTrace]
		id     api.RunID
		run    *api.FlowRunTrace
		mu     sync.Mutex
	}

	// StepTracer records status, logs, and store writes for one step
	StepTracer struct {
		run   *RunTracer
		index int
	}
)

const (
	RunNamespace  = "flow"
	StepNamespace = "script"
)

var ErrInvalidTransition = errors.New("invalid step status transition")

var stepTransitions = util.StateTransitions[api.StepStatus]{
	api.StepPending:   util.SetOf(api.StepOngoing, api.StepCancelled),
	api.StepOngoing: util.SetOf(
		api.StepSuccess, api.StepFailure, api.StepCancelled,
	),
	api.StepSuccess:   {},
	api.StepFailure:   {},
	api.StepCancelled: {},
}

// NewTracer creates a Tracer that persists through client
func NewTracer(client redis.UniversalClient) *Tracer {
	return &Tracer{
		client: client,
		runs:   NewStore[*api.FlowRunTrace](client, RunNamespace),
	}
}

// Runs returns the store of run traces
func (t *Tracer) Runs() *Store[*api.FlowRunTrace] {
	return t.runs
}

// Steps returns the store of step traces belonging to a run
func (t *Tracer) Steps(id api.RunID) *Store[*api.StepTrace] {
	return NewStore[*api.StepTrace](
		t.client, RunNamespace, string(id), StepNamespace,
	)
}

// Ping checks connectivity to the underlying Redis server
func (t *Tracer) Ping(ctx context.Context) error {
	if err := t.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	return nil
}

// StartRun persists a new run trace and all of its step traces. Step traces
// are written first so that a run is never visible without its steps
func (t *Tracer) StartRun(
	ctx context.Context, run *api.FlowRunTrace,
) (*RunTracer, error) {
	steps := t.Steps(run.ID)
	for _, task := range run.Tasks {
		if err := steps.Set(ctx, task); err != nil {
			return nil, err
		}
	}
	if err := t.runs.Set(ctx, run); err != nil {
		return nil, err
	}
	return &RunTracer{
		tracer: t,
		steps:  steps,
		id:     run.ID,
		run:    run,
	}, nil
}

// RemoveRun deletes a run trace and its step traces, returning whether the
// run existed
func (t *Tracer) RemoveRun(ctx context.Context, id api.RunID) (bool, error) {
	if err := t.Steps(id).Clear(ctx); err != nil {
		return false, err
	}
	return t.runs.Remove(ctx, string(id))
}

// ID returns the identifier of the traced run
func (r *RunTracer) ID() api.RunID {
	return r.id
}

// Trace returns the current state of the run trace
func (r *RunTracer) Trace() *api.FlowRunTrace {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.run
}

// Step returns the tracer for the step at index i, in flow order
func (r *RunTracer) Step(i int) *StepTracer {
	return &StepTracer{run: r, index: i}
}

// Complete stamps the completion time on the run and persists it
func (r *RunTracer) Complete(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.run = r.run.SetCompletedAt(time.Now())
	return r.tracer.runs.Set(ctx, r.run)
}

func (r *RunTracer) update(
	ctx context.Context, i int,
	fn func(*api.StepTrace) (*api.StepTrace, error),
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next, err := fn(r.run.Tasks[i])
	if err != nil {
		return err
	}
	if err := r.steps.Set(ctx, next); err != nil {
		return err
	}
	r.run = r.run.SetTask(i, next)
	return r.tracer.runs.Set(ctx, r.run)
}

// ID returns the step trace identifier
func (s *StepTracer) ID() api.StepID {
	return s.Trace().ID
}

// Trace returns the current state of the step trace
func (s *StepTracer) Trace() *api.StepTrace {
	return s.run.Trace().Tasks[s.index]
}

// SetStatus moves the step to a new status
func (s *StepTracer) SetStatus(ctx context.Context, st api.StepState) error {
	return s.run.update(ctx, s.index,
		func(t *api.StepTrace) (*api.StepTrace, error) {
			from := t.Status.Kind
			if !stepTransitions.CanTransition(from, st.Kind) {
				return nil, fmt.Errorf("%w: %s -> %s",
					ErrInvalidTransition, from, st.Kind)
			}
			return t.SetStatus(st), nil
		},
	)
}

// Log appends a console line to the step's logs
func (s *StepTracer) Log(
	ctx context.Context, kind api.LogKind, content string,
) error {
	return s.run.update(ctx, s.index,
		func(t *api.StepTrace) (*api.StepTrace, error) {
			return t.AddLog(api.LogEntry{
				Kind:    kind,
				Content: StripANSI(content),
			}), nil
		},
	)
}

// SetStore records that the step wrote value under key in the run's store
func (s *StepTracer) SetStore(ctx context.Context, key, value string) error {
	return s.run.update(ctx, s.index,
		func(t *api.StepTrace) (*api.StepTrace, error) {
			return t.SetStore(key, value), nil
		},
	)
}
