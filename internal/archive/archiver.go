package archive

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kode4food/conduit/internal/config"
	"github.com/kode4food/conduit/internal/util"
	"github.com/kode4food/conduit/pkg/api"
	"github.com/kode4food/conduit/pkg/log"
	"github.com/kode4food/conduit/pkg/trace"
)

// Archiver periodically moves finished runs older than a maximum age out
// of the trace store
type Archiver struct {
	tracer   *trace.Tracer
	writer   *Writer
	config   config.ArchiveConfig
	archived util.Set[api.RunID]
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
}

var (
	ErrTracerRequired  = errors.New("tracer is required")
	ErrWriterRequired  = errors.New("archive writer is required")
	ErrIntervalInvalid = errors.New("archive interval must be positive")
)

// New creates an Archiver. Call Start to begin the periodic sweep
func New(
	tracer *trace.Tracer, writer *Writer, cfg config.ArchiveConfig,
) (*Archiver, error) {
	if tracer == nil {
		return nil, ErrTracerRequired
	}
	if writer == nil {
		return nil, ErrWriterRequired
	}
	if cfg.Interval <= 0 {
		return nil, ErrIntervalInvalid
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Archiver{
		tracer:   tracer,
		writer:   writer,
		config:   cfg,
		archived: util.Set[api.RunID]{},
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start begins the archiving loop
func (a *Archiver) Start() {
	slog.Info("Archiver starting",
		slog.Duration("interval", a.config.Interval),
		slog.Duration("max_age", a.config.MaxAge))
	a.wg.Go(a.run)
}

// Stop ends the archiving loop and waits for an in-progress sweep
func (a *Archiver) Stop() {
	a.cancel()
	a.wg.Wait()
	slog.Info("Archiver stopped")
}

func (a *Archiver) run() {
	ticker := time.NewTicker(a.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.RunOnce(a.ctx); err != nil &&
				!errors.Is(err, context.Canceled) {
				slog.Warn("Archive sweep failed",
					log.Error(err))
			}
		}
	}
}

// RunOnce archives every eligible run and returns how many were written
func (a *Archiver) RunOnce(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	runs, err := a.tracer.Runs().GetAll(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-a.config.MaxAge)
	present := make(util.Set[api.RunID], len(runs))
	count := 0
	for _, run := range runs {
		present.Add(run.ID)
		if !a.eligible(run, cutoff) {
			continue
		}
		if err := a.archive(ctx, run); err != nil {
			return count, err
		}
		count++
	}
	a.archived.Retain(present)
	return count, nil
}

func (a *Archiver) eligible(run *api.FlowRunTrace, cutoff time.Time) bool {
	if !run.IsTerminal() || run.CompletedAt.IsZero() {
		return false
	}
	if a.archived.Contains(run.ID) {
		return false
	}
	return !run.CompletedAt.After(cutoff)
}

func (a *Archiver) archive(ctx context.Context, run *api.FlowRunTrace) error {
	steps, err := a.tracer.Steps(run.ID).GetAll(ctx)
	if err != nil {
		return err
	}

	if err := a.writer.Write(ctx, &Record{
		Run:   run,
		Steps: orderSteps(run, steps),
	}); err != nil {
		return err
	}

	if a.config.Remove {
		if _, err := a.tracer.RemoveRun(ctx, run.ID); err != nil {
			return err
		}
	} else {
		a.archived.Add(run.ID)
	}

	slog.Info("Run archived",
		log.FlowName(run.Name),
		log.RunID(run.ID),
		slog.Bool("removed", a.config.Remove))
	return nil
}

func orderSteps(
	run *api.FlowRunTrace, steps []*api.StepTrace,
) []*api.StepTrace {
	byID := make(map[api.StepID]*api.StepTrace, len(steps))
	for _, st := range steps {
		byID[st.ID] = st
	}
	res := make([]*api.StepTrace, 0, len(run.Tasks))
	for _, task := range run.Tasks {
		if st, ok := byID[task.ID]; ok {
			res = append(res, st)
		} else {
			res = append(res, task)
		}
	}
	return res
}
