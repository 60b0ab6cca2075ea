package watch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kode4food/caravan"
	"github.com/kode4food/caravan/message"
	"github.com/kode4food/caravan/topic"

	"github.com/kode4food/conduit/pkg/api"
	"github.com/kode4food/conduit/pkg/log"
	"github.com/kode4food/conduit/pkg/trace"
)

type (
	// Watcher announces newly created runs to its consumers
	Watcher struct {
		runs     *trace.Store[*api.FlowRunTrace]
		interval time.Duration
		topic    topic.Topic[*api.RunEvent]
		prod     topic.Producer[*api.RunEvent]
		stop     func()
		mu       sync.Mutex
		closed   sync.Once
	}

	// Consumer receives run events from a Watcher
	Consumer = topic.Consumer[*api.RunEvent]
)

var ErrAlreadyStarted = errors.New("watcher already started")

// New creates a Watcher that polls the run namespace of tracer every
// interval
func New(tracer *trace.Tracer, interval time.Duration) *Watcher {
	t := caravan.NewTopic[*api.RunEvent]()
	return &Watcher{
		runs:     tracer.Runs(),
		interval: interval,
		topic:    t,
		prod:     t.NewProducer(),
	}
}

// NewConsumer returns a consumer that receives every event published
// after it was created. The caller must Close it
func (w *Watcher) NewConsumer() Consumer {
	return w.topic.NewConsumer()
}

// Start begins polling. Runs that already exist are not announced
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stop != nil {
		return ErrAlreadyStarted
	}

	stop, err := w.runs.Subscribe(ctx, w.announce, w.interval)
	if err != nil {
		return err
	}
	w.stop = stop
	slog.Info("Run watcher started",
		slog.Duration("interval", w.interval))
	return nil
}

// Stop ends polling and closes the event stream
func (w *Watcher) Stop() {
	w.mu.Lock()
	stop := w.stop
	w.stop = nil
	w.mu.Unlock()

	if stop != nil {
		stop()
	}
	w.closed.Do(func() {
		w.prod.Close()
		slog.Info("Run watcher stopped")
	})
}

func (w *Watcher) announce(id string) {
	slog.Debug("Run detected",
		log.RunID(id))
	message.Send(w.prod, &api.RunEvent{
		Type:  api.EventTypeRunCreated,
		RunID: api.RunID(id),
	})
}
