package trace

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kode4food/conduit/internal/util"
	"github.com/kode4food/conduit/pkg/log"
)

// DefaultPollInterval is used when Subscribe is given a non-positive interval
const DefaultPollInterval = time.Second

// Subscribe calls onNewKey once for every entity identifier that appears in
// the namespace after the call. Identifiers present when Subscribe is called
// are never reported, and an identifier that is removed and later recreated
// is not reported again. The returned function stops polling and waits for the
// poller to exit; it must not be called from within onNewKey. Cancelling ctx
// also stops polling
func (s *Store[T]) Subscribe(
	ctx context.Context, onNewKey func(id string), interval time.Duration,
) (func(), error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ids, err := s.IDs(ctx)
	if err != nil {
		return nil, err
	}
	known := util.SetOf(ids...)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.poll(ctx, known, onNewKey)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

func (s *Store[T]) poll(
	ctx context.Context, known util.Set[string], onNewKey func(string),
) {
	ids, err := s.IDs(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("Trace poll failed",
				slog.String("namespace", s.prefix),
				log.Error(err))
		}
		return
	}

	for _, id := range ids {
		if known.Contains(id) {
			continue
		}
		known.Add(id)
		if ctx.Err() != nil {
			return
		}
		onNewKey(id)
	}
}
