package isolate_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/conduit/pkg/api"
	"github.com/kode4food/conduit/pkg/isolate"
)

type (
	logSink struct {
		mu      sync.Mutex
		entries []api.LogEntry
	}

	fakeUnit struct {
		frames chan []byte
		onSend func(u *fakeUnit, frame []byte)
	}
)

func (s *logSink) sink(kind api.LogKind, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, api.LogEntry{Kind: kind, Content: msg})
}

func (s *logSink) contents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []string
	for _, e := range s.entries {
		res = append(res, e.Content)
	}
	return res
}

func TestInvokeSuccess(t *testing.T) {
	rc := api.NewRunContext(map[string]any{"brand": "acme"}).
		SetStored("a", "A-out")
	logs := &logSink{}

	res, err := isolate.Invoke(context.Background(),
		isolate.GoUnit(func(c *isolate.Context) (any, error) {
			prev := c.Prev.(map[string]any)
			stored, _ := c.Stored("a")
			return map[string]any{
				"brand":  prev["brand"],
				"stored": stored,
				"same":   c.Trigger.(map[string]any)["brand"],
			}, nil
		}), rc, logs.sink,
	)
	require.NoError(t, err)
	assert.False(t, res.Cancelled)
	assert.Equal(t, map[string]any{
		"brand": "acme", "stored": "A-out", "same": "acme",
	}, res.Value)
	assert.JSONEq(t,
		`{"brand":"acme","stored":"A-out","same":"acme"}`, string(res.Raw),
	)
	assert.False(t, res.CompletedAt.IsZero())
	require.Len(t, logs.contents(), 1)
	assert.Contains(t, logs.contents()[0], "Task finished at")
}

func TestInvokeNilResult(t *testing.T) {
	res, err := isolate.Invoke(context.Background(),
		isolate.GoUnit(func(*isolate.Context) (any, error) {
			return nil, nil
		}), api.NewRunContext(nil), (&logSink{}).sink,
	)
	require.NoError(t, err)
	assert.Nil(t, res.Value)
	assert.Equal(t, "null", string(res.Raw))
}

func TestInvokeConsoleCapture(t *testing.T) {
	logs := &logSink{}

	_, err := isolate.Invoke(context.Background(),
		isolate.GoUnit(func(c *isolate.Context) (any, error) {
			c.Console.Log("plain", 1, map[string]any{"k": "v"})
			c.Console.Info("info")
			c.Console.Warn("warn")
			c.Console.Debug("debug")
			c.Console.Error(errors.New("error"))
			c.Logger().Info("structured", "count", 2)
			return "ok", nil
		}), api.NewRunContext(nil), logs.sink,
	)
	require.NoError(t, err)

	require.Len(t, logs.entries, 7)
	assert.Equal(t, api.LogEntry{
		Kind: api.LogLog, Content: `plain 1 {"k":"v"}`,
	}, logs.entries[0])
	assert.Equal(t, api.LogInfo, logs.entries[1].Kind)
	assert.Equal(t, api.LogWarn, logs.entries[2].Kind)
	assert.Equal(t, api.LogDebug, logs.entries[3].Kind)
	assert.Equal(t, api.LogEntry{
		Kind: api.LogError, Content: "error",
	}, logs.entries[4])
	assert.Equal(t, api.LogEntry{
		Kind: api.LogInfo, Content: "structured count=2",
	}, logs.entries[5])
}

func TestInvokeTrace(t *testing.T) {
	logs := &logSink{}

	_, err := isolate.Invoke(context.Background(),
		isolate.GoUnit(func(c *isolate.Context) (any, error) {
			c.Console.Trace("here")
			return nil, nil
		}), api.NewRunContext(nil), logs.sink,
	)
	require.NoError(t, err)
	assert.Equal(t, api.LogDebug, logs.entries[0].Kind)
	assert.Contains(t, logs.entries[0].Content, "here\n")
	assert.Contains(t, logs.entries[0].Content, "goroutine")
}

func TestInvokeFailure(t *testing.T) {
	logs := &logSink{}

	res, err := isolate.Invoke(context.Background(),
		isolate.GoUnit(func(*isolate.Context) (any, error) {
			return nil, errors.New("boom")
		}), api.NewRunContext(nil), logs.sink,
	)
	assert.Nil(t, res)

	var he *isolate.HandlerError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "boom", he.Message)
	assert.NotErrorIs(t, err, isolate.ErrProtocol)
	assert.Contains(t, logs.contents()[0], "Task failed at")
}

func TestInvokePanic(t *testing.T) {
	_, err := isolate.Invoke(context.Background(),
		isolate.GoUnit(func(*isolate.Context) (any, error) {
			panic("kaboom")
		}), api.NewRunContext(nil), (&logSink{}).sink,
	)

	var he *isolate.HandlerError
	require.ErrorAs(t, err, &he)
	assert.Contains(t, he.Message, "kaboom")
	assert.Contains(t, he.Message, isolate.ErrHandlerPanicked.Error())
	assert.NotEmpty(t, he.Stack)
}

func TestInvokeCancel(t *testing.T) {
	logs := &logSink{}

	res, err := isolate.Invoke(context.Background(),
		isolate.GoUnit(func(c *isolate.Context) (any, error) {
			c.Cancel("not relevant")
			return "discarded", nil
		}), api.NewRunContext("in"), logs.sink,
	)
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Equal(t, "not relevant", res.Reason)
	assert.Nil(t, res.Value)
	assert.Contains(t, logs.contents()[0], "Task cancelled at")
	assert.Equal(t, "Cancel reason: not relevant", logs.contents()[1])
}

func TestInvokeCancelThenFail(t *testing.T) {
	res, err := isolate.Invoke(context.Background(),
		isolate.GoUnit(func(c *isolate.Context) (any, error) {
			c.Cancel("")
			return nil, errors.New("ignored")
		}), api.NewRunContext(nil), (&logSink{}).sink,
	)
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
}

func TestInvokeIsolatesData(t *testing.T) {
	rc := api.NewRunContext(map[string]any{"k": "v"}).SetStored("a", "x")

	_, err := isolate.Invoke(context.Background(),
		isolate.GoUnit(func(c *isolate.Context) (any, error) {
			c.Store["a"] = "mutated"
			c.Prev.(map[string]any)["k"] = "mutated"
			return nil, nil
		}), rc, (&logSink{}).sink,
	)
	require.NoError(t, err)
	assert.Equal(t, "x", rc.Store["a"])
	assert.Equal(t, "v", rc.Prev.(map[string]any)["k"])
}

func TestInvokeContextNotSerializable(t *testing.T) {
	called := false
	rc := api.NewRunContext(nil).SetStored("bad", make(chan int))

	_, err := isolate.Invoke(context.Background(),
		isolate.GoUnit(func(*isolate.Context) (any, error) {
			called = true
			return nil, nil
		}), rc, (&logSink{}).sink,
	)
	assert.ErrorIs(t, err, isolate.ErrProtocol)
	assert.ErrorIs(t, err, isolate.ErrNotSerializable)
	assert.False(t, called)
}

func TestInvokeResultNotSerializable(t *testing.T) {
	_, err := isolate.Invoke(context.Background(),
		isolate.GoUnit(func(*isolate.Context) (any, error) {
			return func() {}, nil
		}), api.NewRunContext(nil), (&logSink{}).sink,
	)

	var he *isolate.HandlerError
	require.ErrorAs(t, err, &he)
	assert.Contains(t, he.Message, "not serializable")
}

func TestInvokeContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		<-started
		cancel()
	}()

	_, err := isolate.Invoke(ctx,
		isolate.GoUnit(func(c *isolate.Context) (any, error) {
			close(started)
			<-c.Done()
			close(stopped)
			return nil, c.Err()
		}), api.NewRunContext(nil), (&logSink{}).sink,
	)
	assert.ErrorIs(t, err, context.Canceled)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("handler was not terminated")
	}
}

func TestInvokeSpawnError(t *testing.T) {
	_, err := isolate.Invoke(context.Background(),
		func(context.Context) (isolate.Unit, error) {
			return nil, errors.New("no resources")
		}, api.NewRunContext(nil), (&logSink{}).sink,
	)
	assert.ErrorIs(t, err, isolate.ErrSpawn)
}

func TestInvokeUnitExitsEarly(t *testing.T) {
	_, err := isolate.Invoke(context.Background(),
		fakeFactory(func(u *fakeUnit, frame []byte) {
			close(u.frames)
		}), api.NewRunContext(nil), (&logSink{}).sink,
	)
	assert.ErrorIs(t, err, isolate.ErrProtocol)
	assert.ErrorIs(t, err, isolate.ErrUnitExited)
}

func TestInvokeGarbageFrame(t *testing.T) {
	_, err := isolate.Invoke(context.Background(),
		fakeFactory(func(u *fakeUnit, frame []byte) {
			u.frames <- []byte("not json")
		}), api.NewRunContext(nil), (&logSink{}).sink,
	)
	assert.ErrorIs(t, err, isolate.ErrProtocol)
}

func TestInvokeUnknownKind(t *testing.T) {
	_, err := isolate.Invoke(context.Background(),
		fakeFactory(func(u *fakeUnit, frame []byte) {
			u.frames <- []byte(`{"kind":"mystery"}`)
		}), api.NewRunContext(nil), (&logSink{}).sink,
	)
	assert.ErrorIs(t, err, isolate.ErrProtocol)
}

func TestInvokeReadyMessage(t *testing.T) {
	logs := &logSink{}
	var received [][]byte

	res, err := isolate.Invoke(context.Background(),
		fakeFactory(func(u *fakeUnit, frame []byte) {
			received = append(received, frame)
			if len(received) == 1 {
				u.frames <- []byte(`{"kind":"console","message":"booting"}`)
				u.frames <- []byte(`{"kind":"ready"}`)
				return
			}
			u.frames <- []byte(`{"kind":"success","result":{"n":1}}`)
		}), api.NewRunContext("in"), logs.sink,
	)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": float64(1)}, res.Value)
	require.Len(t, received, 2)
	assert.Equal(t, `"ping"`, string(received[0]))
	assert.JSONEq(t,
		`{"prev":"in","store":{},"trigger":"in","cancelled":false}`,
		string(received[1]),
	)
	assert.Equal(t, api.LogEntry{Kind: api.LogLog, Content: "booting"},
		logs.entries[0])
}

func TestTyped(t *testing.T) {
	type input struct {
		Name string `json:"name"`
	}
	h := isolate.Typed(func(_ *isolate.Context, in input) (string, error) {
		return "hello " + in.Name, nil
	})

	res, err := isolate.Invoke(context.Background(), isolate.GoUnit(h),
		api.NewRunContext(map[string]any{"name": "world"}), (&logSink{}).sink,
	)
	require.NoError(t, err)
	assert.Equal(t, "hello world", res.Value)

	_, err = isolate.Invoke(context.Background(), isolate.GoUnit(h),
		api.NewRunContext([]any{1, 2}), (&logSink{}).sink,
	)
	var he *isolate.HandlerError
	require.ErrorAs(t, err, &he)
	assert.Contains(t, he.Message, isolate.ErrInputMismatch.Error())
}

func fakeFactory(onSend func(*fakeUnit, []byte)) isolate.Factory {
	return func(context.Context) (isolate.Unit, error) {
		u := &fakeUnit{
			frames: make(chan []byte, 8),
			onSend: onSend,
		}
		return u, nil
	}
}

func (u *fakeUnit) Send(frame []byte) error {
	u.onSend(u, frame)
	return nil
}

func (u *fakeUnit) Frames() <-chan []byte {
	return u.frames
}

func (u *fakeUnit) Terminate() {}
