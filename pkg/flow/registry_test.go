package flow_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/conduit/pkg/api"
	"github.com/kode4food/conduit/pkg/flow"
	"github.com/kode4food/conduit/pkg/schema"
)

type (
	stubTrigger struct {
		err        error
		registered []string
	}

	stubInvoker struct{}
)

func (t *stubTrigger) Type() string          { return "stub" }
func (t *stubTrigger) Schema() schema.Schema { return schema.AcceptAny() }

func (t *stubTrigger) Info() *api.TriggerInfo {
	return &api.TriggerInfo{Type: "stub"}
}

func (t *stubTrigger) Register(f *flow.Flow, c flow.Collaborators) error {
	if t.err != nil {
		return t.err
	}
	t.registered = append(t.registered, f.Name())
	return nil
}

func (stubInvoker) Invoke(
	context.Context, *flow.Flow, any, api.TriggerTrace,
) (api.RunID, error) {
	return "run", nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	reg := flow.NewRegistry()
	a := mustBuild(t, flow.Define("a"))
	b := mustBuild(t, flow.Define("b"))

	require.NoError(t, reg.Register(a, b))

	got, ok := reg.Get("a")
	assert.True(t, ok)
	assert.Same(t, a, got)

	_, ok = reg.Get("missing")
	assert.False(t, ok)

	assert.Equal(t, []*flow.Flow{a, b}, reg.Flows())
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := flow.NewRegistry()
	require.NoError(t, reg.Register(mustBuild(t, flow.Define("a"))))

	err := reg.Register(mustBuild(t, flow.Define("a")))
	assert.ErrorIs(t, err, flow.ErrFlowExists)
}

func TestRegistryActivate(t *testing.T) {
	trig := &stubTrigger{}
	reg := flow.NewRegistry()
	require.NoError(t, reg.Register(
		mustBuild(t, flow.Define("a").Trigger(trig)),
		mustBuild(t, flow.Define("b").Trigger(trig)),
	))

	c := flow.Collaborators{Routes: gin.New(), Invoker: stubInvoker{}}
	require.NoError(t, reg.Activate(c))
	assert.Equal(t, []string{"a", "b"}, trig.registered)

	assert.ErrorIs(t, reg.Activate(c), flow.ErrAlreadyActivated)
	assert.ErrorIs(t,
		reg.Register(mustBuild(t, flow.Define("c"))),
		flow.ErrAlreadyActivated,
	)
}

func TestRegistryActivateError(t *testing.T) {
	boom := errors.New("boom")
	reg := flow.NewRegistry()
	require.NoError(t, reg.Register(
		mustBuild(t, flow.Define("a").Trigger(&stubTrigger{err: boom})),
	))

	err := reg.Activate(flow.Collaborators{})
	assert.ErrorIs(t, err, flow.ErrTriggerRegister)
	assert.ErrorIs(t, err, boom)
}

func TestRegistryInfo(t *testing.T) {
	reg := flow.NewRegistry()
	require.NoError(t, reg.Register(mustBuild(t,
		flow.Define("a").
			Trigger(&stubTrigger{}).
			Step(flow.NewStep("A", noop)).
			Step(flow.NewStep("B", noop)),
	)))

	assert.Equal(t, []*api.FlowInfo{{
		Name:     "a",
		Steps:    []string{"A", "B"},
		Triggers: []*api.TriggerInfo{{Type: "stub"}},
	}}, reg.Info())
}

func mustBuild(t *testing.T, b *flow.Builder) *flow.Flow {
	t.Helper()
	f, err := b.Build()
	require.NoError(t, err)
	return f
}
