package isolate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/conduit/pkg/api"
	"github.com/kode4food/conduit/pkg/isolate"
)

func runLua(
	t *testing.T, src string, rc *api.RunContext,
) (*isolate.Result, *logSink, error) {
	t.Helper()
	script, err := isolate.CompileLua(src)
	require.NoError(t, err)
	logs := &logSink{}
	res, err := isolate.Invoke(context.Background(),
		isolate.LuaUnit(script), rc, logs.sink,
	)
	return res, logs, err
}

func TestLuaReturnsTable(t *testing.T) {
	rc := api.NewRunContext(map[string]any{"brand": "acme", "n": 2}).
		SetStored("seen", []any{"a", "b"})

	res, _, err := runLua(t, `
		return {
			brand = string.upper(trigger.brand),
			doubled = prev.n * 2,
			half = prev.n / 4,
			count = #store.seen,
			list = { "x", "y" },
			empty = {},
		}
	`, rc)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"brand":   "ACME",
		"doubled": float64(4),
		"half":    0.5,
		"count":   float64(2),
		"list":    []any{"x", "y"},
		"empty":   map[string]any{},
	}, res.Value)
}

func TestLuaScalarResult(t *testing.T) {
	res, _, err := runLua(t, `return "hi " .. prev`, api.NewRunContext("you"))
	require.NoError(t, err)
	assert.Equal(t, "hi you", res.Value)

	res, _, err = runLua(t, `local x = 1`, api.NewRunContext(nil))
	require.NoError(t, err)
	assert.Nil(t, res.Value)
}

func TestLuaLogging(t *testing.T) {
	_, logs, err := runLua(t, `
		print("hello", 1, true, nil)
		log.info("info")
		log.warn("warn")
		log.error("error", { a = 1 })
		log.debug("debug")
		return nil
	`, api.NewRunContext(nil))
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(logs.entries), 5)
	assert.Equal(t, api.LogEntry{
		Kind: api.LogLog, Content: "hello 1 true nil",
	}, logs.entries[0])
	assert.Equal(t, api.LogInfo, logs.entries[1].Kind)
	assert.Equal(t, api.LogWarn, logs.entries[2].Kind)
	assert.Equal(t, api.LogEntry{
		Kind: api.LogError, Content: `error {"a":1}`,
	}, logs.entries[3])
	assert.Equal(t, api.LogDebug, logs.entries[4].Kind)
}

func TestLuaCancel(t *testing.T) {
	res, _, err := runLua(t, `
		cancel("nothing to do")
		return "ignored"
	`, api.NewRunContext(nil))
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Equal(t, "nothing to do", res.Reason)
}

func TestLuaRuntimeError(t *testing.T) {
	_, _, err := runLua(t, `error("boom")`, api.NewRunContext(nil))

	var he *isolate.HandlerError
	require.ErrorAs(t, err, &he)
	assert.Contains(t, he.Message, "boom")
	assert.Contains(t, he.Message, isolate.ErrLuaExecution.Error())
}

func TestLuaSandbox(t *testing.T) {
	res, _, err := runLua(t, `
		return {
			os = os == nil,
			io = io == nil,
			require = require == nil,
			load = load == nil,
		}
	`, api.NewRunContext(nil))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"os": true, "io": true, "require": true, "load": true,
	}, res.Value)
}

func TestLuaStateNotShared(t *testing.T) {
	src := `
		counter = (counter or 0) + 1
		return counter
	`
	for range 2 {
		res, _, err := runLua(t, src, api.NewRunContext(nil))
		require.NoError(t, err)
		assert.Equal(t, float64(1), res.Value)
	}
}

func TestCompileLuaError(t *testing.T) {
	_, err := isolate.CompileLua(`return {`)
	assert.ErrorIs(t, err, isolate.ErrLuaCompile)
}

func TestCompileLuaCached(t *testing.T) {
	a, err := isolate.CompileLua(`return 1`)
	require.NoError(t, err)
	b, err := isolate.CompileLua(`return 1`)
	require.NoError(t, err)
	assert.Same(t, a, b)
}
