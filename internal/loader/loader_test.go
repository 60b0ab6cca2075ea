package loader_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/conduit/internal/loader"
	"github.com/kode4food/conduit/pkg/flow"
	"github.com/kode4food/conduit/pkg/trigger"
)

const greeterYAML = `
name: greeter
triggers:
  - type: webhook
    path: /hooks/greet
    method: put
    schema:
      - path: name
        type: string
        required: true
steps:
  - name: greet
    lua: |
      return "hello " .. prev.name
    store: greeting
  - name: shout
    lua_file: shout.lua
`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, name), []byte(content), 0o644,
	))
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "greeter.yaml", greeterYAML)
	writeFile(t, dir, "shout.lua", `return string.upper(prev)`)

	f, err := loader.LoadFile(filepath.Join(dir, "greeter.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "greeter", f.Name())
	assert.Equal(t, []string{"greet", "shout"}, f.StepNames())
	assert.Equal(t, "greeting", f.Steps()[0].StoreKey())

	require.Len(t, f.Triggers(), 1)
	info := f.Triggers()[0].Info()
	assert.Equal(t, trigger.TypeWebhook, info.Type)
	assert.Equal(t, "PUT", info.Method)
	assert.Equal(t, "/hooks/greet", info.Path)

	_, issues := f.Triggers()[0].Schema().Validate([]byte(`{}`))
	assert.Len(t, issues, 1)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		err  error
	}{
		{"malformed", "name: [", loader.ErrParse},
		{"no name", "steps: []", flow.ErrFlowNameRequired},
		{
			"unknown trigger",
			"name: x\ntriggers:\n  - type: cron\n",
			loader.ErrUnknownTrigger,
		},
		{
			"trigger path",
			"name: x\ntriggers:\n  - type: webhook\n",
			loader.ErrTriggerPath,
		},
		{
			"field type",
			"name: x\ntriggers:\n  - path: /x\n    schema:\n" +
				"      - path: a\n        type: date\n",
			loader.ErrInvalidFieldType,
		},
		{
			"no source",
			"name: x\nsteps:\n  - name: a\n",
			loader.ErrStepSource,
		},
		{
			"both sources",
			"name: x\nsteps:\n  - name: a\n    lua: return 1\n" +
				"    lua_file: a.lua\n",
			loader.ErrStepSource,
		},
		{
			"lua and command",
			"name: x\nsteps:\n  - name: a\n    lua: return 1\n" +
				"    command: [echo]\n",
			loader.ErrStepSource,
		},
		{
			"missing file",
			"name: x\nsteps:\n  - name: a\n    lua_file: missing.lua\n",
			loader.ErrReadFile,
		},
		{
			"bad lua",
			"name: x\nsteps:\n  - name: a\n    lua: 'return +'\n",
			flow.ErrInvalidStep,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loader.Parse([]byte(tt.yaml), t.TempDir())
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestParseCommandStep(t *testing.T) {
	f, err := loader.Parse([]byte(
		"name: x\nsteps:\n  - name: a\n    command: [./resolver, -v]\n"+
			"    store: user\n",
	), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, f.StepNames())
	assert.Equal(t, "user", f.Steps()[0].StoreKey())
	assert.NotNil(t, f.Steps()[0].Unit())
}

func TestLoadDirSkipsInvalid(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yml", "name: a\nsteps:\n  - name: s\n    lua: return 1\n")
	writeFile(t, dir, "b.yaml", "name: [")
	writeFile(t, dir, "notes.txt", "name: ignored")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.yaml"), 0o755))

	flows, err := loader.LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, "a", flows[0].Name())
}

func TestLoadDirMissing(t *testing.T) {
	flows, err := loader.LoadDir(filepath.Join(t.TempDir(), "nope"))
	assert.NoError(t, err)
	assert.Empty(t, flows)
}

func TestLoadExampleFlows(t *testing.T) {
	flows, err := loader.LoadDir(filepath.Join("..", "..", "examples", "flows"))
	require.NoError(t, err)
	assert.NotEmpty(t, flows)
}
