package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kode4food/conduit/pkg/flow"
	"github.com/kode4food/conduit/pkg/isolate"
	"github.com/kode4food/conduit/pkg/log"
	"github.com/kode4food/conduit/pkg/schema"
	"github.com/kode4food/conduit/pkg/trigger"
)

type (
	// Definition is the YAML form of a flow
	Definition struct {
		Name     string              `yaml:"name"`
		Triggers []TriggerDefinition `yaml:"triggers"`
		Steps    []StepDefinition    `yaml:"steps"`
	}

	// TriggerDefinition declares how a flow is started
	TriggerDefinition struct {
		Type   string         `yaml:"type"`
		Path   string         `yaml:"path"`
		Method string         `yaml:"method"`
		Schema []schema.Field `yaml:"schema"`
	}

	// StepDefinition declares a Lua step, given inline or by file, or a
	// process step run as an external command
	StepDefinition struct {
		Name    string   `yaml:"name"`
		Lua     string   `yaml:"lua"`
		LuaFile string   `yaml:"lua_file"`
		Command []string `yaml:"command"`
		Store   string   `yaml:"store"`
	}
)

var (
	ErrReadDir          = errors.New("failed to read flows directory")
	ErrReadFile         = errors.New("failed to read flow file")
	ErrParse            = errors.New("failed to parse flow file")
	ErrUnknownTrigger   = errors.New("unknown trigger type")
	ErrTriggerPath      = errors.New("webhook trigger requires a path")
	ErrInvalidFieldType = errors.New("invalid schema field type")
	ErrStepSource       = errors.New(
		"step requires exactly one of lua, lua_file, or command",
	)
)

var extensions = []string{".yaml", ".yml"}

// LoadDir builds every flow defined in dir. Files that fail to load are
// logged and skipped. A missing directory yields no flows
func LoadDir(dir string) ([]*flow.Flow, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Flows directory not found",
			slog.String("dir", dir))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadDir, err)
	}

	var res []*flow.Flow
	for _, e := range entries {
		if e.IsDir() || !isFlowFile(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		f, err := LoadFile(path)
		if err != nil {
			slog.Error("Skipping invalid flow file",
				slog.String("file", path),
				log.Error(err))
			continue
		}
		slog.Info("Flow loaded",
			slog.String("file", path),
			log.FlowName(f.Name()))
		res = append(res, f)
	}
	return res, nil
}

// LoadFile builds the flow defined in the file at path. Relative lua_file
// references resolve against the file's directory
func LoadFile(path string) (*flow.Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadFile, err)
	}
	return Parse(data, filepath.Dir(path))
}

// Parse builds a flow from YAML data, resolving lua_file references
// against baseDir
func Parse(data []byte, baseDir string) (*flow.Flow, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	return def.Build(baseDir)
}

// Build converts the definition into a validated flow
func (d *Definition) Build(baseDir string) (*flow.Flow, error) {
	b := flow.Define(d.Name)
	for _, td := range d.Triggers {
		t, err := td.build()
		if err != nil {
			return nil, err
		}
		b = b.Trigger(t)
	}
	for _, sd := range d.Steps {
		s, err := sd.build(baseDir)
		if err != nil {
			return nil, err
		}
		b = b.Step(s)
	}
	return b.Build()
}

func (t *TriggerDefinition) build() (flow.Trigger, error) {
	typ := t.Type
	if typ == "" {
		typ = trigger.TypeWebhook
	}
	if typ != trigger.TypeWebhook {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTrigger, typ)
	}
	if t.Path == "" {
		return nil, ErrTriggerPath
	}

	var opts []trigger.WebhookOption
	if t.Method != "" {
		opts = append(opts, trigger.WithMethod(t.Method))
	}
	if len(t.Schema) > 0 {
		for _, f := range t.Schema {
			if !f.Type.IsValid() {
				return nil, fmt.Errorf("%w: %s %q",
					ErrInvalidFieldType, f.Path, f.Type)
			}
		}
		opts = append(opts, trigger.WithSchema(schema.Fields(t.Schema...)))
	}
	return trigger.Webhook(t.Path, opts...), nil
}

func (s *StepDefinition) build(baseDir string) (*flow.Step, error) {
	step, err := s.source(baseDir)
	if err != nil {
		return nil, err
	}
	if s.Store != "" {
		step = step.StoreAs(s.Store)
	}
	return step, nil
}

func (s *StepDefinition) source(baseDir string) (*flow.Step, error) {
	sources := 0
	for _, set := range []bool{
		s.Lua != "", s.LuaFile != "", len(s.Command) > 0,
	} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		return nil, fmt.Errorf("%w: %s", ErrStepSource, s.Name)
	}

	switch {
	case len(s.Command) > 0:
		return flow.NewProcessStep(s.Name, command(s.Command, baseDir)), nil
	case s.LuaFile != "":
		data, err := os.ReadFile(resolve(baseDir, s.LuaFile))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrReadFile, err)
		}
		return flow.NewLuaStep(s.Name, string(data)), nil
	default:
		return flow.NewLuaStep(s.Name, s.Lua), nil
	}
}

func command(args []string, dir string) isolate.CommandFunc {
	return func(ctx context.Context) *exec.Cmd {
		cmd := exec.CommandContext(ctx, args[0], args[1:]...)
		cmd.Dir = dir
		return cmd
	}
}

func resolve(baseDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

func isFlowFile(name string) bool {
	return slices.Contains(extensions, strings.ToLower(filepath.Ext(name)))
}
