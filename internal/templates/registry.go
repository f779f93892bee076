package templates

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/joseph-ayodele/doc-enricher/internal/common"
)

//go:embed default.yaml
var defaultTemplates []byte

// AgentDef describes the conversational agent a stage talks to.
type AgentDef struct {
	Name         string   `yaml:"name"`
	Model        string   `yaml:"model"`
	Tools        []string `yaml:"tools"`
	Instructions string   `yaml:"instructions"`
}

// Template holds the instruction text for one stage. Conversational stages
// use Agent and Message; single-shot stages use Prompt.
type Template struct {
	Stage   string   `yaml:"stage"`
	Agent   AgentDef `yaml:"agent"`
	Message string   `yaml:"message"`
	Prompt  string   `yaml:"prompt"`
}

// Body is the text submitted for the job.
func (t Template) Body() string {
	if strings.TrimSpace(t.Message) != "" {
		return t.Message
	}
	return t.Prompt
}

type file struct {
	Templates []Template `yaml:"templates"`
}

// Registry maps stage ids to instruction templates.
type Registry struct {
	templates map[string]Template
	strict    bool
	logger    *slog.Logger
}

type Option func(*Registry)

// WithStrict controls whether unresolved placeholders fail resolution.
func WithStrict(strict bool) Option {
	return func(r *Registry) { r.strict = strict }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Load parses a YAML template file.
func Load(rd io.Reader, opts ...Option) (*Registry, error) {
	var f file
	dec := yaml.NewDecoder(rd)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, common.NewAppError(common.KindConfig, "decode templates", err)
	}
	r := &Registry{templates: map[string]Template{}, strict: true, logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	for _, t := range f.Templates {
		id := strings.TrimSpace(t.Stage)
		if id == "" {
			return nil, common.NewAppError(common.KindConfig, "template without stage id", common.ErrInvalidInput)
		}
		if strings.TrimSpace(t.Body()) == "" {
			return nil, common.NewAppError(common.KindConfig, fmt.Sprintf("template %q has no message or prompt", id), common.ErrInvalidInput)
		}
		if _, dup := r.templates[id]; dup {
			return nil, common.NewAppError(common.KindConfig, fmt.Sprintf("duplicate template %q", id), common.ErrInvalidInput)
		}
		r.templates[id] = t
	}
	return r, nil
}

// Default returns the embedded template set.
func Default(opts ...Option) (*Registry, error) {
	return Load(bytes.NewReader(defaultTemplates), opts...)
}

// LoadFile reads templates from path, or the embedded set when path is empty.
func LoadFile(path string, opts ...Option) (*Registry, error) {
	if path == "" {
		return Default(opts...)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, common.NewAppError(common.KindConfig, "open templates file", err)
	}
	defer func() { _ = f.Close() }()
	return Load(f, opts...)
}

// Stages lists registered stage ids in sorted order.
func (r *Registry) Stages() []string {
	out := make([]string, 0, len(r.templates))
	for id := range r.templates {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Get returns the raw template for a stage.
func (r *Registry) Get(stageID string) (Template, error) {
	t, ok := r.templates[stageID]
	if !ok {
		return Template{}, common.TemplateMissingError(stageID)
	}
	return t, nil
}

// Resolve renders the stage's job body with bindings.
func (r *Registry) Resolve(stageID string, bindings map[string]string) (string, error) {
	t, err := r.Get(stageID)
	if err != nil {
		return "", err
	}
	return r.Render(stageID, t.Body(), bindings)
}

// ResolveAgent renders the agent definition of a stage with bindings.
func (r *Registry) ResolveAgent(stageID string, bindings map[string]string) (AgentDef, error) {
	t, err := r.Get(stageID)
	if err != nil {
		return AgentDef{}, err
	}
	instr, err := r.Render(stageID, t.Agent.Instructions, bindings)
	if err != nil {
		return AgentDef{}, err
	}
	a := t.Agent
	a.Instructions = instr
	if a.Name == "" {
		a.Name = stageID
	}
	return a, nil
}

// Render substitutes placeholders and applies the strictness policy.
func (r *Registry) Render(stageID, text string, bindings map[string]string) (string, error) {
	out, missing := Substitute(text, bindings)
	if len(missing) == 0 {
		return out, nil
	}
	if r.strict {
		ae := common.ValidationErrorf("template for stage %q has unresolved placeholder %q", stageID, missing[0])
		ae.Key = missing[0]
		return "", ae
	}
	r.logger.Warn("templates.unresolved_placeholders", "stage", stageID, "placeholders", missing)
	return out, nil
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)

// Substitute replaces {{name}} with bindings[name] in a single pass, so bound
// values are never themselves expanded. Unbound placeholders are kept
// verbatim and returned in order of first appearance.
func Substitute(text string, bindings map[string]string) (string, []string) {
	var missing []string
	seen := map[string]bool{}
	out := placeholderRe.ReplaceAllStringFunc(text, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		if v, ok := bindings[name]; ok {
			return v
		}
		if !seen[name] {
			seen[name] = true
			missing = append(missing, name)
		}
		return m
	})
	return out, missing
}
