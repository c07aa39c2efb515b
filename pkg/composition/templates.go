package composition

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/ag-ui/go-dispatch/pkg/tools"
)

//go:embed templates.yaml
var builtinTemplates []byte

// TemplateStep is the skeleton of one plan step.
type TemplateStep struct {
	ID         string                 `yaml:"id" json:"id"`
	Capability tools.Capability       `yaml:"capability" json:"capability"`
	Tool       string                 `yaml:"tool,omitempty" json:"tool,omitempty"`
	Intent     string                 `yaml:"intent,omitempty" json:"intent,omitempty"`
	Parameters map[string]interface{} `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	DependsOn  []string               `yaml:"depends_on,omitempty" json:"dependsOn,omitempty"`
	Optional   bool                   `yaml:"optional,omitempty" json:"optional,omitempty"`
}

// Template is a named multi-step workflow recognized by intent patterns.
type Template struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description"`
	Category    tools.Category `yaml:"category" json:"category"`
	Patterns    []string       `yaml:"patterns" json:"patterns"`
	Steps       []TemplateStep `yaml:"steps" json:"steps"`

	compiled []*regexp.Regexp
}

// RequiredCapabilities lists the capabilities of the non-optional steps.
func (t *Template) RequiredCapabilities() []tools.Capability {
	var caps []tools.Capability
	for _, s := range t.Steps {
		if !s.Optional {
			caps = append(caps, s.Capability)
		}
	}
	return caps
}

// Matches reports whether intent matches any of the template's patterns.
func (t *Template) Matches(intent string) bool {
	for _, re := range t.compiled {
		if re.MatchString(intent) {
			return true
		}
	}
	return false
}

func (t *Template) compile() error {
	if t.Name == "" {
		return fmt.Errorf("template without a name")
	}
	if len(t.Steps) == 0 {
		return fmt.Errorf("template %q has no steps", t.Name)
	}
	t.compiled = t.compiled[:0]
	for _, p := range t.Patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return fmt.Errorf("template %q: bad pattern %q: %w", t.Name, p, err)
		}
		t.compiled = append(t.compiled, re)
	}

	ids := make(map[string]bool, len(t.Steps))
	for _, s := range t.Steps {
		if s.ID == "" || ids[s.ID] {
			return fmt.Errorf("template %q: step ids must be unique and non-empty", t.Name)
		}
		if s.Capability == "" && s.Tool == "" {
			return fmt.Errorf("template %q: step %q needs a capability or a tool", t.Name, s.ID)
		}
		ids[s.ID] = true
	}
	for _, s := range t.Steps {
		for _, dep := range s.DependsOn {
			if !ids[dep] {
				return fmt.Errorf("template %q: step %q depends on unknown step %q", t.Name, s.ID, dep)
			}
		}
	}
	return nil
}

type templateFile struct {
	Templates []*Template `yaml:"templates"`
}

// LoadTemplates parses a YAML template catalog.
func LoadTemplates(r io.Reader) ([]*Template, error) {
	var file templateFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode templates: %w", err)
	}
	for _, t := range file.Templates {
		if err := t.compile(); err != nil {
			return nil, err
		}
	}
	return file.Templates, nil
}

// LoadTemplatesFile parses a YAML template catalog from path.
func LoadTemplatesFile(path string) ([]*Template, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadTemplates(f)
}

// BuiltinTemplates returns the embedded template catalog.
func BuiltinTemplates() ([]*Template, error) {
	var file templateFile
	if err := yaml.Unmarshal(builtinTemplates, &file); err != nil {
		return nil, fmt.Errorf("decode builtin templates: %w", err)
	}
	for _, t := range file.Templates {
		if err := t.compile(); err != nil {
			return nil, err
		}
	}
	return file.Templates, nil
}
