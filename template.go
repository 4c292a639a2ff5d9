package sandbox

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Template is an immutable declarative description of a sandbox's
// resources and environment. Construct one with NewTemplate (or use one of
// the predefined profiles below), then call Validate before handing it to a
// backend.
type Template struct {
	Name              string            `yaml:"name"`
	Kind              Kind              `yaml:"kind"`
	CPUCores          float64           `yaml:"cpu_cores"`
	MemoryMB          int               `yaml:"memory_mb"`
	DiskMB            int               `yaml:"disk_mb"`
	ExecutionTimeout  float64           `yaml:"execution_timeout_seconds"`
	IdleTimeout       float64           `yaml:"idle_timeout_seconds"`
	StartupTimeout    float64           `yaml:"startup_timeout_seconds"`
	Backend           string            `yaml:"backend"`
	WorkingDir        string            `yaml:"working_dir"`
	Env               map[string]string `yaml:"env"`
	NetworkEnabled    bool              `yaml:"network_enabled"`
	Tags              map[string]string `yaml:"tags"`
}

// NewTemplate returns a Template with the defaults spec'd in §4.2: empty
// tags, empty env, network disabled, backend "auto". Callers then set the
// fields they care about before calling Validate.
func NewTemplate(name string, kind Kind) Template {
	return Template{
		Name:    name,
		Kind:    kind,
		Backend: "auto",
		Env:     map[string]string{},
		Tags:    map[string]string{},
	}
}

// Validate returns the list of violated invariants. An empty slice means
// the template is valid — this is the "validate returns violation strings"
// shape spec.md calls for rather than a single bool, so callers can surface
// every problem at once.
func (t Template) Validate() []string {
	var violations []string
	if t.Name == "" {
		violations = append(violations, "name must not be empty")
	}
	if t.CPUCores <= 0 {
		violations = append(violations, "cpu_cores must be positive")
	}
	if t.MemoryMB <= 0 {
		violations = append(violations, "memory_mb must be positive")
	}
	if t.DiskMB <= 0 {
		violations = append(violations, "disk_mb must be positive")
	}
	if t.ExecutionTimeout <= 0 {
		violations = append(violations, "execution_timeout_seconds must be positive")
	}
	if t.IdleTimeout <= 0 {
		violations = append(violations, "idle_timeout_seconds must be positive")
	}
	if t.StartupTimeout <= 0 {
		violations = append(violations, "startup_timeout_seconds must be positive")
	}
	return violations
}

// IsValid is a convenience wrapper around Validate for callers that only
// need the bool.
func (t Template) IsValid() bool {
	return len(t.Validate()) == 0
}

// ToDocument serializes the template to the textual key/value document
// format §6 calls for. YAML was chosen over the teacher's (absent) config
// format because it is what the rest of this pack reaches for when a
// library needs a human-editable document (alekspetrov-pilot,
// theRebelliousNerd-codenerd both vendor gopkg.in/yaml.v3 for exactly this).
func (t Template) ToDocument() ([]byte, error) {
	return yaml.Marshal(t)
}

// TemplateFromDocument parses a document previously produced by
// ToDocument. Template.from_doc(t.to_doc()) == t is a required round-trip
// law (spec.md §8); keep the struct tags and this function in lockstep.
func TemplateFromDocument(doc []byte) (Template, error) {
	var t Template
	if err := yaml.Unmarshal(doc, &t); err != nil {
		return Template{}, fmt.Errorf("sandbox: parsing template document: %w", err)
	}
	return t, nil
}

// templateConfigDir resolves the directory saved templates live in. Mirrors
// the conventional os.UserConfigDir()-based layout a Go CLI uses rather than
// introducing a config framework the teacher never had.
func templateConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("sandbox: resolving config dir: %w", err)
	}
	dir := filepath.Join(base, "agenticx-sandbox", "templates")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("sandbox: creating template config dir: %w", err)
	}
	return dir, nil
}

// Save writes the template to the config directory under a filename derived
// from its name. Returns ErrInvalidTemplate (wrapped with the violations) if
// the template fails validation first — a saved template must always be
// loadable and usable.
func (t Template) Save() error {
	if violations := t.Validate(); len(violations) > 0 {
		return fmt.Errorf("%w: %v", ErrInvalidTemplate, violations)
	}
	dir, err := templateConfigDir()
	if err != nil {
		return err
	}
	doc, err := t.ToDocument()
	if err != nil {
		return err
	}
	path := filepath.Join(dir, t.Name+".yaml")
	if err := os.WriteFile(path, doc, 0o644); err != nil {
		return fmt.Errorf("sandbox: saving template %q: %w", t.Name, err)
	}
	return nil
}

// LoadTemplate loads a previously saved template by name.
func LoadTemplate(name string) (Template, error) {
	dir, err := templateConfigDir()
	if err != nil {
		return Template{}, err
	}
	path := filepath.Join(dir, name+".yaml")
	doc, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Template{}, &ResourceError{Resource: name, Reason: "template not found"}
		}
		return Template{}, fmt.Errorf("sandbox: loading template %q: %w", name, err)
	}
	return TemplateFromDocument(doc)
}

// ListSavedTemplates returns the names of every template currently saved in
// the config directory.
func ListSavedTemplates() ([]string, error) {
	dir, err := templateConfigDir()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("sandbox: listing saved templates: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		names = append(names, e.Name()[:len(e.Name())-len(ext)])
	}
	return names, nil
}

// Predefined templates, carried over from original_source/'s
// DEFAULT_CODE_INTERPRETER_TEMPLATE / LIGHTWEIGHT_TEMPLATE /
// HIGH_PERFORMANCE_TEMPLATE with matching resource envelopes.

// DefaultTemplate is a balanced profile suitable for general-purpose code
// execution.
func DefaultTemplate() Template {
	return Template{
		Name:             "default-code-interpreter",
		Kind:             KindCodeInterpreter,
		CPUCores:         1.0,
		MemoryMB:         512,
		DiskMB:           1024,
		ExecutionTimeout: 30,
		IdleTimeout:      300,
		StartupTimeout:   30,
		Backend:          "auto",
		Env:              map[string]string{},
		Tags:             map[string]string{"profile": "default"},
	}
}

// LightweightTemplate trades resources for faster startup and a smaller
// footprint — suitable for short, simple scripts.
func LightweightTemplate() Template {
	return Template{
		Name:             "lightweight",
		Kind:             KindCodeInterpreter,
		CPUCores:         0.5,
		MemoryMB:         256,
		DiskMB:           512,
		ExecutionTimeout: 15,
		IdleTimeout:      120,
		StartupTimeout:   15,
		Backend:          "auto",
		Env:              map[string]string{},
		Tags:             map[string]string{"profile": "lightweight"},
	}
}

// HighPerformanceTemplate raises CPU/memory ceilings for workloads that
// need more headroom (data processing, compute-bound code).
func HighPerformanceTemplate() Template {
	return Template{
		Name:             "high-performance",
		Kind:             KindCodeInterpreter,
		CPUCores:         4.0,
		MemoryMB:         4096,
		DiskMB:           8192,
		ExecutionTimeout: 120,
		IdleTimeout:      600,
		StartupTimeout:   60,
		Backend:          "auto",
		Env:              map[string]string{},
		Tags:             map[string]string{"profile": "high-performance"},
	}
}
