package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"chainweaver/internal/attr"
	"chainweaver/internal/chain"
	"chainweaver/internal/deps"
)

const modelSchema = "v1"

// modelFile is the YAML layout of a variants model.
//
//	schema_version: v1
//	components:
//	  - name: lib
//	    project: ":lib"
//	    project_dir: lib
//	    variants:
//	      - name: runtime
//	        attributes: {artifactType: jar}
//	        artifacts: [lib/build/lib.jar]
//	    dependencies:
//	      - attributes: {artifactType: jar}
//	        files: [vendor/guava.jar]
//
// Relative paths are resolved against the model file's directory.
type modelFile struct {
	SchemaVersion string           `yaml:"schema_version"`
	Components    []componentEntry `yaml:"components"`
}

type componentEntry struct {
	Name         string            `yaml:"name"`
	Project      string            `yaml:"project"`
	ProjectDir   string            `yaml:"project_dir"`
	Variants     []variantEntry    `yaml:"variants"`
	Dependencies []dependencyEntry `yaml:"dependencies"`
}

type variantEntry struct {
	Name       string         `yaml:"name"`
	Attributes map[string]any `yaml:"attributes"`
	Artifacts  []string       `yaml:"artifacts"`
}

type dependencyEntry struct {
	Attributes map[string]any `yaml:"attributes"`
	Files      []string       `yaml:"files"`
}

// Component is a producer and its variants, in model order.
type Component struct {
	Name     string
	Variants []*chain.Variant
}

// Model is a loaded variants model.
type Model struct {
	Components []Component

	// Upstreams feeds deps.Static.
	Upstreams map[string][]deps.Upstream
}

// Component returns the named component.
func (m *Model) Component(name string) (Component, bool) {
	for _, c := range m.Components {
		if c.Name == name {
			return c, true
		}
	}
	return Component{}, false
}

// LoadModelFile reads and parses the variants model at path.
//
// Unknown fields and trailing documents are rejected.
func LoadModelFile(path string) (*Model, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	var mf modelFile
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&mf); err != nil {
		return nil, fmt.Errorf("parse model %s: %w", path, err)
	}
	var trailing any
	if err := dec.Decode(&trailing); !errors.Is(err, io.EOF) {
		if err == nil {
			return nil, fmt.Errorf("parse model %s: trailing document", path)
		}
		return nil, fmt.Errorf("parse model %s: %w", path, err)
	}
	base, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	m, err := mf.build(base)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", path, err)
	}
	return m, nil
}

func (mf modelFile) build(base string) (*Model, error) {
	if mf.SchemaVersion != "" && mf.SchemaVersion != modelSchema {
		return nil, fmt.Errorf("schema_version %q not supported (want %q)", mf.SchemaVersion, modelSchema)
	}
	if len(mf.Components) == 0 {
		return nil, errors.New("no components")
	}
	m := &Model{Upstreams: make(map[string][]deps.Upstream)}
	seen := make(map[string]bool)
	for i, ce := range mf.Components {
		if ce.Name == "" {
			return nil, fmt.Errorf("components[%d]: name is required", i)
		}
		if seen[ce.Name] {
			return nil, fmt.Errorf("components[%d]: duplicate component %q", i, ce.Name)
		}
		seen[ce.Name] = true

		projectDir := ""
		if ce.Project != "" {
			projectDir = resolve(base, ce.ProjectDir)
		}
		c := Component{Name: ce.Name}
		for j, ve := range ce.Variants {
			attrs, err := attr.FromMap(ve.Attributes)
			if err != nil {
				return nil, fmt.Errorf("components[%d].variants[%d]: %w", i, j, err)
			}
			v := &chain.Variant{
				Name:       ve.Name,
				Component:  ce.Name,
				Project:    ce.Project,
				ProjectDir: projectDir,
				Attributes: attrs,
			}
			for _, a := range ve.Artifacts {
				v.Artifacts = append(v.Artifacts, resolve(base, a))
			}
			c.Variants = append(c.Variants, v)
		}
		for j, de := range ce.Dependencies {
			attrs, err := attr.FromMap(de.Attributes)
			if err != nil {
				return nil, fmt.Errorf("components[%d].dependencies[%d]: %w", i, j, err)
			}
			up := deps.Upstream{Attributes: attrs}
			for _, f := range de.Files {
				up.Files = append(up.Files, resolve(base, f))
			}
			m.Upstreams[ce.Name] = append(m.Upstreams[ce.Name], up)
		}
		m.Components = append(m.Components, c)
	}
	return m, nil
}

// Names returns the component names in sorted order.
func (m *Model) Names() []string {
	out := make([]string, 0, len(m.Components))
	for _, c := range m.Components {
		out = append(out, c.Name)
	}
	sort.Strings(out)
	return out
}

func resolve(base, p string) string {
	if p == "" {
		return base
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(base, p)
}
