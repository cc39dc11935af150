package registry

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"chainweaver/internal/attr"
	"chainweaver/internal/core"
)

const SupportedSchema = "v1"

// File is the YAML layout of a transforms file.
//
//	schema_version: v1
//	attributes:
//	  usage: {preferred: runtime}
//	  level: {compatibility: at-most}
//	transforms:
//	  - name: unzip
//	    from: {artifactType: zip}
//	    to: {artifactType: directory}
//	    run: unzip -q "$INPUT_ARTIFACT" -d .
//	    env: {PATH: /usr/bin:/bin}
//	    outputs: [{dir: .}]
type File struct {
	SchemaVersion string                   `yaml:"schema_version"`
	Attributes    map[string]AttributeRule `yaml:"attributes"`
	Transforms    []TransformEntry         `yaml:"transforms"`
}

// AttributeRule configures matching for one attribute.
type AttributeRule struct {
	// Compatibility is one of equal (default), any, at-most or at-least. The
	// ordered rules compare integers: at-most accepts produced values not
	// greater than the requested one.
	Compatibility string `yaml:"compatibility"`

	// Preferred is favoured during disambiguation when the consumer did not
	// request the attribute.
	Preferred any `yaml:"preferred"`
}

// TransformEntry is one transform in a transforms file.
type TransformEntry struct {
	Name                 string            `yaml:"name"`
	From                 map[string]any    `yaml:"from"`
	To                   map[string]any    `yaml:"to"`
	Run                  string            `yaml:"run"`
	Env                  map[string]string `yaml:"env"`
	Outputs              []core.OutputDecl `yaml:"outputs"`
	RequiresDependencies bool              `yaml:"requires_dependencies"`
	Incremental          bool              `yaml:"incremental"`
	Cacheable            *bool             `yaml:"cacheable"`
	Normalization        string            `yaml:"normalization"`
}

// Catalog is a loaded transforms file.
type Catalog struct {
	Registry *Registry
	Schema   *attr.Schema
}

// LoadFile reads and parses a transforms file.
func LoadFile(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Load(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Load parses a transforms file and registers its transforms in file order.
func Load(r io.Reader) (*Catalog, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parsing transforms: %w", err)
	}
	if f.SchemaVersion == "" {
		f.SchemaVersion = SupportedSchema
	}
	if f.SchemaVersion != SupportedSchema {
		return nil, fmt.Errorf("schema_version %q not supported (want %q)", f.SchemaVersion, SupportedSchema)
	}

	schema, err := BuildSchema(f.Attributes)
	if err != nil {
		return nil, err
	}

	reg := New()
	for i, t := range f.Transforms {
		def, err := t.definition()
		if err != nil {
			return nil, fmt.Errorf("transforms[%d]: %w", i, err)
		}
		if _, err := reg.Register(def); err != nil {
			return nil, fmt.Errorf("transforms[%d]: %w", i, err)
		}
	}
	return &Catalog{Registry: reg, Schema: schema}, nil
}

func (t TransformEntry) definition() (Definition, error) {
	from, err := attr.FromMap(t.From)
	if err != nil {
		return Definition{}, fmt.Errorf("from: %w", err)
	}
	to, err := attr.FromMap(t.To)
	if err != nil {
		return Definition{}, fmt.Errorf("to: %w", err)
	}
	norm, err := core.ParsePathNormalization(t.Normalization)
	if err != nil {
		return Definition{}, err
	}
	if strings.TrimSpace(t.Run) == "" {
		return Definition{}, fmt.Errorf("transform %q: run is required", t.Name)
	}
	cacheable := true
	if t.Cacheable != nil {
		cacheable = *t.Cacheable
	}
	return Definition{
		Name: t.Name,
		From: from,
		To:   to,
		Action: &core.CommandAction{
			Name:    t.Name,
			Run:     t.Run,
			Env:     t.Env,
			Outputs: t.Outputs,
		},
		RequiresDependencies: t.RequiresDependencies,
		Incremental:          t.Incremental,
		Cacheable:            cacheable,
		Normalization:        norm,
	}, nil
}

// BuildSchema turns attribute rules into a matcher.
func BuildSchema(rules map[string]AttributeRule) (*attr.Schema, error) {
	schema := attr.NewSchema()
	for name, rule := range rules {
		var r attr.Rule
		switch strings.ToLower(strings.TrimSpace(rule.Compatibility)) {
		case "", "equal":
		case "any":
			r.Compatible = func(attr.Value, attr.Value) bool { return true }
		case "at-most":
			r.Compatible = compareInts(func(requested, produced int64) bool { return produced <= requested })
		case "at-least":
			r.Compatible = compareInts(func(requested, produced int64) bool { return produced >= requested })
		default:
			return nil, fmt.Errorf("attribute %q: unknown compatibility %q", name, rule.Compatibility)
		}
		if rule.Preferred != nil {
			v, err := attr.ParseValue(rule.Preferred)
			if err != nil {
				return nil, fmt.Errorf("attribute %q: preferred: %w", name, err)
			}
			r.Preferred = v
		}
		schema.Attribute(name, r)
	}
	return schema, nil
}

// compareInts applies cmp to integer values and falls back to equality for
// anything else.
func compareInts(cmp func(requested, produced int64) bool) func(requested, produced attr.Value) bool {
	return func(requested, produced attr.Value) bool {
		r, rok := requested.AsInt()
		p, pok := produced.AsInt()
		if !rok || !pok {
			return requested.Equal(produced)
		}
		return cmp(r, p)
	}
}
