package registry

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainweaver/internal/attr"
	"chainweaver/internal/core"
)

func action(name string) core.Action { return &core.FuncAction{Name: name} }

func TestRegister_KeepsOrderAndRejectsInvalid(t *testing.T) {
	r := New()
	a, err := r.Register(Definition{Name: "a", From: attr.Of("colour", "red"), To: attr.Of("colour", "blue"), Action: action("a")})
	require.NoError(t, err)
	b, err := r.Register(Definition{Name: "b", From: attr.Of("colour", "blue"), To: attr.Of("colour", "green"), Action: action("b")})
	require.NoError(t, err)

	assert.Equal(t, 0, a.Index())
	assert.Equal(t, 1, b.Index())
	assert.Equal(t, []*Definition{a, b}, r.Definitions())
	assert.Equal(t, core.NormalizeAbsolute, a.Normalization)

	_, err = r.Register(Definition{Name: "a", From: attr.Of("x", 1), To: attr.Of("x", 2), Action: action("a2")})
	assert.True(t, errors.Is(err, ErrDuplicateName))

	_, err = r.Register(Definition{Name: "noop", From: attr.Of("x", 1), To: attr.Of("x", 1), Action: action("noop")})
	assert.True(t, errors.Is(err, ErrNoOp))

	_, err = r.Register(Definition{Name: "noaction", To: attr.Of("x", 1)})
	assert.Error(t, err)

	_, err = r.Register(Definition{Name: "noto", From: attr.Of("x", 1), Action: action("noto")})
	assert.Error(t, err)

	got, ok := r.Lookup("b")
	require.True(t, ok)
	assert.Same(t, b, got)
	assert.Equal(t, 2, r.Len())
}

const transformsYAML = `
schema_version: v1
attributes:
  usage:
    preferred: runtime
  level:
    compatibility: at-most
transforms:
  - name: unzip
    from: {artifactType: zip}
    to: {artifactType: directory}
    run: unzip -q "$INPUT_ARTIFACT" -d .
    env: {PATH: /usr/bin:/bin}
    outputs:
      - dir: .
    normalization: name-only
  - name: index
    from: {artifactType: directory}
    to: {indexed: true}
    run: ls > index.txt
    incremental: true
    requires_dependencies: true
    cacheable: false
    outputs:
      - file: index.txt
`

func TestLoad_BuildsRegistryAndSchema(t *testing.T) {
	c, err := Load(strings.NewReader(transformsYAML))
	require.NoError(t, err)

	defs := c.Registry.Definitions()
	require.Len(t, defs, 2)

	unzip := defs[0]
	assert.Equal(t, "unzip", unzip.Name)
	assert.True(t, unzip.Cacheable)
	assert.Equal(t, core.NormalizeNameOnly, unzip.Normalization)
	assert.Equal(t, "command:unzip", unzip.ActionIdentity())
	cmd, ok := unzip.Action.(*core.CommandAction)
	require.True(t, ok)
	assert.Equal(t, []core.OutputDecl{{Dir: "."}}, cmd.Outputs)

	index := defs[1]
	assert.True(t, index.Incremental)
	assert.True(t, index.RequiresDependencies)
	assert.False(t, index.Cacheable)
	v, _ := index.To.Get("indexed")
	b, _ := v.AsBool()
	assert.True(t, b)

	assert.True(t, c.Schema.IsMatching(attr.Of("level", 8), attr.Of("level", 11)))
	assert.False(t, c.Schema.IsMatching(attr.Of("level", 17), attr.Of("level", 11)))
	got := c.Schema.Disambiguate([]*attr.Set{
		attr.Of("usage", "api"),
		attr.Of("usage", "runtime"),
	}, attr.Empty())
	assert.Equal(t, []int{1}, got)
}

func TestLoad_Errors(t *testing.T) {
	cases := map[string]string{
		"bad version":     "schema_version: v9\n",
		"unknown field":   "transforms:\n  - name: x\n    form: {a: b}\n",
		"missing run":     "transforms:\n  - name: x\n    from: {a: 1}\n    to: {a: 2}\n",
		"bad rule":        "attributes:\n  a: {compatibility: fuzzy}\n",
		"bad normalize":   "transforms:\n  - name: x\n    from: {a: 1}\n    to: {a: 2}\n    run: 'true'\n    normalization: relative\n",
		"duplicate names": "transforms:\n  - {name: x, from: {a: 1}, to: {a: 2}, run: 'true'}\n  - {name: x, from: {a: 2}, to: {a: 3}, run: 'true'}\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad_EmptyDocument(t *testing.T) {
	c, err := Load(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, 0, c.Registry.Len())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transforms.yaml")
	require.NoError(t, os.WriteFile(path, []byte(transformsYAML), 0644))
	c, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Registry.Len())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
