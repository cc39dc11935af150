package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const shoutTransforms = `
schema_version: v1
transforms:
  - name: shout
    from: {format: text}
    to: {format: shouted}
    run: |
      while IFS= read -r line; do echo "$line!"; done < "$INPUT_ARTIFACT" > shouted.txt
    outputs:
      - file: shouted.txt
`

const variantsModel = `
schema_version: v1
components:
  - name: app
    project: ":app"
    project_dir: app
    variants:
      - name: text
        attributes: {format: text}
        artifacts: [app/greeting.txt]
  - name: docs
    variants:
      - name: pdf
        attributes: {format: pdf}
        artifacts: [docs/manual.pdf]
`

type workspace struct {
	dir        string
	transforms string
	variants   string
}

func newWorkspace(t *testing.T, transforms string) workspace {
	t.Helper()
	dir := t.TempDir()
	w := workspace{
		dir:        dir,
		transforms: filepath.Join(dir, "transforms.yaml"),
		variants:   filepath.Join(dir, "variants.yaml"),
	}
	require.NoError(t, os.WriteFile(w.transforms, []byte(transforms), 0644))
	require.NoError(t, os.WriteFile(w.variants, []byte(variantsModel), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "app"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app", "greeting.txt"), []byte("hello\nworld\n"), 0644))
	return w
}

func (w workspace) run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	base := []string{
		"--transforms", w.transforms,
		"--variants", w.variants,
		"--cache-dir", filepath.Join(w.dir, "cache"),
		"--log-level", "error",
	}
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), append(args, base...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestResolve_PrintsChain(t *testing.T) {
	w := newWorkspace(t, shoutTransforms)
	code, out, errOut := w.run(t, "resolve", "--request", "format=shouted")
	require.Equal(t, ExitSuccess, code, errOut)
	assert.Contains(t, out, "shout")
	assert.Contains(t, out, "app")
	assert.NotContains(t, out, "docs")
}

func TestResolve_Explain(t *testing.T) {
	w := newWorkspace(t, shoutTransforms)
	code, out, errOut := w.run(t, "resolve", "--explain", "-r", "format=shouted")
	require.Equal(t, ExitSuccess, code, errOut)
	assert.Contains(t, out, "shout")
	assert.Contains(t, out, "no match")
}

func TestResolve_Ambiguous(t *testing.T) {
	w := newWorkspace(t, shoutTransforms+`
  - name: yell
    from: {format: text}
    to: {format: shouted}
    run: 'true'
`)
	code, _, errOut := w.run(t, "resolve", "--request", "format=shouted")
	assert.Equal(t, ExitSelectionFailure, code)
	assert.Contains(t, errOut, "shout")
	assert.Contains(t, errOut, "yell")
}

func TestResolve_NoComponentMatches(t *testing.T) {
	w := newWorkspace(t, shoutTransforms)
	code, _, _ := w.run(t, "resolve", "--request", "format=video")
	assert.Equal(t, ExitSelectionFailure, code)
}

func TestTransform_ExecutesAndReusesCache(t *testing.T) {
	w := newWorkspace(t, shoutTransforms)
	tracePath := filepath.Join(w.dir, "trace.json")

	code, out, errOut := w.run(t, "transform", "--request", "format=shouted", "--component", "app", "--trace", tracePath)
	require.Equal(t, ExitSuccess, code, errOut)
	assert.Contains(t, out, "shouted.txt")
	assert.Contains(t, out, "false")

	var produced string
	for _, field := range strings.Fields(out) {
		if strings.HasSuffix(field, "shouted.txt") {
			produced = field
		}
	}
	require.NotEmpty(t, produced)
	data, err := os.ReadFile(produced)
	require.NoError(t, err)
	assert.Equal(t, "hello!\nworld!\n", string(data))

	trace, err := os.ReadFile(tracePath)
	require.NoError(t, err)
	assert.Contains(t, string(trace), "TransformExecuted")
	assert.Contains(t, string(trace), "ChainSelected")

	code, out, errOut = w.run(t, "transform", "--request", "format=shouted")
	require.Equal(t, ExitSuccess, code, errOut)
	assert.Contains(t, out, "true")
}

func TestTransform_CommandFailure(t *testing.T) {
	w := newWorkspace(t, `
transforms:
  - name: broken
    from: {format: text}
    to: {format: shouted}
    run: 'echo nope >&2; exit 3'
`)
	code, out, errOut := w.run(t, "transform", "--request", "format=shouted")
	assert.Equal(t, ExitTransformFailure, code)
	assert.Contains(t, out, "FAILED")
	assert.Contains(t, errOut, "nope")
}

func TestRun_InvocationErrors(t *testing.T) {
	w := newWorkspace(t, shoutTransforms)

	code, _, _ := w.run(t, "resolve", "--request", "=broken")
	assert.Equal(t, ExitInvalidInvocation, code)

	code, _, _ = w.run(t, "resolve", "--request", "format=shouted", "--component", "missing")
	assert.Equal(t, ExitInvalidInvocation, code)

	code, _, _ = w.run(t, "resolve", "--bogus-flag")
	assert.Equal(t, ExitInvalidInvocation, code)

	var stdout, stderr bytes.Buffer
	code = Run(context.Background(), []string{"resolve", "-r", "format=shouted", "--transforms", filepath.Join(w.dir, "missing.yaml"), "--variants", w.variants}, &stdout, &stderr)
	assert.Equal(t, ExitConfigError, code)

	code = Run(context.Background(), []string{"resolve", "-r", "a=b", "--workers", "-1", "--transforms", w.transforms, "--variants", w.variants}, &stdout, &stderr)
	assert.Equal(t, ExitConfigError, code)
}

func TestVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{"version"}, &stdout, &stderr)
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout.String(), "chainweaver v"+Version)
}

func TestParseRequest(t *testing.T) {
	set, err := parseRequest([]string{"usage=runtime", " level = 11", "minified=true"})
	require.NoError(t, err)
	v, ok := set.Get("level")
	require.True(t, ok)
	n, ok := v.AsInt()
	require.True(t, ok)
	assert.EqualValues(t, 11, n)
	v, _ = set.Get("minified")
	b, ok := v.AsBool()
	assert.True(t, ok && b)
	v, _ = set.Get("usage")
	s, _ := v.Text()
	assert.Equal(t, "runtime", s)

	_, err = parseRequest(nil)
	assert.Error(t, err)
	_, err = parseRequest([]string{"novalue"})
	assert.Error(t, err)
}

func TestLoadModelFile(t *testing.T) {
	w := newWorkspace(t, shoutTransforms)
	m, err := LoadModelFile(w.variants)
	require.NoError(t, err)
	require.Len(t, m.Components, 2)
	app := m.Components[0]
	require.Len(t, app.Variants, 1)
	v := app.Variants[0]
	assert.Equal(t, ":app", v.Project)
	assert.Equal(t, filepath.Join(w.dir, "app"), v.ProjectDir)
	assert.Equal(t, []string{filepath.Join(w.dir, "app", "greeting.txt")}, v.Artifacts)
	assert.Empty(t, m.Components[1].Variants[0].ProjectDir)

	bad := filepath.Join(w.dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("components:\n  - name: x\n    colour: red\n"), 0644))
	_, err = LoadModelFile(bad)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(bad, []byte("components: []\n"), 0644))
	_, err = LoadModelFile(bad)
	assert.Error(t, err)
}
