package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainweaver/internal/history"
	"chainweaver/internal/trace"
)

type fixture struct {
	root       string
	projectDir string
	artifact   string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	root := t.TempDir()
	projectDir := filepath.Join(root, "project")
	artifact := filepath.Join(projectDir, "build", "lib")
	require.NoError(t, os.MkdirAll(artifact, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(artifact, "a.txt"), []byte("alpha"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(artifact, "b.txt"), []byte("beta"), 0644))
	return fixture{root: root, projectDir: projectDir, artifact: artifact}
}

func (f fixture) projectSubject() Subject {
	return Subject{Artifact: f.artifact, Project: ":lib", ProjectDir: f.projectDir}
}

// copyAction copies every input file into the output directory and counts
// invocations.
func copyAction(calls *int32) *FuncAction {
	return &FuncAction{
		Name:   "copy",
		Params: "v1",
		Fn: func(_ context.Context, inv Invocation, outputs *Outputs) error {
			atomic.AddInt32(calls, 1)
			entries, err := os.ReadDir(inv.InputArtifact)
			if err != nil {
				return err
			}
			for _, e := range entries {
				data, err := os.ReadFile(filepath.Join(inv.InputArtifact, e.Name()))
				if err != nil {
					return err
				}
				if err := os.WriteFile(outputs.File(e.Name()), data, 0644); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newTestExecutor(t *testing.T, root string) *Executor {
	t.Helper()
	ex := NewExecutor(NewWorkspaceProvider(filepath.Join(root, "cache")), nil)
	t.Cleanup(func() { _ = ex.Close() })
	return ex
}

func TestExecute_SecondRunIsCacheHit(t *testing.T) {
	f := newFixture(t)
	var calls int32
	req := Request{Transform: "copy", Action: copyAction(&calls), Cacheable: true, Subject: f.projectSubject()}

	ex := newTestExecutor(t, f.root)
	first, err := ex.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, ModeImmutable, first.Identity.Mode)
	assert.False(t, first.FromCache)
	require.Len(t, first.Files, 2)
	data, err := os.ReadFile(first.Files[0])
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(data))

	second, err := ex.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Files, second.Files)

	// A fresh executor over the same cache directory reuses the workspace.
	other := newTestExecutor(t, f.root)
	third, err := other.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, third.FromCache)
	assert.True(t, third.Result.Equal(first.Result))

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestExecute_DeletedOutputDirFailsValidationAndPersistsNothing(t *testing.T) {
	f := newFixture(t)
	var calls int32
	action := &FuncAction{
		Name: "vanishing",
		Fn: func(_ context.Context, inv Invocation, outputs *Outputs) error {
			atomic.AddInt32(&calls, 1)
			dir := outputs.Dir("classes")
			return os.RemoveAll(dir)
		},
	}
	req := Request{Transform: "vanishing", Action: action, Cacheable: true, Subject: f.projectSubject()}
	ex := newTestExecutor(t, f.root)

	_, err := ex.Execute(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))

	id, err := ex.Identify(req)
	require.NoError(t, err)
	_, statErr := os.Stat(ex.Workspaces.Immutable(id).ResultsFile)
	assert.True(t, os.IsNotExist(statErr), "no results may be persisted")

	entries, err := os.ReadDir(filepath.Dir(ex.Workspaces.Immutable(id).Dir))
	require.NoError(t, err)
	assert.Empty(t, entries, "staging workspace must be discarded")

	// Failures are not memoized; the next request runs the action again.
	_, err = ex.Execute(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestExecute_ActionFailureIsNotCached(t *testing.T) {
	f := newFixture(t)
	var calls int32
	action := &FuncAction{
		Name: "flaky",
		Fn: func(_ context.Context, inv Invocation, outputs *Outputs) error {
			if atomic.AddInt32(&calls, 1) == 1 {
				return errors.New("boom")
			}
			outputs.Dir(inv.InputArtifact)
			return nil
		},
	}
	req := Request{Action: action, Cacheable: true, Subject: f.projectSubject()}
	ex := newTestExecutor(t, f.root)

	_, err := ex.Execute(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAction))
	var aerr *ActionError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "flaky", aerr.Transform, "transform name defaults to the action identity")
	assert.EqualError(t, errors.Unwrap(err), "boom")

	out, err := ex.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{f.artifact}, out.Files)
	assert.Equal(t, []Output{{Kind: OutputEntireInput}}, out.Result.Outputs())
}

func TestExecute_PanicBecomesActionFailure(t *testing.T) {
	f := newFixture(t)
	action := &FuncAction{
		Name: "panics",
		Fn: func(context.Context, Invocation, *Outputs) error {
			panic("unexpected")
		},
	}
	ex := newTestExecutor(t, f.root)
	_, err := ex.Execute(context.Background(), Request{Action: action, Cacheable: true, Subject: f.projectSubject()})
	assert.True(t, errors.Is(err, ErrAction))
}

func TestExecute_OncePerIdentityUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	var calls int32
	release := make(chan struct{})
	action := &FuncAction{
		Name: "slow",
		Fn: func(_ context.Context, inv Invocation, outputs *Outputs) error {
			atomic.AddInt32(&calls, 1)
			<-release
			return os.WriteFile(outputs.File("out.txt"), []byte("done"), 0644)
		},
	}
	req := Request{Action: action, Cacheable: true, Subject: f.projectSubject()}
	ex := newTestExecutor(t, f.root)

	const callers = 16
	var wg sync.WaitGroup
	results := make([]*Outcome, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = ex.Execute(context.Background(), req)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].Files, results[i].Files)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestExecute_ConcurrentCallersShareFailure(t *testing.T) {
	f := newFixture(t)
	var calls int32
	release := make(chan struct{})
	action := &FuncAction{
		Name: "broken",
		Fn: func(context.Context, Invocation, *Outputs) error {
			atomic.AddInt32(&calls, 1)
			<-release
			return errors.New("boom")
		},
	}
	req := Request{Action: action, Cacheable: true, Subject: f.projectSubject()}
	ex := newTestExecutor(t, f.root)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = ex.Execute(context.Background(), req)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.Error(t, errs[i])
		assert.True(t, errors.Is(errs[i], ErrAction))
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// The shared failure is not remembered.
	_, err := ex.Execute(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestExecute_ExternalArtifactsUseSeparateBucket(t *testing.T) {
	f := newFixture(t)
	var calls int32
	action := copyAction(&calls)
	ex := newTestExecutor(t, f.root)

	project, err := ex.Execute(context.Background(), Request{Action: action, Cacheable: true, Subject: f.projectSubject()})
	require.NoError(t, err)
	external, err := ex.Execute(context.Background(), Request{Action: action, Cacheable: true, Subject: Subject{Artifact: f.artifact}})
	require.NoError(t, err)

	assert.Equal(t, ModeImmutable, project.Identity.Mode)
	assert.Equal(t, ModeImmutableRaw, external.Identity.Mode)
	assert.NotEqual(t, project.Identity.Key(), external.Identity.Key())
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.DirExists(t, filepath.Join(f.root, "cache", "immutable-raw"))
}

func TestExecute_NormalizationSharesContentAcrossLocations(t *testing.T) {
	f := newFixture(t)
	copyDir := filepath.Join(f.projectDir, "elsewhere", "lib")
	require.NoError(t, os.MkdirAll(copyDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(copyDir, "a.txt"), []byte("alpha"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(copyDir, "b.txt"), []byte("beta"), 0644))

	var calls int32
	action := &FuncAction{
		Name: "whole",
		Fn: func(_ context.Context, inv Invocation, outputs *Outputs) error {
			atomic.AddInt32(&calls, 1)
			outputs.Dir(filepath.Join(inv.InputArtifact))
			return nil
		},
	}
	ex := newTestExecutor(t, f.root)
	req := Request{Action: action, Cacheable: true, Normalization: NormalizeNameOnly, Subject: f.projectSubject()}
	first, err := ex.Execute(context.Background(), req)
	require.NoError(t, err)

	req.Subject.Artifact = copyDir
	second, err := ex.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Identity, second.Identity)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, []string{copyDir}, second.Files, "input-relative outputs resolve against the caller's artifact")
}

func TestExecute_CachingDisabledKeepsResultsInSession(t *testing.T) {
	f := newFixture(t)
	var calls int32
	req := Request{Action: copyAction(&calls), Cacheable: true, Subject: f.projectSubject()}

	ex := newTestExecutor(t, f.root)
	ex.CachingEnabled = false
	first, err := ex.Execute(context.Background(), req)
	require.NoError(t, err)
	second, err := ex.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Files, second.Files)
	assert.NoDirExists(t, filepath.Join(f.root, "cache", "immutable"))

	other := newTestExecutor(t, f.root)
	other.CachingEnabled = false
	_, err = other.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	require.NoError(t, ex.Close())
	assert.NoFileExists(t, first.Files[0])
}

func TestExecute_MutableWorkspaceIsIncremental(t *testing.T) {
	f := newFixture(t)
	store := history.NewMemoryStore()
	var seen []*InputChanges
	action := &FuncAction{
		Name: "index",
		Fn: func(_ context.Context, inv Invocation, outputs *Outputs) error {
			seen = append(seen, inv.Changes)
			return os.WriteFile(outputs.File("index.txt"), []byte("indexed"), 0644)
		},
	}
	req := Request{Action: action, Incremental: true, Cacheable: true, Subject: f.projectSubject()}
	newEx := func() *Executor {
		ex := NewExecutor(NewWorkspaceProvider(filepath.Join(f.root, "cache")), store)
		t.Cleanup(func() { _ = ex.Close() })
		return ex
	}

	first, err := newEx().Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, ModeMutable, first.Identity.Mode)
	require.Len(t, seen, 1)
	assert.False(t, seen[0].Incremental)
	assert.Equal(t, []FileChange{{Path: "a.txt", Type: ChangeAdded}, {Path: "b.txt", Type: ChangeAdded}}, seen[0].Changes)

	// Unchanged input: up to date, the action is not invoked.
	second, err := newEx().Execute(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Len(t, seen, 1)

	// Changed content keeps the identity but runs incrementally.
	require.NoError(t, os.WriteFile(filepath.Join(f.artifact, "b.txt"), []byte("beta 2"), 0644))
	third, err := newEx().Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.Identity, third.Identity)
	require.Len(t, seen, 2)
	assert.True(t, seen[1].Incremental)
	assert.Equal(t, []FileChange{{Path: "b.txt", Type: ChangeModified}}, seen[1].Changes)
}

func TestExecute_RecordsTraceEvents(t *testing.T) {
	f := newFixture(t)
	var calls int32
	rec := trace.NewRecorder()
	ex := newTestExecutor(t, f.root)
	ex.Trace = rec

	req := Request{Transform: "copy", Action: copyAction(&calls), Cacheable: true, Subject: f.projectSubject()}
	_, err := ex.Execute(context.Background(), req)
	require.NoError(t, err)
	_, err = ex.Execute(context.Background(), req)
	require.NoError(t, err)

	events := rec.Snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, trace.EventTransformExecuted, events[0].Kind)
	assert.Equal(t, []string{"o/a.txt", "o/b.txt"}, events[0].Outputs)
	assert.Equal(t, trace.EventTransformCached, events[1].Kind)
}

func TestExecute_DependenciesTakePartInIdentity(t *testing.T) {
	f := newFixture(t)
	dep := filepath.Join(f.root, "dep.jar")
	require.NoError(t, os.WriteFile(dep, []byte("v1"), 0644))

	var calls int32
	var got []string
	action := &FuncAction{
		Name: "deps",
		Fn: func(_ context.Context, inv Invocation, outputs *Outputs) error {
			atomic.AddInt32(&calls, 1)
			got = inv.Dependencies
			outputs.Dir(inv.InputArtifact)
			return nil
		},
	}
	ex := newTestExecutor(t, f.root)
	req := Request{Action: action, Cacheable: true, Subject: f.projectSubject(), Dependencies: []string{dep}}

	a, err := ex.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{dep}, got)

	require.NoError(t, os.WriteFile(dep, []byte("v2"), 0644))
	b, err := ex.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, a.Identity, b.Identity)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestExecute_RejectsIncompleteRequests(t *testing.T) {
	ex := newTestExecutor(t, t.TempDir())
	_, err := ex.Execute(context.Background(), Request{Subject: Subject{Artifact: "/x"}})
	assert.Error(t, err)
	_, err = ex.Execute(context.Background(), Request{Action: &FuncAction{Name: "n"}})
	assert.Error(t, err)
	_, err = ex.Execute(context.Background(), Request{Action: &FuncAction{Name: "n"}, Subject: Subject{Artifact: filepath.Join(t.TempDir(), "missing")}})
	assert.Error(t, err)
}

func TestCommandAction_RunsIsolatedAndRegistersOutputs(t *testing.T) {
	f := newFixture(t)
	action := &CommandAction{
		Name: "describe",
		Run:  `printf '%s|%s|%s' "$INPUT_ARTIFACT" "$GREETING" "$HOME" > summary.txt`,
		Env:  map[string]string{"GREETING": "hi"},
		Outputs: []OutputDecl{
			{File: "summary.txt"},
			{Dir: "{input}"},
		},
	}
	ex := newTestExecutor(t, f.root)
	out, err := ex.Execute(context.Background(), Request{Action: action, Cacheable: true, Subject: Subject{Artifact: f.artifact}})
	require.NoError(t, err)
	require.Len(t, out.Files, 2)

	data, err := os.ReadFile(out.Files[0])
	require.NoError(t, err)
	assert.Equal(t, f.artifact+"|hi|", string(data), "host HOME must not leak into the command")
	assert.Equal(t, f.artifact, out.Files[1])
}

func TestCommandAction_NonZeroExitIsActionFailure(t *testing.T) {
	f := newFixture(t)
	action := &CommandAction{Name: "fail", Run: "echo nope >&2; exit 3"}
	ex := newTestExecutor(t, f.root)
	_, err := ex.Execute(context.Background(), Request{Action: action, Cacheable: true, Subject: f.projectSubject()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAction))
	assert.Contains(t, err.Error(), "status 3")
	assert.Contains(t, err.Error(), "nope")
}

func TestCommandAction_SecondaryHashTracksParameters(t *testing.T) {
	a := &CommandAction{Name: "x", Run: "true", Env: map[string]string{"A": "1", "B": "2"}}
	b := &CommandAction{Name: "x", Run: "true", Env: map[string]string{"B": "2", "A": "1"}}
	c := &CommandAction{Name: "x", Run: "true", Env: map[string]string{"A": "1", "B": "3"}}
	assert.Equal(t, a.SecondaryInputHash(), b.SecondaryInputHash())
	assert.NotEqual(t, a.SecondaryInputHash(), c.SecondaryInputHash())
}

func TestCommandAction_ReceivesInputChanges(t *testing.T) {
	f := newFixture(t)
	action := &CommandAction{
		Name: "index",
		Run:  `cat "$INPUT_CHANGES" > changes.txt; printf '%s' "$INPUT_INCREMENTAL" > incremental.txt; printf '%s' "$INPUT_CHANGES" > location.txt`,
		Env:  map[string]string{"PATH": "/usr/bin:/bin"},
		Outputs: []OutputDecl{
			{File: "changes.txt"},
			{File: "incremental.txt"},
			{File: "location.txt"},
		},
	}
	ex := NewExecutor(NewWorkspaceProvider(filepath.Join(f.root, "cache")), history.NewMemoryStore())
	t.Cleanup(func() { _ = ex.Close() })
	req := Request{Action: action, Incremental: true, Cacheable: true, Subject: f.projectSubject()}

	read := func(path string) string {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		return string(data)
	}

	first, err := ex.Execute(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, first.Files, 3)
	assert.Equal(t, "added\ta.txt\nadded\tb.txt\n", read(first.Files[0]))
	assert.Equal(t, "false", read(first.Files[1]))
	assert.NoFileExists(t, read(first.Files[2]), "the changes file is removed after the command")

	require.NoError(t, os.WriteFile(filepath.Join(f.artifact, "b.txt"), []byte("beta 2"), 0644))
	second, err := NewExecutor(ex.Workspaces, ex.History).Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "modified\tb.txt\n", read(second.Files[0]))
	assert.Equal(t, "true", read(second.Files[1]))
}
