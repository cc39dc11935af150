package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

const (
	outputsDirName  = "outputs"
	resultsFileName = "results.txt"
)

// Workspace is the filesystem area of one execution.
//
// Structure:
//
//	{Dir}/
//	  outputs/      (the action's output directory)
//	  results.txt   (the results record, written after validation)
type Workspace struct {
	Dir         string
	OutputDir   string
	ResultsFile string
}

func newWorkspace(dir string) Workspace {
	return Workspace{
		Dir:         dir,
		OutputDir:   filepath.Join(dir, outputsDirName),
		ResultsFile: filepath.Join(dir, resultsFileName),
	}
}

// WorkspaceProvider lays workspaces out under a root directory.
//
// Structure:
//
//	{Root}/
//	  immutable/{hash[0:2]}/{hash}/
//	  immutable-raw/{hash[0:2]}/{hash}/
//	  mutable/{hash}/
//	  sessions/{session-uuid}/{hash}/   (caching disabled)
//
// Immutable workspaces are built in a uniquely named staging directory next
// to their final location and renamed into place, so a crash never leaves a
// partial workspace at the canonical path.
type WorkspaceProvider struct {
	Root string

	sessionOnce sync.Once
	sessionDir  string
}

func NewWorkspaceProvider(root string) *WorkspaceProvider {
	return &WorkspaceProvider{Root: root}
}

// Immutable returns the canonical location of an immutable identity. The
// directory may not exist.
func (p *WorkspaceProvider) Immutable(id Identity) Workspace {
	h := id.Hash
	if len(h) < 2 {
		return newWorkspace(filepath.Join(p.Root, id.Mode.String(), h))
	}
	return newWorkspace(filepath.Join(p.Root, id.Mode.String(), h[:2], h))
}

// Mutable returns the workspace of a mutable identity, creating its output
// directory.
func (p *WorkspaceProvider) Mutable(id Identity) (Workspace, error) {
	ws := newWorkspace(filepath.Join(p.Root, ModeMutable.String(), id.Hash))
	if err := os.MkdirAll(ws.OutputDir, 0755); err != nil {
		return Workspace{}, fmt.Errorf("creating mutable workspace: %w", err)
	}
	return ws, nil
}

// Stage creates a fresh staging workspace for id.
func (p *WorkspaceProvider) Stage(id Identity) (Workspace, error) {
	final := p.Immutable(id)
	parent := filepath.Dir(final.Dir)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return Workspace{}, fmt.Errorf("creating workspace directory: %w", err)
	}
	ws := newWorkspace(filepath.Join(parent, ".staging-"+uuid.NewString()))
	if err := os.MkdirAll(ws.OutputDir, 0755); err != nil {
		return Workspace{}, fmt.Errorf("creating staging workspace: %w", err)
	}
	return ws, nil
}

// Commit moves a staged workspace to the canonical location of id.
//
// If another process committed the same identity first, the staged copy is
// discarded and the existing workspace is returned with won set to false.
// A leftover directory without a results file is treated as garbage and
// replaced.
func (p *WorkspaceProvider) Commit(staged Workspace, id Identity) (ws Workspace, won bool, err error) {
	final := p.Immutable(id)
	for attempt := 0; attempt < 2; attempt++ {
		err = os.Rename(staged.Dir, final.Dir)
		if err == nil {
			return final, true, nil
		}
		if _, statErr := os.Stat(final.ResultsFile); statErr == nil {
			p.Discard(staged)
			return final, false, nil
		}
		if _, statErr := os.Stat(final.Dir); statErr != nil {
			break
		}
		// Best-effort removal; a concurrent winner shows up on the next stat.
		_ = os.RemoveAll(final.Dir)
	}
	p.Discard(staged)
	return Workspace{}, false, fmt.Errorf("committing workspace %s: %w", id, err)
}

// Session returns an empty workspace scoped to this provider's lifetime,
// used when caching is disabled.
func (p *WorkspaceProvider) Session(id Identity) (Workspace, error) {
	p.sessionOnce.Do(func() {
		p.sessionDir = filepath.Join(p.Root, "sessions", uuid.NewString())
	})
	ws := newWorkspace(filepath.Join(p.sessionDir, id.Mode.String()+"-"+id.Hash))
	if err := os.RemoveAll(ws.Dir); err != nil {
		return Workspace{}, fmt.Errorf("clearing session workspace: %w", err)
	}
	if err := os.MkdirAll(ws.OutputDir, 0755); err != nil {
		return Workspace{}, fmt.Errorf("creating session workspace: %w", err)
	}
	return ws, nil
}

// Discard removes a workspace that must not be reused.
func (p *WorkspaceProvider) Discard(ws Workspace) {
	if ws.Dir == "" {
		return
	}
	_ = os.RemoveAll(ws.Dir)
}

// Close removes the session workspaces.
func (p *WorkspaceProvider) Close() error {
	if p.sessionDir == "" {
		return nil
	}
	if err := os.RemoveAll(p.sessionDir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
