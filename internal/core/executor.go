package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"

	"chainweaver/internal/history"
	"chainweaver/internal/logging"
	"chainweaver/internal/snapshot"
	"chainweaver/internal/telemetry"
	"chainweaver/internal/trace"
)

// Subject is the concrete artifact a step is applied to.
type Subject struct {
	// Artifact is the path of the input file or directory.
	Artifact string

	// Project is the owning project path (e.g. ":lib"). Empty for external
	// artifacts.
	Project string

	// ProjectDir is the owning project's directory. Mutable identities use
	// paths relative to it.
	ProjectDir string
}

// IsProjectBound reports whether the artifact belongs to a project.
func (s Subject) IsProjectBound() bool { return s.Project != "" }

// Request describes one step execution.
type Request struct {
	// Transform is the display name of the step.
	Transform string

	Action Action

	// Incremental asks for input changes; it selects the mutable mode for
	// project artifacts.
	Incremental bool

	// Cacheable is the per-implementation cache switch.
	Cacheable bool

	// Normalization applies to immutable project identities.
	Normalization PathNormalization

	Subject Subject

	// Dependencies are the resolved upstream artifacts.
	Dependencies []string
}

// ModeFor returns the workspace mode a request executes in.
func ModeFor(req Request) Mode {
	switch {
	case !req.Subject.IsProjectBound():
		return ModeImmutableRaw
	case req.Incremental:
		return ModeMutable
	default:
		return ModeImmutable
	}
}

// Outcome is the result of Execute for one caller.
type Outcome struct {
	Identity Identity

	Result *ExecutionResult

	// Files are the resolved output paths, in result order.
	Files []string

	// FromCache is true when the action was not invoked for this outcome.
	FromCache bool
}

// Executor runs transform steps with identity-based caching.
//
// The execution flow:
//  1. Compute the workspace identity
//  2. Look up a previous result (memo, workspace, or history) and return it
//  3. Otherwise prepare the workspace and invoke the action
//  4. Validate and classify the registered outputs
//  5. Persist the results record and return it
//
// Failed executions are NOT cached. At most one execution per identity runs
// at a time; concurrent callers share the outcome of the running one.
type Executor struct {
	Workspaces *WorkspaceProvider

	// History stores the execution history of mutable workspaces.
	History history.Store

	// CachingEnabled is the global cache switch. When false, or when a
	// request is not cacheable, results are kept in session workspaces and
	// only memoized in memory.
	CachingEnabled bool

	Trace   trace.Sink
	Metrics *telemetry.Metrics

	// Logger overrides the logger carried by the context.
	Logger *slog.Logger

	flight singleflight.Group

	mu   sync.Mutex
	memo map[string]*completed
}

type completed struct {
	result    *ExecutionResult
	outputDir string
	fromCache bool
}

// NewExecutor creates an Executor with caching enabled. A nil store keeps
// history in memory.
func NewExecutor(workspaces *WorkspaceProvider, store history.Store) *Executor {
	if store == nil {
		store = history.NewMemoryStore()
	}
	return &Executor{
		Workspaces:     workspaces,
		History:        store,
		CachingEnabled: true,
		Trace:          trace.NopSink{},
		memo:           make(map[string]*completed),
	}
}

// Execute runs req or returns a previous result for the same identity.
func (e *Executor) Execute(ctx context.Context, req Request) (*Outcome, error) {
	if err := validateRequest(&req); err != nil {
		return nil, err
	}

	id, err := e.Identify(req)
	if err != nil {
		return nil, fmt.Errorf("computing identity of %s for %s: %w", req.Subject.Artifact, req.Transform, err)
	}

	v, err, _ := e.flight.Do(id.Key(), func() (any, error) {
		return e.run(ctx, req, id)
	})
	if err != nil {
		return nil, err
	}
	done := v.(*completed)
	return &Outcome{
		Identity:  id,
		Result:    done.result,
		Files:     done.result.Resolve(req.Subject.Artifact, done.outputDir),
		FromCache: done.fromCache,
	}, nil
}

// Identify computes the workspace identity of req.
func (e *Executor) Identify(req Request) (Identity, error) {
	depsHash, err := snapshot.DependenciesHash(req.Dependencies)
	if err != nil {
		return Identity{}, err
	}
	in := IdentityInput{
		Mode:               ModeFor(req),
		ActionIdentity:     req.Action.Identity(),
		SecondaryInputHash: req.Action.SecondaryInputHash(),
		DependenciesHash:   depsHash,
	}

	switch in.Mode {
	case ModeMutable:
		if _, err := os.Stat(req.Subject.Artifact); err != nil {
			return Identity{}, err
		}
		in.InputPath = projectRelativePath(req.Subject.ProjectDir, req.Subject.Artifact)
		in.ProjectPath = req.Subject.Project
	case ModeImmutable:
		in.InputPath = req.Normalization.Normalize(req.Subject.Artifact)
		if in.InputFingerprint, err = snapshot.ContentHash(req.Subject.Artifact); err != nil {
			return Identity{}, err
		}
	case ModeImmutableRaw:
		in.InputPath = NormalizeAbsolute.Normalize(req.Subject.Artifact)
		if in.InputFingerprint, err = snapshot.RawHash(req.Subject.Artifact); err != nil {
			return Identity{}, err
		}
	}
	return ComputeIdentity(in), nil
}

// Close releases session workspaces. Persistent workspaces are kept.
func (e *Executor) Close() error {
	return e.Workspaces.Close()
}

func validateRequest(req *Request) error {
	if req.Action == nil {
		return errors.New("transform action is required")
	}
	if req.Subject.Artifact == "" {
		return errors.New("input artifact is required")
	}
	abs, err := filepath.Abs(req.Subject.Artifact)
	if err != nil {
		return fmt.Errorf("resolving input artifact: %w", err)
	}
	req.Subject.Artifact = abs
	if req.Transform == "" {
		req.Transform = req.Action.Identity()
	}
	if req.Normalization == "" {
		req.Normalization = NormalizeAbsolute
	}
	return nil
}

func (e *Executor) logger(ctx context.Context) *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return logging.FromContext(ctx)
}

func (e *Executor) cacheable(req Request) bool {
	return e.CachingEnabled && req.Cacheable
}

func (e *Executor) run(ctx context.Context, req Request, id Identity) (*completed, error) {
	log := e.logger(ctx).With("transform", req.Transform, "identity", id.Key(), "artifact", req.Subject.Artifact)

	if done, ok := e.memoized(id); ok {
		log.Debug("reusing result from this session")
		e.recordCached(req, id, done.result)
		return &completed{result: done.result, outputDir: done.outputDir, fromCache: true}, nil
	}

	var (
		done *completed
		err  error
	)
	if id.Mode == ModeMutable {
		done, err = e.runMutable(ctx, log, req, id)
	} else {
		done, err = e.runImmutable(ctx, log, req, id)
	}
	if err != nil {
		reason := FailureReason(err)
		log.Warn("transform failed", "reason", reason, "error", err)
		e.Metrics.Failed(req.Transform, reason)
		trace.SafeRecord(e.Trace, trace.TraceEvent{
			Kind:      trace.EventTransformFailed,
			Transform: req.Transform,
			Subject:   req.Subject.Artifact,
			Identity:  id.Key(),
			Reason:    reason,
		})
		return nil, err
	}

	e.remember(id, done)
	return done, nil
}

func (e *Executor) runImmutable(ctx context.Context, log *slog.Logger, req Request, id Identity) (*completed, error) {
	if !e.cacheable(req) {
		ws, err := e.Workspaces.Session(id)
		if err != nil {
			return nil, err
		}
		result, err := e.invoke(ctx, req, ws, nil)
		if err != nil {
			e.Workspaces.Discard(ws)
			return nil, err
		}
		e.recordExecuted(log, req, id, result, trace.EventTransformExecuted, "CachingDisabled")
		return &completed{result: result, outputDir: ws.OutputDir}, nil
	}

	final := e.Workspaces.Immutable(id)
	if result, ok, err := ReadResultsFile(final.ResultsFile); err != nil {
		return nil, err
	} else if ok {
		log.Debug("reusing immutable workspace")
		e.recordCached(req, id, result)
		return &completed{result: result, outputDir: final.OutputDir, fromCache: true}, nil
	}

	staged, err := e.Workspaces.Stage(id)
	if err != nil {
		return nil, err
	}
	result, err := e.invoke(ctx, req, staged, nil)
	if err != nil {
		e.Workspaces.Discard(staged)
		return nil, err
	}
	if err := WriteResultsFile(staged.ResultsFile, result); err != nil {
		e.Workspaces.Discard(staged)
		return nil, err
	}

	ws, won, err := e.Workspaces.Commit(staged, id)
	if err != nil {
		return nil, err
	}
	if !won {
		existing, ok, err := ReadResultsFile(ws.ResultsFile)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("workspace %s lost its results file", id)
		}
		log.Debug("another process produced the workspace first")
		e.recordExecuted(log, req, id, existing, trace.EventTransformExecuted, "ConcurrentWinner")
		return &completed{result: existing, outputDir: ws.OutputDir}, nil
	}

	e.recordExecuted(log, req, id, result, trace.EventTransformExecuted, "")
	return &completed{result: result, outputDir: ws.OutputDir}, nil
}

func (e *Executor) runMutable(ctx context.Context, log *slog.Logger, req Request, id Identity) (*completed, error) {
	ws, err := e.Workspaces.Mutable(id)
	if err != nil {
		return nil, err
	}
	current, err := snapshot.Tree(req.Subject.Artifact)
	if err != nil {
		return nil, fmt.Errorf("snapshotting input: %w", err)
	}

	var previous *history.Entry
	if e.cacheable(req) {
		entry, found, err := e.History.Load(ctx, id.Hash)
		if err != nil {
			return nil, err
		}
		if found {
			previous = entry
		}
	}

	if previous != nil && sameSnapshot(previous.InputSnapshot, current) {
		result, err := ParseExecutionResult([]byte(previous.Results))
		if err == nil && outputsPresent(result, req.Subject.Artifact, ws.OutputDir) {
			log.Debug("mutable workspace is up to date")
			e.recordCached(req, id, result)
			return &completed{result: result, outputDir: ws.OutputDir, fromCache: true}, nil
		}
		previous = nil
	}

	changes := &InputChanges{}
	kind, reason := trace.EventTransformIncremental, ""
	if previous != nil {
		changes.Incremental = true
		changes.Changes = DiffSnapshots(previous.InputSnapshot, current)
		// Forget the old state first: a failed incremental run leaves the
		// workspace in an unknown state and the next run must be full.
		if err := e.History.Remove(ctx, id.Hash); err != nil {
			return nil, err
		}
	} else {
		kind, reason = trace.EventTransformExecuted, "NoHistory"
		changes.Changes = DiffSnapshots(nil, current)
		if err := os.RemoveAll(ws.OutputDir); err != nil {
			return nil, fmt.Errorf("clearing output directory: %w", err)
		}
		_ = os.Remove(ws.ResultsFile)
	}

	result, err := e.invoke(ctx, req, ws, changes)
	if err != nil {
		return nil, err
	}
	if err := WriteResultsFile(ws.ResultsFile, result); err != nil {
		return nil, err
	}
	if e.cacheable(req) {
		encoded, err := result.MarshalText()
		if err != nil {
			return nil, err
		}
		entry := history.Entry{
			Identity:      id.Hash,
			Transform:     req.Transform,
			InputSnapshot: current,
			Results:       string(encoded),
		}
		if err := e.History.Save(ctx, entry); err != nil {
			return nil, err
		}
	}

	e.recordExecuted(log, req, id, result, kind, reason)
	return &completed{result: result, outputDir: ws.OutputDir}, nil
}

// invoke runs the action in ws and validates its outputs.
func (e *Executor) invoke(ctx context.Context, req Request, ws Workspace, changes *InputChanges) (*ExecutionResult, error) {
	if err := os.MkdirAll(ws.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	outputs := NewOutputs(req.Subject.Artifact, ws.OutputDir)
	deps := make([]string, len(req.Dependencies))
	copy(deps, req.Dependencies)
	inv := Invocation{
		InputArtifact: req.Subject.Artifact,
		OutputDir:     ws.OutputDir,
		Dependencies:  deps,
		Changes:       changes,
	}

	e.Metrics.Executed(req.Transform)
	if err := callAction(ctx, req.Action, inv, outputs); err != nil {
		return nil, &ActionError{Transform: req.Transform, Artifact: req.Subject.Artifact, Cause: err}
	}

	result, err := outputs.Harvest()
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			verr.Transform = req.Transform
			verr.Artifact = req.Subject.Artifact
		}
		return nil, err
	}
	return result, nil
}

func callAction(ctx context.Context, action Action, inv Invocation, outputs *Outputs) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panicked: %v", r)
		}
	}()
	return action.Transform(ctx, inv, outputs)
}

func outputsPresent(result *ExecutionResult, inputArtifact, outputDir string) bool {
	for _, f := range result.Resolve(inputArtifact, outputDir) {
		if _, err := os.Stat(f); err != nil {
			return false
		}
	}
	return true
}

func (e *Executor) memoized(id Identity) (*completed, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	done, ok := e.memo[id.Key()]
	return done, ok
}

func (e *Executor) remember(id Identity, done *completed) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.memo == nil {
		e.memo = make(map[string]*completed)
	}
	e.memo[id.Key()] = &completed{result: done.result, outputDir: done.outputDir}
}

func (e *Executor) recordCached(req Request, id Identity, result *ExecutionResult) {
	e.Metrics.CacheHit(req.Transform)
	trace.SafeRecord(e.Trace, trace.TraceEvent{
		Kind:      trace.EventTransformCached,
		Transform: req.Transform,
		Subject:   req.Subject.Artifact,
		Identity:  id.Key(),
		Outputs:   encodedOutputs(result),
	})
}

func (e *Executor) recordExecuted(log *slog.Logger, req Request, id Identity, result *ExecutionResult, kind trace.TraceEventKind, reason string) {
	log.Info("transform executed", "mode", id.Mode.String(), "outputs", result.Len())
	trace.SafeRecord(e.Trace, trace.TraceEvent{
		Kind:      kind,
		Transform: req.Transform,
		Subject:   req.Subject.Artifact,
		Identity:  id.Key(),
		Reason:    reason,
		Outputs:   encodedOutputs(result),
	})
}

func encodedOutputs(result *ExecutionResult) []string {
	out := make([]string, 0, result.Len())
	for _, o := range result.Outputs() {
		prefix := outputPrefix
		if o.Kind != OutputProduced {
			prefix = inputPrefix
		}
		out = append(out, prefix+o.RelPath)
	}
	return out
}
