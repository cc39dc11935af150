// Package coordinator applies a selected transform chain to the artifacts of
// its source variant.
//
// Every artifact is processed independently: the outputs of step i become the
// inputs of step i+1. Artifacts run in parallel up to Workers; the steps of
// one artifact run in order. A failing artifact does not affect the others.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"chainweaver/internal/chain"
	"chainweaver/internal/core"
	"chainweaver/internal/deps"
	"chainweaver/internal/logging"
	"chainweaver/internal/registry"
)

// StepExecutor runs one step. *core.Executor implements it.
type StepExecutor interface {
	Execute(ctx context.Context, req core.Request) (*core.Outcome, error)
}

type Coordinator struct {
	Executor StepExecutor

	// Deps resolves upstream artifacts for steps that require them. Nil
	// means no step gets dependencies.
	Deps *deps.Cache

	// Workers bounds artifact parallelism. Zero means GOMAXPROCS.
	Workers int
}

// ArtifactResult is the outcome for one input artifact of the source variant.
type ArtifactResult struct {
	Input string

	// Files are the final outputs, in order. Empty on failure.
	Files []string

	// FromCache is true when no step had to invoke its action.
	FromCache bool

	Err error
}

// Result collects per-artifact outcomes in input order.
type Result struct {
	Variant   *chain.TransformedVariant
	Artifacts []ArtifactResult
}

// Files returns the outputs of all successful artifacts in input order.
func (r *Result) Files() []string {
	var out []string
	for _, a := range r.Artifacts {
		if a.Err == nil {
			out = append(out, a.Files...)
		}
	}
	return out
}

// Err joins the failures of all artifacts, or returns nil.
func (r *Result) Err() error {
	var errs []error
	for _, a := range r.Artifacts {
		if a.Err != nil {
			errs = append(errs, a.Err)
		}
	}
	return errors.Join(errs...)
}

// Apply transforms every artifact of tv's source variant. The returned error
// is Result.Err(); the Result is always returned so callers can use the
// artifacts that succeeded.
func (c *Coordinator) Apply(ctx context.Context, tv *chain.TransformedVariant) (*Result, error) {
	res := &Result{Variant: tv, Artifacts: make([]ArtifactResult, len(tv.Source.Artifacts))}
	if len(res.Artifacts) == 0 {
		return res, nil
	}
	steps := tv.Steps()
	if len(steps) == 0 {
		for i, a := range tv.Source.Artifacts {
			res.Artifacts[i] = ArtifactResult{Input: a, Files: []string{a}, FromCache: true}
		}
		return res, nil
	}

	log := logging.FromContext(ctx).With("variant", tv.Source.String(), "chain", tv.Chain.String())
	log.Debug("applying chain", "artifacts", len(res.Artifacts))

	g := new(errgroup.Group)
	g.SetLimit(c.workers())
	for i, artifact := range tv.Source.Artifacts {
		g.Go(func() error {
			res.Artifacts[i] = c.applyOne(ctx, tv.Source, steps, artifact)
			return nil
		})
	}
	_ = g.Wait()

	err := res.Err()
	if err != nil {
		log.Warn("chain failed", "error", err)
	}
	return res, err
}

func (c *Coordinator) applyOne(ctx context.Context, source *chain.Variant, steps []*registry.Definition, artifact string) ArtifactResult {
	out := ArtifactResult{Input: artifact, FromCache: true}
	inputs := []string{artifact}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			out.Err = err
			return out
		}
		dependencies, err := c.dependencies(ctx, source, step)
		if err != nil {
			out.Err = fmt.Errorf("%s on %s: %w", step.Name, artifact, err)
			return out
		}

		var next []string
		for _, in := range inputs {
			outcome, err := c.Executor.Execute(ctx, core.Request{
				Transform:     step.Name,
				Action:        step.Action,
				Incremental:   step.Incremental,
				Cacheable:     step.Cacheable,
				Normalization: step.Normalization,
				Subject: core.Subject{
					Artifact:   in,
					Project:    source.Project,
					ProjectDir: source.ProjectDir,
				},
				Dependencies: dependencies,
			})
			if err != nil {
				out.Err = fmt.Errorf("%s on %s: %w", step.Name, in, err)
				return out
			}
			out.FromCache = out.FromCache && outcome.FromCache
			next = append(next, outcome.Files...)
		}
		inputs = next
	}
	out.Files = inputs
	return out
}

func (c *Coordinator) dependencies(ctx context.Context, source *chain.Variant, step *registry.Definition) ([]string, error) {
	if !step.RequiresDependencies || c.Deps == nil {
		return nil, nil
	}
	return c.Deps.Dependencies(ctx, deps.Request{
		Component: source.Component,
		Project:   source.Project,
		From:      step.From,
	})
}

func (c *Coordinator) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.GOMAXPROCS(0)
}
