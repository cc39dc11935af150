package core

import (
	"context"
	"errors"
)

// Action is the work performed by one registered transform.
type Action interface {
	// Identity names the implementation. It takes part in every workspace
	// identity, so two implementations never share results.
	Identity() string

	// SecondaryInputHash fingerprints the action's parameters.
	SecondaryInputHash() string

	// Transform reads inv.InputArtifact and registers every output location
	// with outputs. Returning an error fails the execution.
	Transform(ctx context.Context, inv Invocation, outputs *Outputs) error
}

// Invocation is what an action sees of one execution.
type Invocation struct {
	// InputArtifact is the absolute path of the file or directory to
	// transform.
	InputArtifact string

	// OutputDir is an existing directory owned by this execution.
	OutputDir string

	// Dependencies are the resolved upstream artifacts, empty unless the
	// transform requires dependencies.
	Dependencies []string

	// Changes describes how the input changed since the last execution. It is
	// only set for incremental transforms.
	Changes *InputChanges
}

// FuncAction adapts a Go function to Action.
type FuncAction struct {
	// Name is returned by Identity.
	Name string

	// Params is returned by SecondaryInputHash.
	Params string

	Fn func(ctx context.Context, inv Invocation, outputs *Outputs) error
}

func (a *FuncAction) Identity() string           { return a.Name }
func (a *FuncAction) SecondaryInputHash() string { return a.Params }

func (a *FuncAction) Transform(ctx context.Context, inv Invocation, outputs *Outputs) error {
	if a.Fn == nil {
		return errors.New("action has no function")
	}
	return a.Fn(ctx, inv, outputs)
}
