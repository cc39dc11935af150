package chain

import (
	"errors"
	"fmt"
	"strings"

	"chainweaver/internal/attr"
)

var (
	// ErrNoMatchFound means no variant matches, directly or through a chain.
	// Callers treat the producer as inapplicable.
	ErrNoMatchFound = errors.New("no matching variant")

	ErrAmbiguous = errors.New("ambiguous variant selection")
)

// AmbiguousChainsError lists one chain per group of inequivalent chains that
// survived disambiguation.
type AmbiguousChainsError struct {
	Requested  *attr.Set
	Candidates []*TransformedVariant
}

func (e *AmbiguousChainsError) Error() string {
	lines := make([]string, 0, len(e.Candidates))
	for _, c := range e.Candidates {
		lines = append(lines, "  - "+c.String())
	}
	return fmt.Sprintf("found multiple transforms that can produce %s:\n%s", e.Requested, strings.Join(lines, "\n"))
}

func (e *AmbiguousChainsError) Is(target error) bool { return target == ErrAmbiguous }

// AmbiguousVariantsError reports several variants matching without any
// transform, none preferred over the others.
type AmbiguousVariantsError struct {
	Requested  *attr.Set
	Candidates []*Variant
}

func (e *AmbiguousVariantsError) Error() string {
	names := make([]string, 0, len(e.Candidates))
	for _, c := range e.Candidates {
		names = append(names, fmt.Sprintf("%s %s", c, c.Attributes))
	}
	return fmt.Sprintf("multiple variants match %s: %s", e.Requested, strings.Join(names, ", "))
}

func (e *AmbiguousVariantsError) Is(target error) bool { return target == ErrAmbiguous }

// UnknownFailureError wraps an unexpected failure during selection.
type UnknownFailureError struct {
	Requested *attr.Set
	Cause     error
}

func (e *UnknownFailureError) Error() string {
	return fmt.Sprintf("selecting variant for %s: %v", e.Requested, e.Cause)
}

func (e *UnknownFailureError) Unwrap() error { return e.Cause }
