package core

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("output validation failed")

	// ErrAction matches every *ActionError.
	ErrAction = errors.New("transform action failed")
)

// Validation failure codes.
const (
	CodeMissingOutput    = "MissingOutput"
	CodeTypeMismatch     = "TypeMismatch"
	CodeOutsideWorkspace = "OutsideWorkspace"
)

// ValidationError reports a registered output that is missing, has the wrong
// type, or lies outside both the input artifact and the output directory.
// Such executions are never cached.
type ValidationError struct {
	Transform string
	Artifact  string
	Path      string
	Code      string
	Message   string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	prefix := "validation failure"
	if e.Code != "" {
		prefix = fmt.Sprintf("validation failure (%s)", e.Code)
	}
	if e.Transform != "" {
		return fmt.Sprintf("%s: transform %s on %s: output %s: %s", prefix, e.Transform, e.Artifact, e.Path, e.Message)
	}
	return fmt.Sprintf("%s: output %s: %s", prefix, e.Path, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ActionError reports an action that returned an error or panicked. It is
// never cached and never retried automatically.
type ActionError struct {
	Transform string
	Artifact  string
	Cause     error
}

func (e *ActionError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("execution failed for %s on %s: %v", e.Transform, e.Artifact, e.Cause)
}

func (e *ActionError) Unwrap() error { return e.Cause }

func (e *ActionError) Is(target error) bool { return target == ErrAction }

// FailureReason returns a stable reason code for err, used in traces and
// metrics.
func FailureReason(err error) string {
	var verr *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &verr):
		return "ValidationFailure"
	case errors.Is(err, ErrAction):
		return "ActionFailure"
	default:
		return "InternalFailure"
	}
}
