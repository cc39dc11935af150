package cli

import (
	"errors"
	"fmt"

	"chainweaver/internal/chain"
	"chainweaver/internal/core"
)

const (
	ExitSuccess           = 0
	ExitTransformFailure  = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
	ExitSelectionFailure  = 5
)

// InvocationError carries the exit code for failures detected before any
// transform runs.
type InvocationError struct {
	ExitCode int
	Message  string
	Cause    error
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause == nil {
		return e.Message
	}
	return e.Message + ": " + e.Cause.Error()
}

func (e *InvocationError) Unwrap() error { return e.Cause }

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

func configError(msg string, cause error) error {
	return &InvocationError{ExitCode: ExitConfigError, Message: msg, Cause: cause}
}

// ExitCode maps an error returned by a command to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	var unknown *chain.UnknownFailureError
	switch {
	case errors.As(err, &unknown):
		return ExitInternalError
	case errors.Is(err, chain.ErrAmbiguous), errors.Is(err, chain.ErrNoMatchFound):
		return ExitSelectionFailure
	case errors.Is(err, core.ErrAction), errors.Is(err, core.ErrValidation):
		return ExitTransformFailure
	default:
		return ExitInternalError
	}
}
