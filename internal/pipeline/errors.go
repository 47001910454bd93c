package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures.
type Kind int

// Failure kinds.
const (
	KindUnknown Kind = iota
	ResourceUnavailable
	InvalidInputGeometry
	ExportFailed
	VerificationFailed
)

// String returns the kind's name.
func (k Kind) String() string {
	switch k {
	case ResourceUnavailable:
		return "ResourceUnavailable"
	case InvalidInputGeometry:
		return "InvalidInputGeometry"
	case ExportFailed:
		return "ExportFailed"
	case VerificationFailed:
		return "VerificationFailed"
	default:
		return "Unknown"
	}
}

// ExitCode returns the process exit status for k.
func (k Kind) ExitCode() int {
	switch k {
	case ResourceUnavailable:
		return 2
	case InvalidInputGeometry:
		return 3
	case ExportFailed:
		return 4
	case VerificationFailed:
		return 5
	default:
		return 1
	}
}

// Error is a classified pipeline failure.
type Error struct {
	Kind Kind
	Op   string // Stage that failed: "fetch", "export" or "verify".
	Err  error
}

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrResourceUnavailable  = &Error{Kind: ResourceUnavailable}
	ErrInvalidInputGeometry = &Error{Kind: InvalidInputGeometry}
	ErrExportFailed         = &Error{Kind: ExportFailed}
	ErrVerificationFailed   = &Error{Kind: VerificationFailed}
)

func (e *Error) Error() string {
	switch {
	case e.Op == "" && e.Err == nil:
		return e.Kind.String()
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a sentinel of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// ExitCode maps err to a process exit status: 0 for nil, the Kind's code for
// pipeline errors and 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return KindOf(err).ExitCode()
}
