package errs

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure independently of the component that produced it.
type Kind string

const (
	NotFound         Kind = "NOT_FOUND"
	AlreadyExists    Kind = "ALREADY_EXISTS"
	NotEmpty         Kind = "NOT_EMPTY"
	IOError          Kind = "IO_ERROR"
	Unreachable      Kind = "UNREACHABLE"
	Unreadable       Kind = "UNREADABLE"
	Timeout          Kind = "TIMEOUT"
	TaskFailed       Kind = "TASK_FAILED"
	JobFailed        Kind = "JOB_FAILED"
	InvalidArgument  Kind = "INVALID_ARGUMENT"
	PermissionDenied Kind = "PERMISSION_DENIED"
	Internal         Kind = "INTERNAL"
)

// Error is a failure tagged with its Kind and the operation that raised it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind with a formatted message.
func New(kind Kind, op string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap tags err with kind. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the kind of the first *Error in err's chain. Context
// deadlines map to Timeout; anything else unrecognized is Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether an operation failing with err may succeed when
// retried unchanged.
func Retryable(err error) bool {
	switch KindOf(err) {
	case Unreachable, Timeout:
		return true
	default:
		return false
	}
}
