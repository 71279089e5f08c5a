package process

import (
	"errors"
	"fmt"
)

// ErrEmptyTile is returned by a process Func or an input driver to declare a
// no-data tile. It short-circuits to an Empty result and is never a failure.
var ErrEmptyTile = errors.New("no data for this tile")

// OutputValidationError indicates a payload that does not match the declared
// output schema. Fatal for the tile, not for the run.
type OutputValidationError struct {
	Err error
}

func (e OutputValidationError) Error() string {
	return "invalid process output: " + e.Err.Error()
}

func (e OutputValidationError) Unwrap() error {
	return e.Err
}

// UserFunctionError wraps an error (or recovered panic) from the
// user-supplied process function. Captured per tile, never propagated as a
// panic.
type UserFunctionError struct {
	Err error
}

func (e UserFunctionError) Error() string {
	return "process function failed: " + e.Err.Error()
}

func (e UserFunctionError) Unwrap() error {
	return e.Err
}

func validationErrorf(format string, args ...any) error {
	return OutputValidationError{Err: fmt.Errorf(format, args...)}
}
