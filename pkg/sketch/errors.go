package sketch

import (
	"errors"
	"fmt"
)

var (
	// ErrFilterFull is returned by CuckooFilter.Add when the eviction chain
	// exceeds the kick limit. Recovery is caller-driven: build a larger filter.
	ErrFilterFull = errors.New("filter is full")

	// ErrBuildFailed is returned by RibbonFilter.Build when the banded linear
	// system is unsolvable. Recovery is to reseed and rebuild, not to retry
	// the same equations.
	ErrBuildFailed = errors.New("ribbon build failed, reseed and rebuild")

	// ErrNotBuilt and ErrAlreadyBuilt guard the Ribbon filter's two phases.
	ErrNotBuilt     = errors.New("filter has not been built")
	ErrAlreadyBuilt = errors.New("filter has already been built")

	// ErrCorruptData is returned when deserialization encounters a bad magic
	// number, an unknown version or type tag, or a truncated payload.
	ErrCorruptData = errors.New("corrupt sketch data")

	// ErrHandleReleased is returned for any operation on a handle that was
	// already released or never existed.
	ErrHandleReleased = errors.New("handle has been released")
)

// InvalidParamError reports an out-of-range construction parameter. Invalid
// parameters are rejected synchronously, never clamped.
type InvalidParamError struct {
	Param      string
	Value      string
	Constraint string
}

func (e InvalidParamError) Error() string {
	return fmt.Sprintf("invalid parameter %q: value %q %s", e.Param, e.Value, e.Constraint)
}

// InvalidParamf builds an InvalidParamError with a formatted value.
func InvalidParamf(param string, value interface{}, constraint string) InvalidParamError {
	return InvalidParamError{Param: param, Value: fmt.Sprint(value), Constraint: constraint}
}

// IncompatibleError reports a merge or comparison between sketches that were
// built with different structural parameters or are of different types.
type IncompatibleError struct {
	Reason string
}

func (e IncompatibleError) Error() string {
	return "incompatible sketches: " + e.Reason
}

// Incompatiblef builds an IncompatibleError from a format string.
func Incompatiblef(format string, args ...interface{}) IncompatibleError {
	return IncompatibleError{Reason: fmt.Sprintf(format, args...)}
}
