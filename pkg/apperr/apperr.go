// Package apperr holds the error taxonomy shared by the graph builder and the
// query dispatcher. Callers classify failures with errors.Is against the
// sentinels; the helpers attach a formatted message while keeping the sentinel
// in the chain.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrUnavailable     = errors.New("unavailable")
	ErrCorrupted       = errors.New("corrupted")
)

func InvalidArgument(format string, args ...any) error {
	return wrap(ErrInvalidArgument, format, args...)
}

func NotFound(format string, args ...any) error {
	return wrap(ErrNotFound, format, args...)
}

func Unavailable(format string, args ...any) error {
	return wrap(ErrUnavailable, format, args...)
}

func Corrupted(format string, args ...any) error {
	return wrap(ErrCorrupted, format, args...)
}

func wrap(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// Wrap classifies cause under sentinel, keeping both in the chain.
func Wrap(sentinel, cause error, format string, args ...any) error {
	if cause == nil {
		return wrap(sentinel, format, args...)
	}
	return fmt.Errorf("%w: %s: %w", sentinel, fmt.Sprintf(format, args...), cause)
}

// Kind returns the sentinel err belongs to, or nil for unclassified errors.
func Kind(err error) error {
	for _, sentinel := range []error{ErrInvalidArgument, ErrNotFound, ErrUnavailable, ErrCorrupted} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return nil
}
