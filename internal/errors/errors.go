// Package errors defines the sentinel errors shared across the analytics
// subsystem, plus small wrapping helpers so callers don't need to import
// both this package and the standard library errors package.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrMalformedDate indicates a query date parameter that could not be
	// parsed. Query-shape errors fail fast instead of silently defaulting.
	ErrMalformedDate = errors.New("malformed date")

	// ErrPartitionCorrupt indicates a partition line that failed to parse.
	// Loads are strict: one bad line aborts the whole partition read.
	ErrPartitionCorrupt = errors.New("partition corrupt")

	// ErrBufferClosed is returned when enqueueing after cleanup.
	ErrBufferClosed = errors.New("write buffer closed")

	// ErrServiceClosed is returned by service operations after Cleanup.
	ErrServiceClosed = errors.New("analytics service closed")

	// ErrNoArchiveData indicates an export range that matched no events.
	ErrNoArchiveData = errors.New("no events in archive range")
)

// Is is a convenience wrapper for errors.Is.
var Is = errors.Is

// As is a convenience wrapper for errors.As.
var As = errors.As

// Join is a convenience wrapper for errors.Join.
var Join = errors.Join

// New is a convenience wrapper for errors.New.
var New = errors.New

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// NewMalformedDate builds a malformed-date error naming the rejected value.
func NewMalformedDate(value string) error {
	return fmt.Errorf("%q: %w", value, ErrMalformedDate)
}

// NewCorruptLine builds a partition-corruption error locating the bad line.
func NewCorruptLine(date string, line int, cause error) error {
	return fmt.Errorf("partition %s line %d: %v: %w", date, line, cause, ErrPartitionCorrupt)
}

// IsCorrupt reports whether err stems from an unparsable partition line.
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrPartitionCorrupt)
}

// IsMalformedDate reports whether err stems from a bad date parameter.
func IsMalformedDate(err error) bool {
	return errors.Is(err, ErrMalformedDate)
}
