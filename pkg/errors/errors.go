// Package errors provides error wrapping utilities for context-aware error messages.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Wrap wraps an error with additional context information.
// If err is nil, it returns nil without wrapping.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}

// Wrapf is Wrap with a formatted context.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// New, Is and As re-export the standard helpers so callers need a single import.
var (
	New = stderrors.New
	Is  = stderrors.Is
	As  = stderrors.As
)
